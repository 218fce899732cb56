//go:build integration

package integration

import (
	"context"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/hochfrequenz/posterbadge/internal/app"
	"github.com/hochfrequenz/posterbadge/internal/config"
	"github.com/hochfrequenz/posterbadge/internal/engine"
	"github.com/hochfrequenz/posterbadge/internal/notify"
	"github.com/hochfrequenz/posterbadge/web/api"
)

// TestConfig returns a config rooted in a temp directory with short intervals
func TestConfig(t *testing.T) *config.Config {
	t.Helper()
	dir := t.TempDir()

	cfg := config.Default()
	cfg.General.DatabasePath = filepath.Join(dir, "jobs.db")
	cfg.General.DebugDir = filepath.Join(dir, "debug")
	cfg.MediaServer.URL = ""
	cfg.Orchestrator.MaxConcurrentJobs = 2
	cfg.Orchestrator.PollInterval.Duration = 50 * time.Millisecond
	cfg.Orchestrator.HeartbeatInterval.Duration = time.Second
	cfg.Progress.ReconcileInterval.Duration = 100 * time.Millisecond
	cfg.Progress.PingInterval.Duration = time.Second
	cfg.Notifications.Desktop = false
	cfg.Notifications.SlackWebhook = ""
	cfg.Badges.PresetsFile = filepath.Join(dir, "presets.yaml")
	cfg.Badges.Watch = false
	return cfg
}

// Harness is a running app behind an httptest server
type Harness struct {
	App    *app.App
	Server *httptest.Server
	Client *api.Client
}

// StartApp wires the app with the given engine and runs it until the test ends
func StartApp(t *testing.T, cfg *config.Config, eng engine.Engine) *Harness {
	t.Helper()

	a, err := app.New(cfg, app.Options{Engine: eng, Notifier: notify.NoopNotifier{}})
	if err != nil {
		t.Fatalf("app.New() error = %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- a.Run(ctx, false) }()

	ts := httptest.NewServer(a.Server.Handler())
	t.Cleanup(func() {
		ts.Close()
		cancel()
		select {
		case err := <-errCh:
			if err != nil {
				t.Errorf("app.Run() error = %v", err)
			}
		case <-time.After(5 * time.Second):
			t.Error("app did not stop")
		}
		a.Close()
	})

	return &Harness{App: a, Server: ts, Client: api.NewClient(ts.URL)}
}

// WaitFor polls cond until it holds or the timeout expires
func WaitFor(t *testing.T, timeout time.Duration, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(20 * time.Millisecond)
	}
}
