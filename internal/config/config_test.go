package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoad_Defaults(t *testing.T) {
	cfg := Default()

	if cfg.Orchestrator.MaxConcurrentJobs != 2 {
		t.Errorf("MaxConcurrentJobs = %d, want 2", cfg.Orchestrator.MaxConcurrentJobs)
	}
	if cfg.Web.Port != 8080 {
		t.Errorf("Web.Port = %d, want 8080", cfg.Web.Port)
	}
	if cfg.Progress.RetryDelay.Duration != 3*time.Second || cfg.Progress.RetryAttempts != 5 {
		t.Errorf("retry = %s x%d, want 3s x5", cfg.Progress.RetryDelay, cfg.Progress.RetryAttempts)
	}
	if cfg.MediaServer.Marker != "posterbadge" {
		t.Errorf("Marker = %q, want posterbadge", cfg.MediaServer.Marker)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("default config invalid: %v", err)
	}
}

func TestLoad_MissingFile(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.toml"))
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Web.Host != "127.0.0.1" {
		t.Errorf("Web.Host = %q, want 127.0.0.1", cfg.Web.Host)
	}
}

func TestLoad_FromFile(t *testing.T) {
	dir := t.TempDir()
	configPath := filepath.Join(dir, "config.toml")

	content := `
[general]
database_path = "/data/jobs.db"

[web]
port = 9000

[orchestrator]
max_concurrent_jobs = 4
orphan_window = "15m"

[progress]
ping_interval = "10s"

[maintenance]
auto_restart_stuck = true
stuck_check = "*/10 * * * *"
`
	if err := os.WriteFile(configPath, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatal(err)
	}

	if cfg.General.DatabasePath != "/data/jobs.db" {
		t.Errorf("DatabasePath = %q, want /data/jobs.db", cfg.General.DatabasePath)
	}
	if cfg.Web.Port != 9000 {
		t.Errorf("Web.Port = %d, want 9000", cfg.Web.Port)
	}
	if cfg.Orchestrator.MaxConcurrentJobs != 4 {
		t.Errorf("MaxConcurrentJobs = %d, want 4", cfg.Orchestrator.MaxConcurrentJobs)
	}
	if cfg.Orchestrator.OrphanWindow.Duration != 15*time.Minute {
		t.Errorf("OrphanWindow = %s, want 15m", cfg.Orchestrator.OrphanWindow)
	}
	if cfg.Orchestrator.PickupWindow.Duration != 5*time.Minute {
		t.Errorf("PickupWindow = %s, want default 5m", cfg.Orchestrator.PickupWindow)
	}
	if cfg.Progress.PingInterval.Duration != 10*time.Second {
		t.Errorf("PingInterval = %s, want 10s", cfg.Progress.PingInterval)
	}
	if !cfg.Maintenance.AutoRestartStuck {
		t.Error("AutoRestartStuck = false, want true")
	}
}

func TestLoad_Invalid(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{"bad duration", "[orchestrator]\npoll_interval = \"soon\"\n"},
		{"bad cron", "[maintenance]\nstuck_check = \"every five\"\n"},
		{"no workers", "[orchestrator]\nmax_concurrent_jobs = 0\n"},
		{"bad port", "[web]\nport = 70000\n"},
	}
	for _, tt := range tests {
		path := filepath.Join(t.TempDir(), "config.toml")
		if err := os.WriteFile(path, []byte(tt.content), 0644); err != nil {
			t.Fatal(err)
		}
		if _, err := Load(path); err == nil {
			t.Errorf("%s: Load() should fail", tt.name)
		}
	}
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("POSTERBADGE_WEB_PORT", "9100")
	t.Setenv("POSTERBADGE_ENGINE_TOKEN", "secret")

	cfg, err := Load(filepath.Join(t.TempDir(), "none.toml"))
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Web.Port != 9100 {
		t.Errorf("Web.Port = %d, want 9100", cfg.Web.Port)
	}
	if cfg.Engine.Token != "secret" {
		t.Errorf("Engine.Token = %q, want secret", cfg.Engine.Token)
	}

	t.Setenv("POSTERBADGE_MAX_CONCURRENT_JOBS", "many")
	if _, err := Load(filepath.Join(t.TempDir(), "none.toml")); err == nil {
		t.Error("non-numeric override should fail")
	}
}

func TestLoadDotEnv(t *testing.T) {
	root := t.TempDir()
	sub := filepath.Join(root, "a", "b")
	if err := os.MkdirAll(sub, 0755); err != nil {
		t.Fatal(err)
	}
	envPath := filepath.Join(root, ".env")
	if err := os.WriteFile(envPath, []byte("POSTERBADGE_TEST_DOTENV=loaded\n"), 0644); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { os.Unsetenv("POSTERBADGE_TEST_DOTENV") })

	found, err := LoadDotEnv(sub)
	if err != nil {
		t.Fatal(err)
	}
	if found != envPath {
		t.Errorf("LoadDotEnv() = %q, want %q", found, envPath)
	}
	if got := os.Getenv("POSTERBADGE_TEST_DOTENV"); got != "loaded" {
		t.Errorf("POSTERBADGE_TEST_DOTENV = %q, want loaded", got)
	}
}

func TestServerURL(t *testing.T) {
	cfg := Default()
	cfg.Web.Host = "0.0.0.0"
	cfg.Web.Port = 9000
	if got := cfg.ServerURL(); got != "http://127.0.0.1:9000" {
		t.Errorf("ServerURL() = %q", got)
	}
	if got := cfg.Addr(); got != "0.0.0.0:9000" {
		t.Errorf("Addr() = %q", got)
	}
}

func TestExpandPath(t *testing.T) {
	home, _ := os.UserHomeDir()

	tests := []struct {
		input string
		want  string
	}{
		{"~/test", filepath.Join(home, "test")},
		{"/absolute/path", "/absolute/path"},
		{"relative", "relative"},
	}

	for _, tt := range tests {
		got := ExpandPath(tt.input)
		if got != tt.want {
			t.Errorf("ExpandPath(%q) = %q, want %q", tt.input, got, tt.want)
		}
	}
}
