// Package app wires the components of a posterbadge server from a Config.
package app

import (
	"context"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"time"

	"github.com/hochfrequenz/posterbadge/internal/badges"
	"github.com/hochfrequenz/posterbadge/internal/config"
	"github.com/hochfrequenz/posterbadge/internal/debugcapture"
	"github.com/hochfrequenz/posterbadge/internal/engine"
	"github.com/hochfrequenz/posterbadge/internal/jobstore"
	"github.com/hochfrequenz/posterbadge/internal/mediaserver"
	"github.com/hochfrequenz/posterbadge/internal/notify"
	"github.com/hochfrequenz/posterbadge/internal/orchestrator"
	"github.com/hochfrequenz/posterbadge/internal/progress"
	"github.com/hochfrequenz/posterbadge/internal/reconcile"
	"github.com/hochfrequenz/posterbadge/internal/sweeper"
	"github.com/hochfrequenz/posterbadge/web/api"
	"golang.org/x/sync/errgroup"
)

// Options override collaborators that New would otherwise build from the config
type Options struct {
	Engine   engine.Engine
	Notifier notify.Notifier
	Now      func() time.Time
}

// App is a fully wired server
type App struct {
	Config       *config.Config
	Store        *jobstore.Store
	Catalog      *badges.Catalog
	Debug        *debugcapture.Capture
	Orchestrator *orchestrator.Orchestrator
	Progress     *progress.Broadcaster
	Server       *api.Server
	Sweeper      *sweeper.Scheduler

	presetsPath string
}

// New builds every component. Close releases the store.
func New(cfg *config.Config, opts Options) (*App, error) {
	if cfg.General.DatabasePath != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(cfg.General.DatabasePath), 0755); err != nil {
			return nil, fmt.Errorf("create data dir: %w", err)
		}
	}
	store, err := jobstore.New(cfg.General.DatabasePath)
	if err != nil {
		return nil, fmt.Errorf("open job store: %w", err)
	}

	a := &App{Config: cfg, Store: store}
	if err := a.build(opts); err != nil {
		store.Close()
		return nil, err
	}
	return a, nil
}

func (a *App) build(opts Options) error {
	cfg := a.Config

	presets, err := badges.LoadPresets(cfg.Badges.PresetsFile)
	if err != nil {
		return fmt.Errorf("load badge presets: %w", err)
	}
	a.Catalog, err = badges.NewCatalog(presets)
	if err != nil {
		return fmt.Errorf("badge presets: %w", err)
	}
	if cfg.Badges.Watch {
		a.presetsPath = cfg.Badges.PresetsFile
	}

	if cfg.General.DebugDir != "" {
		if err := os.MkdirAll(cfg.General.DebugDir, 0755); err != nil {
			return fmt.Errorf("create debug dir: %w", err)
		}
	}
	a.Debug = debugcapture.New(cfg.General.DebugDir, opts.Now)

	eng := opts.Engine
	if eng == nil {
		eng = engine.NewClient(cfg.Engine.URL, cfg.Engine.Token, cfg.Engine.Timeout.Duration)
	}

	// a nil *mediaserver.Client must not end up in an interface
	var tags reconcile.TagSource
	var marker orchestrator.Marker
	if cfg.MediaServer.URL != "" {
		ms := mediaserver.NewClient(cfg.MediaServer.URL, cfg.MediaServer.Token, cfg.MediaServer.Marker)
		tags, marker = ms, ms
	}
	skipper := reconcile.New(a.Store, tags, cfg.MediaServer.TagConcurrency, nil)

	notifier := opts.Notifier
	if notifier == nil {
		var ns []notify.Notifier
		if cfg.Notifications.Desktop {
			ns = append(ns, notify.NewDesktopNotifier(true))
		}
		if cfg.Notifications.SlackWebhook != "" {
			ns = append(ns, notify.NewSlackNotifier(cfg.Notifications.SlackWebhook))
		}
		notifier = notify.NewMultiNotifier(ns...)
	}

	a.Progress = progress.NewBroadcaster(progress.NewRegistry(), a.Store, progress.Config{
		ReconcileInterval: cfg.Progress.ReconcileInterval.Duration,
		SubscriberBuffer:  cfg.Progress.SubscriberBuffer,
	})

	events := api.NewSSEHub()
	a.Orchestrator = orchestrator.New(orchestrator.Config{
		MaxConcurrentJobs: cfg.Orchestrator.MaxConcurrentJobs,
		PollInterval:      cfg.Orchestrator.PollInterval.Duration,
		HeartbeatInterval: cfg.Orchestrator.HeartbeatInterval.Duration,
		PickupWindow:      cfg.Orchestrator.PickupWindow.Duration,
		OrphanWindow:      cfg.Orchestrator.OrphanWindow.Duration,
	}, orchestrator.Deps{
		Store:     a.Store,
		Engine:    eng,
		Badges:    a.Catalog,
		Skipper:   skipper,
		Marker:    marker,
		Debug:     a.Debug,
		Notifier:  notifier,
		Listeners: []orchestrator.Listener{a.Progress, events},
		Now:       opts.Now,
	})

	a.Server = api.NewServer(api.Deps{
		Jobs:     a.Orchestrator,
		Debug:    a.Debug,
		Progress: progress.NewHandler(a.Progress, cfg.Progress.PingInterval.Duration),
		Health:   a.Store,
		Events:   events,
	}, cfg.Addr())

	// an empty schedule disables a task
	var tasks []sweeper.Task
	mcfg := cfg.Maintenance
	if mcfg.StuckCheck != "" {
		tasks = append(tasks, sweeper.StuckCheck(mcfg.StuckCheck, a.Orchestrator, mcfg.AutoRestartStuck))
	}
	if mcfg.DebugCleanup != "" {
		tasks = append(tasks, sweeper.DebugCleanup(mcfg.DebugCleanup, a.Debug, mcfg.DebugRetentionDays))
	}
	a.Sweeper, err = sweeper.New(tasks)
	if err != nil {
		return fmt.Errorf("maintenance tasks: %w", err)
	}
	return nil
}

// Run starts the dispatcher, the progress reconciler and the maintenance
// scheduler. With serveHTTP the API server listens on the configured address;
// without it only the event hub runs, for callers mounting Handler themselves.
// Run returns when ctx is cancelled or a component fails.
func (a *App) Run(ctx context.Context, serveHTTP bool) error {
	if a.presetsPath != "" {
		pw, err := badges.NewPresetWatcher(a.Catalog, a.presetsPath)
		if err != nil {
			log.Printf("badge presets: not watching %s: %v", a.presetsPath, err)
		} else {
			pw.Start(ctx)
			defer pw.Stop()
		}
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return a.Orchestrator.Run(gctx) })
	g.Go(func() error { return a.Progress.Run(gctx) })
	g.Go(func() error { return a.Sweeper.Run(gctx) })
	if serveHTTP {
		g.Go(func() error { return a.Server.Serve(gctx) })
	} else {
		g.Go(func() error {
			a.Server.SSEHub().Run(gctx)
			return nil
		})
	}
	return g.Wait()
}

// Close releases the job store
func (a *App) Close() error {
	return a.Store.Close()
}
