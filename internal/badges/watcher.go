package badges

import (
	"context"
	"log"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// PresetWatcher reloads a catalog's presets when the presets file changes
type PresetWatcher struct {
	watcher  *fsnotify.Watcher
	catalog  *Catalog
	path     string
	debounce time.Duration

	// OnReload is called after every reload attempt, mainly for tests
	OnReload func(err error)

	timer  *time.Timer
	mu     sync.Mutex
	cancel context.CancelFunc
}

// NewPresetWatcher watches the directory of path so that editors replacing
// the file atomically are picked up too.
func NewPresetWatcher(catalog *Catalog, path string) (*PresetWatcher, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := watcher.Add(filepath.Dir(path)); err != nil {
		watcher.Close()
		return nil, err
	}

	return &PresetWatcher{
		watcher:  watcher,
		catalog:  catalog,
		path:     filepath.Clean(path),
		debounce: 200 * time.Millisecond,
	}, nil
}

// SetDebounce sets how long to wait for further changes before reloading
func (pw *PresetWatcher) SetDebounce(d time.Duration) {
	pw.mu.Lock()
	defer pw.mu.Unlock()
	pw.debounce = d
}

// Start begins watching for file changes
func (pw *PresetWatcher) Start(ctx context.Context) {
	ctx, pw.cancel = context.WithCancel(ctx)

	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case event, ok := <-pw.watcher.Events:
				if !ok {
					return
				}
				pw.handleEvent(event)
			case err, ok := <-pw.watcher.Errors:
				if !ok {
					return
				}
				log.Printf("badge presets watcher: %v", err)
			}
		}
	}()
}

// Stop stops watching
func (pw *PresetWatcher) Stop() {
	if pw.cancel != nil {
		pw.cancel()
	}
	pw.watcher.Close()

	pw.mu.Lock()
	if pw.timer != nil {
		pw.timer.Stop()
	}
	pw.mu.Unlock()
}

func (pw *PresetWatcher) handleEvent(event fsnotify.Event) {
	if filepath.Clean(event.Name) != pw.path {
		return
	}
	if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
		return
	}

	pw.mu.Lock()
	defer pw.mu.Unlock()
	if pw.timer != nil {
		pw.timer.Stop()
	}
	pw.timer = time.AfterFunc(pw.debounce, pw.reload)
}

func (pw *PresetWatcher) reload() {
	presets, err := LoadPresets(pw.path)
	if err == nil {
		err = pw.catalog.SetPresets(presets)
	}
	if err != nil {
		log.Printf("reload badge presets from %s: %v", pw.path, err)
	} else {
		log.Printf("reloaded %d badge presets from %s", len(presets), pw.path)
	}
	if pw.OnReload != nil {
		pw.OnReload(err)
	}
}
