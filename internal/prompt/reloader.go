package prompt

import (
	"fmt"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/zjrosen/relay/internal/log"
	"github.com/zjrosen/relay/internal/registry"
)

// Reloader watches a plan directory and re-registers its plans after
// changes settle. Events are debounced so an editor's write burst
// triggers one reload.
type Reloader struct {
	fsWatcher *fsnotify.Watcher
	loader    *Loader
	store     *registry.Store
	dir       string
	debounce  time.Duration
	reloaded  chan int
	done      chan struct{}
}

// ReloaderConfig holds reloader options.
type ReloaderConfig struct {
	Dir         string
	DebounceDur time.Duration
}

// DefaultReloaderConfig returns sensible defaults for the plan directory.
func DefaultReloaderConfig(dir string) ReloaderConfig {
	return ReloaderConfig{Dir: dir, DebounceDur: 500 * time.Millisecond}
}

// NewReloader creates a reloader registering into store via loader.
func NewReloader(cfg ReloaderConfig, loader *Loader, store *registry.Store) (*Reloader, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("creating fsnotify watcher: %w", err)
	}
	return &Reloader{
		fsWatcher: fsw,
		loader:    loader,
		store:     store,
		dir:       cfg.Dir,
		debounce:  cfg.DebounceDur,
		reloaded:  make(chan int, 1),
		done:      make(chan struct{}),
	}, nil
}

// Start begins watching the plan directory.
// Returns a channel receiving the plan count after each reload.
func (r *Reloader) Start() (<-chan int, error) {
	if err := r.fsWatcher.Add(r.dir); err != nil {
		return nil, fmt.Errorf("watching directory %s: %w", r.dir, err)
	}

	go r.loop()

	return r.reloaded, nil
}

// Stop terminates the reloader and releases resources.
func (r *Reloader) Stop() error {
	close(r.done)
	return r.fsWatcher.Close()
}

// loop processes file system events with debouncing.
func (r *Reloader) loop() {
	var (
		timer   *time.Timer
		pending bool
	)

	for {
		select {
		case event, ok := <-r.fsWatcher.Events:
			if !ok {
				return
			}

			if !r.isRelevantEvent(event) {
				continue
			}

			if timer == nil {
				timer = time.NewTimer(r.debounce)
				pending = true
			} else {
				if !timer.Stop() {
					// Drain the timer channel if it already fired
					select {
					case <-timer.C:
					default:
					}
				}
				timer.Reset(r.debounce)
				pending = true
			}

		case <-func() <-chan time.Time {
			if timer != nil {
				return timer.C
			}
			return nil
		}():
			if pending {
				r.reload()
				pending = false
			}

		case err, ok := <-r.fsWatcher.Errors:
			if !ok {
				return
			}
			log.ErrorErr(log.CatPrompt, "plan watcher error", err)

		case <-r.done:
			if timer != nil {
				timer.Stop()
			}
			return
		}
	}
}

func (r *Reloader) reload() {
	count, err := r.loader.LoadAndRegister(r.store, r.dir)
	if err != nil {
		log.ErrorErr(log.CatPrompt, "plan reload failed", err)
		return
	}
	log.Info(log.CatPrompt, "reloaded prompt plans", "count", count)

	// Non-blocking send - drop if channel full
	select {
	case r.reloaded <- count:
	default:
	}
}

// isRelevantEvent checks if the event should trigger a reload.
func (r *Reloader) isRelevantEvent(event fsnotify.Event) bool {
	if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename|fsnotify.Remove) == 0 {
		return false
	}
	switch filepath.Ext(event.Name) {
	case ".yaml", ".yml":
		return true
	}
	return false
}
