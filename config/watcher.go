package config

import (
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/mmazurovsky/jobs-alerts-sub001/errors"
	"github.com/mmazurovsky/jobs-alerts-sub001/logger"
)

// ReloadCallback receives the freshly-loaded config after a file change.
// Callbacks should apply only the tunables that are safe to change live
// (log level, outbound rate); everything else requires a restart and is
// logged as such by the watcher.
type ReloadCallback func(*Config) error

// Watcher reloads the config file on change, debounced against editors
// that write in bursts.
type Watcher struct {
	path      string
	watcher   *fsnotify.Watcher
	mu        sync.Mutex
	callbacks []ReloadCallback
	debounce  *time.Timer
	done      chan struct{}
	stopOnce  sync.Once
}

// NewWatcher creates a watcher for the given config file.
func NewWatcher(path string) (*Watcher, error) {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, errors.Wrap(err, "create fsnotify watcher")
	}
	if err := fw.Add(path); err != nil {
		fw.Close()
		return nil, errors.Wrapf(err, "watch config file %s", path)
	}

	return &Watcher{
		path:    path,
		watcher: fw,
		done:    make(chan struct{}),
	}, nil
}

// OnReload registers a callback for config changes.
func (w *Watcher) OnReload(cb ReloadCallback) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.callbacks = append(w.callbacks, cb)
}

// Start begins watching. Stop with Stop.
func (w *Watcher) Start() {
	go w.loop()
}

// Stop closes the watcher. Safe to call more than once.
func (w *Watcher) Stop() {
	w.stopOnce.Do(func() {
		close(w.done)
		w.watcher.Close()
	})
}

func (w *Watcher) loop() {
	for {
		select {
		case <-w.done:
			return
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			w.scheduleReload()
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			logger.Warnw("Config watcher error", "error", err)
		}
	}
}

// scheduleReload debounces rapid successive writes into one reload.
func (w *Watcher) scheduleReload() {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.debounce != nil {
		w.debounce.Stop()
	}
	w.debounce = time.AfterFunc(500*time.Millisecond, w.reload)
}

func (w *Watcher) reload() {
	cfg, err := LoadFromFile(w.path)
	if err != nil {
		logger.Warnw("Config reload failed, keeping previous config",
			"path", w.path,
			"error", err,
		)
		return
	}
	if err := cfg.Validate(); err != nil {
		logger.Warnw("Reloaded config is invalid, keeping previous config",
			"path", w.path,
			"error", err,
		)
		return
	}

	logger.Infow("Config file changed, applying live tunables", "path", w.path)

	w.mu.Lock()
	callbacks := make([]ReloadCallback, len(w.callbacks))
	copy(callbacks, w.callbacks)
	w.mu.Unlock()

	for _, cb := range callbacks {
		if err := cb(cfg); err != nil {
			logger.Warnw("Config reload callback failed", "error", err)
		}
	}
}
