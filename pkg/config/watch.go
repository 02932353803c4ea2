package config

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"quantum-rover/pkg/log"
)

// Watcher reloads the configuration when the file on disk changes and
// hands each valid reload to registered callbacks.
type Watcher struct {
	path     string
	logger   *log.Logger
	mu       sync.RWMutex
	config   *Config
	onChange []func(*Config)
	watcher  *fsnotify.Watcher
	ctx      context.Context
	cancel   context.CancelFunc
}

// NewWatcher creates a watcher around an already-loaded configuration.
func NewWatcher(path string, cfg *Config, logger *log.Logger) *Watcher {
	ctx, cancel := context.WithCancel(context.Background())
	if logger == nil {
		logger = log.GetLogger("config")
	}
	return &Watcher{
		path:   path,
		logger: logger,
		config: cfg,
		ctx:    ctx,
		cancel: cancel,
	}
}

// Config returns the most recently loaded configuration.
func (w *Watcher) Config() *Config {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.config
}

// OnChange registers a callback invoked after each successful reload.
// Callbacks run on the watcher goroutine.
func (w *Watcher) OnChange(fn func(*Config)) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.onChange = append(w.onChange, fn)
}

// Start begins watching the directory containing the config file.
// Watching the directory rather than the file survives editors that
// rename over the original.
func (w *Watcher) Start() error {
	if w.path == "" {
		return fmt.Errorf("no config path given")
	}
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	if err := fw.Add(filepath.Dir(w.path)); err != nil {
		fw.Close()
		return fmt.Errorf("watch directory: %w", err)
	}
	w.watcher = fw
	go w.loop()
	return nil
}

// Stop ends the watch goroutine.
func (w *Watcher) Stop() {
	w.cancel()
	if w.watcher != nil {
		w.watcher.Close()
	}
}

func (w *Watcher) loop() {
	var debounce *time.Timer
	const debounceDelay = 100 * time.Millisecond

	for {
		select {
		case <-w.ctx.Done():
			return

		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if filepath.Base(event.Name) != filepath.Base(w.path) {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			if debounce != nil {
				debounce.Stop()
			}
			debounce = time.AfterFunc(debounceDelay, w.reload)

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Warn("Config watch error: %v", err)
		}
	}
}

func (w *Watcher) reload() {
	cfg, err := Load(w.path)
	if err != nil {
		w.logger.Error("Config reload rejected: %v", err)
		return
	}
	w.mu.Lock()
	w.config = cfg
	callbacks := make([]func(*Config), len(w.onChange))
	copy(callbacks, w.onChange)
	w.mu.Unlock()

	w.logger.Info("Configuration reloaded from %s", w.path)
	for _, fn := range callbacks {
		fn(cfg)
	}
}
