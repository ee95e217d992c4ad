package config

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// ReloadFunc receives a freshly loaded and validated configuration.
type ReloadFunc func(cfg *Config)

// Watcher monitors the configuration file and invokes a callback after a debounced change.
type Watcher struct {
	configPath   string
	onReload     ReloadFunc
	watcher      *fsnotify.Watcher
	reloadChan   chan struct{}
	stopChan     chan struct{}
	stopOnce     sync.Once
	debounceTime time.Duration
}

// NewWatcher creates a configuration file watcher.
func NewWatcher(configPath string, onReload ReloadFunc) (*Watcher, error) {
	if onReload == nil {
		return nil, fmt.Errorf("reload callback is required")
	}
	absPath, err := filepath.Abs(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve config path: %w", err)
	}
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create file watcher: %w", err)
	}
	return &Watcher{
		configPath:   absPath,
		onReload:     onReload,
		watcher:      fw,
		reloadChan:   make(chan struct{}, 1),
		stopChan:     make(chan struct{}),
		debounceTime: 2 * time.Second,
	}, nil
}

// SetDebounce overrides the debounce window.
func (w *Watcher) SetDebounce(d time.Duration) {
	if d > 0 {
		w.debounceTime = d
	}
}

// Start begins monitoring. The directory is watched instead of the file so
// editors that replace the file on save are still observed.
func (w *Watcher) Start(ctx context.Context) error {
	configDir := filepath.Dir(w.configPath)
	if err := w.watcher.Add(configDir); err != nil {
		return fmt.Errorf("failed to watch config directory %s: %w", configDir, err)
	}
	slog.Info("Starting configuration watcher", "config_path", w.configPath)

	go w.watchLoop(ctx)
	go w.reloadLoop(ctx)
	return nil
}

// Stop stops the watcher. It is safe to call more than once.
func (w *Watcher) Stop() {
	w.stopOnce.Do(func() {
		close(w.stopChan)
		if err := w.watcher.Close(); err != nil {
			slog.Error("Error closing file watcher", "error", err)
		}
	})
}

func (w *Watcher) watchLoop(ctx context.Context) {
	configFile := filepath.Base(w.configPath)
	for {
		select {
		case <-ctx.Done():
			return
		case <-w.stopChan:
			return
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if filepath.Base(event.Name) != configFile {
				continue
			}
			switch {
			case event.Op.Has(fsnotify.Write), event.Op.Has(fsnotify.Create), event.Op.Has(fsnotify.Rename):
				slog.Debug("Config file change detected", "file", event.Name, "op", event.Op.String())
				w.triggerReload()
			case event.Op.Has(fsnotify.Remove):
				slog.Warn("Config file removed", "file", event.Name)
			}
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			slog.Error("Config watcher error", "error", err)
		}
	}
}

func (w *Watcher) reloadLoop(ctx context.Context) {
	var timer *time.Timer
	stop := func() {
		if timer != nil {
			timer.Stop()
		}
	}
	for {
		select {
		case <-ctx.Done():
			stop()
			return
		case <-w.stopChan:
			stop()
			return
		case <-w.reloadChan:
			stop()
			timer = time.AfterFunc(w.debounceTime, w.performReload)
		}
	}
}

func (w *Watcher) triggerReload() {
	select {
	case w.reloadChan <- struct{}{}:
	default:
		// reload already pending
	}
}

func (w *Watcher) performReload() {
	cfg, err := Load(w.configPath)
	if err != nil {
		slog.Error("Failed to reload configuration; keeping previous", "config_path", w.configPath, "error", err)
		return
	}
	slog.Info("Configuration reloaded", "config_path", w.configPath)
	w.onReload(cfg)
}
