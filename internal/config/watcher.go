package config

import (
	"context"
	"fmt"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// Watcher reloads the config file when it changes on disk and delivers
// each successfully validated Config on a channel. Invalid edits are
// logged and skipped; the running config stays as it was.
type Watcher struct {
	path    string
	watcher *fsnotify.Watcher
	configs chan *Config
	stop    chan struct{}
	logger  *zap.Logger
}

// NewWatcher creates a watcher for the config file at path.
func NewWatcher(path string, logger *zap.Logger) (*Watcher, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to initialize config watcher: %w", err)
	}
	return &Watcher{
		path:    path,
		watcher: fsw,
		configs: make(chan *Config, 1),
		stop:    make(chan struct{}),
		logger:  logger,
	}, nil
}

// Start begins watching. Reloads are delivered on Configs() until the
// context ends or Stop is called.
func (w *Watcher) Start(ctx context.Context) error {
	if err := w.watcher.Add(w.path); err != nil {
		return fmt.Errorf("watching config file: %w", err)
	}
	go w.processEvents(ctx)
	return nil
}

// Stop stops the watcher and releases resources.
func (w *Watcher) Stop() {
	select {
	case <-w.stop:
		return
	default:
		close(w.stop)
		_ = w.watcher.Close()
	}
}

// Configs returns the channel of reloaded configurations.
func (w *Watcher) Configs() <-chan *Config {
	return w.configs
}

func (w *Watcher) processEvents(ctx context.Context) {
	for {
		select {
		case <-w.stop:
			return
		case <-ctx.Done():
			return
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if event.Op&fsnotify.Write == fsnotify.Write {
				w.reload()
			}
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Warn("config watcher error", zap.Error(err))
		}
	}
}

func (w *Watcher) reload() {
	cfg, err := Load(w.path)
	if err != nil {
		w.logger.Warn("config reload skipped",
			zap.String("path", w.path),
			zap.Error(err))
		return
	}

	// Keep only the newest config if the consumer is behind.
	select {
	case w.configs <- cfg:
	default:
		select {
		case <-w.configs:
		default:
		}
		w.configs <- cfg
	}
	w.logger.Info("config reloaded", zap.String("path", w.path))
}
