package config

import (
	"context"
	"os"
	"sync"
	"time"

	"wagateway/internal/constants"
	"wagateway/internal/models"

	"github.com/sirupsen/logrus"
)

// Watcher polls the configuration file and reloads it on change
type Watcher struct {
	configPath string
	interval   time.Duration
	logger     *logrus.Logger
	mu         sync.RWMutex
	config     *models.Config
	callbacks  []func(*models.Config)
}

// NewWatcher creates a watcher seeded with an already loaded configuration.
// A non-positive interval uses the default.
func NewWatcher(configPath string, initial *models.Config, interval time.Duration, logger *logrus.Logger) *Watcher {
	if interval <= 0 {
		interval = time.Duration(constants.DefaultConfigWatchIntervalSec) * time.Second
	}
	return &Watcher{
		configPath: configPath,
		interval:   interval,
		logger:     logger,
		config:     initial,
		callbacks:  make([]func(*models.Config), 0),
	}
}

// Run polls until ctx is done
func (w *Watcher) Run(ctx context.Context) error {
	stat, err := os.Stat(w.configPath)
	if err != nil {
		return err
	}
	lastModTime := stat.ModTime()

	w.mu.Lock()
	if w.config == nil {
		config, err := LoadConfig(w.configPath)
		if err != nil {
			w.mu.Unlock()
			return err
		}
		w.config = config
	}
	w.mu.Unlock()

	w.logger.WithField("path", w.configPath).Info("Configuration watcher started")

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			w.logger.Info("Configuration watcher stopping")
			return nil

		case <-ticker.C:
			stat, err := os.Stat(w.configPath)
			if err != nil {
				w.logger.WithError(err).Error("Failed to stat configuration file")
				continue
			}

			if stat.ModTime().After(lastModTime) {
				w.logger.Debug("Configuration file changed")
				lastModTime = stat.ModTime()
				w.reload()
			}
		}
	}
}

// Config returns the current configuration
func (w *Watcher) Config() *models.Config {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.config
}

// OnChange registers a callback run after every successful reload
func (w *Watcher) OnChange(callback func(*models.Config)) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.callbacks = append(w.callbacks, callback)
}

func (w *Watcher) reload() {
	newConfig, err := LoadConfig(w.configPath)
	if err != nil {
		w.logger.WithError(err).Error("Failed to reload configuration")
		return
	}

	w.mu.Lock()
	oldConfig := w.config
	w.config = newConfig
	callbacks := make([]func(*models.Config), len(w.callbacks))
	copy(callbacks, w.callbacks)
	w.mu.Unlock()

	w.logger.Info("Configuration reloaded successfully")
	w.logChanges(oldConfig, newConfig)

	for _, callback := range callbacks {
		w.notify(callback, newConfig)
	}
}

func (w *Watcher) notify(callback func(*models.Config), config *models.Config) {
	defer func() {
		if r := recover(); r != nil {
			w.logger.WithField("panic", r).Error("Config change callback panicked")
		}
	}()
	callback(config)
}

func (w *Watcher) logChanges(old, new *models.Config) {
	if old == nil {
		return
	}

	if old.LogLevel != new.LogLevel {
		w.logger.WithFields(logrus.Fields{
			"old": old.LogLevel,
			"new": new.LogLevel,
		}).Info("Log level changed")
	}

	if old.Server.APIKey != new.Server.APIKey {
		w.logger.Info("API key rotated")
	}

	if old.Server.Port != new.Server.Port || old.AuthStore.Backend != new.AuthStore.Backend {
		w.logger.Warn("Listener and backend changes take effect after restart")
	}
}
