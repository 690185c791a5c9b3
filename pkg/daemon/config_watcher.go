package daemon

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/sage3/foresight/config"
	"github.com/sage3/foresight/logging"
	"github.com/sirupsen/logrus"
)

// ConfigChange reports an edit to the daemon's configuration file. Err holds
// the load error when the edited file no longer validates.
type ConfigChange struct {
	File   string
	Config *config.Config
	Err    error
}

// ConfigWatcher watches the loaded configuration file. The daemon does not
// hot-reload; changes are validated and reported so the operator knows a
// restart is needed.
type ConfigWatcher struct {
	watcher    *fsnotify.Watcher
	file       string
	target     string
	debounce   time.Duration
	lastChange time.Time
	mu         sync.Mutex
	logger     *logrus.Entry
	onChange   func(ConfigChange)
}

// NewConfigWatcher watches file. fsnotify does not follow symlinks, so the
// directory of the resolved target is watched as well.
func NewConfigWatcher(file string, debounce time.Duration, onChange func(ConfigChange)) (*ConfigWatcher, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	abs, err := filepath.Abs(file)
	if err != nil {
		watcher.Close()
		return nil, err
	}
	target := abs
	if resolved, err := filepath.EvalSymlinks(abs); err == nil {
		target = resolved
	}

	logger := logging.NewLogger("config-watcher")

	// Editors replace files on save, so watch directories rather than the file.
	dirs := map[string]bool{filepath.Dir(abs): true, filepath.Dir(target): true}
	for dir := range dirs {
		if err := watcher.Add(dir); err != nil {
			watcher.Close()
			return nil, err
		}
		logger.Debugf("Watching config directory: %s", dir)
	}

	if debounce <= 0 {
		debounce = 100 * time.Millisecond
	}

	return &ConfigWatcher{
		watcher:  watcher,
		file:     abs,
		target:   target,
		debounce: debounce,
		logger:   logger,
		onChange: onChange,
	}, nil
}

// Start begins watching for config changes. It blocks until the context is cancelled.
func (w *ConfigWatcher) Start(ctx context.Context) {
	for {
		select {
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			w.logger.Debugf("fsnotify event: %s op=%v", event.Name, event.Op)

			if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			if name := filepath.Clean(event.Name); name == w.file || name == w.target {
				w.handleChange()
			}
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Errorf("Watcher error: %v", err)
		case <-ctx.Done():
			w.watcher.Close()
			return
		}
	}
}

// handleChange processes a config file change with debouncing.
func (w *ConfigWatcher) handleChange() {
	// A truncating write can surface before the new content lands.
	if info, err := os.Stat(w.file); err == nil && info.Size() == 0 {
		return
	}

	w.mu.Lock()
	elapsed := time.Since(w.lastChange)
	if elapsed < w.debounce {
		w.mu.Unlock()
		w.logger.Debugf("Debounced: %s (only %v since last change)", filepath.Base(w.file), elapsed)
		return
	}
	w.lastChange = time.Now()
	w.mu.Unlock()

	change := ConfigChange{File: w.file}
	change.Config, change.Err = config.Load(w.file)
	if change.Err != nil {
		w.logger.WithError(change.Err).Warn("Edited configuration is invalid; the daemon keeps its current settings")
	} else {
		w.logger.Infof("Config changed: %s; restart the daemon to apply", filepath.Base(w.file))
	}

	if w.onChange != nil {
		w.onChange(change)
	}
}

// Close stops the watcher and releases resources.
func (w *ConfigWatcher) Close() error {
	return w.watcher.Close()
}
