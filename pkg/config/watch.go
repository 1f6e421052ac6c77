package config

import (
	"fmt"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"

	"github.com/tilevault/tilevault/internal/logger"
)

// Watcher reloads the configuration file when it changes on disk and
// hands each successfully loaded config to a callback. A reload that
// fails to parse or validate is logged and dropped; the previous
// configuration stays in effect.
type Watcher struct {
	path     string
	fw       *fsnotify.Watcher
	onChange func(*Config)

	stopOnce sync.Once
	stopCh   chan struct{}
	doneCh   chan struct{}
}

// Watch starts watching the config file at path. onChange runs on the
// watcher goroutine for every successful reload, so it must not block.
func Watch(path string, onChange func(*Config)) (*Watcher, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve config path: %w", err)
	}

	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create file watcher: %w", err)
	}

	// Watch the parent directory, not the file itself. Editors and
	// config management tools replace files atomically (write temp +
	// rename), which would drop a watch on the file.
	if err := fw.Add(filepath.Dir(abs)); err != nil {
		fw.Close()
		return nil, fmt.Errorf("failed to watch config directory: %w", err)
	}

	w := &Watcher{
		path:     abs,
		fw:       fw,
		onChange: onChange,
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
	}

	go w.loop()

	logger.Info("watching config file for changes", logger.KeyPath, abs)

	return w, nil
}

// loop processes filesystem events until Stop is called.
func (w *Watcher) loop() {
	defer close(w.doneCh)

	for {
		select {
		case <-w.stopCh:
			return

		case event, ok := <-w.fw.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != w.path {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			w.reload()

		case err, ok := <-w.fw.Errors:
			if !ok {
				return
			}
			logger.Warn("config watcher error", logger.KeyError, err)
		}
	}
}

// reload loads and validates the config file, invoking the callback on
// success.
func (w *Watcher) reload() {
	cfg, err := Load(w.path)
	if err != nil {
		logger.Warn("config reload failed, keeping previous configuration",
			logger.KeyPath, w.path,
			logger.KeyError, err)
		return
	}

	logger.Info("config file reloaded", logger.KeyPath, w.path)
	w.onChange(cfg)
}

// Stop shuts the watcher down and waits for the event loop to exit.
// Safe to call more than once.
func (w *Watcher) Stop() {
	w.stopOnce.Do(func() {
		close(w.stopCh)
		w.fw.Close()
		<-w.doneCh
	})
}
