package config

import (
	"github.com/fsnotify/fsnotify"
	"github.com/sirupsen/logrus"
)

// Watch reloads the config file at path whenever it changes on disk and
// invokes onChange with the freshly parsed, validated Config. Editors that
// write via rename (vim, some ConfigMap mounts) emit a Remove event instead
// of Write; both are treated as a reload trigger. Reload errors are logged
// and the previous config stays in effect rather than crashing the process.
//
// Watch returns an error only when the watcher fails to start; otherwise it
// runs until the returned stop func is called. It does not return an error channel —
// a failure to reload a live config should not take down a running server.
func Watch(path string, logger *logrus.Logger, onChange func(*Config)) (stop func(), err error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := watcher.Add(path); err != nil {
		watcher.Close()
		return nil, err
	}

	done := make(chan struct{})
	go func() {
		for {
			select {
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if event.Op&(fsnotify.Write|fsnotify.Remove|fsnotify.Create) == 0 {
					continue
				}
				// A Remove is usually followed by a Create from the editor's
				// rename-into-place; re-adding the watch keeps it alive either way.
				if event.Op&fsnotify.Remove != 0 {
					_ = watcher.Add(path)
				}
				cfg, err := Load(path)
				if err != nil {
					logger.WithError(err).Warn("config reload failed, keeping previous config")
					continue
				}
				onChange(cfg)
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				logger.WithError(err).Warn("config watcher error")
			case <-done:
				return
			}
		}
	}()

	return func() {
		close(done)
		watcher.Close()
	}, nil
}
