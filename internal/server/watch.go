package server

import (
	"log/slog"

	"github.com/fsnotify/fsnotify"
)

// WatchManifest logs changes to the manifest file at path until stop is
// closed. Hot schema/keyspace reload is out of scope (a running
// Server's keyspace set is fixed at Start time); this exists purely so
// an operator can see in the log that a manifest edit requires a
// restart to take effect.
func WatchManifest(path string, logger *slog.Logger, stop <-chan struct{}) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	if err := watcher.Add(path); err != nil {
		_ = watcher.Close()
		return err
	}

	go func() {
		defer watcher.Close()
		for {
			select {
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				logger.Info("manifest changed, restart to apply", "path", event.Name, "op", event.Op.String())
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				logger.Warn("manifest watch error", "error", err)
			case <-stop:
				return
			}
		}
	}()

	return nil
}
