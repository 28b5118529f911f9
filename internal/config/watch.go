package config

import (
	"context"
	"log/slog"
	"time"

	"github.com/fsnotify/fsnotify"
)

// debounceInterval coalesces the burst of filesystem events an editor
// or atomic rename produces into a single reload.
const debounceInterval = 500 * time.Millisecond

// Watch monitors the config file and invokes onChange with a freshly
// loaded config whenever the file is rewritten. A reload that fails
// validation is logged and dropped; the previous config stays in
// effect. Watch blocks until ctx is cancelled.
func Watch(ctx context.Context, path string, logger *slog.Logger, onChange func(*Config)) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer watcher.Close()

	if err := watcher.Add(path); err != nil {
		return err
	}

	var debounce *time.Timer
	reload := func() {
		cfg, errs := Load(path)
		if len(errs) > 0 {
			logger.Warn("config reload failed, keeping previous config",
				"path", path, "errors", joinErrors(errs))
			return
		}
		logger.Info("config reloaded", "path", path, "feeds", len(cfg.Feeds))
		onChange(cfg)
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if event.Op&fsnotify.Chmod == fsnotify.Chmod {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			// Editors often replace the file via rename; re-arm the
			// watch on the new inode once it exists.
			if event.Op&(fsnotify.Rename|fsnotify.Remove) != 0 {
				go func() {
					time.Sleep(100 * time.Millisecond)
					if err := watcher.Add(path); err != nil {
						logger.Warn("failed to re-arm config watch", "path", path, "error", err)
					}
				}()
			}
			if debounce != nil {
				debounce.Stop()
			}
			debounce = time.AfterFunc(debounceInterval, reload)
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			logger.Warn("config watch error", "error", err)
		}
	}
}

func joinErrors(errs []error) []string {
	out := make([]string, 0, len(errs))
	for _, e := range errs {
		out = append(out, e.Error())
	}
	return out
}
