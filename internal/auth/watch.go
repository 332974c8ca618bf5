package auth

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

const reloadDebounce = 100 * time.Millisecond

// Watch reloads the keys file whenever it changes until ctx is done. The
// parent directory is watched so editors that replace the file by rename are
// picked up. onReload, if set, observes every reload attempt.
func (a *APIKeyAuth) Watch(ctx context.Context, logger *slog.Logger, onReload func(error)) error {
	if logger == nil {
		logger = slog.Default()
	}
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create keys watcher: %w", err)
	}
	target := filepath.Clean(a.keysFile)
	if err := w.Add(filepath.Dir(target)); err != nil {
		_ = w.Close()
		return fmt.Errorf("watch %s: %w", filepath.Dir(target), err)
	}

	go func() {
		defer w.Close()
		var timer *time.Timer
		var fire <-chan time.Time
		for {
			select {
			case <-ctx.Done():
				if timer != nil {
					timer.Stop()
				}
				return
			case ev, ok := <-w.Events:
				if !ok {
					return
				}
				if filepath.Clean(ev.Name) != target {
					continue
				}
				if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
					continue
				}
				if timer == nil {
					timer = time.NewTimer(reloadDebounce)
				} else {
					timer.Reset(reloadDebounce)
				}
				fire = timer.C
			case err, ok := <-w.Errors:
				if !ok {
					return
				}
				logger.Warn("api keys watcher error", "error", err)
			case <-fire:
				fire = nil
				err := a.Reload()
				if err != nil {
					logger.Warn("api keys reload failed; keeping previous keys", "file", target, "error", err)
				} else {
					logger.Info("api keys reloaded", "file", target)
				}
				if onReload != nil {
					onReload(err)
				}
			}
		}
	}()
	return nil
}
