package engine

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

const defaultRulesDebounce = 500 * time.Millisecond

// Watch reloads the rule pack whenever its file changes, until ctx is done.
// The parent directory is watched so editors that save by rename are seen.
// Bursts of events within debounce collapse into one reload; a pack that
// fails to parse is logged and the previous rules stay in effect.
func (e *RuleEngine) Watch(ctx context.Context, debounce time.Duration) error {
	if e == nil {
		return nil
	}
	if debounce <= 0 {
		debounce = defaultRulesDebounce
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create rules watcher: %w", err)
	}
	defer watcher.Close()

	target := filepath.Clean(e.path)
	if err := watcher.Add(filepath.Dir(target)); err != nil {
		return fmt.Errorf("watch %s: %w", filepath.Dir(target), err)
	}
	e.logger.Info("watching hint rules", slog.String("path", target))

	timer := time.NewTimer(debounce)
	timer.Stop()
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(ev.Name) != target || !ev.Has(fsnotify.Write|fsnotify.Create|fsnotify.Rename) {
				continue
			}
			timer.Reset(debounce)
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			e.logger.Warn("rules watcher error", slog.Any("error", err))
		case <-timer.C:
			if err := e.Reload(); err != nil {
				e.logger.Warn("rule reload rejected; keeping previous rules", slog.Any("error", err))
			}
		}
	}
}
