package skills

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Watch re-syncs skills when any scanned root changes on disk. Change
// bursts are debounced so an editor save triggers one sync, not five.
func (l *Loader) Watch(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer watcher.Close()

	for _, root := range l.roots {
		if err := watcher.Add(root.Dir); err != nil {
			slog.Warn("skills.watch.add_failed", "dir", root.Dir, "error", err)
		}
	}

	const debounce = 500 * time.Millisecond
	var timer *time.Timer
	var pending <-chan time.Time

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if !strings.HasSuffix(event.Name, ".md") {
				continue
			}
			if timer == nil {
				timer = time.NewTimer(debounce)
				pending = timer.C
			} else {
				timer.Reset(debounce)
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			slog.Warn("skills.watch.error", "error", err)
		case <-pending:
			timer = nil
			pending = nil
			if _, err := l.Sync(ctx); err != nil {
				slog.Warn("skills.watch.sync_failed", "error", err)
			}
		}
	}
}
