package persona

import (
	"context"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
)

// watchDebounce coalesces bursts of layer writes into one reload.
const watchDebounce = 500 * time.Millisecond

// Watch hot-reloads the merged prefix when layer files change on disk.
// It blocks until ctx is cancelled; run it in its own goroutine.
func (s *Store) Watch(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer watcher.Close()

	if err := watcher.Add(s.currentDir); err != nil {
		return err
	}

	var debounce *time.Timer
	var reloadCh <-chan time.Time

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case ev, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Rename) {
				continue
			}
			// Temp files from atomic writes start with a dot.
			if strings.HasPrefix(filepath.Base(ev.Name), ".") {
				continue
			}
			if debounce == nil {
				debounce = time.NewTimer(watchDebounce)
				reloadCh = debounce.C
			} else {
				debounce.Reset(watchDebounce)
			}

		case <-reloadCh:
			debounce = nil
			reloadCh = nil
			if err := s.Reload(); err != nil {
				s.logger.Warn("persona: hot reload failed", "persona", s.name, "error", err)
				continue
			}
			s.logger.Info("persona: profile hot reloaded", "persona", s.name)

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			s.logger.Warn("persona: watcher error", "error", err)
		}
	}
}
