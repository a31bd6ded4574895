package components

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/afero"
)

// Watch reloads the manifest whenever its file changes on disk. The
// directory is watched rather than the file so that editors replacing the
// file by rename are followed. Only the OS filesystem can be watched; on any
// other afero backend Watch is a no-op.
func (l *Local) Watch(ctx context.Context) error {
	if _, ok := l.fs.(*afero.OsFs); !ok {
		l.logger.Debug("Manifest filesystem is not watchable, skipping hot reload")
		return nil
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create file system watcher: %w", err)
	}
	dir := filepath.Dir(l.path)
	if err := watcher.Add(dir); err != nil {
		watcher.Close()
		return fmt.Errorf("failed to watch %s: %w", dir, err)
	}

	l.wg.Add(1)
	go l.watchFiles(ctx, watcher)

	l.logger.Debug("Started manifest watcher", "path", l.path)
	return nil
}

func (l *Local) watchFiles(ctx context.Context, watcher *fsnotify.Watcher) {
	defer func() {
		watcher.Close()
		l.wg.Done()
		l.logger.Info("Manifest watcher stopped")
	}()

	target := filepath.Clean(l.path)
	for {
		select {
		case <-ctx.Done():
			return
		case <-l.done:
			return
		case ev, ok := <-watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(ev.Name) != target {
				continue
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			l.logger.Debug("Manifest changed", "event", ev.Op.String())
			if err := l.Reload(); err != nil {
				l.logger.Error("Failed to reload manifest", "error", err)
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			l.logger.Error("File system watcher error", "error", err)
		}
	}
}
