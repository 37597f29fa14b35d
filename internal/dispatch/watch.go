package dispatch

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"sync/atomic"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// ContactsWatcher reloads a Directory whenever its contacts file changes.
// A file that fails to parse, or has no entries, leaves the previous
// contacts in place.
type ContactsWatcher struct {
	dir     *Directory
	path    string
	watcher *fsnotify.Watcher
	logger  *zap.Logger

	reloads atomic.Int64
	failed  atomic.Int64
	stopCh  chan struct{}
	doneCh  chan struct{}
	once    sync.Once
}

// WatchDirectory starts watching path and swaps reloaded contacts into dir.
// The parent directory is watched so editors that save by rename are seen.
func WatchDirectory(ctx context.Context, dir *Directory, path string, logger *zap.Logger) (*ContactsWatcher, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("contacts path %s: %w", path, err)
	}
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("contacts watcher: %w", err)
	}
	if err := fw.Add(filepath.Dir(abs)); err != nil {
		fw.Close()
		return nil, fmt.Errorf("watch %s: %w", filepath.Dir(abs), err)
	}
	w := &ContactsWatcher{
		dir:     dir,
		path:    abs,
		watcher: fw,
		logger:  logger.Named("contacts").With(zap.String("path", abs)),
		stopCh:  make(chan struct{}),
		doneCh:  make(chan struct{}),
	}
	go w.run(ctx)
	return w, nil
}

func (w *ContactsWatcher) run(ctx context.Context) {
	defer close(w.doneCh)
	for {
		select {
		case <-ctx.Done():
			return
		case <-w.stopCh:
			return
		case ev, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(ev.Name) != w.path || !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) {
				continue
			}
			w.reload()
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Warn("contacts watcher error", zap.Error(err))
		}
	}
}

func (w *ContactsWatcher) reload() {
	next, err := LoadDirectory(w.path)
	if err == nil && next.Len() == 0 {
		err = fmt.Errorf("contacts file %s has no entries", w.path)
	}
	if err != nil {
		w.failed.Add(1)
		w.logger.Warn("contacts reload failed, keeping previous", zap.Error(err))
		return
	}
	w.dir.replace(next)
	w.reloads.Add(1)
	w.logger.Info("contacts reloaded", zap.Int("entries", w.dir.Len()))
}

// Reloads returns how many times the file was reloaded successfully.
func (w *ContactsWatcher) Reloads() int64 { return w.reloads.Load() }

// Failures returns how many reloads were rejected.
func (w *ContactsWatcher) Failures() int64 { return w.failed.Load() }

// Close stops watching.
func (w *ContactsWatcher) Close() error {
	var err error
	w.once.Do(func() {
		close(w.stopCh)
		<-w.doneCh
		err = w.watcher.Close()
	})
	return err
}
