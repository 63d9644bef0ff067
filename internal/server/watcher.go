package server

import (
	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// watcher invokes onChange whenever any of the watched files is rewritten.
type watcher struct {
	fs   *fsnotify.Watcher
	done chan struct{}
}

func newWatcher(paths []string, onChange func(), logger *zap.Logger) (*watcher, error) {
	fs, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	for _, p := range paths {
		if err := fs.Add(p); err != nil {
			fs.Close()
			return nil, err
		}
	}

	w := &watcher{fs: fs, done: make(chan struct{})}

	go func() {
		for {
			select {
			case ev, ok := <-fs.Events:
				if !ok {
					return
				}
				if ev.Op.Has(fsnotify.Write) || ev.Op.Has(fsnotify.Create) {
					onChange()
				}
			case err, ok := <-fs.Errors:
				if !ok {
					return
				}
				logger.Warn("file watcher error", zap.Error(err))
			case <-w.done:
				return
			}
		}
	}()

	return w, nil
}

func (w *watcher) Close() {
	close(w.done)
	_ = w.fs.Close()
}
