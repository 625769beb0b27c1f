package config

import (
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// Watcher reloads a subset of runtime-tunable settings (currently just log
// level) from an optional override file without requiring a restart. Most
// of the gateway's configuration is environment-derived and fixed for the
// process lifetime; this exists for the handful of operators who keep a
// local override file and expect `kill -HUP`-free reloading.
type Watcher struct {
	path string
	log  *zap.SugaredLogger
	fsw  *fsnotify.Watcher
	stop chan struct{}
}

// NewWatcher starts watching path for writes. path not existing is not an
// error: the watcher simply waits for it to be created.
func NewWatcher(path string, log *zap.SugaredLogger) (*Watcher, error) {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	path = filepath.Clean(path)
	if err := fsw.Add(path); err != nil {
		// A missing file is picked up once its parent directory emits Create.
		_ = fsw.Add(filepath.Dir(path))
	}

	return &Watcher{path: path, log: log, fsw: fsw, stop: make(chan struct{})}, nil
}

// Run blocks, invoking onReload whenever path is written or created, until
// Close is called. Rapid successive writes are coalesced with a short debounce.
func (w *Watcher) Run(onReload func()) {
	var debounce *time.Timer
	for {
		select {
		case ev, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			if ev.Name != w.path {
				continue
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			if debounce != nil {
				debounce.Stop()
			}
			debounce = time.AfterFunc(200*time.Millisecond, onReload)
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			w.log.Warnw("config watcher error", "error", err)
		case <-w.stop:
			return
		}
	}
}

// Close stops the watcher.
func (w *Watcher) Close() error {
	close(w.stop)
	return w.fsw.Close()
}
