package config

import (
	"context"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/falleco/opencode-sandbox/internal/logging"
)

// debounceWindow coalesces rapid successive writes to the config file (an
// editor saving in two steps, e.g. a temp-file-then-rename) into one
// onChange call.
const debounceWindow = 200 * time.Millisecond

// Watcher notifies a callback when the router's config file changes on
// disk. This is a diagnostic convenience — the router does not hot-reload
// Config mid-process, it logs that a restart is needed to pick up the
// change.
type Watcher struct {
	watcher *fsnotify.Watcher
	path    string
	cancel  context.CancelFunc
}

// WatchFile starts watching path's parent directory (so the watch survives
// editors that replace the file via rename) and calls onChange, debounced,
// whenever path itself is created, written, or renamed.
func WatchFile(path string, onChange func()) (*Watcher, error) {
	log := logging.ForComponent(logging.CompConfig)

	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	dir := filepath.Dir(path)
	if err := fw.Add(dir); err != nil {
		fw.Close()
		return nil, err
	}

	ctx, cancel := context.WithCancel(context.Background())
	w := &Watcher{watcher: fw, path: path, cancel: cancel}

	go w.run(ctx, onChange, log)
	return w, nil
}

func (w *Watcher) run(ctx context.Context, onChange func(), log interface {
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
}) {
	var timer *time.Timer
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return

		case ev, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(ev.Name) != filepath.Clean(w.path) {
				continue
			}
			if ev.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Rename) == 0 {
				continue
			}
			if timer != nil {
				timer.Stop()
			}
			timer = time.AfterFunc(debounceWindow, func() {
				log.Info("config_file_changed", "path", w.path)
				onChange()
			})

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			log.Warn("config_watch_error", "error", err.Error())
		}
	}
}

// Close stops the watcher.
func (w *Watcher) Close() error {
	w.cancel()
	return w.watcher.Close()
}
