package config

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"

	"github.com/sweeney/burner-controller/internal/control"
)

// Watcher reloads the control policy when the config file changes.
type Watcher struct {
	path     string
	watcher  *fsnotify.Watcher
	onChange func(control.Policy)

	mu   sync.Mutex
	last control.Policy

	done chan struct{}
}

// Watch starts watching path. onChange is called from the watcher's
// goroutine with each new valid policy that differs from the last one.
// Files that fail to load are logged and ignored; the running policy stays.
func Watch(path string, current control.Policy, onChange func(control.Policy)) (*Watcher, error) {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create watcher: %w", err)
	}

	// Editors replace the file rather than write it in place, so watch the
	// directory and filter on the name.
	if err := fw.Add(filepath.Dir(path)); err != nil {
		_ = fw.Close()
		return nil, fmt.Errorf("watch %s: %w", filepath.Dir(path), err)
	}

	w := &Watcher{
		path:     filepath.Clean(path),
		watcher:  fw,
		onChange: onChange,
		last:     current,
		done:     make(chan struct{}),
	}
	go w.watch()
	return w, nil
}

// Close stops the watcher and waits for its goroutine to exit.
func (w *Watcher) Close() error {
	err := w.watcher.Close()
	<-w.done
	return err
}

func (w *Watcher) watch() {
	defer close(w.done)
	for {
		select {
		case evt, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(evt.Name) != w.path {
				continue
			}
			if !evt.Has(fsnotify.Write) && !evt.Has(fsnotify.Create) && !evt.Has(fsnotify.Rename) {
				continue
			}
			w.reload()

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			slog.Warn("config: watcher error", "err", err)
		}
	}
}

func (w *Watcher) reload() {
	// A truncating write shows up as an empty file first; the next event
	// carries the content.
	if fi, err := os.Stat(w.path); err != nil || fi.Size() == 0 {
		return
	}

	cfg, err := Load(w.path)
	if err != nil {
		slog.Warn("config: reload ignored", "path", w.path, "err", err)
		return
	}

	w.mu.Lock()
	changed := cfg.Control != w.last
	if changed {
		w.last = cfg.Control
	}
	w.mu.Unlock()

	if !changed {
		return
	}
	slog.Info("config: control policy reloaded", "path", w.path,
		"stages", cfg.Control.Stages,
		"kp", cfg.Control.PID.Kp, "ki", cfg.Control.PID.Ki, "kd", cfg.Control.PID.Kd)
	w.onChange(cfg.Control)
}
