package config

import (
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Watcher reloads the config file when it changes on disk and notifies a
// callback with the fresh config. Only safe-to-change settings (logging
// level, category gates) should be applied by callers at runtime.
type Watcher struct {
	path     string
	onChange func(*Config)
	fsw      *fsnotify.Watcher
	done     chan struct{}
	wg       sync.WaitGroup

	// debounce interval: editors fire multiple events per save
	debounce time.Duration
}

// NewWatcher creates a watcher for the config file at path. onChange is
// invoked with the reloaded config after each successful parse; parse
// failures keep the previous config and are silently skipped.
func NewWatcher(path string, onChange func(*Config)) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create fs watcher: %w", err)
	}

	// Watch the directory, not the file: editors replace files on save
	// and the inode-level watch would be lost.
	dir := filepath.Dir(path)
	if err := fsw.Add(dir); err != nil {
		fsw.Close()
		return nil, fmt.Errorf("failed to watch %s: %w", dir, err)
	}

	w := &Watcher{
		path:     path,
		onChange: onChange,
		fsw:      fsw,
		done:     make(chan struct{}),
		debounce: 200 * time.Millisecond,
	}
	w.wg.Add(1)
	go w.loop()
	return w, nil
}

func (w *Watcher) loop() {
	defer w.wg.Done()

	var timer *time.Timer
	var timerC <-chan time.Time

	for {
		select {
		case <-w.done:
			if timer != nil {
				timer.Stop()
			}
			return
		case ev, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			if filepath.Clean(ev.Name) != filepath.Clean(w.path) {
				continue
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			if timer == nil {
				timer = time.NewTimer(w.debounce)
				timerC = timer.C
			} else {
				timer.Reset(w.debounce)
			}
		case <-timerC:
			timer = nil
			timerC = nil
			cfg, err := Load(w.path)
			if err != nil {
				continue
			}
			w.onChange(cfg)
		case _, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
		}
	}
}

// Close stops the watcher and releases its resources.
func (w *Watcher) Close() error {
	close(w.done)
	err := w.fsw.Close()
	w.wg.Wait()
	return err
}
