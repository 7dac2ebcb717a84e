// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package config

import (
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/jeranaias/llmchat/internal/logging"
)

// DefaultDebounce coalesces the burst of events an editor or an atomic
// rename produces into one reload.
const DefaultDebounce = 250 * time.Millisecond

// =============================================================================
// SETTINGS WATCHER
// =============================================================================

// Watcher reloads settings when settings.toml changes on disk.
//
// The directory is watched rather than the file: atomic saves replace the
// file by rename, which drops a watch placed on the old inode.
type Watcher struct {
	dir      string
	target   string
	watcher  *fsnotify.Watcher
	debounce time.Duration
	onChange func(*Settings)

	mu    sync.Mutex
	timer *time.Timer

	done      chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup
}

// NewWatcher creates a watcher for dir. onChange runs on the watcher's own
// goroutine with freshly loaded settings.
func NewWatcher(dir string, debounce time.Duration, onChange func(*Settings)) (*Watcher, error) {
	if debounce <= 0 {
		debounce = DefaultDebounce
	}
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := EnsureDir(dir); err != nil {
		fw.Close()
		return nil, err
	}
	if err := fw.Add(dir); err != nil {
		fw.Close()
		return nil, err
	}

	w := &Watcher{
		dir:      dir,
		target:   filepath.Base(SettingsPath(dir)),
		watcher:  fw,
		debounce: debounce,
		onChange: onChange,
		done:     make(chan struct{}),
	}
	w.wg.Add(1)
	go w.processEvents()
	return w, nil
}

// processEvents filters events down to the settings file and schedules reloads.
func (w *Watcher) processEvents() {
	defer w.wg.Done()
	for {
		select {
		case <-w.done:
			return
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if filepath.Base(event.Name) != w.target {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) != 0 {
				w.schedule()
			}
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			logging.Warn.Printf("settings watcher error: %v", err)
		}
	}
}

// schedule (re)starts the debounce timer.
func (w *Watcher) schedule() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.timer != nil {
		w.timer.Stop()
	}
	w.timer = time.AfterFunc(w.debounce, w.reload)
}

func (w *Watcher) reload() {
	select {
	case <-w.done:
		return
	default:
	}

	s, err := Load(w.dir)
	if err != nil {
		// Keep the settings already in use rather than reverting to defaults
		// while the user is halfway through an edit.
		logging.Warn.Printf("settings reload skipped: %v", err)
		return
	}
	logging.Info.Printf("settings reloaded from %s", SettingsPath(w.dir))
	w.onChange(s)
}

// Close stops the watcher. It is safe to call more than once.
func (w *Watcher) Close() error {
	var err error
	w.closeOnce.Do(func() {
		close(w.done)
		w.mu.Lock()
		if w.timer != nil {
			w.timer.Stop()
		}
		w.mu.Unlock()
		err = w.watcher.Close()
		w.wg.Wait()
	})
	return err
}
