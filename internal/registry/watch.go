// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package registry

import (
	"log"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

const reloadDebounce = 200 * time.Millisecond

// Watcher reloads a Registry whenever its backing file changes out of
// band, e.g. a second voluted process or a hand edit of minds.json.
// Store.Save replaces the file with a temp-then-rename, so the watch
// targets the containing directory rather than the file itself —
// watching the file directly loses the inode across a rename.
type Watcher struct {
	reg       *Registry
	watcher   *fsnotify.Watcher
	fileName  string
	debouncer *time.Timer
	mu        sync.Mutex
	closeCh   chan struct{}
	wg        sync.WaitGroup
}

// NewWatcher opens an fsnotify watch on the directory containing the
// registry's backing file. Call Run to start processing events and
// Close to stop.
func NewWatcher(reg *Registry) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	dir := filepath.Dir(reg.store.filePath)
	if err := fsw.Add(dir); err != nil {
		fsw.Close()
		return nil, err
	}
	return &Watcher{
		reg:      reg,
		watcher:  fsw,
		fileName: filepath.Base(reg.store.filePath),
		closeCh:  make(chan struct{}),
	}, nil
}

// Run processes filesystem events until Close is called. Meant to be
// started as a goroutine.
func (w *Watcher) Run() {
	w.wg.Add(1)
	defer w.wg.Done()

	for {
		select {
		case <-w.closeCh:
			return

		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if filepath.Base(event.Name) != w.fileName {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) {
				continue
			}
			w.scheduleReload()

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			log.Printf("registry: watch error: %v", err)
		}
	}
}

// scheduleReload coalesces the write-temp-then-rename pair Store.Save
// produces into a single Reload.
func (w *Watcher) scheduleReload() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.debouncer != nil {
		w.debouncer.Stop()
	}
	w.debouncer = time.AfterFunc(reloadDebounce, func() {
		if err := w.reg.Reload(); err != nil {
			log.Printf("registry: reload: %v", err)
		}
	})
}

// Close stops the watcher and waits for Run to return.
func (w *Watcher) Close() error {
	close(w.closeCh)
	w.mu.Lock()
	if w.debouncer != nil {
		w.debouncer.Stop()
	}
	w.mu.Unlock()
	err := w.watcher.Close()
	w.wg.Wait()
	return err
}
