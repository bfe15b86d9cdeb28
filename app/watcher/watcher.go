// Package watcher reloads the model when its file changes on disk.
package watcher

import (
	"context"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/hashicorp/go-multierror"

	"github.com/umputun/drugwatch/app/storage"
	"github.com/umputun/drugwatch/lib/textclass"
)

// Reloader accepts a new model
type Reloader interface {
	Reload(m *textclass.Model) uint64
}

// Watcher monitors the model file and passes every successfully loaded version to the reloader.
// The directory is watched rather than the file itself, as the file is replaced by rename on save.
type Watcher struct {
	ModelFile    string
	Reloader     Reloader
	DebounceTime time.Duration

	mu      sync.Mutex
	changed time.Time // time of the last unprocessed change, zero if none
}

// New makes a watcher for the model file with default debounce time
func New(modelFile string, r Reloader) *Watcher {
	return &Watcher{ModelFile: filepath.Clean(modelFile), Reloader: r, DebounceTime: 500 * time.Millisecond}
}

// Run watches the model file until the context is canceled.
// A missing model directory is created, so the file can appear there later.
func (w *Watcher) Run(ctx context.Context) (err error) {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create file watcher: %w", err)
	}
	defer func() {
		if closeErr := fw.Close(); closeErr != nil {
			err = multierror.Append(err, fmt.Errorf("failed to close file watcher: %w", closeErr)).ErrorOrNil()
		}
	}()

	dir := filepath.Dir(w.ModelFile)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return fmt.Errorf("failed to make model directory %s: %w", dir, err)
	}
	if err := fw.Add(dir); err != nil {
		return fmt.Errorf("failed to watch %s: %w", dir, err)
	}
	log.Printf("[INFO] watching model file %s", w.ModelFile)

	ticker := time.NewTicker(w.DebounceTime)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			log.Printf("[INFO] stopped watching model file %s", w.ModelFile)
			return ctx.Err()
		case ev, ok := <-fw.Events:
			if !ok {
				return nil
			}
			w.handleEvent(ev)
		case werr, ok := <-fw.Errors:
			if !ok {
				return nil
			}
			log.Printf("[WARN] model watcher error: %v", werr)
		case <-ticker.C:
			w.processChange()
		}
	}
}

func (w *Watcher) handleEvent(ev fsnotify.Event) {
	if filepath.Clean(ev.Name) != w.ModelFile {
		return
	}
	if ev.Has(fsnotify.Create) || ev.Has(fsnotify.Write) {
		w.mu.Lock()
		w.changed = time.Now()
		w.mu.Unlock()
	}
}

// processChange reloads the model if the last change is older than debounce time.
// A file failing to load keeps the current model.
func (w *Watcher) processChange() {
	w.mu.Lock()
	if w.changed.IsZero() || time.Since(w.changed) < w.DebounceTime {
		w.mu.Unlock()
		return
	}
	w.changed = time.Time{}
	w.mu.Unlock()

	m, err := storage.LoadModelFile(w.ModelFile)
	if err != nil {
		log.Printf("[WARN] can't reload model from %s, keeping current one: %v", w.ModelFile, err)
		return
	}
	gen := w.Reloader.Reload(m)
	log.Printf("[INFO] model reloaded from %s, generation %d", w.ModelFile, gen)
}
