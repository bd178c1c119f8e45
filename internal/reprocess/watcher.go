package reprocess

import (
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/ratecurve/cashpipe/internal/logging"
)

// Watcher detects scraper completion by watching the output directory for
// new normalized JSON files. fsnotify is the primary mechanism; a polling
// sweep backstops platforms where inotify events are unreliable.
type Watcher struct {
	dir        string
	controller *Controller
	log        *logging.Logger

	debounce time.Duration
	pollEach time.Duration

	mu      sync.Mutex
	pending map[string]*time.Timer
	seen    map[string]time.Time

	done chan struct{}
	wg   sync.WaitGroup
}

// NewWatcher builds a watcher over dir that notifies the controller.
func NewWatcher(dir string, controller *Controller, log *logging.Logger) *Watcher {
	return &Watcher{
		dir:        dir,
		controller: controller,
		log:        log,
		debounce:   2 * time.Second,
		pollEach:   30 * time.Second,
		pending:    map[string]*time.Timer{},
		seen:       map[string]time.Time{},
		done:       make(chan struct{}),
	}
}

// Start begins watching. Failure to set up fsnotify degrades to polling only.
func (w *Watcher) Start() error {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		w.log.Warnf("fsnotify unavailable (%v); polling only", err)
	} else if err := fsw.Add(w.dir); err != nil {
		w.log.Warnf("cannot watch %s (%v); polling only", w.dir, err)
		_ = fsw.Close()
		fsw = nil
	}

	if fsw != nil {
		w.wg.Add(1)
		go w.watchEvents(fsw)
	}
	w.wg.Add(1)
	go w.poll()
	w.log.Infof("watching %s for scraper output", w.dir)
	return nil
}

// Stop shuts the watcher down and waits for its goroutines.
func (w *Watcher) Stop() {
	close(w.done)
	w.wg.Wait()

	w.mu.Lock()
	for _, t := range w.pending {
		t.Stop()
	}
	w.pending = map[string]*time.Timer{}
	w.mu.Unlock()
}

func (w *Watcher) watchEvents(fsw *fsnotify.Watcher) {
	defer w.wg.Done()
	defer func() { _ = fsw.Close() }()
	for {
		select {
		case <-w.done:
			return
		case ev, ok := <-fsw.Events:
			if !ok {
				return
			}
			if ev.Op&(fsnotify.Create|fsnotify.Write) == 0 {
				continue
			}
			if !isScraperOutput(ev.Name) {
				continue
			}
			w.schedule(ev.Name)
		case err, ok := <-fsw.Errors:
			if !ok {
				return
			}
			w.log.Warnf("watch error: %v", err)
		}
	}
}

// schedule debounces per file: a scraper writing in chunks fires one
// notification after the last write settles.
func (w *Watcher) schedule(path string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if t, ok := w.pending[path]; ok {
		t.Stop()
	}
	w.pending[path] = time.AfterFunc(w.debounce, func() {
		w.mu.Lock()
		delete(w.pending, path)
		w.seen[path] = time.Now()
		w.mu.Unlock()
		w.log.Infof("scraper output detected: %s", filepath.Base(path))
		w.controller.Notify(TriggerScraperCompleted, path)
	})
}

// poll sweeps the directory for files fsnotify missed.
func (w *Watcher) poll() {
	defer w.wg.Done()
	ticker := time.NewTicker(w.pollEach)
	defer ticker.Stop()
	for {
		select {
		case <-w.done:
			return
		case <-ticker.C:
			w.sweep()
		}
	}
}

func (w *Watcher) sweep() {
	entries, err := os.ReadDir(w.dir)
	if err != nil {
		w.log.Warnf("poll sweep of %s: %v", w.dir, err)
		return
	}
	for _, entry := range entries {
		if entry.IsDir() || !isScraperOutput(entry.Name()) {
			continue
		}
		path := filepath.Join(w.dir, entry.Name())
		info, err := entry.Info()
		if err != nil {
			continue
		}
		w.mu.Lock()
		last, known := w.seen[path]
		_, queued := w.pending[path]
		w.mu.Unlock()
		if queued || (known && !info.ModTime().After(last)) {
			continue
		}
		w.schedule(path)
	}
}

func isScraperOutput(name string) bool {
	base := filepath.Base(name)
	return strings.HasSuffix(base, ".json") && strings.Contains(base, "-normalized-")
}
