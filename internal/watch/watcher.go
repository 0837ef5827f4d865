// Package watch recompiles a Concerto project when its source files
// change, backing `concertoc build --watch`.
package watch

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/concerto-lang/concerto/internal/logger"
)

// DefaultDebounce is the tick interval for pending changes; all changes
// seen within one tick coalesce into one rebuild.
const DefaultDebounce = 300 * time.Millisecond

// sourceExtensions are the file suffixes that trigger a rebuild.
var sourceExtensions = []string{".conc", ".cct", ".toml"}

// Watcher monitors a directory tree and invokes a rebuild callback on
// the first debounce tick after a source change; it does not wait for
// changes to stop arriving.
type Watcher struct {
	root     string
	debounce time.Duration
	rebuild  func()

	watcher *fsnotify.Watcher
	stopCh  chan struct{}

	mu      sync.Mutex
	pending bool
	running bool
}

// NewWatcher builds a watcher over root; rebuild runs after each
// debounced batch of source changes.
func NewWatcher(root string, rebuild func()) (*Watcher, error) {
	fsWatcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create watcher: %w", err)
	}
	return &Watcher{
		root:     root,
		debounce: DefaultDebounce,
		rebuild:  rebuild,
		watcher:  fsWatcher,
		stopCh:   make(chan struct{}),
	}, nil
}

// Start begins watching. It returns after registering the directory
// tree; events are processed on background goroutines.
func (w *Watcher) Start() error {
	w.mu.Lock()
	if w.running {
		w.mu.Unlock()
		return nil
	}
	w.running = true
	w.mu.Unlock()

	if err := w.addDirectories(); err != nil {
		return fmt.Errorf("add directories: %w", err)
	}

	go w.processEvents()
	go w.processDebounced()
	return nil
}

// Stop stops watching.
func (w *Watcher) Stop() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if !w.running {
		return nil
	}
	w.running = false
	close(w.stopCh)
	return w.watcher.Close()
}

func (w *Watcher) addDirectories() error {
	return filepath.Walk(w.root, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return nil
		}
		if !info.IsDir() {
			return nil
		}
		name := info.Name()
		if strings.HasPrefix(name, ".") && path != w.root {
			return filepath.SkipDir
		}
		return w.watcher.Add(path)
	})
}

func (w *Watcher) processEvents() {
	for {
		select {
		case <-w.stopCh:
			return
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename|fsnotify.Remove) == 0 {
				continue
			}
			// New directories join the watch set.
			if event.Op&fsnotify.Create != 0 {
				if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
					w.watcher.Add(event.Name)
					continue
				}
			}
			if !isSourceFile(event.Name) {
				continue
			}
			logger.GetLogger().Debug().Str("file", event.Name).Str("op", event.Op.String()).Msg("source change detected")
			w.mu.Lock()
			w.pending = true
			w.mu.Unlock()
		case _, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
		}
	}
}

func (w *Watcher) processDebounced() {
	ticker := time.NewTicker(w.debounce)
	defer ticker.Stop()
	for {
		select {
		case <-w.stopCh:
			return
		case <-ticker.C:
			w.mu.Lock()
			fire := w.pending
			w.pending = false
			w.mu.Unlock()
			if fire {
				w.rebuild()
			}
		}
	}
}

func isSourceFile(path string) bool {
	ext := filepath.Ext(path)
	for _, want := range sourceExtensions {
		if ext == want {
			return true
		}
	}
	return false
}
