package watcher

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"weaver/internal/logging"
)

// dataDirName is the cache/workflow-state directory, always excluded
// from the watch tree regardless of caller-provided ignore rules.
const dataDirName = ".weaver-data"

// Config controls a Watcher's behavior.
type Config struct {
	// Root is the vault directory to watch, recursively.
	Root string
	// Debounce is the window within which same-path events collapse to
	// one (spec.md §4.3 default: 300ms).
	Debounce time.Duration
	// IgnoreDirs are additional directory names to exclude, beyond
	// hidden (leading-dot) directories and dataDirName.
	IgnoreDirs []string
	// QueueSize bounds the outbound event channel. On overflow the
	// watcher drops the event, logs a warning, and calls OnOverflow.
	QueueSize int
	// OnOverflow is invoked (at most once per overflow) when the bounded
	// queue is full; used to mark the shadow cache dirty.
	OnOverflow func()
}

// Watcher recursively watches a vault tree and emits debounced, normalized
// Events on Events(). Grounded on the teacher's MangleWatcher debounce
// pattern generalized to a recursive multi-directory tree.
type Watcher struct {
	cfg     Config
	fs      *fsnotify.Watcher
	events  chan Event
	ignore  map[string]bool
	mu      sync.Mutex
	pending map[string]pendingEvent
	stopCh  chan struct{}
	doneCh  chan struct{}
}

type pendingEvent struct {
	kind EventKind
	at   time.Time
}

// New creates a Watcher rooted at cfg.Root. Call Start to begin watching.
func New(cfg Config) (*Watcher, error) {
	if cfg.Debounce <= 0 {
		cfg.Debounce = 300 * time.Millisecond
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 1024
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("watcher: creating fsnotify watcher: %w", err)
	}

	ignore := map[string]bool{dataDirName: true}
	for _, d := range cfg.IgnoreDirs {
		ignore[d] = true
	}

	return &Watcher{
		cfg:     cfg,
		fs:      fsw,
		events:  make(chan Event, cfg.QueueSize),
		ignore:  ignore,
		pending: make(map[string]pendingEvent),
		stopCh:  make(chan struct{}),
		doneCh:  make(chan struct{}),
	}, nil
}

// Events returns the channel of normalized events.
func (w *Watcher) Events() <-chan Event {
	return w.events
}

// Start walks the vault tree adding every non-excluded directory to the
// fsnotify watch list, then begins the event loop in a goroutine. It does
// not emit Add events for pre-existing files (spec.md §4.3).
func (w *Watcher) Start() error {
	if err := w.addTreeRecursive(w.cfg.Root); err != nil {
		return fmt.Errorf("watcher: initial walk: %w", err)
	}
	go w.run()
	logging.Watcher("watching %s (debounce=%v)", w.cfg.Root, w.cfg.Debounce)
	return nil
}

// Stop halts the watch loop and closes underlying resources.
func (w *Watcher) Stop() {
	close(w.stopCh)
	<-w.doneCh
	w.fs.Close()
}

func (w *Watcher) addTreeRecursive(root string) error {
	return filepath.WalkDir(root, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			return nil
		}
		if path != root && w.isExcludedDir(d.Name()) {
			return filepath.SkipDir
		}
		if err := w.fs.Add(path); err != nil {
			logging.Get(logging.CategoryWatcher).Warn("failed to watch %s: %v", path, err)
		}
		return nil
	})
}

func (w *Watcher) isExcludedDir(name string) bool {
	if strings.HasPrefix(name, ".") {
		return true
	}
	return w.ignore[name]
}

func (w *Watcher) run() {
	defer close(w.doneCh)

	ticker := time.NewTicker(w.cfg.Debounce / 3)
	if w.cfg.Debounce/3 <= 0 {
		ticker = time.NewTicker(10 * time.Millisecond)
	}
	defer ticker.Stop()

	for {
		select {
		case <-w.stopCh:
			return

		case ev, ok := <-w.fs.Events:
			if !ok {
				return
			}
			w.handleRaw(ev)

		case err, ok := <-w.fs.Errors:
			if !ok {
				return
			}
			logging.Get(logging.CategoryWatcher).Error("fsnotify error: %v", err)

		case <-ticker.C:
			w.flushSettled()
		}
	}
}

func (w *Watcher) handleRaw(ev fsnotify.Event) {
	base := filepath.Base(ev.Name)
	if strings.HasPrefix(base, ".") {
		return
	}

	switch {
	case ev.Op&fsnotify.Create != 0:
		if info, err := os.Stat(ev.Name); err == nil && info.IsDir() {
			if !w.isExcludedDir(base) {
				if err := w.addTreeRecursive(ev.Name); err != nil {
					logging.Get(logging.CategoryWatcher).Warn("failed to watch new dir %s: %v", ev.Name, err)
				}
			}
			return
		}
		w.record(ev.Name, EventAdd)

	case ev.Op&fsnotify.Write != 0:
		w.record(ev.Name, EventChange)

	case ev.Op&(fsnotify.Remove|fsnotify.Rename) != 0:
		w.record(ev.Name, EventUnlink)

	default:
		// Chmod and similar are ignored.
	}
}

func (w *Watcher) record(path string, kind EventKind) {
	relPath := w.relativize(path)

	w.mu.Lock()
	w.pending[relPath] = pendingEvent{kind: kind, at: time.Now()}
	w.mu.Unlock()
}

func (w *Watcher) relativize(path string) string {
	rel, err := filepath.Rel(w.cfg.Root, path)
	if err != nil {
		rel = path
	}
	return filepath.ToSlash(rel)
}

func (w *Watcher) flushSettled() {
	now := time.Now()

	w.mu.Lock()
	var settled []Event
	for path, pe := range w.pending {
		if now.Sub(pe.at) >= w.cfg.Debounce {
			settled = append(settled, Event{Kind: pe.kind, Path: path, ObservedAt: pe.at})
			delete(w.pending, path)
		}
	}
	w.mu.Unlock()

	for _, ev := range settled {
		w.emit(ev)
	}
}

func (w *Watcher) emit(ev Event) {
	select {
	case w.events <- ev:
	default:
		logging.Get(logging.CategoryWatcher).Warn("event queue overflow, dropping event for %s", ev.Path)
		if w.cfg.OnOverflow != nil {
			w.cfg.OnOverflow()
		}
	}
}
