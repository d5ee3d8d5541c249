package router

import (
	"context"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"weaver/internal/cache"
	"weaver/internal/logging"
	"weaver/internal/watcher"
	"weaver/internal/workflow"
)

// dispatchKey identifies one (rule, path) pair for in-flight tracking
// and per-rule-per-path debouncing (spec.md §4.6 "Ordering/concurrency").
type dispatchKey struct {
	ruleIdx int
	path    string
}

type pendingMatch struct {
	kind watcher.EventKind
	at   time.Time
}

// Router is the Event Router (spec.md §4.6): it binds watcher events to
// workflow starts via declarative Rules, debouncing per rule+path and
// coalescing bursts to the latest event.
type Router struct {
	rules           []Rule
	runtime         *workflow.Runtime
	cacheStore      *cache.Store
	defaultDebounce time.Duration

	mu       sync.Mutex
	pending  map[dispatchKey]pendingMatch
	inflight map[dispatchKey]bool
	queued   map[dispatchKey]pendingMatch

	dropCount int64

	stopCh chan struct{}
	doneCh chan struct{}
}

// New constructs a Router dispatching matched events to runtime, with
// optional frontmatter predicate evaluation against cacheStore.
func New(rules []Rule, runtime *workflow.Runtime, cacheStore *cache.Store, defaultDebounce time.Duration) *Router {
	if defaultDebounce <= 0 {
		defaultDebounce = 300 * time.Millisecond
	}
	return &Router{
		rules:           rules,
		runtime:         runtime,
		cacheStore:      cacheStore,
		defaultDebounce: defaultDebounce,
		pending:         make(map[dispatchKey]pendingMatch),
		inflight:        make(map[dispatchKey]bool),
		queued:          make(map[dispatchKey]pendingMatch),
		stopCh:          make(chan struct{}),
		doneCh:          make(chan struct{}),
	}
}

// DropCount returns the number of workflow starts dropped because the
// runtime rejected them (spec.md §4.6 "the router records a drop metric
// and continues").
func (r *Router) DropCount() int64 {
	return atomic.LoadInt64(&r.dropCount)
}

// Run consumes events from the channel (typically watcher.Watcher.Events())
// until the channel closes or Stop is called.
func (r *Router) Run(events <-chan watcher.Event) {
	defer close(r.doneCh)

	ticker := time.NewTicker(r.defaultDebounce / 3)
	if r.defaultDebounce/3 <= 0 {
		ticker = time.NewTicker(10 * time.Millisecond)
	}
	defer ticker.Stop()

	for {
		select {
		case <-r.stopCh:
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			r.handleEvent(ev)
		case <-ticker.C:
			r.flushSettled()
		}
	}
}

// Stop halts Run's loop and waits for it to exit.
func (r *Router) Stop() {
	close(r.stopCh)
	<-r.doneCh
}

func (r *Router) handleEvent(ev watcher.Event) {
	for idx, rule := range r.rules {
		if !rule.matchesKind(ev.Kind) {
			continue
		}
		if !matchPath(rule.PathPattern, ev.Path) {
			continue
		}
		if rule.FrontmatterFilter != nil && !r.evaluateFilter(ev.Path, rule.FrontmatterFilter) {
			continue
		}

		debounce := r.defaultDebounce
		if rule.DebounceMS > 0 {
			debounce = time.Duration(rule.DebounceMS) * time.Millisecond
		}
		key := dispatchKey{ruleIdx: idx, path: ev.Path}

		r.mu.Lock()
		r.pending[key] = pendingMatch{kind: ev.Kind, at: ev.ObservedAt.Add(debounce)}
		r.mu.Unlock()
	}
}

func (r *Router) flushSettled() {
	now := time.Now()

	r.mu.Lock()
	ready := make(map[dispatchKey]pendingMatch)
	for key, pm := range r.pending {
		if now.After(pm.at) || now.Equal(pm.at) {
			ready[key] = pm
		}
	}
	for key := range ready {
		delete(r.pending, key)
	}
	r.mu.Unlock()

	for key, pm := range ready {
		r.dispatch(key, pm)
	}
}

// dispatch starts (or queues) a workflow run for one matched (rule,
// path). If a run for this key is already in flight, the match is
// coalesced into queued and replayed once the in-flight run finishes
// (spec.md §4.6 "at most one run is in flight; subsequent matches queue
// or coalesce").
func (r *Router) dispatch(key dispatchKey, pm pendingMatch) {
	r.mu.Lock()
	if r.inflight[key] {
		r.queued[key] = pm
		r.mu.Unlock()
		return
	}
	r.inflight[key] = true
	r.mu.Unlock()

	rule := r.rules[key.ruleIdx]
	go r.runAndFollowUp(key, rule, pm)
}

func (r *Router) runAndFollowUp(key dispatchKey, rule Rule, pm pendingMatch) {
	r.start(rule, key.path, pm.kind)

	r.mu.Lock()
	next, ok := r.queued[key]
	if ok {
		delete(r.queued, key)
	} else {
		r.inflight[key] = false
	}
	r.mu.Unlock()

	if ok {
		r.runAndFollowUp(key, rule, next)
	}
}

func (r *Router) start(rule Rule, path string, kind watcher.EventKind) {
	input := map[string]any{
		"event":        string(kind),
		"matched_path": path,
	}
	runID, err := r.runtime.Start(rule.WorkflowID, input)
	if err != nil {
		atomic.AddInt64(&r.dropCount, 1)
		logging.Router("dropped start for workflow %q path %q: %v", rule.WorkflowID, path, err)
		return
	}
	logging.RouterDebug("started run %s for workflow %q path %q (event=%s)", runID, rule.WorkflowID, path, kind)
	// Awaiting here keeps the in-flight tracking accurate for this
	// rule+path without blocking the event loop, which continues
	// consuming other paths/rules concurrently on their own goroutines.
	_, _ = r.runtime.Await(context.Background(), runID)
}

func (r *Router) evaluateFilter(path string, filter *FrontmatterFilter) bool {
	if r.cacheStore == nil {
		return false
	}
	doc, err := r.cacheStore.GetDocument(path)
	if err != nil {
		return false
	}
	var actual string
	switch filter.Key {
	case "status":
		actual = doc.Status
	case "document_type":
		actual = doc.DocumentType
	case "priority":
		actual = doc.Priority
	case "title":
		actual = doc.Title
	case "icon":
		actual = doc.Icon
	default:
		if v, ok := doc.Frontmatter[filter.Key]; ok && v != nil {
			actual = v.String()
		}
	}
	return actual == filter.Equals
}

// matchPath matches a vault-relative path against a rule's glob.
// A bare "**" means "match everything", since filepath.Match's "*"
// cannot cross path separators and the default built-in rules need a
// pattern meaning "any path at any depth" (spec.md §4.6 examples use
// "**" this way). Any other pattern is evaluated with filepath.Match.
func matchPath(pattern, path string) bool {
	if pattern == "" || pattern == "**" {
		return true
	}
	ok, err := filepath.Match(pattern, path)
	return err == nil && ok
}
