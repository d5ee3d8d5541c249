// Package watcher observes a vault directory tree and emits normalized,
// debounced change events. It never re-emits add events for files that
// existed at startup — the shadow cache's own startup scan handles
// baseline ingestion.
package watcher

import "time"

// EventKind classifies a normalized filesystem event.
type EventKind string

const (
	EventAdd    EventKind = "add"
	EventChange EventKind = "change"
	EventUnlink EventKind = "unlink"
)

// Event is the normalized shape emitted to downstream consumers.
// Renames surface as an Unlink followed by an Add; no rename event is
// exposed.
type Event struct {
	Kind       EventKind
	Path       string // vault-relative, forward-slash normalized
	ObservedAt time.Time
}
