// Package router implements the Event Router (spec.md §4.6): binds
// filesystem watcher events to workflow triggers through declarative
// rules, with per-rule-per-path debouncing and back-pressure handling.
package router

import (
	"weaver/internal/watcher"
)

// FrontmatterFilter is a predicate evaluated against the cache's current
// row for the matched path (spec.md §4.6 "optional frontmatter
// predicates hold on the current cache state for that path"). Key may
// be a well-known projected field ("status", "document_type", ...) or a
// raw frontmatter key.
type FrontmatterFilter struct {
	Key    string
	Equals string
}

// Rule binds a set of event kinds and a path glob to a workflow trigger
// (spec.md §4.6 "Binding shape").
type Rule struct {
	WorkflowID        string
	EventKinds        []watcher.EventKind
	PathPattern       string // filepath.Match-style glob, matched against the vault-relative path
	FrontmatterFilter *FrontmatterFilter
	DebounceMS        int // per-rule override; 0 uses the router default
}

func (r Rule) matchesKind(kind watcher.EventKind) bool {
	for _, k := range r.EventKinds {
		if k == kind {
			return true
		}
	}
	return false
}
