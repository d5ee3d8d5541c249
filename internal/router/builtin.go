package router

import (
	"weaver/internal/watcher"
)

// DefaultRules wires the three built-in workflows (spec.md §4.4) to the
// watcher's event kinds (spec.md §4.6 "Default built-in rules").
func DefaultRules() []Rule {
	return []Rule{
		{
			WorkflowID:  "ingest_document",
			EventKinds:  []watcher.EventKind{watcher.EventAdd, watcher.EventChange},
			PathPattern: "**",
		},
		{
			WorkflowID:  "remove_document",
			EventKinds:  []watcher.EventKind{watcher.EventUnlink},
			PathPattern: "**",
		},
		{
			WorkflowID:  "git_commit_vault",
			EventKinds:  []watcher.EventKind{watcher.EventChange},
			PathPattern: "**",
			FrontmatterFilter: &FrontmatterFilter{
				Key:    "status",
				Equals: "done",
			},
		},
	}
}
