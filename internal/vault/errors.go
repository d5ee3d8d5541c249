package vault

import "errors"

// ErrUnreadableFrontmatter is returned when the leading `---` fenced block
// exists but cannot be parsed as YAML. Callers ingest the file as a stale
// placeholder row and continue the scan rather than aborting.
var ErrUnreadableFrontmatter = errors.New("vault: frontmatter block is malformed")

// ErrIOError wraps failures reading the underlying file content passed to
// ParseDocument's caller (the watcher/scanner), surfaced here for callers
// that want a single error taxonomy across vault operations.
var ErrIOError = errors.New("vault: unreadable file")
