// Package cache implements the shadow cache: an embedded, transactional,
// indexed mirror of vault metadata backed by SQLite, queried
// synchronously by the MCP tool surface.
package cache

import "weaver/internal/vault"

// Document is a cached row, including its ingestion timestamp.
//
// Stale is set when the document failed to parse at ingest time and only
// a minimal placeholder row was written (spec.md §7 "Ingest-local",
// scenario 5); ParseError carries the error message. The cache does not
// compare ContentHash against the bytes currently on disk, so a row
// whose file has changed since ingest is not marked stale.
type Document struct {
	vault.Document
	IngestedAtUnix int64
	Stale          bool
	ParseError     string
	Tags           []string
	Links          []vault.Link
}

// Filter narrows QueryFiles results. Zero-value fields are not applied.
type Filter struct {
	PathPrefix   string
	DocumentType string
	Status       string
	TagsAny      []string
	TagsAll      []string
	ModifiedFrom int64 // unix seconds, inclusive; 0 means unbounded
	ModifiedTo   int64 // unix seconds, inclusive; 0 means unbounded
}

// SortField is a column QueryFiles can order by.
type SortField string

const (
	SortByPath       SortField = "path"
	SortByModified   SortField = "modified_at"
	SortByTitle      SortField = "title"
	SortByDocumentTy SortField = "document_type"
)

// Sort describes ordering; ties always break on path ascending.
type Sort struct {
	Field      SortField
	Descending bool
}

// Pagination bounds a QueryFiles result page.
type Pagination struct {
	Limit  int
	Offset int
}

// Stats summarizes the whole cache.
type Stats struct {
	DocumentCount int
	TagCount      int
	LinkCount     int
	TopReferenced []ReferencedDocument
}

// ReferencedDocument is one row of the Stats top-N most-linked-to report.
type ReferencedDocument struct {
	Path         string
	InboundLinks int
}
