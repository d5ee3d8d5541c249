package cache

import (
	"errors"

	"weaver/internal/storage"
)

// ErrStorageUnavailable re-exports storage.ErrStorageUnavailable for
// callers that only import cache.
var ErrStorageUnavailable = storage.ErrStorageUnavailable

// ErrSchemaIncompatible re-exports storage.ErrSchemaIncompatible.
var ErrSchemaIncompatible = storage.ErrSchemaIncompatible

// ErrIngestConflict is returned when a constraint violation aborts an
// ingest; the previously committed row is left untouched.
var ErrIngestConflict = errors.New("cache: ingest conflict")

// ErrNotFound is returned by GetDocument when no row exists at the path.
var ErrNotFound = errors.New("cache: document not found")
