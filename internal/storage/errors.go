package storage

import "errors"

// ErrStorageUnavailable signals an I/O failure on the underlying SQLite
// file. It is returned to the caller; the runtime has no degraded mode
// and does not try to reopen the database.
var ErrStorageUnavailable = errors.New("storage: unavailable")

// ErrSchemaIncompatible signals the on-disk schema_version does not match
// what this binary knows how to read. Fatal: the cache must be rebuilt by
// a full vault scan.
var ErrSchemaIncompatible = errors.New("storage: incompatible schema version")
