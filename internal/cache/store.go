package cache

import (
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"weaver/internal/logging"
	"weaver/internal/storage"
	"weaver/internal/vault"
)

// Store is the shadow cache: a SQLite-backed mirror of vault metadata.
// Mutations are serialized per document path via pathLocks; queries read
// a committed snapshot (SQLite's default transaction isolation).
type Store struct {
	db        *storage.DB
	pathLocks sync.Map // map[string]*sync.Mutex
}

// NewStore opens (or creates) the cache file at dbPath and runs
// migrations. It does not itself perform a full vault scan — callers
// check IsDirty and orchestrate the scan (spec.md §4.2's startup
// protocol lives in the runtime wiring layer, which has access to both
// the vault parser and the filesystem tree).
func NewStore(dbPath string) (*Store, error) {
	db, err := storage.Open(dbPath)
	if err != nil {
		if errors.Is(err, storage.ErrSchemaIncompatible) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
	}
	return &Store{db: db}, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// DB returns the shared *storage.DB connection backing this cache, so
// the workflow runtime can persist workflow_runs/workflow_steps in the
// same SQLite file (DESIGN.md's Open Question decision: one CACHE_PATH
// file for both table groups).
func (s *Store) DB() *storage.DB {
	return s.db
}

// IsDirty reports whether a full vault scan is required before the
// cache can be trusted.
func (s *Store) IsDirty() (bool, error) {
	return s.db.IsDirty()
}

// MarkClean clears the dirty flag, called after a successful full scan.
func (s *Store) MarkClean() error {
	return s.db.MarkClean()
}

// MarkDirty sets the dirty flag, called by the watcher on queue overflow.
func (s *Store) MarkDirty() error {
	return s.db.MarkDirty()
}

func (s *Store) lockFor(path string) *sync.Mutex {
	mu, _ := s.pathLocks.LoadOrStore(path, &sync.Mutex{})
	return mu.(*sync.Mutex)
}

// IngestDocument transactionally upserts one document plus its tags and
// links. At most one ingest is in flight per path at a time; ingests on
// different paths proceed concurrently.
func (s *Store) IngestDocument(parsed *vault.ParsedDocument) error {
	mu := s.lockFor(parsed.Document.Path)
	mu.Lock()
	defer mu.Unlock()

	timer := logging.StartTimer(logging.CategoryCache, "IngestDocument")
	defer timer.Stop()

	tx, err := s.db.Conn.Begin()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
	}
	defer tx.Rollback()

	doc := parsed.Document
	now := time.Now().Unix()

	fmJSON, err := encodeFrontmatter(doc.Frontmatter)
	if err != nil {
		return fmt.Errorf("%w: encoding frontmatter: %v", ErrIngestConflict, err)
	}

	_, err = tx.Exec(`
		INSERT INTO documents (path, title, document_type, status, priority, icon,
			frontmatter, content_hash, size, created_at, modified_at, ingested_at,
			stale, parse_error)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, 0, NULL)
		ON CONFLICT(path) DO UPDATE SET
			title=excluded.title, document_type=excluded.document_type,
			status=excluded.status, priority=excluded.priority, icon=excluded.icon,
			frontmatter=excluded.frontmatter, content_hash=excluded.content_hash,
			size=excluded.size, created_at=excluded.created_at,
			modified_at=excluded.modified_at, ingested_at=excluded.ingested_at,
			stale=0, parse_error=NULL
	`, doc.Path, doc.Title, doc.DocumentType, doc.Status, doc.Priority, doc.Icon,
		fmJSON, doc.ContentHash, doc.Size, doc.CreatedAt.Unix(), doc.ModifiedAt.Unix(), now)
	if err != nil {
		return fmt.Errorf("%w: upserting document: %v", ErrIngestConflict, err)
	}

	if _, err := tx.Exec(`DELETE FROM file_tags WHERE document_path = ?`, doc.Path); err != nil {
		return fmt.Errorf("%w: clearing tags: %v", ErrIngestConflict, err)
	}
	for _, tag := range parsed.Tags {
		if _, err := tx.Exec(`INSERT INTO tags (name) VALUES (?) ON CONFLICT(name) DO NOTHING`, tag.Name); err != nil {
			return fmt.Errorf("%w: inserting tag %q: %v", ErrIngestConflict, tag.Name, err)
		}
		if _, err := tx.Exec(`INSERT INTO file_tags (document_path, tag_name) VALUES (?, ?)`, doc.Path, tag.Name); err != nil {
			return fmt.Errorf("%w: linking tag %q: %v", ErrIngestConflict, tag.Name, err)
		}
	}

	if _, err := tx.Exec(`DELETE FROM links WHERE source_path = ?`, doc.Path); err != nil {
		return fmt.Errorf("%w: clearing links: %v", ErrIngestConflict, err)
	}
	for _, link := range parsed.Links {
		_, err := tx.Exec(`
			INSERT INTO links (source_path, target_path, link_kind, display_text)
			VALUES (?, ?, ?, ?)
			ON CONFLICT(source_path, target_path, link_kind) DO UPDATE SET display_text=excluded.display_text
		`, link.SourcePath, link.TargetPath, string(link.Kind), link.DisplayText)
		if err != nil {
			return fmt.Errorf("%w: inserting link to %q: %v", ErrIngestConflict, link.TargetPath, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
	}
	return nil
}

// IngestStaleDocument writes a minimal placeholder row for a document
// that failed to parse, rather than dropping it from the cache entirely
// (spec.md §7 "Ingest-local": "mark document row stale, record error in
// cache metadata, skip; do not abort the batch or scan"; scenario 5:
// "the broken document is still listed with minimal metadata and a
// stale flag"). parsed carries only the fields ParseFile could still
// populate from the filesystem stat and raw bytes (path, size, content
// hash, timestamps) when parsing itself failed; frontmatter/tags/links
// are empty. The row is marked stale=1 with parseErr recorded, and any
// previously ingested tags/links for this path are cleared, since they
// no longer correspond to a successfully parsed document.
func (s *Store) IngestStaleDocument(parsed *vault.ParsedDocument, parseErr error) error {
	mu := s.lockFor(parsed.Document.Path)
	mu.Lock()
	defer mu.Unlock()

	doc := parsed.Document
	now := time.Now().Unix()

	fmJSON, err := encodeFrontmatter(doc.Frontmatter)
	if err != nil {
		return fmt.Errorf("%w: encoding frontmatter: %v", ErrIngestConflict, err)
	}

	tx, err := s.db.Conn.Begin()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
	}
	defer tx.Rollback()

	_, err = tx.Exec(`
		INSERT INTO documents (path, title, document_type, status, priority, icon,
			frontmatter, content_hash, size, created_at, modified_at, ingested_at,
			stale, parse_error)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, 1, ?)
		ON CONFLICT(path) DO UPDATE SET
			title=excluded.title, document_type=excluded.document_type,
			status=excluded.status, priority=excluded.priority, icon=excluded.icon,
			frontmatter=excluded.frontmatter, content_hash=excluded.content_hash,
			size=excluded.size, created_at=excluded.created_at,
			modified_at=excluded.modified_at, ingested_at=excluded.ingested_at,
			stale=1, parse_error=excluded.parse_error
	`, doc.Path, doc.Title, doc.DocumentType, doc.Status, doc.Priority, doc.Icon,
		fmJSON, doc.ContentHash, doc.Size, doc.CreatedAt.Unix(), doc.ModifiedAt.Unix(), now,
		parseErr.Error())
	if err != nil {
		return fmt.Errorf("%w: upserting stale document: %v", ErrIngestConflict, err)
	}

	if _, err := tx.Exec(`DELETE FROM file_tags WHERE document_path = ?`, doc.Path); err != nil {
		return fmt.Errorf("%w: clearing tags: %v", ErrIngestConflict, err)
	}
	if _, err := tx.Exec(`DELETE FROM links WHERE source_path = ?`, doc.Path); err != nil {
		return fmt.Errorf("%w: clearing links: %v", ErrIngestConflict, err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
	}
	logging.Cache("ingested %s as stale placeholder: %v", doc.Path, parseErr)
	return nil
}

// RemoveDocument transactionally cascade-deletes a document and its
// dependent tag/link rows.
func (s *Store) RemoveDocument(path string) error {
	mu := s.lockFor(path)
	mu.Lock()
	defer mu.Unlock()

	res, err := s.db.Conn.Exec(`DELETE FROM documents WHERE path = ?`, path)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// GetDocument returns one document with its tags and outgoing links
// eagerly loaded.
func (s *Store) GetDocument(path string) (*Document, error) {
	row := s.db.Conn.QueryRow(`
		SELECT `+documentColumns+`
		FROM documents WHERE path = ?
	`, path)

	doc, err := scanDocumentRows(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
	}

	tags, err := s.tagsFor(path)
	if err != nil {
		return nil, err
	}
	doc.Tags = tags

	links, err := s.linksFrom(path)
	if err != nil {
		return nil, err
	}
	doc.Links = links

	return doc, nil
}

func (s *Store) tagsFor(path string) ([]string, error) {
	rows, err := s.db.Conn.Query(`SELECT tag_name FROM file_tags WHERE document_path = ? ORDER BY tag_name`, path)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
	}
	defer rows.Close()

	var tags []string
	for rows.Next() {
		var t string
		if err := rows.Scan(&t); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
		}
		tags = append(tags, t)
	}
	return tags, rows.Err()
}

func (s *Store) linksFrom(path string) ([]vault.Link, error) {
	rows, err := s.db.Conn.Query(`
		SELECT source_path, target_path, link_kind, display_text
		FROM links WHERE source_path = ? ORDER BY target_path
	`, path)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
	}
	defer rows.Close()

	var links []vault.Link
	for rows.Next() {
		var l vault.Link
		var kind string
		var display sql.NullString
		if err := rows.Scan(&l.SourcePath, &l.TargetPath, &kind, &display); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
		}
		l.Kind = vault.LinkKind(kind)
		l.DisplayText = display.String
		links = append(links, l)
	}
	return links, rows.Err()
}

// QueryFiles returns documents matching filter, ordered by sort (ties
// break on path ascending), paginated.
func (s *Store) QueryFiles(filter Filter, sortBy Sort, page Pagination) ([]*Document, error) {
	var conditions []string
	var args []interface{}

	if filter.PathPrefix != "" {
		conditions = append(conditions, `d.path LIKE ? ESCAPE '\'`)
		args = append(args, escapeLike(filter.PathPrefix)+"%")
	}
	if filter.DocumentType != "" {
		conditions = append(conditions, "d.document_type = ?")
		args = append(args, filter.DocumentType)
	}
	if filter.Status != "" {
		conditions = append(conditions, "d.status = ?")
		args = append(args, filter.Status)
	}
	if filter.ModifiedFrom != 0 {
		conditions = append(conditions, "d.modified_at >= ?")
		args = append(args, filter.ModifiedFrom)
	}
	if filter.ModifiedTo != 0 {
		conditions = append(conditions, "d.modified_at <= ?")
		args = append(args, filter.ModifiedTo)
	}
	if len(filter.TagsAny) > 0 {
		placeholders := strings.TrimSuffix(strings.Repeat("?,", len(filter.TagsAny)), ",")
		conditions = append(conditions, fmt.Sprintf(
			"d.path IN (SELECT document_path FROM file_tags WHERE tag_name IN (%s))", placeholders))
		for _, t := range filter.TagsAny {
			args = append(args, t)
		}
	}
	for _, t := range filter.TagsAll {
		conditions = append(conditions,
			"d.path IN (SELECT document_path FROM file_tags WHERE tag_name = ?)")
		args = append(args, t)
	}

	query := "SELECT " + documentColumnsAliased + " FROM documents d"
	if len(conditions) > 0 {
		query += " WHERE " + strings.Join(conditions, " AND ")
	}
	query += " ORDER BY " + orderByClause(sortBy)
	if page.Limit > 0 {
		query += " LIMIT ? OFFSET ?"
		args = append(args, page.Limit, page.Offset)
	}

	rows, err := s.db.Conn.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
	}
	defer rows.Close()

	var docs []*Document
	for rows.Next() {
		doc, err := scanDocumentRows(rows)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
		}
		docs = append(docs, doc)
	}
	return docs, rows.Err()
}

func orderByClause(s Sort) string {
	field := "path"
	switch s.Field {
	case SortByModified:
		field = "modified_at"
	case SortByTitle:
		field = "title"
	case SortByDocumentTy:
		field = "document_type"
	case SortByPath, "":
		field = "path"
	}
	dir := "ASC"
	if s.Descending {
		dir = "DESC"
	}
	if field == "path" {
		return fmt.Sprintf("d.path %s", dir)
	}
	return fmt.Sprintf("d.%s %s, d.path ASC", field, dir)
}

func escapeLike(s string) string {
	s = strings.ReplaceAll(s, "\\", "\\\\")
	s = strings.ReplaceAll(s, "%", "\\%")
	s = strings.ReplaceAll(s, "_", "\\_")
	return s
}

// SearchTags returns documents carrying a tag matching pattern (exact, or
// a prefix when pattern ends in '*').
func (s *Store) SearchTags(pattern string) ([]*Document, error) {
	like := pattern
	exact := true
	if strings.HasSuffix(pattern, "*") {
		like = escapeLike(strings.TrimSuffix(pattern, "*")) + "%"
		exact = false
	}

	var rows *sql.Rows
	var err error
	if exact {
		rows, err = s.db.Conn.Query(`
			SELECT DISTINCT `+documentColumnsAliased+`
			FROM documents d JOIN file_tags ft ON ft.document_path = d.path
			WHERE ft.tag_name = ? ORDER BY d.path
		`, like)
	} else {
		rows, err = s.db.Conn.Query(`
			SELECT DISTINCT `+documentColumnsAliased+`
			FROM documents d JOIN file_tags ft ON ft.document_path = d.path
			WHERE ft.tag_name LIKE ? ESCAPE '\' ORDER BY d.path
		`, like)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
	}
	defer rows.Close()

	var docs []*Document
	for rows.Next() {
		doc, err := scanDocumentRows(rows)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
		}
		docs = append(docs, doc)
	}
	return docs, rows.Err()
}

// SearchLinks returns documents that link to targetPath (backlinks).
func (s *Store) SearchLinks(targetPath string) ([]*Document, error) {
	rows, err := s.db.Conn.Query(`
		SELECT DISTINCT `+documentColumnsAliased+`
		FROM documents d JOIN links l ON l.source_path = d.path
		WHERE l.target_path = ? ORDER BY d.path
	`, targetPath)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
	}
	defer rows.Close()

	var docs []*Document
	for rows.Next() {
		doc, err := scanDocumentRows(rows)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
		}
		docs = append(docs, doc)
	}
	return docs, rows.Err()
}

// GetStats reports counts plus the topN most-referenced documents by
// inbound link count.
func (s *Store) GetStats(topN int) (*Stats, error) {
	if topN <= 0 {
		topN = 10
	}
	stats := &Stats{}

	if err := s.db.Conn.QueryRow(`SELECT COUNT(*) FROM documents`).Scan(&stats.DocumentCount); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
	}
	if err := s.db.Conn.QueryRow(`SELECT COUNT(*) FROM tags`).Scan(&stats.TagCount); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
	}
	if err := s.db.Conn.QueryRow(`SELECT COUNT(*) FROM links`).Scan(&stats.LinkCount); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
	}

	rows, err := s.db.Conn.Query(`
		SELECT target_path, COUNT(*) AS inbound
		FROM links
		GROUP BY target_path
		ORDER BY inbound DESC, target_path ASC
		LIMIT ?
	`, topN)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
	}
	defer rows.Close()
	for rows.Next() {
		var r ReferencedDocument
		if err := rows.Scan(&r.Path, &r.InboundLinks); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
		}
		stats.TopReferenced = append(stats.TopReferenced, r)
	}
	return stats, rows.Err()
}
