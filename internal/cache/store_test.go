package cache

import (
	"errors"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"weaver/internal/vault"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	dir := t.TempDir()
	s, err := NewStore(filepath.Join(dir, "cache.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func parseOrFail(t *testing.T, path, content string) *vault.ParsedDocument {
	t.Helper()
	p, err := vault.ParseDocument(path, []byte(content))
	require.NoError(t, err)
	return p
}

func TestStore_StartsDirty(t *testing.T) {
	s := openTestStore(t)
	dirty, err := s.IsDirty()
	require.NoError(t, err)
	assert.True(t, dirty)

	require.NoError(t, s.MarkClean())
	dirty, err = s.IsDirty()
	require.NoError(t, err)
	assert.False(t, dirty)
}

func TestStore_IngestAndGet(t *testing.T) {
	s := openTestStore(t)
	parsed := parseOrFail(t, "a.md", "---\ntitle: A\ntags: [x]\n---\nSee [[b]].\n")

	require.NoError(t, s.IngestDocument(parsed))

	doc, err := s.GetDocument("a.md")
	require.NoError(t, err)
	assert.Equal(t, "A", doc.Title)
	assert.Equal(t, []string{"x"}, doc.Tags)
	require.Len(t, doc.Links, 1)
	assert.Equal(t, "b.md", doc.Links[0].TargetPath)
}

func TestStore_GetDocument_NotFound(t *testing.T) {
	s := openTestStore(t)
	_, err := s.GetDocument("missing.md")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrNotFound))
}

func TestStore_IngestUpsertReplacesTagsAndLinks(t *testing.T) {
	s := openTestStore(t)
	first := parseOrFail(t, "a.md", "---\ntags: [old]\n---\n[[old-target]]\n")
	require.NoError(t, s.IngestDocument(first))

	second := parseOrFail(t, "a.md", "---\ntags: [new]\n---\n[[new-target]]\n")
	require.NoError(t, s.IngestDocument(second))

	doc, err := s.GetDocument("a.md")
	require.NoError(t, err)
	assert.Equal(t, []string{"new"}, doc.Tags)
	require.Len(t, doc.Links, 1)
	assert.Equal(t, "new-target.md", doc.Links[0].TargetPath)
}

func TestStore_RemoveDocumentCascades(t *testing.T) {
	s := openTestStore(t)
	parsed := parseOrFail(t, "a.md", "---\ntags: [x]\n---\n[[b]]\n")
	require.NoError(t, s.IngestDocument(parsed))

	require.NoError(t, s.RemoveDocument("a.md"))

	_, err := s.GetDocument("a.md")
	assert.True(t, errors.Is(err, ErrNotFound))

	docs, err := s.SearchTags("x")
	require.NoError(t, err)
	assert.Empty(t, docs)
}

func TestStore_RemoveDocument_NotFound(t *testing.T) {
	s := openTestStore(t)
	err := s.RemoveDocument("missing.md")
	assert.True(t, errors.Is(err, ErrNotFound))
}

func TestStore_QueryFiles_FilterAndSort(t *testing.T) {
	s := openTestStore(t)
	require.NoError(t, s.IngestDocument(parseOrFail(t, "notes/b.md", "---\ntype: note\nstatus: done\n---\n")))
	require.NoError(t, s.IngestDocument(parseOrFail(t, "notes/a.md", "---\ntype: note\nstatus: draft\n---\n")))
	require.NoError(t, s.IngestDocument(parseOrFail(t, "projects/c.md", "---\ntype: project\n---\n")))

	docs, err := s.QueryFiles(Filter{DocumentType: "note"}, Sort{Field: SortByPath}, Pagination{})
	require.NoError(t, err)
	require.Len(t, docs, 2)
	assert.Equal(t, "notes/a.md", docs[0].Path)
	assert.Equal(t, "notes/b.md", docs[1].Path)

	docs, err = s.QueryFiles(Filter{PathPrefix: "projects/"}, Sort{}, Pagination{})
	require.NoError(t, err)
	require.Len(t, docs, 1)
	assert.Equal(t, "projects/c.md", docs[0].Path)

	docs, err = s.QueryFiles(Filter{Status: "done"}, Sort{}, Pagination{})
	require.NoError(t, err)
	require.Len(t, docs, 1)
	assert.Equal(t, "notes/b.md", docs[0].Path)
}

func TestStore_QueryFiles_Pagination(t *testing.T) {
	s := openTestStore(t)
	for _, p := range []string{"a.md", "b.md", "c.md"} {
		require.NoError(t, s.IngestDocument(parseOrFail(t, p, "body")))
	}

	docs, err := s.QueryFiles(Filter{}, Sort{Field: SortByPath}, Pagination{Limit: 2, Offset: 1})
	require.NoError(t, err)
	require.Len(t, docs, 2)
	assert.Equal(t, "b.md", docs[0].Path)
	assert.Equal(t, "c.md", docs[1].Path)
}

func TestStore_SearchTags_PrefixPattern(t *testing.T) {
	s := openTestStore(t)
	require.NoError(t, s.IngestDocument(parseOrFail(t, "a.md", "---\ntags: [project-x]\n---\n")))
	require.NoError(t, s.IngestDocument(parseOrFail(t, "b.md", "---\ntags: [project-y]\n---\n")))
	require.NoError(t, s.IngestDocument(parseOrFail(t, "c.md", "---\ntags: [other]\n---\n")))

	docs, err := s.SearchTags("project-*")
	require.NoError(t, err)
	assert.Len(t, docs, 2)
}

func TestStore_SearchLinks_Backlinks(t *testing.T) {
	s := openTestStore(t)
	require.NoError(t, s.IngestDocument(parseOrFail(t, "a.md", "[[target]]\n")))
	require.NoError(t, s.IngestDocument(parseOrFail(t, "b.md", "[[target]]\n")))
	require.NoError(t, s.IngestDocument(parseOrFail(t, "c.md", "no links here")))

	docs, err := s.SearchLinks("target.md")
	require.NoError(t, err)
	assert.Len(t, docs, 2)
}

func TestStore_GetStats_TopReferenced(t *testing.T) {
	s := openTestStore(t)
	require.NoError(t, s.IngestDocument(parseOrFail(t, "a.md", "[[hub]]")))
	require.NoError(t, s.IngestDocument(parseOrFail(t, "b.md", "[[hub]]")))
	require.NoError(t, s.IngestDocument(parseOrFail(t, "c.md", "[[other]]")))

	stats, err := s.GetStats(5)
	require.NoError(t, err)
	assert.Equal(t, 3, stats.DocumentCount)
	require.NotEmpty(t, stats.TopReferenced)
	assert.Equal(t, "hub.md", stats.TopReferenced[0].Path)
	assert.Equal(t, 2, stats.TopReferenced[0].InboundLinks)
}

func TestStore_IngestStaleDocument(t *testing.T) {
	s := openTestStore(t)
	parsed := &vault.ParsedDocument{
		Document: vault.Document{
			Path:        "broken.md",
			Frontmatter: map[string]*vault.FrontmatterValue{},
			ContentHash: "deadbeef",
			Size:        12,
		},
	}
	parseErr := errors.New("unterminated frontmatter fence")

	require.NoError(t, s.IngestStaleDocument(parsed, parseErr))

	doc, err := s.GetDocument("broken.md")
	require.NoError(t, err)
	assert.True(t, doc.Stale)
	assert.Equal(t, parseErr.Error(), doc.ParseError)
	assert.Empty(t, doc.Tags)
	assert.Empty(t, doc.Links)

	docs, err := s.QueryFiles(Filter{}, Sort{}, Pagination{})
	require.NoError(t, err)
	require.Len(t, docs, 1)
	assert.True(t, docs[0].Stale)
}

func TestStore_IngestDocument_ClearsPriorStaleness(t *testing.T) {
	s := openTestStore(t)
	stalePlaceholder := &vault.ParsedDocument{
		Document: vault.Document{
			Path:        "a.md",
			Frontmatter: map[string]*vault.FrontmatterValue{},
			ContentHash: "deadbeef",
		},
	}
	require.NoError(t, s.IngestStaleDocument(stalePlaceholder, errors.New("bad fence")))

	fixed := parseOrFail(t, "a.md", "---\ntitle: Fixed\n---\nbody\n")
	require.NoError(t, s.IngestDocument(fixed))

	doc, err := s.GetDocument("a.md")
	require.NoError(t, err)
	assert.False(t, doc.Stale)
	assert.Empty(t, doc.ParseError)
	assert.Equal(t, "Fixed", doc.Title)
}

func TestStore_IngestDocument_ConcurrentDifferentPaths(t *testing.T) {
	s := openTestStore(t)
	paths := []string{"a.md", "b.md", "c.md", "d.md"}
	parsed := make([]*vault.ParsedDocument, len(paths))
	for i, p := range paths {
		parsed[i] = parseOrFail(t, p, "body")
	}

	var wg sync.WaitGroup
	errs := make(chan error, len(paths))
	for _, doc := range parsed {
		doc := doc
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs <- s.IngestDocument(doc)
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		assert.NoError(t, err)
	}

	stats, err := s.GetStats(1)
	require.NoError(t, err)
	assert.Equal(t, len(paths), stats.DocumentCount)
}
