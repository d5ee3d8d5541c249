package vault

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseDocument_NoFrontmatter(t *testing.T) {
	raw := []byte("# Just a heading\n\nSome body text with #atag.\n")
	parsed, err := ParseDocument("notes/plain.md", raw)
	require.NoError(t, err)
	assert.Empty(t, parsed.Document.Frontmatter)
	assert.Equal(t, "notes/plain.md", parsed.Document.Path)
	require.Len(t, parsed.Tags, 1)
	assert.Equal(t, "atag", parsed.Tags[0].Name)
}

func TestParseDocument_MalformedFrontmatter(t *testing.T) {
	raw := []byte("---\nthis: [is not, closed\n---\nbody\n")
	_, err := ParseDocument("notes/bad.md", raw)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrUnreadableFrontmatter))
}

func TestParseDocument_UnterminatedFrontmatter(t *testing.T) {
	raw := []byte("---\ntitle: Hello\n\nbody without closing fence\n")
	_, err := ParseDocument("notes/unterminated.md", raw)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrUnreadableFrontmatter))
}

func TestParseDocument_EmptyFrontmatter(t *testing.T) {
	raw := []byte("---\n---\nbody\n")
	parsed, err := ParseDocument("notes/empty.md", raw)
	require.NoError(t, err)
	assert.Empty(t, parsed.Document.Frontmatter)
}

func TestParseDocument_WellKnownFields(t *testing.T) {
	raw := []byte(`---
title: My Note
type: project
status: done
priority: high
tags:
  - alpha
  - beta
visual:
  icon: "🔥"
---
Body here.
`)
	parsed, err := ParseDocument("notes/full.md", raw)
	require.NoError(t, err)
	doc := parsed.Document
	assert.Equal(t, "My Note", doc.Title)
	assert.Equal(t, "project", doc.DocumentType)
	assert.Equal(t, "done", doc.Status)
	assert.Equal(t, "high", doc.Priority)
	assert.Equal(t, "🔥", doc.Icon)

	names := tagNames(parsed.Tags)
	assert.Contains(t, names, "alpha")
	assert.Contains(t, names, "beta")
}

func TestParseDocument_DuplicateTagsCollapse(t *testing.T) {
	raw := []byte(`---
tags: [alpha]
---
Body mentions #alpha again.
`)
	parsed, err := ParseDocument("notes/dup.md", raw)
	require.NoError(t, err)
	assert.Len(t, parsed.Tags, 1)
}

func TestParseDocument_TagsInsideFenceIgnored(t *testing.T) {
	raw := []byte("Text with #real tag.\n\n```\ncode with #fake tag\n```\n\nMore `#inline_fake` here.\n")
	parsed, err := ParseDocument("notes/fence.md", raw)
	require.NoError(t, err)
	names := tagNames(parsed.Tags)
	assert.Contains(t, names, "real")
	assert.NotContains(t, names, "fake")
	assert.NotContains(t, names, "inline_fake")
}

func TestParseDocument_WikiLinks(t *testing.T) {
	raw := []byte("See [[Other Note]] and [[folder/target|Display Text]].\n")
	parsed, err := ParseDocument("notes/src.md", raw)
	require.NoError(t, err)
	require.Len(t, parsed.Links, 2)

	byTarget := make(map[string]Link)
	for _, l := range parsed.Links {
		byTarget[l.TargetPath] = l
	}
	require.Contains(t, byTarget, "Other Note.md")
	assert.Equal(t, LinkWiki, byTarget["Other Note.md"].Kind)

	require.Contains(t, byTarget, "folder/target.md")
	assert.Equal(t, "Display Text", byTarget["folder/target.md"].DisplayText)
}

func TestParseDocument_Embeds(t *testing.T) {
	raw := []byte("![[image.png]]\n")
	parsed, err := ParseDocument("notes/embed.md", raw)
	require.NoError(t, err)
	require.Len(t, parsed.Links, 1)
	assert.Equal(t, LinkEmbed, parsed.Links[0].Kind)
	assert.Equal(t, "image.png", parsed.Links[0].TargetPath)
}

func TestParseDocument_MarkdownLinksOnlyRelative(t *testing.T) {
	raw := []byte("[external](https://example.com) and [internal](other.md) and [mail](mailto:a@b.com).\n")
	parsed, err := ParseDocument("notes/md.md", raw)
	require.NoError(t, err)
	require.Len(t, parsed.Links, 1)
	assert.Equal(t, "other.md", parsed.Links[0].TargetPath)
	assert.Equal(t, LinkMarkdown, parsed.Links[0].Kind)
}

func TestParseDocument_LinksInsideFenceIgnored(t *testing.T) {
	raw := []byte("```\n[[not a link]]\n```\nReal [[link]].\n")
	parsed, err := ParseDocument("notes/fencelinks.md", raw)
	require.NoError(t, err)
	require.Len(t, parsed.Links, 1)
	assert.Equal(t, "link.md", parsed.Links[0].TargetPath)
}

func TestParseDocument_ContentHashStable(t *testing.T) {
	raw := []byte("---\ntitle: X\n---\nbody\n")
	p1, err := ParseDocument("a.md", raw)
	require.NoError(t, err)
	p2, err := ParseDocument("a.md", raw)
	require.NoError(t, err)
	assert.Equal(t, p1.Document.ContentHash, p2.Document.ContentHash)

	p3, err := ParseDocument("a.md", append(raw, '\n'))
	require.NoError(t, err)
	assert.NotEqual(t, p1.Document.ContentHash, p3.Document.ContentHash)
}

func TestParseDocument_PathNormalizedToForwardSlash(t *testing.T) {
	parsed, err := ParseDocument(`sub\dir\file.md`, []byte("body"))
	require.NoError(t, err)
	assert.Equal(t, "sub/dir/file.md", parsed.Document.Path)
}

func tagNames(tags []Tag) []string {
	names := make([]string, len(tags))
	for i, t := range tags {
		names[i] = t.Name
	}
	return names
}
