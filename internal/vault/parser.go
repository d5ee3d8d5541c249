package vault

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"strings"
	"time"
)

// ParseDocument translates the raw bytes of one vault file into a
// ParsedDocument. It is pure modulo the input: given the same path and
// bytes it always returns the same result.
//
// A malformed frontmatter block yields ErrUnreadableFrontmatter; the
// caller (the cold-scan or watcher ingestion path) is expected to demote
// the file and continue rather than abort.
func ParseDocument(path string, raw []byte) (*ParsedDocument, error) {
	normalizedPath := strings.ReplaceAll(path, "\\", "/")

	fenceBlock, body, hadFence, unterminated := splitFrontmatter(raw)
	if hadFence && unterminated {
		return nil, fmt.Errorf("%s: %w", normalizedPath, ErrUnreadableFrontmatter)
	}

	var frontmatter map[string]*FrontmatterValue
	if hadFence {
		fm, err := parseFrontmatter(fenceBlock)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", normalizedPath, err)
		}
		frontmatter = fm
	} else {
		frontmatter = make(map[string]*FrontmatterValue)
	}

	doc := Document{
		Path:        normalizedPath,
		Frontmatter: frontmatter,
		ContentHash: hashContent(raw),
	}
	projectWellKnown(&doc, frontmatter)

	excluded := codeRanges(body)
	inlineTags := extractInlineTags(body, excluded)
	tags := mergeTags(frontmatterTags(frontmatter), inlineTags)

	var links []Link
	links = append(links, extractWikiLinks(normalizedPath, body, excluded)...)
	links = append(links, extractMarkdownLinks(normalizedPath, body, excluded)...)

	return &ParsedDocument{
		Document: doc,
		Tags:     tags,
		Links:    links,
	}, nil
}

// ParseFile reads path from disk and parses it, additionally populating
// Size/CreatedAt/ModifiedAt from the filesystem stat. fsPath is the
// absolute path to read; vaultRelativePath is stored on the Document.
//
// A stat or read failure returns (nil, err): there is nothing on disk to
// ingest. A parse failure (malformed frontmatter) instead returns a
// non-nil *ParsedDocument carrying only what the stat and raw bytes give
// us — path, content hash, size, timestamps, empty frontmatter/tags/links
// — alongside the error, so the caller can still write a minimal stale
// row for the document rather than dropping it (spec.md §7
// "Ingest-local", scenario 5).
func ParseFile(fsPath, vaultRelativePath string) (*ParsedDocument, error) {
	info, err := os.Stat(fsPath)
	if err != nil {
		return nil, fmt.Errorf("%s: %w: %v", vaultRelativePath, ErrIOError, err)
	}
	raw, err := os.ReadFile(fsPath)
	if err != nil {
		return nil, fmt.Errorf("%s: %w: %v", vaultRelativePath, ErrIOError, err)
	}

	parsed, err := ParseDocument(vaultRelativePath, raw)
	if err != nil {
		return &ParsedDocument{
			Document: Document{
				Path:        strings.ReplaceAll(vaultRelativePath, "\\", "/"),
				Frontmatter: map[string]*FrontmatterValue{},
				ContentHash: hashContent(raw),
				Size:        info.Size(),
				ModifiedAt:  info.ModTime(),
				CreatedAt:   creationTime(info),
			},
		}, err
	}

	parsed.Document.Size = info.Size()
	parsed.Document.ModifiedAt = info.ModTime()
	parsed.Document.CreatedAt = creationTime(info)
	return parsed, nil
}

func hashContent(raw []byte) string {
	sum := sha256.Sum256(raw)
	return hex.EncodeToString(sum[:])
}

// creationTime falls back to ModTime when the platform's os.FileInfo does
// not expose a true birth time (Go's stdlib does not surface one
// portably).
func creationTime(info os.FileInfo) time.Time {
	return info.ModTime()
}
