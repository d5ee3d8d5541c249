package vault

import (
	"path"
	"regexp"
	"strings"
)

var wikiLinkPattern = regexp.MustCompile(`\[\[([^\]|]+)(?:\|([^\]]*))?\]\]`)

// embedPattern matches Obsidian-style embeds: `![[target]]`.
var embedPattern = regexp.MustCompile(`!\[\[([^\]|]+)(?:\|([^\]]*))?\]\]`)

// normalizeWikiTarget converts a raw wiki-link target into a vault-relative
// path: trims whitespace, normalizes separators to forward slash, and
// appends .md if the target carries no extension.
func normalizeWikiTarget(target string) string {
	target = strings.TrimSpace(target)
	target = strings.ReplaceAll(target, "\\", "/")
	// Obsidian wiki-links may carry a heading/block reference after '#'.
	if idx := strings.IndexByte(target, '#'); idx >= 0 {
		target = target[:idx]
	}
	target = strings.TrimSpace(target)
	if target == "" {
		return target
	}
	if !strings.Contains(pathBase(target), ".") {
		target += ".md"
	}
	return target
}

func pathBase(p string) string {
	if idx := strings.LastIndexByte(p, '/'); idx >= 0 {
		return p[idx+1:]
	}
	return p
}

// extractWikiLinks finds `[[target]]` / `[[target|display]]` and
// `![[target]]` tokens in body, excluding any byte ranges already claimed
// by fenced code or inline code spans.
func extractWikiLinks(sourcePath string, body []byte, excluded []byteRange) []Link {
	var links []Link

	for _, m := range embedPattern.FindAllSubmatchIndex(body, -1) {
		if rangeExcluded(excluded, m[0], m[1]) {
			continue
		}
		target := string(body[m[2]:m[3]])
		var display string
		if m[4] >= 0 {
			display = string(body[m[4]:m[5]])
		}
		links = append(links, Link{
			SourcePath:  sourcePath,
			TargetPath:  normalizeWikiTarget(target),
			Kind:        LinkEmbed,
			DisplayText: display,
		})
	}

	for _, m := range wikiLinkPattern.FindAllSubmatchIndex(body, -1) {
		if rangeExcluded(excluded, m[0], m[1]) {
			continue
		}
		// Skip matches that are actually embeds (already handled above);
		// an embed's '!' sits one byte before the match start.
		if m[0] > 0 && body[m[0]-1] == '!' {
			continue
		}
		target := string(body[m[2]:m[3]])
		var display string
		if m[4] >= 0 {
			display = string(body[m[4]:m[5]])
		}
		links = append(links, Link{
			SourcePath:  sourcePath,
			TargetPath:  normalizeWikiTarget(target),
			Kind:        LinkWiki,
			DisplayText: display,
		})
	}

	return links
}

var markdownLinkPattern = regexp.MustCompile(`\[([^\]]*)\]\(([^)\s]+)\)`)

// hasScheme reports whether a URL carries an explicit scheme (http://,
// mailto:, etc.) as opposed to a relative/vault path.
func hasScheme(url string) bool {
	idx := strings.Index(url, "://")
	if idx > 0 && idx < 16 {
		return true
	}
	if strings.HasPrefix(url, "mailto:") || strings.HasPrefix(url, "tel:") {
		return true
	}
	return false
}

// extractMarkdownLinks finds `[text](url)` tokens whose URL is relative
// (no scheme) and resolves to a path inside the vault, per spec.md
// §4.1's linkification rule. A target that climbs above the vault root
// once resolved against sourcePath's directory (e.g. "../../outside.md"
// from a file a couple of levels deep) does not point inside the vault,
// so it is not linkified.
func extractMarkdownLinks(sourcePath string, body []byte, excluded []byteRange) []Link {
	var links []Link
	for _, m := range markdownLinkPattern.FindAllSubmatchIndex(body, -1) {
		if rangeExcluded(excluded, m[0], m[1]) {
			continue
		}
		display := string(body[m[2]:m[3]])
		url := string(body[m[4]:m[5]])
		if url == "" || hasScheme(url) || strings.HasPrefix(url, "#") {
			continue
		}
		target := normalizeMarkdownTarget(url)
		if !targetInsideVault(sourcePath, target) {
			continue
		}
		links = append(links, Link{
			SourcePath:  sourcePath,
			TargetPath:  target,
			Kind:        LinkMarkdown,
			DisplayText: display,
		})
	}
	return links
}

// targetInsideVault reports whether target, a relative markdown link
// found in sourcePath, still resolves to a path inside the vault once
// joined against sourcePath's directory and cleaned.
func targetInsideVault(sourcePath, target string) bool {
	if target == "" {
		return true
	}
	resolved := path.Clean(path.Join(path.Dir(sourcePath), target))
	return resolved != ".." && !strings.HasPrefix(resolved, "../")
}

func normalizeMarkdownTarget(url string) string {
	url = strings.ReplaceAll(url, "\\", "/")
	if idx := strings.IndexByte(url, '#'); idx >= 0 {
		url = url[:idx]
	}
	return strings.TrimPrefix(url, "./")
}
