package vault

import (
	"regexp"
	"sort"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/text"
)

// byteRange is a half-open [Start, End) span in a document body.
type byteRange struct {
	Start, End int
}

// rangeExcluded reports whether [start, end) overlaps any excluded range.
func rangeExcluded(excluded []byteRange, start, end int) bool {
	for _, r := range excluded {
		if start < r.End && end > r.Start {
			return true
		}
	}
	return false
}

var bodyMarkdown = goldmark.New()

// codeRanges walks the markdown AST for body and returns the byte ranges
// occupied by fenced code blocks and inline code spans, so that inline tag
// and link scanning can skip over them. Grounded on the AST-walk pattern
// used by markdown renderers in the retrieval pack (ast.Walk over
// *ast.FencedCodeBlock / *ast.CodeSpan segments).
func codeRanges(body []byte) []byteRange {
	reader := text.NewReader(body)
	doc := bodyMarkdown.Parser().Parse(reader)

	var ranges []byteRange
	_ = ast.Walk(doc, func(n ast.Node, entering bool) (ast.WalkStatus, error) {
		if !entering {
			return ast.WalkContinue, nil
		}
		switch node := n.(type) {
		case *ast.FencedCodeBlock:
			lines := node.Lines()
			if lines.Len() > 0 {
				first := lines.At(0)
				last := lines.At(lines.Len() - 1)
				ranges = append(ranges, byteRange{Start: first.Start, End: last.Stop})
			}
		case *ast.CodeBlock:
			lines := node.Lines()
			if lines.Len() > 0 {
				first := lines.At(0)
				last := lines.At(lines.Len() - 1)
				ranges = append(ranges, byteRange{Start: first.Start, End: last.Stop})
			}
		case *ast.CodeSpan:
			if c := n.FirstChild(); c != nil {
				if seg, ok := c.(*ast.Text); ok {
					s := seg.Segment
					ranges = append(ranges, byteRange{Start: s.Start, End: s.Stop})
				}
			}
		}
		return ast.WalkContinue, nil
	})

	sort.Slice(ranges, func(i, j int) bool { return ranges[i].Start < ranges[j].Start })
	return ranges
}

var inlineTagPattern = regexp.MustCompile(`#[A-Za-z][A-Za-z0-9_/-]*`)

// extractInlineTags finds `#tag` tokens in body outside of code fences and
// inline code spans (excluded holds those ranges, from codeRanges).
func extractInlineTags(body []byte, excluded []byteRange) []string {
	var tags []string
	for _, m := range inlineTagPattern.FindAllIndex(body, -1) {
		if rangeExcluded(excluded, m[0], m[1]) {
			continue
		}
		// Exclude a leading '#' immediately preceded by a word character,
		// which would make it part of an identifier rather than a tag.
		if m[0] > 0 && isWordByte(body[m[0]-1]) {
			continue
		}
		tags = append(tags, string(body[m[0]+1:m[1]]))
	}
	return tags
}

func isWordByte(b byte) bool {
	return b == '_' || (b >= 'a' && b <= 'z') || (b >= 'A' && b <= 'Z') || (b >= '0' && b <= '9')
}

// mergeTags dedupes frontmatter tags and inline tags into one ordered,
// unique set. Order is not meaningful per spec.md's tie-break rule.
func mergeTags(frontmatter, inline []string) []Tag {
	seen := make(map[string]bool)
	var out []Tag
	add := func(name string) {
		if name == "" || seen[name] {
			return
		}
		seen[name] = true
		out = append(out, Tag{Name: name})
	}
	for _, t := range frontmatter {
		add(t)
	}
	for _, t := range inline {
		add(t)
	}
	return out
}
