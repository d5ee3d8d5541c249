package vault

import (
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"
)

const frontmatterDelim = "---"

// splitFrontmatter separates a leading `---`-fenced YAML block from the
// document body. ok is false when the file does not open with a fence at
// all, in which case the entire input is the body. When the file opens
// with a fence but never closes it, ok is true and unterminated is true,
// so the caller can report ErrUnreadableFrontmatter while still seeing
// unmodified content as the body.
func splitFrontmatter(raw []byte) (fence string, body []byte, ok bool, unterminated bool) {
	lines := strings.SplitAfter(string(raw), "\n")
	if len(lines) == 0 || strings.TrimRight(lines[0], "\r\n") != frontmatterDelim {
		return "", raw, false, false
	}

	var fenceLines []string
	consumed := len(lines[0])
	for i := 1; i < len(lines); i++ {
		if strings.TrimRight(lines[i], "\r\n") == frontmatterDelim {
			consumed += len(lines[i])
			return strings.Join(fenceLines, ""), raw[consumed:], true, false
		}
		fenceLines = append(fenceLines, lines[i])
		consumed += len(lines[i])
	}

	// Opening fence with no closing fence: malformed.
	return "", raw, true, true
}

// parseFrontmatter decodes a YAML frontmatter block into the open-shape
// FrontmatterValue tree. An empty block yields an empty, non-nil map.
func parseFrontmatter(block string) (map[string]*FrontmatterValue, error) {
	result := make(map[string]*FrontmatterValue)
	if strings.TrimSpace(block) == "" {
		return result, nil
	}

	var node yaml.Node
	if err := yaml.Unmarshal([]byte(block), &node); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnreadableFrontmatter, err)
	}
	if len(node.Content) == 0 {
		return result, nil
	}

	root := node.Content[0]
	if root.Kind != yaml.MappingNode {
		return nil, fmt.Errorf("%w: frontmatter root is not a mapping", ErrUnreadableFrontmatter)
	}

	for i := 0; i+1 < len(root.Content); i += 2 {
		key := root.Content[i].Value
		val, err := nodeToValue(root.Content[i+1])
		if err != nil {
			return nil, err
		}
		result[key] = val
	}
	return result, nil
}

func nodeToValue(n *yaml.Node) (*FrontmatterValue, error) {
	switch n.Kind {
	case yaml.ScalarNode:
		return &FrontmatterValue{Kind: KindScalar, Scalar: n.Value}, nil
	case yaml.SequenceNode:
		seq := make([]string, 0, len(n.Content))
		for _, item := range n.Content {
			if item.Kind == yaml.ScalarNode {
				seq = append(seq, item.Value)
				continue
			}
			// Non-scalar sequence items collapse to their YAML source so no
			// information is silently dropped.
			var sub string
			if v, err := nodeToValue(item); err == nil && v != nil && v.Kind == KindScalar {
				sub = v.Scalar
			} else if out, err := yaml.Marshal(item); err == nil {
				sub = strings.TrimSpace(string(out))
			}
			seq = append(seq, sub)
		}
		return &FrontmatterValue{Kind: KindSequence, Sequence: seq}, nil
	case yaml.MappingNode:
		m := make(map[string]*FrontmatterValue)
		for i := 0; i+1 < len(n.Content); i += 2 {
			key := n.Content[i].Value
			v, err := nodeToValue(n.Content[i+1])
			if err != nil {
				return nil, err
			}
			m[key] = v
		}
		return &FrontmatterValue{Kind: KindMapping, Mapping: m}, nil
	case yaml.AliasNode:
		return nodeToValue(n.Alias)
	default:
		return &FrontmatterValue{Kind: KindScalar, Scalar: n.Value}, nil
	}
}

// projectWellKnown copies well-known frontmatter keys onto the Document's
// typed fields, per SPEC_FULL.md's Vault Parser expansion. The raw
// Frontmatter map is left untouched.
func projectWellKnown(doc *Document, fm map[string]*FrontmatterValue) {
	if v, ok := fm["title"]; ok {
		doc.Title = v.String()
	}
	if v, ok := fm["type"]; ok {
		doc.DocumentType = v.String()
	}
	if v, ok := fm["status"]; ok {
		doc.Status = v.String()
	}
	if v, ok := fm["priority"]; ok {
		doc.Priority = v.String()
	}
	if v, ok := fm["visual"]; ok && v.Kind == KindMapping {
		if icon, ok := v.Mapping["icon"]; ok {
			doc.Icon = icon.String()
		}
	}
}

// frontmatterTags extracts the `tags` key as a set of strings, tolerating
// either a sequence or a single scalar value.
func frontmatterTags(fm map[string]*FrontmatterValue) []string {
	v, ok := fm["tags"]
	if !ok {
		return nil
	}
	return v.StringSlice()
}
