package cache

import (
	"database/sql"
	"encoding/json"
	"time"

	"weaver/internal/vault"
)

// documentColumns lists the documents-table columns selected by every
// query in store.go, in order, so SELECT/Scan stay in lockstep.
const documentColumns = `path, title, document_type, status, priority, icon,
	frontmatter, content_hash, size, created_at, modified_at, ingested_at,
	stale, parse_error`

// documentColumnsAliased is documentColumns prefixed with the "d." alias
// used by every store.go query that joins documents against another
// table.
const documentColumnsAliased = `d.path, d.title, d.document_type, d.status, d.priority, d.icon,
	d.frontmatter, d.content_hash, d.size, d.created_at, d.modified_at, d.ingested_at,
	d.stale, d.parse_error`

// rowScanner is satisfied by both *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanDocumentRows(row rowScanner) (*Document, error) {
	var (
		path, title, docType, status, priority, icon string
		frontmatterJSON, contentHash                  string
		size, createdAt, modifiedAt, ingestedAt        int64
		stale                                          int64
		parseError                                     sql.NullString
	)
	if err := row.Scan(&path, &title, &docType, &status, &priority, &icon,
		&frontmatterJSON, &contentHash, &size, &createdAt, &modifiedAt, &ingestedAt,
		&stale, &parseError); err != nil {
		return nil, err
	}

	fm, err := decodeFrontmatter(frontmatterJSON)
	if err != nil {
		return nil, err
	}

	return &Document{
		Document: vault.Document{
			Path:         path,
			Title:        title,
			DocumentType: docType,
			Status:       status,
			Priority:     priority,
			Icon:         icon,
			Frontmatter:  fm,
			ContentHash:  contentHash,
			Size:         size,
			CreatedAt:    time.Unix(createdAt, 0).UTC(),
			ModifiedAt:   time.Unix(modifiedAt, 0).UTC(),
		},
		IngestedAtUnix: ingestedAt,
		Stale:          stale != 0,
		ParseError:     parseError.String,
	}, nil
}

// jsonValue mirrors vault.FrontmatterValue in a shape encoding/json can
// round-trip without custom (Un)MarshalJSON methods on the vault type
// itself, keeping vault.FrontmatterValue free of a storage-format
// dependency.
type jsonValue struct {
	Kind     vault.ValueKind       `json:"kind"`
	Scalar   string                `json:"scalar,omitempty"`
	Sequence []string              `json:"sequence,omitempty"`
	Mapping  map[string]*jsonValue `json:"mapping,omitempty"`
}

func toJSONValue(v *vault.FrontmatterValue) *jsonValue {
	if v == nil {
		return nil
	}
	jv := &jsonValue{Kind: v.Kind, Scalar: v.Scalar, Sequence: v.Sequence}
	if v.Mapping != nil {
		jv.Mapping = make(map[string]*jsonValue, len(v.Mapping))
		for k, sub := range v.Mapping {
			jv.Mapping[k] = toJSONValue(sub)
		}
	}
	return jv
}

func fromJSONValue(jv *jsonValue) *vault.FrontmatterValue {
	if jv == nil {
		return nil
	}
	v := &vault.FrontmatterValue{Kind: jv.Kind, Scalar: jv.Scalar, Sequence: jv.Sequence}
	if jv.Mapping != nil {
		v.Mapping = make(map[string]*vault.FrontmatterValue, len(jv.Mapping))
		for k, sub := range jv.Mapping {
			v.Mapping[k] = fromJSONValue(sub)
		}
	}
	return v
}

func encodeFrontmatter(fm map[string]*vault.FrontmatterValue) (string, error) {
	out := make(map[string]*jsonValue, len(fm))
	for k, v := range fm {
		out[k] = toJSONValue(v)
	}
	data, err := json.Marshal(out)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

func decodeFrontmatter(data string) (map[string]*vault.FrontmatterValue, error) {
	if data == "" {
		return map[string]*vault.FrontmatterValue{}, nil
	}
	var raw map[string]*jsonValue
	if err := json.Unmarshal([]byte(data), &raw); err != nil {
		return nil, err
	}
	out := make(map[string]*vault.FrontmatterValue, len(raw))
	for k, v := range raw {
		out[k] = fromJSONValue(v)
	}
	return out, nil
}
