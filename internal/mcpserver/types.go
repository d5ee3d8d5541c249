// Package mcpserver implements the MCP Tool Surface (spec.md §4.5): a
// stdio MCP server dispatching tool calls to the shadow cache and the
// workflow runtime.
package mcpserver

import (
	"time"

	"weaver/internal/cache"
	"weaver/internal/workflow"
)

// DefaultToolTimeout is the deadline every tool handler except
// list_workflows puts on its context. Only trigger_workflow's Await
// observes it, and on expiry that tool reports status "unknown" with the
// context error; the cache queries behind the read tools do not take the
// context and are not cut off by it.
const DefaultToolTimeout = 30 * time.Second

// Config bundles the dependencies tool handlers dispatch to.
type Config struct {
	Cache      *cache.Store
	Runtime    *workflow.Runtime
	VaultPath  string
	ToolTimeout time.Duration
}

func (c Config) timeout() time.Duration {
	if c.ToolTimeout > 0 {
		return c.ToolTimeout
	}
	return DefaultToolTimeout
}

// QueryFilesArgs is the decoded input for query_files.
type QueryFilesArgs struct {
	PathPrefix   string   `json:"path_prefix,omitempty"`
	DocumentType string   `json:"document_type,omitempty"`
	Status       string   `json:"status,omitempty"`
	TagsAny      []string `json:"tags_any,omitempty"`
	TagsAll      []string `json:"tags_all,omitempty"`
	ModifiedFrom int64    `json:"modified_from,omitempty"`
	ModifiedTo   int64    `json:"modified_to,omitempty"`
	SortField    string   `json:"sort_field,omitempty"`
	Descending   bool     `json:"descending,omitempty"`
	Limit        int      `json:"limit,omitempty"`
	Offset       int      `json:"offset,omitempty"`
}

// DocumentSummary is the JSON projection of a cached document returned
// by query_files/get_file/search_tags/search_links.
type DocumentSummary struct {
	Path           string                 `json:"path"`
	Title          string                 `json:"title,omitempty"`
	DocumentType   string                 `json:"document_type,omitempty"`
	Status         string                 `json:"status,omitempty"`
	Priority       string                 `json:"priority,omitempty"`
	Icon           string                 `json:"icon,omitempty"`
	Tags           []string               `json:"tags,omitempty"`
	OutgoingLinks  []string               `json:"outgoing_links,omitempty"`
	Frontmatter    map[string]interface{} `json:"frontmatter,omitempty"`
	ModifiedAtUnix int64                  `json:"modified_at"`
	IngestedAtUnix int64                  `json:"ingested_at"`
	Stale          bool                   `json:"stale"`
	ParseError     string                 `json:"parse_error,omitempty"`
}

// QueryFilesResponse is the result envelope for query_files.
type QueryFilesResponse struct {
	TotalCount int               `json:"total_count"`
	Documents  []DocumentSummary `json:"documents"`
}

// GetFileContentResponse is the result envelope for get_file_content.
type GetFileContentResponse struct {
	Path   string `json:"path"`
	Binary bool   `json:"binary"`
	// Content holds UTF-8 text, or an empty string when Binary is true.
	Content string `json:"content,omitempty"`
}

// TagMatch is one row of a search_tags response.
type TagMatch struct {
	Document     string   `json:"document"`
	MatchedTags  []string `json:"matched_tags"`
}

// SearchTagsResponse is the result envelope for search_tags.
type SearchTagsResponse struct {
	Matches []TagMatch `json:"matches"`
}

// SearchLinksResponse is the result envelope for search_links.
type SearchLinksResponse struct {
	ReferringDocuments []DocumentSummary `json:"referring_documents"`
}

// StatsResponse is the result envelope for stats.
type StatsResponse struct {
	Documents     int                        `json:"documents"`
	Tags          int                        `json:"tags"`
	Links         int                        `json:"links"`
	TopReferenced []cache.ReferencedDocument `json:"top_referenced"`
}

// TriggerWorkflowResponse is the result envelope for trigger_workflow.
type TriggerWorkflowResponse struct {
	RunID  string      `json:"run_id"`
	Status string      `json:"status"`
	Output interface{} `json:"output,omitempty"`
	Error  string      `json:"error,omitempty"`
}

// WorkflowSummary is one row of list_workflows.
type WorkflowSummary struct {
	ID       string   `json:"id"`
	Version  string   `json:"version,omitempty"`
	Triggers []string `json:"triggers,omitempty"`
}

// ListWorkflowsResponse is the result envelope for list_workflows.
type ListWorkflowsResponse struct {
	Workflows []WorkflowSummary `json:"workflows"`
}
