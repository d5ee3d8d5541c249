package mcpserver

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"unicode/utf8"

	"github.com/mark3labs/mcp-go/mcp"

	"weaver/internal/cache"
	"weaver/internal/logging"
	"weaver/internal/vault"
)

func toSummary(doc *cache.Document) DocumentSummary {
	links := make([]string, 0, len(doc.Links))
	for _, l := range doc.Links {
		links = append(links, l.TargetPath)
	}
	var fm map[string]interface{}
	if len(doc.Frontmatter) > 0 {
		fm = make(map[string]interface{}, len(doc.Frontmatter))
		for k, v := range doc.Frontmatter {
			fm[k] = frontmatterValueToJSON(v)
		}
	}
	return DocumentSummary{
		Path:           doc.Path,
		Title:          doc.Title,
		DocumentType:   doc.DocumentType,
		Status:         doc.Status,
		Priority:       doc.Priority,
		Icon:           doc.Icon,
		Tags:           doc.Tags,
		OutgoingLinks:  links,
		Frontmatter:    fm,
		ModifiedAtUnix: doc.ModifiedAt.Unix(),
		IngestedAtUnix: doc.IngestedAtUnix,
		Stale:          doc.Stale,
		ParseError:     doc.ParseError,
	}
}

func frontmatterValueToJSON(v *vault.FrontmatterValue) interface{} {
	if v == nil {
		return nil
	}
	switch v.Kind {
	case vault.KindSequence:
		return v.Sequence
	case vault.KindMapping:
		m := make(map[string]interface{}, len(v.Mapping))
		for k, nested := range v.Mapping {
			m[k] = frontmatterValueToJSON(nested)
		}
		return m
	default:
		return v.Scalar
	}
}

func withToolTimeout(ctx context.Context, cfg Config) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, cfg.timeout())
}

func errResult(format string, args ...interface{}) (*mcp.CallToolResult, error) {
	return mcp.NewToolResultError(fmt.Sprintf(format, args...)), nil
}

func jsonResult(v interface{}) (*mcp.CallToolResult, error) {
	encoded, err := json.Marshal(v)
	if err != nil {
		return errResult("marshaling response: %s", err)
	}
	return mcp.NewToolResultText(string(encoded)), nil
}

func stringArg(args map[string]any, key string) string {
	s, _ := args[key].(string)
	return s
}

func boolArg(args map[string]any, key string) bool {
	b, _ := args[key].(bool)
	return b
}

func intArg(args map[string]any, key string) int {
	f, _ := args[key].(float64)
	return int(f)
}

func stringSliceArg(args map[string]any, key string) []string {
	raw, _ := args[key].([]interface{})
	if len(raw) == 0 {
		return nil
	}
	out := make([]string, 0, len(raw))
	for _, v := range raw {
		if s, ok := v.(string); ok {
			out = append(out, s)
		}
	}
	return out
}

// QueryFilesTool implements the query_files MCP tool.
func QueryFilesTool(cfg Config) func(context.Context, mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		ctx, cancel := withToolTimeout(ctx, cfg)
		defer cancel()
		args := request.GetArguments()

		filter := cache.Filter{
			PathPrefix:   stringArg(args, "path_prefix"),
			DocumentType: stringArg(args, "document_type"),
			Status:       stringArg(args, "status"),
			TagsAny:      stringSliceArg(args, "tags_any"),
			TagsAll:      stringSliceArg(args, "tags_all"),
			ModifiedFrom: int64(intArg(args, "modified_from")),
			ModifiedTo:   int64(intArg(args, "modified_to")),
		}
		sort := cache.Sort{
			Field:      cache.SortField(stringArg(args, "sort_field")),
			Descending: boolArg(args, "descending"),
		}
		limit := intArg(args, "limit")
		if limit <= 0 || limit > 500 {
			limit = 500
		}
		offset := intArg(args, "offset")

		all, err := cfg.Cache.QueryFiles(filter, sort, cache.Pagination{})
		if err != nil {
			return errResult("querying files: %s", err)
		}
		total := len(all)

		page := all
		if offset < len(all) {
			page = all[offset:]
		} else {
			page = nil
		}
		if len(page) > limit {
			page = page[:limit]
		}

		resp := QueryFilesResponse{TotalCount: total, Documents: make([]DocumentSummary, 0, len(page))}
		for _, d := range page {
			resp.Documents = append(resp.Documents, toSummary(d))
		}
		return jsonResult(resp)
	}
}

// GetFileTool implements the get_file MCP tool.
func GetFileTool(cfg Config) func(context.Context, mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		ctx, cancel := withToolTimeout(ctx, cfg)
		defer cancel()
		args := request.GetArguments()
		path := stringArg(args, "path")
		if path == "" {
			return errResult("path is required")
		}

		doc, err := cfg.Cache.GetDocument(path)
		if err != nil {
			return errResult("get_file %q: %s", path, err)
		}
		return jsonResult(toSummary(doc))
	}
}

// GetFileContentTool implements the get_file_content MCP tool.
func GetFileContentTool(cfg Config) func(context.Context, mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		ctx, cancel := withToolTimeout(ctx, cfg)
		defer cancel()
		args := request.GetArguments()
		path := stringArg(args, "path")
		if path == "" {
			return errResult("path is required")
		}

		if _, err := cfg.Cache.GetDocument(path); err != nil {
			return errResult("get_file_content %q: %s", path, err)
		}

		full, err := joinVaultPath(cfg.VaultPath, path)
		if err != nil {
			return errResult("get_file_content %q: %s", path, err)
		}
		raw, err := os.ReadFile(full)
		if err != nil {
			return errResult("reading %q: %s", path, err)
		}

		if !utf8.Valid(raw) {
			return jsonResult(GetFileContentResponse{Path: path, Binary: true})
		}
		return jsonResult(GetFileContentResponse{Path: path, Content: string(raw)})
	}
}

// SearchTagsTool implements the search_tags MCP tool.
func SearchTagsTool(cfg Config) func(context.Context, mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		ctx, cancel := withToolTimeout(ctx, cfg)
		defer cancel()
		args := request.GetArguments()
		pattern := stringArg(args, "tag_pattern")
		if pattern == "" {
			return errResult("tag_pattern is required")
		}

		docs, err := cfg.Cache.SearchTags(pattern)
		if err != nil {
			return errResult("search_tags %q: %s", pattern, err)
		}

		resp := SearchTagsResponse{Matches: make([]TagMatch, 0, len(docs))}
		for _, d := range docs {
			resp.Matches = append(resp.Matches, TagMatch{Document: d.Path, MatchedTags: d.Tags})
		}
		return jsonResult(resp)
	}
}

// SearchLinksTool implements the search_links MCP tool.
func SearchLinksTool(cfg Config) func(context.Context, mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		ctx, cancel := withToolTimeout(ctx, cfg)
		defer cancel()
		args := request.GetArguments()
		target := stringArg(args, "target_path")
		if target == "" {
			return errResult("target_path is required")
		}

		docs, err := cfg.Cache.SearchLinks(target)
		if err != nil {
			return errResult("search_links %q: %s", target, err)
		}

		resp := SearchLinksResponse{ReferringDocuments: make([]DocumentSummary, 0, len(docs))}
		for _, d := range docs {
			resp.ReferringDocuments = append(resp.ReferringDocuments, toSummary(d))
		}
		return jsonResult(resp)
	}
}

// StatsTool implements the stats MCP tool.
func StatsTool(cfg Config) func(context.Context, mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		ctx, cancel := withToolTimeout(ctx, cfg)
		defer cancel()

		stats, err := cfg.Cache.GetStats(10)
		if err != nil {
			return errResult("stats: %s", err)
		}
		return jsonResult(StatsResponse{
			Documents:     stats.DocumentCount,
			Tags:          stats.TagCount,
			Links:         stats.LinkCount,
			TopReferenced: stats.TopReferenced,
		})
	}
}

// TriggerWorkflowTool implements the trigger_workflow MCP tool. Per
// spec.md §4.5, this is the only tool permitted to cause a mutation; it
// never writes to the vault itself, only starts a registered workflow.
func TriggerWorkflowTool(cfg Config) func(context.Context, mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		args := request.GetArguments()
		workflowID := stringArg(args, "workflow_id")
		if workflowID == "" {
			return errResult("workflow_id is required")
		}
		input, _ := args["input"].(map[string]any)
		async := boolArg(args, "async")

		runID, err := cfg.Runtime.Start(workflowID, input)
		if err != nil {
			return errResult("trigger_workflow %q: %s", workflowID, err)
		}

		if async {
			return jsonResult(TriggerWorkflowResponse{RunID: runID, Status: "started"})
		}

		awaitCtx, cancel := withToolTimeout(ctx, cfg)
		defer cancel()
		res, err := cfg.Runtime.Await(awaitCtx, runID)
		if err != nil {
			logging.MCP("trigger_workflow %s await error: %v", runID, err)
			return jsonResult(TriggerWorkflowResponse{RunID: runID, Status: "unknown", Error: err.Error()})
		}

		resp := TriggerWorkflowResponse{RunID: runID, Status: string(res.Status), Output: res.Output}
		if res.Err != nil {
			resp.Error = res.Err.Error()
		}
		return jsonResult(resp)
	}
}

// ListWorkflowsTool implements the list_workflows MCP tool.
func ListWorkflowsTool(cfg Config) func(context.Context, mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		args := request.GetArguments()
		idFilter := stringArg(args, "id")

		regs := cfg.Runtime.Registrations()
		resp := ListWorkflowsResponse{Workflows: make([]WorkflowSummary, 0, len(regs))}
		for _, reg := range regs {
			if idFilter != "" && reg.ID != idFilter {
				continue
			}
			resp.Workflows = append(resp.Workflows, WorkflowSummary{
				ID:       reg.ID,
				Version:  reg.Version,
				Triggers: reg.Triggers,
			})
		}
		return jsonResult(resp)
	}
}
