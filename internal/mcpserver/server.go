package mcpserver

import (
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
)

const (
	serverName    = "weaver"
	serverVersion = "0.1.0"
)

// NewServer builds the MCP server with every tool from spec.md §4.5 and
// the vault:/// resource reader registered, grounded on the Yakitrak
// obsidian-cli MCP tool surface's server construction
// (server.NewMCPServer + AddTool/AddResourceTemplate).
func NewServer(cfg Config) *server.MCPServer {
	s := server.NewMCPServer(
		serverName,
		serverVersion,
		server.WithToolCapabilities(false),
		server.WithInstructions(instructions()),
	)

	s.AddTool(mcp.NewTool("query_files",
		mcp.WithDescription("List documents matching optional filters on path prefix, document_type, status, and tags."),
		mcp.WithString("path_prefix", mcp.Description("only documents whose path starts with this prefix")),
		mcp.WithString("document_type"),
		mcp.WithString("status"),
		mcp.WithArray("tags_any", mcp.Description("document matches if it carries any of these tags")),
		mcp.WithArray("tags_all", mcp.Description("document matches only if it carries all of these tags")),
		mcp.WithNumber("modified_from", mcp.Description("unix seconds, inclusive lower bound")),
		mcp.WithNumber("modified_to", mcp.Description("unix seconds, inclusive upper bound")),
		mcp.WithString("sort_field", mcp.Description("path|modified_at|title|document_type")),
		mcp.WithBoolean("descending"),
		mcp.WithNumber("limit", mcp.Description("capped at 500")),
		mcp.WithNumber("offset"),
	), QueryFilesTool(cfg))

	s.AddTool(mcp.NewTool("get_file",
		mcp.WithDescription("Full metadata for one document, including tags and outgoing links."),
		mcp.WithString("path", mcp.Required()),
	), GetFileTool(cfg))

	s.AddTool(mcp.NewTool("get_file_content",
		mcp.WithDescription("Raw content for one document; returns a binary marker for non-UTF-8 files."),
		mcp.WithString("path", mcp.Required()),
	), GetFileContentTool(cfg))

	s.AddTool(mcp.NewTool("search_tags",
		mcp.WithDescription("Documents carrying a tag matching an exact or prefix pattern."),
		mcp.WithString("tag_pattern", mcp.Required()),
	), SearchTagsTool(cfg))

	s.AddTool(mcp.NewTool("search_links",
		mcp.WithDescription("Documents linking to the given target path (backlinks)."),
		mcp.WithString("target_path", mcp.Required()),
	), SearchLinksTool(cfg))

	s.AddTool(mcp.NewTool("stats",
		mcp.WithDescription("Corpus-level summary: document/tag/link counts and top referenced documents."),
	), StatsTool(cfg))

	s.AddTool(mcp.NewTool("trigger_workflow",
		mcp.WithDescription("Start a registered workflow. The only tool that may cause a mutation."),
		mcp.WithString("workflow_id", mcp.Required()),
		mcp.WithObject("input", mcp.Description("workflow-specific input payload")),
		mcp.WithBoolean("async", mcp.Description("return immediately with run_id instead of awaiting completion")),
	), TriggerWorkflowTool(cfg))

	s.AddTool(mcp.NewTool("list_workflows",
		mcp.WithDescription("Enumerate registered workflows, optionally filtered by id."),
		mcp.WithString("id"),
	), ListWorkflowsTool(cfg))

	s.AddResourceTemplate(
		mcp.NewResourceTemplate(
			vaultResourceScheme+"{path}",
			"vault-document",
			mcp.WithTemplateDescription("Raw bytes of a document at its vault-relative path."),
			mcp.WithTemplateMIMEType("text/markdown"),
		),
		ReadVaultResource(cfg),
	)

	return s
}

func instructions() string {
	return `This MCP server exposes a local markdown vault and its workflow runtime.

Read tools: query_files, get_file, get_file_content, search_tags, search_links, stats.
Mutating tool: trigger_workflow is the only path to changing vault or run state; it starts a
registered workflow by id and either returns immediately (async=true) or awaits its result.
list_workflows enumerates what trigger_workflow accepts.

Resources are addressable at vault://<relative-path> for direct content reads.`
}
