package mcpserver

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"weaver/internal/cache"
	"weaver/internal/vault"
	"weaver/internal/workflow"
)

func newTestConfig(t *testing.T) (Config, string) {
	t.Helper()
	vaultDir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(vaultDir, "a.md"),
		[]byte("---\ntags: [x]\nstatus: done\n---\nbody #y [[b]]\n"), 0644))

	cacheStore, err := cache.NewStore(filepath.Join(t.TempDir(), "cache.db"))
	require.NoError(t, err)
	t.Cleanup(func() { cacheStore.Close() })

	parsed, err := vault.ParseFile(filepath.Join(vaultDir, "a.md"), "a.md")
	require.NoError(t, err)
	require.NoError(t, cacheStore.IngestDocument(parsed))

	rt := workflow.New(cacheStore.DB(), 4, 0)
	rt.Register(workflow.Registration{
		ID: "noop",
		Handler: func(ctx *workflow.RunContext, input any) (any, error) {
			return map[string]any{"ok": true}, nil
		},
	})

	return Config{Cache: cacheStore, Runtime: rt, VaultPath: vaultDir}, vaultDir
}

func callWith(args map[string]any) mcp.CallToolRequest {
	var req mcp.CallToolRequest
	req.Params.Arguments = args
	return req
}

func decodeText(t *testing.T, res *mcp.CallToolResult, v interface{}) {
	t.Helper()
	require.False(t, res.IsError, "unexpected tool error result")
	require.Len(t, res.Content, 1)
	tc, ok := mcp.AsTextContent(res.Content[0])
	require.True(t, ok)
	require.NoError(t, json.Unmarshal([]byte(tc.Text), v))
}

func TestQueryFilesTool(t *testing.T) {
	cfg, _ := newTestConfig(t)
	res, err := QueryFilesTool(cfg)(context.Background(), callWith(map[string]any{}))
	require.NoError(t, err)

	var resp QueryFilesResponse
	decodeText(t, res, &resp)
	assert.Equal(t, 1, resp.TotalCount)
	assert.Equal(t, "a.md", resp.Documents[0].Path)
}

func TestGetFileToolMissingPath(t *testing.T) {
	cfg, _ := newTestConfig(t)
	res, err := GetFileTool(cfg)(context.Background(), callWith(map[string]any{}))
	require.NoError(t, err)
	assert.True(t, res.IsError)
}

func TestGetFileContentTool(t *testing.T) {
	cfg, _ := newTestConfig(t)
	res, err := GetFileContentTool(cfg)(context.Background(), callWith(map[string]any{"path": "a.md"}))
	require.NoError(t, err)

	var resp GetFileContentResponse
	decodeText(t, res, &resp)
	assert.False(t, resp.Binary)
	assert.Contains(t, resp.Content, "body")
}

func TestGetFileContentTool_RejectsPathTraversal(t *testing.T) {
	cfg, vaultDir := newTestConfig(t)
	outside := filepath.Join(filepath.Dir(vaultDir), "secret.txt")
	require.NoError(t, os.WriteFile(outside, []byte("top secret"), 0644))

	res, err := GetFileContentTool(cfg)(context.Background(), callWith(map[string]any{"path": "../secret.txt"}))
	require.NoError(t, err)
	assert.True(t, res.IsError)
}

func TestSearchTagsTool(t *testing.T) {
	cfg, _ := newTestConfig(t)
	res, err := SearchTagsTool(cfg)(context.Background(), callWith(map[string]any{"tag_pattern": "x"}))
	require.NoError(t, err)

	var resp SearchTagsResponse
	decodeText(t, res, &resp)
	require.Len(t, resp.Matches, 1)
	assert.Equal(t, "a.md", resp.Matches[0].Document)
}

func TestSearchLinksTool(t *testing.T) {
	cfg, _ := newTestConfig(t)
	res, err := SearchLinksTool(cfg)(context.Background(), callWith(map[string]any{"target_path": "b.md"}))
	require.NoError(t, err)

	var resp SearchLinksResponse
	decodeText(t, res, &resp)
	require.Len(t, resp.ReferringDocuments, 1)
	assert.Equal(t, "a.md", resp.ReferringDocuments[0].Path)
}

func TestStatsTool(t *testing.T) {
	cfg, _ := newTestConfig(t)
	res, err := StatsTool(cfg)(context.Background(), callWith(map[string]any{}))
	require.NoError(t, err)

	var resp StatsResponse
	decodeText(t, res, &resp)
	assert.Equal(t, 1, resp.Documents)
}

func TestTriggerWorkflowToolSync(t *testing.T) {
	cfg, _ := newTestConfig(t)
	res, err := TriggerWorkflowTool(cfg)(context.Background(), callWith(map[string]any{"workflow_id": "noop"}))
	require.NoError(t, err)

	var resp TriggerWorkflowResponse
	decodeText(t, res, &resp)
	assert.Equal(t, "completed", resp.Status)
	assert.NotEmpty(t, resp.RunID)
}

func TestTriggerWorkflowToolAsync(t *testing.T) {
	cfg, _ := newTestConfig(t)
	res, err := TriggerWorkflowTool(cfg)(context.Background(), callWith(map[string]any{"workflow_id": "noop", "async": true}))
	require.NoError(t, err)

	var resp TriggerWorkflowResponse
	decodeText(t, res, &resp)
	assert.Equal(t, "started", resp.Status)
}

func TestListWorkflowsTool(t *testing.T) {
	cfg, _ := newTestConfig(t)
	res, err := ListWorkflowsTool(cfg)(context.Background(), callWith(map[string]any{}))
	require.NoError(t, err)

	var resp ListWorkflowsResponse
	decodeText(t, res, &resp)
	require.Len(t, resp.Workflows, 1)
	assert.Equal(t, "noop", resp.Workflows[0].ID)
}
