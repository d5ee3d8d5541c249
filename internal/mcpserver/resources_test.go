package mcpserver

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJoinVaultPath_RejectsTraversal(t *testing.T) {
	vaultDir := t.TempDir()

	_, err := joinVaultPath(vaultDir, "../../etc/passwd")
	assert.Error(t, err)

	_, err = joinVaultPath(vaultDir, "notes/../../outside.md")
	assert.Error(t, err)

	full, err := joinVaultPath(vaultDir, "notes/a.md")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(vaultDir, "notes", "a.md"), full)
}

func TestReadVaultResource_RejectsTraversal(t *testing.T) {
	vaultDir := t.TempDir()
	outsideDir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(outsideDir, "secret.txt"), []byte("top secret"), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(vaultDir, "a.md"), []byte("hello"), 0644))

	cfg := Config{VaultPath: vaultDir}
	reader := ReadVaultResource(cfg)

	var req mcp.ReadResourceRequest
	req.Params.URI = vaultResourceScheme + "../" + filepath.Base(outsideDir) + "/secret.txt"
	_, err := reader(context.Background(), req)
	require.Error(t, err)

	req.Params.URI = vaultResourceScheme + "a.md"
	contents, err := reader(context.Background(), req)
	require.NoError(t, err)
	require.Len(t, contents, 1)
}
