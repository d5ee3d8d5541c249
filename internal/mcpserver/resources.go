package mcpserver

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
)

const vaultResourceScheme = "vault://"

// joinVaultPath resolves relative against vaultPath and verifies the
// result is still inside the vault, rejecting any ".." traversal that
// would otherwise let a crafted resource URI or tool argument (e.g.
// "../../etc/passwd") read files outside the vault root.
func joinVaultPath(vaultPath, relative string) (string, error) {
	clean := filepath.Clean(strings.TrimPrefix(relative, "/"))
	full := filepath.Join(vaultPath, clean)

	rel, err := filepath.Rel(vaultPath, full)
	if err != nil {
		return "", fmt.Errorf("resolving %q against vault root: %w", relative, err)
	}
	if rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("path escapes vault root: %s", relative)
	}
	return full, nil
}

// ReadVaultResource implements the vault:///<relative-path> resource
// read (spec.md §6): it serves raw document bytes, the same content
// get_file_content exposes as a tool.
func ReadVaultResource(cfg Config) func(context.Context, mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
	return func(ctx context.Context, request mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
		uri := request.Params.URI
		rel := strings.TrimPrefix(uri, vaultResourceScheme)
		if rel == uri {
			return nil, fmt.Errorf("unsupported resource URI: %s", uri)
		}

		full, err := joinVaultPath(cfg.VaultPath, rel)
		if err != nil {
			return nil, err
		}
		raw, err := os.ReadFile(full)
		if err != nil {
			return nil, err
		}

		return []mcp.ResourceContents{
			mcp.TextResourceContents{
				URI:      uri,
				MIMEType: "text/markdown",
				Text:     string(raw),
			},
		}, nil
	}
}
