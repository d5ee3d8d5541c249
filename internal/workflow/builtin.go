package workflow

import (
	"context"
	"fmt"
	"os/exec"
	"path/filepath"
	"strings"

	"weaver/internal/cache"
	"weaver/internal/vault"
)

// Deps bundles the collaborators the built-in workflows need. These are
// "ordinary instances of the workflow contract" per spec.md §1's scoping
// note — the cache/git logic itself is out of core scope, only the fact
// that it runs as a durably-checkpointed workflow is.
type Deps struct {
	Cache     *cache.Store
	VaultRoot string
}

// IngestEventInput is the payload the Event Router passes when
// triggering ingest_document/remove_document (spec.md §4.6 "the router
// invokes workflow_runtime.start(rule.workflow_id, {event, matched_path})").
type IngestEventInput struct {
	Path string `json:"path"`
}

// RegisterBuiltins registers the workflows that ship with Weaver itself:
// ingest_document and remove_document (which every add/change/unlink
// event is routed to) and git_commit_vault (an example domain workflow
// demonstrating that git operations are just workflow-contract instances,
// per spec.md §1).
func RegisterBuiltins(rt *Runtime, deps Deps) {
	rt.Register(Registration{
		ID:       "ingest_document",
		Version:  "1",
		Triggers: []string{"add", "change"},
		Handler:  ingestDocumentHandler(deps),
	})
	rt.Register(Registration{
		ID:       "remove_document",
		Version:  "1",
		Triggers: []string{"unlink"},
		Handler:  removeDocumentHandler(deps),
	})
	rt.Register(Registration{
		ID:       "git_commit_vault",
		Version:  "1",
		Triggers: []string{"change"},
		Handler:  gitCommitVaultHandler(deps),
	})
}

// decodeIngestInput accepts the router's "matched_path" field (spec.md
// §4.6 "workflow_runtime.start(rule.workflow_id, { event, matched_path
// })") or a bare "path", so the same handlers serve both router-driven
// triggers and direct trigger_workflow calls.
func decodeIngestInput(input any) (IngestEventInput, error) {
	m, ok := input.(map[string]any)
	if !ok {
		return IngestEventInput{}, fmt.Errorf("expected object input, got %T", input)
	}
	path, _ := m["matched_path"].(string)
	if path == "" {
		path, _ = m["path"].(string)
	}
	if path == "" {
		return IngestEventInput{}, fmt.Errorf("missing required field: matched_path")
	}
	return IngestEventInput{Path: path}, nil
}

// ingestDocumentHandler re-parses the file at the triggering path and
// upserts it into the shadow cache. A document that fails to parse is
// not a step failure: it is ingested as a minimal stale placeholder row
// instead (spec.md §7 "Ingest-local", scenario 5 "malformed document
// does not poison scan"), and the run still completes successfully. Only
// a genuine filesystem error (the file is gone, unreadable) fails the
// step, since there is then nothing to ingest at all.
func ingestDocumentHandler(deps Deps) Handler {
	return func(ctx *RunContext, rawInput any) (any, error) {
		in, err := decodeIngestInput(rawInput)
		if err != nil {
			return nil, err
		}

		result, err := ctx.Step("ingest", func(_ context.Context) (any, error) {
			fsPath := filepath.Join(deps.VaultRoot, in.Path)
			parsed, parseErr := vault.ParseFile(fsPath, in.Path)
			if parsed == nil {
				return nil, parseErr
			}
			if parseErr != nil {
				if err := deps.Cache.IngestStaleDocument(parsed, parseErr); err != nil {
					return nil, err
				}
				return map[string]any{
					"path":  parsed.Document.Path,
					"stale": true,
					"error": parseErr.Error(),
				}, nil
			}
			if err := deps.Cache.IngestDocument(parsed); err != nil {
				return nil, err
			}
			return map[string]any{
				"path":       parsed.Document.Path,
				"tag_count":  len(parsed.Tags),
				"link_count": len(parsed.Links),
			}, nil
		}, DefaultStepOptions())
		if err != nil {
			return nil, err
		}

		status := "ingested"
		if m, ok := result.(map[string]any); ok && m["stale"] == true {
			status = "ingested_stale"
		}
		return map[string]any{"path": in.Path, "status": status}, nil
	}
}

// removeDocumentHandler cascades the delete for an unlinked path.
func removeDocumentHandler(deps Deps) Handler {
	return func(ctx *RunContext, rawInput any) (any, error) {
		in, err := decodeIngestInput(rawInput)
		if err != nil {
			return nil, err
		}
		_, err = ctx.Step("remove", func(_ context.Context) (any, error) {
			if err := deps.Cache.RemoveDocument(in.Path); err != nil {
				return nil, err
			}
			return map[string]any{"path": in.Path}, nil
		}, DefaultStepOptions())
		if err != nil {
			return nil, err
		}
		return map[string]any{"path": in.Path, "status": "removed"}, nil
	}
}

// gitCommitVaultHandler stages and commits the vault tree when a rule
// matches status=done frontmatter. It shells out to the system git
// binary rather than embedding a git library, since spec.md §1 scopes
// git operations out of core except as a workflow-contract instance —
// there is no git object-model component to build here, only the
// checkpointed two-step shape.
func gitCommitVaultHandler(deps Deps) Handler {
	return func(ctx *RunContext, rawInput any) (any, error) {
		in, err := decodeIngestInput(rawInput)
		if err != nil {
			return nil, err
		}

		_, err = ctx.Step("stage", func(stepCtx context.Context) (any, error) {
			cmd := exec.CommandContext(stepCtx, "git", "add", "-A")
			cmd.Dir = deps.VaultRoot
			out, err := cmd.CombinedOutput()
			if err != nil {
				return nil, fmt.Errorf("git add: %w: %s", err, strings.TrimSpace(string(out)))
			}
			return nil, nil
		}, DefaultStepOptions())
		if err != nil {
			return nil, err
		}

		result, err := ctx.Step("commit", func(stepCtx context.Context) (any, error) {
			msg := fmt.Sprintf("weaver: auto-commit after %s", in.Path)
			cmd := exec.CommandContext(stepCtx, "git", "commit", "-m", msg, "--allow-empty")
			cmd.Dir = deps.VaultRoot
			out, err := cmd.CombinedOutput()
			if err != nil {
				return nil, fmt.Errorf("git commit: %w: %s", err, strings.TrimSpace(string(out)))
			}
			return map[string]any{"message": msg}, nil
		}, DefaultStepOptions())
		if err != nil {
			return nil, err
		}

		return result, nil
	}
}
