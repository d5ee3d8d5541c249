// Package weaver wires the vault parser, shadow cache, file watcher,
// workflow runtime, event router, and MCP tool surface into a single
// process (spec.md §9 "Global state": one long-lived struct built once
// at startup, torn down in reverse order).
package weaver

import (
	"fmt"
	"path/filepath"
	"time"

	mcpsdk "github.com/mark3labs/mcp-go/server"

	"weaver/internal/cache"
	"weaver/internal/config"
	"weaver/internal/logging"
	"weaver/internal/mcpserver"
	"weaver/internal/router"
	"weaver/internal/watcher"
	"weaver/internal/workflow"
)

// Runtime holds every long-lived component for one Weaver process.
type Runtime struct {
	Config   *config.Config
	Cache    *cache.Store
	Watcher  *watcher.Watcher
	Workflow *workflow.Runtime
	Router   *router.Router
	MCP      *mcpsdk.MCPServer

	routerDone chan struct{}
}

// Start builds every component in dependency order — cache, then
// workflow runtime (shares the cache's SQLite connection), then
// watcher, then router, then MCP server — and runs the startup protocol
// (spec.md §4.2: full scan if the cache is new or dirty).
func Start(cfg *config.Config) (*Runtime, error) {
	if err := logging.Initialize(filepath.Dir(cfg.CachePath), logging.Config{
		DebugMode:  cfg.Logging.DebugMode,
		Categories: cfg.Logging.Categories,
		Level:      cfg.LogLevel,
		JSONFormat: cfg.Logging.JSONFormat,
	}); err != nil {
		return nil, fmt.Errorf("initializing logging: %w", err)
	}

	store, err := cache.NewStore(cfg.CachePath)
	if err != nil {
		return nil, fmt.Errorf("opening shadow cache: %w", err)
	}

	dirty, err := store.IsDirty()
	if err != nil {
		store.Close()
		return nil, fmt.Errorf("checking cache dirty flag: %w", err)
	}
	if dirty {
		logging.Boot("cache marked dirty; running full vault scan")
		if err := fullScan(cfg.VaultPath, store); err != nil {
			store.Close()
			return nil, fmt.Errorf("full vault scan: %w", err)
		}
	}

	rt := workflow.New(store.DB(), cfg.MaxInflightRuns, time.Duration(cfg.StepRetentionDays)*24*time.Hour)
	workflow.RegisterBuiltins(rt, workflow.Deps{Cache: store, VaultRoot: cfg.VaultPath})
	if err := rt.Resume(); err != nil {
		store.Close()
		return nil, fmt.Errorf("resuming workflow runs: %w", err)
	}

	w, err := watcher.New(watcher.Config{
		Root:      cfg.VaultPath,
		Debounce:  cfg.DebounceWindow(),
		QueueSize: 1024,
		OnOverflow: func() {
			if err := store.MarkDirty(); err != nil {
				logging.Boot("failed to mark cache dirty after watcher overflow: %v", err)
			}
		},
	})
	if err != nil {
		store.Close()
		return nil, fmt.Errorf("starting file watcher: %w", err)
	}
	if err := w.Start(); err != nil {
		store.Close()
		return nil, fmt.Errorf("starting file watcher: %w", err)
	}

	rtr := router.New(router.DefaultRules(), rt, store, cfg.DebounceWindow())
	done := make(chan struct{})
	go func() {
		rtr.Run(w.Events())
		close(done)
	}()

	mcpCfg := mcpserver.Config{Cache: store, Runtime: rt, VaultPath: cfg.VaultPath}
	srv := mcpserver.NewServer(mcpCfg)

	logging.Boot("weaver runtime started for vault %s", cfg.VaultPath)

	return &Runtime{
		Config:     cfg,
		Cache:      store,
		Watcher:    w,
		Workflow:   rt,
		Router:     rtr,
		MCP:        srv,
		routerDone: done,
	}, nil
}

// Shutdown tears every component down in reverse construction order.
func (r *Runtime) Shutdown() {
	logging.Boot("weaver runtime shutting down")
	r.Router.Stop()
	r.Watcher.Stop()
	r.Workflow.Shutdown(10 * time.Second)
	if err := r.Cache.Close(); err != nil {
		logging.Boot("error closing cache: %v", err)
	}
	logging.CloseAll()
}
