package weaver

import (
	"os"
	"path/filepath"
	"strings"
	"sync"

	"golang.org/x/sync/errgroup"

	"weaver/internal/cache"
	"weaver/internal/logging"
	"weaver/internal/vault"
)

const scanConcurrency = 16

// fullScan implements spec.md §4.2's startup protocol step 2: walk the
// vault tree, parse every markdown file, and ingest it into the cache. A
// single malformed document is ingested as a minimal stale row rather
// than dropped, so it still shows up in query_files with an error
// recorded against it (spec.md §7 "Ingest-local", scenario 5 "malformed
// document does not poison scan"); only a true filesystem error (the
// file vanished mid-walk, a permission problem) is skipped outright,
// since there is nothing to ingest for it. Parsing fans out with a
// bounded errgroup, mirroring the teacher's ScanDirectory
// semaphore-bounded walk (internal/world/fs.go), reworked onto
// errgroup.SetLimit.
func fullScan(vaultRoot string, store *cache.Store) error {
	timer := logging.StartTimer(logging.CategoryCache, "fullScan")
	defer timer.Stop()

	var paths []string
	err := filepath.Walk(vaultRoot, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		name := info.Name()
		if info.IsDir() {
			if path != vaultRoot && (strings.HasPrefix(name, ".") || name == "node_modules") {
				return filepath.SkipDir
			}
			return nil
		}
		if strings.EqualFold(filepath.Ext(name), ".md") {
			paths = append(paths, path)
		}
		return nil
	})
	if err != nil {
		return err
	}

	var (
		mu       sync.Mutex
		ingested int
		stale    int
		skipped  int
	)

	g := new(errgroup.Group)
	g.SetLimit(scanConcurrency)
	for _, fsPath := range paths {
		fsPath := fsPath
		g.Go(func() error {
			rel, err := filepath.Rel(vaultRoot, fsPath)
			if err != nil {
				return err
			}
			rel = filepath.ToSlash(rel)

			parsed, err := vault.ParseFile(fsPath, rel)
			if err != nil && parsed == nil {
				logging.Cache("skipping unreadable file %s: %v", rel, err)
				mu.Lock()
				skipped++
				mu.Unlock()
				return nil
			}
			if err != nil {
				logging.Cache("ingesting malformed document %s as stale: %v", rel, err)
				if err := store.IngestStaleDocument(parsed, err); err != nil {
					logging.Cache("failed to ingest stale placeholder for %s: %v", rel, err)
					mu.Lock()
					skipped++
					mu.Unlock()
					return nil
				}
				mu.Lock()
				stale++
				mu.Unlock()
				return nil
			}
			if err := store.IngestDocument(parsed); err != nil {
				logging.Cache("failed to ingest %s during full scan: %v", rel, err)
				mu.Lock()
				skipped++
				mu.Unlock()
				return nil
			}
			mu.Lock()
			ingested++
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	logging.Cache("full scan complete: %d ingested, %d stale, %d skipped", ingested, stale, skipped)
	return store.MarkClean()
}
