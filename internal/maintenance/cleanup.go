// Package maintenance prunes stale audit logs from a state directory.
package maintenance

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
)

// PruneOptions configures PruneAuditLogs.
type PruneOptions struct {
	StateDir string
	MaxAge   time.Duration
	DryRun   bool
}

// DefaultMaxAge is used when PruneOptions.MaxAge is zero.
const DefaultMaxAge = 30 * 24 * time.Hour

// PruneResult reports what PruneAuditLogs did.
type PruneResult struct {
	Deleted int
	Errors  []string
}

// PruneAuditLogs deletes "audit-*.jsonl" files in opts.StateDir whose
// ModTime is older than opts.MaxAge. A missing state directory is not an
// error — nothing has been written yet. Individual file errors are
// collected in the result rather than aborting the sweep. Candidate files
// are stat'd and removed concurrently since a long-lived sandbox host can
// accumulate one audit file per restart and the sweep is pure I/O.
func PruneAuditLogs(opts PruneOptions) (PruneResult, error) {
	if opts.MaxAge == 0 {
		opts.MaxAge = DefaultMaxAge
	}

	result := PruneResult{}

	if _, err := os.Stat(opts.StateDir); err != nil {
		if os.IsNotExist(err) {
			return result, nil
		}
		return result, fmt.Errorf("stat state directory: %w", err)
	}

	cutoff := time.Now().Add(-opts.MaxAge)

	matches, err := filepath.Glob(filepath.Join(opts.StateDir, "audit-*.jsonl"))
	if err != nil {
		return result, fmt.Errorf("glob audit files: %w", err)
	}

	var mu sync.Mutex
	var g errgroup.Group
	g.SetLimit(8)

	for _, path := range matches {
		path := path
		if !strings.HasSuffix(path, ".jsonl") {
			continue
		}

		g.Go(func() error {
			info, err := os.Stat(path)
			if err != nil {
				if os.IsNotExist(err) {
					return nil
				}
				mu.Lock()
				result.Errors = append(result.Errors, fmt.Sprintf("stat %s: %v", path, err))
				mu.Unlock()
				return nil
			}

			if !info.ModTime().Before(cutoff) {
				return nil
			}

			if opts.DryRun {
				mu.Lock()
				result.Deleted++
				mu.Unlock()
				return nil
			}

			if err := os.Remove(path); err != nil {
				if os.IsNotExist(err) {
					return nil
				}
				mu.Lock()
				result.Errors = append(result.Errors, fmt.Sprintf("remove %s: %v", path, err))
				mu.Unlock()
				return nil
			}

			mu.Lock()
			result.Deleted++
			mu.Unlock()
			return nil
		})
	}

	_ = g.Wait()

	return result, nil
}
