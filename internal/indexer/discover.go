package indexer

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/fyrsmithlabs/recall/internal/conversation"
)

// discover walks the logs root and returns indexable session logs,
// oldest-path-first for deterministic runs. days > 0 limits results to
// files modified within the window.
func (s *Service) discover(ctx context.Context, days int) ([]string, error) {
	if _, err := os.Stat(s.logsRoot); err != nil {
		if os.IsNotExist(err) {
			// Nothing recorded yet on this machine.
			return nil, nil
		}
		return nil, fmt.Errorf("reading logs root: %w", err)
	}

	cutoff := time.Time{}
	if days > 0 {
		cutoff = time.Now().AddDate(0, 0, -days)
	}

	var sources []string
	err := filepath.WalkDir(s.logsRoot, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			// Unreadable subtree; index what we can reach.
			return nil
		}
		if ctx.Err() != nil {
			return filepath.SkipAll
		}
		if d.IsDir() {
			return nil
		}
		if !conversation.IsSessionLog(path) {
			return nil
		}
		if !cutoff.IsZero() {
			info, err := d.Info()
			if err != nil {
				return nil
			}
			if info.ModTime().Before(cutoff) {
				return nil
			}
		}
		sources = append(sources, path)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walking logs root: %w", err)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	sort.Strings(sources)
	return sources, nil
}

// filterSessionLogs drops non-log paths and duplicates from an
// explicit source list, keeping caller order.
func filterSessionLogs(paths []string) []string {
	seen := make(map[string]struct{}, len(paths))
	out := make([]string, 0, len(paths))
	for _, p := range paths {
		if !conversation.IsSessionLog(p) {
			continue
		}
		if _, dup := seen[p]; dup {
			continue
		}
		seen[p] = struct{}{}
		out = append(out, p)
	}
	return out
}
