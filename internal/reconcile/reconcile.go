// Package reconcile removes artifact directories no database row references.
// It refuses to touch the filesystem when the database is unreachable, since
// without the reference set every directory would look like an orphan.
package reconcile

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"go.uber.org/zap"

	"github.com/projectpumpkin/pumpkin/internal/artifact"
)

// ReferenceSource yields the set of artifact directory names the database
// still points at.
type ReferenceSource interface {
	ReferencedTestDirs(ctx context.Context) (map[string]struct{}, error)
}

// Result reports one reconciliation pass.
type Result struct {
	Deleted int
	Kept    int
	Orphans []string // directory names, sorted
	DryRun  bool
}

// Reconciler compares the artifact tree against the database references.
type Reconciler struct {
	refs   ReferenceSource
	store  *artifact.Store
	logger *zap.Logger
}

// New creates a Reconciler over the given reference source and artifact store.
func New(refs ReferenceSource, store *artifact.Store, logger *zap.Logger) *Reconciler {
	return &Reconciler{refs: refs, store: store, logger: logger}
}

// Clean computes the orphan set and, unless dryRun, deletes each orphan
// recursively. A directory that fails to delete is reported and skipped; the
// pass continues.
func (r *Reconciler) Clean(ctx context.Context, dryRun bool) (*Result, error) {
	referenced, err := r.refs.ReferencedTestDirs(ctx)
	if err != nil {
		return nil, fmt.Errorf("loading referenced directories: %w", err)
	}

	onDisk, err := r.store.ListTestDirs()
	if err != nil {
		return nil, fmt.Errorf("listing artifact directories: %w", err)
	}

	result := &Result{DryRun: dryRun}
	for _, name := range onDisk {
		if _, ok := referenced[name]; ok {
			result.Kept++
			continue
		}
		result.Orphans = append(result.Orphans, name)
	}
	sort.Strings(result.Orphans)

	r.logger.Info("Reconciliation scan finished",
		zap.Int("on_disk", len(onDisk)),
		zap.Int("referenced", len(referenced)),
		zap.Int("orphans", len(result.Orphans)),
		zap.Bool("dry_run", dryRun))

	if dryRun {
		return result, nil
	}

	for _, name := range result.Orphans {
		dir := filepath.Join(r.store.Root(), name)
		if err := os.RemoveAll(dir); err != nil {
			r.logger.Error("Orphan directory could not be removed",
				zap.String("dir", name),
				zap.Error(err))
			continue
		}
		result.Deleted++
		r.logger.Info("Removed orphan directory", zap.String("dir", name))
	}

	return result, nil
}
