package reconcile

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/projectpumpkin/pumpkin/internal/artifact"
	"github.com/projectpumpkin/pumpkin/internal/store"
)

type stubRefs struct {
	dirs map[string]struct{}
	err  error
}

func (s *stubRefs) ReferencedTestDirs(ctx context.Context) (map[string]struct{}, error) {
	if s.err != nil {
		return nil, s.err
	}
	return s.dirs, nil
}

func setup(t *testing.T, referenced []string, onDisk []string) (*Reconciler, string) {
	t.Helper()
	root := t.TempDir()
	for _, name := range onDisk {
		require.NoError(t, os.MkdirAll(filepath.Join(root, name), 0o755))
		require.NoError(t, os.WriteFile(filepath.Join(root, name, "screenshot.png"), []byte("png"), 0o644))
	}

	refs := &stubRefs{dirs: map[string]struct{}{}}
	for _, name := range referenced {
		refs.dirs[name] = struct{}{}
	}

	st, err := artifact.NewStore(root, false, zap.NewNop())
	require.NoError(t, err)
	return New(refs, st, zap.NewNop()), root
}

func TestCleanDeletesOrphans(t *testing.T) {
	r, root := setup(t,
		[]string{"dir-a", "dir-b"},
		[]string{"dir-a", "dir-b", "dir-orphan-1", "dir-orphan-2"})

	res, err := r.Clean(context.Background(), false)
	require.NoError(t, err)

	assert.Equal(t, 2, res.Deleted)
	assert.Equal(t, 2, res.Kept)
	assert.Equal(t, []string{"dir-orphan-1", "dir-orphan-2"}, res.Orphans)

	_, err = os.Stat(filepath.Join(root, "dir-a"))
	assert.NoError(t, err)
	_, err = os.Stat(filepath.Join(root, "dir-orphan-1"))
	assert.True(t, os.IsNotExist(err))
}

func TestCleanDryRunTouchesNothing(t *testing.T) {
	r, root := setup(t, []string{"dir-a"}, []string{"dir-a", "dir-orphan"})

	res, err := r.Clean(context.Background(), true)
	require.NoError(t, err)

	assert.True(t, res.DryRun)
	assert.Zero(t, res.Deleted)
	assert.Equal(t, []string{"dir-orphan"}, res.Orphans)

	_, err = os.Stat(filepath.Join(root, "dir-orphan"))
	assert.NoError(t, err)
}

func TestCleanDatabaseUnreachable(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(root, "dir-x"), 0o755))

	st, err := artifact.NewStore(root, false, zap.NewNop())
	require.NoError(t, err)

	r := New(&stubRefs{err: store.ErrDatabaseUnavailable}, st, zap.NewNop())
	_, err = r.Clean(context.Background(), false)
	require.ErrorIs(t, err, store.ErrDatabaseUnavailable)

	// Nothing deleted
	_, err = os.Stat(filepath.Join(root, "dir-x"))
	assert.NoError(t, err)
}

func TestCleanIdempotent(t *testing.T) {
	r, _ := setup(t, []string{"dir-a"}, []string{"dir-a", "dir-orphan"})

	res, err := r.Clean(context.Background(), false)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Deleted)

	res, err = r.Clean(context.Background(), false)
	require.NoError(t, err)
	assert.Zero(t, res.Deleted)
	assert.Equal(t, 1, res.Kept)
	assert.Empty(t, res.Orphans)
}

func TestCleanEmptyDatabaseDeletesAll(t *testing.T) {
	r, root := setup(t, nil, []string{"dir-1", "dir-2"})

	res, err := r.Clean(context.Background(), false)
	require.NoError(t, err)
	assert.Equal(t, 2, res.Deleted)
	assert.Zero(t, res.Kept)

	entries, err := os.ReadDir(root)
	require.NoError(t, err)
	assert.Empty(t, entries)
}
