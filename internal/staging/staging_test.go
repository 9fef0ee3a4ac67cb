package staging

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestArea(t *testing.T) *Area {
	t.Helper()
	a, err := New(t.TempDir(), nil)
	require.NoError(t, err)
	t.Cleanup(func() { a.Close() })
	return a
}

func stagingEntries(t *testing.T, a *Area) int {
	t.Helper()
	entries, err := os.ReadDir(a.Dir())
	require.NoError(t, err)
	return len(entries)
}

func TestStageCreatesUniqueFiles(t *testing.T) {
	a := newTestArea(t)

	first, err := a.Stage([]byte("one"))
	require.NoError(t, err)
	second, err := a.Stage([]byte("two"))
	require.NoError(t, err)

	assert.NotEqual(t, first.TempPath, second.TempPath)

	content, err := os.ReadFile(first.TempPath)
	require.NoError(t, err)
	assert.Equal(t, "one", string(content))
}

func TestCommitRenamesIntoPlace(t *testing.T) {
	a := newTestArea(t)

	staged, err := a.Stage([]byte("payload"))
	require.NoError(t, err)

	final := filepath.Join(t.TempDir(), "out.txt")
	require.NoError(t, a.Commit(context.Background(), staged, final, nil))

	content, err := os.ReadFile(final)
	require.NoError(t, err)
	assert.Equal(t, "payload", string(content))
	assert.Equal(t, 0, stagingEntries(t, a), "no residual staged files")
}

func TestCommitNormalizesFinalMode(t *testing.T) {
	a := newTestArea(t)

	staged, err := a.Stage([]byte("payload"))
	require.NoError(t, err)

	final := filepath.Join(t.TempDir(), "out.txt")
	require.NoError(t, a.Commit(context.Background(), staged, final, nil))

	info, err := os.Stat(final)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0644), info.Mode().Perm(),
		"plain rename must land at the same mode the escalated mover applies")
}

func TestCommitFailureCleansUp(t *testing.T) {
	a := newTestArea(t)

	staged, err := a.Stage([]byte("payload"))
	require.NoError(t, err)

	moveErr := errors.New("move failed")
	err = a.Commit(context.Background(), staged, "/nonexistent/target", func(ctx context.Context, src, dst string) error {
		return moveErr
	})
	assert.ErrorIs(t, err, moveErr)
	assert.Equal(t, 0, stagingEntries(t, a), "failed commit must not leak staged files")
}

func TestCommitPanicStillCleansUp(t *testing.T) {
	a := newTestArea(t)

	staged, err := a.Stage([]byte("payload"))
	require.NoError(t, err)

	func() {
		defer func() { recover() }()
		a.Commit(context.Background(), staged, "/tmp/never", func(ctx context.Context, src, dst string) error {
			panic("mover blew up")
		})
	}()

	assert.Equal(t, 0, stagingEntries(t, a))
}

func TestDiscardIsIdempotent(t *testing.T) {
	a := newTestArea(t)

	staged, err := a.Stage([]byte("payload"))
	require.NoError(t, err)

	a.Discard(staged)
	a.Discard(staged) // must not panic or error

	assert.Equal(t, 0, stagingEntries(t, a))
}

func TestStageFrom(t *testing.T) {
	a := newTestArea(t)

	src := filepath.Join(t.TempDir(), "src.bin")
	require.NoError(t, os.WriteFile(src, []byte("streamed"), 0600))

	f, err := os.Open(src)
	require.NoError(t, err)
	defer f.Close()

	staged, err := a.StageFrom(f)
	require.NoError(t, err)

	content, err := os.ReadFile(staged.TempPath)
	require.NoError(t, err)
	assert.Equal(t, "streamed", string(content))
}
