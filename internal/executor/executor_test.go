package executor

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/shirou/gopsutil/v3/process"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/remotectl/agent/internal/execx"
	"github.com/remotectl/agent/internal/staging"
)

type sudoCall struct {
	name string
	args []string
}

// fakeSudo records escalated calls and emulates the underlying command so
// escalated paths can be tested without a real sudo.
type fakeSudo struct {
	calls  []sudoCall
	err    error
	result *execx.Result
}

func (f *fakeSudo) run(ctx context.Context, secret, name string, args ...string) (*execx.Result, error) {
	f.calls = append(f.calls, sudoCall{name: name, args: args})
	if f.err != nil {
		return f.result, f.err
	}

	switch name {
	case "rm":
		return &execx.Result{}, os.RemoveAll(args[len(args)-1])
	case "mv":
		return &execx.Result{}, os.Rename(args[len(args)-2], args[len(args)-1])
	case "mkdir":
		return &execx.Result{}, os.MkdirAll(args[len(args)-1], 0755)
	default:
		return &execx.Result{}, nil
	}
}

func newTestExecutor(t *testing.T) (*Executor, *fakeSudo) {
	t.Helper()
	area, err := staging.New(t.TempDir(), slog.New(slog.NewTextHandler(os.Stderr, nil)))
	require.NoError(t, err)
	t.Cleanup(func() { area.Close() })

	e := New(slog.New(slog.NewTextHandler(os.Stderr, nil)), area)
	fake := &fakeSudo{}
	e.sudo = fake.run
	return e, fake
}

func TestEscalationWithoutSecretFailsBeforeExecution(t *testing.T) {
	e, fake := newTestExecutor(t)

	_, err := e.Run(context.Background(), Operation{
		Kind:       KindDelete,
		TargetPath: "/tmp/whatever",
		Escalate:   true,
	})
	assert.ErrorIs(t, err, ErrCredentialRequired)
	assert.Empty(t, fake.calls, "nothing may be executed without a credential")
}

func TestWriteNonEscalated(t *testing.T) {
	e, _ := newTestExecutor(t)
	target := filepath.Join(t.TempDir(), "out.txt")

	_, err := e.Run(context.Background(), Operation{
		Kind:       KindWrite,
		TargetPath: target,
		Payload:    []byte("content"),
	})
	require.NoError(t, err)

	data, err := os.ReadFile(target)
	require.NoError(t, err)
	assert.Equal(t, "content", string(data))
}

func TestWriteEscalatedStagesAndMoves(t *testing.T) {
	e, fake := newTestExecutor(t)
	target := filepath.Join(t.TempDir(), "out.txt")

	_, err := e.Run(context.Background(), Operation{
		Kind:       KindWrite,
		TargetPath: target,
		Payload:    []byte("escalated content"),
		Escalate:   true,
		Secret:     "hunter2",
	})
	require.NoError(t, err)

	data, err := os.ReadFile(target)
	require.NoError(t, err)
	assert.Equal(t, "escalated content", string(data))

	require.Len(t, fake.calls, 2)
	assert.Equal(t, "mv", fake.calls[0].name)
	assert.Equal(t, "chmod", fake.calls[1].name)
	for _, call := range fake.calls {
		for _, arg := range call.args {
			assert.NotContains(t, arg, "hunter2", "secret must never appear in argv")
		}
	}
}

func TestDeleteFile(t *testing.T) {
	e, _ := newTestExecutor(t)
	target := filepath.Join(t.TempDir(), "victim.txt")
	require.NoError(t, os.WriteFile(target, []byte("x"), 0644))

	_, err := e.Run(context.Background(), Operation{Kind: KindDelete, TargetPath: target})
	require.NoError(t, err)
	assert.NoFileExists(t, target)
}

func TestDeleteMissingTarget(t *testing.T) {
	e, _ := newTestExecutor(t)

	_, err := e.Run(context.Background(), Operation{
		Kind:       KindDelete,
		TargetPath: filepath.Join(t.TempDir(), "missing"),
	})
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestDeleteNonEmptyDirectoryRequiresEscalation(t *testing.T) {
	e, _ := newTestExecutor(t)

	dir := filepath.Join(t.TempDir(), "full")
	require.NoError(t, os.MkdirAll(dir, 0755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "child"), []byte("x"), 0644))

	_, err := e.Run(context.Background(), Operation{Kind: KindDelete, TargetPath: dir})
	assert.ErrorIs(t, err, ErrNotEmpty)
	assert.DirExists(t, dir)

	_, err = e.Run(context.Background(), Operation{
		Kind:       KindDelete,
		TargetPath: dir,
		Escalate:   true,
		Secret:     "hunter2",
	})
	require.NoError(t, err)
	assert.NoDirExists(t, dir)
}

func TestDeleteEmptyDirectoryWithoutEscalation(t *testing.T) {
	e, _ := newTestExecutor(t)

	dir := filepath.Join(t.TempDir(), "empty")
	require.NoError(t, os.MkdirAll(dir, 0755))

	_, err := e.Run(context.Background(), Operation{Kind: KindDelete, TargetPath: dir})
	require.NoError(t, err)
	assert.NoDirExists(t, dir)
}

func TestDeleteProtectedPath(t *testing.T) {
	e, fake := newTestExecutor(t)

	_, err := e.Run(context.Background(), Operation{
		Kind:       KindDelete,
		TargetPath: "/etc",
		Escalate:   true,
		Secret:     "hunter2",
	})
	assert.ErrorIs(t, err, ErrProtectedPath)
	assert.Empty(t, fake.calls)
}

func TestIncorrectCredentialClassified(t *testing.T) {
	e, fake := newTestExecutor(t)
	fake.err = ErrIncorrectCredential

	dir := filepath.Join(t.TempDir(), "dir")
	require.NoError(t, os.MkdirAll(dir, 0755))

	_, err := e.Run(context.Background(), Operation{
		Kind:       KindDelete,
		TargetPath: dir,
		Escalate:   true,
		Secret:     "wrong",
	})
	assert.ErrorIs(t, err, ErrIncorrectCredential)
}

func TestMkdir(t *testing.T) {
	e, _ := newTestExecutor(t)
	target := filepath.Join(t.TempDir(), "newdir")

	_, err := e.Run(context.Background(), Operation{Kind: KindMkdir, TargetPath: target})
	require.NoError(t, err)
	assert.DirExists(t, target)

	_, err = e.Run(context.Background(), Operation{Kind: KindMkdir, TargetPath: target})
	assert.ErrorIs(t, err, ErrAlreadyExists)
}

func TestMove(t *testing.T) {
	e, _ := newTestExecutor(t)
	dir := t.TempDir()
	src := filepath.Join(dir, "src.txt")
	dst := filepath.Join(dir, "dst.txt")
	require.NoError(t, os.WriteFile(src, []byte("moved"), 0644))

	_, err := e.Run(context.Background(), Operation{
		Kind:       KindMove,
		SourcePath: src,
		TargetPath: dst,
	})
	require.NoError(t, err)
	assert.NoFileExists(t, src)
	assert.FileExists(t, dst)
}

func TestChmod(t *testing.T) {
	e, _ := newTestExecutor(t)
	target := filepath.Join(t.TempDir(), "file.txt")
	require.NoError(t, os.WriteFile(target, []byte("x"), 0644))

	_, err := e.Run(context.Background(), Operation{
		Kind:       KindChmod,
		TargetPath: target,
		Mode:       0600,
	})
	require.NoError(t, err)

	info, err := os.Stat(target)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0600), info.Mode().Perm())
}

func TestLaunchDetached(t *testing.T) {
	e, _ := newTestExecutor(t)

	outcome, err := e.Run(context.Background(), Operation{
		Kind:    KindLaunch,
		Command: []string{"true"},
	})
	require.NoError(t, err)
	assert.Equal(t, "true", outcome.Command)
}

func TestLaunchReapsExitedChildren(t *testing.T) {
	e, _ := newTestExecutor(t)

	for i := 0; i < 3; i++ {
		_, err := e.Run(context.Background(), Operation{
			Kind:    KindLaunch,
			Command: []string{"true"},
		})
		require.NoError(t, err)
	}

	require.Eventually(t, func() bool {
		return zombieChildCount(t) == 0
	}, 5*time.Second, 50*time.Millisecond, "exited children must be reaped")
}

// zombieChildCount counts direct children of the test process stuck in the
// zombie state.
func zombieChildCount(t *testing.T) int {
	t.Helper()

	procs, err := process.Processes()
	require.NoError(t, err)

	self := int32(os.Getpid())
	count := 0
	for _, p := range procs {
		ppid, err := p.Ppid()
		if err != nil || ppid != self {
			continue
		}
		statuses, err := p.Status()
		if err != nil {
			continue
		}
		for _, s := range statuses {
			if s == process.Zombie {
				count++
			}
		}
	}
	return count
}

func TestLaunchUnknownBinary(t *testing.T) {
	e, _ := newTestExecutor(t)

	_, err := e.Run(context.Background(), Operation{
		Kind:    KindLaunch,
		Command: []string{"definitely-not-a-real-binary-xyz"},
	})
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestUnsupportedKind(t *testing.T) {
	e, _ := newTestExecutor(t)

	_, err := e.Run(context.Background(), Operation{Kind: Kind("format-disk")})
	assert.ErrorIs(t, err, ErrUnsupported)
}
