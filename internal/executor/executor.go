// Package executor runs sensitive local operations either as the agent's
// own user or with escalated privileges via sudo. Escalated writes go
// through the staging area so attacker-influenced paths are never written
// to directly; the escalation secret travels only over sudo's stdin.
package executor

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"syscall"
	"time"

	"github.com/remotectl/agent/internal/execx"
	"github.com/remotectl/agent/internal/staging"
)

// Kind identifies a privileged operation.
type Kind string

const (
	KindWrite  Kind = "write"
	KindDelete Kind = "delete"
	KindMkdir  Kind = "mkdir"
	KindMove   Kind = "move"
	KindChmod  Kind = "chmod"
	KindLaunch Kind = "launch"
)

// defaultTimeout bounds escalated operations; sudo blocks while it checks
// the password, so every escalation run needs a deadline.
const defaultTimeout = 30 * time.Second

// protectedPaths are never removed recursively, escalated or not.
var protectedPaths = []string{
	"/", "/bin", "/boot", "/dev", "/etc", "/home", "/lib", "/lib64",
	"/proc", "/root", "/run", "/sbin", "/sys", "/usr", "/var",
}

// Operation describes one privileged operation. Secret is the escalation
// password; it is never logged, never placed in argv, and never persisted.
type Operation struct {
	Kind       Kind
	TargetPath string
	SourcePath string      // move: the file to relocate
	Payload    []byte      // write: file content
	Mode       os.FileMode // chmod, and the mode applied by escalated writes
	Command    []string    // launch: resolved argument vector
	Escalate   bool
	Secret     string
}

// Outcome reports what an operation did.
type Outcome struct {
	Command string // launch: the command line that was started
}

// Executor dispatches privileged operations.
type Executor struct {
	logger  *slog.Logger
	area    *staging.Area
	sudo    sudoRunner
	timeout time.Duration
}

// New creates an executor using the given staging area.
func New(logger *slog.Logger, area *staging.Area) *Executor {
	return &Executor{
		logger:  logger,
		area:    area,
		sudo:    runSudo,
		timeout: defaultTimeout,
	}
}

// SetEscalationTimeout overrides the deadline applied to escalated
// operations. Non-positive values keep the default.
func (e *Executor) SetEscalationTimeout(d time.Duration) {
	if d > 0 {
		e.timeout = d
	}
}

// Run executes op and classifies any failure into the package's error
// taxonomy. When escalation is requested without a secret, nothing is
// executed at all.
func (e *Executor) Run(ctx context.Context, op Operation) (*Outcome, error) {
	if op.Escalate && op.Secret == "" {
		return nil, ErrCredentialRequired
	}

	if op.Escalate {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.timeout)
		defer cancel()
	}

	e.logger.Info("executing operation",
		"kind", op.Kind,
		"target", op.TargetPath,
		"escalated", op.Escalate,
	)

	switch op.Kind {
	case KindWrite:
		return &Outcome{}, e.write(ctx, op)
	case KindDelete:
		return &Outcome{}, e.delete(ctx, op)
	case KindMkdir:
		return &Outcome{}, e.mkdir(ctx, op)
	case KindMove:
		return &Outcome{}, e.move(ctx, op)
	case KindChmod:
		return &Outcome{}, e.chmod(ctx, op)
	case KindLaunch:
		return e.launch(ctx, op)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupported, op.Kind)
	}
}

// write creates or replaces the target file. The escalated path stages the
// content first and moves it into place with sudo, so the privileged step
// only ever sees a path the agent itself created.
func (e *Executor) write(ctx context.Context, op Operation) error {
	mode := op.Mode
	if mode == 0 {
		mode = 0644
	}

	if !op.Escalate {
		if err := os.WriteFile(op.TargetPath, op.Payload, mode); err != nil {
			return classifyOSError(err)
		}
		return nil
	}

	staged, err := e.area.Stage(op.Payload)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInternal, err)
	}
	return e.area.Commit(ctx, staged, op.TargetPath, e.escalatedMove(op.Secret, mode))
}

// delete removes the target. Non-escalated deletes of a directory require
// it to be empty; escalated deletes are recursive. The asymmetry is
// intentional: escalation signals explicit intent to force-remove.
func (e *Executor) delete(ctx context.Context, op Operation) error {
	if !op.Escalate {
		if err := os.Remove(op.TargetPath); err != nil {
			// Some filesystems report EEXIST instead of ENOTEMPTY here.
			if errors.Is(err, syscall.ENOTEMPTY) || errors.Is(err, syscall.EEXIST) {
				return fmt.Errorf("%w: %s", ErrNotEmpty, op.TargetPath)
			}
			return classifyOSError(err)
		}
		return nil
	}

	if isProtectedPath(op.TargetPath) {
		return fmt.Errorf("%w: %s", ErrProtectedPath, op.TargetPath)
	}
	if _, err := os.Stat(op.TargetPath); err != nil {
		return classifyOSError(err)
	}

	result, err := e.sudo(ctx, op.Secret, "rm", "-rf", "--", op.TargetPath)
	if err != nil {
		return e.classifySudoError(result, err)
	}
	return nil
}

// mkdir creates the target directory, failing if it already exists
// regardless of escalation.
func (e *Executor) mkdir(ctx context.Context, op Operation) error {
	if _, err := os.Stat(op.TargetPath); err == nil {
		return fmt.Errorf("%w: %s", ErrAlreadyExists, op.TargetPath)
	}

	if !op.Escalate {
		if err := os.MkdirAll(op.TargetPath, 0755); err != nil {
			return classifyOSError(err)
		}
		return nil
	}

	result, err := e.sudo(ctx, op.Secret, "mkdir", "-p", "--", op.TargetPath)
	if err != nil {
		return e.classifySudoError(result, err)
	}
	result, err = e.sudo(ctx, op.Secret, "chmod", "0755", "--", op.TargetPath)
	if err != nil {
		return e.classifySudoError(result, err)
	}
	return nil
}

// move relocates SourcePath to TargetPath.
func (e *Executor) move(ctx context.Context, op Operation) error {
	if !op.Escalate {
		if err := os.Rename(op.SourcePath, op.TargetPath); err != nil {
			if errors.Is(err, syscall.EXDEV) {
				return e.crossDeviceMove(op)
			}
			return classifyOSError(err)
		}
		return nil
	}

	result, err := e.sudo(ctx, op.Secret, "mv", "-f", "--", op.SourcePath, op.TargetPath)
	if err != nil {
		return e.classifySudoError(result, err)
	}
	return nil
}

// chmod changes the target's mode.
func (e *Executor) chmod(ctx context.Context, op Operation) error {
	if !op.Escalate {
		if err := os.Chmod(op.TargetPath, op.Mode); err != nil {
			return classifyOSError(err)
		}
		return nil
	}

	result, err := e.sudo(ctx, op.Secret, "chmod", fmt.Sprintf("%04o", op.Mode.Perm()), "--", op.TargetPath)
	if err != nil {
		return e.classifySudoError(result, err)
	}
	return nil
}

// EscalatedMove returns a staging mover that places a file with sudo and
// normalizes its mode. Used by the gateway for uploads and extraction.
func (e *Executor) EscalatedMove(secret string) staging.MoveFunc {
	return e.escalatedMove(secret, 0644)
}

func (e *Executor) escalatedMove(secret string, mode os.FileMode) staging.MoveFunc {
	return func(ctx context.Context, src, dst string) error {
		result, err := e.sudo(ctx, secret, "mv", "-f", "--", src, dst)
		if err != nil {
			return e.classifySudoError(result, err)
		}
		result, err = e.sudo(ctx, secret, "chmod", fmt.Sprintf("%04o", mode.Perm()), "--", dst)
		if err != nil {
			return e.classifySudoError(result, err)
		}
		return nil
	}
}

// crossDeviceMove handles rename across filesystems by staging a copy.
func (e *Executor) crossDeviceMove(op Operation) error {
	src, err := os.Open(op.SourcePath)
	if err != nil {
		return classifyOSError(err)
	}

	staged, err := e.area.StageFrom(src)
	src.Close()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInternal, err)
	}

	if err := e.area.Commit(context.Background(), staged, op.TargetPath, nil); err != nil {
		return fmt.Errorf("%w: %v", ErrInternal, err)
	}
	return os.Remove(op.SourcePath)
}

// classifySudoError maps a failed escalated run onto the error taxonomy.
// Credential rejections pass through; everything else becomes ErrInternal
// with the command's stderr for diagnostics.
func (e *Executor) classifySudoError(result *execx.Result, err error) error {
	if errors.Is(err, ErrIncorrectCredential) {
		return ErrIncorrectCredential
	}
	if errors.Is(err, execx.ErrTimeout) {
		return fmt.Errorf("%w: escalated command timed out", ErrInternal)
	}
	return fmt.Errorf("%w: %s", ErrInternal, sudoErrMsg(result, err))
}

// isProtectedPath reports whether path (after cleaning) is a system path
// the agent refuses to remove.
func isProtectedPath(path string) bool {
	cleaned := filepath.Clean(path)
	for _, p := range protectedPaths {
		if cleaned == p {
			return true
		}
	}
	return false
}

// classifyOSError maps errno-style failures onto the error taxonomy.
func classifyOSError(err error) error {
	switch {
	case errors.Is(err, fs.ErrNotExist):
		return fmt.Errorf("%w: %v", ErrNotFound, err)
	case errors.Is(err, fs.ErrPermission):
		return fmt.Errorf("%w: %v", ErrPermissionDenied, err)
	case errors.Is(err, fs.ErrExist):
		return fmt.Errorf("%w: %v", ErrAlreadyExists, err)
	case errors.Is(err, syscall.ENOTEMPTY):
		return fmt.Errorf("%w: %v", ErrNotEmpty, err)
	default:
		return fmt.Errorf("%w: %v", ErrInternal, err)
	}
}
