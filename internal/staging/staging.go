// Package staging manages the temporary files used as an intermediate hop
// for privileged writes. A staged file lives no longer than the operation
// that created it: Commit removes the temp file on every exit path,
// including a panic in the caller-supplied move function.
package staging

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/oklog/ulid/v2"
)

// MoveFunc places a staged file at its final path. A nil MoveFunc means a
// plain same-volume rename.
type MoveFunc func(ctx context.Context, src, dst string) error

// StagedFile is a handle to a staged temporary file.
type StagedFile struct {
	TempPath  string
	CreatedAt time.Time

	discarded atomic.Bool
}

// Area owns a directory of staged files.
type Area struct {
	dir    string
	logger *slog.Logger
}

// New creates the staging directory if needed. Each agent run gets its own
// ULID-suffixed subdirectory so a crashed previous run cannot collide with
// fresh staged names.
func New(baseDir string, logger *slog.Logger) (*Area, error) {
	dir := filepath.Join(baseDir, "staging-"+ulid.Make().String())
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, fmt.Errorf("create staging directory: %w", err)
	}
	return &Area{dir: dir, logger: logger}, nil
}

// Dir returns the staging directory path.
func (a *Area) Dir() string { return a.dir }

// Stage writes content to a fresh temporary file and returns its handle.
func (a *Area) Stage(content []byte) (*StagedFile, error) {
	f, err := os.CreateTemp(a.dir, "staged-*")
	if err != nil {
		return nil, fmt.Errorf("create staged file: %w", err)
	}

	staged := &StagedFile{TempPath: f.Name(), CreatedAt: time.Now()}

	if _, err := f.Write(content); err != nil {
		f.Close()
		a.Discard(staged)
		return nil, fmt.Errorf("write staged file: %w", err)
	}
	if err := f.Close(); err != nil {
		a.Discard(staged)
		return nil, fmt.Errorf("close staged file: %w", err)
	}

	return staged, nil
}

// StageFrom streams r into a fresh temporary file. Used for uploads so the
// request body never needs to be held in memory.
func (a *Area) StageFrom(r io.Reader) (*StagedFile, error) {
	f, err := os.CreateTemp(a.dir, "staged-*")
	if err != nil {
		return nil, fmt.Errorf("create staged file: %w", err)
	}

	staged := &StagedFile{TempPath: f.Name(), CreatedAt: time.Now()}

	if _, err := io.Copy(f, r); err != nil {
		f.Close()
		a.Discard(staged)
		return nil, fmt.Errorf("write staged file: %w", err)
	}
	if err := f.Close(); err != nil {
		a.Discard(staged)
		return nil, fmt.Errorf("close staged file: %w", err)
	}

	return staged, nil
}

// Commit moves the staged file to finalPath. The staged temp file is gone
// when Commit returns, whether the move succeeded, failed, or panicked.
func (a *Area) Commit(ctx context.Context, staged *StagedFile, finalPath string, move MoveFunc) error {
	defer a.Discard(staged)

	if move != nil {
		if err := move(ctx, staged.TempPath, finalPath); err != nil {
			return err
		}
		staged.discarded.Store(true) // the mover consumed the file
		return nil
	}

	// Staged temp files are created 0600; normalize to the same final mode
	// the escalated mover applies.
	if err := os.Chmod(staged.TempPath, 0644); err != nil {
		return fmt.Errorf("set final mode: %w", err)
	}

	if err := os.Rename(staged.TempPath, finalPath); err != nil {
		if isCrossDevice(err) {
			return a.copyCommit(staged, finalPath)
		}
		return fmt.Errorf("rename into place: %w", err)
	}
	staged.discarded.Store(true)
	return nil
}

// copyCommit handles rename across filesystems: copy then remove.
func (a *Area) copyCommit(staged *StagedFile, finalPath string) error {
	src, err := os.Open(staged.TempPath)
	if err != nil {
		return fmt.Errorf("open staged file: %w", err)
	}
	defer src.Close()

	dst, err := os.OpenFile(finalPath, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0644)
	if err != nil {
		return fmt.Errorf("create final file: %w", err)
	}

	if _, err := io.Copy(dst, src); err != nil {
		dst.Close()
		os.Remove(finalPath)
		return fmt.Errorf("copy into place: %w", err)
	}
	return dst.Close()
}

// Discard removes the staged temp file. Safe to call more than once;
// failures are logged, never surfaced, so they cannot mask the outcome of
// the operation that staged the file.
func (a *Area) Discard(staged *StagedFile) {
	if staged == nil || staged.discarded.Swap(true) {
		return
	}
	if err := os.Remove(staged.TempPath); err != nil && !errors.Is(err, os.ErrNotExist) {
		if a.logger != nil {
			a.logger.Warn("failed to remove staged file", "path", staged.TempPath, "error", err)
		}
	}
}

// Close removes the staging directory and anything left in it.
func (a *Area) Close() error {
	return os.RemoveAll(a.dir)
}

func isCrossDevice(err error) bool {
	return errors.Is(err, syscall.EXDEV)
}
