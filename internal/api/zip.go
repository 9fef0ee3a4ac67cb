package api

import (
	"archive/zip"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/remotectl/agent/internal/executor"
)

// extractZip unpacks an archive into the target directory. Every file
// passes through the staging area, so an extraction that fails midway
// leaves no partially written staged files. Entry paths are confined to
// the target directory (zip-slip guard).
func (s *Server) extractZip(ctx context.Context, req extractZipRequest) error {
	reader, err := zip.OpenReader(req.ZipPath)
	if err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("%w: %s", executor.ErrNotFound, req.ZipPath)
		}
		return fmt.Errorf("%w: open archive: %v", executor.ErrInternal, err)
	}
	defer reader.Close()

	if _, err := os.Stat(req.TargetDir); err != nil {
		return fmt.Errorf("%w: %s", executor.ErrNotFound, req.TargetDir)
	}

	mover := s.moverFor(req.UseSudo, req.SudoPassword)

	for _, entry := range reader.File {
		dest, err := confinedPath(req.TargetDir, entry.Name)
		if err != nil {
			return err
		}

		if entry.FileInfo().IsDir() {
			if err := s.extractDir(ctx, dest, req); err != nil {
				return err
			}
			continue
		}

		// Parent directories may only be implied by file entries.
		if err := s.extractDir(ctx, filepath.Dir(dest), req); err != nil {
			return err
		}

		src, err := entry.Open()
		if err != nil {
			return fmt.Errorf("%w: open archive entry %s: %v", executor.ErrInternal, entry.Name, err)
		}

		staged, err := s.area.StageFrom(src)
		src.Close()
		if err != nil {
			return fmt.Errorf("%w: %v", executor.ErrInternal, err)
		}

		if err := s.area.Commit(ctx, staged, dest, mover); err != nil {
			return err
		}
	}
	return nil
}

// extractDir ensures a directory exists, escalating when requested.
// AlreadyExists is fine here: extraction merges into existing trees.
func (s *Server) extractDir(ctx context.Context, dir string, req extractZipRequest) error {
	if info, err := os.Stat(dir); err == nil && info.IsDir() {
		return nil
	}

	_, err := s.exec.Run(ctx, executor.Operation{
		Kind:       executor.KindMkdir,
		TargetPath: dir,
		Escalate:   req.UseSudo,
		Secret:     req.SudoPassword,
	})
	if err != nil && !errors.Is(err, executor.ErrAlreadyExists) {
		return err
	}
	return nil
}

// confinedPath joins an archive entry name onto the target directory and
// rejects names that would escape it.
func confinedPath(targetDir, name string) (string, error) {
	dest := filepath.Join(targetDir, name)
	cleanTarget := filepath.Clean(targetDir) + string(os.PathSeparator)
	if !strings.HasPrefix(dest, cleanTarget) {
		return "", fmt.Errorf("%w: archive entry escapes target directory: %s", executor.ErrUnsupported, name)
	}
	return dest, nil
}
