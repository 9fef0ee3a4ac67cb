package api

import (
	"fmt"
	"net/http"
	"os"
	"path/filepath"

	"github.com/remotectl/agent/internal/executor"
	"github.com/remotectl/agent/internal/staging"
	"github.com/remotectl/agent/internal/validate"
)

// maxReadSize caps the content returned by read-file.
const maxReadSize = 1 << 20 // 1 MiB

// maxUploadMemory is the in-memory budget for multipart parsing; larger
// bodies spill to disk.
const maxUploadMemory = 32 << 20 // 32 MiB

type pathRequest struct {
	Path         string `json:"path" validate:"required"`
	UseSudo      bool   `json:"use_sudo"`
	SudoPassword string `json:"sudo_password"`
}

type writeFileRequest struct {
	Path         string `json:"path" validate:"required"`
	Content      string `json:"content"`
	UseSudo      bool   `json:"use_sudo"`
	SudoPassword string `json:"sudo_password"`
}

type extractZipRequest struct {
	ZipPath      string `json:"zip_path" validate:"required"`
	TargetDir    string `json:"target_dir" validate:"required"`
	UseSudo      bool   `json:"use_sudo"`
	SudoPassword string `json:"sudo_password"`
}

// handleDeleteItem removes a file or directory. Without sudo a directory
// must be empty; with sudo the delete is recursive.
func (s *Server) handleDeleteItem(w http.ResponseWriter, r *http.Request) {
	var req pathRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if err := validate.Struct(req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	_, err := s.exec.Run(r.Context(), executor.Operation{
		Kind:       executor.KindDelete,
		TargetPath: req.Path,
		Escalate:   req.UseSudo,
		Secret:     req.SudoPassword,
	})
	if err != nil {
		writeOpError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, nil)
}

// handleWriteFile creates or replaces a file with the supplied content.
func (s *Server) handleWriteFile(w http.ResponseWriter, r *http.Request) {
	var req writeFileRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if err := validate.Struct(req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	_, err := s.exec.Run(r.Context(), executor.Operation{
		Kind:       executor.KindWrite,
		TargetPath: req.Path,
		Payload:    []byte(req.Content),
		Escalate:   req.UseSudo,
		Secret:     req.SudoPassword,
	})
	if err != nil {
		writeOpError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"path": req.Path})
}

// handleCreateDir creates a directory, failing if it already exists.
func (s *Server) handleCreateDir(w http.ResponseWriter, r *http.Request) {
	var req pathRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if err := validate.Struct(req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	_, err := s.exec.Run(r.Context(), executor.Operation{
		Kind:       executor.KindMkdir,
		TargetPath: req.Path,
		Escalate:   req.UseSudo,
		Secret:     req.SudoPassword,
	})
	if err != nil {
		writeOpError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"path": req.Path})
}

// handleUploadFile accepts a multipart upload and places the file into the
// target directory. The body streams through the staging area so a failed
// placement leaves nothing behind.
func (s *Server) handleUploadFile(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(maxUploadMemory); err != nil {
		writeError(w, http.StatusBadRequest, "invalid multipart body")
		return
	}

	targetDir := r.FormValue("path")
	if targetDir == "" {
		writeError(w, http.StatusBadRequest, "path is required")
		return
	}
	useSudo := r.FormValue("use_sudo") == "true"
	sudoPassword := r.FormValue("sudo_password")

	info, err := os.Stat(targetDir)
	if err != nil {
		writeError(w, http.StatusBadRequest, "target directory does not exist")
		return
	}
	if !info.IsDir() {
		writeError(w, http.StatusBadRequest, "target path is not a directory")
		return
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, "file part is required")
		return
	}
	defer file.Close()

	if useSudo && sudoPassword == "" {
		writeError(w, http.StatusInternalServerError, codeSudoPasswordRequired)
		return
	}

	staged, err := s.area.StageFrom(file)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	finalPath := filepath.Join(targetDir, filepath.Base(header.Filename))
	mover := s.moverFor(useSudo, sudoPassword)
	if err := s.area.Commit(r.Context(), staged, finalPath, mover); err != nil {
		writeOpError(w, err)
		return
	}

	s.logger.Info("file uploaded", "path", finalPath, "size", header.Size)
	writeJSON(w, http.StatusOK, map[string]any{"path": finalPath})
}

// handleDownloadItem streams a file back as an attachment.
func (s *Server) handleDownloadItem(w http.ResponseWriter, r *http.Request) {
	path := r.URL.Query().Get("path")
	if path == "" {
		writeError(w, http.StatusBadRequest, "path query parameter is required")
		return
	}

	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			writeError(w, http.StatusNotFound, "item not found")
			return
		}
		if os.IsPermission(err) {
			writeError(w, http.StatusForbidden, "permission denied")
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if info.IsDir() {
		writeError(w, http.StatusBadRequest, "cannot download a directory")
		return
	}

	f, err := os.Open(path)
	if err != nil {
		if os.IsPermission(err) {
			writeError(w, http.StatusForbidden, "permission denied")
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	defer f.Close()

	w.Header().Set("Content-Disposition",
		fmt.Sprintf("attachment; filename=%q", filepath.Base(path)))
	http.ServeContent(w, r, filepath.Base(path), info.ModTime(), f)
}

// handleReadFile returns a text file's content, size-capped.
func (s *Server) handleReadFile(w http.ResponseWriter, r *http.Request) {
	path := r.URL.Query().Get("path")
	if path == "" {
		writeError(w, http.StatusBadRequest, "path query parameter is required")
		return
	}

	info, err := os.Stat(path)
	if err != nil {
		writeStatError(w, err)
		return
	}
	if info.IsDir() {
		writeError(w, http.StatusBadRequest, "path is a directory")
		return
	}
	if info.Size() > maxReadSize {
		writeError(w, http.StatusRequestEntityTooLarge, "file too large to read inline")
		return
	}

	content, err := os.ReadFile(path)
	if err != nil {
		writeStatError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"content": string(content),
		"size":    info.Size(),
	})
}

// handleFileInfo returns stat fields for a path.
func (s *Server) handleFileInfo(w http.ResponseWriter, r *http.Request) {
	path := r.URL.Query().Get("path")
	if path == "" {
		writeError(w, http.StatusBadRequest, "path query parameter is required")
		return
	}

	info, err := os.Stat(path)
	if err != nil {
		writeStatError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"name":     info.Name(),
		"size":     info.Size(),
		"mode":     info.Mode().String(),
		"modified": info.ModTime(),
		"is_dir":   info.IsDir(),
	})
}

// handleListDirectory lists a directory's entries.
func (s *Server) handleListDirectory(w http.ResponseWriter, r *http.Request) {
	path := r.URL.Query().Get("path")
	if path == "" {
		writeError(w, http.StatusBadRequest, "path query parameter is required")
		return
	}

	entries, err := os.ReadDir(path)
	if err != nil {
		writeStatError(w, err)
		return
	}

	items := make([]map[string]any, 0, len(entries))
	for _, entry := range entries {
		item := map[string]any{
			"name":   entry.Name(),
			"is_dir": entry.IsDir(),
		}
		if info, err := entry.Info(); err == nil {
			item["size"] = info.Size()
			item["modified"] = info.ModTime()
		}
		items = append(items, item)
	}
	writeJSON(w, http.StatusOK, map[string]any{"entries": items})
}

// handleExtractZip extracts an archive into the target directory via the
// staging area.
func (s *Server) handleExtractZip(w http.ResponseWriter, r *http.Request) {
	var req extractZipRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if err := validate.Struct(req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	if req.UseSudo && req.SudoPassword == "" {
		writeError(w, http.StatusInternalServerError, codeSudoPasswordRequired)
		return
	}

	if err := s.extractZip(r.Context(), req); err != nil {
		writeOpError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"target_dir": req.TargetDir})
}

// moverFor selects the placement strategy for staged files: plain rename
// without sudo, escalated mv+chmod with it.
func (s *Server) moverFor(useSudo bool, sudoPassword string) staging.MoveFunc {
	if !useSudo {
		return nil
	}
	return s.exec.EscalatedMove(sudoPassword)
}

// writeStatError maps os.Stat failures onto the envelope.
func writeStatError(w http.ResponseWriter, err error) {
	switch {
	case os.IsNotExist(err):
		writeError(w, http.StatusNotFound, "item not found")
	case os.IsPermission(err):
		writeError(w, http.StatusForbidden, "permission denied")
	default:
		writeError(w, http.StatusInternalServerError, err.Error())
	}
}
