package api

import (
	"net/http"
	"os"

	"github.com/remotectl/agent/internal/apps"
	"github.com/remotectl/agent/internal/executor"
	"github.com/remotectl/agent/internal/sysinfo"
	"github.com/remotectl/agent/internal/validate"
)

type launchApplicationRequest struct {
	AppPath      string `json:"app_path"`
	AppName      string `json:"app_name"`
	UseSudo      bool   `json:"use_sudo"`
	SudoPassword string `json:"sudo_password"`
}

type killProcessRequest struct {
	PID int32 `json:"pid" validate:"required,gt=0"`
}

type openFileRequest struct {
	Path string `json:"path" validate:"required"`
}

type controlPlayerRequest struct {
	Player  string `json:"player"`
	Command string `json:"command" validate:"required,oneof=play pause play-pause next previous stop"`
}

// handleLaunchApplication resolves a desktop entry and starts it detached.
// Escalation without a password short-circuits to sudo_password_required
// before anything is resolved or executed.
func (s *Server) handleLaunchApplication(w http.ResponseWriter, r *http.Request) {
	var req launchApplicationRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.AppPath == "" && req.AppName == "" {
		writeError(w, http.StatusBadRequest, "app_path or app_name is required")
		return
	}
	if req.UseSudo && req.SudoPassword == "" {
		writeError(w, http.StatusInternalServerError, codeSudoPasswordRequired)
		return
	}

	var app apps.Application
	var err error
	switch {
	case req.AppPath != "":
		app, err = apps.Parse(req.AppPath)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid desktop entry")
			return
		}
	default:
		var ok bool
		app, ok = apps.FindByName(req.AppName)
		if !ok {
			writeError(w, http.StatusNotFound, "application not found")
			return
		}
	}

	argv, err := apps.ResolveExec(app.Exec)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid desktop entry")
		return
	}

	outcome, err := s.exec.Run(r.Context(), executor.Operation{
		Kind:     executor.KindLaunch,
		Command:  argv,
		Escalate: req.UseSudo,
		Secret:   req.SudoPassword,
	})
	if err != nil {
		writeOpError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"command": outcome.Command})
}

// handleSystemInfo returns a telemetry snapshot.
func (s *Server) handleSystemInfo(w http.ResponseWriter, r *http.Request) {
	snap, err := sysinfo.Collect()
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"system": snap})
}

// handleRunningProcesses lists processes.
func (s *Server) handleRunningProcesses(w http.ResponseWriter, r *http.Request) {
	procs, err := sysinfo.Processes()
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"processes": procs})
}

// handleKillProcess terminates a process by PID.
func (s *Server) handleKillProcess(w http.ResponseWriter, r *http.Request) {
	var req killProcessRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if err := validate.Struct(req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	if err := sysinfo.Kill(req.PID); err != nil {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}
	s.logger.Info("process killed", "pid", req.PID)
	writeJSON(w, http.StatusOK, nil)
}

// handleListApplications lists installed desktop applications.
func (s *Server) handleListApplications(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"applications": apps.List()})
}

// handleOpenFile opens a path with the desktop's default handler.
func (s *Server) handleOpenFile(w http.ResponseWriter, r *http.Request) {
	var req openFileRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if err := validate.Struct(req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	if _, err := os.Stat(req.Path); err != nil {
		writeStatError(w, err)
		return
	}
	if err := sysinfo.OpenPath(req.Path); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, nil)
}

// handleTakeScreenshot captures the screen and streams the PNG back. The
// image file is removed once served.
func (s *Server) handleTakeScreenshot(w http.ResponseWriter, r *http.Request) {
	path, err := sysinfo.Screenshot(s.shotsDir)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	defer os.Remove(path)

	w.Header().Set("Content-Type", "image/png")
	w.Header().Set("Content-Disposition", `attachment; filename="screenshot.png"`)
	http.ServeFile(w, r, path)
}

// handleActiveWindows lists managed desktop windows.
func (s *Server) handleActiveWindows(w http.ResponseWriter, r *http.Request) {
	windows, err := sysinfo.Windows()
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"windows": windows})
}

// handleMusicPlayers lists active media players.
func (s *Server) handleMusicPlayers(w http.ResponseWriter, r *http.Request) {
	players, err := sysinfo.MediaPlayers()
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"players": players})
}

// handleControlPlayer forwards a transport command to a player.
func (s *Server) handleControlPlayer(w http.ResponseWriter, r *http.Request) {
	var req controlPlayerRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if err := validate.Struct(req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	if err := sysinfo.ControlPlayer(req.Player, req.Command); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, nil)
}
