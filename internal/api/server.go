// Package api is the request-facing façade of the agent: it validates
// input, selects the sudo or non-sudo path, delegates to the executor and
// staging area, and maps component errors onto the wire envelope.
package api

import (
	"log/slog"
	"net/http"
	"os"
	"path/filepath"

	"github.com/gorilla/mux"

	"github.com/remotectl/agent/internal/discovery"
	"github.com/remotectl/agent/internal/executor"
	"github.com/remotectl/agent/internal/pairing"
	"github.com/remotectl/agent/internal/session"
	"github.com/remotectl/agent/internal/staging"
)

// DeviceLister is the beacon surface the gateway needs.
type DeviceLister interface {
	List() []discovery.DeviceRecord
}

// Server wires the agent's components behind the HTTP API.
type Server struct {
	logger   *slog.Logger
	registry *pairing.Registry
	issuer   *session.Issuer
	beacon   DeviceLister
	exec     *executor.Executor
	area     *staging.Area
	shotsDir string
}

// NewServer builds the gateway. beacon may be a stopped or never-started
// beacon; discovery being down must not take the API with it.
func NewServer(logger *slog.Logger, registry *pairing.Registry, issuer *session.Issuer, beacon DeviceLister, exec *executor.Executor, area *staging.Area) *Server {
	return &Server{
		logger:   logger,
		registry: registry,
		issuer:   issuer,
		beacon:   beacon,
		exec:     exec,
		area:     area,
		shotsDir: filepath.Join(os.TempDir(), "remote-agent-shots"),
	}
}

// Router assembles all routes. Pairing, discovery, and token refresh are
// public; everything else requires a bearer token.
func (s *Server) Router() http.Handler {
	r := mux.NewRouter()
	r.Use(s.logMiddleware)

	api := r.PathPrefix("/api").Subrouter()

	// Public: trust bootstrap.
	api.HandleFunc("/discover", s.handleDiscover).Methods(http.MethodGet)
	api.HandleFunc("/request-pairing", s.handleRequestPairing).Methods(http.MethodPost)
	api.HandleFunc("/verify-pairing", s.handleVerifyPairing).Methods(http.MethodPost)
	api.HandleFunc("/token/refresh", s.handleTokenRefresh).Methods(http.MethodPost)

	// Authenticated operations.
	auth := api.NewRoute().Subrouter()
	auth.Use(s.authMiddleware)

	auth.HandleFunc("/launch-application", s.handleLaunchApplication).Methods(http.MethodPost)
	auth.HandleFunc("/delete-item", s.handleDeleteItem).Methods(http.MethodPost, http.MethodDelete)
	auth.HandleFunc("/upload-file", s.handleUploadFile).Methods(http.MethodPost)
	auth.HandleFunc("/extract-zip", s.handleExtractZip).Methods(http.MethodPost)
	auth.HandleFunc("/download-item", s.handleDownloadItem).Methods(http.MethodGet)
	auth.HandleFunc("/write-file", s.handleWriteFile).Methods(http.MethodPost)
	auth.HandleFunc("/create-dir", s.handleCreateDir).Methods(http.MethodPost)
	auth.HandleFunc("/read-file", s.handleReadFile).Methods(http.MethodGet)
	auth.HandleFunc("/file-info", s.handleFileInfo).Methods(http.MethodGet)
	auth.HandleFunc("/list-directory", s.handleListDirectory).Methods(http.MethodGet)

	auth.HandleFunc("/system-info", s.handleSystemInfo).Methods(http.MethodGet)
	auth.HandleFunc("/running-processes", s.handleRunningProcesses).Methods(http.MethodGet)
	auth.HandleFunc("/kill-process", s.handleKillProcess).Methods(http.MethodPost)
	auth.HandleFunc("/list-applications", s.handleListApplications).Methods(http.MethodGet)
	auth.HandleFunc("/open-file", s.handleOpenFile).Methods(http.MethodPost)
	auth.HandleFunc("/take-screenshot", s.handleTakeScreenshot).Methods(http.MethodGet)
	auth.HandleFunc("/active-windows", s.handleActiveWindows).Methods(http.MethodGet)
	auth.HandleFunc("/music-players", s.handleMusicPlayers).Methods(http.MethodGet)
	auth.HandleFunc("/control-player", s.handleControlPlayer).Methods(http.MethodPost)

	return r
}
