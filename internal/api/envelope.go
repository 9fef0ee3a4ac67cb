package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/remotectl/agent/internal/executor"
	"github.com/remotectl/agent/internal/session"
)

// Error code strings controllers branch on.
const (
	codeSudoPasswordRequired = "sudo_password_required"
	codeIncorrectPassword    = "incorrect_password"
	msgInvalidPairingCode    = "Invalid or expired pairing code"
)

// writeJSON writes a success envelope. Extra fields ride alongside the
// status discriminator.
func writeJSON(w http.ResponseWriter, status int, payload map[string]any) {
	if payload == nil {
		payload = map[string]any{}
	}
	if _, ok := payload["status"]; !ok {
		payload["status"] = "success"
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(payload)
}

// writeError writes an error envelope.
func writeError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]any{
		"status": "error",
		"error":  message,
	})
}

// writeOpError is the single place executor failures become transport
// statuses. Messages never contain the escalation secret: it only ever
// travels over sudo's stdin.
func writeOpError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, executor.ErrCredentialRequired):
		writeError(w, http.StatusInternalServerError, codeSudoPasswordRequired)
	case errors.Is(err, executor.ErrIncorrectCredential):
		writeError(w, http.StatusForbidden, codeIncorrectPassword)
	case errors.Is(err, executor.ErrPermissionDenied):
		writeError(w, http.StatusForbidden, err.Error())
	case errors.Is(err, executor.ErrProtectedPath):
		writeError(w, http.StatusForbidden, err.Error())
	case errors.Is(err, executor.ErrNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, executor.ErrAlreadyExists), errors.Is(err, executor.ErrNotEmpty):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, executor.ErrUnsupported):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, session.ErrInvalidToken):
		writeError(w, http.StatusUnauthorized, err.Error())
	default:
		writeError(w, http.StatusInternalServerError, err.Error())
	}
}

// decodeJSON decodes a request body into v, rejecting unknown garbage
// early with a 400.
func decodeJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return false
	}
	return true
}
