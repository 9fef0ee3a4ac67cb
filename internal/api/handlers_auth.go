package api

import (
	"errors"
	"net/http"

	"github.com/remotectl/agent/internal/pairing"
	"github.com/remotectl/agent/internal/session"
	"github.com/remotectl/agent/internal/validate"
)

type requestPairingRequest struct {
	DeviceID string `json:"device_id" validate:"required"`
}

type verifyPairingRequest struct {
	DeviceID string `json:"device_id" validate:"required"`
	Code     string `json:"code" validate:"required,paircode"`
}

type tokenRefreshRequest struct {
	Refresh string `json:"refresh" validate:"required"`
}

// handleDiscover returns the beacon's current peer view.
func (s *Server) handleDiscover(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"devices": s.beacon.List(),
	})
}

// handleRequestPairing issues a fresh pairing code for a device identity.
// The code is returned to the caller and must be relayed out-of-band to
// whoever is physically at the agent.
func (s *Server) handleRequestPairing(w http.ResponseWriter, r *http.Request) {
	var req requestPairingRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if err := validate.Struct(req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	code, ttl, err := s.registry.Request(req.DeviceID)
	if err != nil {
		if errors.Is(err, pairing.ErrInvalidRequest) {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	s.logger.Info("pairing code issued", "device_id", req.DeviceID)
	writeJSON(w, http.StatusOK, map[string]any{
		"pairing_code": code,
		"expires_in":   int(ttl.Seconds()),
	})
}

// handleVerifyPairing redeems a pairing code for a credential pair. All
// pairing failures collapse into one client-facing message so the response
// does not reveal whether a device identity is known.
func (s *Server) handleVerifyPairing(w http.ResponseWriter, r *http.Request) {
	var req verifyPairingRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if err := validate.Struct(req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	deviceID, err := s.registry.Verify(req.DeviceID, req.Code)
	if err != nil {
		s.logger.Warn("pairing verification failed", "device_id", req.DeviceID, "reason", err)
		writeError(w, http.StatusBadRequest, msgInvalidPairingCode)
		return
	}

	cred, err := s.issuer.Issue(deviceID)
	if err != nil {
		s.logger.Error("credential issuance failed", "device_id", deviceID, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to issue credentials")
		return
	}

	s.logger.Info("device paired", "device_id", deviceID)
	writeJSON(w, http.StatusOK, map[string]any{
		"access":  cred.Access,
		"refresh": cred.Refresh,
	})
}

// handleTokenRefresh exchanges a refresh token for a new access token.
func (s *Server) handleTokenRefresh(w http.ResponseWriter, r *http.Request) {
	var req tokenRefreshRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if err := validate.Struct(req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	access, err := s.issuer.Refresh(req.Refresh)
	if err != nil {
		if errors.Is(err, session.ErrInvalidToken) {
			writeError(w, http.StatusUnauthorized, err.Error())
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"access": access})
}
