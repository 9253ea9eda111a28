package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/strangelab/sods-identity-core/internal/registry"
)

// List pagination bounds.
const (
	defaultListLimit = 100
	maxListLimit     = 1000
)

// handleListDevices returns resolved devices, most recently seen first.
//
// Query parameters:
//   - limit: maximum devices to return (default 100, max 1000)
//   - offset: devices to skip
//   - fp: return only the device bound to this fingerprint
func (s *Server) handleListDevices(w http.ResponseWriter, r *http.Request) {
	limit := queryInt(r, "limit", defaultListLimit)
	offset := queryInt(r, "offset", 0)

	if limit < 1 || limit > maxListLimit {
		writeBadRequest(w, "limit must be between 1 and 1000")
		return
	}
	if offset < 0 {
		writeBadRequest(w, "offset must not be negative")
		return
	}

	if fp := r.URL.Query().Get("fp"); fp != "" {
		s.handleFindByFingerprint(w, r, fp, limit, offset)
		return
	}

	devices, err := s.store.ListDevices(r.Context(), limit, offset)
	if err != nil {
		s.logger.Error("device list failed", "error", err)
		writeInternalError(w, "device list unavailable")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"devices": devices,
		"count":   len(devices),
		"limit":   limit,
		"offset":  offset,
	})
}

// handleFindByFingerprint resolves a fingerprint to its owning device.
// An unbound fingerprint yields an empty list rather than 404 so that
// clients can probe without special-casing the miss.
func (s *Server) handleFindByFingerprint(w http.ResponseWriter, r *http.Request, fp string, limit, offset int) {
	devices := []registry.Device{}

	dev, err := s.store.FindByFingerprint(r.Context(), fp)
	switch {
	case err == nil:
		devices = append(devices, *dev)
	case errors.Is(err, registry.ErrDeviceNotFound):
	default:
		s.logger.Error("fingerprint lookup failed", "fingerprint", fp, "error", err)
		writeInternalError(w, "device lookup unavailable")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"devices": devices,
		"count":   len(devices),
		"limit":   limit,
		"offset":  offset,
	})
}

// handleGetDevice returns one device with its fingerprint bindings.
func (s *Server) handleGetDevice(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	dev, err := s.store.GetDevice(r.Context(), id)
	if err != nil {
		if errors.Is(err, registry.ErrDeviceNotFound) {
			writeNotFound(w, "device not found")
			return
		}
		s.logger.Error("device fetch failed", "device_id", id, "error", err)
		writeInternalError(w, "device unavailable")
		return
	}

	writeJSON(w, http.StatusOK, dev)
}

// handleListAliases returns the aliases attached to a device.
func (s *Server) handleListAliases(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	aliases, err := s.store.ListAliases(r.Context(), id)
	if err != nil {
		if errors.Is(err, registry.ErrDeviceNotFound) {
			writeNotFound(w, "device not found")
			return
		}
		s.logger.Error("alias list failed", "device_id", id, "error", err)
		writeInternalError(w, "aliases unavailable")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"device_id": id,
		"aliases":   aliases,
	})
}

// setAliasRequest is the PUT aliases body.
type setAliasRequest struct {
	Alias  string `json:"alias"`
	Source string `json:"source,omitempty"`
}

// handleSetAlias attaches or replaces a human-readable alias on a
// device. One alias is kept per source; the default source is "manual".
func (s *Server) handleSetAlias(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var req setAliasRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}
	if req.Alias == "" {
		writeBadRequest(w, "alias must not be empty")
		return
	}
	if req.Source == "" {
		req.Source = "manual"
	}

	if err := s.store.SetAlias(r.Context(), id, req.Alias, req.Source); err != nil {
		switch {
		case errors.Is(err, registry.ErrDeviceNotFound):
			writeNotFound(w, "device not found")
		case errors.Is(err, registry.ErrInvalidAlias):
			writeBadRequest(w, "invalid alias")
		default:
			s.logger.Error("alias update failed", "device_id", id, "error", err)
			writeInternalError(w, "alias update failed")
		}
		return
	}

	writeJSON(w, http.StatusOK, registry.Alias{
		DeviceID: id,
		Alias:    req.Alias,
		Source:   req.Source,
	})
}

// queryInt parses an integer query parameter, falling back to a default
// when absent or unparseable.
func queryInt(r *http.Request, name string, fallback int) int {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return fallback
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}
	return v
}
