package api

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/nerrad567/gray-logic-dali/internal/audit"
	"github.com/nerrad567/gray-logic-dali/internal/device"
)

// createDeviceRequest pairs a gateway instance as a device.
type createDeviceRequest struct {
	Name       string      `json:"name"`
	Kind       device.Kind `json:"kind"`
	ExternalID string      `json:"external_id"`
}

// setCapabilityRequest carries the value for a capability write.
type setCapabilityRequest struct {
	Value any `json:"value"`
}

// handleListDevices returns paired devices, optionally filtered by ?kind=.
func (s *Server) handleListDevices(w http.ResponseWriter, r *http.Request) {
	var devices []device.Device
	if kind := r.URL.Query().Get("kind"); kind != "" {
		if err := device.ValidateKind(device.Kind(kind)); err != nil {
			writeDomainError(w, err)
			return
		}
		devices = s.registry.ListByKind(r.Context(), device.Kind(kind))
	} else {
		devices = s.registry.ListDevices(r.Context())
	}
	if devices == nil {
		devices = []device.Device{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"devices": devices, "count": len(devices)})
}

// handleCreateDevice pairs a gateway instance.
func (s *Server) handleCreateDevice(w http.ResponseWriter, r *http.Request) {
	var req createDeviceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}

	d := &device.Device{
		Name:       strings.TrimSpace(req.Name),
		Kind:       req.Kind,
		ExternalID: strings.TrimSpace(req.ExternalID),
	}
	if err := s.registry.CreateDevice(r.Context(), d); err != nil {
		writeDomainError(w, err)
		return
	}

	s.recordChange(r.Context(), "device_created", audit.EntityDevice, d.ID, map[string]any{
		"kind":        string(d.Kind),
		"external_id": d.ExternalID,
	})
	writeJSON(w, http.StatusCreated, d)
}

func (s *Server) handleGetDevice(w http.ResponseWriter, r *http.Request) {
	d, err := s.registry.GetDevice(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, d)
}

func (s *Server) handleDeleteDevice(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := s.registry.DeleteDevice(r.Context(), id); err != nil {
		writeDomainError(w, err)
		return
	}
	s.recordChange(r.Context(), "device_deleted", audit.EntityDevice, id, nil)
	w.WriteHeader(http.StatusNoContent)
}

// handleSetCapability forwards a capability write to the gateway. The
// response is 202: state changes when the gateway echoes the new value.
func (s *Server) handleSetCapability(w http.ResponseWriter, r *http.Request) {
	var req setCapabilityRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}

	id := chi.URLParam(r, "id")
	capability := device.Capability(chi.URLParam(r, "capability"))
	if err := s.devices.SetCapability(r.Context(), id, capability, req.Value); err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]any{
		"status":     "accepted",
		"device_id":  id,
		"capability": capability,
	})
}

func (s *Server) handleToggle(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := s.devices.Toggle(r.Context(), id); err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]any{"status": "accepted", "device_id": id})
}

// handleRecallScene recalls a zero-based scene on a paired scene controller.
func (s *Server) handleRecallScene(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	scene, err := strconv.Atoi(chi.URLParam(r, "scene"))
	if err != nil || scene < 0 {
		writeBadRequest(w, "scene must be a non-negative integer")
		return
	}

	if err := s.devices.RecallScene(r.Context(), id, scene); err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]any{"status": "accepted", "device_id": id, "scene": scene})
}
