package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/nerrad567/gray-logic-dali/internal/device"
)

// candidateView is a pairing candidate annotated with the local device it
// is already paired as, if any.
type candidateView struct {
	ExternalID     string      `json:"external_id"`
	Name           string      `json:"name"`
	Kind           device.Kind `json:"kind"`
	PairedDeviceID string      `json:"paired_device_id,omitempty"`
}

// handleListCandidates lists the gateway instances that can be paired as
// the requested kind.
func (s *Server) handleListCandidates(w http.ResponseWriter, r *http.Request) {
	if s.pairing == nil {
		writeError(w, http.StatusServiceUnavailable, ErrCodeNotConfigured, "pairing is not available")
		return
	}

	kind := device.Kind(chi.URLParam(r, "kind"))
	candidates, err := s.pairing.Candidates(r.Context(), kind)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	views := make([]candidateView, 0, len(candidates))
	for _, c := range candidates {
		v := candidateView{ExternalID: c.ExternalID, Name: c.Name, Kind: c.Kind}
		if d, err := s.registry.FindByExternalID(r.Context(), kind, c.ExternalID); err == nil {
			v.PairedDeviceID = d.ID
		}
		views = append(views, v)
	}
	writeJSON(w, http.StatusOK, map[string]any{"candidates": views, "count": len(views)})
}
