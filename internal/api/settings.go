package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sort"

	"github.com/nerrad567/gray-logic-dali/internal/audit"
	"github.com/nerrad567/gray-logic-dali/internal/settings"
)

// handleGetSettings returns all settings with secrets redacted.
func (s *Server) handleGetSettings(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"settings": s.settings.Redacted()})
}

// handlePutSettings writes operator settings. Every changed credential
// triggers a gateway session rebuild through the store's listeners.
//
// Keys are validated before anything is written so a bad request leaves
// the store untouched. Token keys are managed by the session and rejected.
func (s *Server) handlePutSettings(w http.ResponseWriter, r *http.Request) {
	var body map[string]string
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}
	if len(body) == 0 {
		writeBadRequest(w, "no settings supplied")
		return
	}

	keys := make([]string, 0, len(body))
	for key := range body {
		if !settings.IsCredentialKey(key) {
			writeDomainError(w, fmt.Errorf("%w: %q", settings.ErrReadOnlyKey, key))
			return
		}
		keys = append(keys, key)
	}
	sort.Strings(keys)

	for _, key := range keys {
		if err := s.settings.SetCredential(r.Context(), key, body[key]); err != nil {
			writeDomainError(w, err)
			return
		}
		// Values are never logged; passwords would end up in the audit trail.
		s.recordChange(r.Context(), "settings_updated", audit.EntitySettings, key, nil)
	}

	s.logger.Info("settings updated", "keys", keys)
	writeJSON(w, http.StatusOK, map[string]any{"settings": s.settings.Redacted()})
}
