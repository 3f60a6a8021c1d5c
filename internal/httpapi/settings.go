package httpapi

import (
	"net/http"

	"github.com/KevinXu-github/goggins-ai/internal/settings"
	"github.com/KevinXu-github/goggins-ai/internal/store"
)

func (s *Server) handleGetSettings(w http.ResponseWriter, r *http.Request) {
	sessionID, ok := s.sessionID(w, r)
	if !ok {
		return
	}
	prefs, err := s.settings.Get(r.Context(), sessionID)
	if err != nil {
		s.respondDomainError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, prefs)
}

type updateSettingsResponse struct {
	Success  bool           `json:"success"`
	Settings store.Settings `json:"settings"`
}

func (s *Server) handleUpdateSettings(w http.ResponseWriter, r *http.Request) {
	sessionID, ok := s.sessionID(w, r)
	if !ok {
		return
	}
	var patch settings.Patch
	if err := decodeJSON(r, &patch); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	prefs, err := s.settings.Update(r.Context(), sessionID, patch)
	if err != nil {
		s.respondDomainError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, updateSettingsResponse{Success: true, Settings: prefs})
}
