package httpapi

import (
	"net/http"
	"strings"

	"github.com/KevinXu-github/goggins-ai/internal/speech"
	"github.com/KevinXu-github/goggins-ai/internal/store"
)

type dbStatusResponse struct {
	Status     string             `json:"status"`
	Store      string             `json:"store"`
	UserStats  store.Stats        `json:"userStats"`
	AudioCache *speech.CacheStats `json:"audioCache,omitempty"`
	LocalVoice string             `json:"localVoice"`
}

// handleDBStatus reports store reachability plus the caller's usage stats
// and the audio cache footprint.
func (s *Server) handleDBStatus(w http.ResponseWriter, r *http.Request) {
	sessionID, ok := s.sessionID(w, r)
	if !ok {
		return
	}
	if err := s.store.Ping(r.Context()); err != nil {
		respondError(w, http.StatusServiceUnavailable, "storage_unavailable", err.Error())
		return
	}
	stats, err := s.conversations.Stats(r.Context(), sessionID)
	if err != nil {
		s.respondDomainError(w, err)
		return
	}

	resp := dbStatusResponse{
		Status:     "connected",
		Store:      storeName(s.cfg.DatabaseURL),
		UserStats:  stats,
		LocalVoice: "unavailable",
	}
	if cache, err := s.speech.Stats(); err == nil {
		resp.AudioCache = &cache
	}
	if err := s.speech.LocalReady(r.Context()); err == nil {
		resp.LocalVoice = "ready"
	}
	respondJSON(w, http.StatusOK, resp)
}

func storeName(databaseURL string) string {
	switch {
	case databaseURL == "":
		return "memory"
	case strings.HasPrefix(databaseURL, "mongodb://"), strings.HasPrefix(databaseURL, "mongodb+srv://"):
		return "mongodb"
	case strings.HasPrefix(databaseURL, "postgres://"), strings.HasPrefix(databaseURL, "postgresql://"):
		return "postgres"
	default:
		return "unknown"
	}
}

type voicesResponse struct {
	Voices     []string `json:"voices"`
	CloneVoice string   `json:"cloneVoice"`
	Default    string   `json:"default"`
}

func (s *Server) handleListVoices(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, voicesResponse{
		Voices:     store.RemoteVoices(),
		CloneVoice: store.VoiceClone,
		Default:    s.cfg.DefaultVoice,
	})
}

func (s *Server) handlePerfLatency(w http.ResponseWriter, _ *http.Request) {
	if s.metrics == nil {
		respondJSON(w, http.StatusOK, map[string]any{
			"generated_at": "",
			"window_size":  0,
			"stages":       []any{},
		})
		return
	}
	respondJSON(w, http.StatusOK, s.metrics.SnapshotPipeline())
}
