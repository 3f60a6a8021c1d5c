package httpapi

import (
	"net/http"

	"github.com/KevinXu-github/goggins-ai/internal/speech"
	"github.com/KevinXu-github/goggins-ai/internal/store"

	"github.com/go-chi/chi/v5"
)

type ttsRequest struct {
	Text    string  `json:"text"`
	Voice   string  `json:"voice"`
	Speed   float64 `json:"speed"`
	Quality string  `json:"quality"`
}

var audioContentTypes = map[string]string{
	"mp3": "audio/mpeg",
	"wav": "audio/wav",
}

// handleRemoteTTS synthesizes with the fast remote backend and streams the
// resulting file back.
func (s *Server) handleRemoteTTS(w http.ResponseWriter, r *http.Request) {
	if _, ok := s.sessionID(w, r); !ok {
		return
	}
	var req ttsRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	if req.Voice == store.VoiceClone {
		respondError(w, http.StatusBadRequest, "invalid_request", "use /api/tortoise-tts for the clone voice")
		return
	}
	s.serveSynthesis(w, r, speech.Request{Text: req.Text, Voice: req.Voice, Speed: req.Speed})
}

// handleCloneTTS synthesizes with the local voice-clone subprocess. Slow;
// the request stays open until the file is ready or the preset deadline
// kills the generator.
func (s *Server) handleCloneTTS(w http.ResponseWriter, r *http.Request) {
	if _, ok := s.sessionID(w, r); !ok {
		return
	}
	var req ttsRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	s.serveSynthesis(w, r, speech.Request{Text: req.Text, Voice: store.VoiceClone, Quality: req.Quality})
}

func (s *Server) serveSynthesis(w http.ResponseWriter, r *http.Request, req speech.Request) {
	audio, err := s.speech.Synthesize(r.Context(), req)
	if err != nil {
		s.respondDomainError(w, err)
		return
	}
	if ct, ok := audioContentTypes[audio.Format]; ok {
		w.Header().Set("Content-Type", ct)
	}
	w.Header().Set("X-Audio-Cache", cacheHeader(audio))
	http.ServeFile(w, r, audio.Path)
}

func cacheHeader(audio speech.Audio) string {
	switch {
	case audio.Fallback:
		return "fallback"
	case audio.Cached:
		return "hit"
	default:
		return "miss"
	}
}

// handleAudioFile serves an already-cached synthesis result by file name.
func (s *Server) handleAudioFile(w http.ResponseWriter, r *http.Request) {
	path, err := s.speech.ResolveFile(chi.URLParam(r, "file"))
	if err != nil {
		s.respondDomainError(w, err)
		return
	}
	http.ServeFile(w, r, path)
}
