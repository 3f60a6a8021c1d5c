// Package httpapi exposes the chatbot over HTTP: REST endpoints mirroring
// the chat surface plus a websocket for push delivery.
package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/KevinXu-github/goggins-ai/internal/apperr"
	"github.com/KevinXu-github/goggins-ai/internal/chat"
	"github.com/KevinXu-github/goggins-ai/internal/config"
	"github.com/KevinXu-github/goggins-ai/internal/conversation"
	"github.com/KevinXu-github/goggins-ai/internal/identity"
	"github.com/KevinXu-github/goggins-ai/internal/observability"
	"github.com/KevinXu-github/goggins-ai/internal/settings"
	"github.com/KevinXu-github/goggins-ai/internal/speech"
	"github.com/KevinXu-github/goggins-ai/internal/store"
)

type Server struct {
	cfg           config.Config
	resolver      *identity.Resolver
	chat          *chat.Service
	conversations *conversation.Service
	settings      *settings.Service
	speech        *speech.Orchestrator
	store         store.Store
	metrics       *observability.Metrics
	log           *zap.Logger
	upgrader      websocket.Upgrader
}

type Options struct {
	Config        config.Config
	Resolver      *identity.Resolver
	Chat          *chat.Service
	Conversations *conversation.Service
	Settings      *settings.Service
	Speech        *speech.Orchestrator
	Store         store.Store
	Metrics       *observability.Metrics
	Log           *zap.Logger
}

func New(opts Options) *Server {
	if opts.Log == nil {
		opts.Log = zap.NewNop()
	}
	return &Server{
		cfg:           opts.Config,
		resolver:      opts.Resolver,
		chat:          opts.Chat,
		conversations: opts.Conversations,
		settings:      opts.Settings,
		speech:        opts.Speech,
		store:         opts.Store,
		metrics:       opts.Metrics,
		log:           opts.Log,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin: func(r *http.Request) bool {
				// Only allow browser websocket connections from the same
				// origin unless explicitly opened up.
				if opts.Config.AllowAnyOrigin {
					return true
				}
				origin := strings.TrimSpace(r.Header.Get("Origin"))
				if origin == "" {
					// Non-browser clients often omit Origin. Allow them.
					return true
				}
				u, err := url.Parse(origin)
				if err != nil {
					return false
				}
				if u.Scheme != "http" && u.Scheme != "https" {
					return false
				}
				return strings.EqualFold(u.Host, r.Host)
			},
		},
	}
}

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Get("/healthz", s.handleHealth)
	r.Get("/readyz", s.handleReady)
	r.Get("/metrics", func(w http.ResponseWriter, r *http.Request) {
		observability.MetricsHandler().ServeHTTP(w, r)
	})

	r.Group(func(r chi.Router) {
		r.Use(s.resolver.Middleware)

		r.Post("/api/chat", s.handleChat)
		r.Get("/api/history", s.handleHistory)
		r.Get("/api/settings", s.handleGetSettings)
		r.Post("/api/settings", s.handleUpdateSettings)
		r.Get("/api/conversations", s.handleListConversations)
		r.Post("/api/conversations", s.handleCreateConversation)
		r.Put("/api/conversations/{id}/switch", s.handleSwitchConversation)
		r.Put("/api/conversations/{id}/title", s.handleRenameConversation)
		r.Delete("/api/conversations/{id}", s.handleDeleteConversation)
		r.Get("/api/search", s.handleSearch)
		r.Get("/api/user-stats", s.handleUserStats)
		r.Get("/api/db-status", s.handleDBStatus)
		r.Get("/api/voices", s.handleListVoices)
		r.Get("/api/perf/latency", s.handlePerfLatency)
		r.Post("/api/tts", s.handleRemoteTTS)
		r.Post("/api/tortoise-tts", s.handleCloneTTS)
		r.Get("/audio/{file}", s.handleAudioFile)
		r.Get("/api/ws", s.handleWS)
	})

	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{"status": "ok"})
}

func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	if err := s.store.Ping(r.Context()); err != nil {
		respondError(w, http.StatusServiceUnavailable, "store_unavailable", err.Error())
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"status": "ready"})
}

// sessionID returns the caller's session token. The identity middleware
// guarantees one on every /api route.
func (s *Server) sessionID(w http.ResponseWriter, r *http.Request) (string, bool) {
	token, ok := identity.TokenFrom(r.Context())
	if !ok {
		respondError(w, http.StatusUnauthorized, "no_session", "no session token on request")
		return "", false
	}
	return token, true
}

type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

var errEmptyBody = errors.New("empty body")

func decodeJSON(r *http.Request, out any) error {
	if r.Body == nil {
		return errEmptyBody
	}
	defer r.Body.Close()
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(out); err != nil {
		if strings.Contains(strings.ToLower(err.Error()), "eof") {
			return errEmptyBody
		}
		return err
	}
	return nil
}

func respondJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func respondError(w http.ResponseWriter, status int, code, message string) {
	respondJSON(w, status, errorResponse{Error: message, Code: code})
}

// respondDomainError maps the error taxonomy onto HTTP statuses.
func (s *Server) respondDomainError(w http.ResponseWriter, err error) {
	var ve *apperr.ValidationError
	var re *apperr.RemoteSynthesisError
	var le *apperr.LocalSynthesisError
	switch {
	case errors.As(err, &ve):
		respondError(w, http.StatusBadRequest, "invalid_request", ve.Error())
	case errors.Is(err, apperr.ErrNotFound):
		respondError(w, http.StatusNotFound, "not_found", err.Error())
	case errors.Is(err, apperr.ErrStorageUnavailable):
		respondError(w, http.StatusServiceUnavailable, "storage_unavailable", err.Error())
	case apperr.IsTimeout(err):
		respondError(w, http.StatusGatewayTimeout, "synthesis_timeout", err.Error())
	case errors.As(err, &re):
		respondError(w, http.StatusBadGateway, "remote_synthesis_failed", re.Error())
	case errors.As(err, &le):
		respondError(w, http.StatusInternalServerError, "local_synthesis_failed", le.Error())
	case errors.Is(err, apperr.ErrPostconditionFailed):
		respondError(w, http.StatusInternalServerError, "missing_artifact", err.Error())
	default:
		s.log.Error("unhandled request error", zap.Error(err))
		respondError(w, http.StatusInternalServerError, "internal", "internal server error")
	}
}
