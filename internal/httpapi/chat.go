package httpapi

import (
	"net/http"

	"github.com/KevinXu-github/goggins-ai/internal/store"
)

type chatRequest struct {
	Message string `json:"message"`
}

type chatResponse struct {
	Response  string `json:"response"`
	SessionID string `json:"sessionId"`
	MessageID string `json:"messageId"`
	Fallback  bool   `json:"fallback,omitempty"`
}

func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	sessionID, ok := s.sessionID(w, r)
	if !ok {
		return
	}
	var req chatRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}

	turn, err := s.chat.HandleTurn(r.Context(), sessionID, req.Message)
	if err != nil {
		s.respondDomainError(w, err)
		return
	}
	// turn.Audio, when present, keeps running after this response; the
	// synthesized file lands on the message and in the cache.
	respondJSON(w, http.StatusOK, chatResponse{
		Response:  turn.AssistantMessage.Content,
		SessionID: sessionID,
		MessageID: turn.AssistantMessage.ID,
		Fallback:  turn.Fallback,
	})
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	sessionID, ok := s.sessionID(w, r)
	if !ok {
		return
	}
	msgs, err := s.conversations.History(r.Context(), sessionID, r.URL.Query().Get("conversationId"))
	if err != nil {
		s.respondDomainError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string][]store.Message{"messages": msgs})
}
