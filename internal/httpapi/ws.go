package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

type wsClientMessage struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

type wsServerMessage struct {
	Type      string `json:"type"`
	Response  string `json:"response,omitempty"`
	MessageID string `json:"messageId,omitempty"`
	Fallback  bool   `json:"fallback,omitempty"`
	AudioURL  string `json:"audioUrl,omitempty"`
	Code      string `json:"code,omitempty"`
	Detail    string `json:"detail,omitempty"`
}

// handleWS carries chat turns over a websocket. Each inbound "chat" message
// produces one "chat_response"; when voice output is on, an "audio_ready"
// (or "audio_error") follows once synthesis lands.
func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	sessionID, ok := s.sessionID(w, r)
	if !ok {
		return
	}
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	outbound := make(chan wsServerMessage, 64)
	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-outbound:
				if !ok {
					return
				}
				_ = conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
				if err := conn.WriteJSON(msg); err != nil {
					cancel()
					return
				}
			}
		}
	}()

	send := func(msg wsServerMessage) {
		select {
		case outbound <- msg:
		default:
			// Keep websocket writes single-threaded; drop when the
			// outbound queue is saturated.
			s.log.Warn("ws outbound queue full, dropping message",
				zap.String("session", sessionID), zap.String("type", msg.Type))
		}
	}

	conn.SetReadLimit(1 << 20)
	_ = conn.SetReadDeadline(time.Now().Add(120 * time.Second))
	conn.SetPongHandler(func(string) error {
		_ = conn.SetReadDeadline(time.Now().Add(120 * time.Second))
		return nil
	})

	for {
		msgType, data, err := conn.ReadMessage()
		if err != nil {
			break
		}
		if msgType != websocket.TextMessage {
			continue
		}
		_ = conn.SetReadDeadline(time.Now().Add(120 * time.Second))

		var msg wsClientMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			send(wsServerMessage{Type: "error", Code: "invalid_client_message", Detail: err.Error()})
			continue
		}
		switch msg.Type {
		case "ping":
			send(wsServerMessage{Type: "pong"})
		case "chat":
			s.runWSTurn(ctx, sessionID, msg.Message, send)
		default:
			send(wsServerMessage{Type: "error", Code: "unknown_message_type", Detail: msg.Type})
		}
	}

	cancel()
	<-writerDone
}

func (s *Server) runWSTurn(ctx context.Context, sessionID, text string, send func(wsServerMessage)) {
	turn, err := s.chat.HandleTurn(ctx, sessionID, text)
	if err != nil {
		send(wsServerMessage{Type: "error", Code: "turn_failed", Detail: err.Error()})
		return
	}
	send(wsServerMessage{
		Type:      "chat_response",
		Response:  turn.AssistantMessage.Content,
		MessageID: turn.AssistantMessage.ID,
		Fallback:  turn.Fallback,
	})
	if turn.Audio == nil {
		return
	}
	go func() {
		select {
		case <-ctx.Done():
		case res := <-turn.Audio:
			if res.Err != nil {
				send(wsServerMessage{Type: "audio_error", MessageID: turn.AssistantMessage.ID, Detail: res.Err.Error()})
				return
			}
			send(wsServerMessage{
				Type:      "audio_ready",
				MessageID: turn.AssistantMessage.ID,
				AudioURL:  "/audio/" + res.Audio.CacheKey + "." + res.Audio.Format,
			})
		}
	}()
}
