// Package chat runs one request/response turn against the language model,
// persisting both sides of the exchange and optionally kicking off speech
// synthesis for the reply.
package chat

import (
	"context"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/KevinXu-github/goggins-ai/internal/apperr"
	"github.com/KevinXu-github/goggins-ai/internal/conversation"
	"github.com/KevinXu-github/goggins-ai/internal/llm"
	"github.com/KevinXu-github/goggins-ai/internal/observability"
	"github.com/KevinXu-github/goggins-ai/internal/settings"
	"github.com/KevinXu-github/goggins-ai/internal/speech"
	"github.com/KevinXu-github/goggins-ai/internal/store"
)

// FallbackResponse is returned (and persisted) whenever the model call
// fails. Model failures never surface as hard errors to the chat surface.
const FallbackResponse = "I can't provide a response right now. Please make sure you've set up your OpenAI API key correctly."

const (
	chatTemperature = 0.7
	chatMaxTokens   = 256
)

const basePrompt = "You are David Goggins, a former Navy SEAL, ultramarathon runner, and motivational speaker " +
	"known for mental toughness and pushing beyond limits. Respond as David Goggins would, using his direct, " +
	"no-excuses style and occasional profanity."

// SystemPrompt derives the model's system message from the stored intensity.
// Unknown values get the generic template.
func SystemPrompt(intensity store.Intensity) string {
	switch intensity {
	case store.IntensityChallenging:
		return basePrompt + " Be challenging but supportive, focusing on pushing people beyond their perceived limits. " +
			"Use phrases like 'stay hard', 'embrace the suck', and 'callus your mind'. " +
			"Remind people that discomfort is where growth happens."
	case store.IntensityReflective:
		return basePrompt + " Be reflective and share personal stories and lessons from your journey. " +
			"Talk about your transformation from overweight to ultramarathoner, or your SEAL training experiences. " +
			"Connect these to the person's challenges."
	case store.IntensityDrill:
		return basePrompt + " Act like a drill instructor - be loud (USE CAPS), intense, and in-your-face. " +
			"Challenge excuses immediately. Be extremely direct and forceful. Call out weakness and demand action. " +
			"Use short, powerful sentences."
	default:
		return basePrompt + " Focus on mental toughness, accountability, and pushing beyond comfort zones."
	}
}

type Service struct {
	conversations *conversation.Service
	settings      *settings.Service
	client        llm.Client
	speech        *speech.Orchestrator
	metrics       *observability.Metrics
	log           *zap.Logger
	historyWindow int
}

type Options struct {
	Conversations *conversation.Service
	Settings      *settings.Service
	Client        llm.Client
	// Speech is optional; without it turns never produce audio.
	Speech  *speech.Orchestrator
	Metrics *observability.Metrics
	Log     *zap.Logger
	// HistoryWindow caps how many trailing messages accompany the system
	// prompt on each model call, oldest dropped first.
	HistoryWindow int
}

func NewService(opts Options) *Service {
	if opts.HistoryWindow <= 0 {
		opts.HistoryWindow = 12
	}
	if opts.Log == nil {
		opts.Log = zap.NewNop()
	}
	return &Service{
		conversations: opts.Conversations,
		settings:      opts.Settings,
		client:        opts.Client,
		speech:        opts.Speech,
		metrics:       opts.Metrics,
		log:           opts.Log,
		historyWindow: opts.HistoryWindow,
	}
}

// AudioResult is the payload of a turn's audio future.
type AudioResult struct {
	Audio speech.Audio
	Err   error
}

// Turn is the outcome of one exchange. Audio is nil unless voice output was
// enabled; otherwise it delivers exactly one AudioResult once synthesis
// finishes, independently of the already-returned text.
type Turn struct {
	UserMessage      store.Message
	AssistantMessage store.Message
	Fallback         bool
	Audio            <-chan AudioResult
}

// HandleTurn persists the user's text, asks the model for a reply under the
// session's intensity prompt, persists that reply, and returns both messages.
// The user message is stored before the model is called so a crash mid-turn
// never loses input.
func (s *Service) HandleTurn(ctx context.Context, sessionID, text string) (Turn, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		s.countTurn("rejected")
		return Turn{}, apperr.Validation("message", "must not be empty")
	}

	userMsg, err := s.conversations.AppendMessage(ctx, sessionID, store.RoleUser, text, nil)
	if err != nil {
		return Turn{}, err
	}

	prefs, err := s.settings.Get(ctx, sessionID)
	if err != nil {
		return Turn{}, err
	}

	history, err := s.conversations.History(ctx, sessionID, "")
	if err != nil {
		return Turn{}, err
	}

	start := time.Now()
	reply, llmErr := s.client.Complete(ctx, llm.Request{
		System:      SystemPrompt(prefs.Intensity),
		History:     trailingWindow(history, s.historyWindow),
		Temperature: chatTemperature,
		MaxTokens:   chatMaxTokens,
	})
	s.metrics.ObservePipelineStage("llm_complete", time.Since(start))

	fallback := false
	if llmErr != nil {
		s.log.Warn("model call failed, serving fallback response",
			zap.String("session", sessionID), zap.Error(llmErr))
		reply = FallbackResponse
		fallback = true
	}
	reply = strings.TrimSpace(reply)
	if reply == "" {
		reply = FallbackResponse
		fallback = true
	}

	assistantMsg, err := s.conversations.AppendMessage(ctx, sessionID, store.RoleAssistant, reply, nil)
	if err != nil {
		return Turn{}, err
	}

	turn := Turn{UserMessage: userMsg, AssistantMessage: assistantMsg, Fallback: fallback}
	if fallback {
		s.countTurn("fallback")
	} else {
		s.countTurn("ok")
	}

	if prefs.VoiceEnabled && s.speech != nil {
		turn.Audio = s.startSynthesis(ctx, sessionID, assistantMsg.ID, reply, prefs)
	}
	return turn, nil
}

// startSynthesis produces the turn's audio future. The goroutine runs on a
// detached context so the audio still lands in the cache (and on the
// message) after the HTTP request that triggered it is gone.
func (s *Service) startSynthesis(ctx context.Context, sessionID, messageID, text string, prefs store.Settings) <-chan AudioResult {
	ch := make(chan AudioResult, 1)
	bg := context.WithoutCancel(ctx)
	go func() {
		audio, err := s.speech.Synthesize(bg, speech.Request{
			Text:  text,
			Voice: prefs.Voice,
			Speed: prefs.VoiceSpeed,
		})
		if err != nil {
			s.log.Warn("turn audio synthesis failed",
				zap.String("session", sessionID), zap.Error(err))
			ch <- AudioResult{Err: err}
			return
		}
		if err := s.conversations.AttachAudio(bg, sessionID, messageID, store.AudioRef{
			VoiceType: prefs.Voice,
			FileURL:   "/audio/" + audio.CacheKey + "." + audio.Format,
			CacheKey:  audio.CacheKey,
			FileSize:  audio.Size,
		}); err != nil {
			s.log.Warn("attaching audio to message failed",
				zap.String("session", sessionID), zap.Error(err))
		}
		ch <- AudioResult{Audio: audio}
	}()
	return ch
}

func trailingWindow(messages []store.Message, max int) []llm.Message {
	if len(messages) > max {
		messages = messages[len(messages)-max:]
	}
	out := make([]llm.Message, 0, len(messages))
	for _, m := range messages {
		role := "user"
		if m.Role == store.RoleAssistant {
			role = "assistant"
		}
		out = append(out, llm.Message{Role: role, Content: m.Content})
	}
	return out
}

func (s *Service) countTurn(outcome string) {
	if s.metrics != nil {
		s.metrics.ChatTurns.WithLabelValues(outcome).Inc()
	}
}
