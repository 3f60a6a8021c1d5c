package chat

import (
	"context"
	"errors"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/KevinXu-github/goggins-ai/internal/apperr"
	"github.com/KevinXu-github/goggins-ai/internal/conversation"
	"github.com/KevinXu-github/goggins-ai/internal/llm"
	"github.com/KevinXu-github/goggins-ai/internal/settings"
	"github.com/KevinXu-github/goggins-ai/internal/speech"
	"github.com/KevinXu-github/goggins-ai/internal/store"
)

func newTestService(t *testing.T, client llm.Client, window int) (*Service, *conversation.Service, *settings.Service) {
	t.Helper()
	st := store.NewMemoryStore()
	convs := conversation.NewService(st, nil)
	prefs := settings.NewService(st, nil)
	svc := NewService(Options{
		Conversations: convs,
		Settings:      prefs,
		Client:        client,
		HistoryWindow: window,
	})
	return svc, convs, prefs
}

func messageCount(t *testing.T, convs *conversation.Service, sessionID string) int {
	t.Helper()
	msgs, err := convs.History(context.Background(), sessionID, "")
	if err != nil {
		t.Fatalf("History: %v", err)
	}
	return len(msgs)
}

func TestHandleTurnRejectsBlankInput(t *testing.T) {
	client := &llm.MockClient{}
	svc, convs, _ := newTestService(t, client, 12)
	const session = "user_blank"

	before := messageCount(t, convs, session)
	_, err := svc.HandleTurn(context.Background(), session, "   \n\t ")
	if !apperr.IsValidation(err) {
		t.Fatalf("err = %v, want ValidationError", err)
	}
	if got := messageCount(t, convs, session); got != before {
		t.Fatalf("message count changed %d -> %d on rejected input", before, got)
	}
	if len(client.Calls) != 0 {
		t.Fatalf("model was called %d times for blank input", len(client.Calls))
	}
}

func TestHandleTurnPersistsBothSides(t *testing.T) {
	client := &llm.MockClient{Reply: "STAY HARD. Get after it."}
	svc, convs, _ := newTestService(t, client, 12)
	const session = "user_turn"

	turn, err := svc.HandleTurn(context.Background(), session, "I want to quit")
	if err != nil {
		t.Fatalf("HandleTurn: %v", err)
	}
	if turn.Fallback {
		t.Fatal("unexpected fallback")
	}
	if turn.UserMessage.Content != "I want to quit" {
		t.Fatalf("UserMessage.Content = %q", turn.UserMessage.Content)
	}
	if turn.AssistantMessage.Content != "STAY HARD. Get after it." {
		t.Fatalf("AssistantMessage.Content = %q", turn.AssistantMessage.Content)
	}

	msgs, err := convs.History(context.Background(), session, "")
	if err != nil {
		t.Fatalf("History: %v", err)
	}
	// Welcome message plus the two new turns.
	if len(msgs) != 3 {
		t.Fatalf("len(msgs) = %d, want 3", len(msgs))
	}
	last, prev := msgs[len(msgs)-1], msgs[len(msgs)-2]
	if prev.Role != store.RoleUser || prev.Content != "I want to quit" {
		t.Fatalf("persisted user message = %+v", prev)
	}
	if last.Role != store.RoleAssistant || last.Content != "STAY HARD. Get after it." {
		t.Fatalf("persisted assistant message = %+v", last)
	}
}

func TestHandleTurnUsesIntensityPrompt(t *testing.T) {
	client := &llm.MockClient{Reply: "NO EXCUSES."}
	svc, _, prefs := newTestService(t, client, 12)
	const session = "user_drill"

	drill := string(store.IntensityDrill)
	if _, err := prefs.Update(context.Background(), session, settings.Patch{Intensity: &drill}); err != nil {
		t.Fatalf("Update settings: %v", err)
	}
	if _, err := svc.HandleTurn(context.Background(), session, "hello"); err != nil {
		t.Fatalf("HandleTurn: %v", err)
	}
	if len(client.Calls) != 1 {
		t.Fatalf("model calls = %d, want 1", len(client.Calls))
	}
	if !strings.Contains(client.Calls[0].System, "drill instructor") {
		t.Fatalf("system prompt %q does not use the drill template", client.Calls[0].System)
	}
}

func TestHandleTurnBoundsHistoryWindow(t *testing.T) {
	client := &llm.MockClient{Reply: "ok"}
	svc, _, _ := newTestService(t, client, 4)
	const session = "user_window"

	for i := 0; i < 6; i++ {
		if _, err := svc.HandleTurn(context.Background(), session, "message"); err != nil {
			t.Fatalf("HandleTurn %d: %v", i, err)
		}
	}
	last := client.Calls[len(client.Calls)-1]
	if len(last.History) != 4 {
		t.Fatalf("len(History) = %d, want 4", len(last.History))
	}
	// The newest user message must survive the window.
	if last.History[len(last.History)-1].Content != "message" {
		t.Fatalf("window dropped the newest message: %+v", last.History)
	}
}

func TestHandleTurnModelFailureYieldsFallback(t *testing.T) {
	client := &llm.MockClient{Err: errors.New("401 unauthorized")}
	svc, convs, _ := newTestService(t, client, 12)
	const session = "user_fallback"

	turn, err := svc.HandleTurn(context.Background(), session, "hello")
	if err != nil {
		t.Fatalf("HandleTurn: %v", err)
	}
	if !turn.Fallback {
		t.Fatal("expected fallback turn")
	}
	if turn.AssistantMessage.Content != FallbackResponse {
		t.Fatalf("AssistantMessage.Content = %q, want fallback string", turn.AssistantMessage.Content)
	}

	msgs, _ := convs.History(context.Background(), session, "")
	if msgs[len(msgs)-1].Content != FallbackResponse {
		t.Fatal("fallback string was not persisted as the assistant message")
	}
}

func TestHandleTurnNoAudioWithoutOrchestrator(t *testing.T) {
	client := &llm.MockClient{Reply: "ok"}
	svc, _, _ := newTestService(t, client, 12)

	turn, err := svc.HandleTurn(context.Background(), "user_noaudio", "hello")
	if err != nil {
		t.Fatalf("HandleTurn: %v", err)
	}
	if turn.Audio != nil {
		t.Fatal("audio future should be nil without a speech orchestrator")
	}
}

type fakeTTS struct{}

func (fakeTTS) Name() string                { return "openai" }
func (fakeTTS) Format() string              { return "mp3" }
func (fakeTTS) Ready(context.Context) error { return nil }
func (fakeTTS) Synthesize(_ context.Context, _ speech.Request, outPath string) error {
	return os.WriteFile(outPath, []byte("audio"), 0o644)
}

func TestHandleTurnDeliversAudioFuture(t *testing.T) {
	client := &llm.MockClient{Reply: "STAY HARD"}
	st := store.NewMemoryStore()
	convs := conversation.NewService(st, nil)
	prefs := settings.NewService(st, nil)
	orch, err := speech.NewOrchestrator(speech.OrchestratorOptions{
		CacheDir: t.TempDir(),
		Remote:   fakeTTS{},
	})
	if err != nil {
		t.Fatalf("NewOrchestrator: %v", err)
	}
	svc := NewService(Options{
		Conversations: convs,
		Settings:      prefs,
		Client:        client,
		Speech:        orch,
		HistoryWindow: 12,
	})
	const session = "user_audio"

	turn, err := svc.HandleTurn(context.Background(), session, "push me")
	if err != nil {
		t.Fatalf("HandleTurn: %v", err)
	}
	if turn.Audio == nil {
		t.Fatal("expected an audio future; voice output is enabled by default")
	}

	select {
	case res := <-turn.Audio:
		if res.Err != nil {
			t.Fatalf("audio future: %v", res.Err)
		}
		if res.Audio.Size == 0 {
			t.Fatal("audio future delivered an empty file")
		}
	case <-time.After(5 * time.Second):
		t.Fatal("audio future never resolved")
	}

	msgs, err := convs.History(context.Background(), session, "")
	if err != nil {
		t.Fatalf("History: %v", err)
	}
	last := msgs[len(msgs)-1]
	if last.Audio == nil {
		t.Fatal("synthesis result was not attached to the assistant message")
	}
	if last.Audio.CacheKey == "" || last.Audio.FileURL == "" {
		t.Fatalf("incomplete audio ref: %+v", last.Audio)
	}
}

func TestSystemPromptTemplates(t *testing.T) {
	cases := []struct {
		intensity store.Intensity
		marker    string
	}{
		{store.IntensityChallenging, "embrace the suck"},
		{store.IntensityReflective, "personal stories"},
		{store.IntensityDrill, "USE CAPS"},
		{store.Intensity("bogus"), "mental toughness, accountability"},
	}
	for _, tc := range cases {
		got := SystemPrompt(tc.intensity)
		if !strings.HasPrefix(got, basePrompt) {
			t.Fatalf("prompt for %q does not start with the base prompt", tc.intensity)
		}
		if !strings.Contains(got, tc.marker) {
			t.Fatalf("prompt for %q missing %q", tc.intensity, tc.marker)
		}
	}
}

func TestTrailingWindow(t *testing.T) {
	msgs := []store.Message{
		{Role: store.RoleAssistant, Content: "welcome"},
		{Role: store.RoleUser, Content: "one"},
		{Role: store.RoleAssistant, Content: "two"},
		{Role: store.RoleUser, Content: "three"},
	}
	got := trailingWindow(msgs, 2)
	if len(got) != 2 {
		t.Fatalf("len = %d, want 2", len(got))
	}
	if got[0].Role != "assistant" || got[0].Content != "two" {
		t.Fatalf("got[0] = %+v", got[0])
	}
	if got[1].Role != "user" || got[1].Content != "three" {
		t.Fatalf("got[1] = %+v", got[1])
	}
	if full := trailingWindow(msgs, 10); len(full) != len(msgs) {
		t.Fatalf("short history should pass through, got %d", len(full))
	}
}

func TestHandleTurnTimestampsOrdered(t *testing.T) {
	client := &llm.MockClient{Reply: "ok"}
	svc, _, _ := newTestService(t, client, 12)

	turn, err := svc.HandleTurn(context.Background(), "user_ts", "hello")
	if err != nil {
		t.Fatalf("HandleTurn: %v", err)
	}
	if turn.AssistantMessage.Timestamp.Before(turn.UserMessage.Timestamp) {
		t.Fatalf("assistant timestamp %s precedes user timestamp %s",
			turn.AssistantMessage.Timestamp.Format(time.RFC3339Nano),
			turn.UserMessage.Timestamp.Format(time.RFC3339Nano))
	}
}
