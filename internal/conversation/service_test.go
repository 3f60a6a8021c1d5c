package conversation

import (
	"context"
	"errors"
	"testing"
	"unicode/utf8"

	"go.uber.org/zap"

	"github.com/KevinXu-github/goggins-ai/internal/apperr"
	"github.com/KevinXu-github/goggins-ai/internal/store"
)

func newService() *Service {
	return NewService(store.NewMemoryStore(), zap.NewNop())
}

func TestGetOrCreateCurrentIsIdempotent(t *testing.T) {
	ctx := context.Background()
	s := newService()

	first, err := s.GetOrCreateCurrent(ctx, "s1")
	if err != nil {
		t.Fatalf("GetOrCreateCurrent() error = %v", err)
	}
	second, err := s.GetOrCreateCurrent(ctx, "s1")
	if err != nil {
		t.Fatalf("GetOrCreateCurrent() error = %v", err)
	}
	if first.ID != second.ID {
		t.Fatalf("current conversation id changed between calls: %q then %q", first.ID, second.ID)
	}
}

func TestAppendMessageUpdatesOrderingAndCount(t *testing.T) {
	ctx := context.Background()
	s := newService()

	// Two conversations; the older one is current after switching back.
	first, err := s.GetOrCreateCurrent(ctx, "s1")
	if err != nil {
		t.Fatalf("GetOrCreateCurrent() error = %v", err)
	}
	if _, err := s.Create(ctx, "s1", "second"); err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	if _, err := s.SwitchCurrent(ctx, "s1", first.ID); err != nil {
		t.Fatalf("SwitchCurrent() error = %v", err)
	}

	before, err := s.List(ctx, "s1")
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	var beforeCount int
	for _, sum := range before {
		if sum.ID == first.ID {
			beforeCount = sum.MessageCount
		}
	}

	if _, err := s.AppendMessage(ctx, "s1", store.RoleUser, "stay hard", nil); err != nil {
		t.Fatalf("AppendMessage() error = %v", err)
	}

	after, err := s.List(ctx, "s1")
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if after[0].ID != first.ID {
		t.Fatalf("appended conversation should list first, got %q", after[0].ID)
	}
	if after[0].MessageCount != beforeCount+1 {
		t.Fatalf("message count = %d, want %d", after[0].MessageCount, beforeCount+1)
	}
	if after[0].LastMessage == nil || after[0].LastMessage.Content != "stay hard" {
		t.Fatalf("last message preview = %+v", after[0].LastMessage)
	}
	if !after[0].Current {
		t.Fatalf("current flag missing on current conversation")
	}
}

func TestAppendMessageRejectsEmpty(t *testing.T) {
	s := newService()
	if _, err := s.AppendMessage(context.Background(), "s1", store.RoleUser, "   ", nil); !apperr.IsValidation(err) {
		t.Fatalf("AppendMessage(blank) error = %v, want ValidationError", err)
	}
}

func TestSwitchCurrentUnknownID(t *testing.T) {
	s := newService()
	if _, err := s.SwitchCurrent(context.Background(), "s1", "missing"); !errors.Is(err, apperr.ErrNotFound) {
		t.Fatalf("SwitchCurrent(unknown) error = %v, want ErrNotFound", err)
	}
}

func TestDeleteRepointsCurrent(t *testing.T) {
	ctx := context.Background()
	s := newService()

	welcome, err := s.GetOrCreateCurrent(ctx, "s1")
	if err != nil {
		t.Fatalf("GetOrCreateCurrent() error = %v", err)
	}
	second, err := s.Create(ctx, "s1", "second")
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	// Deleting the current conversation repoints to the survivor.
	if err := s.Delete(ctx, "s1", second.ID); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	cur, err := s.GetOrCreateCurrent(ctx, "s1")
	if err != nil {
		t.Fatalf("GetOrCreateCurrent() error = %v", err)
	}
	if cur.ID != welcome.ID {
		t.Fatalf("current after delete = %q, want survivor %q", cur.ID, welcome.ID)
	}

	// Deleting the last conversation clears the pointer; the next
	// resolution creates a fresh conversation.
	if err := s.Delete(ctx, "s1", welcome.ID); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	list, err := s.List(ctx, "s1")
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if len(list) != 0 {
		t.Fatalf("conversations after deleting all = %d, want 0", len(list))
	}
	fresh, err := s.GetOrCreateCurrent(ctx, "s1")
	if err != nil {
		t.Fatalf("GetOrCreateCurrent() error = %v", err)
	}
	if fresh.ID == welcome.ID || fresh.ID == second.ID {
		t.Fatalf("expected a fresh conversation, got reused id %q", fresh.ID)
	}
}

func TestDeleteUnknownID(t *testing.T) {
	s := newService()
	if err := s.Delete(context.Background(), "s1", "missing"); !errors.Is(err, apperr.ErrNotFound) {
		t.Fatalf("Delete(unknown) error = %v, want ErrNotFound", err)
	}
}

func TestSearchGroupsPerConversation(t *testing.T) {
	ctx := context.Background()
	s := newService()

	if _, err := s.AppendMessage(ctx, "s1", store.RoleUser, "Who is gonna CARRY the boats", nil); err != nil {
		t.Fatalf("AppendMessage() error = %v", err)
	}
	if _, err := s.Create(ctx, "s1", "logs"); err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	if _, err := s.AppendMessage(ctx, "s1", store.RoleUser, "carry the logs instead", nil); err != nil {
		t.Fatalf("AppendMessage() error = %v", err)
	}
	if _, err := s.AppendMessage(ctx, "s1", store.RoleAssistant, "no excuses", nil); err != nil {
		t.Fatalf("AppendMessage() error = %v", err)
	}

	groups, err := s.Search(ctx, "s1", "CARRY", 10)
	if err != nil {
		t.Fatalf("Search() error = %v", err)
	}
	// The welcome conversation holds both its seeded "CARRY THE BOATS"
	// message and the appended user message; "logs" holds one match.
	if len(groups) != 2 {
		t.Fatalf("groups = %d, want 2", len(groups))
	}
	for _, g := range groups {
		if len(g.Messages) == 0 {
			t.Fatalf("group %q has no matches", g.ConversationTitle)
		}
	}

	limited, err := s.Search(ctx, "s1", "carry", 1)
	if err != nil {
		t.Fatalf("Search() error = %v", err)
	}
	if len(limited) != 1 {
		t.Fatalf("limited groups = %d, want 1", len(limited))
	}

	if _, err := s.Search(ctx, "s1", "  ", 5); !apperr.IsValidation(err) {
		t.Fatalf("Search(blank) error = %v, want ValidationError", err)
	}
}

func TestAttachAudio(t *testing.T) {
	ctx := context.Background()
	s := newService()

	msg, err := s.AppendMessage(ctx, "s1", store.RoleAssistant, "stay hard", nil)
	if err != nil {
		t.Fatalf("AppendMessage() error = %v", err)
	}
	ref := store.AudioRef{VoiceType: "onyx", FileURL: "/audio/abc.mp3", CacheKey: "abc"}
	if err := s.AttachAudio(ctx, "s1", msg.ID, ref); err != nil {
		t.Fatalf("AttachAudio() error = %v", err)
	}

	cur, err := s.GetOrCreateCurrent(ctx, "s1")
	if err != nil {
		t.Fatalf("GetOrCreateCurrent() error = %v", err)
	}
	msgs, err := s.History(ctx, "s1", cur.ID)
	if err != nil {
		t.Fatalf("History() error = %v", err)
	}
	last := msgs[len(msgs)-1]
	if last.Audio == nil || last.Audio.CacheKey != "abc" {
		t.Fatalf("audio ref not attached: %+v", last.Audio)
	}

	if err := s.AttachAudio(ctx, "s1", "missing", ref); !errors.Is(err, apperr.ErrNotFound) {
		t.Fatalf("AttachAudio(unknown) error = %v, want ErrNotFound", err)
	}
}

func TestPreviewKeepsRuneBoundaries(t *testing.T) {
	cases := []struct {
		in   string
		max  int
		want string
	}{
		{"short", 10, "short"},
		{"exactly ten", 11, "exactly ten"},
		{"abcdefghij", 5, "abcde"},
		{"héllo", 2, "h"},
		{"日本語テスト", 7, "日本"},
		{"日本語", 3, "日"},
	}
	for _, tc := range cases {
		got := preview(tc.in, tc.max)
		if got != tc.want {
			t.Errorf("preview(%q, %d) = %q, want %q", tc.in, tc.max, got, tc.want)
		}
		if !utf8.ValidString(got) {
			t.Errorf("preview(%q, %d) = %q is not valid UTF-8", tc.in, tc.max, got)
		}
	}
}
