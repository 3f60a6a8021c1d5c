package store

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/KevinXu-github/goggins-ai/internal/apperr"
)

func TestMemoryStoreLoadMissing(t *testing.T) {
	s := NewMemoryStore()
	if _, err := s.Load(context.Background(), "nope"); !errors.Is(err, apperr.ErrNotFound) {
		t.Fatalf("Load() error = %v, want ErrNotFound", err)
	}
}

func TestMemoryStoreSaveVersionConflict(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	u := NewUser("s1")
	if err := s.Save(ctx, u); err != nil {
		t.Fatalf("Save() error = %v", err)
	}
	if u.Version != 1 {
		t.Fatalf("Version after insert = %d, want 1", u.Version)
	}

	// Second insert for the same session must conflict.
	dup := NewUser("s1")
	if err := s.Save(ctx, dup); !errors.Is(err, apperr.ErrVersionConflict) {
		t.Fatalf("duplicate insert error = %v, want ErrVersionConflict", err)
	}

	stale, err := s.Load(ctx, "s1")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if err := s.Save(ctx, stale); err != nil {
		t.Fatalf("Save() error = %v", err)
	}
	// The previously loaded copy is now stale.
	staleAgain := *u
	if err := s.Save(ctx, &staleAgain); !errors.Is(err, apperr.ErrVersionConflict) {
		t.Fatalf("stale save error = %v, want ErrVersionConflict", err)
	}
}

func TestNewUserSeedsWelcomeConversation(t *testing.T) {
	u := NewUser("s1")
	if len(u.Conversations) != 1 {
		t.Fatalf("Conversations = %d, want 1", len(u.Conversations))
	}
	welcome := u.Conversations[0]
	if u.CurrentConversationID != welcome.ID {
		t.Fatalf("CurrentConversationID = %q, want welcome id %q", u.CurrentConversationID, welcome.ID)
	}
	if len(welcome.Messages) != 1 || welcome.Messages[0].Role != RoleAssistant {
		t.Fatalf("welcome conversation should hold one assistant message, got %+v", welcome.Messages)
	}
	if u.Settings.Intensity != IntensityChallenging || u.Settings.Voice != "onyx" {
		t.Fatalf("default settings = %+v", u.Settings)
	}
}

func TestUpdateRetriesThroughConcurrentWriters(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	const writers = 8
	var wg sync.WaitGroup
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := Update(ctx, s, "s1", func(u *User) error {
				conv := u.Conversation(u.CurrentConversationID)
				conv.Messages = append(conv.Messages, Message{
					ID: "m", Role: RoleUser, Content: "go", Timestamp: time.Now().UTC(),
				})
				conv.UpdatedAt = time.Now().UTC()
				return nil
			})
			if err != nil {
				t.Errorf("Update() error = %v", err)
			}
		}()
	}
	wg.Wait()

	u, err := s.Load(ctx, "s1")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	// welcome message + one append per writer, no lost updates
	if got := len(u.Conversations[0].Messages); got != writers+1 {
		t.Fatalf("messages = %d, want %d", got, writers+1)
	}
}

func TestPruneConversationsRepointsCurrent(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	cutoff := time.Now().UTC()

	_, err := Update(ctx, s, "s1", func(u *User) error {
		old := Conversation{
			ID:        "old",
			Title:     "stale",
			Active:    false,
			CreatedAt: cutoff.Add(-48 * time.Hour),
			UpdatedAt: cutoff.Add(-48 * time.Hour),
		}
		u.Conversations = append(u.Conversations, old)
		u.CurrentConversationID = "old"
		return nil
	})
	if err != nil {
		t.Fatalf("Update() error = %v", err)
	}

	touched, err := s.PruneConversations(ctx, cutoff.Add(-time.Hour))
	if err != nil {
		t.Fatalf("PruneConversations() error = %v", err)
	}
	if touched != 1 {
		t.Fatalf("touched = %d, want 1", touched)
	}

	u, err := s.Load(ctx, "s1")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if u.Conversation("old") != nil {
		t.Fatalf("stale conversation should be pruned")
	}
	if u.CurrentConversationID != u.Conversations[0].ID {
		t.Fatalf("current pointer = %q, want surviving conversation %q",
			u.CurrentConversationID, u.Conversations[0].ID)
	}
}
