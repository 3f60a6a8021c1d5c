// Package conversation manages the per-user conversation list: exactly one
// conversation may be current at a time and it must belong to the same user.
package conversation

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/KevinXu-github/goggins-ai/internal/apperr"
	"github.com/KevinXu-github/goggins-ai/internal/store"
)

type Service struct {
	store store.Store
	log   *zap.Logger
}

func NewService(st store.Store, log *zap.Logger) *Service {
	if log == nil {
		log = zap.NewNop()
	}
	return &Service{store: st, log: log}
}

// Summary is the list-view projection of a conversation.
type Summary struct {
	ID           string       `json:"id"`
	Title        string       `json:"title"`
	MessageCount int          `json:"messageCount"`
	LastMessage  *LastMessage `json:"lastMessage,omitempty"`
	CreatedAt    time.Time    `json:"createdAt"`
	UpdatedAt    time.Time    `json:"updatedAt"`
	Active       bool         `json:"isActive"`
	Current      bool         `json:"isCurrent"`
}

type LastMessage struct {
	Role      store.Role `json:"role"`
	Content   string     `json:"content"`
	Timestamp time.Time  `json:"timestamp"`
}

// SearchGroup holds the matches for one conversation.
type SearchGroup struct {
	ConversationID    string          `json:"conversationId"`
	ConversationTitle string          `json:"conversationTitle"`
	Messages          []store.Message `json:"matchingMessages"`
}

// GetOrCreateCurrent returns the user's current conversation, creating one
// and repointing the current pointer when it is absent or dangling.
func (s *Service) GetOrCreateCurrent(ctx context.Context, sessionID string) (store.Conversation, error) {
	var out store.Conversation
	_, err := store.Update(ctx, s.store, sessionID, func(u *store.User) error {
		out = *ensureCurrent(u)
		return nil
	})
	if err != nil {
		return store.Conversation{}, err
	}
	return out, nil
}

// AppendMessage appends to the current conversation (creating it if needed)
// and bumps the conversation's updated-at.
func (s *Service) AppendMessage(ctx context.Context, sessionID string, role store.Role, content string, audio *store.AudioRef) (store.Message, error) {
	if strings.TrimSpace(content) == "" {
		return store.Message{}, apperr.Validation("content", "must not be empty")
	}

	var out store.Message
	_, err := store.Update(ctx, s.store, sessionID, func(u *store.User) error {
		conv := ensureCurrent(u)
		now := time.Now().UTC()
		out = store.Message{
			ID:        uuid.NewString(),
			Role:      role,
			Content:   content,
			Timestamp: now,
			Audio:     audio,
		}
		conv.Messages = append(conv.Messages, out)
		conv.UpdatedAt = now
		return nil
	})
	if err != nil {
		return store.Message{}, err
	}
	return out, nil
}

// AttachAudio records a synthesis result on an already-persisted message.
func (s *Service) AttachAudio(ctx context.Context, sessionID, messageID string, audio store.AudioRef) error {
	_, err := store.Update(ctx, s.store, sessionID, func(u *store.User) error {
		for ci := range u.Conversations {
			conv := &u.Conversations[ci]
			for mi := range conv.Messages {
				if conv.Messages[mi].ID == messageID {
					conv.Messages[mi].Audio = &audio
					conv.UpdatedAt = time.Now().UTC()
					return nil
				}
			}
		}
		return fmt.Errorf("message %s: %w", messageID, apperr.ErrNotFound)
	})
	return err
}

// List returns conversation summaries ordered most-recently-updated first.
func (s *Service) List(ctx context.Context, sessionID string) ([]Summary, error) {
	u, err := store.Update(ctx, s.store, sessionID, nil)
	if err != nil {
		return nil, err
	}

	out := make([]Summary, 0, len(u.Conversations))
	for i := range u.Conversations {
		conv := &u.Conversations[i]
		sum := Summary{
			ID:           conv.ID,
			Title:        conv.Title,
			MessageCount: len(conv.Messages),
			CreatedAt:    conv.CreatedAt,
			UpdatedAt:    conv.UpdatedAt,
			Active:       conv.Active,
			Current:      conv.ID == u.CurrentConversationID,
		}
		if n := len(conv.Messages); n > 0 {
			last := conv.Messages[n-1]
			sum.LastMessage = &LastMessage{
				Role:      last.Role,
				Content:   preview(last.Content, 100),
				Timestamp: last.Timestamp,
			}
		}
		out = append(out, sum)
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].UpdatedAt.After(out[j].UpdatedAt)
	})
	return out, nil
}

// History returns the messages of one conversation, defaulting to the
// current conversation when conversationID is empty.
func (s *Service) History(ctx context.Context, sessionID, conversationID string) ([]store.Message, error) {
	u, err := store.Update(ctx, s.store, sessionID, nil)
	if err != nil {
		return nil, err
	}
	id := conversationID
	if id == "" {
		id = u.CurrentConversationID
	}
	if id == "" {
		return []store.Message{}, nil
	}
	conv := u.Conversation(id)
	if conv == nil {
		return nil, fmt.Errorf("conversation %s: %w", id, apperr.ErrNotFound)
	}
	return conv.Messages, nil
}

// Create always starts a fresh conversation and makes it current.
func (s *Service) Create(ctx context.Context, sessionID, title string) (store.Conversation, error) {
	var out store.Conversation
	_, err := store.Update(ctx, s.store, sessionID, func(u *store.User) error {
		out = *newConversation(u, title)
		return nil
	})
	if err != nil {
		return store.Conversation{}, err
	}
	return out, nil
}

// SwitchCurrent repoints the current pointer to an existing conversation.
func (s *Service) SwitchCurrent(ctx context.Context, sessionID, conversationID string) (store.Conversation, error) {
	var out store.Conversation
	_, err := store.Update(ctx, s.store, sessionID, func(u *store.User) error {
		conv := u.Conversation(conversationID)
		if conv == nil {
			return fmt.Errorf("conversation %s: %w", conversationID, apperr.ErrNotFound)
		}
		u.CurrentConversationID = conv.ID
		out = *conv
		return nil
	})
	if err != nil {
		return store.Conversation{}, err
	}
	return out, nil
}

// Rename sets a conversation's title.
func (s *Service) Rename(ctx context.Context, sessionID, conversationID, title string) (store.Conversation, error) {
	title = strings.TrimSpace(title)
	if title == "" {
		return store.Conversation{}, apperr.Validation("title", "must not be empty")
	}
	var out store.Conversation
	_, err := store.Update(ctx, s.store, sessionID, func(u *store.User) error {
		conv := u.Conversation(conversationID)
		if conv == nil {
			return fmt.Errorf("conversation %s: %w", conversationID, apperr.ErrNotFound)
		}
		conv.Title = title
		conv.UpdatedAt = time.Now().UTC()
		out = *conv
		return nil
	})
	if err != nil {
		return store.Conversation{}, err
	}
	return out, nil
}

// Delete removes a conversation. When it was current, the pointer moves to
// the most recently updated survivor, or clears when none remain.
func (s *Service) Delete(ctx context.Context, sessionID, conversationID string) error {
	_, err := store.Update(ctx, s.store, sessionID, func(u *store.User) error {
		idx := -1
		for i := range u.Conversations {
			if u.Conversations[i].ID == conversationID {
				idx = i
				break
			}
		}
		if idx < 0 {
			return fmt.Errorf("conversation %s: %w", conversationID, apperr.ErrNotFound)
		}
		u.Conversations = append(u.Conversations[:idx], u.Conversations[idx+1:]...)

		if u.CurrentConversationID == conversationID {
			u.CurrentConversationID = ""
			var latest *store.Conversation
			for i := range u.Conversations {
				if latest == nil || u.Conversations[i].UpdatedAt.After(latest.UpdatedAt) {
					latest = &u.Conversations[i]
				}
			}
			if latest != nil {
				u.CurrentConversationID = latest.ID
			}
		}
		return nil
	})
	return err
}

// Search runs a case-insensitive substring match over message text and
// groups matches per conversation, capped at limit groups.
func (s *Service) Search(ctx context.Context, sessionID, term string, limit int) ([]SearchGroup, error) {
	term = strings.TrimSpace(term)
	if term == "" {
		return nil, apperr.Validation("q", "search term is required")
	}
	if limit <= 0 {
		limit = 10
	}

	u, err := store.Update(ctx, s.store, sessionID, nil)
	if err != nil {
		return nil, err
	}

	needle := strings.ToLower(term)
	groups := make([]SearchGroup, 0, limit)
	for i := range u.Conversations {
		conv := &u.Conversations[i]
		var matches []store.Message
		for _, m := range conv.Messages {
			if strings.Contains(strings.ToLower(m.Content), needle) {
				matches = append(matches, m)
			}
		}
		if len(matches) == 0 {
			continue
		}
		groups = append(groups, SearchGroup{
			ConversationID:    conv.ID,
			ConversationTitle: conv.Title,
			Messages:          matches,
		})
		if len(groups) == limit {
			break
		}
	}
	return groups, nil
}

// Stats reports the user's conversation totals.
func (s *Service) Stats(ctx context.Context, sessionID string) (store.Stats, error) {
	u, err := store.Update(ctx, s.store, sessionID, nil)
	if err != nil {
		return store.Stats{}, err
	}
	return u.Stats(), nil
}

// StartJanitor periodically prunes stale inactive conversations.
func (s *Service) StartJanitor(ctx context.Context, interval, retention time.Duration) {
	if interval <= 0 {
		interval = time.Hour
	}
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				cutoff := time.Now().UTC().Add(-retention)
				touched, err := s.store.PruneConversations(ctx, cutoff)
				if err != nil {
					s.log.Warn("conversation prune failed", zap.Error(err))
					continue
				}
				if touched > 0 {
					s.log.Info("pruned stale conversations", zap.Int64("users", touched))
				}
			}
		}
	}()
}

func ensureCurrent(u *store.User) *store.Conversation {
	if u.CurrentConversationID != "" {
		if conv := u.Conversation(u.CurrentConversationID); conv != nil {
			return conv
		}
	}
	return newConversation(u, "")
}

func newConversation(u *store.User, title string) *store.Conversation {
	now := time.Now().UTC()
	if strings.TrimSpace(title) == "" {
		title = fmt.Sprintf("Conversation %d", len(u.Conversations)+1)
	}
	u.Conversations = append(u.Conversations, store.Conversation{
		ID:        uuid.NewString(),
		Title:     title,
		CreatedAt: now,
		UpdatedAt: now,
		Active:    true,
	})
	conv := &u.Conversations[len(u.Conversations)-1]
	u.CurrentConversationID = conv.ID
	return conv
}

func preview(s string, max int) string {
	if len(s) <= max {
		return s
	}
	// Back up to a rune boundary so the cut never splits a character.
	for max > 0 && !utf8.RuneStart(s[max]) {
		max--
	}
	return s[:max]
}
