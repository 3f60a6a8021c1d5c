package store

import (
	"context"
	"sync"
	"time"

	"github.com/KevinXu-github/goggins-ai/internal/apperr"
)

// MemoryStore is an in-process store for local development and tests.
type MemoryStore struct {
	mu    sync.RWMutex
	users map[string]*User
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{users: make(map[string]*User)}
}

func (s *MemoryStore) Load(_ context.Context, sessionID string) (*User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	u, ok := s.users[sessionID]
	if !ok {
		return nil, apperr.ErrNotFound
	}
	return cloneUser(u), nil
}

func (s *MemoryStore) Save(_ context.Context, u *User) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.users[u.SessionID]
	if u.Version == 0 {
		if ok {
			return apperr.ErrVersionConflict
		}
	} else if !ok || cur.Version != u.Version {
		return apperr.ErrVersionConflict
	}
	u.Version++
	s.users[u.SessionID] = cloneUser(u)
	return nil
}

func (s *MemoryStore) PruneConversations(_ context.Context, cutoff time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var touched int64
	for _, u := range s.users {
		if pruneConversations(u, cutoff) {
			u.Version++
			touched++
		}
	}
	return touched, nil
}

func (s *MemoryStore) Ping(context.Context) error  { return nil }
func (s *MemoryStore) Close(context.Context) error { return nil }

func cloneUser(u *User) *User {
	c := *u
	c.Conversations = make([]Conversation, len(u.Conversations))
	for i := range u.Conversations {
		conv := u.Conversations[i]
		conv.Messages = append([]Message(nil), conv.Messages...)
		for j := range conv.Messages {
			if conv.Messages[j].Audio != nil {
				audio := *conv.Messages[j].Audio
				conv.Messages[j].Audio = &audio
			}
		}
		c.Conversations[i] = conv
	}
	return &c
}

// pruneConversations drops inactive conversations last updated before cutoff
// and repairs the current pointer if it pointed at a dropped conversation.
func pruneConversations(u *User, cutoff time.Time) bool {
	kept := u.Conversations[:0]
	changed := false
	for _, conv := range u.Conversations {
		if !conv.Active && conv.UpdatedAt.Before(cutoff) {
			changed = true
			continue
		}
		kept = append(kept, conv)
	}
	if !changed {
		return false
	}
	u.Conversations = kept
	if u.CurrentConversationID != "" && u.Conversation(u.CurrentConversationID) == nil {
		u.CurrentConversationID = ""
		var latest *Conversation
		for i := range u.Conversations {
			if latest == nil || u.Conversations[i].UpdatedAt.After(latest.UpdatedAt) {
				latest = &u.Conversations[i]
			}
		}
		if latest != nil {
			u.CurrentConversationID = latest.ID
		}
	}
	return true
}
