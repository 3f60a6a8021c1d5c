package store

import (
	"context"
	"errors"
	"time"

	"github.com/KevinXu-github/goggins-ai/internal/apperr"
)

// Store is the document store contract. Implementations must make Save
// atomic per document and enforce the optimistic version check.
type Store interface {
	// Load returns the user document for sessionID, or apperr.ErrNotFound.
	Load(ctx context.Context, sessionID string) (*User, error)

	// Save upserts the document. A document with Version 0 is inserted and
	// fails with apperr.ErrVersionConflict if one already exists; otherwise
	// the stored version must match u.Version or the save fails with
	// apperr.ErrVersionConflict. On success u.Version is advanced.
	Save(ctx context.Context, u *User) error

	// PruneConversations removes inactive conversations last updated before
	// cutoff from every user, returning how many users were touched.
	PruneConversations(ctx context.Context, cutoff time.Time) (int64, error)

	Ping(ctx context.Context) error
	Close(ctx context.Context) error
}

const maxUpdateRetries = 5

// Update applies fn to the user document for sessionID under optimistic
// concurrency, retrying on version conflicts. When the document does not
// exist it is seeded with NewUser first, so every caller observes the
// lazily-created user. fn may return apperr errors to abort the update.
func Update(ctx context.Context, s Store, sessionID string, fn func(*User) error) (*User, error) {
	var lastErr error
	for attempt := 0; attempt < maxUpdateRetries; attempt++ {
		u, err := s.Load(ctx, sessionID)
		if errors.Is(err, apperr.ErrNotFound) {
			u = NewUser(sessionID)
		} else if err != nil {
			return nil, err
		}

		if fn != nil {
			if err := fn(u); err != nil {
				return nil, err
			}
		}

		u.UpdatedAt = time.Now().UTC()
		if err := s.Save(ctx, u); err != nil {
			if errors.Is(err, apperr.ErrVersionConflict) {
				lastErr = err
				continue
			}
			return nil, err
		}
		return u, nil
	}
	return nil, lastErr
}
