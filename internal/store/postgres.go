package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/KevinXu-github/goggins-ai/internal/apperr"
)

// PostgresStore keeps the user document as a JSONB column keyed by session
// id, with a version column for the optimistic check.
type PostgresStore struct {
	pool *pgxpool.Pool
}

func NewPostgresStore(ctx context.Context, databaseURL string) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	if err := initSchema(ctx, pool); err != nil {
		pool.Close()
		return nil, err
	}
	return &PostgresStore{pool: pool}, nil
}

func initSchema(ctx context.Context, pool *pgxpool.Pool) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS chat_users (
			session_id TEXT PRIMARY KEY,
			doc JSONB NOT NULL,
			version BIGINT NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
		);`,
		`CREATE INDEX IF NOT EXISTS idx_chat_users_updated ON chat_users (updated_at);`,
	}
	for _, stmt := range stmts {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("init schema failed on %q: %w", stmt, err)
		}
	}
	return nil
}

func (s *PostgresStore) Load(ctx context.Context, sessionID string) (*User, error) {
	var (
		doc     []byte
		version int64
	)
	err := s.pool.QueryRow(ctx,
		`SELECT doc, version FROM chat_users WHERE session_id=$1`, sessionID,
	).Scan(&doc, &version)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperr.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("%w: query user: %v", apperr.ErrStorageUnavailable, err)
	}

	var u User
	if err := json.Unmarshal(doc, &u); err != nil {
		return nil, fmt.Errorf("decode user doc: %w", err)
	}
	u.Version = version
	return &u, nil
}

func (s *PostgresStore) Save(ctx context.Context, u *User) error {
	doc, err := json.Marshal(u)
	if err != nil {
		return fmt.Errorf("encode user doc: %w", err)
	}

	if u.Version == 0 {
		tag, err := s.pool.Exec(ctx,
			`INSERT INTO chat_users (session_id, doc, version, updated_at)
			 VALUES ($1, $2, 1, now())
			 ON CONFLICT (session_id) DO NOTHING`,
			u.SessionID, doc,
		)
		if err != nil {
			return fmt.Errorf("%w: insert user: %v", apperr.ErrStorageUnavailable, err)
		}
		if tag.RowsAffected() == 0 {
			return apperr.ErrVersionConflict
		}
		u.Version = 1
		return nil
	}

	tag, err := s.pool.Exec(ctx,
		`UPDATE chat_users SET doc=$1, version=version+1, updated_at=now()
		 WHERE session_id=$2 AND version=$3`,
		doc, u.SessionID, u.Version,
	)
	if err != nil {
		return fmt.Errorf("%w: update user: %v", apperr.ErrStorageUnavailable, err)
	}
	if tag.RowsAffected() == 0 {
		return apperr.ErrVersionConflict
	}
	u.Version++
	return nil
}

func (s *PostgresStore) PruneConversations(ctx context.Context, cutoff time.Time) (int64, error) {
	rows, err := s.pool.Query(ctx, `SELECT session_id FROM chat_users`)
	if err != nil {
		return 0, fmt.Errorf("%w: list users: %v", apperr.ErrStorageUnavailable, err)
	}
	ids := make([]string, 0, 64)
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return 0, fmt.Errorf("scan session id: %w", err)
		}
		ids = append(ids, id)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return 0, fmt.Errorf("iterate session ids: %w", err)
	}

	var touched int64
	for _, id := range ids {
		changed := false
		_, err := Update(ctx, s, id, func(u *User) error {
			changed = pruneConversations(u, cutoff)
			return nil
		})
		if err != nil {
			return touched, err
		}
		if changed {
			touched++
		}
	}
	return touched, nil
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	if err := s.pool.Ping(ctx); err != nil {
		return fmt.Errorf("%w: %v", apperr.ErrStorageUnavailable, err)
	}
	return nil
}

func (s *PostgresStore) Close(context.Context) error {
	s.pool.Close()
	return nil
}
