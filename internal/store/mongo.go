package store

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/KevinXu-github/goggins-ai/internal/apperr"
)

// MongoStore keeps one document per session token in a users collection,
// matching the original product's denormalized layout.
type MongoStore struct {
	client *mongo.Client
	users  *mongo.Collection
}

func NewMongoStore(ctx context.Context, uri, database string) (*MongoStore, error) {
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("connect mongo: %w", err)
	}
	pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx, nil); err != nil {
		_ = client.Disconnect(ctx)
		return nil, fmt.Errorf("%w: ping mongo: %v", apperr.ErrStorageUnavailable, err)
	}
	return &MongoStore{
		client: client,
		users:  client.Database(database).Collection("users"),
	}, nil
}

func (s *MongoStore) Load(ctx context.Context, sessionID string) (*User, error) {
	var u User
	err := s.users.FindOne(ctx, bson.M{"_id": sessionID}).Decode(&u)
	if err == mongo.ErrNoDocuments {
		return nil, apperr.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("%w: find user: %v", apperr.ErrStorageUnavailable, err)
	}
	return &u, nil
}

func (s *MongoStore) Save(ctx context.Context, u *User) error {
	if u.Version == 0 {
		u.Version = 1
		_, err := s.users.InsertOne(ctx, u)
		if mongo.IsDuplicateKeyError(err) {
			u.Version = 0
			return apperr.ErrVersionConflict
		}
		if err != nil {
			u.Version = 0
			return fmt.Errorf("%w: insert user: %v", apperr.ErrStorageUnavailable, err)
		}
		return nil
	}

	prev := u.Version
	u.Version = prev + 1
	res, err := s.users.ReplaceOne(ctx, bson.M{"_id": u.SessionID, "version": prev}, u)
	if err != nil {
		u.Version = prev
		return fmt.Errorf("%w: replace user: %v", apperr.ErrStorageUnavailable, err)
	}
	if res.MatchedCount == 0 {
		u.Version = prev
		return apperr.ErrVersionConflict
	}
	return nil
}

// PruneConversations goes document by document through pruneConversations
// rather than a bulk $pull, so the current pointer gets repaired the same
// way the other drivers do it.
func (s *MongoStore) PruneConversations(ctx context.Context, cutoff time.Time) (int64, error) {
	stale := bson.M{
		"conversations": bson.M{
			"$elemMatch": bson.M{
				"active":     false,
				"updated_at": bson.M{"$lt": cutoff},
			},
		},
	}
	cur, err := s.users.Find(ctx, stale, options.Find().SetProjection(bson.M{"_id": 1}))
	if err != nil {
		return 0, fmt.Errorf("%w: find stale conversations: %v", apperr.ErrStorageUnavailable, err)
	}
	ids := make([]string, 0, 64)
	for cur.Next(ctx) {
		var doc struct {
			SessionID string `bson:"_id"`
		}
		if err := cur.Decode(&doc); err != nil {
			_ = cur.Close(ctx)
			return 0, fmt.Errorf("decode session id: %w", err)
		}
		ids = append(ids, doc.SessionID)
	}
	if err := cur.Err(); err != nil {
		_ = cur.Close(ctx)
		return 0, fmt.Errorf("%w: iterate stale users: %v", apperr.ErrStorageUnavailable, err)
	}
	_ = cur.Close(ctx)

	var touched int64
	for _, id := range ids {
		changed := false
		if _, err := Update(ctx, s, id, func(u *User) error {
			changed = pruneConversations(u, cutoff)
			return nil
		}); err != nil {
			return touched, err
		}
		if changed {
			touched++
		}
	}
	return touched, nil
}

func (s *MongoStore) Ping(ctx context.Context) error {
	if err := s.client.Ping(ctx, nil); err != nil {
		return fmt.Errorf("%w: %v", apperr.ErrStorageUnavailable, err)
	}
	return nil
}

func (s *MongoStore) Close(ctx context.Context) error {
	return s.client.Disconnect(ctx)
}
