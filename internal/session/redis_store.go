// Package session provides the Redis backends for preview sessions: the
// session store and the realtime pub/sub channel.
package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"preview/api/internal/preview"
	"preview/api/internal/store"
)

// maxMergeRetries bounds optimistic-lock retries when editors write to the
// same session concurrently.
const maxMergeRetries = 8

// sessionData is the JSON stored for each preview token.
type sessionData struct {
	Page      string            `json:"page"`
	Changes   preview.ChangeSet `json:"changes"`
	ExpiresAt time.Time         `json:"expires_at"`
	CreatedAt time.Time         `json:"created_at"`
	UpdatedAt time.Time         `json:"updated_at"`
}

// RedisStore implements preview session storage using Redis.
type RedisStore struct {
	client *redis.Client
	prefix string
}

// NewRedisStore creates a new Redis-backed session store
func NewRedisStore(redisURL string) (*RedisStore, error) {
	client, err := Dial(redisURL)
	if err != nil {
		return nil, err
	}
	return NewRedisStoreWithClient(client), nil
}

// Dial parses redisURL and checks the server is reachable.
func Dial(redisURL string) (*redis.Client, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("connect to redis: %w", err)
	}
	return client, nil
}

// NewRedisStoreWithClient creates a store from an existing Redis client
func NewRedisStoreWithClient(client *redis.Client) *RedisStore {
	return &RedisStore{
		client: client,
		prefix: "preview:",
	}
}

func (s *RedisStore) key(tokenHash string) string {
	return s.prefix + tokenHash
}

// CreatePreviewSession stores the session with a TTL matching its expiry.
func (s *RedisStore) CreatePreviewSession(ctx context.Context, session store.PreviewSession) error {
	now := time.Now()
	data := sessionData{
		Page:      session.Page,
		Changes:   session.Changes,
		ExpiresAt: session.ExpiresAt,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if data.Changes == nil {
		data.Changes = preview.ChangeSet{}
	}
	ttl := time.Until(session.ExpiresAt)
	if ttl <= 0 {
		return fmt.Errorf("save preview session: expiry %s is in the past", session.ExpiresAt.Format(time.RFC3339))
	}

	payload, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("marshal preview session: %w", err)
	}
	if err := s.client.Set(ctx, s.key(session.TokenHash), payload, ttl).Err(); err != nil {
		return fmt.Errorf("save preview session: %w", err)
	}
	return nil
}

// LookupPreviewSession returns store.ErrSessionNotFound for missing or
// expired tokens.
func (s *RedisStore) LookupPreviewSession(ctx context.Context, tokenHash string) (store.PreviewSession, error) {
	payload, err := s.client.Get(ctx, s.key(tokenHash)).Bytes()
	if errors.Is(err, redis.Nil) {
		return store.PreviewSession{}, store.ErrSessionNotFound
	}
	if err != nil {
		return store.PreviewSession{}, fmt.Errorf("lookup preview session: %w", err)
	}
	return decodeSession(tokenHash, payload)
}

// MergePreviewChanges overlays fragment onto the stored overrides under
// WATCH so concurrent writers never lose each other's keys. The key keeps
// its remaining TTL.
func (s *RedisStore) MergePreviewChanges(ctx context.Context, tokenHash string, fragment preview.ChangeSet) (store.PreviewSession, error) {
	key := s.key(tokenHash)
	var merged store.PreviewSession

	txf := func(tx *redis.Tx) error {
		payload, err := tx.Get(ctx, key).Bytes()
		if errors.Is(err, redis.Nil) {
			return store.ErrSessionNotFound
		}
		if err != nil {
			return err
		}
		current, err := decodeSession(tokenHash, payload)
		if err != nil {
			return err
		}

		current.Changes = preview.Merge(current.Changes, fragment)
		current.UpdatedAt = time.Now()
		updated, err := json.Marshal(sessionData{
			Page:      current.Page,
			Changes:   current.Changes,
			ExpiresAt: current.ExpiresAt,
			CreatedAt: current.CreatedAt,
			UpdatedAt: current.UpdatedAt,
		})
		if err != nil {
			return fmt.Errorf("marshal preview session: %w", err)
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.SetArgs(ctx, key, updated, redis.SetArgs{KeepTTL: true})
			return nil
		})
		if err == nil {
			merged = current
		}
		return err
	}

	for attempt := 0; attempt < maxMergeRetries; attempt++ {
		err := s.client.Watch(ctx, txf, key)
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		if errors.Is(err, store.ErrSessionNotFound) {
			return store.PreviewSession{}, err
		}
		if err != nil {
			return store.PreviewSession{}, fmt.Errorf("merge preview changes: %w", err)
		}
		return merged, nil
	}
	return store.PreviewSession{}, fmt.Errorf("merge preview changes: too much contention on %s", key)
}

// DeletePreviewSession removes a session; deleting a missing one is not an error.
func (s *RedisStore) DeletePreviewSession(ctx context.Context, tokenHash string) error {
	if err := s.client.Del(ctx, s.key(tokenHash)).Err(); err != nil {
		return fmt.Errorf("delete preview session: %w", err)
	}
	return nil
}

// Close closes the Redis connection
func (s *RedisStore) Close() error {
	return s.client.Close()
}

// Ping checks if Redis is reachable
func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

func decodeSession(tokenHash string, payload []byte) (store.PreviewSession, error) {
	var data sessionData
	if err := json.Unmarshal(payload, &data); err != nil {
		return store.PreviewSession{}, fmt.Errorf("unmarshal preview session: %w", err)
	}
	return store.PreviewSession{
		TokenHash: tokenHash,
		Page:      data.Page,
		Changes:   data.Changes,
		ExpiresAt: data.ExpiresAt,
		CreatedAt: data.CreatedAt,
		UpdatedAt: data.UpdatedAt,
	}, nil
}
