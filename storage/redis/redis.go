// Package redis provides a Redis-backed implementation of storage.Store,
// suitable when several server processes share one record set.
package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"

	"github.com/redis/go-redis/v9"

	"github.com/harborlane/mcpserver/storage"
)

// Config contains configuration options for the Redis store.
type Config struct {
	// Client is the Redis client instance.
	Client *redis.Client

	// KeyPrefix namespaces all keys written by this store.
	// Default: "mcp:records:".
	KeyPrefix string
}

// Store implements storage.Store on a Redis hash: one field per record id.
type Store struct {
	client *redis.Client
	key    string
}

var _ storage.Store = (*Store)(nil)

// New creates a Redis-backed store.
func New(cfg Config) (*Store, error) {
	if cfg.Client == nil {
		return nil, fmt.Errorf("redis client is required")
	}
	if cfg.KeyPrefix == "" {
		cfg.KeyPrefix = "mcp:records:"
	}
	return &Store{client: cfg.Client, key: cfg.KeyPrefix + "all"}, nil
}

func (s *Store) List(ctx context.Context) ([]storage.Record, error) {
	vals, err := s.client.HGetAll(ctx, s.key).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list records: %w", err)
	}
	recs := make([]storage.Record, 0, len(vals))
	for id, raw := range vals {
		var rec storage.Record
		if err := json.Unmarshal([]byte(raw), &rec); err != nil {
			return nil, fmt.Errorf("failed to unmarshal record %s: %w", id, err)
		}
		recs = append(recs, rec)
	}
	sort.Slice(recs, func(i, j int) bool {
		if recs[i].CreatedAt.Equal(recs[j].CreatedAt) {
			return recs[i].ID < recs[j].ID
		}
		return recs[i].CreatedAt.Before(recs[j].CreatedAt)
	})
	return recs, nil
}

func (s *Store) Get(ctx context.Context, id string) (*storage.Record, error) {
	raw, err := s.client.HGet(ctx, s.key, id).Result()
	if err != nil {
		if err == redis.Nil {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get record %s: %w", id, err)
	}
	var rec storage.Record
	if err := json.Unmarshal([]byte(raw), &rec); err != nil {
		return nil, fmt.Errorf("failed to unmarshal record %s: %w", id, err)
	}
	return &rec, nil
}

func (s *Store) Put(ctx context.Context, rec storage.Record) error {
	if rec.ID == "" {
		return fmt.Errorf("record id is required")
	}
	b, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("failed to marshal record %s: %w", rec.ID, err)
	}
	if err := s.client.HSet(ctx, s.key, rec.ID, b).Err(); err != nil {
		return fmt.Errorf("failed to store record %s: %w", rec.ID, err)
	}
	return nil
}

func (s *Store) Close() error { return s.client.Close() }
