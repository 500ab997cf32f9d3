package draft

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/noah-isme/invoice-pricing/internal/cache"
	"github.com/noah-isme/invoice-pricing/internal/invoice"
)

// Store persists draft sessions between requests.
type Store interface {
	Get(ctx context.Context, id string) (invoice.Draft, error)
	Save(ctx context.Context, d invoice.Draft) error
	Delete(ctx context.Context, id string) error
}

// RedisStore keeps drafts as JSON documents with a sliding TTL.
type RedisStore struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisStore constructs a store. A non-positive ttl defaults to two hours.
func NewRedisStore(client *redis.Client, ttl time.Duration) *RedisStore {
	if ttl <= 0 {
		ttl = 2 * time.Hour
	}
	return &RedisStore{client: client, ttl: ttl}
}

// Get loads a draft. ErrNotFound is returned for missing or expired drafts.
func (s *RedisStore) Get(ctx context.Context, id string) (invoice.Draft, error) {
	if s == nil || s.client == nil {
		return invoice.Draft{}, errors.New("draft store not configured")
	}
	data, err := s.client.Get(ctx, cache.KeyDraft(ctx, id)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return invoice.Draft{}, ErrNotFound
		}
		return invoice.Draft{}, err
	}
	var d invoice.Draft
	if err := json.Unmarshal(data, &d); err != nil {
		return invoice.Draft{}, err
	}
	return d, nil
}

// Save writes the draft and refreshes its TTL.
func (s *RedisStore) Save(ctx context.Context, d invoice.Draft) error {
	if s == nil || s.client == nil {
		return errors.New("draft store not configured")
	}
	data, err := json.Marshal(d)
	if err != nil {
		return err
	}
	return s.client.Set(ctx, cache.KeyDraft(ctx, d.ID), data, s.ttl).Err()
}

// Delete removes the draft. Deleting a missing draft reports ErrNotFound.
func (s *RedisStore) Delete(ctx context.Context, id string) error {
	if s == nil || s.client == nil {
		return errors.New("draft store not configured")
	}
	n, err := s.client.Del(ctx, cache.KeyDraft(ctx, id)).Result()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}
