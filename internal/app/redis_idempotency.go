package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	idempotencyInProgress = "in_progress"
	idempotencyCompleted  = "completed"
)

// ErrIdempotencyKeyReused is returned by Begin when a key is presented again
// with a request body that differs from the one it was first used with.
var ErrIdempotencyKeyReused = errors.New("idempotency key reused with a different request")

// StoredResponse is the response replayed for a repeated idempotency key.
type StoredResponse struct {
	StatusCode int             `json:"status_code"`
	Body       json.RawMessage `json:"body"`
}

type idempotencyRecord struct {
	State       string          `json:"state"`
	Fingerprint string          `json:"fingerprint,omitempty"`
	Response    *StoredResponse `json:"response,omitempty"`
}

// RedisIdempotencyStore reserves idempotency keys with SET NX and keeps the
// final response for the configured TTL.
type RedisIdempotencyStore struct {
	client redis.UniversalClient
	prefix string
	ttl    time.Duration
}

func NewRedisIdempotencyStore(client redis.UniversalClient, prefix string, ttl time.Duration) *RedisIdempotencyStore {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &RedisIdempotencyStore{client: client, prefix: normalizePrefix(prefix) + ":idempotency", ttl: ttl}
}

func (s *RedisIdempotencyStore) key(scope, key string) string {
	return fmt.Sprintf("%s:%s:%s", s.prefix, strings.TrimSpace(scope), strings.TrimSpace(key))
}

// Begin reserves key for a request whose body hashes to fingerprint. It returns
// acquired=true when the caller owns the key and must call Complete or Release.
// Otherwise it returns the stored response, or nil while another request still
// holds the key. A fingerprint mismatch yields ErrIdempotencyKeyReused.
func (s *RedisIdempotencyStore) Begin(ctx context.Context, scope, key, fingerprint string) (*StoredResponse, bool, error) {
	redisKey := s.key(scope, key)
	reservation, err := json.Marshal(idempotencyRecord{State: idempotencyInProgress, Fingerprint: fingerprint})
	if err != nil {
		return nil, false, err
	}

	acquired, err := s.client.SetNX(ctx, redisKey, reservation, s.ttl).Result()
	if err != nil {
		return nil, false, err
	}
	if acquired {
		return nil, true, nil
	}

	raw, err := s.client.Get(ctx, redisKey).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			// Expired between SETNX and GET; treat as in flight.
			return nil, false, nil
		}
		return nil, false, err
	}
	var record idempotencyRecord
	if err := json.Unmarshal(raw, &record); err != nil {
		return nil, false, fmt.Errorf("corrupt idempotency record: %w", err)
	}
	if record.Fingerprint != "" && fingerprint != "" && record.Fingerprint != fingerprint {
		return nil, false, ErrIdempotencyKeyReused
	}
	if record.State == idempotencyCompleted && record.Response != nil {
		return record.Response, false, nil
	}
	return nil, false, nil
}

// Complete stores the final response for key.
func (s *RedisIdempotencyStore) Complete(ctx context.Context, scope, key, fingerprint string, resp StoredResponse) error {
	raw, err := json.Marshal(idempotencyRecord{State: idempotencyCompleted, Fingerprint: fingerprint, Response: &resp})
	if err != nil {
		return err
	}
	return s.client.Set(ctx, s.key(scope, key), raw, s.ttl).Err()
}

// Release drops a reservation so the client may retry with the same key.
func (s *RedisIdempotencyStore) Release(ctx context.Context, scope, key string) error {
	return s.client.Del(ctx, s.key(scope, key)).Err()
}
