package idempotency

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const defaultRedisPrefix = "idempotency:"

// reserveScript stores the pending record only when the key is absent and otherwise returns the
// existing record, making reserve-or-read a single atomic step.
// KEYS[1] = record key, ARGV[1] = pending record JSON, ARGV[2] = ttl in milliseconds.
var reserveScript = redis.NewScript(`
local existing = redis.call("GET", KEYS[1])
if existing then
    return existing
end
redis.call("SET", KEYS[1], ARGV[1], "PX", ARGV[2])
return false
`)

// RedisStore keeps records in Redis; expiry is delegated to key TTLs.
type RedisStore struct {
	client redis.UniversalClient
	prefix string
}

// RedisOption customises the RedisStore.
type RedisOption func(*RedisStore)

// WithRedisPrefix overrides the key namespace.
func WithRedisPrefix(prefix string) RedisOption {
	return func(s *RedisStore) {
		if prefix != "" {
			s.prefix = prefix
		}
	}
}

// NewRedisStore constructs a Redis-backed idempotency store.
func NewRedisStore(client redis.UniversalClient, opts ...RedisOption) *RedisStore {
	store := &RedisStore{client: client, prefix: defaultRedisPrefix}
	for _, opt := range opts {
		if opt != nil {
			opt(store)
		}
	}
	return store
}

func (s *RedisStore) key(key string) string {
	return s.prefix + documentID(key)
}

// Reserve implements Store.
func (s *RedisStore) Reserve(ctx context.Context, key, fingerprint string, now time.Time, ttl time.Duration) (Reservation, error) {
	ttl = normaliseTTL(ttl)
	record := pendingRecord(key, fingerprint, now.UTC(), ttl)
	payload, err := json.Marshal(record)
	if err != nil {
		return Reservation{}, fmt.Errorf("idempotency: encode record: %w", err)
	}

	existing, err := reserveScript.Run(ctx, s.client, []string{s.key(key)}, payload, ttl.Milliseconds()).Text()
	if errors.Is(err, redis.Nil) {
		return Reservation{State: ReservationStateNew, Record: record}, nil
	}
	if err != nil {
		return Reservation{}, fmt.Errorf("idempotency: reserve: %w", err)
	}

	stored, err := decodeRecord(existing)
	if err != nil {
		return Reservation{}, err
	}
	if stored.Fingerprint != fingerprint {
		return Reservation{}, ErrFingerprintMismatch
	}
	if stored.Status == StatusCompleted {
		return Reservation{State: ReservationStateCompleted, Record: stored}, nil
	}
	return Reservation{State: ReservationStatePending, Record: stored}, nil
}

// SaveResponse implements Store using WATCH so a concurrent writer cannot overwrite a different
// fingerprint's record.
func (s *RedisStore) SaveResponse(ctx context.Context, key, fingerprint string, resp Response, now time.Time, ttl time.Duration) error {
	ttl = normaliseTTL(ttl)
	redisKey := s.key(key)

	err := s.client.Watch(ctx, func(tx *redis.Tx) error {
		record, exists, err := s.get(ctx, tx, redisKey)
		if err != nil {
			return err
		}
		if exists && record.Fingerprint != fingerprint {
			return ErrFingerprintMismatch
		}
		payload, err := json.Marshal(completeRecord(record, exists, key, fingerprint, resp, now.UTC(), ttl))
		if err != nil {
			return fmt.Errorf("idempotency: encode record: %w", err)
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, redisKey, payload, ttl)
			return nil
		})
		return err
	}, redisKey)
	if errors.Is(err, redis.TxFailedErr) {
		return fmt.Errorf("idempotency: concurrent update for key: %w", err)
	}
	return err
}

// Release implements Store.
func (s *RedisStore) Release(ctx context.Context, key, fingerprint string) error {
	redisKey := s.key(key)
	err := s.client.Watch(ctx, func(tx *redis.Tx) error {
		record, exists, err := s.get(ctx, tx, redisKey)
		if err != nil || !exists || record.Fingerprint != fingerprint {
			return err
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Del(ctx, redisKey)
			return nil
		})
		return err
	}, redisKey)
	if errors.Is(err, redis.TxFailedErr) {
		return nil
	}
	return err
}

// CleanupExpired is a no-op: Redis expires keys itself.
func (s *RedisStore) CleanupExpired(context.Context, time.Time, int) (int, error) {
	return 0, nil
}

func (s *RedisStore) get(ctx context.Context, tx *redis.Tx, redisKey string) (Record, bool, error) {
	raw, err := tx.Get(ctx, redisKey).Result()
	if errors.Is(err, redis.Nil) {
		return Record{}, false, nil
	}
	if err != nil {
		return Record{}, false, fmt.Errorf("idempotency: read record: %w", err)
	}
	record, err := decodeRecord(raw)
	if err != nil {
		return Record{}, false, err
	}
	return record, true, nil
}

func decodeRecord(raw string) (Record, error) {
	var record Record
	if err := json.Unmarshal([]byte(raw), &record); err != nil {
		return Record{}, fmt.Errorf("idempotency: decode record: %w", err)
	}
	return record, nil
}
