// Package cache holds the Redis-backed idempotency store for commission
// creation.
package cache

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	apperrors "github.com/brokerops/be-commissions/internal/platform/errors"
)

const (
	keyPrefix     = "commissions:idempotency:"
	pendingMarker = "pending"
)

var (
	// ErrInProgress is returned when another request holds the same key.
	ErrInProgress = apperrors.Conflict("a request with this idempotency key is still in progress")
	// ErrKeyReused is returned when a key comes back with a different request.
	ErrKeyReused = apperrors.Conflict("idempotency key was already used for a different request")
)

// Connect opens a Redis client and verifies it with a ping.
func Connect(ctx context.Context, addr, password string, db int) (*redis.Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:         addr,
		Password:     password,
		DB:           db,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
		PoolSize:     10,
		MinIdleConns: 2,
		MaxRetries:   3,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("ping redis %s: %w", addr, err)
	}
	return rdb, nil
}

// IdempotencyStore maps client idempotency keys to the commission they
// created. A key is first reserved with a pending marker, then completed with
// the commission id, or released if creation failed. Every entry carries the
// fingerprint of the request that reserved it, stored as "fingerprint|state".
type IdempotencyStore struct {
	rdb *redis.Client
	ttl time.Duration
}

// NewIdempotencyStore creates a store whose keys expire after ttl.
func NewIdempotencyStore(rdb *redis.Client, ttl time.Duration) *IdempotencyStore {
	return &IdempotencyStore{rdb: rdb, ttl: ttl}
}

// Begin reserves key for the request identified by fingerprint. It returns
// the commission id already recorded for key, or "" when the caller now owns
// the key and must Complete or Release it. A key reserved by a request with a
// different fingerprint yields ErrKeyReused.
func (s *IdempotencyStore) Begin(ctx context.Context, key, fingerprint string) (string, error) {
	for attempt := 0; attempt < 2; attempt++ {
		ok, err := s.rdb.SetNX(ctx, keyPrefix+key, entry(fingerprint, pendingMarker), s.ttl).Result()
		if err != nil {
			return "", apperrors.Wrap(err, apperrors.ErrCodeUnavailable, "idempotency store unavailable")
		}
		if ok {
			return "", nil
		}

		val, err := s.rdb.Get(ctx, keyPrefix+key).Result()
		if errors.Is(err, redis.Nil) {
			// expired between SETNX and GET
			continue
		}
		if err != nil {
			return "", apperrors.Wrap(err, apperrors.ErrCodeUnavailable, "idempotency store unavailable")
		}

		stored, state, _ := strings.Cut(val, "|")
		if stored != fingerprint {
			return "", ErrKeyReused
		}
		if state == pendingMarker {
			return "", ErrInProgress
		}
		return state, nil
	}
	return "", ErrInProgress
}

// Complete records the commission id created under key.
func (s *IdempotencyStore) Complete(ctx context.Context, key, fingerprint, commissionID string) error {
	if err := s.rdb.Set(ctx, keyPrefix+key, entry(fingerprint, commissionID), s.ttl).Err(); err != nil {
		return apperrors.Wrap(err, apperrors.ErrCodeUnavailable, "idempotency store unavailable")
	}
	return nil
}

// Release frees key after a failed creation so the client can retry.
func (s *IdempotencyStore) Release(ctx context.Context, key string) error {
	if err := s.rdb.Del(ctx, keyPrefix+key).Err(); err != nil {
		return apperrors.Wrap(err, apperrors.ErrCodeUnavailable, "idempotency store unavailable")
	}
	return nil
}

func entry(fingerprint, state string) string {
	return fingerprint + "|" + state
}
