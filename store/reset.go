package store

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

var (
	// ErrResetNotFound covers unknown and expired reset tokens.
	ErrResetNotFound = errors.New("reset token not found")

	// ErrResetUsed is returned when a consumed token is presented again.
	ErrResetUsed = errors.New("reset token already used")

	// ErrResetMismatch is returned when the presented secret does not
	// match the stored hash.
	ErrResetMismatch = errors.New("reset secret mismatch")
)

// ResetRecord is a pending password reset. Used stays set for the
// remainder of the TTL after consumption so a replayed link reads as
// already-used rather than unknown.
type ResetRecord struct {
	AccountID  string `json:"account_id"`
	SecretHash []byte `json:"secret_hash"`
	ExpiresAt  int64  `json:"expires_at"`
	Used       bool   `json:"used"`
}

// ResetStore persists single-use password reset tokens.
type ResetStore struct {
	redis  redis.UniversalClient
	prefix string
}

// NewResetStore returns a ResetStore using the given key prefix ("pw"
// when empty).
func NewResetStore(redisClient redis.UniversalClient, prefix string) *ResetStore {
	if prefix == "" {
		prefix = "pw"
	}
	return &ResetStore{
		redis:  redisClient,
		prefix: prefix,
	}
}

func (s *ResetStore) key(id string) string {
	return s.prefix + ":" + id
}

// Save persists a new reset record with the given TTL.
func (s *ResetStore) Save(ctx context.Context, id string, record ResetRecord, ttl time.Duration) error {
	data, err := json.Marshal(record)
	if err != nil {
		return err
	}
	if err := s.redis.Set(ctx, s.key(id), data, ttl).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return nil
}

// Consume validates the presented secret hash and marks the record used,
// all under a WATCH transaction so two concurrent submissions of the same
// link cannot both succeed. The used record stays in place until the
// original TTL lapses.
func (s *ResetStore) Consume(ctx context.Context, id string, providedHash []byte) (*ResetRecord, error) {
	const maxRetries = 4
	key := s.key(id)

	for i := 0; i < maxRetries; i++ {
		var consumed *ResetRecord

		err := s.redis.Watch(ctx, func(tx *redis.Tx) error {
			data, err := tx.Get(ctx, key).Bytes()
			if err != nil {
				if errors.Is(err, redis.Nil) {
					return ErrResetNotFound
				}
				return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
			}

			var record ResetRecord
			if err := json.Unmarshal(data, &record); err != nil {
				return err
			}

			if record.Used {
				return ErrResetUsed
			}
			if time.Now().Unix() > record.ExpiresAt {
				return ErrResetNotFound
			}
			if subtle.ConstantTimeCompare(record.SecretHash, providedHash) != 1 {
				return ErrResetMismatch
			}

			record.Used = true
			encoded, err := json.Marshal(&record)
			if err != nil {
				return err
			}

			ttl := time.Until(time.Unix(record.ExpiresAt, 0))
			if ttl <= 0 {
				return ErrResetNotFound
			}

			_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
				pipe.Set(ctx, key, encoded, ttl)
				return nil
			})
			if err != nil {
				return err
			}

			consumed = &record
			return nil
		}, key)

		if err == nil {
			return consumed, nil
		}
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		return nil, err
	}

	return nil, ErrResetUsed
}
