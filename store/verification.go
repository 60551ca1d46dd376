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
	// ErrVerificationNotFound covers unknown and expired verification
	// tokens.
	ErrVerificationNotFound = errors.New("verification token not found")

	// ErrVerificationMismatch is returned when the presented secret does
	// not match the stored hash.
	ErrVerificationMismatch = errors.New("verification secret mismatch")
)

// VerificationRecord is a pending email verification.
type VerificationRecord struct {
	AccountID  string `json:"account_id"`
	Email      string `json:"email"`
	SecretHash []byte `json:"secret_hash"`
	ExpiresAt  int64  `json:"expires_at"`
}

// VerificationStore persists single-use email verification tokens. Unlike
// reset tokens these are deleted on consumption; a replayed link simply
// reads as unknown, which the engine treats as success for an already
// verified account.
type VerificationStore struct {
	redis  redis.UniversalClient
	prefix string
}

// NewVerificationStore returns a VerificationStore using the given key
// prefix ("ev" when empty).
func NewVerificationStore(redisClient redis.UniversalClient, prefix string) *VerificationStore {
	if prefix == "" {
		prefix = "ev"
	}
	return &VerificationStore{
		redis:  redisClient,
		prefix: prefix,
	}
}

func (s *VerificationStore) key(id string) string {
	return s.prefix + ":" + id
}

// Save persists a new verification record with the given TTL.
func (s *VerificationStore) Save(ctx context.Context, id string, record VerificationRecord, ttl time.Duration) error {
	data, err := json.Marshal(record)
	if err != nil {
		return err
	}
	if err := s.redis.Set(ctx, s.key(id), data, ttl).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return nil
}

// Consume validates the presented secret hash and deletes the record
// under a WATCH transaction.
func (s *VerificationStore) Consume(ctx context.Context, id string, providedHash []byte) (*VerificationRecord, error) {
	const maxRetries = 4
	key := s.key(id)

	for i := 0; i < maxRetries; i++ {
		var consumed *VerificationRecord

		err := s.redis.Watch(ctx, func(tx *redis.Tx) error {
			data, err := tx.Get(ctx, key).Bytes()
			if err != nil {
				if errors.Is(err, redis.Nil) {
					return ErrVerificationNotFound
				}
				return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
			}

			var record VerificationRecord
			if err := json.Unmarshal(data, &record); err != nil {
				return err
			}

			if time.Now().Unix() > record.ExpiresAt {
				return ErrVerificationNotFound
			}
			if subtle.ConstantTimeCompare(record.SecretHash, providedHash) != 1 {
				return ErrVerificationMismatch
			}

			_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
				pipe.Del(ctx, key)
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

	return nil, ErrVerificationNotFound
}
