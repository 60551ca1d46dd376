// Package store holds the Redis persistence layer: accounts with a unique
// email index, refresh token records with atomic rotation, and single-use
// reset and verification tokens.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

var (
	// ErrEmailTaken is returned by Create when the email index already
	// holds an entry.
	ErrEmailTaken = errors.New("email already registered")

	// ErrAccountNotFound is returned for lookups that match nothing.
	ErrAccountNotFound = errors.New("account not found")

	// ErrAccountConflict is returned when a CAS update loses its race
	// too many times.
	ErrAccountConflict = errors.New("account modified concurrently")

	// ErrRedisUnavailable indicates the storage backend is unreachable.
	ErrRedisUnavailable = errors.New("redis unavailable")
)

// Account is the persistent account record. Email is stored normalized
// (lowercased, trimmed) by the engine before it reaches this layer.
type Account struct {
	ID            string     `json:"id"`
	Email         string     `json:"email"`
	FullName      string     `json:"full_name"`
	PasswordHash  string     `json:"password_hash"`
	Role          string     `json:"role"`
	EmailVerified bool       `json:"email_verified"`
	Locked        bool       `json:"locked"`
	LockedAt      *time.Time `json:"locked_at,omitempty"`
	LockReason    string     `json:"lock_reason,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
	UpdatedAt     time.Time  `json:"updated_at"`
	LastLoginAt   *time.Time `json:"last_login_at,omitempty"`
}

// AccountStore persists accounts as JSON blobs plus a unique email index.
type AccountStore struct {
	redis  redis.UniversalClient
	prefix string
}

// NewAccountStore returns an AccountStore using the given key prefix
// ("acct" when empty).
func NewAccountStore(redisClient redis.UniversalClient, prefix string) *AccountStore {
	if prefix == "" {
		prefix = "acct"
	}
	return &AccountStore{
		redis:  redisClient,
		prefix: prefix,
	}
}

func (s *AccountStore) key(id string) string {
	return s.prefix + ":" + id
}

func (s *AccountStore) emailKey(email string) string {
	return s.prefix + ":ix:email:" + email
}

// Create persists a new account. The email index entry is claimed first
// with SETNX so two concurrent registrations for the same email cannot
// both succeed.
func (s *AccountStore) Create(ctx context.Context, account *Account) error {
	claimed, err := s.redis.SetNX(ctx, s.emailKey(account.Email), account.ID, 0).Result()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	if !claimed {
		return ErrEmailTaken
	}

	data, err := json.Marshal(account)
	if err != nil {
		return err
	}

	if err := s.redis.Set(ctx, s.key(account.ID), data, 0).Err(); err != nil {
		// Release the index claim so the email is not poisoned.
		_ = s.redis.Del(ctx, s.emailKey(account.Email)).Err()
		return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}

	return nil
}

// GetByID loads one account.
func (s *AccountStore) GetByID(ctx context.Context, id string) (*Account, error) {
	data, err := s.redis.Get(ctx, s.key(id)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrAccountNotFound
		}
		return nil, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}

	var account Account
	if err := json.Unmarshal(data, &account); err != nil {
		return nil, err
	}
	return &account, nil
}

// GetByEmail resolves the email index and loads the account. A dangling
// index entry (account blob missing) reads as not found.
func (s *AccountStore) GetByEmail(ctx context.Context, email string) (*Account, error) {
	id, err := s.redis.Get(ctx, s.emailKey(email)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrAccountNotFound
		}
		return nil, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return s.GetByID(ctx, id)
}

// Mutate applies fn to the current account state under a WATCH
// transaction and persists the result. fn may be invoked multiple times
// when the record changes underneath; it must be side-effect free.
func (s *AccountStore) Mutate(ctx context.Context, id string, fn func(*Account) error) (*Account, error) {
	const maxRetries = 4
	key := s.key(id)

	for i := 0; i < maxRetries; i++ {
		var updated *Account

		err := s.redis.Watch(ctx, func(tx *redis.Tx) error {
			data, err := tx.Get(ctx, key).Bytes()
			if err != nil {
				if errors.Is(err, redis.Nil) {
					return ErrAccountNotFound
				}
				return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
			}

			var account Account
			if err := json.Unmarshal(data, &account); err != nil {
				return err
			}

			if err := fn(&account); err != nil {
				return err
			}
			account.UpdatedAt = time.Now().UTC()

			encoded, err := json.Marshal(&account)
			if err != nil {
				return err
			}

			_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
				pipe.Set(ctx, key, encoded, 0)
				return nil
			})
			if err != nil {
				return err
			}

			updated = &account
			return nil
		}, key)

		if err == nil {
			return updated, nil
		}
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		return nil, err
	}

	return nil, ErrAccountConflict
}

// Lock sets the persistent lock flag.
func (s *AccountStore) Lock(ctx context.Context, id, reason string) (*Account, error) {
	return s.Mutate(ctx, id, func(account *Account) error {
		if account.Locked {
			return nil
		}
		now := time.Now().UTC()
		account.Locked = true
		account.LockedAt = &now
		account.LockReason = reason
		return nil
	})
}

// Unlock clears the lock flag.
func (s *AccountStore) Unlock(ctx context.Context, id string) (*Account, error) {
	return s.Mutate(ctx, id, func(account *Account) error {
		account.Locked = false
		account.LockedAt = nil
		account.LockReason = ""
		return nil
	})
}

// SetPassword replaces the stored password hash.
func (s *AccountStore) SetPassword(ctx context.Context, id, passwordHash string) (*Account, error) {
	return s.Mutate(ctx, id, func(account *Account) error {
		account.PasswordHash = passwordHash
		return nil
	})
}

// MarkVerified flips the email verified flag.
func (s *AccountStore) MarkVerified(ctx context.Context, id string) (*Account, error) {
	return s.Mutate(ctx, id, func(account *Account) error {
		account.EmailVerified = true
		return nil
	})
}

// RecordLogin stamps the last successful login time.
func (s *AccountStore) RecordLogin(ctx context.Context, id string, at time.Time) (*Account, error) {
	return s.Mutate(ctx, id, func(account *Account) error {
		t := at.UTC()
		account.LastLoginAt = &t
		return nil
	})
}
