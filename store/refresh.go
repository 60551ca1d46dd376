package store

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

var (
	// ErrRefreshNotFound is returned when the token id matches nothing.
	ErrRefreshNotFound = errors.New("refresh token not found")

	// ErrRefreshExpired is returned when the record exists but its expiry
	// has passed.
	ErrRefreshExpired = errors.New("refresh token expired")

	// ErrRefreshReused is returned when a rotated-away or wrong-secret
	// token is presented. The caller must revoke the whole family.
	ErrRefreshReused = errors.New("refresh token reuse detected")
)

const (
	rotateStatusNotFound int64 = 0
	rotateStatusExpired  int64 = 1
	rotateStatusReused   int64 = 2
	rotateStatusRotated  int64 = 3
)

// rotateRefreshScript atomically retires the presented token and mints its
// successor. A rotated record is tombstoned, not deleted: presenting it
// again within its original TTL reads as reuse rather than not-found, which
// is the signal for family revocation. Exactly one concurrent caller can
// win the rotation; the rest observe the tombstone.
const rotateRefreshScript = `
local stored = redis.call("HGET", KEYS[1], "hash")
if not stored then
  return {0, ""}
end

local account = redis.call("HGET", KEYS[1], "account")
local set_key = ARGV[10] .. account

if redis.call("HGET", KEYS[1], "revoked") then
  return {2, account}
end

if stored ~= ARGV[3] then
  return {2, account}
end

local expires = tonumber(redis.call("HGET", KEYS[1], "expires_at"))
if expires and expires <= tonumber(ARGV[7]) then
  redis.call("DEL", KEYS[1])
  redis.call("SREM", set_key, ARGV[1])
  return {1, account}
end

redis.call("HSET", KEYS[1], "revoked", "1")
redis.call("SREM", set_key, ARGV[1])

redis.call("HSET", KEYS[2],
  "account", account,
  "hash", ARGV[4],
  "ip", ARGV[5],
  "ua", ARGV[6],
  "created_at", ARGV[7],
  "expires_at", ARGV[8])
redis.call("PEXPIRE", KEYS[2], ARGV[9])
redis.call("SADD", set_key, ARGV[2])

return {3, account}
`

var rotateRefreshLua = redis.NewScript(rotateRefreshScript)

// RefreshRecord is the persisted half of an opaque refresh token: the
// sha256 of the client-held secret plus issuance metadata.
type RefreshRecord struct {
	ID         string
	AccountID  string
	SecretHash string
	IP         string
	UserAgent  string
	CreatedAt  time.Time
	ExpiresAt  time.Time
}

// RefreshStore persists refresh token records as Redis hashes with a
// per-account membership set.
type RefreshStore struct {
	redis  redis.UniversalClient
	prefix string
}

// NewRefreshStore returns a RefreshStore using the given key prefix
// ("rt" when empty).
func NewRefreshStore(redisClient redis.UniversalClient, prefix string) *RefreshStore {
	if prefix == "" {
		prefix = "rt"
	}
	return &RefreshStore{
		redis:  redisClient,
		prefix: prefix,
	}
}

func (s *RefreshStore) key(id string) string {
	return s.prefix + ":" + id
}

func (s *RefreshStore) accountSetPrefix() string {
	return s.prefix + ":u:"
}

func (s *RefreshStore) accountSetKey(accountID string) string {
	return s.accountSetPrefix() + accountID
}

// Save persists a freshly minted record. TTL follows the record expiry.
func (s *RefreshStore) Save(ctx context.Context, record RefreshRecord) error {
	ttl := time.Until(record.ExpiresAt)
	if ttl <= 0 {
		return ErrRefreshExpired
	}

	key := s.key(record.ID)
	_, err := s.redis.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, key,
			"account", record.AccountID,
			"hash", record.SecretHash,
			"ip", record.IP,
			"ua", record.UserAgent,
			"created_at", strconv.FormatInt(record.CreatedAt.UnixMilli(), 10),
			"expires_at", strconv.FormatInt(record.ExpiresAt.UnixMilli(), 10),
		)
		pipe.PExpire(ctx, key, ttl)
		pipe.SAdd(ctx, s.accountSetKey(record.AccountID), record.ID)
		return nil
	})
	if err != nil {
		return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return nil
}

// Rotate verifies providedHash against the stored record for oldID and, in
// the same atomic step, retires it and persists next. Returns the account
// the tokens belong to. On ErrRefreshReused the account ID is still
// returned so the caller can revoke the family.
func (s *RefreshStore) Rotate(ctx context.Context, oldID, providedHash string, next RefreshRecord) (string, error) {
	ttl := time.Until(next.ExpiresAt)
	if ttl <= 0 {
		return "", ErrRefreshExpired
	}

	res, err := rotateRefreshLua.Run(ctx, s.redis,
		[]string{s.key(oldID), s.key(next.ID)},
		oldID,
		next.ID,
		providedHash,
		next.SecretHash,
		next.IP,
		next.UserAgent,
		strconv.FormatInt(next.CreatedAt.UnixMilli(), 10),
		strconv.FormatInt(next.ExpiresAt.UnixMilli(), 10),
		strconv.FormatInt(ttl.Milliseconds(), 10),
		s.accountSetPrefix(),
	).Result()
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}

	reply, ok := res.([]interface{})
	if !ok || len(reply) < 2 {
		return "", fmt.Errorf("%w: unexpected rotate reply %v", ErrRedisUnavailable, res)
	}
	status, _ := reply[0].(int64)
	account, _ := reply[1].(string)

	switch status {
	case rotateStatusRotated:
		return account, nil
	case rotateStatusReused:
		return account, ErrRefreshReused
	case rotateStatusExpired:
		return account, ErrRefreshExpired
	default:
		return "", ErrRefreshNotFound
	}
}

// Get loads one record by token id. Tombstoned records read as reused.
func (s *RefreshStore) Get(ctx context.Context, id string) (*RefreshRecord, error) {
	fields, err := s.redis.HGetAll(ctx, s.key(id)).Result()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	if len(fields) == 0 {
		return nil, ErrRefreshNotFound
	}
	if fields["revoked"] != "" {
		return nil, ErrRefreshReused
	}

	record := &RefreshRecord{
		ID:         id,
		AccountID:  fields["account"],
		SecretHash: fields["hash"],
		IP:         fields["ip"],
		UserAgent:  fields["ua"],
	}
	if ms, err := strconv.ParseInt(fields["created_at"], 10, 64); err == nil {
		record.CreatedAt = time.UnixMilli(ms).UTC()
	}
	if ms, err := strconv.ParseInt(fields["expires_at"], 10, 64); err == nil {
		record.ExpiresAt = time.UnixMilli(ms).UTC()
	}

	if !record.ExpiresAt.IsZero() && !record.ExpiresAt.After(time.Now()) {
		return nil, ErrRefreshExpired
	}
	return record, nil
}

// Revoke deletes one token. Revoking an absent token is a no-op.
func (s *RefreshStore) Revoke(ctx context.Context, id string) error {
	account, err := s.redis.HGet(ctx, s.key(id), "account").Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil
		}
		return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}

	_, err = s.redis.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, s.key(id))
		pipe.SRem(ctx, s.accountSetKey(account), id)
		return nil
	})
	if err != nil {
		return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return nil
}

// RevokeAll deletes every live token for an account and returns how many
// were removed.
func (s *RefreshStore) RevokeAll(ctx context.Context, accountID string) (int, error) {
	return s.revokeSet(ctx, accountID, "")
}

// RevokeAllExcept deletes every live token for an account except keepID.
// Used for logout-everywhere-else.
func (s *RefreshStore) RevokeAllExcept(ctx context.Context, accountID, keepID string) (int, error) {
	return s.revokeSet(ctx, accountID, keepID)
}

func (s *RefreshStore) revokeSet(ctx context.Context, accountID, keepID string) (int, error) {
	setKey := s.accountSetKey(accountID)

	ids, err := s.redis.SMembers(ctx, setKey).Result()
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}

	revoked := 0
	_, err = s.redis.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		for _, id := range ids {
			if id == keepID {
				continue
			}
			pipe.Del(ctx, s.key(id))
			pipe.SRem(ctx, setKey, id)
			revoked++
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return revoked, nil
}

// List returns the live records for an account, skipping entries whose
// hash key already expired out from under the membership set.
func (s *RefreshStore) List(ctx context.Context, accountID string) ([]RefreshRecord, error) {
	ids, err := s.redis.SMembers(ctx, s.accountSetKey(accountID)).Result()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}

	records := make([]RefreshRecord, 0, len(ids))
	for _, id := range ids {
		record, err := s.Get(ctx, id)
		if err != nil {
			if errors.Is(err, ErrRefreshNotFound) || errors.Is(err, ErrRefreshExpired) || errors.Is(err, ErrRefreshReused) {
				continue
			}
			return nil, err
		}
		records = append(records, *record)
	}
	return records, nil
}
