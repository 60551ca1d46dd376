package audit

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// ErrStoreUnavailable indicates the audit backend is unreachable. Callers
// on the request path swallow it after logging; audit failure must never
// block the operation it accompanies.
var ErrStoreUnavailable = errors.New("audit store unavailable")

// ErrEntryNotFound is returned by Get for an unknown entry id.
var ErrEntryNotFound = errors.New("audit entry not found")

// Store persists audit entries in Redis. Each entry is a JSON blob plus
// sorted-set time indexes keyed by event type, email scope, IP scope, and
// account, so windowed counts are a single ZCOUNT.
type Store struct {
	redis  redis.UniversalClient
	prefix string
}

// NewStore returns a Store using the given key prefix ("aud" when empty).
func NewStore(redisClient redis.UniversalClient, prefix string) *Store {
	if prefix == "" {
		prefix = "aud"
	}
	return &Store{
		redis:  redisClient,
		prefix: prefix,
	}
}

func (s *Store) entryKey(id string) string        { return s.prefix + ":e:" + id }
func (s *Store) allIndexKey() string              { return s.prefix + ":ix:all" }
func (s *Store) typeIndexKey(t string) string     { return s.prefix + ":ix:t:" + t }
func (s *Store) emailIndexKey(t, e string) string { return s.prefix + ":ix:eml:" + t + ":" + e }
func (s *Store) ipIndexKey(t, ip string) string   { return s.prefix + ":ix:ip:" + t + ":" + ip }
func (s *Store) accountIndexKey(a string) string  { return s.prefix + ":ix:acct:" + a }
func (s *Store) unresolvedKey() string            { return s.prefix + ":unres" }

// Record appends one immutable entry. ID and Timestamp are assigned here
// when unset. The write is synchronous: rate decisions derived from counts
// must observe this entry on the very next query.
func (s *Store) Record(ctx context.Context, event Event) (Event, error) {
	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}
	if event.Severity == "" {
		event.Severity = SeverityLow
	}

	data, err := json.Marshal(event)
	if err != nil {
		return Event{}, err
	}

	score := float64(event.Timestamp.UnixMilli())
	member := redis.Z{Score: score, Member: event.ID}

	_, err = s.redis.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, s.entryKey(event.ID), data, 0)
		pipe.ZAdd(ctx, s.allIndexKey(), member)
		pipe.ZAdd(ctx, s.typeIndexKey(event.Type), member)
		if event.Email != "" {
			pipe.ZAdd(ctx, s.emailIndexKey(event.Type, event.Email), member)
		}
		if event.IP != "" {
			pipe.ZAdd(ctx, s.ipIndexKey(event.Type, event.IP), member)
		}
		if event.AccountID != "" {
			pipe.ZAdd(ctx, s.accountIndexKey(event.AccountID), member)
		}
		if event.Severity.AtLeast(SeverityHigh) && !event.Resolved {
			pipe.ZAdd(ctx, s.unresolvedKey(), member)
		}
		return nil
	})
	if err != nil {
		return Event{}, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	return event, nil
}

// CountByEmailSince counts entries of eventType scoped to email with
// timestamp >= since.
func (s *Store) CountByEmailSince(ctx context.Context, eventType, email string, since time.Time) (int64, error) {
	return s.countSince(ctx, s.emailIndexKey(eventType, email), since)
}

// CountByIPSince counts entries of eventType scoped to ip with
// timestamp >= since.
func (s *Store) CountByIPSince(ctx context.Context, eventType, ip string, since time.Time) (int64, error) {
	return s.countSince(ctx, s.ipIndexKey(eventType, ip), since)
}

// CountByTypeSince counts all entries of eventType with timestamp >= since.
func (s *Store) CountByTypeSince(ctx context.Context, eventType string, since time.Time) (int64, error) {
	return s.countSince(ctx, s.typeIndexKey(eventType), since)
}

func (s *Store) countSince(ctx context.Context, key string, since time.Time) (int64, error) {
	min := strconv.FormatInt(since.UnixMilli(), 10)
	count, err := s.redis.ZCount(ctx, key, min, "+inf").Result()
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return count, nil
}

// Get loads one entry by id.
func (s *Store) Get(ctx context.Context, id string) (*Event, error) {
	data, err := s.redis.Get(ctx, s.entryKey(id)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrEntryNotFound
		}
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	var event Event
	if err := json.Unmarshal(data, &event); err != nil {
		return nil, err
	}
	return &event, nil
}

// RecentSuspicious returns unresolved high/critical entries, newest first.
func (s *Store) RecentSuspicious(ctx context.Context, limit int) ([]Event, error) {
	if limit <= 0 {
		limit = 50
	}

	ids, err := s.redis.ZRevRangeByScore(ctx, s.unresolvedKey(), &redis.ZRangeBy{
		Min:   "-inf",
		Max:   "+inf",
		Count: int64(limit),
	}).Result()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	return s.loadAll(ctx, ids)
}

// Resolve flips the resolved flag on an entry. Resolving an already
// resolved or absent entry is a no-op.
func (s *Store) Resolve(ctx context.Context, id string) error {
	event, err := s.Get(ctx, id)
	if err != nil {
		if errors.Is(err, ErrEntryNotFound) {
			return nil
		}
		return err
	}
	if event.Resolved {
		return nil
	}

	event.Resolved = true
	data, err := json.Marshal(event)
	if err != nil {
		return err
	}

	_, err = s.redis.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, s.entryKey(id), data, 0)
		pipe.ZRem(ctx, s.unresolvedKey(), id)
		return nil
	})
	if err != nil {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return nil
}

// AccountTrail returns the newest entries attributed to accountID.
func (s *Store) AccountTrail(ctx context.Context, accountID string, limit int) ([]Event, error) {
	if limit <= 0 {
		limit = 100
	}

	ids, err := s.redis.ZRevRangeByScore(ctx, s.accountIndexKey(accountID), &redis.ZRangeBy{
		Min:   "-inf",
		Max:   "+inf",
		Count: int64(limit),
	}).Result()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	return s.loadAll(ctx, ids)
}

// Prune deletes entries older than the retention horizon whose severity is
// below high. High and critical entries are retained indefinitely. Returns
// the number of entries removed. Maintenance operation, not request-path.
func (s *Store) Prune(ctx context.Context, retention time.Duration) (int64, error) {
	horizon := time.Now().Add(-retention)
	max := strconv.FormatInt(horizon.UnixMilli(), 10)

	ids, err := s.redis.ZRangeByScore(ctx, s.allIndexKey(), &redis.ZRangeBy{
		Min: "-inf",
		Max: max,
	}).Result()
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	var pruned int64
	for _, id := range ids {
		event, err := s.Get(ctx, id)
		if err != nil {
			if errors.Is(err, ErrEntryNotFound) {
				// Entry already gone; drop the dangling index member.
				_ = s.redis.ZRem(ctx, s.allIndexKey(), id).Err()
				continue
			}
			return pruned, err
		}
		if event.Severity.AtLeast(SeverityHigh) {
			continue
		}

		_, err = s.redis.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Del(ctx, s.entryKey(id))
			pipe.ZRem(ctx, s.allIndexKey(), id)
			pipe.ZRem(ctx, s.typeIndexKey(event.Type), id)
			if event.Email != "" {
				pipe.ZRem(ctx, s.emailIndexKey(event.Type, event.Email), id)
			}
			if event.IP != "" {
				pipe.ZRem(ctx, s.ipIndexKey(event.Type, event.IP), id)
			}
			if event.AccountID != "" {
				pipe.ZRem(ctx, s.accountIndexKey(event.AccountID), id)
			}
			return nil
		})
		if err != nil {
			return pruned, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
		}
		pruned++
	}

	return pruned, nil
}

func (s *Store) loadAll(ctx context.Context, ids []string) ([]Event, error) {
	events := make([]Event, 0, len(ids))
	for _, id := range ids {
		event, err := s.Get(ctx, id)
		if err != nil {
			if errors.Is(err, ErrEntryNotFound) {
				continue
			}
			return nil, err
		}
		events = append(events, *event)
	}
	return events, nil
}
