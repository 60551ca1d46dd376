package audit

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newTestStore(t *testing.T) (*Store, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewStore(client, "aud"), mr
}

func TestRecordAssignsIDAndTimestamp(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	event, err := store.Record(ctx, Event{
		Type:  EventLoginFailed,
		Email: "user@example.com",
		IP:    "203.0.113.7",
	})
	if err != nil {
		t.Fatalf("Record: %v", err)
	}
	if event.ID == "" {
		t.Fatal("expected generated entry id")
	}
	if event.Timestamp.IsZero() {
		t.Fatal("expected assigned timestamp")
	}
	if event.Severity != SeverityLow {
		t.Fatalf("expected default severity low, got %q", event.Severity)
	}

	got, err := store.Get(ctx, event.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Type != EventLoginFailed || got.Email != "user@example.com" {
		t.Fatalf("stored entry mismatch: %+v", got)
	}
}

func TestGetUnknownEntry(t *testing.T) {
	store, _ := newTestStore(t)

	_, err := store.Get(context.Background(), "nope")
	if !errors.Is(err, ErrEntryNotFound) {
		t.Fatalf("expected ErrEntryNotFound, got %v", err)
	}
}

func TestWindowedCounts(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	for i := 0; i < 3; i++ {
		_, err := store.Record(ctx, Event{
			Type:      EventLoginFailed,
			Email:     "victim@example.com",
			IP:        "198.51.100.1",
			Timestamp: now.Add(-time.Duration(i) * time.Minute),
		})
		if err != nil {
			t.Fatalf("Record: %v", err)
		}
	}
	// Outside the window.
	_, err := store.Record(ctx, Event{
		Type:      EventLoginFailed,
		Email:     "victim@example.com",
		IP:        "198.51.100.1",
		Timestamp: now.Add(-2 * time.Hour),
	})
	if err != nil {
		t.Fatalf("Record: %v", err)
	}
	// Different scope.
	_, err = store.Record(ctx, Event{
		Type:      EventLoginFailed,
		Email:     "other@example.com",
		IP:        "198.51.100.2",
		Timestamp: now,
	})
	if err != nil {
		t.Fatalf("Record: %v", err)
	}

	since := now.Add(-15 * time.Minute)

	byEmail, err := store.CountByEmailSince(ctx, EventLoginFailed, "victim@example.com", since)
	if err != nil {
		t.Fatalf("CountByEmailSince: %v", err)
	}
	if byEmail != 3 {
		t.Fatalf("expected 3 entries for email, got %d", byEmail)
	}

	byIP, err := store.CountByIPSince(ctx, EventLoginFailed, "198.51.100.1", since)
	if err != nil {
		t.Fatalf("CountByIPSince: %v", err)
	}
	if byIP != 3 {
		t.Fatalf("expected 3 entries for ip, got %d", byIP)
	}

	byType, err := store.CountByTypeSince(ctx, EventLoginFailed, since)
	if err != nil {
		t.Fatalf("CountByTypeSince: %v", err)
	}
	if byType != 4 {
		t.Fatalf("expected 4 entries for type, got %d", byType)
	}
}

func TestRecentSuspiciousAndResolve(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	high, err := store.Record(ctx, Event{
		Type:      EventSuspiciousActivity,
		Severity:  SeverityHigh,
		Email:     "victim@example.com",
		Timestamp: now.Add(-time.Minute),
	})
	if err != nil {
		t.Fatalf("Record: %v", err)
	}
	critical, err := store.Record(ctx, Event{
		Type:      EventAccountLocked,
		Severity:  SeverityCritical,
		Email:     "victim@example.com",
		Timestamp: now,
	})
	if err != nil {
		t.Fatalf("Record: %v", err)
	}
	_, err = store.Record(ctx, Event{
		Type:      EventLoginFailed,
		Severity:  SeverityLow,
		Timestamp: now,
	})
	if err != nil {
		t.Fatalf("Record: %v", err)
	}

	events, err := store.RecentSuspicious(ctx, 10)
	if err != nil {
		t.Fatalf("RecentSuspicious: %v", err)
	}
	if len(events) != 2 {
		t.Fatalf("expected 2 unresolved entries, got %d", len(events))
	}
	if events[0].ID != critical.ID {
		t.Fatalf("expected newest entry first, got %s", events[0].ID)
	}

	if err := store.Resolve(ctx, high.ID); err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	// Resolving twice is a no-op.
	if err := store.Resolve(ctx, high.ID); err != nil {
		t.Fatalf("Resolve repeat: %v", err)
	}
	if err := store.Resolve(ctx, "unknown-id"); err != nil {
		t.Fatalf("Resolve unknown: %v", err)
	}

	events, err = store.RecentSuspicious(ctx, 10)
	if err != nil {
		t.Fatalf("RecentSuspicious: %v", err)
	}
	if len(events) != 1 || events[0].ID != critical.ID {
		t.Fatalf("expected only the critical entry to remain, got %+v", events)
	}

	got, err := store.Get(ctx, high.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if !got.Resolved {
		t.Fatal("expected entry marked resolved")
	}
}

func TestAccountTrail(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	for i := 0; i < 3; i++ {
		_, err := store.Record(ctx, Event{
			Type:      EventLoginSuccess,
			AccountID: "acct-1",
			Timestamp: now.Add(time.Duration(i) * time.Minute),
		})
		if err != nil {
			t.Fatalf("Record: %v", err)
		}
	}
	_, err := store.Record(ctx, Event{
		Type:      EventLoginSuccess,
		AccountID: "acct-2",
		Timestamp: now,
	})
	if err != nil {
		t.Fatalf("Record: %v", err)
	}

	trail, err := store.AccountTrail(ctx, "acct-1", 2)
	if err != nil {
		t.Fatalf("AccountTrail: %v", err)
	}
	if len(trail) != 2 {
		t.Fatalf("expected trail limited to 2, got %d", len(trail))
	}
	if !trail[0].Timestamp.After(trail[1].Timestamp) {
		t.Fatal("expected newest entry first")
	}
	for _, e := range trail {
		if e.AccountID != "acct-1" {
			t.Fatalf("trail leaked entry for %s", e.AccountID)
		}
	}
}

func TestPruneKeepsHighSeverity(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()
	old := time.Now().UTC().Add(-48 * time.Hour)

	lowOld, err := store.Record(ctx, Event{
		Type:      EventLoginFailed,
		Severity:  SeverityLow,
		Email:     "victim@example.com",
		IP:        "198.51.100.1",
		AccountID: "acct-1",
		Timestamp: old,
	})
	if err != nil {
		t.Fatalf("Record: %v", err)
	}
	highOld, err := store.Record(ctx, Event{
		Type:      EventAccountLocked,
		Severity:  SeverityHigh,
		Email:     "victim@example.com",
		Timestamp: old,
	})
	if err != nil {
		t.Fatalf("Record: %v", err)
	}
	lowFresh, err := store.Record(ctx, Event{
		Type:     EventLoginFailed,
		Severity: SeverityLow,
		Email:    "victim@example.com",
	})
	if err != nil {
		t.Fatalf("Record: %v", err)
	}

	pruned, err := store.Prune(ctx, 24*time.Hour)
	if err != nil {
		t.Fatalf("Prune: %v", err)
	}
	if pruned != 1 {
		t.Fatalf("expected 1 entry pruned, got %d", pruned)
	}

	if _, err := store.Get(ctx, lowOld.ID); !errors.Is(err, ErrEntryNotFound) {
		t.Fatalf("expected pruned entry gone, got %v", err)
	}
	if _, err := store.Get(ctx, highOld.ID); err != nil {
		t.Fatalf("expected high entry retained: %v", err)
	}
	if _, err := store.Get(ctx, lowFresh.ID); err != nil {
		t.Fatalf("expected fresh entry retained: %v", err)
	}

	// Index membership for the pruned entry is gone too.
	count, err := store.CountByEmailSince(ctx, EventLoginFailed, "victim@example.com", old.Add(-time.Hour))
	if err != nil {
		t.Fatalf("CountByEmailSince: %v", err)
	}
	if count != 1 {
		t.Fatalf("expected 1 remaining login_failed entry for email, got %d", count)
	}
}
