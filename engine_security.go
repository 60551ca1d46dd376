package bookauth

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/slotwise/bookauth/audit"
	"github.com/slotwise/bookauth/store"
)

// RecentSuspicious lists unresolved high and critical audit entries,
// newest first.
func (e *Engine) RecentSuspicious(ctx context.Context, limit int) ([]audit.Event, error) {
	return e.auditLog.RecentSuspicious(ctx, limit)
}

// ResolveSuspicious marks an audit entry triaged. Idempotent.
func (e *Engine) ResolveSuspicious(ctx context.Context, entryID string) error {
	return e.auditLog.Resolve(ctx, entryID)
}

// AccountTrail returns the newest audit entries attributed to an account.
func (e *Engine) AccountTrail(ctx context.Context, accountID string, limit int) ([]audit.Event, error) {
	return e.auditLog.AccountTrail(ctx, accountID, limit)
}

// SecuritySummary returns per-event-type counts over the trailing window.
func (e *Engine) SecuritySummary(ctx context.Context, window time.Duration) (map[string]int64, error) {
	since := e.now().Add(-window)
	types := []string{
		audit.EventAccountCreated,
		audit.EventLoginSuccess,
		audit.EventLoginFailed,
		audit.EventLoginBlocked,
		audit.EventAccountLocked,
		audit.EventTokenRefreshed,
		audit.EventRefreshReuseDetected,
		audit.EventTokenValidationFailed,
		audit.EventSuspiciousActivity,
		audit.EventPasswordResetRequest,
		audit.EventPasswordResetBlocked,
		audit.EventPasswordResetComplete,
		audit.EventRegistrationBlocked,
		audit.EventBreachCheckFailed,
	}

	summary := make(map[string]int64, len(types))
	for _, eventType := range types {
		count, err := e.auditLog.CountByTypeSince(ctx, eventType, since)
		if err != nil {
			return nil, err
		}
		summary[eventType] = count
	}
	return summary, nil
}

// UnlockAccount clears a hard lock. Admin operation.
func (e *Engine) UnlockAccount(ctx context.Context, accountID string) error {
	account, err := e.accounts.Unlock(ctx, accountID)
	if err != nil {
		if errors.Is(err, store.ErrAccountNotFound) {
			return ErrAccountNotFound
		}
		return err
	}

	e.record(ctx, audit.Event{
		Type:      audit.EventAccountUnlocked,
		Severity:  audit.SeverityMedium,
		AccountID: accountID,
		Email:     account.Email,
		IP:        clientIPFromContext(ctx),
	})
	return nil
}

// PruneAudit removes low and medium audit entries older than the retention
// horizon. Meant to run from a maintenance loop, not a request path.
func (e *Engine) PruneAudit(ctx context.Context) (int64, error) {
	pruned, err := e.auditLog.Prune(ctx, e.config.Audit.Retention)
	if err != nil {
		return pruned, err
	}

	if pruned > 0 {
		e.record(ctx, audit.Event{
			Type:     audit.EventAuditPruned,
			Severity: audit.SeverityLow,
			Detail: map[string]string{
				"pruned":    strconv.FormatInt(pruned, 10),
				"retention": e.config.Audit.Retention.String(),
			},
		})
	}
	return pruned, nil
}
