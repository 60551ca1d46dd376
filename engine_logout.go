package bookauth

import (
	"context"
	"crypto/subtle"
	"encoding/hex"
	"errors"

	"github.com/slotwise/bookauth/audit"
	"github.com/slotwise/bookauth/internal"
	"github.com/slotwise/bookauth/store"
)

// Logout revokes the presented refresh token. Idempotent: an unknown or
// already-revoked token is a successful no-op.
func (e *Engine) Logout(ctx context.Context, refreshToken string) error {
	id, secret, err := internal.DecodeToken(refreshToken)
	if err != nil {
		return nil
	}

	record, err := e.refreshTokens.Get(ctx, id.String())
	if err != nil {
		if errors.Is(err, store.ErrRefreshNotFound) ||
			errors.Is(err, store.ErrRefreshExpired) ||
			errors.Is(err, store.ErrRefreshReused) {
			return nil
		}
		return err
	}

	providedHash := internal.HashSecret(secret)
	if subtle.ConstantTimeCompare([]byte(hex.EncodeToString(providedHash[:])), []byte(record.SecretHash)) != 1 {
		// A wrong secret must not revoke someone else's session.
		return ErrRefreshInvalid
	}

	if err := e.refreshTokens.Revoke(ctx, id.String()); err != nil {
		return err
	}

	e.record(ctx, audit.Event{
		Type:      audit.EventLogout,
		Severity:  audit.SeverityLow,
		AccountID: record.AccountID,
		IP:        clientIPFromContext(ctx),
		UserAgent: userAgentFromContext(ctx),
	})
	return nil
}

// LogoutAll revokes every live refresh token for the account.
func (e *Engine) LogoutAll(ctx context.Context, accountID string) (int, error) {
	revoked, err := e.refreshTokens.RevokeAll(ctx, accountID)
	if err != nil {
		return 0, err
	}

	e.record(ctx, audit.Event{
		Type:      audit.EventLogoutAll,
		Severity:  audit.SeverityMedium,
		AccountID: accountID,
		IP:        clientIPFromContext(ctx),
		UserAgent: userAgentFromContext(ctx),
	})
	return revoked, nil
}

// LogoutOthers revokes every live refresh token for the account except
// those issued to the caller's exact client IP and user agent. The match
// is exact string equality on both fields; a client behind a rotating
// proxy will log out its own other sessions too.
func (e *Engine) LogoutOthers(ctx context.Context, accountID string) (int, error) {
	ip := clientIPFromContext(ctx)
	userAgent := userAgentFromContext(ctx)

	records, err := e.refreshTokens.List(ctx, accountID)
	if err != nil {
		return 0, err
	}

	revoked := 0
	for _, record := range records {
		if record.IP == ip && record.UserAgent == userAgent {
			continue
		}
		if err := e.refreshTokens.Revoke(ctx, record.ID); err != nil {
			return revoked, err
		}
		revoked++
	}

	e.record(ctx, audit.Event{
		Type:      audit.EventLogoutAll,
		Severity:  audit.SeverityMedium,
		AccountID: accountID,
		IP:        ip,
		UserAgent: userAgent,
		Detail:    map[string]string{"scope": "others"},
	})
	return revoked, nil
}

// Sessions lists the account's live refresh tokens.
func (e *Engine) Sessions(ctx context.Context, accountID string) ([]SessionInfo, error) {
	records, err := e.refreshTokens.List(ctx, accountID)
	if err != nil {
		return nil, err
	}

	sessions := make([]SessionInfo, 0, len(records))
	for _, record := range records {
		sessions = append(sessions, SessionInfo{
			ID:        record.ID,
			IP:        record.IP,
			UserAgent: record.UserAgent,
			CreatedAt: record.CreatedAt,
			ExpiresAt: record.ExpiresAt,
		})
	}
	return sessions, nil
}
