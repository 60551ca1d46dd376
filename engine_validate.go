package bookauth

import (
	"context"
	"errors"

	"github.com/slotwise/bookauth/audit"
	"github.com/slotwise/bookauth/store"
)

// Validate verifies an access token against the caller's context and
// resolves it to a live account.
//
// A signature-valid token whose bound IP or user agent differs from the
// request is rejected as suspected hijack: the caller gets a distinct
// re-authenticate signal and the mismatch is audited at high severity.
// Tokens minted without context claims (both empty) are accepted; they
// predate context binding.
func (e *Engine) Validate(ctx context.Context, accessToken string) (*Identity, error) {
	ip := clientIPFromContext(ctx)
	userAgent := userAgentFromContext(ctx)

	claims, mismatch, err := e.tokens.ParseAccessWithContext(accessToken, ip, userAgent)
	if err != nil {
		e.record(ctx, audit.Event{
			Type:      audit.EventTokenValidationFailed,
			Severity:  audit.SeverityMedium,
			IP:        ip,
			UserAgent: userAgent,
			Detail:    map[string]string{"error": err.Error()},
		})
		return nil, ErrTokenInvalid
	}
	if mismatch != nil {
		e.record(ctx, audit.Event{
			Type:      audit.EventSuspiciousActivity,
			Severity:  audit.SeverityHigh,
			AccountID: claims.UID,
			Email:     claims.Email,
			IP:        ip,
			UserAgent: userAgent,
			Detail: map[string]string{
				"reason":   "token_context_mismatch",
				"field":    mismatch.Field,
				"issued":   mismatch.Issued,
				"observed": mismatch.Observed,
			},
		})
		return nil, &HijackError{Mismatch: mismatch}
	}

	account, err := e.accounts.GetByID(ctx, claims.UID)
	if err != nil {
		if errors.Is(err, store.ErrAccountNotFound) {
			return nil, ErrAccountNotFound
		}
		return nil, err
	}
	if account.Locked {
		return nil, ErrAccountLocked
	}

	return &Identity{
		AccountID:     account.ID,
		Email:         account.Email,
		Role:          account.Role,
		EmailVerified: account.EmailVerified,
	}, nil
}

// Account loads one account by id.
func (e *Engine) Account(ctx context.Context, accountID string) (*Account, error) {
	account, err := e.accounts.GetByID(ctx, accountID)
	if err != nil {
		if errors.Is(err, store.ErrAccountNotFound) {
			return nil, ErrAccountNotFound
		}
		return nil, err
	}
	return account, nil
}
