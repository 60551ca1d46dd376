package bookauth

import (
	"context"
	"encoding/hex"
	"errors"
	"strconv"

	"github.com/slotwise/bookauth/audit"
	"github.com/slotwise/bookauth/internal"
	"github.com/slotwise/bookauth/jwt"
	"github.com/slotwise/bookauth/store"
)

// Refresh rotates the presented refresh token and mints a new access
// token. Rotation is atomic: of N concurrent calls with the same token,
// exactly one receives a pair; the rest observe reuse, which revokes every
// live token for the account.
func (e *Engine) Refresh(ctx context.Context, refreshToken string) (*TokenPair, error) {
	id, secret, err := internal.DecodeToken(refreshToken)
	if err != nil {
		return nil, ErrRefreshInvalid
	}
	providedHash := internal.HashSecret(secret)

	ip := clientIPFromContext(ctx)
	userAgent := userAgentFromContext(ctx)
	now := e.now()

	nextOpaque, nextRecord, err := e.mintRefresh("", ip, userAgent, now)
	if err != nil {
		return nil, err
	}

	accountID, err := e.refreshTokens.Rotate(ctx, id.String(), hex.EncodeToString(providedHash[:]), nextRecord)
	if err != nil {
		switch {
		case errors.Is(err, store.ErrRefreshReused):
			return nil, e.handleRefreshReuse(ctx, accountID, ip, userAgent)
		case errors.Is(err, store.ErrRefreshExpired):
			return nil, ErrRefreshExpired
		case errors.Is(err, store.ErrRefreshNotFound):
			return nil, ErrRefreshInvalid
		}
		return nil, err
	}

	account, err := e.accounts.GetByID(ctx, accountID)
	if err != nil {
		if errors.Is(err, store.ErrAccountNotFound) {
			_ = e.refreshTokens.Revoke(ctx, nextRecord.ID)
			return nil, ErrAccountNotFound
		}
		return nil, err
	}
	if account.Locked {
		// The successor minted by the rotation must not outlive this
		// rejection.
		if err := e.refreshTokens.Revoke(ctx, nextRecord.ID); err != nil {
			e.logger.Printf("bookauth: successor revoke failed (account=%s): %v", account.ID, err)
		}
		return nil, ErrAccountLocked
	}

	access, err := e.tokens.CreateAccess(jwt.TokenInput{
		AccountID:     account.ID,
		Email:         account.Email,
		Role:          account.Role,
		IP:            ip,
		UserAgent:     userAgent,
		EmailVerified: account.EmailVerified,
	})
	if err != nil {
		return nil, err
	}

	e.record(ctx, audit.Event{
		Type:      audit.EventTokenRefreshed,
		Severity:  audit.SeverityLow,
		AccountID: account.ID,
		Email:     account.Email,
		IP:        ip,
		UserAgent: userAgent,
	})

	return &TokenPair{
		AccessToken:      access,
		AccessExpiresAt:  now.Add(e.config.JWT.AccessTTL),
		RefreshToken:     nextOpaque,
		RefreshExpiresAt: nextRecord.ExpiresAt,
	}, nil
}

// handleRefreshReuse revokes the account's whole token family and records
// the reuse. A replayed rotated token means the chain leaked: either the
// client lost it or someone else replayed it, and there is no way to tell
// which side is legitimate.
func (e *Engine) handleRefreshReuse(ctx context.Context, accountID, ip, userAgent string) error {
	if accountID != "" {
		revoked, err := e.refreshTokens.RevokeAll(ctx, accountID)
		if err != nil {
			e.logger.Printf("bookauth: family revocation failed (account=%s): %v", accountID, err)
		}

		var email string
		if account, err := e.accounts.GetByID(ctx, accountID); err == nil {
			email = account.Email
		}

		e.record(ctx, audit.Event{
			Type:      audit.EventRefreshReuseDetected,
			Severity:  audit.SeverityHigh,
			AccountID: accountID,
			Email:     email,
			IP:        ip,
			UserAgent: userAgent,
			Detail:    map[string]string{"revoked_sessions": strconv.Itoa(revoked)},
		})
	}
	return ErrRefreshReuseDetected
}
