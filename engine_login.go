package bookauth

import (
	"context"
	"errors"

	"github.com/slotwise/bookauth/audit"
	"github.com/slotwise/bookauth/store"
)

// Login verifies credentials and issues a token pair.
//
// Ordering is load-bearing: the soft-block check and the lock flag are
// consulted before any argon2 work, so a blocked or locked target costs
// the caller nothing but a Redis round trip. Unknown emails and wrong
// passwords both come back as ErrInvalidCredentials.
func (e *Engine) Login(ctx context.Context, email, plainPassword string) (*AuthResult, error) {
	email = normalizeEmail(email)
	ip := clientIPFromContext(ctx)
	userAgent := userAgentFromContext(ctx)

	blocked, retryAfter, err := e.abuse.CheckLogin(ctx, email, ip)
	if err != nil {
		return nil, err
	}
	if blocked {
		e.record(ctx, audit.Event{
			Type:      audit.EventLoginBlocked,
			Severity:  audit.SeverityCritical,
			Email:     email,
			IP:        ip,
			UserAgent: userAgent,
			Detail:    map[string]string{"reason": "soft_block"},
		})
		return nil, &BlockedError{RetryAfter: retryAfter}
	}

	account, err := e.accounts.GetByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, store.ErrAccountNotFound) {
			return nil, e.handleFailedPassword(ctx, nil, email, ip, userAgent, "unknown_email")
		}
		return nil, err
	}

	if account.Locked {
		e.record(ctx, audit.Event{
			Type:      audit.EventLoginBlocked,
			Severity:  audit.SeverityCritical,
			AccountID: account.ID,
			Email:     email,
			IP:        ip,
			UserAgent: userAgent,
			Detail:    map[string]string{"reason": "account_locked"},
		})
		return nil, ErrAccountLocked
	}

	ok, err := e.hasher.Verify(plainPassword, account.PasswordHash)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, e.handleFailedPassword(ctx, account, email, ip, userAgent, "bad_password")
	}

	if e.config.Password.UpgradeOnLogin {
		e.maybeUpgradeHash(ctx, account, plainPassword)
	}

	now := e.now()
	if updated, err := e.accounts.RecordLogin(ctx, account.ID, now); err == nil {
		account = updated
	} else {
		e.logger.Printf("bookauth: last-login stamp failed (account=%s): %v", account.ID, err)
	}

	e.record(ctx, audit.Event{
		Type:      audit.EventLoginSuccess,
		Severity:  audit.SeverityLow,
		AccountID: account.ID,
		Email:     email,
		IP:        ip,
		UserAgent: userAgent,
	})

	tokens, err := e.issueTokens(ctx, account)
	if err != nil {
		return nil, err
	}

	return &AuthResult{Account: account, Tokens: tokens}, nil
}

// handleFailedPassword records the failure and applies whatever
// enforcement the abuse tracker decided: a hard lock revokes every live
// session for the account. account is nil when the email matched nothing;
// both paths hand back the same errors so responses cannot distinguish
// an unknown email from a wrong password.
func (e *Engine) handleFailedPassword(ctx context.Context, account *Account, email, ip, userAgent, reason string) error {
	accountID := ""
	if account != nil {
		accountID = account.ID
	}

	decision, err := e.abuse.RecordLoginFailure(ctx, email, ip, userAgent, accountID, reason)
	if err != nil {
		return err
	}

	if account != nil && decision.LockAccount && !account.Locked {
		if _, err := e.accounts.Lock(ctx, account.ID, "failed_login_threshold"); err != nil {
			return err
		}
		if _, err := e.refreshTokens.RevokeAll(ctx, account.ID); err != nil {
			e.logger.Printf("bookauth: session revocation on lock failed (account=%s): %v", account.ID, err)
		}
		e.record(ctx, audit.Event{
			Type:      audit.EventAccountLocked,
			Severity:  audit.SeverityCritical,
			AccountID: account.ID,
			Email:     email,
			IP:        ip,
			UserAgent: userAgent,
			Detail:    map[string]string{"reason": "failed_login_threshold"},
		})
		return ErrAccountLocked
	}

	if decision.SoftBlocked {
		e.record(ctx, audit.Event{
			Type:      audit.EventLoginBlocked,
			Severity:  audit.SeverityCritical,
			AccountID: accountID,
			Email:     email,
			IP:        ip,
			UserAgent: userAgent,
			Detail:    map[string]string{"reason": "soft_block"},
		})
		return &BlockedError{RetryAfter: decision.RetryAfter}
	}

	return &CredentialsError{AttemptsRemaining: decision.AttemptsRemaining}
}

// maybeUpgradeHash rehashes the password when the stored hash was produced
// with weaker-than-current parameters. Best effort.
func (e *Engine) maybeUpgradeHash(ctx context.Context, account *Account, plainPassword string) {
	needs, err := e.hasher.NeedsUpgrade(account.PasswordHash)
	if err != nil || !needs {
		return
	}

	rehash, err := e.hasher.Hash(plainPassword)
	if err != nil {
		e.logger.Printf("bookauth: hash upgrade failed (account=%s): %v", account.ID, err)
		return
	}
	if updated, err := e.accounts.SetPassword(ctx, account.ID, rehash); err == nil {
		account.PasswordHash = updated.PasswordHash
	} else {
		e.logger.Printf("bookauth: hash upgrade store failed (account=%s): %v", account.ID, err)
	}
}
