package bookauth

import (
	"context"
	"errors"

	"github.com/slotwise/bookauth/audit"
	"github.com/slotwise/bookauth/internal"
	"github.com/slotwise/bookauth/store"
)

// ChangePassword verifies the current password and replaces it. Every live
// session is revoked: a password change is the user's lever against a
// compromised credential, so old tokens must die with it.
func (e *Engine) ChangePassword(ctx context.Context, accountID, currentPassword, newPassword string) error {
	account, err := e.accounts.GetByID(ctx, accountID)
	if err != nil {
		if errors.Is(err, store.ErrAccountNotFound) {
			return ErrAccountNotFound
		}
		return err
	}

	ok, err := e.hasher.Verify(currentPassword, account.PasswordHash)
	if err != nil {
		return err
	}
	if !ok {
		return ErrInvalidCredentials
	}

	if err := e.checkPasswordQuality(ctx, account.Email, newPassword); err != nil {
		return err
	}

	hash, err := e.hasher.Hash(newPassword)
	if err != nil {
		return err
	}
	if _, err := e.accounts.SetPassword(ctx, accountID, hash); err != nil {
		return err
	}

	if _, err := e.refreshTokens.RevokeAll(ctx, accountID); err != nil {
		e.logger.Printf("bookauth: session revocation on password change failed (account=%s): %v", accountID, err)
	}

	e.record(ctx, audit.Event{
		Type:      audit.EventPasswordChanged,
		Severity:  audit.SeverityMedium,
		AccountID: accountID,
		Email:     account.Email,
		IP:        clientIPFromContext(ctx),
		UserAgent: userAgentFromContext(ctx),
	})
	return nil
}

// RequestPasswordReset mints a single-use reset token and hands it to the
// mailer. The rate caps are evaluated, and the request recorded, before
// the account lookup: unknown emails consume the same email and IP budget
// as real ones, so the caps cannot be used to probe which emails exist.
//
// Callers presenting this over HTTP must answer identically for every
// outcome; the distinct errors here are for the library surface and the
// audit trail only.
func (e *Engine) RequestPasswordReset(ctx context.Context, email string) error {
	email = normalizeEmail(email)
	ip := clientIPFromContext(ctx)

	decision, err := e.abuse.CheckResetRequest(ctx, email, ip)
	if err != nil {
		return err
	}
	if decision.Blocked {
		e.record(ctx, audit.Event{
			Type:     audit.EventPasswordResetBlocked,
			Severity: audit.SeverityMedium,
			Email:    email,
			IP:       ip,
			Detail:   map[string]string{"scope": decision.Scope},
		})
		return &ResetBlockedError{Scope: decision.Scope}
	}

	e.record(ctx, audit.Event{
		Type:     audit.EventPasswordResetRequest,
		Severity: audit.SeverityLow,
		Email:    email,
		IP:       ip,
	})

	account, err := e.accounts.GetByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, store.ErrAccountNotFound) {
			return ErrAccountNotFound
		}
		return err
	}

	id, err := internal.NewTokenID()
	if err != nil {
		return err
	}
	secret, err := internal.NewSecret()
	if err != nil {
		return err
	}
	hash := internal.HashSecret(secret)

	record := store.ResetRecord{
		AccountID:  account.ID,
		SecretHash: hash[:],
		ExpiresAt:  e.now().Add(e.config.Reset.TokenTTL).Unix(),
	}
	if err := e.resets.Save(ctx, id.String(), record, e.config.Reset.TokenTTL); err != nil {
		return err
	}

	token := internal.EncodeToken(id, secret)
	if err := e.mailer.SendPasswordReset(ctx, email, token); err != nil {
		e.logger.Printf("bookauth: reset mail failed (account=%s): %v", account.ID, err)
	}
	return nil
}

// ConfirmPasswordReset consumes a reset token and sets the new password.
// The quality checks run before consumption so a weak candidate does not
// burn the single-use token. A successful reset clears any hard lock and
// revokes every live session.
func (e *Engine) ConfirmPasswordReset(ctx context.Context, resetToken, newPassword string) error {
	id, secret, err := internal.DecodeToken(resetToken)
	if err != nil {
		return ErrResetInvalid
	}

	if err := e.checkPasswordQuality(ctx, "", newPassword); err != nil {
		return err
	}

	providedHash := internal.HashSecret(secret)
	record, err := e.resets.Consume(ctx, id.String(), providedHash[:])
	if err != nil {
		switch {
		case errors.Is(err, store.ErrResetUsed):
			return ErrResetUsed
		case errors.Is(err, store.ErrResetNotFound), errors.Is(err, store.ErrResetMismatch):
			return ErrResetInvalid
		}
		return err
	}

	hash, err := e.hasher.Hash(newPassword)
	if err != nil {
		return err
	}

	account, err := e.accounts.Mutate(ctx, record.AccountID, func(account *Account) error {
		account.PasswordHash = hash
		account.Locked = false
		account.LockedAt = nil
		account.LockReason = ""
		return nil
	})
	if err != nil {
		return err
	}

	if _, err := e.refreshTokens.RevokeAll(ctx, record.AccountID); err != nil {
		e.logger.Printf("bookauth: session revocation on reset failed (account=%s): %v", record.AccountID, err)
	}

	e.record(ctx, audit.Event{
		Type:      audit.EventPasswordResetComplete,
		Severity:  audit.SeverityMedium,
		AccountID: record.AccountID,
		Email:     account.Email,
		IP:        clientIPFromContext(ctx),
		UserAgent: userAgentFromContext(ctx),
	})
	return nil
}
