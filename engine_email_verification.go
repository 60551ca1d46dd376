package bookauth

import (
	"context"
	"errors"

	"github.com/slotwise/bookauth/audit"
	"github.com/slotwise/bookauth/internal"
	"github.com/slotwise/bookauth/store"
)

// VerifyEmail consumes a verification token and marks the account's email
// verified.
func (e *Engine) VerifyEmail(ctx context.Context, verificationToken string) error {
	id, secret, err := internal.DecodeToken(verificationToken)
	if err != nil {
		return ErrVerificationInvalid
	}

	providedHash := internal.HashSecret(secret)
	record, err := e.verifications.Consume(ctx, id.String(), providedHash[:])
	if err != nil {
		if errors.Is(err, store.ErrVerificationNotFound) || errors.Is(err, store.ErrVerificationMismatch) {
			return ErrVerificationInvalid
		}
		return err
	}

	account, err := e.accounts.MarkVerified(ctx, record.AccountID)
	if err != nil {
		if errors.Is(err, store.ErrAccountNotFound) {
			return ErrVerificationInvalid
		}
		return err
	}

	e.record(ctx, audit.Event{
		Type:      audit.EventEmailVerified,
		Severity:  audit.SeverityLow,
		AccountID: account.ID,
		Email:     account.Email,
		IP:        clientIPFromContext(ctx),
	})
	return nil
}

// ResendVerification mints a fresh verification token for an unverified
// account. An already verified account is a successful no-op. The HTTP
// layer answers identically whether or not the email exists.
func (e *Engine) ResendVerification(ctx context.Context, email string) error {
	email = normalizeEmail(email)

	account, err := e.accounts.GetByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, store.ErrAccountNotFound) {
			return ErrAccountNotFound
		}
		return err
	}
	if account.EmailVerified {
		return nil
	}

	e.sendVerification(ctx, account)
	return nil
}

// mintVerification creates and persists a verification token, returning
// the opaque string for delivery.
func (e *Engine) mintVerification(ctx context.Context, account *Account) (string, error) {
	id, err := internal.NewTokenID()
	if err != nil {
		return "", err
	}
	secret, err := internal.NewSecret()
	if err != nil {
		return "", err
	}
	hash := internal.HashSecret(secret)

	record := store.VerificationRecord{
		AccountID:  account.ID,
		Email:      account.Email,
		SecretHash: hash[:],
		ExpiresAt:  e.now().Add(e.config.Verification.TokenTTL).Unix(),
	}
	if err := e.verifications.Save(ctx, id.String(), record, e.config.Verification.TokenTTL); err != nil {
		return "", err
	}

	return internal.EncodeToken(id, secret), nil
}
