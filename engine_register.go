package bookauth

import (
	"context"
	"errors"
	"strings"

	"github.com/google/uuid"

	"github.com/slotwise/bookauth/audit"
	"github.com/slotwise/bookauth/store"
)

// Register creates an account and signs it in. Role defaults to customer.
// All validation and abuse decisions complete before anything is
// persisted; the refresh record is the last write.
func (e *Engine) Register(ctx context.Context, email, fullName, plainPassword, role string) (*AuthResult, error) {
	email = normalizeEmail(email)
	fullName = strings.TrimSpace(fullName)
	ip := clientIPFromContext(ctx)
	userAgent := userAgentFromContext(ctx)

	if role == "" {
		role = RoleCustomer
	}
	if !ValidRole(role) {
		return nil, ErrInvalidRole
	}

	blocked, err := e.abuse.CheckRegistration(ctx, ip)
	if err != nil {
		return nil, err
	}
	if blocked {
		e.record(ctx, audit.Event{
			Type:      audit.EventRegistrationBlocked,
			Severity:  audit.SeverityMedium,
			Email:     email,
			IP:        ip,
			UserAgent: userAgent,
		})
		return nil, ErrRegistrationBlocked
	}

	if err := e.checkPasswordQuality(ctx, email, plainPassword); err != nil {
		return nil, err
	}

	hash, err := e.hasher.Hash(plainPassword)
	if err != nil {
		return nil, err
	}

	now := e.now().UTC()
	account := &Account{
		ID:           uuid.NewString(),
		Email:        email,
		FullName:     fullName,
		PasswordHash: hash,
		Role:         role,
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	if err := e.accounts.Create(ctx, account); err != nil {
		if errors.Is(err, store.ErrEmailTaken) {
			return nil, ErrEmailTaken
		}
		return nil, err
	}

	e.record(ctx, audit.Event{
		Type:      audit.EventAccountCreated,
		Severity:  audit.SeverityLow,
		AccountID: account.ID,
		Email:     email,
		IP:        ip,
		UserAgent: userAgent,
		Detail:    map[string]string{"role": role},
	})

	e.sendVerification(ctx, account)

	tokens, err := e.issueTokens(ctx, account)
	if err != nil {
		return nil, err
	}

	return &AuthResult{Account: account, Tokens: tokens}, nil
}

// sendVerification mints a verification token and hands it to the mailer.
// Failures are logged, never surfaced: registration must not fail because
// mail delivery did.
func (e *Engine) sendVerification(ctx context.Context, account *Account) {
	token, err := e.mintVerification(ctx, account)
	if err != nil {
		e.logger.Printf("bookauth: verification token mint failed (account=%s): %v", account.ID, err)
		return
	}

	if err := e.mailer.SendVerification(ctx, account.Email, token); err != nil {
		e.logger.Printf("bookauth: verification mail failed (account=%s): %v", account.ID, err)
		return
	}

	e.record(ctx, audit.Event{
		Type:      audit.EventVerificationSent,
		Severity:  audit.SeverityLow,
		AccountID: account.ID,
		Email:     account.Email,
		IP:        clientIPFromContext(ctx),
	})
}
