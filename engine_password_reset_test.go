package bookauth

import (
	"errors"
	"testing"
)

func TestPasswordResetFlow(t *testing.T) {
	engine, mailer := newTestEngine(t)
	ctx := clientCtx("203.0.113.1", "cli")

	if _, err := engine.Register(ctx, "user@example.com", "Avery User", strongPassword, ""); err != nil {
		t.Fatalf("Register: %v", err)
	}

	if err := engine.RequestPasswordReset(ctx, "user@example.com"); err != nil {
		t.Fatalf("RequestPasswordReset: %v", err)
	}
	token := mailer.resetToken("user@example.com")
	if token == "" {
		t.Fatal("expected reset mail")
	}

	const newPassword = "N3w!Secret-Pass"
	if err := engine.ConfirmPasswordReset(ctx, token, newPassword); err != nil {
		t.Fatalf("ConfirmPasswordReset: %v", err)
	}

	// Old password dead, new one live.
	if _, err := engine.Login(ctx, "user@example.com", strongPassword); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("expected old password rejected, got %v", err)
	}
	if _, err := engine.Login(ctx, "user@example.com", newPassword); err != nil {
		t.Fatalf("Login with new password: %v", err)
	}
}

func TestPasswordResetSingleUse(t *testing.T) {
	engine, mailer := newTestEngine(t)
	ctx := clientCtx("203.0.113.1", "cli")

	if _, err := engine.Register(ctx, "user@example.com", "Avery User", strongPassword, ""); err != nil {
		t.Fatalf("Register: %v", err)
	}
	if err := engine.RequestPasswordReset(ctx, "user@example.com"); err != nil {
		t.Fatalf("RequestPasswordReset: %v", err)
	}
	token := mailer.resetToken("user@example.com")

	if err := engine.ConfirmPasswordReset(ctx, token, "N3w!Secret-Pass"); err != nil {
		t.Fatalf("ConfirmPasswordReset: %v", err)
	}
	err := engine.ConfirmPasswordReset(ctx, token, "An0ther!Secret")
	if !errors.Is(err, ErrResetUsed) {
		t.Fatalf("expected ErrResetUsed on replay, got %v", err)
	}
}

func TestPasswordResetWeakCandidateDoesNotBurnToken(t *testing.T) {
	engine, mailer := newTestEngine(t)
	ctx := clientCtx("203.0.113.1", "cli")

	if _, err := engine.Register(ctx, "user@example.com", "Avery User", strongPassword, ""); err != nil {
		t.Fatalf("Register: %v", err)
	}
	if err := engine.RequestPasswordReset(ctx, "user@example.com"); err != nil {
		t.Fatalf("RequestPasswordReset: %v", err)
	}
	token := mailer.resetToken("user@example.com")

	if err := engine.ConfirmPasswordReset(ctx, token, "weak"); !errors.Is(err, ErrPasswordPolicy) {
		t.Fatalf("expected ErrPasswordPolicy, got %v", err)
	}
	// The token is still alive for a proper attempt.
	if err := engine.ConfirmPasswordReset(ctx, token, "N3w!Secret-Pass"); err != nil {
		t.Fatalf("ConfirmPasswordReset after weak attempt: %v", err)
	}
}

func TestPasswordResetRateCap(t *testing.T) {
	engine, _ := newTestEngine(t)
	ctx := clientCtx("203.0.113.1", "cli")

	if _, err := engine.Register(ctx, "user@example.com", "Avery User", strongPassword, ""); err != nil {
		t.Fatalf("Register: %v", err)
	}

	for i := 0; i < 3; i++ {
		if err := engine.RequestPasswordReset(ctx, "user@example.com"); err != nil {
			t.Fatalf("RequestPasswordReset %d: %v", i+1, err)
		}
	}
	err := engine.RequestPasswordReset(ctx, "user@example.com")
	if !errors.Is(err, ErrResetRateLimited) {
		t.Fatalf("expected ErrResetRateLimited on fourth request, got %v", err)
	}
	var blocked *ResetBlockedError
	if !errors.As(err, &blocked) || blocked.Scope != "email" {
		t.Fatalf("expected email-scope block, got %v", err)
	}
}

func TestPasswordResetCapCountsUnknownEmails(t *testing.T) {
	engine, _ := newTestEngine(t)
	ctx := clientCtx("203.0.113.1", "cli")

	// Unknown emails consume the same per-email budget as real ones.
	for i := 0; i < 3; i++ {
		if err := engine.RequestPasswordReset(ctx, "ghost@example.com"); !errors.Is(err, ErrAccountNotFound) {
			t.Fatalf("request %d: expected ErrAccountNotFound, got %v", i+1, err)
		}
	}
	err := engine.RequestPasswordReset(ctx, "ghost@example.com")
	if !errors.Is(err, ErrResetRateLimited) {
		t.Fatalf("expected ErrResetRateLimited on fourth request, got %v", err)
	}
}

func TestPasswordResetIPCapCoversUnknownEmails(t *testing.T) {
	engine, _ := newTestEngine(t)
	ctx := clientCtx("198.51.100.9", "cli")

	emails := []string{"a@example.com", "b@example.com", "c@example.com", "d@example.com", "e@example.com"}
	for _, email := range emails {
		if err := engine.RequestPasswordReset(ctx, email); !errors.Is(err, ErrAccountNotFound) {
			t.Fatalf("%s: expected ErrAccountNotFound, got %v", email, err)
		}
	}

	err := engine.RequestPasswordReset(ctx, "f@example.com")
	if !errors.Is(err, ErrResetRateLimited) {
		t.Fatalf("expected IP cap to refuse sixth unknown-email request, got %v", err)
	}
	var blocked *ResetBlockedError
	if !errors.As(err, &blocked) || blocked.Scope != "ip" {
		t.Fatalf("expected ip-scope block, got %v", err)
	}
}

func TestPasswordResetUnknownEmail(t *testing.T) {
	engine, _ := newTestEngine(t)

	err := engine.RequestPasswordReset(clientCtx("203.0.113.1", "cli"), "ghost@example.com")
	if !errors.Is(err, ErrAccountNotFound) {
		t.Fatalf("expected ErrAccountNotFound, got %v", err)
	}
}

func TestPasswordResetClearsLock(t *testing.T) {
	engine, mailer := newTestEngine(t)
	ctx := clientCtx("203.0.113.1", "cli")

	result, err := engine.Register(ctx, "user@example.com", "Avery User", strongPassword, "")
	if err != nil {
		t.Fatalf("Register: %v", err)
	}
	if _, err := engine.accounts.Lock(ctx, result.Account.ID, "failed_login_threshold"); err != nil {
		t.Fatalf("Lock: %v", err)
	}

	if err := engine.RequestPasswordReset(ctx, "user@example.com"); err != nil {
		t.Fatalf("RequestPasswordReset: %v", err)
	}
	if err := engine.ConfirmPasswordReset(ctx, mailer.resetToken("user@example.com"), "N3w!Secret-Pass"); err != nil {
		t.Fatalf("ConfirmPasswordReset: %v", err)
	}

	if _, err := engine.Login(ctx, "user@example.com", "N3w!Secret-Pass"); err != nil {
		t.Fatalf("Login after reset on locked account: %v", err)
	}
}

func TestChangePassword(t *testing.T) {
	engine, _ := newTestEngine(t)
	ctx := clientCtx("203.0.113.1", "cli")

	result, err := engine.Register(ctx, "user@example.com", "Avery User", strongPassword, "")
	if err != nil {
		t.Fatalf("Register: %v", err)
	}

	const newPassword = "N3w!Secret-Pass"
	if err := engine.ChangePassword(ctx, result.Account.ID, strongPassword, newPassword); err != nil {
		t.Fatalf("ChangePassword: %v", err)
	}

	// Sessions issued before the change are revoked.
	if _, err := engine.Refresh(ctx, result.Tokens.RefreshToken); !errors.Is(err, ErrRefreshInvalid) {
		t.Fatalf("expected old session revoked, got %v", err)
	}
	if _, err := engine.Login(ctx, "user@example.com", newPassword); err != nil {
		t.Fatalf("Login with new password: %v", err)
	}
}

func TestChangePasswordWrongCurrent(t *testing.T) {
	engine, _ := newTestEngine(t)
	ctx := clientCtx("203.0.113.1", "cli")

	result, err := engine.Register(ctx, "user@example.com", "Avery User", strongPassword, "")
	if err != nil {
		t.Fatalf("Register: %v", err)
	}

	err = engine.ChangePassword(ctx, result.Account.ID, "Wr0ng!Current", "N3w!Secret-Pass")
	if !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("expected ErrInvalidCredentials, got %v", err)
	}
}

func TestEmailVerificationFlow(t *testing.T) {
	engine, mailer := newTestEngine(t)
	ctx := clientCtx("203.0.113.1", "cli")

	result, err := engine.Register(ctx, "user@example.com", "Avery User", strongPassword, "")
	if err != nil {
		t.Fatalf("Register: %v", err)
	}
	if result.Account.EmailVerified {
		t.Fatal("fresh account should be unverified")
	}

	token := mailer.verificationToken("user@example.com")
	if token == "" {
		t.Fatal("expected verification mail")
	}
	if err := engine.VerifyEmail(ctx, token); err != nil {
		t.Fatalf("VerifyEmail: %v", err)
	}

	account, err := engine.Account(ctx, result.Account.ID)
	if err != nil {
		t.Fatalf("Account: %v", err)
	}
	if !account.EmailVerified {
		t.Fatal("account not marked verified")
	}

	// The consumed token is gone.
	if err := engine.VerifyEmail(ctx, token); !errors.Is(err, ErrVerificationInvalid) {
		t.Fatalf("expected ErrVerificationInvalid on replay, got %v", err)
	}

	// Resend for a verified account is a no-op.
	if err := engine.ResendVerification(ctx, "user@example.com"); err != nil {
		t.Fatalf("ResendVerification: %v", err)
	}
}
