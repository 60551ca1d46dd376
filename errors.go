package bookauth

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/slotwise/bookauth/jwt"
)

var (
	// ErrInvalidCredentials is returned for any email/password mismatch,
	// including unknown emails, so callers cannot probe which one failed.
	ErrInvalidCredentials = errors.New("invalid credentials")

	// ErrEmailTaken is returned by Register when the email already has an
	// account.
	ErrEmailTaken = errors.New("email already registered")

	// ErrInvalidRole is returned by Register for a role outside the
	// platform's set.
	ErrInvalidRole = errors.New("invalid role")

	// ErrPasswordPolicy is the match target for *PolicyError.
	ErrPasswordPolicy = errors.New("password policy violation")

	// ErrPasswordBreached is returned when the candidate password appears
	// in the breach corpus at or above the configured threshold.
	ErrPasswordBreached = errors.New("password found in breach corpus")

	// ErrBreachCheckUnavailable is returned instead of failing open when
	// the checker is configured fail-closed.
	ErrBreachCheckUnavailable = errors.New("breach check unavailable")

	// ErrAccountLocked is returned by login, refresh, and validation for
	// a hard-locked account.
	ErrAccountLocked = errors.New("account locked")

	// ErrAccountNotFound is returned when a token resolves to no account.
	ErrAccountNotFound = errors.New("account not found")

	// ErrLoginBlocked is the match target for *BlockedError.
	ErrLoginBlocked = errors.New("login temporarily blocked")

	// ErrRegistrationBlocked is returned when the per-IP registration cap
	// is exceeded.
	ErrRegistrationBlocked = errors.New("registration temporarily blocked")

	// ErrTokenInvalid covers malformed, forged, and expired access tokens.
	ErrTokenInvalid = errors.New("access token invalid")

	// ErrSessionHijackSuspected is the match target for *HijackError. It
	// is a distinct signal: the client must fully re-authenticate, not
	// refresh.
	ErrSessionHijackSuspected = errors.New("session hijack suspected")

	// ErrRefreshInvalid covers unknown and malformed refresh tokens.
	ErrRefreshInvalid = errors.New("refresh token invalid")

	// ErrRefreshExpired is returned for a refresh token past its expiry.
	ErrRefreshExpired = errors.New("refresh token expired")

	// ErrRefreshReuseDetected is returned when an already-rotated refresh
	// token is presented. The whole token family has been revoked.
	ErrRefreshReuseDetected = errors.New("refresh token reuse detected")

	// ErrResetInvalid covers unknown, expired, and malformed reset tokens.
	ErrResetInvalid = errors.New("reset token invalid")

	// ErrResetUsed is returned when a consumed reset token is replayed.
	ErrResetUsed = errors.New("reset token already used")

	// ErrResetRateLimited is returned when the reset request caps trip.
	ErrResetRateLimited = errors.New("password reset rate limited")

	// ErrVerificationInvalid covers unknown, expired, and malformed email
	// verification tokens.
	ErrVerificationInvalid = errors.New("verification token invalid")
)

// PolicyError reports every failing strength rule at once.
type PolicyError struct {
	Violations []string
}

func (e *PolicyError) Error() string {
	return "password policy violation: " + strings.Join(e.Violations, "; ")
}

func (e *PolicyError) Is(target error) bool {
	return target == ErrPasswordPolicy
}

// CredentialsError reports a failed password check together with how many
// attempts remain before the temporary block trips for that email.
type CredentialsError struct {
	AttemptsRemaining int
}

func (e *CredentialsError) Error() string {
	return ErrInvalidCredentials.Error()
}

func (e *CredentialsError) Is(target error) bool {
	return target == ErrInvalidCredentials
}

// ResetBlockedError names the cap (email or ip) that refused a password
// reset request.
type ResetBlockedError struct {
	Scope string
}

func (e *ResetBlockedError) Error() string {
	return fmt.Sprintf("password reset rate limited (%s scope)", e.Scope)
}

func (e *ResetBlockedError) Is(target error) bool {
	return target == ErrResetRateLimited
}

// BlockedError carries the retry hint for a soft-blocked login.
type BlockedError struct {
	RetryAfter time.Duration
}

func (e *BlockedError) Error() string {
	return fmt.Sprintf("login temporarily blocked, retry after %s", e.RetryAfter)
}

func (e *BlockedError) Is(target error) bool {
	return target == ErrLoginBlocked
}

// HijackError carries the claim-versus-request mismatch that triggered a
// hijack rejection.
type HijackError struct {
	Mismatch *jwt.ContextMismatch
}

func (e *HijackError) Error() string {
	if e.Mismatch == nil {
		return "session hijack suspected"
	}
	return fmt.Sprintf("session hijack suspected: %s changed", e.Mismatch.Field)
}

func (e *HijackError) Is(target error) bool {
	return target == ErrSessionHijackSuspected
}
