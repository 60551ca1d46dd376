package bookauth

import (
	"context"
	"time"

	"github.com/slotwise/bookauth/store"
)

// Platform roles.
const (
	RoleCustomer = "customer"
	RoleStaff    = "staff"
	RoleAdmin    = "admin"
)

// ValidRole reports whether role is one of the platform roles.
func ValidRole(role string) bool {
	switch role {
	case RoleCustomer, RoleStaff, RoleAdmin:
		return true
	}
	return false
}

// Account is the persistent account record.
type Account = store.Account

// TokenPair is one access/refresh issuance.
type TokenPair struct {
	AccessToken      string
	AccessExpiresAt  time.Time
	RefreshToken     string
	RefreshExpiresAt time.Time
}

// AuthResult is returned by Register and Login.
type AuthResult struct {
	Account *Account
	Tokens  TokenPair
}

// Identity is the authenticated caller resolved by Validate.
type Identity struct {
	AccountID     string
	Email         string
	Role          string
	EmailVerified bool
}

// SessionInfo describes one live refresh token, for session listings and
// selective logout.
type SessionInfo struct {
	ID        string
	IP        string
	UserAgent string
	CreatedAt time.Time
	ExpiresAt time.Time
}

// Mailer delivers verification and reset tokens out of band. Delivery
// failures are logged, never surfaced to the requester: responses must not
// reveal whether an email exists or whether a mail went out.
type Mailer interface {
	SendVerification(ctx context.Context, email, token string) error
	SendPasswordReset(ctx context.Context, email, token string) error
}

// NoOpMailer discards all mail. The default when no Mailer is injected.
type NoOpMailer struct{}

func (NoOpMailer) SendVerification(context.Context, string, string) error {
	return nil
}

func (NoOpMailer) SendPasswordReset(context.Context, string, string) error {
	return nil
}
