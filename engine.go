package bookauth

import (
	"context"
	"encoding/hex"
	"log"
	"strings"
	"time"

	"github.com/slotwise/bookauth/abuse"
	"github.com/slotwise/bookauth/audit"
	"github.com/slotwise/bookauth/breach"
	"github.com/slotwise/bookauth/internal"
	"github.com/slotwise/bookauth/jwt"
	"github.com/slotwise/bookauth/password"
	"github.com/slotwise/bookauth/store"
)

// Engine is the authentication, session, and audit core. All operations
// are safe for concurrent use.
type Engine struct {
	config Config

	accounts      *store.AccountStore
	refreshTokens *store.RefreshStore
	resets        *store.ResetStore
	verifications *store.VerificationStore

	auditLog   *audit.Store
	abuse      *abuse.Tracker
	dispatcher *audit.Dispatcher

	tokens *jwt.Manager
	hasher *password.Hasher
	policy password.Policy
	breach *breach.Checker

	mailer Mailer
	logger *log.Logger

	now func() time.Time
}

// Close drains the async audit dispatcher. The engine stays usable for
// synchronous work afterwards; only sink streaming stops.
func (e *Engine) Close() {
	e.dispatcher.Close()
}

// record writes an audit entry and forwards it to the dispatcher. Audit
// write failures are logged and swallowed: the log observes operations, it
// never vetoes them.
func (e *Engine) record(ctx context.Context, event audit.Event) {
	recorded, err := e.auditLog.Record(ctx, event)
	if err != nil {
		e.logger.Printf("bookauth: audit record failed (type=%s): %v", event.Type, err)
		return
	}
	e.dispatcher.Emit(ctx, recorded)
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// checkPasswordQuality runs the strength policy and, when enabled, the
// breach lookup. Breach unavailability fails open unless configured
// otherwise, with the degradation recorded.
func (e *Engine) checkPasswordQuality(ctx context.Context, email, candidate string) error {
	result := e.policy.CheckStrength(candidate)
	if !result.Valid {
		return &PolicyError{Violations: result.Errors}
	}

	if e.breach == nil {
		return nil
	}

	res, err := e.breach.Check(ctx, candidate)
	if err != nil {
		e.logger.Printf("bookauth: breach check degraded: %v", err)
		e.record(ctx, audit.Event{
			Type:     audit.EventBreachCheckFailed,
			Severity: audit.SeverityMedium,
			Email:    email,
			IP:       clientIPFromContext(ctx),
			Detail:   map[string]string{"error": err.Error()},
		})
		if e.config.Breach.FailClosed {
			return ErrBreachCheckUnavailable
		}
		return nil
	}
	if res.Breached {
		return ErrPasswordBreached
	}
	return nil
}

// issueTokens mints an access/refresh pair for account bound to the
// caller's context. The refresh record write is the final step; nothing is
// persisted if any earlier step fails.
func (e *Engine) issueTokens(ctx context.Context, account *Account) (TokenPair, error) {
	ip := clientIPFromContext(ctx)
	userAgent := userAgentFromContext(ctx)
	now := e.now()

	access, err := e.tokens.CreateAccess(jwt.TokenInput{
		AccountID:     account.ID,
		Email:         account.Email,
		Role:          account.Role,
		IP:            ip,
		UserAgent:     userAgent,
		EmailVerified: account.EmailVerified,
	})
	if err != nil {
		return TokenPair{}, err
	}

	opaque, record, err := e.mintRefresh(account.ID, ip, userAgent, now)
	if err != nil {
		return TokenPair{}, err
	}
	if err := e.refreshTokens.Save(ctx, record); err != nil {
		return TokenPair{}, err
	}

	return TokenPair{
		AccessToken:      access,
		AccessExpiresAt:  now.Add(e.config.JWT.AccessTTL),
		RefreshToken:     opaque,
		RefreshExpiresAt: record.ExpiresAt,
	}, nil
}

// mintRefresh produces a fresh opaque token and the record persisting its
// secret hash. The record is not saved here.
func (e *Engine) mintRefresh(accountID, ip, userAgent string, now time.Time) (string, store.RefreshRecord, error) {
	id, err := internal.NewTokenID()
	if err != nil {
		return "", store.RefreshRecord{}, err
	}
	secret, err := internal.NewSecret()
	if err != nil {
		return "", store.RefreshRecord{}, err
	}
	hash := internal.HashSecret(secret)

	record := store.RefreshRecord{
		ID:         id.String(),
		AccountID:  accountID,
		SecretHash: hex.EncodeToString(hash[:]),
		IP:         ip,
		UserAgent:  userAgent,
		CreatedAt:  now.UTC(),
		ExpiresAt:  now.Add(e.config.Refresh.TTL).UTC(),
	}
	return internal.EncodeToken(id, secret), record, nil
}
