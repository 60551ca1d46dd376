// Package abuse turns windowed audit-log counts into throttling and
// lockout decisions. It keeps no counters of its own: every decision is
// derived fresh from the audit store, so the log and the enforcement can
// never disagree.
package abuse

import (
	"context"
	"strconv"
	"time"

	"github.com/slotwise/bookauth/audit"
)

// Config holds the abuse thresholds. All windows are rolling.
type Config struct {
	// Soft block: temporary refusal to attempt verification.
	SoftBlockEmailThreshold int
	SoftBlockIPThreshold    int
	SoftBlockWindow         time.Duration

	// Hard lock: persistent account flag, cleared by admin or reset.
	LockThreshold int
	LockWindow    time.Duration

	// Password reset request caps.
	ResetEmailMax int
	ResetIPMax    int
	ResetWindow   time.Duration

	// Registration cap per source IP.
	RegistrationIPMax  int
	RegistrationWindow time.Duration
}

// DefaultConfig returns the production thresholds.
func DefaultConfig() Config {
	return Config{
		SoftBlockEmailThreshold: 5,
		SoftBlockIPThreshold:    10,
		SoftBlockWindow:         15 * time.Minute,
		LockThreshold:           10,
		LockWindow:              24 * time.Hour,
		ResetEmailMax:           3,
		ResetIPMax:              5,
		ResetWindow:             time.Hour,
		RegistrationIPMax:       10,
		RegistrationWindow:      time.Hour,
	}
}

// Tracker evaluates abuse thresholds against the audit log.
type Tracker struct {
	log *audit.Store
	cfg Config
}

func NewTracker(log *audit.Store, cfg Config) *Tracker {
	return &Tracker{log: log, cfg: cfg}
}

// LoginDecision is the outcome of recording one failed login attempt.
type LoginDecision struct {
	// SoftBlocked means further attempts for this email or IP must be
	// refused until the window rolls past enough failures.
	SoftBlocked bool

	// LockAccount instructs the caller to set the persistent lock flag
	// on the account. Only set when the attempt targeted a real account.
	LockAccount bool

	// Severity assigned to the recorded failure.
	Severity audit.Severity

	// AttemptsRemaining before the email-scope soft block trips. Zero
	// once blocked.
	AttemptsRemaining int

	// RetryAfter is the soft-block hint returned to clients. The block
	// is window-derived, so the hint is the full window length.
	RetryAfter time.Duration
}

// CheckLogin reports whether a login attempt for email from ip must be
// refused before any credential verification happens. Read-only.
func (t *Tracker) CheckLogin(ctx context.Context, email, ip string) (bool, time.Duration, error) {
	since := time.Now().Add(-t.cfg.SoftBlockWindow)

	emailCount, err := t.log.CountByEmailSince(ctx, audit.EventLoginFailed, email, since)
	if err != nil {
		return false, 0, err
	}
	if emailCount >= int64(t.cfg.SoftBlockEmailThreshold) {
		return true, t.cfg.SoftBlockWindow, nil
	}

	if ip != "" {
		ipCount, err := t.log.CountByIPSince(ctx, audit.EventLoginFailed, ip, since)
		if err != nil {
			return false, 0, err
		}
		if ipCount >= int64(t.cfg.SoftBlockIPThreshold) {
			return true, t.cfg.SoftBlockWindow, nil
		}
	}

	return false, 0, nil
}

// RecordLoginFailure appends a login_failed entry with severity derived
// from the failure density, then reports what enforcement the caller must
// apply. accountID is empty when the email matched no account.
func (t *Tracker) RecordLoginFailure(ctx context.Context, email, ip, userAgent, accountID, reason string) (LoginDecision, error) {
	now := time.Now()
	since := now.Add(-t.cfg.SoftBlockWindow)

	priorEmail, err := t.log.CountByEmailSince(ctx, audit.EventLoginFailed, email, since)
	if err != nil {
		return LoginDecision{}, err
	}
	var priorIP int64
	if ip != "" {
		priorIP, err = t.log.CountByIPSince(ctx, audit.EventLoginFailed, ip, since)
		if err != nil {
			return LoginDecision{}, err
		}
	}

	emailCount := priorEmail + 1
	ipCount := priorIP + 1
	severity := classifyFailure(emailCount, ipCount)

	_, err = t.log.Record(ctx, audit.Event{
		Type:      audit.EventLoginFailed,
		Severity:  severity,
		AccountID: accountID,
		Email:     email,
		IP:        ip,
		UserAgent: userAgent,
		Detail: map[string]string{
			"reason":         reason,
			"email_failures": strconv.FormatInt(emailCount, 10),
			"ip_failures":    strconv.FormatInt(ipCount, 10),
		},
	})
	if err != nil {
		return LoginDecision{}, err
	}

	decision := LoginDecision{
		Severity:   severity,
		RetryAfter: t.cfg.SoftBlockWindow,
	}

	if emailCount >= int64(t.cfg.SoftBlockEmailThreshold) ||
		(ip != "" && ipCount >= int64(t.cfg.SoftBlockIPThreshold)) {
		decision.SoftBlocked = true
	} else {
		decision.AttemptsRemaining = t.cfg.SoftBlockEmailThreshold - int(emailCount)
	}

	if accountID != "" {
		dayCount, err := t.log.CountByEmailSince(ctx, audit.EventLoginFailed, email, now.Add(-t.cfg.LockWindow))
		if err != nil {
			return LoginDecision{}, err
		}
		if dayCount >= int64(t.cfg.LockThreshold) {
			decision.LockAccount = true
		}
	}

	return decision, nil
}

// classifyFailure ranks a failed attempt by how dense failures are for
// either scope, counting the attempt being recorded.
func classifyFailure(emailCount, ipCount int64) audit.Severity {
	switch {
	case emailCount >= 5 || ipCount >= 10:
		return audit.SeverityCritical
	case emailCount >= 3 || ipCount >= 5:
		return audit.SeverityHigh
	case emailCount >= 2:
		return audit.SeverityMedium
	default:
		return audit.SeverityLow
	}
}

// Reset request scopes, named in the caller-facing block reason.
const (
	ResetScopeEmail = "email"
	ResetScopeIP    = "ip"
)

// ResetDecision is the outcome of evaluating one password reset request.
type ResetDecision struct {
	// Blocked means the request must be refused.
	Blocked bool

	// Scope names the cap that tripped ("email" or "ip"). Also set on an
	// allowed request that reaches a cap, alongside the warning entry.
	Scope string
}

// CheckResetRequest reports whether a password reset request for email
// from ip must be refused. The request that reaches a cap is still
// allowed, but records a high-severity suspicious_activity warning one
// step before the block. Blocked requests leave no reset-request trace,
// so the counts hold at the cap until the window rolls.
func (t *Tracker) CheckResetRequest(ctx context.Context, email, ip string) (ResetDecision, error) {
	since := time.Now().Add(-t.cfg.ResetWindow)

	emailCount, err := t.log.CountByEmailSince(ctx, audit.EventPasswordResetRequest, email, since)
	if err != nil {
		return ResetDecision{}, err
	}
	var ipCount int64
	if ip != "" {
		ipCount, err = t.log.CountByIPSince(ctx, audit.EventPasswordResetRequest, ip, since)
		if err != nil {
			return ResetDecision{}, err
		}
	}

	if emailCount >= int64(t.cfg.ResetEmailMax) {
		return ResetDecision{Blocked: true, Scope: ResetScopeEmail}, nil
	}
	if ip != "" && ipCount >= int64(t.cfg.ResetIPMax) {
		return ResetDecision{Blocked: true, Scope: ResetScopeIP}, nil
	}

	var reached string
	switch {
	case emailCount+1 == int64(t.cfg.ResetEmailMax):
		reached = ResetScopeEmail
	case ip != "" && ipCount+1 == int64(t.cfg.ResetIPMax):
		reached = ResetScopeIP
	}
	if reached != "" {
		_, err = t.log.Record(ctx, audit.Event{
			Type:     audit.EventSuspiciousActivity,
			Severity: audit.SeverityHigh,
			Email:    email,
			IP:       ip,
			Detail: map[string]string{
				"reason": "password_reset_rate",
				"scope":  reached,
			},
		})
		if err != nil {
			return ResetDecision{}, err
		}
	}

	return ResetDecision{Scope: reached}, nil
}

// CheckRegistration reports whether account creation from ip must be
// refused.
func (t *Tracker) CheckRegistration(ctx context.Context, ip string) (bool, error) {
	if ip == "" {
		return false, nil
	}

	since := time.Now().Add(-t.cfg.RegistrationWindow)
	count, err := t.log.CountByIPSince(ctx, audit.EventAccountCreated, ip, since)
	if err != nil {
		return false, err
	}
	return count >= int64(t.cfg.RegistrationIPMax), nil
}
