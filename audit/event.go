// Package audit provides the durable security event log: an append-only,
// queryable record of every security-relevant operation. Windowed counts
// over this log are the sole input to rate-limit and lockout decisions, so
// entries are written synchronously and counters are always derived fresh,
// never cached in process.
package audit

import "time"

// Severity ranks an event for triage and retention. High and critical
// entries are retained indefinitely; lower entries are pruned after the
// retention horizon.
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// Event types recorded by the engine.
const (
	EventAccountCreated        = "account_created"
	EventLoginSuccess          = "login_success"
	EventLoginFailed           = "login_failed"
	EventLoginBlocked          = "login_blocked"
	EventAccountLocked         = "account_locked"
	EventAccountUnlocked       = "account_unlocked"
	EventTokenRefreshed        = "token_refreshed"
	EventRefreshReuseDetected  = "refresh_reuse_detected"
	EventTokenValidationFailed = "token_validation_failed"
	EventSuspiciousActivity    = "suspicious_activity"
	EventLogout                = "logout"
	EventLogoutAll             = "logout_all"
	EventPasswordChanged       = "password_changed"
	EventPasswordResetRequest  = "password_reset_requested"
	EventPasswordResetBlocked  = "password_reset_blocked"
	EventPasswordResetComplete = "password_reset_completed"
	EventVerificationSent      = "verification_email_sent"
	EventEmailVerified         = "email_verified"
	EventRegistrationBlocked   = "registration_blocked"
	EventBreachCheckFailed     = "breach_check_failed"
	EventAuditPruned           = "audit_pruned"
)

// Event is one immutable audit entry. Only the Resolved flag is ever
// mutated after the fact, by an administrator triaging suspicious activity.
type Event struct {
	ID        string            `json:"id"`
	Type      string            `json:"type"`
	Severity  Severity          `json:"severity"`
	AccountID string            `json:"account_id,omitempty"`
	Email     string            `json:"email,omitempty"`
	IP        string            `json:"ip,omitempty"`
	UserAgent string            `json:"user_agent,omitempty"`
	Detail    map[string]string `json:"detail,omitempty"`
	Timestamp time.Time         `json:"timestamp"`
	Resolved  bool              `json:"resolved"`
}

func (s Severity) rank() int {
	switch s {
	case SeverityCritical:
		return 3
	case SeverityHigh:
		return 2
	case SeverityMedium:
		return 1
	default:
		return 0
	}
}

// AtLeast reports whether s ranks at or above other.
func (s Severity) AtLeast(other Severity) bool {
	return s.rank() >= other.rank()
}
