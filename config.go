package bookauth

import (
	"errors"
	"time"

	"github.com/slotwise/bookauth/abuse"
	"github.com/slotwise/bookauth/audit"
	"github.com/slotwise/bookauth/jwt"
	"github.com/slotwise/bookauth/password"
)

// Config is the engine configuration tree. Built once, treated as
// immutable afterwards.
type Config struct {
	JWT          jwt.Config
	Password     PasswordConfig
	Breach       BreachConfig
	Refresh      RefreshConfig
	Reset        ResetConfig
	Verification VerificationConfig
	Abuse        abuse.Config
	Audit        AuditConfig
	Store        StoreConfig
}

// PasswordConfig combines hashing cost with the strength policy.
type PasswordConfig struct {
	Hashing        password.Config
	Policy         password.Policy
	UpgradeOnLogin bool
}

// BreachConfig controls the k-anonymity breach check. FailClosed rejects
// passwords when the checker is unreachable; the default accepts them and
// records the degradation in the audit log.
type BreachConfig struct {
	Enabled    bool
	BaseURL    string
	Timeout    time.Duration
	Threshold  int
	FailClosed bool
}

// RefreshConfig controls opaque refresh token lifetime.
type RefreshConfig struct {
	TTL time.Duration
}

// ResetConfig controls password reset token lifetime.
type ResetConfig struct {
	TokenTTL time.Duration
}

// VerificationConfig controls email verification token lifetime.
type VerificationConfig struct {
	TokenTTL time.Duration
}

// AuditConfig controls the audit store and the optional async sink
// dispatcher.
type AuditConfig struct {
	Prefix     string
	Retention  time.Duration
	Dispatcher audit.DispatcherConfig
}

// StoreConfig sets the Redis key prefixes. Empty values fall back to the
// per-store defaults.
type StoreConfig struct {
	AccountPrefix      string
	RefreshPrefix      string
	ResetPrefix        string
	VerificationPrefix string
}

// DefaultConfig returns production defaults. JWT keys are the only fields
// with no usable default.
func DefaultConfig() Config {
	return Config{
		JWT: jwt.Config{
			AccessTTL:     15 * time.Minute,
			SigningMethod: jwt.MethodHS256,
			Issuer:        "bookauth",
			Audience:      "slotwise",
			Leeway:        30 * time.Second,
		},
		Password: PasswordConfig{
			Hashing: password.Config{
				Memory:      64 * 1024,
				Time:        3,
				Parallelism: 2,
				SaltLength:  16,
				KeyLength:   32,
			},
			Policy:         password.DefaultPolicy(),
			UpgradeOnLogin: true,
		},
		Breach: BreachConfig{
			Enabled:   true,
			BaseURL:   "https://api.pwnedpasswords.com",
			Timeout:   2500 * time.Millisecond,
			Threshold: 1,
		},
		Refresh: RefreshConfig{
			TTL: 7 * 24 * time.Hour,
		},
		Reset: ResetConfig{
			TokenTTL: time.Hour,
		},
		Verification: VerificationConfig{
			TokenTTL: 24 * time.Hour,
		},
		Abuse: abuse.DefaultConfig(),
		Audit: AuditConfig{
			Prefix:    "aud",
			Retention: 90 * 24 * time.Hour,
			Dispatcher: audit.DispatcherConfig{
				Enabled:    false,
				BufferSize: 256,
				DropIfFull: true,
			},
		},
	}
}

func (c *Config) validate() error {
	if c.JWT.AccessTTL <= 0 {
		return errors.New("config: access token TTL must be positive")
	}
	if c.Refresh.TTL <= 0 {
		return errors.New("config: refresh token TTL must be positive")
	}
	if c.Reset.TokenTTL <= 0 {
		return errors.New("config: reset token TTL must be positive")
	}
	if c.Verification.TokenTTL <= 0 {
		return errors.New("config: verification token TTL must be positive")
	}
	if c.Breach.Enabled && c.Breach.BaseURL == "" {
		return errors.New("config: breach checking enabled without a base URL")
	}
	return nil
}
