// Package jwt issues and verifies the short-lived signed access tokens used
// by the authentication engine. Tokens are self-contained: identity, role,
// and the client context observed at issuance all travel in the claim set.
package jwt

import (
	"crypto/ed25519"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// SigningMethod selects the token signature algorithm.
type SigningMethod string

const (
	// MethodHS256 signs with a shared secret.
	MethodHS256 SigningMethod = "hs256"
	// MethodEd25519 signs with an Ed25519 private key.
	MethodEd25519 SigningMethod = "ed25519"
)

// ErrTokenInvalid is returned for any token that fails signature, expiry,
// issuer, or audience checks. Verification failure is an expected condition,
// not a fault: callers branch on it, they do not log it as an error.
var ErrTokenInvalid = errors.New("invalid access token")

// Config holds the immutable signing configuration. Key misconfiguration is
// rejected by NewManager so it fails at process start, never per request.
type Config struct {
	AccessTTL     time.Duration
	SigningMethod SigningMethod
	PrivateKey    []byte
	PublicKey     []byte
	Issuer        string
	Audience      string
	Leeway        time.Duration
}

// AccessClaims is the claim set of an access token. IP and UserAgent carry
// the client context captured at issuance; tokens minted before context
// binding existed have both empty.
type AccessClaims struct {
	UID           string `json:"uid"`
	Email         string `json:"email,omitempty"`
	Role          string `json:"role,omitempty"`
	IP            string `json:"ip,omitempty"`
	UserAgent     string `json:"ua,omitempty"`
	EmailVerified bool   `json:"vrf,omitempty"`
	jwt.RegisteredClaims
}

// ContextMismatch describes which bound context field changed between token
// issuance and the verifying request. Used as hijack-detection evidence.
type ContextMismatch struct {
	Field    string // "ip" or "user_agent"
	Issued   string
	Observed string
}

// Manager signs and parses access tokens.
type Manager struct {
	config Config
}

// NewManager validates cfg and returns a Manager.
func NewManager(cfg Config) (*Manager, error) {
	if cfg.AccessTTL <= 0 {
		return nil, errors.New("invalid TTL configuration")
	}
	if cfg.Leeway < 0 || cfg.Leeway > 2*time.Minute {
		return nil, errors.New("invalid leeway configuration")
	}
	if strings.TrimSpace(cfg.Issuer) == "" {
		return nil, errors.New("issuer is required")
	}
	if strings.TrimSpace(cfg.Audience) == "" {
		return nil, errors.New("audience is required")
	}

	switch cfg.SigningMethod {
	case MethodHS256:
		if len(cfg.PrivateKey) < 32 {
			return nil, errors.New("hs256 requires a secret of at least 32 bytes")
		}
	case MethodEd25519:
		if _, err := parseEdPrivateKey(cfg.PrivateKey); err != nil {
			return nil, err
		}
		if len(cfg.PublicKey) > 0 {
			if _, err := parseEdPublicKey(cfg.PublicKey); err != nil {
				return nil, err
			}
		}
	default:
		return nil, errors.New("unsupported signing method")
	}

	return &Manager{config: cfg}, nil
}

// TokenInput is the identity and client context embedded into a new token.
type TokenInput struct {
	AccountID     string
	Email         string
	Role          string
	IP            string
	UserAgent     string
	EmailVerified bool
}

// CreateAccess mints a signed access token expiring after the configured TTL.
func (m *Manager) CreateAccess(in TokenInput) (string, error) {
	now := time.Now()
	claims := AccessClaims{
		UID:           in.AccountID,
		Email:         in.Email,
		Role:          in.Role,
		IP:            in.IP,
		UserAgent:     in.UserAgent,
		EmailVerified: in.EmailVerified,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(now.Add(m.config.AccessTTL)),
			IssuedAt:  jwt.NewNumericDate(now),
			Issuer:    m.config.Issuer,
			Audience:  jwt.ClaimStrings{m.config.Audience},
		},
	}

	token := jwt.NewWithClaims(m.method(), claims)
	key, err := m.signKey()
	if err != nil {
		return "", err
	}

	return token.SignedString(key)
}

// ParseAccess verifies signature, expiry, issuer, and audience. Any failure
// returns ErrTokenInvalid.
func (m *Manager) ParseAccess(tokenStr string) (*AccessClaims, error) {
	options := []jwt.ParserOption{
		jwt.WithValidMethods([]string{m.method().Alg()}),
		jwt.WithIssuer(m.config.Issuer),
		jwt.WithAudience(m.config.Audience),
		jwt.WithExpirationRequired(),
	}
	if m.config.Leeway > 0 {
		options = append(options, jwt.WithLeeway(m.config.Leeway))
	}

	parser := jwt.NewParser(options...)
	token, err := parser.ParseWithClaims(tokenStr, &AccessClaims{}, func(t *jwt.Token) (interface{}, error) {
		if t.Method.Alg() != m.method().Alg() {
			return nil, fmt.Errorf("unexpected signing algorithm: %s", t.Method.Alg())
		}
		return m.verifyKey()
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrTokenInvalid, err)
	}

	claims, ok := token.Claims.(*AccessClaims)
	if !ok || !token.Valid {
		return nil, ErrTokenInvalid
	}

	return claims, nil
}

// ParseAccessWithContext verifies the token and then compares its bound
// context against the observed request context. On mismatch the claims are
// still returned together with structured mismatch detail so the caller can
// log what changed; the token itself must be treated as invalid.
//
// Tokens with no embedded context (both ip and ua claims empty) pass without
// comparison. That carve-out keeps tokens minted before context binding
// shipped usable until they expire.
func (m *Manager) ParseAccessWithContext(tokenStr, currentIP, currentUserAgent string) (*AccessClaims, *ContextMismatch, error) {
	claims, err := m.ParseAccess(tokenStr)
	if err != nil {
		return nil, nil, err
	}

	if claims.IP == "" && claims.UserAgent == "" {
		return claims, nil, nil
	}

	if claims.IP != "" && claims.IP != currentIP {
		return claims, &ContextMismatch{
			Field:    "ip",
			Issued:   claims.IP,
			Observed: currentIP,
		}, nil
	}
	if claims.UserAgent != "" && claims.UserAgent != currentUserAgent {
		return claims, &ContextMismatch{
			Field:    "user_agent",
			Issued:   claims.UserAgent,
			Observed: currentUserAgent,
		}, nil
	}

	return claims, nil, nil
}

func (m *Manager) method() jwt.SigningMethod {
	switch m.config.SigningMethod {
	case MethodHS256:
		return jwt.SigningMethodHS256
	default:
		return jwt.SigningMethodEdDSA
	}
}

func (m *Manager) signKey() (interface{}, error) {
	switch m.config.SigningMethod {
	case MethodHS256:
		return m.config.PrivateKey, nil
	default:
		return parseEdPrivateKey(m.config.PrivateKey)
	}
}

func (m *Manager) verifyKey() (interface{}, error) {
	switch m.config.SigningMethod {
	case MethodHS256:
		return m.config.PrivateKey, nil
	default:
		if len(m.config.PublicKey) > 0 {
			return parseEdPublicKey(m.config.PublicKey)
		}
		priv, err := parseEdPrivateKey(m.config.PrivateKey)
		if err != nil {
			return nil, err
		}
		return priv.Public(), nil
	}
}

func parseEdPrivateKey(key []byte) (ed25519.PrivateKey, error) {
	if len(key) == ed25519.PrivateKeySize {
		return ed25519.PrivateKey(key), nil
	}
	parsed, err := jwt.ParseEdPrivateKeyFromPEM(key)
	if err != nil {
		return nil, errors.New("invalid ed25519 private key")
	}
	edKey, ok := parsed.(ed25519.PrivateKey)
	if !ok {
		return nil, errors.New("invalid ed25519 private key type")
	}
	return edKey, nil
}

func parseEdPublicKey(key []byte) (ed25519.PublicKey, error) {
	if len(key) == ed25519.PublicKeySize {
		return ed25519.PublicKey(key), nil
	}
	parsed, err := jwt.ParseEdPublicKeyFromPEM(key)
	if err != nil {
		return nil, errors.New("invalid ed25519 public key")
	}
	edKey, ok := parsed.(ed25519.PublicKey)
	if !ok {
		return nil, errors.New("invalid ed25519 public key type")
	}
	return edKey, nil
}
