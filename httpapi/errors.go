package httpapi

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/slotwise/bookauth"
	"github.com/slotwise/bookauth/audit"
	"github.com/slotwise/bookauth/store"
)

// writeError maps engine errors onto HTTP responses. Register and login
// validation failures are all 400s; bearer-token failures are 401; locked
// accounts are 403. Credential failures stay deliberately vague so
// responses never confirm whether an email is registered.
func writeError(c *gin.Context, err error) {
	var blocked *bookauth.BlockedError
	if errors.As(err, &blocked) && blocked.RetryAfter > 0 {
		c.Header("Retry-After", strconv.Itoa(int(blocked.RetryAfter.Round(time.Second).Seconds())))
	}

	status, body := errorResponse(err)
	c.JSON(status, body)
}

func errorResponse(err error) (int, gin.H) {
	var policy *bookauth.PolicyError
	if errors.As(err, &policy) {
		return http.StatusBadRequest, gin.H{
			"error":      "password does not meet the policy",
			"violations": policy.Violations,
		}
	}

	var credentials *bookauth.CredentialsError
	if errors.As(err, &credentials) {
		return http.StatusBadRequest, gin.H{
			"error":              "invalid email or password",
			"attempts_remaining": credentials.AttemptsRemaining,
		}
	}

	var hijack *bookauth.HijackError
	if errors.As(err, &hijack) {
		return http.StatusUnauthorized, gin.H{
			"error": "session context changed, please sign in again",
			"code":  "reauthenticate",
		}
	}

	var resetBlocked *bookauth.ResetBlockedError
	if errors.As(err, &resetBlocked) {
		return http.StatusTooManyRequests, gin.H{
			"error": "too many reset requests for this " + scopeNoun(resetBlocked.Scope) + ", try again later",
		}
	}

	switch {
	case errors.Is(err, bookauth.ErrPasswordBreached):
		return http.StatusBadRequest, gin.H{"error": "this password appears in known breaches, choose another"}
	case errors.Is(err, bookauth.ErrBreachCheckUnavailable):
		return http.StatusServiceUnavailable, gin.H{"error": "password safety check unavailable, try again shortly"}
	case errors.Is(err, bookauth.ErrEmailTaken):
		return http.StatusBadRequest, gin.H{"error": "email already registered"}
	case errors.Is(err, bookauth.ErrInvalidRole):
		return http.StatusBadRequest, gin.H{"error": "unknown role"}
	case errors.Is(err, bookauth.ErrInvalidCredentials):
		return http.StatusBadRequest, gin.H{"error": "invalid email or password"}
	case errors.Is(err, bookauth.ErrAccountLocked):
		return http.StatusForbidden, gin.H{"error": "account is locked"}
	case errors.Is(err, bookauth.ErrLoginBlocked):
		return http.StatusTooManyRequests, gin.H{"error": "too many failed attempts, try again later"}
	case errors.Is(err, bookauth.ErrRegistrationBlocked):
		return http.StatusTooManyRequests, gin.H{"error": "too many registrations, try again later"}
	case errors.Is(err, bookauth.ErrResetRateLimited):
		return http.StatusTooManyRequests, gin.H{"error": "too many reset requests, try again later"}
	case errors.Is(err, bookauth.ErrRefreshReuseDetected):
		return http.StatusUnauthorized, gin.H{"error": "session revoked, please sign in again", "code": "reauthenticate"}
	case errors.Is(err, bookauth.ErrRefreshExpired),
		errors.Is(err, bookauth.ErrRefreshInvalid),
		errors.Is(err, bookauth.ErrTokenInvalid):
		return http.StatusUnauthorized, gin.H{"error": "invalid or expired token"}
	case errors.Is(err, bookauth.ErrResetUsed):
		return http.StatusBadRequest, gin.H{"error": "reset link already used"}
	case errors.Is(err, bookauth.ErrResetInvalid):
		return http.StatusBadRequest, gin.H{"error": "invalid or expired reset link"}
	case errors.Is(err, bookauth.ErrVerificationInvalid):
		return http.StatusBadRequest, gin.H{"error": "invalid or expired verification link"}
	case errors.Is(err, bookauth.ErrAccountNotFound):
		return http.StatusNotFound, gin.H{"error": "account not found"}
	case errors.Is(err, store.ErrRedisUnavailable),
		errors.Is(err, audit.ErrStoreUnavailable):
		return http.StatusServiceUnavailable, gin.H{"error": "service temporarily unavailable"}
	default:
		return http.StatusInternalServerError, gin.H{"error": "internal error"}
	}
}

func scopeNoun(scope string) string {
	if scope == "ip" {
		return "address"
	}
	return "email"
}
