// Package middleware adapts Engine validation to plain net/http handlers,
// for callers embedding the engine without the bundled HTTP API.
//
// The guard reads the Authorization header, attaches the caller's network
// identity to the request context, and delegates the actual decision to
// Engine.Validate. It makes no authentication decisions of its own.
package middleware

import (
	"context"
	"errors"
	"net"
	"net/http"
	"strings"

	"github.com/slotwise/bookauth"
)

type identityContextKey struct{}

// IdentityFromContext returns the identity injected by Guard.
func IdentityFromContext(ctx context.Context) (*bookauth.Identity, bool) {
	identity, ok := ctx.Value(identityContextKey{}).(*bookauth.Identity)
	return identity, ok
}

// Guard rejects requests without a valid bearer token and injects the
// resolved identity into the request context. Hijack-suspected tokens get
// a distinct WWW-Authenticate challenge instructing full re-login.
func Guard(engine *bookauth.Engine) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if engine == nil {
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}

			token, ok := bearerToken(r.Header.Get("Authorization"))
			if !ok {
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}

			ctx := ClientContext(r)
			identity, err := engine.Validate(ctx, token)
			if err != nil {
				if errors.Is(err, bookauth.ErrSessionHijackSuspected) {
					w.Header().Set("WWW-Authenticate", `Bearer error="invalid_token", error_description="reauthentication required"`)
				}
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}

			ctx = context.WithValue(ctx, identityContextKey{}, identity)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// ClientContext returns r's context with the caller's IP and User-Agent
// attached for the engine.
func ClientContext(r *http.Request) context.Context {
	return bookauth.WithUserAgent(
		bookauth.WithClientIP(r.Context(), clientIP(r)),
		r.UserAgent(),
	)
}

func clientIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		if first, _, ok := strings.Cut(fwd, ","); ok {
			return strings.TrimSpace(first)
		}
		return strings.TrimSpace(fwd)
	}

	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func bearerToken(value string) (string, bool) {
	const bearer = "Bearer "
	if !strings.HasPrefix(value, bearer) {
		return "", false
	}

	token := value[len(bearer):]
	if token == "" {
		return "", false
	}
	return token, true
}
