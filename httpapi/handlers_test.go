package httpapi

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"

	"github.com/slotwise/bookauth"
	"github.com/slotwise/bookauth/password"
)

const testPassword = "Tr1cky!Passw0rd"

func setupTestServer(t *testing.T, cfg ServerConfig) http.Handler {
	t.Helper()
	gin.SetMode(gin.TestMode)

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	engineCfg := bookauth.DefaultConfig()
	engineCfg.JWT.PrivateKey = []byte("0123456789abcdef0123456789abcdef")
	engineCfg.Breach.Enabled = false
	engineCfg.Password.Hashing = password.Config{
		Memory:      8 * 1024,
		Time:        1,
		Parallelism: 1,
		SaltLength:  16,
		KeyLength:   16,
	}

	engine, err := bookauth.New().WithRedis(client).WithConfig(engineCfg).Build()
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	t.Cleanup(engine.Close)

	return NewServer(engine, cfg, nil).Router()
}

func performRequest(r http.Handler, method, path string, body io.Reader, token string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, body)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	req.Header.Set("User-Agent", "httpapi-test")
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	return rec
}

func jsonBody(t *testing.T, v any) *bytes.Buffer {
	t.Helper()
	raw, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	return bytes.NewBuffer(raw)
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode response %q: %v", rec.Body.String(), err)
	}
	return out
}

func registerUser(t *testing.T, r http.Handler, email, role string) (accessToken, refreshToken string) {
	t.Helper()
	body := map[string]string{"email": email, "fullName": "Avery User", "password": testPassword}
	if role != "" {
		body["role"] = role
	}
	rec := performRequest(r, http.MethodPost, "/api/v1/auth/register", jsonBody(t, body), "")
	if rec.Code != http.StatusCreated {
		t.Fatalf("register failed status=%d body=%s", rec.Code, rec.Body.String())
	}
	resp := decode(t, rec)
	tokens, ok := resp["tokens"].(map[string]any)
	if !ok {
		t.Fatalf("missing tokens in %+v", resp)
	}
	access, _ := tokens["access_token"].(string)
	refresh, _ := tokens["refresh_token"].(string)
	if access == "" || refresh == "" {
		t.Fatalf("incomplete token pair: %+v", tokens)
	}
	return access, refresh
}

func TestFullAuthFlow(t *testing.T) {
	r := setupTestServer(t, ServerConfig{})

	access, refresh := registerUser(t, r, "flow@example.com", "")

	// Duplicate registration conflicts.
	rec := performRequest(r, http.MethodPost, "/api/v1/auth/register",
		jsonBody(t, map[string]string{"email": "flow@example.com", "fullName": "Avery User", "password": testPassword}), "")
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for duplicate email, got %d", rec.Code)
	}

	// Authenticated profile lookup.
	rec = performRequest(r, http.MethodGet, "/api/v1/auth/me", nil, access)
	if rec.Code != http.StatusOK {
		t.Fatalf("me failed status=%d body=%s", rec.Code, rec.Body.String())
	}
	me := decode(t, rec)
	if me["email"] != "flow@example.com" {
		t.Fatalf("unexpected me body: %+v", me)
	}
	if me["full_name"] != "Avery User" {
		t.Fatalf("expected full name in profile, got %+v", me)
	}
	if me["role"] != bookauth.RoleCustomer {
		t.Fatalf("expected default customer role, got %v", me["role"])
	}

	// Refresh rotates the pair.
	rec = performRequest(r, http.MethodPost, "/api/v1/auth/refresh",
		jsonBody(t, map[string]string{"refresh_token": refresh}), "")
	if rec.Code != http.StatusOK {
		t.Fatalf("refresh failed status=%d body=%s", rec.Code, rec.Body.String())
	}
	rotated := decode(t, rec)["tokens"].(map[string]any)
	nextRefresh, _ := rotated["refresh_token"].(string)
	if nextRefresh == "" || nextRefresh == refresh {
		t.Fatal("refresh token did not rotate")
	}

	// Replaying the consumed token revokes the family.
	rec = performRequest(r, http.MethodPost, "/api/v1/auth/refresh",
		jsonBody(t, map[string]string{"refresh_token": refresh}), "")
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 on refresh replay, got %d", rec.Code)
	}
	if decode(t, rec)["code"] != "reauthenticate" {
		t.Fatal("replay response should carry a reauthenticate code")
	}

	// The rotated successor died with the family.
	rec = performRequest(r, http.MethodPost, "/api/v1/auth/refresh",
		jsonBody(t, map[string]string{"refresh_token": nextRefresh}), "")
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 for revoked successor, got %d", rec.Code)
	}
}

func TestLoginStatuses(t *testing.T) {
	r := setupTestServer(t, ServerConfig{})
	registerUser(t, r, "login@example.com", "")

	rec := performRequest(r, http.MethodPost, "/api/v1/auth/login",
		jsonBody(t, map[string]string{"email": "login@example.com", "password": "wrong-password"}), "")
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for bad password, got %d", rec.Code)
	}
	known := decode(t, rec)
	if known["error"] != "invalid email or password" {
		t.Fatalf("unexpected error body: %+v", known)
	}
	if known["attempts_remaining"].(float64) != 4 {
		t.Fatalf("expected 4 attempts remaining, got %v", known["attempts_remaining"])
	}

	rec = performRequest(r, http.MethodPost, "/api/v1/auth/login",
		jsonBody(t, map[string]string{"email": "nobody@example.com", "password": "wrong-password"}), "")
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for unknown email, got %d", rec.Code)
	}
	// Unknown emails answer exactly like wrong passwords.
	if unknown := decode(t, rec); unknown["error"] != known["error"] || unknown["attempts_remaining"].(float64) != 4 {
		t.Fatalf("unknown-email body differs: %+v vs %+v", unknown, known)
	}

	rec = performRequest(r, http.MethodPost, "/api/v1/auth/login",
		jsonBody(t, map[string]string{"email": "login@example.com", "password": testPassword}), "")
	if rec.Code != http.StatusOK {
		t.Fatalf("login failed status=%d body=%s", rec.Code, rec.Body.String())
	}
}

func TestWeakPasswordViolations(t *testing.T) {
	r := setupTestServer(t, ServerConfig{})

	rec := performRequest(r, http.MethodPost, "/api/v1/auth/register",
		jsonBody(t, map[string]string{"email": "weak@example.com", "fullName": "Avery User", "password": "abc"}), "")
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d body=%s", rec.Code, rec.Body.String())
	}
	resp := decode(t, rec)
	violations, ok := resp["violations"].([]any)
	if !ok || len(violations) == 0 {
		t.Fatalf("expected violation list, got %+v", resp)
	}
}

func TestSoftBlockSetsRetryAfter(t *testing.T) {
	r := setupTestServer(t, ServerConfig{})
	registerUser(t, r, "block@example.com", "")

	var last *httptest.ResponseRecorder
	for i := 0; i < 5; i++ {
		last = performRequest(r, http.MethodPost, "/api/v1/auth/login",
			jsonBody(t, map[string]string{"email": "block@example.com", "password": "wrong-password"}), "")
	}
	if last.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429 after repeated failures, got %d", last.Code)
	}
	if last.Header().Get("Retry-After") == "" {
		t.Fatal("expected Retry-After header on soft block")
	}
}

func TestForgotPasswordIsEnumerationSafe(t *testing.T) {
	r := setupTestServer(t, ServerConfig{})
	registerUser(t, r, "known@example.com", "")

	known := performRequest(r, http.MethodPost, "/api/v1/auth/forgot-password",
		jsonBody(t, map[string]string{"email": "known@example.com"}), "")
	unknown := performRequest(r, http.MethodPost, "/api/v1/auth/forgot-password",
		jsonBody(t, map[string]string{"email": "ghost@example.com"}), "")

	if known.Code != http.StatusOK || unknown.Code != http.StatusOK {
		t.Fatalf("expected 200 for both, got %d and %d", known.Code, unknown.Code)
	}
	if known.Body.String() != unknown.Body.String() {
		t.Fatalf("responses differ: %s vs %s", known.Body.String(), unknown.Body.String())
	}
}

func TestAdminEndpointsRequireAdminRole(t *testing.T) {
	r := setupTestServer(t, ServerConfig{})

	customerAccess, _ := registerUser(t, r, "customer@example.com", "")
	rec := performRequest(r, http.MethodGet, "/api/v1/admin/security/metrics", nil, customerAccess)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403 for customer, got %d", rec.Code)
	}

	adminAccess, _ := registerUser(t, r, "admin@example.com", bookauth.RoleAdmin)
	rec = performRequest(r, http.MethodGet, "/api/v1/admin/security/metrics?window=1h", nil, adminAccess)
	if rec.Code != http.StatusOK {
		t.Fatalf("summary failed status=%d body=%s", rec.Code, rec.Body.String())
	}
	summary := decode(t, rec)
	if _, ok := summary["counts"].(map[string]any); !ok {
		t.Fatalf("expected counts map, got %+v", summary)
	}

	rec = performRequest(r, http.MethodGet, "/api/v1/admin/security/suspicious", nil, adminAccess)
	if rec.Code != http.StatusOK {
		t.Fatalf("suspicious failed status=%d body=%s", rec.Code, rec.Body.String())
	}

	// No token at all.
	rec = performRequest(r, http.MethodGet, "/api/v1/admin/security/metrics", nil, "")
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without token, got %d", rec.Code)
	}
}

func TestLogoutAllRevokesSessions(t *testing.T) {
	r := setupTestServer(t, ServerConfig{})
	access, refresh := registerUser(t, r, "sessions@example.com", "")

	// Sign in again to hold a second session.
	rec := performRequest(r, http.MethodPost, "/api/v1/auth/login",
		jsonBody(t, map[string]string{"email": "sessions@example.com", "password": testPassword}), "")
	if rec.Code != http.StatusOK {
		t.Fatalf("second login failed: %d", rec.Code)
	}

	rec = performRequest(r, http.MethodGet, "/api/v1/auth/sessions", nil, access)
	if rec.Code != http.StatusOK {
		t.Fatalf("sessions failed: %d", rec.Code)
	}
	listed := decode(t, rec)["sessions"].([]any)
	if len(listed) != 2 {
		t.Fatalf("expected 2 sessions, got %d", len(listed))
	}

	rec = performRequest(r, http.MethodPost, "/api/v1/auth/logout-all", nil, access)
	if rec.Code != http.StatusOK {
		t.Fatalf("logout-all failed: %d", rec.Code)
	}
	if revoked := decode(t, rec)["revoked_sessions"].(float64); revoked != 2 {
		t.Fatalf("expected 2 revoked sessions, got %v", revoked)
	}

	rec = performRequest(r, http.MethodPost, "/api/v1/auth/refresh",
		jsonBody(t, map[string]string{"refresh_token": refresh}), "")
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 after logout-all, got %d", rec.Code)
	}
}

func TestThrottleReturns429(t *testing.T) {
	r := setupTestServer(t, ServerConfig{RequestsPerSecond: 1, Burst: 2})

	var got429 bool
	for i := 0; i < 5; i++ {
		rec := performRequest(r, http.MethodGet, "/healthz", nil, "")
		if rec.Code == http.StatusTooManyRequests {
			got429 = true
			break
		}
	}
	if !got429 {
		t.Fatal("expected throttle to trip")
	}
}

func TestErrorStatusMapping(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want int
	}{
		{"bad credentials", bookauth.ErrInvalidCredentials, http.StatusBadRequest},
		{"bad credentials with hint", &bookauth.CredentialsError{AttemptsRemaining: 2}, http.StatusBadRequest},
		{"weak password", &bookauth.PolicyError{Violations: []string{"too short"}}, http.StatusBadRequest},
		{"breached password", bookauth.ErrPasswordBreached, http.StatusBadRequest},
		{"duplicate email", bookauth.ErrEmailTaken, http.StatusBadRequest},
		{"account locked", bookauth.ErrAccountLocked, http.StatusForbidden},
		{"soft block", &bookauth.BlockedError{}, http.StatusTooManyRequests},
		{"reset cap", &bookauth.ResetBlockedError{Scope: "email"}, http.StatusTooManyRequests},
		{"dead refresh token", bookauth.ErrRefreshInvalid, http.StatusUnauthorized},
		{"used reset token", bookauth.ErrResetUsed, http.StatusBadRequest},
	}
	for _, tc := range cases {
		if got, _ := errorResponse(tc.err); got != tc.want {
			t.Errorf("%s: expected %d, got %d", tc.name, tc.want, got)
		}
	}
}

func TestValidateReportsValid(t *testing.T) {
	r := setupTestServer(t, ServerConfig{})
	access, _ := registerUser(t, r, "valid@example.com", "")

	rec := performRequest(r, http.MethodGet, "/api/v1/auth/validate", nil, access)
	if rec.Code != http.StatusOK {
		t.Fatalf("validate failed status=%d body=%s", rec.Code, rec.Body.String())
	}
	resp := decode(t, rec)
	if resp["valid"] != true {
		t.Fatalf("expected valid=true, got %+v", resp)
	}
	user, ok := resp["user"].(map[string]any)
	if !ok || user["email"] != "valid@example.com" {
		t.Fatalf("unexpected user payload: %+v", resp)
	}
}

func TestHealthz(t *testing.T) {
	r := setupTestServer(t, ServerConfig{})
	rec := performRequest(r, http.MethodGet, "/healthz", nil, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("healthz: %d", rec.Code)
	}
}
