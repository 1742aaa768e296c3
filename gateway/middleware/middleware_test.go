package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"optionsvault/crypto"
)

const testSecret = "vault-test-secret"

var testCaller = [20]byte{0x42, 0x01}

func callerEcho() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		caller, ok := CallerFromContext(r.Context())
		if !ok {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		_, _ = w.Write([]byte(crypto.AddressFromRaw(caller).String()))
	})
}

func serve(h http.Handler, req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestAuthenticatorResolvesCaller(t *testing.T) {
	auth := NewAuthenticator(AuthConfig{Enabled: true, HMACSecret: testSecret, Issuer: "vaultd"}, nil)
	subject := crypto.AddressFromRaw(testCaller).String()
	token, err := IssueToken(testSecret, "vaultd", "", subject, []string{"vault:owner"}, time.Minute)
	require.NoError(t, err)

	handler := auth.Middleware("vault:owner")(callerEcho())
	req := httptest.NewRequest(http.MethodPost, "/v1/vault/close", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := serve(handler, req)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, subject, rec.Body.String())

	// Scope missing.
	rec = serve(auth.Middleware("action:operator")(callerEcho()), req)
	require.Equal(t, http.StatusForbidden, rec.Code)
}

func TestAuthenticatorRejectsBadTokens(t *testing.T) {
	auth := NewAuthenticator(AuthConfig{Enabled: true, HMACSecret: testSecret, Issuer: "vaultd"}, nil)
	handler := auth.Middleware()(callerEcho())
	subject := crypto.AddressFromRaw(testCaller).String()

	req := httptest.NewRequest(http.MethodGet, "/v1/vault", nil)
	require.Equal(t, http.StatusUnauthorized, serve(handler, req).Code)

	wrongKey, err := IssueToken("other-secret", "vaultd", "", subject, nil, time.Minute)
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer "+wrongKey)
	require.Equal(t, http.StatusUnauthorized, serve(handler, req).Code)

	wrongIssuer, err := IssueToken(testSecret, "elsewhere", "", subject, nil, time.Minute)
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer "+wrongIssuer)
	require.Equal(t, http.StatusUnauthorized, serve(handler, req).Code)

	_, err = IssueToken(testSecret, "vaultd", "", "not-an-address", nil, time.Minute)
	require.Error(t, err)
}

func TestAuthenticatorOptionalPaths(t *testing.T) {
	auth := NewAuthenticator(AuthConfig{
		Enabled:        true,
		HMACSecret:     testSecret,
		OptionalPaths:  []string{"/v1/history"},
		AllowAnonymous: true,
	}, nil)
	handler := auth.Middleware()(callerEcho())
	require.Equal(t, http.StatusNoContent, serve(handler, httptest.NewRequest(http.MethodGet, "/v1/history/rounds", nil)).Code)
	require.Equal(t, http.StatusUnauthorized, serve(handler, httptest.NewRequest(http.MethodGet, "/v1/vault", nil)).Code)
}

func TestDisabledAuthTrustsCallerHeader(t *testing.T) {
	handler := NewAuthenticator(AuthConfig{}, nil).Middleware()(callerEcho())
	subject := crypto.AddressFromRaw(testCaller).String()

	req := httptest.NewRequest(http.MethodGet, "/v1/vault", nil)
	req.Header.Set(CallerHeader, subject)
	rec := serve(handler, req)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, subject, rec.Body.String())

	req.Header.Set(CallerHeader, "garbage")
	require.Equal(t, http.StatusBadRequest, serve(handler, req).Code)
}

func TestRateLimiterBlocksAfterBurst(t *testing.T) {
	limiter := NewRateLimiter(map[string]RateLimit{"vault": {RequestsPerMinute: 60, Burst: 1}})
	now := time.Unix(1_700_000_000, 0)
	limiter.clockNow = func() time.Time { return now }
	handler := limiter.Middleware("vault")(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	req := httptest.NewRequest(http.MethodPost, "/v1/vault/deposit", nil)

	require.Equal(t, http.StatusOK, serve(handler, req).Code)
	require.Equal(t, http.StatusTooManyRequests, serve(handler, req).Code)

	now = now.Add(time.Second)
	require.Equal(t, http.StatusOK, serve(handler, req).Code)

	// Another client has its own bucket.
	other := httptest.NewRequest(http.MethodPost, "/v1/vault/deposit", nil)
	other.Header.Set("X-Real-IP", "10.0.0.9")
	require.Equal(t, http.StatusOK, serve(handler, other).Code)

	// Unlimited groups pass through.
	free := limiter.Middleware("history")(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	for i := 0; i < 3; i++ {
		require.Equal(t, http.StatusOK, serve(free, req).Code)
	}
}

func TestRateLimiterForgetsIdleClients(t *testing.T) {
	limiter := NewRateLimiter(map[string]RateLimit{"vault": {RequestsPerMinute: 1, Burst: 1}})
	now := time.Unix(1_700_000_000, 0)
	limiter.clockNow = func() time.Time { return now }
	require.True(t, limiter.allow("a", limiter.limits["vault"]))
	require.Len(t, limiter.visitors, 1)
	now = now.Add(10 * time.Minute)
	require.True(t, limiter.allow("b", limiter.limits["vault"]))
	require.Len(t, limiter.visitors, 1)
}

func TestCORS(t *testing.T) {
	handler := CORS(CORSConfig{AllowedOrigins: []string{"https://app.example"}})(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodOptions, "/v1/vault", nil)
	req.Header.Set("Origin", "https://app.example")
	rec := serve(handler, req)
	require.Equal(t, http.StatusNoContent, rec.Code)
	require.Equal(t, "https://app.example", rec.Header().Get("Access-Control-Allow-Origin"))

	req = httptest.NewRequest(http.MethodGet, "/v1/vault", nil)
	req.Header.Set("Origin", "https://evil.example")
	rec = serve(handler, req)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Empty(t, rec.Header().Get("Access-Control-Allow-Origin"))
}
