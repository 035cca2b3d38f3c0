package identity

import (
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dicelobby/backend/internal/config"
)

const (
	testSecret  = "test-signing-secret"
	testProject = "dice-lobby-test"
)

func nativeVerifier() *Verifier {
	return New(&config.Config{
		IdentityVerifyMode: "strict-native",
		IdentityJWTSecret:  testSecret,
		IdentityProjectID:  testProject,
	})
}

type tokenOpts struct {
	sub      string
	aud      string
	iss      string
	exp      time.Time
	provider string
	secret   string
}

func signToken(t *testing.T, o tokenOpts) string {
	t.Helper()
	if o.sub == "" {
		o.sub = "uid-1"
	}
	if o.aud == "" {
		o.aud = testProject
	}
	if o.iss == "" {
		o.iss = "https://securetoken.google.com/" + testProject
	}
	if o.exp.IsZero() {
		o.exp = time.Now().Add(time.Hour)
	}
	if o.provider == "" {
		o.provider = "google.com"
	}
	if o.secret == "" {
		o.secret = testSecret
	}

	claims := jwt.MapClaims{
		"sub":      o.sub,
		"aud":      o.aud,
		"iss":      o.iss,
		"exp":      o.exp.Unix(),
		"email":    "alice@example.com",
		"name":     "Alice",
		"firebase": map[string]any{"sign_in_provider": o.provider},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(o.secret))
	require.NoError(t, err)
	return signed
}

func TestVerifyNativeHappyPath(t *testing.T) {
	v := nativeVerifier()
	claims, err := v.Verify(signToken(t, tokenOpts{}))
	require.NoError(t, err)

	assert.Equal(t, "uid-1", claims.UID)
	assert.Equal(t, "alice@example.com", claims.Email)
	assert.Equal(t, "Alice", claims.DisplayName)
	assert.Equal(t, "google.com", claims.Provider)
	assert.False(t, claims.IsAnonymous)
	assert.Positive(t, claims.ExpiresAt)
}

func TestVerifyMissingToken(t *testing.T) {
	_, err := nativeVerifier().Verify("")
	assert.Equal(t, ReasonMissingToken, Reason(err))
}

func TestVerifyMalformedToken(t *testing.T) {
	_, err := nativeVerifier().Verify("not.a.jwt")
	assert.Equal(t, ReasonTokenMalformed, Reason(err))
}

func TestVerifyExpiredToken(t *testing.T) {
	tok := signToken(t, tokenOpts{exp: time.Now().Add(-time.Minute)})
	_, err := nativeVerifier().Verify(tok)
	assert.Equal(t, ReasonTokenExpired, Reason(err))
}

func TestVerifyBadSignature(t *testing.T) {
	tok := signToken(t, tokenOpts{secret: "some-other-secret"})
	_, err := nativeVerifier().Verify(tok)
	assert.Equal(t, ReasonTokenInvalid, Reason(err))
}

func TestVerifyAudienceMismatch(t *testing.T) {
	tok := signToken(t, tokenOpts{aud: "other-project"})
	_, err := nativeVerifier().Verify(tok)
	assert.Equal(t, ReasonAudienceMismatch, Reason(err))
}

func TestVerifyIssuerMismatch(t *testing.T) {
	tok := signToken(t, tokenOpts{iss: "https://evil.example.com/" + testProject})
	_, err := nativeVerifier().Verify(tok)
	assert.Equal(t, ReasonIssuerMismatch, Reason(err))
}

func TestVerifyAnonymousProvider(t *testing.T) {
	claims, err := nativeVerifier().Verify(signToken(t, tokenOpts{provider: "anonymous"}))
	require.NoError(t, err)
	assert.True(t, claims.IsAnonymous)
}

func TestVerifyHTTPLookup(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "test-key", r.URL.Query().Get("key"))
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"users":[{"localId":"uid-9","email":"bob@example.com","displayName":"Bob","providerUserInfo":[{"providerId":"password"}]}]}`))
	}))
	defer srv.Close()

	v := New(&config.Config{
		IdentityVerifyMode: "fallback-http",
		IdentityLookupURL:  srv.URL,
		IdentityAPIKey:     "test-key",
	})

	claims, err := v.Verify("opaque-provider-token")
	require.NoError(t, err)
	assert.Equal(t, "uid-9", claims.UID)
	assert.Equal(t, "password", claims.Provider)
	assert.False(t, claims.IsAnonymous)

	// Second call is served from the cache.
	_, err = v.Verify("opaque-provider-token")
	require.NoError(t, err)
	assert.Equal(t, int32(1), calls.Load())
}

func TestVerifyHTTPRejectsBadToken(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":{"message":"INVALID_ID_TOKEN"}}`, http.StatusBadRequest)
	}))
	defer srv.Close()

	v := New(&config.Config{IdentityVerifyMode: "fallback-http", IdentityLookupURL: srv.URL})
	_, err := v.Verify("bad-token")
	assert.Equal(t, ReasonTokenInvalid, Reason(err))
}

func TestVerifyHTTPOutageIsUnavailable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "upstream broke", http.StatusBadGateway)
	}))
	defer srv.Close()

	v := New(&config.Config{IdentityVerifyMode: "fallback-http", IdentityLookupURL: srv.URL})
	_, err := v.Verify("some-token")
	assert.Equal(t, ReasonLookupUnavailable, Reason(err))
}

func TestVerifyHTTPWithoutEndpointConfigured(t *testing.T) {
	v := New(&config.Config{IdentityVerifyMode: "fallback-http"})
	_, err := v.Verify("some-token")
	assert.Equal(t, ReasonLookupUnavailable, Reason(err))
}

func TestAutoModePrefersNativeRejection(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("lookup endpoint must not be consulted after a definitive native rejection")
	}))
	defer srv.Close()

	v := New(&config.Config{
		IdentityVerifyMode: "auto",
		IdentityJWTSecret:  testSecret,
		IdentityProjectID:  testProject,
		IdentityLookupURL:  srv.URL,
	})

	tok := signToken(t, tokenOpts{secret: "wrong-secret"})
	_, err := v.Verify(tok)
	assert.Equal(t, ReasonTokenInvalid, Reason(err))
}

func TestCacheServesRepeatVerifications(t *testing.T) {
	v := nativeVerifier()
	tok := signToken(t, tokenOpts{})

	first, err := v.Verify(tok)
	require.NoError(t, err)
	second, err := v.Verify(tok)
	require.NoError(t, err)
	assert.Equal(t, *first, *second)
	assert.NotSame(t, first, second, "cache hands out copies, never its own entry")
}
