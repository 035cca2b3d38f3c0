// Package identity resolves third-party bearer tokens to verified claims.
// Two verification paths exist: a native JWT check against the configured
// project, and an HTTP lookup against the provider's token-info endpoint.
// Successful verifications are cached until shortly before token expiry so
// the hot path stays non-blocking.
package identity

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/dicelobby/backend/internal/config"
	"github.com/dicelobby/backend/internal/core"
)

// Normalized failure reasons. Raw provider/library error text never leaves
// this package.
const (
	ReasonMissingToken      = "missing_token"
	ReasonTokenMalformed    = "token_malformed"
	ReasonTokenExpired      = "token_expired"
	ReasonTokenInvalid      = "token_invalid"
	ReasonAudienceMismatch  = "audience_mismatch"
	ReasonIssuerMismatch    = "issuer_mismatch"
	ReasonLookupUnavailable = "lookup_unavailable"
)

// Error is a verification failure carrying only a normalized reason code.
type Error struct {
	Reason string
}

func (e *Error) Error() string { return e.Reason }

func failure(reason string) *Error { return &Error{Reason: reason} }

// Reason extracts the normalized reason from a verification error.
func Reason(err error) string {
	var ve *Error
	if errors.As(err, &ve) {
		return ve.Reason
	}
	return ReasonTokenInvalid
}

// Claims is the verified identity of a bearer token.
type Claims struct {
	UID         string `json:"uid"`
	Email       string `json:"email,omitempty"`
	DisplayName string `json:"displayName,omitempty"`
	IsAnonymous bool   `json:"isAnonymous"`
	Provider    string `json:"provider,omitempty"`
	ExpiresAt   int64  `json:"expiresAt"`
}

// Verifier resolves bearer tokens in one of three modes: strict-native
// (JWT only), fallback-http (endpoint only), or auto (native when
// configured, HTTP otherwise).
type Verifier struct {
	mode      string
	projectID string
	secret    []byte
	lookupURL string
	apiKey    string
	client    *http.Client
	cache     *claimCache
}

// New builds a verifier from configuration.
func New(cfg *config.Config) *Verifier {
	timeout := cfg.IdentityTimeout
	if timeout <= 0 {
		timeout = 6 * time.Second
	}
	return &Verifier{
		mode:      cfg.IdentityVerifyMode,
		projectID: cfg.IdentityProjectID,
		secret:    []byte(cfg.IdentityJWTSecret),
		lookupURL: cfg.IdentityLookupURL,
		apiKey:    cfg.IdentityAPIKey,
		client:    &http.Client{Timeout: timeout},
		cache:     newClaimCache(),
	}
}

// Verify resolves a bearer token to claims, consulting the cache first.
func (v *Verifier) Verify(token string) (*Claims, error) {
	if token == "" {
		return nil, failure(ReasonMissingToken)
	}
	if claims, ok := v.cache.get(token); ok {
		return claims, nil
	}

	var claims *Claims
	var err error
	switch v.mode {
	case "strict-native":
		claims, err = v.verifyNative(token)
	case "fallback-http":
		claims, err = v.verifyHTTP(token)
	default: // auto
		if len(v.secret) > 0 {
			claims, err = v.verifyNative(token)
		} else {
			claims, err = v.verifyHTTP(token)
		}
		// Fall back only on unavailability, never on a definitive
		// rejection from the native path.
		if err != nil && Reason(err) == ReasonLookupUnavailable && v.lookupURL != "" {
			claims, err = v.verifyHTTP(token)
		}
	}
	if err != nil {
		return nil, err
	}

	v.cache.put(token, claims)
	v.cache.sweep()
	return claims, nil
}

type providerClaims struct {
	jwt.RegisteredClaims
	Email    string `json:"email"`
	Name     string `json:"name"`
	Firebase struct {
		SignInProvider string `json:"sign_in_provider"`
	} `json:"firebase"`
}

func (v *Verifier) verifyNative(token string) (*Claims, error) {
	if len(v.secret) == 0 {
		return nil, failure(ReasonLookupUnavailable)
	}

	parsed, err := jwt.ParseWithClaims(token, &providerClaims{}, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %s", t.Method.Alg())
		}
		return v.secret, nil
	}, jwt.WithExpirationRequired())
	if err != nil {
		switch {
		case errors.Is(err, jwt.ErrTokenMalformed):
			return nil, failure(ReasonTokenMalformed)
		case errors.Is(err, jwt.ErrTokenExpired):
			return nil, failure(ReasonTokenExpired)
		default:
			return nil, failure(ReasonTokenInvalid)
		}
	}

	pc, ok := parsed.Claims.(*providerClaims)
	if !ok || pc.Subject == "" {
		return nil, failure(ReasonTokenInvalid)
	}
	if v.projectID != "" {
		aud, _ := pc.GetAudience()
		if !contains(aud, v.projectID) {
			return nil, failure(ReasonAudienceMismatch)
		}
		wantIssuer := "https://securetoken.google.com/" + v.projectID
		if pc.Issuer != wantIssuer {
			return nil, failure(ReasonIssuerMismatch)
		}
	}

	var expires int64
	if pc.ExpiresAt != nil {
		expires = pc.ExpiresAt.UnixMilli()
	}
	provider := pc.Firebase.SignInProvider
	return &Claims{
		UID:         pc.Subject,
		Email:       pc.Email,
		DisplayName: pc.Name,
		IsAnonymous: provider == "anonymous",
		Provider:    provider,
		ExpiresAt:   expires,
	}, nil
}

type lookupResponse struct {
	Users []struct {
		LocalID          string `json:"localId"`
		Email            string `json:"email"`
		DisplayName      string `json:"displayName"`
		ProviderUserInfo []struct {
			ProviderID string `json:"providerId"`
		} `json:"providerUserInfo"`
	} `json:"users"`
}

func (v *Verifier) verifyHTTP(token string) (*Claims, error) {
	if v.lookupURL == "" {
		return nil, failure(ReasonLookupUnavailable)
	}

	body, _ := json.Marshal(map[string]string{"idToken": token})
	url := v.lookupURL
	if v.apiKey != "" {
		url += "?key=" + v.apiKey
	}
	resp, err := v.client.Post(url, "application/json", bytes.NewReader(body))
	if err != nil {
		return nil, failure(ReasonLookupUnavailable)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusOK:
	case resp.StatusCode >= 500:
		return nil, failure(ReasonLookupUnavailable)
	default:
		return nil, failure(ReasonTokenInvalid)
	}

	var lr lookupResponse
	if err := json.NewDecoder(resp.Body).Decode(&lr); err != nil || len(lr.Users) == 0 {
		return nil, failure(ReasonTokenInvalid)
	}

	u := lr.Users[0]
	if u.LocalID == "" {
		return nil, failure(ReasonTokenInvalid)
	}
	provider := ""
	if len(u.ProviderUserInfo) > 0 {
		provider = u.ProviderUserInfo[0].ProviderID
	}
	// The lookup endpoint does not echo the token expiry; cache for a
	// short fixed window instead.
	return &Claims{
		UID:         u.LocalID,
		Email:       u.Email,
		DisplayName: u.DisplayName,
		IsAnonymous: provider == "" || provider == "anonymous",
		Provider:    provider,
		ExpiresAt:   core.NowMs() + 5*60*1000,
	}, nil
}

func contains(list []string, want string) bool {
	for _, v := range list {
		if v == want {
			return true
		}
	}
	return false
}
