// Package vault issues and verifies the session credentials: opaque random
// access and refresh tokens, stored server-side by their SHA-256 hash.
// Tokens are the sole credential carried on the WebSocket upgrade.
package vault

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/dicelobby/backend/internal/core"
)

const tokenBytes = 24

var (
	// ErrUnauthorized covers missing, unknown, and expired tokens.
	ErrUnauthorized = errors.New("unauthorized")
	// ErrForbidden covers a valid token presented for the wrong player
	// or session.
	ErrForbidden = errors.New("forbidden")
)

// Bundle is the issued token pair handed to a client.
type Bundle struct {
	AccessToken  string `json:"accessToken"`
	RefreshToken string `json:"refreshToken"`
	ExpiresAt    int64  `json:"expiresAt"`
}

// Vault stores token records keyed by hex SHA-256 of the token string.
// It owns its maps; the catalog folds them into the persisted snapshot
// via Export/Import.
type Vault struct {
	mu         sync.RWMutex
	access     map[string]*core.TokenRecord
	refresh    map[string]*core.TokenRecord
	accessTTL  time.Duration
	refreshTTL time.Duration
}

// New creates an empty vault with the given TTLs.
func New(accessTTL, refreshTTL time.Duration) *Vault {
	return &Vault{
		access:     make(map[string]*core.TokenRecord),
		refresh:    make(map[string]*core.TokenRecord),
		accessTTL:  accessTTL,
		refreshTTL: refreshTTL,
	}
}

// IssueBundle generates a fresh access+refresh pair bound to a player and,
// optionally, a session.
func (v *Vault) IssueBundle(playerID, sessionID string) (*Bundle, error) {
	accessToken, err := newToken()
	if err != nil {
		return nil, err
	}
	refreshToken, err := newToken()
	if err != nil {
		return nil, err
	}

	now := core.NowMs()
	accessExp := now + v.accessTTL.Milliseconds()
	refreshExp := now + v.refreshTTL.Milliseconds()

	v.mu.Lock()
	v.access[HashToken(accessToken)] = &core.TokenRecord{
		PlayerID:  playerID,
		SessionID: sessionID,
		IssuedAt:  now,
		ExpiresAt: accessExp,
	}
	v.refresh[HashToken(refreshToken)] = &core.TokenRecord{
		PlayerID:  playerID,
		SessionID: sessionID,
		IssuedAt:  now,
		ExpiresAt: refreshExp,
	}
	v.mu.Unlock()

	return &Bundle{
		AccessToken:  accessToken,
		RefreshToken: refreshToken,
		ExpiresAt:    accessExp,
	}, nil
}

// VerifyAccess resolves an access token to its record. Expired tokens are
// deleted on sight and report as unknown.
func (v *Vault) VerifyAccess(token string) *core.TokenRecord {
	return v.verify(v.access, token)
}

// VerifyRefresh resolves a refresh token to its record.
func (v *Vault) VerifyRefresh(token string) *core.TokenRecord {
	return v.verify(v.refresh, token)
}

func (v *Vault) verify(m map[string]*core.TokenRecord, token string) *core.TokenRecord {
	if token == "" {
		return nil
	}
	hash := HashToken(token)

	v.mu.RLock()
	rec, ok := m[hash]
	v.mu.RUnlock()
	if !ok {
		return nil
	}
	if core.NowMs() >= rec.ExpiresAt {
		v.mu.Lock()
		delete(m, hash)
		v.mu.Unlock()
		return nil
	}
	out := *rec
	return &out
}

// Authorize verifies an access token and checks it against the expected
// player and session. An empty expected session skips the session check.
func (v *Vault) Authorize(token, playerID, sessionID string) (*core.TokenRecord, error) {
	rec := v.VerifyAccess(token)
	if rec == nil {
		return nil, ErrUnauthorized
	}
	if playerID != "" && rec.PlayerID != playerID {
		return nil, ErrForbidden
	}
	if sessionID != "" && rec.SessionID != "" && rec.SessionID != sessionID {
		return nil, ErrForbidden
	}
	return rec, nil
}

// Refresh rotates a token pair. The presented refresh token is single-use:
// its hash is removed before the new pair is issued, so replaying it fails
// even if issuance errors out.
func (v *Vault) Refresh(refreshToken string) (*Bundle, error) {
	hash := HashToken(refreshToken)

	v.mu.Lock()
	rec, ok := v.refresh[hash]
	if ok {
		delete(v.refresh, hash)
	}
	v.mu.Unlock()

	if !ok || core.NowMs() >= rec.ExpiresAt {
		return nil, ErrUnauthorized
	}
	return v.IssueBundle(rec.PlayerID, rec.SessionID)
}

// SweepExpired drops expired records from both maps and returns the count.
func (v *Vault) SweepExpired() int {
	now := core.NowMs()
	swept := 0

	v.mu.Lock()
	defer v.mu.Unlock()
	for hash, rec := range v.access {
		if now >= rec.ExpiresAt {
			delete(v.access, hash)
			swept++
		}
	}
	for hash, rec := range v.refresh {
		if now >= rec.ExpiresAt {
			delete(v.refresh, hash)
			swept++
		}
	}
	return swept
}

// Export deep-copies both token maps for the persisted snapshot.
func (v *Vault) Export() (access, refresh map[string]*core.TokenRecord) {
	v.mu.RLock()
	defer v.mu.RUnlock()
	access = make(map[string]*core.TokenRecord, len(v.access))
	for k, r := range v.access {
		cp := *r
		access[k] = &cp
	}
	refresh = make(map[string]*core.TokenRecord, len(v.refresh))
	for k, r := range v.refresh {
		cp := *r
		refresh[k] = &cp
	}
	return access, refresh
}

// Import replaces the vault contents from a loaded snapshot.
func (v *Vault) Import(access, refresh map[string]*core.TokenRecord) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.access = make(map[string]*core.TokenRecord, len(access))
	for k, r := range access {
		cp := *r
		v.access[k] = &cp
	}
	v.refresh = make(map[string]*core.TokenRecord, len(refresh))
	for k, r := range refresh {
		cp := *r
		v.refresh[k] = &cp
	}
}

// HashToken returns the storage key for a token string.
func HashToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}

func newToken() (string, error) {
	buf := make([]byte, tokenBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate token: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}
