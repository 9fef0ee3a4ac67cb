// Package session mints and validates the bearer credentials a controller
// receives after a successful pairing. Access tokens are short-lived and
// kept in memory; refresh tokens are long-lived and persisted hashed.
package session

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/remotectl/agent/internal/store"
)

const (
	// AccessTTL is the lifetime of an access token.
	AccessTTL = 15 * time.Minute
	// RefreshTTL is the lifetime of a refresh token.
	RefreshTTL = 30 * 24 * time.Hour

	tokenBytes = 32
)

// ErrInvalidToken is returned for unknown or expired tokens.
var ErrInvalidToken = errors.New("invalid or expired token")

// Credential is an access/refresh token pair bound to a principal.
type Credential struct {
	Access  string
	Refresh string
}

// Issuer converts verified device identities into credentials.
type Issuer struct {
	store *store.Store
	key   []byte // HMAC key for refresh-token hashes at rest

	mu     sync.RWMutex
	access map[string]accessEntry
	now    func() time.Time
}

type accessEntry struct {
	principalID string
	expiresAt   time.Time
}

// NewIssuer creates an issuer backed by the given store and token key.
func NewIssuer(st *store.Store, key []byte) *Issuer {
	return &Issuer{
		store:  st,
		key:    key,
		access: make(map[string]accessEntry),
		now:    time.Now,
	}
}

// Issue mints a credential pair for the device identity. Principal creation
// is idempotent: the same identity always resolves to the same principal.
func (i *Issuer) Issue(deviceID string) (*Credential, error) {
	principal, err := i.store.UpsertPrincipal(deviceID)
	if err != nil {
		return nil, fmt.Errorf("resolve principal: %w", err)
	}

	refresh, err := newToken()
	if err != nil {
		return nil, fmt.Errorf("generate refresh token: %w", err)
	}
	expires := i.now().Add(RefreshTTL)
	if err := i.store.SaveRefreshToken(i.hash(refresh), principal.ID, expires); err != nil {
		return nil, fmt.Errorf("save refresh token: %w", err)
	}

	access, err := i.mintAccess(principal.ID)
	if err != nil {
		return nil, err
	}

	return &Credential{Access: access, Refresh: refresh}, nil
}

// Refresh exchanges a valid refresh token for a new access token.
func (i *Issuer) Refresh(refresh string) (string, error) {
	tok, err := i.store.GetRefreshToken(i.hash(refresh))
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return "", ErrInvalidToken
		}
		return "", fmt.Errorf("look up refresh token: %w", err)
	}

	return i.mintAccess(tok.PrincipalID)
}

// Authenticate resolves an access token to its principal ID. Expired
// entries are evicted on access.
func (i *Issuer) Authenticate(access string) (string, bool) {
	i.mu.RLock()
	e, ok := i.access[access]
	i.mu.RUnlock()
	if !ok {
		return "", false
	}

	if i.now().After(e.expiresAt) {
		i.mu.Lock()
		delete(i.access, access)
		i.mu.Unlock()
		return "", false
	}

	return e.principalID, true
}

// Revoke invalidates a refresh token.
func (i *Issuer) Revoke(refresh string) error {
	return i.store.DeleteRefreshToken(i.hash(refresh))
}

func (i *Issuer) mintAccess(principalID string) (string, error) {
	access, err := newToken()
	if err != nil {
		return "", fmt.Errorf("generate access token: %w", err)
	}

	i.mu.Lock()
	i.access[access] = accessEntry{
		principalID: principalID,
		expiresAt:   i.now().Add(AccessTTL),
	}
	i.mu.Unlock()

	return access, nil
}

// hash computes the at-rest form of a refresh token.
func (i *Issuer) hash(token string) string {
	mac := hmac.New(sha256.New, i.key)
	mac.Write([]byte(token))
	return base64.RawURLEncoding.EncodeToString(mac.Sum(nil))
}

// newToken returns an opaque bearer string from crypto/rand.
func newToken() (string, error) {
	b := make([]byte, tokenBytes)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}
