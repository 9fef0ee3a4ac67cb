// Package pairing implements the short-lived pairing-code exchange that
// bootstraps trust between a controller and the agent. Codes are 6-digit
// numeric strings, valid for five minutes, and authorize exactly one
// credential issuance.
package pairing

import (
	"context"
	"crypto/rand"
	"crypto/subtle"
	"errors"
	"fmt"
	"math/big"
	"sync"
	"time"
)

// CodeTTL is the advertised lifetime of a pairing code.
const CodeTTL = 5 * time.Minute

const codeDigits = 6

var (
	// ErrInvalidRequest is returned when the device identity is empty.
	ErrInvalidRequest = errors.New("device identity is required")
	// ErrNotFound is returned when no code exists for a device identity.
	ErrNotFound = errors.New("no pairing code for device")
	// ErrExpired is returned when the code's lifetime has elapsed.
	ErrExpired = errors.New("pairing code expired")
	// ErrAlreadyUsed is returned when the code was already redeemed.
	ErrAlreadyUsed = errors.New("pairing code already used")
	// ErrMismatch is returned when the supplied code does not match.
	ErrMismatch = errors.New("pairing code mismatch")
)

type entry struct {
	code      string
	createdAt time.Time
	expiresAt time.Time
	used      bool
}

// Registry holds pairing codes keyed by device identity. All methods are
// safe for concurrent use; the check-then-mark sequence in Verify is atomic
// under the registry mutex, so one code redeems at most once.
type Registry struct {
	mu      sync.Mutex
	entries map[string]*entry
	now     func() time.Time
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		entries: make(map[string]*entry),
		now:     time.Now,
	}
}

// Request generates a fresh code for the device identity, replacing any
// prior entry for the same identity (last request wins). Returns the code
// and its TTL.
func (r *Registry) Request(deviceID string) (string, time.Duration, error) {
	if deviceID == "" {
		return "", 0, ErrInvalidRequest
	}

	code, err := generateCode()
	if err != nil {
		return "", 0, fmt.Errorf("generate pairing code: %w", err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	r.entries[deviceID] = &entry{
		code:      code,
		createdAt: now,
		expiresAt: now.Add(CodeTTL),
	}

	return code, CodeTTL, nil
}

// Verify redeems a code for the device identity. On success the entry is
// marked used and the device identity is returned as the principal seed.
// Every failure mode is distinct so callers can branch on semantics.
func (r *Registry) Verify(deviceID, code string) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.entries[deviceID]
	if !ok {
		return "", ErrNotFound
	}

	if r.now().After(e.expiresAt) {
		delete(r.entries, deviceID)
		return "", ErrExpired
	}

	if e.used {
		return "", ErrAlreadyUsed
	}

	if subtle.ConstantTimeCompare([]byte(e.code), []byte(code)) != 1 {
		return "", ErrMismatch
	}

	e.used = true
	return deviceID, nil
}

// Run sweeps expired entries periodically until ctx is done. Lazy purging
// in Verify is not enough on its own: a controller that never calls back
// would otherwise leave its entry in the map forever.
func (r *Registry) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.sweep()
		}
	}
}

func (r *Registry) sweep() {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	for id, e := range r.entries {
		if now.After(e.expiresAt) || e.used {
			delete(r.entries, id)
		}
	}
}

// Len reports the number of live entries. Used by tests and the sweeper.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}

// generateCode produces a 6-digit numeric code from crypto/rand.
func generateCode() (string, error) {
	max := big.NewInt(1)
	for i := 0; i < codeDigits; i++ {
		max.Mul(max, big.NewInt(10))
	}
	n, err := rand.Int(rand.Reader, max)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%0*d", codeDigits, n), nil
}
