// Package store provides persistent storage for device principals and
// refresh tokens. Pairing codes are deliberately not stored here: they are
// short-lived and acceptable to lose on restart.
package store

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	_ "modernc.org/sqlite"
)

// ErrNotFound is returned when a requested row does not exist.
var ErrNotFound = errors.New("not found")

// Principal is the internal identity a credential is bound to.
type Principal struct {
	ID        string // ULID
	Account   string // synthetic account name, e.g. device_<identity>
	DeviceID  string // the controller-supplied device identity
	CreatedAt time.Time
}

// RefreshToken is a persisted long-lived token. Only the HMAC of the token
// is stored; the bearer string itself never touches disk.
type RefreshToken struct {
	Hash        string
	PrincipalID string
	ExpiresAt   time.Time
}

// Store manages the agent database.
type Store struct {
	db *sql.DB
	mu sync.RWMutex
}

// New opens (creating if needed) the agent database under dataDir.
func New(dataDir string) (*Store, error) {
	if err := os.MkdirAll(dataDir, 0700); err != nil {
		return nil, fmt.Errorf("create data directory: %w", err)
	}

	dbPath := filepath.Join(dataDir, "agent.db")
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	// Enable WAL mode for better concurrent access
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enable WAL mode: %w", err)
	}

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate database: %w", err)
	}

	return s, nil
}

// migrate creates or updates the database schema.
func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS principals (
		id TEXT PRIMARY KEY,
		account TEXT NOT NULL,
		device_id TEXT NOT NULL UNIQUE,
		created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
	);

	CREATE TABLE IF NOT EXISTS refresh_tokens (
		hash TEXT PRIMARY KEY,
		principal_id TEXT NOT NULL,
		expires_at DATETIME NOT NULL,
		FOREIGN KEY (principal_id) REFERENCES principals(id) ON DELETE CASCADE
	);

	CREATE INDEX IF NOT EXISTS idx_refresh_tokens_principal ON refresh_tokens(principal_id);
	CREATE INDEX IF NOT EXISTS idx_refresh_tokens_expires ON refresh_tokens(expires_at);
	`

	_, err := s.db.Exec(schema)
	return err
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// UpsertPrincipal returns the principal bound to deviceID, creating it on
// first pairing. Re-pairing the same device identity resolves to the same
// principal row.
func (s *Store) UpsertPrincipal(deviceID string) (*Principal, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id := ulid.Make().String()
	account := "device_" + deviceID

	// ON CONFLICT keeps the original row; the RETURNING clause hands back
	// whichever row ended up owning the device_id.
	row := s.db.QueryRow(`
		INSERT INTO principals (id, account, device_id)
		VALUES (?, ?, ?)
		ON CONFLICT(device_id) DO UPDATE SET device_id = excluded.device_id
		RETURNING id, account, device_id, created_at
	`, id, account, deviceID)

	var p Principal
	if err := row.Scan(&p.ID, &p.Account, &p.DeviceID, &p.CreatedAt); err != nil {
		return nil, fmt.Errorf("upsert principal: %w", err)
	}
	return &p, nil
}

// GetPrincipal retrieves a principal by ID.
func (s *Store) GetPrincipal(id string) (*Principal, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var p Principal
	err := s.db.QueryRow(`
		SELECT id, account, device_id, created_at FROM principals WHERE id = ?
	`, id).Scan(&p.ID, &p.Account, &p.DeviceID, &p.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &p, nil
}

// SaveRefreshToken stores a refresh-token hash for a principal.
func (s *Store) SaveRefreshToken(hash, principalID string, expiresAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.Exec(`
		INSERT INTO refresh_tokens (hash, principal_id, expires_at)
		VALUES (?, ?, ?)
		ON CONFLICT(hash) DO UPDATE SET expires_at = excluded.expires_at
	`, hash, principalID, expiresAt.UTC())
	return err
}

// GetRefreshToken looks up a refresh token by hash. Expired rows are
// deleted on access and reported as not found.
func (s *Store) GetRefreshToken(hash string) (*RefreshToken, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var t RefreshToken
	err := s.db.QueryRow(`
		SELECT hash, principal_id, expires_at FROM refresh_tokens WHERE hash = ?
	`, hash).Scan(&t.Hash, &t.PrincipalID, &t.ExpiresAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}

	if time.Now().After(t.ExpiresAt) {
		s.db.Exec("DELETE FROM refresh_tokens WHERE hash = ?", hash)
		return nil, ErrNotFound
	}

	return &t, nil
}

// DeleteRefreshToken removes a refresh token by hash.
func (s *Store) DeleteRefreshToken(hash string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.Exec("DELETE FROM refresh_tokens WHERE hash = ?", hash)
	return err
}

// PurgeExpiredTokens removes refresh tokens past their expiry.
func (s *Store) PurgeExpiredTokens() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.Exec("DELETE FROM refresh_tokens WHERE expires_at < ?", time.Now().UTC())
	return err
}
