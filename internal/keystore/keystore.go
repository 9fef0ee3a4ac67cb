// Package keystore persists the agent's token-signing key. The key is
// encrypted at rest using AES-256-GCM with a wrapping key derived from the
// machine ID using Argon2id, so a copied data directory is useless on
// another host.
package keystore

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"golang.org/x/crypto/argon2"
)

const (
	// Argon2id parameters (RFC 9106 recommendations)
	argonTime    = 1
	argonMemory  = 64 * 1024 // 64 MB
	argonThreads = 4
	argonKeyLen  = 32 // AES-256

	saltLen  = 32
	nonceLen = 12 // GCM standard nonce size

	// KeyLen is the size of the token-signing key in bytes.
	KeyLen = 32

	keyFile  = "token.key.enc"
	saltFile = "salt"
)

// Store manages the encrypted token-signing key under a data directory.
type Store struct {
	dataDir   string
	machineID func() ([]byte, error)
}

// NewStore creates a keystore rooted at dataDir.
func NewStore(dataDir string) *Store {
	return &Store{dataDir: dataDir, machineID: getMachineID}
}

// Load returns the token-signing key, generating and sealing a fresh one on
// first use.
func (s *Store) Load() ([]byte, error) {
	if err := os.MkdirAll(s.dataDir, 0700); err != nil {
		return nil, fmt.Errorf("create data directory: %w", err)
	}

	keyPath := filepath.Join(s.dataDir, keyFile)
	ciphertext, err := os.ReadFile(keyPath)
	if err == nil {
		return s.open(ciphertext)
	}
	if !os.IsNotExist(err) {
		return nil, fmt.Errorf("read key file: %w", err)
	}

	key := make([]byte, KeyLen)
	if _, err := rand.Read(key); err != nil {
		return nil, fmt.Errorf("generate key: %w", err)
	}
	if err := s.seal(key, keyPath); err != nil {
		return nil, err
	}
	return key, nil
}

// Delete removes the sealed key and salt.
func (s *Store) Delete() error {
	os.Remove(filepath.Join(s.dataDir, keyFile))
	os.Remove(filepath.Join(s.dataDir, saltFile))
	return nil
}

func (s *Store) seal(key []byte, keyPath string) error {
	salt, err := s.loadOrCreateSalt()
	if err != nil {
		return fmt.Errorf("load/create salt: %w", err)
	}

	kek, err := s.deriveKey(salt)
	if err != nil {
		return fmt.Errorf("derive key: %w", err)
	}

	ciphertext, err := encrypt(kek, key)
	if err != nil {
		return fmt.Errorf("encrypt key: %w", err)
	}

	if err := os.WriteFile(keyPath, ciphertext, 0600); err != nil {
		return fmt.Errorf("write key file: %w", err)
	}
	return nil
}

func (s *Store) open(ciphertext []byte) ([]byte, error) {
	salt, err := os.ReadFile(filepath.Join(s.dataDir, saltFile))
	if err != nil {
		return nil, fmt.Errorf("read salt: %w", err)
	}

	kek, err := s.deriveKey(salt)
	if err != nil {
		return nil, fmt.Errorf("derive key: %w", err)
	}

	key, err := decrypt(kek, ciphertext)
	if err != nil {
		return nil, fmt.Errorf("decrypt key: %w", err)
	}
	if len(key) != KeyLen {
		return nil, errors.New("stored key has wrong length")
	}
	return key, nil
}

// loadOrCreateSalt loads existing salt or creates a new one.
func (s *Store) loadOrCreateSalt() ([]byte, error) {
	saltPath := filepath.Join(s.dataDir, saltFile)

	salt, err := os.ReadFile(saltPath)
	if err == nil && len(salt) == saltLen {
		return salt, nil
	}

	salt = make([]byte, saltLen)
	if _, err := rand.Read(salt); err != nil {
		return nil, fmt.Errorf("generate salt: %w", err)
	}

	if err := os.WriteFile(saltPath, salt, 0600); err != nil {
		return nil, fmt.Errorf("write salt: %w", err)
	}

	return salt, nil
}

// deriveKey derives the wrapping key from the machine ID and salt.
func (s *Store) deriveKey(salt []byte) ([]byte, error) {
	machineID, err := s.machineID()
	if err != nil {
		return nil, fmt.Errorf("get machine ID: %w", err)
	}
	return argon2.IDKey(machineID, salt, argonTime, argonMemory, argonThreads, argonKeyLen), nil
}

// getMachineID reads the machine ID from the system.
func getMachineID() ([]byte, error) {
	// Try /etc/machine-id first (systemd)
	id, err := os.ReadFile("/etc/machine-id")
	if err == nil && len(id) > 0 {
		return id, nil
	}

	// Fallback to /var/lib/dbus/machine-id
	id, err = os.ReadFile("/var/lib/dbus/machine-id")
	if err == nil && len(id) > 0 {
		return id, nil
	}

	return nil, errors.New("machine ID not found")
}

// encrypt encrypts plaintext using AES-256-GCM, nonce prepended.
func encrypt(key, plaintext []byte) ([]byte, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}

	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}

	nonce := make([]byte, nonceLen)
	if _, err := rand.Read(nonce); err != nil {
		return nil, err
	}

	return gcm.Seal(nonce, nonce, plaintext, nil), nil
}

// decrypt decrypts ciphertext produced by encrypt.
func decrypt(key, ciphertext []byte) ([]byte, error) {
	if len(ciphertext) < nonceLen {
		return nil, errors.New("ciphertext too short")
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}

	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}

	nonce := ciphertext[:nonceLen]
	return gcm.Open(nil, nonce, ciphertext[nonceLen:], nil)
}
