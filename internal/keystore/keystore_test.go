package keystore

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s := NewStore(t.TempDir())
	s.machineID = func() ([]byte, error) { return []byte("test-machine-id"), nil }
	return s
}

func TestLoadCreatesAndReloadsKey(t *testing.T) {
	s := newTestStore(t)

	key, err := s.Load()
	require.NoError(t, err)
	require.Len(t, key, KeyLen)

	again, err := s.Load()
	require.NoError(t, err)
	assert.Equal(t, key, again, "second load must return the same key")
}

func TestKeyIsEncryptedOnDisk(t *testing.T) {
	s := newTestStore(t)

	key, err := s.Load()
	require.NoError(t, err)

	raw, err := os.ReadFile(filepath.Join(s.dataDir, keyFile))
	require.NoError(t, err)
	assert.NotContains(t, string(raw), string(key))
}

func TestLoadFailsOnDifferentMachine(t *testing.T) {
	s := newTestStore(t)

	_, err := s.Load()
	require.NoError(t, err)

	s.machineID = func() ([]byte, error) { return []byte("other-machine"), nil }
	_, err = s.Load()
	assert.Error(t, err)
}

func TestDeleteRemovesKeyMaterial(t *testing.T) {
	s := newTestStore(t)

	_, err := s.Load()
	require.NoError(t, err)

	require.NoError(t, s.Delete())

	_, err = os.Stat(filepath.Join(s.dataDir, keyFile))
	assert.True(t, os.IsNotExist(err))
}
