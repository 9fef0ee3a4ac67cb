package store

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := New(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestUpsertPrincipalIsIdempotent(t *testing.T) {
	s := newTestStore(t)

	first, err := s.UpsertPrincipal("laptop-1")
	require.NoError(t, err)
	assert.Equal(t, "device_laptop-1", first.Account)

	second, err := s.UpsertPrincipal("laptop-1")
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID, "re-pairing must resolve to the same principal")
}

func TestUpsertPrincipalDistinctDevices(t *testing.T) {
	s := newTestStore(t)

	a, err := s.UpsertPrincipal("device-a")
	require.NoError(t, err)
	b, err := s.UpsertPrincipal("device-b")
	require.NoError(t, err)

	assert.NotEqual(t, a.ID, b.ID)
}

func TestGetPrincipalNotFound(t *testing.T) {
	s := newTestStore(t)

	_, err := s.GetPrincipal("01JUNKJUNKJUNKJUNKJUNKJUNK")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestRefreshTokenRoundTrip(t *testing.T) {
	s := newTestStore(t)

	p, err := s.UpsertPrincipal("device-a")
	require.NoError(t, err)

	expires := time.Now().Add(time.Hour)
	require.NoError(t, s.SaveRefreshToken("hash-1", p.ID, expires))

	tok, err := s.GetRefreshToken("hash-1")
	require.NoError(t, err)
	assert.Equal(t, p.ID, tok.PrincipalID)

	require.NoError(t, s.DeleteRefreshToken("hash-1"))
	_, err = s.GetRefreshToken("hash-1")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestExpiredRefreshTokenEvictedOnAccess(t *testing.T) {
	s := newTestStore(t)

	p, err := s.UpsertPrincipal("device-a")
	require.NoError(t, err)

	require.NoError(t, s.SaveRefreshToken("stale", p.ID, time.Now().Add(-time.Minute)))

	_, err = s.GetRefreshToken("stale")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestPurgeExpiredTokens(t *testing.T) {
	s := newTestStore(t)

	p, err := s.UpsertPrincipal("device-a")
	require.NoError(t, err)

	require.NoError(t, s.SaveRefreshToken("stale", p.ID, time.Now().Add(-time.Minute)))
	require.NoError(t, s.SaveRefreshToken("live", p.ID, time.Now().Add(time.Hour)))

	require.NoError(t, s.PurgeExpiredTokens())

	_, err = s.GetRefreshToken("live")
	assert.NoError(t, err)
}
