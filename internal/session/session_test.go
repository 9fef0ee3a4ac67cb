package session

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/remotectl/agent/internal/store"
)

func newTestIssuer(t *testing.T) *Issuer {
	t.Helper()
	st, err := store.New(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	key := make([]byte, 32)
	copy(key, "0123456789abcdef0123456789abcdef")
	return NewIssuer(st, key)
}

func TestIssueReturnsDistinctTokens(t *testing.T) {
	iss := newTestIssuer(t)

	cred, err := iss.Issue("device-1")
	require.NoError(t, err)
	assert.NotEmpty(t, cred.Access)
	assert.NotEmpty(t, cred.Refresh)
	assert.NotEqual(t, cred.Access, cred.Refresh)
}

func TestAuthenticateAccessToken(t *testing.T) {
	iss := newTestIssuer(t)

	cred, err := iss.Issue("device-1")
	require.NoError(t, err)

	principalID, ok := iss.Authenticate(cred.Access)
	assert.True(t, ok)
	assert.NotEmpty(t, principalID)

	_, ok = iss.Authenticate("bogus")
	assert.False(t, ok)
}

func TestAccessTokenExpires(t *testing.T) {
	iss := newTestIssuer(t)
	now := time.Now()
	iss.now = func() time.Time { return now }

	cred, err := iss.Issue("device-1")
	require.NoError(t, err)

	now = now.Add(AccessTTL + time.Second)
	_, ok := iss.Authenticate(cred.Access)
	assert.False(t, ok)
}

func TestRefreshMintsNewAccess(t *testing.T) {
	iss := newTestIssuer(t)

	cred, err := iss.Issue("device-1")
	require.NoError(t, err)

	access, err := iss.Refresh(cred.Refresh)
	require.NoError(t, err)
	assert.NotEmpty(t, access)
	assert.NotEqual(t, cred.Access, access)

	principalID, ok := iss.Authenticate(access)
	assert.True(t, ok)

	original, ok := iss.Authenticate(cred.Access)
	assert.True(t, ok)
	assert.Equal(t, principalID, original)
}

func TestRefreshRejectsUnknownToken(t *testing.T) {
	iss := newTestIssuer(t)

	_, err := iss.Refresh("not-a-token")
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestRevokeInvalidatesRefresh(t *testing.T) {
	iss := newTestIssuer(t)

	cred, err := iss.Issue("device-1")
	require.NoError(t, err)

	require.NoError(t, iss.Revoke(cred.Refresh))

	_, err = iss.Refresh(cred.Refresh)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestRepairingSameDeviceSharesPrincipal(t *testing.T) {
	iss := newTestIssuer(t)

	first, err := iss.Issue("device-1")
	require.NoError(t, err)
	second, err := iss.Issue("device-1")
	require.NoError(t, err)

	p1, ok := iss.Authenticate(first.Access)
	require.True(t, ok)
	p2, ok := iss.Authenticate(second.Access)
	require.True(t, ok)
	assert.Equal(t, p1, p2)
}
