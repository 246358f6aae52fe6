package identity

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"relay-client/core/engine"
	"relay-client/core/errs"
	"relay-client/core/identity/identitytest"
	"relay-client/core/prefs"
)

func newManager(t *testing.T) (*Manager, *prefs.MemoryStore, *identitytest.FakeAPI) {
	t.Helper()
	store := prefs.NewMemoryStore()
	fake := identitytest.New()
	m := NewManager(store, func(*engine.NetworkSpace) API { return fake })
	return m, store, fake
}

func TestInitialize_IdempotentPerSpace(t *testing.T) {
	m, _, _ := newManager(t)
	ctx := context.Background()

	a, err := m.Initialize(ctx, "/data", "ur.network", "main")
	require.NoError(t, err)
	b, err := m.Initialize(ctx, "/data", "ur.network", "main")
	require.NoError(t, err)
	c, err := m.Initialize(ctx, "/data", "ur.network", "beta")
	require.NoError(t, err)

	assert.Same(t, a, b)
	assert.NotSame(t, a, c)
	assert.Equal(t, "https://api.bringyour.com", a.NetworkSpace().Values.APIURL)
}

func TestInitialize_RestoresSessionCredential(t *testing.T) {
	m, store, fake := newManager(t)
	ctx := context.Background()
	require.NoError(t, prefs.Set(ctx, store, prefs.KeyByJwt, "persisted"))

	_, err := m.Initialize(ctx, "/data", "ur.network", "main")

	require.NoError(t, err)
	assert.Equal(t, "persisted", fake.CurrentByJwt())
}

func TestUpdateNetworkSpace(t *testing.T) {
	m, _, _ := newManager(t)
	ctx := context.Background()
	s, err := m.Initialize(ctx, "/data", "ur.network", "main")
	require.NoError(t, err)

	m.UpdateNetworkSpace("ur.network", "main", func(v *engine.NetworkSpaceValues) {
		v.APIURL = "http://localhost:8080"
	})
	assert.Equal(t, "http://localhost:8080", s.NetworkSpace().Values.APIURL)

	m.UpdateNetworkSpace("ur.network", "beta", func(v *engine.NetworkSpaceValues) { v.Wallet = "solana" })
	beta, err := m.Initialize(ctx, "/data", "ur.network", "beta")
	require.NoError(t, err)
	assert.Equal(t, "solana", beta.NetworkSpace().Values.Wallet)
}

func TestExchangeForSessionCredential(t *testing.T) {
	m, store, fake := newManager(t)
	ctx := context.Background()
	s, err := m.Initialize(ctx, "/data", "ur.network", "main")
	require.NoError(t, err)

	byJwt, err := s.ExchangeForSessionCredential(ctx, "client-jwt")
	require.NoError(t, err)
	assert.Equal(t, "session-jwt", byJwt)
	assert.Equal(t, "session-jwt", fake.CurrentByJwt())

	stored, ok, err := prefs.Get[string](ctx, store, prefs.KeyByJwt)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "session-jwt", stored)

	fake.Set(func(f *identitytest.FakeAPI) { f.ExchangeErr = errors.New("unreachable") })
	_, err = s.ExchangeForSessionCredential(ctx, "client-jwt")
	assert.True(t, errors.Is(err, errs.ErrTransport))
}

func TestCommitCredentials_FailedWrite(t *testing.T) {
	m, store, fake := newManager(t)
	ctx := context.Background()
	s, err := m.Initialize(ctx, "/data", "ur.network", "main")
	require.NoError(t, err)

	first := Credentials{ByJwt: "session-1", ClientJwt: "client-1"}
	require.NoError(t, s.CommitCredentials(ctx, first))
	assert.Equal(t, "session-1", fake.CurrentByJwt())

	store.FailWrites(errors.New("read-only filesystem"))
	err = s.CommitCredentials(ctx, Credentials{ByJwt: "session-2", ClientJwt: "client-2"})
	assert.True(t, errors.Is(err, errs.ErrPersistence))

	stored, err := s.Credentials(ctx)
	require.NoError(t, err)
	assert.Equal(t, first, stored)
	assert.Equal(t, "session-1", fake.CurrentByJwt())
}

func TestRestoreCredentials_DeletesAbsentValues(t *testing.T) {
	m, store, fake := newManager(t)
	ctx := context.Background()
	s, err := m.Initialize(ctx, "/data", "ur.network", "main")
	require.NoError(t, err)

	s.StageByJwt("rejected")
	require.NoError(t, s.CommitCredentials(ctx, Credentials{ByJwt: "rejected", ClientJwt: "client"}))

	require.NoError(t, s.RestoreCredentials(ctx, Credentials{}))

	_, ok, err := prefs.Get[string](ctx, store, prefs.KeyByJwt)
	require.NoError(t, err)
	assert.False(t, ok)
	_, ok, err = s.CachedClientJwt(ctx)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Empty(t, fake.CurrentByJwt())
}

func TestLogout_RemoteConfirmedFirst(t *testing.T) {
	m, store, fake := newManager(t)
	ctx := context.Background()
	s, err := m.Initialize(ctx, "/data", "ur.network", "main")
	require.NoError(t, err)
	require.NoError(t, s.CommitCredentials(ctx, Credentials{ByJwt: "session-jwt", ClientJwt: "client-jwt"}))

	fake.Set(func(f *identitytest.FakeAPI) { f.LogoutErr = errors.New("503") })
	err = s.Logout(ctx)
	require.Error(t, err)
	_, ok, _ := s.CachedClientJwt(ctx)
	assert.True(t, ok, "credentials must survive an unconfirmed logout")

	fake.Set(func(f *identitytest.FakeAPI) { f.LogoutErr = nil })
	require.NoError(t, s.Logout(ctx))
	_, ok, _ = s.CachedClientJwt(ctx)
	assert.False(t, ok)
	_, ok, _ = prefs.Get[string](ctx, store, prefs.KeyByJwt)
	assert.False(t, ok)
	assert.Empty(t, fake.CurrentByJwt())
}

func TestLogout_FailedWriteKeepsBothCredentials(t *testing.T) {
	m, store, fake := newManager(t)
	ctx := context.Background()
	s, err := m.Initialize(ctx, "/data", "ur.network", "main")
	require.NoError(t, err)
	creds := Credentials{ByJwt: "session-jwt", ClientJwt: "client-jwt"}
	require.NoError(t, s.CommitCredentials(ctx, creds))

	store.FailWrites(errors.New("disk full"))
	err = s.Logout(ctx)
	assert.True(t, errors.Is(err, errs.ErrPersistence))

	stored, err := s.Credentials(ctx)
	require.NoError(t, err)
	assert.Equal(t, creds, stored)
	assert.Equal(t, "session-jwt", fake.CurrentByJwt())
}

func TestDeleteAccount_RejectsConcurrent(t *testing.T) {
	m, _, fake := newManager(t)
	ctx := context.Background()
	s, err := m.Initialize(ctx, "/data", "ur.network", "main")
	require.NoError(t, err)

	block := make(chan struct{})
	fake.Set(func(f *identitytest.FakeAPI) { f.DeleteBlock = block })

	first := make(chan error, 1)
	go func() { first <- s.DeleteAccount(ctx) }()
	require.Eventually(t, s.Deleting, time.Second, time.Millisecond)

	err = s.DeleteAccount(ctx)
	assert.True(t, errors.Is(err, errs.ErrInvalidState))
	assert.True(t, errors.Is(err, ErrDeleteInProgress))

	close(block)
	require.NoError(t, <-first)
	assert.False(t, s.Deleting())
}

func TestParseClaims(t *testing.T) {
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"guest_mode":   true,
		"network_id":   "net-1",
		"network_name": "alice",
	})
	signed, err := token.SignedString([]byte("irrelevant"))
	require.NoError(t, err)

	claims, err := ParseClaims(signed)

	require.NoError(t, err)
	assert.True(t, claims.GuestMode)
	assert.Equal(t, "net-1", claims.NetworkID)
	assert.Equal(t, "alice", claims.NetworkName)

	_, err = ParseClaims("not-a-jwt")
	assert.Error(t, err)
}
