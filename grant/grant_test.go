package grant_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/jrsteele09/go-oauth-engine/clients"
	"github.com/jrsteele09/go-oauth-engine/grant"
	"github.com/jrsteele09/go-oauth-engine/internal/config"
	"github.com/jrsteele09/go-oauth-engine/store"
	"github.com/jrsteele09/go-oauth-engine/store/memory"
	"github.com/jrsteele09/go-oauth-engine/token"
	"github.com/jrsteele09/go-oauth-engine/users"
)

const (
	testClientID    = "c1"
	testUserID      = "u1"
	testRedirectURI = "https://app/cb"
)

type testFixture struct {
	store  *memory.Store
	engine *grant.Engine
	client *clients.Client
	user   *users.User
	now    time.Time
}

func setupTestFixture(t *testing.T) *testFixture {
	t.Helper()
	f := &testFixture{
		now:    time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC),
		client: &clients.Client{ID: testClientID, RedirectURIs: []string{testRedirectURI}, Scopes: []string{"read"}},
		user:   &users.User{ID: testUserID, Email: "u1@example.com"},
	}
	nowFunc := func() time.Time { return f.now }
	f.store = memory.New(memory.WithNowFunc(nowFunc))

	cfg := config.Default()
	minter := token.NewMinter(token.NewGenerator(cfg), cfg, token.WithNowFunc(nowFunc))
	f.engine = grant.New(f.store, minter)
	return f
}

func TestGrantCode(t *testing.T) {
	ctx := context.Background()
	f := setupTestFixture(t)

	code, err := f.engine.GrantCode(ctx, f.client, testRedirectURI, f.user, []string{"read"})
	require.NoError(t, err)
	require.Len(t, code, 50)

	stored, err := f.store.FindAuthorizationCode(ctx, code)
	require.NoError(t, err)
	require.Equal(t, testClientID, stored.ClientID)
	require.Equal(t, testUserID, stored.UserID)
	require.Equal(t, testRedirectURI, stored.RedirectURI)
	require.Equal(t, []string{"read"}, stored.Scopes)
	require.Equal(t, f.now.Add(120*time.Second), stored.ExpiresAt)

	f.now = f.now.Add(120 * time.Second)
	_, err = f.store.FindAuthorizationCode(ctx, code)
	require.True(t, errors.Is(err, store.ErrNotFound))
}

func TestGrantToken(t *testing.T) {
	ctx := context.Background()
	f := setupTestFixture(t)

	value, expiresAt, err := f.engine.GrantToken(ctx, f.client, f.user, []string{"read"})
	require.NoError(t, err)
	require.Len(t, value, 100)
	require.Equal(t, f.now.Add(180*time.Second), expiresAt)

	at, err := f.store.FindAccessToken(ctx, value)
	require.NoError(t, err)
	require.Equal(t, store.GrantTypeToken, at.GrantType)
	require.Equal(t, testUserID, at.UserID)

	// Implicit tokens are never paired with a refresh token.
	f.now = f.now.Add(180 * time.Second)
	removed, err := f.store.DeleteExpired(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, removed)
}

type failingStore struct {
	store.Store
	err error
}

func (s *failingStore) CreateAuthorizationCode(context.Context, *store.AuthorizationCode) error {
	return s.err
}

func (s *failingStore) CreateTokens(context.Context, *store.TokenPair) error {
	return s.err
}

func TestGrantPropagatesStoreFailure(t *testing.T) {
	ctx := context.Background()
	storeErr := errors.New("store unavailable")
	cfg := config.Default()
	engine := grant.New(&failingStore{err: storeErr}, token.NewMinter(token.NewGenerator(cfg), cfg))
	client := &clients.Client{ID: testClientID}
	user := &users.User{ID: testUserID}

	_, err := engine.GrantCode(ctx, client, testRedirectURI, user, []string{"read"})
	require.True(t, errors.Is(err, storeErr))

	_, _, err = engine.GrantToken(ctx, client, user, []string{"read"})
	require.True(t, errors.Is(err, storeErr))
}
