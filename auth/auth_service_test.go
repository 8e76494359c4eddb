package auth_test

import (
	"bytes"
	"context"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/jrsteele09/go-oauth-engine/auth"
	"github.com/jrsteele09/go-oauth-engine/clients"
	clientmemrepo "github.com/jrsteele09/go-oauth-engine/clients/memrepo"
	"github.com/jrsteele09/go-oauth-engine/exchange"
	"github.com/jrsteele09/go-oauth-engine/internal/config"
	oautherrors "github.com/jrsteele09/go-oauth-engine/internal/errors"
	"github.com/jrsteele09/go-oauth-engine/oauthmodel"
	sessionmemrepo "github.com/jrsteele09/go-oauth-engine/sessions/memrepo"
	"github.com/jrsteele09/go-oauth-engine/store/memory"
	usermemrepo "github.com/jrsteele09/go-oauth-engine/users/memrepo"
)

const (
	testClientID     = "test-client-1"
	testClientSecret = "test-secret-1"
	testUserEmail    = "john.doe@example.com"
	testUserPassword = "password123"
	testRedirectURI  = "http://localhost:3000/callback"
)

type testFixture struct {
	userRepo   *usermemrepo.UserRepo
	clientRepo *clientmemrepo.ClientRepo
	store      *memory.Store
	engine     *auth.Engine
	now        time.Time
}

func setupTestFixture(t *testing.T) *testFixture {
	t.Helper()
	f := &testFixture{
		userRepo:   usermemrepo.New(),
		clientRepo: clientmemrepo.New(),
		now:        time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC),
	}
	clock := func() time.Time { return f.now }
	f.store = memory.New(memory.WithNowFunc(clock))

	settings := config.Default()
	settings.Seed.Clients = []config.SeedClient{{
		ID:           testClientID,
		Secret:       testClientSecret,
		RedirectURIs: []string{testRedirectURI},
		Scopes:       []string{"read"},
	}}
	settings.Seed.Users = []config.SeedUser{{ID: "user-1", Email: testUserEmail, Password: testUserPassword}}

	engine, err := auth.New(auth.Repos{
		Users:        f.userRepo,
		Clients:      f.clientRepo,
		Transactions: sessionmemrepo.New(settings.GetMaxTransactionAge(), sessionmemrepo.WithNowFunc(clock)),
	}, f.store, settings, auth.WithNowTime(clock))
	require.NoError(t, err)
	require.NoError(t, engine.Seed(context.Background(), settings))
	f.engine = engine
	return f
}

func TestNewRequiresDependencies(t *testing.T) {
	cfg := config.Default()
	st := memory.New()
	repos := auth.Repos{Users: usermemrepo.New(), Clients: clientmemrepo.New(), Transactions: sessionmemrepo.New(time.Minute)}

	_, err := auth.New(auth.Repos{Clients: repos.Clients, Transactions: repos.Transactions}, st, cfg)
	require.Error(t, err)
	_, err = auth.New(auth.Repos{Users: repos.Users, Transactions: repos.Transactions}, st, cfg)
	require.Error(t, err)
	_, err = auth.New(auth.Repos{Users: repos.Users, Clients: repos.Clients}, st, cfg)
	require.Error(t, err)
	_, err = auth.New(repos, nil, cfg)
	require.Error(t, err)
	_, err = auth.New(repos, st, nil)
	require.Error(t, err)

	engine, err := auth.New(repos, st, cfg)
	require.NoError(t, err)
	require.NotNil(t, engine.Exchange)
	require.NotNil(t, engine.Authorization)
}

func TestSeed(t *testing.T) {
	f := setupTestFixture(t)
	ctx := context.Background()

	client, err := f.clientRepo.Get(ctx, testClientID)
	require.NoError(t, err)
	require.NotEqual(t, testClientSecret, client.Secret)
	require.True(t, strings.HasPrefix(client.Secret, "$2"))
	require.True(t, client.VerifySecret(testClientSecret))

	user, err := f.userRepo.GetByEmail(ctx, testUserEmail)
	require.NoError(t, err)
	require.NotEqual(t, testUserPassword, user.PasswordHash)
	require.True(t, user.VerifyPassword(testUserPassword))
	require.Equal(t, f.now, user.DateJoined)
}

func TestSeedGeneratesMissingSecret(t *testing.T) {
	ctx := context.Background()
	clientRepo := clientmemrepo.New()
	var logs bytes.Buffer
	settings := config.Default()
	settings.Seed.Clients = []config.SeedClient{{ID: "generated", Scopes: []string{"read"}}}

	engine, err := auth.New(auth.Repos{
		Users:        usermemrepo.New(),
		Clients:      clientRepo,
		Transactions: sessionmemrepo.New(time.Minute),
	}, memory.New(), settings, auth.WithLogger(zerolog.New(&logs)))
	require.NoError(t, err)
	require.NoError(t, engine.Seed(ctx, settings))

	var entry struct {
		ClientID     string `json:"client_id"`
		ClientSecret string `json:"client_secret"`
	}
	require.NoError(t, json.Unmarshal(logs.Bytes(), &entry))
	require.Equal(t, "generated", entry.ClientID)
	require.Len(t, entry.ClientSecret, settings.GetClientSecretLength())

	client, err := clientRepo.Get(ctx, "generated")
	require.NoError(t, err)
	require.NotEqual(t, entry.ClientSecret, client.Secret)
	require.True(t, client.VerifySecret(entry.ClientSecret))
}

func TestSeedKeepsHashedSecret(t *testing.T) {
	f := setupTestFixture(t)
	ctx := context.Background()
	hash, err := clients.HashSecret("already-hashed")
	require.NoError(t, err)

	settings := config.Default()
	settings.Seed.Clients = []config.SeedClient{{ID: "hashed", Secret: hash}}
	require.NoError(t, f.engine.Seed(ctx, settings))

	client, err := f.clientRepo.Get(ctx, "hashed")
	require.NoError(t, err)
	require.Equal(t, hash, client.Secret)
	require.True(t, client.VerifySecret("already-hashed"))
}

func TestSeedReportsEveryFailure(t *testing.T) {
	f := setupTestFixture(t)
	settings := config.Default()
	settings.Seed.Users = []config.SeedUser{{Email: " "}, {Email: ""}}
	err := f.engine.Seed(context.Background(), settings)
	require.Error(t, err)
	require.Contains(t, err.Error(), "2 errors occurred")
}

func TestLogin(t *testing.T) {
	f := setupTestFixture(t)
	ctx := context.Background()

	user, err := f.engine.Login(ctx, testUserEmail, testUserPassword)
	require.NoError(t, err)
	require.Equal(t, "user-1", user.ID)

	_, err = f.engine.Login(ctx, testUserEmail, "wrong")
	require.ErrorIs(t, err, auth.UserPasswordsDontMatchErr)

	_, err = f.engine.Login(ctx, "nobody@example.com", testUserPassword)
	require.ErrorIs(t, err, auth.UserNotFoundErr)

	user.Blocked = true
	require.NoError(t, f.userRepo.Upsert(ctx, user))
	_, err = f.engine.Login(ctx, testUserEmail, testUserPassword)
	require.ErrorIs(t, err, auth.UserBlockedErr)
}

func TestAuthenticateClient(t *testing.T) {
	f := setupTestFixture(t)
	ctx := context.Background()

	client, err := f.engine.AuthenticateClient(ctx, exchange.ClientCredentials{ID: testClientID, Secret: testClientSecret})
	require.NoError(t, err)
	require.Equal(t, testClientID, client.ID)

	_, err = f.engine.AuthenticateClient(ctx, exchange.ClientCredentials{ID: testClientID, Secret: "nope"})
	require.ErrorIs(t, err, oautherrors.ErrInvalidClient)
}

func TestPasswordGrantRoundTrip(t *testing.T) {
	f := setupTestFixture(t)
	ctx := context.Background()

	issued, err := f.engine.Exchange.Exchange(ctx, oauthmodel.TokenRequest{
		GrantType:    oauthmodel.PasswordGrant,
		ClientID:     testClientID,
		ClientSecret: testClientSecret,
		Username:     testUserEmail,
		Password:     testUserPassword,
	})
	require.NoError(t, err)

	client, err := f.clientRepo.Get(ctx, testClientID)
	require.NoError(t, err)
	resp, err := f.engine.Introspection.Introspect(ctx, client, issued.Access.Value)
	require.NoError(t, err)
	require.True(t, resp.Active)
	require.Equal(t, testUserEmail, resp.Username)

	require.NoError(t, f.engine.Revocation.Revoke(ctx, client, issued.Refresh.Value, ""))
	resp, err = f.engine.Introspection.Introspect(ctx, client, issued.Access.Value)
	require.NoError(t, err)
	require.False(t, resp.Active)
}

func TestReapExpired(t *testing.T) {
	f := setupTestFixture(t)
	ctx := context.Background()
	user, err := f.userRepo.GetByEmail(ctx, testUserEmail)
	require.NoError(t, err)
	client, err := f.clientRepo.Get(ctx, testClientID)
	require.NoError(t, err)

	_, err = f.engine.Grants.GrantCode(ctx, client, testRedirectURI, user, []string{"read"})
	require.NoError(t, err)

	f.now = f.now.Add(time.Hour)
	credentials, transactions, err := f.engine.ReapExpired(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, credentials)
	require.Equal(t, 0, transactions)
}
