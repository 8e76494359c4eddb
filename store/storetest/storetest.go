// Package storetest is the conformance suite every store.Store backend runs.
package storetest

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/suite"

	"github.com/jrsteele09/go-oauth-engine/store"
)

// Clock is a manually advanced time source shared between a suite and the store under test.
type Clock struct {
	mu  sync.Mutex
	now time.Time
}

func NewClock() *Clock {
	return &Clock{now: time.UnixMilli(1_700_000_000_000)}
}

func (c *Clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *Clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// Factory opens a fresh, empty store reading time from now.
type Factory func(t *testing.T, now func() time.Time) store.Store

// Suite exercises the store.Store contract. Embed it or run it with Run.
type Suite struct {
	suite.Suite
	NewStore Factory

	store store.Store
	clock *Clock
	ctx   context.Context
}

// Run executes the conformance suite against the backend built by factory.
func Run(t *testing.T, factory Factory) {
	suite.Run(t, &Suite{NewStore: factory})
}

func (s *Suite) SetupTest() {
	s.clock = NewClock()
	s.ctx = context.Background()
	s.store = s.NewStore(s.T(), s.clock.Now)
}

func (s *Suite) TearDownTest() {
	s.Require().NoError(s.store.Close())
}

const (
	codeTTL    = 120 * time.Second
	accessTTL  = 180 * time.Second
	refreshTTL = 14 * 24 * time.Hour
)

func (s *Suite) newCode(value string) *store.AuthorizationCode {
	return &store.AuthorizationCode{
		Value:       value,
		ClientID:    "c1",
		UserID:      "u1",
		RedirectURI: "https://app/cb",
		Scopes:      []string{"read"},
		ExpiresAt:   s.clock.Now().Add(codeTTL),
	}
}

func (s *Suite) newPair(grantType store.GrantType, withRefresh bool) *store.TokenPair {
	access := store.AccessToken{
		ID:        uuid.New().String(),
		Value:     "access-" + uuid.New().String(),
		ClientID:  "c1",
		UserID:    "u1",
		Scopes:    []string{"read", "write"},
		GrantType: grantType,
		ExpiresAt: s.clock.Now().Add(accessTTL),
	}
	pair := &store.TokenPair{Access: access}
	if withRefresh {
		pair.Refresh = &store.RefreshToken{
			Value:         "refresh-" + uuid.New().String(),
			AccessTokenID: access.ID,
			ExpiresAt:     s.clock.Now().Add(refreshTTL),
		}
	}
	return pair
}

func (s *Suite) requireNotFound(err error) {
	s.T().Helper()
	s.Require().Error(err)
	s.Require().True(errors.Is(err, store.ErrNotFound), "expected ErrNotFound, got %v", err)
}

func (s *Suite) TestAuthorizationCodeLifecycle() {
	require := s.Require()
	code := s.newCode("code-1")
	require.NoError(s.store.CreateAuthorizationCode(s.ctx, code))

	found, err := s.store.FindAuthorizationCode(s.ctx, "code-1")
	require.NoError(err)
	require.Equal("c1", found.ClientID)
	require.Equal("u1", found.UserID)
	require.Equal("https://app/cb", found.RedirectURI)
	require.ElementsMatch([]string{"read"}, found.Scopes)
	require.Equal(code.ExpiresAt.UnixMilli(), found.ExpiresAt.UnixMilli())

	pair := s.newPair(store.GrantTypeCode, true)
	require.NoError(s.store.RedeemAuthorizationCode(s.ctx, "code-1", pair))

	_, err = s.store.FindAuthorizationCode(s.ctx, "code-1")
	s.requireNotFound(err)
	s.requireNotFound(s.store.RedeemAuthorizationCode(s.ctx, "code-1", s.newPair(store.GrantTypeCode, true)))

	at, err := s.store.FindAccessToken(s.ctx, pair.Access.Value)
	require.NoError(err)
	require.Equal(pair.Access.ID, at.ID)
	require.Equal(store.GrantTypeCode, at.GrantType)
	require.ElementsMatch([]string{"read", "write"}, at.Scopes)

	grant, err := s.store.FindRefreshToken(s.ctx, pair.Refresh.Value)
	require.NoError(err)
	require.Equal(pair.Access.Value, grant.Access.Value)
}

func (s *Suite) TestUnknownCredentials() {
	_, err := s.store.FindAuthorizationCode(s.ctx, "missing")
	s.requireNotFound(err)
	_, err = s.store.FindAccessToken(s.ctx, "missing")
	s.requireNotFound(err)
	_, err = s.store.FindRefreshToken(s.ctx, "missing")
	s.requireNotFound(err)
	s.requireNotFound(s.store.RedeemAuthorizationCode(s.ctx, "missing", s.newPair(store.GrantTypeCode, true)))
	s.requireNotFound(s.store.RevokeAccessToken(s.ctx, "missing"))
	s.requireNotFound(s.store.RevokeRefreshToken(s.ctx, "missing"))
}

func (s *Suite) TestAuthorizationCodeExpiry() {
	s.Require().NoError(s.store.CreateAuthorizationCode(s.ctx, s.newCode("code-1")))
	s.clock.Advance(codeTTL)

	_, err := s.store.FindAuthorizationCode(s.ctx, "code-1")
	s.requireNotFound(err)
	s.requireNotFound(s.store.RedeemAuthorizationCode(s.ctx, "code-1", s.newPair(store.GrantTypeCode, true)))
}

func (s *Suite) TestFailedRedeemPersistsNothing() {
	pair := s.newPair(store.GrantTypeCode, true)
	s.requireNotFound(s.store.RedeemAuthorizationCode(s.ctx, "missing", pair))

	_, err := s.store.FindAccessToken(s.ctx, pair.Access.Value)
	s.requireNotFound(err)
	_, err = s.store.FindRefreshToken(s.ctx, pair.Refresh.Value)
	s.requireNotFound(err)
}

func (s *Suite) TestConcurrentRedeem() {
	const attempts = 16
	s.Require().NoError(s.store.CreateAuthorizationCode(s.ctx, s.newCode("code-1")))

	pairs := make([]*store.TokenPair, attempts)
	for i := range pairs {
		pairs[i] = s.newPair(store.GrantTypeCode, true)
	}

	var (
		wg        sync.WaitGroup
		successes atomic.Int32
		notFound  atomic.Int32
		start     = make(chan struct{})
	)
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func(pair *store.TokenPair) {
			defer wg.Done()
			<-start
			err := s.store.RedeemAuthorizationCode(s.ctx, "code-1", pair)
			switch {
			case err == nil:
				successes.Add(1)
			case errors.Is(err, store.ErrNotFound):
				notFound.Add(1)
			}
		}(pairs[i])
	}
	close(start)
	wg.Wait()

	s.Require().Equal(int32(1), successes.Load())
	s.Require().Equal(int32(attempts-1), notFound.Load())
}

func (s *Suite) TestCreateTokensWithoutRefresh() {
	pair := s.newPair(store.GrantTypeClientCredentials, false)
	pair.Access.UserID = ""
	s.Require().NoError(s.store.CreateTokens(s.ctx, pair))

	at, err := s.store.FindAccessToken(s.ctx, pair.Access.Value)
	s.Require().NoError(err)
	s.Require().Empty(at.UserID)
	s.Require().Equal(store.GrantTypeClientCredentials, at.GrantType)
}

func (s *Suite) TestAccessTokenExpiry() {
	pair := s.newPair(store.GrantTypePassword, true)
	s.Require().NoError(s.store.CreateTokens(s.ctx, pair))

	s.clock.Advance(accessTTL - time.Second)
	_, err := s.store.FindAccessToken(s.ctx, pair.Access.Value)
	s.Require().NoError(err)

	s.clock.Advance(time.Second)
	_, err = s.store.FindAccessToken(s.ctx, pair.Access.Value)
	s.requireNotFound(err)

	// The refresh token still resolves its lapsed access token.
	grant, err := s.store.FindRefreshToken(s.ctx, pair.Refresh.Value)
	s.Require().NoError(err)
	s.Require().Equal(pair.Access.ID, grant.Access.ID)
	s.Require().Equal(store.GrantTypePassword, grant.Access.GrantType)
	s.Require().Equal("u1", grant.Access.UserID)
}

func (s *Suite) TestFindAccessTokensByUserClient() {
	require := s.Require()
	mine := s.newPair(store.GrantTypeCode, true)
	otherClient := s.newPair(store.GrantTypeCode, true)
	otherClient.Access.ClientID = "c2"
	otherUser := s.newPair(store.GrantTypeCode, true)
	otherUser.Access.UserID = "u2"
	shortLived := s.newPair(store.GrantTypeToken, false)
	shortLived.Access.ExpiresAt = s.clock.Now().Add(time.Second)

	for _, p := range []*store.TokenPair{mine, otherClient, otherUser, shortLived} {
		require.NoError(s.store.CreateTokens(s.ctx, p))
	}

	tokens, err := s.store.FindAccessTokensByUserClient(s.ctx, "u1", "c1")
	require.NoError(err)
	require.Len(tokens, 2)

	s.clock.Advance(time.Second)
	tokens, err = s.store.FindAccessTokensByUserClient(s.ctx, "u1", "c1")
	require.NoError(err)
	require.Len(tokens, 1)
	require.Equal(mine.Access.Value, tokens[0].Value)

	tokens, err = s.store.FindAccessTokensByUserClient(s.ctx, "u3", "c1")
	require.NoError(err)
	require.Empty(tokens)
}

func (s *Suite) TestRotateRefreshToken() {
	require := s.Require()
	first := s.newPair(store.GrantTypeCode, true)
	require.NoError(s.store.CreateTokens(s.ctx, first))

	grant, err := s.store.FindRefreshToken(s.ctx, first.Refresh.Value)
	require.NoError(err)

	second := s.newPair(store.GrantTypeCode, true)
	require.NoError(s.store.RotateRefreshToken(s.ctx, grant, second))

	_, err = s.store.FindAccessToken(s.ctx, first.Access.Value)
	s.requireNotFound(err)
	_, err = s.store.FindRefreshToken(s.ctx, first.Refresh.Value)
	s.requireNotFound(err)
	s.requireNotFound(s.store.RotateRefreshToken(s.ctx, grant, s.newPair(store.GrantTypeCode, true)))

	_, err = s.store.FindAccessToken(s.ctx, second.Access.Value)
	require.NoError(err)
	grant, err = s.store.FindRefreshToken(s.ctx, second.Refresh.Value)
	require.NoError(err)
	require.Equal(second.Access.ID, grant.Access.ID)
}

func (s *Suite) TestRotateExpiredRefreshToken() {
	first := s.newPair(store.GrantTypeCode, true)
	s.Require().NoError(s.store.CreateTokens(s.ctx, first))
	grant, err := s.store.FindRefreshToken(s.ctx, first.Refresh.Value)
	s.Require().NoError(err)

	s.clock.Advance(refreshTTL)
	_, err = s.store.FindRefreshToken(s.ctx, first.Refresh.Value)
	s.requireNotFound(err)
	s.requireNotFound(s.store.RotateRefreshToken(s.ctx, grant, s.newPair(store.GrantTypeCode, true)))
}

func (s *Suite) TestConcurrentRotate() {
	const attempts = 8
	first := s.newPair(store.GrantTypeCode, true)
	s.Require().NoError(s.store.CreateTokens(s.ctx, first))
	grant, err := s.store.FindRefreshToken(s.ctx, first.Refresh.Value)
	s.Require().NoError(err)

	var (
		wg        sync.WaitGroup
		successes atomic.Int32
		start     = make(chan struct{})
	)
	for i := 0; i < attempts; i++ {
		pair := s.newPair(store.GrantTypeCode, true)
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			if err := s.store.RotateRefreshToken(s.ctx, grant, pair); err == nil {
				successes.Add(1)
			}
		}()
	}
	close(start)
	wg.Wait()

	s.Require().Equal(int32(1), successes.Load())
}

func (s *Suite) TestRevokeAccessToken() {
	pair := s.newPair(store.GrantTypeCode, true)
	s.Require().NoError(s.store.CreateTokens(s.ctx, pair))

	s.Require().NoError(s.store.RevokeAccessToken(s.ctx, pair.Access.Value))
	_, err := s.store.FindAccessToken(s.ctx, pair.Access.Value)
	s.requireNotFound(err)
	_, err = s.store.FindRefreshToken(s.ctx, pair.Refresh.Value)
	s.requireNotFound(err)
}

func (s *Suite) TestRevokeRefreshToken() {
	pair := s.newPair(store.GrantTypeCode, true)
	s.Require().NoError(s.store.CreateTokens(s.ctx, pair))

	s.Require().NoError(s.store.RevokeRefreshToken(s.ctx, pair.Refresh.Value))
	_, err := s.store.FindRefreshToken(s.ctx, pair.Refresh.Value)
	s.requireNotFound(err)
	_, err = s.store.FindAccessToken(s.ctx, pair.Access.Value)
	s.requireNotFound(err)
}

func (s *Suite) TestDeleteExpired() {
	require := s.Require()
	require.NoError(s.store.CreateAuthorizationCode(s.ctx, s.newCode("code-1")))
	implicit := s.newPair(store.GrantTypeToken, false)
	require.NoError(s.store.CreateTokens(s.ctx, implicit))
	refreshable := s.newPair(store.GrantTypeCode, true)
	require.NoError(s.store.CreateTokens(s.ctx, refreshable))

	s.clock.Advance(accessTTL)
	removed, err := s.store.DeleteExpired(s.ctx)
	require.NoError(err)
	require.Equal(2, removed)

	// The lapsed access token survives while its refresh token can still rotate.
	_, err = s.store.FindRefreshToken(s.ctx, refreshable.Refresh.Value)
	require.NoError(err)

	s.clock.Advance(refreshTTL)
	removed, err = s.store.DeleteExpired(s.ctx)
	require.NoError(err)
	require.Equal(2, removed)
}

func (s *Suite) TestCanceledContext() {
	ctx, cancel := context.WithCancel(s.ctx)
	cancel()
	s.Require().Error(s.store.CreateAuthorizationCode(ctx, s.newCode("code-1")))
	_, err := s.store.FindAccessToken(ctx, "anything")
	s.Require().Error(err)
}

func (s *Suite) TestDistinctValues() {
	for i := 0; i < 5; i++ {
		s.Require().NoError(s.store.CreateAuthorizationCode(s.ctx, s.newCode(fmt.Sprintf("code-%d", i))))
	}
	s.Require().Error(s.store.CreateAuthorizationCode(s.ctx, s.newCode("code-0")))
}
