package token

import (
	"time"

	"github.com/google/uuid"

	"github.com/jrsteele09/go-oauth-engine/internal/config"
	"github.com/jrsteele09/go-oauth-engine/store"
)

// Minter builds credential records with fresh values and configured expiries.
// It does not persist anything.
type Minter struct {
	generator *Generator
	config    config.OAuthConfig
	nowFunc   func() time.Time
	newID     func() string
}

type MinterOption func(*Minter)

func WithNowFunc(now func() time.Time) MinterOption {
	return func(m *Minter) {
		m.nowFunc = now
	}
}

// WithIDFunc replaces the uuid source used for access token row ids.
func WithIDFunc(newID func() string) MinterOption {
	return func(m *Minter) {
		m.newID = newID
	}
}

func NewMinter(generator *Generator, cfg config.OAuthConfig, opts ...MinterOption) *Minter {
	m := &Minter{
		generator: generator,
		config:    cfg,
		nowFunc:   time.Now,
		newID:     func() string { return uuid.New().String() },
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

func (m *Minter) Now() time.Time {
	return m.nowFunc()
}

func (m *Minter) AuthorizationCode(clientID, userID, redirectURI string, scopes []string) *store.AuthorizationCode {
	return &store.AuthorizationCode{
		Value:       m.generator.Generate(KindAuthorizationCode),
		ClientID:    clientID,
		UserID:      userID,
		RedirectURI: redirectURI,
		Scopes:      scopes,
		ExpiresAt:   m.nowFunc().Add(m.config.GetAuthCodeTTL()),
	}
}

// Pair mints an access token and, when grantType allows it, a refresh token paired to it.
func (m *Minter) Pair(clientID, userID string, scopes []string, grantType store.GrantType) *store.TokenPair {
	now := m.nowFunc()
	pair := &store.TokenPair{
		Access: store.AccessToken{
			ID:        m.newID(),
			Value:     m.generator.Generate(KindAccessToken),
			ClientID:  clientID,
			UserID:    userID,
			Scopes:    scopes,
			GrantType: grantType,
			ExpiresAt: now.Add(m.config.GetAccessTokenTTL()),
		},
	}
	if grantType.AllowsRefresh() {
		pair.Refresh = &store.RefreshToken{
			Value:         m.generator.Generate(KindRefreshToken),
			AccessTokenID: pair.Access.ID,
			ExpiresAt:     now.Add(m.config.GetRefreshTokenTTL()),
		}
	}
	return pair
}
