// Package store defines the credential entities owned by the token engine and the
// persistence contract every backend implements.
//
// Expiry is lazy: every Find treats a credential whose ExpiresAt is not after the
// store's clock as not found. Operations that consume a single-use credential
// (RedeemAuthorizationCode, RotateRefreshToken) are conditional: they succeed for
// exactly one caller per value and return ErrNotFound to every other.
package store

import (
	"context"
	"time"

	oautherrors "github.com/jrsteele09/go-oauth-engine/internal/errors"
)

// ErrNotFound is returned for unknown, expired or already consumed credentials.
var ErrNotFound = oautherrors.ErrNotFound

// GrantType records how an access token was obtained.
type GrantType string

const (
	GrantTypeCode              GrantType = "code"
	GrantTypeToken             GrantType = "token"
	GrantTypePassword          GrantType = "password"
	GrantTypeClientCredentials GrantType = "client_credentials"
	GrantTypeRefreshToken      GrantType = "refresh_token"
)

// AllowsRefresh reports whether tokens issued through the grant type may carry a refresh token.
func (g GrantType) AllowsRefresh() bool {
	return g != GrantTypeClientCredentials && g != GrantTypeToken
}

type AuthorizationCode struct {
	Value       string
	ClientID    string
	UserID      string
	RedirectURI string
	Scopes      []string
	ExpiresAt   time.Time
}

type AccessToken struct {
	ID        string // row identity referenced by RefreshToken.AccessTokenID
	Value     string
	ClientID  string
	UserID    string // empty for client_credentials
	Scopes    []string
	GrantType GrantType
	ExpiresAt time.Time
}

type RefreshToken struct {
	Value         string
	AccessTokenID string
	ExpiresAt     time.Time
}

// RefreshGrant is a refresh token joined with the access token it is paired to.
type RefreshGrant struct {
	Refresh RefreshToken
	Access  AccessToken
}

// TokenPair is what an exchange persists. Refresh is nil for grants that never refresh.
type TokenPair struct {
	Access  AccessToken
	Refresh *RefreshToken
}

// Expired reports whether a credential expiring at expiresAt is no longer valid at now.
func Expired(expiresAt, now time.Time) bool {
	return !expiresAt.After(now)
}

type Store interface {
	CreateAuthorizationCode(ctx context.Context, code *AuthorizationCode) error
	FindAuthorizationCode(ctx context.Context, value string) (*AuthorizationCode, error)
	// RedeemAuthorizationCode deletes the code if it still exists and is unexpired and
	// persists pair in the same atomic unit.
	RedeemAuthorizationCode(ctx context.Context, value string, pair *TokenPair) error

	CreateTokens(ctx context.Context, pair *TokenPair) error
	FindAccessToken(ctx context.Context, value string) (*AccessToken, error)
	// FindAccessTokensByUserClient returns the unexpired access tokens held by a user for a client.
	FindAccessTokensByUserClient(ctx context.Context, userID, clientID string) ([]*AccessToken, error)

	// FindRefreshToken resolves the paired access token even when that token has expired.
	FindRefreshToken(ctx context.Context, value string) (*RefreshGrant, error)
	// RotateRefreshToken deletes old's refresh token if it still exists and is unexpired,
	// deletes its paired access token, and persists pair in the same atomic unit.
	RotateRefreshToken(ctx context.Context, old *RefreshGrant, pair *TokenPair) error

	// RevokeAccessToken deletes an access token and any refresh token paired to it.
	RevokeAccessToken(ctx context.Context, value string) error
	// RevokeRefreshToken deletes a refresh token and its paired access token.
	RevokeRefreshToken(ctx context.Context, value string) error

	// DeleteExpired removes every expired credential and returns how many rows went.
	DeleteExpired(ctx context.Context) (int, error)
	Close() error
}
