// Package exchange converts a presented credential into a fresh access token and, where the
// grant allows it, a refresh token.
//
// Every rejection is exactly errors.ErrInvalidGrant, whatever check failed; the failing
// check is only logged at debug level. errors.ErrClientScopesNotConfigured marks a client
// that can never succeed at the client_credentials grant. Any other error is an
// infrastructure failure from a registry or the store.
package exchange

import (
	"context"
	"errors"
	"sync"

	pkgerrors "github.com/pkg/errors"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"

	"github.com/jrsteele09/go-oauth-engine/clients"
	oautherrors "github.com/jrsteele09/go-oauth-engine/internal/errors"
	"github.com/jrsteele09/go-oauth-engine/internal/telemetry"
	"github.com/jrsteele09/go-oauth-engine/oauthmodel"
	"github.com/jrsteele09/go-oauth-engine/store"
	"github.com/jrsteele09/go-oauth-engine/token"
	"github.com/jrsteele09/go-oauth-engine/users"
)

// ClientCredentials are the client id and secret presented at the token endpoint.
type ClientCredentials struct {
	ID     string
	Secret string
}

// Issued is the result of a successful exchange. Refresh is nil when none was issued.
type Issued struct {
	Access  store.AccessToken
	Refresh *store.RefreshToken
}

type Engine struct {
	store     store.Store
	clients   clients.Repo
	users     users.Repo
	minter    *token.Minter
	telemetry *telemetry.Telemetry
	logger    zerolog.Logger
}

type Option func(*Engine)

func WithLogger(logger zerolog.Logger) Option {
	return func(e *Engine) {
		e.logger = logger
	}
}

func WithTelemetry(t *telemetry.Telemetry) Option {
	return func(e *Engine) {
		e.telemetry = t
	}
}

func New(st store.Store, clientRepo clients.Repo, userRepo users.Repo, minter *token.Minter, opts ...Option) *Engine {
	e := &Engine{
		store:     st,
		clients:   clientRepo,
		users:     userRepo,
		minter:    minter,
		telemetry: telemetry.Noop(),
		logger:    zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Exchange dispatches a token request on its grant type. The authorization_code and
// refresh_token grants authenticate the client first and fail with ErrInvalidClient.
func (e *Engine) Exchange(ctx context.Context, req oauthmodel.TokenRequest) (issued *Issued, err error) {
	ctx, span := e.telemetry.StartSpan(ctx, "exchange.Exchange",
		attribute.String(telemetry.AttrGrantType, string(req.GrantType)),
		attribute.String(telemetry.AttrClientID, req.ClientID))
	defer func() {
		telemetry.EndSpan(span, err)
		e.telemetry.RecordExchange(ctx, string(req.GrantType), err)
	}()

	creds := ClientCredentials{ID: req.ClientID, Secret: req.ClientSecret}
	switch req.GrantType {
	case oauthmodel.AuthorizationCodeGrant:
		if req.Code == "" || req.RedirectURI == "" {
			return nil, pkgerrors.Wrap(oautherrors.ErrInvalidRequest, "code and redirect_uri are required")
		}
		client, err := e.AuthenticateClient(ctx, creds)
		if err != nil {
			return nil, err
		}
		return e.ExchangeAuthorizationCode(ctx, client, req.Code, req.RedirectURI)

	case oauthmodel.PasswordGrant:
		if req.Username == "" || req.Password == "" {
			return nil, pkgerrors.Wrap(oautherrors.ErrInvalidRequest, "username and password are required")
		}
		return e.ExchangePassword(ctx, creds, req.Username, req.Password, req.Scope)

	case oauthmodel.ClientCredentialsGrant:
		return e.ExchangeClientCredentials(ctx, creds, req.Scope)

	case oauthmodel.RefreshTokenGrant:
		if req.RefreshToken == "" {
			return nil, pkgerrors.Wrap(oautherrors.ErrInvalidRequest, "refresh_token is required")
		}
		client, err := e.AuthenticateClient(ctx, creds)
		if err != nil {
			return nil, err
		}
		return e.ExchangeRefreshToken(ctx, client, req.RefreshToken)

	case "":
		return nil, pkgerrors.Wrap(oautherrors.ErrInvalidRequest, "grant_type is required")
	default:
		return nil, oautherrors.ErrUnsupportedGrantType
	}
}

// AuthenticateClient verifies the client's id and secret. Unknown clients and bad secrets
// both fail with ErrInvalidClient.
func (e *Engine) AuthenticateClient(ctx context.Context, creds ClientCredentials) (*clients.Client, error) {
	client, err := e.verifyClient(ctx, creds)
	if errors.Is(err, oautherrors.ErrInvalidGrant) {
		return nil, oautherrors.ErrInvalidClient
	}
	return client, err
}

// ExchangeAuthorizationCode redeems a code issued to client for redirectURI.
func (e *Engine) ExchangeAuthorizationCode(ctx context.Context, client *clients.Client, code, redirectURI string) (*Issued, error) {
	ac, err := e.store.FindAuthorizationCode(ctx, code)
	if errors.Is(err, store.ErrNotFound) {
		return nil, e.reject(oauthmodel.AuthorizationCodeGrant, "unknown or expired code", code)
	}
	if err != nil {
		return nil, pkgerrors.Wrap(err, "[Engine.ExchangeAuthorizationCode] failed to find code")
	}
	if ac.ClientID != client.ID {
		return nil, e.reject(oauthmodel.AuthorizationCodeGrant, "code issued to another client", code)
	}
	if ac.RedirectURI != redirectURI {
		return nil, e.reject(oauthmodel.AuthorizationCodeGrant, "redirect_uri mismatch", code)
	}

	pair := e.minter.Pair(ac.ClientID, ac.UserID, ac.Scopes, store.GrantTypeCode)
	err = e.store.RedeemAuthorizationCode(ctx, ac.Value, pair)
	if errors.Is(err, store.ErrNotFound) {
		return nil, e.reject(oauthmodel.AuthorizationCodeGrant, "code already redeemed", code)
	}
	if err != nil {
		return nil, pkgerrors.Wrap(err, "[Engine.ExchangeAuthorizationCode] failed to redeem code")
	}
	return &Issued{Access: pair.Access, Refresh: pair.Refresh}, nil
}

// ExchangePassword authenticates the client and the resource owner (username is the email).
// Unknown client, bad secret, unknown user and bad password are indistinguishable.
func (e *Engine) ExchangePassword(ctx context.Context, creds ClientCredentials, username, password, scope string) (*Issued, error) {
	client, err := e.verifyClient(ctx, creds)
	if err != nil {
		return nil, err
	}

	user, err := e.users.GetByEmail(ctx, username)
	if errors.Is(err, oautherrors.ErrNotFound) {
		// Spend the same bcrypt work as a real comparison.
		users.CheckPasswordHash(password, dummyPasswordHash())
		return nil, e.reject(oauthmodel.PasswordGrant, "unknown user", username)
	}
	if err != nil {
		return nil, pkgerrors.Wrap(err, "[Engine.ExchangePassword] failed to find user")
	}
	if !user.VerifyPassword(password) {
		return nil, e.reject(oauthmodel.PasswordGrant, "bad password", username)
	}
	if user.Blocked {
		return nil, e.reject(oauthmodel.PasswordGrant, "user blocked", username)
	}

	scopes, err := requestedScopes(client, scope)
	if err != nil {
		return nil, err
	}

	pair := e.minter.Pair(client.ID, user.ID, scopes, store.GrantTypePassword)
	if err := e.store.CreateTokens(ctx, pair); err != nil {
		return nil, pkgerrors.Wrap(err, "[Engine.ExchangePassword] failed to store tokens")
	}
	return &Issued{Access: pair.Access, Refresh: pair.Refresh}, nil
}

// ExchangeClientCredentials issues an access token carrying the client's full registered
// scope set, whatever scope was requested. No refresh token is issued.
func (e *Engine) ExchangeClientCredentials(ctx context.Context, creds ClientCredentials, scope string) (*Issued, error) {
	client, err := e.verifyClient(ctx, creds)
	if err != nil {
		return nil, err
	}
	if len(client.Scopes) == 0 {
		e.logger.Error().Str("client_id", client.ID).Msg("client_credentials grant for a client with no configured scopes")
		return nil, pkgerrors.Wrapf(oautherrors.ErrClientScopesNotConfigured, "client %s", client.ID)
	}
	if scope != "" && !oauthmodel.ScopesEqual(oauthmodel.ParseScope(scope), client.Scopes) {
		e.logger.Debug().Str("client_id", client.ID).Str("requested", scope).Msg("client_credentials grants the registered scope set")
	}

	pair := e.minter.Pair(client.ID, "", client.Scopes, store.GrantTypeClientCredentials)
	if err := e.store.CreateTokens(ctx, pair); err != nil {
		return nil, pkgerrors.Wrap(err, "[Engine.ExchangeClientCredentials] failed to store token")
	}
	return &Issued{Access: pair.Access}, nil
}

// ExchangeRefreshToken rotates refresh: the old access and refresh tokens are deleted and a
// new pair carrying the same user, client, scopes and grant type is issued.
func (e *Engine) ExchangeRefreshToken(ctx context.Context, client *clients.Client, refresh string) (*Issued, error) {
	rg, err := e.store.FindRefreshToken(ctx, refresh)
	if errors.Is(err, store.ErrNotFound) {
		return nil, e.reject(oauthmodel.RefreshTokenGrant, "unknown or expired refresh token", refresh)
	}
	if err != nil {
		return nil, pkgerrors.Wrap(err, "[Engine.ExchangeRefreshToken] failed to find refresh token")
	}
	if rg.Access.ClientID != client.ID {
		return nil, e.reject(oauthmodel.RefreshTokenGrant, "refresh token issued to another client", refresh)
	}

	pair := e.minter.Pair(rg.Access.ClientID, rg.Access.UserID, rg.Access.Scopes, rg.Access.GrantType)
	err = e.store.RotateRefreshToken(ctx, rg, pair)
	if errors.Is(err, store.ErrNotFound) {
		return nil, e.reject(oauthmodel.RefreshTokenGrant, "refresh token already rotated", refresh)
	}
	if err != nil {
		return nil, pkgerrors.Wrap(err, "[Engine.ExchangeRefreshToken] failed to rotate refresh token")
	}
	return &Issued{Access: pair.Access, Refresh: pair.Refresh}, nil
}

// TokenResponse renders issued as the token endpoint body.
func (e *Engine) TokenResponse(issued *Issued) oauthmodel.TokenResponse {
	resp := oauthmodel.TokenResponse{
		AccessToken: issued.Access.Value,
		TokenType:   oauthmodel.TokenTypeBearer,
		ExpiresIn:   oauthmodel.ExpiresIn(issued.Access.ExpiresAt, e.minter.Now()),
		Scope:       oauthmodel.FormatScope(issued.Access.Scopes),
	}
	if issued.Refresh != nil {
		resp.RefreshToken = issued.Refresh.Value
	}
	return resp
}

// verifyClient authenticates creds, collapsing every failure into ErrInvalidGrant.
func (e *Engine) verifyClient(ctx context.Context, creds ClientCredentials) (*clients.Client, error) {
	if creds.ID == "" {
		return nil, e.reject("client", "missing client id", "")
	}
	client, err := e.clients.Get(ctx, creds.ID)
	if errors.Is(err, oautherrors.ErrNotFound) {
		return nil, e.reject("client", "unknown client", creds.ID)
	}
	if err != nil {
		return nil, pkgerrors.Wrap(err, "[Engine.verifyClient] failed to find client")
	}
	if !client.VerifySecret(creds.Secret) {
		return nil, e.reject("client", "bad client secret", creds.ID)
	}
	return client, nil
}

func (e *Engine) reject(grantType oauthmodel.GrantType, reason, credential string) error {
	e.logger.Debug().
		Str("grant_type", string(grantType)).
		Str("reason", reason).
		Str("credential_prefix", safeTruncate(credential, 8)).
		Msg("exchange rejected")
	return oautherrors.ErrInvalidGrant
}

func requestedScopes(client *clients.Client, scope string) ([]string, error) {
	scopes := oauthmodel.ParseScope(scope)
	if len(scopes) == 0 {
		return client.Scopes, nil
	}
	if !oauthmodel.ScopesSubset(scopes, client.Scopes) {
		return nil, oautherrors.ErrInvalidScope
	}
	return scopes, nil
}

func safeTruncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}

var (
	dummyHashOnce sync.Once
	dummyHash     string
)

func dummyPasswordHash() string {
	dummyHashOnce.Do(func() {
		dummyHash, _ = users.HashPassword("not-a-real-password")
	})
	return dummyHash
}
