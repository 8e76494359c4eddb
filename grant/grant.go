// Package grant issues authorization codes and implicit access tokens once a user has
// approved an authorization request.
package grant

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"

	"github.com/jrsteele09/go-oauth-engine/clients"
	"github.com/jrsteele09/go-oauth-engine/internal/telemetry"
	"github.com/jrsteele09/go-oauth-engine/oauthmodel"
	"github.com/jrsteele09/go-oauth-engine/store"
	"github.com/jrsteele09/go-oauth-engine/token"
	"github.com/jrsteele09/go-oauth-engine/users"
)

type Engine struct {
	store     store.Store
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

func New(st store.Store, minter *token.Minter, opts ...Option) *Engine {
	e := &Engine{
		store:     st,
		minter:    minter,
		telemetry: telemetry.Noop(),
		logger:    zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// GrantCode persists an authorization code bound to client, user, redirectURI and scopes
// and returns its value.
func (e *Engine) GrantCode(ctx context.Context, client *clients.Client, redirectURI string, user *users.User, scopes []string) (code string, err error) {
	ctx, span := e.telemetry.StartSpan(ctx, "grant.GrantCode", attribute.String(telemetry.AttrClientID, client.ID))
	defer func() { telemetry.EndSpan(span, err) }()

	ac := e.minter.AuthorizationCode(client.ID, user.ID, redirectURI, scopes)
	if err := e.store.CreateAuthorizationCode(ctx, ac); err != nil {
		return "", errors.Wrap(err, "[Engine.GrantCode] failed to store authorization code")
	}

	e.telemetry.RecordGrant(ctx, string(oauthmodel.CodeResponseType), client.ID)
	e.logger.Debug().Str("client_id", client.ID).Str("user_id", user.ID).Msg("authorization code granted")
	return ac.Value, nil
}

// GrantToken persists an implicit-flow access token. No refresh token is ever issued.
func (e *Engine) GrantToken(ctx context.Context, client *clients.Client, user *users.User, scopes []string) (accessToken string, expiresAt time.Time, err error) {
	ctx, span := e.telemetry.StartSpan(ctx, "grant.GrantToken", attribute.String(telemetry.AttrClientID, client.ID))
	defer func() { telemetry.EndSpan(span, err) }()

	pair := e.minter.Pair(client.ID, user.ID, scopes, store.GrantTypeToken)
	if err := e.store.CreateTokens(ctx, pair); err != nil {
		return "", time.Time{}, errors.Wrap(err, "[Engine.GrantToken] failed to store access token")
	}

	e.telemetry.RecordGrant(ctx, string(oauthmodel.TokenResponseType), client.ID)
	e.logger.Debug().Str("client_id", client.ID).Str("user_id", user.ID).Msg("implicit access token granted")
	return pair.Access.Value, pair.Access.ExpiresAt, nil
}
