package auth

import (
	"context"
	"errors"
	"time"

	pkgerrors "github.com/pkg/errors"
	"github.com/rs/zerolog"

	"github.com/jrsteele09/go-oauth-engine/authorization"
	"github.com/jrsteele09/go-oauth-engine/clients"
	"github.com/jrsteele09/go-oauth-engine/exchange"
	"github.com/jrsteele09/go-oauth-engine/grant"
	"github.com/jrsteele09/go-oauth-engine/internal/config"
	oautherrors "github.com/jrsteele09/go-oauth-engine/internal/errors"
	"github.com/jrsteele09/go-oauth-engine/internal/telemetry"
	"github.com/jrsteele09/go-oauth-engine/introspection"
	"github.com/jrsteele09/go-oauth-engine/revocation"
	"github.com/jrsteele09/go-oauth-engine/sessions"
	"github.com/jrsteele09/go-oauth-engine/store"
	"github.com/jrsteele09/go-oauth-engine/token"
	"github.com/jrsteele09/go-oauth-engine/users"
)

// Repos holds all repository dependencies for the Engine
type Repos struct {
	Users        users.Repo    // Repository for user data
	Clients      clients.Repo  // Repository for OAuth2 client data
	Transactions sessions.Repo // Pending authorization transactions
}

// Engine owns every engine of the server. It is built once at process start and handed to
// the HTTP layer.
type Engine struct {
	Grants        *grant.Engine
	Exchange      *exchange.Engine
	Authorization *authorization.Flow
	Introspection *introspection.Service
	Revocation    *revocation.Service

	repos     Repos
	store     store.Store
	generator *token.Generator
	logger    zerolog.Logger
	telemetry *telemetry.Telemetry
	nowTime   func() time.Time
}

// Option defines a function type to modify the Engine instance.
type Option func(*Engine)

// WithNowTime sets the now time function (primarily for testing)
func WithNowTime(nowFunc func() time.Time) Option {
	return func(e *Engine) {
		e.nowTime = nowFunc
	}
}

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

// New validates the dependencies and wires the engines together.
func New(repos Repos, st store.Store, cfg config.OAuthConfig, options ...Option) (*Engine, error) {
	if repos.Users == nil {
		return nil, errors.New("[auth.New] Users repo is required")
	}
	if repos.Clients == nil {
		return nil, errors.New("[auth.New] Clients repo is required")
	}
	if repos.Transactions == nil {
		return nil, errors.New("[auth.New] Transactions repo is required")
	}
	if st == nil {
		return nil, errors.New("[auth.New] store is required")
	}
	if cfg == nil {
		return nil, errors.New("[auth.New] oauth config is required")
	}

	e := &Engine{
		repos:     repos,
		store:     st,
		logger:    zerolog.Nop(),
		telemetry: telemetry.Noop(),
		nowTime:   time.Now,
	}
	for _, opt := range options {
		opt(e)
	}

	e.generator = token.NewGenerator(cfg)
	minter := token.NewMinter(e.generator, cfg, token.WithNowFunc(e.nowTime))
	e.Grants = grant.New(st, minter,
		grant.WithLogger(e.logger.With().Str("component", "grant").Logger()),
		grant.WithTelemetry(e.telemetry))
	e.Exchange = exchange.New(st, repos.Clients, repos.Users, minter,
		exchange.WithLogger(e.logger.With().Str("component", "exchange").Logger()),
		exchange.WithTelemetry(e.telemetry))
	e.Authorization = authorization.New(repos.Clients, st, e.Grants, repos.Transactions,
		authorization.WithLogger(e.logger.With().Str("component", "authorization").Logger()))
	e.Introspection = introspection.New(st, repos.Users,
		introspection.WithLogger(e.logger.With().Str("component", "introspection").Logger()),
		introspection.WithTelemetry(e.telemetry))
	e.Revocation = revocation.New(st,
		revocation.WithLogger(e.logger.With().Str("component", "revocation").Logger()),
		revocation.WithTelemetry(e.telemetry))
	return e, nil
}

// Login checks a user's credentials for the authorization endpoint.
func (e *Engine) Login(ctx context.Context, email, password string) (*users.User, error) {
	user, err := e.repos.Users.GetByEmail(ctx, email)
	if errors.Is(err, oautherrors.ErrNotFound) {
		return nil, UserNotFoundErr
	}
	if err != nil {
		return nil, pkgerrors.Wrap(err, "[Engine.Login] GetByEmail")
	}
	if !user.VerifyPassword(password) {
		return nil, UserPasswordsDontMatchErr
	}
	if user.Blocked {
		return nil, UserBlockedErr
	}
	return user, nil
}

// AuthenticateClient resolves the client presenting creds at the introspection and
// revocation endpoints. Failure is ErrInvalidClient.
func (e *Engine) AuthenticateClient(ctx context.Context, creds exchange.ClientCredentials) (*clients.Client, error) {
	return e.Exchange.AuthenticateClient(ctx, creds)
}

// ReapExpired deletes expired credentials and abandoned transactions.
func (e *Engine) ReapExpired(ctx context.Context) (credentials, transactions int, err error) {
	credentials, err = e.store.DeleteExpired(ctx)
	if err != nil {
		return 0, 0, pkgerrors.Wrap(err, "[Engine.ReapExpired] store")
	}
	transactions, err = e.repos.Transactions.DeleteExpired(ctx)
	if err != nil {
		return credentials, 0, pkgerrors.Wrap(err, "[Engine.ReapExpired] transactions")
	}
	return credentials, transactions, nil
}

// Now is the engine's clock.
func (e *Engine) Now() time.Time {
	return e.nowTime()
}
