// Package introspection answers whether an access token is active, and for whom.
package introspection

import (
	"context"
	"errors"

	pkgerrors "github.com/pkg/errors"
	"github.com/rs/zerolog"

	"github.com/jrsteele09/go-oauth-engine/clients"
	oautherrors "github.com/jrsteele09/go-oauth-engine/internal/errors"
	"github.com/jrsteele09/go-oauth-engine/internal/telemetry"
	"github.com/jrsteele09/go-oauth-engine/oauthmodel"
	"github.com/jrsteele09/go-oauth-engine/store"
	"github.com/jrsteele09/go-oauth-engine/users"
)

type Service struct {
	store     store.Store
	users     users.Repo
	telemetry *telemetry.Telemetry
	logger    zerolog.Logger
}

type Option func(*Service)

func WithLogger(logger zerolog.Logger) Option {
	return func(s *Service) {
		s.logger = logger
	}
}

func WithTelemetry(t *telemetry.Telemetry) Option {
	return func(s *Service) {
		s.telemetry = t
	}
}

func New(st store.Store, userRepo users.Repo, opts ...Option) *Service {
	s := &Service{
		store:     st,
		users:     userRepo,
		telemetry: telemetry.Noop(),
		logger:    zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Introspect reports token as active only when it exists, is unexpired and was issued to
// requester. Every negative case yields the bare {active:false}; the error is reserved for
// store or registry failures.
func (s *Service) Introspect(ctx context.Context, requester *clients.Client, token string) (resp oauthmodel.IntrospectionResponse, err error) {
	ctx, span := s.telemetry.StartSpan(ctx, "introspection.Introspect")
	defer func() {
		telemetry.EndSpan(span, err)
		if err == nil {
			s.telemetry.RecordIntrospection(ctx, resp.Active)
		}
	}()

	at, err := s.store.FindAccessToken(ctx, token)
	if errors.Is(err, store.ErrNotFound) {
		return s.inactive("unknown or expired token"), nil
	}
	if err != nil {
		return oauthmodel.IntrospectionResponse{}, pkgerrors.Wrap(err, "[Service.Introspect] failed to find access token")
	}
	if requester == nil || at.ClientID != requester.ID {
		return s.inactive("token issued to another client"), nil
	}

	resp = oauthmodel.IntrospectionResponse{
		Active:   true,
		ClientID: at.ClientID,
		Scope:    oauthmodel.FormatScope(at.Scopes),
		Exp:      at.ExpiresAt.Unix(),
	}
	if at.UserID == "" {
		return resp, nil
	}
	user, err := s.users.GetByID(ctx, at.UserID)
	switch {
	case errors.Is(err, oautherrors.ErrNotFound):
		s.logger.Debug().Str("user_id", at.UserID).Msg("token owner no longer registered")
	case err != nil:
		return oauthmodel.IntrospectionResponse{}, pkgerrors.Wrap(err, "[Service.Introspect] failed to find user")
	default:
		resp.Username = user.Email
	}
	return resp, nil
}

func (s *Service) inactive(reason string) oauthmodel.IntrospectionResponse {
	s.logger.Debug().Str("reason", reason).Msg("introspection inactive")
	return oauthmodel.IntrospectionResponse{Active: false}
}
