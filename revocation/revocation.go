// Package revocation implements RFC 7009 token revocation. Revoking either half of a token
// pair removes both.
package revocation

import (
	"context"
	"errors"

	pkgerrors "github.com/pkg/errors"
	"github.com/rs/zerolog"

	"github.com/jrsteele09/go-oauth-engine/clients"
	"github.com/jrsteele09/go-oauth-engine/internal/telemetry"
	"github.com/jrsteele09/go-oauth-engine/store"
)

// TokenTypeHint is the optional token_type_hint parameter.
type TokenTypeHint string

const (
	HintAccessToken  TokenTypeHint = "access_token"
	HintRefreshToken TokenTypeHint = "refresh_token"
)

type Service struct {
	store     store.Store
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

func New(st store.Store, opts ...Option) *Service {
	s := &Service{
		store:     st,
		telemetry: telemetry.Noop(),
		logger:    zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Revoke removes token if requester owns it. Unknown tokens, expired tokens and tokens owned
// by another client are all ignored so the caller cannot discover them; only store failures
// are returned.
func (s *Service) Revoke(ctx context.Context, requester *clients.Client, token string, hint TokenTypeHint) (err error) {
	ctx, span := s.telemetry.StartSpan(ctx, "revocation.Revoke")
	defer func() { telemetry.EndSpan(span, err) }()

	lookups := []func(context.Context, *clients.Client, string) (bool, error){s.revokeAccess, s.revokeRefresh}
	if hint == HintRefreshToken {
		lookups[0], lookups[1] = lookups[1], lookups[0]
	}
	for _, lookup := range lookups {
		done, err := lookup(ctx, requester, token)
		if err != nil {
			return err
		}
		if done {
			return nil
		}
	}
	s.logger.Debug().Str("client_id", requester.ID).Msg("revocation ignored, token unknown")
	return nil
}

func (s *Service) revokeAccess(ctx context.Context, requester *clients.Client, token string) (bool, error) {
	at, err := s.store.FindAccessToken(ctx, token)
	if errors.Is(err, store.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, pkgerrors.Wrap(err, "[Service.revokeAccess] failed to find access token")
	}
	if at.ClientID != requester.ID {
		s.logger.Debug().Str("client_id", requester.ID).Msg("revocation ignored, access token owned by another client")
		return true, nil
	}
	if err := s.store.RevokeAccessToken(ctx, token); err != nil && !errors.Is(err, store.ErrNotFound) {
		return false, pkgerrors.Wrap(err, "[Service.revokeAccess] failed to revoke access token")
	}
	s.telemetry.RecordRevocation(ctx, string(HintAccessToken))
	return true, nil
}

func (s *Service) revokeRefresh(ctx context.Context, requester *clients.Client, token string) (bool, error) {
	rg, err := s.store.FindRefreshToken(ctx, token)
	if errors.Is(err, store.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, pkgerrors.Wrap(err, "[Service.revokeRefresh] failed to find refresh token")
	}
	if rg.Access.ClientID != requester.ID {
		s.logger.Debug().Str("client_id", requester.ID).Msg("revocation ignored, refresh token owned by another client")
		return true, nil
	}
	if err := s.store.RevokeRefreshToken(ctx, token); err != nil && !errors.Is(err, store.ErrNotFound) {
		return false, pkgerrors.Wrap(err, "[Service.revokeRefresh] failed to revoke refresh token")
	}
	s.telemetry.RecordRevocation(ctx, string(HintRefreshToken))
	return true, nil
}
