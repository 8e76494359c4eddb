package auth

import (
	"context"
	"strings"

	"github.com/hashicorp/go-multierror"
	"github.com/pkg/errors"

	"github.com/jrsteele09/go-oauth-engine/clients"
	"github.com/jrsteele09/go-oauth-engine/internal/config"
	"github.com/jrsteele09/go-oauth-engine/token"
	"github.com/jrsteele09/go-oauth-engine/users"
)

// Seed registers the clients and users named in cfg. Client secrets are stored as bcrypt
// hashes. A seed client without a secret gets a generated one, which is logged once so it
// can be handed to the client's operator.
func (e *Engine) Seed(ctx context.Context, cfg config.SeedConfig) error {
	var result *multierror.Error
	for _, sc := range cfg.GetSeedClients() {
		secret := sc.Secret
		if secret == "" {
			secret = e.generator.Generate(token.KindClientSecret)
			e.logger.Info().Str("client_id", sc.ID).Str("client_secret", secret).Msg("generated client secret")
		}
		hash, err := clients.HashSecret(secret)
		if err != nil {
			result = multierror.Append(result, errors.Wrapf(err, "client %s", sc.ID))
			continue
		}
		client := &clients.Client{
			ID:           sc.ID,
			Description:  sc.Description,
			Secret:       hash,
			RedirectURIs: sc.RedirectURIs,
			Scopes:       sc.Scopes,
		}
		if err := e.repos.Clients.Upsert(ctx, client); err != nil {
			result = multierror.Append(result, errors.Wrapf(err, "client %s", sc.ID))
		}
	}

	for _, su := range cfg.GetSeedUsers() {
		hash, err := users.HashPassword(su.Password)
		if err != nil {
			result = multierror.Append(result, errors.Wrapf(err, "user %s", su.Email))
			continue
		}
		user := &users.User{
			ID:           su.ID,
			Email:        strings.TrimSpace(su.Email),
			PasswordHash: hash,
			DateJoined:   e.nowTime(),
		}
		if err := e.repos.Users.Upsert(ctx, user); err != nil {
			result = multierror.Append(result, errors.Wrapf(err, "user %s", su.Email))
		}
	}
	return result.ErrorOrNil()
}
