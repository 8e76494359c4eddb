// Package sqlstore persists credentials in SQLite, PostgreSQL or MySQL through database/sql.
//
// Expiry instants are stored as unix milliseconds. Single-use credentials are consumed with
// a conditional DELETE inside a transaction; a DELETE that affects no row means another
// exchange won the race and the caller gets store.ErrNotFound.
package sqlstore

import (
	"context"
	"database/sql"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"

	"github.com/jrsteele09/go-oauth-engine/store"
)

var _ store.Store = (*Store)(nil)

type Store struct {
	db      *sql.DB
	dialect Dialect
	nowFunc func() time.Time
	logger  zerolog.Logger
}

type Option func(*Store)

func WithNowFunc(now func() time.Time) Option {
	return func(s *Store) {
		s.nowFunc = now
	}
}

func WithLogger(logger zerolog.Logger) Option {
	return func(s *Store) {
		s.logger = logger
	}
}

// Open connects to the database, verifies the connection and creates the schema.
func Open(ctx context.Context, dialect Dialect, dsn string, opts ...Option) (*Store, error) {
	driver, err := dialect.driverName()
	if err != nil {
		return nil, errors.Wrap(err, "[sqlstore.Open]")
	}
	dsn, err = dialect.normalizeDSN(dsn)
	if err != nil {
		return nil, errors.Wrap(err, "[sqlstore.Open]")
	}
	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, errors.Wrapf(err, "[sqlstore.Open] opening %s database", dialect)
	}
	if dialect == SQLite {
		// SQLite allows one writer; a single connection serializes transactions instead of
		// failing them with SQLITE_BUSY.
		db.SetMaxOpenConns(1)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, errors.Wrapf(err, "[sqlstore.Open] connecting to %s database", dialect)
	}
	s := New(db, dialect, opts...)
	if err := s.Migrate(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// New wraps an existing connection pool. The schema is not created; call Migrate.
func New(db *sql.DB, dialect Dialect, opts ...Option) *Store {
	s := &Store{
		db:      db,
		dialect: dialect,
		nowFunc: time.Now,
		logger:  zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Migrate creates the credential tables when they do not exist.
func (s *Store) Migrate(ctx context.Context) error {
	for _, stmt := range s.dialect.schema() {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return errors.Wrap(err, "[sqlstore.Migrate]")
		}
	}
	return nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) now() int64 {
	return s.nowFunc().UnixMilli()
}

func (s *Store) withTx(ctx context.Context, fn func(tx *sql.Tx) error) (err error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, "begin transaction")
	}
	defer func() {
		if err != nil {
			if rbErr := tx.Rollback(); rbErr != nil && !errors.Is(rbErr, sql.ErrTxDone) {
				s.logger.Error().Err(rbErr).Msg("failed to roll back transaction")
			}
			return
		}
		err = errors.Wrap(tx.Commit(), "commit transaction")
	}()
	return fn(tx)
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func (s *Store) exec(ctx context.Context, e execer, query string, args ...any) (int64, error) {
	res, err := e.ExecContext(ctx, s.dialect.rebind(query), args...)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

const (
	insertCode  = `INSERT INTO oauth_authorization_codes (value, client_id, user_id, redirect_uri, scopes, expires_at) VALUES (?, ?, ?, ?, ?, ?)`
	selectCode  = `SELECT value, client_id, user_id, redirect_uri, scopes, expires_at FROM oauth_authorization_codes WHERE value = ? AND expires_at > ?`
	consumeCode = `DELETE FROM oauth_authorization_codes WHERE value = ? AND expires_at > ?`

	accessColumns    = `id, value, client_id, user_id, scopes, grant_type, expires_at`
	insertAccess     = `INSERT INTO oauth_access_tokens (` + accessColumns + `) VALUES (?, ?, ?, ?, ?, ?, ?)`
	selectAccess     = `SELECT ` + accessColumns + ` FROM oauth_access_tokens WHERE value = ? AND expires_at > ?`
	selectUserClient = `SELECT ` + accessColumns + ` FROM oauth_access_tokens WHERE user_id = ? AND client_id = ? AND expires_at > ?`
	selectAccessID   = `SELECT id FROM oauth_access_tokens WHERE value = ?`
	deleteAccessByID = `DELETE FROM oauth_access_tokens WHERE id = ?`

	insertRefresh         = `INSERT INTO oauth_refresh_tokens (value, access_token_id, expires_at) VALUES (?, ?, ?)`
	selectRefreshAccess   = `SELECT access_token_id FROM oauth_refresh_tokens WHERE value = ?`
	consumeRefresh        = `DELETE FROM oauth_refresh_tokens WHERE value = ? AND expires_at > ?`
	deleteRefresh         = `DELETE FROM oauth_refresh_tokens WHERE value = ?`
	deleteRefreshByAccess = `DELETE FROM oauth_refresh_tokens WHERE access_token_id = ?`

	// The paired access row is joined without an expiry condition so a lapsed access
	// token can still be rotated.
	selectRefreshGrant = `SELECT r.value, r.access_token_id, r.expires_at, a.id, a.value, a.client_id, a.user_id, a.scopes, a.grant_type, a.expires_at
	FROM oauth_refresh_tokens r JOIN oauth_access_tokens a ON a.id = r.access_token_id
	WHERE r.value = ? AND r.expires_at > ?`

	expireCodes   = `DELETE FROM oauth_authorization_codes WHERE expires_at <= ?`
	expireRefresh = `DELETE FROM oauth_refresh_tokens WHERE expires_at <= ?`
	expireAccess  = `DELETE FROM oauth_access_tokens WHERE expires_at <= ?
	AND NOT EXISTS (SELECT 1 FROM oauth_refresh_tokens r WHERE r.access_token_id = oauth_access_tokens.id)`
)

func (s *Store) CreateAuthorizationCode(ctx context.Context, code *store.AuthorizationCode) error {
	_, err := s.exec(ctx, s.db, insertCode,
		code.Value, code.ClientID, code.UserID, code.RedirectURI, joinScopes(code.Scopes), code.ExpiresAt.UnixMilli())
	return errors.Wrap(err, "[sqlstore.CreateAuthorizationCode]")
}

func (s *Store) FindAuthorizationCode(ctx context.Context, value string) (*store.AuthorizationCode, error) {
	var (
		c         store.AuthorizationCode
		scopes    string
		expiresAt int64
	)
	row := s.db.QueryRowContext(ctx, s.dialect.rebind(selectCode), value, s.now())
	if err := row.Scan(&c.Value, &c.ClientID, &c.UserID, &c.RedirectURI, &scopes, &expiresAt); err != nil {
		return nil, notFound(err, "[sqlstore.FindAuthorizationCode]")
	}
	c.Scopes = splitScopes(scopes)
	c.ExpiresAt = time.UnixMilli(expiresAt)
	return &c, nil
}

func (s *Store) RedeemAuthorizationCode(ctx context.Context, value string, pair *store.TokenPair) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		n, err := s.exec(ctx, tx, consumeCode, value, s.now())
		if err != nil {
			return errors.Wrap(err, "[sqlstore.RedeemAuthorizationCode] consuming code")
		}
		if n != 1 {
			return store.ErrNotFound
		}
		return errors.Wrap(s.insertPair(ctx, tx, pair), "[sqlstore.RedeemAuthorizationCode]")
	})
}

func (s *Store) CreateTokens(ctx context.Context, pair *store.TokenPair) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		return errors.Wrap(s.insertPair(ctx, tx, pair), "[sqlstore.CreateTokens]")
	})
}

func (s *Store) insertPair(ctx context.Context, tx *sql.Tx, pair *store.TokenPair) error {
	at := pair.Access
	if _, err := s.exec(ctx, tx, insertAccess,
		at.ID, at.Value, at.ClientID, at.UserID, joinScopes(at.Scopes), string(at.GrantType), at.ExpiresAt.UnixMilli()); err != nil {
		return errors.Wrap(err, "inserting access token")
	}
	if pair.Refresh == nil {
		return nil
	}
	rt := pair.Refresh
	if _, err := s.exec(ctx, tx, insertRefresh, rt.Value, rt.AccessTokenID, rt.ExpiresAt.UnixMilli()); err != nil {
		return errors.Wrap(err, "inserting refresh token")
	}
	return nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanAccess(row scanner) (*store.AccessToken, error) {
	var (
		at        store.AccessToken
		scopes    string
		grantType string
		expiresAt int64
	)
	if err := row.Scan(&at.ID, &at.Value, &at.ClientID, &at.UserID, &scopes, &grantType, &expiresAt); err != nil {
		return nil, err
	}
	at.Scopes = splitScopes(scopes)
	at.GrantType = store.GrantType(grantType)
	at.ExpiresAt = time.UnixMilli(expiresAt)
	return &at, nil
}

func (s *Store) FindAccessToken(ctx context.Context, value string) (*store.AccessToken, error) {
	at, err := scanAccess(s.db.QueryRowContext(ctx, s.dialect.rebind(selectAccess), value, s.now()))
	if err != nil {
		return nil, notFound(err, "[sqlstore.FindAccessToken]")
	}
	return at, nil
}

func (s *Store) FindAccessTokensByUserClient(ctx context.Context, userID, clientID string) ([]*store.AccessToken, error) {
	rows, err := s.db.QueryContext(ctx, s.dialect.rebind(selectUserClient), userID, clientID, s.now())
	if err != nil {
		return nil, errors.Wrap(err, "[sqlstore.FindAccessTokensByUserClient]")
	}
	defer rows.Close()

	var tokens []*store.AccessToken
	for rows.Next() {
		at, err := scanAccess(rows)
		if err != nil {
			return nil, errors.Wrap(err, "[sqlstore.FindAccessTokensByUserClient] scanning row")
		}
		tokens = append(tokens, at)
	}
	return tokens, errors.Wrap(rows.Err(), "[sqlstore.FindAccessTokensByUserClient]")
}

func (s *Store) FindRefreshToken(ctx context.Context, value string) (*store.RefreshGrant, error) {
	var (
		g                  store.RefreshGrant
		scopes, grantType  string
		refreshExp, accExp int64
	)
	row := s.db.QueryRowContext(ctx, s.dialect.rebind(selectRefreshGrant), value, s.now())
	if err := row.Scan(&g.Refresh.Value, &g.Refresh.AccessTokenID, &refreshExp,
		&g.Access.ID, &g.Access.Value, &g.Access.ClientID, &g.Access.UserID, &scopes, &grantType, &accExp); err != nil {
		return nil, notFound(err, "[sqlstore.FindRefreshToken]")
	}
	g.Refresh.ExpiresAt = time.UnixMilli(refreshExp)
	g.Access.Scopes = splitScopes(scopes)
	g.Access.GrantType = store.GrantType(grantType)
	g.Access.ExpiresAt = time.UnixMilli(accExp)
	return &g, nil
}

func (s *Store) RotateRefreshToken(ctx context.Context, old *store.RefreshGrant, pair *store.TokenPair) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		n, err := s.exec(ctx, tx, consumeRefresh, old.Refresh.Value, s.now())
		if err != nil {
			return errors.Wrap(err, "[sqlstore.RotateRefreshToken] consuming refresh token")
		}
		if n != 1 {
			return store.ErrNotFound
		}
		if _, err := s.exec(ctx, tx, deleteAccessByID, old.Refresh.AccessTokenID); err != nil {
			return errors.Wrap(err, "[sqlstore.RotateRefreshToken] deleting access token")
		}
		return errors.Wrap(s.insertPair(ctx, tx, pair), "[sqlstore.RotateRefreshToken]")
	})
}

func (s *Store) RevokeAccessToken(ctx context.Context, value string) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		var id string
		if err := tx.QueryRowContext(ctx, s.dialect.rebind(selectAccessID), value).Scan(&id); err != nil {
			return notFound(err, "[sqlstore.RevokeAccessToken]")
		}
		if _, err := s.exec(ctx, tx, deleteRefreshByAccess, id); err != nil {
			return errors.Wrap(err, "[sqlstore.RevokeAccessToken] deleting refresh token")
		}
		_, err := s.exec(ctx, tx, deleteAccessByID, id)
		return errors.Wrap(err, "[sqlstore.RevokeAccessToken]")
	})
}

func (s *Store) RevokeRefreshToken(ctx context.Context, value string) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		var accessID string
		if err := tx.QueryRowContext(ctx, s.dialect.rebind(selectRefreshAccess), value).Scan(&accessID); err != nil {
			return notFound(err, "[sqlstore.RevokeRefreshToken]")
		}
		if _, err := s.exec(ctx, tx, deleteRefresh, value); err != nil {
			return errors.Wrap(err, "[sqlstore.RevokeRefreshToken] deleting refresh token")
		}
		_, err := s.exec(ctx, tx, deleteAccessByID, accessID)
		return errors.Wrap(err, "[sqlstore.RevokeRefreshToken]")
	})
}

func (s *Store) DeleteExpired(ctx context.Context) (int, error) {
	var removed int64
	now := s.now()
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		for _, q := range []string{expireCodes, expireRefresh, expireAccess} {
			n, err := s.exec(ctx, tx, q, now)
			if err != nil {
				return errors.Wrap(err, "[sqlstore.DeleteExpired]")
			}
			removed += n
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	s.logger.Debug().Int64("removed", removed).Msg("deleted expired credentials")
	return int(removed), nil
}

func notFound(err error, msg string) error {
	if errors.Is(err, sql.ErrNoRows) {
		return store.ErrNotFound
	}
	return errors.Wrap(err, msg)
}

func joinScopes(scopes []string) string {
	return strings.Join(scopes, " ")
}

func splitScopes(scopes string) []string {
	return strings.Fields(scopes)
}
