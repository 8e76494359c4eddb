package sqlstore_test

import (
	"context"
	"errors"
	"path/filepath"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/jrsteele09/go-oauth-engine/store"
	"github.com/jrsteele09/go-oauth-engine/store/sqlstore"
	"github.com/jrsteele09/go-oauth-engine/store/storetest"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func TestSQLiteStore(t *testing.T) {
	storetest.Run(t, func(t *testing.T, now func() time.Time) store.Store {
		path := filepath.Join(t.TempDir(), "oauth.db")
		s, err := sqlstore.Open(context.Background(), sqlstore.SQLite, path, sqlstore.WithNowFunc(now))
		require.NoError(t, err)
		return s
	})
}

func TestOpenUnsupportedDialect(t *testing.T) {
	_, err := sqlstore.Open(context.Background(), "oracle", "dsn")
	require.Error(t, err)
}

func TestOpenBadMySQLDSN(t *testing.T) {
	_, err := sqlstore.Open(context.Background(), sqlstore.MySQL, "not a dsn")
	require.Error(t, err)
}

type fixture struct {
	mock  sqlmock.Sqlmock
	store *sqlstore.Store
	now   time.Time
	pair  *store.TokenPair
}

func setupTestFixture(t *testing.T, dialect sqlstore.Dialect) *fixture {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	now := time.UnixMilli(1_700_000_000_000)
	f := &fixture{
		mock:  mock,
		store: sqlstore.New(db, dialect, sqlstore.WithNowFunc(func() time.Time { return now })),
		now:   now,
		pair: &store.TokenPair{
			Access: store.AccessToken{
				ID: "id-1", Value: "access-1", ClientID: "c1", UserID: "u1",
				Scopes: []string{"read"}, GrantType: store.GrantTypeCode, ExpiresAt: now.Add(3 * time.Minute),
			},
			Refresh: &store.RefreshToken{Value: "refresh-1", AccessTokenID: "id-1", ExpiresAt: now.Add(time.Hour)},
		},
	}
	t.Cleanup(func() {
		mock.ExpectClose()
		require.NoError(t, f.store.Close())
		require.NoError(t, mock.ExpectationsWereMet())
	})
	return f
}

func TestRedeemAuthorizationCode(t *testing.T) {
	t.Run("consumed code rolls back", func(t *testing.T) {
		f := setupTestFixture(t, sqlstore.SQLite)
		f.mock.ExpectBegin()
		f.mock.ExpectExec(regexp.QuoteMeta("DELETE FROM oauth_authorization_codes WHERE value = ? AND expires_at > ?")).
			WithArgs("code-1", f.now.UnixMilli()).
			WillReturnResult(sqlmock.NewResult(0, 0))
		f.mock.ExpectRollback()

		err := f.store.RedeemAuthorizationCode(context.Background(), "code-1", f.pair)
		require.True(t, errors.Is(err, store.ErrNotFound))
	})

	t.Run("winning redeem inserts the pair and commits", func(t *testing.T) {
		f := setupTestFixture(t, sqlstore.SQLite)
		f.mock.ExpectBegin()
		f.mock.ExpectExec("DELETE FROM oauth_authorization_codes").
			WithArgs("code-1", f.now.UnixMilli()).
			WillReturnResult(sqlmock.NewResult(0, 1))
		f.mock.ExpectExec("INSERT INTO oauth_access_tokens").
			WithArgs("id-1", "access-1", "c1", "u1", "read", "code", f.pair.Access.ExpiresAt.UnixMilli()).
			WillReturnResult(sqlmock.NewResult(0, 1))
		f.mock.ExpectExec("INSERT INTO oauth_refresh_tokens").
			WithArgs("refresh-1", "id-1", f.pair.Refresh.ExpiresAt.UnixMilli()).
			WillReturnResult(sqlmock.NewResult(0, 1))
		f.mock.ExpectCommit()

		require.NoError(t, f.store.RedeemAuthorizationCode(context.Background(), "code-1", f.pair))
	})

	t.Run("insert failure rolls back and propagates", func(t *testing.T) {
		f := setupTestFixture(t, sqlstore.SQLite)
		f.mock.ExpectBegin()
		f.mock.ExpectExec("DELETE FROM oauth_authorization_codes").WillReturnResult(sqlmock.NewResult(0, 1))
		f.mock.ExpectExec("INSERT INTO oauth_access_tokens").WillReturnError(errors.New("disk full"))
		f.mock.ExpectRollback()

		err := f.store.RedeemAuthorizationCode(context.Background(), "code-1", f.pair)
		require.Error(t, err)
		require.False(t, errors.Is(err, store.ErrNotFound))
		require.Contains(t, err.Error(), "disk full")
	})

	t.Run("begin failure propagates", func(t *testing.T) {
		f := setupTestFixture(t, sqlstore.SQLite)
		f.mock.ExpectBegin().WillReturnError(errors.New("connection refused"))

		err := f.store.RedeemAuthorizationCode(context.Background(), "code-1", f.pair)
		require.ErrorContains(t, err, "connection refused")
	})
}

func TestPostgresPlaceholders(t *testing.T) {
	f := setupTestFixture(t, sqlstore.Postgres)
	f.mock.ExpectBegin()
	f.mock.ExpectExec(regexp.QuoteMeta("DELETE FROM oauth_refresh_tokens WHERE value = $1 AND expires_at > $2")).
		WithArgs("refresh-0", f.now.UnixMilli()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	f.mock.ExpectExec(regexp.QuoteMeta("DELETE FROM oauth_access_tokens WHERE id = $1")).
		WithArgs("id-0").
		WillReturnResult(sqlmock.NewResult(0, 1))
	f.mock.ExpectExec(regexp.QuoteMeta("INSERT INTO oauth_access_tokens (id, value, client_id, user_id, scopes, grant_type, expires_at) VALUES ($1, $2, $3, $4, $5, $6, $7)")).
		WillReturnResult(sqlmock.NewResult(0, 1))
	f.mock.ExpectExec(regexp.QuoteMeta("INSERT INTO oauth_refresh_tokens (value, access_token_id, expires_at) VALUES ($1, $2, $3)")).
		WillReturnResult(sqlmock.NewResult(0, 1))
	f.mock.ExpectCommit()

	old := &store.RefreshGrant{Refresh: store.RefreshToken{Value: "refresh-0", AccessTokenID: "id-0"}}
	require.NoError(t, f.store.RotateRefreshToken(context.Background(), old, f.pair))
}

func TestFindAccessTokenQueryError(t *testing.T) {
	f := setupTestFixture(t, sqlstore.SQLite)
	f.mock.ExpectQuery("SELECT (.+) FROM oauth_access_tokens WHERE value").
		WillReturnError(errors.New("timeout"))

	_, err := f.store.FindAccessToken(context.Background(), "access-1")
	require.ErrorContains(t, err, "timeout")
	require.False(t, errors.Is(err, store.ErrNotFound))
}

func TestFindAccessTokenNoRows(t *testing.T) {
	f := setupTestFixture(t, sqlstore.SQLite)
	f.mock.ExpectQuery("SELECT (.+) FROM oauth_access_tokens WHERE value").
		WillReturnRows(sqlmock.NewRows([]string{"id", "value", "client_id", "user_id", "scopes", "grant_type", "expires_at"}))

	_, err := f.store.FindAccessToken(context.Background(), "access-1")
	require.True(t, errors.Is(err, store.ErrNotFound))
}

func TestMigrate(t *testing.T) {
	f := setupTestFixture(t, sqlstore.MySQL)
	f.mock.ExpectExec("CREATE TABLE IF NOT EXISTS oauth_authorization_codes").WillReturnResult(sqlmock.NewResult(0, 0))
	f.mock.ExpectExec("CREATE TABLE IF NOT EXISTS oauth_access_tokens (.+) INDEX idx_oauth_access_tokens_user_client").WillReturnResult(sqlmock.NewResult(0, 0))
	f.mock.ExpectExec("CREATE TABLE IF NOT EXISTS oauth_refresh_tokens").WillReturnResult(sqlmock.NewResult(0, 0))

	require.NoError(t, f.store.Migrate(context.Background()))
}
