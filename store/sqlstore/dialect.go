package sqlstore

import (
	"strconv"
	"strings"
	"time"

	"github.com/go-sql-driver/mysql"
	_ "github.com/lib/pq" // postgres driver
	"github.com/pkg/errors"
	_ "modernc.org/sqlite" // sqlite driver
)

// Dialect selects the database/sql driver and the SQL flavour the store speaks.
type Dialect string

const (
	SQLite   Dialect = "sqlite"
	Postgres Dialect = "postgres"
	MySQL    Dialect = "mysql"
)

func (d Dialect) driverName() (string, error) {
	switch d {
	case SQLite:
		return "sqlite", nil
	case Postgres:
		return "postgres", nil
	case MySQL:
		return "mysql", nil
	}
	return "", errors.Errorf("unsupported sql dialect %q", d)
}

// rebind rewrites ? placeholders into the dialect's bind variable syntax.
func (d Dialect) rebind(query string) string {
	if d != Postgres {
		return query
	}
	var b strings.Builder
	b.Grow(len(query) + 8)
	n := 0
	for i := 0; i < len(query); i++ {
		if query[i] != '?' {
			b.WriteByte(query[i])
			continue
		}
		n++
		b.WriteByte('$')
		b.WriteString(strconv.Itoa(n))
	}
	return b.String()
}

// normalizeDSN applies driver defaults the store relies on.
func (d Dialect) normalizeDSN(dsn string) (string, error) {
	if d != MySQL {
		return dsn, nil
	}
	cfg, err := mysql.ParseDSN(dsn)
	if err != nil {
		return "", errors.Wrap(err, "parsing mysql dsn")
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 5 * time.Second
	}
	return cfg.FormatDSN(), nil
}

func (d Dialect) schema() []string {
	codes := `CREATE TABLE IF NOT EXISTS oauth_authorization_codes (
	value VARCHAR(255) NOT NULL PRIMARY KEY,
	client_id VARCHAR(255) NOT NULL,
	user_id VARCHAR(255) NOT NULL,
	redirect_uri TEXT NOT NULL,
	scopes TEXT NOT NULL,
	expires_at BIGINT NOT NULL
)`
	refresh := `CREATE TABLE IF NOT EXISTS oauth_refresh_tokens (
	value VARCHAR(255) NOT NULL PRIMARY KEY,
	access_token_id VARCHAR(64) NOT NULL UNIQUE,
	expires_at BIGINT NOT NULL
)`
	if d == MySQL {
		return []string{codes, `CREATE TABLE IF NOT EXISTS oauth_access_tokens (
	id VARCHAR(64) NOT NULL PRIMARY KEY,
	value VARCHAR(255) NOT NULL UNIQUE,
	client_id VARCHAR(255) NOT NULL,
	user_id VARCHAR(255) NOT NULL,
	scopes TEXT NOT NULL,
	grant_type VARCHAR(32) NOT NULL,
	expires_at BIGINT NOT NULL,
	INDEX idx_oauth_access_tokens_user_client (user_id, client_id)
)`, refresh}
	}
	return []string{codes, `CREATE TABLE IF NOT EXISTS oauth_access_tokens (
	id VARCHAR(64) NOT NULL PRIMARY KEY,
	value VARCHAR(255) NOT NULL UNIQUE,
	client_id VARCHAR(255) NOT NULL,
	user_id VARCHAR(255) NOT NULL,
	scopes TEXT NOT NULL,
	grant_type VARCHAR(32) NOT NULL,
	expires_at BIGINT NOT NULL
)`, `CREATE INDEX IF NOT EXISTS idx_oauth_access_tokens_user_client ON oauth_access_tokens (user_id, client_id)`, refresh}
}
