package boltstore_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/jrsteele09/go-oauth-engine/store"
	"github.com/jrsteele09/go-oauth-engine/store/boltstore"
	"github.com/jrsteele09/go-oauth-engine/store/storetest"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func TestBoltStore(t *testing.T) {
	storetest.Run(t, func(t *testing.T, now func() time.Time) store.Store {
		s, err := boltstore.Open(filepath.Join(t.TempDir(), "oauth.db"), boltstore.WithNowFunc(now))
		require.NoError(t, err)
		return s
	})
}

func TestReopenKeepsCredentials(t *testing.T) {
	path := filepath.Join(t.TempDir(), "oauth.db")
	ctx := context.Background()

	s, err := boltstore.Open(path)
	require.NoError(t, err)
	code := &store.AuthorizationCode{Value: "code-1", ClientID: "c1", UserID: "u1", RedirectURI: "https://app/cb", ExpiresAt: time.Now().Add(time.Minute)}
	require.NoError(t, s.CreateAuthorizationCode(ctx, code))
	require.NoError(t, s.Close())

	s, err = boltstore.Open(path)
	require.NoError(t, err)
	defer func() { require.NoError(t, s.Close()) }()

	found, err := s.FindAuthorizationCode(ctx, "code-1")
	require.NoError(t, err)
	require.Equal(t, "https://app/cb", found.RedirectURI)
}

func TestOpenBadPath(t *testing.T) {
	dir := t.TempDir()
	blocker := filepath.Join(dir, "file")
	require.NoError(t, os.WriteFile(blocker, []byte("x"), 0600))

	_, err := boltstore.Open(filepath.Join(blocker, "oauth.db"))
	require.Error(t, err)
}
