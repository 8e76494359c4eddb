package memrepo_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	oautherrors "github.com/jrsteele09/go-oauth-engine/internal/errors"
	"github.com/jrsteele09/go-oauth-engine/sessions"
	"github.com/jrsteele09/go-oauth-engine/sessions/memrepo"
	"github.com/stretchr/testify/require"
)

type fixture struct {
	repo *memrepo.TransactionRepo
	now  time.Time
}

func setupTestFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{now: time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)}
	f.repo = memrepo.New(10*time.Minute, memrepo.WithNowFunc(func() time.Time { return f.now }))
	return f
}

func TestTransactionRepo(t *testing.T) {
	ctx := context.Background()

	t.Run("take consumes the transaction", func(t *testing.T) {
		f := setupTestFixture(t)
		require.NoError(t, f.repo.Save(ctx, &sessions.Transaction{ID: "t1", Client: "c1", Scopes: []string{"read"}}))

		got, err := f.repo.Get(ctx, "t1")
		require.NoError(t, err)
		require.Equal(t, f.now, got.CreatedAt)

		taken, err := f.repo.Take(ctx, "t1")
		require.NoError(t, err)
		require.Equal(t, "c1", taken.Client)

		_, err = f.repo.Take(ctx, "t1")
		require.True(t, errors.Is(err, oautherrors.ErrTransactionNotFound))
	})

	t.Run("expired transactions are missing", func(t *testing.T) {
		f := setupTestFixture(t)
		require.NoError(t, f.repo.Save(ctx, &sessions.Transaction{ID: "t1"}))
		require.NoError(t, f.repo.Save(ctx, &sessions.Transaction{ID: "t2"}))
		f.now = f.now.Add(10 * time.Minute)

		_, err := f.repo.Get(ctx, "t1")
		require.True(t, errors.Is(err, oautherrors.ErrTransactionNotFound))
		_, err = f.repo.Take(ctx, "t1")
		require.True(t, errors.Is(err, oautherrors.ErrTransactionNotFound))

		removed, err := f.repo.DeleteExpired(ctx)
		require.NoError(t, err)
		require.Equal(t, 1, removed)
	})

	t.Run("id is required", func(t *testing.T) {
		f := setupTestFixture(t)
		require.Error(t, f.repo.Save(ctx, &sessions.Transaction{}))
	})

	t.Run("concurrent take succeeds once", func(t *testing.T) {
		f := setupTestFixture(t)
		require.NoError(t, f.repo.Save(ctx, &sessions.Transaction{ID: "t1"}))

		var wg sync.WaitGroup
		var wins atomic.Int32
		for i := 0; i < 10; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				if _, err := f.repo.Take(ctx, "t1"); err == nil {
					wins.Add(1)
				}
			}()
		}
		wg.Wait()
		require.Equal(t, int32(1), wins.Load())
	})
}
