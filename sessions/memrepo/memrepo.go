package memrepo

import (
	"context"
	"sync"
	"time"

	"github.com/pkg/errors"

	oautherrors "github.com/jrsteele09/go-oauth-engine/internal/errors"
	"github.com/jrsteele09/go-oauth-engine/sessions"
)

var _ sessions.Repo = (*TransactionRepo)(nil)

// TransactionRepo keeps transactions in memory. Transactions older than maxAge are treated
// as missing and removed by DeleteExpired.
type TransactionRepo struct {
	transactions map[string]*sessions.Transaction
	maxAge       time.Duration
	nowFunc      func() time.Time
	lock         sync.Mutex
}

type Option func(*TransactionRepo)

func WithNowFunc(now func() time.Time) Option {
	return func(r *TransactionRepo) {
		r.nowFunc = now
	}
}

func New(maxAge time.Duration, opts ...Option) *TransactionRepo {
	r := &TransactionRepo{
		transactions: make(map[string]*sessions.Transaction),
		maxAge:       maxAge,
		nowFunc:      time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func (r *TransactionRepo) Save(_ context.Context, txn *sessions.Transaction) error {
	if txn.ID == "" {
		return errors.New("[TransactionRepo.Save] transaction id is required")
	}
	r.lock.Lock()
	defer r.lock.Unlock()
	if txn.CreatedAt.IsZero() {
		txn.CreatedAt = r.nowFunc()
	}
	stored := *txn
	r.transactions[txn.ID] = &stored
	return nil
}

func (r *TransactionRepo) Get(_ context.Context, id string) (*sessions.Transaction, error) {
	r.lock.Lock()
	defer r.lock.Unlock()
	txn, ok := r.transactions[id]
	if !ok || r.expired(txn) {
		return nil, oautherrors.ErrTransactionNotFound
	}
	t := *txn
	return &t, nil
}

func (r *TransactionRepo) Take(_ context.Context, id string) (*sessions.Transaction, error) {
	r.lock.Lock()
	defer r.lock.Unlock()
	txn, ok := r.transactions[id]
	if !ok {
		return nil, oautherrors.ErrTransactionNotFound
	}
	delete(r.transactions, id)
	if r.expired(txn) {
		return nil, oautherrors.ErrTransactionNotFound
	}
	return txn, nil
}

func (r *TransactionRepo) DeleteExpired(_ context.Context) (int, error) {
	r.lock.Lock()
	defer r.lock.Unlock()
	removed := 0
	for id, txn := range r.transactions {
		if r.expired(txn) {
			delete(r.transactions, id)
			removed++
		}
	}
	return removed, nil
}

func (r *TransactionRepo) expired(txn *sessions.Transaction) bool {
	return r.maxAge > 0 && !txn.CreatedAt.Add(r.maxAge).After(r.nowFunc())
}
