package sessions

import "context"

// Repo stores pending authorization transactions.
type Repo interface {
	// Save stores a transaction under its ID
	Save(ctx context.Context, txn *Transaction) error

	// Get retrieves a transaction without consuming it
	Get(ctx context.Context, id string) (*Transaction, error)

	// Take atomically retrieves and removes a transaction, so a decision is applied once
	Take(ctx context.Context, id string) (*Transaction, error)

	// DeleteExpired removes transactions older than the repo's maximum age
	DeleteExpired(ctx context.Context) (int, error)
}
