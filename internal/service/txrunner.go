package service

import (
	"context"

	"lumen.app/studio/core/db"
	"lumen.app/studio/internal/store"
)

// StoreProvider exposes only the stores needed by a transactional operation.
type StoreProvider interface {
	Generations() store.GenerationStore
	Notifications() store.NotificationStore
}

// TxRunner runs functions within a transaction and provides stores bound to that transaction.
type TxRunner interface {
	WithTx(ctx context.Context, fn func(ctx context.Context, stores StoreProvider) error) error
}

type dbTxRunner struct {
	db     *db.DB
	stores *store.Stores
}

// NewTxRunner builds a TxRunner backed by the core DB.
func NewTxRunner(database *db.DB, stores *store.Stores) TxRunner {
	return &dbTxRunner{db: database, stores: stores}
}

// WithTx hands fn a ctx carrying the transaction; stores resolve it from there.
func (r *dbTxRunner) WithTx(ctx context.Context, fn func(ctx context.Context, stores StoreProvider) error) error {
	return r.db.WithTx(ctx, func(txCtx context.Context) error {
		return fn(txCtx, r.stores)
	})
}
