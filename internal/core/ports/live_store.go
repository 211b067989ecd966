package ports

import (
	"context"

	"github.com/arkade-os/tokend/internal/core/domain"
)

type LiveStore interface {
	Ledgers() LedgerStore
}

// LedgerStore caches the latest committed snapshot of every ledger.
type LedgerStore interface {
	// Get returns nil if the ledger is not cached.
	Get(ctx context.Context, id string) (*domain.LedgerSnapshot, error)
	Set(ctx context.Context, ledger domain.LedgerSnapshot) error
	Delete(ctx context.Context, id string) error
	Len(ctx context.Context) (int64, error)
}
