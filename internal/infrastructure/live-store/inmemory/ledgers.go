package inmemorylivestore

import (
	"context"
	"sync"

	"github.com/arkade-os/tokend/internal/core/domain"
	"github.com/arkade-os/tokend/internal/core/ports"
)

type ledgerStore struct {
	lock    sync.RWMutex
	ledgers map[string]domain.LedgerSnapshot
}

func NewLedgerStore() ports.LedgerStore {
	return &ledgerStore{
		ledgers: make(map[string]domain.LedgerSnapshot),
	}
}

func (m *ledgerStore) Get(_ context.Context, id string) (*domain.LedgerSnapshot, error) {
	m.lock.RLock()
	defer m.lock.RUnlock()

	ledger, ok := m.ledgers[id]
	if !ok {
		return nil, nil
	}
	ledger = copySnapshot(ledger)
	return &ledger, nil
}

// Set ignores snapshots older than the cached one.
func (m *ledgerStore) Set(_ context.Context, ledger domain.LedgerSnapshot) error {
	m.lock.Lock()
	defer m.lock.Unlock()

	if cached, ok := m.ledgers[ledger.Id]; ok && cached.Version > ledger.Version {
		return nil
	}
	m.ledgers[ledger.Id] = copySnapshot(ledger)
	return nil
}

func (m *ledgerStore) Delete(_ context.Context, id string) error {
	m.lock.Lock()
	defer m.lock.Unlock()

	delete(m.ledgers, id)
	return nil
}

func (m *ledgerStore) Len(_ context.Context) (int64, error) {
	m.lock.RLock()
	defer m.lock.RUnlock()

	return int64(len(m.ledgers)), nil
}

func copySnapshot(ledger domain.LedgerSnapshot) domain.LedgerSnapshot {
	balances := make(map[domain.AccountID]uint64, len(ledger.Balances))
	for account, amount := range ledger.Balances {
		balances[account] = amount
	}
	ledger.Balances = balances
	return ledger
}
