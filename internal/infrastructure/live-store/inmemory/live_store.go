package inmemorylivestore

import "github.com/arkade-os/tokend/internal/core/ports"

type inMemoryLiveStore struct {
	ledgerStore ports.LedgerStore
}

func NewLiveStore() ports.LiveStore {
	return &inMemoryLiveStore{
		ledgerStore: NewLedgerStore(),
	}
}

func (s *inMemoryLiveStore) Ledgers() ports.LedgerStore {
	return s.ledgerStore
}
