package redislivestore

import (
	"github.com/arkade-os/tokend/internal/core/ports"
	"github.com/redis/go-redis/v9"
)

type redisLiveStore struct {
	ledgerStore ports.LedgerStore
}

func NewLiveStore(rdb *redis.Client, numOfRetries int) ports.LiveStore {
	return &redisLiveStore{
		ledgerStore: NewLedgerStore(rdb, numOfRetries),
	}
}

func (s *redisLiveStore) Ledgers() ports.LedgerStore {
	return s.ledgerStore
}
