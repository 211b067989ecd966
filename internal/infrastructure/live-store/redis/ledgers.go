package redislivestore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/arkade-os/tokend/internal/core/domain"
	"github.com/arkade-os/tokend/internal/core/ports"
	"github.com/redis/go-redis/v9"
)

const ledgersHashKey = "ledgerStore:snapshots"

type ledgerStore struct {
	rdb          *redis.Client
	numOfRetries int
	retryDelay   time.Duration
}

func NewLedgerStore(rdb *redis.Client, numOfRetries int) ports.LedgerStore {
	return &ledgerStore{
		rdb:          rdb,
		numOfRetries: numOfRetries,
		retryDelay:   10 * time.Millisecond,
	}
}

func (s *ledgerStore) Get(ctx context.Context, id string) (*domain.LedgerSnapshot, error) {
	str, err := s.rdb.HGet(ctx, ledgersHashKey, id).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get ledger %s: %v", id, err)
	}
	var ledger domain.LedgerSnapshot
	if err := json.Unmarshal([]byte(str), &ledger); err != nil {
		return nil, fmt.Errorf("malformed ledger in storage %s: %v", id, err)
	}
	if ledger.Balances == nil {
		ledger.Balances = make(map[domain.AccountID]uint64)
	}
	return &ledger, nil
}

// Set ignores snapshots older than the cached one. The version check and the write happen in a
// single optimistic transaction on the hash key.
func (s *ledgerStore) Set(ctx context.Context, ledger domain.LedgerSnapshot) error {
	val, err := json.Marshal(ledger)
	if err != nil {
		return fmt.Errorf("failed to marshal ledger %s: %v", ledger.Id, err)
	}

	for i := 0; i < s.numOfRetries; i++ {
		if err = s.rdb.Watch(ctx, func(tx *redis.Tx) error {
			str, err := tx.HGet(ctx, ledgersHashKey, ledger.Id).Result()
			if err != nil && !errors.Is(err, redis.Nil) {
				return err
			}
			if err == nil {
				var cached domain.LedgerSnapshot
				if err := json.Unmarshal([]byte(str), &cached); err == nil &&
					cached.Version > ledger.Version {
					return nil
				}
			}

			_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
				pipe.HSet(ctx, ledgersHashKey, ledger.Id, val)
				return nil
			})
			return err
		}, ledgersHashKey); err == nil {
			return nil
		}
		time.Sleep(s.retryDelay)
	}
	return fmt.Errorf(
		"failed to set ledger %s after max number of retries: %v", ledger.Id, err,
	)
}

func (s *ledgerStore) Delete(ctx context.Context, id string) error {
	if err := s.rdb.HDel(ctx, ledgersHashKey, id).Err(); err != nil {
		return fmt.Errorf("failed to delete ledger %s: %v", id, err)
	}
	return nil
}

func (s *ledgerStore) Len(ctx context.Context) (int64, error) {
	return s.rdb.HLen(ctx, ledgersHashKey).Result()
}
