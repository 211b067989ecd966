package badgerdb

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sort"
	"time"

	"github.com/arkade-os/tokend/internal/core/domain"
	"github.com/dgraph-io/badger/v4"
	"github.com/timshannon/badgerhold/v4"
)

const ledgerStoreDir = "ledgers"

type ledgerDTO struct {
	Id          string
	Owner       string
	TotalSupply uint64
	Balances    map[string]uint64
	Version     uint64
	CreatedAt   int64
	UpdatedAt   int64
}

type ledgerRepository struct {
	store *badgerhold.Store
}

func NewLedgerRepository(config ...interface{}) (domain.LedgerRepository, error) {
	baseDir, logger, ok := parseConfig(config)
	if !ok {
		return nil, fmt.Errorf("invalid config")
	}

	var dir string
	if len(baseDir) > 0 {
		dir = filepath.Join(baseDir, ledgerStoreDir)
	}
	store, err := createDB(dir, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to open ledger store: %s", err)
	}

	return &ledgerRepository{store}, nil
}

func (r *ledgerRepository) AddOrUpdateLedger(
	ctx context.Context, ledger domain.LedgerSnapshot,
) error {
	dto := toLedgerDTO(ledger)
	err := r.store.Upsert(dto.Id, dto)
	attempts := 1
	for errors.Is(err, badger.ErrConflict) && attempts <= maxRetries {
		time.Sleep(100 * time.Millisecond)
		err = r.store.Upsert(dto.Id, dto)
		attempts++
	}
	if err != nil {
		return fmt.Errorf("failed to upsert ledger %s: %w", ledger.Id, err)
	}
	return nil
}

func (r *ledgerRepository) UpdateLedger(
	ctx context.Context, ledger domain.LedgerSnapshot, prevVersion uint64,
) error {
	dto := toLedgerDTO(ledger)
	update := func(tx *badger.Txn) error {
		var stored ledgerDTO
		if err := r.store.TxGet(tx, dto.Id, &stored); err != nil {
			if errors.Is(err, badgerhold.ErrNotFound) {
				return domain.ErrLedgerNotFound
			}
			return err
		}
		if stored.Version != prevVersion {
			return domain.ErrLedgerConflict
		}
		return r.store.TxUpdate(tx, dto.Id, dto)
	}

	err := r.store.Badger().Update(update)
	attempts := 1
	for errors.Is(err, badger.ErrConflict) && attempts <= maxRetries {
		time.Sleep(100 * time.Millisecond)
		err = r.store.Badger().Update(update)
		attempts++
	}
	if err != nil {
		return fmt.Errorf("failed to update ledger %s: %w", ledger.Id, err)
	}
	return nil
}

func (r *ledgerRepository) GetLedger(
	ctx context.Context, id string,
) (*domain.LedgerSnapshot, error) {
	var dto ledgerDTO
	if err := r.store.Get(id, &dto); err != nil {
		if errors.Is(err, badgerhold.ErrNotFound) {
			return nil, domain.ErrLedgerNotFound
		}
		return nil, fmt.Errorf("failed to get ledger %s: %w", id, err)
	}
	ledger := dto.toSnapshot()
	return &ledger, nil
}

func (r *ledgerRepository) GetLedgerIds(ctx context.Context) ([]string, error) {
	var dtos []ledgerDTO
	if err := r.store.Find(&dtos, nil); err != nil && !errors.Is(err, badgerhold.ErrNotFound) {
		return nil, fmt.Errorf("failed to list ledgers: %w", err)
	}

	sort.SliceStable(dtos, func(i, j int) bool {
		return dtos[i].CreatedAt < dtos[j].CreatedAt
	})
	ids := make([]string, 0, len(dtos))
	for _, dto := range dtos {
		ids = append(ids, dto.Id)
	}
	return ids, nil
}

func (r *ledgerRepository) Close() {
	// nolint:all
	r.store.Close()
}

func toLedgerDTO(ledger domain.LedgerSnapshot) ledgerDTO {
	balances := make(map[string]uint64, len(ledger.Balances))
	for account, amount := range ledger.Balances {
		balances[account.String()] = amount
	}
	return ledgerDTO{
		Id:          ledger.Id,
		Owner:       ledger.Owner.String(),
		TotalSupply: ledger.TotalSupply,
		Balances:    balances,
		Version:     ledger.Version,
		CreatedAt:   ledger.CreatedAt,
		UpdatedAt:   ledger.UpdatedAt,
	}
}

func (d ledgerDTO) toSnapshot() domain.LedgerSnapshot {
	balances := make(map[domain.AccountID]uint64, len(d.Balances))
	for account, amount := range d.Balances {
		balances[domain.AccountID(account)] = amount
	}
	return domain.LedgerSnapshot{
		Id:          d.Id,
		Owner:       domain.AccountID(d.Owner),
		TotalSupply: d.TotalSupply,
		Balances:    balances,
		Version:     d.Version,
		CreatedAt:   d.CreatedAt,
		UpdatedAt:   d.UpdatedAt,
	}
}
