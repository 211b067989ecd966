package pgdb

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/arkade-os/tokend/internal/core/domain"
	dbutil "github.com/arkade-os/tokend/internal/infrastructure/db/dbuitl"
)

const (
	upsertLedgerQuery = `
INSERT INTO ledger (id, owner, total_supply, version, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6)
ON CONFLICT(id) DO UPDATE SET
    owner = excluded.owner,
    total_supply = excluded.total_supply,
    version = excluded.version,
    updated_at = excluded.updated_at;`
	updateLedgerQuery = `
UPDATE ledger SET owner = $1, total_supply = $2, version = $3, updated_at = $4
WHERE id = $5 AND version = $6;`
	selectLedgerVersionQuery = `SELECT version FROM ledger WHERE id = $1;`
	deleteBalancesQuery      = `DELETE FROM balance WHERE ledger_id = $1;`
	insertBalanceQuery       = `INSERT INTO balance (ledger_id, account, amount) VALUES ($1, $2, $3);`
	selectLedgerQuery        = `
SELECT id, owner, total_supply, version, created_at, updated_at FROM ledger WHERE id = $1;`
	selectBalancesQuery  = `SELECT account, amount FROM balance WHERE ledger_id = $1;`
	selectLedgerIdsQuery = `SELECT id FROM ledger ORDER BY created_at ASC, id ASC;`
)

type ledgerRepository struct {
	db *sql.DB
}

func NewLedgerRepository(config ...interface{}) (domain.LedgerRepository, error) {
	if len(config) != 1 {
		return nil, fmt.Errorf("invalid config: expected 1 argument, got %d", len(config))
	}
	db, ok := config[0].(*sql.DB)
	if !ok {
		return nil, fmt.Errorf(
			"cannot open ledger repository: expected *sql.DB but got %T", config[0],
		)
	}

	return &ledgerRepository{db}, nil
}

// AddOrUpdateLedger replaces the stored ledger and its balances in a single transaction.
func (r *ledgerRepository) AddOrUpdateLedger(
	ctx context.Context, ledger domain.LedgerSnapshot,
) error {
	return execTx(ctx, r.db, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(
			ctx, upsertLedgerQuery,
			ledger.Id, ledger.Owner.String(), dbutil.FormatAmount(ledger.TotalSupply),
			int64(ledger.Version), ledger.CreatedAt, ledger.UpdatedAt,
		); err != nil {
			return fmt.Errorf("failed to upsert ledger %s: %w", ledger.Id, err)
		}

		return replaceBalances(ctx, tx, ledger)
	})
}

// UpdateLedger bumps the stored ledger only if nobody else did it since prevVersion was read.
func (r *ledgerRepository) UpdateLedger(
	ctx context.Context, ledger domain.LedgerSnapshot, prevVersion uint64,
) error {
	return execTx(ctx, r.db, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(
			ctx, updateLedgerQuery,
			ledger.Owner.String(), dbutil.FormatAmount(ledger.TotalSupply),
			int64(ledger.Version), ledger.UpdatedAt, ledger.Id, int64(prevVersion),
		)
		if err != nil {
			return fmt.Errorf("failed to update ledger %s: %w", ledger.Id, err)
		}
		rows, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("failed to update ledger %s: %w", ledger.Id, err)
		}
		if rows == 0 {
			var version int64
			if err := tx.QueryRowContext(
				ctx, selectLedgerVersionQuery, ledger.Id,
			).Scan(&version); err != nil {
				if errors.Is(err, sql.ErrNoRows) {
					return domain.ErrLedgerNotFound
				}
				return fmt.Errorf("failed to get version of ledger %s: %w", ledger.Id, err)
			}
			return fmt.Errorf(
				"%w: ledger %s is at version %d, expected %d",
				domain.ErrLedgerConflict, ledger.Id, version, prevVersion,
			)
		}

		return replaceBalances(ctx, tx, ledger)
	})
}

func (r *ledgerRepository) GetLedger(
	ctx context.Context, id string,
) (*domain.LedgerSnapshot, error) {
	var (
		ledger      domain.LedgerSnapshot
		owner       string
		totalSupply string
		version     int64
	)
	if err := r.db.QueryRowContext(ctx, selectLedgerQuery, id).Scan(
		&ledger.Id, &owner, &totalSupply, &version, &ledger.CreatedAt, &ledger.UpdatedAt,
	); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrLedgerNotFound
		}
		return nil, fmt.Errorf("failed to get ledger %s: %w", id, err)
	}

	supply, err := dbutil.ParseAmount(totalSupply)
	if err != nil {
		return nil, err
	}
	ledger.Owner = domain.AccountID(owner)
	ledger.TotalSupply = supply
	ledger.Version = uint64(version)

	rows, err := r.db.QueryContext(ctx, selectBalancesQuery, id)
	if err != nil {
		return nil, fmt.Errorf("failed to get balances of ledger %s: %w", id, err)
	}
	// nolint
	defer rows.Close()

	ledger.Balances = make(map[domain.AccountID]uint64)
	for rows.Next() {
		var account, amount string
		if err := rows.Scan(&account, &amount); err != nil {
			return nil, fmt.Errorf("failed to scan balance: %w", err)
		}
		value, err := dbutil.ParseAmount(amount)
		if err != nil {
			return nil, err
		}
		ledger.Balances[domain.AccountID(account)] = value
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating balances of ledger %s: %w", id, err)
	}

	return &ledger, nil
}

func (r *ledgerRepository) GetLedgerIds(ctx context.Context) ([]string, error) {
	rows, err := r.db.QueryContext(ctx, selectLedgerIdsQuery)
	if err != nil {
		return nil, fmt.Errorf("failed to list ledgers: %w", err)
	}
	// nolint
	defer rows.Close()

	ids := make([]string, 0)
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan ledger id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (r *ledgerRepository) Close() {
	// nolint:all
	r.db.Close()
}

func replaceBalances(ctx context.Context, tx *sql.Tx, ledger domain.LedgerSnapshot) error {
	if _, err := tx.ExecContext(ctx, deleteBalancesQuery, ledger.Id); err != nil {
		return fmt.Errorf("failed to reset balances of ledger %s: %w", ledger.Id, err)
	}

	stmt, err := tx.PrepareContext(ctx, insertBalanceQuery)
	if err != nil {
		return err
	}
	// nolint
	defer stmt.Close()

	for account, amount := range ledger.Balances {
		if _, err := stmt.ExecContext(
			ctx, ledger.Id, account.String(), dbutil.FormatAmount(amount),
		); err != nil {
			return fmt.Errorf("failed to insert balance of %s: %w", account, err)
		}
	}
	return nil
}
