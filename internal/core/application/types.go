package application

import (
	"context"

	"github.com/arkade-os/tokend/internal/core/domain"
	"github.com/arkade-os/tokend/pkg/errors"
)

type Service interface {
	Start() errors.Error
	Stop()
	Deploy(
		ctx context.Context, caller domain.AccountID, initialSupply uint64,
	) (ledgerId string, events []domain.Event, err errors.Error)
	TotalSupply(ctx context.Context, ledgerId string) (uint64, errors.Error)
	BalanceOf(ctx context.Context, ledgerId string, account domain.AccountID) (uint64, errors.Error)
	Owner(ctx context.Context, ledgerId string) (domain.AccountID, errors.Error)
	GetLedgerInfo(ctx context.Context, ledgerId string) (*LedgerInfo, errors.Error)
	Transfer(
		ctx context.Context, ledgerId string, caller, to domain.AccountID, value uint64,
	) (*TransferResult, errors.Error)
	ListLedgers(ctx context.Context) ([]string, errors.Error)
	GetEvents(ctx context.Context, ledgerId string) ([]domain.Event, errors.Error)
	Audit(ctx context.Context, ledgerId string) errors.Error
	AuditAll(ctx context.Context) ([]AuditReport, errors.Error)
	GetEventsChannel(ctx context.Context) <-chan []domain.Event
}

// TransferResult reports the outcome of a transfer. Ok is false when the caller's balance was too
// low, in which case Events is empty and nothing has been committed.
type TransferResult struct {
	Ok     bool
	Events []domain.Event
}

type LedgerInfo struct {
	Id          string
	Owner       domain.AccountID
	TotalSupply uint64
	Version     uint64
	Holders     int
	CreatedAt   int64
	UpdatedAt   int64
}

type AuditReport struct {
	LedgerId string
	Err      error
}

func (r AuditReport) Ok() bool {
	return r.Err == nil
}
