package domain

import (
	"context"
	"errors"
)

var (
	ErrLedgerNotFound = errors.New("ledger not found")
	// ErrLedgerConflict is returned when the stored ledger changed since it was read.
	ErrLedgerConflict = errors.New("ledger version conflict")
)

type LedgerRepository interface {
	AddOrUpdateLedger(ctx context.Context, ledger LedgerSnapshot) error
	// UpdateLedger stores the ledger only if the stored version still equals prevVersion,
	// otherwise it returns ErrLedgerConflict, or ErrLedgerNotFound if there's no such ledger.
	UpdateLedger(ctx context.Context, ledger LedgerSnapshot, prevVersion uint64) error
	// GetLedger returns ErrLedgerNotFound if there's no ledger with the given id.
	GetLedger(ctx context.Context, id string) (*LedgerSnapshot, error)
	GetLedgerIds(ctx context.Context) ([]string, error)
	Close()
}

type EventRepository interface {
	Save(ctx context.Context, topic, id string, events []Event) error
	// GetEvents returns the events saved for the given id, sorted by sequence number.
	GetEvents(ctx context.Context, topic, id string) ([]Event, error)
	RegisterEventsHandler(topic string, handler func(events []Event))
	ClearRegisteredHandlers(topics ...string)
	Close()
}
