package domain

import (
	"errors"
	"fmt"
	"math/bits"
	"time"
)

var (
	// ErrBalanceOverflow is returned when crediting an account would exceed the uint64 range.
	ErrBalanceOverflow = errors.New("balance overflow")
	// ErrInvariantViolation is returned when the sum of balances differs from the total supply.
	ErrInvariantViolation = errors.New("ledger invariant violation")
)

// AccountID identifies a ledger participant. The ledger never inspects its content.
type AccountID string

func (a AccountID) String() string {
	return string(a)
}

// Ledger is a fixed-supply token ledger. The sum of all balances always equals the total supply
// fixed at construction. A Ledger is not safe for concurrent use.
type Ledger struct {
	id          string
	owner       AccountID
	totalSupply uint64
	balances    map[AccountID]uint64
	version     uint64
	createdAt   int64
	updatedAt   int64

	changes []Event
}

// NewLedger credits the whole initial supply to the caller, who is recorded as owner, and records
// the genesis transfer (no sender).
func NewLedger(id string, caller AccountID, initialSupply uint64) *Ledger {
	now := time.Now().Unix()
	l := &Ledger{
		id:          id,
		owner:       caller,
		totalSupply: initialSupply,
		balances:    map[AccountID]uint64{caller: initialSupply},
		createdAt:   now,
		updatedAt:   now,
		changes:     make([]Event, 0, 1),
	}
	to := caller
	l.raise(TransferEvent{To: &to, Value: initialSupply})
	return l
}

// RestoreLedger rebuilds a ledger from a snapshot without recording any event.
func RestoreLedger(snapshot LedgerSnapshot) *Ledger {
	balances := make(map[AccountID]uint64, len(snapshot.Balances))
	for account, amount := range snapshot.Balances {
		balances[account] = amount
	}
	return &Ledger{
		id:          snapshot.Id,
		owner:       snapshot.Owner,
		totalSupply: snapshot.TotalSupply,
		balances:    balances,
		version:     snapshot.Version,
		createdAt:   snapshot.CreatedAt,
		updatedAt:   snapshot.UpdatedAt,
		changes:     make([]Event, 0),
	}
}

func (l *Ledger) Id() string {
	return l.id
}

// Owner returns the account that created the ledger. It grants no privileges.
func (l *Ledger) Owner() AccountID {
	return l.owner
}

func (l *Ledger) TotalSupply() uint64 {
	return l.totalSupply
}

// BalanceOf returns the balance of the given account, zero if the account never held funds.
func (l *Ledger) BalanceOf(account AccountID) uint64 {
	return l.balances[account]
}

func (l *Ledger) Version() uint64 {
	return l.version
}

// Transfer moves value from the caller to the given account.
// It returns false, leaving the ledger untouched, if the caller's balance is lower than value.
// The receiver balance is read after the sender has been debited, so that a self-transfer leaves
// the balance unchanged. A credit that would overflow the receiver balance returns
// ErrBalanceOverflow before anything is written.
func (l *Ledger) Transfer(caller, to AccountID, value uint64) (bool, error) {
	senderBalance := l.BalanceOf(caller)
	if senderBalance < value {
		return false, nil
	}

	if caller != to {
		if _, carry := bits.Add64(l.BalanceOf(to), value, 0); carry != 0 {
			return false, fmt.Errorf(
				"%w: crediting %d to %s with balance %d",
				ErrBalanceOverflow, value, to, l.BalanceOf(to),
			)
		}
	}

	l.balances[caller] = senderBalance - value
	receiverBalance := l.BalanceOf(to)
	l.balances[to] = receiverBalance + value

	l.version++
	l.updatedAt = time.Now().Unix()

	from, receiver := caller, to
	l.raise(TransferEvent{From: &from, To: &receiver, Value: value})
	return true, nil
}

// Audit verifies that the balances add up to the total supply.
func (l *Ledger) Audit() error {
	var sum, carry uint64
	for account, amount := range l.balances {
		sum, carry = bits.Add64(sum, amount, 0)
		if carry != 0 {
			return fmt.Errorf(
				"%w: sum of balances overflows at account %s", ErrInvariantViolation, account,
			)
		}
	}
	if sum != l.totalSupply {
		return fmt.Errorf(
			"%w: sum of balances %d, total supply %d", ErrInvariantViolation, sum, l.totalSupply,
		)
	}
	return nil
}

// Events returns the events recorded since the ledger was created or restored, in order.
func (l *Ledger) Events() []Event {
	events := make([]Event, len(l.changes))
	copy(events, l.changes)
	return events
}

func (l *Ledger) Snapshot() LedgerSnapshot {
	balances := make(map[AccountID]uint64, len(l.balances))
	for account, amount := range l.balances {
		balances[account] = amount
	}
	return LedgerSnapshot{
		Id:          l.id,
		Owner:       l.owner,
		TotalSupply: l.totalSupply,
		Balances:    balances,
		Version:     l.version,
		CreatedAt:   l.createdAt,
		UpdatedAt:   l.updatedAt,
	}
}

func (l *Ledger) raise(event TransferEvent) {
	event.Id = l.id
	event.Type = EventTypeTransfer
	event.Seq = l.version
	event.Timestamp = l.updatedAt
	l.changes = append(l.changes, event)
}

// LedgerSnapshot is the persisted form of a Ledger.
type LedgerSnapshot struct {
	Id          string
	Owner       AccountID
	TotalSupply uint64
	Balances    map[AccountID]uint64
	Version     uint64
	CreatedAt   int64
	UpdatedAt   int64
}
