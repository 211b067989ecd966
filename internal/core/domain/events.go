package domain

const LedgerTopic = "ledger"

type EventType int

const (
	EventTypeUndefined EventType = iota
	EventTypeTransfer
)

func (t EventType) String() string {
	switch t {
	case EventTypeTransfer:
		return "Transfer"
	default:
		return "Undefined"
	}
}

type Event interface {
	GetTopic() string
	GetType() EventType
}

// TransferEvent notifies a movement of value. From is nil for the genesis transfer that assigns
// the initial supply. Seq is the ledger version at which the event was emitted.
type TransferEvent struct {
	Id        string
	Type      EventType
	Seq       uint64
	From      *AccountID
	To        *AccountID
	Value     uint64
	Timestamp int64
}

func (e TransferEvent) GetTopic() string   { return LedgerTopic }
func (e TransferEvent) GetType() EventType { return e.Type }

func (e TransferEvent) IsGenesis() bool {
	return e.From == nil
}
