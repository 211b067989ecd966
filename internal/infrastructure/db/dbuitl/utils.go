package dbutil

import (
	"encoding/json"
	"fmt"
	"sort"
	"strconv"

	"github.com/arkade-os/tokend/internal/core/domain"
)

// DeserializeEvent decodes a JSON-encoded event by looking at its Type field.
func DeserializeEvent(buf []byte) (domain.Event, error) {
	var eventType struct {
		Type domain.EventType
	}

	if err := json.Unmarshal(buf, &eventType); err != nil {
		return nil, err
	}

	switch eventType.Type {
	case domain.EventTypeTransfer:
		var event = domain.TransferEvent{}
		if err := json.Unmarshal(buf, &event); err != nil {
			return nil, err
		}
		return event, nil
	}

	return nil, fmt.Errorf("unknown event type %d", eventType.Type)
}

// SortEvents sorts transfer events by sequence number.
func SortEvents(events []domain.Event) {
	sort.SliceStable(events, func(i, j int) bool {
		return seq(events[i]) < seq(events[j])
	})
}

// FormatAmount and ParseAmount store uint64 amounts as decimal text, SQL integers are signed.
func FormatAmount(amount uint64) string {
	return strconv.FormatUint(amount, 10)
}

func ParseAmount(amount string) (uint64, error) {
	v, err := strconv.ParseUint(amount, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("malformed amount %q: %w", amount, err)
	}
	return v, nil
}

func seq(event domain.Event) uint64 {
	if e, ok := event.(domain.TransferEvent); ok {
		return e.Seq
	}
	return 0
}
