package errors

import (
	"fmt"
	"math"
	"testing"

	"github.com/stretchr/testify/require"
	grpccodes "google.golang.org/grpc/codes"
)

func generateErrorFixtures() []Error {
	return []Error{
		INTERNAL_ERROR.New("failed to persist ledger").
			WithMetadata(map[string]any{
				"component": "database",
				"operation": "upsert",
			}),

		LEDGER_NOT_FOUND.New("ledger %s not found", "b7f4").
			WithMetadata(LedgerMetadata{LedgerId: "b7f4"}),

		INVALID_CALLER.New("missing caller").
			WithMetadata(InvalidCallerMetadata{LedgerId: "b7f4"}),

		BALANCE_OVERFLOW.New("credit overflows receiver balance").
			WithMetadata(BalanceOverflowMetadata{
				LedgerId: "b7f4",
				To:       "bob",
				Balance:  18446744073709551615,
				Value:    1,
			}),

		INVARIANT_VIOLATION.New("sum of balances differs from total supply").
			WithMetadata(InvariantViolationMetadata{LedgerId: "b7f4", TotalSupply: 1000}),
	}
}

func TestErrors(t *testing.T) {
	fixtures := generateErrorFixtures()
	codes := make(map[uint16]struct{})

	for _, err := range fixtures {
		t.Run(err.CodeName(), func(t *testing.T) {
			require.NotEmpty(t, err.Error())
			require.Contains(t, err.Error(), err.CodeName())
			require.NotNil(t, err.Log())
			require.NotEqual(t, grpccodes.OK, err.GrpcCode())

			_, dup := codes[err.Code()]
			require.False(t, dup, "duplicated code %d", err.Code())
			codes[err.Code()] = struct{}{}
		})
	}
}

func TestMetadata(t *testing.T) {
	err := BALANCE_OVERFLOW.New("overflow").WithMetadata(BalanceOverflowMetadata{
		LedgerId: "b7f4",
		To:       "bob",
		Balance:  10,
		Value:    5,
	})

	metadata := err.Metadata()
	require.Equal(t, "b7f4", metadata["ledger_id"])
	require.Equal(t, "bob", metadata["to"])
	require.Equal(t, "10", metadata["balance"])
	require.Equal(t, "5", metadata["value"])

	maxAmount := BALANCE_OVERFLOW.New("overflow").WithMetadata(BalanceOverflowMetadata{
		LedgerId: "b7f4",
		To:       "bob",
		Balance:  math.MaxUint64,
		Value:    math.MaxUint64 - 1,
	})
	metadata = maxAmount.Metadata()
	require.Equal(t, "18446744073709551615", metadata["balance"])
	require.Equal(t, "18446744073709551614", metadata["value"])

	empty := INVALID_CALLER.New("missing caller")
	require.Equal(t, map[string]string{"caller": ""}, empty.Metadata())
}

func TestWrap(t *testing.T) {
	cause := fmt.Errorf("disk full")
	err := INTERNAL_ERROR.Wrap(cause)

	require.ErrorIs(t, err, cause)
	require.Equal(t, "INTERNAL_ERROR (0): disk full", err.Error())
}
