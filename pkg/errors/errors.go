package errors

import (
	"bytes"
	"encoding/json"
	"fmt"

	log "github.com/sirupsen/logrus"
	grpccodes "google.golang.org/grpc/codes"
)

// Code is the type representing a namespace error code.
type Code[MT any] struct {
	Code     uint16
	Name     string
	GrpcCode grpccodes.Code
}

// New creates a new error with the given code and the message
func (c Code[MT]) New(msg string, args ...any) TypedError[MT] {
	return &ErrorImpl[MT]{
		code:  c,
		cause: fmt.Errorf(msg, args...),
	}
}

// Wrap creates a new Error with the given code and the cause error
func (c Code[MT]) Wrap(cause error) TypedError[MT] {
	return &ErrorImpl[MT]{
		code:  c,
		cause: cause,
	}
}

func (c Code[MT]) String() string {
	return fmt.Sprintf("%s (%d)", c.Name, c.Code)
}

type Error interface {
	error
	Log() *log.Entry
	Code() uint16
	CodeName() string
	GrpcCode() grpccodes.Code
	Metadata() map[string]string
}

type TypedError[MT any] interface {
	Error
	WithMetadata(MT) TypedError[MT]
}

// ErrorImpl is the default concrete implementation of TypedError.
type ErrorImpl[MT any] struct {
	code     Code[MT]
	cause    error
	metadata MT
}

func (e *ErrorImpl[MT]) Log() *log.Entry {
	return log.WithField("name", e.code.Name).
		WithField("code", e.code.Code).
		WithField("metadata", e.metadata)
}

func (e *ErrorImpl[MT]) Metadata() map[string]string {
	// flatten whatever metadata type into strings
	metadata := make(map[string]string)
	buf, err := json.Marshal(e.metadata)
	if err != nil {
		return metadata
	}
	// numbers are kept as json.Number so that uint64 amounts don't lose precision
	var genericMap map[string]any
	dec := json.NewDecoder(bytes.NewReader(buf))
	dec.UseNumber()
	if err := dec.Decode(&genericMap); err != nil {
		return metadata
	}
	for k, v := range genericMap {
		vStr := ""
		if v != nil {
			vStr = fmt.Sprintf("%v", v)
		}
		metadata[k] = vStr
	}
	return metadata
}

func (e *ErrorImpl[MT]) GrpcCode() grpccodes.Code {
	return e.code.GrpcCode
}

func (e *ErrorImpl[MT]) Code() uint16 {
	return e.code.Code
}

func (e *ErrorImpl[MT]) CodeName() string {
	return e.code.Name
}

// Error() implements the error interface.
func (e *ErrorImpl[MT]) Error() string {
	return fmt.Sprintf("%s: %s", e.code.String(), e.cause.Error())
}

// Unwrap gives errors.Is/As access to the cause.
func (e *ErrorImpl[MT]) Unwrap() error {
	return e.cause
}

func (e *ErrorImpl[MT]) WithMetadata(metadata MT) TypedError[MT] {
	e.metadata = metadata
	return e
}

type LedgerMetadata struct {
	LedgerId string `json:"ledger_id"`
}

type InvalidCallerMetadata struct {
	LedgerId string `json:"ledger_id,omitempty"`
	Caller   string `json:"caller"`
}

type BalanceOverflowMetadata struct {
	LedgerId string `json:"ledger_id"`
	To       string `json:"to"`
	Balance  uint64 `json:"balance"`
	Value    uint64 `json:"value"`
}

type InvariantViolationMetadata struct {
	LedgerId    string `json:"ledger_id"`
	TotalSupply uint64 `json:"total_supply"`
}

var INTERNAL_ERROR = Code[map[string]any]{0, "INTERNAL_ERROR", grpccodes.Internal}
var LEDGER_NOT_FOUND = Code[LedgerMetadata]{1, "LEDGER_NOT_FOUND", grpccodes.NotFound}

var INVALID_CALLER = Code[InvalidCallerMetadata]{
	2,
	"INVALID_CALLER",
	grpccodes.Unauthenticated,
}

var BALANCE_OVERFLOW = Code[BalanceOverflowMetadata]{
	3,
	"BALANCE_OVERFLOW",
	grpccodes.FailedPrecondition,
}

var INVARIANT_VIOLATION = Code[InvariantViolationMetadata]{
	4,
	"INVARIANT_VIOLATION",
	grpccodes.DataLoss,
}
