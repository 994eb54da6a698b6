package vm

import (
	"errors"
	"fmt"
)

// ErrContract is matched by every contract violation. A contract
// violation means the caller (normally generated bytecode) broke an
// invariant; the operation is abandoned with no partial rollback.
var ErrContract = errors.New("contract violation")

// Specific contract violations.
var (
	ErrNotArray      = errors.New("not an array")
	ErrRankMismatch  = errors.New("rank mismatch")
	ErrZeroRank      = errors.New("array rank must be at least 1")
	ErrOutOfBounds   = errors.New("out of bounds array access")
	ErrTypeMismatch  = errors.New("array types do not match")
	ErrNullArray     = errors.New("array is null")
	ErrMissingDims   = errors.New("not enough dimensions for rank")
	ErrUnknownStruct = errors.New("unknown struct type")
	ErrBadHandle     = errors.New("invalid heap handle")
)

// ContractError reports a contract violation in a named operation.
type ContractError struct {
	Op     string // operation that detected the violation
	Err    error  // one of the specific sentinels above
	Detail string // optional extra context
}

func (e *ContractError) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("%s: %v (%s)", e.Op, e.Err, e.Detail)
	}
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

// Unwrap exposes both ErrContract and the specific sentinel to errors.Is.
func (e *ContractError) Unwrap() []error {
	return []error{ErrContract, e.Err}
}

func contractf(op string, err error, format string, args ...any) *ContractError {
	ce := &ContractError{Op: op, Err: err}
	if format != "" {
		ce.Detail = fmt.Sprintf(format, args...)
	}
	log.Warningf("%s", ce.Error())
	return ce
}
