// Package dapolerr defines the typed error kinds returned across the
// package boundary, plus the invariant-violation panic used for bugs
// that should never be reachable from valid input.
package dapolerr

import (
	"errors"
	"fmt"
)

// Sentinel errors, one per recoverable error kind. Callers match with
// errors.Is; wrapped detail is added with Wrap.
var (
	ErrInvalidConfig      = errors.New("invalid config")
	ErrTooManyEntities    = errors.New("too many entities")
	ErrDuplicateEntityID  = errors.New("duplicate entity id")
	ErrLiabilityOverflow  = errors.New("liability overflow")
	ErrUnknownEntity      = errors.New("unknown entity")
	ErrInvalidPath        = errors.New("invalid path")
	ErrInvalidRangeProof  = errors.New("invalid range proof")
	ErrDeserialization    = errors.New("deserialization error")
	ErrEntityIDTooLong    = errors.New("entity id too long")
)

// Wrap attaches context to a sentinel error, preserving errors.Is matching.
func Wrap(sentinel error, format string, args ...any) error {
	return fmt.Errorf("%s:\n%w", fmt.Sprintf(format, args...), sentinel)
}

// Invariant panics if cond is false. Used for states that indicate a bug
// in the builder or store rather than bad caller input.
func Invariant(cond bool, format string, args ...any) {
	if !cond {
		panic("dapol: internal invariant violated: " + fmt.Sprintf(format, args...))
	}
}
