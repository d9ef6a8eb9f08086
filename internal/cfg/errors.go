package cfg

import (
	"errors"
	"fmt"
)

var (
	// ErrUnbound is returned by Recompute when no code has been bound.
	ErrUnbound = errors.New("cfg: no code bound")

	ErrUnresolvedLabel = errors.New("cfg: unresolved label")
)

// UnresolvedLabelError reports a jump whose target label is never defined.
type UnresolvedLabelError struct {
	Index int    // instruction index of the jump
	Label uint64 // target label id
}

func (e *UnresolvedLabelError) Error() string {
	return fmt.Sprintf("cfg: instruction %d jumps to undefined label %d", e.Index, e.Label)
}

func (e *UnresolvedLabelError) Unwrap() error { return ErrUnresolvedLabel }
