package kernel

import (
	"errors"
	"fmt"
)

// ErrPastTick rejects a submission targeting a tick the clock has already
// started or closed.
var ErrPastTick = errors.New("tick already closed for submissions")

// ErrHalted is wrapped by every call made after the kernel failed closed.
var ErrHalted = errors.New("kernel halted")

// IntegrityError is a mismatch between recorded history and recomputed
// state: a broken hash chain, a checkpoint that disagrees with a snapshot,
// an event stored under the wrong tick. Always fatal; advancing past it
// would produce an unreplayable history.
type IntegrityError struct {
	Tick   uint64
	Reason string
}

func (e *IntegrityError) Error() string {
	return fmt.Sprintf("integrity failure at tick %d: %s", e.Tick, e.Reason)
}

// StorageError is an event log or snapshot I/O failure. Fatal for the
// current tick; the clock halts rather than skipping or partially
// committing.
type StorageError struct {
	Op   string
	Tick uint64
	Err  error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("storage failure (%s) at tick %d: %v", e.Op, e.Tick, e.Err)
}

func (e *StorageError) Unwrap() error { return e.Err }
