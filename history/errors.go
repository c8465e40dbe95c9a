package history

import (
	"errors"
	"fmt"
)

var (
	// ErrEmptyHistory is returned when there is no event to start walking from.
	ErrEmptyHistory = errors.New("history: no events")
	// ErrLookup means a previousEventId does not resolve to any event.
	ErrLookup = errors.New("history: previous event not found")
	// ErrChainExhausted means the walk reached the start of the execution
	// without finding what it was looking for.
	ErrChainExhausted = errors.New("history: event chain exhausted")
	// ErrUnmappedFailure means the failure type has no corresponding entry type.
	ErrUnmappedFailure = errors.New("history: unmapped failure type")
	// ErrMalformedInput means the entry event's input is not a JSON object.
	ErrMalformedInput = errors.New("history: malformed state input")
)

// LookupError reports a dangling previousEventId.
type LookupError struct {
	EventID         int64
	PreviousEventID int64
}

func (e *LookupError) Error() string {
	return fmt.Sprintf("history: event %d references missing previous event %d", e.EventID, e.PreviousEventID)
}

func (e *LookupError) Unwrap() error { return ErrLookup }

// ChainExhaustedError reports a walk that ended at EventID without finding
// Want. Cycle is set when the walk revisited an event instead of reaching the
// start of the execution.
type ChainExhaustedError struct {
	EventID int64
	Want    string
	Cycle   bool
}

func (e *ChainExhaustedError) Error() string {
	if e.Cycle {
		return fmt.Sprintf("history: cycle at event %d while looking for %s", e.EventID, e.Want)
	}
	return fmt.Sprintf("history: reached start event %d without finding %s", e.EventID, e.Want)
}

func (e *ChainExhaustedError) Unwrap() error { return ErrChainExhausted }

// UnmappedFailureError reports a failure type with no known entry type.
type UnmappedFailureError struct {
	EventID int64
	Type    EventType
}

func (e *UnmappedFailureError) Error() string {
	return fmt.Sprintf("history: no entry type mapped for failure %s (event %d)", e.Type, e.EventID)
}

func (e *UnmappedFailureError) Unwrap() error { return ErrUnmappedFailure }

// MalformedInputError reports an entry event whose input cannot become a payload.
type MalformedInputError struct {
	EventID int64
	State   string
	Err     error
}

func (e *MalformedInputError) Error() string {
	return fmt.Sprintf("history: input of state %q (event %d): %v", e.State, e.EventID, e.Err)
}

func (e *MalformedInputError) Unwrap() []error { return []error{ErrMalformedInput, e.Err} }
