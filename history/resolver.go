package history

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
)

// ResumeStateKey is the payload key naming the state to resume from.
const ResumeStateKey = "resumeState"

// Payload is the input document for a fresh execution that resumes at the
// state named under ResumeStateKey.
type Payload map[string]any

// ResumeState returns the state name recorded in the payload.
func (p Payload) ResumeState() string {
	s, _ := p[ResumeStateKey].(string)
	return s
}

// Resolution is the outcome of resolving a failed execution.
type Resolution struct {
	Failure Event   `json:"failure"`
	Entry   Event   `json:"entry"`
	Payload Payload `json:"payload"`
}

// Option configures a Resolver.
type Option func(*Resolver)

// WithTaskFailures additionally maps TaskFailed and TaskStateFailed to
// TaskStateEntered.
func WithTaskFailures() Option {
	return func(r *Resolver) { r.taskFailures = true }
}

// Resolver locates the root failure state of an execution history. The zero
// value uses the default failure mapping.
type Resolver struct {
	taskFailures bool
}

// NewResolver returns a Resolver configured with opts.
func NewResolver(opts ...Option) *Resolver {
	r := &Resolver{}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// EntryTypeFor returns the state-entry type that precedes a failure of type t.
//
// TaskStateEntered is accepted as a failure key as it always has been, even
// though it can never be produced by BacktrackToFailure.
func (r *Resolver) EntryTypeFor(t EventType) (EventType, bool) {
	switch t {
	case EventMapStateFailed:
		return EventMapStateEntered, true
	case EventTaskStateEntered:
		return EventTaskStateEntered, true
	case EventTaskFailed, EventTaskStateFailed:
		if r.taskFailures {
			return EventTaskStateEntered, true
		}
	}
	return "", false
}

// BacktrackToFailure walks back from the last event of h and returns the
// first event whose type denotes a failure.
func BacktrackToFailure(h History) (Event, error) {
	if len(h.Events) == 0 {
		return Event{}, ErrEmptyHistory
	}
	x := newIndex(h.Events)
	i, err := backtrack(x)
	if err != nil {
		return Event{}, err
	}
	return x.events[i], nil
}

func backtrack(x *index) (int, error) {
	return x.walkBack(x.last(), "a failure event", EventType.IsFailure)
}

// FindRootFailureState resolves h with the default mapping and returns only
// the payload.
func FindRootFailureState(h History) (Payload, error) {
	res, err := NewResolver().Resolve(h)
	if err != nil {
		return nil, err
	}
	return res.Payload, nil
}

// Resolve finds the failure event, walks back to the entry event of the
// state that failed and builds the resume payload from its input.
func (r *Resolver) Resolve(h History) (*Resolution, error) {
	if len(h.Events) == 0 {
		return nil, ErrEmptyHistory
	}
	x := newIndex(h.Events)

	fi, err := backtrack(x)
	if err != nil {
		return nil, err
	}
	failure := x.events[fi]

	entryType, ok := r.EntryTypeFor(failure.Type)
	if !ok {
		return nil, &UnmappedFailureError{EventID: failure.ID, Type: failure.Type}
	}

	ei, err := x.walkBack(fi, string(entryType), func(t EventType) bool { return t == entryType })
	if err != nil {
		return nil, err
	}
	entry := x.events[ei]

	payload, err := buildPayload(entry)
	if err != nil {
		return nil, err
	}
	return &Resolution{Failure: failure, Entry: entry, Payload: payload}, nil
}

func buildPayload(entry Event) (Payload, error) {
	details := entry.StateEntered
	if details == nil {
		return nil, &MalformedInputError{EventID: entry.ID, Err: errors.New("missing stateEnteredEventDetails")}
	}
	dec := json.NewDecoder(bytes.NewReader([]byte(details.Input)))
	dec.UseNumber()
	var payload Payload
	if err := dec.Decode(&payload); err != nil {
		return nil, &MalformedInputError{EventID: entry.ID, State: details.Name, Err: err}
	}
	if payload == nil {
		return nil, &MalformedInputError{EventID: entry.ID, State: details.Name, Err: errors.New("input is null")}
	}
	if _, err := dec.Token(); err != io.EOF {
		return nil, &MalformedInputError{EventID: entry.ID, State: details.Name, Err: errors.New("trailing data after input object")}
	}
	payload[ResumeStateKey] = details.Name
	return payload, nil
}
