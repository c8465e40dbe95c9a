// Package history models Step Functions execution histories and locates the
// state an execution should be resumed from after a failure.
package history

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"
)

// EventType is the Step Functions history event type tag.
type EventType string

const (
	EventExecutionStarted   EventType = "ExecutionStarted"
	EventExecutionFailed    EventType = "ExecutionFailed"
	EventExecutionSucceeded EventType = "ExecutionSucceeded"
	EventTaskStateEntered   EventType = "TaskStateEntered"
	EventTaskStateExited    EventType = "TaskStateExited"
	EventTaskStateFailed    EventType = "TaskStateFailed"
	EventTaskScheduled      EventType = "TaskScheduled"
	EventTaskStarted        EventType = "TaskStarted"
	EventTaskFailed         EventType = "TaskFailed"
	EventTaskSucceeded      EventType = "TaskSucceeded"
	EventLambdaFailed       EventType = "LambdaFunctionFailed"
	EventMapStateEntered    EventType = "MapStateEntered"
	EventMapStateStarted    EventType = "MapStateStarted"
	EventMapStateFailed     EventType = "MapStateFailed"
	EventMapIterationFailed EventType = "MapIterationFailed"
	EventPassStateEntered   EventType = "PassStateEntered"
	EventChoiceStateEntered EventType = "ChoiceStateEntered"
)

// failureMarker is the substring shared by every failure event type.
const failureMarker = "Failed"

// IsFailure reports whether t denotes something having failed.
func (t EventType) IsFailure() bool {
	return strings.Contains(string(t), failureMarker)
}

// StateEnteredDetails is recorded on every *StateEntered event.
type StateEnteredDetails struct {
	Name  string `json:"name"`
	Input string `json:"input"`
}

// FailureDetails carries the error and cause of a failed task or execution.
type FailureDetails struct {
	Error string `json:"error,omitempty"`
	Cause string `json:"cause,omitempty"`
}

// Event is a single entry of an execution history. PreviousEventID is zero for
// the first event of the execution.
type Event struct {
	ID              int64                `json:"id"`
	PreviousEventID int64                `json:"previousEventId,omitempty"`
	Type            EventType            `json:"type"`
	Timestamp       time.Time            `json:"timestamp,omitzero"`
	StateEntered    *StateEnteredDetails `json:"stateEnteredEventDetails,omitempty"`

	TaskFailed           *FailureDetails `json:"taskFailedEventDetails,omitempty"`
	LambdaFunctionFailed *FailureDetails `json:"lambdaFunctionFailedEventDetails,omitempty"`
	ExecutionFailed      *FailureDetails `json:"executionFailedEventDetails,omitempty"`
}

// HasPrevious reports whether the event links back to a predecessor.
func (e Event) HasPrevious() bool {
	return e.PreviousEventID != 0
}

// Failure returns whichever failure details the event carries, if any.
func (e Event) Failure() *FailureDetails {
	switch {
	case e.TaskFailed != nil:
		return e.TaskFailed
	case e.LambdaFunctionFailed != nil:
		return e.LambdaFunctionFailed
	case e.ExecutionFailed != nil:
		return e.ExecutionFailed
	}
	return nil
}

// History is an execution history as returned by GetExecutionHistory.
type History struct {
	Events []Event `json:"events"`
}

// DecodeHistory reads a history document such as the output of
// `aws stepfunctions get-execution-history`.
func DecodeHistory(r io.Reader) (*History, error) {
	var h History
	if err := json.NewDecoder(r).Decode(&h); err != nil {
		return nil, fmt.Errorf("decode history: %w", err)
	}
	return &h, nil
}
