// Package state persists resume records: what failed, where an execution
// should resume, and whether the resume has been started yet.
package state

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when no record exists for an execution.
var ErrNotFound = errors.New("resume record not found")

// ResumeStatus represents where a resume record is in its lifecycle
type ResumeStatus string

const (
	StatusPending ResumeStatus = "pending"
	StatusStarted ResumeStatus = "started"
	StatusFailed  ResumeStatus = "failed"
)

// ResumeRecord describes a failed execution and the payload that resumes it.
type ResumeRecord struct {
	ExecutionARN        string         `json:"execution_arn"`
	StateMachineARN     string         `json:"state_machine_arn,omitempty"`
	ResumeState         string         `json:"resume_state"`
	FailureEventID      int64          `json:"failure_event_id"`
	FailureType         string         `json:"failure_type"`
	EntryEventID        int64          `json:"entry_event_id"`
	Error               string         `json:"error,omitempty"`
	Cause               string         `json:"cause,omitempty"`
	Payload             map[string]any `json:"payload"`
	DelaySeconds        int            `json:"delay_seconds"`
	Status              ResumeStatus   `json:"status"`
	Attempts            int            `json:"attempts"`
	LastError           string         `json:"last_error,omitempty"`
	ResumedExecutionARN string         `json:"resumed_execution_arn,omitempty"`
	CreatedAt           time.Time      `json:"created_at"`
	UpdatedAt           time.Time      `json:"updated_at"`
}

// Store defines the interface for persisting resume records
type Store interface {
	// CreateResume saves rec unless a record for the execution already
	// exists. It reports whether rec was stored.
	CreateResume(ctx context.Context, rec *ResumeRecord) (bool, error)

	// SaveResume inserts or replaces the record for rec.ExecutionARN
	SaveResume(ctx context.Context, rec *ResumeRecord) error

	// GetResume retrieves the record for an execution
	GetResume(ctx context.Context, executionARN string) (*ResumeRecord, error)

	// ListResumes lists records, optionally filtered by status ("" lists all)
	ListResumes(ctx context.Context, status ResumeStatus) ([]*ResumeRecord, error)

	// DeleteResume removes the record for an execution
	DeleteResume(ctx context.Context, executionARN string) error
}

// IsTerminal returns true if no further resume attempts will be made
func (s ResumeStatus) IsTerminal() bool {
	return s == StatusStarted || s == StatusFailed
}

// Age returns how long ago the record was created
func (r *ResumeRecord) Age() time.Duration {
	return time.Since(r.CreatedAt)
}
