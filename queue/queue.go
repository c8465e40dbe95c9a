// Package queue provides the queue abstraction resume messages travel through
// between the persister and the resume worker.
package queue

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

var (
	// ErrClosed is returned by operations on a closed queue.
	ErrClosed = errors.New("queue is closed")
	// ErrTimeout is returned when DequeueWithTimeout finds nothing in time.
	ErrTimeout = errors.New("dequeue timeout")
)

// Message asks a worker to start a fresh execution of StateMachineARN at
// ResumeState, using Payload as its input.
type Message struct {
	ID              string                 `json:"id"`
	ExecutionARN    string                 `json:"execution_arn"`
	StateMachineARN string                 `json:"state_machine_arn,omitempty"`
	ResumeState     string                 `json:"resume_state"`
	Payload         map[string]any         `json:"payload"`
	DelaySeconds    int                    `json:"delay_seconds,omitempty"`
	Metadata        map[string]interface{} `json:"metadata"`
	EnqueueTime     time.Time              `json:"enqueue_time"`
	Attempts        int                    `json:"attempts"`
}

// Queue defines the interface for resume message distribution
type Queue interface {
	// Enqueue adds a message; it becomes visible after msg.DelaySeconds
	Enqueue(ctx context.Context, queueName string, msg *Message) error

	// Dequeue retrieves a message from the queue (blocking)
	Dequeue(ctx context.Context, queueName string) (*Message, error)

	// DequeueWithTimeout retrieves a message with a timeout
	DequeueWithTimeout(ctx context.Context, queueName string, timeout time.Duration) (*Message, error)

	// Ack acknowledges successful processing
	Ack(ctx context.Context, queueName string, msgID string) error

	// Nack indicates failure and potentially requeues
	Nack(ctx context.Context, queueName string, msgID string, requeue bool) error

	// Len returns the number of ready messages in the queue
	Len(ctx context.Context, queueName string) (int, error)

	// Close closes the queue and releases resources
	Close() error
}

// NewMessage creates a message with a generated ID
func NewMessage(executionARN, resumeState string, payload map[string]any) *Message {
	return &Message{
		ID:           uuid.NewString(),
		ExecutionARN: executionARN,
		ResumeState:  resumeState,
		Payload:      payload,
		Metadata:     make(map[string]interface{}),
		EnqueueTime:  time.Now().UTC(),
	}
}
