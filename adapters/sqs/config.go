package sqsqueue

// Config controls the SQS adapter behavior.
type Config struct {
	// Required: fully qualified SQS queue URL
	QueueURL string

	// Optional: AWS region; falls back to default chain if empty
	Region string

	// Optional: endpoint override, e.g. a LocalStack URL
	Endpoint string

	// ReceiveMessage long polling seconds (0..20). If DequeueWithTimeout supplies
	// a shorter timeout, that value is used instead for that call.
	WaitTimeSeconds int

	// Visibility timeout in seconds for received messages.
	VisibilityTimeout int

	// FIFO mode. FIFO queues reject per-message DelaySeconds, so message
	// delays are dropped and the queue-level delay applies.
	FIFO bool
	// Message group ID to use for FIFO queues; defaults to the execution ARN.
	MessageGroupID string

	// Backoff in seconds when Nack with requeue=true. 0 makes it immediately available.
	RequeueBackoffSeconds int

	// If true and Nack with requeue=false, drop the message (DeleteMessage) instead of exposing it.
	DropOnNackNoRequeue bool
}

// DefaultConfig provides sensible defaults.
func DefaultConfig() Config {
	return Config{
		WaitTimeSeconds:       20,
		VisibilityTimeout:     30,
		RequeueBackoffSeconds: 0,
	}
}
