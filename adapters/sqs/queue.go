// Package sqsqueue provides an SQS-backed queue.Queue for resume messages.
package sqsqueue

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	sqstypes "github.com/aws/aws-sdk-go-v2/service/sqs/types"

	"github.com/KamdynS/sfnresume/delay"
	"github.com/KamdynS/sfnresume/queue"
)

// API is the subset of the SQS client the adapter uses.
type API interface {
	SendMessage(ctx context.Context, in *sqs.SendMessageInput, optFns ...func(*sqs.Options)) (*sqs.SendMessageOutput, error)
	ReceiveMessage(ctx context.Context, in *sqs.ReceiveMessageInput, optFns ...func(*sqs.Options)) (*sqs.ReceiveMessageOutput, error)
	DeleteMessage(ctx context.Context, in *sqs.DeleteMessageInput, optFns ...func(*sqs.Options)) (*sqs.DeleteMessageOutput, error)
	ChangeMessageVisibility(ctx context.Context, in *sqs.ChangeMessageVisibilityInput, optFns ...func(*sqs.Options)) (*sqs.ChangeMessageVisibilityOutput, error)
	GetQueueAttributes(ctx context.Context, in *sqs.GetQueueAttributesInput, optFns ...func(*sqs.Options)) (*sqs.GetQueueAttributesOutput, error)
}

var _ queue.Queue = (*Queue)(nil)

// Queue implements queue.Queue backed by AWS SQS.
type Queue struct {
	client  API
	cfg     Config
	mu      sync.Mutex
	handles map[string]string // msgID -> receiptHandle
}

// New constructs a new SQS-backed queue adapter using default AWS config chain.
func New(ctx context.Context, cfg Config) (*Queue, error) {
	if cfg.QueueURL == "" {
		return nil, fmt.Errorf("QueueURL is required")
	}
	opts := []func(*awsconfig.LoadOptions) error{}
	if cfg.Region != "" {
		opts = append(opts, awsconfig.WithRegion(cfg.Region))
	}
	awscfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("load AWS config: %w", err)
	}
	if awscfg.Region == "" {
		awscfg.Region = regionFromQueueURL(cfg.QueueURL)
	}
	client := sqs.NewFromConfig(awscfg, func(o *sqs.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
	})
	return NewFromClient(client, cfg), nil
}

// regionFromQueueURL extracts the region from https://sqs.<region>.amazonaws.com/...
func regionFromQueueURL(queueURL string) string {
	u, err := url.Parse(queueURL)
	if err != nil {
		return ""
	}
	parts := strings.Split(u.Hostname(), ".")
	if len(parts) >= 4 && parts[0] == "sqs" && parts[2] == "amazonaws" {
		return parts[1]
	}
	return ""
}

// NewFromClient constructs the adapter from an existing SQS client.
func NewFromClient(client API, cfg Config) *Queue {
	base := DefaultConfig()
	if cfg.WaitTimeSeconds == 0 {
		cfg.WaitTimeSeconds = base.WaitTimeSeconds
	}
	if cfg.VisibilityTimeout == 0 {
		cfg.VisibilityTimeout = base.VisibilityTimeout
	}
	return &Queue{
		client:  client,
		cfg:     cfg,
		handles: make(map[string]string),
	}
}

// Enqueue sends a message to SQS. queueName is ignored; QueueURL controls the destination.
func (q *Queue) Enqueue(ctx context.Context, _ string, m *queue.Message) error {
	body, err := json.Marshal(m)
	if err != nil {
		return fmt.Errorf("marshal message: %w", err)
	}
	msgAttributes := map[string]sqstypes.MessageAttributeValue{
		"ExecutionArn": {
			DataType:    aws.String("String"),
			StringValue: aws.String(m.ExecutionARN),
		},
		"ResumeState": {
			DataType:    aws.String("String"),
			StringValue: aws.String(m.ResumeState),
		},
		"Attempts": {
			DataType:    aws.String("Number"),
			StringValue: aws.String(strconv.Itoa(m.Attempts)),
		},
	}
	input := &sqs.SendMessageInput{
		QueueUrl:          aws.String(q.cfg.QueueURL),
		MessageBody:       aws.String(string(body)),
		MessageAttributes: msgAttributes,
	}
	if q.cfg.FIFO {
		groupID := q.cfg.MessageGroupID
		if groupID == "" {
			groupID = m.ExecutionARN
		}
		input.MessageGroupId = aws.String(groupID)
		input.MessageDeduplicationId = aws.String(m.ID)
	} else {
		input.DelaySeconds = clampDelay(m.DelaySeconds)
	}
	if _, err := q.client.SendMessage(ctx, input); err != nil {
		return fmt.Errorf("sqs SendMessage: %w", err)
	}
	return nil
}

func clampDelay(seconds int) int32 {
	if seconds < 0 {
		return 0
	}
	if seconds > delay.MaxSQSDelay {
		return delay.MaxSQSDelay
	}
	return int32(seconds)
}

// Dequeue retrieves a message using the configured WaitTimeSeconds.
func (q *Queue) Dequeue(ctx context.Context, queueName string) (*queue.Message, error) {
	wait := time.Duration(q.cfg.WaitTimeSeconds) * time.Second
	return q.DequeueWithTimeout(ctx, queueName, wait)
}

// DequeueWithTimeout performs a long-poll ReceiveMessage and returns a single
// message, or nil when none arrived in time.
func (q *Queue) DequeueWithTimeout(ctx context.Context, _ string, timeout time.Duration) (*queue.Message, error) {
	waitSec := q.cfg.WaitTimeSeconds
	if timeout > 0 && int(timeout/time.Second) < waitSec {
		waitSec = int(timeout / time.Second)
	}
	waitSec = max(0, min(waitSec, 20))
	input := &sqs.ReceiveMessageInput{
		QueueUrl: aws.String(q.cfg.QueueURL),
		MessageSystemAttributeNames: []sqstypes.MessageSystemAttributeName{
			sqstypes.MessageSystemAttributeNameApproximateReceiveCount,
		},
		MessageAttributeNames: []string{"All"},
		MaxNumberOfMessages:   1,
		WaitTimeSeconds:       int32(waitSec),
	}
	if q.cfg.VisibilityTimeout > 0 {
		input.VisibilityTimeout = int32(q.cfg.VisibilityTimeout)
	}
	out, err := q.client.ReceiveMessage(ctx, input)
	if err != nil {
		return nil, fmt.Errorf("sqs ReceiveMessage: %w", err)
	}
	if len(out.Messages) == 0 || out.Messages[0].Body == nil {
		return nil, nil
	}
	raw := out.Messages[0]

	var m queue.Message
	if err := json.Unmarshal([]byte(*raw.Body), &m); err != nil {
		return nil, fmt.Errorf("unmarshal message body: %w", err)
	}
	// Derive attempts from system attribute if present
	attempts := 0
	if rc, ok := raw.Attributes[string(sqstypes.MessageSystemAttributeNameApproximateReceiveCount)]; ok {
		if n, convErr := strconv.Atoi(rc); convErr == nil {
			attempts = n
		}
	}
	if attempts <= 0 {
		attempts = max(m.Attempts, 1)
	}
	m.Attempts = attempts
	if m.Metadata == nil {
		m.Metadata = make(map[string]interface{})
	}
	if raw.ReceiptHandle != nil {
		m.Metadata["sqs_receipt_handle"] = *raw.ReceiptHandle
		q.mu.Lock()
		q.handles[m.ID] = *raw.ReceiptHandle
		q.mu.Unlock()
	}
	return &m, nil
}

// Ack deletes the message using the stored receipt handle.
func (q *Queue) Ack(ctx context.Context, _ string, msgID string) error {
	receipt, ok := q.lookupHandle(msgID)
	if !ok {
		return fmt.Errorf("ack: receipt handle not found for message %s", msgID)
	}
	return q.delete(ctx, msgID, receipt)
}

// Nack changes visibility; optionally deletes on non-requeue if configured.
func (q *Queue) Nack(ctx context.Context, _ string, msgID string, requeue bool) error {
	receipt, ok := q.lookupHandle(msgID)
	if !ok {
		return fmt.Errorf("nack: receipt handle not found for message %s", msgID)
	}
	if !requeue && q.cfg.DropOnNackNoRequeue {
		return q.delete(ctx, msgID, receipt)
	}
	vis := int32(0)
	if requeue {
		vis = int32(max(q.cfg.RequeueBackoffSeconds, 0))
	}
	_, err := q.client.ChangeMessageVisibility(ctx, &sqs.ChangeMessageVisibilityInput{
		QueueUrl:          aws.String(q.cfg.QueueURL),
		ReceiptHandle:     aws.String(receipt),
		VisibilityTimeout: vis,
	})
	if err != nil {
		return fmt.Errorf("sqs ChangeMessageVisibility: %w", err)
	}
	q.forget(msgID)
	return nil
}

// Len returns ApproximateNumberOfMessages (ready only).
func (q *Queue) Len(ctx context.Context, _ string) (int, error) {
	out, err := q.client.GetQueueAttributes(ctx, &sqs.GetQueueAttributesInput{
		QueueUrl: aws.String(q.cfg.QueueURL),
		AttributeNames: []sqstypes.QueueAttributeName{
			sqstypes.QueueAttributeNameApproximateNumberOfMessages,
		},
	})
	if err != nil {
		return 0, fmt.Errorf("sqs GetQueueAttributes: %w", err)
	}
	s := out.Attributes[string(sqstypes.QueueAttributeNameApproximateNumberOfMessages)]
	if s == "" {
		return 0, nil
	}
	n, convErr := strconv.Atoi(s)
	if convErr != nil {
		return 0, nil
	}
	return n, nil
}

func (q *Queue) Close() error {
	return nil
}

func (q *Queue) delete(ctx context.Context, msgID, receipt string) error {
	_, err := q.client.DeleteMessage(ctx, &sqs.DeleteMessageInput{
		QueueUrl:      aws.String(q.cfg.QueueURL),
		ReceiptHandle: aws.String(receipt),
	})
	if err != nil {
		return fmt.Errorf("sqs DeleteMessage: %w", err)
	}
	q.forget(msgID)
	return nil
}

func (q *Queue) lookupHandle(msgID string) (string, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	h, ok := q.handles[msgID]
	return h, ok
}

func (q *Queue) forget(msgID string) {
	q.mu.Lock()
	delete(q.handles, msgID)
	q.mu.Unlock()
}
