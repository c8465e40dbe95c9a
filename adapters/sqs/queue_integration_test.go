package sqsqueue

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/sqs"

	"github.com/KamdynS/sfnresume/queue"
)

func sqsClientAndURL(t *testing.T) (*sqs.Client, string) {
	t.Helper()
	ctx := context.Background()
	// Prefer explicit queue URL if provided
	if qurl := os.Getenv("SQS_QUEUE_URL"); qurl != "" {
		awscfg, err := awsconfig.LoadDefaultConfig(ctx)
		if err != nil {
			t.Fatalf("aws config: %v", err)
		}
		return sqs.NewFromConfig(awscfg), qurl
	}
	// Localstack mode
	endpoint := os.Getenv("LOCALSTACK_URL")
	if endpoint == "" {
		t.Skip("neither SQS_QUEUE_URL nor LOCALSTACK_URL set; skipping SQS integration tests")
	}
	awscfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion("us-east-1"))
	if err != nil {
		t.Fatalf("aws config localstack: %v", err)
	}
	client := sqs.NewFromConfig(awscfg, func(o *sqs.Options) {
		o.BaseEndpoint = aws.String(endpoint)
	})
	qname := "sfnresume-test-" + time.Now().UTC().Format("20060102150405")
	out, err := client.CreateQueue(ctx, &sqs.CreateQueueInput{
		QueueName:  aws.String(qname),
		Attributes: map[string]string{"VisibilityTimeout": "3"},
	})
	if err != nil {
		t.Fatalf("create localstack queue: %v", err)
	}
	t.Cleanup(func() {
		_, _ = client.DeleteQueue(ctx, &sqs.DeleteQueueInput{QueueUrl: out.QueueUrl})
	})
	return client, aws.ToString(out.QueueUrl)
}

func newAdapterForTest(t *testing.T) *Queue {
	client, url := sqsClientAndURL(t)
	cfg := DefaultConfig()
	cfg.QueueURL = url
	cfg.WaitTimeSeconds = 2
	cfg.VisibilityTimeout = 3
	return NewFromClient(client, cfg)
}

func TestIntegration_EnqueueDequeueAck(t *testing.T) {
	q := newAdapterForTest(t)
	ctx := context.Background()

	msg := queue.NewMessage("arn:aws:states:us-east-1:000000000000:execution:sm:e1", "Step1", map[string]any{"x": 1})
	if err := q.Enqueue(ctx, "ignored", msg); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	got, err := q.DequeueWithTimeout(ctx, "ignored", 3*time.Second)
	if err != nil {
		t.Fatalf("DequeueWithTimeout: %v", err)
	}
	if got == nil {
		t.Fatalf("expected message, got nil")
	}
	if got.ID != msg.ID || got.ResumeState != msg.ResumeState {
		t.Fatalf("message mismatch: got %+v want %+v", got, msg)
	}
	if err := q.Ack(ctx, "ignored", got.ID); err != nil {
		t.Fatalf("Ack: %v", err)
	}
	got2, err := q.DequeueWithTimeout(ctx, "ignored", 2*time.Second)
	if err != nil {
		t.Fatalf("DequeueWithTimeout 2: %v", err)
	}
	if got2 != nil {
		t.Fatalf("expected no message after ack")
	}
}

func TestIntegration_DelayedMessageHidden(t *testing.T) {
	q := newAdapterForTest(t)
	ctx := context.Background()

	msg := queue.NewMessage("arn:aws:states:us-east-1:000000000000:execution:sm:e2", "Step1", nil)
	msg.DelaySeconds = 3
	if err := q.Enqueue(ctx, "ignored", msg); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	early, err := q.DequeueWithTimeout(ctx, "ignored", time.Second)
	if err != nil {
		t.Fatalf("early dequeue: %v", err)
	}
	if early != nil {
		t.Fatalf("delayed message delivered early")
	}
	time.Sleep(3 * time.Second)
	got, err := q.DequeueWithTimeout(ctx, "ignored", 2*time.Second)
	if err != nil || got == nil {
		t.Fatalf("dequeue after delay: %v %v", got, err)
	}
	_ = q.Ack(ctx, "ignored", got.ID)
}
