package redisstore

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/KamdynS/sfnresume/queue"
)

func newTestQueue(t *testing.T, visibility time.Duration) *Queue {
	s := newTestStore(t)
	return NewQueueFromClient(s.Client(), QueueConfig{
		Prefix:            s.prefix,
		VisibilityTimeout: visibility,
		EnableDLQ:         true,
	})
}

func TestQueue_EnqueueDequeueAck(t *testing.T) {
	q := newTestQueue(t, 30*time.Second)
	ctx := context.Background()

	msg := queue.NewMessage("arn:exec:1", "FanOut", map[string]any{"resumeState": "FanOut"})
	if err := q.Enqueue(ctx, "resume", msg); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	if n, _ := q.Len(ctx, "resume"); n != 1 {
		t.Fatalf("expected 1 ready message, got %d", n)
	}

	got, err := q.DequeueWithTimeout(ctx, "resume", 2*time.Second)
	if err != nil {
		t.Fatalf("dequeue: %v", err)
	}
	if got.ID != msg.ID || got.ResumeState != "FanOut" || got.Attempts != 1 {
		t.Fatalf("unexpected message %+v", got)
	}
	if err := q.Ack(ctx, "resume", got.ID); err != nil {
		t.Fatalf("ack: %v", err)
	}
	if err := q.Ack(ctx, "resume", got.ID); err == nil {
		t.Fatal("expected second ack to fail")
	}
	if _, err := q.DequeueWithTimeout(ctx, "resume", time.Second); !errors.Is(err, queue.ErrTimeout) {
		t.Fatalf("expected timeout on empty queue, got %v", err)
	}
}

func TestQueue_DelayedMessage(t *testing.T) {
	q := newTestQueue(t, 30*time.Second)
	ctx := context.Background()

	msg := queue.NewMessage("arn:exec:2", "Step", nil)
	msg.DelaySeconds = 2
	if err := q.Enqueue(ctx, "resume", msg); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	if n, _ := q.Len(ctx, "resume"); n != 0 {
		t.Fatalf("delayed message should not be ready, got %d", n)
	}
	start := time.Now()
	got, err := q.DequeueWithTimeout(ctx, "resume", 5*time.Second)
	if err != nil {
		t.Fatalf("dequeue: %v", err)
	}
	if got.ID != msg.ID {
		t.Fatalf("unexpected message %s", got.ID)
	}
	if time.Since(start) < time.Second {
		t.Errorf("message delivered before its delay")
	}
}

func TestQueue_NackAndVisibility(t *testing.T) {
	q := newTestQueue(t, time.Second)
	ctx := context.Background()

	msg := queue.NewMessage("arn:exec:3", "Step", nil)
	q.Enqueue(ctx, "resume", msg)

	got, err := q.DequeueWithTimeout(ctx, "resume", 2*time.Second)
	if err != nil {
		t.Fatalf("dequeue: %v", err)
	}
	if err := q.Nack(ctx, "resume", got.ID, true); err != nil {
		t.Fatalf("nack: %v", err)
	}

	// Not acked: comes back after the visibility timeout.
	if _, err := q.DequeueWithTimeout(ctx, "resume", 2*time.Second); err != nil {
		t.Fatalf("dequeue after nack: %v", err)
	}
	redelivered, err := q.DequeueWithTimeout(ctx, "resume", 4*time.Second)
	if err != nil {
		t.Fatalf("redelivery: %v", err)
	}
	if redelivered.ID != msg.ID || redelivered.Attempts != 3 {
		t.Fatalf("unexpected redelivery %+v", redelivered)
	}

	if err := q.Nack(ctx, "resume", redelivered.ID, false); err != nil {
		t.Fatalf("nack to dlq: %v", err)
	}
	dead, err := q.DeadLetters(ctx, "resume")
	if err != nil || len(dead) != 1 || dead[0] != msg.ID {
		t.Fatalf("expected message in DLQ, got %v (%v)", dead, err)
	}
}

func TestQueue_ClaimIsAtomic(t *testing.T) {
	q := newTestQueue(t, 30*time.Second)
	ctx := context.Background()

	// An ID whose body was already acked elsewhere, ahead of a live message.
	q.rdb.LPush(ctx, q.key("resume", "ready"), "gone")
	msg := queue.NewMessage("arn:exec:4", "Step", nil)
	q.Enqueue(ctx, "resume", msg)

	got, err := q.DequeueWithTimeout(ctx, "resume", 2*time.Second)
	if err != nil {
		t.Fatalf("dequeue: %v", err)
	}
	if got.ID != msg.ID {
		t.Fatalf("unexpected message %s", got.ID)
	}
	if _, err := q.rdb.ZScore(ctx, q.key("resume", "inflight"), got.ID).Result(); err != nil {
		t.Fatalf("claimed message not in flight: %v", err)
	}
	if n, _ := q.Len(ctx, "resume"); n != 0 {
		t.Errorf("expected stale id to be discarded, %d ready", n)
	}
	if _, err := q.rdb.ZScore(ctx, q.key("resume", "inflight"), "gone").Result(); err == nil {
		t.Error("stale id should not be in flight")
	}
	if _, err := q.DequeueWithTimeout(ctx, "resume", 500*time.Millisecond); !errors.Is(err, queue.ErrTimeout) {
		t.Fatalf("expected timeout, got %v", err)
	}
}
