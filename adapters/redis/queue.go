package redisstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/KamdynS/sfnresume/queue"
)

var _ queue.Queue = (*Queue)(nil)

var claimScript = redis.NewScript(luaClaim)

// claimPollInterval is how long DequeueWithTimeout waits between claim
// attempts on an empty queue.
const claimPollInterval = 250 * time.Millisecond

// QueueConfig configures the Redis-backed queue.
type QueueConfig struct {
	Prefix string
	// VisibilityTimeout is how long a dequeued message stays hidden before
	// it is redelivered if not acked.
	VisibilityTimeout time.Duration
	// EnableDLQ keeps messages Nack'ed without requeue on a dead-letter list.
	EnableDLQ bool
}

// Queue is a Redis-backed queue.Queue. Message bodies live in a hash; ready
// IDs in a list; delayed and in-flight IDs in sorted sets scored by the time
// they become visible.
type Queue struct {
	rdb        redis.UniversalClient
	prefix     string
	visibility time.Duration
	dlq        bool
}

// NewQueueFromClient constructs a Queue on a user-managed client.
func NewQueueFromClient(rdb redis.UniversalClient, cfg QueueConfig) *Queue {
	if cfg.Prefix == "" {
		cfg.Prefix = defaultPrefix
	}
	if cfg.VisibilityTimeout <= 0 {
		cfg.VisibilityTimeout = 30 * time.Second
	}
	return &Queue{rdb: rdb, prefix: cfg.Prefix, visibility: cfg.VisibilityTimeout, dlq: cfg.EnableDLQ}
}

func (q *Queue) key(queueName, part string) string {
	return fmt.Sprintf("%s:queue:%s:%s", q.prefix, queueName, part)
}

func unixMilli(t time.Time) float64 { return float64(t.UnixMilli()) }

// Enqueue stores the message and makes it ready after msg.DelaySeconds.
func (q *Queue) Enqueue(ctx context.Context, queueName string, msg *queue.Message) error {
	if msg == nil {
		return fmt.Errorf("nil message")
	}
	b, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal message: %w", err)
	}
	pipe := q.rdb.TxPipeline()
	pipe.HSet(ctx, q.key(queueName, "msg"), msg.ID, b)
	if msg.DelaySeconds > 0 {
		readyAt := time.Now().Add(time.Duration(msg.DelaySeconds) * time.Second)
		pipe.ZAdd(ctx, q.key(queueName, "delayed"), redis.Z{Score: unixMilli(readyAt), Member: msg.ID})
	} else {
		pipe.LPush(ctx, q.key(queueName, "ready"), msg.ID)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis enqueue: %w", err)
	}
	return nil
}

// Dequeue blocks until a message is ready.
func (q *Queue) Dequeue(ctx context.Context, queueName string) (*queue.Message, error) {
	return q.DequeueWithTimeout(ctx, queueName, 0)
}

// DequeueWithTimeout claims a ready message and hides it for the visibility
// timeout. A timeout of zero waits indefinitely.
func (q *Queue) DequeueWithTimeout(ctx context.Context, queueName string, timeout time.Duration) (*queue.Message, error) {
	var deadline time.Time
	if timeout > 0 {
		deadline = time.Now().Add(timeout)
	}
	for {
		msg, err := q.claim(ctx, queueName)
		if err != nil {
			return nil, err
		}
		if msg != nil {
			return msg, nil
		}

		wait := claimPollInterval
		if !deadline.IsZero() {
			left := time.Until(deadline)
			if left <= 0 {
				return nil, queue.ErrTimeout
			}
			wait = min(wait, left)
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(wait):
		}
	}
}

// claim atomically promotes due messages and moves one ready message in
// flight. It returns nil when nothing is ready.
func (q *Queue) claim(ctx context.Context, queueName string) (*queue.Message, error) {
	now := time.Now()
	keys := []string{
		q.key(queueName, "delayed"),
		q.key(queueName, "inflight"),
		q.key(queueName, "ready"),
		q.key(queueName, "msg"),
	}
	res, err := claimScript.Run(ctx, q.rdb, keys, now.UnixMilli(), now.Add(q.visibility).UnixMilli()).Slice()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("redis claim: %w", err)
	}
	if len(res) != 2 {
		return nil, fmt.Errorf("unexpected claim result")
	}
	id, _ := res[0].(string)
	body, _ := res[1].(string)

	var msg queue.Message
	if err := json.Unmarshal([]byte(body), &msg); err != nil {
		return nil, fmt.Errorf("decode message %s: %w", id, err)
	}
	msg.Attempts++
	if b, err := json.Marshal(&msg); err == nil {
		_ = q.rdb.HSet(ctx, q.key(queueName, "msg"), id, b).Err()
	}
	return &msg, nil
}

// Ack deletes an in-flight message.
func (q *Queue) Ack(ctx context.Context, queueName string, msgID string) error {
	pipe := q.rdb.TxPipeline()
	rem := pipe.ZRem(ctx, q.key(queueName, "inflight"), msgID)
	pipe.HDel(ctx, q.key(queueName, "msg"), msgID)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis ack: %w", err)
	}
	if rem.Val() == 0 {
		return fmt.Errorf("message %s not found in flight", msgID)
	}
	return nil
}

// Nack returns an in-flight message to the ready list, or dead-letters or
// drops it.
func (q *Queue) Nack(ctx context.Context, queueName string, msgID string, requeue bool) error {
	n, err := q.rdb.ZRem(ctx, q.key(queueName, "inflight"), msgID).Result()
	if err != nil {
		return fmt.Errorf("redis nack: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("message %s not found in flight", msgID)
	}
	switch {
	case requeue:
		err = q.rdb.LPush(ctx, q.key(queueName, "ready"), msgID).Err()
	case q.dlq:
		err = q.rdb.LPush(ctx, q.key(queueName, "dlq"), msgID).Err()
	default:
		err = q.rdb.HDel(ctx, q.key(queueName, "msg"), msgID).Err()
	}
	if err != nil {
		return fmt.Errorf("redis nack: %w", err)
	}
	return nil
}

// Len returns the number of ready messages.
func (q *Queue) Len(ctx context.Context, queueName string) (int, error) {
	n, err := q.rdb.LLen(ctx, q.key(queueName, "ready")).Result()
	return int(n), err
}

// DeadLetters returns the IDs on the dead-letter list, newest first.
func (q *Queue) DeadLetters(ctx context.Context, queueName string) ([]string, error) {
	return q.rdb.LRange(ctx, q.key(queueName, "dlq"), 0, -1).Result()
}

// Close is a no-op; the client belongs to the caller.
func (q *Queue) Close() error { return nil }
