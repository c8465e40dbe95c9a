package queue

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// pendingRecord tracks an inflight message and its visibility deadline.
type pendingRecord struct {
	msg      *Message
	deadline time.Time
}

// delayedRecord holds a message until its delivery delay has elapsed.
type delayedRecord struct {
	msg     *Message
	readyAt time.Time
}

// Hooks provides optional callbacks for queue operations. All are optional no-ops by default.
type Hooks struct {
	OnEnqueue   func(queueName string, msg *Message)
	OnDequeue   func(queueName string, msg *Message)
	OnAck       func(queueName string, msg *Message)
	OnNack      func(queueName string, msg *Message, requeue bool)
	OnRedeliver func(queueName string, msg *Message)
}

// Options configures the in-memory queue behavior.
type Options struct {
	// VisibilityTimeout controls how long a dequeued message stays invisible
	// before it is eligible for redelivery if not Ack'ed.
	VisibilityTimeout time.Duration
	// DelayUnit is the duration of one unit of Message.DelaySeconds.
	// Defaults to one second; tests shrink it.
	DelayUnit time.Duration
	// EnableDLQ routes Nack'ed (requeue=false) messages to an in-memory DLQ.
	EnableDLQ bool
	// Hooks are optional callbacks for instrumentation; all nil means no-op.
	Hooks Hooks
}

// InMemoryQueue is a channel-based in-memory queue implementation
type InMemoryQueue struct {
	mu      sync.RWMutex
	queues  map[string]chan *Message
	pending map[string]map[string]*pendingRecord // queueName -> msgID -> record
	delayed map[string][]*delayedRecord
	dlq     map[string][]*Message
	closed  bool
	opts    Options
	stopCh  chan struct{}
	wg      sync.WaitGroup
}

// NewInMemoryQueue creates a new in-memory queue
func NewInMemoryQueue() *InMemoryQueue {
	return NewInMemoryQueueWithOptions(Options{
		VisibilityTimeout: 30 * time.Second,
	})
}

// NewInMemoryQueueWithOptions creates a new in-memory queue with options.
func NewInMemoryQueueWithOptions(opts Options) *InMemoryQueue {
	if opts.DelayUnit <= 0 {
		opts.DelayUnit = time.Second
	}
	q := &InMemoryQueue{
		queues:  make(map[string]chan *Message),
		pending: make(map[string]map[string]*pendingRecord),
		delayed: make(map[string][]*delayedRecord),
		dlq:     make(map[string][]*Message),
		opts:    opts,
		stopCh:  make(chan struct{}),
	}
	q.wg.Add(1)
	go q.scanLoop()
	return q
}

// getOrCreateQueue returns an existing queue channel or creates a new one
func (q *InMemoryQueue) getOrCreateQueue(queueName string) chan *Message {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.getOrCreateQueueLocked(queueName)
}

func (q *InMemoryQueue) getOrCreateQueueLocked(queueName string) chan *Message {
	if q.closed {
		return nil
	}
	ch, exists := q.queues[queueName]
	if !exists {
		// Create buffered channel to prevent blocking on enqueue
		ch = make(chan *Message, 100)
		q.queues[queueName] = ch
		q.pending[queueName] = make(map[string]*pendingRecord)
	}
	return ch
}

// Enqueue implements Queue. Messages with a positive DelaySeconds are held
// back until the delay has elapsed.
func (q *InMemoryQueue) Enqueue(ctx context.Context, queueName string, msg *Message) error {
	if msg.DelaySeconds > 0 {
		q.mu.Lock()
		if q.getOrCreateQueueLocked(queueName) == nil {
			q.mu.Unlock()
			return ErrClosed
		}
		readyAt := time.Now().Add(time.Duration(msg.DelaySeconds) * q.opts.DelayUnit)
		q.delayed[queueName] = append(q.delayed[queueName], &delayedRecord{msg: msg, readyAt: readyAt})
		q.mu.Unlock()
		if q.opts.Hooks.OnEnqueue != nil {
			q.opts.Hooks.OnEnqueue(queueName, msg)
		}
		return nil
	}
	if err := q.push(ctx, queueName, msg); err != nil {
		return err
	}
	if q.opts.Hooks.OnEnqueue != nil {
		q.opts.Hooks.OnEnqueue(queueName, msg)
	}
	return nil
}

func (q *InMemoryQueue) push(ctx context.Context, queueName string, msg *Message) error {
	ch := q.getOrCreateQueue(queueName)
	if ch == nil {
		return ErrClosed
	}
	select {
	case ch <- msg:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Dequeue implements Queue
func (q *InMemoryQueue) Dequeue(ctx context.Context, queueName string) (*Message, error) {
	return q.DequeueWithTimeout(ctx, queueName, 0)
}

// DequeueWithTimeout implements Queue
func (q *InMemoryQueue) DequeueWithTimeout(ctx context.Context, queueName string, timeout time.Duration) (*Message, error) {
	ch := q.getOrCreateQueue(queueName)
	if ch == nil {
		return nil, ErrClosed
	}

	var timeoutCh <-chan time.Time
	if timeout > 0 {
		timer := time.NewTimer(timeout)
		defer timer.Stop()
		timeoutCh = timer.C
	}

	select {
	case msg := <-ch:
		if msg == nil {
			return nil, ErrClosed
		}
		msg.Attempts++
		vis := q.opts.VisibilityTimeout
		if vis <= 0 {
			vis = 30 * time.Second
		}
		q.addPending(queueName, msg, time.Now().Add(vis))
		if q.opts.Hooks.OnDequeue != nil {
			q.opts.Hooks.OnDequeue(queueName, msg)
		}
		return msg, nil
	case <-timeoutCh:
		return nil, ErrTimeout
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// addPending adds a message to the inflight map with a visibility deadline.
func (q *InMemoryQueue) addPending(queueName string, msg *Message, deadline time.Time) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if pending, exists := q.pending[queueName]; exists {
		pending[msg.ID] = &pendingRecord{msg: msg, deadline: deadline}
	}
}

// removePending removes a message from the pending map
func (q *InMemoryQueue) removePending(queueName string, msgID string) *pendingRecord {
	q.mu.Lock()
	defer q.mu.Unlock()

	if pending, exists := q.pending[queueName]; exists {
		rec := pending[msgID]
		delete(pending, msgID)
		return rec
	}
	return nil
}

// Ack implements Queue
func (q *InMemoryQueue) Ack(ctx context.Context, queueName string, msgID string) error {
	rec := q.removePending(queueName, msgID)
	if rec == nil {
		return fmt.Errorf("message %s not found in pending", msgID)
	}
	if q.opts.Hooks.OnAck != nil {
		q.opts.Hooks.OnAck(queueName, rec.msg)
	}
	return nil
}

// Nack implements Queue. A requeued message is ready immediately; its
// original delivery delay is not applied again.
func (q *InMemoryQueue) Nack(ctx context.Context, queueName string, msgID string, requeue bool) error {
	rec := q.removePending(queueName, msgID)
	if rec == nil {
		return fmt.Errorf("message %s not found in pending", msgID)
	}
	if q.opts.Hooks.OnNack != nil {
		q.opts.Hooks.OnNack(queueName, rec.msg, requeue)
	}
	if requeue {
		return q.push(ctx, queueName, rec.msg)
	}
	if q.opts.EnableDLQ {
		q.mu.Lock()
		q.dlq[queueName] = append(q.dlq[queueName], rec.msg)
		q.mu.Unlock()
	}
	return nil
}

// Len returns the number of READY messages for the named queue. Inflight and
// still-delayed messages are not included.
func (q *InMemoryQueue) Len(ctx context.Context, queueName string) (int, error) {
	q.mu.RLock()
	defer q.mu.RUnlock()

	ch, exists := q.queues[queueName]
	if !exists {
		return 0, nil
	}
	return len(ch), nil
}

// DeadLetters returns a copy of the messages dropped to the DLQ.
func (q *InMemoryQueue) DeadLetters(queueName string) []*Message {
	q.mu.RLock()
	defer q.mu.RUnlock()
	out := make([]*Message, len(q.dlq[queueName]))
	copy(out, q.dlq[queueName])
	return out
}

// Close implements Queue
func (q *InMemoryQueue) Close() error {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return nil
	}
	q.closed = true
	close(q.stopCh)
	q.mu.Unlock()

	q.wg.Wait()

	q.mu.Lock()
	for _, ch := range q.queues {
		close(ch)
	}
	q.queues = make(map[string]chan *Message)
	q.pending = make(map[string]map[string]*pendingRecord)
	q.delayed = make(map[string][]*delayedRecord)
	q.dlq = make(map[string][]*Message)
	q.mu.Unlock()

	return nil
}

// scanLoop releases delayed messages and redelivers expired inflight ones.
func (q *InMemoryQueue) scanLoop() {
	defer q.wg.Done()
	t := time.NewTicker(20 * time.Millisecond)
	defer t.Stop()
	for {
		select {
		case <-q.stopCh:
			return
		case now := <-t.C:
			q.scanOnce(now)
		}
	}
}

func (q *InMemoryQueue) scanOnce(now time.Time) {
	q.mu.Lock()
	defer q.mu.Unlock()

	for queueName, held := range q.delayed {
		ch := q.queues[queueName]
		kept := held[:0]
		for _, rec := range held {
			if now.Before(rec.readyAt) {
				kept = append(kept, rec)
				continue
			}
			select {
			case ch <- rec.msg:
			default:
				// Queue is full; retry on the next tick.
				kept = append(kept, rec)
			}
		}
		q.delayed[queueName] = kept
	}

	for queueName, inflight := range q.pending {
		ch := q.queues[queueName]
		for id, rec := range inflight {
			if now.After(rec.deadline) {
				// Redeliver exactly once per expiry: move back to ready and remove from inflight
				select {
				case ch <- rec.msg:
					if q.opts.Hooks.OnRedeliver != nil {
						q.opts.Hooks.OnRedeliver(queueName, rec.msg)
					}
					delete(inflight, id)
				default:
					// Queue is full; push deadline forward a bit and try again later.
					rec.deadline = now.Add(200 * time.Millisecond)
				}
			}
		}
	}
}
