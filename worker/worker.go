// Package worker provides the worker pool that turns queued resume messages
// into fresh Step Functions executions.
package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/KamdynS/sfnresume/observability"
	"github.com/KamdynS/sfnresume/queue"
	"github.com/KamdynS/sfnresume/state"
)

// Starter starts a new execution of a state machine and returns its ARN.
type Starter interface {
	StartExecution(ctx context.Context, stateMachineARN, name, input string) (string, error)
}

// Worker polls resume messages from a queue and starts executions
type Worker struct {
	id            string
	queue         queue.Queue
	queueName     string
	store         state.Store
	starter       Starter
	hooks         *observability.Hooks
	logger        *slog.Logger
	pollInterval  time.Duration
	maxConcurrent int
	maxAttempts   int
	now           func() time.Time
	stopCh        chan struct{}
	wg            sync.WaitGroup
	running       bool
	mu            sync.Mutex
}

// Config holds worker configuration
type Config struct {
	ID            string
	Queue         queue.Queue
	QueueName     string
	Store         state.Store
	Starter       Starter
	Hooks         *observability.Hooks
	Logger        *slog.Logger
	PollInterval  time.Duration
	MaxConcurrent int
	// MaxAttempts bounds how often starting one resume is tried.
	MaxAttempts int
	Now         func() time.Time
}

// DefaultConfig returns a default worker configuration
func DefaultConfig() Config {
	return Config{
		ID:            fmt.Sprintf("worker-%d", time.Now().UnixNano()),
		QueueName:     "resume",
		PollInterval:  time.Second,
		MaxConcurrent: 2,
		MaxAttempts:   3,
	}
}

// New creates a new worker
func New(cfg Config) (*Worker, error) {
	if cfg.Queue == nil {
		return nil, fmt.Errorf("queue is required")
	}
	if cfg.Store == nil {
		return nil, fmt.Errorf("state store is required")
	}
	if cfg.Starter == nil {
		return nil, fmt.Errorf("execution starter is required")
	}
	def := DefaultConfig()
	if cfg.QueueName == "" {
		cfg.QueueName = def.QueueName
	}
	if cfg.ID == "" {
		cfg.ID = def.ID
	}
	if cfg.PollInterval == 0 {
		cfg.PollInterval = def.PollInterval
	}
	if cfg.MaxConcurrent == 0 {
		cfg.MaxConcurrent = def.MaxConcurrent
	}
	if cfg.MaxAttempts == 0 {
		cfg.MaxAttempts = def.MaxAttempts
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}

	return &Worker{
		id:            cfg.ID,
		queue:         cfg.Queue,
		queueName:     cfg.QueueName,
		store:         cfg.Store,
		starter:       cfg.Starter,
		hooks:         cfg.Hooks,
		logger:        cfg.Logger.With("worker", cfg.ID),
		pollInterval:  cfg.PollInterval,
		maxConcurrent: cfg.MaxConcurrent,
		maxAttempts:   cfg.MaxAttempts,
		now:           cfg.Now,
		stopCh:        make(chan struct{}),
	}, nil
}

// Start begins polling for resume messages
func (w *Worker) Start(ctx context.Context) error {
	w.mu.Lock()
	if w.running {
		w.mu.Unlock()
		return fmt.Errorf("worker already running")
	}
	w.running = true
	w.mu.Unlock()

	w.logger.Info("starting worker", "queue", w.queueName, "concurrency", w.maxConcurrent)

	for i := 0; i < w.maxConcurrent; i++ {
		w.wg.Add(1)
		go w.pollLoop(ctx, i)
	}

	return nil
}

// Stop gracefully stops the worker
func (w *Worker) Stop(ctx context.Context) error {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return nil
	}
	w.running = false
	w.mu.Unlock()

	w.logger.Info("stopping worker")
	close(w.stopCh)

	done := make(chan struct{})
	go func() {
		w.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		w.logger.Info("worker stopped")
		return nil
	case <-ctx.Done():
		return fmt.Errorf("worker stop timeout: %w", ctx.Err())
	}
}

func (w *Worker) pollLoop(ctx context.Context, loop int) {
	defer w.wg.Done()
	for {
		select {
		case <-w.stopCh:
			return
		case <-ctx.Done():
			return
		default:
			w.pollOnce(ctx, loop)
		}
	}
}

// pollOnce polls for a single message and handles it
func (w *Worker) pollOnce(ctx context.Context, loop int) {
	msg, err := w.queue.DequeueWithTimeout(ctx, w.queueName, w.pollInterval)
	if err != nil {
		if !errors.Is(err, queue.ErrTimeout) && ctx.Err() == nil {
			w.logger.Warn("dequeue failed", "loop", loop, "error", err)
			// Avoid spinning on a broken queue.
			select {
			case <-time.After(w.pollInterval):
			case <-w.stopCh:
			case <-ctx.Done():
			}
		}
		return
	}
	if msg == nil {
		return
	}

	ack, requeue := w.handle(ctx, msg)
	if ack {
		if err := w.queue.Ack(ctx, w.queueName, msg.ID); err != nil {
			w.logger.Error("ack failed", "message", msg.ID, "error", err)
		}
		return
	}
	if err := w.queue.Nack(ctx, w.queueName, msg.ID, requeue); err != nil {
		w.logger.Error("nack failed", "message", msg.ID, "error", err)
	}
}

// handle starts the resumed execution for msg and reports whether the
// message is done (ack) or should be requeued.
func (w *Worker) handle(ctx context.Context, msg *queue.Message) (ack bool, requeue bool) {
	log := w.logger.With("execution", msg.ExecutionARN, "message", msg.ID)

	rec, err := w.store.GetResume(ctx, msg.ExecutionARN)
	switch {
	case errors.Is(err, state.ErrNotFound):
		log.Warn("no resume record, dropping message")
		return true, false
	case err != nil:
		log.Error("load resume record", "error", err)
		return false, true
	}
	if rec.Status.IsTerminal() {
		log.Info("resume already handled", "status", rec.Status)
		return true, false
	}

	smARN := msg.StateMachineARN
	if smARN == "" {
		smARN = rec.StateMachineARN
	}
	payload := msg.Payload
	if payload == nil {
		payload = rec.Payload
	}

	var startErr error
	var resumedARN string
	switch input, err := json.Marshal(payload); {
	case smARN == "":
		startErr = errors.New("state machine ARN unknown")
	case err != nil:
		startErr = fmt.Errorf("encode payload: %w", err)
	default:
		resumedARN, startErr = w.starter.StartExecution(ctx, smARN, ExecutionName(msg), string(input))
	}
	w.hooks.SafeResumed(ctx, msg.ExecutionARN, startErr)

	rec.Attempts++
	rec.UpdatedAt = w.now().UTC()
	if startErr == nil {
		rec.Status = state.StatusStarted
		rec.ResumedExecutionARN = resumedARN
		rec.LastError = ""
		log.Info("resumed execution", "state", rec.ResumeState, "resumed", resumedARN)
	} else {
		rec.LastError = startErr.Error()
		retry := smARN != "" && rec.Attempts < w.maxAttempts
		if !retry {
			rec.Status = state.StatusFailed
		}
		log.Error("start execution failed", "attempt", rec.Attempts, "retry", retry, "error", startErr)
		requeue = retry
	}
	if err := w.store.SaveResume(ctx, rec); err != nil {
		// Redelivery reuses ExecutionName, so starting again is idempotent.
		log.Error("save resume record", "error", err)
		return false, true
	}
	return startErr == nil, requeue
}

// ExecutionName derives the name of the resumed execution from the message
// so redelivered messages reuse the same name.
func ExecutionName(msg *queue.Message) string {
	name := "resume-" + msg.ID
	if len(name) > 80 {
		name = name[:80]
	}
	return name
}
