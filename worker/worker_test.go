package worker

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/KamdynS/sfnresume/queue"
	"github.com/KamdynS/sfnresume/state"
)

const (
	testExecARN = "arn:aws:states:us-west-2:123456789012:execution:Orders:run-1"
	testSMARN   = "arn:aws:states:us-west-2:123456789012:stateMachine:Orders"
)

type fakeStarter struct {
	mu    sync.Mutex
	calls []startCall
	err   error
}

type startCall struct {
	smARN, name, input string
}

func (f *fakeStarter) StartExecution(_ context.Context, smARN, name, input string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, startCall{smARN, name, input})
	if f.err != nil {
		return "", f.err
	}
	return strings.Replace(smARN, ":stateMachine:", ":execution:", 1) + ":" + name, nil
}

func (f *fakeStarter) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

// failingSaveStore fails the first failures calls to SaveResume.
type failingSaveStore struct {
	*state.InMemoryStore
	mu       sync.Mutex
	failures int
}

func (s *failingSaveStore) SaveResume(ctx context.Context, rec *state.ResumeRecord) error {
	s.mu.Lock()
	if s.failures > 0 {
		s.failures--
		s.mu.Unlock()
		return errors.New("connection reset")
	}
	s.mu.Unlock()
	return s.InMemoryStore.SaveResume(ctx, rec)
}

func pendingRecord() *state.ResumeRecord {
	now := time.Now().UTC()
	return &state.ResumeRecord{
		ExecutionARN:    testExecARN,
		StateMachineARN: testSMARN,
		ResumeState:     "FanOut",
		Payload:         map[string]any{"order": "o-1", "resumeState": "FanOut"},
		Status:          state.StatusPending,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
}

func resumeMessage() *queue.Message {
	msg := queue.NewMessage(testExecARN, "FanOut", map[string]any{"order": "o-1", "resumeState": "FanOut"})
	msg.StateMachineARN = testSMARN
	return msg
}

func newTestWorker(t *testing.T, starter Starter, store state.Store) (*Worker, *queue.InMemoryQueue) {
	t.Helper()
	q := queue.NewInMemoryQueueWithOptions(queue.Options{VisibilityTimeout: time.Second, EnableDLQ: true})
	t.Cleanup(func() { q.Close() })
	w, err := New(Config{
		Queue:         q,
		QueueName:     "test-queue",
		Store:         store,
		Starter:       starter,
		MaxConcurrent: 1,
		PollInterval:  20 * time.Millisecond,
	})
	if err != nil {
		t.Fatalf("failed to create worker: %v", err)
	}
	return w, q
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("condition not met before deadline")
}

func TestWorker_New(t *testing.T) {
	q := queue.NewInMemoryQueue()
	defer q.Close()
	store := state.NewInMemoryStore()

	if _, err := New(Config{Queue: q, Store: store}); err == nil {
		t.Fatal("expected error without starter")
	}
	if _, err := New(Config{Store: store, Starter: &fakeStarter{}}); err == nil {
		t.Fatal("expected error without queue")
	}

	w, err := New(Config{Queue: q, Store: store, Starter: &fakeStarter{}})
	if err != nil {
		t.Fatalf("failed to create worker: %v", err)
	}
	if w.queueName != "resume" {
		t.Errorf("expected default queue name resume, got %s", w.queueName)
	}
	if w.maxConcurrent != DefaultConfig().MaxConcurrent {
		t.Errorf("expected default max concurrent, got %d", w.maxConcurrent)
	}
	if w.maxAttempts != 3 {
		t.Errorf("expected max attempts 3, got %d", w.maxAttempts)
	}
}

func TestWorker_ResumesExecution(t *testing.T) {
	ctx := context.Background()
	store := state.NewInMemoryStore()
	if _, err := store.CreateResume(ctx, pendingRecord()); err != nil {
		t.Fatalf("create record: %v", err)
	}
	starter := &fakeStarter{}
	w, q := newTestWorker(t, starter, store)

	if err := w.Start(ctx); err != nil {
		t.Fatalf("failed to start worker: %v", err)
	}
	msg := resumeMessage()
	if err := q.Enqueue(ctx, "test-queue", msg); err != nil {
		t.Fatalf("failed to enqueue: %v", err)
	}

	waitFor(t, func() bool {
		rec, err := store.GetResume(ctx, testExecARN)
		return err == nil && rec.Status == state.StatusStarted
	})

	stopCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := w.Stop(stopCtx); err != nil {
		t.Fatalf("failed to stop worker: %v", err)
	}

	if starter.count() != 1 {
		t.Fatalf("expected 1 start call, got %d", starter.count())
	}
	call := starter.calls[0]
	if call.smARN != testSMARN {
		t.Errorf("unexpected state machine %s", call.smARN)
	}
	if call.name != ExecutionName(msg) {
		t.Errorf("unexpected execution name %s", call.name)
	}
	var input map[string]any
	if err := json.Unmarshal([]byte(call.input), &input); err != nil {
		t.Fatalf("input is not JSON: %v", err)
	}
	if input["resumeState"] != "FanOut" || input["order"] != "o-1" {
		t.Errorf("unexpected input %v", input)
	}

	rec, _ := store.GetResume(ctx, testExecARN)
	if rec.Attempts != 1 {
		t.Errorf("expected 1 attempt, got %d", rec.Attempts)
	}
	if !strings.HasSuffix(rec.ResumedExecutionARN, call.name) {
		t.Errorf("unexpected resumed ARN %s", rec.ResumedExecutionARN)
	}
	if n, _ := q.Len(ctx, "test-queue"); n != 0 {
		t.Errorf("expected empty queue, got %d", n)
	}
}

func TestWorker_StartFailureRetriesThenFails(t *testing.T) {
	ctx := context.Background()
	store := state.NewInMemoryStore()
	store.CreateResume(ctx, pendingRecord())
	starter := &fakeStarter{err: errors.New("ExecutionLimitExceeded")}
	w, q := newTestWorker(t, starter, store)

	w.Start(ctx)
	q.Enqueue(ctx, "test-queue", resumeMessage())

	waitFor(t, func() bool {
		rec, err := store.GetResume(ctx, testExecARN)
		return err == nil && rec.Status == state.StatusFailed
	})

	stopCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	w.Stop(stopCtx)

	rec, _ := store.GetResume(ctx, testExecARN)
	if rec.Attempts != 3 {
		t.Errorf("expected 3 attempts, got %d", rec.Attempts)
	}
	if rec.LastError != "ExecutionLimitExceeded" {
		t.Errorf("unexpected last error %q", rec.LastError)
	}
	if starter.count() != 3 {
		t.Errorf("expected 3 start calls, got %d", starter.count())
	}
	if got := len(q.DeadLetters("test-queue")); got != 1 {
		t.Errorf("expected message in DLQ, got %d", got)
	}
}

func TestWorker_SaveFailureRequeues(t *testing.T) {
	ctx := context.Background()
	store := &failingSaveStore{InMemoryStore: state.NewInMemoryStore(), failures: 1}
	store.CreateResume(ctx, pendingRecord())
	starter := &fakeStarter{}
	w, q := newTestWorker(t, starter, store)

	w.Start(ctx)
	q.Enqueue(ctx, "test-queue", resumeMessage())

	waitFor(t, func() bool {
		rec, err := store.GetResume(ctx, testExecARN)
		return err == nil && rec.Status == state.StatusStarted
	})

	stopCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	w.Stop(stopCtx)

	if starter.count() != 2 {
		t.Fatalf("expected the start to be retried once, got %d calls", starter.count())
	}
	if starter.calls[0].name != starter.calls[1].name {
		t.Errorf("expected the retry to reuse the execution name, got %s and %s", starter.calls[0].name, starter.calls[1].name)
	}
	if n, _ := q.Len(ctx, "test-queue"); n != 0 {
		t.Errorf("expected empty queue, got %d", n)
	}
	if got := len(q.DeadLetters("test-queue")); got != 0 {
		t.Errorf("expected no dead letters, got %d", got)
	}
}

func TestWorker_HandleSaveFailure(t *testing.T) {
	ctx := context.Background()
	store := &failingSaveStore{InMemoryStore: state.NewInMemoryStore(), failures: 1}
	store.CreateResume(ctx, pendingRecord())
	starter := &fakeStarter{}
	w, _ := newTestWorker(t, starter, store)

	ack, requeue := w.handle(ctx, resumeMessage())
	if ack || !requeue {
		t.Errorf("handle() = (%v, %v), want (false, true)", ack, requeue)
	}
	rec, _ := store.GetResume(ctx, testExecARN)
	if rec.Status != state.StatusPending {
		t.Errorf("expected record to stay pending until saved, got %s", rec.Status)
	}
}

func TestWorker_Handle(t *testing.T) {
	ctx := context.Background()

	tests := []struct {
		name        string
		record      func() *state.ResumeRecord
		message     func() *queue.Message
		wantAck     bool
		wantRequeue bool
		wantStarts  int
		wantStatus  state.ResumeStatus
	}{
		{
			name:       "missing record is dropped",
			message:    resumeMessage,
			wantAck:    true,
			wantStarts: 0,
		},
		{
			name: "already started is acked",
			record: func() *state.ResumeRecord {
				rec := pendingRecord()
				rec.Status = state.StatusStarted
				return rec
			},
			message:    resumeMessage,
			wantAck:    true,
			wantStarts: 0,
			wantStatus: state.StatusStarted,
		},
		{
			name:   "falls back to record state machine",
			record: pendingRecord,
			message: func() *queue.Message {
				msg := resumeMessage()
				msg.StateMachineARN = ""
				return msg
			},
			wantAck:    true,
			wantStarts: 1,
			wantStatus: state.StatusStarted,
		},
		{
			name: "unknown state machine fails without retry",
			record: func() *state.ResumeRecord {
				rec := pendingRecord()
				rec.StateMachineARN = ""
				return rec
			},
			message: func() *queue.Message {
				msg := resumeMessage()
				msg.StateMachineARN = ""
				return msg
			},
			wantAck:     false,
			wantRequeue: false,
			wantStarts:  0,
			wantStatus:  state.StatusFailed,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := state.NewInMemoryStore()
			if tt.record != nil {
				store.CreateResume(ctx, tt.record())
			}
			starter := &fakeStarter{}
			w, _ := newTestWorker(t, starter, store)

			ack, requeue := w.handle(ctx, tt.message())
			if ack != tt.wantAck || requeue != tt.wantRequeue {
				t.Errorf("handle() = (%v, %v), want (%v, %v)", ack, requeue, tt.wantAck, tt.wantRequeue)
			}
			if starter.count() != tt.wantStarts {
				t.Errorf("expected %d start calls, got %d", tt.wantStarts, starter.count())
			}
			if tt.wantStatus != "" {
				rec, err := store.GetResume(ctx, testExecARN)
				if err != nil {
					t.Fatalf("get record: %v", err)
				}
				if rec.Status != tt.wantStatus {
					t.Errorf("expected status %s, got %s", tt.wantStatus, rec.Status)
				}
			}
		})
	}
}

func TestExecutionName(t *testing.T) {
	msg := &queue.Message{ID: "0b0d4c1e-6f4a-4d8a-9d55-3d1e4b7f2a10"}
	if got := ExecutionName(msg); got != "resume-0b0d4c1e-6f4a-4d8a-9d55-3d1e4b7f2a10" {
		t.Errorf("unexpected name %s", got)
	}
	long := &queue.Message{ID: strings.Repeat("x", 100)}
	if got := ExecutionName(long); len(got) != 80 {
		t.Errorf("expected name truncated to 80, got %d", len(got))
	}
}
