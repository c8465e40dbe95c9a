// Package persister turns a failed execution into a stored, queued resume
// request: it fetches the history, resolves the resume state, picks a
// delivery delay, saves a record and enqueues a message.
package persister

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/KamdynS/sfnresume/delay"
	"github.com/KamdynS/sfnresume/history"
	"github.com/KamdynS/sfnresume/observability"
	"github.com/KamdynS/sfnresume/queue"
	"github.com/KamdynS/sfnresume/state"
)

// HistorySource retrieves execution histories.
type HistorySource interface {
	GetExecutionHistory(ctx context.Context, executionARN string) (*history.History, error)
}

// ErrAlreadyPersisted is returned by Persist when a record for the execution
// already exists; the existing record is returned alongside it.
var ErrAlreadyPersisted = errors.New("resume already persisted")

// ErrInvalidExecutionARN is returned when no state machine can be derived
// from the execution ARN.
var ErrInvalidExecutionARN = errors.New("invalid execution ARN")

// Config holds persister configuration
type Config struct {
	Source    HistorySource
	Queue     queue.Queue
	QueueName string
	Store     state.Store
	Resolver  *history.Resolver

	// StateMachineARN derives the machine to restart; optional.
	StateMachineARN func(executionARN string) (string, error)

	DelayMin int
	DelayMax int
	// Rand is the delay source; seeded from the clock when nil.
	Rand delay.Source

	Hooks *observability.Hooks
	Now   func() time.Time
}

// Persister resolves failed executions and schedules their resumption.
type Persister struct {
	source    HistorySource
	queue     queue.Queue
	queueName string
	store     state.Store
	resolver  *history.Resolver
	smARN     func(string) (string, error)
	delayMin  int
	delayMax  int
	hooks     *observability.Hooks
	now       func() time.Time

	randMu sync.Mutex
	rand   delay.Source
}

// New creates a Persister. Source, Queue and Store are required.
func New(cfg Config) (*Persister, error) {
	if cfg.Source == nil {
		return nil, fmt.Errorf("history source is required")
	}
	if cfg.Queue == nil {
		return nil, fmt.Errorf("queue is required")
	}
	if cfg.Store == nil {
		return nil, fmt.Errorf("state store is required")
	}
	if cfg.QueueName == "" {
		cfg.QueueName = "resume"
	}
	if cfg.Resolver == nil {
		cfg.Resolver = history.NewResolver()
	}
	if cfg.DelayMin == 0 && cfg.DelayMax == 0 {
		cfg.DelayMin, cfg.DelayMax = delay.DefaultLow, delay.DefaultHigh
	}
	if cfg.Rand == nil {
		cfg.Rand = rand.New(rand.NewPCG(uint64(time.Now().UnixNano()), 0x5f3759df))
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Persister{
		source:    cfg.Source,
		queue:     cfg.Queue,
		queueName: cfg.QueueName,
		store:     cfg.Store,
		resolver:  cfg.Resolver,
		smARN:     cfg.StateMachineARN,
		delayMin:  cfg.DelayMin,
		delayMax:  cfg.DelayMax,
		hooks:     cfg.Hooks,
		now:       cfg.Now,
		rand:      cfg.Rand,
	}, nil
}

// Resolve fetches the execution history and resolves its resume state.
func (p *Persister) Resolve(ctx context.Context, executionARN string) (*history.Resolution, error) {
	res, _, err := p.resolve(ctx, executionARN)
	return res, err
}

func (p *Persister) resolve(ctx context.Context, executionARN string) (*history.Resolution, *history.FailureDetails, error) {
	start := p.now()
	h, err := p.source.GetExecutionHistory(ctx, executionARN)
	if err != nil {
		p.hooks.SafeResolveError(ctx, executionARN, err)
		return nil, nil, fmt.Errorf("fetch history: %w", err)
	}
	p.hooks.SafeHistoryFetched(ctx, executionARN, len(h.Events), p.now().Sub(start))

	trimmed, execFailure := TrimExecutionFailed(*h)
	res, err := p.resolver.Resolve(trimmed)
	if err != nil {
		p.hooks.SafeResolveError(ctx, executionARN, err)
		return nil, nil, fmt.Errorf("resolve %s: %w", executionARN, err)
	}
	p.hooks.SafeResolved(ctx, executionARN, res.Entry.StateEntered.Name)
	return res, execFailure, nil
}

// TrimExecutionFailed drops the ExecutionFailed event that closes a failed
// execution, so the walk starts at the state failure that caused it. The
// dropped event's details are returned; h is not modified.
func TrimExecutionFailed(h history.History) (history.History, *history.FailureDetails) {
	n := len(h.Events)
	if n == 0 || h.Events[n-1].Type != history.EventExecutionFailed {
		return h, nil
	}
	last := h.Events[n-1]
	return history.History{Events: h.Events[:n-1:n-1]}, last.Failure()
}

// Persist resolves executionARN, stores a pending resume record and enqueues
// a delayed resume message. A second call for the same execution returns the
// existing record with ErrAlreadyPersisted.
func (p *Persister) Persist(ctx context.Context, executionARN string) (*state.ResumeRecord, error) {
	res, execFailure, err := p.resolve(ctx, executionARN)
	if err != nil {
		return nil, err
	}

	delaySeconds, err := p.selectDelay()
	if err != nil {
		return nil, err
	}

	rec := p.newRecord(executionARN, res, delaySeconds)
	if rec.Error == "" && rec.Cause == "" && execFailure != nil {
		rec.Error, rec.Cause = execFailure.Error, execFailure.Cause
	}
	if p.smARN != nil {
		if rec.StateMachineARN, err = p.smARN(executionARN); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidExecutionARN, err)
		}
	}

	created, err := p.store.CreateResume(ctx, rec)
	if err != nil {
		return nil, fmt.Errorf("save resume record: %w", err)
	}
	if !created {
		existing, getErr := p.store.GetResume(ctx, executionARN)
		if getErr != nil {
			return nil, fmt.Errorf("load existing resume record: %w", getErr)
		}
		p.hooks.SafeLog(ctx, "info", "resume already persisted", map[string]any{"execution": executionARN, "status": string(existing.Status)})
		return existing, ErrAlreadyPersisted
	}

	msg := queue.NewMessage(executionARN, rec.ResumeState, rec.Payload)
	msg.StateMachineARN = rec.StateMachineARN
	msg.DelaySeconds = delaySeconds
	if err := p.queue.Enqueue(ctx, p.queueName, msg); err != nil {
		// Let a later Persist retry instead of leaving an orphaned record.
		if delErr := p.store.DeleteResume(ctx, executionARN); delErr != nil {
			p.hooks.SafeLog(ctx, "error", "rollback resume record failed", map[string]any{"execution": executionARN, "error": delErr.Error()})
		}
		return nil, fmt.Errorf("enqueue resume: %w", err)
	}
	p.hooks.SafeEnqueued(ctx, executionARN, delaySeconds)
	return rec, nil
}

func (p *Persister) selectDelay() (int, error) {
	p.randMu.Lock()
	defer p.randMu.Unlock()
	return delay.SelectDelaySeconds(p.rand, p.delayMin, p.delayMax)
}

func (p *Persister) newRecord(executionARN string, res *history.Resolution, delaySeconds int) *state.ResumeRecord {
	now := p.now().UTC()
	rec := &state.ResumeRecord{
		ExecutionARN:   executionARN,
		ResumeState:    res.Payload.ResumeState(),
		FailureEventID: res.Failure.ID,
		FailureType:    string(res.Failure.Type),
		EntryEventID:   res.Entry.ID,
		Payload:        res.Payload,
		DelaySeconds:   delaySeconds,
		Status:         state.StatusPending,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if f := res.Failure.Failure(); f != nil {
		rec.Error, rec.Cause = f.Error, f.Cause
	}
	return rec
}
