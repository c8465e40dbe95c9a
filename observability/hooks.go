// Package observability carries the optional logging and metrics callbacks
// used across the resume pipeline.
package observability

import (
	"context"
	"time"
)

// Hooks provides optional callbacks for logging and metrics without
// introducing dependencies in the core packages. All functions are optional.
type Hooks struct {
	// Logf logs a structured message with a severity level and key-value fields.
	Logf func(ctx context.Context, level string, msg string, fields map[string]any)

	// OnHistoryFetched is called after an execution history was retrieved.
	OnHistoryFetched func(ctx context.Context, executionARN string, events int, latency time.Duration)
	// OnResolved is called when a resume state was found.
	OnResolved func(ctx context.Context, executionARN string, resumeState string)
	// OnResolveError is called when resolution failed.
	OnResolveError func(ctx context.Context, executionARN string, err error)
	// OnEnqueued is called once a resume message is on the queue.
	OnEnqueued func(ctx context.Context, executionARN string, delaySeconds int)
	// OnResumed is called after the worker tried to start a resumed execution.
	OnResumed func(ctx context.Context, executionARN string, err error)
}

// SafeLog logs if Logf is configured.
func (h *Hooks) SafeLog(ctx context.Context, level string, msg string, fields map[string]any) {
	if h != nil && h.Logf != nil {
		h.Logf(ctx, level, msg, fields)
	}
}

// SafeHistoryFetched invokes OnHistoryFetched if configured.
func (h *Hooks) SafeHistoryFetched(ctx context.Context, executionARN string, events int, latency time.Duration) {
	if h != nil && h.OnHistoryFetched != nil {
		h.OnHistoryFetched(ctx, executionARN, events, latency)
	}
}

// SafeResolved invokes OnResolved if configured.
func (h *Hooks) SafeResolved(ctx context.Context, executionARN string, resumeState string) {
	if h != nil && h.OnResolved != nil {
		h.OnResolved(ctx, executionARN, resumeState)
	}
}

// SafeResolveError invokes OnResolveError if configured.
func (h *Hooks) SafeResolveError(ctx context.Context, executionARN string, err error) {
	if h != nil && h.OnResolveError != nil {
		h.OnResolveError(ctx, executionARN, err)
	}
}

// SafeEnqueued invokes OnEnqueued if configured.
func (h *Hooks) SafeEnqueued(ctx context.Context, executionARN string, delaySeconds int) {
	if h != nil && h.OnEnqueued != nil {
		h.OnEnqueued(ctx, executionARN, delaySeconds)
	}
}

// SafeResumed invokes OnResumed if configured.
func (h *Hooks) SafeResumed(ctx context.Context, executionARN string, err error) {
	if h != nil && h.OnResumed != nil {
		h.OnResumed(ctx, executionARN, err)
	}
}
