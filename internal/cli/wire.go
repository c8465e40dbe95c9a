package cli

import (
	"context"
	"errors"
	"log/slog"

	redisstore "github.com/KamdynS/sfnresume/adapters/redis"
	sfnclient "github.com/KamdynS/sfnresume/adapters/sfn"
	sqsqueue "github.com/KamdynS/sfnresume/adapters/sqs"
	"github.com/KamdynS/sfnresume/config"
	"github.com/KamdynS/sfnresume/history"
	"github.com/KamdynS/sfnresume/observability"
	"github.com/KamdynS/sfnresume/queue"
	"github.com/KamdynS/sfnresume/state"
	"github.com/KamdynS/sfnresume/worker"
)

func (f fileSource) GetExecutionHistory(context.Context, string) (*history.History, error) {
	return f.h, nil
}

func newSFN(ctx context.Context, cfg config.Config) (*sfnclient.Client, error) {
	return sfnclient.New(ctx, sfnclient.Config{Region: cfg.Region, Endpoint: cfg.AWSEndpoint})
}

// backends are the queue and store selected by configuration.
type backends struct {
	queue queue.Queue
	store state.Store
	// local is set when the queue lives in this process, so no separate
	// worker process can drain it.
	local bool
	close []func() error
}

func (b *backends) Close() error {
	var errs []error
	for i := len(b.close) - 1; i >= 0; i-- {
		errs = append(errs, b.close[i]())
	}
	return errors.Join(errs...)
}

// openBackends picks SQS when a queue URL is configured and Redis when an
// address is, falling back to in-memory implementations. Without a queue URL
// a configured Redis also carries the queue.
func openBackends(ctx context.Context, cfg config.Config) (*backends, error) {
	b := &backends{}
	var rs *redisstore.Store
	if cfg.RedisAddr != "" {
		var err error
		rs, err = redisstore.New(redisstore.Config{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
			Prefix:   cfg.RedisPrefix,
		})
		if err != nil {
			return nil, err
		}
		b.store = rs
		b.close = append(b.close, rs.Close)
	} else {
		b.store = state.NewInMemoryStore()
	}

	if cfg.QueueURL != "" {
		q, err := sqsqueue.New(ctx, sqsqueue.Config{
			QueueURL: cfg.QueueURL,
			Region:   cfg.Region,
			Endpoint: cfg.AWSEndpoint,
			FIFO:     cfg.QueueFIFO,
		})
		if err != nil {
			_ = b.Close()
			return nil, err
		}
		b.queue = q
	} else if rs != nil {
		b.queue = redisstore.NewQueueFromClient(rs.Client(), redisstore.QueueConfig{Prefix: cfg.RedisPrefix, EnableDLQ: true})
	} else {
		b.queue = queue.NewInMemoryQueue()
		b.local = true
	}
	b.close = append(b.close, b.queue.Close)
	return b, nil
}

func newWorker(cfg config.Config, b *backends, starter worker.Starter, hooks *observability.Hooks, logger *slog.Logger) (*worker.Worker, error) {
	return worker.New(worker.Config{
		Queue:         b.queue,
		QueueName:     cfg.QueueName,
		Store:         b.store,
		Starter:       starter,
		Hooks:         hooks,
		Logger:        logger,
		PollInterval:  cfg.PollInterval,
		MaxConcurrent: cfg.WorkerConcurrency,
		MaxAttempts:   cfg.MaxAttempts,
	})
}

// startLocalWorker starts a worker in this process when the queue is
// in-memory. It returns nil for shared queues.
func startLocalWorker(ctx context.Context, cfg config.Config, b *backends, starter worker.Starter, hooks *observability.Hooks, logger *slog.Logger) (*worker.Worker, error) {
	if !b.local {
		return nil, nil
	}
	logger.Warn("no queue URL or Redis address configured; resumes run in this process and are lost on exit")
	w, err := newWorker(cfg, b, starter, hooks, logger)
	if err != nil {
		return nil, err
	}
	if err := w.Start(ctx); err != nil {
		return nil, err
	}
	return w, nil
}
