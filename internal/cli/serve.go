package cli

import (
	"context"
	"errors"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/KamdynS/sfnresume/observability"
	"github.com/KamdynS/sfnresume/server"
)

// NewServeCommand creates the serve command.
func NewServeCommand(rootOpts *RootOptions) *cobra.Command {
	var port int
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the resume HTTP API",
		Long: `Serve accepts failed-execution notifications on POST /executions/failed,
either as {"executionArn": "..."} or as an EventBridge execution status change
event, and persists them like the persist command. Resume records are
available under /resumes and metrics under /metrics.

Without SFNRESUME_QUEUE_URL or SFNRESUME_REDIS_ADDR the queue is in-memory
and serve also runs the worker itself.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if cmd.Flags().Changed("port") {
				rootOpts.Config.HTTPPort = port
			}
			return runServe(cmd, rootOpts)
		},
	}
	cmd.Flags().IntVarP(&port, "port", "p", 0, "listen port (overrides SFNRESUME_HTTP_PORT)")
	return cmd
}

func runServe(cmd *cobra.Command, rootOpts *RootOptions) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	cfg := rootOpts.Config

	client, err := newSFN(ctx, cfg)
	if err != nil {
		return err
	}
	b, err := openBackends(ctx, cfg)
	if err != nil {
		return err
	}
	defer b.Close()

	reg := prometheus.NewRegistry()
	hooks := observability.NewMetrics(reg).Instrument(observability.LogHooks(rootOpts.Logger))
	p, err := newPersister(cfg, client, b, &hooks)
	if err != nil {
		return err
	}

	w, err := startLocalWorker(ctx, cfg, b, client, &hooks, rootOpts.Logger)
	if err != nil {
		return err
	}

	srv, err := server.New(server.Config{
		Persister: p,
		Store:     b.store,
		Port:      cfg.HTTPPort,
		Logger:    rootOpts.Logger,
		Metrics:   promhttp.HandlerFor(reg, promhttp.HandlerOpts{}),
	})
	if err != nil {
		return err
	}

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Start() }()

	var serveErr error
	select {
	case serveErr = <-errCh:
	case <-ctx.Done():
	}
	stopCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if serveErr == nil {
		serveErr = srv.Stop(stopCtx)
	}
	if w != nil {
		serveErr = errors.Join(serveErr, w.Stop(stopCtx))
	}
	return serveErr
}
