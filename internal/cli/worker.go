package cli

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/KamdynS/sfnresume/observability"
)

// NewWorkerCommand creates the worker command.
func NewWorkerCommand(rootOpts *RootOptions) *cobra.Command {
	var concurrency int
	cmd := &cobra.Command{
		Use:   "worker",
		Short: "Start resumed executions from the resume queue",
		Long: `Worker polls the resume queue and starts a fresh execution of the original
state machine for every message, using the stored payload as input. It runs
until interrupted.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if cmd.Flags().Changed("concurrency") {
				rootOpts.Config.WorkerConcurrency = concurrency
			}
			return runWorker(cmd, rootOpts)
		},
	}
	cmd.Flags().IntVarP(&concurrency, "concurrency", "c", 0, "number of poll loops (overrides SFNRESUME_WORKER_CONCURRENCY)")
	return cmd
}

func runWorker(cmd *cobra.Command, rootOpts *RootOptions) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	cfg := rootOpts.Config
	logger := rootOpts.Logger

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
	hooks := observability.NewMetrics(reg).Instrument(observability.LogHooks(logger))
	if cfg.MetricsAddr != "" {
		srv := &http.Server{
			Addr:              cfg.MetricsAddr,
			Handler:           promhttp.HandlerFor(reg, promhttp.HandlerOpts{}),
			ReadHeaderTimeout: 5 * time.Second,
		}
		go func() {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("metrics server", "error", err)
			}
		}()
		defer srv.Close()
	}

	w, err := newWorker(cfg, b, client, &hooks, logger)
	if err != nil {
		return err
	}
	if err := w.Start(ctx); err != nil {
		return err
	}
	<-ctx.Done()

	stopCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	return w.Stop(stopCtx)
}
