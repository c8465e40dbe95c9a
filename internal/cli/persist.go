package cli

import (
	"errors"

	"github.com/spf13/cobra"

	sfnclient "github.com/KamdynS/sfnresume/adapters/sfn"
	"github.com/KamdynS/sfnresume/config"
	"github.com/KamdynS/sfnresume/history"
	"github.com/KamdynS/sfnresume/observability"
	"github.com/KamdynS/sfnresume/persister"
)

type persistOptions struct {
	file string
}

// NewPersistCommand creates the persist command.
func NewPersistCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &persistOptions{}
	cmd := &cobra.Command{
		Use:   "persist <execution-arn>",
		Short: "Record a failed execution and queue its resumption",
		Long: `Persist resolves the resume payload of a failed execution, saves a pending
resume record and enqueues a message that a worker picks up after a random
delay between SFNRESUME_DELAY_MIN and SFNRESUME_DELAY_MAX seconds.

Persisting the same execution twice prints the existing record.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runPersist(cmd, rootOpts, opts, args[0])
		},
	}
	cmd.Flags().StringVarP(&opts.file, "file", "f", "", "read the history from a file instead of AWS")
	return cmd
}

func runPersist(cmd *cobra.Command, rootOpts *RootOptions, opts *persistOptions, arn string) error {
	ctx := cmd.Context()
	cfg := rootOpts.Config

	var source persister.HistorySource
	if opts.file != "" {
		h, err := readHistoryFile(opts.file, cmd.InOrStdin())
		if err != nil {
			return err
		}
		source = fileSource{h: h}
	} else {
		client, err := newSFN(ctx, cfg)
		if err != nil {
			return err
		}
		source = client
	}

	b, err := openBackends(ctx, cfg)
	if err != nil {
		return err
	}
	defer b.Close()

	hooks := observability.LogHooks(rootOpts.Logger)
	p, err := newPersister(cfg, source, b, &hooks)
	if err != nil {
		return err
	}

	rec, err := p.Persist(ctx, arn)
	if errors.Is(err, persister.ErrAlreadyPersisted) {
		rootOpts.Logger.Warn("execution already persisted", "execution", arn, "status", rec.Status)
		err = nil
	}
	if err != nil {
		return err
	}
	return writeJSON(cmd.OutOrStdout(), rec)
}

func newPersister(cfg config.Config, source persister.HistorySource, b *backends, hooks *observability.Hooks) (*persister.Persister, error) {
	var ropts []history.Option
	if cfg.TaskFailures {
		ropts = append(ropts, history.WithTaskFailures())
	}
	return persister.New(persister.Config{
		Source:          source,
		Queue:           b.queue,
		QueueName:       cfg.QueueName,
		Store:           b.store,
		Resolver:        history.NewResolver(ropts...),
		StateMachineARN: sfnclient.StateMachineARN,
		DelayMin:        cfg.DelayMin,
		DelayMax:        cfg.DelayMax,
		Hooks:           hooks,
	})
}
