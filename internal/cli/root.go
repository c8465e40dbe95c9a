// Package cli implements the sfnresume command line.
package cli

import (
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/KamdynS/sfnresume/config"
	"github.com/KamdynS/sfnresume/observability"
)

// RootOptions holds global flags and the configuration they refine.
type RootOptions struct {
	Region   string
	LogLevel string

	Config config.Config
	Logger *slog.Logger
}

// NewRootCommand creates the root command for the sfnresume CLI.
func NewRootCommand() *cobra.Command {
	opts := &RootOptions{}

	cmd := &cobra.Command{
		Use:   "sfnresume",
		Short: "Resume failed Step Functions executions",
		Long: `sfnresume walks the history of a failed Step Functions execution back to
the state that failed and produces the input that restarts the machine there.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			// Flags win over the environment.
			if cmd.Flags().Changed("region") {
				cfg.Region = opts.Region
			}
			if cmd.Flags().Changed("log-level") {
				cfg.LogLevel = opts.LogLevel
			}
			opts.Config = cfg
			opts.Logger = observability.NewLogger(cmd.ErrOrStderr(), cfg.LogLevel)
			return nil
		},
	}

	cmd.PersistentFlags().StringVar(&opts.Region, "region", "", "AWS region (overrides SFNRESUME_REGION)")
	cmd.PersistentFlags().StringVar(&opts.LogLevel, "log-level", "", "log level: debug, info, warn, error")

	cmd.AddCommand(NewResolveCommand(opts))
	cmd.AddCommand(NewPersistCommand(opts))
	cmd.AddCommand(NewWorkerCommand(opts))
	cmd.AddCommand(NewServeCommand(opts))

	return cmd
}
