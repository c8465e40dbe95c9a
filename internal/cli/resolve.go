package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/KamdynS/sfnresume/history"
	"github.com/KamdynS/sfnresume/persister"
)

type resolveOptions struct {
	file         string
	taskFailures bool
	full         bool
}

// NewResolveCommand creates the resolve command.
func NewResolveCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &resolveOptions{}
	cmd := &cobra.Command{
		Use:   "resolve [execution-arn]",
		Short: "Print the resume payload of a failed execution",
		Long: `Resolve walks an execution history back to its failure and prints the
input of the failed state with resumeState set.

The history is fetched from Step Functions, or read from --file (use "-" for
standard input) as saved by "aws stepfunctions get-execution-history".`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 0 && opts.file == "" {
				return fmt.Errorf("an execution ARN or --file is required")
			}
			var h *history.History
			var err error
			if opts.file != "" {
				h, err = readHistoryFile(opts.file, cmd.InOrStdin())
			} else {
				h, err = fetchHistory(cmd, rootOpts, args[0])
			}
			if err != nil {
				return err
			}

			var ropts []history.Option
			if opts.taskFailures || rootOpts.Config.TaskFailures {
				ropts = append(ropts, history.WithTaskFailures())
			}
			trimmed, _ := persister.TrimExecutionFailed(*h)
			res, err := history.NewResolver(ropts...).Resolve(trimmed)
			if err != nil {
				return err
			}
			if opts.full {
				return writeJSON(cmd.OutOrStdout(), res)
			}
			return writeJSON(cmd.OutOrStdout(), res.Payload)
		},
	}

	cmd.Flags().StringVarP(&opts.file, "file", "f", "", "read the history from a file instead of AWS")
	cmd.Flags().BoolVar(&opts.taskFailures, "task-failures", false, "also resume from TaskFailed and TaskStateFailed")
	cmd.Flags().BoolVar(&opts.full, "full", false, "print the failure and entry events with the payload")
	return cmd
}

func fetchHistory(cmd *cobra.Command, rootOpts *RootOptions, arn string) (*history.History, error) {
	client, err := newSFN(cmd.Context(), rootOpts.Config)
	if err != nil {
		return nil, err
	}
	return client.GetExecutionHistory(cmd.Context(), arn)
}
