package cli

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

// NewRunCommand creates the run command.
func NewRunCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Start the pipeline and projection workers",
		Long: `Start every stage driver, the projection scheduler and the projection
worker against the configured store and queue.

The process runs until interrupted. Use a durable queue (sqlite:// or
postgres://) so that records ingested by other processes reach it.

Example:
  canon run --db ./canon.db --queue sqlite:///var/lib/canon/queue.db --models ./models
  CANON_STAGE_WORKERS=4 canon run --verbose`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runEngine(rootOpts, cmd)
		},
	}
	return cmd
}

func runEngine(opts *RootOptions, cmd *cobra.Command) error {
	logger := opts.logger()

	p, err := openProcess(opts)
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := p.Close(); closeErr != nil {
			logger.Error("error closing process", "error", closeErr)
		}
	}()

	parentCtx := cmd.Context()
	if parentCtx == nil {
		parentCtx = context.Background()
	}
	ctx, stop := signal.NotifyContext(parentCtx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger.Info("canon starting",
		"db", opts.DB,
		"queue", opts.QueueDSN,
		"models_dir", opts.ModelsDir)
	fmt.Fprintln(cmd.OutOrStdout(), "Pipeline started. Press Ctrl-C to stop.")

	if err := p.engine.Run(ctx); err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded) {
		return WrapExitError(ExitFailure, "engine error", err)
	}

	logger.Info("canon stopped gracefully")
	return nil
}
