package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/canon/internal/runtime"
	"github.com/roach88/canon/internal/store"
)

// ReplayOptions holds flags for the replay command.
type ReplayOptions struct {
	*RootOptions
	From  string // RFC 3339, inclusive
	Until string // RFC 3339, exclusive
	Drain bool
}

// ReplayResult reports what a replay or reproject scheduled. Counts are
// tasks scheduled, not projections completed, unless Drained is set.
type ReplayResult struct {
	Scanned   int  `json:"scanned"`
	Scheduled int  `json:"scheduled"`
	Existing  int  `json:"existing"`
	Failed    int  `json:"failed"`
	Drained   bool `json:"drained"`
	Tasks     int  `json:"tasks,omitempty"`
}

func newReplayResult(r runtime.Report) ReplayResult {
	return ReplayResult{
		Scanned:   r.Scanned,
		Scheduled: r.Scheduled,
		Existing:  r.Existing,
		Failed:    r.Failed,
	}
}

// NewReplayCommand creates the replay command.
func NewReplayCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ReplayOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "replay",
		Short: "Schedule projections for references that need them",
		Long: `Schedule projection tasks for every reference flagged as requiring
projection, optionally limited to references updated inside a window.

Retired references are skipped. The report counts tasks scheduled; with
--drain the tasks are also run in this process.

Exit codes:
  0 - Every reference was scheduled
  1 - Scheduling failed for one or more references
  2 - Command error (bad window, unreadable store, etc.)

Examples:
  canon replay
  canon replay --from 2024-01-01T00:00:00Z --until 2024-02-01T00:00:00Z
  canon replay --drain --format json`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runReplay(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.From, "from", "", "only references updated at or after this time (RFC 3339)")
	cmd.Flags().StringVar(&opts.Until, "until", "", "only references updated before this time (RFC 3339)")
	cmd.Flags().BoolVar(&opts.Drain, "drain", false, "run the scheduled projection tasks in this process")

	return cmd
}

func runReplay(opts *ReplayOptions, cmd *cobra.Command) error {
	window, err := parseWindow(opts.From, opts.Until)
	if err != nil {
		return WrapExitError(ExitCommandError, "invalid window", err)
	}

	p, err := openProcess(opts.RootOptions)
	if err != nil {
		return err
	}
	defer p.Close()

	ctx := commandContext(cmd)
	report, err := p.engine.Runtime().Replay(ctx, window)
	if err != nil {
		return WrapExitError(ExitFailure, "replay failed", err)
	}
	result := newReplayResult(report)

	if opts.Drain {
		drained, err := p.engine.Drain(ctx)
		if err != nil {
			return WrapExitError(ExitFailure, "drain failed", err)
		}
		result.Drained = true
		result.Tasks = drained.Tasks
	}

	if err := emitReplay(opts.formatter(cmd), "Replay", result); err != nil {
		return err
	}
	if result.Failed > 0 {
		return NewExitError(ExitFailure, fmt.Sprintf("scheduling failed for %d reference(s)", result.Failed))
	}
	return nil
}

// ReprojectOptions holds flags for the reproject command.
type ReprojectOptions struct {
	*RootOptions
	View  string
	Drain bool
}

// NewReprojectCommand creates the reproject command.
func NewReprojectCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ReprojectOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "reproject <reference-id>",
		Short: "Schedule one projection of a reference",
		Long: `Schedule exactly one projection task for the reference's current
version. Running it again for the same version schedules nothing.

Examples:
  canon reproject 0190f6c8-7a3c-7d2e-9b1f-1c2d3e4f5a6b
  canon reproject 0190f6c8-7a3c-7d2e-9b1f-1c2d3e4f5a6b --view Lineage --drain`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runReproject(opts, args[0], cmd)
		},
	}

	cmd.Flags().StringVar(&opts.View, "view", runtime.DefaultView, "view to project")
	cmd.Flags().BoolVar(&opts.Drain, "drain", false, "run the projection task in this process")

	return cmd
}

func runReproject(opts *ReprojectOptions, referenceID string, cmd *cobra.Command) error {
	p, err := openProcess(opts.RootOptions)
	if err != nil {
		return err
	}
	defer p.Close()

	ctx := commandContext(cmd)
	report, err := p.engine.Runtime().Reproject(ctx, referenceID, opts.View)
	if errors.Is(err, store.ErrNotFound) || errors.Is(err, runtime.ErrUnknownView) {
		return WrapExitError(ExitCommandError, "reproject failed", err)
	}
	if err != nil {
		return WrapExitError(ExitFailure, "reproject failed", err)
	}
	result := newReplayResult(report)

	if opts.Drain {
		drained, err := p.engine.Drain(ctx)
		if err != nil {
			return WrapExitError(ExitFailure, "drain failed", err)
		}
		result.Drained = true
		result.Tasks = drained.Tasks
	}

	return emitReplay(opts.formatter(cmd), "Reproject", result)
}

func emitReplay(f *OutputFormatter, title string, result ReplayResult) error {
	return f.Emit(result, func(w io.Writer) {
		fmt.Fprintf(w, "%s Summary: %d reference(s) scanned\n", title, result.Scanned)
		fmt.Fprintf(w, "  Scheduled: %d\n", result.Scheduled)
		fmt.Fprintf(w, "  Existing:  %d\n", result.Existing)
		if result.Failed > 0 {
			fmt.Fprintf(w, "  Failed:    %d\n", result.Failed)
		}
		if result.Drained {
			fmt.Fprintf(w, "  Tasks run: %d\n", result.Tasks)
		}
	})
}

func parseWindow(from, until string) (runtime.Window, error) {
	var w runtime.Window
	var err error
	if from != "" {
		if w.From, err = time.Parse(time.RFC3339, from); err != nil {
			return w, fmt.Errorf("--from: %w", err)
		}
	}
	if until != "" {
		if w.Until, err = time.Parse(time.RFC3339, until); err != nil {
			return w, fmt.Errorf("--until: %w", err)
		}
	}
	if !w.From.IsZero() && !w.Until.IsZero() && !w.From.Before(w.Until) {
		return w, fmt.Errorf("--from %s is not before --until %s", from, until)
	}
	return w, nil
}

func commandContext(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}
