package cli

import (
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/canon/internal/ir"
	"github.com/roach88/canon/internal/pipeline"
	"github.com/roach88/canon/internal/query"
	"github.com/roach88/canon/internal/store"
)

// ParkedListOptions holds flags for the parked list command.
type ParkedListOptions struct {
	*RootOptions
	Stage  string
	Reason string
	Model  string
	Record string
	All    bool // include reinjected entries
	Limit  int
}

// NewParkedCommand creates the parked command group.
func NewParkedCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "parked",
		Short: "Inspect and reinject parked records",
		Long: `Parked records left automatic processing: invalid records, exhausted
retries and resolution rejections. They stay parked until an operator
reinjects them.`,
	}
	cmd.AddCommand(newParkedListCommand(rootOpts))
	cmd.AddCommand(newParkedReinjectCommand(rootOpts))
	return cmd
}

func newParkedListCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ParkedListOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List parked records awaiting an operator",
		Long: `List parked records, oldest first. Entries already reinjected are
hidden unless --all is given.

Examples:
  canon parked list
  canon parked list --stage associate --reason MULTI_OWNER_COLLISION
  canon parked list --model device --format json`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runParkedList(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Stage, "stage", "", "only records parked at this stage")
	cmd.Flags().StringVar(&opts.Reason, "reason", "", "only records with this reason code")
	cmd.Flags().StringVar(&opts.Model, "model", "", "only records of this model")
	cmd.Flags().StringVar(&opts.Record, "record", "", "only entries for this record id")
	cmd.Flags().BoolVar(&opts.All, "all", false, "include entries already reinjected")
	cmd.Flags().IntVar(&opts.Limit, "limit", 100, "maximum entries to list (0 = no limit)")

	return cmd
}

func runParkedList(opts *ParkedListOptions, cmd *cobra.Command) error {
	st, err := openStore(opts.DB)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to open database", err)
	}
	defer st.Close()

	var preds []query.Predicate
	preds = appendEquals(preds, "stage", opts.Stage)
	preds = appendEquals(preds, "reason_code", opts.Reason)
	preds = appendEquals(preds, "model", opts.Model)
	preds = appendEquals(preds, "record_id", opts.Record)
	if !opts.All {
		preds = append(preds, query.IsNull{Field: "reinjected_at"})
	}

	parked, err := st.QueryParked(commandContext(cmd), query.Where(preds...), opts.Limit)
	if err != nil {
		return WrapExitError(ExitFailure, "failed to list parked records", err)
	}

	return opts.formatter(cmd).Emit(parked, func(w io.Writer) {
		if len(parked) == 0 {
			fmt.Fprintln(w, "No parked records.")
			return
		}
		for _, p := range parked {
			status := ""
			if p.ReinjectedAt != nil {
				status = " (reinjected)"
			}
			fmt.Fprintf(w, "%s%s\n", p.ID, status)
			fmt.Fprintf(w, "  record %s (%s) parked at %s: %s\n", p.RecordID, p.Model, p.Stage, p.ReasonCode)
			fmt.Fprintf(w, "  since %s, %d attempt(s)\n", p.ParkedAt.Format(time.RFC3339), p.Attempts)
			if opts.Verbose && len(p.Evidence) > 0 {
				fmt.Fprintf(w, "  evidence: %s\n", formatObject(p.Evidence))
			}
		}
	})
}

// ReinjectOptions holds flags for the parked reinject command.
type ReinjectOptions struct {
	*RootOptions
	Drain bool
}

// ReinjectResult reports one reinjected entry.
type ReinjectResult struct {
	ParkedID string `json:"parked_id"`
	RecordID string `json:"record_id"`
	Stage    string `json:"stage"`
	Drained  bool   `json:"drained"`
}

func newParkedReinjectCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ReinjectOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "reinject <parked-id>",
		Short: "Send a parked record back to its stage",
		Long: `Send a parked record back to the stage that parked it, with its retry
attempts reset. Each parked entry can be reinjected once; if the record parks
again it gets a new entry.

Draining is forced for the in-process memory:// queue.`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runReinject(opts, args[0], cmd)
		},
	}

	cmd.Flags().BoolVar(&opts.Drain, "drain", false, "process the reinjected record in this process")

	return cmd
}

func runReinject(opts *ReinjectOptions, parkedID string, cmd *cobra.Command) error {
	p, err := openProcess(opts.RootOptions)
	if err != nil {
		return err
	}
	defer p.Close()

	ctx := commandContext(cmd)
	parked, err := p.engine.Reinject(ctx, parkedID)
	switch {
	case errors.Is(err, store.ErrNotFound), errors.Is(err, pipeline.ErrAlreadyReinjected):
		return WrapExitError(ExitCommandError, "reinject failed", err)
	case err != nil:
		return WrapExitError(ExitFailure, "reinject failed", err)
	}

	result := ReinjectResult{ParkedID: parked.ID, RecordID: parked.RecordID, Stage: parked.Stage}
	if opts.Drain || isMemoryQueue(opts.QueueDSN) {
		if _, err := p.engine.Drain(ctx); err != nil {
			return WrapExitError(ExitFailure, "drain failed", err)
		}
		result.Drained = true
	}

	return opts.formatter(cmd).Emit(result, func(w io.Writer) {
		fmt.Fprintf(w, "Reinjected %s (record %s) at %s\n", result.ParkedID, result.RecordID, result.Stage)
	})
}

func appendEquals(preds []query.Predicate, field, value string) []query.Predicate {
	if value == "" {
		return preds
	}
	return append(preds, query.Equals{Field: field, Value: ir.String(value)})
}

func formatObject(obj ir.Object) string {
	b, err := ir.MarshalCanonical(obj)
	if err != nil {
		return fmt.Sprintf("%v", obj)
	}
	return string(b)
}
