package cli

import (
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/canon/internal/query"
)

// RejectionsOptions holds flags for the rejections list command.
type RejectionsOptions struct {
	*RootOptions
	Reason string
	Model  string
	Record string
	Limit  int
}

// NewRejectionsCommand creates the rejections command group.
func NewRejectionsCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "rejections",
		Short: "Inspect key-resolution rejections",
	}
	cmd.AddCommand(newRejectionsListCommand(rootOpts))
	return cmd
}

func newRejectionsListCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &RejectionsOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List rejections in arrival order",
		Long: `List records refused by key resolution, with the reference ids and key
bindings that caused the refusal.

Examples:
  canon rejections list
  canon rejections list --reason MULTI_OWNER_COLLISION --format json`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRejectionsList(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Reason, "reason", "", "only rejections with this reason code")
	cmd.Flags().StringVar(&opts.Model, "model", "", "only rejections of this model")
	cmd.Flags().StringVar(&opts.Record, "record", "", "only rejections of this record id")
	cmd.Flags().IntVar(&opts.Limit, "limit", 100, "maximum entries to list (0 = no limit)")

	return cmd
}

func runRejectionsList(opts *RejectionsOptions, cmd *cobra.Command) error {
	st, err := openStore(opts.DB)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to open database", err)
	}
	defer st.Close()

	var preds []query.Predicate
	preds = appendEquals(preds, "reason_code", opts.Reason)
	preds = appendEquals(preds, "model", opts.Model)
	preds = appendEquals(preds, "record_id", opts.Record)

	rejections, err := st.QueryRejections(commandContext(cmd), query.Where(preds...), opts.Limit)
	if err != nil {
		return WrapExitError(ExitFailure, "failed to list rejections", err)
	}

	return opts.formatter(cmd).Emit(rejections, func(w io.Writer) {
		if len(rejections) == 0 {
			fmt.Fprintln(w, "No rejections.")
			return
		}
		for _, r := range rejections {
			fmt.Fprintf(w, "#%d %s record %s (%s) at %s\n",
				r.Seq, r.Code, r.RecordID, r.Model, r.At.Format(time.RFC3339))
			fmt.Fprintf(w, "  evidence: %s\n", formatObject(r.Evidence))
		}
	})
}
