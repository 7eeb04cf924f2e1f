package cli

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/canon/internal/ir"
	"github.com/roach88/canon/internal/runtime"
	"github.com/roach88/canon/internal/store"
)

// ShowOptions holds flags for the show command.
type ShowOptions struct {
	*RootOptions
	View string
}

// ShowResult is a reference with one of its projections.
type ShowResult struct {
	Reference      ir.CanonicalReference `json:"reference"`
	View           string                `json:"view"`
	Version        int64                 `json:"version"`
	MaterializedAt time.Time             `json:"materialized_at"`
	Document       json.RawMessage       `json:"document"`
}

// NewShowCommand creates the show command.
func NewShowCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ShowOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "show <reference-id>",
		Short: "Print a reference's projection",
		Long: `Print the stored projection of a reference. The Canonical view holds the
materialized fields; the Lineage view lists every contribution per field
with the winning value and policy.

A projection may lag the reference's version until its task has run.

Examples:
  canon show 0190f6c8-7a3c-7d2e-9b1f-1c2d3e4f5a6b
  canon show 0190f6c8-7a3c-7d2e-9b1f-1c2d3e4f5a6b --view Lineage --format json`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runShow(opts, args[0], cmd)
		},
	}

	cmd.Flags().StringVar(&opts.View, "view", runtime.DefaultView, "view to print (Canonical|Lineage)")

	return cmd
}

func runShow(opts *ShowOptions, referenceID string, cmd *cobra.Command) error {
	st, err := openStore(opts.DB)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to open database", err)
	}
	defer st.Close()

	ctx := commandContext(cmd)
	ref, err := st.GetReference(ctx, referenceID)
	if errors.Is(err, store.ErrNotFound) {
		return WrapExitError(ExitCommandError, "unknown reference", err)
	}
	if err != nil {
		return WrapExitError(ExitFailure, "failed to read reference", err)
	}

	p, err := st.ReadProjection(ctx, referenceID, opts.View)
	if errors.Is(err, store.ErrNotFound) {
		return WrapExitError(ExitCommandError,
			fmt.Sprintf("no %s projection for %s yet (try: canon reproject %s --view %s --drain)",
				opts.View, referenceID, referenceID, opts.View), err)
	}
	if err != nil {
		return WrapExitError(ExitFailure, "failed to read projection", err)
	}

	result := ShowResult{
		Reference:      ref,
		View:           p.View,
		Version:        p.Version,
		MaterializedAt: p.MaterializedAt,
		Document:       json.RawMessage(p.Document),
	}

	return opts.formatter(cmd).Emit(result, func(w io.Writer) {
		fmt.Fprintf(w, "Reference %s (%s) version %d\n", ref.ID, ref.Model, ref.Version)
		if ref.BusinessKey != "" {
			fmt.Fprintf(w, "  business key: %s\n", ref.BusinessKey)
		}
		if ref.Retired {
			fmt.Fprintln(w, "  retired")
		}
		fmt.Fprintf(w, "%s projection at version %d:\n", p.View, p.Version)
		fmt.Fprintln(w, indentJSON(p.Document))
	})
}

// RetireResult reports a retired reference.
type RetireResult struct {
	ReferenceID string `json:"reference_id"`
	Retired     bool   `json:"retired"`
}

// NewRetireCommand creates the retire command.
func NewRetireCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "retire <reference-id>",
		Short: "Soft-retire a reference",
		Long: `Mark a reference retired. It keeps its keys, history and projections,
so records carrying its keys still bind to it, but replay skips it.`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRetire(rootOpts, args[0], cmd)
		},
	}
	return cmd
}

func runRetire(opts *RootOptions, referenceID string, cmd *cobra.Command) error {
	st, err := openStore(opts.DB)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to open database", err)
	}
	defer st.Close()

	err = st.Retire(commandContext(cmd), referenceID, time.Now().UTC())
	if errors.Is(err, store.ErrNotFound) {
		return WrapExitError(ExitCommandError, "unknown reference", err)
	}
	if err != nil {
		return WrapExitError(ExitFailure, "retire failed", err)
	}
	opts.logger().Info("reference retired", "event", "reference_retired", "reference_id", referenceID)

	result := RetireResult{ReferenceID: referenceID, Retired: true}
	return opts.formatter(cmd).Emit(result, func(w io.Writer) {
		fmt.Fprintf(w, "Retired %s\n", referenceID)
	})
}

func indentJSON(doc []byte) string {
	var buf bytes.Buffer
	if err := json.Indent(&buf, doc, "", "  "); err != nil {
		return string(doc)
	}
	return buf.String()
}
