package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/canon/internal/ir"
)

// IngestOptions holds flags for the ingest command.
type IngestOptions struct {
	*RootOptions
	Drain   bool
	Timeout time.Duration
}

// IngestResult summarizes one ingest run.
type IngestResult struct {
	RecordIDs  []string       `json:"record_ids"`
	Drained    bool           `json:"drained"`
	Deliveries map[string]int `json:"deliveries,omitempty"`
	Tasks      int            `json:"tasks,omitempty"`
}

// NewIngestCommand creates the ingest command.
func NewIngestCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &IngestOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "ingest <file|->",
		Short: "Submit records to the intake stage",
		Long: `Submit records, one JSON object per record, to the intake stage.

Each record carries source_id, model, occurred_at and payload. A record
without record_id gets the content-derived id.

With --drain the pipeline runs in this process until every stage and every
projection task is done. Draining is forced for the in-process memory://
queue, since its items would otherwise be lost on exit.

Examples:
  canon ingest records.jsonl
  cat records.jsonl | canon ingest - --format json
  canon ingest --queue sqlite:///var/lib/canon/queue.db records.jsonl`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runIngest(opts, args[0], cmd)
		},
	}

	cmd.Flags().BoolVar(&opts.Drain, "drain", false, "process the ingested records in this process")
	cmd.Flags().DurationVar(&opts.Timeout, "timeout", 5*time.Minute, "deadline for --drain")

	return cmd
}

func runIngest(opts *IngestOptions, source string, cmd *cobra.Command) error {
	formatter := opts.formatter(cmd)

	records, err := readRecords(source, cmd.InOrStdin())
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to read records", err)
	}

	p, err := openProcess(opts.RootOptions)
	if err != nil {
		return err
	}
	defer p.Close()

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	result := IngestResult{RecordIDs: make([]string, 0, len(records))}
	for _, rec := range records {
		id, err := p.engine.Ingest(ctx, rec)
		if err != nil {
			return WrapExitError(ExitFailure, "ingest failed", err)
		}
		formatter.VerboseLog("ingested %s", id)
		result.RecordIDs = append(result.RecordIDs, id)
	}

	if opts.Drain || isMemoryQueue(opts.QueueDSN) {
		drainCtx, cancel := context.WithTimeout(ctx, opts.Timeout)
		defer cancel()
		report, err := p.engine.Drain(drainCtx)
		if err != nil {
			return WrapExitError(ExitFailure, "drain failed", err)
		}
		result.Drained = true
		result.Deliveries = report.Deliveries
		result.Tasks = report.Tasks
	}

	return formatter.Emit(result, func(w io.Writer) {
		fmt.Fprintf(w, "Ingested %d record(s)\n", len(result.RecordIDs))
		if result.Drained {
			fmt.Fprintf(w, "Drained: %d projection task(s) run\n", result.Tasks)
		}
	})
}

// readRecords decodes a stream of JSON records from path, or from stdin
// when path is "-".
func readRecords(path string, stdin io.Reader) ([]ir.Record, error) {
	r := stdin
	if path != "-" {
		f, err := os.Open(path)
		if err != nil {
			return nil, err
		}
		defer f.Close()
		r = f
	}

	var records []ir.Record
	dec := json.NewDecoder(r)
	for {
		var rec ir.Record
		err := dec.Decode(&rec)
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("record %d: %w", len(records)+1, err)
		}
		records = append(records, rec)
	}
	if len(records) == 0 {
		return nil, errors.New("no records in input")
	}
	return records, nil
}
