package cli

import (
	"fmt"
	"log/slog"
	"slices"

	"github.com/spf13/cobra"

	"github.com/roach88/canon/internal/config"
	"github.com/roach88/canon/internal/ir"
)

// RootOptions holds global flags for all commands.
//
// DB, QueueDSN and ModelsDir start from the environment (CANON_*) and are
// overridden by the matching flags.
type RootOptions struct {
	Verbose bool
	Format  string // "json" | "text"

	DB        string
	QueueDSN  string
	ModelsDir string

	// Config is the environment configuration the command runs with.
	Config config.Config

	// Logger is built from Config and --verbose before any command runs.
	Logger *slog.Logger
}

// NewRootCommand creates the root command for the canon CLI.
func NewRootCommand() *cobra.Command {
	opts := &RootOptions{}

	cmd := &cobra.Command{
		Use:     "canon",
		Version: ir.EngineVersion,
		Short:   "Canon - entity resolution and materialization",
		Long: `Canon merges records from many sources into canonical references.

Records flow through intake, standardize, key, associate and project stages.
Aggregation keys bind each record to exactly one canonical reference, and
per-field policies materialize the reference into projections.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return opts.setup(cmd)
		},
	}

	// Global flags
	flags := cmd.PersistentFlags()
	flags.BoolVarP(&opts.Verbose, "verbose", "v", false, "verbose output")
	flags.StringVar(&opts.Format, "format", FormatText, "output format (json|text)")
	flags.StringVar(&opts.DB, "db", "", "path to SQLite document store (env CANON_DB_PATH)")
	flags.StringVar(&opts.QueueDSN, "queue", "", "queue DSN: memory://, sqlite:///path, postgres://... (env CANON_QUEUE_DSN)")
	flags.StringVar(&opts.ModelsDir, "models", "", "directory of CUE model definitions (env CANON_MODELS_DIR)")

	cmd.AddCommand(NewRunCommand(opts))
	cmd.AddCommand(NewIngestCommand(opts))
	cmd.AddCommand(NewReplayCommand(opts))
	cmd.AddCommand(NewReprojectCommand(opts))
	cmd.AddCommand(NewParkedCommand(opts))
	cmd.AddCommand(NewRejectionsCommand(opts))
	cmd.AddCommand(NewShowCommand(opts))
	cmd.AddCommand(NewRetireCommand(opts))
	cmd.AddCommand(NewValidateCommand(opts))
	cmd.AddCommand(NewTestCommand(opts))

	return cmd
}

// setup loads the environment configuration, applies flag overrides and
// builds the logger.
func (o *RootOptions) setup(cmd *cobra.Command) error {
	if !slices.Contains(ValidFormats, o.Format) {
		return NewExitError(ExitCommandError,
			fmt.Sprintf("invalid format %q: must be one of %v", o.Format, ValidFormats))
	}

	cfg, err := config.Load()
	if err != nil {
		return WrapExitError(ExitCommandError, "invalid configuration", err)
	}
	o.Config = cfg

	if o.DB == "" {
		o.DB = cfg.DBPath
	}
	if o.QueueDSN == "" {
		o.QueueDSN = cfg.QueueDSN
	}
	if o.ModelsDir == "" {
		o.ModelsDir = cfg.ModelsDir
	}

	level := cfg.LogLevel
	if o.Verbose {
		level = "debug"
	}
	logger, err := config.NewLogger(cmd.ErrOrStderr(), cfg.LogFormat, level)
	if err != nil {
		return WrapExitError(ExitCommandError, "invalid configuration", err)
	}
	o.Logger = logger
	return nil
}

// logger returns the configured logger, or the default one when the
// command runs without the root (tests construct commands directly).
func (o *RootOptions) logger() *slog.Logger {
	if o.Logger != nil {
		return o.Logger
	}
	return slog.Default()
}

func (o *RootOptions) formatter(cmd *cobra.Command) *OutputFormatter {
	return &OutputFormatter{
		Format:    o.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(),
		Verbose:   o.Verbose,
	}
}
