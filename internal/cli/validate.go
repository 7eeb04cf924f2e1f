package cli

import (
	"errors"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/roach88/canon/internal/compiler"
)

// ValidationResult holds validation results.
type ValidationResult struct {
	Valid     bool                       `json:"valid"`
	FileCount int                        `json:"file_count"`
	Models    []string                   `json:"models"`
	Errors    []compiler.ValidationError `json:"errors,omitempty"`
}

// NewValidateCommand creates the validate command.
func NewValidateCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "validate [models-dir]",
		Short: "Check model definitions without running anything",
		Long: `Compile and validate every CUE model definition in a directory.

Every file is checked and every error is reported; a broken file does not
hide errors in the others. The directory defaults to --models.

Exit codes:
  0 - All models valid
  1 - One or more definitions are invalid
  2 - Command error (directory not found, no CUE files)`,
		Args:          cobra.MaximumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			dir := rootOpts.ModelsDir
			if len(args) == 1 {
				dir = args[0]
			}
			return runValidate(rootOpts, dir, cmd)
		},
	}

	return cmd
}

func runValidate(opts *RootOptions, dir string, cmd *cobra.Command) error {
	formatter := opts.formatter(cmd)
	if dir == "" {
		return outputValidateError(formatter, compiler.ErrCodeNotFound, "no models directory given")
	}

	loaded, loadErrors := compiler.LoadModels(dir, compiler.LoadModeCollectAll)

	// Nothing was compiled: the directory itself is the problem.
	if loaded == nil {
		var loadErr *compiler.LoadError
		if errors.As(loadErrors[0], &loadErr) {
			return outputValidateError(formatter, loadErr.Code, loadErr.Message)
		}
		return outputValidateError(formatter, compiler.ErrCodeGeneric, loadErrors[0].Error())
	}

	formatter.VerboseLog("Found %d CUE file(s) in %s", loaded.FileCount, dir)

	result := ValidationResult{
		Valid:     len(loadErrors) == 0,
		FileCount: loaded.FileCount,
		Models:    make([]string, 0, len(loaded.Models)),
	}
	for _, spec := range loaded.Models {
		formatter.VerboseLog("Validated model: %s", spec.Name)
		result.Models = append(result.Models, spec.Name)
	}
	for _, err := range loadErrors {
		result.Errors = append(result.Errors, toValidationError(err))
	}

	if !result.Valid {
		return outputValidationErrors(formatter, result)
	}
	return formatter.Emit(result, func(w io.Writer) {
		fmt.Fprintf(w, "✓ All models valid (%d model(s) in %d file(s))\n", len(result.Models), result.FileCount)
	})
}

func toValidationError(err error) compiler.ValidationError {
	var loadErr *compiler.LoadError
	if !errors.As(err, &loadErr) {
		return compiler.ValidationError{Field: "load", Message: err.Error(), Code: compiler.ErrCodeGeneric}
	}
	verr := compiler.ValidationError{
		Field:   loadErr.File,
		Message: loadErr.Message,
		Code:    loadErr.Code,
	}
	if loadErr.Pos.IsValid() {
		verr.Line = loadErr.Pos.Line()
	}
	return verr
}

// outputValidateError reports a command-level failure (exit code 2).
func outputValidateError(formatter *OutputFormatter, code, message string) error {
	_ = formatter.Error(code, message, nil)
	return NewExitError(ExitCommandError, fmt.Sprintf("%s: %s", code, message))
}

// outputValidationErrors reports invalid definitions (exit code 1).
func outputValidationErrors(formatter *OutputFormatter, result ValidationResult) error {
	failed := NewExitError(ExitFailure, fmt.Sprintf("validation failed with %d error(s)", len(result.Errors)))

	if formatter.Format == FormatJSON {
		first := result.Errors[0]
		if err := formatter.encode(CLIResponse{
			Status: "error",
			Data:   result,
			Error:  &CLIError{Code: first.Code, Message: first.Message},
		}); err != nil {
			return err
		}
		return failed
	}

	w := formatter.Writer
	fmt.Fprintln(w, "✗ Validation failed")
	fmt.Fprintln(w)
	for _, e := range result.Errors {
		if e.Line > 0 {
			fmt.Fprintf(w, "%s line %d\n", e.Field, e.Line)
		} else {
			fmt.Fprintln(w, e.Field)
		}
		fmt.Fprintf(w, "  %s: %s\n\n", e.Code, e.Message)
	}
	return failed
}
