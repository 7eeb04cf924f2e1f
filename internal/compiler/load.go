package compiler

import (
	"cmp"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"slices"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"cuelang.org/go/cue/token"

	"github.com/roach88/canon/internal/ir"
)

// LoadMode controls how errors are handled during model loading.
type LoadMode int

const (
	// LoadModeFailFast stops on the first error encountered.
	LoadModeFailFast LoadMode = iota
	// LoadModeCollectAll collects all errors before returning.
	LoadModeCollectAll
)

// Load error codes.
const (
	ErrCodeGeneric     = "E001" // Generic/unknown error
	ErrCodeScanError   = "E002" // Directory scan error
	ErrCodeNoFiles     = "E003" // No CUE files found
	ErrCodeLoadFailed  = "E004" // File could not be read
	ErrCodeNotFound    = "E005" // Path not found
	ErrCodeBuildFailed = "E006" // CUE build failed
	ErrCodeNoModels    = "E007" // No model definitions found
)

// LoadResult contains the models loaded from a directory.
type LoadResult struct {
	Models    []ir.ModelSpec // sorted by name
	FileCount int            // Number of CUE files found
	Skipped   []string       // files that failed and were skipped
}

// LoadError represents an error that occurred during model loading.
type LoadError struct {
	Code    string
	File    string
	Message string
	Pos     token.Pos // CUE position if available
}

func (e *LoadError) Error() string {
	if e.Pos.IsValid() {
		return fmt.Sprintf("%s:%d:%d: %s: %s", e.Pos.Filename(), e.Pos.Line(), e.Pos.Column(), e.Code, e.Message)
	}
	if e.File != "" {
		return fmt.Sprintf("%s: %s: %s", e.File, e.Code, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// LoadModels compiles every .cue file under dir into model specs.
//
// Each file is compiled on its own, so one broken file does not hide the
// models defined elsewhere. Files declare models under a top-level "model"
// struct. In LoadModeCollectAll a failing file is skipped and its errors
// are returned alongside the models that did load.
func LoadModels(dir string, mode LoadMode) (*LoadResult, []error) {
	info, err := os.Stat(dir)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, []error{&LoadError{Code: ErrCodeNotFound, Message: fmt.Sprintf("models directory not found: %s", dir)}}
	}
	if err != nil {
		return nil, []error{&LoadError{Code: ErrCodeNotFound, Message: fmt.Sprintf("error accessing models directory: %v", err)}}
	}
	if !info.IsDir() {
		return nil, []error{&LoadError{Code: ErrCodeNotFound, Message: fmt.Sprintf("not a directory: %s", dir)}}
	}

	files, err := FindCUEFiles(dir)
	if err != nil {
		return nil, []error{&LoadError{Code: ErrCodeScanError, Message: fmt.Sprintf("error scanning directory: %v", err)}}
	}
	if len(files) == 0 {
		return nil, []error{&LoadError{Code: ErrCodeNoFiles, Message: fmt.Sprintf("no CUE files found in %s", dir)}}
	}

	ctx := cuecontext.New()
	result := &LoadResult{FileCount: len(files)}
	definedIn := make(map[string]string)
	var errs []error

	for _, file := range files {
		specs, fileErrs := loadFile(ctx, file)
		for _, spec := range specs {
			if prev, dup := definedIn[spec.Name]; dup {
				fileErrs = append(fileErrs, &LoadError{
					Code:    ErrDuplicateModel,
					File:    file,
					Message: fmt.Sprintf("model %q already defined in %s", spec.Name, prev),
				})
			}
		}
		if len(fileErrs) > 0 {
			errs = append(errs, fileErrs...)
			result.Skipped = append(result.Skipped, file)
			if mode == LoadModeFailFast {
				return result, errs
			}
			continue
		}
		for _, spec := range specs {
			definedIn[spec.Name] = file
			result.Models = append(result.Models, spec)
		}
	}

	slices.SortFunc(result.Models, func(a, b ir.ModelSpec) int {
		return cmp.Compare(a.Name, b.Name)
	})

	if len(result.Models) == 0 && len(errs) == 0 {
		errs = append(errs, &LoadError{Code: ErrCodeNoModels, Message: fmt.Sprintf("no model definitions found in %s", dir)})
	}
	return result, errs
}

// loadFile compiles and validates the models in one file. Any error
// rejects the whole file.
func loadFile(ctx *cue.Context, file string) ([]ir.ModelSpec, []error) {
	src, err := os.ReadFile(file)
	if err != nil {
		return nil, []error{&LoadError{Code: ErrCodeLoadFailed, File: file, Message: err.Error()}}
	}

	value := ctx.CompileBytes(src, cue.Filename(file))
	if err := value.Err(); err != nil {
		return nil, []error{convertCompileError(formatCUEError(err), file, ErrCodeBuildFailed)}
	}

	modelsVal := value.LookupPath(cue.ParsePath("model"))
	if !modelsVal.Exists() {
		return nil, nil
	}
	iter, err := modelsVal.Fields()
	if err != nil {
		return nil, []error{convertCompileError(formatCUEError(err), file, ErrCodeBuildFailed)}
	}

	var specs []ir.ModelSpec
	var errs []error
	for iter.Next() {
		spec, err := CompileModel(iter.Value())
		if err != nil {
			errs = append(errs, convertCompileError(err, file, ErrCodeGeneric))
			continue
		}
		for _, verr := range Validate(spec) {
			errs = append(errs, &LoadError{
				Code:    verr.Code,
				File:    file,
				Message: fmt.Sprintf("model.%s: %s: %s", spec.Name, verr.Field, verr.Message),
			})
		}
		specs = append(specs, *spec)
	}
	return specs, errs
}

// FindCUEFiles walks the directory and returns all .cue file paths in
// lexical order.
func FindCUEFiles(dir string) ([]string, error) {
	var files []string
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() && filepath.Ext(path) == ".cue" {
			files = append(files, path)
		}
		return nil
	})
	return files, err
}

// convertCompileError converts a compiler error to a LoadError with position info.
func convertCompileError(err error, file, code string) *LoadError {
	var compileErr *CompileError
	if errors.As(err, &compileErr) {
		if compileErr.Field == "keys" {
			code = ErrModelNoKeys
		}
		return &LoadError{
			Code:    code,
			File:    file,
			Message: fmt.Sprintf("%s: %s", compileErr.Field, compileErr.Message),
			Pos:     compileErr.Pos,
		}
	}
	return &LoadError{Code: code, File: file, Message: err.Error()}
}
