package compiler

import (
	"fmt"
	"regexp"
	"slices"
	"strings"

	"github.com/roach88/canon/internal/ir"
)

// Validation error codes (E100-E199)
const (
	// General validation errors (E100)
	ErrUnsupportedIRType = "E100" // unsupported IR type for validation

	// ModelSpec errors (E101-E109)
	ErrModelNameInvalid  = "E101" // model name is not an identifier
	ErrModelNoKeys       = "E102" // at least one key path required
	ErrInvalidPath       = "E103" // malformed dotted payload path
	ErrBusinessKeyNotKey = "E104" // business key must be one of the key paths
	ErrDuplicateName     = "E105" // duplicate key path or view
	ErrPolicyAndOverride = "E106" // policies and transformer are exclusive
	ErrUnknownView       = "E107" // view is not Canonical or Lineage
	ErrEmptyPolicyName   = "E108" // policy binding with an empty name
	ErrDuplicateModel    = "E109" // model defined twice across files
)

// ValidationError represents a schema validation error.
type ValidationError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
	Code    string `json:"code"`
	Line    int    `json:"line,omitempty"`
}

// Error implements the error interface.
func (e ValidationError) Error() string {
	if e.Line > 0 {
		return fmt.Sprintf("[%s] line %d: %s: %s", e.Code, e.Line, e.Field, e.Message)
	}
	return fmt.Sprintf("[%s] %s: %s", e.Code, e.Field, e.Message)
}

// Validate validates compiled IR against schema rules.
// Returns all errors found (does not fail-fast).
//
// Unknown policy names are not errors: materialization degrades them to
// last-wins with a warning.
func Validate(v any) []ValidationError {
	switch spec := v.(type) {
	case *ir.ModelSpec:
		return validateModelSpec(spec)
	case ir.ModelSpec:
		return validateModelSpec(&spec)
	default:
		return []ValidationError{{
			Field:   "type",
			Message: fmt.Sprintf("unsupported IR type: %T", v),
			Code:    ErrUnsupportedIRType,
		}}
	}
}

// identPattern matches model names and path segments.
var identPattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

func validateModelSpec(spec *ir.ModelSpec) []ValidationError {
	var errs []ValidationError

	// E101: the name becomes the key namespace prefix
	if !identPattern.MatchString(spec.Name) {
		errs = append(errs, ValidationError{
			Field:   "name",
			Message: fmt.Sprintf("model name %q must be an identifier", spec.Name),
			Code:    ErrModelNameInvalid,
		})
	}

	// E102
	if len(spec.Keys) == 0 {
		errs = append(errs, ValidationError{
			Field:   "keys",
			Message: "at least one key path is required",
			Code:    ErrModelNoKeys,
		})
	}

	seen := make(map[string]bool, len(spec.Keys))
	for i, path := range spec.Keys {
		if err := validatePath(path, fmt.Sprintf("keys[%d]", i)); err != nil {
			errs = append(errs, *err)
		}
		// E105
		if seen[path] {
			errs = append(errs, ValidationError{
				Field:   fmt.Sprintf("keys[%d]", i),
				Message: fmt.Sprintf("duplicate key path: %q", path),
				Code:    ErrDuplicateName,
			})
		}
		seen[path] = true
	}

	// E104
	if spec.BusinessKey != "" && !slices.Contains(spec.Keys, spec.BusinessKey) {
		errs = append(errs, ValidationError{
			Field:   "business_key",
			Message: fmt.Sprintf("business key %q is not one of the key paths", spec.BusinessKey),
			Code:    ErrBusinessKeyNotKey,
		})
	}

	// E106: a model is either per-field or record-level, never both
	if spec.RecordTransformer != "" && (len(spec.FieldPolicies) > 0 || spec.DefaultPolicy != "") {
		errs = append(errs, ValidationError{
			Field:   "transformer",
			Message: "transformer cannot be combined with policies or default_policy",
			Code:    ErrPolicyAndOverride,
		})
	}

	paths := make([]string, 0, len(spec.FieldPolicies))
	for path := range spec.FieldPolicies {
		paths = append(paths, path)
	}
	slices.Sort(paths)
	for _, path := range paths {
		field := "policies." + path
		if err := validatePath(path, field); err != nil {
			errs = append(errs, *err)
		}
		// E108
		if strings.TrimSpace(spec.FieldPolicies[path]) == "" {
			errs = append(errs, ValidationError{
				Field:   field,
				Message: "policy name must be non-empty",
				Code:    ErrEmptyPolicyName,
			})
		}
	}

	views := make(map[string]bool, len(spec.Views))
	for i, view := range spec.Views {
		// E107
		if view != ir.ViewCanonical && view != ir.ViewLineage {
			errs = append(errs, ValidationError{
				Field:   fmt.Sprintf("views[%d]", i),
				Message: fmt.Sprintf("unknown view %q, must be %q or %q", view, ir.ViewCanonical, ir.ViewLineage),
				Code:    ErrUnknownView,
			})
		}
		if views[view] {
			errs = append(errs, ValidationError{
				Field:   fmt.Sprintf("views[%d]", i),
				Message: fmt.Sprintf("duplicate view: %q", view),
				Code:    ErrDuplicateName,
			})
		}
		views[view] = true
	}

	return errs
}

// validatePath checks a dotted payload path (E103).
func validatePath(path, field string) *ValidationError {
	for _, seg := range strings.Split(path, ".") {
		if seg == "" || strings.TrimSpace(seg) != seg {
			return &ValidationError{
				Field:   field,
				Message: fmt.Sprintf("invalid payload path %q", path),
				Code:    ErrInvalidPath,
			}
		}
	}
	return nil
}
