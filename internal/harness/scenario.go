package harness

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Scenario defines a conformance test scenario: models, the records fed
// through the pipeline, and what must hold afterwards.
type Scenario struct {
	// Name uniquely identifies this scenario. It also names the golden file.
	Name string `yaml:"name"`

	// Description explains what this scenario validates.
	Description string `yaml:"description"`

	// Models is a directory of CUE model definitions, relative to the
	// scenario file.
	Models string `yaml:"models"`

	// Records are ingested in order.
	Records []RecordStep `yaml:"records"`

	// Reinject lists record ids whose parked items are reinjected after the
	// first drain. The engine is drained again afterwards.
	Reinject []string `yaml:"reinject,omitempty"`

	// Assertions validate the final state.
	Assertions []Assertion `yaml:"assertions"`
}

// RecordStep is one record to ingest.
type RecordStep struct {
	ID     string `yaml:"id"`
	Source string `yaml:"source"`
	Model  string `yaml:"model"`

	// OccurredAt defaults to the harness epoch.
	OccurredAt time.Time `yaml:"occurred_at,omitempty"`

	// Payload values are converted with ir.FromAny. Floats are rejected at
	// conversion time.
	Payload map[string]any `yaml:"payload"`
}

// Assertion validates the final state.
type Assertion struct {
	// Type selects the check:
	//   - "accepted": Record was bound, optionally to Reference at Version
	//   - "parked": Record is parked, optionally at Stage with Reason
	//   - "same_reference": all Records resolved to one reference
	//   - "reference_count": Count references, optionally of Model
	//   - "rejection_count": Count rejections, optionally with Reason
	//   - "projection": Reference's View document matches Expect (subset,
	//     dotted paths)
	Type string `yaml:"type"`

	Record    string   `yaml:"record,omitempty"`
	Records   []string `yaml:"records,omitempty"`
	Reference string   `yaml:"reference,omitempty"`
	Version   int64    `yaml:"version,omitempty"`
	Stage     string   `yaml:"stage,omitempty"`
	Reason    string   `yaml:"reason,omitempty"`
	Model     string   `yaml:"model,omitempty"`
	View      string   `yaml:"view,omitempty"`

	// Count is a pointer so that an explicit zero is distinguishable from
	// an omitted count.
	Count *int `yaml:"count,omitempty"`

	Expect map[string]any `yaml:"expect,omitempty"`
}

// Assertion type constants.
const (
	AssertAccepted       = "accepted"
	AssertParked         = "parked"
	AssertSameReference  = "same_reference"
	AssertReferenceCount = "reference_count"
	AssertRejectionCount = "rejection_count"
	AssertProjection     = "projection"
)

// LoadScenario reads and parses a scenario YAML file. The models directory
// is resolved relative to the file. Unknown fields (typos) are errors.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}

	scenario, err := ParseScenario(data)
	if err != nil {
		return nil, err
	}

	if scenario.Models != "" && !filepath.IsAbs(scenario.Models) {
		scenario.Models = filepath.Join(filepath.Dir(path), scenario.Models)
	}
	if _, err := os.Stat(scenario.Models); err != nil {
		return nil, fmt.Errorf("invalid scenario: models directory: %w", err)
	}
	return scenario, nil
}

// ParseScenario parses scenario YAML without touching the filesystem.
func ParseScenario(data []byte) (*Scenario, error) {
	var scenario Scenario
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true) // Reject unknown fields
	if err := decoder.Decode(&scenario); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	if err := validateScenario(&scenario); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}
	return &scenario, nil
}

func validateScenario(s *Scenario) error {
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}
	if s.Models == "" {
		return fmt.Errorf("models is required")
	}
	if len(s.Records) == 0 {
		return fmt.Errorf("records list is required and must be non-empty")
	}
	if len(s.Assertions) == 0 {
		return fmt.Errorf("assertions list is required and must be non-empty")
	}

	ids := make(map[string]bool, len(s.Records))
	for i, rec := range s.Records {
		if rec.ID == "" {
			return fmt.Errorf("records[%d]: id is required", i)
		}
		if ids[rec.ID] {
			return fmt.Errorf("records[%d]: duplicate id %q", i, rec.ID)
		}
		ids[rec.ID] = true
		if rec.Payload == nil {
			return fmt.Errorf("records[%d]: payload is required (use {} for an empty payload)", i)
		}
	}

	for i, id := range s.Reinject {
		if !ids[id] {
			return fmt.Errorf("reinject[%d]: unknown record %q", i, id)
		}
	}

	for i, assertion := range s.Assertions {
		if err := validateAssertion(i, &assertion); err != nil {
			return err
		}
	}
	return nil
}

// validateAssertion validates a single assertion based on its type.
func validateAssertion(index int, a *Assertion) error {
	if a.Type == "" {
		return fmt.Errorf("assertions[%d]: type is required", index)
	}

	switch a.Type {
	case AssertAccepted, AssertParked:
		if a.Record == "" {
			return fmt.Errorf("assertions[%d]: record is required for %s", index, a.Type)
		}
	case AssertSameReference:
		if len(a.Records) < 2 {
			return fmt.Errorf("assertions[%d]: at least two records are required for same_reference", index)
		}
	case AssertReferenceCount, AssertRejectionCount:
		if a.Count == nil || *a.Count < 0 {
			return fmt.Errorf("assertions[%d]: non-negative count is required for %s", index, a.Type)
		}
	case AssertProjection:
		if a.Reference == "" {
			return fmt.Errorf("assertions[%d]: reference is required for projection", index)
		}
		if len(a.Expect) == 0 {
			return fmt.Errorf("assertions[%d]: expect is required for projection", index)
		}
	default:
		return fmt.Errorf("assertions[%d]: unknown assertion type %q", index, a.Type)
	}
	return nil
}
