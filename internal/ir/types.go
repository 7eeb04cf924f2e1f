package ir

import (
	"cmp"
	"fmt"
	"strings"
	"time"
)

// Record is an immutable intake envelope produced by an adapter per observed event.
type Record struct {
	ID             string    `json:"record_id"`
	SourceID       string    `json:"source_id"`
	Model          string    `json:"model"`
	OccurredAt     time.Time `json:"occurred_at"`
	ReceivedAt     time.Time `json:"received_at"`
	PolicyVersion  string    `json:"policy_version"`
	CorrelationID  string    `json:"correlation_id"`
	Payload        Object    `json:"payload"`
	SourceMetadata Object    `json:"source_metadata"`
	Diagnostics    []string  `json:"diagnostics"`
}

// Validate checks the envelope fields every record must carry.
func (r Record) Validate() error {
	var missing []string
	if r.ID == "" {
		missing = append(missing, "record_id")
	}
	if r.SourceID == "" {
		missing = append(missing, "source_id")
	}
	if r.Model == "" {
		missing = append(missing, "model")
	}
	if r.OccurredAt.IsZero() {
		missing = append(missing, "occurred_at")
	}
	if r.Payload == nil {
		missing = append(missing, "payload")
	}
	if len(missing) > 0 {
		return fmt.Errorf("record missing required fields: %s", strings.Join(missing, ", "))
	}
	return nil
}

// AggregationKey is a namespaced external identifier extracted from a payload.
// Identity is (Namespace, Value).
type AggregationKey struct {
	Namespace string `json:"namespace"`
	Value     string `json:"value"`
}

func (k AggregationKey) String() string {
	return k.Namespace + "=" + k.Value
}

// CompareKeys orders keys by namespace, then value.
func CompareKeys(a, b AggregationKey) int {
	if c := cmp.Compare(a.Namespace, b.Namespace); c != 0 {
		return c
	}
	return cmp.Compare(a.Value, b.Value)
}

// KeyIndexEntry binds one aggregation key to its canonical reference.
type KeyIndexEntry struct {
	Key         AggregationKey `json:"key"`
	ReferenceID string         `json:"canonical_reference_id"`
	BusinessKey string         `json:"canonical_business_key,omitempty"` // empty until assigned
	BoundBy     string         `json:"bound_by_record"`
	BoundAt     time.Time      `json:"bound_at"`
}

// CanonicalReference is the resolved identity of one real-world entity.
type CanonicalReference struct {
	ID                 string    `json:"reference_id"`
	Model              string    `json:"model"`
	BusinessKey        string    `json:"canonical_business_key,omitempty"`
	Version            int64     `json:"version"`
	RequiresProjection bool      `json:"requires_projection"`
	Retired            bool      `json:"retired"`
	CreatedAt          time.Time `json:"created_at"`
	UpdatedAt          time.Time `json:"updated_at"`
}

// FieldValue is one contribution to a reference's field history.
// Seq is the store-wide arrival order; Version is the reference version that
// accepted the contribution.
type FieldValue struct {
	ReferenceID string    `json:"reference_id"`
	Path        string    `json:"field_path"`
	Seq         int64     `json:"seq"`
	Version     int64     `json:"version"`
	RecordID    string    `json:"record_id"`
	SourceID    string    `json:"source_id"`
	OccurredAt  time.Time `json:"occurred_at"`
	Value       Value     `json:"value"`
}

// View names.
const (
	ViewCanonical = "Canonical"
	ViewLineage   = "Lineage"
)

// DefaultViews are scheduled for every reference unless a model overrides them.
var DefaultViews = []string{ViewCanonical, ViewLineage}

// TaskStatus is the lifecycle state of a projection task.
type TaskStatus string

const (
	TaskPending TaskStatus = "pending"
	TaskDone    TaskStatus = "done"
	TaskFailed  TaskStatus = "failed"
)

// ProjectionTask is a deduplicated unit of materialization work.
// ID is ProjectionTaskID(ReferenceID, Version, View).
type ProjectionTask struct {
	ID          string     `json:"id"`
	ReferenceID string     `json:"reference_id"`
	Version     int64      `json:"version"`
	View        string     `json:"view_name"`
	Status      TaskStatus `json:"status"`
	Attempts    int        `json:"attempts"`
	LastError   string     `json:"last_error,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
}

// NewProjectionTask builds a pending task with its content-addressed id.
func NewProjectionTask(referenceID string, version int64, view string, at time.Time) ProjectionTask {
	return ProjectionTask{
		ID:          ProjectionTaskID(referenceID, version, view),
		ReferenceID: referenceID,
		Version:     version,
		View:        view,
		Status:      TaskPending,
		CreatedAt:   at,
		UpdatedAt:   at,
	}
}

// Projection is a materialized view document for one reference.
// Document holds canonical JSON.
type Projection struct {
	ReferenceID    string    `json:"reference_id"`
	View           string    `json:"view_name"`
	Version        int64     `json:"version"`
	Document       []byte    `json:"document"`
	MaterializedAt time.Time `json:"materialized_at"`
}

// RejectionCode is the reason a record was refused by key resolution.
type RejectionCode string

const (
	RejectNoKeys           RejectionCode = "NO_KEYS"
	RejectMultiOwner       RejectionCode = "MULTI_OWNER_COLLISION"
	RejectKeyOwnerMismatch RejectionCode = "KEY_OWNER_MISMATCH"
)

// Rejection is the durable operator-facing form of a resolution rejection.
type Rejection struct {
	Seq      int64         `json:"seq"`
	Code     RejectionCode `json:"reason_code"`
	RecordID string        `json:"record_id"`
	Model    string        `json:"model"`
	Stage    string        `json:"stage"`
	Evidence Object        `json:"evidence"`
	At       time.Time     `json:"at"`
}

// Park reason codes raised by the pipeline itself.
// Rejection codes are also used as park reasons by the associate stage.
const (
	ParkInvalidRecord  = "INVALID_RECORD"
	ParkRetryExhausted = "RETRY_EXHAUSTED"
	ParkUnknownModel   = "UNKNOWN_MODEL"
)

// ParkedRecord is a work item held for manual operator resolution.
// Item is the encoded work item, re-enqueued verbatim on reinjection.
type ParkedRecord struct {
	ID           string     `json:"id"`
	RecordID     string     `json:"record_id"`
	Model        string     `json:"model"`
	Stage        string     `json:"stage"`
	ReasonCode   string     `json:"reason_code"`
	Evidence     Object     `json:"evidence"`
	Item         []byte     `json:"-"`
	Attempts     int        `json:"attempts"`
	ParkedAt     time.Time  `json:"parked_at"`
	ReinjectedAt *time.Time `json:"reinjected_at,omitempty"`
}

// ModelSpec is a compiled canonical model definition.
type ModelSpec struct {
	Name string `json:"name"`

	// Keys are payload paths whose values become aggregation keys in the
	// namespace "<Name>.<path>".
	Keys []string `json:"keys"`

	// BusinessKey names the key path whose value becomes the reference's
	// canonical business key. Empty when the model has none.
	BusinessKey string `json:"business_key,omitempty"`

	// DefaultPolicy applies to fields without an explicit binding.
	DefaultPolicy string `json:"default_policy,omitempty"`

	// FieldPolicies binds policies to individual field paths.
	FieldPolicies map[string]string `json:"field_policies,omitempty"`

	// RecordTransformer names a registered record-level transformer that
	// replaces per-field policy resolution for this model.
	RecordTransformer string `json:"record_transformer,omitempty"`

	// PayloadSchema is an optional JSON Schema document checked at intake.
	PayloadSchema []byte `json:"payload_schema,omitempty"`

	// Views overrides DefaultViews.
	Views []string `json:"views,omitempty"`
}

// Namespace returns the aggregation key namespace for a key path.
func (m ModelSpec) Namespace(path string) string {
	return m.Name + "." + path
}

// ViewNames returns the views scheduled for references of this model.
func (m ModelSpec) ViewNames() []string {
	if len(m.Views) > 0 {
		return m.Views
	}
	return DefaultViews
}
