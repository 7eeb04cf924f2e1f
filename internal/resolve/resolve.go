// Package resolve maps the aggregation keys carried by a record to a
// canonical reference.
//
// Resolution partitions the record's keys into unclaimed and bound. Bound
// keys spanning more than one reference are a MULTI_OWNER_COLLISION. If
// exactly one reference owns the bound keys, the unclaimed keys are bound to
// it; if none do, a new reference is minted. Either way the binding and the
// field append happen in one store transaction that claims each key with
// insert-if-absent, so a concurrent resolution that wins a key makes this
// one fail with KEY_OWNER_MISMATCH instead of silently overwriting.
package resolve

import (
	"context"
	"fmt"
	"log/slog"
	"slices"

	"github.com/roach88/canon/internal/ir"
)

// KeyIndex is the store surface the resolver needs.
type KeyIndex interface {
	LookupKeys(ctx context.Context, keys []ir.AggregationKey) (map[ir.AggregationKey]ir.KeyIndexEntry, error)
	Bind(ctx context.Context, b ir.Binding) (ir.BindResult, error)
}

// Outcome distinguishes a match against an existing reference from a new one.
type Outcome string

const (
	OutcomeResolved Outcome = "resolved"
	OutcomeCreated  Outcome = "created"
)

// Input is one record ready for resolution.
type Input struct {
	Record ir.Record

	// Keys extracted from the payload. Duplicates are ignored.
	Keys []ir.AggregationKey

	// BusinessKey is the value of the model's business key path, if any.
	BusinessKey string

	// Fields are the payload leaves appended to the reference's history.
	Fields []ir.FieldUpdate
}

// Resolution is a successful outcome.
type Resolution struct {
	Outcome     Outcome
	ReferenceID string

	// Version is the reference version after this record's fields were
	// accepted.
	Version int64
}

// Resolver runs key resolution against a KeyIndex.
//
// Thread-safety: Resolver holds no mutable state; concurrent calls are
// serialized per key by the store's unique index.
type Resolver struct {
	index  KeyIndex
	ids    ir.IDGenerator
	clock  ir.Clock
	logger *slog.Logger
}

// Option configures a Resolver.
type Option func(*Resolver)

// WithIDGenerator overrides reference id minting (default UUIDv7).
func WithIDGenerator(g ir.IDGenerator) Option {
	return func(r *Resolver) { r.ids = g }
}

// WithClock overrides the lineage clock.
func WithClock(c ir.Clock) Option {
	return func(r *Resolver) { r.clock = c }
}

// WithLogger sets the logger (default slog.Default()).
func WithLogger(l *slog.Logger) Option {
	return func(r *Resolver) { r.logger = l }
}

// New creates a Resolver over index.
func New(index KeyIndex, opts ...Option) *Resolver {
	r := &Resolver{
		index:  index,
		ids:    ir.UUIDv7Generator{},
		clock:  ir.SystemClock{},
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Resolve assigns in.Record to a canonical reference and appends its fields.
//
// Returns *RejectionError for NO_KEYS, MULTI_OWNER_COLLISION and
// KEY_OWNER_MISMATCH. Any other error is a storage fault and may be retried.
func (r *Resolver) Resolve(ctx context.Context, in Input) (Resolution, error) {
	keys := normalizeKeys(in.Keys)
	if len(keys) == 0 {
		return Resolution{}, newNoKeys(in.Record)
	}

	bound, err := r.index.LookupKeys(ctx, keys)
	if err != nil {
		return Resolution{}, fmt.Errorf("resolve %s: %w", in.Record.ID, err)
	}

	owners := distinctOwners(bound)
	if len(owners) > 1 {
		return Resolution{}, newMultiOwner(in.Record.ID, owners, bound)
	}

	binding := ir.Binding{
		Model:       in.Record.Model,
		Keys:        keys,
		BusinessKey: in.BusinessKey,
		RecordID:    in.Record.ID,
		SourceID:    in.Record.SourceID,
		OccurredAt:  in.Record.OccurredAt,
		Fields:      in.Fields,
		At:          r.clock.Now(),
	}
	outcome := OutcomeResolved
	if len(owners) == 1 {
		binding.ReferenceID = owners[0]
	} else {
		binding.ReferenceID = r.ids.Generate()
		binding.Create = true
		outcome = OutcomeCreated
	}

	result, err := r.index.Bind(ctx, binding)
	if err != nil {
		return Resolution{}, fmt.Errorf("resolve %s: %w", in.Record.ID, err)
	}
	if !result.Committed() {
		r.logger.Warn("key claimed concurrently",
			"event", "key_owner_mismatch",
			"record_id", in.Record.ID,
			"reference_id", binding.ReferenceID,
			"conflicts", len(result.Conflicts))
		return Resolution{}, newOwnerMismatch(in.Record.ID, binding.ReferenceID, result.Conflicts)
	}

	if result.AlreadyBound {
		r.logger.Debug("record already bound",
			"event", "record_already_bound",
			"record_id", in.Record.ID,
			"reference_id", result.ReferenceID,
			"version", result.Version)
		return Resolution{
			Outcome:     OutcomeResolved,
			ReferenceID: result.ReferenceID,
			Version:     result.Version,
		}, nil
	}

	r.logger.Debug("record resolved",
		"record_id", in.Record.ID,
		"reference_id", result.ReferenceID,
		"outcome", string(outcome),
		"version", result.Version)

	return Resolution{
		Outcome:     outcome,
		ReferenceID: result.ReferenceID,
		Version:     result.Version,
	}, nil
}

// normalizeKeys sorts keys and drops duplicates so binding order and
// evidence are deterministic.
func normalizeKeys(keys []ir.AggregationKey) []ir.AggregationKey {
	out := slices.Clone(keys)
	slices.SortFunc(out, ir.CompareKeys)
	return slices.Compact(out)
}

func distinctOwners(bound map[ir.AggregationKey]ir.KeyIndexEntry) []string {
	seen := make(map[string]bool, len(bound))
	owners := make([]string, 0, len(bound))
	for _, entry := range bound {
		if !seen[entry.ReferenceID] {
			seen[entry.ReferenceID] = true
			owners = append(owners, entry.ReferenceID)
		}
	}
	slices.Sort(owners)
	return owners
}
