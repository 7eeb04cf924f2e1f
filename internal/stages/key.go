package stages

import (
	"context"

	"github.com/roach88/canon/internal/ir"
	"github.com/roach88/canon/internal/pipeline"
)

// Key extracts aggregation keys from the model's key paths.
//
// Missing, null and non-scalar key values contribute no key and are noted in
// the trail. A record left with no keys is still passed on: associate
// rejects it with NO_KEYS so the rejection is recorded in one place.
type Key struct {
	models ModelLookup
}

// NewKey creates the key extraction interceptor.
func NewKey(models ModelLookup) *Key {
	return &Key{models: models}
}

func (*Key) Name() string { return "key.extract" }

func (k *Key) Intercept(_ context.Context, item *pipeline.WorkItem) pipeline.Action {
	spec, ok := k.models.Model(item.Record.Model)
	if !ok {
		return pipeline.Park{
			ReasonCode: ir.ParkUnknownModel,
			Evidence:   ir.Object{"model": ir.String(item.Record.Model)},
		}
	}

	next := item.Clone()
	next.Keys, next.Trail = ExtractKeys(spec, item.Record.Payload, next.Trail)
	next.BusinessKey = ""
	if spec.BusinessKey != "" {
		if v, ok := ir.Lookup(item.Record.Payload, spec.BusinessKey); ok {
			if s, ok := ir.KeyString(v); ok {
				next.BusinessKey = s
			}
		}
	}
	return pipeline.Continue{Item: next}
}

// ExtractKeys returns one key per model key path that holds a scalar value.
// Unusable paths are appended to trail.
func ExtractKeys(spec ir.ModelSpec, payload ir.Object, trail []string) ([]ir.AggregationKey, []string) {
	keys := make([]ir.AggregationKey, 0, len(spec.Keys))
	for _, path := range spec.Keys {
		v, ok := ir.Lookup(payload, path)
		if !ok || ir.IsNull(v) {
			continue
		}
		s, ok := ir.KeyString(v)
		if !ok {
			trail = append(trail, pipeline.StageKey+": key "+path+" is "+ir.Kind(v)+", ignored")
			continue
		}
		keys = append(keys, ir.AggregationKey{Namespace: spec.Namespace(path), Value: s})
	}
	return keys, trail
}
