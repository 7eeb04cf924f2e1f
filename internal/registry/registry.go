// Package registry collects everything a process runs with: canonical
// models, stage interceptors, orchestrators, materialization policies and
// record transformers.
//
// Registration is explicit. A Builder is filled at process start and frozen
// into an immutable Registry by Build; nothing is discovered by scanning.
package registry

import (
	"context"
	"errors"
	"fmt"
	"slices"

	"github.com/roach88/canon/internal/ir"
	"github.com/roach88/canon/internal/materialize"
	"github.com/roach88/canon/internal/pipeline"
)

// Orchestrator is a long-running background loop hosted by the engine.
type Orchestrator interface {
	Name() string
	Run(ctx context.Context) error
}

// Builder accumulates registrations. Errors are collected and reported
// together by Build.
//
// Thread-safety: Builder is not safe for concurrent use.
type Builder struct {
	models        map[string]ir.ModelSpec
	interceptors  map[string][]pipeline.Interceptor
	orchestrators []Orchestrator
	policies      []materialize.Policy
	transformers  map[string]materialize.RecordTransformer
	errs          []error
}

// NewBuilder creates an empty builder.
func NewBuilder() *Builder {
	return &Builder{
		models:       make(map[string]ir.ModelSpec),
		interceptors: make(map[string][]pipeline.Interceptor),
		transformers: make(map[string]materialize.RecordTransformer),
	}
}

// Model registers a canonical model. Names must be unique.
func (b *Builder) Model(spec ir.ModelSpec) *Builder {
	switch {
	case spec.Name == "":
		b.errs = append(b.errs, errors.New("model: name is required"))
	case len(spec.Keys) == 0:
		b.errs = append(b.errs, fmt.Errorf("model %s: at least one key path is required", spec.Name))
	default:
		if _, dup := b.models[spec.Name]; dup {
			b.errs = append(b.errs, fmt.Errorf("model %s: registered twice", spec.Name))
			return b
		}
		b.models[spec.Name] = spec
	}
	return b
}

// Interceptor appends an interceptor to a stage. Interceptors run in
// registration order after the stage's built-ins.
func (b *Builder) Interceptor(stage string, ic pipeline.Interceptor) *Builder {
	if !pipeline.IsStage(stage) {
		b.errs = append(b.errs, fmt.Errorf("interceptor %s: unknown stage %q", ic.Name(), stage))
		return b
	}
	b.interceptors[stage] = append(b.interceptors[stage], ic)
	return b
}

// Orchestrator registers a background loop.
func (b *Builder) Orchestrator(o Orchestrator) *Builder {
	b.orchestrators = append(b.orchestrators, o)
	return b
}

// Policy registers a custom materialization policy.
func (b *Builder) Policy(p materialize.Policy) *Builder {
	b.policies = append(b.policies, p)
	return b
}

// Transformer registers a record-level transformer under its name.
func (b *Builder) Transformer(t materialize.RecordTransformer) *Builder {
	if _, dup := b.transformers[t.Name()]; dup {
		b.errs = append(b.errs, fmt.Errorf("transformer %s: registered twice", t.Name()))
		return b
	}
	b.transformers[t.Name()] = t
	return b
}

// Build validates the registrations and freezes them.
//
// Every registration error is reported, joined. A model naming an
// unregistered record transformer or carrying an invalid payload schema
// fails the build.
func (b *Builder) Build() (*Registry, error) {
	errs := slices.Clone(b.errs)

	names := make([]string, 0, len(b.models))
	for name := range b.models {
		names = append(names, name)
	}
	slices.Sort(names)

	r := &Registry{
		models:        make([]ir.ModelSpec, 0, len(names)),
		byName:        make(map[string]ir.ModelSpec, len(names)),
		configs:       make(map[string]materialize.ModelConfig, len(names)),
		interceptors:  make(map[string][]pipeline.Interceptor, len(b.interceptors)),
		orchestrators: slices.Clone(b.orchestrators),
		policies:      slices.Clone(b.policies),
	}

	for _, name := range names {
		spec := b.models[name]
		cfg, ok := materialize.ConfigFromModel(spec, b.transformers)
		if !ok {
			errs = append(errs, fmt.Errorf("model %s: unknown record transformer %q", name, spec.RecordTransformer))
			continue
		}
		r.models = append(r.models, spec)
		r.byName[name] = spec
		r.configs[name] = cfg
	}

	schemas, err := compileSchemas(r.models)
	if err != nil {
		errs = append(errs, err)
	}
	r.schemas = schemas

	for stage, ics := range b.interceptors {
		r.interceptors[stage] = slices.Clone(ics)
	}

	if err := errors.Join(errs...); err != nil {
		return nil, fmt.Errorf("build registry: %w", err)
	}
	return r, nil
}

// Registry is the frozen result of a Builder.
//
// Thread-safety: Registry is immutable and safe for concurrent use.
type Registry struct {
	models        []ir.ModelSpec // sorted by name
	byName        map[string]ir.ModelSpec
	configs       map[string]materialize.ModelConfig
	interceptors  map[string][]pipeline.Interceptor
	orchestrators []Orchestrator
	policies      []materialize.Policy
	schemas       *SchemaSet
}

// Model returns a registered model by name.
func (r *Registry) Model(name string) (ir.ModelSpec, bool) {
	spec, ok := r.byName[name]
	return spec, ok
}

// Models returns every registered model sorted by name.
func (r *Registry) Models() []ir.ModelSpec {
	return slices.Clone(r.models)
}

// Interceptors returns the registered interceptors for a stage.
func (r *Registry) Interceptors(stage string) []pipeline.Interceptor {
	return slices.Clone(r.interceptors[stage])
}

// Orchestrators returns the registered background loops.
func (r *Registry) Orchestrators() []Orchestrator {
	return slices.Clone(r.orchestrators)
}

// MaterializeOptions returns the engine options the registered models and
// policies call for. Callers fill in logging, tracing and the warning set.
func (r *Registry) MaterializeOptions() materialize.Options {
	models := make(map[string]materialize.ModelConfig, len(r.configs))
	for name, cfg := range r.configs {
		models[name] = cfg
	}
	return materialize.Options{
		Policies: slices.Clone(r.policies),
		Models:   models,
	}
}

// ValidatePayload checks payload against the model's schema, if it has one.
func (r *Registry) ValidatePayload(model string, payload ir.Object) error {
	return r.schemas.Validate(model, payload)
}
