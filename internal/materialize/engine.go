package materialize

import (
	"cmp"
	"context"
	"fmt"
	"log/slog"
	"slices"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/roach88/canon/internal/ir"
)

const tracerName = "github.com/roach88/canon/internal/materialize"

// Options configures an Engine.
type Options struct {
	// DefaultPolicy is the engine-wide fallback. Empty means last.
	DefaultPolicy string

	// Policies are custom policies, registered after the built-ins; a custom
	// policy with a built-in's name replaces it.
	Policies []Policy

	// Models maps model name to its configuration. Models without an entry
	// use the engine default for every field.
	Models map[string]ModelConfig

	// Warn receives one-time warnings. Nil creates a fresh set.
	Warn *WarnOnce

	Logger *slog.Logger
	Tracer trace.Tracer
}

// plan is a model configuration with every policy name already resolved.
type plan struct {
	override      RecordTransformer
	defaultPolicy Policy
	fields        map[string]Policy
}

// Engine materializes field histories. Configuration is resolved once in
// New; Materialize only reads it.
//
// Thread-safety: Engine is safe for concurrent use.
type Engine struct {
	policies map[string]Policy
	fallback Policy
	models   map[string]plan
	warn     *WarnOnce
	logger   *slog.Logger
	tracer   trace.Tracer
}

// New builds an engine, resolving every configured policy name. Unknown
// names degrade to last with a one-time warning; they never fail.
func New(opts Options) *Engine {
	e := &Engine{
		policies: make(map[string]Policy),
		models:   make(map[string]plan, len(opts.Models)),
		warn:     opts.Warn,
		logger:   opts.Logger,
		tracer:   opts.Tracer,
	}
	if e.logger == nil {
		e.logger = slog.Default()
	}
	if e.warn == nil {
		e.warn = NewWarnOnce(e.logger)
	}
	if e.tracer == nil {
		e.tracer = otel.Tracer(tracerName)
	}

	for _, p := range BuiltinPolicies() {
		e.policies[p.Name()] = p
	}
	for _, p := range opts.Policies {
		e.policies[p.Name()] = p
	}

	defaultName := opts.DefaultPolicy
	if defaultName == "" {
		defaultName = DefaultPolicy
	}
	e.fallback = e.lookup(defaultName)

	// Sorted so one-time warnings come out in a stable order.
	names := make([]string, 0, len(opts.Models))
	for name := range opts.Models {
		names = append(names, name)
	}
	slices.Sort(names)
	for _, name := range names {
		e.models[name] = e.compile(name, opts.Models[name])
	}
	return e
}

func (e *Engine) compile(model string, cfg ModelConfig) plan {
	switch c := cfg.(type) {
	case RecordLevelOverride:
		e.warn.Warn("override:"+model,
			"record-level transformer bypasses per-field policies",
			"event", "record_level_override",
			"model", model,
			"transformer", c.Transformer.Name())
		return plan{override: c.Transformer}
	case PerFieldPolicies:
		p := plan{defaultPolicy: e.fallback, fields: make(map[string]Policy, len(c.Fields))}
		if c.Default != "" {
			p.defaultPolicy = e.lookup(c.Default)
		}
		paths := make([]string, 0, len(c.Fields))
		for path := range c.Fields {
			paths = append(paths, path)
		}
		slices.Sort(paths)
		for _, path := range paths {
			p.fields[path] = e.lookup(c.Fields[path])
		}
		return p
	case nil:
		return plan{defaultPolicy: e.fallback}
	default:
		panic(fmt.Sprintf("materialize: unhandled model config %T", cfg))
	}
}

// lookup resolves a policy name, degrading unknown names to last.
func (e *Engine) lookup(name string) Policy {
	if p, ok := e.policies[name]; ok {
		return p
	}
	e.warn.Warn("policy:"+name,
		"unknown materialization policy, using last",
		"event", "unknown_policy",
		"policy", name)
	return e.policies[PolicyLast]
}

// PolicyFor names the policy that will resolve path for model. Empty when
// the model uses a record-level override.
func (e *Engine) PolicyFor(model, path string) string {
	p := e.planFor(model)
	if p.override != nil {
		return ""
	}
	return p.policy(path).Name()
}

func (e *Engine) planFor(model string) plan {
	if p, ok := e.models[model]; ok {
		return p
	}
	return plan{defaultPolicy: e.fallback}
}

func (p plan) policy(path string) Policy {
	if pol, ok := p.fields[path]; ok {
		return pol
	}
	return p.defaultPolicy
}

// Materialize resolves history (any order; regrouped per field and ordered
// by arrival seq) into one value per field.
func (e *Engine) Materialize(ctx context.Context, model string, history []ir.FieldValue) (Result, error) {
	_, span := e.tracer.Start(ctx, "materialize",
		trace.WithAttributes(
			attribute.String("canon.model", model),
			attribute.Int("canon.history_len", len(history)),
		))
	defer span.End()

	byField := groupByField(history)
	p := e.planFor(model)

	var result Result
	var err error
	if p.override != nil {
		result, err = materializeOverride(model, p.override, byField)
	} else {
		result = materializePerField(model, p, byField)
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return Result{}, err
	}

	span.SetAttributes(attribute.Int("canon.fields", len(result.Fields)))
	return result, nil
}

func materializePerField(model string, p plan, byField map[string][]ir.FieldValue) Result {
	result := newResult(model)
	for _, path := range sortedPaths(byField) {
		pol := p.policy(path)
		result.Fields[path] = FieldResult{
			Value:  valueOrNull(pol.Resolve(byField[path])),
			Policy: pol.Name(),
		}
	}
	return result
}

func materializeOverride(model string, t RecordTransformer, byField map[string][]ir.FieldValue) (Result, error) {
	values, policies, err := t.Transform(byField)
	if err != nil {
		return Result{}, fmt.Errorf("materialize %s: transformer %s: %w", model, t.Name(), err)
	}
	result := newResult(model)
	for path, v := range values {
		name := policies[path]
		if name == "" {
			name = t.Name()
		}
		result.Fields[path] = FieldResult{Value: valueOrNull(v), Policy: name}
	}
	return result, nil
}

// groupByField splits history per path. Each group is stably sorted by seq
// so callers need not pre-sort; entries with equal seq keep input order.
func groupByField(history []ir.FieldValue) map[string][]ir.FieldValue {
	out := make(map[string][]ir.FieldValue)
	for _, fv := range history {
		out[fv.Path] = append(out[fv.Path], fv)
	}
	for path := range out {
		slices.SortStableFunc(out[path], func(a, b ir.FieldValue) int {
			return cmp.Compare(a.Seq, b.Seq)
		})
	}
	return out
}

func sortedPaths[V any](m map[string]V) []string {
	paths := make([]string, 0, len(m))
	for path := range m {
		paths = append(paths, path)
	}
	slices.Sort(paths)
	return paths
}
