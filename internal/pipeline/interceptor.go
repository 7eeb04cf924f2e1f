package pipeline

import (
	"context"
	"fmt"
)

// Interceptor inspects a work item and decides what happens to it.
type Interceptor interface {
	Name() string
	Intercept(ctx context.Context, item *WorkItem) Action
}

// InterceptorFunc adapts a function to the Interceptor interface.
type InterceptorFunc struct {
	InterceptorName string
	Fn              func(ctx context.Context, item *WorkItem) Action
}

func (f InterceptorFunc) Name() string { return f.InterceptorName }

func (f InterceptorFunc) Intercept(ctx context.Context, item *WorkItem) Action {
	return f.Fn(ctx, item)
}

// RunStage runs interceptors in registration order.
//
// Continue passes its item to the next interceptor; after the last one the
// stage returns Continue with the final item. Any other action ends the
// stage immediately and is returned as-is, with a nil Item filled in.
func RunStage(ctx context.Context, interceptors []Interceptor, item *WorkItem) Action {
	cur := item
	for _, ic := range interceptors {
		a := withItem(ic.Intercept(ctx, cur), cur)
		if c, ok := a.(Continue); ok {
			cur = c.Item
			continue
		}
		return a
	}
	return Continue{Item: cur}
}

// withItem fills a nil Item with cur.
func withItem(a Action, cur *WorkItem) Action {
	switch v := a.(type) {
	case Continue:
		if v.Item == nil {
			v.Item = cur
		}
		return v
	case Skip:
		if v.Item == nil {
			v.Item = cur
		}
		return v
	case Defer:
		if v.Item == nil {
			v.Item = cur
		}
		return v
	case Retry:
		if v.Item == nil {
			v.Item = cur
		}
		return v
	case Park:
		if v.Item == nil {
			v.Item = cur
		}
		return v
	case Transform:
		if v.Original == nil {
			v.Original = cur
		}
		if v.Transformed == nil {
			v.Transformed = cur
		}
		return v
	case nil:
		return Retry{Item: cur, Reason: "interceptor returned no action"}
	default:
		panic(fmt.Sprintf("pipeline: unhandled action %T", a))
	}
}
