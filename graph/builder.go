// Package graph is a thin fluent façade over cellgraph: it accumulates
// cells as they are added and forwards construction calls to an
// underlying Engine, the way a caller sketching out a computation would
// rather chain calls than juggle Cell handles by hand.
package graph

import (
	"context"

	"github.com/cellwire/cellgraph"
)

// Builder accumulates a "current" list of cells: add_function with no
// explicit dependencies consumes that list and replaces it with the
// single cell it produced, so a chain of calls reads like a pipeline.
type Builder struct {
	engine  *cellgraph.Engine
	current []cellgraph.Cell[any]
}

// New wraps engine in a fluent builder with an empty current list.
func New(engine *cellgraph.Engine) *Builder {
	return &Builder{engine: engine}
}

// AddInput creates an input cell holding value, appends it to the current
// list, and returns its handle.
func (b *Builder) AddInput(value any) (cellgraph.Cell[any], error) {
	c, err := cellgraph.AddInput(b.engine, value)
	if err != nil {
		return cellgraph.Cell[any]{}, err
	}
	b.current = append(b.current, c)
	return c, nil
}

// AddFunction creates a function cell depending on the builder's current
// list, then replaces that list with just the new cell -- so the next
// AddFunction call chains off this one's result.
func (b *Builder) AddFunction(f func(ctx context.Context, ins []any) (any, error)) (cellgraph.Cell[any], error) {
	return b.AddFunctionOf(b.current, f)
}

// AddFunctionOf creates a function cell with an explicit dependency list,
// then, like AddFunction, replaces the builder's current list with just the
// new cell.
func (b *Builder) AddFunctionOf(deps []cellgraph.Cell[any], f func(ctx context.Context, ins []any) (any, error)) (cellgraph.Cell[any], error) {
	c, err := cellgraph.AddFunction(b.engine, deps, f)
	if err != nil {
		return cellgraph.Cell[any]{}, err
	}
	b.current = []cellgraph.Cell[any]{c}
	return c, nil
}

// Combine produces a function cell whose value is the ordered tuple of
// cells' values, replacing the current list with just that cell.
func (b *Builder) Combine(cells ...cellgraph.Cell[any]) (cellgraph.Cell[any], error) {
	return b.AddFunctionOf(cells, func(_ context.Context, ins []any) (any, error) {
		out := make([]any, len(ins))
		copy(out, ins)
		return out, nil
	})
}

// UpdateInput forwards to the underlying engine.
func (b *Builder) UpdateInput(ctx context.Context, c cellgraph.Cell[any], v any) error {
	return cellgraph.UpdateInput(ctx, c, v)
}

// GetResult forwards to the underlying engine.
func (b *Builder) GetResult(ctx context.Context, c cellgraph.Cell[any]) (any, error) {
	return cellgraph.GetResult(ctx, c)
}

// Stream forwards to the underlying engine.
func (b *Builder) Stream(ctx context.Context, c cellgraph.Cell[any]) (<-chan any, <-chan error) {
	return cellgraph.Stream(ctx, c)
}

// Current returns the builder's current list, the dependency set the next
// no-explicit-deps AddFunction call would use.
func (b *Builder) Current() []cellgraph.Cell[any] {
	return append([]cellgraph.Cell[any](nil), b.current...)
}

// ToJSON returns the underlying engine's graph serialization (spec §6).
func (b *Builder) ToJSON() ([]byte, error) {
	return ToJSON(b.engine)
}
