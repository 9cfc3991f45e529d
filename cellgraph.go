// Package cellgraph is a typed façade over an in-process reactive DAG
// engine: input cells hold mutable values, function cells hold values
// derived asynchronously from their dependencies, and the engine
// recomputes only what a change actually reaches.
package cellgraph

import (
	"context"
	"fmt"
	"reflect"

	cgerrors "github.com/cellwire/cellgraph/errors"
	"github.com/cellwire/cellgraph/internal"
)

func as[T any](v any) T {
	if v == nil {
		var zero T
		return zero
	}
	return v.(T)
}

func typeNameOf[T any]() string {
	var zero T
	return fmt.Sprintf("%T", zero)
}

// equalT compares two values downcast to T, recovering into a
// reflect.DeepEqual fallback if T is `any` and the dynamic value underneath
// turns out to be a non-comparable type.
func equalT[T comparable](a, b any) (eq bool) {
	defer func() {
		if recover() != nil {
			eq = reflect.DeepEqual(a, b)
		}
	}()
	return a.(T) == b.(T)
}

// Logger receives diagnostic messages from background recompute workers.
type Logger interface {
	Printf(format string, args ...any)
}

// Cell is a typed handle onto one node of the graph. It carries no state
// of its own beyond the index and the Engine it belongs to; all reads and
// writes go through the Engine.
type Cell[T any] struct {
	engine *Engine
	index  int
}

// Index returns the cell's stable identity within its Engine.
func (c Cell[T]) Index() int { return c.index }

// Engine owns the graph: every cell created from it shares its node table,
// its reverse-dependency index and its refresh lock.
type Engine struct {
	inner *internal.Engine
}

// Options configures an Engine at construction time.
type Options struct {
	// Logger receives diagnostic messages from background recompute
	// workers. Defaults to a no-op.
	Logger Logger
	// StreamBufferSize sets the capacity of channels returned by Stream.
	// Defaults to 1 (drop-oldest, per the streaming contract).
	StreamBufferSize int
}

// NewEngine constructs an empty graph.
func NewEngine(opts Options) *Engine {
	return &Engine{inner: internal.NewEngine(internal.Options{
		Logger:           opts.Logger,
		StreamBufferSize: opts.StreamBufferSize,
	})}
}

// AddInput registers a new input cell holding value, comparable so the
// engine can suppress no-op writes with a plain == on the hot path -- except
// when T is itself instantiated as `any` (as graph.Builder.AddInput does),
// in which case a caller can still hand in a dynamically non-comparable
// value (a slice, map or func) that would panic under ==. equalT guards
// that case by falling back to reflect.DeepEqual, the same escape hatch
// Function cells' own value comparison already uses (see valuesEqual in
// internal/cell.go).
func AddInput[T comparable](e *Engine, value T) (Cell[T], error) {
	c, err := e.inner.AddInput(value, typeNameOf[T](), equalT[T])
	if err != nil {
		return Cell[T]{}, err
	}
	return Cell[T]{engine: e, index: c.Index}, nil
}

// AddFunction registers a function cell of a single dependency type TIn
// producing TOut, computed from the ordered results of deps.
func AddFunction[TIn, TOut any](e *Engine, deps []Cell[TIn], f func(ctx context.Context, ins []TIn) (TOut, error)) (Cell[TOut], error) {
	idxs := make([]int, len(deps))
	for i, d := range deps {
		idxs[i] = d.index
	}
	compute := func(ctx context.Context, ins []any) (any, error) {
		typed := make([]TIn, len(ins))
		for i, v := range ins {
			typed[i] = as[TIn](v)
		}
		return f(ctx, typed)
	}
	c, err := e.inner.AddFunction(idxs, compute, typeNameOf[TOut](), nil)
	if err != nil {
		return Cell[TOut]{}, err
	}
	return Cell[TOut]{engine: e, index: c.Index}, nil
}

// Dep is one heterogeneous dependency reference for AddFunctionHeterogeneous:
// its cell index paired with a name the compute function reads it back by.
type Dep struct {
	name  string
	index int
}

// Of names a dependency for AddFunctionHeterogeneous by the key its value
// will be reachable at inside the compute function's input map.
func Of[T any](name string, c Cell[T]) Dep {
	return Dep{name: name, index: c.index}
}

// AddFunctionHeterogeneous registers a function cell whose dependencies do
// not share a single Go type. Each dependency's raw value is delivered to
// f keyed by the name given to Of.
func AddFunctionHeterogeneous[TOut any](e *Engine, deps []Dep, f func(ctx context.Context, ins map[string]any) (TOut, error)) (Cell[TOut], error) {
	idxs := make([]int, len(deps))
	names := make([]string, len(deps))
	for i, d := range deps {
		idxs[i] = d.index
		names[i] = d.name
	}
	compute := func(ctx context.Context, ins []any) (any, error) {
		m := make(map[string]any, len(ins))
		for i, v := range ins {
			m[names[i]] = v
		}
		return f(ctx, m)
	}
	c, err := e.inner.AddFunction(idxs, compute, typeNameOf[TOut](), nil)
	if err != nil {
		return Cell[TOut]{}, err
	}
	return Cell[TOut]{engine: e, index: c.Index}, nil
}

// GetResult forces c's memoized value, computing it (and, transitively,
// any stale dependency) if necessary. It fails with errors.TypeMismatch,
// rather than panicking on the downcast, if T no longer matches the type
// the cell was created with.
func GetResult[T any](ctx context.Context, c Cell[T]) (T, error) {
	var zero T

	cell, err := c.engine.inner.Cell(c.index)
	if err != nil {
		return zero, err
	}
	if cell.TypeName != typeNameOf[T]() {
		return zero, cgerrors.E(cgerrors.TypeMismatch, "get_result", c.index, nil)
	}

	v, err := c.engine.inner.GetResult(ctx, c.index)
	if err != nil {
		return zero, err
	}
	return as[T](v), nil
}

// UpdateInput writes a new value to an input cell, synchronously
// propagating the change to every transitive dependent. A write equal to
// the current value is a no-op.
func UpdateInput[T comparable](ctx context.Context, c Cell[T], v T) error {
	return c.engine.inner.UpdateInput(ctx, c.index, v)
}

// Stream subscribes to c's update event, delivering its current value
// immediately and every subsequent recomputed value as it lands; the same
// value may be delivered more than once in a row. The value channel closes when ctx is cancelled or when a computation
// errors, in which case the error channel receives exactly one value
// first.
func Stream[T any](ctx context.Context, c Cell[T]) (<-chan T, <-chan error) {
	raw, errs := c.engine.inner.Stream(ctx, c.index)
	out := make(chan T, cap(raw))
	go func() {
		defer close(out)
		for v := range raw {
			out <- as[T](v)
		}
	}()
	return out, errs
}

// RemoveNode drops c from the graph, cutting every dependency and
// dependent edge attached to it.
func RemoveNode[T any](e *Engine, c Cell[T]) error {
	return e.inner.RemoveNode(c.index)
}

// HasChanged reports whether c's current value differs from its previous
// one, per its last evaluation or write.
func HasChanged[T any](c Cell[T]) (bool, error) {
	return c.engine.inner.HasChanged(c.index)
}

// IsCyclic reports whether to is reachable from from by following
// dependency edges, for diagnostics or caller-built guards.
func (e *Engine) IsCyclic(from, to int) bool {
	return e.inner.IsCyclic(from, to)
}

// Dispose tears down every node's subscriptions and marks the engine
// terminal; every subsequent operation fails with errors.Disposed.
func (e *Engine) Dispose() {
	e.inner.Dispose()
}

// Snapshot returns a point-in-time view of the graph's structure and
// current values, suitable for serialization or inspection.
func (e *Engine) Snapshot() []internal.NodeSnapshot {
	return e.inner.Snapshot()
}

