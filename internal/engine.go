package internal

import (
	"context"
	"sort"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/errgroup"

	cgerrors "github.com/cellwire/cellgraph/errors"
)

// Logger is the minimal ambient logging surface the engine needs: enough to
// report background worker failures (spec §7) without forcing a specific
// logging library on callers. Defaults to a no-op.
type Logger interface {
	Printf(format string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Printf(string, ...any) {}

// Engine owns the node table and the reverse-dependency index described in
// spec §3/§4.3. A single RWMutex covers both `nodes` and `dependents`
// together so invariant 1 (dependents_index[d] contains n iff n.dependencies
// contains d) can never be observed half-updated; this trades the spec's
// "lock-free reads" aspiration for a simpler, always-consistent structural
// index, while each Node's own compute_lock keeps the hot path --
// evaluation -- fully concurrent.
type Engine struct {
	mu         sync.RWMutex
	nodes      map[int]*Node
	dependents map[int]map[int]struct{}

	nextIndex int64

	refreshMu sync.Mutex

	disposed atomic.Bool

	chain *evalChain

	logger           Logger
	streamBufferSize int
}

// Options configures an Engine at construction time.
type Options struct {
	Logger           Logger
	StreamBufferSize int
}

// NewEngine constructs an empty engine.
func NewEngine(opts Options) *Engine {
	if opts.Logger == nil {
		opts.Logger = noopLogger{}
	}
	if opts.StreamBufferSize <= 0 {
		opts.StreamBufferSize = 1
	}
	return &Engine{
		nodes:            make(map[int]*Node),
		dependents:       make(map[int]map[int]struct{}),
		chain:            newEvalChain(),
		logger:           opts.Logger,
		streamBufferSize: opts.StreamBufferSize,
	}
}

func (e *Engine) logf(format string, args ...any) {
	e.logger.Printf(format, args...)
}

func (e *Engine) allocIndex() int {
	return int(atomic.AddInt64(&e.nextIndex, 1)) - 1
}

func (e *Engine) checkDisposed(op string) error {
	if e.disposed.Load() {
		return cgerrors.E(cgerrors.Disposed, op, -1, nil)
	}
	return nil
}

func (e *Engine) lookup(index int) (*Node, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	n, ok := e.nodes[index]
	return n, ok
}

// AddInput allocates a fresh index and constructs an Input node whose
// compute trivially returns the cell's current value (spec §4.3).
func (e *Engine) AddInput(value any, typeName string, equal EqualFunc) (*Cell, error) {
	if err := e.checkDisposed("add_input"); err != nil {
		return nil, err
	}

	idx := e.allocIndex()
	cell := newCell(idx, Input, typeName, equal)
	cell.seed(value)

	node := newNode(e, cell, func(context.Context) (any, error) {
		return cell.Current(), nil
	})

	e.mu.Lock()
	e.nodes[idx] = node
	e.dependents[idx] = map[int]struct{}{}
	e.mu.Unlock()

	return cell, nil
}

// AddFunction allocates a fresh index and constructs a Function node
// depending on deps, whose compute fans out concurrently over deps (via
// GetResult, which shares a single in-flight computation across concurrent
// callers and does type-agnostic value retrieval) before calling f with the
// ordered inputs (spec §4.3, both the homogeneous and heterogeneous variants
// funnel here -- the public façade is what fixes T_in to a single type or
// leaves it `any`).
func (e *Engine) AddFunction(deps []int, f func(ctx context.Context, ins []any) (any, error), typeName string, equal EqualFunc) (*Cell, error) {
	if err := e.checkDisposed("add_function"); err != nil {
		return nil, err
	}

	idx := e.allocIndex()

	for _, d := range deps {
		if d == idx {
			return nil, cgerrors.E(cgerrors.SelfDependency, "add_function", idx, nil)
		}
	}

	e.mu.RLock()
	for _, d := range deps {
		if _, ok := e.nodes[d]; !ok {
			e.mu.RUnlock()
			return nil, cgerrors.E(cgerrors.UnknownDependency, "add_function", d, nil)
		}
	}
	e.mu.RUnlock()

	cell := newCell(idx, Function, typeName, equal)

	var node *Node
	compute := func(ctx context.Context) (any, error) {
		// Reads node.Dependencies() rather than closing over deps, so a
		// later rewireDependencies actually changes what gets computed
		// instead of leaving compute fanning out over the stale set.
		curDeps := node.Dependencies()
		ins := make([]any, len(curDeps))
		g, gctx := errgroup.WithContext(ctx)
		for i, d := range curDeps {
			i, d := i, d
			g.Go(func() error {
				v, err := e.GetResult(gctx, d)
				if err != nil {
					return err
				}
				ins[i] = v
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			return nil, err
		}
		v, err := f(ctx, ins)
		if err != nil {
			return nil, cgerrors.E(cgerrors.ComputeFailed, "compute", idx, err)
		}
		return v, nil
	}

	node = newNode(e, cell, compute)
	node.setDependencies(deps)

	if err := e.wireDependencies(node, deps); err != nil {
		return nil, err
	}
	return cell, nil
}

// wireDependencies inserts node into the engine, adds reverse edges for each
// of its dependencies, connects the per-cell subscriptions, then runs the
// post-hoc cycle check described in spec §4.3, rolling back the insertion
// entirely if a cycle is found. Shared by AddFunction and rewireDependencies
// (see SPEC_FULL.md §5.2) since both need the identical guarantee: no
// partial state survives a CycleDetected failure.
func (e *Engine) wireDependencies(node *Node, deps []int) error {
	idx := node.Cell.Index

	e.mu.Lock()
	e.nodes[idx] = node
	if _, ok := e.dependents[idx]; !ok {
		e.dependents[idx] = map[int]struct{}{}
	}
	depCells := make([]*Cell, 0, len(deps))
	for _, d := range deps {
		if e.dependents[d] == nil {
			e.dependents[d] = map[int]struct{}{}
		}
		e.dependents[d][idx] = struct{}{}
		depCells = append(depCells, e.nodes[d].Cell)
	}
	e.mu.Unlock()

	node.ConnectDependencies(depCells)

	for _, d := range deps {
		if e.isCyclicLocked(d, idx) {
			e.rollbackInsertion(node, deps)
			return cgerrors.E(cgerrors.CycleDetected, "add_function", idx, nil)
		}
	}

	return nil
}

func (e *Engine) rollbackInsertion(node *Node, deps []int) {
	idx := node.Cell.Index
	node.DisposeSubscriptions()

	e.mu.Lock()
	defer e.mu.Unlock()
	for _, d := range deps {
		delete(e.dependents[d], idx)
	}
	delete(e.dependents, idx)
	delete(e.nodes, idx)
}

// rewireDependencies replaces an existing node's dependency set and re-runs
// the same wiring + cycle-check-and-rollback path AddFunction uses. It is
// not part of the public façade (the public API is append-only and can
// never construct a cycle on its own, since indices are strictly
// monotonic) -- it exists so the cycle guard itself is real, shared,
// reachable code, exercised directly by internal tests reproducing spec §8
// scenario 3 ("rewire y's dependencies to include z").
func (e *Engine) rewireDependencies(index int, deps []int) error {
	if err := e.checkDisposed("rewire_dependencies"); err != nil {
		return err
	}

	e.mu.Lock()
	node, ok := e.nodes[index]
	if !ok {
		e.mu.Unlock()
		return cgerrors.E(cgerrors.NodeNotFound, "rewire_dependencies", index, nil)
	}
	oldDeps := node.Dependencies()
	for _, d := range oldDeps {
		delete(e.dependents[d], index)
	}
	oldDependents := e.dependents[index]
	e.mu.Unlock()

	node.DisposeSubscriptions()
	node.setDependencies(deps)

	if err := e.wireDependencies(node, deps); err != nil {
		// wireDependencies' rollback removed the node and its dependents set;
		// restore both along with the old edges so a failed rewire leaves the
		// graph exactly as it was found, matching add_function's own rollback
		// contract.
		node.setDependencies(oldDeps)
		e.mu.Lock()
		e.nodes[index] = node
		e.dependents[index] = oldDependents
		for _, d := range oldDeps {
			if e.dependents[d] == nil {
				e.dependents[d] = map[int]struct{}{}
			}
			e.dependents[d][index] = struct{}{}
		}
		e.mu.Unlock()
		oldCells := make([]*Cell, 0, len(oldDeps))
		for _, d := range oldDeps {
			if n, ok := e.lookup(d); ok {
				oldCells = append(oldCells, n.Cell)
			}
		}
		node.ConnectDependencies(oldCells)
		return err
	}
	return nil
}

// isCyclicLocked performs the DFS described in spec §4.3's is_cyclic: a
// traversal from `from` over outgoing `dependencies` edges, returning true
// iff `to` is reachable.
func (e *Engine) isCyclicLocked(from, to int) bool {
	visited := map[int]bool{}
	var dfs func(cur int) bool
	dfs = func(cur int) bool {
		if cur == to {
			return true
		}
		if visited[cur] {
			return false
		}
		visited[cur] = true

		n, ok := e.lookup(cur)
		if !ok {
			return false
		}
		for _, d := range n.Dependencies() {
			if dfs(d) {
				return true
			}
		}
		return false
	}
	return dfs(from)
}

// IsCyclic is the public form of is_cyclic (spec §4.3), usable for
// diagnostics or by callers building their own guards atop the engine.
func (e *Engine) IsCyclic(from, to int) bool {
	return e.isCyclicLocked(from, to)
}

// GetResult forces the node's memoized future (spec §4.3). Concurrent calls
// for the same index from different goroutines block on the node's
// compute_lock and share the single memoized result rather than racing each
// other into compute; only a call that loops back into its own live
// evaluation on the same goroutine -- a genuine cycle in the call graph --
// fails fast with ReentrancyDetected (spec §5).
func (e *Engine) GetResult(ctx context.Context, index int) (any, error) {
	if err := e.checkDisposed("get_result"); err != nil {
		return nil, err
	}

	n, ok := e.lookup(index)
	if !ok {
		return nil, cgerrors.E(cgerrors.NodeNotFound, "get_result", index, nil)
	}

	return n.Evaluate(ctx)
}

// UpdateInput implements spec §4.3's update_input: a no-op if the new value
// equals the current one, otherwise a synchronous write of the input cell
// followed by a full propagation of the transitive dependents.
func (e *Engine) UpdateInput(ctx context.Context, index int, v any) error {
	if err := e.checkDisposed("update_input"); err != nil {
		return err
	}

	n, ok := e.lookup(index)
	if !ok {
		return cgerrors.E(cgerrors.NodeNotFound, "update_input", index, nil)
	}
	if n.Cell.Kind != Input {
		return cgerrors.E(cgerrors.TypeMismatch, "update_input", index, nil)
	}

	if !n.Cell.setValue(v) {
		return nil
	}

	n.installReadyMemo(v)
	n.UpdateEvent.Fire(v)

	return e.propagate(ctx, index)
}

// propagate is spec §4.3's propagate(start): under the engine-wide
// refresh lock, walk the transitive dependents of start (via
// dependents_index), invalidating a dependent's memo and re-evaluating it
// each time it is reached from a node being expanded, and expanding each
// node at most once per call (a dependent reached from two parents before
// it is expanded is therefore evaluated twice). The first compute error encountered is returned to the
// caller of UpdateInput, but every dependent still has its memo reset
// before propagate returns (invariant 6).
func (e *Engine) propagate(ctx context.Context, start int) error {
	e.refreshMu.Lock()
	defer e.refreshMu.Unlock()

	visited := map[int]bool{}
	stack := []int{start}

	var firstErr error

	for len(stack) > 0 {
		i := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		if visited[i] {
			continue
		}
		visited[i] = true

		n, ok := e.lookup(i)
		if !ok {
			continue
		}

		if _, err := n.Evaluate(ctx); err != nil && firstErr == nil && i != start {
			firstErr = err
		}

		e.mu.RLock()
		deps := make([]int, 0, len(e.dependents[i]))
		for d := range e.dependents[i] {
			deps = append(deps, d)
		}
		e.mu.RUnlock()

		for _, j := range deps {
			if visited[j] {
				continue
			}
			jn, ok := e.lookup(j)
			if !ok {
				continue
			}
			jn.ResetComputation()
			// jn.Evaluate fires jn.UpdateEvent itself when the recomputed
			// value differs from the previous one (spec §4.2); no separate
			// fire is needed here.
			if _, err := jn.Evaluate(ctx); err != nil && firstErr == nil {
				firstErr = err
			}
			stack = append(stack, j)
		}
	}

	return firstErr
}

// RemoveNode implements spec §4.3's remove_node: it drops the node from the
// index, tears down its own dependency subscriptions, unwires it from both
// sides of the reverse-dependency relation, and resets every former
// dependent's memo so their next access observes the missing dependency.
func (e *Engine) RemoveNode(index int) error {
	if err := e.checkDisposed("remove_node"); err != nil {
		return err
	}

	e.mu.Lock()
	node, ok := e.nodes[index]
	if !ok {
		e.mu.Unlock()
		return cgerrors.E(cgerrors.NodeNotFound, "remove_node", index, nil)
	}

	dependents := make([]int, 0, len(e.dependents[index]))
	for d := range e.dependents[index] {
		dependents = append(dependents, d)
	}
	deps := node.Dependencies()

	delete(e.nodes, index)
	delete(e.dependents, index)
	for _, d := range deps {
		delete(e.dependents[d], index)
	}
	e.mu.Unlock()

	node.DisposeSubscriptions()

	for _, depIdx := range dependents {
		if dn, ok := e.lookup(depIdx); ok {
			dn.RemoveDependency(index)
			dn.ResetComputation()
		}
	}

	return nil
}

// HasChanged delegates to the cell (spec §4.3).
func (e *Engine) HasChanged(index int) (bool, error) {
	n, ok := e.lookup(index)
	if !ok {
		return false, cgerrors.E(cgerrors.NodeNotFound, "has_changed", index, nil)
	}
	return n.Cell.HasChanged(), nil
}

// Cell returns the raw *Cell for index, used by the typed façade to check
// TypeName before downcasting a GetResult value.
func (e *Engine) Cell(index int) (*Cell, error) {
	n, ok := e.lookup(index)
	if !ok {
		return nil, cgerrors.E(cgerrors.NodeNotFound, "cell", index, nil)
	}
	return n.Cell, nil
}

// Node exposes the raw *Node for index; used by the stream adapter.
func (e *Engine) Node(index int) (*Node, error) {
	n, ok := e.lookup(index)
	if !ok {
		return nil, cgerrors.E(cgerrors.NodeNotFound, "node", index, nil)
	}
	return n, nil
}

// Dispose marks the engine terminal and tears down every node's
// subscriptions (spec §4.3). After Dispose, every public operation fails
// with Disposed.
func (e *Engine) Dispose() {
	if !e.disposed.CompareAndSwap(false, true) {
		return
	}

	e.refreshMu.Lock()
	defer e.refreshMu.Unlock()

	e.mu.Lock()
	nodes := make([]*Node, 0, len(e.nodes))
	for _, n := range e.nodes {
		nodes = append(nodes, n)
	}
	e.nodes = make(map[int]*Node)
	e.dependents = make(map[int]map[int]struct{})
	e.mu.Unlock()

	for _, n := range nodes {
		n.DisposeSubscriptions()
	}
}

// NodeSnapshot is one record of the engine's graph serialization (spec §6).
type NodeSnapshot struct {
	Index        int    `json:"index"`
	Type         string `json:"type"`
	Value        any    `json:"value"`
	Dependencies []int  `json:"dependencies"`
}

// Snapshot returns a point-in-time textual-serializable view of every node
// in the graph, for inspection and testing (spec §6's to_json). Function
// closures are never serialized.
func (e *Engine) Snapshot() []NodeSnapshot {
	e.mu.RLock()
	indices := make([]int, 0, len(e.nodes))
	for idx := range e.nodes {
		indices = append(indices, idx)
	}
	e.mu.RUnlock()

	sort.Ints(indices)

	out := make([]NodeSnapshot, 0, len(indices))
	for _, idx := range indices {
		n, ok := e.lookup(idx)
		if !ok {
			continue
		}
		out = append(out, NodeSnapshot{
			Index:        idx,
			Type:         n.Cell.Kind.String(),
			Value:        n.Cell.Current(),
			Dependencies: n.Dependencies(),
		})
	}
	return out
}
