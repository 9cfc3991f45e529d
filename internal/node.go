package internal

import (
	"context"
	"sync"

	cgerrors "github.com/cellwire/cellgraph/errors"
)

// Status mirrors spec §3's per-node lifecycle marker.
type Status int

const (
	Idle Status = iota
	Processing
	Completed
	Failed
)

// removedDependencyIndex is the sentinel RemoveDependency leaves behind in a
// node's dependency slice in place of a removed index, so a node's fan-out
// arity never shifts under it. No real cell is ever allocated this index.
const removedDependencyIndex = -1

func (s Status) String() string {
	switch s {
	case Processing:
		return "Processing"
	case Completed:
		return "Completed"
	case Failed:
		return "Failed"
	default:
		return "Idle"
	}
}

// Node wraps exactly one Cell and owns the recompute machinery described in
// spec §3/§4.2: dependency set, lazy memoized future, per-node mutual
// exclusion, reentrancy detection, status, update event and dependency
// subscriptions.
type Node struct {
	Cell *Cell

	engine *Engine

	structMu     sync.Mutex // guards dependencies, depSubs, flatSubs, compute, m
	dependencies []int
	depSubs      map[int]*Subscription
	flatSubs     []*Subscription
	compute      ComputeFunc
	m            *memo

	// computeLock serializes actual computation for this node. Ordinary
	// concurrent Evaluate calls from different goroutines block on it and
	// then observe the already-resolved memo (spec §5's single-flight
	// guarantee for get_result); only same-goroutine reentrancy, caught by
	// the engine's evalChain before this lock is ever touched, fails fast.
	computeLock sync.Mutex

	statusMu sync.Mutex
	status   Status
	lastErr  error

	valueMu   sync.Mutex
	lastValue any
	hasLast   bool

	UpdateEvent *broadcaster

	pendingMu    sync.Mutex
	pending      int
	workerActive bool
}

func newNode(e *Engine, cell *Cell, compute ComputeFunc) *Node {
	n := &Node{
		Cell:        cell,
		engine:      e,
		depSubs:     make(map[int]*Subscription),
		compute:     compute,
		UpdateEvent: newBroadcaster(),
	}
	n.m = newMemo(compute, cell.Index)
	return n
}

// Dependencies returns a snapshot of the node's dependency cell indices.
func (n *Node) Dependencies() []int {
	n.structMu.Lock()
	defer n.structMu.Unlock()
	return append([]int(nil), n.dependencies...)
}

func (n *Node) setDependencies(deps []int) {
	n.structMu.Lock()
	n.dependencies = append([]int(nil), deps...)
	n.structMu.Unlock()
}

// Status reports the node's last observed lifecycle state and, if Failed,
// the error that produced it.
func (n *Node) Status() (Status, error) {
	n.statusMu.Lock()
	defer n.statusMu.Unlock()
	return n.status, n.lastErr
}

func (n *Node) setStatus(s Status, err error) {
	n.statusMu.Lock()
	n.status = s
	n.lastErr = err
	n.statusMu.Unlock()
}

// currentMemo returns the node's live memo under the structural lock, so it
// can never race a concurrent ResetComputation swapping it out.
func (n *Node) currentMemo() *memo {
	n.structMu.Lock()
	defer n.structMu.Unlock()
	return n.m
}

// Evaluate is spec §4.2's evaluate(): it detects same-goroutine reentrancy
// via the engine's live evaluation-chain tracker (a compute that, directly
// or transitively, calls back into its own in-flight evaluate on the same
// goroutine fails fast with ReentrancyDetected, since blocking would
// deadlock against itself), then serializes actual computation through
// compute_lock. An ordinary concurrent Evaluate from a different goroutine
// -- two siblings fanning out to a shared dependency, say -- simply blocks
// on compute_lock and then rides the already-resolved memo, which is
// exactly spec §5's "concurrent get_result calls on the same node return
// the same memoized future" single-flight guarantee.
func (n *Node) Evaluate(ctx context.Context) (any, error) {
	chain, reentered := n.engine.chain.push(n.Cell.Index)
	if reentered {
		n.setStatus(Failed, cgerrors.Reentrant("evaluate", n.Cell.Index, chain))
		return nil, cgerrors.Reentrant("evaluate", n.Cell.Index, chain)
	}
	defer n.engine.chain.pop(n.Cell.Index)

	n.computeLock.Lock()
	defer n.computeLock.Unlock()

	n.setStatus(Processing, nil)

	m := n.currentMemo()
	v, err := m.Force(ctx)
	if err != nil {
		n.setStatus(Failed, err)
		return nil, err
	}
	n.setStatus(Completed, nil)

	// Mirror a Function cell's freshly computed result into its Cell so
	// connect_dependencies can subscribe uniformly to Input and Function
	// dependencies alike (see SPEC_FULL.md §5.1). Input cells are written
	// exclusively through Engine.UpdateInput, never here.
	if n.Cell.Kind == Function {
		n.Cell.setValue(v)
	}

	if n.recordValue(v) {
		n.UpdateEvent.Fire(v)
	}

	return v, nil
}

// recordValue tracks the node's own notion of "did the result change",
// independent of the Cell's mirrored copy, so update_event fires exactly
// once per observed change for both Input and Function nodes.
func (n *Node) recordValue(v any) (changed bool) {
	n.valueMu.Lock()
	defer n.valueMu.Unlock()
	if !n.hasLast {
		n.hasLast = true
		n.lastValue = v
		return true
	}
	if valuesEqual(n.lastValue, v) {
		return false
	}
	n.lastValue = v
	return true
}

// ResetComputation clears the memoized future so the next Evaluate reruns
// compute (spec invariant 5).
func (n *Node) ResetComputation() {
	n.structMu.Lock()
	n.m = newMemo(n.compute, n.Cell.Index)
	n.structMu.Unlock()
}

// installReadyMemo replaces the memo with one already resolved to v,
// without ever invoking compute. Used by update_input on the input node
// whose value just changed.
func (n *Node) installReadyMemo(v any) {
	n.structMu.Lock()
	n.m = readyMemo(v)
	n.structMu.Unlock()
}

// ConnectDependencies subscribes to each dependency cell's change notifier
// so that a change (Input write, or a Function cell's own evaluate landing
// a new value) schedules a recompute of this node. Any previously existing
// subscription for a dependency index is dropped first (spec §4.2).
func (n *Node) ConnectDependencies(deps []*Cell) {
	n.structMu.Lock()
	defer n.structMu.Unlock()

	for _, dep := range deps {
		if old, ok := n.depSubs[dep.Index]; ok {
			old.Cancel()
			n.removeFlatSubLocked(old)
		}

		sub := dep.Subscribe(func(any) { n.ScheduleRecompute() })
		n.depSubs[dep.Index] = sub
		n.flatSubs = append(n.flatSubs, sub)
	}
}

func (n *Node) removeFlatSubLocked(target *Subscription) {
	for i, s := range n.flatSubs {
		if s == target {
			n.flatSubs = append(n.flatSubs[:i], n.flatSubs[i+1:]...)
			return
		}
	}
}

// RemoveDependency drops d from the dependency set and cancels its
// subscription, used by remove_node when tearing down a dependent. d's slot
// is overwritten with removedDependencyIndex rather than spliced out, so the
// dependency slice's length -- and therefore the positional arity of the
// user's compute closure over its `ins` slice -- never shifts under a live
// node. The next Evaluate fans out to removedDependencyIndex like any other
// dependency, gets NodeNotFound back from GetResult, and fails cleanly
// instead of the compute function panicking on a now-misaligned index.
func (n *Node) RemoveDependency(d int) {
	n.structMu.Lock()
	for i, dep := range n.dependencies {
		if dep == d {
			n.dependencies[i] = removedDependencyIndex
			break
		}
	}
	if sub, ok := n.depSubs[d]; ok {
		delete(n.depSubs, d)
		n.removeFlatSubLocked(sub)
		n.structMu.Unlock()
		sub.Cancel()
		return
	}
	n.structMu.Unlock()
}

// DisposeSubscriptions cancels and drops every dependency subscription.
func (n *Node) DisposeSubscriptions() {
	n.structMu.Lock()
	subs := n.flatSubs
	n.flatSubs = nil
	n.depSubs = make(map[int]*Subscription)
	n.structMu.Unlock()

	for _, s := range subs {
		s.Cancel()
	}
}

// ScheduleRecompute implements the counter-gated background worker of spec
// §4.2/§9: it increments a pending counter and, on the 0->1 transition,
// spawns exactly one worker goroutine that loops evaluating this node until
// the counter drains back to zero. This bounds parallelism to one worker
// per node while guaranteeing a burst of dependency changes is never lost.
func (n *Node) ScheduleRecompute() {
	n.pendingMu.Lock()
	n.pending++
	shouldSpawn := !n.workerActive
	if shouldSpawn {
		n.workerActive = true
	}
	n.pendingMu.Unlock()

	if !shouldSpawn {
		return
	}

	go n.recomputeWorker()
}

func (n *Node) recomputeWorker() {
	for {
		n.ResetComputation()
		if _, err := n.Evaluate(context.Background()); err != nil {
			n.engine.logf("cellgraph: background recompute of cell %d failed: %v", n.Cell.Index, err)
		}

		n.pendingMu.Lock()
		n.pending--
		if n.pending <= 0 {
			n.pending = 0
			n.workerActive = false
			n.pendingMu.Unlock()
			return
		}
		n.pendingMu.Unlock()
	}
}
