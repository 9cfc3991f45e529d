package internal

import (
	"context"
	"fmt"
	"sync"

	cgerrors "github.com/cellwire/cellgraph/errors"
)

// ComputeFunc produces a node's value. Input nodes wrap a trivial closure
// reading the cell's current value; function nodes wrap the dependency
// fan-out plus the user-supplied function (see Engine.AddFunction).
type ComputeFunc func(ctx context.Context) (any, error)

// memo is the lazy, single-flight, resettable future described by spec
// §3/§4.2/§9: the first Force runs fn exactly once (via sync.Once, which
// gives every caller a happens-before relationship with the write of the
// result, so no extra locking is needed to read it back); every other
// concurrent or subsequent Force before the next Reset replays that same
// outcome without re-running fn.
type memo struct {
	once  *sync.Once
	fn    ComputeFunc
	index int
	val   any
	err   error
}

func newMemo(fn ComputeFunc, index int) *memo {
	return &memo{once: new(sync.Once), fn: fn, index: index}
}

// readyMemo returns a memo pre-resolved to v, used by update_input to
// replace an input node's memo with "a trivially-ready future of v"
// without invoking compute at all.
func readyMemo(v any) *memo {
	m := &memo{once: new(sync.Once)}
	m.once.Do(func() {})
	m.val = v
	return m
}

// Force runs fn on first call (per memo instance) and returns the memoized
// outcome thereafter. Safe for concurrent use. A panic escaping fn (a user
// compute function misbehaving, or an internal arity mismatch) is recovered
// and turned into a ComputeFailed error rather than crossing into the
// background recompute worker's goroutine and taking the process down with
// it (spec §7).
func (m *memo) Force(ctx context.Context) (any, error) {
	m.once.Do(func() {
		if m.fn == nil {
			return
		}
		defer func() {
			if r := recover(); r != nil {
				m.val = nil
				m.err = cgerrors.E(cgerrors.ComputeFailed, "compute", m.index, fmt.Errorf("panic: %v", r))
			}
		}()
		m.val, m.err = m.fn(ctx)
	})
	return m.val, m.err
}

