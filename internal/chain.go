package internal

import (
	"sync"

	"github.com/petermattis/goid"
)

// evalChain tracks, per goroutine, the stack of cell indices currently being
// evaluated synchronously on that goroutine's call stack. The teacher repo
// keys an "active owner" by goroutine id (internal/runtime_default.go) to
// find the right reactive context without threading it through every call;
// here the same trick keys a live evaluation stack, which lets a same-
// goroutine reentrant call (a node's compute transitively calling
// get_result on itself, however many hops away) be reported with the exact
// live chain instead of a generic message.
type evalChain struct {
	mu     sync.Mutex
	stacks map[int64][]int
}

func newEvalChain() *evalChain {
	return &evalChain{stacks: make(map[int64][]int)}
}

// push records that index is now being evaluated on the calling goroutine.
// If index is already present on this goroutine's stack, that is a live
// reentrant call: push returns the chain ending in index twice and
// reentered=true, and does NOT push a duplicate frame.
func (c *evalChain) push(index int) (chain []int, reentered bool) {
	gid := goid.Get()

	c.mu.Lock()
	defer c.mu.Unlock()

	stack := c.stacks[gid]
	for _, frame := range stack {
		if frame == index {
			full := append(append([]int{}, stack...), index)
			return full, true
		}
	}
	c.stacks[gid] = append(stack, index)
	return nil, false
}

// pop removes the most recently pushed frame for index on the calling
// goroutine. It is a no-op if index isn't the top frame (defensive against
// mismatched push/pop pairs, which should never happen if callers always
// pop in a defer immediately after a successful push).
func (c *evalChain) pop(index int) {
	gid := goid.Get()

	c.mu.Lock()
	defer c.mu.Unlock()

	stack := c.stacks[gid]
	if n := len(stack); n > 0 && stack[n-1] == index {
		stack = stack[:n-1]
	}
	if len(stack) == 0 {
		delete(c.stacks, gid)
	} else {
		c.stacks[gid] = stack
	}
}
