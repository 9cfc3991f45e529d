package internal

import (
	"context"
	"sync"

	cgerrors "github.com/cellwire/cellgraph/errors"
)

// Stream implements spec §4.4's stream adapter: it subscribes to the node's
// update_event, writes the current get_result as the initial element, then
// on every subsequent update writes a freshly forced get_result. The
// channel has capacity streamBufferSize (spec-mandated 1) with drop-oldest
// discipline: a pending, not-yet-consumed value is replaced by a newer one
// rather than blocking the producer. Consecutive elements may carry the same
// value: update_event can fire without a newer value for the consumer, for
// example when the initial get_result is the node's own first evaluation,
// or when update_input and the following propagate both fire it for one
// input write. The returned value channel is closed
// when ctx is cancelled (after unsubscribing) or when a get_result call
// errs, in which case the error channel receives exactly one error before
// both channels close.
//
// The update_event listener never calls get_result itself: Fire runs
// synchronously inside the evaluating node's Evaluate, before that
// goroutine has popped the node off its live evalChain, so a listener that
// forced get_result on the same index from there would trip the
// same-goroutine reentrancy guard. Instead the listener only posts to a
// capacity-1 wake channel; a dedicated goroutine drains it and does the
// actual forcing, outside of any node's call stack.
func (e *Engine) Stream(ctx context.Context, index int) (<-chan any, <-chan error) {
	values := make(chan any, e.streamBufferSize)
	errs := make(chan error, 1)

	n, ok := e.lookup(index)
	if !ok {
		go func() {
			errs <- cgerrors.E(cgerrors.NodeNotFound, "stream", index, nil)
			close(values)
			close(errs)
		}()
		return values, errs
	}

	var (
		sendMu sync.Mutex
		once   sync.Once
	)

	// send delivers v, dropping any stale pending value first so the
	// consumer always sees the freshest result without the producer ever
	// blocking (spec §4.4).
	send := func(v any) {
		sendMu.Lock()
		defer sendMu.Unlock()
		select {
		case values <- v:
			return
		default:
		}
		select {
		case <-values:
		default:
		}
		select {
		case values <- v:
		default:
		}
	}

	wake := make(chan struct{}, 1)
	notify := func() {
		select {
		case wake <- struct{}{}:
		default:
		}
	}

	sub := n.UpdateEvent.Subscribe(func(any) { notify() })

	terminate := func(err error) {
		once.Do(func() {
			sub.Cancel()
			if err != nil {
				errs <- err
			}
			close(values)
			close(errs)
		})
	}

	go func() {
		v, err := e.GetResult(ctx, index)
		if err != nil {
			terminate(err)
			return
		}
		send(v)

		for {
			select {
			case <-ctx.Done():
				terminate(nil)
				return
			case <-wake:
				v, err := e.GetResult(ctx, index)
				if err != nil {
					terminate(err)
					return
				}
				send(v)
			}
		}
	}()

	return values, errs
}
