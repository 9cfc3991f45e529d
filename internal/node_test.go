package internal

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	cgerrors "github.com/cellwire/cellgraph/errors"
)

func TestNodeEvaluateMemoizes(t *testing.T) {
	e := NewEngine(Options{})
	calls := 0
	cell := newCell(0, Function, "int", nil)
	node := newNode(e, cell, func(context.Context) (any, error) {
		calls++
		return 42, nil
	})

	v1, err := node.Evaluate(context.Background())
	require.NoError(t, err)
	v2, err := node.Evaluate(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 42, v1)
	assert.Equal(t, 42, v2)
	assert.Equal(t, 1, calls, "compute should run exactly once until Reset")
}

func TestNodeResetComputationReruns(t *testing.T) {
	e := NewEngine(Options{})
	calls := 0
	cell := newCell(0, Function, "int", nil)
	node := newNode(e, cell, func(context.Context) (any, error) {
		calls++
		return calls, nil
	})

	v1, _ := node.Evaluate(context.Background())
	node.ResetComputation()
	v2, _ := node.Evaluate(context.Background())

	assert.Equal(t, 1, v1)
	assert.Equal(t, 2, v2)
}

func TestNodeEvaluateSingleFlightUnderConcurrency(t *testing.T) {
	e := NewEngine(Options{})
	var calls int
	var mu sync.Mutex
	cell := newCell(0, Function, "int", nil)
	node := newNode(e, cell, func(context.Context) (any, error) {
		mu.Lock()
		calls++
		mu.Unlock()
		return 7, nil
	})

	var wg sync.WaitGroup
	results := make([]any, 20)
	errs := make([]error, 20)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			v, err := node.Evaluate(context.Background())
			results[i] = v
			errs[i] = err
		}(i)
	}
	wg.Wait()

	for i, err := range errs {
		require.NoError(t, err, "concurrent evaluate on a shared node must block and share the result, not fail")
		assert.Equal(t, 7, results[i])
	}

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 1, calls, "single-flight: compute must run exactly once no matter how many goroutines call Evaluate concurrently")
}

func TestNodeEvaluateCapturesComputeError(t *testing.T) {
	e := NewEngine(Options{})
	boom := errors.New("boom")
	cell := newCell(0, Function, "int", nil)
	node := newNode(e, cell, func(context.Context) (any, error) {
		return nil, boom
	})

	_, err := node.Evaluate(context.Background())
	require.Error(t, err)
	status, statusErr := node.Status()
	assert.Equal(t, Failed, status)
	assert.Equal(t, boom, statusErr)

	// The failure is memoized until Reset.
	_, err2 := node.Evaluate(context.Background())
	assert.Equal(t, err, err2)
}

func TestNodeUpdateEventFiresOnlyOnChange(t *testing.T) {
	e := NewEngine(Options{})
	val := 1
	cell := newCell(0, Function, "int", nil)
	node := newNode(e, cell, func(context.Context) (any, error) {
		return val, nil
	})

	fires := 0
	node.UpdateEvent.Subscribe(func(any) { fires++ })

	node.Evaluate(context.Background())
	assert.Equal(t, 1, fires, "first successful evaluate always fires")

	node.ResetComputation()
	node.Evaluate(context.Background())
	assert.Equal(t, 1, fires, "same value should not re-fire")

	val = 2
	node.ResetComputation()
	node.Evaluate(context.Background())
	assert.Equal(t, 2, fires)
}

func TestNodeEvaluateRecoversComputePanic(t *testing.T) {
	e := NewEngine(Options{})
	cell := newCell(0, Function, "int", nil)
	node := newNode(e, cell, func(context.Context) (any, error) {
		var ins []any
		return ins[1], nil // deliberately out of range
	})

	_, err := node.Evaluate(context.Background())
	require.Error(t, err)
	assert.True(t, cgerrors.Is(err, cgerrors.ComputeFailed))

	status, statusErr := node.Status()
	assert.Equal(t, Failed, status)
	assert.Equal(t, err, statusErr)

	// A background worker must survive the same panic rather than crashing
	// the process (spec §7): ScheduleRecompute drives Evaluate on its own
	// goroutine, so reaching waitForWorker's return proves recover() caught
	// it there too instead of taking the goroutine (and the test binary)
	// down with it.
	node.ScheduleRecompute()
	waitForWorker(node)

	status, statusErr = node.Status()
	assert.Equal(t, Failed, status)
	assert.True(t, cgerrors.Is(statusErr, cgerrors.ComputeFailed))
}

func TestNodeSelfReentrancyDetected(t *testing.T) {
	e := NewEngine(Options{})
	cell := newCell(0, Function, "int", nil)
	var node *Node
	node = newNode(e, cell, func(ctx context.Context) (any, error) {
		return node.Evaluate(ctx)
	})

	_, err := node.Evaluate(context.Background())
	require.Error(t, err)
}

func TestNodeScheduleRecomputeCoalescesBursts(t *testing.T) {
	e := NewEngine(Options{})
	var calls int32
	var mu sync.Mutex
	cell := newCell(0, Function, "int", nil)
	node := newNode(e, cell, func(context.Context) (any, error) {
		mu.Lock()
		calls++
		n := calls
		mu.Unlock()
		return int(n), nil
	})

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			node.ScheduleRecompute()
		}()
	}
	wg.Wait()

	// Give the single background worker time to drain; at-most-one worker
	// is guaranteed structurally (workerActive gate), not by this sleep --
	// the sleep only ensures the assertions below observe its completion.
	waitForWorker(node)

	mu.Lock()
	defer mu.Unlock()
	assert.GreaterOrEqual(t, calls, int32(1))
}

func waitForWorker(n *Node) {
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		n.pendingMu.Lock()
		active := n.workerActive
		n.pendingMu.Unlock()
		if !active {
			return
		}
		time.Sleep(time.Millisecond)
	}
}
