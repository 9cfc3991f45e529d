package internal

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	cgerrors "github.com/cellwire/cellgraph/errors"
)

func TestStreamUnknownNodeErrors(t *testing.T) {
	e := NewEngine(Options{})
	ctx := context.Background()

	values, errs := e.Stream(ctx, 42)

	select {
	case err := <-errs:
		require.Error(t, err)
		assert.True(t, cgerrors.Is(err, cgerrors.NodeNotFound))
	case <-time.After(time.Second):
		t.Fatal("expected an error on the error channel")
	}

	_, ok := <-values
	assert.False(t, ok, "values channel must be closed after a NodeNotFound stream")
}

func TestStreamEmitsInitialValue(t *testing.T) {
	e := NewEngine(Options{})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	x := addInt(t, e, 10)

	values, _ := e.Stream(ctx, x.Index)
	select {
	case v := <-values:
		assert.Equal(t, 10, v)
	case <-time.After(time.Second):
		t.Fatal("expected an initial value")
	}
}

func TestStreamClosesOnContextCancel(t *testing.T) {
	e := NewEngine(Options{})
	ctx, cancel := context.WithCancel(context.Background())

	x := addInt(t, e, 1)
	values, errs := e.Stream(ctx, x.Index)

	<-values // drain the initial value

	cancel()

	select {
	case _, ok := <-values:
		assert.False(t, ok)
	case <-time.After(time.Second):
		t.Fatal("values channel did not close after context cancellation")
	}
	select {
	case _, ok := <-errs:
		assert.False(t, ok)
	case <-time.After(time.Second):
		t.Fatal("errs channel did not close after context cancellation")
	}
}

func TestStreamDropOldestUnderBackpressure(t *testing.T) {
	e := NewEngine(Options{})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	x := addInt(t, e, 0)
	values, _ := e.Stream(ctx, x.Index)

	<-values // drain initial 0, leaving the buffer empty

	for i := 1; i <= 20; i++ {
		require.NoError(t, e.UpdateInput(ctx, x.Index, i))
	}

	// The consumer never kept up, and the updates above returned without
	// blocking the producer. Stale pending values were dropped in favour of
	// newer ones, so the consumer observes a non-decreasing tail that ends
	// with the freshest value, 20.
	var last int = -1
	timeout := time.After(2 * time.Second)
	for last != 20 {
		select {
		case v := <-values:
			iv := v.(int)
			assert.GreaterOrEqual(t, iv, last)
			last = iv
		case <-timeout:
			t.Fatal("timed out waiting for a streamed value")
		}
	}
	assert.Equal(t, 20, last)
}

func TestStreamTerminatesOnComputeError(t *testing.T) {
	e := NewEngine(Options{})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	x := addInt(t, e, 1)
	y, err := e.AddFunction([]int{x.Index}, func(_ context.Context, ins []any) (any, error) {
		return ins[0], nil
	}, "int", nil)
	require.NoError(t, err)

	// y's compute now references a removed dependency, so the very first
	// forced evaluation errors and the stream must terminate on it rather
	// than ever delivering a value.
	require.NoError(t, e.RemoveNode(x.Index))

	values, errs := e.Stream(ctx, y.Index)

	select {
	case err, ok := <-errs:
		require.True(t, ok)
		assert.Error(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("expected the stream to terminate with an error")
	}

	_, ok := <-values
	assert.False(t, ok)
}
