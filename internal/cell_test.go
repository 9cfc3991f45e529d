package internal

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCellSetValueNoOpOnEqual(t *testing.T) {
	c := newCell(0, Input, "int", nil)
	c.seed(1)

	changed := c.SetValue(1)
	assert.False(t, changed)
	assert.False(t, c.HasChanged())
}

func TestCellSetValueFiresListenersInOrder(t *testing.T) {
	c := newCell(0, Input, "int", nil)
	c.seed(0)

	var order []int
	c.Subscribe(func(v any) { order = append(order, 1) })
	c.Subscribe(func(v any) { order = append(order, 2) })

	c.SetValue(5)
	assert.Equal(t, []int{1, 2}, order)
	assert.True(t, c.HasChanged())
	assert.Equal(t, 5, c.Current())
}

func TestCellCancelledSubscriptionNotInvoked(t *testing.T) {
	c := newCell(0, Input, "int", nil)
	c.seed(0)

	calls := 0
	sub := c.Subscribe(func(v any) { calls++ })
	sub.Cancel()
	sub.Cancel() // idempotent

	c.SetValue(1)
	assert.Equal(t, 0, calls)
}

func TestCellSetValueOnFunctionCellPanics(t *testing.T) {
	c := newCell(0, Function, "int", nil)
	require.Panics(t, func() { c.SetValue(1) })
}

func TestValuesEqualFallsBackToDeepEqual(t *testing.T) {
	assert.True(t, valuesEqual([]int{1, 2}, []int{1, 2}))
	assert.False(t, valuesEqual([]int{1, 2}, []int{1, 3}))
	assert.True(t, valuesEqual(3, 3))
	assert.False(t, valuesEqual(3, 4))
}
