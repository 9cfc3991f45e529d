package errors_test

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	cgerrors "github.com/cellwire/cellgraph/errors"
)

func TestErrorKindRoundTrip(t *testing.T) {
	err := cgerrors.E(cgerrors.NodeNotFound, "get_result", 7, nil)
	require.Error(t, err)
	assert.True(t, cgerrors.Is(err, cgerrors.NodeNotFound))
	assert.False(t, cgerrors.Is(err, cgerrors.CycleDetected))
	assert.Equal(t, cgerrors.NodeNotFound, cgerrors.GetKind(err))
	assert.Contains(t, err.Error(), "cell 7")
}

func TestErrorWraps(t *testing.T) {
	cause := fmt.Errorf("boom")
	err := cgerrors.E(cgerrors.ComputeFailed, "evaluate", 3, cause)
	assert.ErrorIs(t, err, cause)
	assert.Contains(t, err.Error(), "boom")
}

func TestReentrantChain(t *testing.T) {
	err := cgerrors.Reentrant("evaluate", 4, []int{1, 2, 4})
	assert.True(t, cgerrors.Is(err, cgerrors.ReentrancyDetected))
	assert.Contains(t, err.Error(), "1 -> 2 -> 4")
}

func TestGetKindOnPlainError(t *testing.T) {
	assert.Equal(t, cgerrors.Other, cgerrors.GetKind(fmt.Errorf("plain")))
}
