package risk

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestReversal_RequiresConsecutiveConfirmations(t *testing.T) {
	m := NewEdgeReversalMonitor(3)

	assert.False(t, m.Observe("m1", 0.10, -0.05))
	assert.False(t, m.Observe("m1", 0.10, -0.06))
	assert.True(t, m.Observe("m1", 0.10, -0.04))
}

func TestReversal_CounterResetsOnFavourableTick(t *testing.T) {
	m := NewEdgeReversalMonitor(3)

	assert.False(t, m.Observe("m1", 0.10, -0.05))
	assert.False(t, m.Observe("m1", 0.10, -0.05))
	// edge back in favour: streak broken
	assert.False(t, m.Observe("m1", 0.10, 0.02))
	assert.False(t, m.Observe("m1", 0.10, -0.05))
	assert.False(t, m.Observe("m1", 0.10, -0.05))
	assert.True(t, m.Observe("m1", 0.10, -0.05))
}

func TestReversal_MarketsAreIndependent(t *testing.T) {
	m := NewEdgeReversalMonitor(2)

	assert.False(t, m.Observe("m1", 0.10, -0.05))
	assert.False(t, m.Observe("m2", 0.10, -0.05))
	assert.True(t, m.Observe("m1", 0.10, -0.05))
}

func TestReversal_Forget(t *testing.T) {
	m := NewEdgeReversalMonitor(2)

	assert.False(t, m.Observe("m1", 0.10, -0.05))
	m.Forget("m1")
	assert.False(t, m.Observe("m1", 0.10, -0.05))
	assert.True(t, m.Observe("m1", 0.10, -0.05))
}

func TestReversal_SameSignIsNotAReversal(t *testing.T) {
	m := NewEdgeReversalMonitor(1)

	// edge shrinking but still positive
	assert.False(t, m.Observe("m1", 0.10, 0.01))
	// negative-entry positions reverse on positive edge
	assert.True(t, m.Observe("m2", -0.10, 0.05))
}

func TestReversal_DefaultConfirmations(t *testing.T) {
	m := NewEdgeReversalMonitor(0)

	assert.False(t, m.Observe("m1", 0.10, -0.05))
	assert.False(t, m.Observe("m1", 0.10, -0.05))
	assert.True(t, m.Observe("m1", 0.10, -0.05))
}
