package http2

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestPriorityTreeShareIsWeightProportional(t *testing.T) {
	tree := NewPriorityTree()
	tree.Insert(1, 255, 0, false) // weight value 256
	tree.Insert(3, 0, 0, false)   // weight value 1, shares stream 0 as parent

	require.InDelta(t, 256.0/257.0, tree.Share(1), 1e-9)
	require.InDelta(t, 1.0/257.0, tree.Share(3), 1e-9)
}

func TestPriorityTreeExclusiveReparentsSiblings(t *testing.T) {
	tree := NewPriorityTree()
	tree.Insert(1, 15, 0, false)
	tree.Insert(3, 15, 0, false)

	// stream 5 becomes the sole child of stream 0, and streams 1 and 3
	// (its former siblings there) now depend on 5 instead.
	tree.Insert(5, 15, 0, true)

	require.Equal(t, []uint32{5}, tree.rootChildren)
	require.ElementsMatch(t, []uint32{1, 3}, tree.nodes[5].children)
	require.Equal(t, uint32(5), tree.nodes[1].parent)
	require.Equal(t, uint32(5), tree.nodes[3].parent)
}

func TestPriorityTreeBreaksDependencyCycle(t *testing.T) {
	tree := NewPriorityTree()
	tree.Insert(1, 15, 0, false)
	tree.Insert(3, 15, 1, false) // 3 depends on 1

	// reprioritizing 1 to depend on 3 would create a 1->3->1 cycle; RFC
	// 7540 section 5.3.3 says 3 is first moved to 1's old parent (0).
	tree.Insert(1, 15, 3, false)

	require.Equal(t, uint32(3), tree.nodes[1].parent)
	require.Equal(t, uint32(0), tree.nodes[3].parent)
}

func TestPriorityTreeRemoveReparentsChildren(t *testing.T) {
	tree := NewPriorityTree()
	tree.Insert(1, 15, 0, false)
	tree.Insert(3, 15, 1, false)
	tree.Insert(5, 15, 1, false)

	tree.Remove(1)

	require.Equal(t, uint32(0), tree.nodes[3].parent)
	require.Equal(t, uint32(0), tree.nodes[5].parent)
	require.ElementsMatch(t, []uint32{3, 5}, tree.rootChildren)
}

func TestPriorityTreeNextPrefersHigherWeight(t *testing.T) {
	tree := NewPriorityTree()
	tree.Insert(1, 255, 0, false)
	tree.Insert(3, 0, 0, false)

	require.Equal(t, uint32(1), tree.Next([]uint32{1, 3}))
}

func TestPriorityTreeNextAppliesStarvationGuard(t *testing.T) {
	tree := NewPriorityTree()
	tree.Insert(1, 255, 0, false)
	tree.Insert(3, 0, 0, false)

	for i := 0; i < MaxHighPriorityBurst; i++ {
		require.Equal(t, uint32(1), tree.Next([]uint32{1, 3}))
	}

	// the burst cap is now reached: the next pick must yield to the
	// starved lower-weight stream for one slot.
	require.Equal(t, uint32(3), tree.Next([]uint32{1, 3}))
}

func TestPriorityTreeNextWithNoReadyStreams(t *testing.T) {
	tree := NewPriorityTree()
	require.Equal(t, uint32(0), tree.Next(nil))
}
