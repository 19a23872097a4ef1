package graph

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTraverseBF(t *testing.T) {
	edges := map[int][]int{
		1: {2, 3},
		2: {4},
		3: {4},
		4: {},
	}
	expand := func(n int) []int { return edges[n] }

	got := CollectBF(1, expand)
	assert.Equal(t, []int{1, 2, 3, 4}, got, "breadth first, each node once")
}

func TestTraverseBFCycle(t *testing.T) {
	edges := map[int][]int{
		1: {2},
		2: {3},
		3: {1},
	}
	got := CollectBF(1, func(n int) []int { return edges[n] })
	assert.Equal(t, []int{1, 2, 3}, got, "visited guard terminates cycles")
}

func TestTraverseBFEarlyStop(t *testing.T) {
	edges := map[int][]int{1: {2}, 2: {3}, 3: {4}}
	var got []int
	for n := range TraverseBF(1, func(n int) []int { return edges[n] }) {
		got = append(got, n)
		if n == 2 {
			break
		}
	}
	assert.Equal(t, []int{1, 2}, got)
}

func TestStronglyConnectedComponentsChain(t *testing.T) {
	edges := map[string][]string{
		"a": {"b"},
		"b": {"c"},
		"c": {},
	}
	comps := StronglyConnectedComponents([]string{"a", "b", "c"},
		func(n string) []string { return edges[n] })

	require.Len(t, comps, 3)
	// Reverse topological: the sink component is emitted first.
	assert.Equal(t, [][]string{{"c"}, {"b"}, {"a"}}, comps)
}

func TestStronglyConnectedComponentsCycle(t *testing.T) {
	edges := map[string][]string{
		"a": {"b"},
		"b": {"c"},
		"c": {"a", "d"},
		"d": {},
	}
	comps := StronglyConnectedComponents([]string{"a", "b", "c", "d"},
		func(n string) []string { return edges[n] })

	require.Len(t, comps, 2)
	assert.Equal(t, []string{"d"}, comps[0])
	assert.ElementsMatch(t, []string{"a", "b", "c"}, comps[1])
}

func TestStronglyConnectedComponentsDeep(t *testing.T) {
	// A long chain would overflow a recursive implementation.
	const n = 200000
	expand := func(i int) []int {
		if i+1 < n {
			return []int{i + 1}
		}
		return nil
	}
	nodes := make([]int, n)
	for i := range nodes {
		nodes[i] = i
	}
	comps := StronglyConnectedComponents(nodes, expand)
	require.Len(t, comps, n)
	assert.Equal(t, []int{n - 1}, comps[0])
	assert.Equal(t, []int{0}, comps[n-1])
}
