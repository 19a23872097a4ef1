// Package graph provides the generic traversal utilities used by the
// workflow model and the execution engine: breadth first traversal and
// Tarjan's strongly connected components.
package graph

import (
	"iter"
	"slices"
)

// TraverseBF returns a breadth first traversal over the graph reachable
// from start. expand returns the neighbours of a node; each node is visited
// at most once, so cyclic graphs are safe. Every call produces a fresh
// traversal.
func TraverseBF[T comparable](start T, expand func(T) []T) iter.Seq[T] {
	return func(yield func(T) bool) {
		visited := make(map[T]bool)
		queue := []T{start}
		for len(queue) > 0 {
			item := queue[0]
			queue = queue[1:]
			if visited[item] {
				continue
			}
			if !yield(item) {
				return
			}
			visited[item] = true
			queue = append(queue, expand(item)...)
		}
	}
}

// CollectBF is a convenience wrapper collecting TraverseBF into a slice.
func CollectBF[T comparable](start T, expand func(T) []T) []T {
	return slices.Collect(TraverseBF(start, expand))
}

// StronglyConnectedComponents returns the strongly connected components of
// the graph spanned by nodes and expand, using Tarjan's algorithm with an
// explicit work stack so that deep graphs do not exhaust the call stack.
//
// Components are returned in reverse topological order: a component with no
// edges into not-yet-emitted components comes first. The scheduler depends
// on this ordering.
func StronglyConnectedComponents[T comparable](nodes []T, expand func(T) []T) [][]T {
	var components [][]T

	index := make(map[T]int)
	lowlink := make(map[T]int)
	onStack := make(map[T]bool)
	var stack []T
	counter := 0

	type frame struct {
		node     T
		children []T
		next     int
	}
	var work []frame

	push := func(v T) {
		index[v] = counter
		lowlink[v] = counter
		counter++
		stack = append(stack, v)
		onStack[v] = true
		work = append(work, frame{node: v, children: expand(v)})
	}

	for _, root := range nodes {
		if _, seen := index[root]; seen {
			continue
		}
		push(root)
		for len(work) > 0 {
			f := &work[len(work)-1]
			if f.next < len(f.children) {
				w := f.children[f.next]
				f.next++
				if _, seen := index[w]; !seen {
					push(w)
				} else if onStack[w] {
					if index[w] < lowlink[f.node] {
						lowlink[f.node] = index[w]
					}
				}
				continue
			}
			v := f.node
			work = work[:len(work)-1]
			if len(work) > 0 {
				parent := &work[len(work)-1]
				if lowlink[v] < lowlink[parent.node] {
					lowlink[parent.node] = lowlink[v]
				}
			}
			if lowlink[v] == index[v] {
				var scc []T
				for {
					w := stack[len(stack)-1]
					stack = stack[:len(stack)-1]
					onStack[w] = false
					scc = append(scc, w)
					if w == v {
						break
					}
				}
				slices.Reverse(scc)
				components = append(components, scc)
			}
		}
	}
	return components
}
