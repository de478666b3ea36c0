// SPDX-License-Identifier: Apache-2.0

// Package topsort orders a set of directed edges into a dependency-safe
// sequence. It is a direct port of helpers.topological_sort (Kahn's
// algorithm), separating out any nodes left over in a cycle instead of
// failing outright.
package topsort

// Edge is a single directed dependency: Head must be processed before Tail.
type Edge struct {
	Head string
	Tail string
}

// Result is the outcome of Sort: Ordered holds every node reachable by
// repeatedly removing nodes with no remaining incoming edges, in the order
// they became free; Cyclic holds whatever nodes were left over because they
// (transitively) depend on each other.
type Result struct {
	Ordered []string
	Cyclic  []string
}

// Sort performs a topological sort of edges using Kahn's algorithm: nodes
// with no incoming edges are peeled off first, and removing a node from the
// graph decrements the incoming-edge count of everything it pointed at.
// Any node whose incoming-edge count never reaches zero is reported in
// Cyclic instead of Ordered.
func Sort(edges []Edge) Result {
	numHeads := make(map[string]int)
	tails := make(map[string][]string)
	var heads []string
	seenHead := make(map[string]bool)

	for _, e := range edges {
		numHeads[e.Tail]++
		if !seenHead[e.Head] {
			seenHead[e.Head] = true
			heads = append(heads, e.Head)
		}
		tails[e.Head] = append(tails[e.Head], e.Tail)
	}

	var ordered []string
	for _, h := range heads {
		if numHeads[h] == 0 {
			ordered = append(ordered, h)
		}
	}

	for i := 0; i < len(ordered); i++ {
		h := ordered[i]
		for _, t := range tails[h] {
			numHeads[t]--
			if numHeads[t] == 0 {
				ordered = append(ordered, t)
			}
		}
	}

	var cyclic []string
	for n, remaining := range numHeads {
		if remaining > 0 {
			cyclic = append(cyclic, n)
		}
	}

	return Result{Ordered: ordered, Cyclic: cyclic}
}
