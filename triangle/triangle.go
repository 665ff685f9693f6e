// Package triangle implements the triangle-counting benchmark: each PE
// owns a round-robin slice of a CSR-encoded undirected graph's vertices,
// and counts closed triples by asking the owner of each higher-numbered
// neighbor whether a third vertex is also in its adjacency list
// (spec.md §1: "triangle counting (AM-group fan-out)").
//
// Grounded on original_source/triangle_count/src/graph.rs's edges/
// offsets CSR representation (renamed Graph here) and the three
// active-message shapes named in tc_lamellar_get.rs,
// triangle_count_buffered.rs, and triangle_count_typed_am_group.rs.
package triangle

import "time"

// Graph is a CSR-encoded undirected graph: Neighbors(v) is sorted
// ascending so every intersection test below can short-circuit once it
// passes the target vertex.
type Graph struct {
	offsets []int
	edges   []int
}

// NewGraph builds a Graph from an adjacency list; adj[v] must already be
// de-duplicated and need not be sorted (NewGraph sorts it).
func NewGraph(adj [][]int) *Graph {
	g := &Graph{offsets: make([]int, len(adj)+1)}
	total := 0
	for _, neighbors := range adj {
		total += len(neighbors)
	}
	g.edges = make([]int, 0, total)
	for v, neighbors := range adj {
		sorted := append([]int(nil), neighbors...)
		insertionSort(sorted)
		g.edges = append(g.edges, sorted...)
		g.offsets[v+1] = len(g.edges)
	}
	return g
}

func insertionSort(s []int) {
	for i := 1; i < len(s); i++ {
		v := s[i]
		j := i - 1
		for j >= 0 && s[j] > v {
			s[j+1] = s[j]
			j--
		}
		s[j+1] = v
	}
}

// NumVertices returns the number of vertices in the graph.
func (g *Graph) NumVertices() int { return len(g.offsets) - 1 }

// Neighbors returns v's sorted adjacency list.
func (g *Graph) Neighbors(v int) []int {
	return g.edges[g.offsets[v]:g.offsets[v+1]]
}

// Owner assigns vertex v to a PE by round robin, spreading adjacency-list
// lookups evenly regardless of degree skew.
func Owner(v, numPEs int) int { return v % numPEs }

// Config is the per-run parameter record: the graph every PE holds a
// full read-only copy of (spec.md's graph/CSR loader is an external
// collaborator; the in-module Graph above is what it's assumed to hand
// back) and how many local tasks to fan the count out across.
type Config struct {
	Graph         *Graph
	LaunchThreads int
}

// Result is this PE's local triangle count plus its run time.
type Result struct {
	Count int64
	Time  time.Duration
}

func (cfg Config) launchChunks(numVertices, pe, numPEs int) [][2]int {
	var mine []int
	for v := pe; v < numVertices; v += numPEs {
		mine = append(mine, v)
	}
	threads := cfg.LaunchThreads
	if threads <= 0 {
		threads = 1
	}
	if threads > len(mine) {
		threads = len(mine)
	}
	if threads == 0 {
		return nil
	}
	chunks := make([][2]int, 0, threads)
	base := len(mine) / threads
	rem := len(mine) % threads
	cur := 0
	for i := 0; i < threads; i++ {
		size := base
		if i < rem {
			size++
		}
		if size == 0 {
			continue
		}
		chunks = append(chunks, [2]int{mine[cur], mine[cur+size-1] + 1})
		cur += size
	}
	return chunks
}
