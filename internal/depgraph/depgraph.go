// SPDX-License-Identifier: MPL-2.0

// Package depgraph analyses a declared dependency map before it reaches the
// rendezvous engine. It finds the groups that will be released together and
// the declarations that are one-sided or point at undeclared entities.
package depgraph

import (
	"fmt"
	"slices"
)

type (
	// Edge is a declared dependency: From waits for To.
	Edge struct {
		From string
		To   string
	}

	// Graph is a directed dependency graph. Nodes keep insertion order so
	// every result is deterministic.
	Graph struct {
		adjacency map[string][]string
		nodes     []string
		nodeSet   map[string]bool
		declared  map[string]bool
	}
)

// String renders the edge as "from -> to".
func (e Edge) String() string { return fmt.Sprintf("%s -> %s", e.From, e.To) }

// New creates an empty Graph.
func New() *Graph {
	return &Graph{
		adjacency: make(map[string][]string),
		nodeSet:   make(map[string]bool),
		declared:  make(map[string]bool),
	}
}

// FromMap builds a graph from an entity -> dependencies map. Keys are added
// in sorted order.
func FromMap(m map[string][]string) *Graph {
	g := New()
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	for _, id := range keys {
		g.Declare(id)
		for _, dep := range m[id] {
			g.AddEdge(id, dep)
		}
	}
	return g
}

// AddNode adds a node. Adding an existing node is a no-op.
func (g *Graph) AddNode(name string) {
	if g.nodeSet[name] {
		return
	}
	g.nodeSet[name] = true
	g.nodes = append(g.nodes, name)
}

// Declare adds name and marks it as an entity with its own declaration.
func (g *Graph) Declare(name string) {
	g.AddNode(name)
	g.declared[name] = true
}

// AddEdge records that from depends on to. Self-edges and duplicates are ignored.
func (g *Graph) AddEdge(from, to string) {
	g.AddNode(from)
	g.AddNode(to)
	if from == to || slices.Contains(g.adjacency[from], to) {
		return
	}
	g.adjacency[from] = append(g.adjacency[from], to)
}

// Nodes returns every node in insertion order.
func (g *Graph) Nodes() []string { return slices.Clone(g.nodes) }

// Groups returns the connected components of the undirected view of the
// graph: the sets of entities whose barriers can end up merged. Members are
// sorted and groups are ordered by their first member.
func (g *Graph) Groups() [][]string {
	undirected := make(map[string][]string, len(g.nodes))
	for from, tos := range g.adjacency {
		for _, to := range tos {
			undirected[from] = append(undirected[from], to)
			undirected[to] = append(undirected[to], from)
		}
	}

	visited := make(map[string]bool, len(g.nodes))
	var groups [][]string
	for _, start := range g.nodes {
		if visited[start] {
			continue
		}
		visited[start] = true
		queue := []string{start}
		var group []string
		for len(queue) > 0 {
			node := queue[0]
			queue = queue[1:]
			group = append(group, node)
			for _, next := range undirected[node] {
				if !visited[next] {
					visited[next] = true
					queue = append(queue, next)
				}
			}
		}
		slices.Sort(group)
		groups = append(groups, group)
	}
	slices.SortFunc(groups, func(a, b []string) int {
		switch {
		case a[0] < b[0]:
			return -1
		case a[0] > b[0]:
			return 1
		}
		return 0
	})
	return groups
}

// Asymmetric returns declared edges A -> B where B is declared but does not
// depend on A. Such an A waits for B while B may proceed without A.
func (g *Graph) Asymmetric() []Edge {
	var out []Edge
	for _, from := range g.nodes {
		for _, to := range g.adjacency[from] {
			if g.declared[to] && !slices.Contains(g.adjacency[to], from) {
				out = append(out, Edge{From: from, To: to})
			}
		}
	}
	return out
}

// Undeclared returns dependencies that name entities without a declaration
// of their own. Their dependants wait until those entities connect.
func (g *Graph) Undeclared() []Edge {
	var out []Edge
	for _, from := range g.nodes {
		for _, to := range g.adjacency[from] {
			if !g.declared[to] {
				out = append(out, Edge{From: from, To: to})
			}
		}
	}
	return out
}
