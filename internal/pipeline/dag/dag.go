// Package dag builds the dependency graph for one workflow and renders it
// for inspection. Construction rejects cycles, so every graph that exists
// can be walked and scheduled.
package dag

import (
	"sort"

	"github.com/dominikbraun/graph"
	"github.com/pkg/errors"
)

// Graph is a validated, acyclic dependency graph over job names. Edges point
// from a requirement to the jobs that depend on it.
type Graph struct {
	nodes []string
	deps  map[string][]string
	inner graph.Graph[string, string]
}

// Build constructs a graph from a requirements map. Every name referenced in
// a requirements list must also appear as a key. A cycle is an error.
func Build(deps map[string][]string) (*Graph, error) {
	inner := graph.New(graph.StringHash, graph.Directed(), graph.PreventCycles())

	nodes := make([]string, 0, len(deps))
	for node := range deps {
		nodes = append(nodes, node)
	}
	sort.Strings(nodes)

	cleaned := make(map[string][]string, len(deps))
	for _, node := range nodes {
		err := inner.AddVertex(node, graph.VertexAttribute("shape", "box"))
		if err != nil {
			return nil, errors.Wrapf(err, "unable to add vertex %s", node)
		}
		cleaned[node] = dedupe(deps[node])
	}

	for _, node := range nodes {
		for _, req := range cleaned[node] {
			if _, ok := cleaned[req]; !ok {
				return nil, errors.Errorf("job %s requires unknown job %s", node, req)
			}
			err := inner.AddEdge(req, node)
			switch {
			case err == nil:
			case errors.Is(err, graph.ErrEdgeCreatesCycle):
				return nil, errors.Wrapf(err, "dependency cycle through %s and %s", req, node)
			case errors.Is(err, graph.ErrEdgeAlreadyExists):
			default:
				return nil, errors.Wrapf(err, "unable to add edge from %s to %s", req, node)
			}
		}
	}

	return &Graph{nodes: nodes, deps: cleaned, inner: inner}, nil
}

// Nodes returns all job names in sorted order.
func (g *Graph) Nodes() []string {
	out := make([]string, len(g.nodes))
	copy(out, g.nodes)
	return out
}

// Dependencies returns the jobs the given job requires, sorted.
func (g *Graph) Dependencies(node string) []string {
	reqs := g.deps[node]
	out := make([]string, len(reqs))
	copy(out, reqs)
	return out
}

// Dependents returns the jobs that require the given job, sorted.
func (g *Graph) Dependents(node string) ([]string, error) {
	adjacency, err := g.inner.AdjacencyMap()
	if err != nil {
		return nil, errors.Wrap(err, "unable to get adjacency map")
	}
	out := make([]string, 0, len(adjacency[node]))
	for dependent := range adjacency[node] {
		out = append(out, dependent)
	}
	sort.Strings(out)
	return out, nil
}

// TransitiveDependents returns every job downstream of the given job.
func (g *Graph) TransitiveDependents(node string) ([]string, error) {
	adjacency, err := g.inner.AdjacencyMap()
	if err != nil {
		return nil, errors.Wrap(err, "unable to get adjacency map")
	}
	seen := map[string]struct{}{}
	stack := []string{node}
	for len(stack) > 0 {
		current := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		for dependent := range adjacency[current] {
			if _, ok := seen[dependent]; ok {
				continue
			}
			seen[dependent] = struct{}{}
			stack = append(stack, dependent)
		}
	}
	out := make([]string, 0, len(seen))
	for dependent := range seen {
		out = append(out, dependent)
	}
	sort.Strings(out)
	return out, nil
}

// Roots returns the jobs with no requirements, sorted.
func (g *Graph) Roots() []string {
	out := []string{}
	for _, node := range g.nodes {
		if len(g.deps[node]) == 0 {
			out = append(out, node)
		}
	}
	return out
}

// Order returns a deterministic requirements-first ordering: a job always
// appears after everything it requires, ties broken alphabetically.
func (g *Graph) Order() []string {
	order := make([]string, 0, len(g.nodes))
	visited := map[string]bool{}

	var visit func(node string)
	visit = func(node string) {
		if visited[node] {
			return
		}
		visited[node] = true
		for _, req := range g.deps[node] {
			visit(req)
		}
		order = append(order, node)
	}

	for _, node := range g.nodes {
		visit(node)
	}
	return order
}

func dedupe(values []string) []string {
	set := map[string]struct{}{}
	for _, value := range values {
		if value == "" {
			continue
		}
		set[value] = struct{}{}
	}
	out := make([]string, 0, len(set))
	for value := range set {
		out = append(out, value)
	}
	sort.Strings(out)
	return out
}
