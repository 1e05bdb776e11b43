package schema

import (
	"fmt"
	"strings"

	"github.com/roach88/facet/internal/entity"
)

// CycleWarning flags a dependency cycle among a type's computed
// properties.
//
// Static cycles are warnings, not compile errors: an instance can break
// the cycle at runtime (a member overridden by a non-computed property,
// or an IF branch that never dereferences the looping reference). The
// evaluator still detects whatever survives to runtime and marks it
// circular.
type CycleWarning struct {
	Type    string   `json:"type"`    // Entity type name
	Path    []string `json:"path"`    // Cycle path: ["a", "b", "a"]
	Message string   `json:"message"` // Human-readable description
}

// AnalyzeCycles performs static cycle analysis on compiled types.
//
// It builds a per-type dependency graph from the self-references of each
// computed property and reports every strongly connected component of
// size > 1, plus self-loops, as a warning. Cross-entity references are
// ignored - their targets are only known at evaluation time, so those
// cycles remain a runtime concern.
//
// A DAG returns an empty warning list.
func AnalyzeCycles(types []EntityType) []CycleWarning {
	var warnings []CycleWarning
	for _, t := range types {
		graph := buildRefGraph(t)
		for _, scc := range tarjanSCC(graph) {
			if len(scc) > 1 || (len(scc) == 1 && hasSelfLoop(scc[0], graph)) {
				warnings = append(warnings, sccToWarning(t.Name, scc, graph))
			}
		}
	}
	return warnings
}

// refGraph maps computed property name to the sibling computed
// properties it references.
type refGraph map[string][]string

// buildRefGraph keeps only edges between computed properties: a
// reference to a literal or measured sibling is a leaf, not a cycle
// candidate.
func buildRefGraph(t EntityType) refGraph {
	computed := map[string]bool{}
	for _, p := range t.Properties {
		if p.Source == entity.SourceComputed {
			computed[p.Name] = true
		}
	}

	graph := make(refGraph)
	for _, p := range t.Properties {
		if p.Source != entity.SourceComputed {
			continue
		}
		edges := []string{}
		for _, ref := range p.Refs.SelfProps {
			if computed[ref] {
				edges = append(edges, ref)
			}
		}
		graph[p.Name] = edges
	}
	return graph
}

func hasSelfLoop(node string, graph refGraph) bool {
	for _, neighbor := range graph[node] {
		if neighbor == node {
			return true
		}
	}
	return false
}

// tarjanSCC finds strongly connected components.
// Single-node SCCs without self-loops are NOT cycles.
func tarjanSCC(graph refGraph) [][]string {
	var (
		index   = 0
		stack   []string
		indices = make(map[string]int)
		lowlink = make(map[string]int)
		onStack = make(map[string]bool)
		sccs    [][]string
	)

	var strongConnect func(string)
	strongConnect = func(v string) {
		indices[v] = index
		lowlink[v] = index
		index++
		stack = append(stack, v)
		onStack[v] = true

		for _, w := range graph[v] {
			if _, visited := indices[w]; !visited {
				strongConnect(w)
				lowlink[v] = min(lowlink[v], lowlink[w])
			} else if onStack[w] {
				lowlink[v] = min(lowlink[v], indices[w])
			}
		}

		if lowlink[v] == indices[v] {
			var scc []string
			for {
				w := stack[len(stack)-1]
				stack = stack[:len(stack)-1]
				onStack[w] = false
				scc = append(scc, w)
				if w == v {
					break
				}
			}
			sccs = append(sccs, scc)
		}
	}

	for node := range graph {
		if _, visited := indices[node]; !visited {
			strongConnect(node)
		}
	}
	return sccs
}

// sccToWarning renders an SCC as a closed cycle path. Self-loops render
// as [p, p]; larger components reconstruct one traversal through the
// member set.
func sccToWarning(typeName string, scc []string, graph refGraph) CycleWarning {
	path := []string{scc[0], scc[0]}
	if len(scc) > 1 {
		path = reconstructCyclePath(scc, graph)
	}
	return CycleWarning{
		Type:    typeName,
		Path:    path,
		Message: fmt.Sprintf("type %s: potential dependency cycle: %s", typeName, strings.Join(path, " -> ")),
	}
}

// reconstructCyclePath follows edges inside the SCC from its first
// member until the walk returns to the start.
func reconstructCyclePath(scc []string, graph refGraph) []string {
	members := make(map[string]bool)
	for _, node := range scc {
		members[node] = true
	}

	start := scc[0]
	current := start
	path := []string{current}
	visited := make(map[string]bool)

	for {
		visited[current] = true

		var next string
		for _, neighbor := range graph[current] {
			if members[neighbor] && (!visited[neighbor] || neighbor == start) {
				next = neighbor
				break
			}
		}
		if next == "" {
			break
		}

		path = append(path, next)
		if next == start {
			break
		}
		current = next
	}
	return path
}
