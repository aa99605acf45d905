package graph

import "fmt"

// Validate runs every structural rule from spec.md §4.3 against g,
// accumulating every problem found rather than stopping at the first, and
// returns a single *ValidationError (or nil if g is well-formed).
//
// Rules checked, in order:
//  1. The node set is non-empty.
//  2. The entry point names a node that exists.
//  3. Every edge references nodes that exist; only From may be the
//     wildcard "*", never To.
//  4. The graph contains no cycle, unless built with AllowCycles(true).
//  5. Every node is reachable from the entry point (wildcard edges count
//     as reaching from any node already reached).
func Validate(g *Graph) error {
	var problems []string

	if len(g.nodes) == 0 {
		problems = append(problems, "graph has no nodes")
	}

	if g.entry == "" {
		problems = append(problems, "graph has no entry point")
	} else if _, ok := g.nodes[g.entry]; !ok {
		problems = append(problems, fmt.Sprintf("entry point %q is not a known node", g.entry))
	}

	for _, e := range g.edges {
		if e.From != WildcardNode {
			if _, ok := g.nodes[e.From]; !ok {
				problems = append(problems, fmt.Sprintf("edge references unknown source node %q", e.From))
			}
		}
		if e.To == WildcardNode {
			problems = append(problems, "edge target may not be the wildcard node")
		} else if _, ok := g.nodes[e.To]; !ok {
			problems = append(problems, fmt.Sprintf("edge references unknown target node %q", e.To))
		}
	}

	// Only run cycle/reachability checks once the edge set is internally
	// consistent; otherwise DFS/BFS below would chase dangling references.
	if len(problems) == 0 {
		if !g.allowCycles {
			if cyclePath, ok := findCycle(g); ok {
				problems = append(problems, fmt.Sprintf("cycle detected: %v", cyclePath))
			}
		}
		if unreached := findUnreachable(g); len(unreached) > 0 {
			problems = append(problems, fmt.Sprintf("unreachable nodes from entry %q: %v", g.entry, unreached))
		}
	}

	if len(problems) > 0 {
		return &ValidationError{GraphID: g.id, Problems: problems}
	}
	return nil
}

// adjacency returns, for every known node, the ids of nodes one of its
// edges can reach, expanding wildcard edges into every other node.
func adjacency(g *Graph) map[string][]string {
	adj := make(map[string][]string, len(g.nodes))
	var wildcardTargets []string
	for _, e := range g.edges {
		if e.From == WildcardNode {
			wildcardTargets = append(wildcardTargets, e.To)
			continue
		}
		adj[e.From] = append(adj[e.From], e.To)
	}
	if len(wildcardTargets) == 0 {
		return adj
	}
	for id := range g.nodes {
		for _, target := range wildcardTargets {
			// A wildcard edge means "from any other node"; it never creates a
			// self-loop purely because the wildcard's own target is itself a node.
			if target == id {
				continue
			}
			adj[id] = append(adj[id], target)
		}
	}
	return adj
}

// findCycle runs DFS with a recursion stack, returning the first cycle
// found as a node-id path, or ok=false if the graph is acyclic.
func findCycle(g *Graph) ([]string, bool) {
	adj := adjacency(g)
	const (
		unvisited = 0
		visiting  = 1
		done      = 2
	)
	state := make(map[string]int, len(g.nodes))
	var path []string

	var visit func(id string) ([]string, bool)
	visit = func(id string) ([]string, bool) {
		state[id] = visiting
		path = append(path, id)
		for _, next := range adj[id] {
			switch state[next] {
			case visiting:
				cyclePath := append(append([]string{}, path...), next)
				return cyclePath, true
			case unvisited:
				if cyclePath, found := visit(next); found {
					return cyclePath, true
				}
			}
		}
		path = path[:len(path)-1]
		state[id] = done
		return nil, false
	}

	for id := range g.nodes {
		if state[id] == unvisited {
			if cyclePath, found := visit(id); found {
				return cyclePath, true
			}
		}
	}
	return nil, false
}

// findUnreachable returns every node id not reachable from the entry point
// via a BFS over adjacency (including wildcard expansion).
func findUnreachable(g *Graph) []string {
	if g.entry == "" {
		return nil
	}
	adj := adjacency(g)
	seen := map[string]bool{g.entry: true}
	queue := []string{g.entry}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		for _, next := range adj[cur] {
			if !seen[next] {
				seen[next] = true
				queue = append(queue, next)
			}
		}
	}
	var unreached []string
	for id := range g.nodes {
		if !seen[id] {
			unreached = append(unreached, id)
		}
	}
	return unreached
}

// terminalNodes returns every node id with no outgoing edges (including no
// applicable wildcard), the set of nodes from which a run can only stop.
func terminalNodes(g *Graph) []string {
	adj := adjacency(g)
	var terminals []string
	for id := range g.nodes {
		if len(adj[id]) == 0 {
			terminals = append(terminals, id)
		}
	}
	return terminals
}
