package graph

// WildcardNode is the special "any node" source id: an edge with this From
// reaches its target from every node already reachable in the graph, and is
// evaluated after that node's own declared edges.
const WildcardNode = "*"

// Guard evaluates a completed node's result to decide whether its edge
// should be traversed. A nil Guard is unconditional (always traverses).
//
// Guards should be pure: same result in, same bool out, no side effects.
type Guard func(result NodeResult) bool

// Edge is a directed, optionally guarded connection between two nodes.
// From may be WildcardNode; To may never be.
type Edge struct {
	From  string
	To    string
	Guard Guard
}
