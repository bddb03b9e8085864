package pipeline

import (
	"fmt"
	"strings"
)

// dependencyEdges returns the valid connections whose endpoints both exist,
// as (from, to) node id pairs in definition order. Invalid connections never
// create a scheduling dependency.
func dependencyEdges(nodes []Node, conns []Connection) [][2]string {
	known := make(map[string]bool, len(nodes))
	for _, n := range nodes {
		known[n.ID] = true
	}
	edges := make([][2]string, 0, len(conns))
	for _, c := range conns {
		if !c.IsValid || !known[c.From.NodeID] || !known[c.To.NodeID] {
			continue
		}
		edges = append(edges, [2]string{c.From.NodeID, c.To.NodeID})
	}
	return edges
}

// BuildExecutionOrder topologically sorts nodes using Kahn's algorithm.
// Ready nodes are taken in discovery order: roots in node order, then
// successors in connection order. Nodes on a cycle never reach in-degree
// zero and are absent from the result.
func BuildExecutionOrder(nodes []Node, conns []Connection) []string {
	inDegree := make(map[string]int, len(nodes))
	succ := make(map[string][]string, len(nodes))
	for _, n := range nodes {
		inDegree[n.ID] = 0
	}
	for _, e := range dependencyEdges(nodes, conns) {
		inDegree[e[1]]++
		succ[e[0]] = append(succ[e[0]], e[1])
	}

	queue := make([]string, 0, len(nodes))
	for _, n := range nodes {
		if inDegree[n.ID] == 0 {
			queue = append(queue, n.ID)
		}
	}

	order := make([]string, 0, len(nodes))
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		order = append(order, id)
		for _, next := range succ[id] {
			inDegree[next]--
			if inDegree[next] == 0 {
				queue = append(queue, next)
			}
		}
	}
	return order
}

// Levels groups an execution order into batches whose members depend only
// on earlier batches. Nodes in one level are independent of each other.
func Levels(order []string, conns []Connection) [][]string {
	preds := make(map[string][]string)
	for _, c := range conns {
		if c.IsValid {
			preds[c.To.NodeID] = append(preds[c.To.NodeID], c.From.NodeID)
		}
	}

	depth := make(map[string]int, len(order))
	maxDepth := -1
	for _, id := range order {
		d := 0
		for _, p := range preds[id] {
			if pd, ok := depth[p]; ok && pd+1 > d {
				d = pd + 1
			}
		}
		depth[id] = d
		if d > maxDepth {
			maxDepth = d
		}
	}

	levels := make([][]string, maxDepth+1)
	for _, id := range order {
		levels[depth[id]] = append(levels[depth[id]], id)
	}
	return levels
}

// Plan validates s and computes its execution order. A node missing from the
// order is on a dependency cycle, which is reported as an error.
func Plan(s Snapshot) ([]string, error) {
	if err := ValidatePipeline(s.Nodes, s.Connections).Err(); err != nil {
		return nil, err
	}
	order := BuildExecutionOrder(s.Nodes, s.Connections)
	if err := checkComplete(s.Nodes, order); err != nil {
		return nil, err
	}
	return order, nil
}

// checkComplete reports a circular_dependency issue when order does not
// cover every node.
func checkComplete(nodes []Node, order []string) error {
	if len(order) == len(nodes) {
		return nil
	}
	placed := make(map[string]bool, len(order))
	for _, id := range order {
		placed[id] = true
	}
	var res ValidationResult
	var stuck []string
	for _, n := range nodes {
		if !placed[n.ID] {
			stuck = append(stuck, n.ID)
			res.addError(IssueCircularDependency, n.ID, "node is part of a circular dependency")
		}
	}
	res.Errors = append([]ValidationIssue{{
		Type:    IssueCircularDependency,
		Message: fmt.Sprintf("circular dependency detected between nodes: %s", strings.Join(stuck, ", ")),
	}}, res.Errors...)
	return res.Err()
}
