// Package flowgraph implements the declarative decision-flow graph shared
// by AuthorizeEngine (4.K) and PolicyEngine (4.P): a DAG of typed nodes
// evaluated with priority-ordered branch predicates and a mandatory
// default, per spec.md §4.K/§4.P and the §9 design note that replaces the
// source's exception-based control flow and runtime default_error
// fallback with a load-time-validated graph.
//
// There is no direct teacher analog (dex's login flow is hardcoded Go
// control flow, not a declarative graph); this package generalizes the
// teacher's connector-interface pattern (connector/interface.go: a small
// typed contract many implementations satisfy) to graph *nodes* instead
// of connector backends.
package flowgraph

import (
	"fmt"

	"github.com/authrim/authrim/internal/claims"
)

// NodeType enumerates the node kinds spec.md §4.K names.
type NodeType string

const (
	NodeStart       NodeType = "start"
	NodeLogin       NodeType = "login"
	NodeDecision    NodeType = "decision"
	NodeConsent     NodeType = "consent"
	NodeRegister    NodeType = "register"
	NodeLinkAccount NodeType = "link_account"
	NodeError       NodeType = "error"
	NodeEnd         NodeType = "end"
)

// Operator enumerates the predicate operators spec.md §4.K names.
type Operator string

const (
	OpIsTrue  Operator = "isTrue"
	OpIsFalse Operator = "isFalse"
	OpEq      Operator = "eq"
	OpNeq     Operator = "neq"
	OpIn      Operator = "in"
	OpGt      Operator = "gt"
	OpLt      Operator = "lt"
)

// Predicate evaluates `prevNode.result.<Path>` (or `prevNode.success` when
// Path is empty) against Operator/Value.
type Predicate struct {
	Path     string
	Op       Operator
	Value    claims.Value
}

// Edge is one priority-ordered branch out of a decision node. IsDefault
// edges are evaluated only once every non-default edge's predicate fails.
type Edge struct {
	To        string
	Predicate *Predicate
	IsDefault bool
	Priority  int
}

// Node is one vertex of the graph.
type Node struct {
	ID    string
	Type  NodeType
	Edges []Edge
}

// Graph is a validated, cycle-free decision flow.
type Graph struct {
	nodes map[string]Node
	start string
}

// Load validates nodes (exactly one start, every edge target exists, the
// graph is acyclic, and every decision node has a default branch) and
// returns a ready-to-evaluate Graph. A graph failing any of these checks
// is rejected outright — per spec.md §9, a missing default is a load-time
// error, not a runtime fallback to some generic error node.
func Load(nodes []Node) (*Graph, error) {
	byID := make(map[string]Node, len(nodes))
	var start string
	for _, n := range nodes {
		if _, dup := byID[n.ID]; dup {
			return nil, fmt.Errorf("flowgraph: duplicate node id %q", n.ID)
		}
		byID[n.ID] = n
		if n.Type == NodeStart {
			if start != "" {
				return nil, fmt.Errorf("flowgraph: more than one start node (%q, %q)", start, n.ID)
			}
			start = n.ID
		}
	}
	if start == "" {
		return nil, fmt.Errorf("flowgraph: no start node")
	}

	for _, n := range byID {
		hasDefault := false
		for _, e := range n.Edges {
			if _, ok := byID[e.To]; !ok {
				return nil, fmt.Errorf("flowgraph: node %q edge targets unknown node %q", n.ID, e.To)
			}
			if e.IsDefault {
				hasDefault = true
			}
		}
		if n.Type == NodeDecision && !hasDefault {
			return nil, fmt.Errorf("flowgraph: decision node %q has no default branch", n.ID)
		}
	}

	if cyclePath := findCycle(byID, start); cyclePath != nil {
		return nil, fmt.Errorf("flowgraph: cycle detected: %v", cyclePath)
	}

	return &Graph{nodes: byID, start: start}, nil
}

func findCycle(byID map[string]Node, start string) []string {
	const (
		white = 0
		gray  = 1
		black = 2
	)
	color := make(map[string]int, len(byID))
	var path []string

	var visit func(id string) []string
	visit = func(id string) []string {
		color[id] = gray
		path = append(path, id)
		for _, e := range byID[id].Edges {
			switch color[e.To] {
			case gray:
				return append(append([]string{}, path...), e.To)
			case white:
				if cyc := visit(e.To); cyc != nil {
					return cyc
				}
			}
		}
		path = path[:len(path)-1]
		color[id] = black
		return nil
	}

	for id := range byID {
		if color[id] == white {
			if cyc := visit(id); cyc != nil {
				return cyc
			}
		}
	}
	return nil
}

// Start returns the graph's single start node id.
func (g *Graph) Start() string { return g.start }

// Node looks up a node by id.
func (g *Graph) Node(id string) (Node, bool) {
	n, ok := g.nodes[id]
	return n, ok
}

// PrevResult is the outcome of the previously-executed node, against which
// a decision node's predicates are evaluated (`prevNode.success`,
// `prevNode.result.*`).
type PrevResult struct {
	Success bool
	Result  claims.Value
}

// NextEdge evaluates node's edges, in priority order, against prev and
// returns the first matching edge, falling back to the default edge. Only
// meaningful for NodeDecision nodes; Load already guarantees a default
// edge exists whenever this is called on a validated graph's decision node.
func NextEdge(node Node, prev PrevResult) (Edge, bool) {
	ordered := sortedEdges(node.Edges)
	var def *Edge
	for i := range ordered {
		e := ordered[i]
		if e.IsDefault {
			if def == nil {
				def = &e
			}
			continue
		}
		if evalPredicate(e.Predicate, prev) {
			return e, true
		}
	}
	if def != nil {
		return *def, true
	}
	return Edge{}, false
}

func sortedEdges(edges []Edge) []Edge {
	out := append([]Edge(nil), edges...)
	for i := 1; i < len(out); i++ {
		for j := i; j > 0 && out[j].Priority < out[j-1].Priority; j-- {
			out[j], out[j-1] = out[j-1], out[j]
		}
	}
	return out
}

func evalPredicate(p *Predicate, prev PrevResult) bool {
	if p == nil {
		return false
	}
	var subject claims.Value
	if p.Path == "" || p.Path == "success" {
		subject = claims.Bool(prev.Success)
	} else {
		v, ok := prev.Result.Get(p.Path)
		if !ok {
			return false
		}
		subject = v
	}

	switch p.Op {
	case OpIsTrue:
		b, ok := subject.AsBool()
		return ok && b
	case OpIsFalse:
		b, ok := subject.AsBool()
		return ok && !b
	case OpEq:
		return equalValue(subject, p.Value)
	case OpNeq:
		return !equalValue(subject, p.Value)
	case OpIn:
		arr, ok := p.Value.AsArray()
		if !ok {
			return false
		}
		for _, v := range arr {
			if equalValue(subject, v) {
				return true
			}
		}
		return false
	case OpGt, OpLt:
		return compareNumeric(subject, p.Value, p.Op)
	default:
		return false
	}
}

func equalValue(a, b claims.Value) bool {
	return a.AsSubject() == b.AsSubject() && a.Kind() == b.Kind()
}

func compareNumeric(a, b claims.Value, op Operator) bool {
	an, aok := asFloat(a)
	bn, bok := asFloat(b)
	if !aok || !bok {
		return false
	}
	if op == OpGt {
		return an > bn
	}
	return an < bn
}

func asFloat(v claims.Value) (float64, bool) {
	return v.AsNumber()
}
