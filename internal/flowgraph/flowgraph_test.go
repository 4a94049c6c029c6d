package flowgraph

import (
	"testing"

	"github.com/authrim/authrim/internal/claims"
	"github.com/stretchr/testify/require"
)

func simpleGraph(t *testing.T) *Graph {
	t.Helper()
	g, err := Load([]Node{
		{ID: "start", Type: NodeStart, Edges: []Edge{{To: "login"}}},
		{ID: "login", Type: NodeLogin, Edges: []Edge{{To: "decide"}}},
		{ID: "decide", Type: NodeDecision, Edges: []Edge{
			{To: "consent", Priority: 1, Predicate: &Predicate{Op: OpIsTrue}},
			{To: "error", Priority: 2, IsDefault: true},
		}},
		{ID: "consent", Type: NodeConsent, Edges: []Edge{{To: "end"}}},
		{ID: "error", Type: NodeError},
		{ID: "end", Type: NodeEnd},
	})
	require.NoError(t, err)
	return g
}

func TestLoadValidGraph(t *testing.T) {
	g := simpleGraph(t)
	require.Equal(t, "start", g.Start())
}

func TestLoadRejectsMissingDefault(t *testing.T) {
	_, err := Load([]Node{
		{ID: "start", Type: NodeStart, Edges: []Edge{{To: "decide"}}},
		{ID: "decide", Type: NodeDecision, Edges: []Edge{
			{To: "start", Predicate: &Predicate{Op: OpIsTrue}},
		}},
	})
	require.Error(t, err)
}

func TestLoadRejectsCycles(t *testing.T) {
	_, err := Load([]Node{
		{ID: "a", Type: NodeStart, Edges: []Edge{{To: "b"}}},
		{ID: "b", Type: NodeLogin, Edges: []Edge{{To: "a"}}},
	})
	require.Error(t, err)
}

func TestLoadRejectsUnknownEdgeTarget(t *testing.T) {
	_, err := Load([]Node{
		{ID: "a", Type: NodeStart, Edges: []Edge{{To: "nope"}}},
	})
	require.Error(t, err)
}

func TestLoadRejectsMultipleStarts(t *testing.T) {
	_, err := Load([]Node{
		{ID: "a", Type: NodeStart},
		{ID: "b", Type: NodeStart},
	})
	require.Error(t, err)
}

func TestNextEdgeTakesMatchingBranchBeforeDefault(t *testing.T) {
	g := simpleGraph(t)
	decide, _ := g.Node("decide")
	edge, ok := NextEdge(decide, PrevResult{Success: true})
	require.True(t, ok)
	require.Equal(t, "consent", edge.To)
}

func TestNextEdgeFallsBackToDefault(t *testing.T) {
	g := simpleGraph(t)
	decide, _ := g.Node("decide")
	edge, ok := NextEdge(decide, PrevResult{Success: false})
	require.True(t, ok)
	require.Equal(t, "error", edge.To)
}

func TestEvalPredicateDotPath(t *testing.T) {
	g, err := Load([]Node{
		{ID: "start", Type: NodeStart, Edges: []Edge{{To: "decide"}}},
		{ID: "decide", Type: NodeDecision, Edges: []Edge{
			{To: "consent", Predicate: &Predicate{Path: "risk.level", Op: OpEq, Value: claims.String("low")}},
			{To: "error", IsDefault: true},
		}},
		{ID: "consent", Type: NodeConsent},
		{ID: "error", Type: NodeError},
	})
	require.NoError(t, err)
	decide, _ := g.Node("decide")

	result := claims.Object(map[string]claims.Value{
		"risk": claims.Object(map[string]claims.Value{"level": claims.String("low")}),
	})
	edge, ok := NextEdge(decide, PrevResult{Result: result})
	require.True(t, ok)
	require.Equal(t, "consent", edge.To)
}
