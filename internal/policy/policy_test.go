package policy

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/authrim/authrim/internal/claims"
	"github.com/authrim/authrim/internal/flowgraph"
)

func TestDeriveSubjectPublicReturnsLocalAccountID(t *testing.T) {
	sub, err := DeriveSubject(PairwiseInput{SubjectType: SubjectPublic, LocalAccountID: "user-1"})
	require.NoError(t, err)
	require.Equal(t, "user-1", sub)
}

func TestDeriveSubjectPairwiseIsDeterministic(t *testing.T) {
	in := PairwiseInput{
		SubjectType:    SubjectPairwise,
		RedirectURIs:   []string{"https://app.example/callback"},
		LocalAccountID: "user-1",
		Salt:           "tenant-salt",
	}
	sub1, err := DeriveSubject(in)
	require.NoError(t, err)
	sub2, err := DeriveSubject(in)
	require.NoError(t, err)
	require.Equal(t, sub1, sub2)
	require.NotEqual(t, "user-1", sub1)
}

func TestDeriveSubjectPairwiseDiffersPerClientHost(t *testing.T) {
	base := PairwiseInput{SubjectType: SubjectPairwise, LocalAccountID: "user-1", Salt: "tenant-salt"}
	a := base
	a.RedirectURIs = []string{"https://app-a.example/callback"}
	b := base
	b.RedirectURIs = []string{"https://app-b.example/callback"}

	subA, err := DeriveSubject(a)
	require.NoError(t, err)
	subB, err := DeriveSubject(b)
	require.NoError(t, err)
	require.NotEqual(t, subA, subB)
}

func TestDeriveSubjectPairwiseRequiresSectorURIForMultipleRedirects(t *testing.T) {
	_, err := DeriveSubject(PairwiseInput{
		SubjectType:    SubjectPairwise,
		RedirectURIs:   []string{"https://a.example/cb", "https://b.example/cb"},
		LocalAccountID: "user-1",
	})
	require.Error(t, err)
}

func TestDeriveSubjectPairwiseValidatesSectorDocumentCoverage(t *testing.T) {
	_, err := DeriveSubject(PairwiseInput{
		SubjectType:           SubjectPairwise,
		SectorIdentifierURI:   "https://sector.example/redirect_uris.json",
		RedirectURIs:          []string{"https://a.example/cb", "https://b.example/cb"},
		SectorIdentifierHosts: []string{"a.example"},
		LocalAccountID:        "user-1",
	})
	require.Error(t, err)
}

func TestConsentCacheNeedsConsentUntilGranted(t *testing.T) {
	c := NewConsentCache()
	key := ConsentKey{UserID: "u1", ClientID: "c1"}
	require.True(t, c.NeedsConsent(key, []string{"openid", "email"}))

	c.Record(key, []string{"openid", "email"}, time.Hour)
	require.False(t, c.NeedsConsent(key, []string{"openid", "email"}))
	require.True(t, c.NeedsConsent(key, []string{"openid", "profile"}))
}

func TestConsentCacheExpires(t *testing.T) {
	c := NewConsentCache()
	key := ConsentKey{UserID: "u1", ClientID: "c1"}
	c.Record(key, []string{"openid"}, -time.Second)
	require.True(t, c.NeedsConsent(key, []string{"openid"}))
}

func TestNormalizeScopeDedupes(t *testing.T) {
	require.Equal(t, []string{"openid", "email"}, NormalizeScope("openid email openid"))
}

func TestEvaluateFlowWalksToEnd(t *testing.T) {
	graph, err := flowgraph.Load([]flowgraph.Node{
		{ID: "start", Type: flowgraph.NodeStart, Edges: []flowgraph.Edge{{To: "decide"}}},
		{ID: "decide", Type: flowgraph.NodeDecision, Edges: []flowgraph.Edge{
			{To: "consent", Predicate: &flowgraph.Predicate{Op: flowgraph.OpIsTrue}, Priority: 1},
			{To: "end", IsDefault: true},
		}},
		{ID: "consent", Type: flowgraph.NodeConsent, Edges: []flowgraph.Edge{{To: "end"}}},
		{ID: "end", Type: flowgraph.NodeEnd},
	})
	require.NoError(t, err)

	final, err := EvaluateFlow(context.Background(), graph, func(_ context.Context, nodeID string) (flowgraph.PrevResult, error) {
		if nodeID == "decide" {
			return flowgraph.PrevResult{Success: true, Result: claims.Bool(true)}, nil
		}
		return flowgraph.PrevResult{Success: true}, nil
	})
	require.NoError(t, err)
	require.Equal(t, "end", final)
}
