// Package policy implements component P, PolicyEngine: scope-grant and
// consent-cache decisions, pairwise subject derivation, and flow-graph
// evaluation. Grounded on the teacher's server/approvalhandlers.go
// (scope/consent decision shape) and generalized pairwise-subject
// computation per spec.md §4.P; reuses internal/flowgraph for the
// decision-flow evaluator shared with AuthorizeEngine (§4.K).
package policy

import (
	"context"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/authrim/authrim/internal/flowgraph"
	"github.com/authrim/authrim/internal/oidcerr"
)

// SubjectType discriminates public vs. pairwise subject derivation.
type SubjectType string

const (
	SubjectPublic   SubjectType = "public"
	SubjectPairwise SubjectType = "pairwise"
)

// PairwiseInput carries the inputs spec.md §4.P's pairwise derivation
// formula needs: `sub = base64url(SHA-256(sector_identifier_host ‖
// local_account_id ‖ salt))`.
type PairwiseInput struct {
	SubjectType          SubjectType
	SectorIdentifierURI  string
	RedirectURIs         []string
	LocalAccountID       string
	Salt                 string
	// SectorIdentifierHosts, when non-empty, is the already-fetched and
	// parsed redirect_uris list published at SectorIdentifierURI. Callers
	// fetch it (an HTTP round trip) and pass the result in rather than
	// this package performing I/O, keeping DeriveSubject pure and testable.
	SectorIdentifierHosts []string
}

// DeriveSubject computes the `sub` claim per spec.md §4.P. For
// subject_type=pairwise with a sector_identifier_uri set, every redirect
// host must appear in the fetched sector identifier document; otherwise
// the host is derived from the sole redirect_uri.
func DeriveSubject(in PairwiseInput) (string, error) {
	if in.SubjectType != SubjectPairwise {
		return in.LocalAccountID, nil
	}

	host, err := sectorHost(in)
	if err != nil {
		return "", err
	}

	h := sha256.New()
	h.Write([]byte(host))
	h.Write([]byte(in.LocalAccountID))
	h.Write([]byte(in.Salt))
	return base64.RawURLEncoding.EncodeToString(h.Sum(nil)), nil
}

func sectorHost(in PairwiseInput) (string, error) {
	if in.SectorIdentifierURI != "" {
		if len(in.SectorIdentifierHosts) == 0 {
			return "", oidcerr.New(oidcerr.KindServer, oidcerr.ServerError, "sector_identifier_uri set but its document was not resolved")
		}
		hostSet := make(map[string]struct{}, len(in.SectorIdentifierHosts))
		for _, h := range in.SectorIdentifierHosts {
			hostSet[h] = struct{}{}
		}
		for _, ru := range in.RedirectURIs {
			h, err := hostOf(ru)
			if err != nil {
				return "", err
			}
			if _, ok := hostSet[h]; !ok {
				return "", oidcerr.Validation("sector_identifier_uri", fmt.Sprintf("redirect_uri host %q not covered by sector_identifier_uri document", h))
			}
		}
		// The sector identifier is the host of the URI itself, not the
		// redirect hosts it covers.
		return hostOf(in.SectorIdentifierURI)
	}

	if len(in.RedirectURIs) != 1 {
		return "", oidcerr.Validation("sector_identifier_uri", "pairwise subjects require sector_identifier_uri when more than one redirect_uri is registered")
	}
	return hostOf(in.RedirectURIs[0])
}

func hostOf(raw string) (string, error) {
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return "", oidcerr.Validation("redirect_uris", fmt.Sprintf("cannot derive host from %q", raw))
	}
	return u.Host, nil
}

// ConsentKey identifies a cached grant per (user, client).
type ConsentKey struct {
	UserID   string
	ClientID string
}

// ConsentRecord is a cached scope grant decision.
type ConsentRecord struct {
	GrantedScopes map[string]struct{}
	GrantedAt     time.Time
	ExpiresAt     time.Time
}

// ConsentCache is a minimal in-process TTL cache of consent decisions,
// keyed the same way the teacher's server/approvalhandlers.go session
// keys its pending-approval state.
type ConsentCache struct {
	records map[ConsentKey]ConsentRecord
}

func NewConsentCache() *ConsentCache {
	return &ConsentCache{records: make(map[ConsentKey]ConsentRecord)}
}

// Record stores a grant decision for requestedScopes.
func (c *ConsentCache) Record(key ConsentKey, requestedScopes []string, ttl time.Duration) {
	granted := make(map[string]struct{}, len(requestedScopes))
	for _, s := range requestedScopes {
		granted[s] = struct{}{}
	}
	now := time.Now()
	c.records[key] = ConsentRecord{GrantedScopes: granted, GrantedAt: now, ExpiresAt: now.Add(ttl)}
}

// NeedsConsent reports whether any of requestedScopes is ungranted or the
// cached grant has expired, per spec.md §4.P.
func (c *ConsentCache) NeedsConsent(key ConsentKey, requestedScopes []string) bool {
	rec, ok := c.records[key]
	if !ok || time.Now().After(rec.ExpiresAt) {
		return true
	}
	for _, s := range requestedScopes {
		if _, granted := rec.GrantedScopes[s]; !granted {
			return true
		}
	}
	return false
}

// EvaluateFlow runs the shared decision-flow graph for a login/consent
// pipeline, per spec.md §4.K/§4.P.
func EvaluateFlow(ctx context.Context, graph *flowgraph.Graph, step func(ctx context.Context, nodeID string) (flowgraph.PrevResult, error)) (string, error) {
	nodeID := graph.Start()
	prev := flowgraph.PrevResult{Success: true}
	for {
		node, ok := graph.Node(nodeID)
		if !ok {
			return "", oidcerr.Wrap(oidcerr.KindServer, oidcerr.ServerError, fmt.Errorf("policy: unknown flow node %q", nodeID))
		}
		if node.Type == flowgraph.NodeEnd || node.Type == flowgraph.NodeError {
			return nodeID, nil
		}

		result, err := step(ctx, nodeID)
		if err != nil {
			return "", err
		}
		prev = result

		if node.Type != flowgraph.NodeDecision {
			edge, ok := soleEdge(node)
			if !ok {
				return "", oidcerr.Wrap(oidcerr.KindServer, oidcerr.ServerError, fmt.Errorf("policy: non-decision node %q has no outgoing edge", nodeID))
			}
			nodeID = edge.To
			continue
		}

		edge, ok := flowgraph.NextEdge(node, prev)
		if !ok {
			return "", oidcerr.Wrap(oidcerr.KindServer, oidcerr.ServerError, fmt.Errorf("policy: decision node %q produced no edge", nodeID))
		}
		nodeID = edge.To
	}
}

func soleEdge(node flowgraph.Node) (flowgraph.Edge, bool) {
	if len(node.Edges) == 0 {
		return flowgraph.Edge{}, false
	}
	return node.Edges[0], true
}

// NormalizeScope splits a space-separated scope string into its scopes,
// dropping duplicates and keeping first-seen order.
func NormalizeScope(scope string) []string {
	fields := strings.Fields(scope)
	seen := make(map[string]struct{}, len(fields))
	out := make([]string, 0, len(fields))
	for _, f := range fields {
		if _, ok := seen[f]; ok {
			continue
		}
		seen[f] = struct{}{}
		out = append(out, f)
	}
	return out
}
