// Package authorize implements component K, AuthorizeEngine: request
// validation, PKCE, response-mode selection, and the hybrid-flow hashes.
// Grounded on server/oauth2.go's parseAuthorizationRequest pipeline and
// its displayedAuthErr/redirectedAuthErr split — generalized here into a
// single internal/oidcerr.Error plus an explicit Outcome discriminator,
// since a single typed error (rather than two handler-local structs)
// lets every other component reuse the same redirect-vs-direct policy.
package authorize

import (
	"crypto/sha256"
	"crypto/sha512"
	"encoding/base64"
	"net/url"
	"strings"

	"github.com/authrim/authrim/internal/oidcerr"
)

// ResponseMode is the OAuth2/OIDC response_mode value.
type ResponseMode string

const (
	ResponseModeQuery    ResponseMode = "query"
	ResponseModeFragment ResponseMode = "fragment"
	ResponseModeFormPost ResponseMode = "form_post"
)

// ClientView is the subset of client metadata AuthorizeEngine needs;
// ClientRegistry's Client satisfies this by field shape.
type ClientView struct {
	ID                 string
	RedirectURIs       []string
	Public             bool
	PKCERequired       bool
	SupportedResponses []string
	AllowHTTPRedirect  bool
}

// Request is the raw, as-received authorization request.
type Request struct {
	ClientID            string
	RedirectURI         string
	ResponseType        string
	Scope               string
	State               string
	Nonce               string
	CodeChallenge       string
	CodeChallengeMethod string
	ResponseMode        string
	MaxAge              string
	Prompt              string
	UILocales           string
	ACRValues           string
}

// Validated is the normalized, ready-to-process request.
type Validated struct {
	ClientID      string
	RedirectURI   string
	ResponseTypes []string
	Scopes        []string
	State         string
	Nonce         string
	PKCEChallenge string
	PKCEMethod    string
	ResponseMode  ResponseMode
}

// Outcome discriminates where a validation failure must be reported, per
// spec.md §4.K: "Errors pre-redirect ... 400 JSON. All later failures
// redirect to redirect_uri."
type Outcome int

const (
	OutcomeOK Outcome = iota
	OutcomePreRedirect
	OutcomeRedirect
)

// RedirectError carries everything needed to build the error redirect.
type RedirectError struct {
	RedirectURI  string
	ResponseMode ResponseMode
	State        string
	Err          *oidcerr.Error
}

const maxStateNonceLen = 512

// Validate runs the §4.K pipeline in order. It returns (outcome, validated,
// redirectErr): with OutcomeOK only validated is set; with OutcomeRedirect
// only redirectErr is set; with OutcomePreRedirect redirectErr carries only
// its Err field, since no redirect target has been established.
func Validate(req Request, client ClientView) (Outcome, *Validated, *RedirectError) {
	// Steps 2-3: client_id / redirect_uri are validated before any redirect
	// is attempted, so failures here are reported directly (400 JSON).
	if client.ID == "" {
		return OutcomePreRedirect, nil, &RedirectError{Err: wrap(oidcerr.InvalidRequest, "unknown client_id")}
	}
	if !redirectURIRegistered(client, req.RedirectURI) {
		return OutcomePreRedirect, nil, &RedirectError{Err: wrap(oidcerr.InvalidRequest, "unregistered redirect_uri")}
	}
	if !httpsOrAllowedLoopback(req.RedirectURI, client.AllowHTTPRedirect) {
		return OutcomePreRedirect, nil, &RedirectError{Err: wrap(oidcerr.InvalidRequest, "redirect_uri must be https except for loopback")}
	}

	redirect := func(code, desc string) (Outcome, *Validated, *RedirectError) {
		mode := defaultResponseMode(strings.Fields(req.ResponseType), req.ResponseMode)
		return OutcomeRedirect, nil, &RedirectError{
			RedirectURI:  req.RedirectURI,
			ResponseMode: mode,
			State:        req.State,
			Err:          wrap(code, desc),
		}
	}

	responseTypes := strings.Fields(req.ResponseType)
	if len(responseTypes) == 0 || !supportedResponseType(responseTypes, client.SupportedResponses) {
		return redirect(oidcerr.UnsupportedResponseType, "unsupported response_type")
	}

	scopes := strings.Fields(req.Scope)
	if !contains(scopes, "openid") {
		return redirect(oidcerr.InvalidScope, "scope must contain openid")
	}

	if req.CodeChallenge != "" {
		if req.CodeChallengeMethod != "S256" {
			return redirect(oidcerr.InvalidRequest, "unsupported code_challenge_method")
		}
		if len(req.CodeChallenge) < 43 {
			return redirect(oidcerr.InvalidRequest, "code_challenge too short")
		}
	} else if client.Public || client.PKCERequired {
		return redirect(oidcerr.InvalidRequest, "PKCE required for this client")
	}

	if len(req.State) > maxStateNonceLen || len(req.Nonce) > maxStateNonceLen {
		return redirect(oidcerr.InvalidRequest, "state/nonce exceeds 512 characters")
	}

	needsNonce := contains(responseTypes, "id_token") || contains(responseTypes, "token")
	if needsNonce && req.Nonce == "" {
		return redirect(oidcerr.InvalidRequest, "nonce required for this response_type")
	}

	mode := defaultResponseMode(responseTypes, req.ResponseMode)
	if isCodeOnly(responseTypes) && mode == ResponseModeFragment {
		return redirect(oidcerr.InvalidRequest, "fragment response_mode forbidden for code-only response_type")
	}

	return OutcomeOK, &Validated{
		ClientID:      client.ID,
		RedirectURI:   req.RedirectURI,
		ResponseTypes: responseTypes,
		Scopes:        scopes,
		State:         req.State,
		Nonce:         req.Nonce,
		PKCEChallenge: req.CodeChallenge,
		PKCEMethod:    req.CodeChallengeMethod,
		ResponseMode:  mode,
	}, nil
}

func wrap(code, desc string) *oidcerr.Error {
	return oidcerr.Protocol(code, desc)
}

func redirectURIRegistered(client ClientView, uri string) bool {
	for _, u := range client.RedirectURIs {
		if u == uri {
			return true
		}
	}
	return false
}

func httpsOrAllowedLoopback(rawURI string, allowHTTP bool) bool {
	u, err := url.Parse(rawURI)
	if err != nil {
		return false
	}
	if u.Scheme == "https" {
		return true
	}
	if u.Scheme == "http" {
		host := u.Hostname()
		if host == "127.0.0.1" || host == "::1" || host == "localhost" {
			return true
		}
		return allowHTTP
	}
	// Native-app custom schemes are allowed as-is.
	return u.Scheme != ""
}

func supportedResponseType(requested, supported []string) bool {
	set := make(map[string]bool, len(supported))
	for _, s := range supported {
		set[s] = true
	}
	joined := strings.Join(requested, " ")
	return set[joined] || (len(supported) == 0 && isKnownResponseType(requested))
}

func isKnownResponseType(types []string) bool {
	known := map[string]bool{"code": true, "id_token": true, "token": true}
	for _, t := range types {
		if !known[t] {
			return false
		}
	}
	return true
}

func isCodeOnly(types []string) bool {
	return len(types) == 1 && types[0] == "code"
}

// defaultResponseMode implements spec.md §4.K step 7.
func defaultResponseMode(responseTypes []string, requested string) ResponseMode {
	switch ResponseMode(requested) {
	case ResponseModeQuery, ResponseModeFragment, ResponseModeFormPost:
		return ResponseMode(requested)
	}
	if isCodeOnly(responseTypes) {
		return ResponseModeQuery
	}
	return ResponseModeFragment
}

func contains(ss []string, v string) bool {
	for _, s := range ss {
		if s == v {
			return true
		}
	}
	return false
}

// HalfHash computes the at_hash/c_hash/s_hash per spec.md §4.I: base64url
// of the left half of the hash of the ASCII value, using the hash family
// matching the signing algorithm.
func HalfHash(alg string, value string) (string, error) {
	var sum []byte
	switch alg {
	case "RS256", "ES256":
		h := sha256.Sum256([]byte(value))
		sum = h[:]
	case "ES384":
		h := sha512.Sum384([]byte(value))
		sum = h[:]
	case "ES512", "EdDSA":
		h := sha512.Sum512([]byte(value))
		sum = h[:]
	default:
		return "", oidcerr.Validation("alg", "unsupported signing algorithm for hash computation")
	}
	return base64.RawURLEncoding.EncodeToString(sum[:len(sum)/2]), nil
}
