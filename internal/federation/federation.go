// Package federation implements component N, FederationEngine: upstream
// OIDC sign-in (begin/callback), claim normalization via attribute_mapping,
// account-linking decisions, and backchannel logout. Grounded on the
// teacher's connector/oidc package (provider discovery, verifier caching,
// authorization-code exchange) and generalized from a static per-connector
// config into a multi-provider, multi-tenant registry per spec.md §4.N.
package federation

import (
	"context"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/url"
	"time"

	"github.com/coreos/go-oidc/v3/oidc"
	"golang.org/x/oauth2"

	"github.com/authrim/authrim/internal/challenge"
	"github.com/authrim/authrim/internal/claims"
	"github.com/authrim/authrim/internal/oidcerr"
)

// ProviderConfig registers an upstream IdP, per spec.md §4.N.
type ProviderConfig struct {
	Name         string
	Issuer       string
	ClientID     string
	ClientSecret string
	RedirectURI  string
	Scopes       []string
}

type registeredProvider struct {
	cfg      ProviderConfig
	provider *oidc.Provider
	verifier *oidc.IDTokenVerifier
	oauth2   *oauth2.Config
}

// Engine is FederationEngine.
type Engine struct {
	providers map[string]*registeredProvider
	states    *challenge.Store
}

func New(states *challenge.Store) *Engine {
	return &Engine{providers: make(map[string]*registeredProvider), states: states}
}

// RegisterProvider performs OIDC discovery against cfg.Issuer once and
// caches the resulting verifier/oauth2 config, mirroring the teacher's
// Config.Open provider caching.
func (e *Engine) RegisterProvider(ctx context.Context, cfg ProviderConfig) error {
	provider, err := oidc.NewProvider(ctx, cfg.Issuer)
	if err != nil {
		return oidcerr.Wrap(oidcerr.KindUnavailable, oidcerr.TemporarilyUnavailable, err)
	}
	scopes := append([]string{oidc.ScopeOpenID}, cfg.Scopes...)
	e.providers[cfg.Name] = &registeredProvider{
		cfg:      cfg,
		provider: provider,
		verifier: provider.Verifier(&oidc.Config{ClientID: cfg.ClientID}),
		oauth2: &oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			Endpoint:     provider.Endpoint(),
			Scopes:       scopes,
			RedirectURL:  cfg.RedirectURI,
		},
	}
	return nil
}

func (e *Engine) lookup(name string) (*registeredProvider, error) {
	p, ok := e.providers[name]
	if !ok {
		return nil, oidcerr.New(oidcerr.KindNotFound, oidcerr.InvalidRequest, "unknown provider")
	}
	return p, nil
}

// AuthState is the external_idp_auth_state record per spec.md §4.N.
type AuthState struct {
	Provider     string `json:"provider"`
	Tenant       string `json:"tenant"`
	State        string `json:"state"`
	Nonce        string `json:"nonce"`
	CodeVerifier string `json:"code_verifier"`
}

const stateTTL = 10 * time.Minute

// Begin creates an external_idp_auth_state record (PKCE + nonce + state)
// and returns the upstream authorize URL, per spec.md §4.N.
func (e *Engine) Begin(ctx context.Context, provider, tenant string) (string, error) {
	p, err := e.lookup(provider)
	if err != nil {
		return "", err
	}
	state, err := randomToken(32)
	if err != nil {
		return "", err
	}
	nonce, err := randomToken(32)
	if err != nil {
		return "", err
	}
	verifier, err := randomToken(48)
	if err != nil {
		return "", err
	}

	as := AuthState{Provider: provider, Tenant: tenant, State: state, Nonce: nonce, CodeVerifier: verifier}
	payload, err := json.Marshal(as)
	if err != nil {
		return "", oidcerr.ServerErr(err)
	}
	now := time.Now()
	if err := e.states.Store(ctx, challenge.Challenge{
		Type: challenge.TypeFederationState, ID: state, Payload: payload,
		IssuedAt: now, ExpiresAt: now.Add(stateTTL),
	}); err != nil {
		return "", err
	}

	sum := sha256.Sum256([]byte(verifier))
	codeChallenge := base64.RawURLEncoding.EncodeToString(sum[:])

	return p.oauth2.AuthCodeURL(state,
		oidc.Nonce(nonce),
		oauth2.SetAuthURLParam("code_challenge", codeChallenge),
		oauth2.SetAuthURLParam("code_challenge_method", "S256"),
	), nil
}

// Identity is the normalized result of a successful callback.
type Identity struct {
	ProviderSubject string
	Claims          claims.Value
	Email           string
	EmailVerified   bool
}

// Callback validates state, exchanges code, verifies the id_token against
// the provider's JWKS, and normalizes claims, per spec.md §4.N.
func (e *Engine) Callback(ctx context.Context, provider string, query url.Values) (Identity, error) {
	p, err := e.lookup(provider)
	if err != nil {
		return Identity{}, err
	}
	if errCode := query.Get("error"); errCode != "" {
		return Identity{}, oidcerr.Protocol(oidcerr.AccessDenied, query.Get("error_description"))
	}

	ch, err := e.states.Consume(ctx, challenge.TypeFederationState, query.Get("state"))
	if err != nil {
		return Identity{}, oidcerr.New(oidcerr.KindValidation, oidcerr.InvalidRequest, "unknown or expired state")
	}
	var as AuthState
	if err := json.Unmarshal(ch.Payload, &as); err != nil {
		return Identity{}, oidcerr.ServerErr(err)
	}
	if as.Provider != provider {
		return Identity{}, oidcerr.New(oidcerr.KindValidation, oidcerr.InvalidRequest, "state/provider mismatch")
	}

	tok, err := p.oauth2.Exchange(ctx, query.Get("code"), oauth2.SetAuthURLParam("code_verifier", as.CodeVerifier))
	if err != nil {
		return Identity{}, oidcerr.Wrap(oidcerr.KindProtocol, oidcerr.InvalidGrant, err)
	}
	rawIDToken, ok := tok.Extra("id_token").(string)
	if !ok {
		return Identity{}, oidcerr.New(oidcerr.KindProtocol, oidcerr.InvalidGrant, "no id_token in token response")
	}
	idToken, err := p.verifier.Verify(ctx, rawIDToken)
	if err != nil {
		return Identity{}, oidcerr.Wrap(oidcerr.KindProtocol, oidcerr.InvalidGrant, err)
	}
	if idToken.Nonce != as.Nonce {
		return Identity{}, oidcerr.New(oidcerr.KindValidation, oidcerr.InvalidGrant, "nonce mismatch")
	}

	var raw map[string]interface{}
	if err := idToken.Claims(&raw); err != nil {
		return Identity{}, oidcerr.Wrap(oidcerr.KindServer, oidcerr.ServerError, err)
	}
	v := claims.FromAny(raw)

	identity := Identity{ProviderSubject: idToken.Subject, Claims: v}
	if email, ok := v.Get("email"); ok {
		identity.Email, _ = email.AsString()
	}
	if verified, ok := v.Get("email_verified"); ok {
		identity.EmailVerified, _ = verified.AsBool()
	}
	return identity, nil
}

// NormalizeSubject applies a client's attribute_mapping to derive the
// normalized `sub`, coerced to string per spec.md §4.N.
func NormalizeSubject(v claims.Value, attributeMapping map[string]string) (string, bool) {
	path := "sub"
	if mapped, ok := attributeMapping["sub"]; ok && mapped != "" {
		path = mapped
	}
	val, ok := v.Get(path)
	if !ok {
		return "", false
	}
	return val.AsSubject(), true
}

// NormalizeAttribute extracts an arbitrary normalized claim through
// attribute_mapping, falling back to the literal name when unmapped.
func NormalizeAttribute(v claims.Value, attributeMapping map[string]string, name string) (claims.Value, bool) {
	path, ok := attributeMapping[name]
	if !ok || path == "" {
		path = name
	}
	return v.Get(path)
}

// LinkOutcome is the decision Resolve reaches for a federation callback.
type LinkOutcome int

const (
	LinkOutcomeSignIn LinkOutcome = iota
	LinkOutcomeOfferLink
	LinkOutcomeRegister
)

// Resolve decides sign-in vs. offer-link vs. register-new-user, per
// spec.md §4.N. Lookups are caller-supplied so this package need not
// import user storage or PolicyEngine.
func Resolve(ctx context.Context, identity Identity, provider string,
	findByProviderSubject func(ctx context.Context, provider, sub string) (userID string, found bool, err error),
	findByEmail func(ctx context.Context, email string) (userID string, found bool, err error),
) (LinkOutcome, string, error) {
	uid, found, err := findByProviderSubject(ctx, provider, identity.ProviderSubject)
	if err != nil {
		return 0, "", err
	}
	if found {
		return LinkOutcomeSignIn, uid, nil
	}
	if identity.Email != "" && identity.EmailVerified {
		uid, found, err := findByEmail(ctx, identity.Email)
		if err != nil {
			return 0, "", err
		}
		if found {
			return LinkOutcomeOfferLink, uid, nil
		}
	}
	return LinkOutcomeRegister, "", nil
}

const bclEventType = "http://schemas.openid.net/event/backchannel-logout"
const bclReplayBuffer = 5 * time.Minute

// LogoutEvent is the validated result of VerifyLogoutToken: the caller
// clears tokens on matching LinkedIdentity rows and terminates sessions
// whose (external_provider_id, external_provider_sub) match, per spec.md §4.N.
type LogoutEvent struct {
	Provider        string
	ProviderSubject string
}

// VerifyLogoutToken verifies an upstream backchannel-logout token
// (issuer, audience=client_id, no nonce, events claim required) and
// replay-prevents its jti via ChallengeStore with TTL iat-window+buffer,
// per spec.md §4.N.
func (e *Engine) VerifyLogoutToken(ctx context.Context, provider, rawToken string) (LogoutEvent, error) {
	p, err := e.lookup(provider)
	if err != nil {
		return LogoutEvent{}, err
	}
	idToken, err := p.verifier.Verify(ctx, rawToken)
	if err != nil {
		return LogoutEvent{}, oidcerr.Wrap(oidcerr.KindProtocol, oidcerr.InvalidRequest, err)
	}

	var raw map[string]interface{}
	if err := idToken.Claims(&raw); err != nil {
		return LogoutEvent{}, oidcerr.Wrap(oidcerr.KindServer, oidcerr.ServerError, err)
	}
	v := claims.FromAny(raw)

	if n, ok := v.Get("nonce"); ok && !n.IsNull() {
		return LogoutEvent{}, oidcerr.New(oidcerr.KindValidation, oidcerr.InvalidRequest, "logout token must not carry a nonce")
	}
	eventsVal, ok := v.Get("events")
	if !ok {
		return LogoutEvent{}, oidcerr.New(oidcerr.KindValidation, oidcerr.InvalidRequest, "logout token missing events claim")
	}
	events, ok := eventsVal.AsObject()
	if !ok {
		return LogoutEvent{}, oidcerr.New(oidcerr.KindValidation, oidcerr.InvalidRequest, "events claim malformed")
	}
	if _, ok := events[bclEventType]; !ok {
		return LogoutEvent{}, oidcerr.New(oidcerr.KindValidation, oidcerr.InvalidRequest, "missing backchannel-logout event")
	}

	jtiVal, ok := v.Get("jti")
	if !ok {
		return LogoutEvent{}, oidcerr.New(oidcerr.KindValidation, oidcerr.InvalidRequest, "logout token missing jti")
	}
	jti, _ := jtiVal.AsString()
	if jti == "" {
		return LogoutEvent{}, oidcerr.New(oidcerr.KindValidation, oidcerr.InvalidRequest, "logout token jti empty")
	}

	issuedAt := idToken.IssuedAt
	if issuedAt.IsZero() {
		issuedAt = time.Now()
	}
	now := time.Now()
	if err := e.states.Store(ctx, challenge.Challenge{
		Type: challenge.TypeBCLReplay, ID: fmt.Sprintf("%s/%s", provider, jti),
		IssuedAt: now, ExpiresAt: issuedAt.Add(bclReplayBuffer),
	}); err != nil {
		return LogoutEvent{}, oidcerr.New(oidcerr.KindConflict, oidcerr.Conflict, "logout token replayed")
	}

	return LogoutEvent{Provider: provider, ProviderSubject: idToken.Subject}, nil
}
