// Package clientregistry implements component O, ClientRegistry: client
// metadata validation, dynamic registration, JWKS resolution caching, and
// certification-profile default switching. Grounded on the teacher's
// storage.Client shape and server/client_registration.go, generalized from
// a single static profile into the certification-profile table spec.md
// §4.O requires.
package clientregistry

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/url"

	"golang.org/x/crypto/bcrypt"

	"github.com/authrim/authrim/internal/keyring"
	"github.com/authrim/authrim/internal/oidcerr"
)

// Profile is a certification profile per spec.md §4.O, switching a
// client's registration defaults.
type Profile string

const (
	ProfileBasicOP        Profile = "basic-op"
	ProfileImplicitOP     Profile = "implicit-op"
	ProfileHybridOP       Profile = "hybrid-op"
	ProfileFAPI1Advanced  Profile = "fapi-1-advanced"
	ProfileFAPI2          Profile = "fapi-2"
	ProfileFAPI2DPoP      Profile = "fapi-2-dpop"
	ProfileFAPICIBA       Profile = "fapi-ciba"
	ProfileDevelopment    Profile = "development"
)

// ProfileDefaults is the set of registration defaults a Profile switches.
type ProfileDefaults struct {
	ResponseTypes           []string
	TokenEndpointAuthMethods []string
	AllowNoneAlgorithm      bool
	PKCERequired            bool
	RequirePAR              bool
	RequireDPoP             bool
	AllowPublicClients      bool
}

// profileTable is the certification-profile default switchboard, per
// spec.md §4.O.
var profileTable = map[Profile]ProfileDefaults{
	ProfileBasicOP: {
		ResponseTypes:            []string{"code"},
		TokenEndpointAuthMethods: []string{"client_secret_basic", "client_secret_post"},
		AllowPublicClients:       true,
	},
	ProfileImplicitOP: {
		ResponseTypes:            []string{"code", "id_token", "id_token token"},
		TokenEndpointAuthMethods: []string{"client_secret_basic", "client_secret_post", "none"},
		AllowPublicClients:       true,
	},
	ProfileHybridOP: {
		ResponseTypes:            []string{"code", "code id_token", "code token", "code id_token token"},
		TokenEndpointAuthMethods: []string{"client_secret_basic", "client_secret_post"},
		AllowPublicClients:       true,
	},
	ProfileFAPI1Advanced: {
		ResponseTypes:            []string{"code id_token"},
		TokenEndpointAuthMethods: []string{"private_key_jwt", "tls_client_auth"},
		PKCERequired:             true,
		RequirePAR:               true,
	},
	ProfileFAPI2: {
		ResponseTypes:            []string{"code"},
		TokenEndpointAuthMethods: []string{"private_key_jwt", "tls_client_auth"},
		PKCERequired:             true,
		RequirePAR:               true,
	},
	ProfileFAPI2DPoP: {
		ResponseTypes:            []string{"code"},
		TokenEndpointAuthMethods: []string{"private_key_jwt", "tls_client_auth"},
		PKCERequired:             true,
		RequirePAR:               true,
		RequireDPoP:              true,
	},
	ProfileFAPICIBA: {
		ResponseTypes:            []string{"code"},
		TokenEndpointAuthMethods: []string{"private_key_jwt", "tls_client_auth"},
		PKCERequired:             true,
		RequirePAR:               true,
	},
	ProfileDevelopment: {
		ResponseTypes:            []string{"code", "id_token", "id_token token", "code id_token", "code token", "code id_token token"},
		TokenEndpointAuthMethods: []string{"client_secret_basic", "client_secret_post", "none"},
		AllowNoneAlgorithm:       true,
		AllowPublicClients:       true,
	},
}

// Defaults returns the registration defaults a profile switches. An
// unknown profile falls back to basic-op, the most conservative table
// entry.
func Defaults(p Profile) ProfileDefaults {
	if d, ok := profileTable[p]; ok {
		return d
	}
	return profileTable[ProfileBasicOP]
}

// Metadata is client registration metadata per spec.md §4.O, generalizing
// the teacher's storage.Client onto the OAuth dynamic-registration shape.
type Metadata struct {
	ClientID                string
	ClientSecretHash        string // bcrypt hash; empty for public clients
	RedirectURIs            []string
	ResponseTypes           []string
	TokenEndpointAuthMethod string
	JWKSURI                 string
	JWKS                    string // inline JWKS JSON, mutually exclusive with JWKSURI
	Public                  bool
	Profile                 Profile
	PKCERequired            bool
	RequirePAR              bool
	RequireDPoP             bool
	Name                    string
	LogoURI                 string
}

// Registry is ClientRegistry.
type Registry struct {
	fetcher *keyring.JWKSFetcher
}

func New(fetcher *keyring.JWKSFetcher) *Registry {
	return &Registry{fetcher: fetcher}
}

// Validate checks client metadata against its certification profile's
// switches, per spec.md §4.O.
func Validate(m Metadata) error {
	if len(m.RedirectURIs) == 0 {
		return oidcerr.Validation("redirect_uris", "at least one redirect_uri is required")
	}
	for _, ru := range m.RedirectURIs {
		if _, err := url.Parse(ru); err != nil {
			return oidcerr.Validation("redirect_uris", fmt.Sprintf("invalid redirect_uri %q", ru))
		}
	}
	defaults := Defaults(m.Profile)
	if m.Public && !defaults.AllowPublicClients {
		return oidcerr.Validation("public", fmt.Sprintf("profile %q does not allow public clients", m.Profile))
	}
	if !m.Public && m.ClientSecretHash == "" {
		return oidcerr.Validation("client_secret", "confidential clients require a client_secret")
	}
	for _, rt := range m.ResponseTypes {
		if !contains(defaults.ResponseTypes, rt) {
			return oidcerr.Validation("response_types", fmt.Sprintf("response_type %q not permitted by profile %q", rt, m.Profile))
		}
	}
	if m.TokenEndpointAuthMethod != "" && !contains(defaults.TokenEndpointAuthMethods, m.TokenEndpointAuthMethod) {
		return oidcerr.Validation("token_endpoint_auth_method", fmt.Sprintf("auth method %q not permitted by profile %q", m.TokenEndpointAuthMethod, m.Profile))
	}
	if m.JWKSURI != "" && m.JWKS != "" {
		return oidcerr.Validation("jwks", "jwks and jwks_uri are mutually exclusive")
	}
	return nil
}

// RegisteredClient is the response to dynamic registration per spec.md §4.O.
type RegisteredClient struct {
	Metadata                Metadata
	ClientSecret            string // plaintext, returned once
	RegistrationAccessToken string
}

// Register performs dynamic client registration: generates client_id,
// optionally client_secret (hashed before storage), and a
// registration_access_token, per spec.md §4.O.
func Register(m Metadata) (RegisteredClient, error) {
	defaults := Defaults(m.Profile)
	if len(m.ResponseTypes) == 0 {
		m.ResponseTypes = defaults.ResponseTypes
	}
	if m.TokenEndpointAuthMethod == "" {
		if m.Public {
			m.TokenEndpointAuthMethod = "none"
		} else {
			m.TokenEndpointAuthMethod = "client_secret_basic"
		}
	}
	m.PKCERequired = m.PKCERequired || defaults.PKCERequired
	m.RequirePAR = m.RequirePAR || defaults.RequirePAR
	m.RequireDPoP = m.RequireDPoP || defaults.RequireDPoP

	clientID, err := randomID("c_")
	if err != nil {
		return RegisteredClient{}, err
	}
	m.ClientID = clientID

	var plainSecret string
	if !m.Public {
		plainSecret, err = randomID("")
		if err != nil {
			return RegisteredClient{}, err
		}
		hash, err := bcrypt.GenerateFromPassword([]byte(plainSecret), bcrypt.DefaultCost)
		if err != nil {
			return RegisteredClient{}, oidcerr.Wrap(oidcerr.KindServer, oidcerr.ServerError, err)
		}
		m.ClientSecretHash = string(hash)
	}

	if err := Validate(m); err != nil {
		return RegisteredClient{}, err
	}

	rat, err := randomID("rat_")
	if err != nil {
		return RegisteredClient{}, err
	}
	return RegisteredClient{Metadata: m, ClientSecret: plainSecret, RegistrationAccessToken: rat}, nil
}

// VerifySecret checks a presented client_secret against the stored
// bcrypt hash.
func VerifySecret(m Metadata, presented string) bool {
	if m.ClientSecretHash == "" {
		return false
	}
	return bcrypt.CompareHashAndPassword([]byte(m.ClientSecretHash), []byte(presented)) == nil
}

// ResolveJWKS resolves a client's JWKS document, preferring the cached
// jwks_uri fetch path (component A's JWKSFetcher) over an inline jwks,
// per spec.md §4.O ("JWKS resolution caches by jwks_uri with revalidation").
func (r *Registry) ResolveJWKS(ctx context.Context, m Metadata) (string, error) {
	if m.JWKSURI != "" {
		set, err := r.fetcher.Fetch(ctx, m.JWKSURI)
		if err != nil {
			return "", oidcerr.Wrap(oidcerr.KindUnavailable, oidcerr.TemporarilyUnavailable, err)
		}
		doc, err := json.Marshal(set)
		if err != nil {
			return "", oidcerr.Wrap(oidcerr.KindServer, oidcerr.ServerError, err)
		}
		return string(doc), nil
	}
	return m.JWKS, nil
}

func contains(list []string, v string) bool {
	for _, e := range list {
		if e == v {
			return true
		}
	}
	return false
}

func randomID(prefix string) (string, error) {
	buf := make([]byte, 24)
	if _, err := rand.Read(buf); err != nil {
		return "", oidcerr.Wrap(oidcerr.KindServer, oidcerr.ServerError, err)
	}
	return prefix + base64.RawURLEncoding.EncodeToString(buf), nil
}
