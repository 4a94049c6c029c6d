// Package settings implements component Q, SettingsStore: three-scope
// layered configuration (client → tenant → platform → category_defaults)
// with optimistic-concurrency writes. Grounded on cmd/dex/config.go's
// Config/Validate idiom (typed struct, checklist validation) generalized
// from a single static config file into a versioned, multi-scope runtime
// store; category-default profiles are loaded with ghodss/yaml the same
// way cmd/dex/config.go decodes its on-disk config.
package settings

import (
	"fmt"

	"github.com/ghodss/yaml"

	"github.com/authrim/authrim/internal/oidcerr"
)

// Scope is a settings layer per spec.md §4.Q.
type Scope string

const (
	ScopeClient   Scope = "client"
	ScopeTenant   Scope = "tenant"
	ScopePlatform Scope = "platform"
)

// Source reports where an effective value resolved from, per spec.md §4.Q's
// `sources: key→(kv|default|env|inherit)` read shape.
type Source string

const (
	SourceKV      Source = "kv"
	SourceDefault Source = "default"
	SourceEnv     Source = "env"
	SourceInherit Source = "inherit"
)

// Category declares a settings category's typed/validated keys and
// whether it may only be set at platform scope, per spec.md §4.Q.
type Category struct {
	Name           string
	PlatformOnly   bool
	Keys           map[string]KeySpec
}

// KeySpec validates one key's value within its Category.
type KeySpec struct {
	Validate func(v interface{}) error
	Default  interface{}
}

// Registry holds the category schema every settings read/write is
// validated against.
type Registry struct {
	categories map[string]Category
}

func NewRegistry(categories ...Category) *Registry {
	r := &Registry{categories: make(map[string]Category, len(categories))}
	for _, c := range categories {
		r.categories[c.Name] = c
	}
	return r
}

func (r *Registry) category(name string) (Category, error) {
	c, ok := r.categories[name]
	if !ok {
		return Category{}, oidcerr.New(oidcerr.KindNotFound, oidcerr.InvalidRequest, fmt.Sprintf("unknown settings category %q", name))
	}
	return c, nil
}

// layer is one scope's stored values plus its optimistic-concurrency version.
type layer struct {
	values  map[string]interface{}
	version int
}

// Store is SettingsStore: per-(scope, category) layers plus the registry
// they're validated against.
type Store struct {
	registry *Registry
	layers   map[layerKey]*layer
}

// Owner identifies the tenant and (optionally) client a read/write
// targets. ClientID is only consulted when Scope is ScopeClient; TenantID
// is consulted for both ScopeClient (to find its parent tenant layer) and
// ScopeTenant.
type Owner struct {
	TenantID string
	ClientID string
}

type layerKey struct {
	scope    Scope
	category string
	// ownerID is the ClientID for a client layer, the TenantID for a
	// tenant layer, and empty for the platform layer.
	ownerID string
}

func New(registry *Registry) *Store {
	return &Store{registry: registry, layers: make(map[layerKey]*layer)}
}

// LoadPlatformProfile seeds the platform scope's category_defaults from a
// YAML profile document, the only way platform scope may be written per
// spec.md §4.Q ("Platform scope is read-only except via explicit profile load").
func (s *Store) LoadPlatformProfile(yamlDoc []byte) error {
	var doc map[string]map[string]interface{}
	if err := yaml.Unmarshal(yamlDoc, &doc); err != nil {
		return oidcerr.Wrap(oidcerr.KindValidation, oidcerr.ValidationInvalidValue, err)
	}
	for category, values := range doc {
		cat, err := s.registry.category(category)
		if err != nil {
			return err
		}
		rejected := rejectUnknownKeys(cat, values)
		if len(rejected) > 0 {
			return oidcerr.Validation("values", fmt.Sprintf("profile sets unknown keys for category %q: %v", category, rejected))
		}
		key := layerKey{scope: ScopePlatform, category: category}
		existing := s.layers[key]
		version := 1
		if existing != nil {
			version = existing.version + 1
		}
		s.layers[key] = &layer{values: values, version: version}
	}
	return nil
}

// Effective is the resolved read response per spec.md §4.Q:
// `{category, scope, version, values, sources}`.
type Effective struct {
	Category string
	Scope    Scope
	Version  int
	Values   map[string]interface{}
	Sources  map[string]Source
}

// Read resolves effective values for a category at the requested scope,
// walking client → tenant → platform → category_defaults, per spec.md §4.Q.
func (s *Store) Read(scope Scope, category string, owner Owner) (Effective, error) {
	cat, err := s.registry.category(category)
	if err != nil {
		return Effective{}, err
	}
	if cat.PlatformOnly && scope != ScopePlatform {
		return Effective{}, oidcerr.New(oidcerr.KindValidation, oidcerr.InvalidRequest, fmt.Sprintf("category %q is platform-only", category))
	}

	values := make(map[string]interface{}, len(cat.Keys))
	sources := make(map[string]Source, len(cat.Keys))
	for k, spec := range cat.Keys {
		values[k] = spec.Default
		sources[k] = SourceDefault
	}

	version := 0
	for _, sc := range scopeChain(scope) {
		l, ok := s.layers[layerKey{scope: sc, category: category, ownerID: ownerIDFor(sc, owner)}]
		if !ok {
			continue
		}
		if sc == scope {
			version = l.version
		}
		for k, v := range l.values {
			if _, known := cat.Keys[k]; !known {
				continue
			}
			if sources[k] == SourceDefault || sc == scope {
				values[k] = v
				if sc == scope {
					sources[k] = SourceKV
				} else {
					sources[k] = SourceInherit
				}
			}
		}
	}

	return Effective{Category: category, Scope: scope, Version: version, Values: values, Sources: sources}, nil
}

// scopeChain returns the resolution order client → tenant → platform
// starting from scope, per spec.md §4.Q.
func scopeChain(scope Scope) []Scope {
	switch scope {
	case ScopeClient:
		return []Scope{ScopeClient, ScopeTenant, ScopePlatform}
	case ScopeTenant:
		return []Scope{ScopeTenant, ScopePlatform}
	default:
		return []Scope{ScopePlatform}
	}
}

func ownerIDFor(scope Scope, owner Owner) string {
	switch scope {
	case ScopeClient:
		return owner.ClientID
	case ScopeTenant:
		return owner.TenantID
	default:
		return ""
	}
}

// Patch is a `PATCH {ifMatch, set?, clear?, disable?}` write per spec.md §4.Q.
type Patch struct {
	IfMatch int
	Set     map[string]interface{}
	Clear   []string
	Disable bool
}

// PatchResult reports the new version, or a conflict with currentVersion,
// plus any keys rejected as unknown.
type PatchResult struct {
	Version  int
	Rejected []string
}

// Write applies a Patch atomically: ifMatch must equal the layer's current
// version or the write is refused with a conflict error carrying
// currentVersion; unknown keys are reported in Rejected rather than
// applied, per spec.md §4.Q.
func (s *Store) Write(scope Scope, category string, owner Owner, p Patch) (PatchResult, error) {
	if scope == ScopePlatform {
		return PatchResult{}, oidcerr.New(oidcerr.KindValidation, oidcerr.InvalidRequest, "platform scope is read-only except via profile load")
	}
	cat, err := s.registry.category(category)
	if err != nil {
		return PatchResult{}, err
	}
	if cat.PlatformOnly {
		return PatchResult{}, oidcerr.New(oidcerr.KindValidation, oidcerr.InvalidRequest, fmt.Sprintf("category %q is platform-only", category))
	}

	key := layerKey{scope: scope, category: category, ownerID: ownerIDFor(scope, owner)}
	existing, ok := s.layers[key]
	currentVersion := 0
	if ok {
		currentVersion = existing.version
	}
	if p.IfMatch != currentVersion {
		return PatchResult{Version: currentVersion}, oidcerr.New(oidcerr.KindConflict, oidcerr.Conflict, fmt.Sprintf("ifMatch %d does not match current version %d", p.IfMatch, currentVersion))
	}

	values := make(map[string]interface{})
	if ok {
		for k, v := range existing.values {
			values[k] = v
		}
	}

	var rejected []string
	for k, v := range p.Set {
		spec, known := cat.Keys[k]
		if !known {
			rejected = append(rejected, k)
			continue
		}
		if spec.Validate != nil {
			if err := spec.Validate(v); err != nil {
				return PatchResult{}, oidcerr.Validation(k, err.Error())
			}
		}
		values[k] = v
	}
	for _, k := range p.Clear {
		delete(values, k)
	}
	if p.Disable {
		values = map[string]interface{}{}
	}

	s.layers[key] = &layer{values: values, version: currentVersion + 1}
	return PatchResult{Version: currentVersion + 1, Rejected: rejected}, nil
}

func rejectUnknownKeys(cat Category, values map[string]interface{}) []string {
	var rejected []string
	for k := range values {
		if _, ok := cat.Keys[k]; !ok {
			rejected = append(rejected, k)
		}
	}
	return rejected
}
