package oauth

import (
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"
)

// Registry maps provider names to API descriptors. Names resolve through
// an explicit binding first, then through the naming convention
// Prefix + name + Suffix. It is populated at startup and frozen before use.
type Registry struct {
	mu       sync.RWMutex
	apis     map[string]API
	bindings map[string]string
	prefix   string
	suffix   string
	frozen   bool
}

// NewRegistry returns an empty registry with the "<name>Api" convention.
func NewRegistry() *Registry {
	return &Registry{
		apis:     make(map[string]API),
		bindings: make(map[string]string),
		suffix:   "Api",
	}
}

// DefaultRegistry returns a new registry holding the built-in APIs. Lower
// case provider names are bound as well so "github" and "GitHub" both
// resolve.
func DefaultRegistry() *Registry {
	r := NewRegistry()
	for _, api := range []API{TwitterAPI, TumblrAPI, GitHubAPI, GoogleAPI, FacebookAPI, LinkedInAPI} {
		r.apis[api.ID] = api
		name := strings.TrimSuffix(api.ID, r.suffix)
		r.bindings[strings.ToLower(name)] = api.ID
	}
	return r
}

var errFrozen = errors.New("registry is frozen")

func (r *Registry) mutate(op string, fn func() error) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.frozen {
		return newError(ErrConfiguration, "", op, errFrozen)
	}
	return fn()
}

// Define adds or replaces an API descriptor.
func (r *Registry) Define(api API) error {
	if err := api.Validate(); err != nil {
		return err
	}
	return r.mutate("define api", func() error {
		r.apis[api.ID] = api
		return nil
	})
}

// Register binds a provider name to an API id.
func (r *Registry) Register(providerName, apiID string) error {
	if providerName == "" || apiID == "" {
		return &Error{Kind: ErrConfiguration, Provider: providerName, Op: "register",
			Description: "provider name and api id are required"}
	}
	return r.mutate("register", func() error {
		r.bindings[providerName] = apiID
		return nil
	})
}

// SetConvention changes the prefix and suffix of the naming convention.
func (r *Registry) SetConvention(prefix, suffix string) error {
	return r.mutate("set convention", func() error {
		r.prefix, r.suffix = prefix, suffix
		return nil
	})
}

// Freeze makes the registry read-only.
func (r *Registry) Freeze() {
	r.mu.Lock()
	r.frozen = true
	r.mu.Unlock()
}

// Resolve returns the API for providerName.
func (r *Registry) Resolve(providerName string) (API, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if id, ok := r.bindings[providerName]; ok {
		api, found := r.apis[id]
		if !found {
			return API{}, &Error{Kind: ErrConfiguration, Provider: providerName, Op: "resolve api",
				Description: fmt.Sprintf("bound to unknown api %q", id)}
		}
		return api, nil
	}

	if api, ok := r.apis[r.prefix+providerName+r.suffix]; ok {
		return api, nil
	}

	return API{}, &Error{Kind: ErrConfiguration, Provider: providerName, Op: "resolve api",
		Description: fmt.Sprintf("no binding and no api named %q", r.prefix+providerName+r.suffix)}
}

// NewProvider resolves providerName and builds an uninitialized provider.
func (r *Registry) NewProvider(providerName string, opts ...ProviderOption) (Provider, error) {
	api, err := r.Resolve(providerName)
	if err != nil {
		return nil, err
	}
	return NewProvider(api, opts...)
}

// IDs returns the defined API ids, sorted.
func (r *Registry) IDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ids := make([]string, 0, len(r.apis))
	for id := range r.apis {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Catalog is the YAML document read by LoadCatalog:
//
//	apis:
//	  - id: AcmeApi
//	    version: "2.0"
//	    authorize_url: https://acme.example/oauth/authorize
//	    token_url: https://acme.example/oauth/token
//	bindings:
//	  acme: AcmeApi
type Catalog struct {
	APIs     []API             `yaml:"apis"`
	Bindings map[string]string `yaml:"bindings"`
}

// LoadCatalog adds the APIs and bindings of a YAML catalog.
func (r *Registry) LoadCatalog(rd io.Reader) error {
	dec := yaml.NewDecoder(rd)
	dec.KnownFields(true)

	var c Catalog
	if err := dec.Decode(&c); err != nil && !errors.Is(err, io.EOF) {
		return newError(ErrConfiguration, "", "load catalog", err)
	}

	for _, api := range c.APIs {
		if err := r.Define(api); err != nil {
			return err
		}
	}
	for name, id := range c.Bindings {
		if err := r.Register(name, id); err != nil {
			return err
		}
	}
	return nil
}
