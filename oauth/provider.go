package oauth

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/gobeaver/beaver-social/krypto"
)

// Protocol versions reported by Provider.Version.
const (
	Version10 = "1.0"
	Version20 = "2.0"
)

// Provider talks to one OAuth provider. Initialize must be called exactly
// once before any other method; until then every method that needs the
// client returns an error matching ErrUninitialized.
type Provider interface {
	// Initialize binds settings and builds the client.
	Initialize(settings Settings) error

	// Version returns Version10 or Version20.
	Version() string

	// RequestToken fetches a 1.0 request token. 2.0 providers return the
	// zero Token without I/O.
	RequestToken(ctx context.Context) (Token, error)

	// AccessToken exchanges the request token (zero for 2.0) and verifier.
	AccessToken(ctx context.Context, requestToken Token, verifier string) (Token, error)

	// AuthorizationURL is where the user grants access. state is ignored
	// by 1.0 providers.
	AuthorizationURL(requestToken Token, state string) (string, error)

	// Sign adds authentication material to req. It performs no I/O.
	Sign(accessToken Token, req *Request) error

	// VerifierParamName is the callback query parameter carrying the
	// verifier: "oauth_verifier" or "code".
	VerifierParamName() string

	// NewRequest builds a request bound to the provider's client. Relative
	// URIs are resolved against the API base URL.
	NewRequest(verb Verb, uri string) (*Request, error)

	// NewToken builds a token from persisted strings.
	NewToken(token, secret string) Token

	// Name returns the configured provider name, or the API id before
	// Initialize.
	Name() string
}

// PKCEProvider is implemented by 2.0 providers that support PKCE.
type PKCEProvider interface {
	UsesPKCE() bool
	AuthorizationURLPKCE(state, codeVerifier string) (string, error)
	AccessTokenPKCE(ctx context.Context, code, codeVerifier string) (Token, error)
}

// RefreshProvider is implemented by 2.0 providers that renew expired access
// tokens with their refresh token.
type RefreshProvider interface {
	Refresh(ctx context.Context, accessToken Token) (Token, error)
}

// ProviderOption customizes a provider built by NewProvider.
type ProviderOption func(*providerOptions)

type providerOptions struct {
	client HTTPClient
	nonce  func() (string, error)
}

// WithHTTPClient replaces the client built from Settings.HTTPTimeout.
func WithHTTPClient(client HTTPClient) ProviderOption {
	return func(o *providerOptions) { o.client = client }
}

// WithNonceSource replaces the random OAuth 1.0 nonce source.
func WithNonceSource(nonce func() (string, error)) ProviderOption {
	return func(o *providerOptions) { o.nonce = nonce }
}

// NewProvider returns the variant matching api.Version.
func NewProvider(api API, opts ...ProviderOption) (Provider, error) {
	if err := api.Validate(); err != nil {
		return nil, err
	}

	o := providerOptions{
		nonce: func() (string, error) { return krypto.GenerateSecureToken(16) },
	}
	for _, opt := range opts {
		opt(&o)
	}

	switch api.Version {
	case Version10:
		return &oauth1Provider{base: base{api: api, opts: o}}, nil
	case Version20:
		return &oauth2Provider{base: base{api: api, opts: o}}, nil
	default:
		return nil, &Error{Kind: ErrConfiguration, Provider: api.ID, Op: "new provider",
			Description: fmt.Sprintf("unsupported version %q", api.Version)}
	}
}

// base holds what both variants share: the API descriptor and the
// one-time initialization guard.
type base struct {
	api  API
	opts providerOptions

	initMu      sync.Mutex
	initialized atomic.Bool
	settings    Settings
	client      HTTPClient
}

func (b *base) initialize(settings Settings, build func() error) error {
	b.initMu.Lock()
	defer b.initMu.Unlock()

	if b.initialized.Load() {
		return &Error{Kind: ErrConfiguration, Provider: settings.ProviderName, Op: "initialize",
			Description: "provider already initialized"}
	}
	if err := settings.Validate(); err != nil {
		return err
	}

	b.settings = settings
	b.client = b.opts.client
	if b.client == nil {
		b.client = &http.Client{Timeout: settings.HTTPTimeout}
	}
	if err := build(); err != nil {
		return err
	}

	b.initialized.Store(true)
	return nil
}

func (b *base) ready(op string) error {
	if !b.initialized.Load() {
		return newError(ErrUninitialized, b.api.ID, op, nil)
	}
	return nil
}

func (b *base) Name() string {
	if b.initialized.Load() {
		return b.settings.ProviderName
	}
	return b.api.ID
}

func (b *base) NewToken(token, secret string) Token {
	return NewToken(token, secret)
}

func (b *base) NewRequest(verb Verb, uri string) (*Request, error) {
	if err := b.ready("new request"); err != nil {
		return nil, err
	}
	return NewRequest(b.client, verb, b.api.resolve(uri))
}

func (b *base) scopes() []string {
	if s := b.settings.Scopes(); len(s) > 0 {
		return s
	}
	return b.api.DefaultScope
}

// tokenEndpointError turns a failed token endpoint response into an Error.
func (b *base) tokenEndpointError(op string, resp *Response) error {
	return &Error{
		Kind:        ErrTokenExchange,
		Provider:    b.Name(),
		Op:          op,
		Code:        fmt.Sprint(resp.StatusCode),
		Description: strings.TrimSpace(string(resp.Body())),
	}
}
