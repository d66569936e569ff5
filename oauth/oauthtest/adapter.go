package oauthtest

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gobeaver/beaver-social/oauth"
)

// Adapter is an in-memory oauth.Provider that counts its calls. It never
// touches the network except through NewRequest, whose requests go to
// Client.
type Adapter struct {
	// ProviderVersion is oauth.Version10 unless set.
	ProviderVersion string
	// ExchangeDelay is slept inside AccessToken to widen race windows.
	ExchangeDelay time.Duration
	// AccessTokenErr fails AccessToken when set.
	AccessTokenErr error
	// ZeroAccessToken makes AccessToken return an absent token without error.
	ZeroAccessToken bool
	// Client receives the requests built by NewRequest.
	Client oauth.HTTPClient

	mu       sync.Mutex
	settings oauth.Settings
	ready    bool

	initCalls         atomic.Int64
	requestTokenCalls atomic.Int64
	accessTokenCalls  atomic.Int64
	signCalls         atomic.Int64
}

var _ oauth.Provider = (*Adapter)(nil)

func (a *Adapter) Initialize(settings oauth.Settings) error {
	a.initCalls.Add(1)
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.ready {
		return &oauth.Error{Kind: oauth.ErrConfiguration, Provider: settings.ProviderName, Op: "initialize",
			Description: "provider already initialized"}
	}
	a.settings, a.ready = settings, true
	return nil
}

func (a *Adapter) check(op string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if !a.ready {
		return &oauth.Error{Kind: oauth.ErrUninitialized, Provider: "fake", Op: op}
	}
	return nil
}

func (a *Adapter) Version() string {
	if a.ProviderVersion == "" {
		return oauth.Version10
	}
	return a.ProviderVersion
}

func (a *Adapter) RequestToken(context.Context) (oauth.Token, error) {
	if err := a.check("request token"); err != nil {
		return oauth.Token{}, err
	}
	if a.Version() == oauth.Version20 {
		return oauth.Token{}, nil
	}
	n := a.requestTokenCalls.Add(1)
	return oauth.NewToken(fmt.Sprintf("request-%d", n), "request-secret"), nil
}

func (a *Adapter) AccessToken(ctx context.Context, requestToken oauth.Token, verifier string) (oauth.Token, error) {
	if err := a.check("access token"); err != nil {
		return oauth.Token{}, err
	}
	n := a.accessTokenCalls.Add(1)

	if a.ExchangeDelay > 0 {
		select {
		case <-time.After(a.ExchangeDelay):
		case <-ctx.Done():
			return oauth.Token{}, ctx.Err()
		}
	}
	switch {
	case a.AccessTokenErr != nil:
		return oauth.Token{}, a.AccessTokenErr
	case a.ZeroAccessToken:
		return oauth.Token{}, nil
	case a.Version() == oauth.Version10 && requestToken.IsZero():
		return oauth.Token{}, errors.New("oauthtest: no request token")
	}
	return oauth.NewToken(fmt.Sprintf("access-%d-%s", n, verifier), "access-secret"), nil
}

func (a *Adapter) AuthorizationURL(requestToken oauth.Token, state string) (string, error) {
	if err := a.check("authorization url"); err != nil {
		return "", err
	}
	if a.Version() == oauth.Version20 {
		return "https://provider.test/authorize?state=" + state, nil
	}
	return "https://provider.test/authorize?oauth_token=" + requestToken.Value(), nil
}

// Sign sets "Authorization: Fake <token>".
func (a *Adapter) Sign(accessToken oauth.Token, req *oauth.Request) error {
	if err := a.check("sign"); err != nil {
		return err
	}
	a.signCalls.Add(1)
	req.SetHeader("Authorization", "Fake "+accessToken.Value())
	return nil
}

func (a *Adapter) VerifierParamName() string {
	if a.Version() == oauth.Version20 {
		return "code"
	}
	return "oauth_verifier"
}

// NewRequest resolves relative URIs against https://api.provider.test.
func (a *Adapter) NewRequest(verb oauth.Verb, uri string) (*oauth.Request, error) {
	if err := a.check("new request"); err != nil {
		return nil, err
	}
	if !strings.Contains(uri, "://") {
		uri = "https://api.provider.test/" + strings.TrimLeft(uri, "/")
	}
	client := a.Client
	if client == nil {
		client = &RecordingClient{}
	}
	return oauth.NewRequest(client, verb, uri)
}

func (a *Adapter) NewToken(token, secret string) oauth.Token {
	return oauth.NewToken(token, secret)
}

func (a *Adapter) Name() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.settings.ProviderName == "" {
		return "fake"
	}
	return a.settings.ProviderName
}

func (a *Adapter) InitCalls() int64         { return a.initCalls.Load() }
func (a *Adapter) RequestTokenCalls() int64 { return a.requestTokenCalls.Load() }
func (a *Adapter) AccessTokenCalls() int64  { return a.accessTokenCalls.Load() }
func (a *Adapter) SignCalls() int64         { return a.signCalls.Load() }

// RecordingClient is an oauth.HTTPClient that records requests and answers
// with Respond, or 200 and an empty JSON object.
type RecordingClient struct {
	Respond func(*http.Request) (*http.Response, error)

	mu       sync.Mutex
	requests []*http.Request
}

func (c *RecordingClient) Do(req *http.Request) (*http.Response, error) {
	c.mu.Lock()
	c.requests = append(c.requests, req)
	c.mu.Unlock()

	if c.Respond != nil {
		return c.Respond(req)
	}
	return NewResponse(http.StatusOK, "{}"), nil
}

// Calls returns the number of requests sent.
func (c *RecordingClient) Calls() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.requests)
}

// Requests returns the recorded requests.
func (c *RecordingClient) Requests() []*http.Request {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]*http.Request(nil), c.requests...)
}

// NewResponse builds an *http.Response with a JSON body.
func NewResponse(status int, body string) *http.Response {
	return &http.Response{
		StatusCode: status,
		Status:     fmt.Sprintf("%d %s", status, http.StatusText(status)),
		Header:     http.Header{"Content-Type": {"application/json"}},
		Body:       io.NopCloser(strings.NewReader(body)),
	}
}
