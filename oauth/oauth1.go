package oauth

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"net/url"

	"github.com/dghubble/oauth1"
)

// oauth1Provider implements OAuth 1.0a on top of github.com/dghubble/oauth1.
// The library builds and signs every request; this type maps its results
// onto Token and Request.
type oauth1Provider struct {
	base
	conf *oauth1.Config
}

func (p *oauth1Provider) Initialize(settings Settings) error {
	return p.initialize(settings, func() error {
		callback := settings.Callback
		if callback == "" {
			callback = "oob"
		}
		p.conf = &oauth1.Config{
			ConsumerKey:    settings.APIKey,
			ConsumerSecret: settings.APISecret,
			CallbackURL:    callback,
			Endpoint: oauth1.Endpoint{
				RequestTokenURL: p.api.RequestTokenURL,
				AuthorizeURL:    p.api.AuthorizeURL,
				AccessTokenURL:  p.api.AccessTokenURL,
			},
			Signer: newSigner(p.api.SignatureMethod, settings.APISecret),
			Noncer: nonceSource(p.opts.nonce),
		}
		return nil
	})
}

func newSigner(method, consumerSecret string) oauth1.Signer {
	if method == PLAINTEXT {
		return plaintextSigner{consumerSecret: consumerSecret}
	}
	return &oauth1.HMACSigner{ConsumerSecret: consumerSecret}
}

// plaintextSigner is the PLAINTEXT method of RFC 5849 section 3.4.4, which
// the library leaves to callers.
type plaintextSigner struct {
	consumerSecret string
}

func (plaintextSigner) Name() string { return PLAINTEXT }

func (s plaintextSigner) Sign(tokenSecret, _ string) (string, error) {
	return oauth1.PercentEncode(s.consumerSecret) + "&" + oauth1.PercentEncode(tokenSecret), nil
}

// nonceSource adapts WithNonceSource. Failures fall back to the library's
// random nonce.
type nonceSource func() (string, error)

func (f nonceSource) Nonce() string {
	if f != nil {
		if n, err := f(); err == nil && n != "" {
			return n
		}
	}
	return oauth1.Base64Noncer{}.Nonce()
}

func (p *oauth1Provider) Version() string { return Version10 }

func (p *oauth1Provider) VerifierParamName() string { return "oauth_verifier" }

func (p *oauth1Provider) RequestToken(ctx context.Context) (Token, error) {
	const op = "request token"
	if err := p.ready(op); err != nil {
		return Token{}, err
	}
	return p.fetchToken(ctx, op, func(c *oauth1.Config) (string, string, error) {
		return c.RequestToken()
	})
}

func (p *oauth1Provider) AccessToken(ctx context.Context, requestToken Token, verifier string) (Token, error) {
	const op = "access token"
	if err := p.ready(op); err != nil {
		return Token{}, err
	}
	if requestToken.IsZero() {
		return Token{}, &Error{Kind: ErrTokenExchange, Provider: p.Name(), Op: op, Description: "missing request token"}
	}
	if verifier == "" {
		return Token{}, &Error{Kind: ErrTokenExchange, Provider: p.Name(), Op: op, Description: "missing verifier"}
	}

	return p.fetchToken(ctx, op, func(c *oauth1.Config) (string, string, error) {
		return c.AccessToken(requestToken.Value(), requestToken.Secret(), verifier)
	})
}

// fetchToken runs a library token call through the provider's client. The
// library returns only token and secret, so the response is recorded to
// keep the extra fields and the status of failed calls.
func (p *oauth1Provider) fetchToken(ctx context.Context, op string, call func(*oauth1.Config) (string, string, error)) (Token, error) {
	rec := &tokenRecorder{ctx: ctx, client: p.client}
	conf := *p.conf
	conf.HTTPClient = &http.Client{Transport: rec}

	value, secret, err := call(&conf)
	if err != nil {
		if rec.status != 0 && rec.status != http.StatusOK && rec.status != http.StatusCreated {
			return Token{}, p.tokenEndpointError(op, NewResponse(rec.status, nil, rec.body))
		}
		return Token{}, newError(ErrTokenExchange, p.Name(), op, err)
	}

	raw := make(map[string]string)
	if values, err := url.ParseQuery(string(bytes.TrimSpace(rec.body))); err == nil {
		for k := range values {
			if k != "oauth_token" && k != "oauth_token_secret" {
				raw[k] = values.Get(k)
			}
		}
	}
	return Token{value: value, secret: secret, raw: raw}, nil
}

// tokenRecorder sends the library's token requests with ctx through the
// provider's client and keeps the last response.
type tokenRecorder struct {
	ctx    context.Context
	client HTTPClient

	status int
	body   []byte
}

func (t *tokenRecorder) RoundTrip(r *http.Request) (*http.Response, error) {
	resp, err := t.client.Do(r.WithContext(t.ctx))
	if err != nil {
		return nil, err
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody))
	resp.Body.Close()
	if err != nil {
		return nil, err
	}

	t.status, t.body = resp.StatusCode, body
	resp.Body = io.NopCloser(bytes.NewReader(body))
	return resp, nil
}

func (p *oauth1Provider) AuthorizationURL(requestToken Token, _ string) (string, error) {
	const op = "authorization url"
	if err := p.ready(op); err != nil {
		return "", err
	}
	if requestToken.IsZero() {
		return "", &Error{Kind: ErrTokenExchange, Provider: p.Name(), Op: op, Description: "missing request token"}
	}

	u, err := p.conf.AuthorizationURL(requestToken.Value())
	if err != nil {
		return "", newError(ErrConfiguration, p.Name(), op, err)
	}
	return u.String(), nil
}

// Sign sets the Authorization header computed by the library's transport.
// The signed request stops at a local round tripper, so nothing is sent.
// Query parameters and form body parameters are covered by the signature;
// raw payloads are not.
func (p *oauth1Provider) Sign(accessToken Token, req *Request) error {
	const op = "sign"
	if err := p.ready(op); err != nil {
		return err
	}
	if accessToken.IsZero() {
		return newError(ErrNotConnected, p.Name(), op, nil)
	}

	httpReq, err := req.HTTPRequest(context.Background())
	if err != nil {
		return newError(ErrSignedRequest, p.Name(), op, err)
	}

	var header string
	capture := roundTripFunc(func(r *http.Request) (*http.Response, error) {
		header = r.Header.Get("Authorization")
		return &http.Response{StatusCode: http.StatusNoContent, Body: http.NoBody, Request: r}, nil
	})
	ctx := context.WithValue(context.Background(), oauth1.HTTPClient, &http.Client{Transport: capture})

	resp, err := p.conf.Client(ctx, oauth1.NewToken(accessToken.Value(), accessToken.Secret())).Do(httpReq)
	if err != nil {
		return newError(ErrSignedRequest, p.Name(), op, err)
	}
	resp.Body.Close()

	req.SetHeader("Authorization", header)
	return nil
}
