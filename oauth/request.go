package oauth

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
)

// maxResponseBody bounds how much of a response body is read.
const maxResponseBody = 10 << 20

// Verb is an HTTP method.
type Verb string

const (
	GET    Verb = http.MethodGet
	POST   Verb = http.MethodPost
	PUT    Verb = http.MethodPut
	DELETE Verb = http.MethodDelete
	PATCH  Verb = http.MethodPatch
)

// HTTPClient interface for mocking in tests
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// Request is a provider-bound outgoing request. Providers sign it; Send
// dispatches it through the provider's client.
type Request struct {
	verb    Verb
	url     *url.URL
	query   url.Values
	header  http.Header
	body    url.Values
	payload string
	client  HTTPClient
}

// NewRequest builds a request sent through client. uri must be absolute.
func NewRequest(client HTTPClient, verb Verb, uri string) (*Request, error) {
	if verb == "" {
		return nil, fmt.Errorf("oauth: empty verb for %q", uri)
	}
	u, err := url.Parse(uri)
	if err != nil {
		return nil, fmt.Errorf("oauth: invalid request uri %q: %w", uri, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" || u.Host == "" {
		return nil, fmt.Errorf("oauth: request uri %q is not an absolute http(s) url", uri)
	}
	if client == nil {
		client = http.DefaultClient
	}

	query := u.Query()
	u.RawQuery = ""
	u.Fragment = ""

	return &Request{
		verb:   verb,
		url:    u,
		query:  query,
		header: make(http.Header),
		body:   make(url.Values),
		client: client,
	}, nil
}

func (r *Request) Verb() Verb { return r.verb }

// URL returns the full URL including query parameters.
func (r *Request) URL() string {
	u := *r.url
	u.RawQuery = r.query.Encode()
	return u.String()
}

// BaseURL returns the URL without query parameters.
func (r *Request) BaseURL() *url.URL {
	u := *r.url
	return &u
}

func (r *Request) AddHeader(name, value string) {
	r.header.Add(name, value)
}

func (r *Request) SetHeader(name, value string) {
	r.header.Set(name, value)
}

// Header returns the live header map.
func (r *Request) Header() http.Header {
	return r.header
}

func (r *Request) AddQueryParameter(name, value string) {
	r.query.Add(name, value)
}

func (r *Request) QueryParameters() url.Values {
	return r.query
}

// AddBodyParameter adds a form parameter. Form parameters are ignored once
// a payload is set.
func (r *Request) AddBodyParameter(name, value string) {
	r.body.Add(name, value)
}

// AddBodyParameters adds every entry of params, formatted with fmt.Sprint.
func (r *Request) AddBodyParameters(params map[string]any) {
	for k, v := range params {
		r.body.Add(k, fmt.Sprint(v))
	}
}

func (r *Request) BodyParameters() url.Values {
	return r.body
}

// SetPayload sets a raw body (JSON, XML, text).
func (r *Request) SetPayload(payload string) {
	r.payload = payload
}

func (r *Request) Payload() string {
	return r.payload
}

// formEncoded reports whether the body is sent as
// application/x-www-form-urlencoded, and therefore part of an OAuth 1.0
// signature.
func (r *Request) formEncoded() bool {
	return r.payload == "" && len(r.body) > 0
}

// HTTPRequest builds the net/http request.
func (r *Request) HTTPRequest(ctx context.Context) (*http.Request, error) {
	var body io.Reader
	contentType := ""
	switch {
	case r.payload != "":
		body = strings.NewReader(r.payload)
		contentType = "text/plain; charset=utf-8"
	case len(r.body) > 0:
		body = strings.NewReader(r.body.Encode())
		contentType = "application/x-www-form-urlencoded"
	}

	req, err := http.NewRequestWithContext(ctx, string(r.verb), r.URL(), body)
	if err != nil {
		return nil, err
	}
	req.Header = r.header.Clone()
	if contentType != "" && req.Header.Get("Content-Type") == "" {
		req.Header.Set("Content-Type", contentType)
	}
	return req, nil
}

// Send dispatches the request and reads the whole response.
func (r *Request) Send(ctx context.Context) (*Response, error) {
	req, err := r.HTTPRequest(ctx)
	if err != nil {
		return nil, err
	}

	resp, err := r.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody))
	if err != nil {
		return nil, fmt.Errorf("read response body: %w", err)
	}

	return &Response{StatusCode: resp.StatusCode, header: resp.Header, body: body}, nil
}

// Response is a fully read HTTP response.
type Response struct {
	StatusCode int
	header     http.Header
	body       []byte
}

// NewResponse builds a Response, mostly for tests and custom transports.
func NewResponse(status int, header http.Header, body []byte) *Response {
	if header == nil {
		header = make(http.Header)
	}
	return &Response{StatusCode: status, header: header, body: body}
}

func (r *Response) Header(name string) string {
	return r.header.Get(name)
}

func (r *Response) Headers() http.Header {
	return r.header
}

func (r *Response) Body() []byte {
	return r.body
}

func (r *Response) IsSuccess() bool {
	return r.StatusCode >= 200 && r.StatusCode < 300
}
