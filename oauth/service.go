package oauth

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gobeaver/beaver-social/krypto"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/oauth2"
)

// Limiter throttles signed requests. *rate.Limiter satisfies it.
type Limiter interface {
	Wait(ctx context.Context) error
}

// Service drives one provider's token flow for every identity and signs
// API calls with the resulting access tokens.
//
// Per (identity, provider) a session moves NoToken -> HasRequestToken ->
// Connected. Token acquisition on a session is serialized; everything else
// only reads.
type Service struct {
	provider  Provider
	resolver  SessionResolver
	settings  Settings
	publisher Publisher
	mapper    Mapper
	logger    *zap.Logger
	metrics   Metrics
	vault     Vault
	limiter   Limiter
	breaker   CircuitBreaker
	now       func() time.Time
	newState  func() (string, error)

	headerMu sync.RWMutex
	headers  http.Header
}

// Option configures a Service.
type Option func(*Service)

// WithPublisher receives completion events.
func WithPublisher(p Publisher) Option {
	return func(s *Service) { s.publisher = p }
}

// WithMapper replaces the JSON mapper of the typed helpers.
func WithMapper(m Mapper) Option {
	return func(s *Service) { s.mapper = m }
}

// WithLogger sets the logger. Tokens are never logged.
func WithLogger(l *zap.Logger) Option {
	return func(s *Service) { s.logger = l }
}

// WithMetrics receives exchange and request timings.
func WithMetrics(m Metrics) Option {
	return func(s *Service) { s.metrics = m }
}

// WithVault persists access tokens and restores them into empty sessions.
func WithVault(v Vault) Option {
	return func(s *Service) { s.vault = v }
}

// WithRateLimit throttles signed requests, e.g. with rate.NewLimiter.
func WithRateLimit(l Limiter) Option {
	return func(s *Service) { s.limiter = l }
}

// WithBreaker guards signed requests with a circuit breaker. Transport
// errors and 5xx responses count as failures.
func WithBreaker(cb CircuitBreaker) Option {
	return func(s *Service) { s.breaker = cb }
}

// WithRequestHeader adds a default header to every signed request.
func WithRequestHeader(name, value string) Option {
	return func(s *Service) { s.headers.Add(name, value) }
}

// New initializes provider with settings and returns the service.
func New(provider Provider, resolver SessionResolver, settings Settings, opts ...Option) (*Service, error) {
	if provider == nil || resolver == nil {
		return nil, &Error{Kind: ErrConfiguration, Provider: settings.ProviderName, Op: "new service",
			Description: "provider and resolver are required"}
	}
	if err := settings.Validate(); err != nil {
		return nil, err
	}

	s := &Service{
		provider:  provider,
		resolver:  resolver,
		settings:  settings,
		publisher: nopPublisher{},
		mapper:    JSONMapper{},
		logger:    zap.NewNop(),
		metrics:   nopMetrics{},
		now:       time.Now,
		newState:  func() (string, error) { return krypto.GenerateSecureToken(16) },
		headers:   make(http.Header),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.With(zap.String("provider", settings.ProviderName))

	if err := provider.Initialize(settings); err != nil {
		return nil, asKind(ErrConfiguration, settings.ProviderName, "initialize provider", err)
	}
	return s, nil
}

func (s *Service) ProviderName() string      { return s.settings.ProviderName }
func (s *Service) Version() string           { return s.provider.Version() }
func (s *Service) VerifierParamName() string { return s.provider.VerifierParamName() }

// Provider returns the underlying provider.
func (s *Service) Provider() Provider { return s.provider }

// Breaker returns the circuit breaker set by WithBreaker, or nil.
func (s *Service) Breaker() CircuitBreaker { return s.breaker }

// Session resolves the session of the identity carried by ctx and checks
// that it belongs to this service.
func (s *Service) Session(ctx context.Context) (*Session, error) {
	identity := IdentityFrom(ctx)
	sess, err := s.resolver.Resolve(ctx, identity, s.settings.ProviderName)
	if err != nil {
		return nil, err
	}
	if sess == nil || sess.ProviderName() != s.settings.ProviderName || sess.Identity() != identity {
		got := "<nil>"
		if sess != nil {
			got = sess.Identity() + "/" + sess.ProviderName()
		}
		s.logger.Error("resolver returned a foreign session", zap.String("identity", identity), zap.String("got", got))
		return nil, &Error{Kind: ErrSessionIdentity, Provider: s.settings.ProviderName, Op: "resolve session",
			Description: fmt.Sprintf("expected %s/%s, got %s", identity, s.settings.ProviderName, got)}
	}
	return sess, nil
}

// AuthorizationURL returns the URL the user visits to grant access. For 1.0
// providers the request token is fetched first if the session has none.
// Every call issues a new state value.
func (s *Service) AuthorizationURL(ctx context.Context) (string, error) {
	sess, err := s.Session(ctx)
	if err != nil {
		return "", err
	}

	sess.exchange.Lock()
	defer sess.exchange.Unlock()
	if err := s.refresh(ctx, sess); err != nil {
		return "", err
	}

	rt := sess.RequestToken()
	if rt.IsZero() {
		start := s.now()
		rt, err = s.provider.RequestToken(ctx)
		s.metrics.ObserveExchange(s.ProviderName(), PhaseRequestToken, err, s.now().Sub(start))
		if err != nil {
			s.logger.Warn("request token failed", zap.String("identity", sess.Identity()), zap.Error(err))
			return "", asKind(ErrTokenExchange, s.ProviderName(), "request token", err)
		}
		if rt.IsZero() && s.provider.Version() == Version10 {
			return "", &Error{Kind: ErrTokenExchange, Provider: s.ProviderName(), Op: "request token",
				Description: "provider returned no request token"}
		}
		sess.setRequestToken(rt)
	}

	state, err := s.newState()
	if err != nil {
		return "", fmt.Errorf("oauth: generate state: %w", err)
	}

	var authURL, codeVerifier string
	if p, ok := s.provider.(PKCEProvider); ok && p.UsesPKCE() {
		codeVerifier = oauth2.GenerateVerifier()
		authURL, err = p.AuthorizationURLPKCE(state, codeVerifier)
	} else {
		authURL, err = s.provider.AuthorizationURL(rt, state)
	}
	if err != nil {
		return "", err
	}

	sess.setAuthorization(state, codeVerifier)
	if err := s.save(ctx, sess); err != nil {
		return "", err
	}

	s.logger.Debug("authorization url issued", zap.String("identity", sess.Identity()))
	return authURL, nil
}

// CheckState compares the state returned to a 2.0 callback with the one
// issued by AuthorizationURL. 1.0 callbacks carry no state and always pass.
func (s *Service) CheckState(ctx context.Context, state string) error {
	if s.provider.Version() != Version20 {
		return nil
	}
	sess, err := s.Session(ctx)
	if err != nil {
		return err
	}
	want := sess.State()
	if want == "" || subtle.ConstantTimeCompare([]byte(want), []byte(state)) != 1 {
		return newError(ErrInvalidState, s.ProviderName(), "check state", nil)
	}
	return nil
}

// Verifier returns the verifier set on the session.
func (s *Service) Verifier(ctx context.Context) (string, error) {
	sess, err := s.Session(ctx)
	if err != nil {
		return "", err
	}
	return sess.Verifier(), nil
}

// SetVerifier stores the verifier parsed from the provider callback under
// VerifierParamName.
func (s *Service) SetVerifier(ctx context.Context, verifier string) error {
	sess, err := s.Session(ctx)
	if err != nil {
		return err
	}

	sess.exchange.Lock()
	defer sess.exchange.Unlock()
	if err := s.refresh(ctx, sess); err != nil {
		return err
	}

	sess.setVerifier(verifier)
	return s.save(ctx, sess)
}

// CompleteAuthorization exchanges the session verifier for an access token.
// It is a no-op on a connected session. On failure the session keeps its
// request token, a FAILURE event is published and an error matching
// ErrTokenExchange is returned.
func (s *Service) CompleteAuthorization(ctx context.Context) error {
	sess, err := s.Session(ctx)
	if err != nil {
		return err
	}

	sess.exchange.Lock()
	defer sess.exchange.Unlock()
	if err := s.refresh(ctx, sess); err != nil {
		return err
	}

	if sess.IsConnected() {
		return nil
	}

	verifier := sess.Verifier()
	if verifier == "" {
		return s.exchangeFailed(ctx, sess, &Error{Kind: ErrTokenExchange, Provider: s.ProviderName(),
			Op: "access token", Description: "no verifier set on session"})
	}
	rt := sess.RequestToken()
	if rt.IsZero() && s.provider.Version() == Version10 {
		return s.exchangeFailed(ctx, sess, &Error{Kind: ErrTokenExchange, Provider: s.ProviderName(),
			Op: "access token", Description: "no request token on session"})
	}

	start := s.now()
	var at Token
	if p, ok := s.provider.(PKCEProvider); ok && p.UsesPKCE() && sess.pkce() != "" {
		at, err = p.AccessTokenPKCE(ctx, verifier, sess.pkce())
	} else {
		at, err = s.provider.AccessToken(ctx, rt, verifier)
	}
	s.metrics.ObserveExchange(s.ProviderName(), PhaseAccessToken, err, s.now().Sub(start))

	if err != nil {
		return s.exchangeFailed(ctx, sess, asKind(ErrTokenExchange, s.ProviderName(), "access token", err))
	}
	if at.IsZero() {
		return s.exchangeFailed(ctx, sess, &Error{Kind: ErrTokenExchange, Provider: s.ProviderName(),
			Op: "access token", Description: "provider returned no access token"})
	}

	sess.setAccessToken(at)
	if err := s.persist(ctx, sess, at); err != nil {
		return err
	}

	s.logger.Info("access token obtained", zap.String("identity", sess.Identity()))
	s.publish(ctx, sess, EventOAuthComplete, StatusSuccess, "access token obtained")
	return nil
}

// InitAccessToken is CompleteAuthorization.
func (s *Service) InitAccessToken(ctx context.Context) error {
	return s.CompleteAuthorization(ctx)
}

// FailAuthorization ends an authorization the provider refused, e.g. when
// the callback carries error=access_denied. The session keeps its request
// token and a FAILURE event is published. The returned error matches
// ErrTokenExchange and carries code and description.
func (s *Service) FailAuthorization(ctx context.Context, code, description string) error {
	sess, err := s.Session(ctx)
	if err != nil {
		return err
	}
	if description == "" {
		description = "authorization refused by provider"
	}
	return s.exchangeFailed(ctx, sess, &Error{Kind: ErrTokenExchange, Provider: s.ProviderName(),
		Op: "authorize", Code: code, Description: description})
}

func (s *Service) exchangeFailed(ctx context.Context, sess *Session, err error) error {
	s.logger.Warn("access token exchange failed", zap.String("identity", sess.Identity()), zap.Error(err))
	s.publish(ctx, sess, EventOAuthComplete, StatusFailure, err.Error())
	return err
}

// IsConnected reports whether the session holds an access token. An empty
// session is filled from the vault when one is configured.
func (s *Service) IsConnected(ctx context.Context) (bool, error) {
	sess, err := s.Session(ctx)
	if err != nil {
		return false, err
	}
	at, err := s.accessToken(ctx, sess)
	if err != nil {
		return false, err
	}
	return !at.IsZero(), nil
}

// AccessToken returns the session access token, zero when not connected.
func (s *Service) AccessToken(ctx context.Context) (Token, error) {
	sess, err := s.Session(ctx)
	if err != nil {
		return Token{}, err
	}
	return s.accessToken(ctx, sess)
}

// accessToken returns the session token. An empty session is filled from
// the vault and an expired token with a refresh token is renewed and
// persisted.
func (s *Service) accessToken(ctx context.Context, sess *Session) (Token, error) {
	at := sess.AccessToken()
	switch {
	case at.IsZero() && s.vault == nil:
		return at, nil
	case !at.IsZero() && !s.renewable(at):
		return at, nil
	}

	sess.exchange.Lock()
	defer sess.exchange.Unlock()
	if err := s.refresh(ctx, sess); err != nil {
		return Token{}, err
	}

	at = sess.AccessToken()
	if at.IsZero() && s.vault != nil {
		cred, ok, err := s.vault.Load(ctx, sess.Identity(), s.ProviderName())
		if err != nil {
			return Token{}, fmt.Errorf("oauth: load credential: %w", err)
		}
		if !ok {
			return Token{}, nil
		}
		at = cred.restore(s.provider.NewToken(cred.Token, cred.Secret))
		sess.setAccessToken(at)
		s.logger.Debug("access token restored from vault", zap.String("identity", sess.Identity()))
	}

	if s.renewable(at) {
		return s.renew(ctx, sess, at)
	}
	return at, nil
}

// renewable reports whether at has expired and the provider can refresh it.
func (s *Service) renewable(at Token) bool {
	if at.IsZero() || at.RefreshToken() == "" || !at.Expired(s.now()) {
		return false
	}
	_, ok := s.provider.(RefreshProvider)
	return ok
}

func (s *Service) renew(ctx context.Context, sess *Session, at Token) (Token, error) {
	start := s.now()
	fresh, err := s.provider.(RefreshProvider).Refresh(ctx, at)
	s.metrics.ObserveExchange(s.ProviderName(), PhaseRefresh, err, s.now().Sub(start))
	if err == nil && fresh.IsZero() {
		err = &Error{Kind: ErrTokenExchange, Provider: s.ProviderName(), Op: "refresh token",
			Description: "provider returned no access token"}
	}
	if err != nil {
		s.logger.Warn("token refresh failed", zap.String("identity", sess.Identity()), zap.Error(err))
		return Token{}, asKind(ErrTokenExchange, s.ProviderName(), "refresh token", err)
	}

	sess.setAccessToken(fresh)
	if err := s.persist(ctx, sess, fresh); err != nil {
		return Token{}, err
	}
	s.logger.Info("access token refreshed", zap.String("identity", sess.Identity()))
	return fresh, nil
}

// SetAccessToken connects the session with an existing token.
func (s *Service) SetAccessToken(ctx context.Context, t Token) error {
	if t.IsZero() {
		return &Error{Kind: ErrConfiguration, Provider: s.ProviderName(), Op: "set access token",
			Description: "empty token"}
	}
	sess, err := s.Session(ctx)
	if err != nil {
		return err
	}

	sess.exchange.Lock()
	defer sess.exchange.Unlock()

	sess.setAccessToken(t)
	return s.persist(ctx, sess, t)
}

// SetAccessTokenFromStrings is SetAccessToken for persisted credentials.
func (s *Service) SetAccessTokenFromStrings(ctx context.Context, token, secret string) error {
	return s.SetAccessToken(ctx, s.provider.NewToken(token, secret))
}

// Disconnect clears the session, forgets it and deletes the stored
// credential.
func (s *Service) Disconnect(ctx context.Context) error {
	sess, err := s.Session(ctx)
	if err != nil {
		return err
	}

	sess.exchange.Lock()
	defer sess.exchange.Unlock()

	sess.reset()
	if f, ok := s.resolver.(SessionForgetter); ok {
		if err := f.Forget(ctx, sess.Identity(), s.ProviderName()); err != nil {
			return err
		}
	}
	if s.vault != nil {
		if err := s.vault.Delete(ctx, sess.Identity(), s.ProviderName()); err != nil {
			return fmt.Errorf("oauth: delete credential: %w", err)
		}
	}

	s.publish(ctx, sess, EventDisconnect, StatusSuccess, "session disconnected")
	return nil
}

// SetRequestHeader sets a default header merged into every signed request.
// Headers already present on a request win.
func (s *Service) SetRequestHeader(name, value string) {
	s.headerMu.Lock()
	s.headers.Set(name, value)
	s.headerMu.Unlock()
}

func (s *Service) mergeHeaders(req *Request) {
	s.headerMu.RLock()
	defer s.headerMu.RUnlock()

	for name, values := range s.headers {
		if req.Header().Get(name) != "" {
			continue
		}
		for _, v := range values {
			req.AddHeader(name, v)
		}
	}
}

// refresh reloads sess from resolvers shared with other processes. The
// caller holds sess.exchange.
func (s *Service) refresh(ctx context.Context, sess *Session) error {
	r, ok := s.resolver.(SessionRefresher)
	if !ok {
		return nil
	}
	if err := r.Refresh(ctx, sess); err != nil {
		s.logger.Error("session refresh failed", zap.String("identity", sess.Identity()), zap.Error(err))
		return err
	}
	return nil
}

func (s *Service) save(ctx context.Context, sess *Session) error {
	saver, ok := s.resolver.(SessionSaver)
	if !ok {
		return nil
	}
	if err := saver.Save(ctx, sess); err != nil {
		s.logger.Error("session save failed", zap.String("identity", sess.Identity()), zap.Error(err))
		return err
	}
	return nil
}

func (s *Service) persist(ctx context.Context, sess *Session, at Token) error {
	if err := s.save(ctx, sess); err != nil {
		return err
	}
	if s.vault != nil {
		if err := s.vault.Store(ctx, sess.Identity(), s.ProviderName(), CredentialOf(at)); err != nil {
			s.logger.Error("credential store failed", zap.String("identity", sess.Identity()), zap.Error(err))
			return fmt.Errorf("oauth: store credential: %w", err)
		}
	}
	return nil
}

func (s *Service) publish(ctx context.Context, sess *Session, kind EventKind, status Status, msg string) {
	s.publisher.Publish(ctx, Event{
		ID:       uuid.NewString(),
		Kind:     kind,
		Status:   status,
		Provider: s.ProviderName(),
		Identity: sess.Identity(),
		Message:  msg,
		Time:     s.now().UTC(),
		Session:  sess,
	})
}

// Send signs req with the session access token and dispatches it. It fails
// with ErrNotConnected, without any I/O, when the session has no token.
// Non-2xx responses are returned as is.
func (s *Service) Send(ctx context.Context, req *Request) (*Response, error) {
	at, err := s.AccessToken(ctx)
	if err != nil {
		return nil, err
	}
	if at.IsZero() {
		return nil, newError(ErrNotConnected, s.ProviderName(), "send", nil)
	}

	s.mergeHeaders(req)
	if err := s.provider.Sign(at, req); err != nil {
		return nil, err
	}
	return s.dispatch(ctx, req)
}

func (s *Service) dispatch(ctx context.Context, req *Request) (*Response, error) {
	if s.limiter != nil {
		if err := s.limiter.Wait(ctx); err != nil {
			return nil, newError(ErrRateLimited, s.ProviderName(), "send", err)
		}
	}

	var resp *Response
	call := func() error {
		var err error
		resp, err = req.Send(ctx)
		if err != nil {
			return err
		}
		if resp.StatusCode >= 500 {
			return &StatusError{Provider: s.ProviderName(), StatusCode: resp.StatusCode}
		}
		return nil
	}

	start := s.now()
	var err error
	if s.breaker != nil {
		err = s.breaker.Call(ctx, call)
	} else {
		err = call()
	}

	status := 0
	if resp != nil {
		status = resp.StatusCode
	}
	s.metrics.ObserveRequest(s.ProviderName(), req.Verb(), status, err, s.now().Sub(start))

	var statusErr *StatusError
	switch {
	case resp != nil && errors.As(err, &statusErr):
		return resp, nil
	case err != nil:
		s.logger.Warn("signed request failed", zap.String("verb", string(req.Verb())),
			zap.String("url", req.BaseURL().String()), zap.Error(err))
		return nil, newError(ErrSignedRequest, s.ProviderName(), string(req.Verb())+" "+req.BaseURL().String(), err)
	}
	return resp, nil
}

// RequestOption adds parameters to a request built by SendSignedRequest.
type RequestOption func(*Request)

// WithParam adds a body parameter.
func WithParam(name, value string) RequestOption {
	return func(r *Request) { r.AddBodyParameter(name, value) }
}

// WithParams adds body parameters.
func WithParams(params map[string]any) RequestOption {
	return func(r *Request) { r.AddBodyParameters(params) }
}

// WithPayload sets a raw body.
func WithPayload(payload string) RequestOption {
	return func(r *Request) { r.SetPayload(payload) }
}

// WithQuery adds a query parameter.
func WithQuery(name, value string) RequestOption {
	return func(r *Request) { r.AddQueryParameter(name, value) }
}

// WithHeader sets a header for this request only.
func WithHeader(name, value string) RequestOption {
	return func(r *Request) { r.SetHeader(name, value) }
}

// SendSignedRequest builds a request for verb and uri, applies opts and
// sends it through Send.
func (s *Service) SendSignedRequest(ctx context.Context, verb Verb, uri string, opts ...RequestOption) (*Response, error) {
	req, err := s.provider.NewRequest(verb, uri)
	if err != nil {
		return nil, err
	}
	for _, opt := range opts {
		opt(req)
	}
	return s.Send(ctx, req)
}

// Get sends a signed GET and decodes the response into out (nil to
// discard). {0}, {1}... in uri are replaced by the path-escaped args.
func (s *Service) Get(ctx context.Context, uri string, out any, args ...any) error {
	resp, err := s.SendSignedRequest(ctx, GET, expandURI(uri, args))
	return s.decode(resp, err, out)
}

// GetUnsigned sends a GET without authentication material. It works on
// sessions that are not connected.
func (s *Service) GetUnsigned(ctx context.Context, uri string, out any, args ...any) error {
	req, err := s.provider.NewRequest(GET, expandURI(uri, args))
	if err != nil {
		return err
	}
	s.mergeHeaders(req)
	resp, err := s.dispatch(ctx, req)
	return s.decode(resp, err, out)
}

// PostForm sends a signed form POST and decodes the response into out.
func (s *Service) PostForm(ctx context.Context, uri string, params map[string]any, out any, args ...any) error {
	resp, err := s.SendSignedRequest(ctx, POST, expandURI(uri, args), WithParams(params))
	return s.decode(resp, err, out)
}

// Post sends body encoded by the mapper and returns the Location header of
// the response.
func (s *Service) Post(ctx context.Context, uri string, body any, args ...any) (string, error) {
	resp, err := s.sendEncoded(ctx, POST, expandURI(uri, args), body)
	if err := s.decode(resp, err, nil); err != nil {
		return "", err
	}
	return resp.Header("Location"), nil
}

// Put sends body encoded by the mapper.
func (s *Service) Put(ctx context.Context, uri string, body any, args ...any) error {
	resp, err := s.sendEncoded(ctx, PUT, expandURI(uri, args), body)
	return s.decode(resp, err, nil)
}

// Delete sends a signed DELETE.
func (s *Service) Delete(ctx context.Context, uri string, args ...any) error {
	resp, err := s.SendSignedRequest(ctx, DELETE, expandURI(uri, args))
	return s.decode(resp, err, nil)
}

func (s *Service) sendEncoded(ctx context.Context, verb Verb, uri string, body any) (*Response, error) {
	payload, err := s.mapper.Encode(body)
	if err != nil {
		return nil, err
	}
	opts := []RequestOption{WithPayload(payload)}
	if ct, ok := s.mapper.(interface{ ContentType() string }); ok {
		opts = append(opts, WithHeader("Content-Type", ct.ContentType()))
	}
	return s.SendSignedRequest(ctx, verb, uri, opts...)
}

func (s *Service) decode(resp *Response, err error, out any) error {
	if err != nil {
		return err
	}
	if !resp.IsSuccess() {
		return &StatusError{Provider: s.ProviderName(), StatusCode: resp.StatusCode, Body: resp.Body()}
	}
	if out == nil {
		return nil
	}
	if err := s.mapper.Decode(resp, out); err != nil {
		return asKind(ErrDecode, s.ProviderName(), "decode", err)
	}
	return nil
}

// expandURI replaces {n} with the path-escaped n-th argument.
func expandURI(uri string, args []any) string {
	for i, a := range args {
		uri = strings.ReplaceAll(uri, "{"+strconv.Itoa(i)+"}", url.PathEscape(fmt.Sprint(a)))
	}
	return uri
}
