// Package web exposes oauth services over HTTP with chi.
//
// Routes, relative to Config.AbsolutePath:
//
//	GET  /                       providers and their connection state
//	GET  /{provider}/connect     redirect to the provider's authorization page
//	GET  /{provider}/callback    complete the exchange, redirect to SuccessPath
//	GET  /{provider}/status      {"provider": "...", "connected": true}
//	POST /{provider}/disconnect  forget the session and stored credential
//	GET  /healthz /readyz /health /metrics
//
// The caller's identity is carried by a signed cookie, see Handler.Identity.
package web

import (
	"errors"
	"fmt"
	"net/http"
	"net/url"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/gobeaver/beaver-social/krypto"
	"github.com/gobeaver/beaver-social/logger"
	"github.com/gobeaver/beaver-social/oauth"
)

// Handler serves the connect, callback and status routes of a Hub.
type Handler struct {
	hub         *oauth.Hub
	cfg         Config
	signer      *krypto.IdentitySigner
	health      *HealthChecker
	metrics     http.Handler
	logger      *zap.Logger
	newIdentity func() string
	identity    string
}

// Option configures a Handler.
type Option func(*Handler)

// WithLogger sets the logger. The default discards output.
func WithLogger(l *zap.Logger) Option {
	return func(h *Handler) { h.logger = l }
}

// WithHealthChecker serves hc on the health routes.
func WithHealthChecker(hc *HealthChecker) Option {
	return func(h *Handler) { h.health = hc }
}

// WithMetricsHandler serves h on GET /metrics, typically
// metrics.Prometheus.Handler.
func WithMetricsHandler(mh http.Handler) Option {
	return func(h *Handler) { h.metrics = mh }
}

// WithStaticIdentity serves every request as identity and skips the
// cookie. Used by single user tools such as socialctl connect.
func WithStaticIdentity(identity string) Option {
	return func(h *Handler) { h.identity = identity }
}

// New validates cfg and returns a handler for hub.
func New(hub *oauth.Hub, cfg Config, opts ...Option) (*Handler, error) {
	if hub == nil {
		return nil, errors.New("web: hub is required")
	}
	if err := validateConfig(cfg); err != nil {
		return nil, fmt.Errorf("web: invalid config: %w", err)
	}
	signer, err := krypto.NewIdentitySigner([]byte(cfg.CookieSecret), "beaver-social", cfg.CookieTTL)
	if err != nil {
		return nil, fmt.Errorf("web: %w", err)
	}

	h := &Handler{
		hub:         hub,
		cfg:         cfg,
		signer:      signer,
		logger:      zap.NewNop(),
		newIdentity: newUUID,
	}
	for _, opt := range opts {
		opt(h)
	}
	if h.health == nil {
		h.health = NewHealthChecker(cfg.Version)
	}
	h.health.setProviders(hub.Names())
	return h, nil
}

// Routes returns a router with every route and middleware installed.
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(h.RequestLogging)
	r.Use(middleware.Recoverer)
	r.Use(h.SecurityHeaders)
	if h.cfg.RequestTimeout > 0 {
		r.Use(middleware.Timeout(h.cfg.RequestTimeout))
	}
	h.Register(r)
	return r
}

// Register adds the routes to r without middleware.
func (h *Handler) Register(r chi.Router) {
	r.Get("/healthz", h.health.HandleLiveness)
	r.Get("/readyz", h.health.HandleReadiness)
	r.Get("/health", h.health.HandleHealth)
	if h.metrics != nil {
		r.Method(http.MethodGet, "/metrics", h.metrics)
	}

	r.Group(func(r chi.Router) {
		r.Use(h.Identity)
		r.Get("/", h.providers)
		r.Get("/{provider}/connect", h.connect)
		r.Get("/{provider}/callback", h.callback)
		r.Get("/{provider}/status", h.status)
		r.Post("/{provider}/disconnect", h.disconnect)
	})
}

// CallbackURL returns the absolute callback URL of provider.
func (h *Handler) CallbackURL(provider string) string {
	return h.cfg.CallbackURL(provider)
}

type providerStatus struct {
	Provider  string `json:"provider"`
	Version   string `json:"version,omitempty"`
	Connected bool   `json:"connected"`
}

func (h *Handler) providers(w http.ResponseWriter, r *http.Request) {
	out := make([]providerStatus, 0, len(h.hub.Names()))
	for _, name := range h.hub.Names() {
		svc, err := h.hub.Service(name)
		if err != nil {
			h.fail(w, r, err)
			return
		}
		connected, err := svc.IsConnected(r.Context())
		if err != nil {
			h.fail(w, r, err)
			return
		}
		out = append(out, providerStatus{Provider: name, Version: svc.Version(), Connected: connected})
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *Handler) connect(w http.ResponseWriter, r *http.Request) {
	svc, ok := h.service(w, r)
	if !ok {
		return
	}
	authURL, err := svc.AuthorizationURL(r.Context())
	if err != nil {
		h.fail(w, r, err)
		return
	}
	http.Redirect(w, r, authURL, http.StatusFound)
}

func (h *Handler) callback(w http.ResponseWriter, r *http.Request) {
	svc, ok := h.service(w, r)
	if !ok {
		return
	}
	q := r.URL.Query()
	ctx := r.Context()

	if code := q.Get("error"); code != "" {
		h.refused(w, r, svc, code, q.Get("error_description"))
		return
	}
	if q.Has("denied") {
		h.refused(w, r, svc, "access_denied", "authorization denied")
		return
	}

	verifier := q.Get(svc.VerifierParamName())
	if verifier == "" {
		writeError(w, http.StatusBadRequest, "invalid_request", "missing "+svc.VerifierParamName())
		return
	}
	if err := svc.CheckState(ctx, q.Get("state")); err != nil {
		h.fail(w, r, err)
		return
	}
	if err := svc.SetVerifier(ctx, verifier); err != nil {
		h.fail(w, r, err)
		return
	}
	if err := svc.CompleteAuthorization(ctx); err != nil {
		h.fail(w, r, err)
		return
	}

	target, err := url.Parse(h.cfg.successPath())
	if err != nil {
		h.fail(w, r, err)
		return
	}
	tq := target.Query()
	tq.Set("provider", svc.ProviderName())
	target.RawQuery = tq.Encode()
	http.Redirect(w, r, target.String(), http.StatusFound)
}

// refused answers a callback that carries no grant. When it belongs to the
// pending authorization, the failure is published so waiting clients stop.
func (h *Handler) refused(w http.ResponseWriter, r *http.Request, svc *oauth.Service, code, description string) {
	ctx := r.Context()
	if svc.CheckState(ctx, r.URL.Query().Get("state")) == nil {
		if err := svc.FailAuthorization(ctx, code, description); !errors.Is(err, oauth.ErrTokenExchange) {
			h.fail(w, r, err)
			return
		}
	}
	writeError(w, http.StatusBadRequest, code, description)
}

func (h *Handler) status(w http.ResponseWriter, r *http.Request) {
	svc, ok := h.service(w, r)
	if !ok {
		return
	}
	connected, err := svc.IsConnected(r.Context())
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, providerStatus{Provider: svc.ProviderName(), Version: svc.Version(), Connected: connected})
}

func (h *Handler) disconnect(w http.ResponseWriter, r *http.Request) {
	svc, ok := h.service(w, r)
	if !ok {
		return
	}
	if err := svc.Disconnect(r.Context()); err != nil {
		h.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) service(w http.ResponseWriter, r *http.Request) (*oauth.Service, bool) {
	name := chi.URLParam(r, "provider")
	svc, err := h.hub.Service(name)
	if err != nil {
		writeError(w, http.StatusNotFound, "unknown_provider", fmt.Sprintf("provider %q is not configured", name))
		return nil, false
	}
	return svc, true
}

// fail maps oauth errors to HTTP responses.
func (h *Handler) fail(w http.ResponseWriter, r *http.Request, err error) {
	status, code := http.StatusInternalServerError, "server_error"
	switch {
	case errors.Is(err, oauth.ErrInvalidState):
		status, code = http.StatusBadRequest, "invalid_state"
	case errors.Is(err, oauth.ErrTokenExchange):
		status, code = http.StatusBadGateway, "token_exchange_failed"
	case errors.Is(err, oauth.ErrRateLimited):
		status, code = http.StatusTooManyRequests, "rate_limited"
	case errors.Is(err, oauth.ErrCircuitOpen):
		status, code = http.StatusServiceUnavailable, "provider_unavailable"
	}

	log := logger.From(r.Context(), h.logger)
	if status >= http.StatusInternalServerError {
		log.Error("oauth request failed", zap.String("path", r.URL.Path), zap.Error(err))
	} else {
		log.Info("oauth request rejected", zap.String("path", r.URL.Path), zap.Error(err))
	}

	desc := http.StatusText(status)
	var oe *oauth.Error
	if errors.As(err, &oe) && oe.Code != "" {
		desc = oe.Code
	}
	writeError(w, status, code, desc)
}

func writeError(w http.ResponseWriter, status int, code, desc string) {
	writeJSON(w, status, map[string]string{"error": code, "error_description": desc})
}
