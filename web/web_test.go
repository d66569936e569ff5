package web

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/cookiejar"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gobeaver/beaver-social/oauth"
	"github.com/gobeaver/beaver-social/oauth/oauthtest"
)

const testSecret = "0123456789abcdef0123456789abcdef"

type fixture struct {
	provider *oauthtest.Server
	app      *httptest.Server
	hub      *oauth.Hub
	handler  *Handler
	cfg      Config
	events   *eventLog
}

// eventLog records the events published by the hub's services.
type eventLog struct {
	mu     sync.Mutex
	events []oauth.Event
}

func (l *eventLog) Publish(_ context.Context, e oauth.Event) {
	l.mu.Lock()
	l.events = append(l.events, e)
	l.mu.Unlock()
}

func (l *eventLog) all() []oauth.Event {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]oauth.Event(nil), l.events...)
}

func newFixture(t *testing.T, pkce bool, opts ...Option) *fixture {
	t.Helper()

	provider := oauthtest.NewServer()
	t.Cleanup(provider.Close)

	var router http.Handler
	app := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		router.ServeHTTP(w, r)
	}))
	t.Cleanup(app.Close)

	cfg := Config{
		AbsolutePath:    app.URL,
		SuccessPath:     "/done",
		CookieName:      "beaver_identity",
		CookieSecret:    testSecret,
		CookieTTL:       time.Hour,
		SecurityHeaders: true,
		HSTSMaxAge:      300,
		RequestTimeout:  5 * time.Second,
	}

	registry := oauth.NewRegistry()
	one, two := provider.API1(), provider.API2(pkce)
	require.NoError(t, registry.Define(one))
	require.NoError(t, registry.Define(two))
	require.NoError(t, registry.Register("one", one.ID))
	require.NoError(t, registry.Register("two", two.ID))

	events := &eventLog{}
	hub, err := oauth.NewHub(oauth.HubConfig{
		Registry: registry,
		Settings: cfg.WithCallbacks([]oauth.Settings{
			provider.Settings("one", ""),
			provider.Settings("two", ""),
		}),
		ServiceOptions: []oauth.Option{oauth.WithPublisher(events)},
	})
	require.NoError(t, err)

	h, err := New(hub, cfg, opts...)
	require.NoError(t, err)
	router = h.Routes()

	return &fixture{provider: provider, app: app, hub: hub, handler: h, cfg: cfg, events: events}
}

// browser follows redirects until the app sends it to the success page.
func (f *fixture) browser(t *testing.T) *http.Client {
	t.Helper()
	jar, err := cookiejar.New(nil)
	require.NoError(t, err)
	return &http.Client{
		Jar: jar,
		CheckRedirect: func(req *http.Request, _ []*http.Request) error {
			if req.URL.Path == "/done" {
				return http.ErrUseLastResponse
			}
			return nil
		},
	}
}

// noFollow shares the jar of c but stops at the first redirect.
func noFollow(c *http.Client) *http.Client {
	return &http.Client{
		Jar:           c.Jar,
		CheckRedirect: func(*http.Request, []*http.Request) error { return http.ErrUseLastResponse },
	}
}

func getJSON(t *testing.T, c *http.Client, u string, out any) *http.Response {
	t.Helper()
	resp, err := c.Get(u)
	require.NoError(t, err)
	defer resp.Body.Close()
	if out != nil {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(out))
	}
	return resp
}

func post(t *testing.T, c *http.Client, u string) *http.Response {
	t.Helper()
	resp, err := c.Post(u, "application/x-www-form-urlencoded", nil)
	require.NoError(t, err)
	resp.Body.Close()
	return resp
}

func TestConnectFlow(t *testing.T) {
	for _, tc := range []struct {
		name     string
		provider string
		pkce     bool
	}{
		{"oauth1", "one", false},
		{"oauth2", "two", false},
		{"oauth2 pkce", "two", true},
	} {
		t.Run(tc.name, func(t *testing.T) {
			f := newFixture(t, tc.pkce)
			browser := f.browser(t)

			var st providerStatus
			getJSON(t, browser, f.app.URL+"/"+tc.provider+"/status", &st)
			assert.False(t, st.Connected)

			resp, err := browser.Get(f.app.URL + "/" + tc.provider + "/connect")
			require.NoError(t, err)
			resp.Body.Close()
			require.Equal(t, http.StatusFound, resp.StatusCode)
			assert.Equal(t, "/done?provider="+tc.provider, resp.Header.Get("Location"))

			getJSON(t, browser, f.app.URL+"/"+tc.provider+"/status", &st)
			assert.True(t, st.Connected)
			assert.Equal(t, tc.provider, st.Provider)

			var all []providerStatus
			getJSON(t, browser, f.app.URL+"/", &all)
			require.Len(t, all, 2)
			for _, p := range all {
				assert.Equal(t, p.Provider == tc.provider, p.Connected, p.Provider)
			}

			resp = post(t, browser, f.app.URL+"/"+tc.provider+"/disconnect")
			assert.Equal(t, http.StatusNoContent, resp.StatusCode)

			getJSON(t, browser, f.app.URL+"/"+tc.provider+"/status", &st)
			assert.False(t, st.Connected)
		})
	}
}

func TestIdentitiesAreIsolated(t *testing.T) {
	f := newFixture(t, false)
	alice, bob := f.browser(t), f.browser(t)

	resp, err := alice.Get(f.app.URL + "/two/connect")
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusFound, resp.StatusCode)

	var st providerStatus
	getJSON(t, bob, f.app.URL+"/two/status", &st)
	assert.False(t, st.Connected)
	getJSON(t, alice, f.app.URL+"/two/status", &st)
	assert.True(t, st.Connected)
}

func TestIdentityCookie(t *testing.T) {
	f := newFixture(t, false)
	f.handler.newIdentity = func() string { return "fixed-identity" }
	c := f.browser(t)

	resp := getJSON(t, c, f.app.URL+"/two/status", nil)
	cookies := resp.Cookies()
	require.Len(t, cookies, 1)
	cookie := cookies[0]
	assert.Equal(t, "beaver_identity", cookie.Name)
	assert.True(t, cookie.HttpOnly)
	assert.Equal(t, http.SameSiteLaxMode, cookie.SameSite)

	identity, err := f.handler.signer.Verify(cookie.Value)
	require.NoError(t, err)
	assert.Equal(t, "fixed-identity", identity)

	// A valid cookie is reused.
	resp = getJSON(t, c, f.app.URL+"/two/status", nil)
	assert.Empty(t, resp.Cookies())

	// A forged cookie is replaced.
	req, err := http.NewRequest(http.MethodGet, f.app.URL+"/two/status", nil)
	require.NoError(t, err)
	req.AddCookie(&http.Cookie{Name: "beaver_identity", Value: "forged"})
	resp, err = http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Len(t, resp.Cookies(), 1)
}

func TestCallbackErrors(t *testing.T) {
	f := newFixture(t, false)
	browser := f.browser(t)

	// Start the flow without following the provider redirect.
	resp, err := noFollow(browser).Get(f.app.URL + "/two/connect")
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusFound, resp.StatusCode)
	authURL, err := url.Parse(resp.Header.Get("Location"))
	require.NoError(t, err)
	state := authURL.Query().Get("state")
	require.NotEmpty(t, state)

	tests := []struct {
		name   string
		query  url.Values
		status int
		code   string
	}{
		{"provider error", url.Values{"error": {"access_denied"}}, http.StatusBadRequest, "access_denied"},
		{"missing code", url.Values{"state": {state}}, http.StatusBadRequest, "invalid_request"},
		{"wrong state", url.Values{"code": {"c"}, "state": {"forged"}}, http.StatusBadRequest, "invalid_state"},
		{"invalid code", url.Values{"code": {"bogus"}, "state": {state}}, http.StatusBadGateway, "token_exchange_failed"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var body map[string]string
			resp := getJSON(t, browser, f.app.URL+"/two/callback?"+tt.query.Encode(), &body)
			assert.Equal(t, tt.status, resp.StatusCode)
			assert.Equal(t, tt.code, body["error"])
		})
	}

	var body map[string]string
	getJSON(t, browser, f.app.URL+"/two/callback?"+url.Values{"code": {"bogus"}, "state": {state}}.Encode(), &body)
	assert.Equal(t, "invalid_grant", body["error_description"])

	var st providerStatus
	getJSON(t, browser, f.app.URL+"/two/status", &st)
	assert.False(t, st.Connected)
}

func TestCallbackRefusalPublishesFailure(t *testing.T) {
	f := newFixture(t, false)
	browser := f.browser(t)

	resp, err := noFollow(browser).Get(f.app.URL + "/two/connect")
	require.NoError(t, err)
	resp.Body.Close()
	authURL, err := url.Parse(resp.Header.Get("Location"))
	require.NoError(t, err)
	state := authURL.Query().Get("state")

	// A refusal without the pending state is answered but ends nothing.
	var body map[string]string
	resp = getJSON(t, browser, f.app.URL+"/two/callback?error=access_denied", &body)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Empty(t, f.events.all())

	q := url.Values{"error": {"access_denied"}, "error_description": {"user said no"}, "state": {state}}
	resp = getJSON(t, browser, f.app.URL+"/two/callback?"+q.Encode(), &body)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "access_denied", body["error"])
	assert.Equal(t, "user said no", body["error_description"])

	events := f.events.all()
	require.Len(t, events, 1)
	assert.Equal(t, oauth.EventOAuthComplete, events[0].Kind)
	assert.Equal(t, oauth.StatusFailure, events[0].Status)
	assert.Equal(t, "two", events[0].Provider)
	assert.Contains(t, events[0].Message, "user said no")

	// 1.0 denials carry no state.
	resp = getJSON(t, browser, f.app.URL+"/one/callback?denied=request-1", &body)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "access_denied", body["error"])
	events = f.events.all()
	require.Len(t, events, 2)
	assert.Equal(t, "one", events[1].Provider)
	assert.Equal(t, oauth.StatusFailure, events[1].Status)
}

func TestUnknownProvider(t *testing.T) {
	f := newFixture(t, false)

	var body map[string]string
	resp := getJSON(t, f.browser(t), f.app.URL+"/nosuch/connect", &body)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.Equal(t, "unknown_provider", body["error"])
}

func TestSecurityHeaders(t *testing.T) {
	f := newFixture(t, false)

	resp := getJSON(t, f.browser(t), f.app.URL+"/healthz", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "nosniff", resp.Header.Get("X-Content-Type-Options"))
	assert.Equal(t, "DENY", resp.Header.Get("X-Frame-Options"))
	assert.Equal(t, "no-store", resp.Header.Get("Cache-Control"))
	assert.Empty(t, resp.Header.Get("Strict-Transport-Security"), "plain http must not get HSTS")
}

func TestHealthRoutes(t *testing.T) {
	hc := NewHealthChecker("1.2.3")
	var unhealthy atomic.Bool
	hc.RegisterCheck("cache", func(context.Context) error {
		if !unhealthy.Load() {
			return nil
		}
		return errors.New("connection refused")
	})
	cb := oauth.NewDefaultCircuitBreaker(oauth.CircuitBreakerConfig{FailureThreshold: 1, Timeout: time.Hour})
	hc.RegisterBreaker("two", cb)

	f := newFixture(t, false, WithHealthChecker(hc))
	c := f.browser(t)

	var report HealthReport
	resp := getJSON(t, c, f.app.URL+"/health", &report)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, HealthStatusHealthy, report.Status)
	assert.Equal(t, "1.2.3", report.Version)
	assert.Equal(t, []string{"one", "two"}, report.Providers)
	assert.Contains(t, report.Checks, "breaker_two")

	_ = cb.Call(context.Background(), func() error { return errors.New("down") })
	resp = getJSON(t, c, f.app.URL+"/health", &report)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, HealthStatusDegraded, report.Status)

	unhealthy.Store(true)
	resp = getJSON(t, c, f.app.URL+"/health", &report)
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
	assert.Equal(t, HealthStatusUnhealthy, report.Status)
	assert.Equal(t, "connection refused", report.Checks["cache"].Error)

	var ready map[string]string
	resp = getJSON(t, c, f.app.URL+"/readyz", &ready)
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
	assert.Equal(t, "not_ready", ready["status"])

	result, err := hc.CheckComponent(context.Background(), "breaker_two")
	require.NoError(t, err)
	assert.Equal(t, HealthStatusDegraded, result.Status)
	_, err = hc.CheckComponent(context.Background(), "nosuch")
	assert.Error(t, err)
	assert.Equal(t, []string{"breaker_two", "cache"}, hc.Components())
}

func TestConfig(t *testing.T) {
	cfg := Config{AbsolutePath: "https://app.example.com/oauth/", CookieName: "id", CookieSecret: testSecret}
	require.NoError(t, validateConfig(cfg))

	assert.Equal(t, "https://app.example.com/oauth/github/callback", cfg.CallbackURL("github"))
	assert.Equal(t, "https://app.example.com/oauth/my%20api/callback", cfg.CallbackURL("my api"))

	settings := cfg.WithCallbacks([]oauth.Settings{
		{ProviderName: "github"},
		{ProviderName: "google", Callback: "https://elsewhere.example.com/cb"},
	})
	assert.Equal(t, "https://app.example.com/oauth/github/callback", settings[0].Callback)
	assert.Equal(t, "https://elsewhere.example.com/cb", settings[1].Callback)

	for name, bad := range map[string]Config{
		"relative path": {AbsolutePath: "/oauth", CookieName: "id", CookieSecret: testSecret},
		"short secret":  {AbsolutePath: "https://app.example.com", CookieName: "id", CookieSecret: "short"},
		"no cookie":     {AbsolutePath: "https://app.example.com", CookieSecret: testSecret},
	} {
		assert.Error(t, validateConfig(bad), name)
	}
}

func TestGetConfig(t *testing.T) {
	t.Setenv("BEAVER_WEB_ABSOLUTE_PATH", "https://app.example.com/oauth")
	t.Setenv("BEAVER_WEB_COOKIE_SECRET", testSecret)

	cfg, err := GetConfig()
	require.NoError(t, err)
	assert.Equal(t, "beaver_identity", cfg.CookieName)
	assert.Equal(t, "/", cfg.SuccessPath)
	assert.Equal(t, 720*time.Hour, cfg.CookieTTL)
	assert.True(t, cfg.Secure)
	assert.True(t, strings.HasSuffix(cfg.CallbackURL("github"), "/oauth/github/callback"))
}

func TestMetricsRoute(t *testing.T) {
	f := newFixture(t, false, WithMetricsHandler(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("# metrics\n"))
	})))

	resp := getJSON(t, f.browser(t), f.app.URL+"/metrics", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestStaticIdentity(t *testing.T) {
	f := newFixture(t, false, WithStaticIdentity("cli"))
	c := f.browser(t)

	resp, err := c.Get(f.app.URL + "/two/connect")
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusFound, resp.StatusCode)
	assert.Empty(t, resp.Cookies())

	svc, err := f.hub.Service("two")
	require.NoError(t, err)
	connected, err := svc.IsConnected(oauth.WithIdentity(context.Background(), "cli"))
	require.NoError(t, err)
	assert.True(t, connected)

	// A different browser shares the same identity.
	var st providerStatus
	getJSON(t, f.browser(t), f.app.URL+"/two/status", &st)
	assert.True(t, st.Connected)
}
