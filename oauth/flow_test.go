package oauth_test

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"testing"
	"time"

	"github.com/gobeaver/beaver-social/oauth"
	"github.com/gobeaver/beaver-social/oauth/oauthtest"
)

func newServerService(t *testing.T, api oauth.API, name string, opts ...oauth.Option) (*oauthtest.Server, *oauth.Service) {
	t.Helper()
	srv := oauthtest.NewServer()
	t.Cleanup(srv.Close)

	if api.ID == "" {
		api = srv.API1()
	}
	api = rebase(api, srv)

	p, err := oauth.NewProvider(api)
	if err != nil {
		t.Fatalf("NewProvider() error = %v", err)
	}
	svc, err := oauth.New(p, oauth.NewMemoryResolver(), srv.Settings(name, "http://localhost:8080/callback"), opts...)
	if err != nil {
		t.Fatalf("oauth.New() error = %v", err)
	}
	return srv, svc
}

// rebase points an API template at srv.
func rebase(api oauth.API, srv *oauthtest.Server) oauth.API {
	var ref oauth.API
	if api.Version == oauth.Version20 {
		ref = srv.API2(api.PKCE)
	} else {
		ref = srv.API1()
	}
	ref.SignatureMethod = api.SignatureMethod
	return ref
}

func TestOAuth1EndToEnd(t *testing.T) {
	for _, method := range []string{oauth.HMACSHA1, oauth.PLAINTEXT} {
		t.Run(method, func(t *testing.T) {
			srv, svc := newServerService(t, oauth.API{ID: "one", Version: oauth.Version10, SignatureMethod: method}, "fake1",
				oauth.WithRequestHeader("X-Client", "beaver"))
			ctx := oauth.WithIdentity(context.Background(), "alice")

			authURL, err := svc.AuthorizationURL(ctx)
			if err != nil {
				t.Fatalf("AuthorizationURL() error = %v", err)
			}
			if n := srv.Calls("/oauth1/request_token"); n != 1 {
				t.Errorf("request_token called %d times", n)
			}

			verifier, err := srv.Approve(authURL)
			if err != nil {
				t.Fatal(err)
			}
			if err := svc.CheckState(ctx, ""); err != nil {
				t.Errorf("CheckState() on 1.0 error = %v", err)
			}
			if err := svc.SetVerifier(ctx, verifier); err != nil {
				t.Fatal(err)
			}
			if err := svc.CompleteAuthorization(ctx); err != nil {
				t.Fatalf("CompleteAuthorization() error = %v", err)
			}

			at, _ := svc.AccessToken(ctx)
			if at.Secret() == "" || at.Raw()["screen_name"] != "tester" {
				t.Errorf("access token = %v raw=%v", at, at.Raw())
			}

			var me oauthtest.Profile
			if err := svc.Get(ctx, "/me", &me); err != nil {
				t.Fatalf("Get(/me) error = %v", err)
			}
			if me.ID != "42" {
				t.Errorf("profile = %+v", me)
			}
			if got := srv.LastHeader().Get("X-Client"); got != "beaver" {
				t.Errorf("X-Client = %q, default header not sent", got)
			}

			if err := svc.PostForm(ctx, "/posts", map[string]any{"status": "hello world", "n": 1}, nil); err != nil {
				t.Errorf("PostForm() error = %v", err)
			}
			loc, err := svc.Post(ctx, "/posts", map[string]string{"text": "hi"})
			if err != nil || loc == "" {
				t.Errorf("Post() = %q, %v", loc, err)
			}
			if err := svc.Put(ctx, "/posts/{0}", map[string]string{"text": "edit"}, 1); err != nil {
				t.Errorf("Put() error = %v", err)
			}
			if err := svc.Delete(ctx, "/posts/{0}", 1); err != nil {
				t.Errorf("Delete() error = %v", err)
			}

			resp, err := svc.SendSignedRequest(ctx, oauth.GET, "/me", oauth.WithQuery("fields", "id,name"))
			if err != nil || !resp.IsSuccess() {
				t.Errorf("SendSignedRequest() with query = %v, %v", resp, err)
			}
		})
	}
}

func TestOAuth1RejectedVerifier(t *testing.T) {
	srv, svc := newServerService(t, oauth.API{}, "fake1")
	ctx := oauth.WithIdentity(context.Background(), "alice")

	if _, err := svc.AuthorizationURL(ctx); err != nil {
		t.Fatal(err)
	}
	if err := svc.SetVerifier(ctx, "forged"); err != nil {
		t.Fatal(err)
	}

	err := svc.CompleteAuthorization(ctx)
	if !errors.Is(err, oauth.ErrTokenExchange) {
		t.Fatalf("error = %v, want ErrTokenExchange", err)
	}
	var oauthErr *oauth.Error
	if !errors.As(err, &oauthErr) || oauthErr.Code != "401" {
		t.Errorf("error detail = %+v", oauthErr)
	}

	s, _ := svc.Session(ctx)
	if s.RequestToken().IsZero() {
		t.Error("failed exchange dropped the request token")
	}
	if n := srv.Calls("/oauth1/access_token"); n != 1 {
		t.Errorf("access_token called %d times", n)
	}
}

func TestOAuth2EndToEnd(t *testing.T) {
	for _, pkce := range []bool{false, true} {
		name := "plain"
		if pkce {
			name = "pkce"
		}
		t.Run(name, func(t *testing.T) {
			srv, svc := newServerService(t, oauth.API{ID: "two", Version: oauth.Version20, PKCE: pkce}, "fake2")
			ctx := oauth.WithIdentity(context.Background(), "bob")

			authURL, err := svc.AuthorizationURL(ctx)
			if err != nil {
				t.Fatalf("AuthorizationURL() error = %v", err)
			}
			u, _ := url.Parse(authURL)
			q := u.Query()
			if q.Get("state") == "" {
				t.Error("authorization url has no state")
			}
			if q.Get("scope") != "read write" {
				t.Errorf("scope = %q", q.Get("scope"))
			}
			if got := q.Get("code_challenge") != ""; got != pkce {
				t.Errorf("code_challenge present = %v, want %v", got, pkce)
			}

			code, err := srv.Approve(authURL)
			if err != nil {
				t.Fatal(err)
			}
			if err := svc.CheckState(ctx, "forged"); !errors.Is(err, oauth.ErrInvalidState) {
				t.Errorf("CheckState(forged) error = %v", err)
			}
			if err := svc.CheckState(ctx, q.Get("state")); err != nil {
				t.Errorf("CheckState() error = %v", err)
			}
			if err := svc.SetVerifier(ctx, code); err != nil {
				t.Fatal(err)
			}
			if err := svc.CompleteAuthorization(ctx); err != nil {
				t.Fatalf("CompleteAuthorization() error = %v", err)
			}

			at, _ := svc.AccessToken(ctx)
			if at.Type() != "Bearer" || at.RefreshToken() == "" || at.Expiry().IsZero() || at.Raw()["scope"] != "read write" {
				t.Errorf("access token = %v type=%s raw=%v", at, at.Type(), at.Raw())
			}

			var me oauthtest.Profile
			if err := svc.Get(ctx, "/me", &me); err != nil {
				t.Fatalf("Get(/me) error = %v", err)
			}
			if got := srv.LastHeader().Get("Authorization"); got != "Bearer "+at.Value() {
				t.Errorf("Authorization = %q", got)
			}
			if srv.Calls("/oauth1/request_token") != 0 {
				t.Error("2.0 flow hit the 1.0 endpoint")
			}
		})
	}
}

func TestOAuth2RefreshesExpiredToken(t *testing.T) {
	vault := newMemVault()
	api := oauth.API{ID: "two", Version: oauth.Version20}
	srv, svc := newServerService(t, api, "fake2", oauth.WithVault(vault))
	ctx := oauth.WithIdentity(context.Background(), "bob")

	authURL, err := svc.AuthorizationURL(ctx)
	if err != nil {
		t.Fatal(err)
	}
	code, err := srv.Approve(authURL)
	if err != nil {
		t.Fatal(err)
	}
	if err := svc.SetVerifier(ctx, code); err != nil {
		t.Fatal(err)
	}
	if err := svc.CompleteAuthorization(ctx); err != nil {
		t.Fatalf("CompleteAuthorization() error = %v", err)
	}

	stored, ok, _ := vault.Load(ctx, "bob", "fake2")
	if !ok || stored.RefreshToken == "" || stored.Expiry.IsZero() || stored.Type != "Bearer" {
		t.Fatalf("stored credential = %+v", stored)
	}
	stored.Expiry = time.Now().Add(-time.Minute)
	_ = vault.Store(ctx, "bob", "fake2", stored)

	// A restarted process finds the expired credential.
	p, err := oauth.NewProvider(rebase(api, srv))
	if err != nil {
		t.Fatal(err)
	}
	restarted, err := oauth.New(p, oauth.NewMemoryResolver(), srv.Settings("fake2", "http://localhost:8080/callback"),
		oauth.WithVault(vault))
	if err != nil {
		t.Fatal(err)
	}

	var me oauthtest.Profile
	if err := restarted.Get(ctx, "/me", &me); err != nil {
		t.Fatalf("Get(/me) with expired token error = %v", err)
	}
	if n := srv.Calls("/oauth2/token"); n != 2 {
		t.Errorf("token endpoint called %d times, want code and refresh", n)
	}

	renewed, _, _ := vault.Load(ctx, "bob", "fake2")
	if renewed.Token == stored.Token || renewed.RefreshToken == stored.RefreshToken {
		t.Errorf("vault kept the old credential: %+v", renewed)
	}
	if !renewed.Expiry.After(time.Now()) {
		t.Errorf("renewed expiry = %v", renewed.Expiry)
	}
	if got := srv.LastHeader().Get("Authorization"); got != "Bearer "+renewed.Token {
		t.Errorf("Authorization = %q, want the renewed token", got)
	}

	if err := restarted.Get(ctx, "/me", &me); err != nil {
		t.Fatal(err)
	}
	if n := srv.Calls("/oauth2/token"); n != 2 {
		t.Errorf("fresh token was refreshed again, token endpoint called %d times", n)
	}

	// The old refresh token was rotated out.
	_ = vault.Store(ctx, "carol", "fake2", oauth.Credential{Token: "old", RefreshToken: stored.RefreshToken,
		Type: "Bearer", Expiry: time.Now().Add(-time.Minute)})
	_, err = restarted.AccessToken(oauth.WithIdentity(context.Background(), "carol"))
	if !errors.Is(err, oauth.ErrTokenExchange) {
		t.Errorf("AccessToken() with a used refresh token error = %v, want ErrTokenExchange", err)
	}
}

func TestOAuth2InvalidCode(t *testing.T) {
	_, svc := newServerService(t, oauth.API{ID: "two", Version: oauth.Version20}, "fake2")
	ctx := context.Background()

	if _, err := svc.AuthorizationURL(ctx); err != nil {
		t.Fatal(err)
	}
	_ = svc.SetVerifier(ctx, "bogus")

	err := svc.CompleteAuthorization(ctx)
	var oauthErr *oauth.Error
	if !errors.As(err, &oauthErr) || !errors.Is(err, oauth.ErrTokenExchange) {
		t.Fatalf("error = %v, want ErrTokenExchange", err)
	}
	if oauthErr.Code != "invalid_grant" {
		t.Errorf("code = %q, want invalid_grant", oauthErr.Code)
	}
}

func TestStatusFromProvider(t *testing.T) {
	srv, svc := newServerService(t, oauth.API{ID: "two", Version: oauth.Version20}, "fake2")
	ctx := context.Background()

	authURL, _ := svc.AuthorizationURL(ctx)
	code, _ := srv.Approve(authURL)
	_ = svc.SetVerifier(ctx, code)
	if err := svc.CompleteAuthorization(ctx); err != nil {
		t.Fatal(err)
	}

	err := svc.Get(ctx, "/status/{0}", nil, http.StatusServiceUnavailable)
	var statusErr *oauth.StatusError
	if !errors.As(err, &statusErr) || statusErr.StatusCode != http.StatusServiceUnavailable {
		t.Fatalf("error = %v", err)
	}
	if !oauth.IsRetryable(err) {
		t.Error("503 should be retryable")
	}

	var public map[string]string
	if err := svc.GetUnsigned(ctx, "/public", &public); err != nil || public["visibility"] != "public" {
		t.Errorf("GetUnsigned() = %v, %v", public, err)
	}
}

func TestHub(t *testing.T) {
	srv := oauthtest.NewServer()
	defer srv.Close()

	registry := oauth.NewRegistry()
	one, two := srv.API1(), srv.API2(false)
	if err := registry.Define(one); err != nil {
		t.Fatal(err)
	}
	if err := registry.Define(two); err != nil {
		t.Fatal(err)
	}
	if err := registry.Register("fake1", one.ID); err != nil {
		t.Fatal(err)
	}

	hub, err := oauth.NewHub(oauth.HubConfig{
		Registry: registry,
		Settings: []oauth.Settings{
			srv.Settings("fake1", ""),
			srv.Settings("FakeTwo", ""), // resolved as FakeTwoApi by convention
		},
	})
	if err != nil {
		t.Fatalf("NewHub() error = %v", err)
	}

	if got := hub.Names(); len(got) != 2 || got[0] != "FakeTwo" || got[1] != "fake1" {
		t.Errorf("Names() = %v", got)
	}
	svc, err := hub.Service("FakeTwo")
	if err != nil || svc.Version() != oauth.Version20 {
		t.Errorf("Service(FakeTwo) = %v, %v", svc, err)
	}
	if _, err := hub.Service("missing"); !errors.Is(err, oauth.ErrConfiguration) {
		t.Errorf("Service(missing) error = %v", err)
	}
	if err := registry.Register("late", one.ID); !errors.Is(err, oauth.ErrConfiguration) {
		t.Errorf("registry not frozen: %v", err)
	}

	_, err = oauth.NewHub(oauth.HubConfig{
		Registry: registry,
		Settings: []oauth.Settings{srv.Settings("fake1", ""), srv.Settings("fake1", "")},
	})
	if !errors.Is(err, oauth.ErrConfiguration) {
		t.Errorf("duplicate provider error = %v", err)
	}

	if _, err := oauth.NewHub(oauth.HubConfig{Settings: []oauth.Settings{srv.Settings("nosuch", "")}}); !errors.Is(err, oauth.ErrConfiguration) {
		t.Errorf("unknown provider error = %v", err)
	}
}

func TestHubBreakerPerProvider(t *testing.T) {
	srv := oauthtest.NewServer()
	defer srv.Close()

	registry := oauth.NewRegistry()
	if err := registry.Define(srv.API1()); err != nil {
		t.Fatal(err)
	}
	if err := registry.Define(srv.API2(false)); err != nil {
		t.Fatal(err)
	}

	var built []string
	hub, err := oauth.NewHub(oauth.HubConfig{
		Registry: registry,
		Settings: []oauth.Settings{srv.Settings("FakeOne", ""), srv.Settings("FakeTwo", "")},
		Breaker: func(name string) oauth.CircuitBreaker {
			built = append(built, name)
			return oauth.NewDefaultCircuitBreaker(oauth.CircuitBreakerConfig{})
		},
	})
	if err != nil {
		t.Fatalf("NewHub() error = %v", err)
	}
	if len(built) != 2 {
		t.Fatalf("breakers built for %v", built)
	}

	a, _ := hub.Service("FakeOne")
	b, _ := hub.Service("FakeTwo")
	if a.Breaker() == nil || b.Breaker() == nil || a.Breaker() == b.Breaker() {
		t.Errorf("Breaker() = %p, %p", a.Breaker(), b.Breaker())
	}
}
