// Package oauthtest provides a fake OAuth provider and test doubles for the
// oauth package.
package oauthtest

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"strings"
	"sync"

	"github.com/gobeaver/beaver-social/oauth"
)

// Consumer credentials accepted by Server.
const (
	ConsumerKey    = "test-consumer-key"
	ConsumerSecret = "test-consumer-secret"
)

// Profile is returned by GET /api/me.
type Profile struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// Server is an OAuth 1.0a and 2.0 provider backed by httptest.
//
//	POST /oauth1/request_token   GET /oauth1/authorize   POST /oauth1/access_token
//	GET  /oauth2/authorize       POST /oauth2/token
//	GET  /api/me                 POST /api/posts         PUT|DELETE /api/posts/{id}
//	GET  /api/status/{code}      GET  /api/public
//
// Every /api route except /api/public requires a valid 1.0a signature or
// bearer token.
type Server struct {
	*httptest.Server

	mu            sync.Mutex
	seq           int
	calls         map[string]int
	nonces        map[string]bool
	requestTokens map[string]pending
	accessTokens  map[string]string
	codes         map[string]grant
	bearers       map[string]bool
	refreshTokens map[string]string
	lastHeader    http.Header
}

type pending struct {
	secret   string
	callback string
	verifier string
}

type grant struct {
	redirectURI string
	challenge   string
}

// NewServer starts a fake provider. Callers close it.
func NewServer() *Server {
	s := &Server{
		calls:         make(map[string]int),
		nonces:        make(map[string]bool),
		requestTokens: make(map[string]pending),
		accessTokens:  make(map[string]string),
		codes:         make(map[string]grant),
		bearers:       make(map[string]bool),
		refreshTokens: make(map[string]string),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("POST /oauth1/request_token", s.requestToken)
	mux.HandleFunc("GET /oauth1/authorize", s.authorize1)
	mux.HandleFunc("POST /oauth1/access_token", s.accessToken1)
	mux.HandleFunc("GET /oauth2/authorize", s.authorize2)
	mux.HandleFunc("POST /oauth2/token", s.token2)
	mux.HandleFunc("GET /api/me", s.authenticated(s.me))
	mux.HandleFunc("POST /api/posts", s.authenticated(s.createPost))
	mux.HandleFunc("PUT /api/posts/{id}", s.authenticated(s.noContent))
	mux.HandleFunc("DELETE /api/posts/{id}", s.authenticated(s.noContent))
	mux.HandleFunc("GET /api/status/{code}", s.authenticated(s.status))
	mux.HandleFunc("GET /api/public", s.public)

	s.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.mu.Lock()
		s.calls[r.URL.Path]++
		s.lastHeader = r.Header.Clone()
		s.mu.Unlock()
		mux.ServeHTTP(w, r)
	}))
	return s
}

// API1 describes the 1.0a endpoints.
func (s *Server) API1() oauth.API {
	return oauth.API{
		ID:              "FakeOneApi",
		Version:         oauth.Version10,
		RequestTokenURL: s.URL + "/oauth1/request_token",
		AuthorizeURL:    s.URL + "/oauth1/authorize",
		AccessTokenURL:  s.URL + "/oauth1/access_token",
		BaseURL:         s.URL + "/api",
	}
}

// API2 describes the 2.0 endpoints.
func (s *Server) API2(pkce bool) oauth.API {
	return oauth.API{
		ID:           "FakeTwoApi",
		Version:      oauth.Version20,
		AuthorizeURL: s.URL + "/oauth2/authorize",
		TokenURL:     s.URL + "/oauth2/token",
		AuthStyle:    "header",
		PKCE:         pkce,
		DefaultScope: []string{"read", "write"},
		BaseURL:      s.URL + "/api",
	}
}

// Settings returns settings accepted by the server.
func (s *Server) Settings(providerName, callback string) oauth.Settings {
	return oauth.Settings{
		APIKey:       ConsumerKey,
		APISecret:    ConsumerSecret,
		Callback:     callback,
		ProviderName: providerName,
	}
}

// Calls returns how many requests hit path.
func (s *Server) Calls(path string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls[path]
}

// LastHeader returns the headers of the last request.
func (s *Server) LastHeader() http.Header {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastHeader.Clone()
}

// Approve plays the user granting access on the authorization page and
// returns the verifier (1.0a) or code (2.0) the provider would append to
// the callback.
func (s *Server) Approve(authURL string) (string, error) {
	u, err := url.Parse(authURL)
	if err != nil {
		return "", err
	}
	q := u.Query()

	s.mu.Lock()
	defer s.mu.Unlock()

	switch u.Path {
	case "/oauth1/authorize":
		v, _, err := s.approve1(q.Get("oauth_token"))
		return v, err
	case "/oauth2/authorize":
		code, err := s.approve2(q)
		return code, err
	}
	return "", fmt.Errorf("oauthtest: %s is not an authorization url", authURL)
}

// approve1 must be called with mu held.
func (s *Server) approve1(requestToken string) (verifier, callback string, err error) {
	p, ok := s.requestTokens[requestToken]
	if !ok {
		return "", "", fmt.Errorf("oauthtest: unknown request token %q", requestToken)
	}
	s.seq++
	p.verifier = fmt.Sprintf("verifier-%d", s.seq)
	s.requestTokens[requestToken] = p
	return p.verifier, p.callback, nil
}

// approve2 must be called with mu held.
func (s *Server) approve2(q url.Values) (string, error) {
	if q.Get("client_id") != ConsumerKey {
		return "", fmt.Errorf("oauthtest: unknown client %q", q.Get("client_id"))
	}
	if q.Get("response_type") != "code" {
		return "", fmt.Errorf("oauthtest: unsupported response type %q", q.Get("response_type"))
	}
	g := grant{redirectURI: q.Get("redirect_uri")}
	if c := q.Get("code_challenge"); c != "" {
		if q.Get("code_challenge_method") != "S256" {
			return "", fmt.Errorf("oauthtest: unsupported challenge method %q", q.Get("code_challenge_method"))
		}
		g.challenge = c
	}
	s.seq++
	code := fmt.Sprintf("code-%d", s.seq)
	s.codes[code] = g
	return code, nil
}

func (s *Server) requestToken(w http.ResponseWriter, r *http.Request) {
	params, ok := s.verify1(r, func(map[string]string) (string, bool) { return "", true })
	if !ok {
		http.Error(w, "invalid signature", http.StatusUnauthorized)
		return
	}

	s.mu.Lock()
	s.seq++
	token, secret := fmt.Sprintf("request-%d", s.seq), fmt.Sprintf("request-secret-%d", s.seq)
	s.requestTokens[token] = pending{secret: secret, callback: params["oauth_callback"]}
	s.mu.Unlock()

	writeForm(w, url.Values{
		"oauth_token":              {token},
		"oauth_token_secret":       {secret},
		"oauth_callback_confirmed": {"true"},
	})
}

func (s *Server) authorize1(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	verifier, callback, err := s.approve1(r.URL.Query().Get("oauth_token"))
	s.mu.Unlock()
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if callback == "" || callback == "oob" {
		fmt.Fprint(w, verifier)
		return
	}
	redirect(w, r, callback, url.Values{
		"oauth_token":    {r.URL.Query().Get("oauth_token")},
		"oauth_verifier": {verifier},
	})
}

func (s *Server) accessToken1(w http.ResponseWriter, r *http.Request) {
	var requestToken string
	params, ok := s.verify1(r, func(p map[string]string) (string, bool) {
		requestToken = p["oauth_token"]
		pt, found := s.requestTokens[requestToken]
		return pt.secret, found
	})
	if !ok {
		http.Error(w, "invalid signature", http.StatusUnauthorized)
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	p := s.requestTokens[requestToken]
	if p.verifier == "" || !hmac.Equal([]byte(p.verifier), []byte(params["oauth_verifier"])) {
		http.Error(w, "invalid verifier", http.StatusUnauthorized)
		return
	}
	delete(s.requestTokens, requestToken)

	s.seq++
	token, secret := fmt.Sprintf("access-%d", s.seq), fmt.Sprintf("access-secret-%d", s.seq)
	s.accessTokens[token] = secret

	writeForm(w, url.Values{
		"oauth_token":        {token},
		"oauth_token_secret": {secret},
		"screen_name":        {"tester"},
		"user_id":            {"42"},
	})
}

func (s *Server) authorize2(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	s.mu.Lock()
	code, err := s.approve2(q)
	s.mu.Unlock()
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	redirect(w, r, q.Get("redirect_uri"), url.Values{"code": {code}, "state": {q.Get("state")}})
}

func (s *Server) token2(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		tokenError(w, "invalid_request", err.Error())
		return
	}

	id, secret, ok := r.BasicAuth()
	if !ok {
		id, secret = r.PostForm.Get("client_id"), r.PostForm.Get("client_secret")
	}
	if id != ConsumerKey || secret != ConsumerSecret {
		w.WriteHeader(http.StatusUnauthorized)
		writeJSON(w, map[string]string{"error": "invalid_client"})
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	switch grantType := r.PostForm.Get("grant_type"); grantType {
	case "authorization_code":
		s.codeGrant(w, r.PostForm)
	case "refresh_token":
		s.refreshGrant(w, r.PostForm)
	default:
		tokenError(w, "unsupported_grant_type", grantType)
	}
}

// codeGrant redeems an authorization code. s.mu must be held.
func (s *Server) codeGrant(w http.ResponseWriter, form url.Values) {
	code := form.Get("code")
	g, found := s.codes[code]
	if !found {
		tokenError(w, "invalid_grant", "unknown or used authorization code")
		return
	}
	delete(s.codes, code)

	if g.redirectURI != form.Get("redirect_uri") {
		tokenError(w, "invalid_grant", "redirect_uri mismatch")
		return
	}
	if g.challenge != "" {
		sum := sha256.Sum256([]byte(form.Get("code_verifier")))
		if base64.RawURLEncoding.EncodeToString(sum[:]) != g.challenge {
			tokenError(w, "invalid_grant", "code_verifier does not match challenge")
			return
		}
	}
	s.issueBearer(w)
}

// refreshGrant rotates a refresh token: the old one and its bearer stop
// working. s.mu must be held.
func (s *Server) refreshGrant(w http.ResponseWriter, form url.Values) {
	refresh := form.Get("refresh_token")
	bearer, found := s.refreshTokens[refresh]
	if !found {
		tokenError(w, "invalid_grant", "unknown or used refresh token")
		return
	}
	delete(s.refreshTokens, refresh)
	delete(s.bearers, bearer)
	s.issueBearer(w)
}

func (s *Server) issueBearer(w http.ResponseWriter) {
	s.seq++
	token := fmt.Sprintf("bearer-%d", s.seq)
	refresh := fmt.Sprintf("refresh-%d", s.seq)
	s.bearers[token] = true
	s.refreshTokens[refresh] = token

	writeJSON(w, map[string]any{
		"access_token":  token,
		"token_type":    "Bearer",
		"expires_in":    3600,
		"refresh_token": refresh,
		"scope":         "read write",
	})
}

func (s *Server) authenticated(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		auth := r.Header.Get("Authorization")
		if bearer, ok := strings.CutPrefix(auth, "Bearer "); ok {
			s.mu.Lock()
			valid := s.bearers[bearer]
			s.mu.Unlock()
			if valid {
				next(w, r)
				return
			}
		} else if _, ok := s.verify1(r, func(p map[string]string) (string, bool) {
			secret, found := s.accessTokens[p["oauth_token"]]
			return secret, found
		}); ok {
			next(w, r)
			return
		}
		http.Error(w, "unauthorized", http.StatusUnauthorized)
	}
}

func (s *Server) me(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, Profile{ID: "42", Name: "Test User"})
}

func (s *Server) createPost(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	s.seq++
	id := s.seq
	s.mu.Unlock()

	w.Header().Set("Location", fmt.Sprintf("%s/api/posts/%d", s.URL, id))
	w.WriteHeader(http.StatusCreated)
}

func (s *Server) noContent(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) status(w http.ResponseWriter, r *http.Request) {
	code, err := strconv.Atoi(r.PathValue("code"))
	if err != nil || code < 100 || code > 599 {
		http.Error(w, "bad status", http.StatusBadRequest)
		return
	}
	w.WriteHeader(code)
	fmt.Fprintf(w, `{"status":%d}`, code)
}

func (s *Server) public(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, map[string]string{"visibility": "public"})
}

// verify1 checks the OAuth 1.0a signature of r. secretFor returns the
// token secret for the request's oauth_token; it is called with mu held.
func (s *Server) verify1(r *http.Request, secretFor func(map[string]string) (string, bool)) (map[string]string, bool) {
	params, ok := parseAuthorization(r.Header.Get("Authorization"))
	if !ok || params["oauth_consumer_key"] != ConsumerKey {
		return nil, false
	}
	if err := r.ParseForm(); err != nil {
		return nil, false
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	nonce := params["oauth_timestamp"] + ":" + params["oauth_nonce"]
	if params["oauth_nonce"] == "" || s.nonces[nonce] {
		return nil, false
	}
	tokenSecret, found := secretFor(params)
	if !found {
		return nil, false
	}

	want, ok := expectedSignature(params["oauth_signature_method"], signatureBase(r, params), ConsumerSecret, tokenSecret)
	if !ok {
		return nil, false
	}

	if !hmac.Equal([]byte(want), []byte(params["oauth_signature"])) {
		return nil, false
	}
	s.nonces[nonce] = true
	return params, true
}

func redirect(w http.ResponseWriter, r *http.Request, target string, params url.Values) {
	u, err := url.Parse(target)
	if err != nil || target == "" {
		http.Error(w, "invalid redirect target", http.StatusBadRequest)
		return
	}
	q := u.Query()
	for k, vs := range params {
		for _, v := range vs {
			q.Add(k, v)
		}
	}
	u.RawQuery = q.Encode()
	http.Redirect(w, r, u.String(), http.StatusFound)
}

func writeForm(w http.ResponseWriter, v url.Values) {
	w.Header().Set("Content-Type", "application/x-www-form-urlencoded")
	fmt.Fprint(w, v.Encode())
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

func tokenError(w http.ResponseWriter, code, description string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusBadRequest)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": code, "error_description": description})
}
