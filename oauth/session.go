package oauth

import (
	"context"
	"sync"
	"time"
)

// DefaultIdentity is used when the context carries no identity, e.g. in
// single-user processes such as the CLI.
const DefaultIdentity = "default"

type identityKey struct{}

// WithIdentity returns a context whose sessions belong to identity.
func WithIdentity(ctx context.Context, identity string) context.Context {
	return context.WithValue(ctx, identityKey{}, identity)
}

// IdentityFrom returns the identity carried by ctx, or DefaultIdentity.
func IdentityFrom(ctx context.Context) string {
	if id, ok := ctx.Value(identityKey{}).(string); ok && id != "" {
		return id
	}
	return DefaultIdentity
}

// Session is the per (identity, provider) token state. It is safe for
// concurrent use; token exchanges on the same session are serialized.
type Session struct {
	identity     string
	providerName string
	createdAt    time.Time

	// exchange serializes token acquisition.
	exchange sync.Mutex

	mu           sync.RWMutex
	requestToken Token
	accessToken  Token
	verifier     string
	state        string
	pkceVerifier string
}

// NewSession returns an empty session.
func NewSession(identity, providerName string) *Session {
	return &Session{identity: identity, providerName: providerName, createdAt: time.Now().UTC()}
}

func (s *Session) Identity() string     { return s.identity }
func (s *Session) ProviderName() string { return s.providerName }

func (s *Session) CreatedAt() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.createdAt
}

func (s *Session) RequestToken() Token {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.requestToken
}

func (s *Session) AccessToken() Token {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.accessToken
}

func (s *Session) Verifier() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.verifier
}

// State is the CSRF value of the last 2.0 authorization URL.
func (s *Session) State() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// IsConnected reports whether an access token is present.
func (s *Session) IsConnected() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return !s.accessToken.IsZero()
}

func (s *Session) pkce() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.pkceVerifier
}

func (s *Session) setRequestToken(t Token) {
	s.mu.Lock()
	s.requestToken = t
	s.mu.Unlock()
}

func (s *Session) setVerifier(v string) {
	s.mu.Lock()
	s.verifier = v
	s.mu.Unlock()
}

func (s *Session) setAuthorization(state, pkceVerifier string) {
	s.mu.Lock()
	s.state, s.pkceVerifier = state, pkceVerifier
	s.mu.Unlock()
}

// setAccessToken stores t and drops the authorization material that was
// used to get it.
func (s *Session) setAccessToken(t Token) {
	s.mu.Lock()
	s.accessToken = t
	s.requestToken = Token{}
	s.verifier, s.state, s.pkceVerifier = "", "", ""
	s.mu.Unlock()
}

func (s *Session) reset() {
	s.mu.Lock()
	s.accessToken, s.requestToken = Token{}, Token{}
	s.verifier, s.state, s.pkceVerifier = "", "", ""
	s.mu.Unlock()
}

// SessionSnapshot is the serializable image of a Session.
type SessionSnapshot struct {
	Identity     string         `json:"identity"`
	Provider     string         `json:"provider"`
	RequestToken *TokenSnapshot `json:"request_token,omitempty"`
	AccessToken  *TokenSnapshot `json:"access_token,omitempty"`
	Verifier     string         `json:"verifier,omitempty"`
	State        string         `json:"state,omitempty"`
	PKCEVerifier string         `json:"pkce_verifier,omitempty"`
	CreatedAt    time.Time      `json:"created_at"`
}

// Snapshot copies the session state.
func (s *Session) Snapshot() SessionSnapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return SessionSnapshot{
		Identity:     s.identity,
		Provider:     s.providerName,
		RequestToken: s.requestToken.snapshot(),
		AccessToken:  s.accessToken.snapshot(),
		Verifier:     s.verifier,
		State:        s.state,
		PKCEVerifier: s.pkceVerifier,
		CreatedAt:    s.createdAt,
	}
}

// RestoreSession rebuilds a session from a snapshot.
func RestoreSession(snap SessionSnapshot) *Session {
	s := &Session{identity: snap.Identity, providerName: snap.Provider}
	s.load(snap)
	return s
}

// load replaces the token state with the snapshot's. Identity and provider
// are kept.
func (s *Session) load(snap SessionSnapshot) {
	s.mu.Lock()
	s.createdAt = snap.CreatedAt
	s.requestToken = snap.RequestToken.token()
	s.accessToken = snap.AccessToken.token()
	s.verifier = snap.Verifier
	s.state = snap.State
	s.pkceVerifier = snap.PKCEVerifier
	s.mu.Unlock()
}
