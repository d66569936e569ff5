package oauth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/gobeaver/beaver-social/cache"
	"github.com/gobeaver/beaver-social/krypto"
)

// SessionResolver locates the session of an identity for a provider,
// creating an empty one when none exists.
type SessionResolver interface {
	Resolve(ctx context.Context, identity, providerName string) (*Session, error)
}

// SessionSaver is implemented by resolvers that persist sessions. The
// service saves after every state transition.
type SessionSaver interface {
	Save(ctx context.Context, s *Session) error
}

// SessionRefresher is implemented by resolvers whose sessions can change
// outside this process. The service refreshes a session under its exchange
// lock before changing it.
type SessionRefresher interface {
	Refresh(ctx context.Context, s *Session) error
}

// SessionForgetter is implemented by resolvers that can drop a session.
type SessionForgetter interface {
	Forget(ctx context.Context, identity, providerName string) error
}

// sessionLookup is the storage side of the two-phase resolution.
type sessionLookup interface {
	// byIdentity returns every session held for identity.
	byIdentity(ctx context.Context, identity string) ([]*Session, error)
	// byKey returns the session for the compound key.
	byKey(ctx context.Context, identity, providerName string) (*Session, bool, error)
	// create returns the session for the key, creating it if needed.
	create(ctx context.Context, identity, providerName string) (*Session, error)
}

// resolveTwoPhase looks sessions up by identity alone first. A single
// candidate for the same provider is returned directly; several candidates
// are ambiguous and the lookup is narrowed to (identity, provider).
func resolveTwoPhase(ctx context.Context, l sessionLookup, identity, providerName string) (*Session, error) {
	candidates, err := l.byIdentity(ctx, identity)
	if err != nil {
		return nil, err
	}

	switch len(candidates) {
	case 0:
		return l.create(ctx, identity, providerName)
	case 1:
		if candidates[0].ProviderName() == providerName {
			return candidates[0], nil
		}
	}

	s, ok, err := l.byKey(ctx, identity, providerName)
	if err != nil {
		return nil, err
	}
	if ok {
		return s, nil
	}
	return l.create(ctx, identity, providerName)
}

// MemoryResolver keeps sessions in process memory.
type MemoryResolver struct {
	mu       sync.Mutex
	sessions map[string]map[string]*Session
}

func NewMemoryResolver() *MemoryResolver {
	return &MemoryResolver{sessions: make(map[string]map[string]*Session)}
}

func (r *MemoryResolver) Resolve(ctx context.Context, identity, providerName string) (*Session, error) {
	return resolveTwoPhase(ctx, r, identity, providerName)
}

func (r *MemoryResolver) byIdentity(_ context.Context, identity string) ([]*Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]*Session, 0, len(r.sessions[identity]))
	for _, s := range r.sessions[identity] {
		out = append(out, s)
	}
	return out, nil
}

func (r *MemoryResolver) byKey(_ context.Context, identity, providerName string) (*Session, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.sessions[identity][providerName]
	return s, ok, nil
}

func (r *MemoryResolver) create(_ context.Context, identity, providerName string) (*Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	byProvider, ok := r.sessions[identity]
	if !ok {
		byProvider = make(map[string]*Session)
		r.sessions[identity] = byProvider
	}
	if s, ok := byProvider[providerName]; ok {
		return s, nil
	}
	s := NewSession(identity, providerName)
	byProvider[providerName] = s
	return s, nil
}

func (r *MemoryResolver) Forget(_ context.Context, identity, providerName string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	delete(r.sessions[identity], providerName)
	if len(r.sessions[identity]) == 0 {
		delete(r.sessions, identity)
	}
	return nil
}

// StoreResolver persists sessions in a cache.Cache (memory or Redis) so
// they survive restarts and are shared between processes. The store is the
// source of truth: every resolution reads it. Sessions stay resident in
// process memory only so that concurrent requests share one exchange lock;
// residents idle for longer than the session TTL are dropped.
type StoreResolver struct {
	store  cache.Cache
	sealer krypto.Sealer
	ttl    time.Duration
	now    func() time.Time

	mu        sync.Mutex
	resident  map[string]*resident
	lastSweep time.Time
}

type resident struct {
	s    *Session
	seen time.Time
}

// defaultResidentIdle bounds residency when the TTL is left to the cache.
const defaultResidentIdle = 10 * time.Minute

// StoreOption customizes a StoreResolver.
type StoreOption func(*StoreResolver)

// WithSealer encrypts stored sessions.
func WithSealer(s krypto.Sealer) StoreOption {
	return func(r *StoreResolver) { r.sealer = s }
}

// WithSessionTTL sets the stored session lifetime. Zero uses the cache
// default.
func WithSessionTTL(ttl time.Duration) StoreOption {
	return func(r *StoreResolver) { r.ttl = ttl }
}

func NewStoreResolver(store cache.Cache, opts ...StoreOption) *StoreResolver {
	r := &StoreResolver{store: store, now: time.Now, resident: make(map[string]*resident)}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func sessionKey(identity, providerName string) string {
	return "session:" + identity + ":" + providerName
}

func indexKey(identity string) string {
	return "identity:" + identity
}

func (r *StoreResolver) Resolve(ctx context.Context, identity, providerName string) (*Session, error) {
	s, err := resolveTwoPhase(ctx, r, identity, providerName)
	if err != nil {
		return nil, fmt.Errorf("oauth: resolve session: %w", err)
	}
	return s, nil
}

func (r *StoreResolver) byIdentity(ctx context.Context, identity string) ([]*Session, error) {
	providers, err := r.index(ctx, identity)
	if err != nil {
		return nil, err
	}

	out := make([]*Session, 0, len(providers))
	for _, p := range providers {
		s, ok, err := r.byKey(ctx, identity, p)
		if err != nil {
			return nil, err
		}
		if ok {
			out = append(out, s)
		}
	}
	return out, nil
}

func (r *StoreResolver) byKey(ctx context.Context, identity, providerName string) (*Session, bool, error) {
	key := sessionKey(identity, providerName)

	r.mu.Lock()
	defer r.mu.Unlock()
	r.sweep()

	snap, ok, err := r.load(ctx, key)
	if err != nil {
		return nil, false, err
	}
	if !ok {
		delete(r.resident, key)
		return nil, false, nil
	}

	if e, ok := r.resident[key]; ok {
		e.seen = r.now()
		// A session held for an exchange is refreshed by its holder.
		if e.s.exchange.TryLock() {
			e.s.load(snap)
			e.s.exchange.Unlock()
		}
		return e.s, true, nil
	}

	s := RestoreSession(snap)
	r.resident[key] = &resident{s: s, seen: r.now()}
	return s, true, nil
}

func (r *StoreResolver) create(ctx context.Context, identity, providerName string) (*Session, error) {
	key := sessionKey(identity, providerName)

	r.mu.Lock()
	e, ok := r.resident[key]
	if ok {
		e.seen = r.now()
	} else {
		e = &resident{s: NewSession(identity, providerName), seen: r.now()}
		r.resident[key] = e
	}
	r.mu.Unlock()

	if ok {
		return e.s, nil
	}
	return e.s, r.Save(ctx, e.s)
}

// Refresh reloads s from the store. A session gone from the store, expired
// or forgotten by another process, is reset.
func (r *StoreResolver) Refresh(ctx context.Context, s *Session) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	snap, ok, err := r.load(ctx, sessionKey(s.Identity(), s.ProviderName()))
	if err != nil {
		return fmt.Errorf("oauth: refresh session: %w", err)
	}
	if !ok {
		s.reset()
		return nil
	}
	s.load(snap)
	return nil
}

// Save writes the session and records its provider in the identity index.
func (r *StoreResolver) Save(ctx context.Context, s *Session) error {
	data, err := r.encode(s.Snapshot())
	if err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if err := r.store.Set(ctx, sessionKey(s.Identity(), s.ProviderName()), data, r.ttl); err != nil {
		return fmt.Errorf("oauth: save session: %w", err)
	}

	providers, err := r.index(ctx, s.Identity())
	if err != nil {
		return err
	}
	if slices.Contains(providers, s.ProviderName()) {
		return nil
	}
	return r.writeIndex(ctx, s.Identity(), append(providers, s.ProviderName()))
}

func (r *StoreResolver) Forget(ctx context.Context, identity, providerName string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	delete(r.resident, sessionKey(identity, providerName))
	if err := r.store.Delete(ctx, sessionKey(identity, providerName)); err != nil {
		return fmt.Errorf("oauth: forget session: %w", err)
	}

	providers, err := r.index(ctx, identity)
	if err != nil {
		return err
	}
	providers = slices.DeleteFunc(providers, func(p string) bool { return p == providerName })
	if len(providers) == 0 {
		return r.store.Delete(ctx, indexKey(identity))
	}
	return r.writeIndex(ctx, identity, providers)
}

// Resident returns the number of sessions held in process memory.
func (r *StoreResolver) Resident() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.resident)
}

// sweep drops residents not resolved within the idle window. Sessions held
// for an exchange are kept. r.mu must be held.
func (r *StoreResolver) sweep() {
	idle := defaultResidentIdle
	if r.ttl > 0 {
		idle = r.ttl
	}
	now := r.now()
	if now.Sub(r.lastSweep) < idle {
		return
	}
	r.lastSweep = now

	for key, e := range r.resident {
		if now.Sub(e.seen) < idle || !e.s.exchange.TryLock() {
			continue
		}
		delete(r.resident, key)
		e.s.exchange.Unlock()
	}
}

func (r *StoreResolver) load(ctx context.Context, key string) (SessionSnapshot, bool, error) {
	data, err := r.store.Get(ctx, key)
	if errors.Is(err, cache.ErrKeyNotFound) {
		return SessionSnapshot{}, false, nil
	}
	if err != nil {
		return SessionSnapshot{}, false, err
	}
	snap, err := r.decode(data)
	if err != nil {
		return SessionSnapshot{}, false, err
	}
	return snap, true, nil
}

func (r *StoreResolver) index(ctx context.Context, identity string) ([]string, error) {
	data, err := r.store.Get(ctx, indexKey(identity))
	if errors.Is(err, cache.ErrKeyNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var providers []string
	if err := json.Unmarshal(data, &providers); err != nil {
		return nil, fmt.Errorf("oauth: corrupt session index for %q: %w", identity, err)
	}
	return providers, nil
}

func (r *StoreResolver) writeIndex(ctx context.Context, identity string, providers []string) error {
	data, err := json.Marshal(providers)
	if err != nil {
		return err
	}
	return r.store.Set(ctx, indexKey(identity), data, r.ttl)
}

func (r *StoreResolver) encode(snap SessionSnapshot) ([]byte, error) {
	data, err := json.Marshal(snap)
	if err != nil {
		return nil, fmt.Errorf("oauth: encode session: %w", err)
	}
	if r.sealer == nil {
		return data, nil
	}
	sealed, err := r.sealer.Seal(data)
	if err != nil {
		return nil, fmt.Errorf("oauth: seal session: %w", err)
	}
	return []byte(sealed), nil
}

func (r *StoreResolver) decode(data []byte) (SessionSnapshot, error) {
	var snap SessionSnapshot
	if r.sealer != nil {
		opened, err := r.sealer.Open(string(data))
		if err != nil {
			return snap, fmt.Errorf("oauth: open session: %w", err)
		}
		data = opened
	}

	if err := json.Unmarshal(data, &snap); err != nil {
		return snap, fmt.Errorf("oauth: decode session: %w", err)
	}
	return snap, nil
}
