package auth

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/pitchy/client/durable"
)

const (
	// StateKey is the durable key holding the signed-in flag.
	StateKey = "vi_auth_state"

	flagValue = "1"

	defaultLogoutTimeout = 5 * time.Second
)

// Revoker invalidates the server-side session during logout.
type Revoker interface {
	Logout(ctx context.Context) error
}

// Store is the single source of truth for the Credential. The flag lives in
// the durable store so every process sharing the data directory converges on
// the same answer; other processes' writes arrive through durable.Store.Watch.
type Store struct {
	kv            durable.Store
	revoker       Revoker
	logoutTimeout time.Duration

	mu          sync.RWMutex
	current     Credential
	cancelWatch func()

	// notifyMu serializes listener delivery; delivered is the last value
	// handed to listeners.
	notifyMu  sync.Mutex
	delivered Credential

	listenerMu sync.RWMutex
	listeners  map[int]func(Credential)
	nextID     int
}

type Option func(*Store)

// WithRevoker sets the server call made by Clear.
func WithRevoker(r Revoker) Option {
	return func(s *Store) { s.revoker = r }
}

// WithLogoutTimeout bounds the server call made by Clear.
func WithLogoutTimeout(d time.Duration) Option {
	return func(s *Store) {
		if d > 0 {
			s.logoutTimeout = d
		}
	}
}

// NewStore returns a store reporting Unknown until Hydrate is called.
func NewStore(kv durable.Store, opts ...Option) *Store {
	s := &Store{
		kv:            kv,
		logoutTimeout: defaultLogoutTimeout,
		current:       Unknown(),
		delivered:     Unknown(),
		listeners:     make(map[int]func(Credential)),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Hydrate reads the persisted flag and starts following changes made by
// other processes. Calling it again re-reads the flag.
func (s *Store) Hydrate() Credential {
	s.mu.Lock()
	if s.cancelWatch == nil {
		s.cancelWatch = s.kv.Watch(s.onStorageChange)
	}
	s.mu.Unlock()

	cred := s.readFlag()
	s.transition(cred)
	return cred
}

// Snapshot returns the last known Credential without blocking on I/O.
func (s *Store) Snapshot() Credential {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.current
}

// Resolve picks the credential for one request: an explicit bearer token
// wins, otherwise the store's snapshot is used.
func (s *Store) Resolve(explicit Credential) Credential {
	if explicit.Kind() == KindBearer {
		return explicit
	}
	if snap := s.Snapshot(); snap.IsKnown() {
		return snap
	}
	return None()
}

// Subscribe registers fn to be called with the new Credential after every
// change, including changes made by other processes. Listeners run
// serially and must not call SetAuthenticated or Clear themselves.
func (s *Store) Subscribe(fn func(Credential)) (unsubscribe func()) {
	s.listenerMu.Lock()
	id := s.nextID
	s.nextID++
	s.listeners[id] = fn
	s.listenerMu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			s.listenerMu.Lock()
			delete(s.listeners, id)
			s.listenerMu.Unlock()
		})
	}
}

// SetAuthenticated records a successful login or registration. The
// in-memory state always changes; a persistence failure is returned so the
// caller can warn that other processes will not see the login.
func (s *Store) SetAuthenticated() error {
	err := s.kv.Set(StateKey, flagValue)
	if err != nil {
		slog.Warn("failed to persist auth state", "error", err)
	}
	s.transition(CookieSession())
	return err
}

// Clear signs out locally, asking the server to drop its session first.
// It never fails: a failed server call or storage error is logged and the
// local state is cleared regardless.
func (s *Store) Clear(ctx context.Context) {
	if s.revoker != nil {
		callCtx, cancel := context.WithTimeout(ctx, s.logoutTimeout)
		if err := s.revoker.Logout(callCtx); err != nil {
			slog.Warn("logout request failed", "error", err)
		}
		cancel()
	}

	if err := s.kv.Remove(StateKey); err != nil {
		slog.Warn("failed to remove auth state", "error", err)
	}
	s.transition(None())
}

// Close stops following other processes' changes.
func (s *Store) Close() {
	s.mu.Lock()
	cancel := s.cancelWatch
	s.cancelWatch = nil
	s.mu.Unlock()

	if cancel != nil {
		cancel()
	}
}

func (s *Store) readFlag() Credential {
	value, ok, err := s.kv.Get(StateKey)
	if err != nil {
		slog.Warn("failed to read auth state, treating as signed out", "error", err)
		return None()
	}
	return credentialFromFlag(value, ok)
}

func credentialFromFlag(value string, present bool) Credential {
	if present && value == flagValue {
		return CookieSession()
	}
	if present {
		slog.Warn("unexpected auth state value, treating as signed out")
	}
	return None()
}

func (s *Store) onStorageChange(c durable.Change) {
	if c.Key != StateKey {
		return
	}
	next := credentialFromFlag(c.Value, c.Present)
	slog.Debug("auth state changed by another process", "credential", next)
	s.transition(next)
}

func (s *Store) transition(next Credential) {
	s.mu.Lock()
	s.current = next
	s.mu.Unlock()

	s.notify()
}

// notify delivers the current value rather than the value that triggered it,
// so racing transitions always leave listeners on the final state.
func (s *Store) notify() {
	s.notifyMu.Lock()
	defer s.notifyMu.Unlock()

	cred := s.Snapshot()
	if cred == s.delivered {
		return
	}
	s.delivered = cred

	s.listenerMu.RLock()
	fns := make([]func(Credential), 0, len(s.listeners))
	for _, fn := range s.listeners {
		fns = append(fns, fn)
	}
	s.listenerMu.RUnlock()

	for _, fn := range fns {
		fn(cred)
	}
}
