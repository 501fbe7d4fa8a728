package session

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// Registry holds the live sessions of a multi-user host. With a Store,
// sessions are shared between processes: Get loads sessions created
// elsewhere and picks up states written by other processes.
type Registry struct {
	newSession func() *Session
	store      Store

	mu       sync.Mutex
	sessions map[string]*Session
}

// RegistryOption configures a Registry.
type RegistryOption func(*Registry)

// WithStore persists every session state to st.
func WithStore(st Store) RegistryOption {
	return func(r *Registry) { r.store = st }
}

// NewRegistry creates a registry that builds sessions with newSession.
func NewRegistry(newSession func() *Session, opts ...RegistryOption) *Registry {
	r := &Registry{newSession: newSession, sessions: make(map[string]*Session)}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Create builds and registers a new session.
func (r *Registry) Create() *Session {
	s := r.newSession()
	s.store = r.store
	if r.store != nil {
		s.op.Lock()
		s.mu.Lock()
		s.rev = nextRevision(s.rev)
		rev, st := s.rev, s.state
		s.mu.Unlock()
		s.save(rev, st)
		s.op.Unlock()
	}
	r.mu.Lock()
	r.sessions[s.ID()] = s
	r.mu.Unlock()
	log.Debug().Str("session", s.ID()).Msg("Session created")
	return s
}

// Get returns the session with id. With a Store, a session unknown to this
// process is loaded from it, and a known one is brought up to date.
func (r *Registry) Get(ctx context.Context, id string) (*Session, bool) {
	r.mu.Lock()
	s, ok := r.sessions[id]
	r.mu.Unlock()

	if r.store == nil {
		return s, ok
	}
	if ok {
		if err := s.refresh(ctx); err != nil && !errors.Is(err, ErrNotStored) {
			log.Warn().Err(err).Str("session", id).Msg("Failed to refresh session from store")
		}
		return s, true
	}

	s = r.newSession()
	s.id = id
	s.store = r.store
	if err := s.refresh(ctx); err != nil {
		if !errors.Is(err, ErrNotStored) {
			log.Warn().Err(err).Str("session", id).Msg("Failed to load session from store")
		}
		return nil, false
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if existing, raced := r.sessions[id]; raced {
		return existing, true
	}
	r.sessions[id] = s
	log.Debug().Str("session", id).Str("state", s.State().Name()).Msg("Session loaded from store")
	return s, true
}

// Len returns the number of live sessions.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}

// Sweep drops sessions idle for longer than ttl. Sessions in Processing are
// kept. It returns the number removed.
func (r *Registry) Sweep(ttl time.Duration) int {
	cutoff := time.Now().Add(-ttl)
	r.mu.Lock()
	defer r.mu.Unlock()

	removed := 0
	for id, s := range r.sessions {
		if _, busy := s.State().(Processing); busy {
			continue
		}
		if s.LastActive().Before(cutoff) {
			delete(r.sessions, id)
			removed++
		}
	}
	if removed > 0 {
		log.Info().Int("removed", removed).Int("remaining", len(r.sessions)).Msg("Idle sessions swept")
	}
	return removed
}

// Run sweeps every ttl/2 until ctx is done.
func (r *Registry) Run(ctx context.Context, ttl time.Duration) {
	if ttl <= 0 {
		return
	}
	ticker := time.NewTicker(ttl / 2)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.Sweep(ttl)
		}
	}
}
