// Package session drives one user's enhancement flow through its states:
// AwaitingCredential, Idle, Processing, then Complete or Failed until reset.
package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/asaskevich/EventBus"
	"github.com/fpang/lumina-enhancer/internal/auth"
	"github.com/fpang/lumina-enhancer/internal/ingest"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// viewTopic prefixes the per-subscriber event bus topics.
const viewTopic = "session:view"

var (
	// ErrInvalidTransition is returned when an operation is not allowed in
	// the current state.
	ErrInvalidTransition = errors.New("invalid state transition")
	// ErrCredentialUnavailable is returned when the prompt completed but no
	// credential is present afterwards.
	ErrCredentialUnavailable = errors.New("no credential present after selection")
)

// Enhancer turns an image into its enhanced version.
type Enhancer interface {
	Enhance(ctx context.Context, img ingest.ImagePayload) (ingest.ImagePayload, error)
}

// Session is safe for concurrent use.
type Session struct {
	id       string
	provider auth.Provider
	enhancer Enhancer
	bus      EventBus.Bus
	store    Store

	// op serializes transitions with their notifications.
	op sync.Mutex

	mu         sync.Mutex
	state      State
	rev        int64
	inflight   bool
	lastActive time.Time
	topics     map[string]struct{}
	subSeq     int
}

// New creates a session in AwaitingCredential.
func New(provider auth.Provider, enhancer Enhancer) *Session {
	return &Session{
		id:         uuid.NewString(),
		provider:   provider,
		enhancer:   enhancer,
		bus:        EventBus.New(),
		state:      AwaitingCredential{},
		lastActive: time.Now(),
		topics:     make(map[string]struct{}),
	}
}

// ID returns the session identifier.
func (s *Session) ID() string { return s.id }

// Provider returns the credential provider the session was created with.
func (s *Session) Provider() auth.Provider { return s.provider }

// State returns the current state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// View returns the current state as a View.
func (s *Session) View() View {
	return ViewOf(s.id, s.State())
}

// Result returns the stored result while the session is Complete.
func (s *Session) Result() (EnhancementResult, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if c, ok := s.state.(Complete); ok {
		return c.Result, true
	}
	return EnhancementResult{}, false
}

// LastActive reports when the session was last used.
func (s *Session) LastActive() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastActive
}

// CheckCredential moves AwaitingCredential to Idle when the provider has a
// credential. It reports whether the session is past AwaitingCredential.
func (s *Session) CheckCredential(ctx context.Context) bool {
	s.op.Lock()
	defer s.op.Unlock()

	if _, waiting := s.State().(AwaitingCredential); !waiting {
		s.touch()
		return true
	}
	if !s.provider.HasCredential(ctx) {
		return false
	}
	s.transition(Idle{})
	return true
}

// SelectCredential prompts the provider for a credential and, once one is
// confirmed present, moves AwaitingCredential to Idle. It is a no-op in any
// other state. The prompt runs without holding the session, so views and
// credential checks stay answerable while a dialog is open.
func (s *Session) SelectCredential(ctx context.Context) error {
	if _, waiting := s.State().(AwaitingCredential); !waiting {
		return nil
	}
	if err := s.provider.PromptForCredential(ctx); err != nil {
		return err
	}

	s.op.Lock()
	defer s.op.Unlock()
	if _, waiting := s.State().(AwaitingCredential); !waiting {
		return nil
	}
	if !s.provider.HasCredential(ctx) {
		log.Warn().Str("session", s.id).Msg("Credential prompt returned without a credential")
		return ErrCredentialUnavailable
	}
	s.transition(Idle{})
	return nil
}

// Submit ingests f and starts the enhancement. Ingestion errors are
// returned with the session left in Idle. On success the session is in
// Processing when Submit returns; the channel receives the terminal state
// (Complete or Failed) once and is then closed.
func (s *Session) Submit(ctx context.Context, f ingest.File) (<-chan State, error) {
	s.op.Lock()
	defer s.op.Unlock()

	if cur := s.State(); cur.Name() != NameIdle {
		return nil, fmt.Errorf("%w: submit while %s", ErrInvalidTransition, cur.Name())
	}

	payload, err := ingest.Ingest(ctx, f)
	if err != nil {
		s.touch()
		log.Info().Err(err).Str("session", s.id).Msg("Submission rejected")
		return nil, err
	}

	s.mu.Lock()
	s.inflight = true
	s.mu.Unlock()
	s.transition(Processing{Original: payload})

	done := make(chan State, 1)
	go s.run(ctx, payload, done)
	return done, nil
}

func (s *Session) run(ctx context.Context, payload ingest.ImagePayload, done chan<- State) {
	start := time.Now()
	enhanced, err := s.enhancer.Enhance(ctx, payload)

	var next State
	if err != nil {
		next = Failed{Message: err.Error(), Err: err}
		log.Error().Err(err).Str("session", s.id).Dur("duration", time.Since(start)).Msg("Enhancement failed")
	} else {
		next = Complete{Result: EnhancementResult{Original: payload, Enhanced: enhanced}}
		log.Info().Str("session", s.id).Int("enhanced_bytes", enhanced.Len()).Dur("duration", time.Since(start)).Msg("Enhancement complete")
	}

	s.op.Lock()
	s.transition(next)
	s.mu.Lock()
	s.inflight = false
	s.mu.Unlock()
	s.op.Unlock()

	done <- next
	close(done)
}

// Reset moves Complete or Failed back to Idle, discarding the result or
// message.
func (s *Session) Reset() error {
	s.op.Lock()
	defer s.op.Unlock()

	switch cur := s.State().(type) {
	case Complete, Failed:
		s.transition(Idle{})
		return nil
	default:
		return fmt.Errorf("%w: reset while %s", ErrInvalidTransition, cur.Name())
	}
}

// Subscribe registers fn for every later transition. Views are delivered
// in order on a separate goroutine. The returned func unsubscribes.
func (s *Session) Subscribe(fn func(View)) (unsubscribe func()) {
	s.mu.Lock()
	s.subSeq++
	topic := fmt.Sprintf("%s:%s:%d", viewTopic, s.id, s.subSeq)
	s.topics[topic] = struct{}{}
	s.mu.Unlock()

	if err := s.bus.SubscribeAsync(topic, fn, true); err != nil {
		log.Error().Err(err).Str("session", s.id).Msg("Failed to subscribe to session events")
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			s.mu.Lock()
			delete(s.topics, topic)
			s.mu.Unlock()
			_ = s.bus.Unsubscribe(topic, fn)
		})
	}
}

// WaitDelivered blocks until all published views have been delivered.
func (s *Session) WaitDelivered() {
	s.bus.WaitAsync()
}

// transition must be called with op held.
func (s *Session) transition(next State) {
	s.mu.Lock()
	prev := s.state
	s.rev = nextRevision(s.rev)
	rev := s.rev
	s.state = next
	s.lastActive = time.Now()
	s.mu.Unlock()

	log.Debug().
		Str("session", s.id).
		Str("from", prev.Name()).
		Str("to", next.Name()).
		Msg("Session state changed")

	s.save(rev, next)
	s.publish(next)
}

// apply installs a state loaded from the store. It must be called with op
// held.
func (s *Session) apply(rev int64, st State) {
	s.mu.Lock()
	prev := s.state
	s.state, s.rev = st, rev
	s.lastActive = time.Now()
	s.mu.Unlock()

	if prev.Name() != st.Name() {
		log.Debug().
			Str("session", s.id).
			Str("from", prev.Name()).
			Str("to", st.Name()).
			Msg("Session state loaded from store")
	}
	s.publish(st)
}

func (s *Session) publish(st State) {
	s.mu.Lock()
	topics := make([]string, 0, len(s.topics))
	for t := range s.topics {
		topics = append(topics, t)
	}
	s.mu.Unlock()

	view := ViewOf(s.id, st)
	for _, t := range topics {
		s.bus.Publish(t, view)
	}
}

func (s *Session) touch() {
	s.mu.Lock()
	s.lastActive = time.Now()
	s.mu.Unlock()
}
