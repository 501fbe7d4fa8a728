package session

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog/log"
)

// ErrNotStored is returned by a Store that has no record of a session.
var ErrNotStored = errors.New("session not stored")

// ErrInterrupted is the failure recorded for a stored session that stayed
// in Processing longer than InterruptedAfter, e.g. because its host died.
var ErrInterrupted = errors.New("enhancement interrupted")

// InterruptedAfter is how long a stored Processing state is trusted.
const InterruptedAfter = 15 * time.Minute

// storeTimeout bounds one Save or Load.
const storeTimeout = 10 * time.Second

// Store persists session states so a session can continue in another
// process. Revisions increase with every transition.
type Store interface {
	// Save records st as revision rev of session id.
	Save(ctx context.Context, id string, rev int64, st State) error
	// Load returns the stored state and its revision. When the stored
	// revision equals known the State is nil and no payload is fetched.
	// Unknown sessions yield ErrNotStored.
	Load(ctx context.Context, id string, known int64) (State, int64, error)
}

// nextRevision returns a time-based revision greater than prev.
func nextRevision(prev int64) int64 {
	rev := time.Now().UnixNano()
	if rev <= prev {
		rev = prev + 1
	}
	return rev
}

// save writes st to the store, if any. Failures are logged; the local
// state stays authoritative for this process.
func (s *Session) save(rev int64, st State) {
	if s.store == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), storeTimeout)
	defer cancel()
	if err := s.store.Save(ctx, s.id, rev, st); err != nil {
		log.Error().Err(err).Str("session", s.id).Str("state", st.Name()).Msg("Failed to persist session state")
	}
}

// refresh replaces the local state with a newer stored one. Sessions with
// an enhancement running in this process are left alone.
func (s *Session) refresh(ctx context.Context) error {
	if s.store == nil {
		return nil
	}
	s.op.Lock()
	defer s.op.Unlock()

	s.mu.Lock()
	inflight, known := s.inflight, s.rev
	s.mu.Unlock()
	if inflight {
		return nil
	}

	st, rev, err := s.store.Load(ctx, s.id, known)
	if err != nil {
		return err
	}
	if st == nil {
		return nil
	}
	if _, busy := st.(Processing); busy && time.Since(time.Unix(0, rev)) > InterruptedAfter {
		log.Warn().Str("session", s.id).Msg("Stored enhancement never finished; marking failed")
		s.transition(Failed{Message: ErrInterrupted.Error(), Err: ErrInterrupted})
		return nil
	}
	s.apply(rev, st)
	return nil
}
