package session

import (
	"context"
	"sync"
	"time"

	"github.com/mylxsw/asteria/log"

	"github.com/opsco-dev/termcopilot/internal/apperr"
	"github.com/opsco-dev/termcopilot/internal/ptysup"
)

// Registry is the process-wide map from session id to Session record
// (spec §4.7). Lookups are lock-cheap (RWMutex, read path never blocks a
// concurrent read); mutations are serialized per-session by each Session's
// own locks, not by the registry lock.
type Registry struct {
	mu       sync.RWMutex
	sessions map[string]*Session

	aiProgram string
	aiArgs    []string
	aiEnv     []string

	rootCtx context.Context
}

// NewRegistry creates an empty Registry. aiProgram/aiArgs/aiEnv describe how
// to spawn the AI CLI child for every new session; rootCtx is the ancestor
// of every session's cancellation context, so cancelling it tears down
// every session at once (process shutdown).
func NewRegistry(rootCtx context.Context, aiProgram string, aiArgs []string, aiEnv []string) *Registry {
	return &Registry{
		sessions:  make(map[string]*Session),
		aiProgram: aiProgram,
		aiArgs:    aiArgs,
		aiEnv:     aiEnv,
		rootCtx:   rootCtx,
	}
}

// Create spawns a new AI-CLI PTY and registers a fully-constructed Session
// under its id. The session is never visible to Get until construction has
// completed (spec §4.7: "a client never observes a half-initialized
// session").
func (r *Registry) Create() (*Session, error) {
	pty, err := ptysup.Spawn(r.aiProgram, r.aiArgs, r.aiEnv, ".", defaultCols, defaultRows)
	if err != nil {
		return nil, apperr.New(apperr.KindInternal, err)
	}

	s := newSession(r.rootCtx, pty)

	r.mu.Lock()
	r.sessions[s.ID] = s
	r.mu.Unlock()

	log.Debugf("session %s: created", s.ID)
	return s, nil
}

// Get looks up a session by id.
func (r *Registry) Get(id string) (*Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.sessions[id]
	return s, ok
}

// End ends and removes the session with id. Repeated calls after the first
// all report KindSessionNotFound (spec §8: "repeated end(id) calls after
// the first all return not-found").
func (r *Registry) End(id string) error {
	r.mu.Lock()
	s, ok := r.sessions[id]
	if ok {
		delete(r.sessions, id)
	}
	r.mu.Unlock()

	if !ok {
		return apperr.New(apperr.KindSessionNotFound, ErrSessionNotFound)
	}
	s.End()
	log.Debugf("session %s: ended", id)
	return nil
}

// Count returns the number of live sessions. Used by tests asserting the
// registry returns to its prior size after create+end.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

// Summary is one session's listing row (SPEC_FULL.md's supplemented
// "session summaries" feature, grounded on the teacher's pkg/sdk.ListSessions).
type Summary struct {
	SessionID      string
	CreatedAt      time.Time
	LastActivityAt time.Time
	SSHConnected   bool
}

// Summaries returns a listing row for every live session.
func (r *Registry) Summaries() []Summary {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Summary, 0, len(r.sessions))
	for _, s := range r.sessions {
		out = append(out, Summary{
			SessionID:      s.ID,
			CreatedAt:      s.CreatedAt,
			LastActivityAt: s.LastActive(),
			SSHConnected:   s.SSH() != nil,
		})
	}
	return out
}

// RunIdleGC blocks, ending any session whose last activity exceeds
// idleTimeout, checking every interval, until ctx is cancelled. Grounded on
// the teacher's pkg/store.MemoryEventStore cleanup sweep, generalized from
// expiring log entries to expiring whole sessions (spec §9, resolving the
// open "idle cleanup" question).
func (r *Registry) RunIdleGC(ctx context.Context, interval, idleTimeout time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.sweepIdle(idleTimeout)
		}
	}
}

func (r *Registry) sweepIdle(idleTimeout time.Duration) {
	now := time.Now()

	r.mu.RLock()
	var expired []string
	for id, s := range r.sessions {
		if now.Sub(s.LastActive()) > idleTimeout {
			expired = append(expired, id)
		}
	}
	r.mu.RUnlock()

	for _, id := range expired {
		log.Debugf("session %s: idle timeout exceeded, ending", id)
		_ = r.End(id)
	}
}
