// Package session implements the Session Registry (spec §4.7): the root
// ownership scope for one user's AI-CLI PTY, optional SSH shell, approval
// channel, and output buffer, plus the map from session id to session
// record. Grounded on the teacher's pkg/store in-memory store (guarded map,
// atomic-construction-then-insert) and pkg/executor.Manager (per-session
// record aggregating a PTY-bound child plus a cancellation scope).
package session

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/mylxsw/asteria/log"

	"github.com/opsco-dev/termcopilot/internal/apperr"
	"github.com/opsco-dev/termcopilot/internal/approval"
	"github.com/opsco-dev/termcopilot/internal/outputbuf"
	"github.com/opsco-dev/termcopilot/internal/ptysup"
	"github.com/opsco-dev/termcopilot/internal/sshshell"
)

const (
	defaultCols = 80
	defaultRows = 24
)

// Session aggregates one user's AI-CLI PTY, optional SSH shell, approval
// channel, and output buffer. Most fields are immutable after construction
// (spec §5: "the session record is mostly immutable after construction");
// only the ssh slot and the activity timestamp are mutated after creation.
type Session struct {
	ID        string
	CreatedAt time.Time

	PTY      *ptysup.Supervisor
	Approval *approval.Channel
	Output   *outputbuf.Buffer

	sshMu sync.RWMutex
	ssh   *sshshell.Shell

	activityMu sync.Mutex
	lastActive time.Time

	ctx    context.Context
	cancel context.CancelFunc

	endOnce sync.Once
	ended   bool
	endMu   sync.Mutex
}

// Context returns the session-root cancellation context; closing any
// stream should derive a child context from this one (spec §9:
// "session-root → per-stream" cancellation tree).
func (s *Session) Context() context.Context { return s.ctx }

// Touch records activity for the idle-timeout GC.
func (s *Session) Touch() {
	s.activityMu.Lock()
	s.lastActive = time.Now()
	s.activityMu.Unlock()
}

// LastActive returns the timestamp of the most recent Touch call.
func (s *Session) LastActive() time.Time {
	s.activityMu.Lock()
	defer s.activityMu.Unlock()
	return s.lastActive
}

// SSH returns the currently attached SSH shell, or nil if none.
func (s *Session) SSH() *sshshell.Shell {
	s.sshMu.RLock()
	defer s.sshMu.RUnlock()
	return s.ssh
}

// SetSSH replaces any previously attached SSH shell with shell, closing the
// prior one first (spec §4.5: "ssh_connect... replaces any prior SSH state
// after closing it").
func (s *Session) SetSSH(shell *sshshell.Shell) {
	s.sshMu.Lock()
	prior := s.ssh
	s.ssh = shell
	s.sshMu.Unlock()

	if prior != nil {
		_ = prior.Close()
	}
}

// Ended reports whether End has already run to completion.
func (s *Session) Ended() bool {
	s.endMu.Lock()
	defer s.endMu.Unlock()
	return s.ended
}

// End cascades session teardown: cancel all session-owned tasks, close any
// SSH shell, kill the PTY child, and mark the session ended. Idempotent
// (spec §3: "end is idempotent").
func (s *Session) End() {
	s.endOnce.Do(func() {
		s.endMu.Lock()
		s.ended = true
		s.endMu.Unlock()

		s.cancel()

		s.sshMu.Lock()
		shell := s.ssh
		s.ssh = nil
		s.sshMu.Unlock()
		if shell != nil {
			if err := shell.Close(); err != nil {
				log.Errorf("session %s: close ssh: %v", s.ID, err)
			}
		}

		if err := s.PTY.Close(); err != nil {
			log.Errorf("session %s: close pty: %v", s.ID, err)
		}
	})
}

func newSession(parent context.Context, pty *ptysup.Supervisor) *Session {
	ctx, cancel := context.WithCancel(parent)
	now := time.Now()
	return &Session{
		ID:         uuid.New().String(),
		CreatedAt:  now,
		PTY:        pty,
		Approval:   approval.New(),
		Output:     outputbuf.New(outputbuf.DefaultCapacity),
		lastActive: now,
		ctx:        ctx,
		cancel:     cancel,
	}
}
