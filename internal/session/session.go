package session

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/agentsh/shellgate/pkg/types"
)

// Session is one live shell process plus its bookkeeping. The process handle
// is owned exclusively by the session; nothing else writes to its stdin.
type Session struct {
	ID        string
	CreatedAt time.Time
	Shell     string

	proc *process

	active atomic.Bool
	busy   atomic.Bool

	// execSlot queues commands: one in flight per session.
	execSlot chan struct{}

	mu           sync.Mutex
	lastActivity time.Time
	commands     int64
	endState     types.SessionState
}

func newSession(id string, now time.Time, shell string, proc *process) *Session {
	s := &Session{
		ID:           id,
		CreatedAt:    now,
		Shell:        shell,
		proc:         proc,
		lastActivity: now,
		execSlot:     make(chan struct{}, 1),
	}
	s.active.Store(true)
	return s
}

// PID of the shell process.
func (s *Session) PID() int {
	if s.proc == nil {
		return 0
	}
	return s.proc.pid()
}

// Active reports whether the session can still accept commands.
func (s *Session) Active() bool {
	return s.active.Load()
}

// markInactive flips the active flag and records why. It reports whether this
// call was the one that deactivated the session.
func (s *Session) markInactive(state types.SessionState) bool {
	if !s.active.CompareAndSwap(true, false) {
		return false
	}
	s.mu.Lock()
	s.endState = state
	s.mu.Unlock()
	return true
}

// LockExec waits for the session's command slot and returns the release
// func. It gives up with ctx.Err() when ctx ends first.
func (s *Session) LockExec(ctx context.Context) (func(), error) {
	select {
	case s.execSlot <- struct{}{}:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	s.busy.Store(true)
	return func() {
		s.busy.Store(false)
		<-s.execSlot
	}, nil
}

// Touch records command activity.
func (s *Session) Touch(now time.Time) {
	s.mu.Lock()
	s.lastActivity = now
	s.mu.Unlock()
}

func (s *Session) recordCommand(now time.Time) {
	s.mu.Lock()
	s.lastActivity = now
	s.commands++
	s.mu.Unlock()
}

// LastActivity returns the time of the most recent command.
func (s *Session) LastActivity() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastActivity
}

// State derives the externally visible state from the active flag and the
// termination sequence.
func (s *Session) State() types.SessionState {
	if s.Active() {
		if s.busy.Load() {
			return types.SessionStateBusy
		}
		return types.SessionStateRunning
	}
	if s.proc != nil {
		switch s.proc.term.State() {
		case TermTerminating:
			return types.SessionStateTerminating
		case TermKilled:
			return types.SessionStateKilled
		case TermExited:
			s.mu.Lock()
			st := s.endState
			s.mu.Unlock()
			if st == types.SessionStateFailed {
				return st
			}
			return types.SessionStateExited
		}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.endState == "" {
		return types.SessionStateExited
	}
	return s.endState
}

// Snapshot returns a copy safe to serialize.
func (s *Session) Snapshot() types.Session {
	s.mu.Lock()
	last := s.lastActivity
	cmds := s.commands
	s.mu.Unlock()
	return types.Session{
		ID:           s.ID,
		PID:          s.PID(),
		State:        s.State(),
		Shell:        s.Shell,
		CreatedAt:    s.CreatedAt,
		LastActivity: last,
		Commands:     cmds,
	}
}
