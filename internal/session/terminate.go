package session

import (
	"log/slog"
	"sync"
	"time"
)

// TermState is the position of a process in its termination sequence.
type TermState int

const (
	TermRunning TermState = iota
	TermTerminating
	TermExited
	TermKilled
)

func (s TermState) String() string {
	switch s {
	case TermRunning:
		return "running"
	case TermTerminating:
		return "terminating"
	case TermExited:
		return "exited"
	case TermKilled:
		return "killed"
	default:
		return "unknown"
	}
}

// signaler is the OS side of a terminable process.
type signaler interface {
	// Interrupt asks the process to exit (stdin close, SIGTERM to the group).
	Interrupt() error
	// Kill forces the process group down.
	Kill() error
	// Done is closed once the process has been reaped.
	Done() <-chan struct{}
}

// clock lets tests drive the grace period by hand.
type clock interface {
	Now() time.Time
	After(d time.Duration) <-chan time.Time
}

type realClock struct{}

func (realClock) Now() time.Time                         { return time.Now() }
func (realClock) After(d time.Duration) <-chan time.Time { return time.After(d) }

// termination runs Running -> Terminating -> Exited|Killed for one process.
type termination struct {
	sig    signaler
	clock  clock
	logger *slog.Logger

	mu             sync.Mutex
	state          TermState
	gracefulSentAt time.Time
	settled        chan struct{}
}

func newTermination(sig signaler, c clock, logger *slog.Logger) *termination {
	if c == nil {
		c = realClock{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &termination{sig: sig, clock: c, logger: logger, settled: make(chan struct{})}
}

func (t *termination) State() TermState {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

// GracefulSentAt is zero until Begin has run.
func (t *termination) GracefulSentAt() time.Time {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.gracefulSentAt
}

// Settled is closed once the state is Exited or Killed.
func (t *termination) Settled() <-chan struct{} {
	return t.settled
}

// Begin starts the sequence and returns without waiting for the process. A
// second call is a no-op. The returned error is the graceful signal's.
func (t *termination) Begin(grace time.Duration) error {
	t.mu.Lock()
	if t.state != TermRunning {
		t.mu.Unlock()
		return nil
	}
	t.state = TermTerminating
	t.gracefulSentAt = t.clock.Now()
	t.mu.Unlock()

	err := t.sig.Interrupt()
	go t.await(grace)
	return err
}

func (t *termination) await(grace time.Duration) {
	select {
	case <-t.sig.Done():
		t.settle(TermExited)
	case <-t.clock.After(grace):
		select {
		case <-t.sig.Done():
			t.settle(TermExited)
			return
		default:
		}
		if err := t.sig.Kill(); err != nil {
			t.logger.Warn("kill after grace period failed", "error", err)
		}
		t.settle(TermKilled)
	}
}

// observeExit records an exit that happened without Begin.
func (t *termination) observeExit() {
	t.mu.Lock()
	running := t.state == TermRunning
	t.mu.Unlock()
	if running {
		t.settle(TermExited)
	}
}

func (t *termination) settle(s TermState) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.state == TermExited || t.state == TermKilled {
		return
	}
	t.state = s
	close(t.settled)
}
