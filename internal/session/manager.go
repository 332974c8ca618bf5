package session

import (
	"context"
	"errors"
	"log/slog"
	"os/exec"
	"time"

	"github.com/agentsh/shellgate/internal/config"
	"github.com/agentsh/shellgate/internal/events"
	"github.com/agentsh/shellgate/pkg/types"
	"go.opentelemetry.io/otel/trace"
)

// EventSink receives lifecycle and command events.
type EventSink interface {
	AppendEvent(ctx context.Context, ev types.Event) error
}

// OutputSink persists the full captured output of a command.
type OutputSink interface {
	SaveOutput(ctx context.Context, sessionID, commandID string, stdout, stderr []byte, stdoutTotal, stderrTotal int64, stdoutTrunc, stderrTrunc bool) error
}

type Options struct {
	Shell       config.ShellConfig
	Timings     config.SessionTimings
	MaxSessions int
	Logger      *slog.Logger
	Events      EventSink
	Outputs     OutputSink
}

// Manager owns the registry and everything that acts on it.
type Manager struct {
	registry   *Registry
	supervisor *Supervisor
	executor   *Executor
	reaper     *Reaper
	grace      time.Duration
	version    string

	events  EventSink
	outputs OutputSink
	logger  *slog.Logger
}

func NewManager(opts Options) *Manager {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	reg := NewRegistry(opts.MaxSessions)
	m := &Manager{
		registry: reg,
		grace:    opts.Timings.GracePeriod,
		version:  opts.Shell.VersionLabel,
		events:   opts.Events,
		outputs:  opts.Outputs,
		logger:   logger,
	}
	m.supervisor = NewSupervisor(opts.Shell, reg, logger)
	m.supervisor.onRetire = m.onRetire
	m.executor = NewExecutor(reg, ExecutorOptions{
		CaptureWindow:  opts.Timings.CaptureWindow,
		HardCeiling:    opts.Timings.HardCeiling,
		MaxOutputBytes: opts.Timings.MaxOutputBytes,
		Marker:         opts.Shell.MarkerEnabled(),
	}, logger)
	m.reaper = NewReaper(reg, opts.Timings.MaxIdle, opts.Timings.IdleTimeout, opts.Timings.CleanupInterval, m.reap, logger)
	m.supervisor.afterSpawn = func() { m.reaper.Sweep(time.Now()) }
	return m
}

// VersionLabel is the descriptive shell label returned to clients.
func (m *Manager) VersionLabel() string { return m.version }

func (m *Manager) Create(ctx context.Context) (*Session, error) {
	s, err := m.supervisor.Spawn(ctx)
	if err != nil {
		return nil, err
	}
	ev := events.New(events.EventSessionCreated, s.ID)
	ev.PID = s.PID()
	ev.Fields["shell"] = s.Shell
	m.emit(ctx, ev)
	return s, nil
}

func (m *Manager) Get(id string) (*Session, bool) {
	return m.registry.Get(id)
}

func (m *Manager) Count() int { return m.registry.Count() }

func (m *Manager) List() []types.Session {
	sessions := m.registry.List()
	out := make([]types.Session, 0, len(sessions))
	for _, s := range sessions {
		out = append(out, s.Snapshot())
	}
	return out
}

// Execute runs command in session id and records the outcome.
func (m *Manager) Execute(ctx context.Context, id, command string) (types.ExecResult, error) {
	ex, err := m.executor.run(ctx, id, command)
	if err != nil {
		return types.ExecResult{}, err
	}
	res := ex.Result

	// Record even when the caller has gone away.
	rctx := context.WithoutCancel(ctx)
	typ := events.EventCommandExecuted
	switch {
	case res.TimedOut:
		typ = events.EventCommandTimedOut
	case ex.Fault:
		typ = events.EventCommandFault
	}
	ev := events.ForCommand(typ, id, res.CommandID)
	if s, ok := m.registry.Get(id); ok {
		ev.PID = s.PID()
	}
	ev.Fields["command"] = command
	ev.Fields["success"] = res.Success
	ev.Fields["timed_out"] = res.TimedOut
	ev.Fields["truncated"] = res.Truncated
	ev.Fields["execution_ms"] = res.ExecutionTimeMs
	if res.ExitCode != nil {
		ev.Fields["exit_code"] = *res.ExitCode
	}
	m.emit(rctx, ev)

	if m.outputs != nil {
		c := ex.Capture
		if err := m.outputs.SaveOutput(rctx, id, res.CommandID, c.Stdout, c.Stderr, c.StdoutTotal, c.StderrTotal, c.StdoutTrunc, c.StderrTrunc); err != nil {
			m.logger.Warn("save command output failed", "session_id", id, "command_id", res.CommandID, "error", err)
		}
	}
	return res, nil
}

// Destroy unregisters id and starts terminating its process. It reports
// whether a session was found; destroying an unknown id is not an error.
func (m *Manager) Destroy(id string) bool {
	s := m.registry.Remove(id)
	if s == nil {
		return false
	}
	s.markInactive(types.SessionStateExited)
	m.terminate(s)
	ev := events.New(events.EventSessionDestroyed, id)
	ev.PID = s.PID()
	m.emit(context.Background(), ev)
	return true
}

// Sweep runs one reaper pass.
func (m *Manager) Sweep(now time.Time) []string {
	return m.reaper.Sweep(now)
}

// RunReaper sweeps on the configured interval until ctx is done.
func (m *Manager) RunReaper(ctx context.Context) {
	m.reaper.Run(ctx)
}

// Close terminates every session and waits for the processes to settle or
// ctx to end.
func (m *Manager) Close(ctx context.Context) error {
	var pending []*Session
	for _, s := range m.registry.List() {
		if m.Destroy(s.ID) {
			pending = append(pending, s)
		}
	}
	for _, s := range pending {
		select {
		case <-s.proc.term.Settled():
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

func (m *Manager) reap(s *Session, reason string) {
	m.registry.RemoveIf(s.ID, s)
	s.markInactive(types.SessionStateExited)
	m.terminate(s)
	ev := events.New(events.EventSessionExpired, s.ID)
	ev.PID = s.PID()
	ev.Fields["reason"] = reason
	ev.Fields["age_ms"] = time.Since(s.CreatedAt).Milliseconds()
	m.emit(context.Background(), ev)
}

// terminate never fails the caller; signal errors are logged.
func (m *Manager) terminate(s *Session) {
	if s.proc == nil {
		return
	}
	if err := s.proc.term.Begin(m.grace); err != nil {
		m.logger.Warn("graceful termination failed", "session_id", s.ID, "error", err)
	}
	go m.watchKill(s)
}

func (m *Manager) watchKill(s *Session) {
	<-s.proc.term.Settled()
	if s.proc.term.State() != TermKilled {
		return
	}
	ev := events.New(events.EventSessionKilled, s.ID)
	ev.PID = s.PID()
	ev.Fields["grace_ms"] = m.grace.Milliseconds()
	m.emit(context.Background(), ev)
}

func (m *Manager) onRetire(s *Session, state types.SessionState, err error) {
	typ := events.EventSessionExited
	if state == types.SessionStateFailed {
		typ = events.EventSessionFailed
	}
	ev := events.New(typ, s.ID)
	ev.PID = s.PID()
	ev.Fields["exit_code"] = s.proc.ExitCode()
	var exitErr *exec.ExitError
	if err != nil && !errors.As(err, &exitErr) {
		ev.Fields["error"] = err.Error()
	}
	m.emit(context.Background(), ev)
}

func (m *Manager) emit(ctx context.Context, ev types.Event) {
	if m.events == nil {
		return
	}
	if sc := trace.SpanContextFromContext(ctx); sc.IsValid() {
		ev.Fields["trace_id"] = sc.TraceID().String()
		ev.Fields["span_id"] = sc.SpanID().String()
	}
	if err := m.events.AppendEvent(ctx, ev); err != nil {
		m.logger.Warn("append event failed", "type", ev.Type, "session_id", ev.SessionID, "error", err)
	}
}
