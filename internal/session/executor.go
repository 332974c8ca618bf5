package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/agentsh/shellgate/pkg/types"
)

const (
	// NoOutputPlaceholder stands in for an empty stdout.
	NoOutputPlaceholder = "(no output)"

	// markerSettle is how long capture lingers after the completion marker
	// for stderr that the pumps have not delivered yet.
	markerSettle = 50 * time.Millisecond
)

// phase is how the capture of one command ended.
type phase int

const (
	phaseWindowElapsed phase = iota
	phaseCompleted
	phaseCeilingElapsed
	phaseExited
	phaseCanceled
)

// ExecutorOptions tunes command capture.
type ExecutorOptions struct {
	CaptureWindow  time.Duration
	HardCeiling    time.Duration
	MaxOutputBytes int64
	// Marker makes every command print a completion token.
	Marker bool
}

// Executor writes commands into sessions and collects what they print.
type Executor struct {
	registry *Registry
	opts     ExecutorOptions
	logger   *slog.Logger
	now      func() time.Time
}

func NewExecutor(registry *Registry, opts ExecutorOptions, logger *slog.Logger) *Executor {
	if logger == nil {
		logger = slog.Default()
	}
	if opts.MaxOutputBytes <= 0 {
		opts.MaxOutputBytes = 1000 * 1000
	}
	return &Executor{registry: registry, opts: opts, logger: logger, now: time.Now}
}

// Execution is a result plus the raw capture, for callers that persist it.
type Execution struct {
	Result  types.ExecResult
	Capture CaptureResult
	// Fault is set when the command never ran to a normal end: the write
	// failed, the shell died or the request was canceled.
	Fault bool
}

// Execute runs command in session id. Client mistakes come back as
// ErrInvalidSession or ErrSessionNotActive; everything that goes wrong after
// the command is written is reported inside the result.
func (e *Executor) Execute(ctx context.Context, id, command string) (types.ExecResult, error) {
	ex, err := e.run(ctx, id, command)
	if err != nil {
		return types.ExecResult{}, err
	}
	return ex.Result, nil
}

func (e *Executor) run(ctx context.Context, id, command string) (Execution, error) {
	s, ok := e.registry.Get(id)
	if !ok {
		return Execution{}, ErrInvalidSession
	}
	if !s.Active() {
		return Execution{}, ErrSessionNotActive
	}

	res := types.ExecResult{
		CommandID: uuid.NewString(),
		SessionID: id,
		Command:   command,
	}
	logger := e.logger.With("session_id", id, "command_id", res.CommandID)

	queued := e.now()
	unlock, err := s.LockExec(ctx)
	if err != nil {
		res.ExecutionTimeMs = e.now().Sub(queued).Milliseconds()
		res.Error = canceledMessage(ctx)
		logger.Debug("command abandoned while queued", "error", err)
		return Execution{Result: res, Fault: true}, nil
	}
	defer unlock()
	// The session may have died while this command was queued.
	if !s.Active() {
		return Execution{}, ErrSessionNotActive
	}

	payload := command + "\n"
	var match []byte
	if e.opts.Marker {
		var token string
		token, match = newMarker()
		payload += markerCommand(token)
	}

	c := newCapture(e.opts.MaxOutputBytes, match)
	proc := s.proc
	proc.attach(c)

	t0 := e.now()
	s.recordCommand(t0)
	// The ceiling covers the write too: a busy shell stops draining stdin.
	deadline := t0.Add(e.opts.HardCeiling)
	wctx, cancel := context.WithDeadline(ctx, deadline)
	werr := proc.write(wctx, []byte(payload))
	cancel()

	var ph phase
	switch {
	case werr == nil:
		ph = e.await(ctx, c, proc.Exited(), deadline)
	case ctx.Err() != nil:
		ph = phaseCanceled
	case errors.Is(werr, context.DeadlineExceeded):
		ph = phaseCeilingElapsed
		logger.Warn("command write did not finish before the hard ceiling")
	default:
		proc.detach(c)
		res.ExecutionTimeMs = e.now().Sub(t0).Milliseconds()
		res.Error = fmt.Sprintf("write command: %v", werr)
		logger.Warn("command write failed", "error", werr)
		return Execution{Result: res, Capture: c.result(), Fault: true}, nil
	}
	proc.detach(c)

	cr := c.result()
	res.ExecutionTimeMs = e.now().Sub(t0).Milliseconds()
	res.Output = strings.TrimRight(string(cr.Stdout), "\r\n")
	res.Error = strings.TrimRight(string(cr.Stderr), "\r\n")
	res.Truncated = cr.StdoutTrunc || cr.StderrTrunc
	if cr.Completed {
		code := cr.ExitCode
		res.ExitCode = &code
	}

	switch ph {
	case phaseCeilingElapsed:
		res.TimedOut = true
	case phaseExited:
		if res.Error == "" {
			res.Error = "session process exited"
		}
	case phaseCanceled:
		if res.Error != "" {
			res.Error += "\n"
		}
		res.Error += canceledMessage(ctx)
	}
	if res.Output == "" {
		res.Output = NoOutputPlaceholder
	}
	// TimedOut is reported on its own; success only speaks for stderr.
	res.Success = res.Error == ""

	logger.Debug("command finished",
		"elapsed_ms", res.ExecutionTimeMs,
		"timed_out", res.TimedOut,
		"success", res.Success)
	return Execution{Result: res, Capture: cr, Fault: ph == phaseExited || ph == phaseCanceled}, nil
}

// await races the capture window against the hard ceiling. Without a marker
// a quiet window ends capture; with one, the window only counts once the
// marker has been seen and then shrinks to markerSettle.
func (e *Executor) await(ctx context.Context, c *capture, exited <-chan struct{}, deadline time.Time) phase {
	window := time.NewTimer(e.opts.CaptureWindow)
	defer window.Stop()
	ceiling := time.NewTimer(deadline.Sub(e.now()))
	defer ceiling.Stop()

	completed := false
	for {
		select {
		case <-c.notify:
			if !completed && c.Completed() {
				completed = true
			}
			d := e.opts.CaptureWindow
			if completed {
				d = min(d, markerSettle)
			}
			window.Reset(d)
		case <-window.C:
			if c.marker == nil {
				return phaseWindowElapsed
			}
			if completed {
				return phaseCompleted
			}
		case <-ceiling.C:
			return phaseCeilingElapsed
		case <-exited:
			if completed {
				return phaseCompleted
			}
			return phaseExited
		case <-ctx.Done():
			return phaseCanceled
		}
	}
}

func canceledMessage(ctx context.Context) string {
	if err := ctx.Err(); err != nil && !errors.Is(err, context.Canceled) {
		return err.Error()
	}
	return "request canceled"
}
