package session

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/exec"

	"github.com/agentsh/shellgate/internal/config"
	"github.com/agentsh/shellgate/pkg/types"
)

// RetireFunc observes a session leaving the registry because its process
// exited or one of its streams failed.
type RetireFunc func(s *Session, state types.SessionState, err error)

// Supervisor spawns shells and watches them until they go away.
type Supervisor struct {
	shell    config.ShellConfig
	registry *Registry
	logger   *slog.Logger
	clock    clock

	// afterSpawn runs after every successful spawn; the manager hangs the
	// opportunistic reaper sweep here.
	afterSpawn func()
	onRetire   RetireFunc
}

func NewSupervisor(shell config.ShellConfig, registry *Registry, logger *slog.Logger) *Supervisor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Supervisor{shell: shell, registry: registry, logger: logger, clock: realClock{}}
}

// Spawn starts a shell, registers it and returns the new session. Nothing is
// registered when the spawn fails.
func (sv *Supervisor) Spawn(ctx context.Context) (*Session, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if sv.registry.Full() {
		return nil, ErrMaxSessions
	}
	now := sv.clock.Now()
	id, err := newSessionID(now)
	if err != nil {
		return nil, err
	}

	// Not CommandContext: the shell must outlive the request that made it.
	cmd := exec.Command(sv.shell.Path, sv.shell.Args...)
	cmd.Dir = sv.shell.Dir
	cmd.Env = mergeEnv(os.Environ(), sv.shell.Env, id)
	cmd.SysProcAttr = sysProcAttr()

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("stdin pipe: %w", err)
	}
	outR, outW, err := os.Pipe()
	if err != nil {
		_ = stdin.Close()
		return nil, fmt.Errorf("stdout pipe: %w", err)
	}
	errR, errW, err := os.Pipe()
	if err != nil {
		_ = stdin.Close()
		_ = outR.Close()
		_ = outW.Close()
		return nil, fmt.Errorf("stderr pipe: %w", err)
	}
	cmd.Stdout = outW
	cmd.Stderr = errW

	if err := cmd.Start(); err != nil {
		for _, f := range []*os.File{outR, outW, errR, errW} {
			_ = f.Close()
		}
		_ = stdin.Close()
		return nil, fmt.Errorf("spawn %s: %w", sv.shell.Path, err)
	}
	// The child holds its own copies of the write ends.
	_ = outW.Close()
	_ = errW.Close()

	logger := sv.logger.With("session_id", id, "pid", cmd.Process.Pid)
	proc := newProcess(cmd, stdin, outR, errR, sv.clock, logger)
	s := newSession(id, now, sv.shell.VersionLabel, proc)

	if err := sv.registry.Put(s); err != nil {
		_ = proc.Kill()
		proc.start(processHooks{})
		return nil, err
	}

	proc.start(processHooks{
		onStreamError: func(stream string, err error) {
			sv.retire(s, types.SessionStateFailed, fmt.Errorf("%s: %w", stream, err))
			// The record is gone; the process must not outlive it.
			_ = proc.term.Begin(0)
		},
		onExit: func(err error) {
			sv.retire(s, types.SessionStateExited, err)
		},
	})

	logger.Info("session spawned", "shell", sv.shell.Path)
	if sv.afterSpawn != nil {
		sv.afterSpawn()
	}
	return s, nil
}

func (sv *Supervisor) retire(s *Session, state types.SessionState, err error) {
	if !s.markInactive(state) {
		return
	}
	sv.registry.RemoveIf(s.ID, s)
	sv.logger.Info("session retired", "session_id", s.ID, "state", state, "error", err)
	if sv.onRetire != nil {
		sv.onRetire(s, state, err)
	}
}

func mergeEnv(base []string, extra map[string]string, sessionID string) []string {
	env := make([]string, 0, len(base)+len(extra)+1)
	env = append(env, base...)
	for k, v := range extra {
		env = append(env, k+"="+v)
	}
	return append(env, "SHELLGATE_SESSION_ID="+sessionID)
}

