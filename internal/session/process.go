package session

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"sync"
	"time"
)

// pumpDrainTimeout bounds how long the read ends stay open after the shell
// exits. Background children that inherited stdout would otherwise pin them.
const pumpDrainTimeout = time.Second

var errStdinClosed = errors.New("stdin closed")

type processHooks struct {
	// onStreamError runs once per pump that fails with anything but EOF.
	onStreamError func(stream string, err error)
	// onExit runs once after the process has been reaped.
	onExit func(err error)
}

// process wraps a running shell: its stdin, two output pumps and a waiter.
type process struct {
	cmd    *exec.Cmd
	stdin  io.WriteCloser
	stdout *os.File
	stderr *os.File
	logger *slog.Logger
	term   *termination

	stdinOnce sync.Once
	stdinMu   sync.Mutex
	stdinDone bool
	// writeMu keeps whole payloads in order, including abandoned ones.
	writeMu sync.Mutex

	sinkMu sync.Mutex
	sink   *capture

	pumps sync.WaitGroup
	done  chan struct{}
}

func newProcess(cmd *exec.Cmd, stdin io.WriteCloser, stdout, stderr *os.File, c clock, logger *slog.Logger) *process {
	p := &process{
		cmd:    cmd,
		stdin:  stdin,
		stdout: stdout,
		stderr: stderr,
		logger: logger,
		done:   make(chan struct{}),
	}
	p.term = newTermination(p, c, logger)
	return p
}

func (p *process) pid() int {
	if p.cmd == nil || p.cmd.Process == nil {
		return 0
	}
	return p.cmd.Process.Pid
}

func (p *process) start(h processHooks) {
	p.pumps.Add(2)
	go p.pump(streamStdout, p.stdout, h.onStreamError)
	go p.pump(streamStderr, p.stderr, h.onStreamError)
	go p.wait(h.onExit)
}

func (p *process) pump(kind streamKind, r *os.File, onErr func(string, error)) {
	defer p.pumps.Done()
	buf := make([]byte, 32*1024)
	for {
		n, err := r.Read(buf)
		if n > 0 {
			p.deliver(kind, buf[:n])
		}
		if err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, os.ErrClosed) {
				return
			}
			p.logger.Warn("output pump failed", "stream", kind.String(), "error", err)
			if onErr != nil {
				onErr(kind.String(), err)
			}
			return
		}
	}
}

// deliver hands a chunk to the attached capture. With nothing attached the
// chunk is dropped.
func (p *process) deliver(kind streamKind, b []byte) {
	p.sinkMu.Lock()
	defer p.sinkMu.Unlock()
	if p.sink != nil {
		p.sink.deliver(kind, b)
	}
}

func (p *process) attach(c *capture) {
	p.sinkMu.Lock()
	p.sink = c
	p.sinkMu.Unlock()
}

// detach returns once no pump can deliver into c anymore.
func (p *process) detach(c *capture) {
	p.sinkMu.Lock()
	if p.sink == c {
		p.sink = nil
	}
	p.sinkMu.Unlock()
}

func (p *process) wait(onExit func(error)) {
	err := p.cmd.Wait()
	p.closeStdin()
	close(p.done)
	p.term.observeExit()
	if onExit != nil {
		onExit(err)
	}

	drained := make(chan struct{})
	go func() {
		p.pumps.Wait()
		close(drained)
	}()
	select {
	case <-drained:
	case <-time.After(pumpDrainTimeout):
	}
	_ = p.stdout.Close()
	_ = p.stderr.Close()
}

// write sends b to the shell's stdin and returns ctx.Err() if ctx ends
// before the shell has taken all of it. An abandoned payload is still written
// in full in the background so the shell never sees half a command line; the
// next write queues behind it.
func (p *process) write(ctx context.Context, b []byte) error {
	errc := make(chan error, 1)
	go func() { errc <- p.writeAll(b) }()
	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (p *process) writeAll(b []byte) error {
	p.writeMu.Lock()
	defer p.writeMu.Unlock()
	p.stdinMu.Lock()
	closed := p.stdinDone
	p.stdinMu.Unlock()
	if closed {
		return errStdinClosed
	}
	_, err := p.stdin.Write(b)
	return err
}

func (p *process) closeStdin() {
	p.stdinOnce.Do(func() {
		p.stdinMu.Lock()
		p.stdinDone = true
		p.stdinMu.Unlock()
		_ = p.stdin.Close()
	})
}

// Exited is closed once the process has been reaped.
func (p *process) Exited() <-chan struct{} { return p.done }

// ExitCode is -1 until the process has exited.
func (p *process) ExitCode() int {
	select {
	case <-p.done:
	default:
		return -1
	}
	if p.cmd.ProcessState == nil {
		return -1
	}
	return p.cmd.ProcessState.ExitCode()
}

// signaler

func (p *process) Interrupt() error {
	p.closeStdin()
	return interruptProcess(p.cmd.Process)
}

func (p *process) Kill() error {
	return killProcess(p.cmd.Process)
}

func (p *process) Done() <-chan struct{} { return p.done }
