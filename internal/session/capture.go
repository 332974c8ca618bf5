package session

import (
	"bytes"
	"regexp"
	"strconv"
	"sync"
)

type streamKind int

const (
	streamStdout streamKind = iota
	streamStderr
)

func (k streamKind) String() string {
	if k == streamStderr {
		return "stderr"
	}
	return "stdout"
}

// captureBuffer keeps the first max bytes written and counts the rest.
type captureBuffer struct {
	max int64

	buf       bytes.Buffer
	total     int64
	truncated bool
}

func (w *captureBuffer) Write(p []byte) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}
	w.total += int64(len(p))
	if int64(w.buf.Len()) >= w.max {
		w.truncated = true
		return len(p), nil
	}
	remain := w.max - int64(w.buf.Len())
	if int64(len(p)) <= remain {
		_, _ = w.buf.Write(p)
		return len(p), nil
	}
	_, _ = w.buf.Write(p[:remain])
	w.truncated = true
	return len(p), nil
}

func (w *captureBuffer) reset() {
	w.buf.Reset()
	w.total = 0
	w.truncated = false
}

// capture collects the output of exactly one command. It is attached to a
// process while the command runs and detached before the result is built.
type capture struct {
	mu     sync.Mutex
	stdout captureBuffer
	stderr captureBuffer

	// marker is "\n<token>:" or nil when completion markers are off.
	marker    []byte
	token     string
	line      []byte
	longLine  bool
	completed bool
	exitCode  int

	// notify gets a token after every chunk; never blocks the pump.
	notify chan struct{}
}

func newCapture(maxBytes int64, marker []byte) *capture {
	c := &capture{
		stdout: captureBuffer{max: maxBytes},
		stderr: captureBuffer{max: maxBytes},
		marker: marker,
		notify: make(chan struct{}, 1),
	}
	if len(marker) > 2 {
		c.token = string(marker[1 : len(marker)-1])
	}
	return c
}

func (c *capture) deliver(kind streamKind, p []byte) {
	c.mu.Lock()
	if kind == streamStderr {
		_, _ = c.stderr.Write(p)
	} else {
		c.deliverStdout(p)
	}
	c.mu.Unlock()

	select {
	case c.notify <- struct{}{}:
	default:
	}
}

// deliverStdout writes p line by line so a completion line can act on the
// buffer at the exact point it appears in the stream.
func (c *capture) deliverStdout(p []byte) {
	if c.marker == nil {
		_, _ = c.stdout.Write(p)
		return
	}
	for len(p) > 0 {
		seg := p
		if nl := bytes.IndexByte(p, '\n'); nl >= 0 {
			seg = p[:nl+1]
		}
		p = p[len(seg):]
		_, _ = c.stdout.Write(seg)
		c.scan(seg)
	}
}

// markerLineMax bounds the partial line kept for marker matching.
var markerLineMax = len(markerPrefix) + 32 + 24

// markerLine matches a whole completion line as printed by markerCommand.
var markerLine = regexp.MustCompile(`^(` + markerPrefix + `[0-9a-f]{32}):(-?[0-9]+)\r?$`)

// scan collects seg into the current line. A finished line carrying this
// command's token completes the capture. A line carrying any other token was
// printed by an earlier command that outran its ceiling, so everything
// captured up to it belongs to that command and is dropped.
func (c *capture) scan(seg []byte) {
	if c.completed {
		return
	}
	if !c.longLine {
		if len(c.line)+len(seg) > markerLineMax+1 {
			c.longLine = true
			c.line = c.line[:0]
		} else {
			c.line = append(c.line, seg...)
		}
	}
	if seg[len(seg)-1] != '\n' {
		return
	}
	line := c.line
	long := c.longLine
	c.line = c.line[:0]
	c.longLine = false
	if long {
		return
	}
	m := markerLine.FindSubmatch(bytes.TrimSuffix(line, []byte("\n")))
	if m == nil {
		return
	}
	if string(m[1]) != c.token {
		c.stdout.reset()
		c.stderr.reset()
		return
	}
	code, err := strconv.Atoi(string(m[2]))
	if err != nil {
		code = -1
	}
	c.completed = true
	c.exitCode = code
}

// Completed reports whether the completion marker has been seen.
func (c *capture) Completed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.completed
}

type CaptureResult struct {
	Stdout      []byte
	Stderr      []byte
	StdoutTotal int64
	StderrTotal int64
	StdoutTrunc bool
	StderrTrunc bool
	Completed   bool
	ExitCode    int
}

func (c *capture) result() CaptureResult {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := stripMarker(bytes.Clone(c.stdout.buf.Bytes()), c.marker)
	outTotal := c.stdout.total
	if !c.stdout.truncated {
		outTotal = int64(len(out))
	}
	return CaptureResult{
		Stdout:      out,
		Stderr:      bytes.Clone(c.stderr.buf.Bytes()),
		StdoutTotal: outTotal,
		StderrTotal: c.stderr.total,
		StdoutTrunc: c.stdout.truncated,
		StderrTrunc: c.stderr.truncated,
		Completed:   c.completed,
		ExitCode:    c.exitCode,
	}
}

// stripMarker cuts b at the marker, or at a partial marker left at the end of
// a truncated buffer.
func stripMarker(b, marker []byte) []byte {
	if len(marker) == 0 {
		return b
	}
	if i := bytes.Index(b, marker); i >= 0 {
		return b[:i]
	}
	for k := len(marker) - 1; k > 0; k-- {
		if bytes.HasSuffix(b, marker[:k]) {
			return b[:len(b)-k]
		}
	}
	return b
}
