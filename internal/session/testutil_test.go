package session

import (
	"context"
	"io"
	"log/slog"
	"runtime"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/agentsh/shellgate/internal/config"
	"github.com/agentsh/shellgate/pkg/types"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func requireUnixShell(t *testing.T) {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("requires /bin/sh")
	}
}

func testTimings() config.SessionTimings {
	return config.SessionTimings{
		MaxIdle:         time.Hour,
		CleanupInterval: time.Minute,
		CaptureWindow:   300 * time.Millisecond,
		HardCeiling:     3 * time.Second,
		GracePeriod:     time.Second,
		MaxOutputBytes:  64 * 1024,
	}
}

type recordingSink struct {
	mu      sync.Mutex
	events  []types.Event
	outputs map[string][]byte
}

func (r *recordingSink) AppendEvent(_ context.Context, ev types.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
	return nil
}

func (r *recordingSink) SaveOutput(_ context.Context, _, commandID string, stdout, _ []byte, _, _ int64, _, _ bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.outputs == nil {
		r.outputs = map[string][]byte{}
	}
	r.outputs[commandID] = append([]byte(nil), stdout...)
	return nil
}

func (r *recordingSink) eventTypes() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.events))
	for _, ev := range r.events {
		out = append(out, ev.Type)
	}
	return out
}

type managerOption func(*Options)

func withMarker(on bool) managerOption {
	return func(o *Options) { o.Shell.CompletionMarker = &on }
}

func withTimings(fn func(*config.SessionTimings)) managerOption {
	return func(o *Options) { fn(&o.Timings) }
}

func newTestManager(t *testing.T, opts ...managerOption) (*Manager, *recordingSink) {
	t.Helper()
	requireUnixShell(t)
	sink := &recordingSink{}
	marker := true
	o := Options{
		Shell: config.ShellConfig{
			Path:             "/bin/sh",
			VersionLabel:     "sh (test)",
			CompletionMarker: &marker,
		},
		Timings:     testTimings(),
		MaxSessions: 10,
		Logger:      discardLogger(),
		Events:      sink,
		Outputs:     sink,
	}
	for _, fn := range opts {
		fn(&o)
	}
	m := NewManager(o)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = m.Close(ctx)
	})
	return m, sink
}

func mustCreate(t *testing.T, m *Manager) *Session {
	t.Helper()
	s, err := m.Create(context.Background())
	require.NoError(t, err)
	return s
}
