package api

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/agentsh/shellgate/internal/config"
	"github.com/agentsh/shellgate/internal/metrics"
	"github.com/agentsh/shellgate/internal/session"
	"github.com/agentsh/shellgate/internal/store/sqlite"
)

func newHTTPTestServerOrSkip(t *testing.T, h http.Handler) *httptest.Server {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		if strings.Contains(strings.ToLower(err.Error()), "operation not permitted") {
			t.Skipf("httptest server listen not permitted in this environment: %v", err)
		}
		t.Fatalf("listen: %v", err)
	}
	srv := httptest.NewUnstartedServer(h)
	srv.Listener = ln
	srv.Start()
	t.Cleanup(srv.Close)
	return srv
}

type testApp struct {
	app      *App
	handler  http.Handler
	sessions *session.Manager
	store    *sqlite.Store
	metrics  *metrics.Collector
}

func newTestApp(t *testing.T, mutate func(*config.Config)) *testApp {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("requires /bin/sh")
	}
	cfg := config.Default()
	cfg.Shell.Path = "/bin/sh"
	cfg.Shell.Args = nil
	cfg.Shell.VersionLabel = "sh (test)"
	cfg.Sessions.CaptureWindow = "300ms"
	cfg.Sessions.HardCeiling = "3s"
	cfg.Sessions.GracePeriod = "1s"
	cfg.Metrics.Enabled = true
	if mutate != nil {
		mutate(cfg)
	}
	timings, err := cfg.Sessions.Timings()
	require.NoError(t, err)

	st, err := sqlite.Open(filepath.Join(t.TempDir(), "events.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	mc := metrics.New()
	mgr := session.NewManager(session.Options{
		Shell:       cfg.Shell,
		Timings:     timings,
		MaxSessions: cfg.Sessions.MaxSessions,
		Logger:      logger,
		Events:      metrics.WrapEventStore(st, mc),
		Outputs:     st,
	})
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = mgr.Close(ctx)
	})

	app := NewApp(Options{
		Config:   cfg,
		Sessions: mgr,
		Events:   st,
		Outputs:  st,
		Metrics:  mc,
		Logger:   logger,
	})
	return &testApp{app: app, handler: app.Router(), sessions: mgr, store: st, metrics: mc}
}

func (ta *testApp) do(t *testing.T, method, path string, body any, hdr ...string) *httptest.ResponseRecorder {
	t.Helper()
	var rd io.Reader
	switch b := body.(type) {
	case nil:
	case string:
		rd = strings.NewReader(b)
	default:
		raw, err := json.Marshal(b)
		require.NoError(t, err)
		rd = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, rd)
	for i := 0; i+1 < len(hdr); i += 2 {
		req.Header.Set(hdr[i], hdr[i+1])
	}
	rr := httptest.NewRecorder()
	ta.handler.ServeHTTP(rr, req)
	return rr
}

func decodeBody[T any](t *testing.T, rr *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &v), rr.Body.String())
	return v
}
