package metrics

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/agentsh/shellgate/pkg/types"
)

func scrape(t *testing.T, c *Collector, opts HandlerOptions) string {
	t.Helper()
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	c.Handler(opts).ServeHTTP(rec, req)
	return rec.Body.String()
}

func TestHandlerExportsCountersAndEscapes(t *testing.T) {
	c := New()
	c.IncEvent("foo")
	c.IncEvent("foo")
	c.IncEvent("bar\n\"x\"")
	c.IncHTTP(200)
	c.IncHTTP(404)
	c.IncHTTP(200)

	body := scrape(t, c, HandlerOptions{SessionCount: func() int { return 7 }})
	for _, want := range []string{
		"shellgate_up 1",
		"shellgate_events_total 3",
		`shellgate_events_by_type_total{type="bar\n\"x\""} 1`,
		`shellgate_events_by_type_total{type="foo"} 2`,
		`shellgate_http_requests_total{code="200"} 2`,
		`shellgate_http_requests_total{code="404"} 1`,
		"shellgate_sessions_active 7",
	} {
		if !strings.Contains(body, want) {
			t.Fatalf("metrics output missing %q. Got:\n%s", want, body)
		}
	}
}

func TestCommandHistogram(t *testing.T) {
	c := New()
	c.ObserveCommand(40)
	c.ObserveCommand(300)
	c.ObserveCommand(60000)

	body := scrape(t, c, HandlerOptions{})
	for _, want := range []string{
		`shellgate_command_duration_ms_bucket{le="50"} 1`,
		`shellgate_command_duration_ms_bucket{le="500"} 2`,
		`shellgate_command_duration_ms_bucket{le="30000"} 2`,
		`shellgate_command_duration_ms_bucket{le="+Inf"} 3`,
		"shellgate_command_duration_ms_sum 60340",
		"shellgate_command_duration_ms_count 3",
	} {
		if !strings.Contains(body, want) {
			t.Fatalf("metrics output missing %q. Got:\n%s", want, body)
		}
	}
	if strings.Contains(body, "shellgate_sessions_active") {
		t.Fatal("sessions gauge should be absent without SessionCount")
	}
}

type fakeEventStore struct {
	mu    sync.Mutex
	count int
}

func (f *fakeEventStore) AppendEvent(ctx context.Context, ev types.Event) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.count++
	return nil
}

func (f *fakeEventStore) QueryEvents(ctx context.Context, q types.EventQuery) ([]types.Event, error) {
	return nil, nil
}

func (f *fakeEventStore) Close() error { return nil }

func TestWrapEventStoreIncrementsCollector(t *testing.T) {
	c := New()
	inner := &fakeEventStore{}
	store := WrapEventStore(inner, c)

	ctx := context.Background()
	if err := store.AppendEvent(ctx, types.Event{Type: "session_created"}); err != nil {
		t.Fatalf("AppendEvent error: %v", err)
	}
	ev := types.Event{Type: "command_executed", Fields: map[string]any{"execution_ms": int64(120)}}
	if err := store.AppendEvent(ctx, ev); err != nil {
		t.Fatalf("AppendEvent error: %v", err)
	}

	if got := c.eventsTotal.Load(); got != 2 {
		t.Fatalf("eventsTotal = %d, want 2", got)
	}
	if got := c.commandCount.Load(); got != 1 {
		t.Fatalf("commandCount = %d, want 1", got)
	}
	if got := inner.count; got != 2 {
		t.Fatalf("inner count = %d, want 2", got)
	}
	if WrapEventStore(nil, c) != nil {
		t.Fatal("wrapping nil should return nil")
	}
}

func TestSnapshotKeysReturnsSorted(t *testing.T) {
	var m sync.Map
	m.Store("b", 1)
	m.Store("a", 1)
	m.Store("c", 1)

	keys := snapshotKeys(&m)
	if strings.Join(keys, ",") != "a,b,c" {
		t.Fatalf("snapshotKeys = %v", keys)
	}
}
