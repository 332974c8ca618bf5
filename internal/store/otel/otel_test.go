package otel

import (
	"context"
	"sync"
	"testing"
	"time"

	sdklog "go.opentelemetry.io/otel/sdk/log"

	"github.com/agentsh/shellgate/pkg/types"
)

// countingLogExporter records exported records in memory.
type countingLogExporter struct {
	mu       sync.Mutex
	records  []sdklog.Record
	shutdown bool
}

func (e *countingLogExporter) Export(_ context.Context, records []sdklog.Record) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, r := range records {
		e.records = append(e.records, r.Clone())
	}
	return nil
}

func (e *countingLogExporter) Shutdown(context.Context) error {
	e.mu.Lock()
	e.shutdown = true
	e.mu.Unlock()
	return nil
}

func (e *countingLogExporter) ForceFlush(context.Context) error { return nil }

func (e *countingLogExporter) Records() []sdklog.Record {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]sdklog.Record(nil), e.records...)
}

// newTestStore wires a Store to an in-memory exporter through a synchronous
// processor.
func newTestStore(t *testing.T, filter Filter) (*Store, *countingLogExporter) {
	t.Helper()
	exp := &countingLogExporter{}
	s := newWithExporter(Config{
		Filter:   filter,
		Resource: BuildResource("shellgate-test", "", nil),
	}, sdklog.NewSimpleProcessor(exp))
	return s, exp
}

func TestStore_AppendEvent_Basic(t *testing.T) {
	s, exp := newTestStore(t, Filter{})
	defer s.Close()

	ev := types.Event{
		ID:        "e1",
		Timestamp: time.Now().UTC(),
		Type:      "command_executed",
		SessionID: "session_1_abc",
		CommandID: "c1",
		Fields:    map[string]any{"command": "ls", "success": true},
	}
	if err := s.AppendEvent(context.Background(), ev); err != nil {
		t.Fatalf("AppendEvent: %v", err)
	}

	recs := exp.Records()
	if len(recs) != 1 {
		t.Fatalf("exported %d records, want 1", len(recs))
	}
	if got := recs[0].Body().AsString(); got != "command_executed: ls" {
		t.Errorf("body = %q", got)
	}
}

func TestStore_AppendEvent_Filtered(t *testing.T) {
	s, exp := newTestStore(t, Filter{IncludeCategories: []string{"session"}})
	defer s.Close()

	ctx := context.Background()
	_ = s.AppendEvent(ctx, types.Event{ID: "1", Type: "command_executed", Timestamp: time.Now()})
	_ = s.AppendEvent(ctx, types.Event{ID: "2", Type: "session_created", Timestamp: time.Now()})

	if n := len(exp.Records()); n != 1 {
		t.Fatalf("exported %d records, want 1", n)
	}
}

func TestStore_QueryEvents_NotSupported(t *testing.T) {
	s, _ := newTestStore(t, Filter{})
	defer s.Close()
	if _, err := s.QueryEvents(context.Background(), types.EventQuery{}); err == nil {
		t.Fatal("expected error")
	}
}

func TestStore_Close_ShutsDownExporter(t *testing.T) {
	s, exp := newTestStore(t, Filter{})
	if err := s.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	exp.mu.Lock()
	defer exp.mu.Unlock()
	if !exp.shutdown {
		t.Fatal("exporter was not shut down")
	}
}

func TestNewLogExporter_RejectsUnknownProtocol(t *testing.T) {
	_, err := newLogExporter(context.Background(), Config{Endpoint: "localhost:4317", Protocol: "udp"})
	if err == nil {
		t.Fatal("expected error for unknown protocol")
	}
}

func TestNew_HTTPExporterConstructs(t *testing.T) {
	s, err := New(context.Background(), Config{Endpoint: "127.0.0.1:4318", Protocol: "http", Timeout: time.Second})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_ = s.logProvider.Shutdown(ctx)
}
