package metrics

import (
	"context"

	"github.com/agentsh/shellgate/internal/events"
	"github.com/agentsh/shellgate/internal/store"
	"github.com/agentsh/shellgate/pkg/types"
)

type wrappedEventStore struct {
	inner store.EventStore
	c     *Collector
}

// WrapEventStore counts every appended event and feeds command timings into
// the duration histogram.
func WrapEventStore(inner store.EventStore, c *Collector) store.EventStore {
	if inner == nil {
		return nil
	}
	if c == nil {
		c = New()
	}
	return &wrappedEventStore{inner: inner, c: c}
}

func (w *wrappedEventStore) AppendEvent(ctx context.Context, ev types.Event) error {
	w.c.IncEvent(ev.Type)
	if events.Category(ev.Type) == "command" {
		if ms, ok := durationMs(ev.Fields["execution_ms"]); ok {
			w.c.ObserveCommand(ms)
		}
	}
	return w.inner.AppendEvent(ctx, ev)
}

func (w *wrappedEventStore) QueryEvents(ctx context.Context, q types.EventQuery) ([]types.Event, error) {
	return w.inner.QueryEvents(ctx, q)
}

func (w *wrappedEventStore) Close() error { return w.inner.Close() }

func durationMs(v any) (int64, bool) {
	switch n := v.(type) {
	case int64:
		return n, true
	case int:
		return int64(n), true
	case float64:
		return int64(n), true
	}
	return 0, false
}
