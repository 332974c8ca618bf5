package metrics

import (
	"fmt"
	"net/http"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// commandBucketsMs are the upper bounds of the command duration histogram.
var commandBucketsMs = []int64{50, 100, 250, 500, 1000, 2500, 5000, 10000, 30000}

// Collector is a small Prometheus text-format exporter.
type Collector struct {
	startedAt time.Time

	eventsTotal atomic.Uint64
	byType      sync.Map // string -> *atomic.Uint64

	commandBuckets []atomic.Uint64
	commandCount   atomic.Uint64
	commandSumMs   atomic.Int64

	httpByStatus sync.Map // string -> *atomic.Uint64
}

func New() *Collector {
	return &Collector{
		startedAt:      time.Now().UTC(),
		commandBuckets: make([]atomic.Uint64, len(commandBucketsMs)),
	}
}

func (c *Collector) IncEvent(eventType string) {
	if c == nil {
		return
	}
	c.eventsTotal.Add(1)
	if eventType == "" {
		eventType = "unknown"
	}
	incr(&c.byType, eventType)
}

// ObserveCommand records one command's wall time.
func (c *Collector) ObserveCommand(ms int64) {
	if c == nil {
		return
	}
	c.commandCount.Add(1)
	c.commandSumMs.Add(ms)
	for i, le := range commandBucketsMs {
		if ms <= le {
			c.commandBuckets[i].Add(1)
		}
	}
}

// IncHTTP counts one served request by status code.
func (c *Collector) IncHTTP(status int) {
	if c == nil {
		return
	}
	incr(&c.httpByStatus, fmt.Sprintf("%d", status))
}

func incr(m *sync.Map, key string) {
	ptr, _ := m.LoadOrStore(key, &atomic.Uint64{})
	ptr.(*atomic.Uint64).Add(1)
}

type HandlerOptions struct {
	SessionCount func() int
}

func (c *Collector) Handler(opts HandlerOptions) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain; version=0.0.4; charset=utf-8")
		fmt.Fprint(w, "# HELP shellgate_up Whether the shellgate server is running.\n")
		fmt.Fprint(w, "# TYPE shellgate_up gauge\n")
		fmt.Fprint(w, "shellgate_up 1\n")

		fmt.Fprint(w, "# HELP shellgate_uptime_seconds Seconds since the collector was created.\n")
		fmt.Fprint(w, "# TYPE shellgate_uptime_seconds gauge\n")
		fmt.Fprintf(w, "shellgate_uptime_seconds %d\n", int64(time.Since(c.startedAt).Seconds()))

		fmt.Fprint(w, "# HELP shellgate_events_total Total number of audit events appended.\n")
		fmt.Fprint(w, "# TYPE shellgate_events_total counter\n")
		fmt.Fprintf(w, "shellgate_events_total %d\n", c.eventsTotal.Load())

		writeLabeled(w, &c.byType, "shellgate_events_by_type_total", "type", "Total audit events appended by type.")
		writeLabeled(w, &c.httpByStatus, "shellgate_http_requests_total", "code", "HTTP requests served by status code.")

		fmt.Fprint(w, "# HELP shellgate_command_duration_ms Wall time of executed commands.\n")
		fmt.Fprint(w, "# TYPE shellgate_command_duration_ms histogram\n")
		for i, le := range commandBucketsMs {
			fmt.Fprintf(w, "shellgate_command_duration_ms_bucket{le=\"%d\"} %d\n", le, c.commandBuckets[i].Load())
		}
		count := c.commandCount.Load()
		fmt.Fprintf(w, "shellgate_command_duration_ms_bucket{le=\"+Inf\"} %d\n", count)
		fmt.Fprintf(w, "shellgate_command_duration_ms_sum %d\n", c.commandSumMs.Load())
		fmt.Fprintf(w, "shellgate_command_duration_ms_count %d\n", count)

		if opts.SessionCount != nil {
			fmt.Fprint(w, "# HELP shellgate_sessions_active Active sessions.\n")
			fmt.Fprint(w, "# TYPE shellgate_sessions_active gauge\n")
			fmt.Fprintf(w, "shellgate_sessions_active %d\n", opts.SessionCount())
		}
	})
}

func writeLabeled(w http.ResponseWriter, m *sync.Map, name, label, help string) {
	keys := snapshotKeys(m)
	if len(keys) == 0 {
		return
	}
	fmt.Fprintf(w, "# HELP %s %s\n", name, help)
	fmt.Fprintf(w, "# TYPE %s counter\n", name)
	for _, k := range keys {
		ptr, _ := m.Load(k)
		n := uint64(0)
		if ptr != nil {
			n = ptr.(*atomic.Uint64).Load()
		}
		fmt.Fprintf(w, "%s{%s=\"%s\"} %d\n", name, label, escapeLabelValue(k), n)
	}
}

func snapshotKeys(m *sync.Map) []string {
	var out []string
	m.Range(func(k, _ any) bool {
		if s, ok := k.(string); ok {
			out = append(out, s)
		}
		return true
	})
	sort.Strings(out)
	return out
}

func escapeLabelValue(v string) string {
	// Prometheus text format label escaping for " and \ and newlines.
	v = strings.ReplaceAll(v, "\\", "\\\\")
	v = strings.ReplaceAll(v, "\n", "\\n")
	v = strings.ReplaceAll(v, "\"", "\\\"")
	return v
}
