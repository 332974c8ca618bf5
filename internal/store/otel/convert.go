package otel

import (
	"context"
	"encoding/hex"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	otellog "go.opentelemetry.io/otel/log"
	"go.opentelemetry.io/otel/sdk/resource"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"

	"github.com/agentsh/shellgate/internal/events"
	"github.com/agentsh/shellgate/pkg/types"
)

func convertToLogRecord(ev types.Event) otellog.Record {
	var rec otellog.Record
	sev := eventSeverity(ev)
	rec.SetTimestamp(ev.Timestamp)
	rec.SetBody(otellog.StringValue(eventBody(ev)))
	rec.SetSeverity(sev)
	rec.SetSeverityText(sev.String())
	rec.AddAttributes(eventAttributes(ev)...)
	return rec
}

// eventContext returns ctx unchanged when it already carries a span;
// otherwise it rebuilds one from trace_id/span_id fields, if present.
func eventContext(ctx context.Context, ev types.Event) context.Context {
	if trace.SpanContextFromContext(ctx).IsValid() {
		return ctx
	}
	traceID, hasTrace := extractTraceID(ev)
	spanID, hasSpan := extractSpanID(ev)
	if !hasTrace || !hasSpan {
		return ctx
	}
	sc := trace.NewSpanContext(trace.SpanContextConfig{
		TraceID:    traceID,
		SpanID:     spanID,
		TraceFlags: trace.FlagsSampled,
		Remote:     true,
	})
	return trace.ContextWithSpanContext(ctx, sc)
}

func eventBody(ev types.Event) string {
	if cmd, ok := ev.Fields["command"].(string); ok && cmd != "" {
		return fmt.Sprintf("%s: %s", ev.Type, cmd)
	}
	if reason, ok := ev.Fields["reason"].(string); ok && reason != "" {
		return fmt.Sprintf("%s (%s)", ev.Type, reason)
	}
	return ev.Type
}

func eventSeverity(ev types.Event) otellog.Severity {
	switch events.EventType(ev.Type) {
	case events.EventSessionFailed, events.EventCommandFault:
		return otellog.SeverityError
	case events.EventCommandTimedOut, events.EventSessionKilled:
		return otellog.SeverityWarn
	case events.EventCommandExecuted:
		if ok, isBool := ev.Fields["success"].(bool); isBool && !ok {
			return otellog.SeverityWarn
		}
	}
	return otellog.SeverityInfo
}

// fieldAttributes are the event fields copied into shellgate.* attributes.
var fieldAttributes = []string{
	"shell", "reason", "success", "timed_out", "truncated",
	"exit_code", "execution_ms", "age_ms", "grace_ms", "error",
}

func eventAttributes(ev types.Event) []otellog.KeyValue {
	var attrs []otellog.KeyValue

	if ev.PID != 0 {
		attrs = append(attrs, otellog.Int(string(semconv.ProcessPIDKey), ev.PID))
	}
	if cmd, ok := ev.Fields["command"].(string); ok && cmd != "" {
		attrs = append(attrs, otellog.String(string(semconv.ProcessCommandLineKey), cmd))
	}

	if ev.ID != "" {
		attrs = append(attrs, otellog.String("shellgate.event.id", ev.ID))
	}
	attrs = append(attrs, otellog.String("shellgate.event.type", ev.Type))
	if cat := events.Category(ev.Type); cat != "" {
		attrs = append(attrs, otellog.String("shellgate.event.category", cat))
	}
	if ev.SessionID != "" {
		attrs = append(attrs, otellog.String("shellgate.session.id", ev.SessionID))
	}
	if ev.CommandID != "" {
		attrs = append(attrs, otellog.String("shellgate.command.id", ev.CommandID))
	}

	for _, key := range fieldAttributes {
		v, ok := ev.Fields[key]
		if !ok {
			continue
		}
		name := "shellgate." + key
		switch val := v.(type) {
		case string:
			if val != "" {
				attrs = append(attrs, otellog.String(name, val))
			}
		case bool:
			attrs = append(attrs, otellog.Bool(name, val))
		case int:
			attrs = append(attrs, otellog.Int(name, val))
		case int64:
			attrs = append(attrs, otellog.Int64(name, val))
		case float64:
			attrs = append(attrs, otellog.Float64(name, val))
		}
	}
	return attrs
}

func extractTraceID(ev types.Event) (trace.TraceID, bool) {
	s, ok := ev.Fields["trace_id"].(string)
	if !ok || s == "" {
		return trace.TraceID{}, false
	}
	b, err := hex.DecodeString(s)
	if err != nil || len(b) != 16 {
		return trace.TraceID{}, false
	}
	var tid trace.TraceID
	copy(tid[:], b)
	return tid, tid.IsValid()
}

func extractSpanID(ev types.Event) (trace.SpanID, bool) {
	s, ok := ev.Fields["span_id"].(string)
	if !ok || s == "" {
		return trace.SpanID{}, false
	}
	b, err := hex.DecodeString(s)
	if err != nil || len(b) != 8 {
		return trace.SpanID{}, false
	}
	var sid trace.SpanID
	copy(sid[:], b)
	return sid, sid.IsValid()
}

// BuildResource creates a Resource carrying service.name plus extra
// attributes from config.
func BuildResource(serviceName, version string, extraAttrs map[string]string) *resource.Resource {
	kvs := []attribute.KeyValue{semconv.ServiceName(serviceName)}
	if version != "" {
		kvs = append(kvs, semconv.ServiceVersion(version))
	}
	for k, v := range extraAttrs {
		kvs = append(kvs, attribute.String(k, v))
	}
	res, _ := resource.New(context.Background(), resource.WithAttributes(kvs...))
	return res
}
