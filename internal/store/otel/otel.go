// Package otel implements a store.EventStore that exports shellgate audit
// events as OTLP log records.
package otel

import (
	"context"
	"crypto/tls"
	"fmt"
	"log/slog"
	"time"

	otellog "go.opentelemetry.io/otel/log"
	"go.opentelemetry.io/otel/sdk/resource"
	"google.golang.org/grpc/credentials"

	sdklog "go.opentelemetry.io/otel/sdk/log"

	"go.opentelemetry.io/otel/exporters/otlp/otlplog/otlploggrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlplog/otlploghttp"

	"github.com/agentsh/shellgate/internal/events"
	"github.com/agentsh/shellgate/pkg/types"
)

const instrumentationName = "github.com/agentsh/shellgate"

type Config struct {
	Endpoint string
	Protocol string // "grpc" or "http"

	TLSEnabled  bool
	TLSCertFile string
	TLSKeyFile  string
	TLSInsecure bool

	Headers map[string]string

	Timeout      time.Duration
	BatchTimeout time.Duration
	BatchMaxSize int

	Filter Filter

	Resource *resource.Resource
}

// Store exports events through a batching LoggerProvider. Export failures are
// handled inside the SDK and never surface to AppendEvent callers.
type Store struct {
	filter      *Filter
	logProvider *sdklog.LoggerProvider
	logger      otellog.Logger
}

func New(ctx context.Context, cfg Config) (*Store, error) {
	exp, err := newLogExporter(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("otel log exporter: %w", err)
	}
	return newWithExporter(cfg, sdklog.NewBatchProcessor(exp,
		sdklog.WithExportTimeout(orDefault(cfg.Timeout, 10*time.Second)),
		sdklog.WithExportInterval(orDefault(cfg.BatchTimeout, 5*time.Second)),
		sdklog.WithExportMaxBatchSize(orDefaultInt(cfg.BatchMaxSize, 512)),
	)), nil
}

func newWithExporter(cfg Config, proc sdklog.Processor) *Store {
	opts := []sdklog.LoggerProviderOption{sdklog.WithProcessor(proc)}
	if cfg.Resource != nil {
		opts = append(opts, sdklog.WithResource(cfg.Resource))
	}
	provider := sdklog.NewLoggerProvider(opts...)
	filter := cfg.Filter
	return &Store{
		filter:      &filter,
		logProvider: provider,
		logger:      provider.Logger(instrumentationName),
	}
}

func (s *Store) AppendEvent(ctx context.Context, ev types.Event) error {
	if !s.filter.Match(ev.Type, events.Category(ev.Type)) {
		return nil
	}
	s.logger.Emit(eventContext(ctx, ev), convertToLogRecord(ev))
	return nil
}

func (s *Store) QueryEvents(_ context.Context, _ types.EventQuery) ([]types.Event, error) {
	return nil, fmt.Errorf("otel store does not support queries")
}

// Close flushes pending records, waiting at most 10 seconds.
func (s *Store) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := s.logProvider.Shutdown(ctx); err != nil {
		slog.Warn("otel log provider shutdown error", "error", err)
		return err
	}
	return nil
}

func newLogExporter(ctx context.Context, cfg Config) (sdklog.Exporter, error) {
	var tlsCfg *tls.Config
	if cfg.TLSEnabled {
		var err error
		if tlsCfg, err = clientTLS(cfg); err != nil {
			return nil, err
		}
	}

	switch cfg.Protocol {
	case "grpc", "":
		opts := []otlploggrpc.Option{otlploggrpc.WithEndpoint(cfg.Endpoint)}
		if cfg.Timeout > 0 {
			opts = append(opts, otlploggrpc.WithTimeout(cfg.Timeout))
		}
		if len(cfg.Headers) > 0 {
			opts = append(opts, otlploggrpc.WithHeaders(cfg.Headers))
		}
		if tlsCfg != nil {
			opts = append(opts, otlploggrpc.WithTLSCredentials(credentials.NewTLS(tlsCfg)))
		} else {
			opts = append(opts, otlploggrpc.WithInsecure())
		}
		return otlploggrpc.New(ctx, opts...)

	case "http":
		opts := []otlploghttp.Option{otlploghttp.WithEndpoint(cfg.Endpoint)}
		if cfg.Timeout > 0 {
			opts = append(opts, otlploghttp.WithTimeout(cfg.Timeout))
		}
		if len(cfg.Headers) > 0 {
			opts = append(opts, otlploghttp.WithHeaders(cfg.Headers))
		}
		if tlsCfg != nil {
			opts = append(opts, otlploghttp.WithTLSClientConfig(tlsCfg))
		} else {
			opts = append(opts, otlploghttp.WithInsecure())
		}
		return otlploghttp.New(ctx, opts...)

	default:
		return nil, fmt.Errorf("unsupported OTEL protocol %q", cfg.Protocol)
	}
}

func clientTLS(cfg Config) (*tls.Config, error) {
	tlsCfg := &tls.Config{InsecureSkipVerify: cfg.TLSInsecure} //nolint:gosec // opt-in via config
	if cfg.TLSCertFile != "" && cfg.TLSKeyFile != "" {
		cert, err := tls.LoadX509KeyPair(cfg.TLSCertFile, cfg.TLSKeyFile)
		if err != nil {
			return nil, fmt.Errorf("load TLS client cert: %w", err)
		}
		tlsCfg.Certificates = []tls.Certificate{cert}
	}
	return tlsCfg, nil
}

func orDefault(d, def time.Duration) time.Duration {
	if d <= 0 {
		return def
	}
	return d
}

func orDefaultInt(n, def int) int {
	if n <= 0 {
		return def
	}
	return n
}
