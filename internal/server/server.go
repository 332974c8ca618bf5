package server

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/agentsh/shellgate/internal/api"
	"github.com/agentsh/shellgate/internal/auth"
	"github.com/agentsh/shellgate/internal/config"
	"github.com/agentsh/shellgate/internal/metrics"
	"github.com/agentsh/shellgate/internal/session"
	storepkg "github.com/agentsh/shellgate/internal/store"
	"github.com/agentsh/shellgate/internal/store/composite"
	"github.com/agentsh/shellgate/internal/store/jsonl"
	otelstore "github.com/agentsh/shellgate/internal/store/otel"
	"github.com/agentsh/shellgate/internal/store/sqlite"
	"github.com/agentsh/shellgate/internal/store/webhook"
)

const pruneInterval = time.Hour

type Server struct {
	httpServer *http.Server
	httpLn     net.Listener

	unixServer *http.Server
	unixLn     net.Listener
	unixPath   string

	db       *sqlite.Store
	store    *composite.Store
	sessions *session.Manager
	apiKeys  *auth.APIKeyAuth
	logger   *slog.Logger

	watchKeys bool
	retention time.Duration
}

// New builds the store chain, session manager and listeners described by cfg.
// Listeners are bound here so callers can read the chosen address before Run.
func New(cfg *config.Config, version string) (*Server, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is nil")
	}
	logger := slog.Default()

	timings, err := cfg.Sessions.Timings()
	if err != nil {
		return nil, err
	}
	var retention time.Duration
	if cfg.Audit.Storage.Retention != "" {
		if retention, err = time.ParseDuration(cfg.Audit.Storage.Retention); err != nil {
			return nil, fmt.Errorf("parse audit.storage.retention: %w", err)
		}
	}

	metricsCollector := metrics.New()

	if err := os.MkdirAll(filepath.Dir(cfg.Audit.Storage.SQLitePath), 0o755); err != nil {
		return nil, fmt.Errorf("mkdir sqlite dir: %w", err)
	}
	db, err := sqlite.Open(cfg.Audit.Storage.SQLitePath)
	if err != nil {
		return nil, err
	}

	sinks, err := buildSinks(cfg, version)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	// Wrap the primary event store so metrics count each event exactly once.
	primary := metrics.WrapEventStore(db, metricsCollector)
	store := composite.New(primary, db, sinks...)

	var apiKeyAuth *auth.APIKeyAuth
	if !cfg.Development.DisableAuth && cfg.Auth.Type == "api_key" {
		loaded, err := auth.LoadAPIKeys(cfg.Auth.APIKey.KeysFile, cfg.Auth.APIKey.HeaderName)
		if err != nil {
			_ = store.Close()
			return nil, err
		}
		apiKeyAuth = loaded
	}

	sessions := session.NewManager(session.Options{
		Shell:       cfg.Shell,
		Timings:     timings,
		MaxSessions: cfg.Sessions.MaxSessions,
		Logger:      logger,
		Events:      store,
		Outputs:     store,
	})

	app := api.NewApp(api.Options{
		Config:   cfg,
		Sessions: sessions,
		Events:   store,
		Outputs:  store,
		APIKeys:  apiKeyAuth,
		Metrics:  metricsCollector,
		Logger:   logger,
	})
	handler := app.Router()

	readTimeout, err := time.ParseDuration(cfg.Server.HTTP.ReadTimeout)
	if err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("parse server.http.read_timeout: %w", err)
	}
	writeTimeout, err := time.ParseDuration(cfg.Server.HTTP.WriteTimeout)
	if err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("parse server.http.write_timeout: %w", err)
	}
	if writeTimeout <= timings.HardCeiling {
		logger.Warn("server.http.write_timeout does not outlast sessions.hard_ceiling; long commands may lose their response",
			"write_timeout", writeTimeout, "hard_ceiling", timings.HardCeiling)
	}

	srv := &Server{
		httpServer: &http.Server{
			Addr:              cfg.Server.HTTP.Addr,
			Handler:           handler,
			ReadHeaderTimeout: 15 * time.Second,
			ReadTimeout:       readTimeout,
			WriteTimeout:      writeTimeout,
		},
		db:        db,
		store:     store,
		sessions:  sessions,
		apiKeys:   apiKeyAuth,
		logger:    logger,
		watchKeys: cfg.Auth.APIKey.Watch,
		retention: retention,
	}

	ln, err := listenHTTP(cfg)
	if err != nil {
		_ = store.Close()
		return nil, err
	}
	srv.httpLn = ln

	if cfg.Server.UnixSocket.Enabled && cfg.Server.UnixSocket.Path != "" {
		unixLn, err := listenUnix(cfg.Server.UnixSocket)
		switch {
		case err == nil:
			srv.unixLn = unixLn
			srv.unixPath = cfg.Server.UnixSocket.Path
			srv.unixServer = &http.Server{
				Handler:           handler,
				ReadHeaderTimeout: 15 * time.Second,
				ReadTimeout:       readTimeout,
				WriteTimeout:      writeTimeout,
			}
		case isPermissionErr(err):
			logger.Warn("unix socket disabled", "path", cfg.Server.UnixSocket.Path, "error", err)
		default:
			_ = ln.Close()
			_ = store.Close()
			return nil, err
		}
	}

	return srv, nil
}

// buildSinks returns the secondary event stores enabled in cfg.
func buildSinks(cfg *config.Config, version string) ([]storepkg.EventStore, error) {
	var sinks []storepkg.EventStore
	closeAll := func() {
		for _, s := range sinks {
			_ = s.Close()
		}
	}

	if cfg.Audit.Output != "" {
		js, err := jsonl.New(cfg.Audit.Output, cfg.Audit.Rotation.MaxSizeMB, cfg.Audit.Rotation.MaxBackups)
		if err != nil {
			return nil, err
		}
		sinks = append(sinks, js)
	}

	if cfg.Audit.Webhook.URL != "" {
		flushEvery, err := time.ParseDuration(cfg.Audit.Webhook.FlushInterval)
		if err != nil {
			closeAll()
			return nil, fmt.Errorf("parse audit.webhook.flush_interval: %w", err)
		}
		timeout, err := time.ParseDuration(cfg.Audit.Webhook.Timeout)
		if err != nil {
			closeAll()
			return nil, fmt.Errorf("parse audit.webhook.timeout: %w", err)
		}
		wh, err := webhook.New(cfg.Audit.Webhook.URL, cfg.Audit.Webhook.BatchSize, flushEvery, timeout, cfg.Audit.Webhook.Headers)
		if err != nil {
			closeAll()
			return nil, err
		}
		sinks = append(sinks, wh)
	}

	if cfg.Audit.OTEL.Enabled {
		oc := cfg.Audit.OTEL
		timeout, err := time.ParseDuration(oc.Timeout)
		if err != nil {
			closeAll()
			return nil, fmt.Errorf("parse audit.otel.timeout: %w", err)
		}
		batchTimeout, err := time.ParseDuration(oc.Batch.Timeout)
		if err != nil {
			closeAll()
			return nil, fmt.Errorf("parse audit.otel.batch.timeout: %w", err)
		}
		ots, err := otelstore.New(context.Background(), otelstore.Config{
			Endpoint:     oc.Endpoint,
			Protocol:     oc.Protocol,
			TLSEnabled:   oc.TLS.Enabled,
			TLSCertFile:  oc.TLS.CertFile,
			TLSKeyFile:   oc.TLS.KeyFile,
			TLSInsecure:  oc.TLS.Insecure,
			Headers:      oc.Headers,
			Timeout:      timeout,
			BatchTimeout: batchTimeout,
			BatchMaxSize: oc.Batch.MaxSize,
			Filter: otelstore.Filter{
				IncludeTypes:      oc.Filter.IncludeTypes,
				ExcludeTypes:      oc.Filter.ExcludeTypes,
				IncludeCategories: oc.Filter.IncludeCategories,
				ExcludeCategories: oc.Filter.ExcludeCategories,
			},
			Resource: otelstore.BuildResource("shellgate", version, oc.ResourceAttributes),
		})
		if err != nil {
			closeAll()
			return nil, err
		}
		sinks = append(sinks, ots)
	}
	return sinks, nil
}

func isPermissionErr(err error) bool {
	return os.IsPermission(err) || errors.Is(err, syscall.EACCES) || errors.Is(err, syscall.EPERM)
}

func listenHTTP(cfg *config.Config) (net.Listener, error) {
	addr := cfg.Server.HTTP.Addr
	if cfg.Development.DisableAuth || strings.EqualFold(strings.TrimSpace(cfg.Auth.Type), "none") {
		if !isLoopbackListenAddr(addr) {
			return nil, fmt.Errorf("refusing to listen on %q with auth.type=none (use 127.0.0.1/localhost or enable auth)", addr)
		}
	}
	if !cfg.Server.TLS.Enabled {
		return net.Listen("tcp", addr)
	}
	if cfg.Server.TLS.CertFile == "" || cfg.Server.TLS.KeyFile == "" {
		return nil, fmt.Errorf("server.tls enabled but cert_file/key_file missing")
	}
	cert, err := tls.LoadX509KeyPair(cfg.Server.TLS.CertFile, cfg.Server.TLS.KeyFile)
	if err != nil {
		return nil, fmt.Errorf("load tls keypair: %w", err)
	}
	return tls.Listen("tcp", addr, &tls.Config{Certificates: []tls.Certificate{cert}, MinVersion: tls.VersionTLS12})
}

func listenUnix(cfg config.ServerUnixSocketConfig) (net.Listener, error) {
	perms := os.FileMode(0o660)
	if p := cfg.Permissions; p != "" {
		u, err := strconv.ParseUint(p, 0, 32)
		if err != nil {
			return nil, fmt.Errorf("unix socket permissions %q: %w", p, err)
		}
		perms = os.FileMode(u)
	}
	if err := os.MkdirAll(filepath.Dir(cfg.Path), 0o755); err != nil {
		return nil, fmt.Errorf("unix socket mkdir: %w", err)
	}
	_ = os.Remove(cfg.Path)
	ln, err := net.Listen("unix", cfg.Path)
	if err != nil {
		return nil, fmt.Errorf("unix socket listen: %w", err)
	}
	if err := os.Chmod(cfg.Path, perms); err != nil {
		_ = ln.Close()
		return nil, fmt.Errorf("unix socket chmod: %w", err)
	}
	return ln, nil
}

func isLoopbackListenAddr(addr string) bool {
	a := strings.TrimSpace(addr)
	if a == "" {
		return false
	}
	// ":8080" binds on all interfaces.
	if strings.HasPrefix(a, ":") {
		return false
	}
	host, _, err := net.SplitHostPort(a)
	if err != nil {
		host = a
	}
	host = strings.TrimSpace(host)
	if host == "" {
		return false
	}
	if strings.EqualFold(host, "localhost") {
		return true
	}
	if ip := net.ParseIP(host); ip != nil {
		return ip.IsLoopback()
	}
	// Unknown hostnames could resolve non-loopback.
	return false
}

// Addr returns the bound HTTP address.
func (s *Server) Addr() string {
	if s == nil || s.httpLn == nil {
		return ""
	}
	return s.httpLn.Addr().String()
}

// Run serves until ctx is done or SIGINT/SIGTERM arrives, then shuts the
// listeners down and terminates every live session.
func (s *Server) Run(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	go s.sessions.RunReaper(ctx)
	if s.retention > 0 {
		go s.pruneLoop(ctx)
	}
	if s.apiKeys != nil && s.watchKeys {
		if err := s.apiKeys.Watch(ctx, s.logger, nil); err != nil {
			s.logger.Warn("api key file watch disabled", "error", err)
		}
	}

	errCh := make(chan error, 2)
	go func() {
		if err := s.httpServer.Serve(s.httpLn); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()
	if s.unixServer != nil && s.unixLn != nil {
		go func() {
			if err := s.unixServer.Serve(s.unixLn); err != nil && !errors.Is(err, http.ErrServerClosed) {
				errCh <- err
			}
		}()
	}
	s.logger.Info("shellgate listening", "addr", s.Addr(), "unix", s.unixPath)

	var runErr error
	select {
	case <-ctx.Done():
	case err := <-errCh:
		runErr = fmt.Errorf("server: %w", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if s.unixServer != nil {
		_ = s.unixServer.Shutdown(shutdownCtx)
	}
	if err := s.httpServer.Shutdown(shutdownCtx); err != nil && runErr == nil {
		runErr = err
	}
	if err := s.sessions.Close(shutdownCtx); err != nil {
		s.logger.Warn("sessions did not settle before shutdown deadline", "error", err)
	}
	return runErr
}

func (s *Server) pruneLoop(ctx context.Context) {
	prune := func() {
		cutoff := time.Now().Add(-s.retention)
		n, err := s.db.PruneBefore(ctx, cutoff)
		if err != nil {
			if ctx.Err() == nil {
				s.logger.Warn("prune events failed", "error", err)
			}
			return
		}
		if n > 0 {
			s.logger.Info("pruned audit events", "count", n, "before", cutoff)
		}
	}
	prune()
	ticker := time.NewTicker(pruneInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			prune()
		}
	}
}

// Close releases listeners and stores. Safe to call after Run.
func (s *Server) Close() error {
	if s.httpLn != nil {
		_ = s.httpLn.Close()
		s.httpLn = nil
	}
	if s.unixLn != nil {
		_ = s.unixLn.Close()
		s.unixLn = nil
	}
	if s.unixPath != "" {
		_ = os.Remove(s.unixPath)
		s.unixPath = ""
	}
	if s.sessions != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		_ = s.sessions.Close(ctx)
		cancel()
	}
	if s.store != nil {
		return s.store.Close()
	}
	return nil
}
