package session

import (
	"context"
	"log/slog"
	"time"
)

// ReapFunc terminates and unregisters one session. reason is "max_idle" or
// "idle_timeout".
type ReapFunc func(s *Session, reason string)

// Reaper evicts sessions that have outlived their welcome.
type Reaper struct {
	registry    *Registry
	maxAge      time.Duration
	idleTimeout time.Duration
	interval    time.Duration
	reap        ReapFunc
	logger      *slog.Logger
}

func NewReaper(registry *Registry, maxAge, idleTimeout, interval time.Duration, reap ReapFunc, logger *slog.Logger) *Reaper {
	if logger == nil {
		logger = slog.Default()
	}
	return &Reaper{
		registry:    registry,
		maxAge:      maxAge,
		idleTimeout: idleTimeout,
		interval:    interval,
		reap:        reap,
		logger:      logger,
	}
}

// Sweep reaps every session created more than maxAge before now, or idle for
// longer than idleTimeout when that is set. It returns the reaped ids.
func (r *Reaper) Sweep(now time.Time) []string {
	var reaped []string
	r.registry.ForEach(func(s *Session) bool {
		reason := ""
		switch {
		case r.maxAge > 0 && now.Sub(s.CreatedAt) > r.maxAge:
			reason = "max_idle"
		case r.idleTimeout > 0 && now.Sub(s.LastActivity()) > r.idleTimeout:
			reason = "idle_timeout"
		default:
			return true
		}
		r.logger.Info("reaping session", "session_id", s.ID, "reason", reason, "age", now.Sub(s.CreatedAt))
		r.reap(s, reason)
		reaped = append(reaped, s.ID)
		return true
	})
	return reaped
}

// Run sweeps on every tick until ctx is done.
func (r *Reaper) Run(ctx context.Context) {
	if r.interval <= 0 {
		return
	}
	t := time.NewTicker(r.interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-t.C:
			r.Sweep(now)
		}
	}
}
