//go:build !windows

package session

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentsh/shellgate/internal/config"
	"github.com/agentsh/shellgate/pkg/types"
)

func TestManager_CreateRegistersRunningSession(t *testing.T) {
	m, sink := newTestManager(t)
	s := mustCreate(t, m)

	assert.Regexp(t, `^session_\d+_[0-9a-z]{10}$`, s.ID)
	assert.Positive(t, s.PID())
	assert.Equal(t, "sh (test)", s.Shell)
	assert.Equal(t, 1, m.Count())

	snap := s.Snapshot()
	assert.Equal(t, types.SessionStateRunning, snap.State)
	assert.Equal(t, s.PID(), snap.PID)
	assert.Equal(t, []string{"session_created"}, sink.eventTypes())
}

func TestManager_CreateFailsForMissingShell(t *testing.T) {
	m, _ := newTestManager(t, func(o *Options) { o.Shell.Path = "/nonexistent/shell" })
	_, err := m.Create(context.Background())
	require.Error(t, err)
	assert.Zero(t, m.Count())
}

func TestManager_MaxSessions(t *testing.T) {
	m, _ := newTestManager(t, func(o *Options) { o.MaxSessions = 1 })
	mustCreate(t, m)
	_, err := m.Create(context.Background())
	assert.ErrorIs(t, err, ErrMaxSessions)
}

func TestManager_DestroyIsIdempotent(t *testing.T) {
	m, sink := newTestManager(t)
	s := mustCreate(t, m)

	assert.True(t, m.Destroy(s.ID))
	assert.False(t, m.Destroy(s.ID))
	assert.False(t, m.Destroy("session_0_missing"))
	assert.Zero(t, m.Count())

	_, err := m.Execute(context.Background(), s.ID, "echo hi")
	assert.ErrorIs(t, err, ErrInvalidSession)

	select {
	case <-s.proc.term.Settled():
	case <-time.After(3 * time.Second):
		t.Fatal("shell did not exit after destroy")
	}
	assert.Equal(t, TermExited, s.proc.term.State())
	assert.Equal(t, types.SessionStateExited, s.Snapshot().State)
	assert.Contains(t, sink.eventTypes(), "session_destroyed")
	assert.NotContains(t, sink.eventTypes(), "session_exited")
}

func TestManager_StubbornShellIsKilled(t *testing.T) {
	m, sink := newTestManager(t, withTimings(func(tm *config.SessionTimings) {
		tm.GracePeriod = 300 * time.Millisecond
		tm.HardCeiling = 500 * time.Millisecond
	}))
	s := mustCreate(t, m)

	// Ignore SIGTERM and keep the group alive after stdin closes.
	res, err := m.Execute(context.Background(), s.ID, "trap '' TERM; exec sleep 30 </dev/null")
	require.NoError(t, err)
	assert.True(t, res.TimedOut)

	assert.True(t, m.Destroy(s.ID))
	select {
	case <-s.proc.term.Settled():
	case <-time.After(3 * time.Second):
		t.Fatal("shell was not killed")
	}
	assert.Equal(t, TermKilled, s.proc.term.State())
	assert.Equal(t, types.SessionStateKilled, s.Snapshot().State)
	assert.Eventually(t, func() bool {
		for _, typ := range sink.eventTypes() {
			if typ == "session_killed" {
				return true
			}
		}
		return false
	}, 2*time.Second, 10*time.Millisecond)
}

func TestManager_ListSnapshots(t *testing.T) {
	m, _ := newTestManager(t)
	a := mustCreate(t, m)
	b := mustCreate(t, m)

	_, err := m.Execute(context.Background(), a.ID, "true")
	require.NoError(t, err)

	list := m.List()
	require.Len(t, list, 2)
	ids := []string{list[0].ID, list[1].ID}
	assert.ElementsMatch(t, []string{a.ID, b.ID}, ids)
	for _, snap := range list {
		if snap.ID == a.ID {
			assert.EqualValues(t, 1, snap.Commands)
		}
	}
}

func TestManager_CloseTerminatesAll(t *testing.T) {
	m, _ := newTestManager(t)
	a := mustCreate(t, m)
	b := mustCreate(t, m)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, m.Close(ctx))
	assert.Zero(t, m.Count())
	assert.False(t, a.Active())
	assert.False(t, b.Active())
}
