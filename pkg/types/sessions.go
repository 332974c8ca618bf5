package types

import "time"

type SessionState string

const (
	SessionStateRunning     SessionState = "running"     // Shell alive, idle
	SessionStateBusy        SessionState = "busy"        // Command in flight
	SessionStateTerminating SessionState = "terminating" // Graceful signal sent
	SessionStateExited      SessionState = "exited"      // Shell exited on its own or after the graceful signal
	SessionStateKilled      SessionState = "killed"      // Force terminated after the grace period
	SessionStateFailed      SessionState = "failed"      // Stream or process error
)

// IsTerminal returns true if the session state is final.
func (s SessionState) IsTerminal() bool {
	switch s {
	case SessionStateExited, SessionStateKilled, SessionStateFailed:
		return true
	default:
		return false
	}
}

type Session struct {
	ID           string       `json:"id"`
	PID          int          `json:"pid"`
	State        SessionState `json:"state"`
	Shell        string       `json:"shell"`
	CreatedAt    time.Time    `json:"created_at"`
	LastActivity time.Time    `json:"last_activity"`
	Commands     int64        `json:"commands"`
}
