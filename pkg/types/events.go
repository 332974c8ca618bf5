package types

import "time"

type Event struct {
	ID        string    `json:"id,omitempty"`
	Timestamp time.Time `json:"timestamp"`
	Type      string    `json:"type"`
	SessionID string    `json:"session_id"`
	CommandID string    `json:"command_id,omitempty"`
	PID       int       `json:"pid,omitempty"`

	Fields map[string]any `json:"fields,omitempty"`
}

type EventQuery struct {
	SessionID string
	CommandID string
	Types     []string
	Since     *time.Time
	Until     *time.Time

	TextLike string

	Limit  int
	Offset int
	Asc    bool
}
