package events

import (
	"time"

	"github.com/google/uuid"

	"github.com/agentsh/shellgate/pkg/types"
)

// New builds an event with a fresh id and the current UTC time.
func New(typ EventType, sessionID string) types.Event {
	return types.Event{
		ID:        uuid.NewString(),
		Timestamp: time.Now().UTC(),
		Type:      string(typ),
		SessionID: sessionID,
		Fields:    map[string]any{},
	}
}

// ForCommand builds a command-scoped event.
func ForCommand(typ EventType, sessionID, commandID string) types.Event {
	ev := New(typ, sessionID)
	ev.CommandID = commandID
	return ev
}
