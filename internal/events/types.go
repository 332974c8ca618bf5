package events

// EventType identifies the type of event.
type EventType string

// Session lifecycle events.
const (
	EventSessionCreated   EventType = "session_created"
	EventSessionDestroyed EventType = "session_destroyed"
	EventSessionExpired   EventType = "session_expired"
	EventSessionExited    EventType = "session_exited"
	EventSessionFailed    EventType = "session_failed"
	EventSessionKilled    EventType = "session_killed"
)

// Command events.
const (
	EventCommandExecuted EventType = "command_executed"
	EventCommandTimedOut EventType = "command_timed_out"
	EventCommandFault    EventType = "command_fault"
)

// EventCategory maps event types to their categories.
var EventCategory = map[EventType]string{
	EventSessionCreated:   "session",
	EventSessionDestroyed: "session",
	EventSessionExpired:   "session",
	EventSessionExited:    "session",
	EventSessionFailed:    "session",
	EventSessionKilled:    "session",

	EventCommandExecuted: "command",
	EventCommandTimedOut: "command",
	EventCommandFault:    "command",
}

// AllEventTypes lists every event type in declaration order.
var AllEventTypes = []EventType{
	EventSessionCreated,
	EventSessionDestroyed,
	EventSessionExpired,
	EventSessionExited,
	EventSessionFailed,
	EventSessionKilled,
	EventCommandExecuted,
	EventCommandTimedOut,
	EventCommandFault,
}

// Category returns the category for an event type name, or "" if unknown.
func Category(typ string) string {
	return EventCategory[EventType(typ)]
}
