package types

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// Action tags a gateway POST body.
type Action string

const (
	ActionCreateSession  Action = "create_session"
	ActionExecute        Action = "execute"
	ActionDestroySession Action = "destroy_session"
)

var (
	ErrMissingAction  = errors.New("missing action")
	ErrUnknownAction  = errors.New("unknown action")
	ErrMissingField   = errors.New("missing required field")
	ErrMalformedInput = errors.New("invalid json")
)

// GatewayRequest is the decoded form of one gateway POST. The set of
// implementations is closed: CreateSessionRequest, ExecuteRequest and
// DestroySessionRequest.
type GatewayRequest interface {
	Action() Action
	gatewayRequest()
}

type CreateSessionRequest struct{}

type ExecuteRequest struct {
	SessionID string `json:"sessionId"`
	Command   string `json:"command"`
}

type DestroySessionRequest struct {
	SessionID string `json:"sessionId"`
}

func (CreateSessionRequest) Action() Action  { return ActionCreateSession }
func (ExecuteRequest) Action() Action        { return ActionExecute }
func (DestroySessionRequest) Action() Action { return ActionDestroySession }

func (CreateSessionRequest) gatewayRequest()  {}
func (ExecuteRequest) gatewayRequest()        {}
func (DestroySessionRequest) gatewayRequest() {}

// DecodeGatewayRequest parses a gateway POST body and validates the fields the
// tagged action requires.
func DecodeGatewayRequest(data []byte) (GatewayRequest, error) {
	var env struct {
		Action Action `json:"action"`
	}
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, ErrMalformedInput
	}
	switch env.Action {
	case "":
		return nil, ErrMissingAction
	case ActionCreateSession:
		return CreateSessionRequest{}, nil
	case ActionExecute:
		var req ExecuteRequest
		if err := json.Unmarshal(data, &req); err != nil {
			return nil, ErrMalformedInput
		}
		if strings.TrimSpace(req.SessionID) == "" {
			return nil, fmt.Errorf("%w: sessionId", ErrMissingField)
		}
		if strings.TrimSpace(req.Command) == "" {
			return nil, fmt.Errorf("%w: command", ErrMissingField)
		}
		return req, nil
	case ActionDestroySession:
		var req DestroySessionRequest
		if err := json.Unmarshal(data, &req); err != nil {
			return nil, ErrMalformedInput
		}
		if strings.TrimSpace(req.SessionID) == "" {
			return nil, fmt.Errorf("%w: sessionId", ErrMissingField)
		}
		return req, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownAction, env.Action)
	}
}

type CreateSessionResponse struct {
	SessionID string `json:"sessionId"`
	Status    string `json:"status"`
	PID       int    `json:"pid"`
	Version   string `json:"version"`
}

// ExecResult is the outcome of one command written into a session.
type ExecResult struct {
	CommandID       string `json:"commandId,omitempty"`
	SessionID       string `json:"sessionId"`
	Command         string `json:"command"`
	Output          string `json:"output"`
	Error           string `json:"error"`
	ExecutionTimeMs int64  `json:"executionTime"`
	// Success is true iff Error is empty. A timeout is its own outcome:
	// check TimedOut before Success.
	Success   bool `json:"success"`
	TimedOut  bool `json:"timedOut,omitempty"`
	ExitCode  *int `json:"exitCode,omitempty"`
	Truncated bool `json:"truncated,omitempty"`
}

type DestroySessionResponse struct {
	Status string `json:"status"`
}

type StatusResponse struct {
	Status         string `json:"status"`
	ActiveSessions int    `json:"activeSessions"`
	Version        string `json:"version"`
	Platform       string `json:"platform"`
}

type ErrorResponse struct {
	Error string `json:"error"`
}

// OutputChunk is one page of a stored command output stream.
type OutputChunk struct {
	CommandID  string `json:"commandId"`
	Stream     string `json:"stream"`
	Offset     int64  `json:"offset"`
	Data       string `json:"data"`
	TotalBytes int64  `json:"totalBytes"`
	Truncated  bool   `json:"truncated"`
	HasMore    bool   `json:"hasMore"`
}
