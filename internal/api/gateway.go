package api

import (
	"errors"
	"net/http"
	"runtime"

	"github.com/agentsh/shellgate/internal/session"
	"github.com/agentsh/shellgate/pkg/types"
)

// Wire messages for the session lookup errors. Clients match on these.
const (
	msgInvalidSession   = "Invalid or expired session"
	msgSessionNotActive = "Session not active"
)

func (a *App) gatewayStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, types.StatusResponse{
		Status:         "ok",
		ActiveSessions: a.sessions.Count(),
		Version:        a.sessions.VersionLabel(),
		Platform:       runtime.GOOS + "/" + runtime.GOARCH,
	})
}

func (a *App) gatewayAction(w http.ResponseWriter, r *http.Request) {
	req, ok := decodeGatewayRequest(w, r)
	if !ok {
		return
	}
	switch req := req.(type) {
	case types.CreateSessionRequest:
		a.createSession(w, r)
	case types.ExecuteRequest:
		a.execute(w, r, req)
	case types.DestroySessionRequest:
		a.destroySession(w, req)
	}
}

func (a *App) createSession(w http.ResponseWriter, r *http.Request) {
	s, err := a.sessions.Create(r.Context())
	if err != nil {
		if errors.Is(err, session.ErrMaxSessions) {
			writeError(w, http.StatusServiceUnavailable, err.Error())
			return
		}
		a.logger.Error("create session failed", "error", err)
		writeError(w, http.StatusInternalServerError, "Failed to create session: "+err.Error())
		return
	}
	writeJSON(w, http.StatusOK, types.CreateSessionResponse{
		SessionID: s.ID,
		Status:    "created",
		PID:       s.PID(),
		Version:   a.sessions.VersionLabel(),
	})
}

func (a *App) execute(w http.ResponseWriter, r *http.Request, req types.ExecuteRequest) {
	res, err := a.sessions.Execute(r.Context(), req.SessionID, req.Command)
	if err != nil {
		switch {
		case errors.Is(err, session.ErrInvalidSession):
			writeError(w, http.StatusNotFound, msgInvalidSession)
		case errors.Is(err, session.ErrSessionNotActive):
			writeError(w, http.StatusConflict, msgSessionNotActive)
		default:
			writeError(w, http.StatusInternalServerError, err.Error())
		}
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (a *App) destroySession(w http.ResponseWriter, req types.DestroySessionRequest) {
	if !a.sessions.Destroy(req.SessionID) {
		a.logger.Debug("destroy of unknown session", "session_id", req.SessionID)
	}
	writeJSON(w, http.StatusOK, types.DestroySessionResponse{Status: "destroyed"})
}
