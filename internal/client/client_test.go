package client

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentsh/shellgate/pkg/types"
)

type fakeGateway struct {
	t        *testing.T
	lastBody map[string]any
	lastKey  string
}

func (f *fakeGateway) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.lastKey = r.Header.Get("X-Token")
	w.Header().Set("Content-Type", "application/json")
	switch {
	case r.URL.Path == "/gw" && r.Method == http.MethodGet:
		_ = json.NewEncoder(w).Encode(types.StatusResponse{Status: "ok", ActiveSessions: 2, Platform: "linux/amd64"})
	case r.URL.Path == "/gw" && r.Method == http.MethodPost:
		b, _ := io.ReadAll(r.Body)
		f.lastBody = map[string]any{}
		require.NoError(f.t, json.Unmarshal(b, &f.lastBody))
		switch f.lastBody["action"] {
		case "create_session":
			_ = json.NewEncoder(w).Encode(types.CreateSessionResponse{SessionID: "session_1_abc", Status: "created", PID: 42})
		case "execute":
			if f.lastBody["sessionId"] == "gone" {
				w.WriteHeader(http.StatusNotFound)
				_ = json.NewEncoder(w).Encode(types.ErrorResponse{Error: "Invalid or expired session"})
				return
			}
			_ = json.NewEncoder(w).Encode(types.ExecResult{Output: "hi", Success: true, Command: f.lastBody["command"].(string)})
		case "destroy_session":
			_ = json.NewEncoder(w).Encode(types.DestroySessionResponse{Status: "destroyed"})
		}
	case r.URL.Path == "/api/v1/sessions/session_1_abc/output/cmd-1":
		_ = json.NewEncoder(w).Encode(types.OutputChunk{
			CommandID: "cmd-1",
			Stream:    r.URL.Query().Get("stream"),
			Data:      "abc",
			Offset:    3,
		})
	default:
		http.NotFound(w, r)
	}
}

func TestClient_GatewayActions(t *testing.T) {
	fg := &fakeGateway{t: t}
	srv := httptest.NewServer(fg)
	defer srv.Close()

	c := New(srv.URL+"/", "k1", WithGatewayPath("/gw"), WithHeaderName("X-Token"))
	ctx := context.Background()

	created, err := c.CreateSession(ctx)
	require.NoError(t, err)
	assert.Equal(t, "session_1_abc", created.SessionID)
	assert.Equal(t, "k1", fg.lastKey)

	res, err := c.Execute(ctx, created.SessionID, "echo hi")
	require.NoError(t, err)
	assert.Equal(t, "hi", res.Output)
	assert.Equal(t, "echo hi", fg.lastBody["command"])

	require.NoError(t, c.DestroySession(ctx, created.SessionID))
	assert.Equal(t, "destroy_session", fg.lastBody["action"])

	st, err := c.Status(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, st.ActiveSessions)

	chunk, err := c.OutputChunk(ctx, created.SessionID, "cmd-1", "stderr", 3, 0)
	require.NoError(t, err)
	assert.Equal(t, "stderr", chunk.Stream)
	assert.Equal(t, "abc", chunk.Data)
}

func TestClient_ErrorsCarryServerMessage(t *testing.T) {
	srv := httptest.NewServer(&fakeGateway{t: t})
	defer srv.Close()

	c := New(srv.URL, "", WithGatewayPath("/gw"))
	_, err := c.Execute(context.Background(), "gone", "ls")
	require.Error(t, err)
	assert.True(t, IsNotFound(err))
	var he *HTTPError
	require.ErrorAs(t, err, &he)
	assert.Equal(t, "Invalid or expired session", he.Message())

	_, err = c.ListSessions(context.Background())
	assert.True(t, IsNotFound(err))
}
