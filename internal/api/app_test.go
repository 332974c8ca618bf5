package api

import (
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentsh/shellgate/internal/auth"
	"github.com/agentsh/shellgate/internal/config"
	"github.com/agentsh/shellgate/pkg/types"
)

func TestRouter_HealthAndMetrics(t *testing.T) {
	ta := newTestApp(t, nil)

	rr := ta.do(t, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "ok\n", rr.Body.String())

	rr = ta.do(t, http.MethodGet, "/ready", nil)
	assert.Equal(t, http.StatusOK, rr.Code)

	createSession(t, ta)
	rr = ta.do(t, http.MethodGet, "/metrics", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	body := rr.Body.String()
	assert.Contains(t, body, "shellgate_sessions_active 1")
	assert.Contains(t, body, `shellgate_http_requests_total{code="200"}`)
}

func TestRouter_MetricsDisabled(t *testing.T) {
	ta := newTestApp(t, func(c *config.Config) { c.Metrics.Enabled = false })
	rr := ta.do(t, http.MethodGet, "/metrics", nil)
	assert.Equal(t, http.StatusNotFound, rr.Code)
}

func TestRouter_APIKeyAuth(t *testing.T) {
	keys := filepath.Join(t.TempDir(), "keys.yml")
	require.NoError(t, os.WriteFile(keys, []byte("- id: ci\n  key: sekret\n"), 0o600))
	ak, err := auth.LoadAPIKeys(keys, "")
	require.NoError(t, err)

	ta := newTestApp(t, func(c *config.Config) { c.Auth.Type = "api_key" })
	ta.app.apiKeyAuth = ak
	ta.handler = ta.app.Router()

	rr := ta.do(t, http.MethodGet, gw, nil)
	assert.Equal(t, http.StatusUnauthorized, rr.Code)

	rr = ta.do(t, http.MethodGet, gw, nil, "X-API-Key", "wrong")
	assert.Equal(t, http.StatusUnauthorized, rr.Code)

	rr = ta.do(t, http.MethodGet, gw, nil, "X-API-Key", "sekret")
	assert.Equal(t, http.StatusOK, rr.Code)

	// Health stays reachable without a key.
	rr = ta.do(t, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, rr.Code)
}

func TestRouter_APIKeyAuthWithoutKeys(t *testing.T) {
	ta := newTestApp(t, func(c *config.Config) { c.Auth.Type = "api_key" })
	rr := ta.do(t, http.MethodGet, gw, nil)
	assert.Equal(t, http.StatusServiceUnavailable, rr.Code)
}

func TestREST_ListAndGetSessions(t *testing.T) {
	ta := newTestApp(t, nil)
	a := createSession(t, ta).SessionID
	b := createSession(t, ta).SessionID

	rr := ta.do(t, http.MethodGet, "/api/v1/sessions", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	list := decodeBody[[]types.Session](t, rr)
	require.Len(t, list, 2)
	assert.ElementsMatch(t, []string{a, b}, []string{list[0].ID, list[1].ID})

	rr = ta.do(t, http.MethodGet, "/api/v1/sessions/"+a, nil)
	require.Equal(t, http.StatusOK, rr.Code)
	snap := decodeBody[types.Session](t, rr)
	assert.Equal(t, types.SessionStateRunning, snap.State)

	rr = ta.do(t, http.MethodGet, "/api/v1/sessions/session_0_none", nil)
	assert.Equal(t, http.StatusNotFound, rr.Code)
}

func TestREST_HistoryAndOutput(t *testing.T) {
	ta := newTestApp(t, nil)
	id := createSession(t, ta).SessionID
	res := decodeBody[types.ExecResult](t, execute(t, ta, id, "printf 'line1\\nline2\\n'"))
	require.True(t, res.Success)

	rr := ta.do(t, http.MethodGet, "/api/v1/sessions/"+id+"/history?order=asc", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	evs := decodeBody[[]types.Event](t, rr)
	require.Len(t, evs, 2)
	assert.Equal(t, "session_created", evs[0].Type)
	assert.Equal(t, "command_executed", evs[1].Type)
	assert.Equal(t, res.CommandID, evs[1].CommandID)

	rr = ta.do(t, http.MethodGet, "/api/v1/sessions/"+id+"/history?type=command_executed", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Len(t, decodeBody[[]types.Event](t, rr), 1)

	rr = ta.do(t, http.MethodGet, "/api/v1/sessions/"+id+"/history?limit=x", nil)
	assert.Equal(t, http.StatusBadRequest, rr.Code)

	rr = ta.do(t, http.MethodGet, "/api/v1/sessions/"+id+"/output/"+res.CommandID+"?offset=2&limit=3", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	chunk := decodeBody[types.OutputChunk](t, rr)
	assert.Equal(t, "stdout", chunk.Stream)
	assert.Equal(t, "ne1", chunk.Data)
	assert.True(t, chunk.HasMore)

	rr = ta.do(t, http.MethodGet, "/api/v1/sessions/"+id+"/output/"+res.CommandID+"?stream=fd3", nil)
	assert.Equal(t, http.StatusBadRequest, rr.Code)

	rr = ta.do(t, http.MethodGet, "/api/v1/sessions/"+id+"/output/missing", nil)
	assert.Equal(t, http.StatusNotFound, rr.Code)
}

func TestRouter_TraceparentStampsEvents(t *testing.T) {
	ta := newTestApp(t, nil)
	srv := newHTTPTestServerOrSkip(t, ta.handler)

	req, err := http.NewRequest(http.MethodPost, srv.URL+gw, strings.NewReader(`{"action":"create_session"}`))
	require.NoError(t, err)
	req.Header.Set("traceparent", "00-0af7651916cd43dd8448eb211c80319c-b7ad6b7169203331-01")
	resp, err := srv.Client().Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	evs, err := ta.store.QueryEvents(req.Context(), types.EventQuery{Types: []string{"session_created"}})
	require.NoError(t, err)
	require.Len(t, evs, 1)
	assert.Equal(t, "0af7651916cd43dd8448eb211c80319c", evs[0].Fields["trace_id"])
	assert.Equal(t, "b7ad6b7169203331", evs[0].Fields["span_id"])
}
