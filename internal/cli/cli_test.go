package cli

import (
	"bytes"
	"context"
	"errors"
	"net/url"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentsh/shellgate/pkg/types"
)

type mockClient struct {
	executed  []string
	destroyed []string
	results   map[string]types.ExecResult
	history   url.Values
	cfg       *clientConfig
}

func (m *mockClient) CreateSession(context.Context) (types.CreateSessionResponse, error) {
	return types.CreateSessionResponse{SessionID: "session_1_abc", Status: "created", PID: 7, Version: "sh"}, nil
}

func (m *mockClient) Execute(_ context.Context, sessionID, command string) (types.ExecResult, error) {
	m.executed = append(m.executed, command)
	if res, ok := m.results[command]; ok {
		res.SessionID = sessionID
		return res, nil
	}
	return types.ExecResult{SessionID: sessionID, Command: command, Output: "ran " + command, Success: true}, nil
}

func (m *mockClient) DestroySession(_ context.Context, id string) error {
	m.destroyed = append(m.destroyed, id)
	return nil
}

func (m *mockClient) Status(context.Context) (types.StatusResponse, error) {
	return types.StatusResponse{Status: "ok", ActiveSessions: 3, Version: "bash 5", Platform: "linux/amd64"}, nil
}

func (m *mockClient) ListSessions(context.Context) ([]types.Session, error) {
	return []types.Session{{ID: "session_1_abc", State: types.SessionStateRunning}}, nil
}

func (m *mockClient) QuerySessionEvents(_ context.Context, _ string, q url.Values) ([]types.Event, error) {
	m.history = q
	return []types.Event{{Type: "session_created"}}, nil
}

func (m *mockClient) OutputChunk(_ context.Context, _, _, stream string, offset, _ int64) (types.OutputChunk, error) {
	return types.OutputChunk{Stream: stream, Offset: offset, Data: "abc", TotalBytes: 10, HasMore: true}, nil
}

func withMockClient(t *testing.T) *mockClient {
	t.Helper()
	m := &mockClient{results: map[string]types.ExecResult{}}
	orig := newClient
	newClient = func(cfg *clientConfig) gatewayClient {
		m.cfg = cfg
		return m
	}
	t.Cleanup(func() { newClient = orig })
	return m
}

func runCLI(t *testing.T, stdin string, args ...string) (string, string, error) {
	t.Helper()
	root := NewRoot("test")
	var out, errOut bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&errOut)
	root.SetIn(strings.NewReader(stdin))
	root.SetArgs(args)
	err := root.ExecuteContext(context.Background())
	return out.String(), errOut.String(), err
}

func TestExec_JoinsArgsAndPrints(t *testing.T) {
	m := withMockClient(t)
	out, _, err := runCLI(t, "", "--server", "http://gw:1", "--api-key", "k", "exec", "session_1_abc", "--", "echo", "hi")
	require.NoError(t, err)
	assert.Equal(t, []string{"echo hi"}, m.executed)
	assert.Equal(t, "ran echo hi\n", out)
	assert.Equal(t, "http://gw:1", m.cfg.serverAddr)
	assert.Equal(t, "k", m.cfg.apiKey)
}

func TestExec_ExitCodes(t *testing.T) {
	m := withMockClient(t)
	three := 3
	m.results["slow"] = types.ExecResult{TimedOut: true, Output: "(no output)", ExecutionTimeMs: 30000}
	m.results["bad"] = types.ExecResult{Error: "boom", Output: "(no output)"}
	m.results["code"] = types.ExecResult{Success: true, ExitCode: &three, Output: "x"}

	_, errOut, err := runCLI(t, "", "exec", "s", "--", "slow")
	var ee *ExitError
	require.True(t, errors.As(err, &ee))
	assert.Equal(t, 124, ee.Code())
	assert.Contains(t, errOut, "timed out after 30000ms")

	_, errOut, err = runCLI(t, "", "exec", "s", "--", "bad")
	require.True(t, errors.As(err, &ee))
	assert.Equal(t, 1, ee.Code())
	assert.Equal(t, "boom\n", errOut)

	_, _, err = runCLI(t, "", "exec", "s", "--", "code")
	require.True(t, errors.As(err, &ee))
	assert.Equal(t, 3, ee.Code())
}

func TestSessionCommands(t *testing.T) {
	m := withMockClient(t)

	out, _, err := runCLI(t, "", "session", "create", "-q")
	require.NoError(t, err)
	assert.Equal(t, "session_1_abc\n", out)

	out, _, err = runCLI(t, "", "session", "list")
	require.NoError(t, err)
	assert.Contains(t, out, `"state": "running"`)

	out, _, err = runCLI(t, "", "session", "destroy", "session_1_abc")
	require.NoError(t, err)
	assert.Equal(t, "ok\n", out)
	assert.Equal(t, []string{"session_1_abc"}, m.destroyed)

	_, _, err = runCLI(t, "", "session", "history", "session_1_abc", "--type", "a,b", "--limit", "5", "--asc")
	require.NoError(t, err)
	assert.Equal(t, "a,b", m.history.Get("type"))
	assert.Equal(t, "5", m.history.Get("limit"))
	assert.Equal(t, "asc", m.history.Get("order"))
}

func TestStatusAndOutput(t *testing.T) {
	withMockClient(t)

	out, _, err := runCLI(t, "", "status")
	require.NoError(t, err)
	assert.Contains(t, out, "active sessions: 3")
	assert.Contains(t, out, "linux/amd64")

	out, errOut, err := runCLI(t, "", "output", "s", "c", "--offset", "4")
	require.NoError(t, err)
	assert.Equal(t, "abc", out)
	assert.Contains(t, errOut, "offset=7 total=10")
}

func TestShell_RunsLinesAndDestroys(t *testing.T) {
	m := withMockClient(t)
	out, errOut, err := runCLI(t, "pwd\n\nls -l\nexit\necho never\n", "shell")
	require.NoError(t, err)
	assert.Equal(t, []string{"pwd", "ls -l"}, m.executed)
	assert.Equal(t, "ran pwd\nran ls -l\n", out)
	assert.Contains(t, errOut, "session session_1_abc")
	assert.Equal(t, []string{"session_1_abc"}, m.destroyed)
}

func TestShell_KeepLeavesSession(t *testing.T) {
	m := withMockClient(t)
	_, _, err := runCLI(t, "true\n", "shell", "--keep")
	require.NoError(t, err)
	assert.Empty(t, m.destroyed)
}
