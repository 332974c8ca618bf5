package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/agentsh/shellgate/pkg/types"
)

// DefaultGatewayPath is where the server mounts the gateway unless configured
// otherwise.
const DefaultGatewayPath = "/api/terminal"

type Client struct {
	baseURL     string
	apiKey      string
	headerName  string
	gatewayPath string
	httpClient  *http.Client
}

// Option customizes a Client.
type Option func(*Client)

// WithHeaderName sets the header carrying the API key.
func WithHeaderName(name string) Option {
	return func(c *Client) {
		if name != "" {
			c.headerName = name
		}
	}
}

// WithGatewayPath points the client at a non-default gateway mount.
func WithGatewayPath(p string) Option {
	return func(c *Client) {
		if p != "" {
			c.gatewayPath = p
		}
	}
}

// WithTimeout bounds every request. It should outlast the server's hard
// ceiling or long commands lose their response.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) { c.httpClient.Timeout = d }
}

// New returns a client for baseURL. A "unix:///path/to.sock" base dials the
// server's unix socket.
func New(baseURL string, apiKey string, opts ...Option) *Client {
	baseURL = strings.TrimRight(baseURL, "/")
	c := &Client{
		baseURL:     baseURL,
		apiKey:      apiKey,
		headerName:  "X-API-Key",
		gatewayPath: DefaultGatewayPath,
		httpClient: &http.Client{
			Timeout: 2 * time.Minute,
		},
	}
	if sock, ok := strings.CutPrefix(baseURL, "unix://"); ok {
		c.baseURL = "http://unix"
		c.httpClient.Transport = &http.Transport{
			DialContext: func(ctx context.Context, _, _ string) (net.Conn, error) {
				var d net.Dialer
				return d.DialContext(ctx, "unix", sock)
			},
		}
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// HTTPError is returned for non-2xx responses.
type HTTPError struct {
	Method     string
	Path       string
	Status     string
	StatusCode int
	Body       string
}

func (e *HTTPError) Error() string {
	if strings.TrimSpace(e.Body) == "" {
		return fmt.Sprintf("%s %s: %s", e.Method, e.Path, e.Status)
	}
	return fmt.Sprintf("%s %s: %s: %s", e.Method, e.Path, e.Status, e.Body)
}

// Message returns the server's {"error": ...} text when the body carries one.
func (e *HTTPError) Message() string {
	var er types.ErrorResponse
	if json.Unmarshal([]byte(e.Body), &er) == nil && er.Error != "" {
		return er.Error
	}
	return strings.TrimSpace(e.Body)
}

// IsNotFound reports whether err is a 404 from the server.
func IsNotFound(err error) bool {
	var he *HTTPError
	return errors.As(err, &he) && he.StatusCode == http.StatusNotFound
}

func (c *Client) CreateSession(ctx context.Context) (types.CreateSessionResponse, error) {
	var out types.CreateSessionResponse
	err := c.doJSON(ctx, http.MethodPost, c.gatewayPath, nil, map[string]any{"action": types.ActionCreateSession}, &out)
	return out, err
}

func (c *Client) Execute(ctx context.Context, sessionID, command string) (types.ExecResult, error) {
	var out types.ExecResult
	body := map[string]any{"action": types.ActionExecute, "sessionId": sessionID, "command": command}
	err := c.doJSON(ctx, http.MethodPost, c.gatewayPath, nil, body, &out)
	return out, err
}

func (c *Client) DestroySession(ctx context.Context, sessionID string) error {
	var out types.DestroySessionResponse
	body := map[string]any{"action": types.ActionDestroySession, "sessionId": sessionID}
	return c.doJSON(ctx, http.MethodPost, c.gatewayPath, nil, body, &out)
}

func (c *Client) Status(ctx context.Context) (types.StatusResponse, error) {
	var out types.StatusResponse
	err := c.doJSON(ctx, http.MethodGet, c.gatewayPath, nil, nil, &out)
	return out, err
}

func (c *Client) ListSessions(ctx context.Context) ([]types.Session, error) {
	var out []types.Session
	err := c.doJSON(ctx, http.MethodGet, "/api/v1/sessions", nil, nil, &out)
	return out, err
}

func (c *Client) GetSession(ctx context.Context, id string) (types.Session, error) {
	var out types.Session
	err := c.doJSON(ctx, http.MethodGet, "/api/v1/sessions/"+url.PathEscape(id), nil, nil, &out)
	return out, err
}

func (c *Client) QuerySessionEvents(ctx context.Context, sessionID string, q url.Values) ([]types.Event, error) {
	var out []types.Event
	err := c.doJSON(ctx, http.MethodGet, "/api/v1/sessions/"+url.PathEscape(sessionID)+"/history", q, nil, &out)
	return out, err
}

func (c *Client) OutputChunk(ctx context.Context, sessionID, commandID, stream string, offset, limit int64) (types.OutputChunk, error) {
	q := url.Values{}
	if stream != "" {
		q.Set("stream", stream)
	}
	q.Set("offset", strconv.FormatInt(offset, 10))
	if limit > 0 {
		q.Set("limit", strconv.FormatInt(limit, 10))
	}
	var out types.OutputChunk
	path := "/api/v1/sessions/" + url.PathEscape(sessionID) + "/output/" + url.PathEscape(commandID)
	err := c.doJSON(ctx, http.MethodGet, path, q, nil, &out)
	return out, err
}

func (c *Client) doJSON(ctx context.Context, method, path string, q url.Values, body any, out any) error {
	u := c.baseURL + path
	if len(q) > 0 {
		u += "?" + q.Encode()
	}

	var r io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return err
		}
		r = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, u, r)
	if err != nil {
		return err
	}
	c.addAuth(req)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNoContent {
		return nil
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 64*1024))
		return &HTTPError{Method: method, Path: path, Status: resp.Status, StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(b))}
	}

	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func (c *Client) addAuth(req *http.Request) {
	if c.apiKey != "" {
		req.Header.Set(c.headerName, c.apiKey)
	}
}
