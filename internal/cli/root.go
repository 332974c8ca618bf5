package cli

import (
	"context"
	"net/url"
	"os"
	"time"

	"github.com/agentsh/shellgate/internal/client"
	"github.com/agentsh/shellgate/pkg/types"
	"github.com/spf13/cobra"
)

func NewRoot(version string) *cobra.Command {
	cfg := &clientConfig{}
	cmd := &cobra.Command{
		Use:           "shellgate",
		Short:         "shellgate: interactive shell sessions over HTTP",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.Version = version
	cmd.SetVersionTemplate("shellgate {{.Version}}\n")

	cmd.PersistentFlags().StringVar(&cfg.serverAddr, "server", getenvDefault("SHELLGATE_SERVER", "http://127.0.0.1:8080"), "shellgate server base URL (or unix:///path/to.sock)")
	cmd.PersistentFlags().StringVar(&cfg.apiKey, "api-key", getenvDefault("SHELLGATE_API_KEY", ""), "API key")
	cmd.PersistentFlags().StringVar(&cfg.headerName, "api-key-header", getenvDefault("SHELLGATE_API_KEY_HEADER", "X-API-Key"), "Header carrying the API key")
	cmd.PersistentFlags().StringVar(&cfg.gatewayPath, "gateway-path", getenvDefault("SHELLGATE_GATEWAY_PATH", client.DefaultGatewayPath), "Gateway endpoint path on the server")
	cmd.PersistentFlags().DurationVar(&cfg.timeout, "timeout", 2*time.Minute, "Per-request timeout")

	cmd.AddCommand(newServerCmd(version))
	cmd.AddCommand(newSessionCmd())
	cmd.AddCommand(newExecCmd())
	cmd.AddCommand(newStatusCmd())
	cmd.AddCommand(newOutputCmd())
	cmd.AddCommand(newShellCmd())

	return cmd
}

type clientConfig struct {
	serverAddr  string
	apiKey      string
	headerName  string
	gatewayPath string
	timeout     time.Duration
}

func getClientConfig(cmd *cobra.Command) *clientConfig {
	flags := cmd.Root().PersistentFlags()
	serverAddr, _ := flags.GetString("server")
	apiKey, _ := flags.GetString("api-key")
	headerName, _ := flags.GetString("api-key-header")
	gatewayPath, _ := flags.GetString("gateway-path")
	timeout, _ := flags.GetDuration("timeout")
	if serverAddr == "" {
		serverAddr = "http://127.0.0.1:8080"
	}
	return &clientConfig{serverAddr: serverAddr, apiKey: apiKey, headerName: headerName, gatewayPath: gatewayPath, timeout: timeout}
}

// gatewayClient is the slice of the HTTP client the commands use.
type gatewayClient interface {
	CreateSession(ctx context.Context) (types.CreateSessionResponse, error)
	Execute(ctx context.Context, sessionID, command string) (types.ExecResult, error)
	DestroySession(ctx context.Context, sessionID string) error
	Status(ctx context.Context) (types.StatusResponse, error)
	ListSessions(ctx context.Context) ([]types.Session, error)
	QuerySessionEvents(ctx context.Context, sessionID string, q url.Values) ([]types.Event, error)
	OutputChunk(ctx context.Context, sessionID, commandID, stream string, offset, limit int64) (types.OutputChunk, error)
}

// newClient is swapped in tests.
var newClient = func(cfg *clientConfig) gatewayClient {
	opts := []client.Option{client.WithHeaderName(cfg.headerName), client.WithGatewayPath(cfg.gatewayPath)}
	if cfg.timeout > 0 {
		opts = append(opts, client.WithTimeout(cfg.timeout))
	}
	return client.New(cfg.serverAddr, cfg.apiKey, opts...)
}

func clientFor(cmd *cobra.Command) gatewayClient {
	return newClient(getClientConfig(cmd))
}

func getenvDefault(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}
