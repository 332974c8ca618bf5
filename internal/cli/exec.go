package cli

import (
	"fmt"
	"io"
	"strings"

	"github.com/agentsh/shellgate/internal/session"
	"github.com/agentsh/shellgate/pkg/types"
	"github.com/spf13/cobra"
)

func newExecCmd() *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "exec SESSION_ID -- COMMAND [ARGS...]",
		Short: "Run a command line in a session",
		Long: `Run a command line in an existing session. The words after -- are joined
with spaces and written to the session's shell, so shell syntax applies.

Exit status is 0 on success, 124 on timeout, the command's exit code when the
server reports one, and 1 otherwise.`,
		Args: cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			line := strings.Join(args[1:], " ")
			res, err := clientFor(cmd).Execute(cmd.Context(), args[0], line)
			if err != nil {
				return err
			}
			if asJSON {
				if err := printJSON(cmd, res); err != nil {
					return err
				}
				return execExit(res)
			}
			printResult(cmd.OutOrStdout(), cmd.ErrOrStderr(), res)
			return execExit(res)
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print the full result as JSON")
	return cmd
}

// printResult writes output and error the way a local shell would show them.
func printResult(stdout, stderr io.Writer, res types.ExecResult) {
	if res.Output != "" && res.Output != session.NoOutputPlaceholder {
		fmt.Fprintln(stdout, res.Output)
	}
	if res.Error != "" {
		fmt.Fprintln(stderr, res.Error)
	}
	if res.TimedOut {
		fmt.Fprintf(stderr, "shellgate: command timed out after %dms\n", res.ExecutionTimeMs)
	}
	if res.Truncated {
		fmt.Fprintf(stderr, "shellgate: output truncated; fetch it with: shellgate output %s %s\n", res.SessionID, res.CommandID)
	}
}

func execExit(res types.ExecResult) error {
	switch {
	case res.TimedOut:
		return &ExitError{code: exitTimedOut}
	case res.ExitCode != nil && *res.ExitCode != 0:
		return &ExitError{code: *res.ExitCode}
	case !res.Success:
		return &ExitError{code: 1}
	}
	return nil
}
