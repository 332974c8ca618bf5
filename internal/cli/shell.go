package cli

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/term"
)

const shellPrompt = "shellgate> "

// lineReader yields one input line at a time; io.EOF ends the loop.
type lineReader interface {
	ReadLine() (string, error)
}

type scannerReader struct{ s *bufio.Scanner }

func (r scannerReader) ReadLine() (string, error) {
	if !r.s.Scan() {
		if err := r.s.Err(); err != nil {
			return "", err
		}
		return "", io.EOF
	}
	return r.s.Text(), nil
}

func newShellCmd() *cobra.Command {
	var keep bool
	cmd := &cobra.Command{
		Use:   "shell",
		Short: "Open an interactive session",
		Long: `Create a session and read command lines from the terminal, sending each
to the session. The session is destroyed on exit unless --keep is set.
Type "exit" or press Ctrl-D to leave.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			c := clientFor(cmd)
			ctx := cmd.Context()
			created, err := c.CreateSession(ctx)
			if err != nil {
				return err
			}
			stderr := cmd.ErrOrStderr()
			fmt.Fprintf(stderr, "session %s (pid %d, %s)\n", created.SessionID, created.PID, created.Version)
			defer func() {
				if keep {
					fmt.Fprintf(stderr, "session %s kept\n", created.SessionID)
					return
				}
				dctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
				defer cancel()
				if err := c.DestroySession(dctx, created.SessionID); err != nil {
					fmt.Fprintf(stderr, "destroy session: %v\n", err)
				}
			}()

			in, out := cmd.InOrStdin(), cmd.OutOrStdout()
			var lr lineReader = scannerReader{s: bufio.NewScanner(in)}
			errOut := stderr
			if f, ok := in.(*os.File); ok && term.IsTerminal(int(f.Fd())) {
				st, err := term.MakeRaw(int(f.Fd()))
				if err != nil {
					return fmt.Errorf("raw terminal: %w", err)
				}
				defer term.Restore(int(f.Fd()), st)
				t := term.NewTerminal(struct {
					io.Reader
					io.Writer
				}{f, out}, shellPrompt)
				lr, out, errOut = t, t, t
			}
			return runShell(ctx, c, created.SessionID, lr, out, errOut)
		},
	}
	cmd.Flags().BoolVar(&keep, "keep", false, "Leave the session running on exit")
	return cmd
}

func runShell(ctx context.Context, c gatewayClient, sessionID string, in lineReader, stdout, stderr io.Writer) error {
	for {
		line, err := in.ReadLine()
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return err
		}
		line = strings.TrimSpace(line)
		switch line {
		case "":
			continue
		case "exit", "quit":
			return nil
		}
		res, err := c.Execute(ctx, sessionID, line)
		if err != nil {
			return err
		}
		printResult(stdout, stderr, res)
	}
}
