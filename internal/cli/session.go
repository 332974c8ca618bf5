package cli

import (
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"github.com/spf13/cobra"
)

func newSessionCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "session",
		Short: "Manage sessions",
	}

	cmd.AddCommand(newSessionCreateCmd())
	cmd.AddCommand(newSessionListCmd())
	cmd.AddCommand(newSessionDestroyCmd())
	cmd.AddCommand(newSessionHistoryCmd())

	return cmd
}

func newSessionCreateCmd() *cobra.Command {
	var quiet bool
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a new session",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := clientFor(cmd).CreateSession(cmd.Context())
			if err != nil {
				return err
			}
			if quiet {
				_, err = fmt.Fprintln(cmd.OutOrStdout(), s.SessionID)
				return err
			}
			return printJSON(cmd, s)
		},
	}
	cmd.Flags().BoolVarP(&quiet, "quiet", "q", false, "Print only the session id")
	return cmd
}

func newSessionListCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List sessions",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			sessions, err := clientFor(cmd).ListSessions(cmd.Context())
			if err != nil {
				return err
			}
			return printJSON(cmd, sessions)
		},
	}
	return cmd
}

func newSessionDestroyCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "destroy SESSION_ID",
		Short: "Destroy a session",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := clientFor(cmd).DestroySession(cmd.Context(), args[0]); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "ok")
			return nil
		},
	}
	return cmd
}

func newSessionHistoryCmd() *cobra.Command {
	var types []string
	var limit int
	var asc bool
	cmd := &cobra.Command{
		Use:   "history SESSION_ID",
		Short: "Show audit events for a session",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			q := url.Values{}
			if len(types) > 0 {
				q.Set("type", strings.Join(types, ","))
			}
			if limit > 0 {
				q.Set("limit", strconv.Itoa(limit))
			}
			if asc {
				q.Set("order", "asc")
			}
			evs, err := clientFor(cmd).QuerySessionEvents(cmd.Context(), args[0], q)
			if err != nil {
				return err
			}
			return printJSON(cmd, evs)
		},
	}
	cmd.Flags().StringSliceVar(&types, "type", nil, "Only these event types (repeatable or comma separated)")
	cmd.Flags().IntVar(&limit, "limit", 0, "Max events to return")
	cmd.Flags().BoolVar(&asc, "asc", false, "Oldest first")
	return cmd
}

func printJSON(cmd *cobra.Command, v any) error {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(cmd.OutOrStdout(), string(b))
	return err
}
