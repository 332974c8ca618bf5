package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newStatusCmd() *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show server status",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := clientFor(cmd).Status(cmd.Context())
			if err != nil {
				return err
			}
			if asJSON {
				return printJSON(cmd, st)
			}
			w := cmd.OutOrStdout()
			fmt.Fprintf(w, "status:          %s\n", st.Status)
			fmt.Fprintf(w, "active sessions: %d\n", st.ActiveSessions)
			fmt.Fprintf(w, "shell:           %s\n", st.Version)
			fmt.Fprintf(w, "platform:        %s\n", st.Platform)
			return nil
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print JSON")
	return cmd
}
