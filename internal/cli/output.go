package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newOutputCmd() *cobra.Command {
	var stream string
	var offset int64
	var limit int64
	cmd := &cobra.Command{
		Use:   "output SESSION_ID COMMAND_ID",
		Short: "Fetch paginated command output",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			out, err := clientFor(cmd).OutputChunk(cmd.Context(), args[0], args[1], stream, offset, limit)
			if err != nil {
				return err
			}
			_, _ = fmt.Fprint(cmd.OutOrStdout(), out.Data)
			if out.HasMore {
				next := offset + int64(len(out.Data))
				_, _ = fmt.Fprintf(cmd.ErrOrStderr(), "\n-- more -- offset=%d total=%d\n", next, out.TotalBytes)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&stream, "stream", "stdout", "stdout|stderr")
	cmd.Flags().Int64Var(&offset, "offset", 0, "Byte offset")
	cmd.Flags().Int64Var(&limit, "limit", 64*1024, "Max bytes to return")
	return cmd
}
