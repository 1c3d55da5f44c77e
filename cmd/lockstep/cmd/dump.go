package cmd

import (
	"github.com/argus-labs/lockstep/pkg/msglog"
	"github.com/spf13/cobra"
)

func newDumpCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "dump <log-dir>",
		Short: "Print a session log as JSON lines",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			entries, err := readLog(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return msglog.WriteJSON(cmd.OutOrStdout(), entries)
		},
	}
}
