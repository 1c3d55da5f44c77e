// Package cmd is the lockstep command line: the relay process and offline tools for session logs.
package cmd

import (
	"github.com/spf13/cobra"
)

// NewRootCmd creates the lockstep root command.
func NewRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "lockstep",
		Short: "Deterministic lockstep relay and session log tools",
		Long: `lockstep runs the input relay of deterministic lockstep sessions and inspects the
session logs it writes.

Offline tools replay logs with the pong reference simulation.`,
		SilenceUsage: true,
	}

	root.AddCommand(
		newRelayCmd(),
		newReplayCmd(),
		newDiffCmd(),
		newDumpCmd(),
	)
	return root
}
