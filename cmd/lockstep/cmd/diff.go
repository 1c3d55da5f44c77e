package cmd

import (
	"fmt"
	"strings"

	"github.com/argus-labs/lockstep/pkg/msglog"
	"github.com/argus-labs/lockstep/pkg/sim/pong"
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
)

// ErrDiverged is returned by diff when the two logs disagree.
var ErrDiverged = eris.New("logs diverge")

func newDiffCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "diff <log-dir-a> <log-dir-b>",
		Short: "Find the first tick two session logs diverge",
		Long: `Replay two session logs with the pong simulation and report the first tick their states
differ, with the state sections that differ there.`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := readLog(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			b, err := readLog(cmd.Context(), args[1])
			if err != nil {
				return err
			}

			d, diverged, err := msglog.Diagnose(a, b, pong.Factory)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if !diverged {
				fmt.Fprintln(out, "logs agree")
				return nil
			}
			fmt.Fprintf(out, "first divergent tick %d\n", d.Tick)
			if len(d.Sections) > 0 {
				fmt.Fprintf(out, "sections %s\n", strings.Join(d.Sections, ","))
			}
			return eris.Wrapf(ErrDiverged, "at tick %d", d.Tick)
		},
	}
}
