package cmd

import (
	"fmt"

	"github.com/argus-labs/lockstep/pkg/msglog"
	"github.com/argus-labs/lockstep/pkg/protocol"
	"github.com/argus-labs/lockstep/pkg/sim/pong"
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
)

// ErrChecksumMismatch is returned by replay when a recorded checksum disagrees with the replay.
var ErrChecksumMismatch = eris.New("recorded checksums disagree with the replay")

type replayOptions struct {
	every  uint64
	stopAt uint64
	window int
}

func newReplayCmd() *cobra.Command {
	opts := &replayOptions{}

	cmd := &cobra.Command{
		Use:   "replay <log-dir>",
		Short: "Replay a session log with the pong simulation",
		Long: `Replay the confirmed packages of a file session log from genesis and print the checksum
trajectory. Recorded checksums are verified along the way.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runReplay(cmd, args[0], opts)
		},
	}

	f := cmd.Flags()
	f.Uint64Var(&opts.every, "every", 0, "print the checksum of every Nth tick, 0 for the final one only")
	f.Uint64Var(&opts.stopAt, "stop-at", 0, "stop after this tick, 0 to replay everything")
	f.IntVar(&opts.window, "window", 256, "how many ticks a re-confirmed package may rewind")
	return cmd
}

func runReplay(cmd *cobra.Command, dir string, opts *replayOptions) error {
	entries, err := readLog(cmd.Context(), dir)
	if err != nil {
		return err
	}

	res, err := msglog.Replay(entries, pong.New(), 0,
		msglog.WithRollbackWindow(opts.window),
		msglog.WithStopAt(protocol.Tick(opts.stopAt)),
	)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	tr := res.Trajectory
	if opts.every > 0 {
		for t := tr.Start + 1; t <= tr.Last(); t++ {
			if uint64(t)%opts.every != 0 {
				continue
			}
			h, _ := tr.At(t)
			fmt.Fprintf(out, "tick %d %016x\n", t, h)
		}
	}

	final, ok := tr.Final()
	if !ok {
		fmt.Fprintln(out, "no confirmed packages")
	} else {
		fmt.Fprintf(out, "final tick %d checksum %016x\n", tr.Last(), final)
	}

	for _, m := range res.Mismatches {
		fmt.Fprintf(out, "mismatch tick %d slot %d recorded %016x replayed %016x\n",
			m.Tick, m.Slot, m.Recorded, m.Replayed)
	}
	if len(res.Mismatches) > 0 {
		return eris.Wrapf(ErrChecksumMismatch, "%d mismatches", len(res.Mismatches))
	}
	return nil
}
