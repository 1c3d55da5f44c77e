package cmd_test

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"path/filepath"
	"strings"
	"testing"

	"github.com/argus-labs/lockstep/cmd/lockstep/cmd"
	"github.com/argus-labs/lockstep/pkg/msglog"
	"github.com/argus-labs/lockstep/pkg/persist"
	"github.com/argus-labs/lockstep/pkg/protocol"
	"github.com/argus-labs/lockstep/pkg/sim"
	"github.com/argus-labs/lockstep/pkg/sim/pong"
	"github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	sessionTicks  = 120
	checksumEvery = 10
)

var group = protocol.GroupKeyOf("pong-v1")

// session is a two player pong session: the confirmed packages with a checksum every
// checksumEvery ticks, and the checksum after the last tick.
type session struct {
	entries []msglog.Entry
	final   uint64
}

// newSession plays a session. override replaces the entries of individual ticks.
func newSession(t *testing.T, override map[protocol.Tick][]protocol.Entry) session {
	t.Helper()
	log := msglog.NewLog(0)
	game := pong.New()
	var s session

	for tick := protocol.Tick(1); tick <= sessionTicks; tick++ {
		entries, ok := override[tick]
		if !ok {
			entries = []protocol.Entry{
				{Slot: 0, Payload: pong.Encode(0.5)},
				{Slot: 1, Payload: pong.Encode(-0.5)},
			}
		}
		p := protocol.ConfirmedPackage{Tick: tick, Group: group, Entries: entries}
		_, err := log.Append(msglog.PackageEntry(p))
		require.NoError(t, err)

		game.Step(tick, entries)
		h, err := sim.Hash(game)
		require.NoError(t, err)
		s.final = h
		if tick%checksumEvery == 0 {
			_, err := log.Append(msglog.ChecksumEntry(protocol.Checksum{Tick: tick, Slot: 1, Hash: h}))
			require.NoError(t, err)
		}
	}
	s.entries = log.Entries()
	return s
}

// writeLog stores entries as a file log and returns its directory.
func writeLog(t *testing.T, entries []msglog.Entry) string {
	t.Helper()
	dir := filepath.Join(t.TempDir(), "log")
	l, err := persist.OpenFileColdLogDir(dir, 0)
	require.NoError(t, err)
	require.NoError(t, l.Append(context.Background(), entries))
	require.NoError(t, l.Close())
	return dir
}

func execute(args ...string) (string, error) {
	var out bytes.Buffer
	root := cmd.NewRootCmd()
	root.SetArgs(args)
	root.SetOut(&out)
	root.SetErr(io.Discard)
	err := root.Execute()
	return out.String(), err
}

func TestDump(t *testing.T) {
	t.Parallel()

	s := newSession(t, nil)
	out, err := execute("dump", writeLog(t, s.entries))
	require.NoError(t, err)

	lines := strings.Split(strings.TrimSpace(out), "\n")
	require.Len(t, lines, len(s.entries))
	for _, line := range lines {
		assert.True(t, json.Valid([]byte(line)), line)
	}
	assert.Contains(t, lines[0], `"kind":"confirmed_package"`)
}

func TestReplay(t *testing.T) {
	t.Parallel()

	s := newSession(t, nil)
	dir := writeLog(t, s.entries)

	t.Run("final checksum", func(t *testing.T) {
		t.Parallel()
		out, err := execute("replay", dir)
		require.NoError(t, err)
		assert.Equal(t, fmt.Sprintf("final tick %d checksum %016x\n", sessionTicks, s.final), out)
	})

	t.Run("every", func(t *testing.T) {
		t.Parallel()
		out, err := execute("replay", "--every", "30", dir)
		require.NoError(t, err)
		var ticks []string
		for _, line := range strings.Split(out, "\n") {
			if strings.HasPrefix(line, "tick ") {
				ticks = append(ticks, strings.Fields(line)[1])
			}
		}
		assert.Equal(t, []string{"30", "60", "90", "120"}, ticks)
	})

	t.Run("stop at", func(t *testing.T) {
		t.Parallel()
		out, err := execute("replay", "--stop-at", "50", dir)
		require.NoError(t, err)
		assert.Contains(t, out, "final tick 50 ")
	})

	t.Run("mismatch", func(t *testing.T) {
		t.Parallel()
		entries := append([]msglog.Entry(nil), s.entries...)
		for i, e := range entries {
			if e.Kind == msglog.KindChecksum && e.Tick == 60 {
				entries[i].Checksum.Hash++
			}
		}
		out, err := execute("replay", writeLog(t, entries))
		require.ErrorIs(t, err, cmd.ErrChecksumMismatch)
		assert.Contains(t, out, "mismatch tick 60 slot 1")
	})

	t.Run("missing log", func(t *testing.T) {
		t.Parallel()
		missing := filepath.Join(t.TempDir(), "nope")
		_, err := execute("replay", missing)
		require.Error(t, err)
		assert.NoDirExists(t, missing)
	})
}

func TestDiff(t *testing.T) {
	t.Parallel()

	a := writeLog(t, newSession(t, nil).entries)

	t.Run("agree", func(t *testing.T) {
		t.Parallel()
		out, err := execute("diff", a, writeLog(t, newSession(t, nil).entries))
		require.NoError(t, err)
		assert.Equal(t, "logs agree\n", out)
	})

	t.Run("diverge", func(t *testing.T) {
		t.Parallel()
		b := writeLog(t, newSession(t, map[protocol.Tick][]protocol.Entry{
			40: {
				{Slot: 0, Payload: pong.Encode(-0.5)},
				{Slot: 1, Payload: pong.Encode(-0.5)},
			},
		}).entries)
		out, err := execute("diff", a, b)
		require.ErrorIs(t, err, cmd.ErrDiverged)
		assert.Equal(t, "first divergent tick 40\nsections paddles\n", out)
	})
}
