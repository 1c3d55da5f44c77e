package msglog_test

import (
	"math/rand/v2"
	"testing"

	"github.com/argus-labs/lockstep/pkg/msglog"
	"github.com/argus-labs/lockstep/pkg/protocol"
	"github.com/argus-labs/lockstep/pkg/sim"
	"github.com/argus-labs/lockstep/pkg/sim/pong"
	"github.com/stretchr/testify/require"
)

const checksumEvery = 10

// recordSession plays a two-player pong session for ticks 1..ticks with random input, recording
// it the way a relay would. It returns the log and the authoritative state at the end.
func recordSession(t *testing.T, rng *rand.Rand, ticks int) (*msglog.Log, sim.Simulation) {
	t.Helper()

	log := msglog.NewLog(0)
	for slot := range 2 {
		_, err := log.Append(msglog.ConnectionEntry(0, msglog.ConnectionEvent{
			Slot: protocol.Slot(slot), Connected: true, VersionID: "v1",
		}))
		require.NoError(t, err)
	}

	auth := sim.NewAuthority(pong.New(), 0, 0)
	for i := 1; i <= ticks; i++ {
		p := randomPackage(rng, protocol.Tick(i))
		_, err := log.Append(msglog.PackageEntry(p))
		require.NoError(t, err)
		require.NoError(t, auth.Apply(p))

		if i%checksumEvery == 0 {
			h, err := sim.Hash(auth.State())
			require.NoError(t, err)
			_, err = log.Append(msglog.ChecksumEntry(protocol.Checksum{Tick: p.Tick, Slot: 0, Hash: h}))
			require.NoError(t, err)
		}
	}
	return log, auth.State()
}

func randomPackage(rng *rand.Rand, tick protocol.Tick) protocol.ConfirmedPackage {
	p := protocol.ConfirmedPackage{Tick: tick, Group: protocol.GroupKeyOf("v1")}
	for slot := range 2 {
		e := protocol.Entry{Slot: protocol.Slot(slot)}
		if rng.IntN(10) == 0 {
			e.Omitted = true
		} else {
			e.Payload = pong.Encode(rng.Float64()*2 - 1)
		}
		p.Entries = append(p.Entries, e)
	}
	return p
}

func hashOf(t *testing.T, s sim.Simulation) uint64 {
	t.Helper()
	h, err := sim.Hash(s)
	require.NoError(t, err)
	return h
}
