package sim_test

import (
	"testing"

	"github.com/argus-labs/lockstep/pkg/protocol"
	"github.com/argus-labs/lockstep/pkg/sim"
	"github.com/argus-labs/lockstep/pkg/sim/pong"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func pkgFor(tick protocol.Tick, left float64) protocol.ConfirmedPackage {
	return protocol.ConfirmedPackage{Tick: tick, Entries: []protocol.Entry{
		{Slot: 0, Payload: pong.Encode(left)},
		{Slot: 1, Omitted: true},
	}}
}

func hashOf(t *testing.T, s sim.Simulation) uint64 {
	t.Helper()
	h, err := sim.Hash(s)
	require.NoError(t, err)
	return h
}

func TestAuthorityAppliesInOrder(t *testing.T) {
	t.Parallel()

	a := sim.NewAuthority(pong.New(), 0, 8)
	require.NoError(t, a.Apply(pkgFor(1, 1)))
	require.NoError(t, a.Apply(pkgFor(2, 1)))
	assert.Equal(t, protocol.Tick(2), a.Tick())

	err := a.Apply(pkgFor(4, 1))
	require.ErrorIs(t, err, sim.ErrOutOfOrder)
	err = a.Apply(pkgFor(2, 1))
	require.ErrorIs(t, err, sim.ErrOutOfOrder)
	assert.Equal(t, protocol.Tick(2), a.Tick())
}

func TestAuthorityRewindRecomputesSameState(t *testing.T) {
	t.Parallel()

	linear := sim.NewAuthority(pong.New(), 0, 0)
	rewound := sim.NewAuthority(pong.New(), 0, 16)
	for tick := protocol.Tick(1); tick <= 20; tick++ {
		require.NoError(t, linear.Apply(pkgFor(tick, -1)))
		require.NoError(t, rewound.Apply(pkgFor(tick, -1)))
	}

	// A resumed relay re-emits ticks 18..20.
	require.NoError(t, rewound.Rewind(17))
	assert.Equal(t, protocol.Tick(17), rewound.Tick())
	for tick := protocol.Tick(18); tick <= 20; tick++ {
		require.NoError(t, rewound.Apply(pkgFor(tick, -1)))
	}
	assert.Equal(t, hashOf(t, linear.State()), hashOf(t, rewound.State()))

	// Rewinding twice to the same tick works since the checkpoint is retained.
	require.NoError(t, rewound.Rewind(17))
	require.NoError(t, rewound.Rewind(17))
}

func TestAuthorityRewindOutsideWindow(t *testing.T) {
	t.Parallel()

	a := sim.NewAuthority(pong.New(), 0, 4)
	for tick := protocol.Tick(1); tick <= 10; tick++ {
		require.NoError(t, a.Apply(pkgFor(tick, 0)))
	}
	assert.True(t, a.CanRewind(7))
	assert.False(t, a.CanRewind(6))
	require.ErrorIs(t, a.Rewind(5), sim.ErrBeyondWindow)
	require.Error(t, a.Rewind(11))
	require.NoError(t, a.Rewind(10))
}

func TestAuthorityApplyOrRewind(t *testing.T) {
	t.Parallel()

	a := sim.NewAuthority(pong.New(), 0, 8)
	for tick := protocol.Tick(1); tick <= 5; tick++ {
		require.NoError(t, a.ApplyOrRewind(pkgFor(tick, 1)))
	}
	before := hashOf(t, a.State())

	// Re-delivery of tick 4 with different content replaces ticks 4 and 5.
	require.NoError(t, a.ApplyOrRewind(pkgFor(4, -1)))
	assert.Equal(t, protocol.Tick(4), a.Tick())
	require.NoError(t, a.ApplyOrRewind(pkgFor(5, 1)))
	assert.NotEqual(t, before, hashOf(t, a.State()))
}

func TestAuthorityResetKeepsSnapshotCheckpoint(t *testing.T) {
	t.Parallel()

	a := sim.NewAuthority(pong.New(), 0, 4)
	require.NoError(t, a.Apply(pkgFor(1, 1)))

	a.Reset(pong.New(), 100)
	assert.Equal(t, protocol.Tick(100), a.Tick())
	require.NoError(t, a.Apply(pkgFor(101, 1)))
	require.NoError(t, a.Rewind(100))
	require.ErrorIs(t, a.Rewind(1), sim.ErrBeyondWindow)
}
