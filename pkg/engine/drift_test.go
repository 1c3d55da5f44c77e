package engine_test

import (
	"testing"

	"github.com/argus-labs/lockstep/pkg/engine"
	"github.com/argus-labs/lockstep/pkg/protocol"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func peer(tick protocol.Tick, slot protocol.Slot, hash uint64) protocol.Checksum {
	return protocol.Checksum{Tick: tick, Slot: slot, Hash: hash}
}

func TestDetector(t *testing.T) {
	t.Parallel()

	all := []protocol.Slot{0, 1, 2}

	t.Run("agreement", func(t *testing.T) {
		t.Parallel()
		d := engine.NewDetector(0, 120)
		d.Own(30, 7, all)
		d.Peer(peer(30, 1, 7))
		d.Peer(peer(30, 2, 7))
		_, drift := d.Check(30)
		assert.False(t, drift)
		assert.Zero(t, d.Pending())
	})

	t.Run("outvoted", func(t *testing.T) {
		t.Parallel()
		d := engine.NewDetector(2, 120)
		d.Peer(peer(30, 0, 7))
		d.Peer(peer(30, 1, 7))
		d.Own(30, 9, all)
		drift, ok := d.Check(30)
		require.True(t, ok)
		assert.Equal(t, protocol.Tick(30), drift.Tick)
		assert.Equal(t, uint64(9), drift.Own)
		assert.Equal(t, uint64(7), drift.Majority)
		assert.Len(t, drift.Reports, 2)
		assert.Contains(t, drift.String(), "tick 30")
	})

	t.Run("majority is kept", func(t *testing.T) {
		t.Parallel()
		d := engine.NewDetector(0, 120)
		d.Own(30, 7, all)
		d.Peer(peer(30, 1, 7))
		d.Peer(peer(30, 2, 9))
		_, ok := d.Check(30)
		assert.False(t, ok)
	})

	t.Run("tie yields", func(t *testing.T) {
		t.Parallel()
		d := engine.NewDetector(0, 120)
		d.Own(30, 7, []protocol.Slot{0, 1})
		d.Peer(peer(30, 1, 9))
		drift, ok := d.Check(30)
		require.True(t, ok)
		assert.Zero(t, drift.Majority)
	})

	t.Run("waits for every slot", func(t *testing.T) {
		t.Parallel()
		d := engine.NewDetector(2, 120)
		d.Own(30, 9, all)
		d.Peer(peer(30, 0, 7))
		_, ok := d.Check(31)
		assert.False(t, ok)
		assert.Equal(t, 1, d.Pending())

		d.Peer(peer(30, 1, 7))
		_, ok = d.Check(32)
		assert.True(t, ok)
	})

	t.Run("decides with what it has after the window", func(t *testing.T) {
		t.Parallel()
		d := engine.NewDetector(0, 10)
		d.Own(30, 7, all)
		d.Peer(peer(30, 2, 9))
		_, ok := d.Check(39)
		assert.False(t, ok, "slot 1 may still report")
		_, ok = d.Check(40)
		assert.True(t, ok, "tie against the only reporter")
		assert.Zero(t, d.Pending())
	})

	t.Run("no peers", func(t *testing.T) {
		t.Parallel()
		d := engine.NewDetector(0, 10)
		d.Own(30, 7, []protocol.Slot{0})
		_, ok := d.Check(30)
		assert.False(t, ok)
		assert.Zero(t, d.Pending())
	})

	t.Run("own echo is ignored", func(t *testing.T) {
		t.Parallel()
		d := engine.NewDetector(1, 120)
		d.Own(30, 7, []protocol.Slot{0, 1})
		d.Peer(peer(30, 1, 9))
		_, ok := d.Check(30)
		assert.False(t, ok)
		assert.Equal(t, 1, d.Pending())
	})

	t.Run("peers ahead wait for the own hash", func(t *testing.T) {
		t.Parallel()
		d := engine.NewDetector(0, 10)
		d.Peer(peer(60, 1, 9))
		_, ok := d.Check(50)
		assert.False(t, ok)
		assert.Equal(t, 1, d.Pending())

		d.Own(60, 9, []protocol.Slot{0, 1})
		_, ok = d.Check(60)
		assert.False(t, ok)
		assert.Zero(t, d.Pending())
	})

	t.Run("reset", func(t *testing.T) {
		t.Parallel()
		d := engine.NewDetector(0, 10)
		d.Own(30, 7, all)
		d.Own(60, 7, all)
		d.Reset(31)
		assert.Equal(t, 1, d.Pending())
	})
}
