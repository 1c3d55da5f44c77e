package sequencer_test

import (
	"testing"

	"github.com/argus-labs/lockstep/pkg/protocol"
	"github.com/argus-labs/lockstep/pkg/sequencer"
	"github.com/argus-labs/lockstep/pkg/testutils"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFixedDeadline(t *testing.T) {
	t.Parallel()

	d := sequencer.FixedDeadline(4)
	d.Observe(1, 100)
	assert.Equal(t, uint32(4), d.Window())
}

func TestAdaptiveDeadline(t *testing.T) {
	t.Parallel()

	t.Run("starts at the initial window", func(t *testing.T) {
		t.Parallel()
		assert.Equal(t, uint32(3), sequencer.NewAdaptiveDeadline(3, 2, 12).Window())
		assert.Equal(t, uint32(12), sequencer.NewAdaptiveDeadline(40, 2, 12).Window())
	})

	t.Run("shrinks to the minimum for inputs sent ahead", func(t *testing.T) {
		t.Parallel()
		d := sequencer.NewAdaptiveDeadline(6, 2, 12)
		for tick := protocol.Tick(10); tick < 100; tick++ {
			d.Observe(tick, tick-2)
		}
		assert.Equal(t, uint32(2), d.Window())
	})

	t.Run("settles just above a constant delay", func(t *testing.T) {
		t.Parallel()
		d := sequencer.NewAdaptiveDeadline(3, 2, 12)
		for tick := protocol.Tick(1); tick < 200; tick++ {
			d.Observe(tick, tick+8)
		}
		assert.GreaterOrEqual(t, d.Window(), uint32(9))
		assert.LessOrEqual(t, d.Window(), uint32(10))
	})

	t.Run("clamps jitter to the maximum", func(t *testing.T) {
		t.Parallel()
		d := sequencer.NewAdaptiveDeadline(3, 2, 12)
		for tick := protocol.Tick(1); tick < 200; tick++ {
			delay := protocol.Tick(0)
			if tick%2 == 0 {
				delay = 20
			}
			d.Observe(tick, tick+delay)
		}
		assert.Equal(t, uint32(12), d.Window())
	})

	t.Run("stays within bounds", func(t *testing.T) {
		t.Parallel()
		prng := testutils.NewRand(t)
		d := sequencer.NewAdaptiveDeadline(3, 2, 12)
		for tick := protocol.Tick(100); tick < 2000; tick++ {
			d.Observe(tick, tick-10+protocol.Tick(prng.IntN(40)))
			require.GreaterOrEqual(t, d.Window(), uint32(2))
			require.LessOrEqual(t, d.Window(), uint32(12))
		}
	})
}

func TestAdaptiveDeadlineAdmitsSlowClient(t *testing.T) {
	t.Parallel()

	// A client whose inputs always arrive 5 ticks after their tick. With the default fixed window of
	// 3 every input is late; the adaptive window grows until they are included.
	run := func(policy string) ([]protocol.ConfirmedPackage, sequencer.Stats) {
		h := newHarness(t, func(cfg *sequencer.Config) { cfg.DeadlinePolicy = policy })
		a := h.join("v1", "slow")

		var pkgs []protocol.ConfirmedPackage
		for clock := protocol.Tick(0); clock < 200; clock++ {
			if clock > 5 {
				h.input(a, clock-5, byte(clock))
			}
			pkgs = append(pkgs, h.tick()...)
		}
		return pkgs, h.seq.Stats()
	}

	pkgs, stats := run(sequencer.DeadlinePolicyFixed)
	for _, p := range pkgs {
		require.True(t, p.Entries[0].Omitted, "tick %d", p.Tick)
	}
	assert.Positive(t, stats.LateInputs)

	pkgs, stats = run(sequencer.DeadlinePolicyAdaptive)
	require.NotEmpty(t, pkgs)
	var included int
	for _, p := range pkgs {
		if p.Tick >= 10 {
			require.False(t, p.Entries[0].Omitted, "tick %d", p.Tick)
			included++
		}
	}
	assert.Greater(t, included, 150)
	assert.LessOrEqual(t, stats.LateInputs, uint64(3))
}
