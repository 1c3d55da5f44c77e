package sequencer_test

import (
	"context"
	"encoding/binary"
	"errors"
	"flag"
	"math/rand/v2"
	"slices"
	"testing"
	"time"

	"github.com/argus-labs/lockstep/pkg/protocol"
	"github.com/argus-labs/lockstep/pkg/sequencer"
	"github.com/argus-labs/lockstep/pkg/testutils"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var dstNumOps = flag.Int("dst.ops", 5000, "number of operations to run in the sequencer DST")

// TestDST drives the sequencer with a random mix of connections, inputs, disconnects, backfills
// and compactions, and checks every closed package against a model of what was sent.
func TestDST(t *testing.T) {
	t.Parallel()
	rng := testutils.NewRand(t)
	cfg := newDSTConfig(rng)
	cfg.log(t)

	fix := newDSTFixture(t, cfg)
	for range cfg.Ops {
		switch testutils.RandWeightedOp(rng, cfg.OpWeights) {
		case dstOpTick:
			fix.tick(t)
		case dstOpHello:
			fix.hello(t, rng)
		case dstOpInput:
			fix.input(t, rng, false)
		case dstOpDupInput:
			fix.input(t, rng, true)
		case dstOpDisconnect:
			fix.disconnect(rng)
		case dstOpChecksum:
			fix.checksum(rng)
		case dstOpBackfill:
			fix.backfill(t, rng)
		case dstOpCompact:
			fix.compact(t, rng)
		}
		// Keep the drained output bounded; packages were already checked by tick.
		fix.h.take()
	}

	for _, g := range fix.h.seq.Groups() {
		t.Logf("group %s: clock %d, next close %d, lower bound %d, %d slots",
			g.Version, g.Clock, g.NextClose, g.LowerBound, len(g.Slots))
	}
}

// dstConfig holds the parameters of a DST run.
type dstConfig struct {
	Ops       int
	OpWeights testutils.OpWeights

	DeadlineTicks uint32
	MaxSlots      int
	BackfillMax   int

	// Probability [0,1] that a cold log flush fails.
	FlushFaultRate float64
}

func newDSTConfig(rng *rand.Rand) dstConfig {
	weights := testutils.RandOpWeights(rng, dstOps)
	// Ticks and connections must always be possible so the run makes progress.
	weights[dstOpTick] = uint64(1 + rng.IntN(100)) //nolint:gosec // not gonna happen
	weights[dstOpHello] = uint64(1 + rng.IntN(20)) //nolint:gosec // not gonna happen
	return dstConfig{
		Ops:            *dstNumOps,
		OpWeights:      weights,
		DeadlineTicks:  uint32(1 + rng.IntN(6)), //nolint:gosec // small
		MaxSlots:       1 + rng.IntN(8),
		BackfillMax:    1 + rng.IntN(64),
		FlushFaultRate: rng.Float64() / 2,
	}
}

func (c *dstConfig) log(t *testing.T) {
	t.Helper()
	t.Logf("DST config:")
	t.Logf("  ops:              %d", c.Ops)
	t.Logf("  op_weights:       %v", c.OpWeights)
	t.Logf("  deadline_ticks:   %d", c.DeadlineTicks)
	t.Logf("  max_slots:        %d", c.MaxSlots)
	t.Logf("  backfill_max:     %d", c.BackfillMax)
	t.Logf("  flush_fault_rate: %.2f", c.FlushFaultRate)
}

// DST operations.
const (
	dstOpTick       = "tick"
	dstOpHello      = "hello"
	dstOpInput      = "input"
	dstOpDupInput   = "dup_input"
	dstOpDisconnect = "disconnect"
	dstOpChecksum   = "checksum"
	dstOpBackfill   = "backfill"
	dstOpCompact    = "compact"
)

var dstOps = []string{
	dstOpInput,
	dstOpDupInput,
	dstOpDisconnect,
	dstOpChecksum,
	dstOpBackfill,
	dstOpCompact,
}

var dstVersions = []protocol.VersionID{"v1", "v2"}

// dstConn is the model of one connection. Its index is encoded in every payload it sends.
type dstConn struct {
	index   uint32
	welcome protocol.Welcome
	// First input sent per tick, and whether it was already late when sent.
	first map[protocol.Tick]dstInput
	seq   uint32
}

type dstInput struct {
	seq  uint32
	late bool
}

type dstFixture struct {
	cfg   dstConfig
	h     *harness
	fault *rand.Rand

	conns []*dstConn // every connection ever made, by index
	live  map[string]*dstConn

	lastTick map[protocol.GroupKey]protocol.Tick
	packages map[protocol.GroupKey]map[protocol.Tick]protocol.ConfirmedPackage
}

func newDSTFixture(t *testing.T, cfg dstConfig) *dstFixture {
	t.Helper()
	rc := sequencer.DefaultConfig(testSecret)
	rc.DeadlineTicks = cfg.DeadlineTicks
	rc.MaxSlots = cfg.MaxSlots
	rc.BackfillMax = cfg.BackfillMax
	rc.ConnTimeout = 24 * time.Hour
	storage := sequencer.NewMemoryStorage()
	return &dstFixture{
		cfg:      cfg,
		h:        newHarnessWith(t, rc, sequencer.WithStorage(storage.Open)),
		fault:    rand.New(rand.NewPCG(testutils.Seed, 1)), //nolint:gosec // test
		live:     make(map[string]*dstConn),
		lastTick: make(map[protocol.GroupKey]protocol.Tick),
		packages: make(map[protocol.GroupKey]map[protocol.Tick]protocol.ConfirmedPackage),
	}
}

func (f *dstFixture) pick(rng *rand.Rand) (*dstConn, bool) {
	if len(f.live) == 0 {
		return nil, false
	}
	return f.live[testutils.RandMapKey(rng, f.live)], true
}

func (f *dstFixture) hello(t *testing.T, rng *rand.Rand) {
	t.Helper()
	version := dstVersions[rng.IntN(len(dstVersions))]
	w, ok := f.h.tryHello(protocol.Hello{VersionID: version, DisplayName: testutils.RandString(rng, 6)})
	full := 0
	for _, c := range f.live {
		if c.welcome.Group == protocol.GroupKeyOf(version) {
			full++
		}
	}
	if full >= f.cfg.MaxSlots {
		require.False(t, ok, "hello accepted into a full group")
		return
	}
	require.True(t, ok, "hello refused")

	c := &dstConn{index: uint32(len(f.conns)), welcome: w, first: make(map[protocol.Tick]dstInput)} //nolint:gosec // small
	f.conns = append(f.conns, c)
	f.live[w.ConnID] = c
}

func (f *dstFixture) input(t *testing.T, rng *rand.Rand, dup bool) {
	t.Helper()
	c, ok := f.pick(rng)
	if !ok {
		return
	}
	st := f.h.status(c.welcome.Group)

	var tick protocol.Tick
	if dup && len(c.first) > 0 {
		tick = testutils.RandMapKey(rng, c.first)
	} else {
		lo := max(1, int64(st.Clock)-4)
		tick = protocol.Tick(lo + rng.Int64N(int64(st.Clock)+8-lo+1)) //nolint:gosec // positive
	}

	c.seq++
	if _, sent := c.first[tick]; !sent {
		c.first[tick] = dstInput{seq: c.seq, late: tick < st.NextClose}
	}
	f.h.seq.Input(c.welcome.ConnID, protocol.Input{
		Tick:    tick,
		Slot:    c.welcome.Slot,
		Payload: dstPayload(c.index, tick, c.seq),
	}, f.h.now)
}

func (f *dstFixture) disconnect(rng *rand.Rand) {
	c, ok := f.pick(rng)
	if !ok {
		return
	}
	f.h.seq.Disconnect(c.welcome.ConnID, "dst")
	delete(f.live, c.welcome.ConnID)
}

func (f *dstFixture) checksum(rng *rand.Rand) {
	c, ok := f.pick(rng)
	if !ok {
		return
	}
	f.h.seq.Checksum(c.welcome.ConnID, protocol.Checksum{
		Tick: protocol.Tick(1 + rng.IntN(100)),
		Slot: c.welcome.Slot,
		Hash: rng.Uint64(),
	}, f.h.now)
}

func (f *dstFixture) tick(t *testing.T) {
	t.Helper()

	// Slot occupants before the tick; timeouts are disabled so they can't change during it.
	occupants := make(map[protocol.GroupKey]map[protocol.Slot]*dstConn)
	for _, c := range f.live {
		g := c.welcome.Group
		if occupants[g] == nil {
			occupants[g] = make(map[protocol.Slot]*dstConn)
		}
		occupants[g][c.welcome.Slot] = c
	}

	for _, p := range f.h.tick() {
		require.NoError(t, p.Validate())
		require.Equal(t, f.lastTick[p.Group]+1, p.Tick, "group %s skipped a tick", p.Group)
		f.lastTick[p.Group] = p.Tick
		if f.packages[p.Group] == nil {
			f.packages[p.Group] = make(map[protocol.Tick]protocol.ConfirmedPackage)
		}
		f.packages[p.Group][p.Tick] = p

		occ := occupants[p.Group]
		slots := make([]protocol.Slot, 0, len(p.Entries))
		for _, e := range p.Entries {
			slots = append(slots, e.Slot)
		}
		want := make([]protocol.Slot, 0, len(occ))
		for s := range occ {
			want = append(want, s)
		}
		slices.Sort(want)
		require.Equal(t, want, slots, "tick %d enumerates the wrong slots", p.Tick)

		for _, e := range p.Entries {
			c := occ[e.Slot]
			first, sent := c.first[p.Tick]
			if e.Omitted {
				require.False(t, sent && !first.late, "tick %d slot %d: on-time input omitted", p.Tick, e.Slot)
				continue
			}
			index, tick, seq := dstDecode(t, e.Payload)
			require.Equal(t, c.index, index, "tick %d slot %d: payload from another connection", p.Tick, e.Slot)
			require.Equal(t, p.Tick, tick, "slot %d: payload for another tick", e.Slot)
			require.True(t, sent, "tick %d slot %d: payload never sent", p.Tick, e.Slot)
			require.False(t, first.late, "tick %d slot %d: late input included", p.Tick, e.Slot)
			require.Equal(t, first.seq, seq, "tick %d slot %d: first input did not win", p.Tick, e.Slot)
		}
	}
}

func (f *dstFixture) backfill(t *testing.T, rng *rand.Rand) {
	t.Helper()
	c, ok := f.pick(rng)
	if !ok {
		return
	}
	st := f.h.status(c.welcome.Group)
	from := protocol.Tick(1 + rng.Int64N(int64(st.NextClose))) //nolint:gosec // positive
	res := f.h.backfill(c.welcome, from)

	require.Equal(t, st.LowerBound, res.LowerBound)
	require.Equal(t, st.NextClose-1, res.LiveTick)
	if from < st.LowerBound {
		require.True(t, res.Compacted)
		require.Empty(t, res.Packages)
		return
	}
	require.False(t, res.Compacted)

	want := min(int(st.NextClose-from), f.cfg.BackfillMax)
	require.Len(t, res.Packages, want)
	for i, p := range res.Packages {
		require.Equal(t, from+protocol.Tick(i), p.Tick) //nolint:gosec // small
		assert.Equal(t, f.packages[p.Group][p.Tick], p, "backfilled tick %d differs from the broadcast", p.Tick)
	}
}

func (f *dstFixture) compact(t *testing.T, rng *rand.Rand) {
	t.Helper()
	c, ok := f.pick(rng)
	if !ok {
		return
	}
	st := f.h.status(c.welcome.Group)
	if st.NextClose <= 1 {
		return
	}
	tick := protocol.Tick(1 + rng.Int64N(int64(st.NextClose-1))) //nolint:gosec // positive

	f.h.seq.Compact(c.welcome.ConnID, protocol.Compact{Tick: tick}, "", f.h.now)
	f.h.drain()
	failed := false
	for _, job := range f.h.jobs {
		var err error
		if f.fault.Float64() < f.cfg.FlushFaultRate {
			err = errors.New("injected flush failure")
			failed = true
		} else {
			err = job.Log.Append(context.Background(), job.Entries)
		}
		f.h.seq.CompleteFlush(job, err)
	}
	f.h.jobs = nil

	after := f.h.status(c.welcome.Group)
	if failed || tick < st.LowerBound {
		require.Equal(t, st.LowerBound, after.LowerBound)
		return
	}
	require.Greater(t, after.LowerBound, tick)
}

func dstPayload(index uint32, tick protocol.Tick, seq uint32) protocol.Payload {
	b := binary.BigEndian.AppendUint32(nil, index)
	b = binary.BigEndian.AppendUint64(b, uint64(tick))
	return binary.BigEndian.AppendUint32(b, seq)
}

func dstDecode(t *testing.T, p protocol.Payload) (uint32, protocol.Tick, uint32) {
	t.Helper()
	require.Len(t, p, 16)
	return binary.BigEndian.Uint32(p[0:4]),
		protocol.Tick(binary.BigEndian.Uint64(p[4:12])),
		binary.BigEndian.Uint32(p[12:16])
}
