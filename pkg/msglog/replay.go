package msglog

import (
	"sort"

	"github.com/argus-labs/lockstep/pkg/protocol"
	"github.com/argus-labs/lockstep/pkg/sim"
	"github.com/rotisserie/eris"
)

const defaultReplayWindow = 256

// Trajectory is the authoritative checksum after every replayed tick.
type Trajectory struct {
	// Start is the tick the replay started from (the snapshot tick, 0 for genesis).
	Start  protocol.Tick
	Hashes []uint64 // Hashes[i] is the checksum after tick Start+1+i
}

// At returns the checksum after tick.
func (t Trajectory) At(tick protocol.Tick) (uint64, bool) {
	if tick <= t.Start || tick > t.Last() {
		return 0, false
	}
	return t.Hashes[tick-t.Start-1], true
}

// Last returns the last replayed tick.
func (t Trajectory) Last() protocol.Tick {
	return t.Start + protocol.Tick(len(t.Hashes))
}

// Final returns the checksum after the last replayed tick.
func (t Trajectory) Final() (uint64, bool) {
	return t.At(t.Last())
}

// Mismatch is a recorded checksum that disagrees with the replayed state.
type Mismatch struct {
	Tick     protocol.Tick
	Slot     protocol.Slot
	Recorded uint64
	Replayed uint64
}

// ReplayResult is the outcome of Replay.
type ReplayResult struct {
	Trajectory Trajectory
	Mismatches []Mismatch
	// State is the authoritative state after the last replayed tick.
	State sim.Simulation
}

type replayOptions struct {
	window int
	stopAt protocol.Tick
}

type ReplayOption func(*replayOptions)

// WithRollbackWindow sets how many ticks a re-confirmation in the log may rewind.
func WithRollbackWindow(n int) ReplayOption {
	return func(o *replayOptions) { o.window = n }
}

// WithStopAt ends the replay after tick.
func WithStopAt(tick protocol.Tick) ReplayOption {
	return func(o *replayOptions) { o.stopAt = tick }
}

// Replay feeds the confirmed packages in entries, in log order, into state (which must be the
// state after startTick) and checksums every tick. Packages at or before startTick are skipped.
// A package for an already-replayed tick (a relay that resumed from an earlier tick) rewinds the
// state the same way a live client does. Recorded checksums are compared against the replayed
// state as they are encountered.
func Replay(entries []Entry, state sim.Simulation, startTick protocol.Tick, opts ...ReplayOption) (ReplayResult, error) {
	o := replayOptions{window: defaultReplayWindow}
	for _, opt := range opts {
		opt(&o)
	}

	auth := sim.NewAuthority(state, startTick, o.window)
	res := ReplayResult{Trajectory: Trajectory{Start: startTick}}
	var pending []protocol.Checksum

	check := func(c protocol.Checksum) {
		got, _ := res.Trajectory.At(c.Tick)
		if got != c.Hash {
			res.Mismatches = append(res.Mismatches, Mismatch{
				Tick: c.Tick, Slot: c.Slot, Recorded: c.Hash, Replayed: got,
			})
		}
	}

	for _, e := range entries {
		switch e.Kind {
		case KindConfirmedPackage:
			p := e.Package
			if p.Tick <= startTick || (o.stopAt != 0 && p.Tick > o.stopAt) {
				continue
			}
			if err := auth.ApplyOrRewind(p); err != nil {
				return res, eris.Wrapf(err, "failed to replay entry %d", e.Position)
			}
			h, err := sim.Hash(auth.State())
			if err != nil {
				return res, eris.Wrapf(err, "failed to hash tick %d", p.Tick)
			}
			res.Trajectory.Hashes = append(res.Trajectory.Hashes[:p.Tick-startTick-1], h)

			kept := pending[:0]
			for _, c := range pending {
				if c.Tick <= auth.Tick() {
					check(c)
				} else {
					kept = append(kept, c)
				}
			}
			pending = kept

		case KindChecksum:
			c := e.Checksum
			if c.Tick <= startTick || (o.stopAt != 0 && c.Tick > o.stopAt) {
				continue
			}
			if c.Tick <= auth.Tick() {
				check(c)
			} else {
				pending = append(pending, c)
			}

		case KindUnknown, KindInput, KindConnectionEvent, KindSnapshotMarker:
		}
	}

	res.State = auth.State()
	return res, nil
}

// FirstDivergence returns the first tick at which a and b disagree. Ticks only one of them
// covers are ignored. It returns false if they agree everywhere they overlap.
func FirstDivergence(a, b Trajectory) (protocol.Tick, bool) {
	from := max(a.Start, b.Start) + 1
	to := min(a.Last(), b.Last())
	for t := from; t <= to; t++ {
		ha, _ := a.At(t)
		hb, _ := b.At(t)
		if ha != hb {
			return t, true
		}
	}
	return 0, false
}

// Divergence describes where two recordings first disagree.
type Divergence struct {
	Tick protocol.Tick
	// Sections lists the named parts of state that differ at Tick, when the simulation exposes
	// them.
	Sections []string
}

// Diagnose replays a and b from genesis, finds the first tick their states differ and narrows it
// down to the differing sections. It returns false if the recordings agree.
func Diagnose(a, b []Entry, factory sim.Factory) (Divergence, bool, error) {
	ra, err := Replay(a, factory(), 0)
	if err != nil {
		return Divergence{}, false, eris.Wrap(err, "failed to replay first log")
	}
	rb, err := Replay(b, factory(), 0)
	if err != nil {
		return Divergence{}, false, eris.Wrap(err, "failed to replay second log")
	}

	tick, ok := FirstDivergence(ra.Trajectory, rb.Trajectory)
	if !ok {
		return Divergence{}, false, nil
	}

	// Replay again up to the divergent tick to inspect the states there.
	sa, err := Replay(a, factory(), 0, WithStopAt(tick))
	if err != nil {
		return Divergence{}, false, err
	}
	sb, err := Replay(b, factory(), 0, WithStopAt(tick))
	if err != nil {
		return Divergence{}, false, err
	}
	sections, err := DiffSections(sa.State, sb.State)
	if err != nil {
		return Divergence{}, false, err
	}
	return Divergence{Tick: tick, Sections: sections}, true, nil
}

// DiffSections returns the names of the sections whose hashes differ between a and b, sorted.
func DiffSections(a, b sim.Simulation) ([]string, error) {
	ha, err := sim.SectionHashes(a)
	if err != nil {
		return nil, err
	}
	hb, err := sim.SectionHashes(b)
	if err != nil {
		return nil, err
	}

	var out []string
	for name, h := range ha {
		if hb[name] != h {
			out = append(out, name)
		}
	}
	for name := range hb {
		if _, ok := ha[name]; !ok {
			out = append(out, name)
		}
	}
	sort.Strings(out)
	return out, nil
}
