package engine

import (
	"fmt"
	"maps"
	"slices"

	"github.com/argus-labs/lockstep/pkg/protocol"
	"github.com/rotisserie/eris"
)

// ErrDeterminismDrift is reported when the local authoritative state disagrees with the group.
// It points at a determinism bug, never at a malicious peer.
var ErrDeterminismDrift = eris.New("determinism drift")

// Drift describes a tick at which the local checksum lost the vote.
type Drift struct {
	Tick     protocol.Tick
	Own      uint64
	Majority uint64 // 0 on a tie
	Reports  map[protocol.Slot]uint64
}

func (d Drift) String() string {
	slots := slices.Sorted(maps.Keys(d.Reports))
	s := fmt.Sprintf("tick %d: own %016x", d.Tick, d.Own)
	for _, slot := range slots {
		s += fmt.Sprintf(", slot %d %016x", slot, d.Reports[slot])
	}
	return s
}

type tickReports struct {
	own      uint64
	hasOwn   bool
	expected []protocol.Slot // slots in the confirmed package
	peers    map[protocol.Slot]uint64
}

// Detector compares the local checksums with the ones peers report through the relay. A tick is
// decided once every slot in its package reported, or once it is window ticks old. The majority
// hash wins; on a tie the local client yields if it differs from any peer.
type Detector struct {
	slot    protocol.Slot
	window  protocol.Tick
	reports map[protocol.Tick]*tickReports
}

func NewDetector(slot protocol.Slot, window uint32) *Detector {
	return &Detector{slot: slot, window: protocol.Tick(window), reports: make(map[protocol.Tick]*tickReports)}
}

func (d *Detector) at(tick protocol.Tick) *tickReports {
	r, ok := d.reports[tick]
	if !ok {
		r = &tickReports{peers: make(map[protocol.Slot]uint64)}
		d.reports[tick] = r
	}
	return r
}

// SetSlot changes the local slot, e.g. after a resume assigned another one.
func (d *Detector) SetSlot(slot protocol.Slot) {
	d.slot = slot
}

// Own records the local checksum of tick and the slots expected to report it.
func (d *Detector) Own(tick protocol.Tick, hash uint64, expected []protocol.Slot) {
	r := d.at(tick)
	r.own, r.hasOwn = hash, true
	r.expected = expected
}

// Peer records a checksum broadcast by the relay. The local client's own echo is ignored.
func (d *Detector) Peer(c protocol.Checksum) {
	if c.Slot == d.slot {
		return
	}
	d.at(c.Tick).peers[c.Slot] = c.Hash
}

// Check decides every tick that is ready at authTick, oldest first, and returns the first drift.
// Decided ticks are forgotten.
func (d *Detector) Check(authTick protocol.Tick) (Drift, bool) {
	for _, tick := range slices.Sorted(maps.Keys(d.reports)) {
		r := d.reports[tick]
		expired := authTick >= tick+d.window
		if !r.hasOwn {
			// Peers ahead of us; wait until our own hash exists, unless it never will.
			if expired {
				delete(d.reports, tick)
			}
			continue
		}
		if !expired && !r.complete(d.slot) {
			continue
		}
		delete(d.reports, tick)
		if drift, ok := r.decide(tick); ok {
			return drift, true
		}
	}
	return Drift{}, false
}

// Reset forgets every tick from tick on.
func (d *Detector) Reset(from protocol.Tick) {
	maps.DeleteFunc(d.reports, func(t protocol.Tick, _ *tickReports) bool { return t >= from })
}

// Pending returns the number of undecided ticks.
func (d *Detector) Pending() int {
	return len(d.reports)
}

func (r *tickReports) complete(self protocol.Slot) bool {
	for _, s := range r.expected {
		if s == self {
			continue
		}
		if _, ok := r.peers[s]; !ok {
			return false
		}
	}
	return true
}

func (r *tickReports) decide(tick protocol.Tick) (Drift, bool) {
	if len(r.peers) == 0 {
		return Drift{}, false
	}

	votes := map[uint64]int{r.own: 1}
	for _, h := range r.peers {
		votes[h]++
	}
	var majority uint64
	best, tie := 0, false
	for _, h := range slices.Sorted(maps.Keys(votes)) {
		switch n := votes[h]; {
		case n > best:
			majority, best, tie = h, n, false
		case n == best:
			tie = true
		}
	}

	drift := Drift{Tick: tick, Own: r.own, Reports: maps.Clone(r.peers)}
	if !tie {
		drift.Majority = majority
		return drift, majority != r.own
	}
	for _, h := range r.peers {
		if h != r.own {
			return drift, true
		}
	}
	return Drift{}, false
}
