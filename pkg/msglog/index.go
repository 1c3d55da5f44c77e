package msglog

import (
	"sort"

	"github.com/argus-labs/lockstep/pkg/protocol"
)

// VersionIndex answers "which VersionID produced the entry at position p for slot s" without
// scanning the log backwards. It holds one point per ConnectionEvent and nothing else, so it can
// always be rebuilt from the log.
type VersionIndex struct {
	slots map[protocol.Slot][]versionPoint
}

type versionPoint struct {
	position  uint64
	connected bool
	version   protocol.VersionID
}

func NewVersionIndex() *VersionIndex {
	return &VersionIndex{slots: make(map[protocol.Slot][]versionPoint)}
}

// RebuildVersionIndex derives an index from entries.
func RebuildVersionIndex(entries []Entry) *VersionIndex {
	idx := NewVersionIndex()
	for _, e := range entries {
		idx.Observe(e)
	}
	return idx
}

// Observe records e if it is a connection event. Events must be observed in position order.
func (v *VersionIndex) Observe(e Entry) {
	if e.Kind != KindConnectionEvent {
		return
	}
	ev := e.Connection
	v.slots[ev.Slot] = append(v.slots[ev.Slot], versionPoint{
		position:  e.Position,
		connected: ev.Connected,
		version:   ev.VersionID,
	})
}

// Lookup returns the VersionID of the connection holding slot at position pos. It returns false
// if the slot was unoccupied at pos.
func (v *VersionIndex) Lookup(pos uint64, slot protocol.Slot) (protocol.VersionID, bool) {
	points := v.slots[slot]
	// First point strictly after pos; the one before it is in effect.
	i := sort.Search(len(points), func(i int) bool { return points[i].position > pos })
	if i == 0 {
		return "", false
	}
	p := points[i-1]
	if !p.connected {
		return "", false
	}
	return p.version, true
}

// Points returns the number of connection events indexed.
func (v *VersionIndex) Points() int {
	n := 0
	for _, points := range v.slots {
		n += len(points)
	}
	return n
}
