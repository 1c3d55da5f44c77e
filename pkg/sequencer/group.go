package sequencer

import (
	"time"

	"github.com/argus-labs/lockstep/pkg/assert"
	"github.com/argus-labs/lockstep/pkg/msglog"
	"github.com/argus-labs/lockstep/pkg/persist"
	"github.com/argus-labs/lockstep/pkg/protocol"
	"github.com/kelindar/bitmap"
)

// conn is one client connection. A conn belongs to exactly one group and holds exactly one slot.
type conn struct {
	id          string
	slot        protocol.Slot
	group       *group
	displayName string
	nonce       string
	lastSeen    time.Time

	// Set while the group is recovering: where to send the deferred Welcome, and the last tick
	// the client reported as confirmed.
	reply    string
	reported bool
	report   protocol.Tick
}

// tickBuffer collects the inputs of one open tick.
type tickBuffer struct {
	present  bitmap.Bitmap
	payloads map[protocol.Slot]protocol.Payload
}

func newTickBuffer() *tickBuffer {
	return &tickBuffer{payloads: make(map[protocol.Slot]protocol.Payload)}
}

func (b *tickBuffer) add(slot protocol.Slot, payload protocol.Payload) bool {
	if b.present.Contains(uint32(slot)) {
		return false
	}
	b.present.Set(uint32(slot))
	b.payloads[slot] = payload
	return true
}

func (b *tickBuffer) drop(slot protocol.Slot) {
	b.present.Remove(uint32(slot))
	delete(b.payloads, slot)
}

// compactWaiter is a client waiting for the result of an in-flight compaction.
type compactWaiter struct {
	connID string
	reply  string
	tick   protocol.Tick
}

// group is the ordering state of one version group: its connections, the open ticks and the hot
// log. It is only touched by the Sequencer that owns it.
type group struct {
	key     protocol.GroupKey
	version protocol.VersionID
	session string
	store   *persist.Store

	occupied bitmap.Bitmap
	conns    map[protocol.Slot]*conn

	// clock is the live tick. Every tick below nextClose has been closed.
	clock     protocol.Tick
	nextClose protocol.Tick
	pending   map[protocol.Tick]*tickBuffer
	deadline  DeadlinePolicy

	// hot holds every entry of ticks >= lowerBound that isn't being flushed.
	hot        *msglog.Log
	lowerBound protocol.Tick

	// flushing holds entries cut from hot whose flush to the cold log hasn't completed yet. They
	// still serve backfills. A failed flush keeps them for the next compaction.
	flushing         []msglog.Entry
	flushTick        protocol.Tick
	inFlight         bool
	waiters          []compactWaiter
	compactRequested bool

	recovering   bool
	recoverUntil time.Time

	outdated bool
}

func (g *group) storeKey() persist.Key {
	return persist.Key{VersionID: g.version, SessionID: g.session}
}

// allocSlot takes preferred if it is free, otherwise the lowest free slot.
func (g *group) allocSlot(maxSlots int, preferred protocol.Slot, hasPreferred bool) (protocol.Slot, bool) {
	if hasPreferred && int(preferred) < maxSlots && !g.occupied.Contains(uint32(preferred)) {
		g.occupied.Set(uint32(preferred))
		return preferred, true
	}
	for s := range maxSlots {
		if !g.occupied.Contains(uint32(s)) {
			g.occupied.Set(uint32(s))
			return protocol.Slot(s), true
		}
	}
	return 0, false
}

func (g *group) releaseSlot(slot protocol.Slot) {
	g.occupied.Remove(uint32(slot))
	delete(g.conns, slot)
	for _, buf := range g.pending {
		buf.drop(slot)
	}
}

func (g *group) buffer(tick protocol.Tick) *tickBuffer {
	buf, ok := g.pending[tick]
	if !ok {
		buf = newTickBuffer()
		g.pending[tick] = buf
	}
	return buf
}

// closeTick builds the confirmed package of the oldest open tick. Every occupied slot is
// enumerated in ascending order; slots without input are marked omitted.
func (g *group) closeTick() (protocol.ConfirmedPackage, int) {
	tick := g.nextClose
	assert.That(tick <= g.clock, "closing tick %d ahead of the live tick %d", tick, g.clock)
	buf := g.pending[tick]
	delete(g.pending, tick)
	g.nextClose++

	pkg := protocol.ConfirmedPackage{Tick: tick, Group: g.key, Entries: make([]protocol.Entry, 0, g.occupied.Count())}
	omitted := 0
	g.occupied.Range(func(x uint32) {
		slot := protocol.Slot(x)
		if buf != nil && buf.present.Contains(x) {
			pkg.Entries = append(pkg.Entries, protocol.Entry{Slot: slot, Payload: buf.payloads[slot]})
			return
		}
		pkg.Entries = append(pkg.Entries, protocol.Entry{Slot: slot, Omitted: true})
		omitted++
	})
	return pkg, omitted
}

// packagesSince returns the confirmed packages from tick onward, in tick order, including those
// still being flushed.
func (g *group) packagesSince(tick protocol.Tick, limit int) []protocol.ConfirmedPackage {
	var out []protocol.ConfirmedPackage
	for _, e := range g.flushing {
		if e.Kind == msglog.KindConfirmedPackage && e.Tick >= tick {
			out = append(out, e.Package)
		}
	}
	out = append(out, g.hot.PackagesSince(tick)...)
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}

// unstarted reports whether the group has not closed a tick or compacted anything yet.
func (g *group) unstarted() bool {
	return g.nextClose == 1 && len(g.flushing) == 0 && !g.inFlight
}

func (g *group) hotEntries() int {
	return g.hot.Len() + len(g.flushing)
}
