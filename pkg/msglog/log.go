package msglog

import (
	"sort"
	"sync"

	"github.com/argus-labs/lockstep/pkg/protocol"
	"github.com/rotisserie/eris"
)

var (
	// ErrDuplicate is returned when an entry would repeat one already in the log.
	ErrDuplicate = eris.New("duplicate log entry")
	// ErrCompacted is returned when an entry belongs to a tick that was already cut.
	ErrCompacted = eris.New("tick already compacted")
)

// Log is an in-memory append-only log. Positions are assigned on Append and strictly increase.
// A Log can be cut by tick (compaction) without resetting positions; afterwards entries for cut
// ticks are refused.
//
// Log is safe for concurrent use.
type Log struct {
	mu      sync.RWMutex
	entries []Entry
	next    uint64 // position assigned to the next append

	seen  map[identity]struct{}
	floor protocol.Tick // ticks <= floor were cut
	index *VersionIndex
}

// identity is what makes two entries "the same fact". Inputs and checksums are unique per
// (tick, slot), confirmed packages per tick.
type identity struct {
	kind Kind
	tick protocol.Tick
	slot protocol.Slot
}

func identityOf(e Entry) (identity, bool) {
	switch e.Kind {
	case KindInput, KindChecksum:
		slot, _ := e.Slot()
		return identity{kind: e.Kind, tick: e.Tick, slot: slot}, true
	case KindConfirmedPackage:
		return identity{kind: e.Kind, tick: e.Tick}, true
	case KindUnknown, KindConnectionEvent, KindSnapshotMarker:
	}
	return identity{}, false
}

// NewLog returns an empty log whose first position is start.
func NewLog(start uint64) *Log {
	return &Log{
		next:  start,
		seen:  make(map[identity]struct{}),
		index: NewVersionIndex(),
	}
}

// Append assigns e the next position and records it. The recorded entry is returned.
func (l *Log) Append(e Entry) (Entry, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	e.Position = l.next
	if err := l.record(e); err != nil {
		return Entry{}, err
	}
	return e, nil
}

func (l *Log) record(e Entry) error {
	if l.floor > 0 && e.Tick <= l.floor {
		return eris.Wrapf(ErrCompacted, "%s for tick %d (cut at %d)", e.Kind, e.Tick, l.floor)
	}
	if id, ok := identityOf(e); ok {
		if _, dup := l.seen[id]; dup {
			return eris.Wrapf(ErrDuplicate, "%s for tick %d", e.Kind, e.Tick)
		}
		l.seen[id] = struct{}{}
	}
	if e.Kind == KindConnectionEvent {
		l.index.Observe(e)
	}
	l.entries = append(l.entries, e)
	l.next = e.Position + 1
	return nil
}

// NextPosition returns the position the next Append will assign.
func (l *Log) NextPosition() uint64 {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.next
}

// Len returns the number of retained entries.
func (l *Log) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.entries)
}

// Entries returns a copy of all retained entries.
func (l *Log) Entries() []Entry {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]Entry, len(l.entries))
	copy(out, l.entries)
	return out
}

// Since returns the retained entries with Tick >= tick, in log order.
func (l *Log) Since(tick protocol.Tick) []Entry {
	l.mu.RLock()
	defer l.mu.RUnlock()
	var out []Entry
	for _, e := range l.entries {
		if e.Tick >= tick {
			out = append(out, e)
		}
	}
	return out
}

// PackagesSince returns the confirmed packages with Tick >= tick in tick order.
func (l *Log) PackagesSince(tick protocol.Tick) []protocol.ConfirmedPackage {
	l.mu.RLock()
	defer l.mu.RUnlock()

	var out []protocol.ConfirmedPackage
	for _, e := range l.entries {
		if e.Kind == KindConfirmedPackage && e.Tick >= tick {
			out = append(out, e.Package)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Tick < out[j].Tick })
	return out
}

// Floor returns the highest tick that has been cut, 0 if none.
func (l *Log) Floor() protocol.Tick {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.floor
}

// Cut removes and returns every entry with Tick <= tick, preserving log order for the rest.
// Connection events are never lost from the version index, which remains queryable for cut
// positions.
func (l *Log) Cut(tick protocol.Tick) []Entry {
	l.mu.Lock()
	defer l.mu.Unlock()

	var cut, kept []Entry
	for _, e := range l.entries {
		if e.Tick <= tick {
			cut = append(cut, e)
		} else {
			kept = append(kept, e)
		}
	}
	l.entries = kept
	for id := range l.seen {
		if id.tick <= tick {
			delete(l.seen, id)
		}
	}
	if tick > l.floor {
		l.floor = tick
	}
	return cut
}

// VersionAt returns the VersionID that produced entries for slot at position pos.
func (l *Log) VersionAt(pos uint64, slot protocol.Slot) (protocol.VersionID, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.index.Lookup(pos, slot)
}
