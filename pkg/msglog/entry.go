// Package msglog is the append-only record of a lockstep session: every input, confirmed package,
// checksum, connection change and snapshot marker, in order. A log is self-describing: replaying
// its confirmed packages into a fresh simulation reproduces the original trajectory.
package msglog

import (
	"github.com/argus-labs/lockstep/pkg/protocol"
)

// Kind tags an Entry.
type Kind uint8

const (
	KindUnknown Kind = iota
	KindInput
	KindConfirmedPackage
	KindChecksum
	KindConnectionEvent
	KindSnapshotMarker
)

var kindNames = [...]string{
	KindUnknown:          "unknown",
	KindInput:            "input",
	KindConfirmedPackage: "confirmed_package",
	KindChecksum:         "checksum",
	KindConnectionEvent:  "connection_event",
	KindSnapshotMarker:   "snapshot_marker",
}

func (k Kind) String() string {
	if int(k) < len(kindNames) {
		return kindNames[k]
	}
	return kindNames[KindUnknown]
}

// ConnectionEvent records a slot being taken or released. It is the only place a connection's
// VersionID is written.
type ConnectionEvent struct {
	Slot        protocol.Slot
	Connected   bool
	VersionID   protocol.VersionID
	ConnID      string
	DisplayName string
}

// SnapshotMarker correlates a position in the log with a published snapshot.
type SnapshotMarker struct {
	Tick protocol.Tick
	Ref  string
}

// Entry is one log record. Exactly one of the payload fields is set, selected by Kind.
type Entry struct {
	// Position is assigned when the entry is first appended and never changes.
	Position uint64
	Kind     Kind
	// Tick is the tick the entry belongs to. Connection events carry the live tick at the time
	// of the change.
	Tick protocol.Tick

	Input      protocol.Input
	Package    protocol.ConfirmedPackage
	Checksum   protocol.Checksum
	Connection ConnectionEvent
	Marker     SnapshotMarker
}

func InputEntry(in protocol.Input) Entry {
	return Entry{Kind: KindInput, Tick: in.Tick, Input: in}
}

func PackageEntry(p protocol.ConfirmedPackage) Entry {
	return Entry{Kind: KindConfirmedPackage, Tick: p.Tick, Package: p}
}

func ChecksumEntry(c protocol.Checksum) Entry {
	return Entry{Kind: KindChecksum, Tick: c.Tick, Checksum: c}
}

func ConnectionEntry(tick protocol.Tick, ev ConnectionEvent) Entry {
	return Entry{Kind: KindConnectionEvent, Tick: tick, Connection: ev}
}

func MarkerEntry(m SnapshotMarker) Entry {
	return Entry{Kind: KindSnapshotMarker, Tick: m.Tick, Marker: m}
}

// Slot returns the slot an entry concerns, if any.
func (e Entry) Slot() (protocol.Slot, bool) {
	switch e.Kind {
	case KindInput:
		return e.Input.Slot, true
	case KindChecksum:
		return e.Checksum.Slot, true
	case KindConnectionEvent:
		return e.Connection.Slot, true
	case KindUnknown, KindConfirmedPackage, KindSnapshotMarker:
	}
	return 0, false
}

// Packages extracts the confirmed packages from entries, in log order.
func Packages(entries []Entry) []protocol.ConfirmedPackage {
	var out []protocol.ConfirmedPackage
	for _, e := range entries {
		if e.Kind == KindConfirmedPackage {
			out = append(out, e.Package)
		}
	}
	return out
}
