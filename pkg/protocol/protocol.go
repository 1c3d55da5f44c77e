// Package protocol defines the messages exchanged between lockstep clients and the relay, and
// their binary encoding.
//
// Payloads are opaque to everything in this package. Only simulations interpret them.
package protocol

import (
	"fmt"
	"slices"

	"github.com/cespare/xxhash/v2"
	"github.com/rotisserie/eris"
)

// Tick identifies one discrete simulation step. Ticks start at 1; 0 means "nothing applied".
type Tick uint64

// Slot identifies a participant within a version group.
type Slot uint8

// MaxSlots is the number of distinct slots a group can hold.
const MaxSlots = 256

// VersionID identifies the exact simulation code a client runs.
type VersionID string

// GroupKey is a subject-safe identifier of a version group.
type GroupKey string

// Payload is opaque input data.
type Payload []byte

// GroupKeyOf derives the group key of a version id.
func GroupKeyOf(v VersionID) GroupKey {
	return GroupKey(fmt.Sprintf("%016x", xxhash.Sum64String(string(v))))
}

// -------------------------------------------------------------------------------------------------
// Gameplay messages
// -------------------------------------------------------------------------------------------------

// Input is one client's input for one tick.
type Input struct {
	Tick    Tick
	Slot    Slot
	Payload Payload
}

// Entry is one slot's contribution to a ConfirmedPackage.
type Entry struct {
	Slot    Slot
	Payload Payload
	Omitted bool
}

// ConfirmedPackage is the canonical input set for one tick of one group.
type ConfirmedPackage struct {
	Tick    Tick
	Group   GroupKey
	Entries []Entry
}

var ErrInvalidPackage = eris.New("invalid confirmed package")

// Validate checks that entries are in strictly ascending slot order and that omitted entries
// carry no payload.
func (p ConfirmedPackage) Validate() error {
	for i, e := range p.Entries {
		if i > 0 && p.Entries[i-1].Slot >= e.Slot {
			return eris.Wrapf(ErrInvalidPackage, "tick %d: slot %d after slot %d", p.Tick, e.Slot, p.Entries[i-1].Slot)
		}
		if e.Omitted && len(e.Payload) > 0 {
			return eris.Wrapf(ErrInvalidPackage, "tick %d: omitted slot %d has payload", p.Tick, e.Slot)
		}
	}
	return nil
}

// Lookup returns the entry for slot, if the package enumerates it.
func (p ConfirmedPackage) Lookup(slot Slot) (Entry, bool) {
	i, ok := slices.BinarySearchFunc(p.Entries, slot, func(e Entry, s Slot) int {
		return int(e.Slot) - int(s)
	})
	if !ok {
		return Entry{}, false
	}
	return p.Entries[i], true
}

// SortEntries orders entries by slot.
func SortEntries(entries []Entry) {
	slices.SortFunc(entries, func(a, b Entry) int { return int(a.Slot) - int(b.Slot) })
}

// Checksum is a hash of a client's authoritative state after applying Tick.
type Checksum struct {
	Tick Tick
	Slot Slot
	Hash uint64
}

// -------------------------------------------------------------------------------------------------
// Connection messages
// -------------------------------------------------------------------------------------------------

// Hello opens (or resumes) a connection.
type Hello struct {
	VersionID   VersionID
	Secret      string
	DisplayName string
	// Nonce makes retries of the same Hello idempotent.
	Nonce string

	// Set when reconnecting to a relay that may have restarted. Slot is the slot held before, kept
	// when it is still free.
	Resuming          bool
	SessionID         string
	LastConfirmedTick Tick
	Slot              Slot
}

// Welcome answers a Hello.
type Welcome struct {
	Slot          Slot
	Group         GroupKey
	SessionID     string
	ConnID        string
	ResumeTick    Tick // last tick every member is known to have confirmed (resumes only)
	LiveTick      Tick // relay clock at the time of the Welcome
	TickRate      uint32
	DeadlineTicks uint32
}

// UpdateRequired tells a connection that a newer simulation version is being served.
type UpdateRequired struct {
	VersionID VersionID
}

// Disconnect ends a connection.
type Disconnect struct {
	Slot   Slot
	ConnID string
}

// Ping measures round trip time and keeps a connection alive. The relay echoes it unchanged.
type Ping struct {
	Seq    uint64
	SentAt int64 // unix nanoseconds, sender clock
}

// -------------------------------------------------------------------------------------------------
// History and compaction messages
// -------------------------------------------------------------------------------------------------

// Backfill asks the relay for confirmed packages from FromTick onward.
type Backfill struct {
	FromTick Tick
}

// BackfillResult answers a Backfill. Compacted is set when FromTick is below the hot lower bound,
// in which case the caller must load the snapshot and cold log first.
type BackfillResult struct {
	Packages   []ConfirmedPackage
	Compacted  bool
	LowerBound Tick
	LiveTick   Tick // last closed tick
}

// CompactRequest is broadcast by the relay when its hot buffer should be compacted.
type CompactRequest struct {
	Reason   string
	LiveTick Tick // last closed tick
}

// Compact tells the relay that a snapshot at Tick has been published.
type Compact struct {
	Tick        Tick
	SnapshotRef string
}

// CompactResult acknowledges a Compact.
type CompactResult struct {
	Tick       Tick
	LowerBound Tick
	Flushed    uint32
}
