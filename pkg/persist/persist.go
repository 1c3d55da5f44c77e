// Package persist keeps a session's durable state: the single live snapshot and the cold log.
//
// Both are addressed by session under one key layout:
//
//	sessions/{version_id}/{session_id}/save
//	sessions/{version_id}/{session_id}/log
//
// Storage is conflict free because simulations are deterministic. A snapshot is only uploaded when
// it is strictly newer than the stored one, and two participants publishing the same tick upload
// identical bytes.
package persist

import (
	"context"
	"net/url"
	"path"

	"github.com/argus-labs/lockstep/pkg/msglog"
	"github.com/argus-labs/lockstep/pkg/protocol"
	"github.com/rotisserie/eris"
)

var (
	ErrSnapshotNotFound = eris.New("snapshot not found")
	ErrInvalidKey       = eris.New("invalid session key")
	ErrPositionOrder    = eris.New("batch positions out of order")
)

// Key identifies a session.
type Key struct {
	VersionID protocol.VersionID
	SessionID string
}

func (k Key) Validate() error {
	if k.VersionID == "" {
		return eris.Wrap(ErrInvalidKey, "version id is empty")
	}
	if k.SessionID == "" {
		return eris.Wrap(ErrInvalidKey, "session id is empty")
	}
	return nil
}

// Prefix returns sessions/{version_id}/{session_id}. Both parts are path escaped.
func (k Key) Prefix() string {
	return path.Join("sessions", url.PathEscape(string(k.VersionID)), url.PathEscape(k.SessionID))
}

func (k Key) SaveKey() string { return k.Prefix() + "/save" }

func (k Key) LogKey() string { return k.Prefix() + "/log" }

// Snapshot is the serialized authoritative state after Tick.
type Snapshot struct {
	Tick protocol.Tick
	Data []byte
}

// SnapshotStore holds the one live snapshot of a session.
type SnapshotStore interface {
	// StoredTick returns the tick of the stored snapshot without reading it. ok is false when
	// there is none.
	StoredTick(ctx context.Context) (tick protocol.Tick, ok bool, err error)

	// Put overwrites the stored snapshot.
	Put(ctx context.Context, snap Snapshot) error

	// Load returns the stored snapshot or ErrSnapshotNotFound.
	Load(ctx context.Context) (Snapshot, error)
}

// ColdLog is the durable, append-only tier of a session's log. Entries are stored in flush order.
// Each flush holds the hot entries up to a compaction tick in position order, so a later flush can
// hold lower positions than an earlier one (an input sent ahead for a tick past the compaction
// point), but confirmed packages always appear in tick order.
type ColdLog interface {
	// Append durably appends one flush. Positions must strictly increase within it. A failed
	// Append stores nothing, so the flush can be retried as is.
	Append(ctx context.Context, entries []msglog.Entry) error

	// ReadAll calls fn for every stored entry in order.
	ReadAll(ctx context.Context, fn func(msglog.Entry) error) error

	// Tail returns the position following the highest stored position, 0 for an empty log. A
	// restarted relay continues numbering from here.
	Tail(ctx context.Context) (uint64, error)
}

// ReadEntries collects every entry of a cold log.
func ReadEntries(ctx context.Context, log ColdLog) ([]msglog.Entry, error) {
	var out []msglog.Entry
	err := log.ReadAll(ctx, func(e msglog.Entry) error {
		out = append(out, e)
		return nil
	})
	return out, err
}

// checkBatch validates a flush and returns the tail after it is stored on a log at next.
func checkBatch(next uint64, entries []msglog.Entry) (uint64, error) {
	for i, e := range entries {
		if i > 0 && e.Position <= entries[i-1].Position {
			return next, eris.Wrapf(ErrPositionOrder, "position %d after %d", e.Position, entries[i-1].Position)
		}
		next = max(next, e.Position+1)
	}
	return next, nil
}
