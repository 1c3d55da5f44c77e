package persist

import (
	"context"

	"github.com/argus-labs/lockstep/pkg/protocol"
	"github.com/argus-labs/lockstep/pkg/telemetry"
	"github.com/rotisserie/eris"
	"github.com/rs/zerolog"
)

// Relay is the relay side of compaction: flush the hot log up to a tick into the cold log, mark
// it, and advance the hot lower bound.
type Relay interface {
	Compact(ctx context.Context, req protocol.Compact) (protocol.CompactResult, error)
}

// Compactor runs compaction from a participant, the only place authoritative state exists:
//
//  1. publish Snapshot(T) through the Publisher
//  2. ask the relay to flush hot entries up to T, append SnapshotMarker(T) and advance its lower
//     bound to T+1
//
// Compaction is triggered periodically, at session end and when the relay broadcasts a
// CompactRequest.
type Compactor struct {
	pub      *Publisher
	relay    Relay
	key      Key
	interval protocol.Tick
	last     protocol.Tick
	log      zerolog.Logger
}

// NewCompactor returns a compactor. interval is the periodic trigger in ticks, 0 disables it.
func NewCompactor(pub *Publisher, relay Relay, key Key, interval protocol.Tick, tel *telemetry.Telemetry) *Compactor {
	return &Compactor{
		pub:      pub,
		relay:    relay,
		key:      key,
		interval: interval,
		log:      tel.GetLogger("compactor"),
	}
}

// Due reports whether a periodic compaction is due at tick.
func (c *Compactor) Due(tick protocol.Tick) bool {
	return c.interval > 0 && tick >= c.last+c.interval
}

// Last returns the tick of the last successful compaction.
func (c *Compactor) Last() protocol.Tick {
	return c.last
}

// Compact publishes snap and compacts the relay's hot log at snap.Tick.
func (c *Compactor) Compact(ctx context.Context, snap Snapshot) (protocol.CompactResult, error) {
	if snap.Tick == 0 {
		return protocol.CompactResult{}, eris.New("cannot compact at genesis")
	}

	if _, err := c.pub.Publish(ctx, snap); err != nil {
		return protocol.CompactResult{}, err
	}

	res, err := c.relay.Compact(ctx, protocol.Compact{Tick: snap.Tick, SnapshotRef: c.key.SaveKey()})
	if err != nil {
		return protocol.CompactResult{}, eris.Wrapf(err, "relay failed to compact at tick %d", snap.Tick)
	}
	if snap.Tick > c.last {
		c.last = snap.Tick
	}

	c.log.Info().
		Uint64("tick", uint64(snap.Tick)).
		Uint64("lower_bound", uint64(res.LowerBound)).
		Uint32("flushed", res.Flushed).
		Msg("compacted")
	return res, nil
}
