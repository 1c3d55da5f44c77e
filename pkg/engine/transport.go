package engine

import (
	"context"

	"github.com/argus-labs/lockstep/pkg/protocol"
	"github.com/argus-labs/lockstep/pkg/sequencer"
)

// Transport is the engine's connection to a relay.
type Transport interface {
	// Hello joins the version group of h and waits for the Welcome. Group broadcasts are delivered
	// to the inbox from then on.
	Hello(ctx context.Context, h protocol.Hello) (protocol.Welcome, error)

	// Send delivers a fire-and-forget message (Input, Checksum, Ping, Disconnect).
	Send(ctx context.Context, m protocol.Message) error

	Backfill(ctx context.Context, b protocol.Backfill) (protocol.BackfillResult, error)
	Compact(ctx context.Context, c protocol.Compact) (protocol.CompactResult, error)

	// Inbox carries group broadcasts and messages addressed to this connection.
	Inbox() <-chan protocol.Message

	Close() error
}

var (
	_ Transport = (*sequencer.LocalConn)(nil)
	_ Transport = (*NATSConn)(nil)
)
