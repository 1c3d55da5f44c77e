package engine

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/argus-labs/lockstep/pkg/micro"
	"github.com/argus-labs/lockstep/pkg/protocol"
	"github.com/argus-labs/lockstep/pkg/sequencer"
	"github.com/argus-labs/lockstep/pkg/telemetry"
	"github.com/nats-io/nats.go"
	"github.com/rotisserie/eris"
	"github.com/rs/zerolog"
)

// NATSConn is a Transport to a relay served over NATS.
type NATSConn struct {
	client    *micro.Client
	namespace string
	inbox     chan protocol.Message
	log       zerolog.Logger

	mu       sync.Mutex
	group    protocol.GroupKey
	connID   string
	groupSub *nats.Subscription
	connSub  *nats.Subscription

	dropped atomic.Uint64
}

// NewNATSConn returns a transport using the relay under namespace. Messages that don't fit in the
// inbox are dropped and later recovered through backfill.
func NewNATSConn(client *micro.Client, namespace string, inboxSize int, tel *telemetry.Telemetry) *NATSConn {
	return &NATSConn{
		client:    client,
		namespace: namespace,
		inbox:     make(chan protocol.Message, inboxSize),
		log:       tel.GetLogger("natsconn"),
	}
}

func (c *NATSConn) Inbox() <-chan protocol.Message {
	return c.inbox
}

// Dropped counts messages discarded because the inbox was full.
func (c *NATSConn) Dropped() uint64 {
	return c.dropped.Load()
}

func (c *NATSConn) push(msg *nats.Msg) {
	m, err := protocol.Decode(msg.Data)
	if err != nil {
		c.log.Warn().Err(err).Str("subject", msg.Subject).Msg("dropped undecodable message")
		return
	}
	select {
	case c.inbox <- m:
	default:
		c.dropped.Add(1)
	}
}

// Hello subscribes to the group broadcasts before asking to join, so nothing closed after the
// Welcome is missed.
func (c *NATSConn) Hello(ctx context.Context, h protocol.Hello) (protocol.Welcome, error) {
	group := protocol.GroupKeyOf(h.VersionID)

	c.mu.Lock()
	if c.groupSub == nil || c.group != group {
		if c.groupSub != nil {
			_ = c.groupSub.Unsubscribe()
		}
		sub, err := c.client.Subscribe(sequencer.GroupOutSubject(c.namespace, group), c.push)
		if err != nil {
			c.mu.Unlock()
			return protocol.Welcome{}, eris.Wrap(err, "failed to subscribe to group")
		}
		c.groupSub, c.group = sub, group
	}
	c.mu.Unlock()

	msg, err := c.client.RequestWithContext(ctx, sequencer.HelloSubject(c.namespace), protocol.Encode(h))
	if err != nil {
		return protocol.Welcome{}, eris.Wrap(err, "hello request failed")
	}
	m, err := protocol.Decode(msg.Data)
	if err != nil {
		return protocol.Welcome{}, err
	}
	w, ok := m.(protocol.Welcome)
	if !ok {
		return protocol.Welcome{}, eris.Wrapf(sequencer.ErrUnexpectedReply, "%s to hello", m.Kind())
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.connSub != nil {
		_ = c.connSub.Unsubscribe()
	}
	sub, err := c.client.Subscribe(sequencer.ConnOutSubject(c.namespace, w.ConnID), c.push)
	if err != nil {
		return protocol.Welcome{}, eris.Wrap(err, "failed to subscribe to connection")
	}
	c.connSub, c.connID = sub, w.ConnID
	return w, nil
}

func (c *NATSConn) header() (string, nats.Header, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.connID == "" {
		return "", nil, eris.New("not connected")
	}
	h := nats.Header{}
	h.Set(sequencer.ConnIDHeader, c.connID)
	return sequencer.GroupInSubject(c.namespace, c.group), h, nil
}

func (c *NATSConn) Send(ctx context.Context, m protocol.Message) error {
	subject, header, err := c.header()
	if err != nil {
		return err
	}
	return c.client.Send(ctx, subject, protocol.Encode(m), header)
}

func (c *NATSConn) request(ctx context.Context, m protocol.Message) (protocol.Message, error) {
	subject, header, err := c.header()
	if err != nil {
		return nil, err
	}
	msg, err := c.client.RequestMsgWithContext(ctx, &nats.Msg{Subject: subject, Header: header, Data: protocol.Encode(m)})
	if err != nil {
		return nil, eris.Wrapf(err, "%s request failed", m.Kind())
	}
	return protocol.Decode(msg.Data)
}

func (c *NATSConn) Backfill(ctx context.Context, b protocol.Backfill) (protocol.BackfillResult, error) {
	m, err := c.request(ctx, b)
	if err != nil {
		return protocol.BackfillResult{}, err
	}
	res, ok := m.(protocol.BackfillResult)
	if !ok {
		return protocol.BackfillResult{}, eris.Wrapf(sequencer.ErrUnexpectedReply, "%s to backfill", m.Kind())
	}
	return res, nil
}

func (c *NATSConn) Compact(ctx context.Context, cm protocol.Compact) (protocol.CompactResult, error) {
	m, err := c.request(ctx, cm)
	if err != nil {
		return protocol.CompactResult{}, err
	}
	res, ok := m.(protocol.CompactResult)
	if !ok {
		return protocol.CompactResult{}, eris.Wrapf(sequencer.ErrUnexpectedReply, "%s to compact", m.Kind())
	}
	return res, nil
}

// Close tells the relay the connection is gone and unsubscribes. The NATS client stays open.
func (c *NATSConn) Close() error {
	if err := c.Send(context.Background(), protocol.Disconnect{}); err != nil {
		c.log.Debug().Err(err).Msg("failed to send disconnect")
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	var err error
	for _, sub := range []*nats.Subscription{c.groupSub, c.connSub} {
		if sub == nil {
			continue
		}
		if uerr := sub.Unsubscribe(); uerr != nil && err == nil {
			err = eris.Wrap(uerr, "failed to unsubscribe")
		}
	}
	c.groupSub, c.connSub, c.connID = nil, nil, ""
	return err
}
