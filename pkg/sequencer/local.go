package sequencer

import (
	"context"
	"strconv"
	"sync"
	"time"

	"github.com/argus-labs/lockstep/pkg/persist"
	"github.com/argus-labs/lockstep/pkg/protocol"
	"github.com/rotisserie/eris"
)

// ErrUnexpectedReply is returned when a request is answered with the wrong message type.
var ErrUnexpectedReply = eris.New("unexpected reply")

// Local runs a Sequencer in process on a manual clock. Messages are delivered synchronously into
// per-connection inboxes and flush jobs run inline, so a test driving Local is deterministic.
type Local struct {
	mu   sync.Mutex
	seq  *Sequencer
	now  time.Time
	step time.Duration

	conns     map[*LocalConn]struct{}
	byID      map[string]*LocalConn
	replies   map[string]chan protocol.Message
	nextReply uint64
	dropped   uint64
}

// NewLocal wraps seq. The clock starts at start and moves one tick per Tick call.
func NewLocal(seq *Sequencer, start time.Time) *Local {
	return &Local{
		seq:     seq,
		now:     start,
		step:    seq.Config().TickDuration(),
		conns:   make(map[*LocalConn]struct{}),
		byID:    make(map[string]*LocalConn),
		replies: make(map[string]chan protocol.Message),
	}
}

// Do runs fn against the sequencer and delivers everything it produced.
func (l *Local) Do(fn func(s *Sequencer, now time.Time)) {
	l.mu.Lock()
	defer l.mu.Unlock()
	fn(l.seq, l.now)
	l.flush()
}

// Tick advances the clock by one tick period.
func (l *Local) Tick() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.now = l.now.Add(l.step)
	l.seq.Tick(l.now)
	l.flush()
}

// Advance ticks until d has elapsed.
func (l *Local) Advance(d time.Duration) {
	for elapsed := time.Duration(0); elapsed < d; elapsed += l.step {
		l.Tick()
	}
}

// Restart replaces the sequencer, as if the relay process restarted. Connections stay subscribed
// to their groups but their connection ids are unknown to the new sequencer.
func (l *Local) Restart(seq *Sequencer) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.seq = seq
	clear(l.byID)
}

// Dropped counts messages discarded because an inbox was full.
func (l *Local) Dropped() uint64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.dropped
}

func (l *Local) flush() {
	for {
		out, jobs := l.seq.Drain()
		for _, o := range out {
			l.deliver(o)
		}
		if len(jobs) == 0 {
			return
		}
		for _, job := range jobs {
			l.seq.CompleteFlush(job, job.Log.Append(context.Background(), job.Entries))
		}
	}
}

func (l *Local) deliver(o Outbound) {
	switch o.Target {
	case TargetGroup:
		for c := range l.conns {
			if c.group == o.Group {
				l.push(c.inbox, o.Message)
			}
		}
	case TargetConn:
		if c, ok := l.byID[o.ConnID]; ok {
			l.push(c.inbox, o.Message)
		}
	case TargetReply:
		if ch, ok := l.replies[o.Reply]; ok {
			delete(l.replies, o.Reply)
			l.push(ch, o.Message)
		}
	}
}

func (l *Local) push(ch chan protocol.Message, m protocol.Message) {
	select {
	case ch <- m:
	default:
		l.dropped++
	}
}

// Dial creates a client endpoint with an inbox of the given size.
func (l *Local) Dial(inboxSize int) *LocalConn {
	l.mu.Lock()
	defer l.mu.Unlock()
	c := &LocalConn{hub: l, inbox: make(chan protocol.Message, inboxSize)}
	l.conns[c] = struct{}{}
	return c
}

// -------------------------------------------------------------------------------------------------
// Client endpoint
// -------------------------------------------------------------------------------------------------

// LocalConn is a client's view of a Local relay.
type LocalConn struct {
	hub    *Local
	inbox  chan protocol.Message
	group  protocol.GroupKey
	connID string
}

func (c *LocalConn) Inbox() <-chan protocol.Message {
	return c.inbox
}

// Hello subscribes to the version group and waits for the Welcome. A dropped Hello blocks until
// ctx is done, like an unanswered request.
func (c *LocalConn) Hello(ctx context.Context, h protocol.Hello) (protocol.Welcome, error) {
	c.hub.mu.Lock()
	c.group = protocol.GroupKeyOf(h.VersionID)
	c.hub.mu.Unlock()

	m, err := c.request(ctx, func(s *Sequencer, reply string, now time.Time) {
		s.Hello(ctx, h, reply, now)
	})
	if err != nil {
		return protocol.Welcome{}, err
	}
	w, ok := m.(protocol.Welcome)
	if !ok {
		return protocol.Welcome{}, eris.Wrapf(ErrUnexpectedReply, "%s to hello", m.Kind())
	}

	c.hub.mu.Lock()
	defer c.hub.mu.Unlock()
	c.connID = w.ConnID
	c.hub.byID[w.ConnID] = c
	return w, nil
}

// Send delivers a fire-and-forget message.
func (c *LocalConn) Send(_ context.Context, m protocol.Message) error {
	c.hub.Do(func(s *Sequencer, now time.Time) {
		switch m := m.(type) {
		case protocol.Input:
			s.Input(c.connID, m, now)
		case protocol.Checksum:
			s.Checksum(c.connID, m, now)
		case protocol.Ping:
			s.Ping(c.connID, m, now)
		case protocol.Disconnect:
			s.Disconnect(c.connID, "requested")
		}
	})
	return nil
}

func (c *LocalConn) Backfill(ctx context.Context, b protocol.Backfill) (protocol.BackfillResult, error) {
	m, err := c.request(ctx, func(s *Sequencer, reply string, now time.Time) {
		s.Backfill(c.connID, b, reply, now)
	})
	if err != nil {
		return protocol.BackfillResult{}, err
	}
	res, ok := m.(protocol.BackfillResult)
	if !ok {
		return protocol.BackfillResult{}, eris.Wrapf(ErrUnexpectedReply, "%s to backfill", m.Kind())
	}
	return res, nil
}

func (c *LocalConn) Compact(ctx context.Context, cm protocol.Compact) (protocol.CompactResult, error) {
	m, err := c.request(ctx, func(s *Sequencer, reply string, now time.Time) {
		s.Compact(c.connID, cm, reply, now)
	})
	if err != nil {
		return protocol.CompactResult{}, err
	}
	res, ok := m.(protocol.CompactResult)
	if !ok {
		return protocol.CompactResult{}, eris.Wrapf(ErrUnexpectedReply, "%s to compact", m.Kind())
	}
	return res, nil
}

// Close disconnects and stops delivery to the inbox.
func (c *LocalConn) Close() error {
	c.hub.Do(func(s *Sequencer, _ time.Time) {
		s.Disconnect(c.connID, "closed")
	})
	c.hub.mu.Lock()
	defer c.hub.mu.Unlock()
	delete(c.hub.conns, c)
	delete(c.hub.byID, c.connID)
	return nil
}

func (c *LocalConn) request(ctx context.Context, fn func(s *Sequencer, reply string, now time.Time)) (protocol.Message, error) {
	ch := make(chan protocol.Message, 1)

	c.hub.mu.Lock()
	c.hub.nextReply++
	reply := "_INBOX.local." + strconv.FormatUint(c.hub.nextReply, 10)
	c.hub.replies[reply] = ch
	c.hub.mu.Unlock()

	c.hub.Do(func(s *Sequencer, now time.Time) { fn(s, reply, now) })

	select {
	case m := <-ch:
		return m, nil
	case <-ctx.Done():
		c.hub.mu.Lock()
		delete(c.hub.replies, reply)
		c.hub.mu.Unlock()
		return nil, eris.Wrap(ctx.Err(), "no reply from relay")
	}
}

// -------------------------------------------------------------------------------------------------
// Storage
// -------------------------------------------------------------------------------------------------

// MemoryStorage keeps session storage in memory. Stores outlive Sequencer restarts, which makes it
// suitable for recovery tests.
type MemoryStorage struct {
	mu     sync.Mutex
	stores map[persist.Key]*persist.Store
}

func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{stores: make(map[persist.Key]*persist.Store)}
}

// Open is a StorageFunc.
func (m *MemoryStorage) Open(_ context.Context, key persist.Key) (*persist.Store, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	st, ok := m.stores[key]
	if !ok {
		st = &persist.Store{Snapshots: persist.NewMemorySnapshotStore(), Log: persist.NewMemoryColdLog()}
		m.stores[key] = st
	}
	return st, nil
}
