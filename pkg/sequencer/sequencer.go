// Package sequencer is the input relay of a lockstep session. It groups connections by simulation
// version, collects their inputs per tick and closes every tick on a deadline into one confirmed
// package per group. It never simulates anything: payloads are opaque.
//
// A Sequencer is a plain state machine. It is owned by a single goroutine (see Server) that feeds
// it inbound messages and the tick clock, and drains the messages and flush jobs it produces.
package sequencer

import (
	"cmp"
	"context"
	"crypto/subtle"
	"maps"
	"slices"
	"time"

	"github.com/argus-labs/lockstep/pkg/msglog"
	"github.com/argus-labs/lockstep/pkg/persist"
	"github.com/argus-labs/lockstep/pkg/protocol"
	metrics "github.com/armon/go-metrics"
	"github.com/coocood/freecache"
	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"github.com/rs/zerolog"
)

// Target selects who receives an Outbound message.
type Target uint8

const (
	// TargetGroup is every connection of a version group.
	TargetGroup Target = iota + 1
	// TargetConn is a single connection.
	TargetConn
	// TargetReply is the reply inbox of a request.
	TargetReply
)

// Outbound is a message the Sequencer wants delivered.
type Outbound struct {
	Target  Target
	Group   protocol.GroupKey
	ConnID  string
	Reply   string
	Message protocol.Message
}

// FlushJob asks the owner to append compacted entries to a session's cold log and report back
// with CompleteFlush.
type FlushJob struct {
	Group   protocol.GroupKey
	Session string
	Tick    protocol.Tick
	Entries []msglog.Entry
	Log     persist.ColdLog
}

// StorageFunc opens the durable storage of a session.
type StorageFunc func(ctx context.Context, key persist.Key) (*persist.Store, error)

// NopStorage discards compacted entries.
func NopStorage(context.Context, persist.Key) (*persist.Store, error) {
	return &persist.Store{Snapshots: persist.NopSnapshotStore{}, Log: persist.NopColdLog{}}, nil
}

// Stats counts what the Sequencer did since it started.
type Stats struct {
	TicksClosed   uint64
	Omissions     uint64
	LateInputs    uint64
	DroppedInputs uint64
	SilentDrops   uint64
	Connects      uint64
	Disconnects   uint64
	Checksums     uint64
	Backfills     uint64
	Compactions   uint64
	FlushFailures uint64
}

// Sequencer is the single owned state of the relay: the connection table, the open ticks and the
// hot log of every group.
//
// Sequencer is not safe for concurrent use.
type Sequencer struct {
	cfg     Config
	log     zerolog.Logger
	metrics *metrics.Metrics
	storage StorageFunc
	hellos  *freecache.Cache

	groups map[protocol.GroupKey]*group
	conns  map[string]*conn
	latest protocol.VersionID

	out   []Outbound
	jobs  []FlushJob
	stats Stats
}

// Option configures a Sequencer.
type Option func(*Sequencer)

func WithLogger(log zerolog.Logger) Option {
	return func(s *Sequencer) { s.log = log }
}

// WithMetrics mirrors the Stats counters into m.
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Sequencer) { s.metrics = m }
}

// WithStorage sets where compacted entries go. The default discards them.
func WithStorage(fn StorageFunc) Option {
	return func(s *Sequencer) { s.storage = fn }
}

// New creates a Sequencer.
func New(cfg Config, opts ...Option) (*Sequencer, error) {
	if err := cfg.Validate(); err != nil {
		return nil, eris.Wrap(err, "invalid relay config")
	}
	s := &Sequencer{
		cfg:     cfg,
		log:     zerolog.Nop(),
		storage: NopStorage,
		hellos:  freecache.NewCache(cfg.HelloCacheBytes),
		groups:  make(map[protocol.GroupKey]*group),
		conns:   make(map[string]*conn),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.metrics == nil {
		m, err := NewMetrics(&metrics.BlackholeSink{})
		if err != nil {
			return nil, err
		}
		s.metrics = m
	}
	return s, nil
}

// NewMetrics creates the relay metrics on sink.
func NewMetrics(sink metrics.MetricSink) (*metrics.Metrics, error) {
	conf := metrics.DefaultConfig("lockstep_relay")
	conf.EnableHostname = false
	conf.EnableRuntimeMetrics = false
	m, err := metrics.New(conf, sink)
	if err != nil {
		return nil, eris.Wrap(err, "failed to create metrics")
	}
	return m, nil
}

// Drain returns and clears the messages and flush jobs produced so far.
func (s *Sequencer) Drain() ([]Outbound, []FlushJob) {
	out, jobs := s.out, s.jobs
	s.out, s.jobs = nil, nil
	return out, jobs
}

func (s *Sequencer) Stats() Stats {
	return s.stats
}

func (s *Sequencer) Config() Config {
	return s.cfg
}

func (s *Sequencer) emit(o Outbound) {
	s.out = append(s.out, o)
}

// respond sends m to reply when the request had one, otherwise to the connection.
func (s *Sequencer) respond(c *conn, reply string, m protocol.Message) {
	if reply != "" {
		s.emit(Outbound{Target: TargetReply, Reply: reply, Message: m})
		return
	}
	s.emit(Outbound{Target: TargetConn, Group: c.group.key, ConnID: c.id, Message: m})
}

func (s *Sequencer) count(field *uint64, name string, n int) {
	if n <= 0 {
		return
	}
	*field += uint64(n)
	s.metrics.IncrCounter([]string{name}, float32(n))
}

func (s *Sequencer) groupLogger(g *group) *zerolog.Logger {
	l := s.log.With().Str("group", string(g.key)).Str("session", g.session).Logger()
	return &l
}

// -------------------------------------------------------------------------------------------------
// Connections
// -------------------------------------------------------------------------------------------------

// Hello admits a connection. A wrong secret is dropped without any response. The Welcome goes to
// reply; for a group that is recovering from a relay restart it is held back until the group
// resumes.
func (s *Sequencer) Hello(ctx context.Context, h protocol.Hello, reply string, now time.Time) {
	if subtle.ConstantTimeCompare([]byte(h.Secret), []byte(s.cfg.Secret)) != 1 {
		s.count(&s.stats.SilentDrops, "silent_drops", 1)
		s.log.Debug().Str("version", string(h.VersionID)).Msg("dropped hello with invalid secret")
		return
	}
	if h.VersionID == "" {
		s.count(&s.stats.SilentDrops, "silent_drops", 1)
		s.log.Debug().Msg("dropped hello without version")
		return
	}

	// A retried Hello gets the Welcome it was already given.
	if h.Nonce != "" {
		if cached, err := s.hellos.Get([]byte(h.Nonce)); err == nil {
			if w, err := protocol.Decode(cached); err == nil {
				s.emit(Outbound{Target: TargetReply, Reply: reply, Message: w})
				return
			}
		}
	}

	key := protocol.GroupKeyOf(h.VersionID)
	g, ok := s.groups[key]
	if ok && g.version != h.VersionID {
		s.count(&s.stats.SilentDrops, "silent_drops", 1)
		s.log.Warn().
			Str("version", string(h.VersionID)).
			Str("group_version", string(g.version)).
			Msg("dropped hello whose version collides with another group")
		return
	}
	// After a restart a new client may reach the relay before the clients of the session it lost.
	// A group that has not closed a tick yet gives way to the session being resumed.
	if ok && h.Resuming && h.SessionID != "" && h.SessionID != g.session && !g.recovering && g.unstarted() {
		s.abandon(g, "session resumed")
		ok = false
	}
	if !ok {
		var err error
		g, err = s.newGroup(ctx, h, now)
		if err != nil {
			s.log.Error().Err(err).Str("version", string(h.VersionID)).Msg("failed to open version group")
			return
		}
	}

	if g.recovering && h.Nonce != "" {
		for _, c := range g.conns {
			if c.nonce == h.Nonce {
				c.reply = reply
				return
			}
		}
	}

	resuming := h.Resuming && h.SessionID == g.session
	slot, ok := g.allocSlot(s.cfg.MaxSlots, h.Slot, resuming)
	if !ok {
		s.count(&s.stats.SilentDrops, "silent_drops", 1)
		s.groupLogger(g).Warn().Int("max_slots", s.cfg.MaxSlots).Msg("version group is full")
		return
	}

	c := &conn{
		id:          uuid.NewString(),
		slot:        slot,
		group:       g,
		displayName: h.DisplayName,
		nonce:       h.Nonce,
		lastSeen:    now,
	}
	g.conns[slot] = c
	s.conns[c.id] = c
	s.count(&s.stats.Connects, "connects", 1)

	if g.recovering {
		c.reply = reply
		if resuming {
			c.reported = true
			c.report = h.LastConfirmedTick
		}
		s.groupLogger(g).Info().
			Uint8("slot", uint8(slot)).
			Bool("reported", c.reported).
			Uint64("last_confirmed", uint64(c.report)).
			Msg("connection waiting for session to resume")
		return
	}
	s.admit(g, c, reply, 0)
}

func (s *Sequencer) newGroup(ctx context.Context, h protocol.Hello, now time.Time) (*group, error) {
	g := &group{
		key:        protocol.GroupKeyOf(h.VersionID),
		version:    h.VersionID,
		session:    uuid.NewString(),
		conns:      make(map[protocol.Slot]*conn),
		pending:    make(map[protocol.Tick]*tickBuffer),
		deadline:   s.cfg.NewDeadlinePolicy(),
		nextClose:  1,
		lowerBound: 1,
		outdated:   s.latest != "" && s.latest != h.VersionID,
	}
	// An unknown session that clients resume means the relay restarted under them.
	if h.Resuming && h.SessionID != "" {
		g.session = h.SessionID
		g.recovering = true
		g.recoverUntil = now.Add(s.cfg.RecoveryGrace)
	}

	store, err := s.storage(ctx, g.storeKey())
	if err != nil {
		return nil, eris.Wrap(err, "failed to open session storage")
	}
	tail, err := store.Log.Tail(ctx)
	if err != nil {
		return nil, eris.Wrap(err, "failed to read cold log tail")
	}
	g.store = store
	g.hot = msglog.NewLog(tail)
	s.groups[g.key] = g

	s.groupLogger(g).Info().
		Str("version", string(g.version)).
		Bool("recovering", g.recovering).
		Uint64("position", tail).
		Msg("version group opened")
	return g, nil
}

// abandon removes a group that has not started. Its connections are told to reconnect.
func (s *Sequencer) abandon(g *group, reason string) {
	for _, slot := range slices.Sorted(maps.Keys(g.conns)) {
		c := g.conns[slot]
		delete(s.conns, c.id)
		if c.nonce != "" {
			s.hellos.Del([]byte(c.nonce))
		}
		s.emit(Outbound{Target: TargetConn, Group: g.key, ConnID: c.id, Message: protocol.Disconnect{Slot: c.slot, ConnID: c.id}})
		s.count(&s.stats.Disconnects, "disconnects", 1)
	}
	if err := g.store.Close(); err != nil {
		s.groupLogger(g).Warn().Err(err).Msg("failed to close session storage")
	}
	delete(s.groups, g.key)
	s.groupLogger(g).Info().Int("conns", len(g.conns)).Str("reason", reason).Msg("version group abandoned")
}

// admit records the connection and sends its Welcome.
func (s *Sequencer) admit(g *group, c *conn, reply string, resume protocol.Tick) {
	if _, err := g.hot.Append(msglog.ConnectionEntry(g.clock, msglog.ConnectionEvent{
		Slot:        c.slot,
		Connected:   true,
		VersionID:   g.version,
		ConnID:      c.id,
		DisplayName: c.displayName,
	})); err != nil {
		s.groupLogger(g).Warn().Err(err).Msg("failed to log connection")
	}

	w := protocol.Welcome{
		Slot:          c.slot,
		Group:         g.key,
		SessionID:     g.session,
		ConnID:        c.id,
		ResumeTick:    resume,
		LiveTick:      g.clock,
		TickRate:      s.cfg.TickRate,
		DeadlineTicks: g.deadline.Window(),
	}
	if c.nonce != "" {
		if err := s.hellos.Set([]byte(c.nonce), protocol.Encode(w), int(s.cfg.HelloTTL.Seconds())); err != nil {
			s.log.Warn().Err(err).Msg("failed to cache welcome")
		}
	}
	s.emit(Outbound{Target: TargetReply, Reply: reply, Message: w})
	if g.outdated {
		s.emit(Outbound{Target: TargetConn, Group: g.key, ConnID: c.id, Message: protocol.UpdateRequired{VersionID: s.latest}})
	}

	s.groupLogger(g).Info().
		Uint8("slot", uint8(c.slot)).
		Str("conn", c.id).
		Str("name", c.displayName).
		Uint64("live_tick", uint64(g.clock)).
		Msg("connection admitted")
}

// Disconnect frees the connection's slot. The slot is no longer expected from the next closed
// tick on, and any input it sent for open ticks is discarded.
func (s *Sequencer) Disconnect(connID string, reason string) {
	c, ok := s.conns[connID]
	if !ok {
		return
	}
	g := c.group
	delete(s.conns, connID)
	g.releaseSlot(c.slot)
	if c.nonce != "" {
		s.hellos.Del([]byte(c.nonce))
	}
	s.count(&s.stats.Disconnects, "disconnects", 1)

	if !g.recovering {
		if _, err := g.hot.Append(msglog.ConnectionEntry(g.clock, msglog.ConnectionEvent{
			Slot:      c.slot,
			VersionID: g.version,
			ConnID:    c.id,
		})); err != nil {
			s.groupLogger(g).Warn().Err(err).Msg("failed to log disconnection")
		}
	}
	s.groupLogger(g).Info().Uint8("slot", uint8(c.slot)).Str("conn", connID).Str("reason", reason).
		Msg("connection closed")
}

// Ping keeps a connection alive and is echoed back to it.
func (s *Sequencer) Ping(connID string, p protocol.Ping, now time.Time) {
	c, ok := s.touch(connID, now)
	if !ok {
		return
	}
	s.emit(Outbound{Target: TargetConn, Group: c.group.key, ConnID: c.id, Message: p})
}

func (s *Sequencer) touch(connID string, now time.Time) (*conn, bool) {
	c, ok := s.conns[connID]
	if !ok {
		return nil, false
	}
	c.lastSeen = now
	return c, true
}

// AnnounceVersion marks v as the newest simulation version. Every connection of another group is
// told to update; they keep being served.
func (s *Sequencer) AnnounceVersion(v protocol.VersionID) {
	s.latest = v
	for _, key := range slices.Sorted(maps.Keys(s.groups)) {
		g := s.groups[key]
		g.outdated = g.version != v
		if g.outdated {
			s.emit(Outbound{Target: TargetGroup, Group: g.key, Message: protocol.UpdateRequired{VersionID: v}})
		}
	}
	s.log.Info().Str("version", string(v)).Msg("new version announced")
}

// -------------------------------------------------------------------------------------------------
// Gameplay
// -------------------------------------------------------------------------------------------------

// Input buffers an input for its tick. Inputs for closed ticks are late and discarded; the first
// input of a slot for a tick wins.
func (s *Sequencer) Input(connID string, in protocol.Input, now time.Time) {
	c, ok := s.touch(connID, now)
	if !ok || c.group.recovering {
		s.count(&s.stats.DroppedInputs, "dropped_inputs", 1)
		return
	}
	g := c.group
	if in.Slot != c.slot {
		s.count(&s.stats.DroppedInputs, "dropped_inputs", 1)
		s.groupLogger(g).Debug().Uint8("slot", uint8(in.Slot)).Uint8("conn_slot", uint8(c.slot)).
			Msg("dropped input for another slot")
		return
	}

	g.deadline.Observe(in.Tick, g.clock)
	if in.Tick < g.nextClose {
		s.count(&s.stats.LateInputs, "late_inputs", 1)
		s.groupLogger(g).Debug().Uint64("tick", uint64(in.Tick)).Uint8("slot", uint8(in.Slot)).
			Uint64("next_close", uint64(g.nextClose)).Msg("late input")
		return
	}
	if in.Tick > g.clock+protocol.Tick(s.cfg.MaxLeadTicks) {
		s.count(&s.stats.DroppedInputs, "dropped_inputs", 1)
		return
	}
	if !g.buffer(in.Tick).add(in.Slot, in.Payload) {
		s.count(&s.stats.DroppedInputs, "dropped_inputs", 1)
		return
	}
	if _, err := g.hot.Append(msglog.InputEntry(in)); err != nil {
		s.groupLogger(g).Warn().Err(err).Msg("failed to log input")
	}
}

// Checksum records a checksum and forwards it to the group.
func (s *Sequencer) Checksum(connID string, cs protocol.Checksum, now time.Time) {
	c, ok := s.touch(connID, now)
	if !ok || c.group.recovering || cs.Slot != c.slot {
		return
	}
	g := c.group
	if _, err := g.hot.Append(msglog.ChecksumEntry(cs)); err != nil {
		if eris.Is(err, msglog.ErrDuplicate) {
			return
		}
		s.groupLogger(g).Debug().Err(err).Msg("checksum not logged")
	}
	s.count(&s.stats.Checksums, "checksums", 1)
	s.emit(Outbound{Target: TargetGroup, Group: g.key, Message: cs})
}

// Tick advances the clock of every active group by one tick and closes the ticks whose deadline
// passed. It also resumes recovering groups whose grace period ended and drops silent
// connections.
func (s *Sequencer) Tick(now time.Time) {
	for _, key := range slices.Sorted(maps.Keys(s.groups)) {
		g := s.groups[key]
		if g.recovering {
			if !now.Before(g.recoverUntil) {
				s.resume(g)
			}
			continue
		}

		s.sweep(g, now)
		if len(g.conns) == 0 {
			continue
		}

		g.clock++
		for g.nextClose+protocol.Tick(g.deadline.Window()) <= g.clock {
			s.closeTick(g)
		}
		if g.hotEntries() > s.cfg.HotMaxEntries {
			s.requestCompaction(g, "hot_ceiling")
		}
	}
}

func (s *Sequencer) sweep(g *group, now time.Time) {
	for _, slot := range slices.Sorted(maps.Keys(g.conns)) {
		c := g.conns[slot]
		if now.Sub(c.lastSeen) > s.cfg.ConnTimeout {
			s.Disconnect(c.id, "timeout")
		}
	}
}

func (s *Sequencer) closeTick(g *group) {
	pkg, omitted := g.closeTick()
	if _, err := g.hot.Append(msglog.PackageEntry(pkg)); err != nil {
		s.groupLogger(g).Error().Err(err).Uint64("tick", uint64(pkg.Tick)).Msg("failed to log confirmed package")
	}
	s.count(&s.stats.TicksClosed, "ticks_closed", 1)
	s.count(&s.stats.Omissions, "omissions", omitted)
	s.emit(Outbound{Target: TargetGroup, Group: g.key, Message: pkg})
}

// resume ends the recovery of a group: the session continues after the smallest tick any
// reconnected client reported as confirmed.
func (s *Sequencer) resume(g *group) {
	var resume protocol.Tick
	first := true
	for _, slot := range slices.Sorted(maps.Keys(g.conns)) {
		c := g.conns[slot]
		if !c.reported {
			continue
		}
		if first || c.report < resume {
			resume = c.report
		}
		first = false
	}
	if first {
		s.groupLogger(g).Warn().Msg("no client reported a confirmed tick, restarting session from genesis")
	}

	g.recovering = false
	g.clock = resume
	g.nextClose = resume + 1
	g.lowerBound = resume + 1

	for _, slot := range slices.Sorted(maps.Keys(g.conns)) {
		c := g.conns[slot]
		s.admit(g, c, c.reply, resume)
		c.reply = ""
	}
	s.groupLogger(g).Info().Uint64("resume_tick", uint64(resume)).Int("conns", len(g.conns)).
		Msg("session resumed")

	// History before the restart only lives in the clients now.
	if resume > 0 {
		s.requestCompaction(g, "resumed")
	}
}

// -------------------------------------------------------------------------------------------------
// History and compaction
// -------------------------------------------------------------------------------------------------

// Backfill answers with the confirmed packages from b.FromTick on. When that range was already
// compacted the result only says so; the client has to load the snapshot and cold log first.
func (s *Sequencer) Backfill(connID string, b protocol.Backfill, reply string, now time.Time) {
	c, ok := s.touch(connID, now)
	if !ok || c.group.recovering {
		return
	}
	g := c.group
	s.count(&s.stats.Backfills, "backfills", 1)

	res := protocol.BackfillResult{LowerBound: g.lowerBound, LiveTick: g.nextClose - 1}
	if b.FromTick < g.lowerBound {
		res.Compacted = true
	} else {
		res.Packages = g.packagesSince(b.FromTick, s.cfg.BackfillMax)
	}
	s.respond(c, reply, res)

	if g.nextClose > b.FromTick && int(g.nextClose-b.FromTick) > s.cfg.BackfillCompactThreshold {
		s.requestCompaction(g, "backfill")
	}
}

func (s *Sequencer) requestCompaction(g *group, reason string) {
	if g.compactRequested {
		return
	}
	g.compactRequested = true
	s.emit(Outbound{Target: TargetGroup, Group: g.key, Message: protocol.CompactRequest{Reason: reason, LiveTick: g.nextClose - 1}})
	s.groupLogger(g).Info().Str("reason", reason).Int("hot_entries", g.hotEntries()).Msg("compaction requested")
}

// Compact moves every hot entry up to cm.Tick, followed by a snapshot marker, to the cold log.
// The hot lower bound advances once the flush completes. Compacting an already compacted tick
// only reports the current lower bound.
func (s *Sequencer) Compact(connID string, cm protocol.Compact, reply string, now time.Time) {
	c, ok := s.touch(connID, now)
	if !ok || c.group.recovering {
		return
	}
	g := c.group
	current := protocol.CompactResult{Tick: cm.Tick, LowerBound: g.lowerBound}

	switch {
	case cm.Tick < g.lowerBound:
		s.respond(c, reply, current)
		return
	case cm.Tick >= g.nextClose:
		s.groupLogger(g).Warn().Uint64("tick", uint64(cm.Tick)).Uint64("next_close", uint64(g.nextClose)).
			Msg("compaction of an open tick refused")
		s.respond(c, reply, current)
		return
	case g.inFlight:
		if cm.Tick <= g.flushTick {
			g.waiters = append(g.waiters, compactWaiter{connID: c.id, reply: reply, tick: cm.Tick})
			return
		}
		s.respond(c, reply, current)
		return
	}

	// Entries up to the hot floor were already cut by a flush that failed; retry it as is.
	if cm.Tick > g.hot.Floor() {
		if _, err := g.hot.Append(msglog.MarkerEntry(msglog.SnapshotMarker{Tick: cm.Tick, Ref: cm.SnapshotRef})); err != nil {
			s.groupLogger(g).Error().Err(err).Msg("failed to log snapshot marker")
			s.respond(c, reply, current)
			return
		}
		g.flushing = append(g.flushing, g.hot.Cut(cm.Tick)...)
		slices.SortFunc(g.flushing, func(a, b msglog.Entry) int { return cmp.Compare(a.Position, b.Position) })
		g.flushTick = cm.Tick
	}

	g.inFlight = true
	g.waiters = append(g.waiters, compactWaiter{connID: c.id, reply: reply, tick: cm.Tick})
	s.jobs = append(s.jobs, FlushJob{
		Group:   g.key,
		Session: g.session,
		Tick:    g.flushTick,
		Entries: slices.Clone(g.flushing),
		Log:     g.store.Log,
	})
}

// CompleteFlush reports the outcome of a FlushJob.
func (s *Sequencer) CompleteFlush(job FlushJob, err error) {
	g, ok := s.groups[job.Group]
	if !ok || g.session != job.Session {
		return
	}
	log := s.groupLogger(g)
	g.inFlight = false
	g.compactRequested = false
	waiters := g.waiters
	g.waiters = nil

	flushed := 0
	if err != nil {
		s.count(&s.stats.FlushFailures, "flush_failures", 1)
		log.Error().Err(err).Uint64("tick", uint64(job.Tick)).Int("entries", len(job.Entries)).
			Msg("failed to flush hot log, keeping entries for the next compaction")
	} else {
		flushed = len(job.Entries)
		g.flushing = nil
		g.lowerBound = job.Tick + 1
		s.count(&s.stats.Compactions, "compactions", 1)
		log.Info().Uint64("tick", uint64(job.Tick)).Int("entries", flushed).
			Uint64("lower_bound", uint64(g.lowerBound)).Msg("hot log compacted")
	}

	for _, w := range waiters {
		res := protocol.CompactResult{Tick: w.tick, LowerBound: g.lowerBound, Flushed: uint32(flushed)} //nolint:gosec // bounded by the hot ceiling
		if c, ok := s.conns[w.connID]; ok {
			s.respond(c, w.reply, res)
		} else if w.reply != "" {
			s.emit(Outbound{Target: TargetReply, Reply: w.reply, Message: res})
		}
	}
}

// -------------------------------------------------------------------------------------------------
// Status
// -------------------------------------------------------------------------------------------------

// SlotStatus describes one connection of a group.
type SlotStatus struct {
	Slot        protocol.Slot `json:"slot"`
	ConnID      string        `json:"conn_id"`
	DisplayName string        `json:"display_name,omitempty"`
}

// GroupStatus describes a version group.
type GroupStatus struct {
	Group      protocol.GroupKey  `json:"group"`
	Version    protocol.VersionID `json:"version"`
	Session    string             `json:"session"`
	Clock      protocol.Tick      `json:"clock"`
	NextClose  protocol.Tick      `json:"next_close"`
	LowerBound protocol.Tick      `json:"lower_bound"`
	Window     uint32             `json:"window"`
	HotEntries int                `json:"hot_entries"`
	Recovering bool               `json:"recovering"`
	Outdated   bool               `json:"outdated"`
	Slots      []SlotStatus       `json:"slots"`
}

// Groups describes every version group, ordered by key.
func (s *Sequencer) Groups() []GroupStatus {
	out := make([]GroupStatus, 0, len(s.groups))
	for _, key := range slices.Sorted(maps.Keys(s.groups)) {
		g := s.groups[key]
		st := GroupStatus{
			Group:      g.key,
			Version:    g.version,
			Session:    g.session,
			Clock:      g.clock,
			NextClose:  g.nextClose,
			LowerBound: g.lowerBound,
			Window:     g.deadline.Window(),
			HotEntries: g.hotEntries(),
			Recovering: g.recovering,
			Outdated:   g.outdated,
			Slots:      make([]SlotStatus, 0, len(g.conns)),
		}
		for _, slot := range slices.Sorted(maps.Keys(g.conns)) {
			c := g.conns[slot]
			st.Slots = append(st.Slots, SlotStatus{Slot: slot, ConnID: c.id, DisplayName: c.displayName})
		}
		out = append(out, st)
	}
	return out
}

// Close closes the storage of every group.
func (s *Sequencer) Close() error {
	var errs []error
	for _, key := range slices.Sorted(maps.Keys(s.groups)) {
		if err := s.groups[key].store.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if len(errs) > 0 {
		return eris.Wrapf(errs[0], "failed to close %d session stores", len(errs))
	}
	return nil
}
