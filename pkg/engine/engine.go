// Package engine is the client side of lockstep: it keeps the authoritative state, advanced only
// by confirmed packages from the relay, and derives the latency state the player sees from it and
// the player's own unconfirmed inputs.
//
// An Engine is owned by one goroutine. Run drives it from a ticker; tests call Step directly.
package engine

import (
	"context"
	"errors"
	"maps"
	"slices"
	"time"

	"github.com/argus-labs/lockstep/pkg/msglog"
	"github.com/argus-labs/lockstep/pkg/persist"
	"github.com/argus-labs/lockstep/pkg/protocol"
	"github.com/argus-labs/lockstep/pkg/sim"
	"github.com/argus-labs/lockstep/pkg/telemetry"
	"github.com/argus-labs/lockstep/pkg/telemetry/sentry"
	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"github.com/rs/zerolog"
)

var (
	ErrNoWelcome  = eris.New("relay did not answer hello")
	ErrHistoryGap = eris.New("history between the stored snapshot and the relay hot buffer is missing")
	ErrNotJoined  = eris.New("engine has not joined a session")
)

const defaultTickRate = 60

// Frame is the result of one Step.
type Frame struct {
	// Last authoritative tick.
	Tick protocol.Tick
	// State is the latency state: the authoritative state plus the local unconfirmed inputs, up to
	// LatencyTick. The receiver owns it.
	State       sim.Simulation
	LatencyTick protocol.Tick
	// Render is false while catching up on a backlog or after a resync.
	Render bool
	// InputTick is the tick the step's local input was submitted for, 0 if it wasn't.
	InputTick protocol.Tick
	// UpdateRequired is set once the relay announced a newer version.
	UpdateRequired protocol.VersionID
}

// InputSource returns the local input for the next frame, nil for none.
type InputSource func() protocol.Payload

type Stats struct {
	Applied       uint64
	Backfills     uint64
	Rewinds       uint64
	Resyncs       uint64
	Drifts        uint64
	Compactions   uint64
	DroppedInputs uint64
	Starved       uint64
}

type Engine struct {
	opts Options
	tr   Transport
	tel  *telemetry.Telemetry
	base zerolog.Logger
	log  zerolog.Logger

	welcome   protocol.Welcome
	joined    bool
	tickDur   time.Duration
	store     *persist.Store
	compactor *persist.Compactor

	auth      *sim.Authority
	pending   map[protocol.Tick]protocol.ConfirmedPackage
	sent      map[protocol.Tick]protocol.Payload // own inputs, kept for a rollback window
	lastInput protocol.Tick
	drift     *Detector
	recording *msglog.Log

	rtt              time.Duration
	pingSeq          uint64
	lastPing         time.Time
	lastHeard        time.Time
	compactRequested bool
	updateRequired   protocol.VersionID

	stats  Stats
	frames chan Frame
}

// New creates an engine. It does nothing until Join.
func New(opts Options) (*Engine, error) {
	cfg, err := loadEngineConfig()
	if err != nil {
		return nil, err
	}
	options := newDefaultOptions()
	cfg.applyToOptions(&options)
	options.apply(opts)
	if err := options.validate(); err != nil {
		return nil, eris.Wrap(err, "invalid engine options")
	}

	tel := options.Telemetry
	if tel == nil {
		nop := telemetry.NewNop("engine")
		tel = &nop
	}
	base := tel.GetLogger("engine").With().Str("version", string(options.VersionID)).Logger()

	e := &Engine{
		opts:    options,
		tr:      options.Transport,
		tel:     tel,
		base:    base,
		log:     base,
		tickDur: time.Second / defaultTickRate,
		pending: make(map[protocol.Tick]protocol.ConfirmedPackage),
		sent:    make(map[protocol.Tick]protocol.Payload),
		drift:   NewDetector(0, options.DriftWindow),
		frames:  make(chan Frame, 1),
	}
	if options.Record {
		e.recording = msglog.NewLog(0)
	}
	return e, nil
}

// -------------------------------------------------------------------------------------------------
// Joining
// -------------------------------------------------------------------------------------------------

// Join connects to the relay and catches up before the first frame: it restores the stored
// snapshot, replays the cold log after it and backfills the rest from the relay's hot buffer.
func (e *Engine) Join(ctx context.Context) (protocol.Welcome, error) {
	w, err := e.hello(ctx, protocol.Hello{
		VersionID:   e.opts.VersionID,
		Secret:      e.opts.Secret,
		DisplayName: e.opts.DisplayName,
		Nonce:       uuid.NewString(),
	})
	if err != nil {
		return w, err
	}
	if err := e.welcomed(ctx, w); err != nil {
		return w, err
	}
	if err := e.sync(ctx); err != nil {
		return w, eris.Wrap(err, "failed to catch up")
	}
	e.joined = true
	e.log.Info().Uint64("tick", uint64(e.auth.Tick())).Uint64("live", uint64(w.LiveTick)).Msg("joined session")
	return w, nil
}

// hello retries with the same nonce, which the relay answers idempotently.
func (e *Engine) hello(ctx context.Context, h protocol.Hello) (protocol.Welcome, error) {
	for attempt := 1; ; attempt++ {
		start := time.Now()
		actx, cancel := context.WithTimeout(ctx, e.opts.HelloTimeout)
		w, err := e.tr.Hello(actx, h)
		cancel()
		if err == nil {
			return w, nil
		}
		if ctx.Err() != nil {
			return w, eris.Wrap(ctx.Err(), "hello abandoned")
		}
		if attempt >= e.opts.HelloAttempts {
			return w, eris.Wrapf(ErrNoWelcome, "after %d attempts: %v", attempt, err)
		}
		e.log.Warn().Err(err).Int("attempt", attempt).Msg("no welcome yet, retrying")
		// Fast failures (no responders) still wait out the attempt.
		select {
		case <-ctx.Done():
			return w, eris.Wrap(ctx.Err(), "hello abandoned")
		case <-time.After(time.Until(start.Add(e.opts.HelloTimeout))):
		}
	}
}

func (e *Engine) welcomed(ctx context.Context, w protocol.Welcome) error {
	prev := e.welcome
	e.welcome = w
	rate := w.TickRate
	if rate == 0 {
		rate = defaultTickRate
	}
	e.tickDur = time.Second / time.Duration(rate)
	e.lastHeard = e.opts.Clock()
	e.log = e.base.With().Str("session", w.SessionID).Uint8("slot", uint8(w.Slot)).Logger()

	if e.opts.Storage == nil || (e.store != nil && prev.SessionID == w.SessionID) {
		return nil
	}
	if e.store != nil {
		if err := e.store.Close(); err != nil {
			e.log.Warn().Err(err).Msg("failed to close previous session storage")
		}
	}
	key := persist.Key{VersionID: e.opts.VersionID, SessionID: w.SessionID}
	store, err := e.opts.Storage(ctx, key)
	if err != nil {
		return eris.Wrap(err, "failed to open session storage")
	}
	e.store = store
	e.compactor = persist.NewCompactor(persist.NewPublisher(store.Snapshots, e.tel), e.tr, key, e.opts.CompactInterval, e.tel)
	return nil
}

// sync rebuilds the authoritative state from durable storage and the relay. A compaction racing
// the catch-up leaves a gap, which is retried after a delay.
func (e *Engine) sync(ctx context.Context) error {
	for attempt := 1; ; attempt++ {
		err := e.syncOnce(ctx)
		if err == nil || !eris.Is(err, ErrHistoryGap) || attempt >= e.opts.SyncAttempts {
			return err
		}
		e.log.Warn().Err(err).Int("attempt", attempt).Msg("history gap, retrying catch-up")
		select {
		case <-ctx.Done():
			return eris.Wrap(ctx.Err(), "catch-up abandoned")
		case <-time.After(e.opts.SyncRetryDelay):
		}
	}
}

func (e *Engine) syncOnce(ctx context.Context) error {
	state, tick := e.opts.Factory(), protocol.Tick(0)
	if e.store != nil {
		var err error
		state, tick, err = persist.LoadLatest(ctx, e.store.Snapshots, e.opts.Factory, e.opts.Restore)
		if err != nil {
			return err
		}
		entries, err := persist.ReadEntries(ctx, e.store.Log)
		if err != nil {
			return err
		}
		res, err := msglog.Replay(entries, state, tick, msglog.WithRollbackWindow(e.opts.RollbackWindow))
		if err != nil {
			return eris.Wrap(err, "failed to replay cold log")
		}
		e.log.Debug().Uint64("snapshot", uint64(tick)).Uint64("cold", uint64(res.Trajectory.Last())).
			Msg("restored durable state")
		state, tick = res.State, res.Trajectory.Last()
	}

	e.auth = sim.NewAuthority(state, tick, e.opts.RollbackWindow)
	e.drift = NewDetector(e.welcome.Slot, e.opts.DriftWindow)
	e.dropPending()

	for {
		res, err := e.tr.Backfill(ctx, protocol.Backfill{FromTick: e.auth.Tick() + 1})
		if err != nil {
			return eris.Wrap(err, "backfill failed")
		}
		e.stats.Backfills++
		if res.Compacted {
			return eris.Wrapf(ErrHistoryGap, "at tick %d, relay keeps ticks from %d", e.auth.Tick(), res.LowerBound)
		}
		for _, p := range res.Packages {
			if p.Tick <= e.auth.Tick() {
				continue
			}
			if err := e.apply(ctx, p, false); err != nil {
				return err
			}
		}
		if len(res.Packages) == 0 || e.auth.Tick() >= res.LiveTick {
			break
		}
	}
	e.dropPending()
	return nil
}

// Resume reconnects after the relay went silent, e.g. because it restarted. The relay resumes
// the session from the lowest tick its members report. The engine rewinds to it, or resyncs when
// it is outside the rollback window, and sends its inputs for later ticks again.
func (e *Engine) Resume(ctx context.Context) error {
	if !e.joined {
		return ErrNotJoined
	}
	last := e.auth.Tick()
	w, err := e.hello(ctx, protocol.Hello{
		VersionID:         e.opts.VersionID,
		Secret:            e.opts.Secret,
		DisplayName:       e.opts.DisplayName,
		Nonce:             uuid.NewString(),
		Resuming:          true,
		SessionID:         e.welcome.SessionID,
		LastConfirmedTick: last,
		Slot:              e.welcome.Slot,
	})
	if err != nil {
		return err
	}
	sameSession := w.SessionID == e.welcome.SessionID
	if err := e.welcomed(ctx, w); err != nil {
		return err
	}

	// Anything queued before the Welcome came from the previous relay.
	e.discardInbox()
	clear(e.pending)

	resume := w.ResumeTick
	switch {
	case !sameSession || resume > last || (resume == 0 && last > 0):
		if err := e.resync(ctx, "resumed ahead of local state"); err != nil {
			return err
		}
	case resume < last:
		if err := e.auth.Rewind(resume); err != nil {
			if !eris.Is(err, sim.ErrBeyondWindow) {
				return err
			}
			if err := e.resync(ctx, "resume tick outside rollback window"); err != nil {
				return err
			}
		} else {
			e.stats.Rewinds++
		}
	}
	e.drift = NewDetector(w.Slot, e.opts.DriftWindow)

	resent := 0
	for _, t := range slices.Sorted(maps.Keys(e.sent)) {
		if t <= e.auth.Tick() {
			continue
		}
		if err := e.tr.Send(ctx, protocol.Input{Tick: t, Slot: w.Slot, Payload: e.sent[t]}); err != nil {
			e.log.Warn().Err(err).Uint64("tick", uint64(t)).Msg("failed to resend input")
			continue
		}
		resent++
	}
	e.log.Info().
		Uint64("resume", uint64(resume)).
		Uint64("was", uint64(last)).
		Uint64("tick", uint64(e.auth.Tick())).
		Int("resent", resent).
		Msg("session resumed")
	return nil
}

func (e *Engine) resync(ctx context.Context, reason string) error {
	e.stats.Resyncs++
	e.log.Warn().Str("reason", reason).Uint64("tick", uint64(e.auth.Tick())).Msg("resyncing authoritative state")
	return e.sync(ctx)
}

// -------------------------------------------------------------------------------------------------
// Stepping
// -------------------------------------------------------------------------------------------------

// Step runs one local tick:
//
//  1. apply the next confirmed package, or every queued one when catching up
//  2. submit input for the authoritative tick plus the input delay
//  3. derive the latency state from the authoritative state and the own unconfirmed inputs
//
// Checksums are computed and submitted as packages are applied.
func (e *Engine) Step(ctx context.Context, input protocol.Payload) (Frame, error) {
	if !e.joined {
		return Frame{}, ErrNotJoined
	}
	e.drainInbox()
	if err := e.fillGap(ctx); err != nil {
		return Frame{}, err
	}

	render := true
	backlog := e.backlog()
	n := min(backlog, 1)
	if backlog > e.opts.CatchUpThreshold {
		n, render = backlog, false
	}
	for range n {
		if err := ctx.Err(); err != nil {
			return Frame{}, eris.Wrap(err, "catch-up abandoned")
		}
		next := e.auth.Tick() + 1
		p := e.pending[next]
		delete(e.pending, next)
		if err := e.apply(ctx, p, true); err != nil {
			return Frame{}, err
		}
	}

	if d, ok := e.drift.Check(e.auth.Tick()); ok {
		if err := e.handleDrift(ctx, d); err != nil {
			return Frame{}, err
		}
		render = false
	}

	inputTick := e.submit(ctx, input)
	e.maybeCompact(ctx)
	e.prune()

	state, latencyTick := e.latency()
	return Frame{
		Tick:           e.auth.Tick(),
		State:          state,
		LatencyTick:    latencyTick,
		Render:         render,
		InputTick:      inputTick,
		UpdateRequired: e.updateRequired,
	}, nil
}

func (e *Engine) apply(ctx context.Context, p protocol.ConfirmedPackage, live bool) error {
	if err := e.auth.Apply(p); err != nil {
		return eris.Wrap(err, "failed to apply confirmed package")
	}
	e.stats.Applied++
	e.record(msglog.PackageEntry(p))

	if !live || p.Tick%protocol.Tick(e.opts.ChecksumInterval) != 0 {
		return nil
	}
	hash, err := sim.Hash(e.auth.State())
	if err != nil {
		return eris.Wrapf(err, "failed to hash tick %d", p.Tick)
	}
	slots := make([]protocol.Slot, len(p.Entries))
	for i, en := range p.Entries {
		slots[i] = en.Slot
	}
	e.drift.Own(p.Tick, hash, slots)

	cs := protocol.Checksum{Tick: p.Tick, Slot: e.welcome.Slot, Hash: hash}
	e.record(msglog.ChecksumEntry(cs))
	if err := e.tr.Send(ctx, cs); err != nil {
		e.log.Warn().Err(err).Uint64("tick", uint64(p.Tick)).Msg("failed to send checksum")
	}
	return nil
}

func (e *Engine) handleDrift(ctx context.Context, d Drift) error {
	e.stats.Drifts++
	err := eris.Wrap(ErrDeterminismDrift, d.String())
	e.log.Error().Err(err).
		Uint64("tick", uint64(d.Tick)).
		Uint64("own", d.Own).
		Uint64("majority", d.Majority).
		Int("reports", len(d.Reports)).
		Msg("determinism drift detected")
	e.tel.CaptureException(ctx, err,
		sentry.T("version", string(e.opts.VersionID)),
		sentry.T("session", e.welcome.SessionID))
	return e.resync(ctx, "determinism drift")
}

// submit sends the local input. Inputs are never sent twice for the same tick; when the
// authoritative state stalls the target moves ahead, up to the maximum input delay.
func (e *Engine) submit(ctx context.Context, input protocol.Payload) protocol.Tick {
	if input == nil {
		return 0
	}
	delay := InputDelay(e.rtt, e.tickDur, e.opts.MinInputDelay, e.opts.MaxInputDelay)
	tick := max(e.auth.Tick()+protocol.Tick(delay), e.lastInput+1)
	if tick > e.auth.Tick()+protocol.Tick(e.opts.MaxInputDelay) {
		e.stats.DroppedInputs++
		return 0
	}
	e.sent[tick] = input
	e.lastInput = tick
	if err := e.tr.Send(ctx, protocol.Input{Tick: tick, Slot: e.welcome.Slot, Payload: input}); err != nil {
		e.log.Warn().Err(err).Uint64("tick", uint64(tick)).Msg("failed to send input")
	}
	return tick
}

// latency steps a copy of the authoritative state through the own unconfirmed inputs. Other
// slots are never predicted.
func (e *Engine) latency() (sim.Simulation, protocol.Tick) {
	state := e.auth.State().Clone()
	tick := e.auth.Tick()
	for tick < e.lastInput {
		tick++
		p, ok := e.sent[tick]
		state.Step(tick, []protocol.Entry{{Slot: e.welcome.Slot, Payload: p, Omitted: !ok}})
	}
	return state, tick
}

func (e *Engine) maybeCompact(ctx context.Context) {
	tick := e.auth.Tick()
	if e.compactor == nil || tick == 0 {
		return
	}
	if !e.compactRequested && !e.compactor.Due(tick) {
		return
	}
	e.compactRequested = false

	snap, err := persist.TakeSnapshot(e.auth.State(), tick)
	if err != nil {
		e.log.Error().Err(err).Msg("failed to take snapshot")
		return
	}
	if _, err := e.compactor.Compact(ctx, snap); err != nil {
		e.log.Warn().Err(err).Uint64("tick", uint64(tick)).Msg("compaction failed")
		return
	}
	e.stats.Compactions++
}

func (e *Engine) prune() {
	window := protocol.Tick(e.opts.RollbackWindow)
	if e.auth.Tick() <= window {
		return
	}
	floor := e.auth.Tick() - window
	maps.DeleteFunc(e.sent, func(t protocol.Tick, _ protocol.Payload) bool { return t <= floor })
}

// InputDelay returns ceil(rtt / tick) + 1, clamped to [lo, hi].
func InputDelay(rtt, tick time.Duration, lo, hi uint32) uint32 {
	d := uint32(1)
	if rtt > 0 && tick > 0 {
		d += uint32((rtt + tick - 1) / tick) //nolint:gosec // small
	}
	return max(lo, min(d, hi))
}

// -------------------------------------------------------------------------------------------------
// Inbox
// -------------------------------------------------------------------------------------------------

func (e *Engine) drainInbox() {
	for {
		select {
		case m := <-e.tr.Inbox():
			e.receive(m)
		default:
			return
		}
	}
}

func (e *Engine) discardInbox() {
	for {
		select {
		case <-e.tr.Inbox():
		default:
			return
		}
	}
}

func (e *Engine) receive(m protocol.Message) {
	e.lastHeard = e.opts.Clock()
	switch m := m.(type) {
	case protocol.ConfirmedPackage:
		if m.Group == e.welcome.Group && m.Tick > e.Tick() {
			e.pending[m.Tick] = m
		}
	case protocol.Checksum:
		if m.Slot != e.welcome.Slot {
			e.drift.Peer(m)
			e.record(msglog.ChecksumEntry(m))
		}
	case protocol.Ping:
		e.observeRTT(e.opts.Clock().Sub(time.Unix(0, m.SentAt)))
	case protocol.CompactRequest:
		e.compactRequested = true
	case protocol.Disconnect:
		if m.ConnID == e.welcome.ConnID {
			e.log.Warn().Msg("relay dropped the connection")
			// Run resumes on its next pass.
			e.lastHeard = time.Time{}
		}
	case protocol.UpdateRequired:
		if e.updateRequired != m.VersionID {
			e.log.Warn().Str("latest", string(m.VersionID)).Msg("a newer version is available")
		}
		e.updateRequired = m.VersionID
	default:
		e.log.Debug().Str("kind", m.Kind().String()).Msg("ignored message")
	}
}

func (e *Engine) observeRTT(sample time.Duration) {
	if sample < 0 {
		return
	}
	if e.rtt == 0 {
		e.rtt = sample
		return
	}
	e.rtt += (sample - e.rtt) / 8
}

// backlog counts the queued packages that directly follow the authoritative tick.
func (e *Engine) backlog() int {
	n := 0
	for t := e.auth.Tick() + 1; ; t++ {
		if _, ok := e.pending[t]; !ok {
			return n
		}
		n++
	}
}

// fillGap backfills when queued packages don't follow the authoritative tick, e.g. after an
// inbox overflow.
func (e *Engine) fillGap(ctx context.Context) error {
	if len(e.pending) == 0 {
		return nil
	}
	if _, ok := e.pending[e.auth.Tick()+1]; ok {
		return nil
	}
	res, err := e.tr.Backfill(ctx, protocol.Backfill{FromTick: e.auth.Tick() + 1})
	if err != nil {
		e.log.Warn().Err(err).Msg("backfill failed, retrying next tick")
		return nil
	}
	e.stats.Backfills++
	if res.Compacted {
		return e.resync(ctx, "relay compacted past the local state")
	}
	for _, p := range res.Packages {
		if p.Tick > e.auth.Tick() {
			e.pending[p.Tick] = p
		}
	}
	return nil
}

func (e *Engine) dropPending() {
	maps.DeleteFunc(e.pending, func(t protocol.Tick, _ protocol.ConfirmedPackage) bool { return t <= e.auth.Tick() })
}

func (e *Engine) record(entry msglog.Entry) {
	if e.recording == nil {
		return
	}
	if _, err := e.recording.Append(entry); err != nil {
		e.log.Debug().Err(err).Msg("failed to record entry")
	}
}

// -------------------------------------------------------------------------------------------------
// Run loop
// -------------------------------------------------------------------------------------------------

// Run steps the engine every tick until ctx is done, publishing frames on Frames. It reconnects
// when the relay stays silent for the relay timeout.
func (e *Engine) Run(ctx context.Context, source InputSource) error {
	if !e.joined {
		return ErrNotJoined
	}
	defer e.tel.RecoverAndFlush(true)

	period := e.tickDur
	ticker := time.NewTicker(period)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}

		start := time.Now()
		now := e.opts.Clock()
		if now.Sub(e.lastHeard) > e.opts.RelayTimeout {
			e.log.Warn().Dur("silence", now.Sub(e.lastHeard)).Msg("relay is silent, resuming")
			if err := e.Resume(ctx); err != nil {
				if ctx.Err() != nil {
					return nil
				}
				return err
			}
		}
		e.ping(ctx, now)

		frame, err := e.Step(ctx, source())
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
		e.publish(frame)

		if elapsed := time.Since(start); elapsed > period {
			e.stats.Starved++
			e.log.Warn().Dur("elapsed", elapsed).Dur("period", period).Msg("step took longer than a tick")
		}
	}
}

func (e *Engine) ping(ctx context.Context, now time.Time) {
	if now.Sub(e.lastPing) < e.opts.PingInterval {
		return
	}
	e.lastPing = now
	e.pingSeq++
	if err := e.tr.Send(ctx, protocol.Ping{Seq: e.pingSeq, SentAt: now.UnixNano()}); err != nil {
		e.log.Debug().Err(err).Msg("failed to send ping")
	}
}

// publish replaces an unread frame so the renderer always gets the latest one.
func (e *Engine) publish(f Frame) {
	for {
		select {
		case e.frames <- f:
			return
		default:
		}
		select {
		case <-e.frames:
		default:
		}
	}
}

// Frames delivers the latest frame produced by Run.
func (e *Engine) Frames() <-chan Frame {
	return e.frames
}

// Leave compacts at the current tick, if storage is configured, and disconnects.
func (e *Engine) Leave(ctx context.Context) error {
	if e.joined && e.compactor != nil && e.auth.Tick() > e.compactor.Last() {
		e.compactRequested = true
		e.maybeCompact(ctx)
	}
	e.joined = false
	err := e.tr.Close()
	if e.store != nil {
		err = errors.Join(err, e.store.Close())
	}
	return err
}

// -------------------------------------------------------------------------------------------------
// Accessors
// -------------------------------------------------------------------------------------------------

// Tick returns the last authoritative tick.
func (e *Engine) Tick() protocol.Tick {
	if e.auth == nil {
		return 0
	}
	return e.auth.Tick()
}

// State returns the authoritative state, nil before Join. Callers must not mutate it.
func (e *Engine) State() sim.Simulation {
	if e.auth == nil {
		return nil
	}
	return e.auth.State()
}

func (e *Engine) Welcome() protocol.Welcome {
	return e.welcome
}

func (e *Engine) Stats() Stats {
	return e.stats
}

// InputDelay returns the current input delay in ticks.
func (e *Engine) InputDelay() uint32 {
	return InputDelay(e.rtt, e.tickDur, e.opts.MinInputDelay, e.opts.MaxInputDelay)
}

// Recording returns the recorded packages and checksums, nil unless Options.Record is set.
func (e *Engine) Recording() []msglog.Entry {
	if e.recording == nil {
		return nil
	}
	return e.recording.Entries()
}
