package sequencer_test

import (
	"context"
	"strconv"
	"testing"
	"time"

	"github.com/argus-labs/lockstep/pkg/protocol"
	"github.com/argus-labs/lockstep/pkg/sequencer"
	"github.com/stretchr/testify/require"
)

const testSecret = "s3cret"

var epoch = time.Unix(1_700_000_000, 0)

// harness drives a Sequencer on a manual clock and sorts what it emits.
type harness struct {
	t    *testing.T
	seq  *sequencer.Sequencer
	now  time.Time
	step time.Duration

	// Everything drained since the last take.
	out  []sequencer.Outbound
	jobs []sequencer.FlushJob

	replies int
}

func newHarness(t *testing.T, mutate ...func(*sequencer.Config)) *harness {
	t.Helper()
	cfg := sequencer.DefaultConfig(testSecret)
	for _, m := range mutate {
		m(&cfg)
	}
	return newHarnessWith(t, cfg)
}

func newHarnessWith(t *testing.T, cfg sequencer.Config, opts ...sequencer.Option) *harness {
	t.Helper()
	seq, err := sequencer.New(cfg, opts...)
	require.NoError(t, err)
	return &harness{t: t, seq: seq, now: epoch, step: cfg.TickDuration()}
}

func (h *harness) drain() {
	out, jobs := h.seq.Drain()
	h.out = append(h.out, out...)
	h.jobs = append(h.jobs, jobs...)
}

// take returns and forgets the drained messages.
func (h *harness) take() []sequencer.Outbound {
	h.drain()
	out := h.out
	h.out = nil
	return out
}

func (h *harness) nextReply() string {
	h.replies++
	return "reply-" + strconv.Itoa(h.replies)
}

// hello sends a Hello and returns the Welcome, failing if there is none.
func (h *harness) hello(hello protocol.Hello) protocol.Welcome {
	h.t.Helper()
	w, ok := h.tryHello(hello)
	require.True(h.t, ok, "no welcome for %+v", hello)
	return w
}

func (h *harness) tryHello(hello protocol.Hello) (protocol.Welcome, bool) {
	h.t.Helper()
	if hello.Secret == "" {
		hello.Secret = testSecret
	}
	reply := h.nextReply()
	h.seq.Hello(context.Background(), hello, reply, h.now)

	var welcome protocol.Welcome
	var found bool
	out := h.take()
	rest := out[:0]
	for _, o := range out {
		if w, ok := o.Message.(protocol.Welcome); ok && o.Target == sequencer.TargetReply && o.Reply == reply {
			welcome, found = w, true
			continue
		}
		rest = append(rest, o)
	}
	h.out = rest
	return welcome, found
}

func (h *harness) join(version protocol.VersionID, name string) protocol.Welcome {
	h.t.Helper()
	return h.hello(protocol.Hello{VersionID: version, DisplayName: name})
}

// tick advances one tick and returns the packages closed by it.
func (h *harness) tick() []protocol.ConfirmedPackage {
	h.now = h.now.Add(h.step)
	h.seq.Tick(h.now)
	h.drain()

	var pkgs []protocol.ConfirmedPackage
	rest := h.out[:0]
	for _, o := range h.out {
		if p, ok := o.Message.(protocol.ConfirmedPackage); ok && o.Target == sequencer.TargetGroup {
			pkgs = append(pkgs, p)
			continue
		}
		rest = append(rest, o)
	}
	h.out = rest
	return pkgs
}

// ticks advances n ticks and returns every closed package.
func (h *harness) ticks(n int) []protocol.ConfirmedPackage {
	var pkgs []protocol.ConfirmedPackage
	for range n {
		pkgs = append(pkgs, h.tick()...)
	}
	return pkgs
}

// until ticks until the group's clock reaches tick.
func (h *harness) until(group protocol.GroupKey, tick protocol.Tick) []protocol.ConfirmedPackage {
	h.t.Helper()
	var pkgs []protocol.ConfirmedPackage
	for h.status(group).Clock < tick {
		pkgs = append(pkgs, h.tick()...)
	}
	return pkgs
}

func (h *harness) input(w protocol.Welcome, tick protocol.Tick, payload ...byte) {
	h.seq.Input(w.ConnID, protocol.Input{Tick: tick, Slot: w.Slot, Payload: payload}, h.now)
}

func (h *harness) status(group protocol.GroupKey) sequencer.GroupStatus {
	h.t.Helper()
	for _, g := range h.seq.Groups() {
		if g.Group == group {
			return g
		}
	}
	h.t.Fatalf("unknown group %s", group)
	return sequencer.GroupStatus{}
}

// request calls fn with a fresh reply subject and returns the reply.
func (h *harness) request(fn func(reply string)) protocol.Message {
	h.t.Helper()
	reply := h.nextReply()
	fn(reply)
	out := h.take()
	var found protocol.Message
	rest := out[:0]
	for _, o := range out {
		if o.Target == sequencer.TargetReply && o.Reply == reply && found == nil {
			found = o.Message
			continue
		}
		rest = append(rest, o)
	}
	h.out = rest
	return found
}

func (h *harness) backfill(w protocol.Welcome, from protocol.Tick) protocol.BackfillResult {
	h.t.Helper()
	m := h.request(func(reply string) { h.seq.Backfill(w.ConnID, protocol.Backfill{FromTick: from}, reply, h.now) })
	res, ok := m.(protocol.BackfillResult)
	require.True(h.t, ok, "expected a backfill result, got %v", m)
	return res
}

// broadcasts returns the drained group messages of type T.
func broadcasts[T protocol.Message](h *harness) []T {
	h.drain()
	var out []T
	for _, o := range h.out {
		if m, ok := o.Message.(T); ok && o.Target == sequencer.TargetGroup {
			out = append(out, m)
		}
	}
	return out
}

func ticksOf(pkgs []protocol.ConfirmedPackage) []protocol.Tick {
	out := make([]protocol.Tick, len(pkgs))
	for i, p := range pkgs {
		out[i] = p.Tick
	}
	return out
}

func packageAt(t *testing.T, pkgs []protocol.ConfirmedPackage, tick protocol.Tick) protocol.ConfirmedPackage {
	t.Helper()
	for _, p := range pkgs {
		if p.Tick == tick {
			return p
		}
	}
	t.Fatalf("no package for tick %d", tick)
	return protocol.ConfirmedPackage{}
}
