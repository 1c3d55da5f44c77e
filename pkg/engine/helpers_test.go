package engine_test

import (
	"context"
	"testing"
	"time"

	"github.com/argus-labs/lockstep/pkg/engine"
	"github.com/argus-labs/lockstep/pkg/protocol"
	"github.com/argus-labs/lockstep/pkg/sequencer"
	"github.com/argus-labs/lockstep/pkg/sim"
	"github.com/argus-labs/lockstep/pkg/sim/pong"
	"github.com/stretchr/testify/require"
)

const (
	testSecret  = "s3cret"
	testVersion = protocol.VersionID("pong-v1")
)

var epoch = time.Unix(1_700_000_000, 0)

// fixture is an in-process relay on a manual clock shared by the engines of a test.
type fixture struct {
	t       *testing.T
	cfg     sequencer.Config
	storage *sequencer.MemoryStorage
	hub     *sequencer.Local
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	cfg := sequencer.DefaultConfig(testSecret)
	// The manual clock covers minutes of play; connections never time out on it.
	cfg.ConnTimeout = 24 * time.Hour
	storage := sequencer.NewMemoryStorage()
	seq, err := sequencer.New(cfg, sequencer.WithStorage(storage.Open))
	require.NoError(t, err)
	return &fixture{t: t, cfg: cfg, storage: storage, hub: sequencer.NewLocal(seq, epoch)}
}

// restart replaces the relay, keeping its storage.
func (f *fixture) restart() {
	f.t.Helper()
	seq, err := sequencer.New(f.cfg, sequencer.WithStorage(f.storage.Open))
	require.NoError(f.t, err)
	f.hub.Restart(seq)
}

func (f *fixture) engine(opts engine.Options) *engine.Engine {
	f.t.Helper()
	opts.Transport = f.hub.Dial(4096)
	opts.Secret = testSecret
	if opts.VersionID == "" {
		opts.VersionID = testVersion
	}
	if opts.Factory == nil {
		opts.Factory = pong.Factory
	}
	opts.Restore = pong.Restore
	e, err := engine.New(opts)
	require.NoError(f.t, err)
	return e
}

func (f *fixture) join(opts engine.Options) *engine.Engine {
	f.t.Helper()
	e := f.engine(opts)
	_, err := e.Join(context.Background())
	require.NoError(f.t, err)
	return e
}

// round advances the relay one tick and steps every engine once, in order.
func (f *fixture) round(engines []*engine.Engine, input func(i int) protocol.Payload) []engine.Frame {
	f.t.Helper()
	f.hub.Tick()
	frames := make([]engine.Frame, len(engines))
	for i, e := range engines {
		frame, err := e.Step(context.Background(), input(i))
		require.NoError(f.t, err)
		frames[i] = frame
	}
	return frames
}

// slots returns the number of connections the relay knows.
func (f *fixture) slots() int {
	n := 0
	f.hub.Do(func(s *sequencer.Sequencer, _ time.Time) {
		for _, g := range s.Groups() {
			n += len(g.Slots)
		}
	})
	return n
}

func still(int) protocol.Payload { return pong.Encode(0) }

func hashOf(t *testing.T, s sim.Simulation) uint64 {
	t.Helper()
	h, err := sim.Hash(s)
	require.NoError(t, err)
	return h
}

// buggyGame is pong with a determinism bug: it nudges the ball at one tick.
type buggyGame struct {
	*pong.Game
	at protocol.Tick
}

func (g *buggyGame) Step(tick protocol.Tick, entries []protocol.Entry) {
	g.Game.Step(tick, entries)
	if tick == g.at {
		g.Ball.X++
	}
}

func (g *buggyGame) Clone() sim.Simulation {
	return &buggyGame{Game: g.Game.Clone().(*pong.Game), at: g.at}
}

// hookGame is pong that calls hook once its authoritative state reaches a tick.
type hookGame struct {
	*pong.Game
	at   protocol.Tick
	hook func()
}

func (g *hookGame) Step(tick protocol.Tick, entries []protocol.Entry) {
	g.Game.Step(tick, entries)
	if tick == g.at {
		g.hook()
	}
}

// Clone drops the hook so predictions never trigger it.
func (g *hookGame) Clone() sim.Simulation {
	return g.Game.Clone()
}
