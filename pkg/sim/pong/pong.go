// Package pong is a two-player pong simulation written for lockstep play. It is the reference
// simulation used by the tests and the command line tools.
//
// Slot 0 drives the left paddle and slot 1 the right paddle. Input payloads are a single int8
// paddle movement in [-127, 127]. Other slots are ignored.
package pong

import (
	"bytes"
	"encoding/binary"
	"io"
	"math"

	"github.com/argus-labs/lockstep/pkg/detmath"
	"github.com/argus-labs/lockstep/pkg/protocol"
	"github.com/argus-labs/lockstep/pkg/sim"
	"github.com/rotisserie/eris"
)

const (
	ArenaWidth       = 800.0
	ArenaHeight      = 500.0
	PaddleWidth      = 15.0
	PaddleHeight     = 80.0
	PaddleXOffset    = 30.0
	PaddleSpeed      = 400.0
	BallSize         = 12.0
	BallInitialSpeed = 300.0
	BallSpeedUp      = 25.0
	HitAngleFactor   = 0.5

	// TickRate is the number of steps per simulated second.
	TickRate = 60
	dt       = 1.0 / TickRate

	players = 2
)

// Game is the pong state.
type Game struct {
	Ball     detmath.Vec2
	Velocity detmath.Vec2
	Paddles  [players]float64 // y position of each paddle
	Score    [players]uint32
	Resets   uint32

	// lastMove is the most recent movement per paddle. Presentation only (paddle animation), so
	// it is excluded from hashes.
	lastMove [players]float64
}

var (
	_ sim.Simulation    = (*Game)(nil)
	_ sim.SectionHasher = (*Game)(nil)
)

// New returns a game at genesis.
func New() *Game {
	return &Game{
		Velocity: detmath.Vec2{X: 1, Y: 0.5}.Normalize().Scale(BallInitialSpeed),
	}
}

// Factory returns New as a sim.Factory.
func Factory() sim.Simulation { return New() }

// Encode returns the payload for a movement in [-1, 1].
func Encode(movement float64) protocol.Payload {
	m := detmath.Clamp(movement, -1, 1)
	return protocol.Payload{byte(int8(math.Round(m * 127)))}
}

// decode returns the movement carried by an entry, 0 when omitted or malformed.
func decode(e protocol.Entry) float64 {
	if e.Omitted || len(e.Payload) != 1 {
		return 0
	}
	return detmath.Clamp(float64(int8(e.Payload[0]))/127, -1, 1)
}

func paddleX(i int) float64 {
	if i == 0 {
		return -ArenaWidth/2 + PaddleXOffset
	}
	return ArenaWidth/2 - PaddleXOffset
}

// Step implements sim.Simulation.
func (g *Game) Step(_ protocol.Tick, entries []protocol.Entry) {
	var move [players]float64
	for _, e := range entries {
		if int(e.Slot) < players {
			move[e.Slot] = decode(e)
		}
	}
	g.lastMove = move

	g.movePaddles(move)
	g.Ball = g.Ball.Add(g.Velocity.Scale(dt))
	g.wallBounce()
	g.paddleBounce(move)
	g.checkScoring()
}

func (g *Game) movePaddles(move [players]float64) {
	maxY := (ArenaHeight - PaddleHeight) / 2
	for i := range g.Paddles {
		step := float64(float64(move[i]*PaddleSpeed) * dt)
		g.Paddles[i] = detmath.Clamp(g.Paddles[i]+step, -maxY, maxY)
	}
}

func (g *Game) wallBounce() {
	maxY := (ArenaHeight - BallSize) / 2
	if (g.Ball.Y >= maxY && g.Velocity.Y > 0) || (g.Ball.Y <= -maxY && g.Velocity.Y < 0) {
		g.Velocity.Y = -g.Velocity.Y
	}
}

func (g *Game) paddleBounce(move [players]float64) {
	const halfW, halfH, ballHalf = PaddleWidth / 2, PaddleHeight / 2, BallSize / 2

	for i := range g.Paddles {
		px, py := paddleX(i), g.Paddles[i]
		if detmath.Abs(g.Ball.X-px) >= halfW+ballHalf || detmath.Abs(g.Ball.Y-py) >= halfH+ballHalf {
			continue
		}
		toward := g.Velocity.X > 0
		if px < 0 {
			toward = g.Velocity.X < 0
		}
		if !toward {
			continue
		}

		g.Velocity.X = -g.Velocity.X
		g.Velocity.Y = detmath.MulAdd(move[i], PaddleSpeed*HitAngleFactor, g.Velocity.Y)

		speed := g.Velocity.Length() + BallSpeedUp
		g.Velocity = g.Velocity.Normalize().Scale(speed)
	}
}

func (g *Game) checkScoring() {
	boundary := ArenaWidth/2 + BallSize

	var scorer int
	switch {
	case g.Ball.X < -boundary:
		scorer = 1
	case g.Ball.X > boundary:
		scorer = 0
	default:
		return
	}

	g.Score[scorer]++
	g.Resets++
	g.Ball = detmath.Vec2{}

	dir := detmath.Vec2{X: 1, Y: -0.5}
	if scorer == 0 {
		dir.X = -1
	}
	if g.Resets%2 == 0 {
		dir.Y = 0.5
	}
	g.Velocity = dir.Normalize().Scale(BallInitialSpeed)
}

// Clone implements sim.Simulation.
func (g *Game) Clone() sim.Simulation {
	c := *g
	return &c
}

func (g *Game) writeBall(w io.Writer) error {
	return detmath.NewStateWriter(w).
		Float64(g.Ball.X).Float64(g.Ball.Y).
		Float64(g.Velocity.X).Float64(g.Velocity.Y).
		Err()
}

func (g *Game) writePaddles(w io.Writer) error {
	sw := detmath.NewStateWriter(w)
	for _, y := range g.Paddles {
		sw.Float64(y)
	}
	return sw.Err()
}

func (g *Game) writeScore(w io.Writer) error {
	sw := detmath.NewStateWriter(w)
	for _, s := range g.Score {
		sw.Uint64(uint64(s))
	}
	return sw.Uint64(uint64(g.Resets)).Err()
}

// WriteHash implements sim.Simulation.
func (g *Game) WriteHash(w io.Writer) error {
	for _, sec := range g.HashSections() {
		if err := sec.Write(w); err != nil {
			return err
		}
	}
	return nil
}

// HashSections implements sim.SectionHasher.
func (g *Game) HashSections() []sim.Section {
	return []sim.Section{
		{Name: "ball", Write: g.writeBall},
		{Name: "paddles", Write: g.writePaddles},
		{Name: "score", Write: g.writeScore},
	}
}

// MarshalBinary implements sim.Simulation. The layout is the hash layout.
func (g *Game) MarshalBinary() ([]byte, error) {
	var buf bytes.Buffer
	if err := g.WriteHash(&buf); err != nil {
		return nil, eris.Wrap(err, "failed to encode game")
	}
	return buf.Bytes(), nil
}

const encodedSize = 8 * (4 + players + players + 1)

// Restore implements sim.Restorer.
func Restore(data []byte) (sim.Simulation, error) {
	if len(data) != encodedSize {
		return nil, eris.Errorf("pong state must be %d bytes, got %d", encodedSize, len(data))
	}
	next := func() uint64 {
		v := binary.LittleEndian.Uint64(data)
		data = data[8:]
		return v
	}
	f := func() float64 { return math.Float64frombits(next()) }

	g := &Game{}
	g.Ball = detmath.Vec2{X: f(), Y: f()}
	g.Velocity = detmath.Vec2{X: f(), Y: f()}
	for i := range g.Paddles {
		g.Paddles[i] = f()
	}
	for i := range g.Score {
		g.Score[i] = uint32(next()) //nolint:gosec // written from a uint32
	}
	g.Resets = uint32(next()) //nolint:gosec // written from a uint32
	return g, nil
}
