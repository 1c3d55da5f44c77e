package sim

import (
	"github.com/argus-labs/lockstep/pkg/protocol"
	"github.com/rotisserie/eris"
)

var (
	// ErrOutOfOrder is returned when a package doesn't follow the last applied tick.
	ErrOutOfOrder = eris.New("confirmed package out of order")
	// ErrBeyondWindow is returned when a rewind target is older than the retained checkpoints.
	ErrBeyondWindow = eris.New("rewind target outside rollback window")
)

type checkpoint struct {
	tick  protocol.Tick
	state Simulation
}

// Authority holds the authoritative state of one client. It only advances by applying confirmed
// packages in tick order. It keeps a ring of recent checkpoints so the state can be rewound
// when a restarted relay resumes from an earlier tick.
//
// Authority is not safe for concurrent use.
type Authority struct {
	state Simulation
	tick  protocol.Tick

	ring   []checkpoint
	head   int
	filled int
}

// NewAuthority wraps state, which must be the state after applying tick. window is the number of
// checkpoints retained for Rewind; 0 disables rewinding.
func NewAuthority(state Simulation, tick protocol.Tick, window int) *Authority {
	a := &Authority{ring: make([]checkpoint, window)}
	a.Reset(state, tick)
	return a
}

// Reset replaces the state wholesale (e.g. after loading a snapshot) and clears checkpoints.
func (a *Authority) Reset(state Simulation, tick protocol.Tick) {
	a.state = state
	a.tick = tick
	clear(a.ring)
	a.head, a.filled = 0, 0
	a.push()
}

// Tick returns the last applied tick.
func (a *Authority) Tick() protocol.Tick {
	return a.tick
}

// State returns the authoritative state. Callers must not mutate it; use Clone to derive.
func (a *Authority) State() Simulation {
	return a.state
}

// Apply steps the state with p, which must be for Tick()+1.
func (a *Authority) Apply(p protocol.ConfirmedPackage) error {
	if p.Tick != a.tick+1 {
		return eris.Wrapf(ErrOutOfOrder, "expected tick %d, got %d", a.tick+1, p.Tick)
	}
	a.state.Step(p.Tick, p.Entries)
	a.tick = p.Tick
	a.push()
	return nil
}

// Rewind restores the state as it was right after tick. Rewinding to the current tick is a
// no-op.
func (a *Authority) Rewind(tick protocol.Tick) error {
	if tick == a.tick {
		return nil
	}
	if tick > a.tick {
		return eris.Errorf("cannot rewind forward from %d to %d", a.tick, tick)
	}
	for i := range a.filled {
		idx := (a.head - 1 - i + 2*len(a.ring)) % len(a.ring)
		cp := a.ring[idx]
		if cp.tick != tick {
			continue
		}
		// Drop checkpoints newer than tick, they describe a future that is being recomputed.
		a.head = (idx + 1) % len(a.ring)
		a.filled -= i
		a.state = cp.state.Clone()
		a.tick = tick
		return nil
	}
	return eris.Wrapf(ErrBeyondWindow, "tick %d (current %d, window %d)", tick, a.tick, len(a.ring))
}

// CanRewind reports whether a checkpoint for tick is retained.
func (a *Authority) CanRewind(tick protocol.Tick) bool {
	if tick == a.tick {
		return true
	}
	for i := range a.filled {
		if a.ring[(a.head-1-i+2*len(a.ring))%len(a.ring)].tick == tick {
			return true
		}
	}
	return false
}

// ApplyOrRewind applies p, first rewinding when p is for a tick that was already applied.
func (a *Authority) ApplyOrRewind(p protocol.ConfirmedPackage) error {
	if p.Tick <= a.tick {
		if err := a.Rewind(p.Tick - 1); err != nil {
			return err
		}
	}
	return a.Apply(p)
}

func (a *Authority) push() {
	if len(a.ring) == 0 {
		return
	}
	a.ring[a.head] = checkpoint{tick: a.tick, state: a.state.Clone()}
	a.head = (a.head + 1) % len(a.ring)
	if a.filled < len(a.ring) {
		a.filled++
	}
}
