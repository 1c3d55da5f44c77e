// Package sim defines what the lockstep core needs from a simulation, and Authority, the
// authoritative state holder shared by the tick engine and offline replay.
package sim

import (
	"io"

	"github.com/argus-labs/lockstep/pkg/detmath"
	"github.com/argus-labs/lockstep/pkg/protocol"
)

// Simulation is game logic driven only by confirmed input. Implementations must follow the rules
// in package detmath: Step must produce bit-identical results on every machine.
type Simulation interface {
	// Step advances the state by one tick. entries is the confirmed input for tick, in slot order,
	// with omitted slots marked.
	Step(tick protocol.Tick, entries []protocol.Entry)

	// Clone returns an independent deep copy.
	Clone() Simulation

	// WriteHash writes the simulation-relevant state. Presentation-only state is excluded.
	WriteHash(w io.Writer) error

	// MarshalBinary serializes the full state for snapshots.
	MarshalBinary() ([]byte, error)
}

// Factory returns a simulation at genesis (tick 0).
type Factory func() Simulation

// Restorer rebuilds a simulation from MarshalBinary output.
type Restorer func(data []byte) (Simulation, error)

// Section is a named part of the state, used to narrow down where two states differ.
type Section struct {
	Name  string
	Write func(w io.Writer) error
}

// SectionHasher is implemented by simulations that can hash parts of their state independently.
type SectionHasher interface {
	HashSections() []Section
}

// Hash returns the checksum of s.
func Hash(s Simulation) (uint64, error) {
	return detmath.Sum(s)
}

// SectionHashes hashes every section of s, or returns nil if s doesn't expose sections.
func SectionHashes(s Simulation) (map[string]uint64, error) {
	sh, ok := s.(SectionHasher)
	if !ok {
		return nil, nil
	}
	out := make(map[string]uint64)
	for _, sec := range sh.HashSections() {
		h, err := detmath.Sum(sectionWriter(sec.Write))
		if err != nil {
			return nil, err
		}
		out[sec.Name] = h
	}
	return out, nil
}

type sectionWriter func(w io.Writer) error

func (f sectionWriter) WriteHash(w io.Writer) error { return f(w) }
