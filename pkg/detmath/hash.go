package detmath

import (
	"encoding/binary"
	"io"
	"math"

	"github.com/cespare/xxhash/v2"
)

// StateWriter encodes simulation values into a byte stream in a fixed little-endian layout, for
// hashing or serialization. The first write error is kept and later writes become no-ops.
type StateWriter struct {
	w   io.Writer
	buf [8]byte
	err error
}

func NewStateWriter(w io.Writer) *StateWriter {
	return &StateWriter{w: w}
}

func (s *StateWriter) write(b []byte) {
	if s.err != nil {
		return
	}
	_, s.err = s.w.Write(b)
}

func (s *StateWriter) Uint64(v uint64) *StateWriter {
	binary.LittleEndian.PutUint64(s.buf[:], v)
	s.write(s.buf[:])
	return s
}

func (s *StateWriter) Int64(v int64) *StateWriter {
	return s.Uint64(uint64(v)) //nolint:gosec // bit pattern is what we want
}

// Float64 writes the IEEE bits of v. All NaNs are written as one canonical pattern.
func (s *StateWriter) Float64(v float64) *StateWriter {
	if math.IsNaN(v) {
		return s.Uint64(0x7ff8000000000001)
	}
	return s.Uint64(math.Float64bits(v))
}

func (s *StateWriter) Bool(v bool) *StateWriter {
	if v {
		s.write([]byte{1})
	} else {
		s.write([]byte{0})
	}
	return s
}

// Bytes writes a length-prefixed byte slice.
func (s *StateWriter) Bytes(b []byte) *StateWriter {
	s.Uint64(uint64(len(b)))
	s.write(b)
	return s
}

func (s *StateWriter) Err() error {
	return s.err
}

// Hasher is anything that can write its simulation-relevant state.
type Hasher interface {
	WriteHash(w io.Writer) error
}

// Sum returns the 64-bit xxhash of everything h writes.
func Sum(h Hasher) (uint64, error) {
	d := xxhash.New()
	if err := h.WriteHash(d); err != nil {
		return 0, err
	}
	return d.Sum64(), nil
}
