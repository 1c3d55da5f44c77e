package protocol

import (
	"bytes"
	"math"

	"github.com/rotisserie/eris"
	"google.golang.org/protobuf/encoding/protowire"
)

// Messages are encoded as protobuf wire format without generated code: numbered fields, zero
// values omitted, unknown fields skipped. Adding a field never breaks older readers.

var ErrMalformed = eris.New("malformed message")

// Field is one decoded field. U holds varint and fixed values, B holds length-delimited content
// (aliasing the input buffer).
type Field struct {
	Num protowire.Number
	Typ protowire.Type
	U   uint64
	B   []byte
}

// Walk calls fn for every known-typed field in b.
func Walk(b []byte, fn func(Field) error) error {
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return eris.Wrap(ErrMalformed, protowire.ParseError(n).Error())
		}
		b = b[n:]

		f := Field{Num: num, Typ: typ}
		skip := false
		switch typ {
		case protowire.VarintType:
			f.U, n = protowire.ConsumeVarint(b)
		case protowire.Fixed64Type:
			f.U, n = protowire.ConsumeFixed64(b)
		case protowire.BytesType:
			f.B, n = protowire.ConsumeBytes(b)
		default:
			n = protowire.ConsumeFieldValue(num, typ, b)
			skip = true
		}
		if n < 0 {
			return eris.Wrapf(ErrMalformed, "field %d: %s", num, protowire.ParseError(n))
		}
		b = b[n:]

		if skip {
			continue
		}
		if err := fn(f); err != nil {
			return err
		}
	}
	return nil
}

// AppendUint appends a varint field, omitting zero.
func AppendUint(b []byte, num protowire.Number, v uint64) []byte {
	if v == 0 {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.VarintType)
	return protowire.AppendVarint(b, v)
}

// AppendBool appends a bool field, omitting false.
func AppendBool(b []byte, num protowire.Number, v bool) []byte {
	if !v {
		return b
	}
	return AppendUint(b, num, 1)
}

// AppendFixed appends a fixed64 field. Always written.
func AppendFixed(b []byte, num protowire.Number, v uint64) []byte {
	b = protowire.AppendTag(b, num, protowire.Fixed64Type)
	return protowire.AppendFixed64(b, v)
}

// AppendString appends a string field, omitting "".
func AppendString(b []byte, num protowire.Number, s string) []byte {
	if s == "" {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendString(b, s)
}

// AppendBytes appends a bytes field. Always written, even when empty.
func AppendBytes(b []byte, num protowire.Number, v []byte) []byte {
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendBytes(b, v)
}

func (f Field) expect(typ protowire.Type) error {
	if f.Typ != typ {
		return eris.Wrapf(ErrMalformed, "field %d: wire type %d, want %d", f.Num, f.Typ, typ)
	}
	return nil
}

// Uint returns a varint field value.
func (f Field) Uint() (uint64, error) {
	if err := f.expect(protowire.VarintType); err != nil {
		return 0, err
	}
	return f.U, nil
}

// Fixed returns a fixed64 field value.
func (f Field) Fixed() (uint64, error) {
	if err := f.expect(protowire.Fixed64Type); err != nil {
		return 0, err
	}
	return f.U, nil
}

// Tick returns a varint field as a Tick.
func (f Field) Tick() (Tick, error) {
	v, err := f.Uint()
	return Tick(v), err
}

// Slot returns a varint field as a Slot.
func (f Field) Slot() (Slot, error) {
	v, err := f.Uint()
	if err != nil {
		return 0, err
	}
	if v > math.MaxUint8 {
		return 0, eris.Wrapf(ErrMalformed, "slot %d out of range", v)
	}
	return Slot(v), nil
}

// Bool returns a varint field as a bool.
func (f Field) Bool() (bool, error) {
	v, err := f.Uint()
	return v != 0, err
}

// Text returns a bytes field as a string.
func (f Field) Text() (string, error) {
	if err := f.expect(protowire.BytesType); err != nil {
		return "", err
	}
	return string(f.B), nil
}

// Bytes returns a copy of a bytes field.
func (f Field) Bytes() ([]byte, error) {
	if err := f.expect(protowire.BytesType); err != nil {
		return nil, err
	}
	return bytes.Clone(f.B), nil
}
