package msglog

import (
	"github.com/argus-labs/lockstep/pkg/protocol"
	"github.com/rotisserie/eris"
)

// AppendWire appends the wire encoding of e.
func (e Entry) AppendWire(b []byte) []byte {
	b = protocol.AppendUint(b, 1, e.Position)
	b = protocol.AppendUint(b, 2, uint64(e.Kind))
	b = protocol.AppendUint(b, 3, uint64(e.Tick))

	var body []byte
	switch e.Kind {
	case KindInput:
		body = e.Input.AppendWire(nil)
	case KindConfirmedPackage:
		body = e.Package.AppendWire(nil)
	case KindChecksum:
		body = e.Checksum.AppendWire(nil)
	case KindConnectionEvent:
		body = e.Connection.appendWire(nil)
	case KindSnapshotMarker:
		body = e.Marker.appendWire(nil)
	case KindUnknown:
	}
	return protocol.AppendBytes(b, 4, body)
}

// UnmarshalWire decodes an entry produced by AppendWire.
func (e *Entry) UnmarshalWire(b []byte) error {
	var body []byte
	err := protocol.Walk(b, func(f protocol.Field) (err error) {
		switch f.Num {
		case 1:
			e.Position, err = f.Uint()
		case 2:
			var k uint64
			k, err = f.Uint()
			e.Kind = Kind(k)
		case 3:
			e.Tick, err = f.Tick()
		case 4:
			body, err = f.Bytes()
		}
		return err
	})
	if err != nil {
		return eris.Wrap(err, "failed to decode entry")
	}

	switch e.Kind {
	case KindInput:
		err = e.Input.UnmarshalWire(body)
	case KindConfirmedPackage:
		err = e.Package.UnmarshalWire(body)
	case KindChecksum:
		err = e.Checksum.UnmarshalWire(body)
	case KindConnectionEvent:
		err = e.Connection.unmarshalWire(body)
	case KindSnapshotMarker:
		err = e.Marker.unmarshalWire(body)
	case KindUnknown:
		err = eris.Errorf("entry %d has unknown kind", e.Position)
	default:
		err = eris.Errorf("entry %d has unknown kind %d", e.Position, e.Kind)
	}
	return eris.Wrapf(err, "failed to decode %s entry", e.Kind)
}

// Marshal encodes e.
func Marshal(e Entry) []byte {
	return e.AppendWire(nil)
}

// Unmarshal decodes an entry.
func Unmarshal(b []byte) (Entry, error) {
	var e Entry
	err := e.UnmarshalWire(b)
	return e, err
}

func (c ConnectionEvent) appendWire(b []byte) []byte {
	b = protocol.AppendUint(b, 1, uint64(c.Slot))
	b = protocol.AppendBool(b, 2, c.Connected)
	b = protocol.AppendString(b, 3, string(c.VersionID))
	b = protocol.AppendString(b, 4, c.ConnID)
	return protocol.AppendString(b, 5, c.DisplayName)
}

func (c *ConnectionEvent) unmarshalWire(b []byte) error {
	return protocol.Walk(b, func(f protocol.Field) (err error) {
		switch f.Num {
		case 1:
			c.Slot, err = f.Slot()
		case 2:
			c.Connected, err = f.Bool()
		case 3:
			var v string
			v, err = f.Text()
			c.VersionID = protocol.VersionID(v)
		case 4:
			c.ConnID, err = f.Text()
		case 5:
			c.DisplayName, err = f.Text()
		}
		return err
	})
}

func (m SnapshotMarker) appendWire(b []byte) []byte {
	b = protocol.AppendUint(b, 1, uint64(m.Tick))
	return protocol.AppendString(b, 2, m.Ref)
}

func (m *SnapshotMarker) unmarshalWire(b []byte) error {
	return protocol.Walk(b, func(f protocol.Field) (err error) {
		switch f.Num {
		case 1:
			m.Tick, err = f.Tick()
		case 2:
			m.Ref, err = f.Text()
		}
		return err
	})
}
