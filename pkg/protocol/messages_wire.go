package protocol

import (
	"github.com/rotisserie/eris"
)

// Field numbers are part of the wire format. Never reuse a retired number.

func (m Input) AppendWire(b []byte) []byte {
	b = AppendUint(b, 1, uint64(m.Tick))
	b = AppendUint(b, 2, uint64(m.Slot))
	return AppendBytes(b, 3, m.Payload)
}

func (m *Input) UnmarshalWire(b []byte) error {
	return Walk(b, func(f Field) (err error) {
		switch f.Num {
		case 1:
			m.Tick, err = f.Tick()
		case 2:
			m.Slot, err = f.Slot()
		case 3:
			m.Payload, err = f.Bytes()
		}
		return err
	})
}

func (e Entry) AppendWire(b []byte) []byte {
	b = AppendUint(b, 1, uint64(e.Slot))
	if e.Omitted {
		return AppendBool(b, 3, true)
	}
	return AppendBytes(b, 2, e.Payload)
}

func (e *Entry) UnmarshalWire(b []byte) error {
	return Walk(b, func(f Field) (err error) {
		switch f.Num {
		case 1:
			e.Slot, err = f.Slot()
		case 2:
			e.Payload, err = f.Bytes()
		case 3:
			e.Omitted, err = f.Bool()
		}
		return err
	})
}

func (m ConfirmedPackage) AppendWire(b []byte) []byte {
	b = AppendUint(b, 1, uint64(m.Tick))
	b = AppendString(b, 2, string(m.Group))
	for _, e := range m.Entries {
		b = AppendBytes(b, 3, e.AppendWire(nil))
	}
	return b
}

func (m *ConfirmedPackage) UnmarshalWire(b []byte) error {
	err := Walk(b, func(f Field) error {
		switch f.Num {
		case 1:
			t, err := f.Tick()
			m.Tick = t
			return err
		case 2:
			g, err := f.Text()
			m.Group = GroupKey(g)
			return err
		case 3:
			raw, err := f.Bytes()
			if err != nil {
				return err
			}
			var e Entry
			if err := e.UnmarshalWire(raw); err != nil {
				return err
			}
			m.Entries = append(m.Entries, e)
		}
		return nil
	})
	if err != nil {
		return err
	}
	return m.Validate()
}

func (m Checksum) AppendWire(b []byte) []byte {
	b = AppendUint(b, 1, uint64(m.Tick))
	b = AppendUint(b, 2, uint64(m.Slot))
	return AppendFixed(b, 3, m.Hash)
}

func (m *Checksum) UnmarshalWire(b []byte) error {
	return Walk(b, func(f Field) (err error) {
		switch f.Num {
		case 1:
			m.Tick, err = f.Tick()
		case 2:
			m.Slot, err = f.Slot()
		case 3:
			m.Hash, err = f.Fixed()
		}
		return err
	})
}

func (m Hello) AppendWire(b []byte) []byte {
	b = AppendString(b, 1, string(m.VersionID))
	b = AppendString(b, 2, m.Secret)
	b = AppendString(b, 3, m.DisplayName)
	b = AppendString(b, 4, m.Nonce)
	b = AppendString(b, 5, m.SessionID)
	b = AppendUint(b, 6, uint64(m.LastConfirmedTick))
	b = AppendBool(b, 7, m.Resuming)
	return AppendUint(b, 8, uint64(m.Slot))
}

func (m *Hello) UnmarshalWire(b []byte) error {
	return Walk(b, func(f Field) (err error) {
		switch f.Num {
		case 1:
			var v string
			v, err = f.Text()
			m.VersionID = VersionID(v)
		case 2:
			m.Secret, err = f.Text()
		case 3:
			m.DisplayName, err = f.Text()
		case 4:
			m.Nonce, err = f.Text()
		case 5:
			m.SessionID, err = f.Text()
		case 6:
			m.LastConfirmedTick, err = f.Tick()
		case 7:
			m.Resuming, err = f.Bool()
		case 8:
			m.Slot, err = f.Slot()
		}
		return err
	})
}

func (m Welcome) AppendWire(b []byte) []byte {
	b = AppendUint(b, 1, uint64(m.Slot))
	b = AppendString(b, 2, string(m.Group))
	b = AppendString(b, 3, m.SessionID)
	b = AppendString(b, 4, m.ConnID)
	b = AppendUint(b, 5, uint64(m.ResumeTick))
	b = AppendUint(b, 6, uint64(m.LiveTick))
	b = AppendUint(b, 7, uint64(m.TickRate))
	return AppendUint(b, 8, uint64(m.DeadlineTicks))
}

func (m *Welcome) UnmarshalWire(b []byte) error {
	return Walk(b, func(f Field) (err error) {
		switch f.Num {
		case 1:
			m.Slot, err = f.Slot()
		case 2:
			var v string
			v, err = f.Text()
			m.Group = GroupKey(v)
		case 3:
			m.SessionID, err = f.Text()
		case 4:
			m.ConnID, err = f.Text()
		case 5:
			m.ResumeTick, err = f.Tick()
		case 6:
			m.LiveTick, err = f.Tick()
		case 7:
			m.TickRate, err = uint32Field(f)
		case 8:
			m.DeadlineTicks, err = uint32Field(f)
		}
		return err
	})
}

func (m UpdateRequired) AppendWire(b []byte) []byte {
	return AppendString(b, 1, string(m.VersionID))
}

func (m *UpdateRequired) UnmarshalWire(b []byte) error {
	return Walk(b, func(f Field) error {
		if f.Num != 1 {
			return nil
		}
		v, err := f.Text()
		m.VersionID = VersionID(v)
		return err
	})
}

func (m Disconnect) AppendWire(b []byte) []byte {
	b = AppendUint(b, 1, uint64(m.Slot))
	return AppendString(b, 2, m.ConnID)
}

func (m *Disconnect) UnmarshalWire(b []byte) error {
	return Walk(b, func(f Field) (err error) {
		switch f.Num {
		case 1:
			m.Slot, err = f.Slot()
		case 2:
			m.ConnID, err = f.Text()
		}
		return err
	})
}

func (m Ping) AppendWire(b []byte) []byte {
	b = AppendUint(b, 1, m.Seq)
	return AppendUint(b, 2, uint64(m.SentAt)) //nolint:gosec // round-trips through the cast below
}

func (m *Ping) UnmarshalWire(b []byte) error {
	return Walk(b, func(f Field) (err error) {
		switch f.Num {
		case 1:
			m.Seq, err = f.Uint()
		case 2:
			var v uint64
			v, err = f.Uint()
			m.SentAt = int64(v) //nolint:gosec // see AppendWire
		}
		return err
	})
}

func (m Backfill) AppendWire(b []byte) []byte {
	return AppendUint(b, 1, uint64(m.FromTick))
}

func (m *Backfill) UnmarshalWire(b []byte) error {
	return Walk(b, func(f Field) (err error) {
		if f.Num == 1 {
			m.FromTick, err = f.Tick()
		}
		return err
	})
}

func (m BackfillResult) AppendWire(b []byte) []byte {
	for _, p := range m.Packages {
		b = AppendBytes(b, 1, p.AppendWire(nil))
	}
	b = AppendBool(b, 2, m.Compacted)
	b = AppendUint(b, 3, uint64(m.LowerBound))
	return AppendUint(b, 4, uint64(m.LiveTick))
}

func (m *BackfillResult) UnmarshalWire(b []byte) error {
	return Walk(b, func(f Field) (err error) {
		switch f.Num {
		case 1:
			var raw []byte
			if raw, err = f.Bytes(); err != nil {
				return err
			}
			var p ConfirmedPackage
			if err = p.UnmarshalWire(raw); err != nil {
				return err
			}
			m.Packages = append(m.Packages, p)
		case 2:
			m.Compacted, err = f.Bool()
		case 3:
			m.LowerBound, err = f.Tick()
		case 4:
			m.LiveTick, err = f.Tick()
		}
		return err
	})
}

func (m CompactRequest) AppendWire(b []byte) []byte {
	b = AppendString(b, 1, m.Reason)
	return AppendUint(b, 2, uint64(m.LiveTick))
}

func (m *CompactRequest) UnmarshalWire(b []byte) error {
	return Walk(b, func(f Field) (err error) {
		switch f.Num {
		case 1:
			m.Reason, err = f.Text()
		case 2:
			m.LiveTick, err = f.Tick()
		}
		return err
	})
}

func (m Compact) AppendWire(b []byte) []byte {
	b = AppendUint(b, 1, uint64(m.Tick))
	return AppendString(b, 2, m.SnapshotRef)
}

func (m *Compact) UnmarshalWire(b []byte) error {
	return Walk(b, func(f Field) (err error) {
		switch f.Num {
		case 1:
			m.Tick, err = f.Tick()
		case 2:
			m.SnapshotRef, err = f.Text()
		}
		return err
	})
}

func (m CompactResult) AppendWire(b []byte) []byte {
	b = AppendUint(b, 1, uint64(m.Tick))
	b = AppendUint(b, 2, uint64(m.LowerBound))
	return AppendUint(b, 3, uint64(m.Flushed))
}

func (m *CompactResult) UnmarshalWire(b []byte) error {
	return Walk(b, func(f Field) (err error) {
		switch f.Num {
		case 1:
			m.Tick, err = f.Tick()
		case 2:
			m.LowerBound, err = f.Tick()
		case 3:
			m.Flushed, err = uint32Field(f)
		}
		return err
	})
}

func uint32Field(f Field) (uint32, error) {
	v, err := f.Uint()
	if err != nil {
		return 0, err
	}
	if v > 1<<32-1 {
		return 0, eris.Wrapf(ErrMalformed, "field %d: %d overflows uint32", f.Num, v)
	}
	return uint32(v), nil
}
