package msglog

import (
	"encoding/hex"
	"fmt"
	"io"

	"github.com/argus-labs/lockstep/pkg/protocol"
	"github.com/goccy/go-json"
	"github.com/rotisserie/eris"
)

type dumpEntry struct {
	Position uint64         `json:"pos"`
	Kind     string         `json:"kind"`
	Tick     protocol.Tick  `json:"tick"`
	Slot     *protocol.Slot `json:"slot,omitempty"`
	Payload  string         `json:"payload,omitempty"`
	Group    string         `json:"group,omitempty"`
	Entries  []dumpSlot     `json:"entries,omitempty"`
	Hash     string         `json:"hash,omitempty"`

	Connected   *bool  `json:"connected,omitempty"`
	VersionID   string `json:"version_id,omitempty"`
	ConnID      string `json:"conn_id,omitempty"`
	DisplayName string `json:"display_name,omitempty"`
	Ref         string `json:"ref,omitempty"`
}

type dumpSlot struct {
	Slot    protocol.Slot `json:"slot"`
	Payload string        `json:"payload,omitempty"`
	Omitted bool          `json:"omitted,omitempty"`
}

func toDump(e Entry) dumpEntry {
	d := dumpEntry{Position: e.Position, Kind: e.Kind.String(), Tick: e.Tick}
	if slot, ok := e.Slot(); ok {
		d.Slot = &slot
	}
	switch e.Kind {
	case KindInput:
		d.Payload = hex.EncodeToString(e.Input.Payload)
	case KindConfirmedPackage:
		d.Group = string(e.Package.Group)
		d.Entries = make([]dumpSlot, 0, len(e.Package.Entries))
		for _, pe := range e.Package.Entries {
			d.Entries = append(d.Entries, dumpSlot{
				Slot:    pe.Slot,
				Payload: hex.EncodeToString(pe.Payload),
				Omitted: pe.Omitted,
			})
		}
	case KindChecksum:
		d.Hash = fmt.Sprintf("%016x", e.Checksum.Hash)
	case KindConnectionEvent:
		connected := e.Connection.Connected
		d.Connected = &connected
		d.VersionID = string(e.Connection.VersionID)
		d.ConnID = e.Connection.ConnID
		d.DisplayName = e.Connection.DisplayName
	case KindSnapshotMarker:
		d.Ref = e.Marker.Ref
	case KindUnknown:
	}
	return d
}

// WriteJSON writes entries as JSON lines, one object per entry, for humans and jq.
func WriteJSON(w io.Writer, entries []Entry) error {
	enc := json.NewEncoder(w)
	for _, e := range entries {
		if err := enc.Encode(toDump(e)); err != nil {
			return eris.Wrapf(err, "failed to encode entry %d", e.Position)
		}
	}
	return nil
}
