package protocol

import (
	"github.com/rotisserie/eris"
	"google.golang.org/protobuf/encoding/protowire"
)

// Kind tags a message inside an Envelope.
type Kind uint8

const (
	KindUnknown Kind = iota
	KindHello
	KindWelcome
	KindInput
	KindConfirmedPackage
	KindChecksum
	KindUpdateRequired
	KindDisconnect
	KindPing
	KindBackfill
	KindBackfillResult
	KindCompactRequest
	KindCompact
	KindCompactResult
)

var kindNames = [...]string{
	KindUnknown:          "unknown",
	KindHello:            "hello",
	KindWelcome:          "welcome",
	KindInput:            "input",
	KindConfirmedPackage: "confirmed_package",
	KindChecksum:         "checksum",
	KindUpdateRequired:   "update_required",
	KindDisconnect:       "disconnect",
	KindPing:             "ping",
	KindBackfill:         "backfill",
	KindBackfillResult:   "backfill_result",
	KindCompactRequest:   "compact_request",
	KindCompact:          "compact",
	KindCompactResult:    "compact_result",
}

func (k Kind) String() string {
	if int(k) < len(kindNames) {
		return kindNames[k]
	}
	return kindNames[KindUnknown]
}

var ErrUnknownKind = eris.New("unknown message kind")

// Message is any value that can travel in an Envelope.
type Message interface {
	Kind() Kind
	AppendWire(b []byte) []byte
}

func (Hello) Kind() Kind            { return KindHello }
func (Welcome) Kind() Kind          { return KindWelcome }
func (Input) Kind() Kind            { return KindInput }
func (ConfirmedPackage) Kind() Kind { return KindConfirmedPackage }
func (Checksum) Kind() Kind         { return KindChecksum }
func (UpdateRequired) Kind() Kind   { return KindUpdateRequired }
func (Disconnect) Kind() Kind       { return KindDisconnect }
func (Ping) Kind() Kind             { return KindPing }
func (Backfill) Kind() Kind         { return KindBackfill }
func (BackfillResult) Kind() Kind   { return KindBackfillResult }
func (CompactRequest) Kind() Kind   { return KindCompactRequest }
func (Compact) Kind() Kind          { return KindCompact }
func (CompactResult) Kind() Kind    { return KindCompactResult }

// Encode wraps m in an Envelope.
func Encode(m Message) []byte {
	body := m.AppendWire(nil)
	b := make([]byte, 0, len(body)+8)
	b = AppendUint(b, 1, uint64(m.Kind()))
	return AppendBytes(b, 2, body)
}

// Decode unwraps an Envelope. The concrete message is returned by value.
func Decode(b []byte) (Message, error) {
	var kind Kind
	var body []byte
	err := Walk(b, func(f Field) error {
		switch f.Num {
		case 1:
			v, err := f.Uint()
			kind = Kind(v)
			return err
		case 2:
			if err := f.expect(protowire.BytesType); err != nil {
				return err
			}
			body = f.B
		}
		return nil
	})
	if err != nil {
		return nil, eris.Wrap(err, "failed to decode envelope")
	}
	m, err := decodeBody(kind, body)
	if err != nil {
		return nil, eris.Wrapf(err, "failed to decode %s", kind)
	}
	return m, nil
}

func decodeBody(kind Kind, body []byte) (Message, error) {
	switch kind {
	case KindHello:
		return decodeAs[Hello](body)
	case KindWelcome:
		return decodeAs[Welcome](body)
	case KindInput:
		return decodeAs[Input](body)
	case KindConfirmedPackage:
		return decodeAs[ConfirmedPackage](body)
	case KindChecksum:
		return decodeAs[Checksum](body)
	case KindUpdateRequired:
		return decodeAs[UpdateRequired](body)
	case KindDisconnect:
		return decodeAs[Disconnect](body)
	case KindPing:
		return decodeAs[Ping](body)
	case KindBackfill:
		return decodeAs[Backfill](body)
	case KindBackfillResult:
		return decodeAs[BackfillResult](body)
	case KindCompactRequest:
		return decodeAs[CompactRequest](body)
	case KindCompact:
		return decodeAs[Compact](body)
	case KindCompactResult:
		return decodeAs[CompactResult](body)
	case KindUnknown:
	}
	return nil, eris.Wrapf(ErrUnknownKind, "%d", kind)
}

func decodeAs[T Message, P interface {
	*T
	UnmarshalWire([]byte) error
}](body []byte) (Message, error) {
	var m T
	if err := P(&m).UnmarshalWire(body); err != nil {
		return nil, err
	}
	return m, nil
}
