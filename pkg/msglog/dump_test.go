package msglog_test

import (
	"bytes"
	"testing"

	"github.com/argus-labs/lockstep/pkg/msglog"
	"github.com/argus-labs/lockstep/pkg/protocol"
	"github.com/sebdah/goldie/v2"
	"github.com/stretchr/testify/require"
)

func TestWriteJSON(t *testing.T) {
	t.Parallel()

	log := msglog.NewLog(0)
	for _, e := range []msglog.Entry{
		msglog.ConnectionEntry(1, msglog.ConnectionEvent{
			Slot: 0, Connected: true, VersionID: "v1", ConnID: "c-a", DisplayName: "alice",
		}),
		msglog.InputEntry(protocol.Input{Tick: 1, Slot: 0, Payload: protocol.Payload{0x7f}}),
		msglog.PackageEntry(protocol.ConfirmedPackage{Tick: 1, Group: "abc", Entries: []protocol.Entry{
			{Slot: 0, Payload: protocol.Payload{0x7f}},
			{Slot: 1, Omitted: true},
		}}),
		msglog.ChecksumEntry(protocol.Checksum{Tick: 1, Slot: 1, Hash: 0xdeadbeef}),
		msglog.MarkerEntry(msglog.SnapshotMarker{Tick: 1, Ref: "sessions/v1/s/save"}),
	} {
		_, err := log.Append(e)
		require.NoError(t, err)
	}

	var buf bytes.Buffer
	require.NoError(t, msglog.WriteJSON(&buf, log.Entries()))

	g := goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
	g.Assert(t, "dump", buf.Bytes())
}
