package msglog_test

import (
	"testing"

	"github.com/argus-labs/lockstep/pkg/msglog"
	"github.com/argus-labs/lockstep/pkg/protocol"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestVersionIndexLookup(t *testing.T) {
	t.Parallel()

	log := msglog.NewLog(0)
	appendAll := func(entries ...msglog.Entry) {
		for _, e := range entries {
			_, err := log.Append(e)
			require.NoError(t, err)
		}
	}

	appendAll(
		msglog.ConnectionEntry(0, msglog.ConnectionEvent{Slot: 0, Connected: true, VersionID: "a"}), // 0
		input(1, 0), // 1
		msglog.ConnectionEntry(1, msglog.ConnectionEvent{Slot: 1, Connected: true, VersionID: "a"}), // 2
		input(2, 1), // 3
		msglog.ConnectionEntry(2, msglog.ConnectionEvent{Slot: 0, Connected: false, VersionID: "a"}), // 4
		input(3, 1), // 5
		msglog.ConnectionEntry(3, msglog.ConnectionEvent{Slot: 0, Connected: true, VersionID: "b"}), // 6
		input(4, 0), // 7
	)

	cases := []struct {
		pos     uint64
		slot    protocol.Slot
		version protocol.VersionID
		ok      bool
	}{
		{pos: 1, slot: 0, version: "a", ok: true},
		{pos: 1, slot: 1, ok: false},
		{pos: 3, slot: 1, version: "a", ok: true},
		{pos: 5, slot: 0, ok: false},
		{pos: 6, slot: 0, version: "b", ok: true},
		{pos: 7, slot: 0, version: "b", ok: true},
		{pos: 7, slot: 1, version: "a", ok: true},
	}
	for _, tc := range cases {
		v, ok := log.VersionAt(tc.pos, tc.slot)
		assert.Equal(t, tc.ok, ok, "pos %d slot %d", tc.pos, tc.slot)
		assert.Equal(t, tc.version, v, "pos %d slot %d", tc.pos, tc.slot)
	}

	// The index rebuilt from the log answers the same, even after the events were cut.
	rebuilt := msglog.RebuildVersionIndex(log.Entries())
	assert.Equal(t, 4, rebuilt.Points())
	for _, tc := range cases {
		v, ok := rebuilt.Lookup(tc.pos, tc.slot)
		assert.Equal(t, tc.ok, ok)
		assert.Equal(t, tc.version, v)
	}

	log.Cut(4)
	v, ok := log.VersionAt(7, 0)
	require.True(t, ok)
	assert.Equal(t, protocol.VersionID("b"), v)
}
