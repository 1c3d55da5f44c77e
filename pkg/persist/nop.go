package persist

import (
	"context"

	"github.com/argus-labs/lockstep/pkg/msglog"
	"github.com/argus-labs/lockstep/pkg/protocol"
)

// NopSnapshotStore stores nothing. It's used when persistence isn't needed (development, tests).
type NopSnapshotStore struct{}

var _ SnapshotStore = NopSnapshotStore{}

func (NopSnapshotStore) StoredTick(context.Context) (protocol.Tick, bool, error) {
	return 0, false, nil
}

func (NopSnapshotStore) Put(context.Context, Snapshot) error { return nil }

func (NopSnapshotStore) Load(context.Context) (Snapshot, error) {
	return Snapshot{}, ErrSnapshotNotFound
}

// NopColdLog discards everything appended to it.
type NopColdLog struct{}

var _ ColdLog = NopColdLog{}

func (NopColdLog) Append(context.Context, []msglog.Entry) error { return nil }

func (NopColdLog) ReadAll(context.Context, func(msglog.Entry) error) error { return nil }

func (NopColdLog) Tail(context.Context) (uint64, error) { return 0, nil }
