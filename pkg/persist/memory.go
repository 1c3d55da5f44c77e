package persist

import (
	"bytes"
	"context"
	"sync"

	"github.com/argus-labs/lockstep/pkg/msglog"
	"github.com/argus-labs/lockstep/pkg/protocol"
)

// MemorySnapshotStore keeps the snapshot in memory. Useful in tests and for a single process that
// hosts several participants.
type MemorySnapshotStore struct {
	mu   sync.Mutex
	snap *Snapshot
	puts int
}

var _ SnapshotStore = (*MemorySnapshotStore)(nil)

func NewMemorySnapshotStore() *MemorySnapshotStore {
	return &MemorySnapshotStore{}
}

func (m *MemorySnapshotStore) StoredTick(_ context.Context) (protocol.Tick, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.snap == nil {
		return 0, false, nil
	}
	return m.snap.Tick, true, nil
}

func (m *MemorySnapshotStore) Put(_ context.Context, snap Snapshot) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.snap = &Snapshot{Tick: snap.Tick, Data: bytes.Clone(snap.Data)}
	m.puts++
	return nil
}

func (m *MemorySnapshotStore) Load(_ context.Context) (Snapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.snap == nil {
		return Snapshot{}, ErrSnapshotNotFound
	}
	return Snapshot{Tick: m.snap.Tick, Data: bytes.Clone(m.snap.Data)}, nil
}

// Puts returns how many times the snapshot was written.
func (m *MemorySnapshotStore) Puts() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.puts
}

// MemoryColdLog keeps the cold log in memory.
type MemoryColdLog struct {
	mu      sync.Mutex
	entries []msglog.Entry
	next    uint64
}

var _ ColdLog = (*MemoryColdLog)(nil)

func NewMemoryColdLog() *MemoryColdLog {
	return &MemoryColdLog{}
}

func (m *MemoryColdLog) Append(_ context.Context, entries []msglog.Entry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	next, err := checkBatch(m.next, entries)
	if err != nil {
		return err
	}
	m.entries = append(m.entries, entries...)
	m.next = next
	return nil
}

func (m *MemoryColdLog) ReadAll(ctx context.Context, fn func(msglog.Entry) error) error {
	m.mu.Lock()
	entries := make([]msglog.Entry, len(m.entries))
	copy(entries, m.entries)
	m.mu.Unlock()

	for _, e := range entries {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := fn(e); err != nil {
			return err
		}
	}
	return nil
}

func (m *MemoryColdLog) Tail(_ context.Context) (uint64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.next, nil
}
