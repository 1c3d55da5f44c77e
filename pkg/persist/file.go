package persist

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"sync"

	"github.com/argus-labs/lockstep/pkg/assert"
	"github.com/argus-labs/lockstep/pkg/msglog"
	"github.com/argus-labs/lockstep/pkg/protocol"
	"github.com/cespare/xxhash/v2"
	"github.com/goccy/go-json"
	"github.com/rotisserie/eris"
)

const (
	dirPerm  = 0o750
	filePerm = 0o600

	segmentPrefix = "wal-"
)

// -------------------------------------------------------------------------------------------------
// Snapshots
// -------------------------------------------------------------------------------------------------

// FileSnapshotStore keeps the snapshot under a local directory. The blob is written to
// save.<tick>, then the save sidecar, which names the blob and records its tick and hash, is
// atomically renamed into place. A reader therefore only ever sees a complete snapshot.
type FileSnapshotStore struct {
	dir string // {root}/sessions/{version}/{session}
}

var _ SnapshotStore = (*FileSnapshotStore)(nil)

type snapshotMeta struct {
	Tick protocol.Tick `json:"tick"`
	File string        `json:"file"`
	Hash string        `json:"xxhash"`
}

func NewFileSnapshotStore(root string, key Key) (*FileSnapshotStore, error) {
	if err := key.Validate(); err != nil {
		return nil, err
	}
	dir := filepath.Join(root, filepath.FromSlash(key.Prefix()))
	if err := os.MkdirAll(dir, dirPerm); err != nil {
		return nil, eris.Wrapf(err, "failed to create snapshot directory %s", dir)
	}
	return &FileSnapshotStore{dir: dir}, nil
}

func (f *FileSnapshotStore) metaPath() string { return filepath.Join(f.dir, "save") }

func (f *FileSnapshotStore) readMeta() (snapshotMeta, bool, error) {
	raw, err := os.ReadFile(f.metaPath())
	if errors.Is(err, os.ErrNotExist) {
		return snapshotMeta{}, false, nil
	}
	if err != nil {
		return snapshotMeta{}, false, eris.Wrap(err, "failed to read snapshot metadata")
	}
	var meta snapshotMeta
	if err := json.Unmarshal(raw, &meta); err != nil {
		return snapshotMeta{}, false, eris.Wrap(err, "failed to decode snapshot metadata")
	}
	return meta, true, nil
}

func (f *FileSnapshotStore) StoredTick(_ context.Context) (protocol.Tick, bool, error) {
	meta, ok, err := f.readMeta()
	return meta.Tick, ok, err
}

func (f *FileSnapshotStore) Put(_ context.Context, snap Snapshot) error {
	prev, hadPrev, err := f.readMeta()
	if err != nil {
		return err
	}

	meta := snapshotMeta{
		Tick: snap.Tick,
		File: "save." + strconv.FormatUint(uint64(snap.Tick), 10),
		Hash: fmt.Sprintf("%016x", xxhash.Sum64(snap.Data)),
	}
	if err := writeFileAtomic(filepath.Join(f.dir, meta.File), snap.Data); err != nil {
		return eris.Wrap(err, "failed to write snapshot")
	}
	raw, err := json.Marshal(meta)
	if err != nil {
		return eris.Wrap(err, "failed to encode snapshot metadata")
	}
	if err := writeFileAtomic(f.metaPath(), raw); err != nil {
		return eris.Wrap(err, "failed to commit snapshot")
	}

	if hadPrev && prev.File != meta.File {
		_ = os.Remove(filepath.Join(f.dir, prev.File))
	}
	return nil
}

func (f *FileSnapshotStore) Load(_ context.Context) (Snapshot, error) {
	meta, ok, err := f.readMeta()
	if err != nil {
		return Snapshot{}, err
	}
	if !ok {
		return Snapshot{}, ErrSnapshotNotFound
	}
	data, err := os.ReadFile(filepath.Join(f.dir, meta.File))
	if err != nil {
		return Snapshot{}, eris.Wrapf(err, "failed to read snapshot %s", meta.File)
	}
	if got := fmt.Sprintf("%016x", xxhash.Sum64(data)); got != meta.Hash {
		return Snapshot{}, eris.Errorf("snapshot %s is corrupted (expected hash %s, got %s)",
			meta.File, meta.Hash, got)
	}
	return Snapshot{Tick: meta.Tick, Data: data}, nil
}

func writeFileAtomic(path string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".tmp-*")
	if err != nil {
		return err
	}
	defer func() { _ = os.Remove(tmp.Name()) }()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}

// -------------------------------------------------------------------------------------------------
// Cold log
// -------------------------------------------------------------------------------------------------

// FileColdLog is a segmented write-ahead log of framed entries. Segments are named wal-00000,
// wal-00001, ... and rotated once they exceed the configured size. A torn frame at the end of the
// last segment (a crash mid-append) is truncated away when the log is opened.
type FileColdLog struct {
	mu         sync.Mutex
	dir        string
	maxSegSize int64

	file    *os.File
	buf     *bufio.Writer
	fw      *msglog.FrameWriter
	segIdx  int
	segSize int64
	next    uint64
}

var _ ColdLog = (*FileColdLog)(nil)

const defaultSegmentSize = 64 << 20

// OpenFileColdLog opens (or creates) the log of key under root.
func OpenFileColdLog(root string, key Key, maxSegSize int64) (*FileColdLog, error) {
	if err := key.Validate(); err != nil {
		return nil, err
	}
	return OpenFileColdLogDir(filepath.Join(root, filepath.FromSlash(key.LogKey())), maxSegSize)
}

// OpenFileColdLogDir opens (or creates) a log in dir.
func OpenFileColdLogDir(dir string, maxSegSize int64) (*FileColdLog, error) {
	if err := os.MkdirAll(dir, dirPerm); err != nil {
		return nil, eris.Wrapf(err, "failed to create log directory %s", dir)
	}
	if maxSegSize <= 0 {
		maxSegSize = defaultSegmentSize
	}

	l := &FileColdLog{dir: dir, maxSegSize: maxSegSize}
	segments, err := findSegments(dir)
	if err != nil {
		return nil, err
	}
	if len(segments) > 0 {
		l.segIdx = segments[len(segments)-1]
	}
	if err := l.recover(segments); err != nil {
		return nil, err
	}
	if err := l.openSegment(l.segIdx); err != nil {
		return nil, err
	}
	return l, nil
}

func (l *FileColdLog) segmentPath(idx int) string {
	return filepath.Join(l.dir, fmt.Sprintf("%s%05d", segmentPrefix, idx))
}

// recover finds the next position and truncates a torn tail off the last segment.
func (l *FileColdLog) recover(segments []int) error {
	for i, idx := range segments {
		last := i == len(segments)-1
		valid, err := l.scanSegment(idx, last, func(e msglog.Entry) error {
			l.next = max(l.next, e.Position+1)
			return nil
		})
		if err != nil {
			return err
		}
		if last {
			if err := os.Truncate(l.segmentPath(idx), valid); err != nil {
				return eris.Wrapf(err, "failed to truncate torn tail of segment %d", idx)
			}
		}
	}
	return nil
}

// scanSegment reads every entry of a segment and returns the length of its valid prefix. A torn
// tail is only accepted in the last segment.
func (l *FileColdLog) scanSegment(idx int, last bool, fn func(msglog.Entry) error) (int64, error) {
	f, err := os.Open(l.segmentPath(idx))
	if err != nil {
		return 0, eris.Wrapf(err, "failed to open segment %d", idx)
	}
	defer func() { _ = f.Close() }()

	fr := msglog.NewFrameReader(bufio.NewReader(f))
	var valid int64
	for {
		data, err := fr.Next()
		switch {
		case err == nil:
		case errors.Is(err, io.EOF):
			return valid, nil
		case errors.Is(err, msglog.ErrTornTail) && last:
			return valid, nil
		default:
			return valid, eris.Wrapf(err, "segment %d", idx)
		}

		e, err := msglog.Unmarshal(data)
		if err != nil {
			return valid, eris.Wrapf(msglog.ErrCorrupted, "segment %d: %v", idx, err)
		}
		if err := fn(e); err != nil {
			return valid, err
		}
		valid += int64(len(data)) + 8
	}
}

func (l *FileColdLog) openSegment(idx int) error {
	f, err := os.OpenFile(l.segmentPath(idx), os.O_RDWR|os.O_CREATE|os.O_APPEND, filePerm)
	if err != nil {
		return eris.Wrapf(err, "failed to open segment %d", idx)
	}
	info, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return eris.Wrap(err, "failed to stat segment")
	}
	l.file = f
	l.buf = bufio.NewWriter(f)
	l.fw = msglog.NewFrameWriter(l.buf)
	l.segIdx = idx
	l.segSize = info.Size()
	return nil
}

func (l *FileColdLog) rotate() error {
	if err := l.sync(); err != nil {
		return err
	}
	if err := l.file.Close(); err != nil {
		return eris.Wrap(err, "failed to close segment")
	}
	return l.openSegment(l.segIdx + 1)
}

func (l *FileColdLog) sync() error {
	if err := l.buf.Flush(); err != nil {
		return eris.Wrap(err, "failed to flush log")
	}
	if err := l.file.Sync(); err != nil {
		return eris.Wrap(err, "failed to sync log")
	}
	return nil
}

func (l *FileColdLog) Append(_ context.Context, entries []msglog.Entry) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	next, err := checkBatch(l.next, entries)
	if err != nil {
		return err
	}
	idx, size := l.segIdx, l.segSize
	if err := l.write(entries); err != nil {
		if rerr := l.rollback(idx, size); rerr != nil {
			return errors.Join(err, rerr)
		}
		return err
	}
	assert.Monotonic(l.next, next, "log tail")
	l.next = next
	return nil
}

func (l *FileColdLog) write(entries []msglog.Entry) error {
	for _, e := range entries {
		if l.segSize >= l.maxSegSize {
			if err := l.rotate(); err != nil {
				return err
			}
		}
		n, err := l.fw.WriteEntry(e)
		if err != nil {
			return err
		}
		l.segSize += int64(n)
	}
	return l.sync()
}

// rollback drops whatever a failed append wrote after segment idx reached size bytes.
func (l *FileColdLog) rollback(idx int, size int64) error {
	_ = l.file.Close()
	segments, err := findSegments(l.dir)
	if err != nil {
		return err
	}
	for _, s := range segments {
		if s <= idx {
			continue
		}
		if err := os.Remove(l.segmentPath(s)); err != nil {
			return eris.Wrapf(err, "failed to remove segment %d", s)
		}
	}
	if err := os.Truncate(l.segmentPath(idx), size); err != nil {
		return eris.Wrapf(err, "failed to roll back segment %d", idx)
	}
	return l.openSegment(idx)
}

func (l *FileColdLog) ReadAll(ctx context.Context, fn func(msglog.Entry) error) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if err := l.buf.Flush(); err != nil {
		return eris.Wrap(err, "failed to flush log")
	}
	segments, err := findSegments(l.dir)
	if err != nil {
		return err
	}
	for i, idx := range segments {
		if err := ctx.Err(); err != nil {
			return err
		}
		if _, err := l.scanSegment(idx, i == len(segments)-1, fn); err != nil {
			return err
		}
	}
	return nil
}

func (l *FileColdLog) Tail(_ context.Context) (uint64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.next, nil
}

// Segments returns the number of segment files.
func (l *FileColdLog) Segments() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	segments, _ := findSegments(l.dir)
	return len(segments)
}

func (l *FileColdLog) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.file == nil {
		return nil
	}
	err := l.sync()
	if cerr := l.file.Close(); err == nil && cerr != nil {
		err = eris.Wrap(cerr, "failed to close log")
	}
	l.file = nil
	return err
}

func findSegments(dir string) ([]int, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, eris.Wrapf(err, "failed to list %s", dir)
	}
	var segments []int
	for _, entry := range entries {
		var idx int
		if n, _ := fmt.Sscanf(entry.Name(), segmentPrefix+"%05d", &idx); n == 1 {
			segments = append(segments, idx)
		}
	}
	sort.Ints(segments)
	return segments, nil
}
