package persist

import (
	"bytes"
	"context"
	"fmt"
	"math"
	"strconv"
	"sync"

	"github.com/argus-labs/lockstep/pkg/msglog"
	"github.com/argus-labs/lockstep/pkg/protocol"
	"github.com/argus-labs/lockstep/pkg/telemetry"
	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/rotisserie/eris"
	"github.com/rs/zerolog"
)

const (
	tickMetadataKey    = "tick"
	nextPositionHeader = "Lockstep-Next-Position"
)

// -------------------------------------------------------------------------------------------------
// Snapshots
// -------------------------------------------------------------------------------------------------

// JetStreamSnapshotStore keeps snapshots in a JetStream ObjectStore bucket shared by all sessions.
// The object name is the session's save key and the tick is kept in the object metadata, so
// StoredTick never downloads the blob.
type JetStreamSnapshotStore struct {
	os   jetstream.ObjectStore
	name string
}

var _ SnapshotStore = (*JetStreamSnapshotStore)(nil)

func NewJetStreamSnapshotStore(ctx context.Context, js jetstream.JetStream, bucket string, maxBytes uint64, key Key) (*JetStreamSnapshotStore, error) {
	if err := key.Validate(); err != nil {
		return nil, err
	}
	if maxBytes > math.MaxInt64 {
		return nil, eris.New("snapshot storage max bytes exceeds maximum int64 value")
	}

	bucketName := bucket + "_snapshots"
	osConfig := jetstream.ObjectStoreConfig{
		Bucket:   bucketName,
		MaxBytes: int64(maxBytes),
	}
	os, err := js.CreateObjectStore(ctx, osConfig)
	if err != nil {
		if eris.Is(err, jetstream.ErrBucketExists) {
			os, err = js.ObjectStore(ctx, bucketName)
			if err != nil {
				return nil, eris.Wrapf(err, "failed to get existing ObjectStore (bucket=%s)", bucketName)
			}
		} else {
			return nil, eris.Wrapf(err, "failed to create ObjectStore (bucket=%s, maxBytes=%d)",
				osConfig.Bucket, osConfig.MaxBytes)
		}
	}

	return &JetStreamSnapshotStore{os: os, name: key.SaveKey()}, nil
}

func (j *JetStreamSnapshotStore) StoredTick(ctx context.Context) (protocol.Tick, bool, error) {
	info, err := j.os.GetInfo(ctx, j.name)
	if err != nil {
		if eris.Is(err, jetstream.ErrObjectNotFound) {
			return 0, false, nil
		}
		return 0, false, eris.Wrap(err, "failed to get snapshot info")
	}
	tick, err := strconv.ParseUint(info.Metadata[tickMetadataKey], 10, 64)
	if err != nil {
		return 0, false, eris.Wrapf(err, "snapshot %s has no valid tick metadata", j.name)
	}
	return protocol.Tick(tick), true, nil
}

func (j *JetStreamSnapshotStore) Put(ctx context.Context, snap Snapshot) error {
	meta := jetstream.ObjectMeta{
		Name:     j.name,
		Metadata: map[string]string{tickMetadataKey: strconv.FormatUint(uint64(snap.Tick), 10)},
	}
	// Overwrites the existing snapshot if any.
	if _, err := j.os.Put(ctx, meta, bytes.NewReader(snap.Data)); err != nil {
		return eris.Wrap(err, "failed to store snapshot in ObjectStore")
	}
	return nil
}

func (j *JetStreamSnapshotStore) Load(ctx context.Context) (Snapshot, error) {
	tick, ok, err := j.StoredTick(ctx)
	if err != nil {
		return Snapshot{}, err
	}
	if !ok {
		return Snapshot{}, ErrSnapshotNotFound
	}

	data, err := j.os.GetBytes(ctx, j.name)
	if err != nil {
		if eris.Is(err, jetstream.ErrObjectNotFound) {
			return Snapshot{}, ErrSnapshotNotFound
		}
		return Snapshot{}, eris.Wrap(err, "failed to get snapshot from ObjectStore")
	}
	return Snapshot{Tick: tick, Data: data}, nil
}

// -------------------------------------------------------------------------------------------------
// Cold log
// -------------------------------------------------------------------------------------------------

// JetStreamColdLog stores a session's cold log in a JetStream stream shared by all sessions, one
// subject per session. Each Append is one message holding a batch of framed entries. Messages are
// deduplicated by the position of their first entry and ordered with an expected last subject
// sequence, so a retried flush is never stored twice and two writers can't interleave.
type JetStreamColdLog struct {
	js      jetstream.JetStream
	stream  jetstream.Stream
	subject string
	msgID   string

	mu      sync.Mutex
	lastSeq uint64
	next    uint64
	log     zerolog.Logger
}

var _ ColdLog = (*JetStreamColdLog)(nil)

func NewJetStreamColdLog(ctx context.Context, js jetstream.JetStream, bucket string, key Key, tel *telemetry.Telemetry) (*JetStreamColdLog, error) {
	if err := key.Validate(); err != nil {
		return nil, err
	}

	streamName := bucket + "_log"
	subject := fmt.Sprintf("%s.log.%s.%s", bucket, protocol.GroupKeyOf(key.VersionID), key.SessionID)
	streamConfig := jetstream.StreamConfig{
		Name:      streamName,
		Subjects:  []string{bucket + ".log.>"},
		Retention: jetstream.LimitsPolicy,
		Storage:   jetstream.FileStorage,
		Replicas:  1,
	}

	logger := tel.GetLogger("coldlog")

	stream, err := js.Stream(ctx, streamName)
	if err != nil {
		if !eris.Is(err, jetstream.ErrStreamNotFound) {
			return nil, eris.Wrapf(err, "failed to get log stream %s", streamName)
		}
		logger.Debug().Str("stream", streamName).Msg("creating log stream")
		stream, err = js.CreateStream(ctx, streamConfig)
		if err != nil && !eris.Is(err, jetstream.ErrStreamNameAlreadyInUse) {
			return nil, eris.Wrapf(err, "failed to create log stream (name=%s, subjects=%v)",
				streamConfig.Name, streamConfig.Subjects)
		}
		if err != nil {
			// Another process created it first.
			if stream, err = js.Stream(ctx, streamName); err != nil {
				return nil, eris.Wrapf(err, "failed to get log stream %s", streamName)
			}
		}
	}

	j := &JetStreamColdLog{
		js:      js,
		stream:  stream,
		subject: subject,
		msgID:   key.SessionID,
		log:     logger,
	}

	last, err := stream.GetLastMsgForSubject(ctx, subject)
	switch {
	case err == nil:
		j.lastSeq = last.Sequence
		j.next, err = parseNextPosition(last)
		if err != nil {
			return nil, err
		}
	case eris.Is(err, jetstream.ErrMsgNotFound):
	default:
		return nil, eris.Wrap(err, "failed to read log tail")
	}
	return j, nil
}

func parseNextPosition(msg *jetstream.RawStreamMsg) (uint64, error) {
	next, err := strconv.ParseUint(msg.Header.Get(nextPositionHeader), 10, 64)
	if err != nil {
		return 0, eris.Wrapf(err, "log message %d has no valid %s header", msg.Sequence, nextPositionHeader)
	}
	return next, nil
}

func (j *JetStreamColdLog) Append(ctx context.Context, entries []msglog.Entry) error {
	if len(entries) == 0 {
		return nil
	}

	j.mu.Lock()
	defer j.mu.Unlock()

	next, err := checkBatch(j.next, entries)
	if err != nil {
		return err
	}

	var buf bytes.Buffer
	fw := msglog.NewFrameWriter(&buf)
	for _, e := range entries {
		if _, err := fw.WriteEntry(e); err != nil {
			return err
		}
	}

	msg := &nats.Msg{
		Subject: j.subject,
		Data:    buf.Bytes(),
		Header:  nats.Header{},
	}
	msg.Header.Set(nextPositionHeader, strconv.FormatUint(next, 10))

	opts := []jetstream.PublishOpt{
		jetstream.WithMsgID(fmt.Sprintf("%s-%d", j.msgID, entries[0].Position)),
	}
	if j.lastSeq > 0 {
		opts = append(opts, jetstream.WithExpectLastSequencePerSubject(j.lastSeq))
	}

	ack, err := j.js.PublishMsg(ctx, msg, opts...)
	if err != nil {
		return eris.Wrap(err, "failed to publish log batch")
	}
	if ack.Duplicate {
		j.log.Warn().Uint64("position", entries[0].Position).Msg("log batch was already stored")
	}

	j.lastSeq = ack.Sequence
	j.next = next
	j.log.Debug().
		Int("entries", len(entries)).
		Uint64("seq", ack.Sequence).
		Uint64("next", next).
		Msg("log batch stored")
	return nil
}

func (j *JetStreamColdLog) ReadAll(ctx context.Context, fn func(msglog.Entry) error) error {
	seq := uint64(1)
	for {
		msg, err := j.stream.GetMsg(ctx, seq, jetstream.WithGetMsgSubject(j.subject))
		if err != nil {
			if eris.Is(err, jetstream.ErrMsgNotFound) {
				return nil
			}
			return eris.Wrapf(err, "failed to read log message at %d", seq)
		}

		entries, err := msglog.ReadEntries(bytes.NewReader(msg.Data))
		if err != nil {
			return eris.Wrapf(err, "failed to decode log message %d", msg.Sequence)
		}
		for _, e := range entries {
			if err := fn(e); err != nil {
				return err
			}
		}
		seq = msg.Sequence + 1
	}
}

func (j *JetStreamColdLog) Tail(_ context.Context) (uint64, error) {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.next, nil
}
