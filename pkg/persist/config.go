package persist

import (
	"context"
	"strings"

	"github.com/argus-labs/lockstep/pkg/micro"
	"github.com/argus-labs/lockstep/pkg/telemetry"
	"github.com/caarlos0/env/v11"
	"github.com/rotisserie/eris"
)

// StorageType selects the backend of a Store.
type StorageType uint8

const (
	StorageTypeUndefined StorageType = iota
	StorageTypeNop
	StorageTypeMemory
	StorageTypeFile
	StorageTypeJetStream
)

const (
	nopStorageString       = "NOP"
	memoryStorageString    = "MEMORY"
	fileStorageString      = "FILE"
	jetStreamStorageString = "JETSTREAM"
	undefinedStorageString = "UNDEFINED"
)

func (s StorageType) String() string {
	switch s {
	case StorageTypeNop:
		return nopStorageString
	case StorageTypeMemory:
		return memoryStorageString
	case StorageTypeFile:
		return fileStorageString
	case StorageTypeJetStream:
		return jetStreamStorageString
	case StorageTypeUndefined:
		return undefinedStorageString
	default:
		return undefinedStorageString
	}
}

func (s StorageType) IsValid() bool {
	return s >= StorageTypeNop && s <= StorageTypeJetStream
}

func ParseStorageType(s string) (StorageType, error) {
	switch strings.ToUpper(s) {
	case nopStorageString:
		return StorageTypeNop, nil
	case memoryStorageString:
		return StorageTypeMemory, nil
	case fileStorageString:
		return StorageTypeFile, nil
	case jetStreamStorageString:
		return StorageTypeJetStream, nil
	default:
		return StorageTypeUndefined, eris.Errorf("invalid storage type: %s", s)
	}
}

// Config is the environment configuration of session storage.
type Config struct {
	// Storage backend: NOP, MEMORY, FILE or JETSTREAM.
	StorageType string `env:"PERSIST_STORAGE_TYPE" envDefault:"JETSTREAM"`

	// Root directory of the FILE backend.
	Dir string `env:"PERSIST_DIR" envDefault:".lockstep"`

	// Name prefix of the JetStream bucket and stream.
	Bucket string `env:"PERSIST_BUCKET" envDefault:"lockstep"`

	// Maximum bytes of the snapshot bucket, 0 for unlimited. Required by some NATS providers.
	MaxBytes uint64 `env:"PERSIST_MAX_BYTES" envDefault:"0"`

	// Size at which FILE log segments are rotated.
	SegmentBytes int64 `env:"PERSIST_SEGMENT_BYTES" envDefault:"67108864"`
}

// LoadConfig reads Config from the environment.
func LoadConfig() (Config, error) {
	cfg, err := env.ParseAs[Config]()
	if err != nil {
		return cfg, eris.Wrap(err, "failed to parse persist config")
	}
	return cfg, cfg.Validate()
}

func (cfg Config) Validate() error {
	st, err := ParseStorageType(cfg.StorageType)
	if err != nil {
		return err
	}
	if st == StorageTypeFile && cfg.Dir == "" {
		return eris.New("storage directory cannot be empty")
	}
	if st == StorageTypeJetStream && cfg.Bucket == "" {
		return eris.New("bucket cannot be empty")
	}
	if cfg.SegmentBytes < 0 {
		return eris.New("segment size cannot be negative")
	}
	return nil
}

// Store is the durable state of one session.
type Store struct {
	Snapshots SnapshotStore
	Log       ColdLog

	closer func() error
}

func (s *Store) Close() error {
	if s.closer == nil {
		return nil
	}
	return s.closer()
}

// Open opens the storage of a session. client is only required by the JETSTREAM backend.
func Open(ctx context.Context, cfg Config, key Key, client *micro.Client, tel *telemetry.Telemetry) (*Store, error) {
	if err := cfg.Validate(); err != nil {
		return nil, eris.Wrap(err, "invalid persist config")
	}
	if err := key.Validate(); err != nil {
		return nil, err
	}

	st, _ := ParseStorageType(cfg.StorageType)
	switch st {
	case StorageTypeNop:
		return &Store{Snapshots: NopSnapshotStore{}, Log: NopColdLog{}}, nil

	case StorageTypeMemory:
		return &Store{Snapshots: NewMemorySnapshotStore(), Log: NewMemoryColdLog()}, nil

	case StorageTypeFile:
		snaps, err := NewFileSnapshotStore(cfg.Dir, key)
		if err != nil {
			return nil, err
		}
		log, err := OpenFileColdLog(cfg.Dir, key, cfg.SegmentBytes)
		if err != nil {
			return nil, err
		}
		return &Store{Snapshots: snaps, Log: log, closer: log.Close}, nil

	case StorageTypeJetStream:
		if client == nil {
			return nil, eris.New("JETSTREAM storage requires a NATS client")
		}
		js, err := client.JetStream()
		if err != nil {
			return nil, err
		}
		snaps, err := NewJetStreamSnapshotStore(ctx, js, cfg.Bucket, cfg.MaxBytes, key)
		if err != nil {
			return nil, err
		}
		log, err := NewJetStreamColdLog(ctx, js, cfg.Bucket, key, tel)
		if err != nil {
			return nil, err
		}
		return &Store{Snapshots: snaps, Log: log}, nil

	case StorageTypeUndefined:
	}
	return nil, eris.Errorf("unsupported storage type %s", st)
}
