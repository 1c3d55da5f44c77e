package engine

import (
	"time"

	"github.com/argus-labs/lockstep/pkg/protocol"
	"github.com/argus-labs/lockstep/pkg/sequencer"
	"github.com/argus-labs/lockstep/pkg/sim"
	"github.com/argus-labs/lockstep/pkg/telemetry"
	"github.com/caarlos0/env/v11"
	"github.com/rotisserie/eris"
)

// engineConfig holds the configuration read from the environment.
type engineConfig struct {
	// Version of the simulation build. Clients only ever share a session with the same version.
	VersionID string `env:"ENGINE_VERSION_ID"`

	// Shared secret the relay expects in Hello.
	Secret string `env:"ENGINE_SECRET"`

	DisplayName string `env:"ENGINE_DISPLAY_NAME"`

	// Bounds of the input delay in ticks, computed from the measured round trip time.
	MinInputDelay uint32 `env:"ENGINE_MIN_INPUT_DELAY" envDefault:"1"`
	MaxInputDelay uint32 `env:"ENGINE_MAX_INPUT_DELAY" envDefault:"30"`

	// Authoritative ticks between checksums.
	ChecksumInterval uint32 `env:"ENGINE_CHECKSUM_INTERVAL" envDefault:"30"`

	// Number of authoritative checkpoints kept for rewinding after a relay restart.
	RollbackWindow int `env:"ENGINE_ROLLBACK_WINDOW" envDefault:"256"`

	// Ticks to wait for peer checksums before deciding with the reports at hand.
	DriftWindow uint32 `env:"ENGINE_DRIFT_WINDOW" envDefault:"120"`

	// Ticks between periodic compactions, 0 disables them.
	CompactInterval uint64 `env:"ENGINE_COMPACT_INTERVAL_TICKS" envDefault:"1800"`

	// Backlog above which confirmed packages are applied without rendering.
	CatchUpThreshold int `env:"ENGINE_CATCH_UP_THRESHOLD" envDefault:"1"`

	HelloTimeout   time.Duration `env:"ENGINE_HELLO_TIMEOUT" envDefault:"2s"`
	HelloAttempts  int           `env:"ENGINE_HELLO_ATTEMPTS" envDefault:"5"`
	SyncAttempts   int           `env:"ENGINE_SYNC_ATTEMPTS" envDefault:"10"`
	SyncRetryDelay time.Duration `env:"ENGINE_SYNC_RETRY_DELAY" envDefault:"500ms"`
	PingInterval   time.Duration `env:"ENGINE_PING_INTERVAL" envDefault:"1s"`

	// Silence from the relay after which the engine reconnects and resumes.
	RelayTimeout time.Duration `env:"ENGINE_RELAY_TIMEOUT" envDefault:"3s"`
}

func loadEngineConfig() (engineConfig, error) {
	cfg, err := env.ParseAs[engineConfig]()
	if err != nil {
		return cfg, eris.Wrap(err, "failed to parse engine config")
	}
	return cfg, nil
}

func (cfg *engineConfig) applyToOptions(opt *Options) {
	if cfg.VersionID != "" {
		opt.VersionID = protocol.VersionID(cfg.VersionID)
	}
	if cfg.Secret != "" {
		opt.Secret = cfg.Secret
	}
	if cfg.DisplayName != "" {
		opt.DisplayName = cfg.DisplayName
	}
	opt.MinInputDelay = cfg.MinInputDelay
	opt.MaxInputDelay = cfg.MaxInputDelay
	opt.ChecksumInterval = cfg.ChecksumInterval
	opt.RollbackWindow = cfg.RollbackWindow
	opt.DriftWindow = cfg.DriftWindow
	opt.CompactInterval = protocol.Tick(cfg.CompactInterval)
	opt.CatchUpThreshold = cfg.CatchUpThreshold
	opt.HelloTimeout = cfg.HelloTimeout
	opt.HelloAttempts = cfg.HelloAttempts
	opt.SyncAttempts = cfg.SyncAttempts
	opt.SyncRetryDelay = cfg.SyncRetryDelay
	opt.PingInterval = cfg.PingInterval
	opt.RelayTimeout = cfg.RelayTimeout
}

// Options configures an Engine. Zero fields keep their defaults; the environment is applied first
// and these options override it.
type Options struct {
	VersionID   protocol.VersionID
	Secret      string
	DisplayName string

	Transport Transport
	Factory   sim.Factory
	Restore   sim.Restorer
	// Storage opens the durable storage of the session. Nil runs without snapshots or cold log.
	Storage sequencer.StorageFunc

	MinInputDelay    uint32
	MaxInputDelay    uint32
	ChecksumInterval uint32
	RollbackWindow   int
	DriftWindow      uint32
	CompactInterval  protocol.Tick
	CatchUpThreshold int

	HelloTimeout   time.Duration
	HelloAttempts  int
	SyncAttempts   int
	SyncRetryDelay time.Duration
	PingInterval   time.Duration
	RelayTimeout   time.Duration

	// Record keeps every applied package and every checksum seen in an in-memory log.
	Record bool

	Telemetry *telemetry.Telemetry
	Clock     func() time.Time
}

func newDefaultOptions() Options {
	return Options{
		MinInputDelay:    1,
		MaxInputDelay:    30,
		ChecksumInterval: 30,
		RollbackWindow:   256,
		DriftWindow:      120,
		CompactInterval:  1800,
		CatchUpThreshold: 1,
		HelloTimeout:     2 * time.Second,
		HelloAttempts:    5,
		SyncAttempts:     10,
		SyncRetryDelay:   500 * time.Millisecond,
		PingInterval:     time.Second,
		RelayTimeout:     3 * time.Second,
		Clock:            time.Now,
	}
}

//nolint:gocognit,cyclop // flat field copies
func (opt *Options) apply(newOpt Options) {
	if newOpt.VersionID != "" {
		opt.VersionID = newOpt.VersionID
	}
	if newOpt.Secret != "" {
		opt.Secret = newOpt.Secret
	}
	if newOpt.DisplayName != "" {
		opt.DisplayName = newOpt.DisplayName
	}
	if newOpt.Transport != nil {
		opt.Transport = newOpt.Transport
	}
	if newOpt.Factory != nil {
		opt.Factory = newOpt.Factory
	}
	if newOpt.Restore != nil {
		opt.Restore = newOpt.Restore
	}
	if newOpt.Storage != nil {
		opt.Storage = newOpt.Storage
	}
	if newOpt.MinInputDelay != 0 {
		opt.MinInputDelay = newOpt.MinInputDelay
	}
	if newOpt.MaxInputDelay != 0 {
		opt.MaxInputDelay = newOpt.MaxInputDelay
	}
	if newOpt.ChecksumInterval != 0 {
		opt.ChecksumInterval = newOpt.ChecksumInterval
	}
	if newOpt.RollbackWindow != 0 {
		opt.RollbackWindow = newOpt.RollbackWindow
	}
	if newOpt.DriftWindow != 0 {
		opt.DriftWindow = newOpt.DriftWindow
	}
	if newOpt.CompactInterval != 0 {
		opt.CompactInterval = newOpt.CompactInterval
	}
	if newOpt.CatchUpThreshold != 0 {
		opt.CatchUpThreshold = newOpt.CatchUpThreshold
	}
	if newOpt.HelloTimeout != 0 {
		opt.HelloTimeout = newOpt.HelloTimeout
	}
	if newOpt.HelloAttempts != 0 {
		opt.HelloAttempts = newOpt.HelloAttempts
	}
	if newOpt.SyncAttempts != 0 {
		opt.SyncAttempts = newOpt.SyncAttempts
	}
	if newOpt.SyncRetryDelay != 0 {
		opt.SyncRetryDelay = newOpt.SyncRetryDelay
	}
	if newOpt.PingInterval != 0 {
		opt.PingInterval = newOpt.PingInterval
	}
	if newOpt.RelayTimeout != 0 {
		opt.RelayTimeout = newOpt.RelayTimeout
	}
	if newOpt.Record {
		opt.Record = true
	}
	if newOpt.Telemetry != nil {
		opt.Telemetry = newOpt.Telemetry
	}
	if newOpt.Clock != nil {
		opt.Clock = newOpt.Clock
	}
}

func (opt *Options) validate() error {
	if opt.VersionID == "" {
		return eris.New("version id cannot be empty")
	}
	if opt.Transport == nil {
		return eris.New("transport is required")
	}
	if opt.Factory == nil {
		return eris.New("simulation factory is required")
	}
	if opt.Storage != nil && opt.Restore == nil {
		return eris.New("a restorer is required to load snapshots")
	}
	if opt.MinInputDelay == 0 || opt.MinInputDelay > opt.MaxInputDelay {
		return eris.Errorf("invalid input delay bounds [%d, %d]", opt.MinInputDelay, opt.MaxInputDelay)
	}
	if opt.ChecksumInterval == 0 {
		return eris.New("checksum interval must be positive")
	}
	if opt.RollbackWindow < 0 {
		return eris.New("rollback window cannot be negative")
	}
	if opt.CatchUpThreshold < 1 {
		return eris.New("catch-up threshold must be at least 1")
	}
	if opt.HelloAttempts < 1 || opt.SyncAttempts < 1 {
		return eris.New("attempt counts must be at least 1")
	}
	return nil
}
