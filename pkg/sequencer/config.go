package sequencer

import (
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/rotisserie/eris"
)

const (
	// minHelloCacheBytes is the smallest size freecache accepts without rounding up.
	minHelloCacheBytes = 512 * 1024

	DeadlinePolicyFixed    = "fixed"
	DeadlinePolicyAdaptive = "adaptive"
)

// Config is the relay configuration read from the environment.
type Config struct {
	// Namespace prefixes every subject the relay serves.
	Namespace string `env:"RELAY_NAMESPACE" envDefault:"lockstep"`

	// Secret is the shared secret clients present in Hello.
	Secret string `env:"RELAY_SECRET"`

	// TickRate is the number of ticks per second.
	TickRate uint32 `env:"RELAY_TICK_RATE" envDefault:"60"`

	// DeadlinePolicy selects how long a tick stays open: "fixed" or "adaptive".
	DeadlinePolicy string `env:"RELAY_DEADLINE_POLICY" envDefault:"fixed"`

	// DeadlineTicks is the window of the fixed policy and the starting window of the adaptive one.
	DeadlineTicks uint32 `env:"RELAY_DEADLINE_TICKS" envDefault:"3"`

	// DeadlineMin and DeadlineMax bound the adaptive window.
	DeadlineMin uint32 `env:"RELAY_DEADLINE_MIN" envDefault:"2"`
	DeadlineMax uint32 `env:"RELAY_DEADLINE_MAX" envDefault:"12"`

	// MaxSlots is the number of connections a version group accepts.
	MaxSlots int `env:"RELAY_MAX_SLOTS" envDefault:"16"`

	// MaxLeadTicks is how far ahead of the live tick an input may be sent.
	MaxLeadTicks uint32 `env:"RELAY_MAX_LEAD_TICKS" envDefault:"120"`

	// RecoveryGrace is how long a restarted relay collects reconnects before resuming a session.
	RecoveryGrace time.Duration `env:"RELAY_RECOVERY_GRACE" envDefault:"3s"`

	// HelloTTL is how long a Welcome is kept for Hello retries.
	HelloTTL time.Duration `env:"RELAY_HELLO_TTL" envDefault:"30s"`

	// HelloCacheBytes sizes the Hello retry cache.
	HelloCacheBytes int `env:"RELAY_HELLO_CACHE_BYTES" envDefault:"1048576"`

	// ConnTimeout disconnects connections that have been silent for this long.
	ConnTimeout time.Duration `env:"RELAY_CONN_TIMEOUT" envDefault:"10s"`

	// HotMaxEntries is the hot log size that triggers a compaction request.
	HotMaxEntries int `env:"RELAY_HOT_MAX_ENTRIES" envDefault:"100000"`

	// BackfillCompactThreshold is the backfill size (in packages) that triggers a compaction
	// request.
	BackfillCompactThreshold int `env:"RELAY_BACKFILL_COMPACT_THRESHOLD" envDefault:"1800"`

	// BackfillMax caps the packages returned by one backfill.
	BackfillMax int `env:"RELAY_BACKFILL_MAX" envDefault:"2048"`

	// StatusAddr is the listen address of the status server. Empty disables it.
	StatusAddr string `env:"RELAY_STATUS_ADDR" envDefault:":8088"`

	// QueueSize bounds the queue between the transport and the sequencer loop.
	QueueSize int `env:"RELAY_QUEUE_SIZE" envDefault:"4096"`
}

// LoadConfig loads the relay configuration from the environment.
func LoadConfig() (Config, error) {
	cfg, err := env.ParseAs[Config]()
	if err != nil {
		return cfg, eris.Wrap(err, "failed to parse relay config")
	}
	return cfg, nil
}

// Validate checks the configuration.
func (cfg Config) Validate() error {
	if cfg.Namespace == "" {
		return eris.New("namespace cannot be empty")
	}
	if cfg.Secret == "" {
		return eris.New("shared secret cannot be empty")
	}
	if cfg.TickRate == 0 {
		return eris.New("tick rate must be positive")
	}
	switch cfg.DeadlinePolicy {
	case DeadlinePolicyFixed:
		if cfg.DeadlineTicks == 0 {
			return eris.New("deadline ticks must be positive")
		}
	case DeadlinePolicyAdaptive:
		if cfg.DeadlineMin == 0 || cfg.DeadlineMin > cfg.DeadlineMax {
			return eris.Errorf("invalid adaptive deadline bounds [%d, %d]", cfg.DeadlineMin, cfg.DeadlineMax)
		}
	default:
		return eris.Errorf("invalid deadline policy %q (must be %q or %q)",
			cfg.DeadlinePolicy, DeadlinePolicyFixed, DeadlinePolicyAdaptive)
	}
	if cfg.MaxSlots <= 0 || cfg.MaxSlots > 255 {
		return eris.Errorf("max slots must be in [1, 255], got %d", cfg.MaxSlots)
	}
	if cfg.MaxLeadTicks == 0 {
		return eris.New("max lead ticks must be positive")
	}
	if cfg.RecoveryGrace < 0 || cfg.ConnTimeout <= 0 || cfg.HelloTTL <= 0 {
		return eris.New("durations must be positive")
	}
	if cfg.HelloCacheBytes < minHelloCacheBytes {
		return eris.Errorf("hello cache must be at least %d bytes", minHelloCacheBytes)
	}
	if cfg.HotMaxEntries <= 0 || cfg.BackfillCompactThreshold <= 0 || cfg.BackfillMax <= 0 {
		return eris.New("hot buffer limits must be positive")
	}
	if cfg.QueueSize <= 0 {
		return eris.New("queue size must be positive")
	}
	return nil
}

// TickDuration is the wall-clock length of one tick.
func (cfg Config) TickDuration() time.Duration {
	return time.Second / time.Duration(cfg.TickRate)
}

// NewDeadlinePolicy builds the configured deadline policy.
func (cfg Config) NewDeadlinePolicy() DeadlinePolicy {
	if cfg.DeadlinePolicy == DeadlinePolicyAdaptive {
		return NewAdaptiveDeadline(cfg.DeadlineTicks, cfg.DeadlineMin, cfg.DeadlineMax)
	}
	return FixedDeadline(cfg.DeadlineTicks)
}

// DefaultConfig returns the configuration the environment defaults describe, with secret set.
// Used by tests and embedded relays.
func DefaultConfig(secret string) Config {
	return Config{
		Namespace:                "lockstep",
		Secret:                   secret,
		TickRate:                 60,
		DeadlinePolicy:           DeadlinePolicyFixed,
		DeadlineTicks:            3,
		DeadlineMin:              2,
		DeadlineMax:              12,
		MaxSlots:                 16,
		MaxLeadTicks:             120,
		RecoveryGrace:            3 * time.Second,
		HelloTTL:                 30 * time.Second,
		HelloCacheBytes:          1 << 20,
		ConnTimeout:              10 * time.Second,
		HotMaxEntries:            100000,
		BackfillCompactThreshold: 1800,
		BackfillMax:              2048,
		StatusAddr:               ":8088",
		QueueSize:                4096,
	}
}
