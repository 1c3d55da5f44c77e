package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/argus-labs/lockstep/pkg/micro"
	"github.com/argus-labs/lockstep/pkg/persist"
	"github.com/argus-labs/lockstep/pkg/protocol"
	"github.com/argus-labs/lockstep/pkg/sequencer"
	"github.com/argus-labs/lockstep/pkg/telemetry"
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
)

const shutdownTimeout = 5 * time.Second

// relayOptions are the flags of the relay command. Flags that are set override the environment.
type relayOptions struct {
	namespace  string
	secret     string
	tickRate   uint32
	statusAddr string
	storage    string
	announce   string
}

func newRelayCmd() *cobra.Command {
	opts := &relayOptions{}

	cmd := &cobra.Command{
		Use:   "relay",
		Short: "Run the input relay",
		Long: `Run the input relay over NATS.

Configuration is read from RELAY_*, PERSIST_*, NATS_* and the telemetry environment variables.
Flags override the environment.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runRelay(cmd, opts)
		},
	}

	f := cmd.Flags()
	f.StringVar(&opts.namespace, "namespace", "", "subject namespace")
	f.StringVar(&opts.secret, "secret", "", "shared secret clients present in Hello")
	f.Uint32Var(&opts.tickRate, "tick-rate", 0, "ticks per second")
	f.StringVar(&opts.statusAddr, "status-addr", "", "status server address, empty to disable")
	f.StringVar(&opts.storage, "storage", "", "session storage: NOP, MEMORY, FILE or JETSTREAM")
	f.StringVar(&opts.announce, "announce", "", "announce a new client version on startup")
	return cmd
}

// configs loads the relay and storage configuration and applies the flags that were set.
func (o *relayOptions) configs(cmd *cobra.Command) (sequencer.Config, persist.Config, error) {
	cfg, err := sequencer.LoadConfig()
	if err != nil {
		return cfg, persist.Config{}, err
	}
	pcfg, err := persist.LoadConfig()
	if err != nil {
		return cfg, pcfg, err
	}

	f := cmd.Flags()
	if f.Changed("namespace") {
		cfg.Namespace = o.namespace
	}
	if f.Changed("secret") {
		cfg.Secret = o.secret
	}
	if f.Changed("tick-rate") {
		cfg.TickRate = o.tickRate
	}
	if f.Changed("status-addr") {
		cfg.StatusAddr = o.statusAddr
	}
	if f.Changed("storage") {
		pcfg.StorageType = o.storage
	}

	if err := cfg.Validate(); err != nil {
		return cfg, pcfg, eris.Wrap(err, "invalid relay config")
	}
	if err := pcfg.Validate(); err != nil {
		return cfg, pcfg, eris.Wrap(err, "invalid persist config")
	}
	return cfg, pcfg, nil
}

func runRelay(cmd *cobra.Command, opts *relayOptions) error {
	cfg, pcfg, err := opts.configs(cmd)
	if err != nil {
		return err
	}

	tel, err := telemetry.New(telemetry.Options{ServiceName: "relay"})
	if err != nil {
		return eris.Wrap(err, "failed to set up telemetry")
	}
	defer tel.RecoverAndFlush(true)
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := tel.Shutdown(ctx); err != nil {
			tel.Logger.Error().Err(err).Msg("failed to shut down telemetry")
		}
	}()

	client, err := micro.NewClient(micro.WithLogger(tel.GetLogger("nats")))
	if err != nil {
		return err
	}
	defer client.Close()

	storage := func(ctx context.Context, key persist.Key) (*persist.Store, error) {
		return persist.Open(ctx, pcfg, key, client, &tel)
	}
	srv, err := sequencer.NewServer(cfg, client, storage, &tel)
	if err != nil {
		return err
	}
	if opts.announce != "" {
		if err := srv.AnnounceVersion(protocol.VersionID(opts.announce)); err != nil {
			return err
		}
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	tel.Logger.Info().Str("storage", pcfg.StorageType).Msg("starting relay")
	if err := srv.Run(ctx); err != nil && !eris.Is(err, context.Canceled) {
		return err
	}
	return nil
}
