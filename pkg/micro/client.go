// Package micro is a thin layer over NATS shared by the relay and the clients: connection setup
// from the environment, a subject naming convention and a Service that dispatches raw messages to
// handlers with tracing and panic reporting.
package micro

import (
	"context"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/rotisserie/eris"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
)

// Client represents a NATS client with enhanced logging and error handling.
type Client struct {
	*nats.Conn
	log        zerolog.Logger
	natsConfig NATSConfig
}

// NATSConfig holds the configuration for the NATS client.
type NATSConfig struct {
	Name            string `env:"NATS_NAME" envDefault:"lockstep"`
	URL             string `env:"NATS_URL" envDefault:"nats://localhost:4222"`
	CredentialsFile string `env:"NATS_CREDENTIALS_FILE"`
}

// Validate validates the NATS configuration and returns an error if invalid.
func (cfg NATSConfig) Validate() error {
	if cfg.URL == "" {
		return eris.New("NATS URL is required")
	}
	return nil
}

// NewClient creates a new NATS client. Environment variables are read first and options override
// them.
func NewClient(opts ...ClientOption) (*Client, error) {
	c := &Client{log: zerolog.Nop()}

	var err error
	c.natsConfig, err = env.ParseAs[NATSConfig]()
	if err != nil {
		return nil, eris.Wrap(err, "failed to parse NATS config")
	}

	for _, opt := range opts {
		opt(c)
	}

	if err := c.natsConfig.Validate(); err != nil {
		return nil, eris.Wrap(err, "invalid NATS config")
	}

	natsOpts := []nats.Option{
		nats.Name(c.natsConfig.Name),
		nats.MaxReconnects(10),
		nats.ReconnectWait(time.Second * 2),
		nats.DisconnectErrHandler(c.handleDisconnect),
		nats.ReconnectHandler(c.handleReconnect),
		nats.ClosedHandler(c.handleClosed),
		nats.ErrorHandler(c.handleError),
	}
	if c.natsConfig.CredentialsFile != "" {
		natsOpts = append(natsOpts, nats.UserCredentials(c.natsConfig.CredentialsFile))
	}

	conn, err := nats.Connect(c.natsConfig.URL, natsOpts...)
	if err != nil {
		return nil, eris.Wrap(err, "failed to connect to NATS server")
	}
	c.Conn = conn

	c.log.Info().
		Str("url", c.ConnectedUrl()).
		Str("name", c.natsConfig.Name).
		Msg("Connected to NATS server")

	return c, nil
}

// JetStream returns a JetStream handle on this connection.
func (c *Client) JetStream() (jetstream.JetStream, error) {
	js, err := jetstream.New(c.Conn)
	if err != nil {
		return nil, eris.Wrap(err, "failed to create jetstream client")
	}
	return js, nil
}

// Send publishes data to subject, carrying the trace context of ctx in the message headers.
// header may be nil.
func (c *Client) Send(ctx context.Context, subject string, data []byte, header nats.Header) error {
	msg := &nats.Msg{Subject: subject, Data: data, Header: header}
	if msg.Header == nil {
		msg.Header = nats.Header{}
	}
	otel.GetTextMapPropagator().Inject(ctx, propagation.HeaderCarrier(msg.Header))
	if err := c.PublishMsg(msg); err != nil {
		return eris.Wrapf(err, "failed to publish to %s", subject)
	}
	return nil
}

// SendWithReply publishes data to subject with reply as the reply subject.
func (c *Client) SendWithReply(ctx context.Context, subject, reply string, data []byte, header nats.Header) error {
	msg := &nats.Msg{Subject: subject, Reply: reply, Data: data, Header: header}
	if msg.Header == nil {
		msg.Header = nats.Header{}
	}
	otel.GetTextMapPropagator().Inject(ctx, propagation.HeaderCarrier(msg.Header))
	if err := c.PublishMsg(msg); err != nil {
		return eris.Wrapf(err, "failed to publish to %s", subject)
	}
	return nil
}

// Close gracefully closes the NATS connection and logs the event.
func (c *Client) Close() {
	if c.Conn != nil {
		c.Conn.Close()
	}
}

func (c *Client) handleDisconnect(nc *nats.Conn, err error) {
	log := c.log.With().
		Str("nats_url", nc.ConnectedUrl()).
		Uint64("reconnect_attempts", nc.Reconnects).
		Logger()

	if err != nil {
		log.Error().Err(err).Msg("Disconnected from NATS with error")
	} else {
		log.Warn().Msg("Disconnected from NATS (no error)")
	}
}

func (c *Client) handleReconnect(nc *nats.Conn) {
	c.log.Info().
		Str("nats_url", nc.ConnectedUrl()).
		Uint64("reconnect_attempts", nc.Reconnects).
		Msg("Reconnected to NATS")
}

func (c *Client) handleClosed(nc *nats.Conn) {
	if err := nc.LastError(); err != nil {
		c.log.Warn().Err(err).Msg("NATS connection closed with error")
	} else {
		c.log.Info().Msg("NATS connection closed")
	}
}

func (c *Client) handleError(_ *nats.Conn, sub *nats.Subscription, err error) {
	event := c.log.Error().Err(err)
	if sub != nil {
		event = event.Str("subject", sub.Subject)
	}
	event.Msg("NATS subscription error occurred")
}

// -------------------------------------------------------------------------------------------------
// Options
// -------------------------------------------------------------------------------------------------

// ClientOption defines a function that can modify a Client.
type ClientOption func(*Client)

// WithLogger returns a ClientOption that sets the logger.
func WithLogger(log zerolog.Logger) ClientOption {
	return func(c *Client) {
		c.log = log
	}
}

// WithNATSConfig returns a ClientOption that sets the NATS configuration.
func WithNATSConfig(cfg NATSConfig) ClientOption {
	return func(c *Client) {
		c.natsConfig = cfg
	}
}
