// Package telemetry wires logging, tracing and error reporting for the relay and the clients.
package telemetry

import (
	"context"

	"github.com/argus-labs/lockstep/pkg/telemetry/sentry"
	"github.com/rotisserie/eris"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
)

type Telemetry struct {
	Logger      zerolog.Logger
	Tracer      trace.Tracer
	serviceName string

	shutdown func(context.Context) error
}

func New(opts Options) (Telemetry, error) {
	config, err := loadConfig()
	if err != nil {
		return Telemetry{}, eris.Wrap(err, "failed to load telemetry config")
	}

	options := newDefaultOptions()
	config.applyToOptions(&options)
	options.apply(opts)
	if err := options.validate(); err != nil {
		return Telemetry{}, eris.Wrap(err, "invalid telemetry options")
	}

	if err := sentry.New(options.SentryOptions); err != nil {
		return Telemetry{}, eris.Wrap(err, "failed to setup sentry")
	}

	ctx := context.Background()
	tracer, logger, shutdown, err := setupOpenTelemetry(ctx, config.Enabled, options)
	if err != nil {
		return Telemetry{}, eris.Wrap(err, "failed to setup telemetry")
	}

	return Telemetry{
		Logger:      logger,
		Tracer:      tracer,
		serviceName: options.ServiceName,
		shutdown:    shutdown,
	}, nil
}

// NewNop returns a Telemetry that discards logs and traces. Intended for tests and tools.
func NewNop(serviceName string) Telemetry {
	return Telemetry{
		Logger:      zerolog.Nop(),
		Tracer:      noop.NewTracerProvider().Tracer(serviceName),
		serviceName: serviceName,
	}
}

// Shutdown gracefully shuts down the telemetry system.
func (t *Telemetry) Shutdown(ctx context.Context) error {
	sentry.Shutdown(ctx, sentryFlushTimeout)
	if t.shutdown != nil {
		return t.shutdown(ctx)
	}
	return nil
}

// GetLogger returns a component-specific logger.
func (t *Telemetry) GetLogger(component string) zerolog.Logger {
	return t.Logger.With().Str("component", t.serviceName+"."+component).Logger()
}

// GetLoggerWithTrace returns a component-specific logger enriched with trace context.
func (t *Telemetry) GetLoggerWithTrace(ctx context.Context, component string) zerolog.Logger {
	span := trace.SpanFromContext(ctx)

	logger := t.Logger.With().Str("component", t.serviceName+"."+component)

	if span.IsRecording() {
		spanCtx := span.SpanContext()
		logger = logger.
			Str("trace_id", spanCtx.TraceID().String()).
			Str("span_id", spanCtx.SpanID().String())
	}

	return logger.Logger()
}

// RecoverAndFlush reports a panic to Sentry (if configured) before re-panicking.
func (t *Telemetry) RecoverAndFlush(repanic bool) {
	sentry.RecoverAndFlush(repanic)
}

// CaptureException reports a handled error. Used for conditions that need developer attention,
// such as determinism drift.
func (t *Telemetry) CaptureException(ctx context.Context, err error, tags ...sentry.Tag) {
	sentry.CaptureException(ctx, err, tags...)
}
