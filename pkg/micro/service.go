package micro

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/argus-labs/lockstep/pkg/telemetry"
	"github.com/nats-io/nats.go"
	"github.com/rotisserie/eris"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	otelcodes "go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
)

var (
	ErrEndpointAlreadyExists = eris.New("endpoint already exists")
)

// Handler processes one message. A non-nil reply is sent back when the message carries a reply
// subject; a nil reply sends nothing, which lets handlers drop messages silently.
type Handler func(ctx context.Context, msg *nats.Msg) (reply []byte, err error)

// Service dispatches messages on subjects under one Address to handlers.
type Service struct {
	tel    *telemetry.Telemetry
	client *Client

	mu        sync.Mutex
	endpoints map[string]*nats.Subscription

	Address Address
}

// NewService creates a new service with the given NATS client, address, and telemetry.
func NewService(client *Client, address Address, tel *telemetry.Telemetry) *Service {
	return &Service{
		tel:       tel,
		client:    client,
		endpoints: make(map[string]*nats.Subscription),
		Address:   address,
	}
}

// Logger returns a logger for the service with service-specific context.
func (s *Service) Logger() *zerolog.Logger {
	logger := s.tel.GetLogger("service").With().Str("address", s.Address.String()).Logger()
	return &logger
}

// AddGroup returns a helper that registers endpoints under a common prefix, e.g. the "g.*" group
// registers "input" as "<address>.g.*.input".
func (s *Service) AddGroup(name string) *ServiceEndpointGroup {
	return &ServiceEndpointGroup{
		service: s,
		group:   name,
	}
}

// AddEndpoint subscribes handler to "<address>.<name>". name may contain NATS wildcards.
func (s *Service) AddEndpoint(name string, handler Handler) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.endpoints[name]; ok {
		return eris.Wrap(ErrEndpointAlreadyExists, name)
	}

	sub, err := s.client.Subscribe(Endpoint(s.Address, name), func(msg *nats.Msg) {
		defer s.tel.RecoverAndFlush(true)
		s.dispatch(name, msg, handler)
	})
	if err != nil {
		return eris.Wrapf(err, "failed to subscribe to endpoint %s", name)
	}

	s.endpoints[name] = sub
	return nil
}

func (s *Service) dispatch(name string, msg *nats.Msg, handler Handler) {
	ctx := otel.GetTextMapPropagator().Extract(context.Background(), propagation.HeaderCarrier(msg.Header))

	ctx, span := s.tel.Tracer.Start(ctx, "handler."+name,
		trace.WithSpanKind(trace.SpanKindConsumer),
		trace.WithAttributes(attribute.String("nats.subject", msg.Subject)))
	defer span.End()

	log := s.tel.GetLoggerWithTrace(ctx, "service.handler").With().Str("endpoint", name).Logger()

	start := time.Now()
	reply, err := handler(ctx, msg)
	duration := time.Since(start)
	span.SetAttributes(attribute.Int64("handler.duration_ms", duration.Milliseconds()))

	if err != nil {
		span.RecordError(err)
		span.SetStatus(otelcodes.Error, err.Error())
		log.Warn().Err(err).Dur("duration", duration).Str("subject", msg.Subject).Msg("handler failed")
		return
	}
	span.SetStatus(otelcodes.Ok, "")

	if reply == nil || msg.Reply == "" {
		return
	}
	if err := msg.Respond(reply); err != nil {
		log.Error().Err(err).Msg("failed to send response over NATS")
	}
}

// Close unsubscribes all endpoints registered with the service.
func (s *Service) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var errs []error
	for name, sub := range s.endpoints {
		if err := sub.Unsubscribe(); err != nil && !eris.Is(err, nats.ErrConnectionClosed) {
			s.Logger().Error().Err(err).Str("endpoint", name).Msg("failed to unsubscribe endpoint")
			errs = append(errs, err)
		}
	}
	clear(s.endpoints)
	return errors.Join(errs...)
}

// -------------------------------------------------------------------------------------------------
// Endpoint groups
// -------------------------------------------------------------------------------------------------

// ServiceEndpointGroup registers a group of endpoints with a common prefix.
type ServiceEndpointGroup struct {
	service *Service
	group   string
}

func (g *ServiceEndpointGroup) AddEndpoint(name string, handler Handler) error {
	return g.service.AddEndpoint(g.group+"."+name, handler)
}
