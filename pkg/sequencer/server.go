package sequencer

import (
	"context"
	"time"

	"github.com/argus-labs/lockstep/pkg/micro"
	"github.com/argus-labs/lockstep/pkg/protocol"
	"github.com/argus-labs/lockstep/pkg/telemetry"
	metrics "github.com/armon/go-metrics"
	"github.com/nats-io/nats.go"
	"github.com/rotisserie/eris"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

// Subjects served by the relay, under the namespace:
//
//	<ns>.relay.hello     Hello request, answered with a Welcome (or nothing)
//	<ns>.relay.announce  operator announcement of a new version (payload: version id)
//	<ns>.g.<group>.in    everything a connection sends, with its id in the ConnIDHeader
//	<ns>.g.<group>.out   group broadcasts: confirmed packages, checksums, notices
//	<ns>.c.<conn>.out    messages for one connection
const (
	HelloEndpoint    = "hello"
	AnnounceEndpoint = "announce"
	InEndpoint       = "in"
	OutEndpoint      = "out"

	ConnIDHeader = "Lockstep-Conn-Id"
)

var ErrQueueFull = eris.New("relay queue is full")

func HelloSubject(namespace string) string {
	return micro.Endpoint(micro.RelayAddress(namespace), HelloEndpoint)
}

func AnnounceSubject(namespace string) string {
	return micro.Endpoint(micro.RelayAddress(namespace), AnnounceEndpoint)
}

func GroupInSubject(namespace string, group protocol.GroupKey) string {
	return micro.Endpoint(micro.GroupAddress(namespace, string(group)), InEndpoint)
}

func GroupOutSubject(namespace string, group protocol.GroupKey) string {
	return micro.Endpoint(micro.GroupAddress(namespace, string(group)), OutEndpoint)
}

func ConnOutSubject(namespace, connID string) string {
	return micro.Endpoint(micro.ConnAddress(namespace, connID), OutEndpoint)
}

type command func(ctx context.Context, s *Sequencer, now time.Time)

// Server runs a Sequencer behind NATS. One goroutine owns the Sequencer; transport callbacks hand
// it commands through a bounded queue, and cold log writes happen on a separate flusher.
type Server struct {
	cfg    Config
	seq    *Sequencer
	client *micro.Client
	tel    *telemetry.Telemetry
	log    zerolog.Logger
	sink   *metrics.InmemSink

	cmds    chan command
	flushes chan FlushJob
}

// NewServer creates a relay server. storage opens the durable storage of each session.
func NewServer(cfg Config, client *micro.Client, storage StorageFunc, tel *telemetry.Telemetry) (*Server, error) {
	sink := metrics.NewInmemSink(10*time.Second, time.Minute)
	m, err := NewMetrics(sink)
	if err != nil {
		return nil, err
	}
	seq, err := New(cfg,
		WithLogger(tel.GetLogger("sequencer")),
		WithMetrics(m),
		WithStorage(storage),
	)
	if err != nil {
		return nil, err
	}
	return &Server{
		cfg:     cfg,
		seq:     seq,
		client:  client,
		tel:     tel,
		log:     tel.GetLogger("relay"),
		sink:    sink,
		cmds:    make(chan command, cfg.QueueSize),
		flushes: make(chan FlushJob, cfg.QueueSize),
	}, nil
}

// Run serves until ctx is cancelled.
func (s *Server) Run(ctx context.Context) error {
	relay := micro.NewService(s.client, micro.RelayAddress(s.cfg.Namespace), s.tel)
	groups := micro.NewService(s.client, micro.GroupAddress(s.cfg.Namespace, "*"), s.tel)
	defer func() {
		_ = relay.Close()
		_ = groups.Close()
		if err := s.seq.Close(); err != nil {
			s.log.Error().Err(err).Msg("failed to close session storage")
		}
	}()

	if err := relay.AddEndpoint(HelloEndpoint, s.handleHello); err != nil {
		return err
	}
	if err := relay.AddEndpoint(AnnounceEndpoint, s.handleAnnounce); err != nil {
		return err
	}
	if err := groups.AddEndpoint(InEndpoint, s.handleInbound); err != nil {
		return err
	}
	if err := s.client.Flush(); err != nil {
		return eris.Wrap(err, "failed to flush subscriptions")
	}

	s.log.Info().
		Str("namespace", s.cfg.Namespace).
		Uint32("tick_rate", s.cfg.TickRate).
		Str("deadline_policy", s.cfg.DeadlinePolicy).
		Msg("relay started")

	eg, ctx := errgroup.WithContext(ctx)
	eg.Go(func() error { return s.loop(ctx) })
	eg.Go(func() error { return s.flusher(ctx) })
	if s.cfg.StatusAddr != "" {
		eg.Go(func() error { return s.serveStatus(ctx) })
	}
	return eg.Wait()
}

// AnnounceVersion queues a version announcement.
func (s *Server) AnnounceVersion(v protocol.VersionID) error {
	return s.submit(func(_ context.Context, q *Sequencer, _ time.Time) { q.AnnounceVersion(v) })
}

func (s *Server) submit(cmd command) error {
	select {
	case s.cmds <- cmd:
		return nil
	default:
		return ErrQueueFull
	}
}

func (s *Server) loop(ctx context.Context) error {
	period := s.cfg.TickDuration()
	ticker := time.NewTicker(period)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case now := <-ticker.C:
			start := time.Now()
			s.seq.Tick(now)
			s.dispatch(ctx)
			if elapsed := time.Since(start); elapsed > period {
				s.log.Warn().Dur("elapsed", elapsed).Dur("period", period).Msg("tick took longer than the tick period")
			}
		case cmd := <-s.cmds:
			cmd(ctx, s.seq, time.Now())
			s.dispatch(ctx)
		}
	}
}

func (s *Server) dispatch(ctx context.Context) {
	out, jobs := s.seq.Drain()
	for _, o := range out {
		var subject string
		switch o.Target {
		case TargetGroup:
			subject = GroupOutSubject(s.cfg.Namespace, o.Group)
		case TargetConn:
			subject = ConnOutSubject(s.cfg.Namespace, o.ConnID)
		case TargetReply:
			subject = o.Reply
		}
		if subject == "" {
			continue
		}
		if err := s.client.Send(ctx, subject, protocol.Encode(o.Message), nil); err != nil {
			s.log.Warn().Err(err).Str("kind", o.Message.Kind().String()).Msg("failed to send")
		}
	}
	for _, job := range jobs {
		select {
		case s.flushes <- job:
		case <-ctx.Done():
			return
		}
	}
}

func (s *Server) flusher(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case job := <-s.flushes:
			err := job.Log.Append(ctx, job.Entries)
			select {
			case s.cmds <- func(_ context.Context, q *Sequencer, _ time.Time) { q.CompleteFlush(job, err) }:
			case <-ctx.Done():
				return nil
			}
		}
	}
}

// -------------------------------------------------------------------------------------------------
// Handlers
// -------------------------------------------------------------------------------------------------

// handleHello never replies itself; the Welcome, if any, is sent by the loop.
func (s *Server) handleHello(_ context.Context, msg *nats.Msg) ([]byte, error) {
	m, err := protocol.Decode(msg.Data)
	if err != nil {
		return nil, err
	}
	h, ok := m.(protocol.Hello)
	if !ok {
		return nil, eris.Errorf("unexpected %s on hello endpoint", m.Kind())
	}
	reply := msg.Reply
	return nil, s.submit(func(ctx context.Context, q *Sequencer, now time.Time) { q.Hello(ctx, h, reply, now) })
}

func (s *Server) handleAnnounce(_ context.Context, msg *nats.Msg) ([]byte, error) {
	if len(msg.Data) == 0 {
		return nil, eris.New("empty version announcement")
	}
	if err := s.AnnounceVersion(protocol.VersionID(msg.Data)); err != nil {
		return nil, err
	}
	return []byte("ok"), nil
}

func (s *Server) handleInbound(_ context.Context, msg *nats.Msg) ([]byte, error) {
	connID := msg.Header.Get(ConnIDHeader)
	if connID == "" {
		return nil, eris.New("message without connection id")
	}
	m, err := protocol.Decode(msg.Data)
	if err != nil {
		return nil, err
	}
	reply := msg.Reply

	var cmd command
	switch m := m.(type) {
	case protocol.Input:
		cmd = func(_ context.Context, q *Sequencer, now time.Time) { q.Input(connID, m, now) }
	case protocol.Checksum:
		cmd = func(_ context.Context, q *Sequencer, now time.Time) { q.Checksum(connID, m, now) }
	case protocol.Ping:
		cmd = func(_ context.Context, q *Sequencer, now time.Time) { q.Ping(connID, m, now) }
	case protocol.Disconnect:
		cmd = func(_ context.Context, q *Sequencer, _ time.Time) { q.Disconnect(connID, "requested") }
	case protocol.Backfill:
		cmd = func(_ context.Context, q *Sequencer, now time.Time) { q.Backfill(connID, m, reply, now) }
	case protocol.Compact:
		cmd = func(_ context.Context, q *Sequencer, now time.Time) { q.Compact(connID, m, reply, now) }
	default:
		return nil, eris.Errorf("unexpected %s from connection", m.Kind())
	}
	return nil, s.submit(cmd)
}
