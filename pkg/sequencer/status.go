package sequencer

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/argus-labs/lockstep/pkg/protocol"
	"github.com/goccy/go-json"
	"github.com/gorilla/mux"
	"github.com/rotisserie/eris"
)

const (
	statusReadHeaderTimeout = 5 * time.Second
	statusShutdownTimeout   = 5 * time.Second
)

// Router serves the relay status:
//
//	GET /healthz         liveness
//	GET /groups          every version group
//	GET /groups/{group}  one version group
//	GET /metrics         in-memory metrics summary
func (s *Server) Router() *mux.Router {
	r := mux.NewRouter()
	r.HandleFunc("/healthz", s.handleHealth).Methods(http.MethodGet)
	r.HandleFunc("/groups", s.handleGroups).Methods(http.MethodGet)
	r.HandleFunc("/groups/{group}", s.handleGroup).Methods(http.MethodGet)
	r.HandleFunc("/metrics", s.handleMetrics).Methods(http.MethodGet)
	return r
}

func (s *Server) serveStatus(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.cfg.StatusAddr,
		Handler:           s.Router(),
		ReadHeaderTimeout: statusReadHeaderTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		s.log.Info().Str("addr", s.cfg.StatusAddr).Msg("status server listening")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return eris.Wrap(err, "status server failed")
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), statusShutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx) //nolint:contextcheck // parent is already cancelled
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleGroups(w http.ResponseWriter, r *http.Request) {
	groups, err := s.groups(r.Context())
	if err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, groups)
}

func (s *Server) handleGroup(w http.ResponseWriter, r *http.Request) {
	key := protocol.GroupKey(mux.Vars(r)["group"])
	groups, err := s.groups(r.Context())
	if err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": err.Error()})
		return
	}
	for _, g := range groups {
		if g.Group == key {
			writeJSON(w, http.StatusOK, g)
			return
		}
	}
	writeJSON(w, http.StatusNotFound, map[string]string{"error": "unknown group"})
}

func (s *Server) handleMetrics(w http.ResponseWriter, r *http.Request) {
	summary, err := s.sink.DisplayMetrics(w, r)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

// groups reads the group table from the loop goroutine.
func (s *Server) groups(ctx context.Context) ([]GroupStatus, error) {
	ch := make(chan []GroupStatus, 1)
	if err := s.submit(func(_ context.Context, q *Sequencer, _ time.Time) { ch <- q.Groups() }); err != nil {
		return nil, err
	}
	select {
	case groups := <-ch:
		return groups, nil
	case <-ctx.Done():
		return nil, eris.Wrap(ctx.Err(), "relay loop did not answer")
	}
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
