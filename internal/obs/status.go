package obs

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// StateFunc returns a JSON-serialisable view of live server state.
type StateFunc func(ctx context.Context) (any, error)

// NewStatusServer builds the metrics / health server. It serves Prometheus
// metrics on /metrics, liveness on /healthz and the state returned by state
// on /api/registry.
func NewStatusServer(addr string, state StateFunc) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	mux.HandleFunc("/api/registry", func(w http.ResponseWriter, r *http.Request) {
		st, err := state(r.Context())
		if err != nil {
			http.Error(w, err.Error(), http.StatusServiceUnavailable)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(st)
	})
	return &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
}

// ServeStatus runs srv until ctx is done.
func ServeStatus(ctx context.Context, srv *http.Server) {
	go func() {
		<-ctx.Done()
		sctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(sctx)
	}()
	Infof("status server listening on %s", srv.Addr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		Errorf("status server on %s: %v", srv.Addr, err)
	}
}
