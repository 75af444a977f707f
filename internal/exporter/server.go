package exporter

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/Dzordzu/o11y-389ds/internal/state"
)

// Server serves /metrics and /healthz.
type Server struct {
	addr   string
	http   *http.Server
	uptime prometheus.Counter
}

// New registers the collector and the daemon self-metrics with reg and
// builds the HTTP server. scrapeIntervalSeconds is exported as a gauge so
// dashboards can scale rate windows.
func New(store *state.Store, reg *prometheus.Registry, addr string, instance string, scrapeIntervalSeconds uint64) *Server {
	uptime := promauto.With(reg).NewCounter(prometheus.CounterOpts{
		Name: "internal_runtime_seconds_active",
		Help: "How long the o11y-389ds daemon has been running",
	})
	scrapeInterval := promauto.With(reg).NewGauge(prometheus.GaugeOpts{
		Name: "internal_scrape_interval_seconds",
		Help: "Configured default scrape interval",
	})
	scrapeInterval.Set(float64(scrapeIntervalSeconds))
	reg.MustRegister(NewCollector(store, instance))

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		fmt.Fprintln(w, "ok")
	})

	return &Server{
		addr: addr,
		http: &http.Server{
			Addr:              addr,
			Handler:           r,
			ReadHeaderTimeout: 5 * time.Second,
		},
		uptime: uptime,
	}
}

// Run serves until ctx is cancelled. The uptime counter ticks once per
// second while the server is alive.
func (s *Server) Run(ctx context.Context) error {
	go func() {
		ticker := time.NewTicker(time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				s.uptime.Inc()
			case <-ctx.Done():
				return
			}
		}
	}()

	errCh := make(chan error, 1)
	go func() {
		slog.Info("metrics endpoint listening", "addr", s.addr)
		errCh <- s.http.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if err != nil && err != http.ErrServerClosed {
			return err
		}
		return nil
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return s.http.Shutdown(shutdownCtx)
	}
}
