package agent

import (
	"context"
	"encoding/json"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/Dzordzu/o11y-389ds/internal/state"
)

// Server answers agent-check connections with one status line each.
type Server struct {
	store *state.Store
	marks *MarkSet
	addr  string
}

// NewServer builds the TCP responder.
func NewServer(store *state.Store, addr string) *Server {
	return &Server{store: store, marks: &MarkSet{}, addr: addr}
}

// Marks exposes the operator mark set, shared with the admin API.
func (s *Server) Marks() *MarkSet {
	return s.marks
}

// Run accepts connections until ctx is cancelled. Every connection gets
// the current evaluation and is closed; the protocol is one line per
// check.
func (s *Server) Run(ctx context.Context) error {
	var lc net.ListenConfig
	listener, err := lc.Listen(ctx, "tcp", s.addr)
	if err != nil {
		return err
	}

	go func() {
		<-ctx.Done()
		listener.Close()
	}()

	slog.Info("agent-check responder listening", "addr", s.addr)

	for {
		conn, err := listener.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			slog.Warn("agent accept failed", "error", err)
			continue
		}
		go s.respond(conn)
	}
}

func (s *Server) respond(conn net.Conn) {
	defer conn.Close()
	_ = conn.SetWriteDeadline(time.Now().Add(5 * time.Second))

	response := Evaluate(s.store, s.marks.Get())
	if _, err := conn.Write([]byte(response.String())); err != nil {
		slog.Warn("agent response write failed", "error", err)
	}
}

// AdminHandler returns the HTTP API for operator marks: POST
// /mark/{drain,maintenance,hard-maintenance,stop,ready} and GET /status.
func (s *Server) AdminHandler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Post("/mark/drain", s.mark(func(m *Marks) { m.Drain = true }))
	r.Post("/mark/maintenance", s.mark(func(m *Marks) { m.SoftMaint = true }))
	r.Post("/mark/hard-maintenance", s.mark(func(m *Marks) { m.HardMaint = true }))
	r.Post("/mark/stop", s.mark(func(m *Marks) { m.Stopped = true }))
	r.Post("/mark/ready", s.mark(func(m *Marks) {
		*m = Marks{}
	}))

	r.Get("/status", func(w http.ResponseWriter, _ *http.Request) {
		response := Evaluate(s.store, s.marks.Get())
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"marks":    s.marks.Get(),
			"response": response.String(),
		})
	})

	return r
}

func (s *Server) mark(update func(*Marks)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s.marks.Set(update)
		slog.Info("operator mark updated", "path", r.URL.Path)
		w.WriteHeader(http.StatusNoContent)
	}
}

// RunAdmin serves the admin API until ctx is cancelled.
func (s *Server) RunAdmin(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.AdminHandler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("agent admin API listening", "addr", addr)
		errCh <- srv.ListenAndServe()
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
		return srv.Shutdown(shutdownCtx)
	}
}
