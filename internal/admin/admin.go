// Package admin serves a small local HTTP endpoint for operators: queue
// stats, supervised goroutines and pprof.
package admin

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	hpprof "net/http/pprof"
	"strings"
	"time"

	"pacer/internal/runtime/supervisor"
	logx "pacer/pkg/logx"
	"pacer/pkg/queue"
)

const DefaultAddr = "127.0.0.1:6060"

type Config struct {
	Addr  string
	Token string
}

// Source is what the endpoint reports on.
type Source interface {
	Queues() []queue.Stats
}

// LogCounter is optionally implemented by a Source; /healthz then reports
// warning and error counts.
type LogCounter interface {
	LogCounts() logx.Counts
}

type Server struct {
	cfg   Config
	log   logx.Logger
	src   Source
	tasks func() []supervisor.Stats
}

func New(cfg Config, src Source, tasks func() []supervisor.Stats, log logx.Logger) *Server {
	if strings.TrimSpace(cfg.Addr) == "" {
		cfg.Addr = DefaultAddr
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Server{cfg: cfg, log: log, src: src, tasks: tasks}
}

// Handler returns the endpoint's routes.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	wrap := func(h http.HandlerFunc) http.HandlerFunc { return withAuth(s.cfg.Token, h) }

	mux.HandleFunc("/healthz", wrap(func(w http.ResponseWriter, r *http.Request) {
		health := struct {
			Status string       `json:"status"`
			Logs   *logx.Counts `json:"logs,omitempty"`
		}{Status: "ok"}
		if lc, ok := s.src.(LogCounter); ok {
			c := lc.LogCounts()
			health.Logs = &c
		}
		writeJSON(w, health)
	}))
	mux.HandleFunc("/queues", wrap(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, s.src.Queues())
	}))
	mux.HandleFunc("/tasks", wrap(func(w http.ResponseWriter, r *http.Request) {
		var out []supervisor.Stats
		if s.tasks != nil {
			out = s.tasks()
		}
		writeJSON(w, out)
	}))
	mux.HandleFunc("/debug/pprof/", wrap(hpprof.Index))
	mux.HandleFunc("/debug/pprof/cmdline", wrap(hpprof.Cmdline))
	mux.HandleFunc("/debug/pprof/profile", wrap(hpprof.Profile))
	mux.HandleFunc("/debug/pprof/symbol", wrap(hpprof.Symbol))
	mux.HandleFunc("/debug/pprof/trace", wrap(hpprof.Trace))
	return mux
}

// Serve listens until ctx ends. Run it under supervisor.GoRestart.
func (s *Server) Serve(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		if ctx.Err() != nil {
			return context.Canceled
		}
		return err
	}
	return s.serve(ctx, ln)
}

func (s *Server) serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	go func() {
		<-ctx.Done()
		cctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		_ = srv.Shutdown(cctx)
		cancel()
	}()

	s.log.Info("admin endpoint started", logx.String("addr", ln.Addr().String()), logx.Bool("token_set", s.cfg.Token != ""))
	err := srv.Serve(ln)
	if ctx.Err() != nil {
		return nil
	}
	if err == nil || errors.Is(err, http.ErrServerClosed) {
		return errors.New("admin server exited unexpectedly")
	}
	return err
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	_ = enc.Encode(v)
}

// withAuth accepts "Authorization: Bearer <token>" or ?token=<token>.
func withAuth(token string, h http.HandlerFunc) http.HandlerFunc {
	tok := strings.TrimSpace(token)
	if tok == "" {
		return h
	}
	return func(w http.ResponseWriter, r *http.Request) {
		if got := r.URL.Query().Get("token"); got != "" {
			if got == tok {
				h(w, r)
				return
			}
			unauthorized(w)
			return
		}
		const p = "Bearer "
		if ah := r.Header.Get("Authorization"); strings.HasPrefix(ah, p) && strings.TrimSpace(strings.TrimPrefix(ah, p)) == tok {
			h(w, r)
			return
		}
		unauthorized(w)
	}
}

func unauthorized(w http.ResponseWriter) {
	w.Header().Set("WWW-Authenticate", "Bearer")
	http.Error(w, "unauthorized", http.StatusUnauthorized)
}
