package metrics

import (
	"context"
	"errors"
	"net"
	"net/http"
	"net/http/pprof"
	"sync"
	"time"

	logx "subwatch/pkg/logx"
)

// ServerConfig controls the optional /metrics listener.
type ServerConfig struct {
	Enabled bool
	Addr    string
	Pprof   bool // also mount /debug/pprof/
}

// Server manages lifecycle for the metrics HTTP listener.
type Server struct {
	mu      sync.Mutex
	log     logx.Logger
	handler http.Handler

	srv   *http.Server
	ln    net.Listener
	addr  string
	pprof bool
}

func NewServer(m *Metrics, log logx.Logger) *Server {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Server{log: log.With(logx.Component("metrics")), handler: m.Handler()}
}

// Apply starts, restarts or stops the listener according to cfg.
func (s *Server) Apply(ctx context.Context, cfg ServerConfig) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !cfg.Enabled {
		s.stopLocked(ctx)
		return nil
	}
	if s.srv != nil && s.addr == cfg.Addr && s.pprof == cfg.Pprof {
		return nil
	}
	s.stopLocked(ctx)
	return s.startLocked(cfg)
}

func (s *Server) startLocked(cfg ServerConfig) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", s.handler)
	if cfg.Pprof {
		mux.HandleFunc("/debug/pprof/", pprof.Index)
		mux.HandleFunc("/debug/pprof/cmdline", pprof.Cmdline)
		mux.HandleFunc("/debug/pprof/profile", pprof.Profile)
		mux.HandleFunc("/debug/pprof/symbol", pprof.Symbol)
		mux.HandleFunc("/debug/pprof/trace", pprof.Trace)
	}

	ln, err := net.Listen("tcp", cfg.Addr)
	if err != nil {
		return err
	}
	srv := &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	s.srv, s.ln, s.addr, s.pprof = srv, ln, ln.Addr().String(), cfg.Pprof

	addr := s.addr
	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.log.Warn("metrics server error", logx.String("addr", addr), logx.Err(err))
		}
	}()
	s.log.Info("metrics enabled", logx.String("addr", addr), logx.Bool("pprof", cfg.Pprof))
	return nil
}

// Stop gracefully shuts down the listener.
func (s *Server) Stop(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopLocked(ctx)
}

func (s *Server) stopLocked(ctx context.Context) {
	if s.srv == nil {
		return
	}
	srv, ln, addr := s.srv, s.ln, s.addr
	s.srv, s.ln, s.addr = nil, nil, ""

	sctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := srv.Shutdown(sctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		s.log.Warn("metrics shutdown error", logx.String("addr", addr), logx.Err(err))
	}
	_ = ln.Close()
	s.log.Info("metrics disabled", logx.String("addr", addr))
}

// Addr reports the actual listen address if running.
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.addr
}
