// Package httpapi serves the public permit lookup page, a health endpoint
// and, optionally, pprof behind a token.
package httpapi

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"folibot/internal/folio"
	rtsup "folibot/internal/runtime/supervisor"
	logx "folibot/pkg/logx"
)

// Config controls the HTTP server.
//
// Security:
//   - pprof is mounted only when Pprof is set and either Token is set, the
//     address is loopback, or AllowInsecure is set.
//   - Token guards pprof only; lookup and health stay public.
type Config struct {
	Enabled       bool
	Addr          string
	Token         string
	Pprof         bool
	AllowInsecure bool

	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
}

// Lookup resolves a folio for the public permit page.
type Lookup interface {
	Lookup(ctx context.Context, id string) (folio.Permit, error)
}

// Health is the JSON body of "/".
type Health struct {
	Status       string         `json:"status"`
	Uptime       string         `json:"uptime"`
	ActiveTimers int            `json:"active_timers"`
	Owners       int            `json:"owners"`
	Intakes      int            `json:"intakes"`
	Extra        map[string]any `json:"extra,omitempty"`
}

// HealthFunc fills the live counters of Health.
type HealthFunc func() Health

type Service struct {
	log    logx.Logger
	lookup Lookup
	health HealthFunc
	entity func() string
	start  time.Time

	mu   sync.Mutex
	cfg  Config
	base context.Context // parent for restarts triggered by Reconfigure
	run  *running
}

// running is one live listener and its server.
type running struct {
	ln  net.Listener
	srv *http.Server
	sup *rtsup.Supervisor
}

type Option func(*Service)

// WithEntity sets the issuer name rendered on the lookup page.
func WithEntity(fn func() string) Option { return func(s *Service) { s.entity = fn } }

func New(cfg Config, lookup Lookup, health HealthFunc, log logx.Logger, opts ...Option) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	if health == nil {
		health = func() Health { return Health{} }
	}
	s := &Service{
		cfg:    cfg,
		log:    log.With(logx.String("comp", "http")),
		lookup: lookup,
		health: health,
		entity: func() string { return "" },
		start:  time.Now(),
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Supervisor returns the serving supervisor, nil when stopped.
func (s *Service) Supervisor() *rtsup.Supervisor {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.run == nil {
		return nil
	}
	return s.run.sup
}

func (s *Service) Enabled() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cfg.Enabled
}

// Addr is the bound address while serving, "" otherwise.
func (s *Service) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.run == nil {
		return ""
	}
	return s.run.ln.Addr().String()
}

// Start binds the listener and serves until ctx ends or Stop. It is a no-op
// when disabled or already running.
func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.base = ctx
	return s.startLocked()
}

func (s *Service) startLocked() error {
	if s.run != nil || !s.cfg.Enabled {
		return nil
	}
	cfg := s.cfg
	addr := strings.TrimSpace(cfg.Addr)
	if addr == "" {
		addr = "127.0.0.1:8080"
	}
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("http listen %s: %w", addr, err)
	}
	srv := &http.Server{
		Handler:      s.handler(cfg, ln.Addr().String()),
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}
	// the bot keeps running when the web side fails
	sup := rtsup.New(s.base, rtsup.WithLogger(s.log), rtsup.WithCancelOnError(false))
	sup.Go("http.serve", func(context.Context) error {
		if err := srv.Serve(ln); !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	sup.Go0("http.shutdown", func(ctx context.Context) {
		<-ctx.Done()
		sctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(sctx)
	})
	s.run = &running{ln: ln, srv: srv, sup: sup}

	bound := ln.Addr().String()
	s.log.Info("http started",
		logx.String("addr", bound),
		logx.Bool("pprof", pprofAllowed(cfg, bound)),
		logx.String("url", "http://"+bound+"/"),
	)
	return nil
}

// Stop shuts the server down, waiting for in-flight requests until ctx ends.
func (s *Service) Stop(ctx context.Context) {
	s.mu.Lock()
	r := s.run
	s.run = nil
	s.mu.Unlock()
	s.stop(ctx, r)
}

func (s *Service) stop(ctx context.Context, r *running) {
	if r == nil {
		return
	}
	if err := r.srv.Shutdown(ctx); err != nil {
		_ = r.srv.Close()
	}
	r.sup.Cancel()
	_ = r.sup.Wait(ctx)
	s.log.Info("http stopped")
}

// Reconfigure applies cfg, starting, stopping or rebinding the server as
// needed. Lookup texts follow config without a restart.
func (s *Service) Reconfigure(ctx context.Context, cfg Config) error {
	s.mu.Lock()
	prev := s.cfg
	s.cfg = cfg
	var old *running
	if s.run != nil && (!cfg.Enabled || needsRestart(prev, cfg)) {
		old, s.run = s.run, nil
	}
	s.mu.Unlock()

	s.stop(ctx, old)

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.base == nil {
		// never started; Start picks up cfg
		return nil
	}
	return s.startLocked()
}

func needsRestart(a, b Config) bool {
	return a.Addr != b.Addr ||
		a.Token != b.Token ||
		a.Pprof != b.Pprof ||
		a.AllowInsecure != b.AllowInsecure ||
		a.ReadTimeout != b.ReadTimeout ||
		a.WriteTimeout != b.WriteTimeout ||
		a.IdleTimeout != b.IdleTimeout
}

// pprofAllowed refuses to expose pprof on a public address without auth.
func pprofAllowed(cfg Config, addr string) bool {
	if !cfg.Pprof {
		return false
	}
	return cfg.Token != "" || cfg.AllowInsecure || isLoopbackAddr(addr)
}

func isLoopbackAddr(addr string) bool {
	h, _, err := net.SplitHostPort(addr)
	if err != nil {
		return false
	}
	h = strings.TrimSpace(h)
	if h == "" {
		// all interfaces
		return false
	}
	if strings.EqualFold(h, "localhost") {
		return true
	}
	ip := net.ParseIP(h)
	return ip != nil && ip.IsLoopback()
}
