// Package sweep removes pending folios that outlived their payment window
// without a live timer, e.g. after a restart lost the in-memory timers.
package sweep

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"folibot/internal/deadline"
	"folibot/internal/eventbus"
	"folibot/internal/storage"
	logx "folibot/pkg/logx"

	"github.com/robfig/cron/v3"
)

type Config struct {
	Enabled  bool
	Schedule string
	// A pending folio is orphaned once it is older than Deadline+Grace.
	Deadline time.Duration
	Grace    time.Duration
	// Timeout bounds one run.
	Timeout time.Duration
}

// Timers is the part of the deadline scheduler the sweeper consults.
type Timers interface {
	Owner(item string) (int64, bool)
	Stats() deadline.Stats
}

type Stats struct {
	Enabled  bool      `json:"enabled"`
	Running  bool      `json:"running"`
	Runs     uint64    `json:"runs"`
	Removed  uint64    `json:"removed"`
	Failures uint64    `json:"failures"`
	LastRun  time.Time `json:"last_run,omitzero"`
}

// Event is the Data of folio.swept events.
type Event struct {
	Folio string `json:"folio"`
	Owner int64  `json:"owner"`
}

var parser = cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// ValidateSchedule reports whether spec is a cron expression or descriptor
// ("@every 10m", "@hourly", "*/5 * * * *").
func ValidateSchedule(spec string) error {
	spec = strings.TrimSpace(spec)
	if spec == "" {
		return fmt.Errorf("schedule required")
	}
	if _, err := parser.Parse(spec); err != nil {
		return fmt.Errorf("invalid schedule %q: %w", spec, err)
	}
	return nil
}

type Option func(*Service)

func WithNow(now func() time.Time) Option { return func(s *Service) { s.now = now } }
func WithBus(b eventbus.Bus) Option       { return func(s *Service) { s.bus = b } }

type Service struct {
	log    logx.Logger
	store  storage.Store
	timers Timers
	bus    eventbus.Bus
	now    func() time.Time

	mu  sync.Mutex
	cfg Config
	c   *cron.Cron

	// one run at a time; cron may fire while a slow run is still going
	runMu sync.Mutex

	runs     atomic.Uint64
	removed  atomic.Uint64
	failures atomic.Uint64
	lastRun  atomic.Int64
}

func New(cfg Config, store storage.Store, timers Timers, log logx.Logger, opts ...Option) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	s := &Service{
		log:    log.With(logx.String("comp", "sweep")),
		store:  store,
		timers: timers,
		bus:    eventbus.Nop(),
		now:    time.Now,
		cfg:    normalize(cfg),
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

func normalize(cfg Config) Config {
	if strings.TrimSpace(cfg.Schedule) == "" {
		cfg.Schedule = "@every 10m"
	}
	if cfg.Grace < 0 {
		cfg.Grace = 0
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = time.Minute
	}
	return cfg
}

func (s *Service) Enabled() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cfg.Enabled
}

// Start registers the sweep job. It is a no-op when disabled or running.
func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.startLocked(ctx)
}

func (s *Service) startLocked(ctx context.Context) error {
	if s.c != nil || !s.cfg.Enabled {
		return nil
	}
	c := cron.New(cron.WithParser(parser))
	spec := s.cfg.Schedule
	if _, err := c.AddFunc(spec, func() { s.tick(ctx) }); err != nil {
		return fmt.Errorf("sweep schedule %q: %w", spec, err)
	}
	c.Start()
	s.c = c
	s.log.Info("sweep started", logx.String("schedule", spec), logx.Duration("grace", s.cfg.Grace))
	return nil
}

// Stop waits for a running sweep to finish or ctx to expire.
func (s *Service) Stop(ctx context.Context) {
	s.mu.Lock()
	c := s.c
	s.c = nil
	s.mu.Unlock()
	if c == nil {
		return
	}
	select {
	case <-c.Stop().Done():
	case <-ctx.Done():
	}
	s.log.Info("sweep stopped")
}

// Apply swaps the config and restarts the cron job when the schedule or the
// enabled flag changed.
func (s *Service) Apply(ctx context.Context, cfg Config) error {
	cfg = normalize(cfg)
	s.mu.Lock()
	prev := s.cfg
	s.cfg = cfg
	c := s.c
	restart := c != nil && (prev.Schedule != cfg.Schedule || !cfg.Enabled)
	if restart {
		s.c = nil
	}
	s.mu.Unlock()

	if restart {
		<-c.Stop().Done()
	}
	if restart || c == nil {
		return s.Start(ctx)
	}
	return nil
}

func (s *Service) tick(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}
	if _, err := s.RunOnce(ctx); err != nil {
		s.log.Warn("sweep failed", logx.Err(err))
	}
}

// RunOnce deletes orphaned pending folios and returns how many it removed.
func (s *Service) RunOnce(ctx context.Context) (int, error) {
	s.runMu.Lock()
	defer s.runMu.Unlock()

	s.mu.Lock()
	cfg := s.cfg
	s.mu.Unlock()

	ctx, cancel := context.WithTimeout(ctx, cfg.Timeout)
	defer cancel()

	now := s.now()
	s.runs.Add(1)
	s.lastRun.Store(now.UnixNano())

	cutoff := now.Add(-(cfg.Deadline + cfg.Grace))
	stale, err := s.store.ListByStatus(ctx, storage.StatusPending, cutoff)
	if err != nil {
		s.failures.Add(1)
		return 0, fmt.Errorf("list pending: %w", err)
	}

	removed := 0
	for _, f := range stale {
		if _, live := s.timers.Owner(f.Folio); live {
			continue
		}
		if err := s.store.Delete(ctx, f.Folio); err != nil {
			s.failures.Add(1)
			s.log.Warn("orphan delete failed", logx.String("folio", f.Folio), logx.Err(err))
			continue
		}
		removed++
		s.removed.Add(1)
		_ = s.store.AppendAudit(ctx, storage.AuditEntry{At: now, Action: "sweep", Folio: f.Folio, OK: true})
		s.bus.Publish(eventbus.Event{Type: eventbus.FolioSwept, Time: now, Data: Event{Folio: f.Folio, Owner: f.Owner}})
	}

	st := s.timers.Stats()
	s.log.Info("sweep done",
		logx.Int("checked", len(stale)),
		logx.Int("removed", removed),
		logx.Int("active_timers", st.Active),
		logx.Int("owners", st.Owners),
	)
	return removed, nil
}

func (s *Service) Stats() Stats {
	s.mu.Lock()
	st := Stats{Enabled: s.cfg.Enabled, Running: s.c != nil}
	s.mu.Unlock()
	st.Runs = s.runs.Load()
	st.Removed = s.removed.Load()
	st.Failures = s.failures.Load()
	if n := s.lastRun.Load(); n != 0 {
		st.LastRun = time.Unix(0, n)
	}
	return st
}
