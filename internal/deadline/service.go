package deadline

import (
	"cmp"
	"context"
	"slices"
	"sync"
	"time"

	"folibot/internal/eventbus"
	"folibot/internal/notifier"
	rtsup "folibot/internal/runtime/supervisor"
	logx "folibot/pkg/logx"
)

// Notifier is the outbound sink for reminders and expiry notices.
type Notifier interface {
	Send(ctx context.Context, owner int64, text string) notifier.Outcome
}

// ItemStore deletes an expired item. Failures are logged and never stop the
// terminal notice.
type ItemStore interface {
	Delete(ctx context.Context, item string) error
}

type Config struct {
	Schedule Schedule
	// StoreTimeout bounds the delete issued at expiry.
	StoreTimeout time.Duration
	// SendTimeout bounds each notification call.
	SendTimeout time.Duration
}

type Option func(*Service)

func WithClock(c Clock) Option         { return func(s *Service) { s.clock = c } }
func WithFormatter(f Formatter) Option { return func(s *Service) { s.format = f } }
func WithBus(b eventbus.Bus) Option    { return func(s *Service) { s.bus = b } }

// Service owns every live timer. It is the only code that mutates the
// registry; Start, Cancel and lookups never wait on a worker.
type Service struct {
	log    logx.Logger
	clock  Clock
	format Formatter
	bus    eventbus.Bus
	sink   Notifier
	store  ItemStore
	reg    *registry
	sup    *rtsup.Supervisor

	mu      sync.RWMutex
	cfg     Config
	stopped bool
}

// TimerInfo describes one live timer.
type TimerInfo struct {
	Item      string        `json:"item"`
	Owner     int64         `json:"owner"`
	Started   time.Time     `json:"started"`
	Remaining time.Duration `json:"remaining"`
}

type Stats struct {
	Active  int    `json:"active"`
	Owners  int    `json:"owners"`
	Workers int64  `json:"workers"`
	Started uint64 `json:"started"`
}

type Event struct {
	Item      string        `json:"item"`
	Owner     int64         `json:"owner"`
	Remaining time.Duration `json:"remaining,omitempty"`
	Reason    string        `json:"reason,omitempty"`
}

func New(cfg Config, sink Notifier, store ItemStore, log logx.Logger, opts ...Option) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	log = log.With(logx.String("comp", "deadline"))
	s := &Service{
		log:    log,
		clock:  SystemClock,
		format: plainFormatter{},
		bus:    eventbus.Nop(),
		sink:   sink,
		store:  store,
		reg:    newRegistry(),
	}
	for _, o := range opts {
		o(s)
	}
	s.cfg = normalize(cfg)
	s.sup = rtsup.New(context.Background(), rtsup.WithLogger(log))
	return s
}

func normalize(cfg Config) Config {
	if cfg.Schedule.IsZero() {
		cfg.Schedule = DefaultSchedule()
	}
	if cfg.StoreTimeout <= 0 {
		cfg.StoreTimeout = 10 * time.Second
	}
	if cfg.SendTimeout <= 0 {
		cfg.SendTimeout = 10 * time.Second
	}
	return cfg
}

// Apply swaps the configuration. Running timers keep the schedule they
// started with.
func (s *Service) Apply(cfg Config) {
	cfg = normalize(cfg)
	s.mu.Lock()
	s.cfg = cfg
	s.mu.Unlock()
}

func (s *Service) config() Config {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cfg
}

func (s *Service) Supervisor() *rtsup.Supervisor { return s.sup }

// Start registers a timer for item and launches its worker.
func (s *Service) Start(owner int64, item string) error {
	// The read lock keeps Shutdown from stopping the supervisor between the
	// stopped check and the worker launch.
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.stopped {
		return ErrStopped
	}
	sched := s.cfg.Schedule

	rec := &record{
		item:    item,
		owner:   owner,
		started: s.clock.Now(),
		sched:   sched,
		cancel:  make(chan struct{}),
		done:    make(chan struct{}),
	}
	if err := s.reg.add(rec); err != nil {
		return err
	}
	s.sup.Go0("deadline.worker", func(ctx context.Context) { s.run(ctx, rec) })

	s.log.Info("timer started", logx.String("folio", item), logx.Int64("owner", owner), logx.Duration("deadline", sched.Deadline()))
	s.publish(eventbus.DeadlineStarted, Event{Item: item, Owner: owner, Remaining: sched.Deadline()})
	return nil
}

// Cancel removes the timer for item. It reports false when there was none.
func (s *Service) Cancel(item string) bool {
	_, ok := s.CancelOwner(item)
	return ok
}

// CancelOwner is Cancel that also returns the owner of the removed timer,
// read under the same lock that removed it.
func (s *Service) CancelOwner(item string) (int64, bool) {
	rec, ok := s.reg.remove(item)
	if !ok {
		return 0, false
	}
	s.log.Info("timer cancelled", logx.String("folio", item), logx.Int64("owner", rec.owner))
	s.publish(eventbus.DeadlineCancelled, Event{Item: item, Owner: rec.owner})
	return rec.owner, true
}

// ActiveItemsFor lists owner's live items in start order.
func (s *Service) ActiveItemsFor(owner int64) []string {
	items := s.reg.itemsFor(owner)
	if items == nil {
		return []string{}
	}
	return items
}

// RemainingTime reports how long until item expires, floored at zero.
func (s *Service) RemainingTime(item string) (time.Duration, bool) {
	rec, ok := s.reg.get(item)
	if !ok {
		return 0, false
	}
	return s.remaining(rec), true
}

func (s *Service) remaining(rec *record) time.Duration {
	left := rec.sched.Deadline() - s.clock.Now().Sub(rec.started)
	return max(left, 0)
}

// Owner returns the owner of a live item.
func (s *Service) Owner(item string) (int64, bool) {
	rec, ok := s.reg.get(item)
	if !ok {
		return 0, false
	}
	return rec.owner, true
}

// Snapshot lists live timers, soonest deadline first.
func (s *Service) Snapshot() []TimerInfo {
	recs := s.reg.all()
	out := make([]TimerInfo, 0, len(recs))
	for _, rec := range recs {
		out = append(out, TimerInfo{Item: rec.item, Owner: rec.owner, Started: rec.started, Remaining: s.remaining(rec)})
	}
	slices.SortFunc(out, func(a, b TimerInfo) int {
		return cmp.Or(cmp.Compare(a.Remaining, b.Remaining), cmp.Compare(a.Item, b.Item))
	})
	return out
}

func (s *Service) Stats() Stats {
	items, owners := s.reg.len()
	c := s.sup.Counters()
	return Stats{Active: items, Owners: owners, Workers: c.Active, Started: c.Started}
}

// Shutdown stops every worker without running terminal actions. Timers are
// not persisted; Start fails afterwards.
func (s *Service) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return nil
	}
	s.stopped = true
	s.mu.Unlock()

	items, _ := s.reg.len()
	s.log.Info("deadline scheduler stopping", logx.Int("active", items))
	return s.sup.Stop(ctx)
}

func (s *Service) publish(typ string, e Event) {
	s.bus.Publish(eventbus.Event{Type: typ, Time: s.clock.Now(), Data: e})
}
