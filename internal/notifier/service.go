package notifier

import (
	"context"
	"errors"
	"math/rand/v2"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"folibot/internal/eventbus"
	rtsup "folibot/internal/runtime/supervisor"
	kit "folibot/internal/transport"
	logx "folibot/pkg/logx"

	"github.com/google/uuid"
)

var (
	ErrDisabled  = errors.New("notifier disabled")
	ErrQueueFull = errors.New("notifier queue full")
	ErrStopped   = errors.New("notifier stopped")
	ErrEmpty     = errors.New("empty message")
)

type job struct {
	id    string
	owner int64
	text  string
}

// pipeline is one started queue with its workers. Stop detaches it, so a
// new Start never shares a queue with a draining one.
type pipeline struct {
	queue    chan job
	sup      *rtsup.Supervisor
	inflight sync.WaitGroup // Send calls between the accept check and the enqueue
}

// Service is safe for concurrent use.
type Service struct {
	log    logx.Logger
	sender kit.Sender
	bus    eventbus.Bus

	mu  sync.Mutex
	cfg Config
	p   *pipeline

	sent     atomic.Uint64
	failed   atomic.Uint64
	rejected atomic.Uint64

	history ring
}

func New(cfg Config, sender kit.Sender, log logx.Logger, bus eventbus.Bus) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	if bus == nil {
		bus = eventbus.Nop()
	}
	return &Service{
		sender: sender,
		log:    log.With(logx.String("comp", "notifier")),
		bus:    bus,
		cfg:    normalize(cfg),
	}
}

func normalize(cfg Config) Config {
	if cfg.Workers <= 0 {
		cfg.Workers = 2
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 256
	}
	cfg.RetryMax = max(cfg.RetryMax, 0)
	if cfg.RetryBase <= 0 {
		cfg.RetryBase = 500 * time.Millisecond
	}
	if cfg.RetryMaxDelay <= 0 {
		cfg.RetryMaxDelay = 10 * time.Second
	}
	if cfg.SendTimeout <= 0 {
		cfg.SendTimeout = 10 * time.Second
	}
	if cfg.HistorySize <= 0 {
		cfg.HistorySize = 100
	}
	return cfg
}

// Supervisor returns the worker supervisor, nil when stopped.
func (s *Service) Supervisor() *rtsup.Supervisor {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.p == nil {
		return nil
	}
	return s.p.sup
}

func (s *Service) Enabled() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cfg.Enabled
}

// Apply swaps retry and history settings at once. Queue size and worker
// count take effect on the next Start.
func (s *Service) Apply(cfg Config) {
	s.mu.Lock()
	s.cfg = normalize(cfg)
	s.mu.Unlock()
}

// Start launches the workers. It is a no-op when disabled or running.
func (s *Service) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.p != nil || !s.cfg.Enabled {
		return
	}
	p := &pipeline{
		queue: make(chan job, s.cfg.QueueSize),
		sup:   rtsup.New(ctx, rtsup.WithLogger(s.log), rtsup.WithCancelOnError(false)),
	}
	for i := range s.cfg.Workers {
		p.sup.GoRestart("notifier.worker."+strconv.Itoa(i), func(c context.Context) error {
			return s.work(c, p.queue)
		}, rtsup.WithPublishFirstError(true), rtsup.WithStopOnCleanExit(true))
	}
	s.p = p
	s.log.Debug("notifier started", logx.Int("workers", s.cfg.Workers))
}

// Stop refuses new sends and lets the workers drain the queue until ctx
// ends. Whatever is left then is dropped.
func (s *Service) Stop(ctx context.Context) {
	s.mu.Lock()
	p := s.p
	s.p = nil
	s.mu.Unlock()
	if p == nil {
		return
	}

	p.inflight.Wait()
	close(p.queue)
	_ = p.sup.Wait(ctx)
	if ctx.Err() != nil {
		p.sup.Cancel()
		s.log.Warn("notifier stopped before draining", logx.Int("left", len(p.queue)))
	}
}

// Send queues text for the owner's private chat and returns at once. A
// message that cannot be queued is reported in the Outcome.
func (s *Service) Send(ctx context.Context, owner int64, text string) Outcome {
	if err := ctx.Err(); err != nil {
		return s.reject(owner, err)
	}
	if text == "" {
		return s.reject(owner, ErrEmpty)
	}

	s.mu.Lock()
	enabled, p := s.cfg.Enabled, s.p
	if p != nil {
		p.inflight.Add(1)
	}
	s.mu.Unlock()

	switch {
	case !enabled:
		if p != nil {
			p.inflight.Done()
		}
		return s.reject(owner, ErrDisabled)
	case p == nil:
		return s.reject(owner, ErrStopped)
	}
	defer p.inflight.Done()

	select {
	case p.queue <- job{id: uuid.NewString(), owner: owner, text: text}:
		return Accepted()
	default:
		return s.reject(owner, ErrQueueFull)
	}
}

func (s *Service) reject(owner int64, err error) Outcome {
	s.rejected.Add(1)
	s.log.Warn("notification rejected", logx.Owner(owner), logx.Err(err))
	return Rejected(err)
}

// History returns delivered messages, oldest first.
func (s *Service) History() []HistoryItem { return s.history.items() }

func (s *Service) Stats() Stats {
	s.mu.Lock()
	st := Stats{Enabled: s.cfg.Enabled, Running: s.p != nil}
	if s.p != nil {
		st.QueueLen, st.QueueCap = len(s.p.queue), cap(s.p.queue)
	}
	s.mu.Unlock()
	st.Sent = s.sent.Load()
	st.Failed = s.failed.Load()
	st.Rejected = s.rejected.Load()
	st.HistoryN = s.history.len()
	return st
}

// work drains q until it is closed. A nil return ends the worker for good.
func (s *Service) work(ctx context.Context, q <-chan job) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case j, ok := <-q:
			if !ok {
				return nil
			}
			s.deliver(ctx, j)
		}
	}
}

func (s *Service) deliver(ctx context.Context, j job) {
	s.mu.Lock()
	cfg := s.cfg
	s.mu.Unlock()
	if s.sender == nil {
		return
	}

	attempts := 1 + cfg.RetryMax
	var err error
	for attempt := 1; ; attempt++ {
		callCtx, cancel := context.WithTimeout(ctx, cfg.SendTimeout)
		_, err = s.sender.SendText(callCtx, kit.ChatTarget{ChatID: j.owner}, j.text, nil)
		cancel()
		if err == nil {
			s.sent.Add(1)
			now := time.Now()
			s.history.add(HistoryItem{ID: j.id, At: now, Owner: j.owner, Text: j.text}, cfg.HistorySize)
			s.publish(eventbus.NotifySent, NotificationEvent{ID: j.id, Owner: j.owner, Attempts: attempt, At: now})
			return
		}
		s.log.Debug("notify send failed", logx.String("id", j.id), logx.Int("attempt", attempt), logx.Int("max", attempts), logx.Err(err))
		if attempt == attempts {
			break
		}
		t := time.NewTimer(retryDelay(cfg, attempt))
		select {
		case <-t.C:
		case <-ctx.Done():
			t.Stop()
			return
		}
	}

	s.failed.Add(1)
	s.log.Warn("notification dropped after retries", logx.String("id", j.id), logx.Owner(j.owner), logx.Err(err))
	s.publish(eventbus.NotifyFailed, NotificationEvent{ID: j.id, Owner: j.owner, Attempts: attempts, At: time.Now(), Error: err.Error()})
}

func (s *Service) publish(t string, ev NotificationEvent) {
	s.bus.Publish(eventbus.Event{Type: t, Time: ev.At, Data: ev})
}

// retryDelay is the wait after a failed attempt: RetryBase doubled per
// attempt, jittered by ±30% and capped at RetryMaxDelay.
func retryDelay(cfg Config, attempt int) time.Duration {
	d := cfg.RetryBase << min(attempt-1, 30)
	if d <= 0 || d > cfg.RetryMaxDelay {
		d = cfg.RetryMaxDelay
	}
	d = time.Duration(float64(d) * (0.7 + 0.6*rand.Float64()))
	return min(max(d, time.Millisecond), cfg.RetryMaxDelay)
}

// ring keeps the newest delivered messages.
type ring struct {
	mu  sync.Mutex
	buf []HistoryItem
}

func (r *ring) add(it HistoryItem, limit int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.buf = append(r.buf, it)
	if over := len(r.buf) - limit; over > 0 {
		r.buf = append(r.buf[:0], r.buf[over:]...)
	}
}

func (r *ring) items() []HistoryItem {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]HistoryItem(nil), r.buf...)
}

func (r *ring) len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.buf)
}
