// Package intake runs the step-by-step conversation that collects the vehicle
// data for a new folio. Sessions live in a bounded LRU and expire after a TTL
// of inactivity.
package intake

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	logx "folibot/pkg/logx"

	"github.com/hashicorp/golang-lru/v2/expirable"
)

var ErrNoSession = errors.New("no intake in progress")

// Draft is the data collected by a finished intake. Values are upper-cased.
type Draft struct {
	Marca  string `json:"marca"`
	Linea  string `json:"linea"`
	Anio   string `json:"anio"`
	Serie  string `json:"serie"`
	Motor  string `json:"motor"`
	Color  string `json:"color"`
	Nombre string `json:"nombre"`
}

type Config struct {
	TTL         time.Duration
	MaxSessions int
}

// Reply is the outcome of one answer. When Done is set the session is closed
// and Draft holds every field.
type Reply struct {
	Text  string
	Retry bool
	Done  bool
	Draft Draft
}

type session struct {
	owner   int64
	step    int
	draft   Draft
	started time.Time
}

// Manager holds one session per owner.
type Manager struct {
	log logx.Logger

	mu    sync.Mutex
	cfg   Config
	cache *expirable.LRU[int64, *session]
}

func New(cfg Config, log logx.Logger) *Manager {
	if log.IsZero() {
		log = logx.Nop()
	}
	m := &Manager{log: log.With(logx.String("comp", "intake"))}
	m.cfg = normalize(cfg)
	m.cache = m.newCache(m.cfg)
	return m
}

func normalize(cfg Config) Config {
	if cfg.TTL <= 0 {
		cfg.TTL = 30 * time.Minute
	}
	if cfg.MaxSessions <= 0 {
		cfg.MaxSessions = 1000
	}
	return cfg
}

func (m *Manager) newCache(cfg Config) *expirable.LRU[int64, *session] {
	return expirable.NewLRU(cfg.MaxSessions, func(owner int64, s *session) {
		m.log.Debug("intake session closed", logx.Int64("owner", owner), logx.Int("step", s.step+1))
	}, cfg.TTL)
}

// Apply resizes the session cache. Live sessions are carried over and get a
// fresh TTL.
func (m *Manager) Apply(cfg Config) {
	cfg = normalize(cfg)
	m.mu.Lock()
	defer m.mu.Unlock()
	if cfg == m.cfg {
		return
	}
	old := m.cache
	next := m.newCache(cfg)
	for _, owner := range old.Keys() {
		if s, ok := old.Peek(owner); ok {
			next.Add(owner, s)
		}
	}
	m.cache = next
	m.cfg = cfg
	old.Purge()
}

// Begin starts (or restarts) the intake for owner and returns the first prompt.
func (m *Manager) Begin(owner int64) string {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cache.Add(owner, &session{owner: owner, started: time.Now()})
	return prompt(0)
}

// Active reports whether owner is in the middle of an intake.
func (m *Manager) Active(owner int64) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.cache.Get(owner)
	return ok
}

// Cancel drops the session. It reports false when there was none.
func (m *Manager) Cancel(owner int64) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.cache.Remove(owner)
}

func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.cache.Len()
}

// Answer records text as the answer to the current step.
func (m *Manager) Answer(owner int64, text string) (Reply, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.cache.Get(owner)
	if !ok {
		return Reply{}, ErrNoSession
	}
	st := steps[s.step]
	value := strings.TrimSpace(text)
	if st.upper {
		value = strings.ToUpper(value)
	}
	if st.check != nil {
		if msg := st.check(value); msg != "" {
			m.cache.Add(owner, s)
			return Reply{Text: msg, Retry: true}, nil
		}
	}
	st.set(&s.draft, value)
	ack := fmt.Sprintf("✅ %s: %s", st.label, value)

	s.step++
	if s.step == len(steps) {
		m.cache.Remove(owner)
		m.log.Debug("intake completed", logx.Int64("owner", owner), logx.Duration("took", time.Since(s.started)))
		return Reply{Text: ack, Done: true, Draft: s.draft}, nil
	}
	m.cache.Add(owner, s)
	return Reply{Text: ack + "\n\n" + prompt(s.step)}, nil
}

func prompt(i int) string {
	return fmt.Sprintf("Paso %d/%d: %s", i+1, len(steps), steps[i].ask)
}
