package config

import (
	"context"
	"encoding/json"
	"errors"
	"hash/fnv"
	"math/rand/v2"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	logx "folibot/pkg/logx"

	"github.com/fsnotify/fsnotify"
)

// ConfigManager owns the committed config and republishes it when the file
// changes on disk.
type ConfigManager struct {
	path     string
	debounce time.Duration

	log       logx.Logger
	validator func(ctx context.Context, cfg *Config) error

	mu  sync.RWMutex
	cfg *Config
	sum uint64

	subsMu sync.Mutex
	subs   map[chan *Config]struct{}
}

func NewConfigManager(path string) *ConfigManager {
	return &ConfigManager{
		path:     path,
		debounce: 250 * time.Millisecond,
		log:      logx.Nop(),
		subs:     map[chan *Config]struct{}{},
	}
}

func (m *ConfigManager) Path() string { return m.path }

func (m *ConfigManager) SetLogger(log logx.Logger) {
	if log.IsZero() {
		log = logx.Nop()
	}
	m.log = log
}

// SetValidator installs an extra check run after Validate on every load.
func (m *ConfigManager) SetValidator(fn func(ctx context.Context, cfg *Config) error) {
	m.validator = fn
}

// Parse reads and decodes the file without validating or committing it.
func (m *ConfigManager) Parse() (*Config, error) {
	b, err := os.ReadFile(m.path)
	if err != nil {
		return nil, err
	}
	return Decode(m.path, b)
}

func (m *ConfigManager) check(ctx context.Context, cfg *Config) error {
	if err := Validate(cfg); err != nil {
		return err
	}
	if m.validator == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	return m.validator(ctx, cfg)
}

// Load parses, validates and commits the file.
func (m *ConfigManager) Load(ctx context.Context) (*Config, error) {
	cfg, err := m.Parse()
	if err != nil {
		return nil, err
	}
	if err := m.check(ctx, cfg); err != nil {
		return nil, err
	}
	m.Commit(cfg)
	return cfg, nil
}

// Commit makes cfg current without notifying subscribers.
func (m *ConfigManager) Commit(cfg *Config) {
	sum := checksum(cfg)
	m.mu.Lock()
	m.cfg, m.sum = cfg, sum
	m.mu.Unlock()
}

func (m *ConfigManager) Get() *Config {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.cfg
}

// checksum identifies a decoded config so repeated write events for one
// save do not republish it. 0 means unknown.
func checksum(cfg *Config) uint64 {
	if cfg == nil {
		return 0
	}
	b, err := json.Marshal(cfg)
	if err != nil {
		return 0
	}
	h := fnv.New64a()
	_, _ = h.Write(b)
	return h.Sum64()
}

// Subscribe returns a channel that receives every committed reload. A slow
// subscriber only ever misses older configs, never the newest.
func (m *ConfigManager) Subscribe(buffer int) chan *Config {
	ch := make(chan *Config, max(1, buffer))
	m.subsMu.Lock()
	m.subs[ch] = struct{}{}
	m.subsMu.Unlock()
	return ch
}

// Unsubscribe closes ch. Unknown channels are ignored.
func (m *ConfigManager) Unsubscribe(ch chan *Config) {
	m.subsMu.Lock()
	defer m.subsMu.Unlock()
	if _, ok := m.subs[ch]; ok {
		delete(m.subs, ch)
		close(ch)
	}
}

func (m *ConfigManager) publish(cfg *Config) {
	m.subsMu.Lock()
	defer m.subsMu.Unlock()
	for ch := range m.subs {
		offer(ch, cfg)
	}
}

// offer delivers cfg, evicting pending configs while ch is full. Only
// publish sends, under subsMu, so the loop ends.
func offer(ch chan *Config, cfg *Config) {
	for {
		select {
		case ch <- cfg:
			return
		default:
		}
		select {
		case <-ch:
		default:
		}
	}
}

// reload runs after a debounced file change.
func (m *ConfigManager) reload(ctx context.Context) {
	cfg, err := m.Parse()
	if err != nil {
		m.log.Warn("config parse failed", logx.String("path", m.path), logx.Err(err))
		return
	}
	sum := checksum(cfg)
	m.mu.RLock()
	same := sum != 0 && sum == m.sum
	m.mu.RUnlock()
	if same {
		m.log.Debug("config unchanged", logx.String("path", m.path))
		return
	}
	if err := m.check(ctx, cfg); err != nil {
		m.log.Warn("config rejected", logx.String("path", m.path), logx.Err(err))
		return
	}
	m.Commit(cfg)
	m.publish(cfg)
}

// debouncer runs fn once d after the last kick.
type debouncer struct {
	d  time.Duration
	fn func()

	mu sync.Mutex
	t  *time.Timer
}

func (b *debouncer) kick() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.t != nil {
		b.t.Stop()
	}
	b.t = time.AfterFunc(b.d, b.fn)
}

func (b *debouncer) stop() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.t != nil {
		b.t.Stop()
	}
}

const (
	watchBackoffMin = 250 * time.Millisecond
	watchBackoffMax = 5 * time.Second
)

var errWatcherClosed = errors.New("watcher closed")

// Watch reloads the file on change until ctx is done. The directory is
// watched so editors that replace the file are seen. A broken watcher is
// recreated with jittered backoff.
func (m *ConfigManager) Watch(ctx context.Context) error {
	db := &debouncer{d: m.debounce, fn: func() { m.reload(ctx) }}
	defer db.stop()

	backoff := watchBackoffMin
	for {
		err := m.watchOnce(ctx, db)
		if ctx.Err() != nil {
			return nil
		}
		wait := backoff + rand.N(backoff/2+1)
		m.log.Warn("config watcher restarting", logx.Duration("backoff", wait), logx.Err(err))
		backoff = min(2*backoff, watchBackoffMax)

		select {
		case <-ctx.Done():
			return nil
		case <-time.After(wait):
		}
	}
}

// watchOnce runs one fsnotify watcher until it fails or ctx ends.
func (m *ConfigManager) watchOnce(ctx context.Context, db *debouncer) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer w.Close()

	dir, file := filepath.Dir(m.path), filepath.Base(m.path)
	if err := w.Add(dir); err != nil {
		return err
	}
	m.log.Debug("config watcher started", logx.String("dir", dir), logx.String("file", file))

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-w.Events:
			if !ok {
				return errWatcherClosed
			}
			if strings.EqualFold(filepath.Base(ev.Name), file) {
				db.kick()
			}
		case err, ok := <-w.Errors:
			if !ok {
				return errWatcherClosed
			}
			if errors.Is(err, fsnotify.ErrEventOverflow) {
				m.log.Warn("config watch overflow; reloading", logx.Err(err))
				db.kick()
				continue
			}
			m.log.Warn("config watch error", logx.Err(err))
		}
	}
}
