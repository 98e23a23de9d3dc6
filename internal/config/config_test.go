package config

import (
	"context"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"testing"
	"time"
)

const sampleYAML = `
telegram:
  token: "123:abc"
  owner_user_ids: [111, 222]
  group_log: "-100200300"
logging:
  level: debug
  console: true
deadline:
  total: 2h
  reminders: [30m, 60m, 90m, 110m]
folio:
  prefix: "98100"
  payment_info: "Transferencia a la cuenta indicada por el operador"
sweep:
  enabled: true
storage:
  driver: memory
`

func writeFile(t *testing.T, dir, name, body string) string {
	t.Helper()
	p := filepath.Join(dir, name)
	if err := os.WriteFile(p, []byte(body), 0o600); err != nil {
		t.Fatal(err)
	}
	return p
}

func TestLoadYAMLAppliesDefaults(t *testing.T) {
	p := writeFile(t, t.TempDir(), "folibot.yaml", sampleYAML)
	m := NewConfigManager(p)
	cfg, err := m.Load(context.Background())
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Telegram.Token != "123:abc" || !slices.Equal(cfg.Telegram.OwnerUserIDs, []int64{111, 222}) {
		t.Fatalf("telegram = %+v", cfg.Telegram)
	}
	if cfg.Folio.Price != 180 || cfg.Folio.ValidityDays != 30 || cfg.Folio.OverridePrefix != "98" {
		t.Fatalf("folio defaults = %+v", cfg.Folio)
	}
	if cfg.Sweep.Schedule != DefaultSweep || cfg.Intake.MaxSessions != 1000 {
		t.Fatalf("sweep/intake defaults = %+v %+v", cfg.Sweep, cfg.Intake)
	}
	if cfg.Notifier == nil || !cfg.Notifier.Enabled || cfg.Notifier.RetryMax != 3 {
		t.Fatalf("notifier defaults = %+v", cfg.Notifier)
	}
	if m.Get() != cfg {
		t.Fatal("Load did not commit")
	}

	total, rem, err := cfg.Deadline.Offsets()
	if err != nil || total != 2*time.Hour || len(rem) != 4 || rem[3] != 110*time.Minute {
		t.Fatalf("Offsets = %v %v %v", total, rem, err)
	}
}

func TestDecodeStrict(t *testing.T) {
	tests := []struct {
		name string
		file string
		body string
	}{
		{"unknown yaml key", "c.yaml", "telegram:\n  token: x\n  tokn: y\n"},
		{"unknown json key", "c.json", `{"telegram":{"token":"x"},"plugins":{}}`},
		{"trailing json", "c.json", `{"telegram":{"token":"x"}}{}`},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := Decode(tc.file, []byte(tc.body)); err == nil {
				t.Fatal("expected error")
			}
		})
	}
}

func TestValidate(t *testing.T) {
	base := func() *Config {
		cfg, err := Decode("c.yaml", []byte(sampleYAML))
		if err != nil {
			t.Fatal(err)
		}
		return cfg
	}
	if err := Validate(base()); err != nil {
		t.Fatalf("sample config invalid: %v", err)
	}

	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"missing token", func(c *Config) { c.Telegram.Token = "" }, "telegram.token"},
		{"bad group", func(c *Config) { c.Telegram.GroupLog = "@ops" }, "telegram.group_log"},
		{"reminder past deadline", func(c *Config) { c.Deadline.Reminders = []string{"3h"} }, "deadline.reminders[0]"},
		{"duplicate reminder", func(c *Config) { c.Deadline.Reminders = []string{"30m", "30m"} }, "duplicate"},
		{"bad total", func(c *Config) { c.Deadline.Total = "soon" }, "deadline.total"},
		{"prefix letters", func(c *Config) { c.Folio.Prefix = "AB" }, "folio.prefix"},
		{"unknown driver", func(c *Config) { c.Storage.Driver = "mongo" }, "storage.driver"},
		{"sqlite without path", func(c *Config) { c.Storage = &StorageConfig{Driver: "sqlite"} }, "storage.path"},
		{"negative duration", func(c *Config) { c.Sweep.Grace = "-1m" }, "sweep.grace"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			cfg := base()
			tc.mutate(cfg)
			err := Validate(cfg)
			if err == nil || !strings.Contains(err.Error(), tc.want) {
				t.Fatalf("Validate = %v, want mention of %q", err, tc.want)
			}
		})
	}
}

func TestSummarizeConfigChange(t *testing.T) {
	a, _ := Decode("c.yaml", []byte(sampleYAML))
	b, _ := Decode("c.yaml", []byte(sampleYAML))
	if changed, _ := SummarizeConfigChange(a, b); len(changed) != 0 {
		t.Fatalf("identical configs changed = %v", changed)
	}

	b.Deadline.Total = "3h"
	b.Folio.PaymentInfo = "otra cuenta"
	b.Storage.Path = "/var/lib/folibot.db"
	changed, attrs := SummarizeConfigChange(a, b)
	if !slices.Equal(changed, []string{"deadline", "folio", "storage"}) {
		t.Fatalf("changed = %v", changed)
	}
	if len(attrs) == 0 {
		t.Fatal("no attrs")
	}
	if got := RestartRequired(changed); !slices.Equal(got, []string{"storage"}) {
		t.Fatalf("RestartRequired = %v", got)
	}
}

func TestWatchPublishesValidChanges(t *testing.T) {
	dir := t.TempDir()
	p := writeFile(t, dir, "folibot.yaml", sampleYAML)
	m := NewConfigManager(p)
	m.debounce = 20 * time.Millisecond
	if _, err := m.Load(context.Background()); err != nil {
		t.Fatal(err)
	}
	ch := m.Subscribe(1)
	defer m.Unsubscribe(ch)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = m.Watch(ctx)
	}()
	defer func() {
		cancel()
		<-done
	}()

	// Give the watcher a moment to register before writing.
	time.Sleep(100 * time.Millisecond)

	// An invalid edit is rejected and never published.
	writeFile(t, dir, "folibot.yaml", strings.Replace(sampleYAML, "total: 2h", "total: nope", 1))
	select {
	case cfg := <-ch:
		t.Fatalf("invalid config published: %+v", cfg.Deadline)
	case <-time.After(300 * time.Millisecond):
	}

	writeFile(t, dir, "folibot.yaml", strings.Replace(sampleYAML, "total: 2h", "total: 3h", 1))
	select {
	case cfg := <-ch:
		if cfg.Deadline.Total != "3h" {
			t.Fatalf("published total = %s", cfg.Deadline.Total)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("valid config not published")
	}
	if m.Get().Deadline.Total != "3h" {
		t.Fatal("valid config not committed")
	}
}

func TestDecodeYAMLDocuments(t *testing.T) {
	cfg, err := Decode("empty.yml", nil)
	if err != nil {
		t.Fatalf("empty yaml: %v", err)
	}
	if cfg.Deadline.Total != "2h" || cfg.Storage == nil || cfg.Storage.Driver != "sqlite" {
		t.Fatalf("defaults = %+v %+v", cfg.Deadline, cfg.Storage)
	}
	if _, err := Decode("two.yaml", []byte("telegram:\n  token: a\n---\ntelegram:\n  token: b\n")); err == nil {
		t.Fatal("multi-document yaml accepted")
	}
}

func TestParseDuration(t *testing.T) {
	tests := []struct {
		raw     string
		def     time.Duration
		want    time.Duration
		wantErr bool
	}{
		{"", 5 * time.Second, 5 * time.Second, false},
		{"  2m ", time.Second, 2 * time.Minute, false},
		{"0s", time.Second, time.Second, false},
		{"-1s", 0, 0, true},
		{"ten", 0, 0, true},
	}
	for _, tc := range tests {
		got, err := ParseDurationOrDefault("x.y", tc.raw, tc.def)
		if (err != nil) != tc.wantErr || got != tc.want {
			t.Errorf("ParseDurationOrDefault(%q) = %v, %v", tc.raw, got, err)
		}
		if err != nil && !strings.HasPrefix(err.Error(), "x.y:") {
			t.Errorf("error %q lacks path", err)
		}
	}
	if d, err := ParseDurationField("x", ""); d != 0 || err != nil {
		t.Fatalf("ParseDurationField empty = %v, %v", d, err)
	}
}

func TestSlowSubscriberGetsNewest(t *testing.T) {
	m := NewConfigManager("unused.yaml")
	ch := m.Subscribe(1)
	a, b := &Config{}, &Config{}
	m.publish(a)
	m.publish(b)
	if got := <-ch; got != b {
		t.Fatal("subscriber did not get the newest config")
	}
	m.Unsubscribe(ch)
	if _, ok := <-ch; ok {
		t.Fatal("channel open after Unsubscribe")
	}
	m.Unsubscribe(ch)
}
