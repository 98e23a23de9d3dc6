package config

import "strings"

const (
	DefaultStoragePath = "./data/folibot.db"
	DefaultHTTPAddr    = "127.0.0.1:8080"
	DefaultSweep       = "@every 10m"
)

// ApplyDefaults fills omitted fields in place.
func ApplyDefaults(cfg *Config) {
	if cfg == nil {
		return
	}
	if strings.TrimSpace(cfg.Telegram.PollTimeout) == "" {
		cfg.Telegram.PollTimeout = "10s"
	}
	if cfg.Telegram.Workers <= 0 {
		cfg.Telegram.Workers = 4
	}
	if strings.TrimSpace(cfg.Telegram.HandlerTimeout) == "" {
		cfg.Telegram.HandlerTimeout = "30s"
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}

	d := &cfg.Deadline
	if strings.TrimSpace(d.Total) == "" {
		d.Total = "2h"
	}
	if d.Reminders == nil {
		d.Reminders = []string{"30m", "60m", "90m", "110m"}
	}

	if strings.TrimSpace(cfg.Intake.SessionTTL) == "" {
		cfg.Intake.SessionTTL = "30m"
	}
	if cfg.Intake.MaxSessions <= 0 {
		cfg.Intake.MaxSessions = 1000
	}

	f := &cfg.Folio
	if f.Prefix == "" {
		f.Prefix = "98100"
	}
	if f.Start <= 0 {
		f.Start = 1
	}
	if f.OverridePrefix == "" {
		f.OverridePrefix = "98"
	}
	if f.Entity == "" {
		f.Entity = "EDOMEX"
	}
	if f.Price <= 0 {
		f.Price = 180
	}
	if f.Currency == "" {
		f.Currency = "MXN"
	}
	if f.ValidityDays <= 0 {
		f.ValidityDays = 30
	}

	if strings.TrimSpace(cfg.Sweep.Schedule) == "" {
		cfg.Sweep.Schedule = DefaultSweep
	}
	if strings.TrimSpace(cfg.Sweep.Grace) == "" {
		cfg.Sweep.Grace = "30m"
	}

	if strings.TrimSpace(cfg.HTTP.Addr) == "" {
		cfg.HTTP.Addr = DefaultHTTPAddr
	}

	if cfg.Notifier == nil {
		cfg.Notifier = &NotifierConfig{Enabled: true, RetryMax: 3}
	}
	n := cfg.Notifier
	if n.Workers <= 0 {
		n.Workers = 2
	}
	if n.QueueSize <= 0 {
		n.QueueSize = 256
	}
	if n.RetryBase == "" {
		n.RetryBase = "500ms"
	}
	if n.RetryMaxDelay == "" {
		n.RetryMaxDelay = "10s"
	}

	if cfg.Storage == nil {
		cfg.Storage = &StorageConfig{Driver: "sqlite", Path: DefaultStoragePath}
	}
	if cfg.Storage.Driver == "" {
		cfg.Storage.Driver = "sqlite"
	}
}
