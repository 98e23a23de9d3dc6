package app

import (
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"

	"folibot/internal/config"
	"folibot/internal/deadline"
	"folibot/internal/folio"
	"folibot/internal/httpapi"
	"folibot/internal/intake"
	"folibot/internal/notifier"
	"folibot/internal/sweep"
	logx "folibot/pkg/logx"
)

func mapLoggingConfig(cfg *config.Config) logx.Config {
	l := cfg.Logging
	return logx.Config{
		Level:   l.Level,
		Console: l.Console,
		File:    logx.FileConfig{Enabled: l.File.Enabled, Path: l.File.Path},
		Telegram: logx.TelegramConfig{
			Enabled:    l.Telegram.Enabled,
			ChatID:     groupLogChat(cfg),
			ThreadID:   l.Telegram.ThreadID,
			MinLevel:   l.Telegram.MinLevel,
			RatePerSec: l.Telegram.RatePerSec,
		},
	}
}

// groupLogChat returns the operator chat id, or 0 when unset.
func groupLogChat(cfg *config.Config) int64 {
	id, err := strconv.ParseInt(strings.TrimSpace(cfg.Telegram.GroupLog), 10, 64)
	if err != nil {
		return 0
	}
	return id
}

// mapNotifierConfig converts the file config into notifier.Config. An omitted
// section means enabled with defaults.
func mapNotifierConfig(cfg *config.Config) (notifier.Config, error) {
	out := notifier.Config{
		Enabled:       true,
		Workers:       2,
		QueueSize:     256,
		RetryMax:      3,
		RetryBase:     500 * time.Millisecond,
		RetryMaxDelay: 10 * time.Second,
		SendTimeout:   10 * time.Second,
		HistorySize:   200,
	}
	if cfg == nil || cfg.Notifier == nil {
		return out, nil
	}
	n := cfg.Notifier
	out.Enabled = n.Enabled
	if n.Workers != 0 {
		out.Workers = n.Workers
	}
	if n.QueueSize != 0 {
		out.QueueSize = n.QueueSize
	}
	if n.RetryMax != 0 {
		out.RetryMax = n.RetryMax
	}
	if n.HistorySize != 0 {
		out.HistorySize = n.HistorySize
	}

	var err error
	if out.RetryBase, err = config.ParseDurationOrDefault("notifier.retry_base", n.RetryBase, out.RetryBase); err != nil {
		return notifier.Config{}, err
	}
	if out.RetryMaxDelay, err = config.ParseDurationOrDefault("notifier.retry_max_delay", n.RetryMaxDelay, out.RetryMaxDelay); err != nil {
		return notifier.Config{}, err
	}
	if out.SendTimeout, err = config.ParseDurationOrDefault("notifier.send_timeout", n.SendTimeout, out.SendTimeout); err != nil {
		return notifier.Config{}, err
	}

	if out.Workers < 0 {
		return notifier.Config{}, fmt.Errorf("notifier.workers must be >= 0")
	}
	if out.QueueSize < 0 {
		return notifier.Config{}, fmt.Errorf("notifier.queue_size must be >= 0")
	}
	if out.RetryMax < 0 {
		return notifier.Config{}, fmt.Errorf("notifier.retry_max must be >= 0")
	}
	return out, nil
}

func mapDeadlineConfig(cfg *config.Config) (deadline.Config, error) {
	total, reminders, err := cfg.Deadline.Offsets()
	if err != nil {
		return deadline.Config{}, err
	}
	sched, err := deadline.NewSchedule(total, reminders)
	if err != nil {
		return deadline.Config{}, fmt.Errorf("deadline: %w", err)
	}
	out := deadline.Config{Schedule: sched}
	if out.StoreTimeout, err = config.ParseDurationOrDefault("deadline.store_timeout", cfg.Deadline.StoreTimeout, 5*time.Second); err != nil {
		return deadline.Config{}, err
	}
	if out.SendTimeout, err = config.ParseDurationOrDefault("deadline.send_timeout", cfg.Deadline.SendTimeout, 10*time.Second); err != nil {
		return deadline.Config{}, err
	}
	return out, nil
}

func mapIntakeConfig(cfg *config.Config) (intake.Config, error) {
	ttl, err := config.ParseDurationOrDefault("intake.session_ttl", cfg.Intake.SessionTTL, 30*time.Minute)
	if err != nil {
		return intake.Config{}, err
	}
	return intake.Config{TTL: ttl, MaxSessions: cfg.Intake.MaxSessions}, nil
}

// mapFolioConfig needs the payment window for the texts shown to users.
func mapFolioConfig(cfg *config.Config, window time.Duration) folio.Config {
	f := cfg.Folio
	return folio.Config{
		Prefix:         f.Prefix,
		Start:          f.Start,
		OverridePrefix: f.OverridePrefix,
		Entity:         f.Entity,
		Price:          f.Price,
		Currency:       f.Currency,
		ValidityDays:   f.ValidityDays,
		PaymentInfo:    f.PaymentInfo,
		PublicBaseURL:  cfg.HTTP.PublicBaseURL,
		Deadline:       window,
	}
}

func mapSweepConfig(cfg *config.Config, window time.Duration) (sweep.Config, error) {
	if err := sweep.ValidateSchedule(cfg.Sweep.Schedule); err != nil {
		return sweep.Config{}, fmt.Errorf("sweep.schedule: %w", err)
	}
	grace, err := config.ParseDurationOrDefault("sweep.grace", cfg.Sweep.Grace, 30*time.Minute)
	if err != nil {
		return sweep.Config{}, err
	}
	return sweep.Config{
		Enabled:  cfg.Sweep.Enabled,
		Schedule: cfg.Sweep.Schedule,
		Deadline: window,
		Grace:    grace,
	}, nil
}

// mapHTTPConfig validates and converts the http section. It never starts the
// server.
func mapHTTPConfig(cfg *config.Config) (httpapi.Config, error) {
	h := cfg.HTTP
	out := httpapi.Config{
		Enabled:       h.Enabled,
		Addr:          strings.TrimSpace(h.Addr),
		Token:         strings.TrimSpace(h.Token),
		Pprof:         h.Pprof,
		AllowInsecure: h.AllowInsecure,
	}
	if out.Addr == "" {
		out.Addr = config.DefaultHTTPAddr
	}

	var err error
	if out.ReadTimeout, err = config.ParseDurationOrDefault("http.read_timeout", h.ReadTimeout, 5*time.Second); err != nil {
		return out, err
	}
	if out.WriteTimeout, err = config.ParseDurationField("http.write_timeout", h.WriteTimeout); err != nil {
		return out, err
	}
	if out.IdleTimeout, err = config.ParseDurationOrDefault("http.idle_timeout", h.IdleTimeout, 120*time.Second); err != nil {
		return out, err
	}

	if out.Enabled {
		if _, _, err := net.SplitHostPort(out.Addr); err != nil {
			return out, fmt.Errorf("http.addr: invalid %q (expected host:port): %w", out.Addr, err)
		}
	}
	return out, nil
}

// ValidateConfig runs every mapper so a bad file is rejected before anything
// is applied. It is the ConfigManager validator.
func ValidateConfig(cfg *config.Config) error {
	if err := config.Validate(cfg); err != nil {
		return err
	}
	if _, err := mapStorageConfig(cfg); err != nil {
		return err
	}
	if _, err := mapNotifierConfig(cfg); err != nil {
		return err
	}
	dc, err := mapDeadlineConfig(cfg)
	if err != nil {
		return err
	}
	if _, err := mapIntakeConfig(cfg); err != nil {
		return err
	}
	if _, err := mapSweepConfig(cfg, dc.Schedule.Deadline()); err != nil {
		return err
	}
	_, err = mapHTTPConfig(cfg)
	return err
}
