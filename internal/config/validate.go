package config

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Validate checks everything that can be checked without side effects.
// Cron expressions are checked by the sweeper itself.
func Validate(cfg *Config) error {
	if cfg == nil {
		return errors.New("config is nil")
	}
	var errs []error
	add := func(err error) {
		if err != nil {
			errs = append(errs, err)
		}
	}

	if strings.TrimSpace(cfg.Telegram.Token) == "" {
		add(errors.New("telegram.token is required"))
	}
	if g := strings.TrimSpace(cfg.Telegram.GroupLog); g != "" {
		if _, err := strconv.ParseInt(g, 10, 64); err != nil {
			add(fmt.Errorf("telegram.group_log: %q is not a chat id", g))
		}
	}
	_, err := ParseDurationField("telegram.poll_timeout", cfg.Telegram.PollTimeout)
	add(err)
	_, err = ParseDurationField("telegram.handler_timeout", cfg.Telegram.HandlerTimeout)
	add(err)

	add(validateDeadline(cfg.Deadline))

	_, err = ParseDurationField("intake.session_ttl", cfg.Intake.SessionTTL)
	add(err)

	if !isDigits(cfg.Folio.Prefix) {
		add(fmt.Errorf("folio.prefix: %q must be digits", cfg.Folio.Prefix))
	}
	if cfg.Folio.OverridePrefix != "" && !isDigits(cfg.Folio.OverridePrefix) {
		add(fmt.Errorf("folio.override_prefix: %q must be digits", cfg.Folio.OverridePrefix))
	}
	if cfg.Folio.Start < 0 || cfg.Folio.Price < 0 || cfg.Folio.ValidityDays < 0 {
		add(errors.New("folio: start, price and validity_days must be >= 0"))
	}

	_, err = ParseDurationField("sweep.grace", cfg.Sweep.Grace)
	add(err)

	for _, f := range []struct{ path, raw string }{
		{"http.read_timeout", cfg.HTTP.ReadTimeout},
		{"http.write_timeout", cfg.HTTP.WriteTimeout},
		{"http.idle_timeout", cfg.HTTP.IdleTimeout},
	} {
		_, err := ParseDurationField(f.path, f.raw)
		add(err)
	}

	if n := cfg.Notifier; n != nil {
		for _, f := range []struct{ path, raw string }{
			{"notifier.retry_base", n.RetryBase},
			{"notifier.retry_max_delay", n.RetryMaxDelay},
			{"notifier.send_timeout", n.SendTimeout},
		} {
			_, err := ParseDurationField(f.path, f.raw)
			add(err)
		}
		if n.RetryMax < 0 {
			add(errors.New("notifier.retry_max must be >= 0"))
		}
	}

	if s := cfg.Storage; s != nil {
		switch strings.ToLower(strings.TrimSpace(s.Driver)) {
		case "", "memory":
		case "sqlite", "sqlite3":
			if strings.TrimSpace(s.Path) == "" {
				add(errors.New("storage.path is required for sqlite"))
			}
		default:
			add(fmt.Errorf("storage.driver: unknown driver %q", s.Driver))
		}
		_, err := ParseDurationField("storage.busy_timeout", s.BusyTimeout)
		add(err)
	}

	return errors.Join(errs...)
}

func validateDeadline(d DeadlineConfig) error {
	total, err := ParseDurationField("deadline.total", d.Total)
	if err != nil {
		return err
	}
	if total <= 0 {
		return errors.New("deadline.total must be > 0")
	}
	seen := map[time.Duration]bool{}
	for i, raw := range d.Reminders {
		at, err := ParseDurationField(fmt.Sprintf("deadline.reminders[%d]", i), raw)
		if err != nil {
			return err
		}
		if at <= 0 || at >= total {
			return fmt.Errorf("deadline.reminders[%d]: %s must be inside (0, %s)", i, at, total)
		}
		if seen[at] {
			return fmt.Errorf("deadline.reminders[%d]: duplicate offset %s", i, at)
		}
		seen[at] = true
	}
	if _, err := ParseDurationField("deadline.store_timeout", d.StoreTimeout); err != nil {
		return err
	}
	_, err = ParseDurationField("deadline.send_timeout", d.SendTimeout)
	return err
}

// Offsets parses the total and the reminder offsets. Call after Validate.
func (d DeadlineConfig) Offsets() (total time.Duration, reminders []time.Duration, err error) {
	total, err = ParseDurationField("deadline.total", d.Total)
	if err != nil {
		return 0, nil, err
	}
	for i, raw := range d.Reminders {
		at, err := ParseDurationField(fmt.Sprintf("deadline.reminders[%d]", i), raw)
		if err != nil {
			return 0, nil, err
		}
		reminders = append(reminders, at)
	}
	return total, reminders, nil
}

func isDigits(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
