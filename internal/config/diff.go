package config

import (
	"reflect"
	"sort"
	"strings"

	logx "folibot/pkg/logx"
)

// SummarizeConfigChange returns a compact list of changed sections and safe
// structured attrs for logging. Tokens and payment details are never logged.
func SummarizeConfigChange(oldCfg, newCfg *Config) ([]string, []logx.Field) {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}

	changed := make([]string, 0, 8)
	attrs := make([]logx.Field, 0, 24)

	// Telegram (never log token)
	ot, nt := oldCfg.Telegram, newCfg.Telegram
	if strings.TrimSpace(ot.PollTimeout) != strings.TrimSpace(nt.PollTimeout) ||
		!reflect.DeepEqual(ot.OwnerUserIDs, nt.OwnerUserIDs) ||
		strings.TrimSpace(ot.GroupLog) != strings.TrimSpace(nt.GroupLog) ||
		ot.Workers != nt.Workers || ot.HandlerTimeout != nt.HandlerTimeout ||
		ot.Token != nt.Token {
		changed = append(changed, "telegram")
		attrs = append(attrs,
			logx.String("telegram.poll_timeout", strings.TrimSpace(nt.PollTimeout)),
			logx.Int("telegram.owner_count", len(nt.OwnerUserIDs)),
			logx.Bool("telegram.group_log_set", strings.TrimSpace(nt.GroupLog) != ""),
			logx.Bool("telegram.token_changed", ot.Token != nt.Token),
		)
	}

	if !reflect.DeepEqual(oldCfg.Logging, newCfg.Logging) {
		changed = append(changed, "logging")
		attrs = append(attrs,
			logx.String("logging.level", newCfg.Logging.Level),
			logx.Bool("logging.console", newCfg.Logging.Console),
			logx.Bool("logging.file_enabled", newCfg.Logging.File.Enabled),
			logx.Bool("logging.telegram_enabled", newCfg.Logging.Telegram.Enabled),
		)
	}

	if !reflect.DeepEqual(oldCfg.Deadline, newCfg.Deadline) {
		changed = append(changed, "deadline")
		attrs = append(attrs,
			logx.String("deadline.total", newCfg.Deadline.Total),
			logx.Strings("deadline.reminders", newCfg.Deadline.Reminders),
		)
	}

	if oldCfg.Intake != newCfg.Intake {
		changed = append(changed, "intake")
		attrs = append(attrs,
			logx.String("intake.session_ttl", newCfg.Intake.SessionTTL),
			logx.Int("intake.max_sessions", newCfg.Intake.MaxSessions),
		)
	}

	// Folio (payment_info may hold account numbers; log only whether it changed)
	of, nf := oldCfg.Folio, newCfg.Folio
	if of != nf {
		changed = append(changed, "folio")
		attrs = append(attrs,
			logx.String("folio.prefix", nf.Prefix),
			logx.Int("folio.price", nf.Price),
			logx.Int("folio.validity_days", nf.ValidityDays),
			logx.Bool("folio.payment_info_changed", of.PaymentInfo != nf.PaymentInfo),
		)
	}

	if oldCfg.Sweep != newCfg.Sweep {
		changed = append(changed, "sweep")
		attrs = append(attrs,
			logx.Bool("sweep.enabled", newCfg.Sweep.Enabled),
			logx.String("sweep.schedule", newCfg.Sweep.Schedule),
			logx.String("sweep.grace", newCfg.Sweep.Grace),
		)
	}

	// HTTP (never log token)
	oh, nh := oldCfg.HTTP, newCfg.HTTP
	if oh != nh {
		changed = append(changed, "http")
		attrs = append(attrs,
			logx.Bool("http.enabled", nh.Enabled),
			logx.String("http.addr", strings.TrimSpace(nh.Addr)),
			logx.Bool("http.pprof", nh.Pprof),
			logx.Bool("http.token_set", strings.TrimSpace(nh.Token) != ""),
			logx.Bool("http.allow_insecure", nh.AllowInsecure),
		)
	}

	if !reflect.DeepEqual(oldCfg.Notifier, newCfg.Notifier) {
		changed = append(changed, "notifier")
		if n := newCfg.Notifier; n != nil {
			attrs = append(attrs,
				logx.Bool("notifier.enabled", n.Enabled),
				logx.Int("notifier.workers", n.Workers),
				logx.Int("notifier.queue_size", n.QueueSize),
				logx.Int("notifier.retry_max", n.RetryMax),
			)
		}
	}

	var oDriver, nDriver string
	var oPath, nPath string
	if s := oldCfg.Storage; s != nil {
		oDriver, oPath = strings.TrimSpace(s.Driver), strings.TrimSpace(s.Path)
	}
	if s := newCfg.Storage; s != nil {
		nDriver, nPath = strings.TrimSpace(s.Driver), strings.TrimSpace(s.Path)
	}
	if oDriver != nDriver || oPath != nPath {
		changed = append(changed, "storage")
		attrs = append(attrs,
			logx.String("storage.driver", nDriver),
			logx.String("storage.path", nPath),
		)
	}

	sort.Strings(changed)
	return changed, attrs
}

// RestartRequired reports sections whose change only takes effect after a
// restart. The store is opened once; every other section reloads live.
func RestartRequired(changed []string) []string {
	var out []string
	for _, c := range changed {
		if c == "storage" {
			out = append(out, c)
		}
	}
	return out
}
