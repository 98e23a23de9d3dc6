package config

// Config is the on-disk configuration (YAML or JSON). Unknown keys are
// rejected. Durations are Go duration strings ("500ms", "10s", "2h").
type Config struct {
	Telegram TelegramConfig `json:"telegram"`
	Logging  LoggingConfig  `json:"logging"`
	Deadline DeadlineConfig `json:"deadline"`
	Intake   IntakeConfig   `json:"intake"`
	Folio    FolioConfig    `json:"folio"`
	Sweep    SweepConfig    `json:"sweep"`
	HTTP     HTTPConfig     `json:"http"`

	// Notifier defaults to enabled when the section is omitted.
	Notifier *NotifierConfig `json:"notifier,omitempty"`
	// Storage defaults to sqlite at ./data/folibot.db when omitted.
	Storage *StorageConfig `json:"storage,omitempty"`
}

type TelegramConfig struct {
	Token        string  `json:"token"`
	OwnerUserIDs []int64 `json:"owner_user_ids"`
	// GroupLog is the operator chat id that receives forwarded log lines.
	GroupLog string `json:"group_log"`
	// PollTimeout is a Go duration string (e.g. "10s", "2m").
	PollTimeout string `json:"poll_timeout"`

	// Router worker pool.
	Workers        int    `json:"workers,omitempty"`
	HandlerTimeout string `json:"handler_timeout,omitempty"`
}

type LoggingConfig struct {
	Level    string          `json:"level"`
	Console  bool            `json:"console"`
	File     LoggingFile     `json:"file"`
	Telegram LoggingTelegram `json:"telegram"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

type LoggingTelegram struct {
	Enabled    bool   `json:"enabled"`
	ThreadID   int    `json:"thread_id"`
	MinLevel   string `json:"min_level"`
	RatePerSec int    `json:"rate_per_sec"`
}

// DeadlineConfig sets the payment window and the reminder offsets, measured
// from the moment the folio is registered.
//
// Defaults: total "2h", reminders ["30m", "60m", "90m", "110m"].
type DeadlineConfig struct {
	Total        string   `json:"total"`
	Reminders    []string `json:"reminders"`
	StoreTimeout string   `json:"store_timeout,omitempty"`
	SendTimeout  string   `json:"send_timeout,omitempty"`
}

// IntakeConfig bounds the in-memory conversation state.
type IntakeConfig struct {
	SessionTTL  string `json:"session_ttl"`
	MaxSessions int    `json:"max_sessions"`
}

// FolioConfig controls folio numbering and the permit terms shown to users.
type FolioConfig struct {
	Prefix string `json:"prefix"`
	Start  int64  `json:"start"`
	// OverridePrefix is the prefix an operator override must carry.
	OverridePrefix string `json:"override_prefix"`
	Entity         string `json:"entity"`
	Price          int    `json:"price"`
	Currency       string `json:"currency"`
	ValidityDays   int    `json:"validity_days"`
	// PaymentInfo is shown after registration (bank, account, reference).
	PaymentInfo string `json:"payment_info"`
}

// SweepConfig controls removal of pending folios that lost their timer
// (for example after a restart).
type SweepConfig struct {
	Enabled  bool   `json:"enabled"`
	Schedule string `json:"schedule"`
	// Grace is added to the deadline before a pending folio counts as orphaned.
	Grace string `json:"grace"`
}

// HTTPConfig controls the public lookup/health server and optional pprof.
//
// Security note:
//   - pprof is only mounted when Pprof is true and a token is set, or the
//     server binds to loopback, or allow_insecure is set.
type HTTPConfig struct {
	Enabled       bool   `json:"enabled"`
	Addr          string `json:"addr,omitempty"` // default: "127.0.0.1:8080"
	Token         string `json:"token,omitempty"`
	PublicBaseURL string `json:"public_base_url,omitempty"`
	Pprof         bool   `json:"pprof,omitempty"`
	AllowInsecure bool   `json:"allow_insecure,omitempty"`

	ReadTimeout  string `json:"read_timeout,omitempty"`
	WriteTimeout string `json:"write_timeout,omitempty"`
	IdleTimeout  string `json:"idle_timeout,omitempty"`
}

// NotifierConfig controls the async notification pipeline.
type NotifierConfig struct {
	Enabled       bool   `json:"enabled"`
	Workers       int    `json:"workers"`
	QueueSize     int    `json:"queue_size"`
	RetryMax      int    `json:"retry_max"`
	RetryBase     string `json:"retry_base"`
	RetryMaxDelay string `json:"retry_max_delay"`
	SendTimeout   string `json:"send_timeout,omitempty"`
	HistorySize   int    `json:"history_size,omitempty"`
}

// StorageConfig controls the persistence layer.
//
// Example:
//
//	"storage": { "driver": "sqlite", "path": "./data/folibot.db" }
type StorageConfig struct {
	Driver      string `json:"driver"`
	Path        string `json:"path"`
	BusyTimeout string `json:"busy_timeout,omitempty"` // Go duration string (sqlite)
}
