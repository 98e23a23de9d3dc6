package notifier

import "time"

// Config controls the async notification pipeline.
type Config struct {
	Enabled       bool
	Workers       int
	QueueSize     int
	RetryMax      int
	RetryBase     time.Duration
	RetryMaxDelay time.Duration
	SendTimeout   time.Duration
	HistorySize   int
}

// Outcome is the result of a best-effort send. OK means the message was
// accepted for delivery; Reason says why it was not.
type Outcome struct {
	OK     bool
	Reason string
}

func Accepted() Outcome { return Outcome{OK: true} }

func Rejected(err error) Outcome {
	if err == nil {
		return Outcome{Reason: "unknown"}
	}
	return Outcome{Reason: err.Error()}
}

type HistoryItem struct {
	ID    string
	At    time.Time
	Owner int64
	Text  string
}

// NotificationEvent is the Data of notifier events on the bus.
type NotificationEvent struct {
	ID       string    `json:"id"`
	Owner    int64     `json:"owner"`
	Attempts int       `json:"attempts"`
	At       time.Time `json:"at"`
	Error    string    `json:"error,omitempty"`
}

// Stats is a point-in-time view of the pipeline.
type Stats struct {
	Enabled  bool   `json:"enabled"`
	Running  bool   `json:"running"`
	QueueLen int    `json:"queue_len"`
	QueueCap int    `json:"queue_cap"`
	Sent     uint64 `json:"sent"`
	Failed   uint64 `json:"failed"`
	Rejected uint64 `json:"rejected"`
	HistoryN int    `json:"history"`
}
