package deadline

import (
	"fmt"
	"time"
)

// Formatter renders the owner-facing texts sent by workers.
type Formatter interface {
	Reminder(item string, remaining time.Duration) string
	Expired(item string) string
}

type plainFormatter struct{}

func (plainFormatter) Reminder(item string, remaining time.Duration) string {
	return fmt.Sprintf("Reminder: %d minutes left to complete %s.", int(remaining.Minutes()), item)
}

func (plainFormatter) Expired(item string) string {
	return fmt.Sprintf("Time is up: %s was removed.", item)
}
