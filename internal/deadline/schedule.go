package deadline

import (
	"fmt"
	"slices"
	"time"
)

const (
	DefaultDeadline = 120 * time.Minute
)

// DefaultReminders are the elapsed offsets of the default reminders. They
// leave 90, 60, 30 and 10 minutes on the clock.
var DefaultReminders = []time.Duration{
	30 * time.Minute,
	60 * time.Minute,
	90 * time.Minute,
	110 * time.Minute,
}

// Checkpoint is one step of a timer. At is measured from the timer start.
type Checkpoint struct {
	At        time.Duration
	Remaining time.Duration
	Terminal  bool
}

// Schedule is the ordered checkpoint table a worker walks through. The last
// checkpoint is always the terminal action at the deadline.
type Schedule struct {
	deadline time.Duration
	steps    []Checkpoint
}

// NewSchedule builds a schedule from a total deadline and reminder offsets.
// Offsets must be positive and strictly before the deadline; duplicates are
// rejected.
func NewSchedule(deadline time.Duration, reminders []time.Duration) (Schedule, error) {
	if deadline <= 0 {
		return Schedule{}, fmt.Errorf("%w: deadline must be positive, got %s", ErrBadSchedule, deadline)
	}
	at := slices.Clone(reminders)
	slices.Sort(at)
	steps := make([]Checkpoint, 0, len(at)+1)
	for i, d := range at {
		if d <= 0 || d >= deadline {
			return Schedule{}, fmt.Errorf("%w: reminder %s outside (0, %s)", ErrBadSchedule, d, deadline)
		}
		if i > 0 && at[i-1] == d {
			return Schedule{}, fmt.Errorf("%w: duplicate reminder %s", ErrBadSchedule, d)
		}
		steps = append(steps, Checkpoint{At: d, Remaining: deadline - d})
	}
	steps = append(steps, Checkpoint{At: deadline, Terminal: true})
	return Schedule{deadline: deadline, steps: steps}, nil
}

// DefaultSchedule is 120 minutes with reminders at 30, 60, 90 and 110.
func DefaultSchedule() Schedule {
	s, err := NewSchedule(DefaultDeadline, DefaultReminders)
	if err != nil {
		panic(err)
	}
	return s
}

func (s Schedule) Deadline() time.Duration { return s.deadline }

func (s Schedule) Checkpoints() []Checkpoint { return slices.Clone(s.steps) }

func (s Schedule) IsZero() bool { return s.deadline == 0 }
