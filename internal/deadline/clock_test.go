package deadline

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"folibot/internal/notifier"
)

// manualClock only moves when Advance is called.
type manualClock struct {
	mu      sync.Mutex
	now     time.Time
	waiters []waiter
}

type waiter struct {
	at time.Time
	ch chan time.Time
}

func newManualClock() *manualClock {
	return &manualClock{now: time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)}
}

func (c *manualClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *manualClock) After(d time.Duration) <-chan time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	ch := make(chan time.Time, 1)
	if d <= 0 {
		ch <- c.now
		return ch
	}
	c.waiters = append(c.waiters, waiter{at: c.now.Add(d), ch: ch})
	return ch
}

func (c *manualClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
	kept := c.waiters[:0]
	for _, w := range c.waiters {
		if !w.at.After(c.now) {
			w.ch <- c.now
			continue
		}
		kept = append(kept, w)
	}
	c.waiters = kept
}

func (c *manualClock) pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.waiters)
}

// awaitWaiters blocks until n goroutines are parked on the clock.
func (c *manualClock) awaitWaiters(t *testing.T, n int) {
	t.Helper()
	eventually(t, func() bool { return c.pending() >= n }, "waiting for %d clock waiters", n)
}

func eventually(t *testing.T, cond func() bool, format string, args ...any) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("timed out: "+format, args...)
}

type sent struct {
	owner int64
	text  string
}

type fakeSink struct {
	mu   sync.Mutex
	msgs []sent
	fail bool
}

func (f *fakeSink) Send(ctx context.Context, owner int64, text string) notifier.Outcome {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.msgs = append(f.msgs, sent{owner: owner, text: text})
	if f.fail {
		return notifier.Rejected(errors.New("blocked by user"))
	}
	return notifier.Accepted()
}

func (f *fakeSink) texts() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, 0, len(f.msgs))
	for _, m := range f.msgs {
		out = append(out, m.text)
	}
	return out
}

func (f *fakeSink) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.msgs)
}

type fakeStore struct {
	mu      sync.Mutex
	deleted []string
	err     error
}

func (f *fakeStore) Delete(ctx context.Context, item string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deleted = append(f.deleted, item)
	return f.err
}

func (f *fakeStore) deletes() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.deleted...)
}

// shortFormatter keeps assertions readable: "F1:90" and "F1:expired".
type shortFormatter struct{}

func (shortFormatter) Reminder(item string, remaining time.Duration) string {
	return fmt.Sprintf("%s:%d", item, int(remaining.Minutes()))
}

func (shortFormatter) Expired(item string) string { return item + ":expired" }
