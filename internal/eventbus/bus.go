package eventbus

import (
	"sync"
	"sync/atomic"
	"time"
)

// Event types published by folibot components.
const (
	DeadlineStarted   = "deadline.started"
	DeadlineReminder  = "deadline.reminder"
	DeadlineCancelled = "deadline.cancelled"
	DeadlineExpired   = "deadline.expired"

	NotifySent   = "notify.sent"
	NotifyFailed = "notify.failed"

	FolioRegistered = "folio.registered"
	FolioReceipt    = "folio.receipt"
	FolioOverride   = "folio.override"
	FolioSwept      = "folio.swept"

	ConfigReloaded = "config.reloaded"
)

// Event is a small in-memory signal. Publish never blocks; a subscriber whose
// buffer is full misses the event.
type Event struct {
	Type string
	Time time.Time
	Data any
}

type Bus interface {
	Publish(e Event)
	Subscribe(buffer int) (ch <-chan Event, unsubscribe func())
}

// New returns an in-memory fanout bus. It owns no goroutines.
func New() Bus {
	return &memBus{subs: map[uint64]chan Event{}}
}

// Nop returns a bus that discards everything.
func Nop() Bus { return nopBus{} }

type nopBus struct{}

func (nopBus) Publish(Event) {}

func (nopBus) Subscribe(int) (<-chan Event, func()) {
	ch := make(chan Event)
	close(ch)
	return ch, func() {}
}

type memBus struct {
	mu      sync.RWMutex
	subs    map[uint64]chan Event
	seq     atomic.Uint64
	dropped atomic.Uint64
}

func (b *memBus) Publish(e Event) {
	if e.Time.IsZero() {
		e.Time = time.Now()
	}
	// Sending under the read lock keeps unsubscribe (write lock) from closing
	// a channel mid-send.
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, ch := range b.subs {
		select {
		case ch <- e:
		default:
			b.dropped.Add(1)
		}
	}
}

func (b *memBus) Subscribe(buffer int) (<-chan Event, func()) {
	if buffer <= 0 {
		buffer = 8
	}
	ch := make(chan Event, buffer)
	id := b.seq.Add(1)

	b.mu.Lock()
	b.subs[id] = ch
	b.mu.Unlock()

	var once sync.Once
	unsub := func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs, id)
			close(ch)
			b.mu.Unlock()
		})
	}
	return ch, unsub
}

// Dropped reports how many deliveries were skipped because a subscriber was full.
func Dropped(b Bus) uint64 {
	if m, ok := b.(*memBus); ok {
		return m.dropped.Load()
	}
	return 0
}
