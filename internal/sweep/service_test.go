package sweep

import (
	"context"
	"errors"
	"testing"
	"time"

	"folibot/internal/deadline"
	"folibot/internal/eventbus"
	"folibot/internal/storage"
	logx "folibot/pkg/logx"
)

type liveTimers map[string]int64

func (l liveTimers) Owner(item string) (int64, bool) {
	o, ok := l[item]
	return o, ok
}

func (l liveTimers) Stats() deadline.Stats { return deadline.Stats{Active: len(l)} }

func seed(t *testing.T, st storage.Store, id string, status storage.Status, created time.Time) {
	t.Helper()
	err := st.Insert(context.Background(), storage.Folio{
		Folio: id, Owner: 7, Status: status, CreatedAt: created, UpdatedAt: created,
		IssuedAt: created, ExpiresAt: created.AddDate(0, 0, 30),
	})
	if err != nil {
		t.Fatal(err)
	}
}

func TestRunOnceRemovesOrphans(t *testing.T) {
	now := time.Date(2024, 5, 10, 12, 0, 0, 0, time.UTC)
	st := storage.NewMemory()
	seed(t, st, "981001", storage.StatusPending, now.Add(-5*time.Hour))     // orphan
	seed(t, st, "981002", storage.StatusPending, now.Add(-5*time.Hour))     // live timer
	seed(t, st, "981003", storage.StatusPending, now.Add(-time.Hour))       // still inside window
	seed(t, st, "981004", storage.StatusReceiptSent, now.Add(-5*time.Hour)) // paid

	bus := eventbus.New()
	events, unsub := bus.Subscribe(4)
	defer unsub()

	s := New(Config{Deadline: 2 * time.Hour, Grace: 30 * time.Minute}, st, liveTimers{"981002": 7}, logx.Nop(),
		WithNow(func() time.Time { return now }), WithBus(bus))

	n, err := s.RunOnce(context.Background())
	if err != nil || n != 1 {
		t.Fatalf("RunOnce = %d, %v", n, err)
	}
	if _, err := st.Get(context.Background(), "981001"); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("orphan still stored: %v", err)
	}
	for _, id := range []string{"981002", "981003", "981004"} {
		if _, err := st.Get(context.Background(), id); err != nil {
			t.Fatalf("%s removed: %v", id, err)
		}
	}

	select {
	case e := <-events:
		if e.Type != eventbus.FolioSwept || e.Data.(Event).Folio != "981001" {
			t.Fatalf("event = %+v", e)
		}
	default:
		t.Fatal("no sweep event")
	}

	audit := storage.Audit(st)
	if len(audit) != 1 || audit[0].Action != "sweep" || audit[0].Folio != "981001" {
		t.Fatalf("audit = %+v", audit)
	}

	stats := s.Stats()
	if stats.Runs != 1 || stats.Removed != 1 || !stats.LastRun.Equal(now) {
		t.Fatalf("stats = %+v", stats)
	}

	// A second pass finds nothing new.
	if n, _ := s.RunOnce(context.Background()); n != 0 {
		t.Fatalf("second run removed %d", n)
	}
}

func TestValidateSchedule(t *testing.T) {
	tests := []struct {
		spec string
		ok   bool
	}{
		{"@every 10m", true},
		{"@hourly", true},
		{"*/5 * * * *", true},
		{"0 */5 * * * *", true},
		{"", false},
		{"every ten minutes", false},
		{"@every nope", false},
	}
	for _, tt := range tests {
		t.Run(tt.spec, func(t *testing.T) {
			err := ValidateSchedule(tt.spec)
			if (err == nil) != tt.ok {
				t.Fatalf("ValidateSchedule(%q) = %v", tt.spec, err)
			}
		})
	}
}

func TestStartApplyStop(t *testing.T) {
	s := New(Config{Enabled: true, Schedule: "@every 1h"}, storage.NewMemory(), liveTimers{}, logx.Nop())
	ctx := context.Background()

	if err := s.Start(ctx); err != nil {
		t.Fatal(err)
	}
	if !s.Stats().Running {
		t.Fatal("not running after Start")
	}

	if err := s.Apply(ctx, Config{Enabled: true, Schedule: "nonsense"}); err == nil {
		t.Fatal("bad schedule accepted")
	}
	if err := s.Apply(ctx, Config{Enabled: true, Schedule: "@every 2h"}); err != nil {
		t.Fatal(err)
	}
	if !s.Stats().Running {
		t.Fatal("not running after Apply")
	}

	if err := s.Apply(ctx, Config{Enabled: false}); err != nil {
		t.Fatal(err)
	}
	if s.Stats().Running {
		t.Fatal("running while disabled")
	}

	stopCtx, cancel := context.WithTimeout(ctx, time.Second)
	defer cancel()
	s.Stop(stopCtx)
}
