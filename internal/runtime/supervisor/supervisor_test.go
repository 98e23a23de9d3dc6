package supervisor

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"
)

func TestGoRecoversPanicAndRecordsError(t *testing.T) {
	s := New(context.Background())
	s.Go("boom", func(ctx context.Context) error { panic("kaput") })

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	err := s.Wait(ctx)
	if err == nil {
		t.Fatal("expected panic to surface as error")
	}
	snap := s.Snapshot()
	if len(snap.Goroutines) != 1 || snap.Goroutines[0].Panics != 1 {
		t.Fatalf("unexpected snapshot: %+v", snap)
	}
	if snap.Counters.Active != 0 || snap.Counters.Started != 1 {
		t.Fatalf("unexpected counters: %+v", snap.Counters)
	}
}

func TestCancelOnError(t *testing.T) {
	s := New(context.Background(), WithCancelOnError(true))
	s.Go("fails", func(ctx context.Context) error { return errors.New("nope") })
	s.Go0("waits", func(ctx context.Context) { <-ctx.Done() })

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := s.Wait(ctx); err == nil {
		t.Fatal("expected first error")
	}
	if s.Context().Err() == nil {
		t.Fatal("supervisor context should be cancelled")
	}
}

func TestGoRestartRestartsUntilCleanExit(t *testing.T) {
	s := New(context.Background())
	var runs atomic.Int32
	s.GoRestart("flaky", func(ctx context.Context) error {
		if runs.Add(1) < 3 {
			return errors.New("transient")
		}
		return nil
	}, WithRestartBackoff(time.Millisecond, 5*time.Millisecond))

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := s.Wait(ctx); err != nil {
		t.Fatalf("Wait: %v", err)
	}
	if got := runs.Load(); got != 3 {
		t.Fatalf("runs = %d, want 3", got)
	}
}

func TestRegistrySnapshots(t *testing.T) {
	r := NewRegistry()
	s := New(context.Background())
	defer s.Cancel()
	block := make(chan struct{})
	s.Go0("deadline.worker", func(ctx context.Context) { <-block })
	r.Set("deadline", s)
	r.Set("ignored", nil)

	got := r.Snapshots()
	snap, ok := got["deadline"]
	if !ok || len(got) != 1 {
		t.Fatalf("unexpected snapshots: %+v", got)
	}
	if snap.Counters.Started != 1 || len(snap.Goroutines) != 1 || snap.Goroutines[0].Name != "deadline.worker" {
		t.Fatalf("snapshot = %+v", snap)
	}
	close(block)

	r.Delete("deadline")
	if len(r.Snapshots()) != 0 {
		t.Fatal("expected empty registry")
	}
}
