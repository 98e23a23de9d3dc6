package folio

import (
	"context"
	"errors"
	"slices"
	"strings"
	"sync"
	"testing"
	"time"

	"folibot/internal/deadline"
	"folibot/internal/intake"
	"folibot/internal/notifier"
	"folibot/internal/storage"
	logx "folibot/pkg/logx"
)

type fakeClock struct {
	mu      sync.Mutex
	now     time.Time
	waiters []fakeWaiter
}

type fakeWaiter struct {
	at time.Time
	ch chan time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) After(d time.Duration) <-chan time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	ch := make(chan time.Time, 1)
	if d <= 0 {
		ch <- c.now
		return ch
	}
	c.waiters = append(c.waiters, fakeWaiter{at: c.now.Add(d), ch: ch})
	return ch
}

func (c *fakeClock) Advance(d time.Duration) {
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

func (c *fakeClock) pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.waiters)
}

type outbox struct {
	mu   sync.Mutex
	msgs map[int64][]string
}

func (o *outbox) Send(ctx context.Context, owner int64, text string) notifier.Outcome {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.msgs == nil {
		o.msgs = map[int64][]string{}
	}
	o.msgs[owner] = append(o.msgs[owner], text)
	return notifier.Accepted()
}

func (o *outbox) to(owner int64) []string {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]string(nil), o.msgs[owner]...)
}

type failingInsert struct{ storage.Store }

func (failingInsert) Insert(context.Context, storage.Folio) error { return errors.New("disk full") }

// countingStore counts the writes that reach the wrapped store.
type countingStore struct {
	storage.Store

	mu                       sync.Mutex
	updates, deletes, audits int
}

func (c *countingStore) UpdateStatus(ctx context.Context, folio string, status storage.Status, at time.Time) error {
	c.mu.Lock()
	c.updates++
	c.mu.Unlock()
	return c.Store.UpdateStatus(ctx, folio, status, at)
}

func (c *countingStore) Delete(ctx context.Context, folio string) error {
	c.mu.Lock()
	c.deletes++
	c.mu.Unlock()
	return c.Store.Delete(ctx, folio)
}

func (c *countingStore) AppendAudit(ctx context.Context, e storage.AuditEntry) error {
	c.mu.Lock()
	c.audits++
	c.mu.Unlock()
	return c.Store.AppendAudit(ctx, e)
}

func (c *countingStore) writes() (updates, deletes, audits int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.updates, c.deletes, c.audits
}

type fixture struct {
	clock  *fakeClock
	store  storage.Store
	out    *outbox
	timers *deadline.Service
	svc    *Service
}

func newFixture(t *testing.T, store storage.Store) *fixture {
	t.Helper()
	if store == nil {
		store = storage.NewMemory()
	}
	f := &fixture{
		clock: &fakeClock{now: time.Date(2024, 5, 10, 12, 0, 0, 0, time.UTC)},
		store: store,
		out:   &outbox{},
	}
	cfg := Config{Prefix: "98100", Entity: "EDOMEX", Price: 180, ValidityDays: 30}
	f.timers = deadline.New(deadline.Config{}, f.out, store, logx.Nop(),
		deadline.WithClock(f.clock),
		deadline.WithFormatter(TermsFormatter(func() Config { return normalize(cfg) })),
	)
	f.svc = New(cfg, store, f.timers, f.out, logx.Nop(), WithNow(f.clock.Now))
	t.Cleanup(func() { _ = f.timers.Shutdown(context.Background()) })
	return f
}

func (f *fixture) register(t *testing.T, owner int64) string {
	t.Helper()
	rec, err := f.svc.Register(context.Background(), owner, intake.Draft{Marca: "NISSAN", Serie: "ABCDE12345"})
	if err != nil {
		t.Fatalf("Register: %v", err)
	}
	return rec.Folio
}

func (f *fixture) status(t *testing.T, id string) storage.Status {
	t.Helper()
	rec, err := f.store.Get(context.Background(), id)
	if err != nil {
		t.Fatalf("Get %s: %v", id, err)
	}
	return rec.Status
}

func eventually(t *testing.T, cond func() bool, what string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func TestRegisterStoresPendingAndStartsTimer(t *testing.T) {
	f := newFixture(t, nil)
	id := f.register(t, 10)
	if id != "981001" {
		t.Fatalf("first folio = %s", id)
	}
	if f.register(t, 10) != "981002" {
		t.Fatal("folio numbers not sequential")
	}

	rec, _ := f.store.Get(context.Background(), id)
	if rec.Status != storage.StatusPending || rec.Owner != 10 || rec.Price != 180 {
		t.Fatalf("stored = %+v", rec)
	}
	if want := f.clock.Now().AddDate(0, 0, 30); !rec.ExpiresAt.Equal(want) {
		t.Fatalf("expires = %v, want %v", rec.ExpiresAt, want)
	}
	if got := f.timers.ActiveItemsFor(10); !slices.Equal(got, []string{"981001", "981002"}) {
		t.Fatalf("active = %v", got)
	}
	if left, ok := f.timers.RemainingTime(id); !ok || left != 2*time.Hour {
		t.Fatalf("remaining = %v %v", left, ok)
	}
}

func TestRegisterInsertFailureStartsNoTimer(t *testing.T) {
	f := newFixture(t, failingInsert{storage.NewMemory()})
	if _, err := f.svc.Register(context.Background(), 10, intake.Draft{}); err == nil {
		t.Fatal("expected insert error")
	}
	if n := f.timers.Stats().Active; n != 0 {
		t.Fatalf("active timers = %d", n)
	}
}

func TestRegisterRemovesRowWhenTimerCannotStart(t *testing.T) {
	f := newFixture(t, nil)
	if err := f.timers.Shutdown(context.Background()); err != nil {
		t.Fatal(err)
	}
	_, err := f.svc.Register(context.Background(), 10, intake.Draft{})
	if !errors.Is(err, deadline.ErrStopped) {
		t.Fatalf("err = %v", err)
	}
	if _, err := f.store.Get(context.Background(), "981001"); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("untimed folio still stored: %v", err)
	}
}

func TestSubmitReceiptSingleFolio(t *testing.T) {
	f := newFixture(t, nil)
	id := f.register(t, 10)

	res, err := f.svc.SubmitReceipt(context.Background(), 10, "")
	if err != nil {
		t.Fatalf("SubmitReceipt: %v", err)
	}
	if res.Folio != id || !res.Persisted {
		t.Fatalf("result = %+v", res)
	}
	if f.status(t, id) != storage.StatusReceiptSent {
		t.Fatal("status not updated")
	}

	// The cancelled timer never deletes the folio.
	f.clock.Advance(3 * time.Hour)
	time.Sleep(20 * time.Millisecond)
	if f.status(t, id) != storage.StatusReceiptSent {
		t.Fatal("folio changed after receipt")
	}
	if msgs := f.out.to(10); len(msgs) != 0 {
		t.Fatalf("owner notified after receipt: %q", msgs)
	}

	if _, err := f.svc.SubmitReceipt(context.Background(), 10, ""); !errors.Is(err, ErrNoActiveTimer) {
		t.Fatalf("second receipt err = %v", err)
	}
}

func TestSubmitReceiptSeveralFolios(t *testing.T) {
	f := newFixture(t, nil)
	a := f.register(t, 10)
	b := f.register(t, 10)
	other := f.register(t, 20)

	_, err := f.svc.SubmitReceipt(context.Background(), 10, "")
	var amb *AmbiguousError
	if !errors.As(err, &amb) || !errors.Is(err, ErrAmbiguous) {
		t.Fatalf("err = %v", err)
	}
	if !slices.Equal(amb.Folios, []string{a, b}) {
		t.Fatalf("listed = %v", amb.Folios)
	}

	if _, err := f.svc.SubmitReceipt(context.Background(), 10, other); !errors.Is(err, ErrNoActiveTimer) {
		t.Fatalf("foreign folio err = %v", err)
	}
	if _, ok := f.timers.RemainingTime(other); !ok {
		t.Fatal("foreign folio timer was cancelled")
	}

	if _, err := f.svc.SubmitReceipt(context.Background(), 10, b); err != nil {
		t.Fatalf("explicit folio: %v", err)
	}
	if got := f.timers.ActiveItemsFor(10); !slices.Equal(got, []string{a}) {
		t.Fatalf("active after receipt = %v", got)
	}
}

func TestOverride(t *testing.T) {
	f := newFixture(t, nil)
	id := f.register(t, 10)
	f.register(t, 20)

	if _, err := f.svc.Override(context.Background(), "12345"); !errors.Is(err, ErrInvalidFolio) {
		t.Fatalf("bad prefix err = %v", err)
	}
	res, err := f.svc.Override(context.Background(), "98999")
	if !errors.Is(err, ErrNoActiveTimer) || res.Cancelled {
		t.Fatalf("unknown folio = %+v %v", res, err)
	}

	res, err = f.svc.OverrideBy(context.Background(), 1, id)
	if err != nil {
		t.Fatalf("Override: %v", err)
	}
	if !res.Cancelled || res.Owner != 10 || !res.Notified.OK || res.Remaining != 1 {
		t.Fatalf("result = %+v", res)
	}
	if f.status(t, id) != storage.StatusAdminValidated {
		t.Fatal("status not updated")
	}
	msgs := f.out.to(10)
	if len(msgs) != 1 || !strings.Contains(msgs[0], "PAGO VALIDADO") || !strings.Contains(msgs[0], id) {
		t.Fatalf("owner messages = %q", msgs)
	}

	// The owner's receipt loses to the override.
	if _, err := f.svc.SubmitReceipt(context.Background(), 10, id); !errors.Is(err, ErrNoActiveTimer) {
		t.Fatalf("receipt after override err = %v", err)
	}
	if f.status(t, id) != storage.StatusAdminValidated {
		t.Fatal("receipt overwrote the override")
	}

	audit := storage.Audit(f.store)
	var overrides int
	for _, e := range audit {
		if e.Action == "override" && e.OK {
			overrides++
			if e.ActorID != 1 || e.Folio != id {
				t.Fatalf("audit = %+v", e)
			}
		}
	}
	if overrides != 1 {
		t.Fatalf("override audits = %d", overrides)
	}
}

func TestOverrideWithoutTimerWritesNothing(t *testing.T) {
	store := &countingStore{Store: storage.NewMemory()}
	f := newFixture(t, store)
	id := f.register(t, 10)
	if _, err := f.svc.Override(context.Background(), id); err != nil {
		t.Fatalf("Override: %v", err)
	}
	updates, deletes, audits := store.writes()
	sent := len(f.out.to(10))

	// An id that never existed and one whose timer is already gone.
	for _, miss := range []string{"98999", id} {
		res, err := f.svc.Override(context.Background(), miss)
		if !errors.Is(err, ErrNoActiveTimer) || res.Cancelled || res.Persisted {
			t.Fatalf("%s: result = %+v %v", miss, res, err)
		}
		if u, d, a := store.writes(); u != updates || d != deletes || a != audits {
			t.Fatalf("%s: store writes %d/%d/%d, want %d/%d/%d", miss, u, d, a, updates, deletes, audits)
		}
		if n := len(f.out.to(10)); n != sent {
			t.Fatalf("%s: owner got %d new messages", miss, n-sent)
		}
	}
}

func TestExpiryDeletesAndNotifies(t *testing.T) {
	f := newFixture(t, nil)
	id := f.register(t, 10)

	for i := 0; i < 4; i++ {
		eventually(t, func() bool { return f.clock.pending() == 1 }, "worker parked")
		f.clock.Advance(30 * time.Minute)
	}
	eventually(t, func() bool { return f.timers.Stats().Active == 0 }, "timer expired")

	msgs := f.out.to(10)
	if len(msgs) != 5 {
		t.Fatalf("messages = %d: %q", len(msgs), msgs)
	}
	for i, left := range []string{"90 minutos", "60 minutos", "30 minutos", "10 minutos"} {
		if !strings.Contains(msgs[i], left) || !strings.Contains(msgs[i], "$180 MXN") {
			t.Fatalf("reminder %d = %q", i, msgs[i])
		}
	}
	if !strings.Contains(msgs[4], "TIEMPO AGOTADO") || !strings.Contains(msgs[4], "/permiso") {
		t.Fatalf("expiry = %q", msgs[4])
	}
	if _, err := f.svc.Lookup(context.Background(), id); !errors.Is(err, ErrNotFound) {
		t.Fatalf("Lookup after expiry err = %v", err)
	}
}

func TestActiveAndLookup(t *testing.T) {
	f := newFixture(t, nil)
	id := f.register(t, 10)

	eventually(t, func() bool { return f.clock.pending() == 1 }, "worker parked")
	f.clock.Advance(45 * time.Minute)
	got := f.svc.Active(10)
	if len(got) != 1 || got[0].Folio != id || got[0].Remaining != 75*time.Minute {
		t.Fatalf("Active = %+v", got)
	}
	if len(f.svc.Active(99)) != 0 {
		t.Fatal("unknown owner has folios")
	}

	p, err := f.svc.Lookup(context.Background(), " "+id+" ")
	if err != nil || p.State != StateValid || p.Folio.Marca != "NISSAN" {
		t.Fatalf("Lookup = %+v %v", p, err)
	}
	f.svc.now = func() time.Time { return f.clock.Now().AddDate(0, 0, 31) }
	if p, _ := f.svc.Lookup(context.Background(), id); p.State != StateExpired {
		t.Fatalf("state after validity = %s", p.State)
	}
}

func TestLookupURL(t *testing.T) {
	svc := New(Config{PublicBaseURL: "https://permisos.example/"}, storage.NewMemory(), nil, nil, logx.Nop())
	if got := svc.LookupURL("981001"); got != "https://permisos.example/consulta/981001" {
		t.Fatalf("LookupURL = %s", got)
	}
	if New(Config{}, nil, nil, nil, logx.Nop()).LookupURL("1") != "" {
		t.Fatal("LookupURL without base")
	}
}
