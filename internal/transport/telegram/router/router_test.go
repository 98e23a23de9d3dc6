package router

import (
	"context"
	"slices"
	"strings"
	"sync"
	"testing"
	"time"

	kit "folibot/internal/transport"
	logx "folibot/pkg/logx"
)

type fakeSender struct {
	mu    sync.Mutex
	texts []string
}

func (f *fakeSender) SendText(ctx context.Context, to kit.ChatTarget, text string, opt *kit.SendOptions) (kit.MessageRef, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.texts = append(f.texts, text)
	return kit.MessageRef{ChatID: to.ChatID}, nil
}

func (f *fakeSender) all() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return slices.Clone(f.texts)
}

type calls struct {
	mu   sync.Mutex
	seen []string
}

func (c *calls) add(s string) {
	c.mu.Lock()
	c.seen = append(c.seen, s)
	c.mu.Unlock()
}

func (c *calls) list() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return slices.Clone(c.seen)
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatal("condition not met")
}

func startRouter(t *testing.T, m *CommandManager) chan<- kit.Update {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	updates := make(chan kit.Update, 16)
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = m.DispatchLoop(ctx, updates)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	waitFor(t, func() bool { return m.Supervisor() != nil })
	return updates
}

func text(from int64, s string) kit.Update {
	return kit.Update{Kind: kit.UpdateMessage, Message: &kit.Message{ChatID: from, FromID: from, Text: s}}
}

func TestRoutesCommandsAndFallback(t *testing.T) {
	snd := &fakeSender{}
	got := &calls{}
	m := NewCommandManager(logx.Nop(), snd, []int64{1})
	m.SetRegistry(context.Background(), []Command{
		{Name: "folios", Handle: func(ctx context.Context, req *Request) error {
			got.add("folios:" + strings.Join(req.Args, ","))
			return nil
		}},
		{Name: "timers", Access: AccessOwnerOnly, Handle: func(ctx context.Context, req *Request) error {
			got.add("timers")
			return nil
		}},
		{Name: "pagado", Aliases: []string{"pague"}, Handle: func(ctx context.Context, req *Request) error {
			got.add("pagado:" + req.Flags["folio"])
			return nil
		}},
	})
	m.SetFallback(func(ctx context.Context, req *Request) error {
		got.add("fallback:" + req.Command)
		return nil
	})
	updates := startRouter(t, m)

	updates <- text(2, "/folios@folibot a b")
	updates <- text(2, "/timers")
	updates <- text(1, "/timers")
	updates <- text(2, "/pague --folio=981001")
	updates <- text(2, "/nada")
	updates <- text(2, "hola")
	updates <- kit.Update{Kind: kit.UpdatePhoto, Message: &kit.Message{ChatID: 2, FromID: 2, PhotoID: "f"}}

	want := []string{
		"folios:a,b",
		"fallback:unknown",
		"timers",
		"pagado:981001",
		"fallback:unknown",
		"fallback:message",
		"fallback:photo",
	}
	waitFor(t, func() bool { return len(got.list()) == len(want) })
	if !sameItems(got.list(), want) {
		t.Fatalf("handled = %v", got.list())
	}
}

func TestMessagesFromOneUserStayOrdered(t *testing.T) {
	got := &calls{}
	m := NewCommandManager(logx.Nop(), &fakeSender{}, nil, WithWorkers(4))
	m.SetFallback(func(ctx context.Context, req *Request) error {
		if req.Message.Text == "0" {
			time.Sleep(20 * time.Millisecond)
		}
		got.add(req.Message.Text)
		return nil
	})
	updates := startRouter(t, m)
	for _, s := range []string{"0", "1", "2", "3"} {
		updates <- text(7, s)
	}
	waitFor(t, func() bool { return len(got.list()) == 4 })
	if !slices.Equal(got.list(), []string{"0", "1", "2", "3"}) {
		t.Fatalf("order = %v", got.list())
	}
}

func TestPanicIsRecovered(t *testing.T) {
	got := &calls{}
	m := NewCommandManager(logx.Nop(), &fakeSender{}, nil, WithWorkers(1))
	m.SetRegistry(context.Background(), []Command{
		{Name: "boom", Handle: func(ctx context.Context, req *Request) error { panic("boom") }},
		{Name: "ok", Handle: func(ctx context.Context, req *Request) error { got.add("ok"); return nil }},
	})
	updates := startRouter(t, m)
	updates <- text(3, "/boom")
	updates <- text(3, "/ok")
	waitFor(t, func() bool { return len(got.list()) == 1 })
}

func TestHelpHidesOwnerCommands(t *testing.T) {
	m := NewCommandManager(logx.Nop(), &fakeSender{}, []int64{1})
	m.SetRegistry(context.Background(), []Command{
		{Name: "folios", Description: "ver folios", Handle: func(context.Context, *Request) error { return nil }},
		{Name: "timers", Description: "estado", Access: AccessOwnerOnly, Handle: func(context.Context, *Request) error { return nil }},
		{Name: "secreto", Hidden: true, Handle: func(context.Context, *Request) error { return nil }},
	})

	public := m.helpText(nil, false)
	if !strings.Contains(public, "/folios: ver folios") || strings.Contains(public, "timers") || strings.Contains(public, "secreto") {
		t.Fatalf("public help = %q", public)
	}
	admin := m.helpText(nil, true)
	if !strings.Contains(admin, "🔒 /timers") {
		t.Fatalf("owner help = %q", admin)
	}
	if got := m.helpText([]string{"timers"}, false); !strings.Contains(got, "no reconocido") {
		t.Fatalf("non-owner detail = %q", got)
	}
}

func TestTokenizeAndFlags(t *testing.T) {
	toks := tokenizeCommandLine(`/folios "a b" --status=PENDIENTE -v`)
	if !slices.Equal(toks, []string{"/folios", "a b", "--status=PENDIENTE", "-v"}) {
		t.Fatalf("tokens = %q", toks)
	}
	pos, flags, bools := parseFlags(toks[1:])
	if !slices.Equal(pos, []string{"a b"}) || flags["status"] != "PENDIENTE" || !bools["v"] {
		t.Fatalf("pos=%v flags=%v bools=%v", pos, flags, bools)
	}
}

func TestSanitizeTelegramCommand(t *testing.T) {
	tests := map[string]string{
		"Folios":     "folios",
		"mis-folios": "mis_folios",
		"9lives":     "cmd_9lives",
		"  ":         "",
	}
	for in, want := range tests {
		if got := sanitizeTelegramCommand(in); got != want {
			t.Errorf("sanitize(%q) = %q, want %q", in, got, want)
		}
	}
}

func sameItems(a, b []string) bool {
	a, b = slices.Clone(a), slices.Clone(b)
	slices.Sort(a)
	slices.Sort(b)
	return slices.Equal(a, b)
}

func TestTableAliasesAndMenu(t *testing.T) {
	nop := func(context.Context, *Request) error { return nil }
	tbl := newTable([]Command{
		{Name: "/Folios", Description: "ver\nfolios", Handle: nop},
		{Name: "pagado", Aliases: []string{"folios", "pague"}, Handle: nop},
		{Name: "timers", Access: AccessOwnerOnly, Handle: nop},
		{Name: "secreto", Hidden: true, Handle: nop},
		{Name: "sin-handler"},
	})

	if c, ok := tbl.lookup("FOLIOS"); !ok || c.Name != "folios" {
		t.Fatalf("lookup folios = %+v, %v", c, ok)
	}
	if c, ok := tbl.lookup("pague"); !ok || c.Name != "pagado" {
		t.Fatalf("alias = %+v, %v", c, ok)
	}
	if _, ok := tbl.lookup("sin-handler"); ok {
		t.Fatal("command without handler registered")
	}

	var names []string
	for _, c := range tbl.visible(true) {
		names = append(names, c.Name)
	}
	if !slices.Equal(names, []string{"folios", "pagado", "timers"}) {
		t.Fatalf("visible = %v", names)
	}

	menu := menuCommands(tbl)
	if len(menu) != 2 || menu[0].Command != "folios" || menu[0].Description != "ver folios" || menu[1].Description != "pagado" {
		t.Fatalf("menu = %+v", menu)
	}
}
