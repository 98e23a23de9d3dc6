package intake

import (
	"errors"
	"strings"
	"testing"
	"time"

	logx "folibot/pkg/logx"
)

func TestFullConversation(t *testing.T) {
	m := New(Config{}, logx.Nop())
	if p := m.Begin(7); !strings.HasPrefix(p, "Paso 1/7") {
		t.Fatalf("first prompt = %q", p)
	}

	answers := []string{" nissan ", "versa", "2020", "3n1cn7ad0zk123456", "hr16de", "gris", "juan pérez"}
	var last Reply
	for i, a := range answers {
		r, err := m.Answer(7, a)
		if err != nil {
			t.Fatalf("answer %d: %v", i, err)
		}
		if r.Retry {
			t.Fatalf("answer %d rejected: %s", i, r.Text)
		}
		if i < len(answers)-1 && r.Done {
			t.Fatalf("done after %d answers", i+1)
		}
		last = r
	}
	if !last.Done {
		t.Fatal("intake not done")
	}
	want := Draft{Marca: "NISSAN", Linea: "VERSA", Anio: "2020", Serie: "3N1CN7AD0ZK123456", Motor: "HR16DE", Color: "GRIS", Nombre: "JUAN PÉREZ"}
	if last.Draft != want {
		t.Fatalf("draft = %+v", last.Draft)
	}
	if m.Active(7) {
		t.Fatal("session still active after completion")
	}
}

func TestValidationKeepsStep(t *testing.T) {
	m := New(Config{}, logx.Nop())
	m.Begin(1)
	mustAnswer(t, m, 1, "vw")
	mustAnswer(t, m, 1, "jetta")

	for _, bad := range []string{"20", "20a0", "20201", ""} {
		r, err := m.Answer(1, bad)
		if err != nil {
			t.Fatal(err)
		}
		if !r.Retry || !strings.Contains(r.Text, "4 dígitos") {
			t.Fatalf("anio %q accepted: %+v", bad, r)
		}
	}
	r := mustAnswer(t, m, 1, "2015")
	if !strings.Contains(r.Text, "Paso 4/7") {
		t.Fatalf("after year = %q", r.Text)
	}

	r, _ = m.Answer(1, "abc1")
	if !r.Retry {
		t.Fatal("short serial accepted")
	}
	r = mustAnswer(t, m, 1, "abcd1")
	if !strings.Contains(r.Text, "SERIE: ABCD1") {
		t.Fatalf("serial ack = %q", r.Text)
	}
}

func TestNoSessionAndCancel(t *testing.T) {
	m := New(Config{}, logx.Nop())
	if _, err := m.Answer(3, "x"); !errors.Is(err, ErrNoSession) {
		t.Fatalf("err = %v", err)
	}
	m.Begin(3)
	if !m.Cancel(3) {
		t.Fatal("Cancel = false for live session")
	}
	if m.Cancel(3) {
		t.Fatal("second Cancel = true")
	}
}

func TestBeginRestarts(t *testing.T) {
	m := New(Config{}, logx.Nop())
	m.Begin(4)
	mustAnswer(t, m, 4, "ford")
	m.Begin(4)
	r := mustAnswer(t, m, 4, "kia")
	if !strings.Contains(r.Text, "MARCA: KIA") || !strings.Contains(r.Text, "Paso 2/7") {
		t.Fatalf("restart reply = %q", r.Text)
	}
}

func TestSessionsExpire(t *testing.T) {
	m := New(Config{TTL: 30 * time.Millisecond}, logx.Nop())
	m.Begin(5)
	time.Sleep(80 * time.Millisecond)
	if m.Active(5) {
		t.Fatal("session survived its TTL")
	}
}

func TestCapacityEvictsOldest(t *testing.T) {
	m := New(Config{MaxSessions: 2}, logx.Nop())
	m.Begin(1)
	m.Begin(2)
	m.Begin(3)
	if m.Active(1) || !m.Active(2) || !m.Active(3) {
		t.Fatal("oldest session not evicted")
	}

	m.Apply(Config{MaxSessions: 5})
	if !m.Active(2) || !m.Active(3) || m.Len() != 2 {
		t.Fatal("Apply lost live sessions")
	}
}

func mustAnswer(t *testing.T, m *Manager, owner int64, text string) Reply {
	t.Helper()
	r, err := m.Answer(owner, text)
	if err != nil {
		t.Fatal(err)
	}
	if r.Retry {
		t.Fatalf("answer %q rejected: %s", text, r.Text)
	}
	return r
}
