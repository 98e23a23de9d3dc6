package httpapi

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"folibot/internal/folio"
	"folibot/internal/storage"
	logx "folibot/pkg/logx"
)

type fakeLookup map[string]folio.Permit

func (f fakeLookup) Lookup(ctx context.Context, id string) (folio.Permit, error) {
	p, ok := f[id]
	if !ok {
		return folio.Permit{}, folio.ErrNotFound
	}
	return p, nil
}

func newTestService(cfg Config) *Service {
	issued := time.Date(2024, 5, 10, 12, 0, 0, 0, time.UTC)
	lookup := fakeLookup{
		"981001": {
			State: folio.StateValid,
			Folio: storage.Folio{
				Folio: "981001", Nombre: "JUAN <PEREZ>", Marca: "NISSAN", Linea: "VERSA", Anio: "2020",
				IssuedAt: issued, ExpiresAt: issued.AddDate(0, 0, 30),
			},
		},
	}
	health := func() Health { return Health{ActiveTimers: 3, Owners: 2} }
	return New(cfg, lookup, health, logx.Nop(), WithEntity(func() string { return "EDOMEX" }))
}

func get(t *testing.T, h http.Handler, target string, hdr map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, target, nil)
	for k, v := range hdr {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestHealth(t *testing.T) {
	h := newTestService(Config{}).Handler()

	rec := get(t, h, "/", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var body Health
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatal(err)
	}
	if body.Status != "ok" || body.ActiveTimers != 3 || body.Owners != 2 || body.Uptime == "" {
		t.Fatalf("health = %+v", body)
	}

	if rec := get(t, h, "/healthz", nil); rec.Code != http.StatusOK || rec.Body.String() != "ok" {
		t.Fatalf("healthz = %d %q", rec.Code, rec.Body.String())
	}
}

func TestLookupPage(t *testing.T) {
	h := newTestService(Config{}).Handler()

	rec := get(t, h, "/consulta/981001", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	page := rec.Body.String()
	for _, want := range []string{"VIGENTE", "EDOMEX", "NISSAN VERSA 2020", "09/06/2024", "JUAN &lt;PEREZ&gt;"} {
		if !strings.Contains(page, want) {
			t.Fatalf("page missing %q:\n%s", want, page)
		}
	}

	rec = get(t, h, "/consulta/000", nil)
	if rec.Code != http.StatusNotFound || !strings.Contains(rec.Body.String(), "No se encontró") {
		t.Fatalf("missing folio = %d %q", rec.Code, rec.Body.String())
	}
}

func TestPprofNeedsToken(t *testing.T) {
	tests := []struct {
		name string
		cfg  Config
		hdr  map[string]string
		path string
		want int
	}{
		{"disabled", Config{Addr: "127.0.0.1:0"}, nil, "/debug/pprof/", http.StatusNotFound},
		{"public without token", Config{Addr: "0.0.0.0:8080", Pprof: true}, nil, "/debug/pprof/", http.StatusNotFound},
		{"loopback", Config{Addr: "127.0.0.1:0", Pprof: true}, nil, "/debug/pprof/", http.StatusOK},
		{"bad token", Config{Addr: "0.0.0.0:8080", Pprof: true, Token: "s3"}, nil, "/debug/pprof/?token=x", http.StatusUnauthorized},
		{"query token", Config{Addr: "0.0.0.0:8080", Pprof: true, Token: "s3"}, nil, "/debug/pprof/?token=s3", http.StatusOK},
		{"bearer", Config{Addr: "0.0.0.0:8080", Pprof: true, Token: "s3"}, map[string]string{"Authorization": "Bearer s3"}, "/debug/pprof/", http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := get(t, newTestService(tt.cfg).Handler(), tt.path, tt.hdr)
			if rec.Code != tt.want {
				t.Fatalf("status = %d, want %d", rec.Code, tt.want)
			}
		})
	}
}

func TestStartStop(t *testing.T) {
	s := newTestService(Config{Enabled: true, Addr: "127.0.0.1:0"})
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	if err := s.Start(ctx); err != nil {
		t.Fatal(err)
	}
	addr := s.Addr()
	if addr == "" {
		t.Fatal("server did not start")
	}

	resp, err := http.Get("http://" + addr + "/healthz")
	if err != nil {
		t.Fatal(err)
	}
	b, _ := io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	if string(b) != "ok" {
		t.Fatalf("healthz = %q", b)
	}

	s.Stop(ctx)
	if s.Supervisor() != nil || s.Addr() != "" {
		t.Fatal("server still running after Stop")
	}

	// Re-enabling through Reconfigure rebinds with the Start context.
	if err := s.Reconfigure(ctx, Config{Enabled: true, Addr: "127.0.0.1:0"}); err != nil {
		t.Fatal(err)
	}
	if s.Addr() == "" || s.Supervisor() == nil {
		t.Fatal("Reconfigure did not start the server")
	}

	if err := s.Reconfigure(ctx, Config{Enabled: false}); err != nil {
		t.Fatal(err)
	}
	if s.Enabled() || s.Addr() != "" {
		t.Fatal("still serving after disabling")
	}
}

func TestStartReportsBindError(t *testing.T) {
	first := newTestService(Config{Enabled: true, Addr: "127.0.0.1:0"})
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := first.Start(ctx); err != nil {
		t.Fatal(err)
	}
	defer first.Stop(ctx)

	second := newTestService(Config{Enabled: true, Addr: first.Addr()})
	if err := second.Start(ctx); err == nil {
		second.Stop(ctx)
		t.Fatal("second bind on the same port succeeded")
	}
}

func TestIsLoopbackAddr(t *testing.T) {
	tests := map[string]bool{
		"127.0.0.1:8080": true,
		"localhost:1":    true,
		"[::1]:80":       true,
		":8080":          false,
		"0.0.0.0:8080":   false,
		"garbage":        false,
	}
	for in, want := range tests {
		if got := isLoopbackAddr(in); got != want {
			t.Errorf("isLoopbackAddr(%q) = %v, want %v", in, got, want)
		}
	}
}
