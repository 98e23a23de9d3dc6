package httpapi

import (
	"crypto/subtle"
	"encoding/json"
	"errors"
	"html/template"
	"net/http"
	hpprof "net/http/pprof"
	"strings"
	"time"

	"folibot/internal/folio"
	logx "folibot/pkg/logx"
)

// Handler builds the mux for the current config, judging pprof exposure by
// the configured address.
func (s *Service) Handler() http.Handler {
	s.mu.Lock()
	cur := s.cfg
	s.mu.Unlock()
	return s.handler(cur, cur.Addr)
}

// handler decides pprof exposure by addr, the address actually bound.
func (s *Service) handler(cur Config, addr string) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /{$}", s.handleHealth)
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	mux.HandleFunc("GET /consulta/{folio}", s.handleLookup)

	if pprofAllowed(cur, addr) {
		wrap := func(h http.HandlerFunc) http.HandlerFunc { return withAuth(cur.Token, h) }
		mux.HandleFunc("/debug/pprof/", wrap(hpprof.Index))
		mux.HandleFunc("/debug/pprof/cmdline", wrap(hpprof.Cmdline))
		mux.HandleFunc("/debug/pprof/profile", wrap(hpprof.Profile))
		mux.HandleFunc("/debug/pprof/symbol", wrap(hpprof.Symbol))
		mux.HandleFunc("/debug/pprof/trace", wrap(hpprof.Trace))
	}
	return mux
}

func (s *Service) handleHealth(w http.ResponseWriter, r *http.Request) {
	h := s.health()
	h.Status = "ok"
	h.Uptime = time.Since(s.start).Round(time.Second).String()
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(h); err != nil {
		s.log.Warn("health encode failed", logx.Err(err))
	}
}

var lookupPage = template.Must(template.New("consulta").Parse(`<!DOCTYPE html>
<html lang="es">
<head>
<meta charset="utf-8">
<meta name="viewport" content="width=device-width, initial-scale=1">
<title>Consulta de permiso {{.ID}}</title>
</head>
<body>
<h1>{{if .Entity}}{{.Entity}}: {{end}}Consulta de permiso</h1>
{{if .Found}}
<p><strong>Folio:</strong> {{.Permit.Folio.Folio}}</p>
<p><strong>Estado:</strong> {{.Permit.State}}</p>
<p><strong>Titular:</strong> {{.Permit.Folio.Nombre}}</p>
<p><strong>Vehículo:</strong> {{.Permit.Folio.Marca}} {{.Permit.Folio.Linea}} {{.Permit.Folio.Anio}}</p>
<p><strong>Serie:</strong> {{.Permit.Folio.Serie}}</p>
<p><strong>Motor:</strong> {{.Permit.Folio.Motor}}</p>
<p><strong>Color:</strong> {{.Permit.Folio.Color}}</p>
<p><strong>Expedición:</strong> {{.Permit.Folio.IssuedAt.Format "02/01/2006"}}</p>
<p><strong>Vigencia:</strong> {{.Permit.Folio.ExpiresAt.Format "02/01/2006"}}</p>
{{else}}
<p>No se encontró el folio {{.ID}}.</p>
{{end}}
</body>
</html>
`))

type lookupView struct {
	ID     string
	Entity string
	Found  bool
	Permit folio.Permit
}

func (s *Service) handleLookup(w http.ResponseWriter, r *http.Request) {
	id := strings.ToUpper(strings.TrimSpace(r.PathValue("folio")))
	view := lookupView{ID: id, Entity: s.entity()}

	status := http.StatusOK
	if s.lookup == nil {
		status = http.StatusNotFound
	} else {
		p, err := s.lookup.Lookup(r.Context(), id)
		switch {
		case err == nil:
			view.Found, view.Permit = true, p
		case errors.Is(err, folio.ErrNotFound):
			status = http.StatusNotFound
		default:
			s.log.Error("lookup failed", logx.String("folio", id), logx.Err(err))
			http.Error(w, "error interno", http.StatusInternalServerError)
			return
		}
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	if err := lookupPage.Execute(w, view); err != nil {
		s.log.Warn("lookup render failed", logx.String("folio", id), logx.Err(err))
	}
}

func withAuth(token string, h http.HandlerFunc) http.HandlerFunc {
	tok := strings.TrimSpace(token)
	if tok == "" {
		return h
	}
	want := []byte(tok)
	return func(w http.ResponseWriter, r *http.Request) {
		// ?token= wins over the Authorization header when both are sent
		got := r.URL.Query().Get("token")
		if got == "" {
			if bearer, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer "); ok {
				got = strings.TrimSpace(bearer)
			}
		}
		if got == "" || subtle.ConstantTimeCompare([]byte(got), want) != 1 {
			unauthorized(w)
			return
		}
		h(w, r)
	}
}

func unauthorized(w http.ResponseWriter) {
	w.Header().Set("WWW-Authenticate", "Bearer")
	http.Error(w, "unauthorized", http.StatusUnauthorized)
}
