// Package folio ties the intake result, the folio store and the payment
// deadline together. Every state change that stops a timer goes through
// Cancel first; the store is only touched when the cancel won.
package folio

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"folibot/internal/deadline"
	"folibot/internal/eventbus"
	"folibot/internal/intake"
	"folibot/internal/notifier"
	"folibot/internal/storage"
	logx "folibot/pkg/logx"
)

// Timers is the part of the deadline scheduler used here.
type Timers interface {
	Start(owner int64, item string) error
	Cancel(item string) bool
	CancelOwner(item string) (int64, bool)
	ActiveItemsFor(owner int64) []string
	RemainingTime(item string) (time.Duration, bool)
	Stats() deadline.Stats
}

type Notifier interface {
	Send(ctx context.Context, owner int64, text string) notifier.Outcome
}

type Config struct {
	Prefix         string
	Start          int64
	OverridePrefix string
	Entity         string
	Price          int
	Currency       string
	ValidityDays   int
	PaymentInfo    string
	PublicBaseURL  string
	// Deadline is the payment window shown to users.
	Deadline time.Duration
}

// Permit states reported by Lookup.
const (
	StateValid   = "VIGENTE"
	StateExpired = "VENCIDO"
)

type ActiveFolio struct {
	Folio     string        `json:"folio"`
	Remaining time.Duration `json:"remaining"`
}

type ReceiptResult struct {
	Folio string
	At    time.Time
	// Persisted is false when the status update failed; the timer is stopped
	// either way.
	Persisted bool
}

type OverrideResult struct {
	Folio     string
	Owner     int64
	Cancelled bool
	Persisted bool
	Notified  notifier.Outcome
	// Remaining is the number of live timers after the override.
	Remaining int
}

type Permit struct {
	Folio storage.Folio
	State string
}

// Event is the Data of folio events on the bus.
type Event struct {
	Folio string `json:"folio"`
	Owner int64  `json:"owner"`
	Actor int64  `json:"actor,omitempty"`
}

type Option func(*Service)

func WithNow(now func() time.Time) Option { return func(s *Service) { s.now = now } }
func WithBus(b eventbus.Bus) Option       { return func(s *Service) { s.bus = b } }

type Service struct {
	log    logx.Logger
	store  storage.Store
	timers Timers
	notify Notifier
	bus    eventbus.Bus
	now    func() time.Time

	mu  sync.RWMutex
	cfg Config
}

func New(cfg Config, store storage.Store, timers Timers, notify Notifier, log logx.Logger, opts ...Option) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	s := &Service{
		log:    log.With(logx.String("comp", "folio")),
		store:  store,
		timers: timers,
		notify: notify,
		bus:    eventbus.Nop(),
		now:    time.Now,
		cfg:    normalize(cfg),
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

func normalize(cfg Config) Config {
	if cfg.Prefix == "" {
		cfg.Prefix = "98100"
	}
	if cfg.Start <= 0 {
		cfg.Start = 1
	}
	if cfg.OverridePrefix == "" {
		cfg.OverridePrefix = "98"
	}
	if cfg.ValidityDays <= 0 {
		cfg.ValidityDays = 30
	}
	if cfg.Currency == "" {
		cfg.Currency = "MXN"
	}
	if cfg.Deadline <= 0 {
		cfg.Deadline = deadline.DefaultDeadline
	}
	cfg.PublicBaseURL = strings.TrimRight(cfg.PublicBaseURL, "/")
	return cfg
}

func (s *Service) Apply(cfg Config) {
	cfg = normalize(cfg)
	s.mu.Lock()
	s.cfg = cfg
	s.mu.Unlock()
}

func (s *Service) Config() Config {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cfg
}

// Formatter returns the reminder texts for the current terms.
func (s *Service) Formatter() Formatter {
	cfg := s.Config()
	return Formatter{Entity: cfg.Entity, Price: cfg.Price, Currency: cfg.Currency}
}

// LookupURL is the public lookup page for folio, or "" without a base URL.
func (s *Service) LookupURL(folio string) string {
	base := s.Config().PublicBaseURL
	if base == "" {
		return ""
	}
	return base + "/consulta/" + folio
}

// Register stores a new PENDIENTE folio for owner and starts its payment
// timer. A failed insert starts no timer; a timer that cannot start removes
// the row again.
func (s *Service) Register(ctx context.Context, owner int64, d intake.Draft) (storage.Folio, error) {
	cfg := s.Config()
	id, err := s.store.NextFolio(ctx, cfg.Prefix, cfg.Start)
	if err != nil {
		return storage.Folio{}, fmt.Errorf("next folio: %w", err)
	}

	now := s.now()
	f := storage.Folio{
		Folio:     id,
		Owner:     owner,
		Marca:     d.Marca,
		Linea:     d.Linea,
		Anio:      d.Anio,
		Serie:     d.Serie,
		Motor:     d.Motor,
		Color:     d.Color,
		Nombre:    d.Nombre,
		Status:    storage.StatusPending,
		Price:     cfg.Price,
		IssuedAt:  now,
		ExpiresAt: now.AddDate(0, 0, cfg.ValidityDays),
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.store.Insert(ctx, f); err != nil {
		return storage.Folio{}, fmt.Errorf("insert folio %s: %w", id, err)
	}

	if err := s.timers.Start(owner, id); err != nil {
		s.log.Error("payment timer not started", logx.String("folio", id), logx.Int64("owner", owner), logx.Err(err))
		if derr := s.store.Delete(ctx, id); derr != nil {
			s.log.Warn("untimed folio left for sweep", logx.String("folio", id), logx.Err(derr))
		}
		s.audit(ctx, owner, "register", id, false, err.Error())
		return storage.Folio{}, fmt.Errorf("start timer for %s: %w", id, err)
	}

	s.log.Info("folio registered", logx.String("folio", id), logx.Int64("owner", owner))
	s.audit(ctx, owner, "register", id, true, "")
	s.publish(eventbus.FolioRegistered, Event{Folio: id, Owner: owner})
	return f, nil
}

// SubmitReceipt stops the timer of one of owner's folios and marks it
// COMPROBANTE_ENVIADO. With an empty folio the owner's only active folio is
// used; several active folios yield an *AmbiguousError.
func (s *Service) SubmitReceipt(ctx context.Context, owner int64, folio string) (ReceiptResult, error) {
	folio = strings.TrimSpace(folio)
	items := s.timers.ActiveItemsFor(owner)
	switch {
	case folio != "":
		if !slices.Contains(items, folio) {
			return ReceiptResult{}, ErrNoActiveTimer
		}
	case len(items) == 0:
		return ReceiptResult{}, ErrNoActiveTimer
	case len(items) == 1:
		folio = items[0]
	default:
		return ReceiptResult{}, &AmbiguousError{Folios: items}
	}

	if !s.timers.Cancel(folio) {
		return ReceiptResult{}, ErrNoActiveTimer
	}

	res := ReceiptResult{Folio: folio, At: s.now(), Persisted: true}
	if err := s.store.UpdateStatus(ctx, folio, storage.StatusReceiptSent, res.At); err != nil {
		res.Persisted = false
		s.log.Error("receipt status update failed", logx.String("folio", folio), logx.Err(err))
	}
	s.log.Info("receipt submitted", logx.String("folio", folio), logx.Int64("owner", owner))
	s.audit(ctx, owner, "receipt", folio, res.Persisted, "")
	s.publish(eventbus.FolioReceipt, Event{Folio: folio, Owner: owner})
	return res, nil
}

// Override validates a folio on behalf of an operator.
func (s *Service) Override(ctx context.Context, folio string) (OverrideResult, error) {
	return s.OverrideBy(ctx, 0, folio)
}

// OverrideBy stops the folio's timer, marks it VALIDADO_ADMIN and tells the
// owner. A folio without a live timer yields ErrNoActiveTimer and
// Cancelled=false and leaves the store and the owner untouched.
func (s *Service) OverrideBy(ctx context.Context, actor int64, folio string) (OverrideResult, error) {
	cfg := s.Config()
	folio = strings.ToUpper(strings.TrimSpace(folio))
	res := OverrideResult{Folio: folio}
	if folio == "" || !strings.HasPrefix(folio, cfg.OverridePrefix) {
		return res, fmt.Errorf("%w: %q must start with %s", ErrInvalidFolio, folio, cfg.OverridePrefix)
	}

	owner, ok := s.timers.CancelOwner(folio)
	if !ok {
		s.log.Info("override without active timer", logx.String("folio", folio), logx.Int64("actor", actor))
		res.Remaining = s.timers.Stats().Active
		return res, ErrNoActiveTimer
	}
	res.Owner = owner
	res.Cancelled = true
	res.Persisted = true

	if err := s.store.UpdateStatus(ctx, folio, storage.StatusAdminValidated, s.now()); err != nil {
		res.Persisted = false
		s.log.Error("override status update failed", logx.String("folio", folio), logx.Err(err))
	}

	res.Notified = s.notify.Send(ctx, owner, validatedText(folio, cfg.Entity))
	if !res.Notified.OK {
		s.log.Warn("override notice not delivered", logx.String("folio", folio), logx.Int64("owner", owner), logx.String("reason", res.Notified.Reason))
	}
	res.Remaining = s.timers.Stats().Active

	s.log.Info("folio validated by operator", logx.String("folio", folio), logx.Int64("owner", owner), logx.Int64("actor", actor))
	s.audit(ctx, actor, "override", folio, true, "")
	s.publish(eventbus.FolioOverride, Event{Folio: folio, Owner: owner, Actor: actor})
	return res, nil
}

func validatedText(folio, entity string) string {
	sys := "Sistema Digital"
	if entity != "" {
		sys += " " + entity
	}
	return fmt.Sprintf("✅ PAGO VALIDADO POR ADMINISTRACIÓN\n\n"+
		"📄 Folio: %s\n"+
		"Su permiso ha sido validado por administración.\n"+
		"El documento está completamente activo para circular.\n\n"+
		"Gracias por utilizar el %s.", folio, sys)
}

// Active lists owner's folios that still have a running timer, in start order.
func (s *Service) Active(owner int64) []ActiveFolio {
	items := s.timers.ActiveItemsFor(owner)
	out := make([]ActiveFolio, 0, len(items))
	for _, it := range items {
		left, ok := s.timers.RemainingTime(it)
		if !ok {
			continue
		}
		out = append(out, ActiveFolio{Folio: it, Remaining: left})
	}
	return out
}

// Lookup reports a stored folio and whether its permit is still valid.
func (s *Service) Lookup(ctx context.Context, folio string) (Permit, error) {
	folio = strings.ToUpper(strings.TrimSpace(folio))
	f, err := s.store.Get(ctx, folio)
	if errors.Is(err, storage.ErrNotFound) {
		return Permit{}, ErrNotFound
	}
	if err != nil {
		return Permit{}, err
	}
	state := StateValid
	if s.now().After(f.ExpiresAt) {
		state = StateExpired
	}
	return Permit{Folio: f, State: state}, nil
}

func (s *Service) audit(ctx context.Context, actor int64, action, folio string, ok bool, detail string) {
	e := storage.AuditEntry{At: s.now(), ActorID: actor, Action: action, Folio: folio, OK: ok, Detail: detail}
	if err := s.store.AppendAudit(ctx, e); err != nil {
		s.log.Warn("audit append failed", logx.String("action", action), logx.String("folio", folio), logx.Err(err))
	}
}

func (s *Service) publish(typ string, e Event) {
	s.bus.Publish(eventbus.Event{Type: typ, Time: s.now(), Data: e})
}
