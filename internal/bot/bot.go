// Package bot holds the conversation handlers: commands, the intake flow,
// payment receipts and the operator override.
package bot

import (
	"context"
	"time"

	"folibot/internal/deadline"
	"folibot/internal/folio"
	"folibot/internal/intake"
	"folibot/internal/notifier"
	"folibot/internal/transport/telegram/router"
	logx "folibot/pkg/logx"

	"github.com/hashicorp/golang-lru/v2/expirable"
)

// Timers is the read-only view of the deadline scheduler used by /timers.
type Timers interface {
	Snapshot() []deadline.TimerInfo
	Stats() deadline.Stats
}

type Deps struct {
	Folios   *folio.Service
	Intake   *intake.Manager
	Timers   Timers
	Notifier *notifier.Service // optional, for /timers
}

type Bot struct {
	log    logx.Logger
	folios *folio.Service
	intake *intake.Manager
	timers Timers
	notify *notifier.Service

	// choosing remembers owners who sent a receipt photo while holding
	// several active folios; their next folio number picks one.
	choosing *expirable.LRU[int64, []string]
}

const choiceTTL = 15 * time.Minute

func New(d Deps, log logx.Logger) *Bot {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Bot{
		log:      log.With(logx.String("comp", "bot")),
		folios:   d.Folios,
		intake:   d.Intake,
		timers:   d.Timers,
		notify:   d.Notifier,
		choosing: expirable.NewLRU[int64, []string](1000, nil, choiceTTL),
	}
}

// Commands returns the command set registered with the router.
func (b *Bot) Commands() []router.Command {
	return []router.Command{
		{
			Name:        "start",
			Description: "información del servicio",
			Handle:      b.cmdStart,
		},
		{
			Name:        "permiso",
			Description: "iniciar el trámite de un permiso",
			Handle:      b.cmdPermiso,
		},
		{
			Name:        "folios",
			Description: "ver sus folios pendientes de pago",
			Handle:      b.cmdFolios,
		},
		{
			Name:        "cancelar",
			Description: "cancelar el trámite en curso",
			Handle:      b.cmdCancelar,
		},
		{
			Name:        "pagado",
			Description: "avisar el pago de un folio",
			Usage:       "/pagado [folio]",
			Handle:      b.cmdPagado,
		},
		{
			Name:        "timers",
			Description: "estado de los temporizadores",
			Usage:       "/timers [--limit=N]",
			Access:      router.AccessOwnerOnly,
			Timeout:     10 * time.Second,
			Handle:      b.cmdTimers,
		},
	}
}

func reply(ctx context.Context, req *router.Request, text string) error {
	return req.Reply(ctx, text)
}
