package bot

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"folibot/internal/folio"
	"folibot/internal/transport/telegram/router"
	logx "folibot/pkg/logx"
)

func (b *Bot) cmdStart(ctx context.Context, req *router.Request) error {
	b.intake.Cancel(req.FromID)
	b.choosing.Remove(req.FromID)
	return reply(ctx, req, welcomeText(b.folios.Config()))
}

func (b *Bot) cmdPermiso(ctx context.Context, req *router.Request) error {
	b.choosing.Remove(req.FromID)
	active := b.folios.Active(req.FromID)
	first := b.intake.Begin(req.FromID)
	req.Logger.Debug("intake started", logx.Int("active", len(active)))
	return reply(ctx, req, permisoIntro(b.folios.Config(), active, first))
}

func (b *Bot) cmdFolios(ctx context.Context, req *router.Request) error {
	return reply(ctx, req, foliosText(b.folios.Active(req.FromID)))
}

func (b *Bot) cmdCancelar(ctx context.Context, req *router.Request) error {
	b.choosing.Remove(req.FromID)
	if !b.intake.Cancel(req.FromID) {
		return reply(ctx, req, "ℹ️ No hay ningún trámite en curso.\n\nPara iniciar uno use /permiso")
	}
	return reply(ctx, req, "❌ Trámite cancelado.\n\nPuede iniciar uno nuevo cuando guste con /permiso")
}

func (b *Bot) cmdPagado(ctx context.Context, req *router.Request) error {
	id := req.Flags["folio"]
	if id == "" && len(req.Args) > 0 {
		id = req.Args[0]
	}
	return b.submitReceipt(ctx, req, strings.ToUpper(strings.TrimSpace(id)))
}

func (b *Bot) cmdTimers(ctx context.Context, req *router.Request) error {
	limit := 20
	if v, err := strconv.Atoi(req.Flags["limit"]); err == nil && v > 0 {
		limit = v
	}

	st := b.timers.Stats()
	var sb strings.Builder
	fmt.Fprintf(&sb, "⏱️ TEMPORIZADORES\n\nActivos: %d\nUsuarios: %d\nIniciados: %d\n",
		st.Active, st.Owners, st.Started)
	if b.notify != nil {
		ns := b.notify.Stats()
		fmt.Fprintf(&sb, "Notificaciones: %d enviadas, %d fallidas, cola %d/%d\n",
			ns.Sent, ns.Failed, ns.QueueLen, ns.QueueCap)
	}
	fmt.Fprintf(&sb, "Trámites en curso: %d\n", b.intake.Len())

	snap := b.timers.Snapshot()
	if len(snap) > 0 {
		sb.WriteString("\n")
	}
	for i, t := range snap {
		if i == limit {
			fmt.Fprintf(&sb, "… y %d más\n", len(snap)-limit)
			break
		}
		fmt.Fprintf(&sb, "• %s (usuario %d): %d min\n", t.Item, t.Owner, ceilMinutes(t.Remaining))
	}
	return reply(ctx, req, strings.TrimRight(sb.String(), "\n"))
}

// submitReceipt stops the timer of the folio the receipt belongs to. An empty
// id means "the only active folio"; owners with several get asked to pick.
func (b *Bot) submitReceipt(ctx context.Context, req *router.Request, id string) error {
	res, err := b.folios.SubmitReceipt(ctx, req.FromID, id)
	var amb *folio.AmbiguousError
	switch {
	case err == nil:
		b.choosing.Remove(req.FromID)
		return reply(ctx, req, receiptText(b.folios.Config().Entity, res.Folio))
	case errors.As(err, &amb):
		b.choosing.Add(req.FromID, amb.Folios)
		return reply(ctx, req, chooseFolioText(amb.Folios))
	case errors.Is(err, folio.ErrNoActiveTimer):
		return reply(ctx, req, noPendingText)
	default:
		req.Logger.Error("receipt failed", logx.Err(err))
		return reply(ctx, req, systemErrorText)
	}
}
