package bot

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"slices"
	"strings"

	"folibot/internal/folio"
	"folibot/internal/intake"
	kit "folibot/internal/transport"
	"folibot/internal/transport/telegram/router"
	logx "folibot/pkg/logx"
)

// overrideTag prefixes the operator's free-text validation command.
const overrideTag = "SERO"

// HandleMessage is the router fallback: photos, plain text and commands the
// caller may not use.
func (b *Bot) HandleMessage(ctx context.Context, req *router.Request) error {
	msg := req.Message
	if msg == nil {
		return nil
	}
	if req.Update.Kind == kit.UpdatePhoto || msg.HasPhoto() {
		return b.submitReceipt(ctx, req, "")
	}

	text := strings.TrimSpace(msg.Text)
	if req.Command == "unknown" {
		return reply(ctx, req, b.randomHint())
	}

	if req.IsOwner && strings.HasPrefix(strings.ToUpper(text), overrideTag) {
		return b.override(ctx, req, text[len(overrideTag):])
	}

	if ids, ok := b.choosing.Get(req.FromID); ok {
		if id := strings.ToUpper(text); slices.Contains(ids, id) {
			return b.submitReceipt(ctx, req, id)
		}
	}

	if b.intake.Active(req.FromID) {
		return b.answer(ctx, req, text)
	}

	if asksPrice(text) {
		return reply(ctx, req, priceText(b.folios.Config()))
	}
	return reply(ctx, req, b.randomHint())
}

func (b *Bot) answer(ctx context.Context, req *router.Request, text string) error {
	r, err := b.intake.Answer(req.FromID, text)
	if errors.Is(err, intake.ErrNoSession) {
		// expired between Active and Answer
		return reply(ctx, req, "⌛ Su trámite expiró por inactividad.\n\nInicie uno nuevo con /permiso")
	}
	if err != nil {
		return err
	}
	if err := reply(ctx, req, r.Text); err != nil || !r.Done {
		return err
	}

	cfg := b.folios.Config()
	f, err := b.folios.Register(ctx, req.FromID, r.Draft)
	if err != nil {
		req.Logger.Error("folio registration failed", logx.Err(err))
		return reply(ctx, req, systemErrorText)
	}
	return reply(ctx, req, registeredText(cfg, f, b.folios.LookupURL(f.Folio)))
}

func (b *Bot) override(ctx context.Context, req *router.Request, id string) error {
	cfg := b.folios.Config()
	id = strings.ToUpper(strings.TrimSpace(id))
	if id == "" {
		return reply(ctx, req, overrideUsageText(cfg.OverridePrefix))
	}

	res, err := b.folios.OverrideBy(ctx, req.FromID, id)
	switch {
	case err == nil:
		return reply(ctx, req, overrideDoneText(res))
	case errors.Is(err, folio.ErrInvalidFolio):
		return reply(ctx, req, overrideInvalidText(id, cfg.OverridePrefix))
	case errors.Is(err, folio.ErrNoActiveTimer):
		return reply(ctx, req, overrideMissingText(id))
	default:
		req.Logger.Error("override failed", logx.String("folio", id), logx.Err(err))
		return reply(ctx, req, fmt.Sprintf("❌ Error al validar el folio %s.", id))
	}
}

func (b *Bot) randomHint() string {
	t := fallbackReplies[rand.IntN(len(fallbackReplies))]
	if strings.Contains(t, "%s") {
		return fmt.Sprintf(t, b.folios.Config().Entity)
	}
	return t
}
