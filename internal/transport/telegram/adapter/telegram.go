package adapter

import (
	"context"
	"errors"
	"slices"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	tele "gopkg.in/telebot.v4"

	rtsup "folibot/internal/runtime/supervisor"
	kit "folibot/internal/transport"
	logx "folibot/pkg/logx"
)

var (
	_ kit.Adapter            = (*Adapter)(nil)
	_ kit.CommandMenuUpdater = (*Adapter)(nil)
)

type Config struct {
	Token       string
	PollTimeout time.Duration
}

// Adapter is the telebot long-poll transport. Text and photo messages are
// forwarded to the channel given to Start; nothing else is handled.
type Adapter struct {
	cfg Config
	log logx.Logger

	bot *tele.Bot
	// out is where handlers forward updates; nil while stopped.
	out atomic.Pointer[chan<- kit.Update]

	runMu sync.Mutex
	// sup owns the poll loop, the drop reporter and the stop watcher.
	sup *rtsup.Supervisor

	// dropped counts updates lost because the router lagged behind the poll
	// loop. It is logged every few seconds, not per update.
	dropped atomic.Uint64

	menuMu sync.Mutex
	menu   []tele.Command // last list accepted by Telegram
}

func New(cfg Config, log logx.Logger) (*Adapter, error) {
	if strings.TrimSpace(cfg.Token) == "" {
		return nil, errors.New("telegram token is empty")
	}
	timeout := cfg.PollTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	log = log.With(logx.String("comp", "telegram.adapter"))

	b, err := tele.NewBot(tele.Settings{
		Token:  cfg.Token,
		Poller: &tele.LongPoller{Timeout: timeout},
		OnError: func(err error, c tele.Context) {
			log.Warn("telebot error", logx.Err(err))
		},
	})
	if err != nil {
		return nil, err
	}
	a := &Adapter{cfg: cfg, log: log, bot: b}
	b.Handle(tele.OnText, a.forward(kit.UpdateMessage))
	b.Handle(tele.OnPhoto, a.forward(kit.UpdatePhoto))
	return a, nil
}

// Supervisor returns the adapter's internal supervisor (nil if not started).
func (a *Adapter) Supervisor() *rtsup.Supervisor {
	a.runMu.Lock()
	defer a.runMu.Unlock()
	return a.sup
}

// forward converts a telebot message and hands it to the current output.
func (a *Adapter) forward(kind kit.UpdateKind) tele.HandlerFunc {
	return func(c tele.Context) error {
		m := toMessage(c.Message())
		if m == nil || (kind == kit.UpdatePhoto) != m.HasPhoto() {
			return nil
		}
		out := a.out.Load()
		if out == nil {
			return nil
		}
		select {
		case *out <- kit.Update{Kind: kind, Message: m}:
		default:
			a.dropped.Add(1)
		}
		return nil
	}
}

func toMessage(m *tele.Message) *kit.Message {
	if m == nil || m.Chat == nil || m.Sender == nil {
		return nil
	}
	out := &kit.Message{
		ID:           m.ID,
		ChatID:       m.Chat.ID,
		ThreadID:     m.ThreadID,
		FromID:       m.Sender.ID,
		FromUsername: m.Sender.Username,
		Text:         m.Text,
		IsGroup:      m.Chat.Type == tele.ChatGroup || m.Chat.Type == tele.ChatSuperGroup,
	}
	if m.Photo != nil {
		out.PhotoID = m.Photo.FileID
		out.Text = m.Caption
	}
	return out
}

func (a *Adapter) Start(ctx context.Context, out chan<- kit.Update) error {
	a.runMu.Lock()
	if a.sup != nil {
		a.runMu.Unlock()
		return nil
	}
	a.out.Store(&out)
	// a polling failure is retried here, never fatal to the app
	sup := rtsup.New(ctx, rtsup.WithLogger(a.log), rtsup.WithCancelOnError(false))
	a.sup = sup
	a.runMu.Unlock()

	report := func() {
		if n := a.dropped.Swap(0); n > 0 {
			a.log.Warn("incoming updates dropped (channel full)", logx.Uint64("count", n), logx.Int("chan_cap", cap(out)))
		}
	}
	sup.Go0("updates.drop_report", func(c context.Context) {
		ticker := time.NewTicker(5 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-c.Done():
				report()
				return
			case <-ticker.C:
				report()
			}
		}
	})

	sup.Go0("telebot.stop_on_cancel", func(c context.Context) {
		<-c.Done()
		a.bot.Stop()
	})

	// bot.Start blocks until Stop. It can return early on some network
	// failures, so it runs under a restart loop.
	sup.GoRestart("telebot.poll", func(c context.Context) error {
		a.log.Info("polling started")
		a.bot.Start()
		a.log.Info("polling stopped")
		return nil
	},
		rtsup.WithRestartBackoff(500*time.Millisecond, 10*time.Second),
		rtsup.WithPublishFirstError(true),
		rtsup.WithStopOnCleanExit(false),
	)
	return nil
}

func (a *Adapter) Stop(ctx context.Context) error {
	a.runMu.Lock()
	sup := a.sup
	a.sup = nil
	a.out.Store(nil)
	a.runMu.Unlock()
	if sup == nil {
		return nil
	}

	a.log.Info("stopping")
	sup.Cancel()
	go a.bot.Stop()

	// a pending getUpdates long-poll may outlive this; do not wait for it
	wctx, cancel := context.WithTimeout(ctx, stopGrace)
	defer cancel()
	if err := sup.Wait(wctx); errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		a.log.Warn("telegram stop timed out", logx.Err(err))
	}
	return nil
}

const stopGrace = 2 * time.Second

func (a *Adapter) SendText(ctx context.Context, to kit.ChatTarget, text string, opt *kit.SendOptions) (kit.MessageRef, error) {
	if opt == nil {
		opt = &kit.SendOptions{}
	}
	chunks := splitText(text, textLimit, opt.ParseMode)
	chat := &tele.Chat{ID: to.ChatID}

	var first kit.MessageRef
	for i, chunk := range chunks {
		if ctx != nil {
			if err := ctx.Err(); err != nil {
				return first, err
			}
		}
		msg, err := a.bot.Send(chat, chunk, &tele.SendOptions{
			ParseMode:             opt.ParseMode,
			DisableWebPagePreview: opt.DisablePreview,
			ThreadID:              to.ThreadID,
		})
		if err != nil {
			return first, err
		}
		if i == 0 {
			first = kit.MessageRef{ChatID: to.ChatID, ThreadID: to.ThreadID, MessageID: msg.ID}
		}
	}
	return first, nil
}

// UpdateMenuCommands sets the bot command menu. Telegram is only called when
// the list differs from the last one it accepted.
func (a *Adapter) UpdateMenuCommands(ctx context.Context, cmds []kit.BotCommand) error {
	list := make([]tele.Command, 0, len(cmds))
	for _, c := range cmds {
		if c.Command != "" {
			list = append(list, tele.Command{Text: c.Command, Description: c.Description})
		}
	}

	a.menuMu.Lock()
	defer a.menuMu.Unlock()
	if a.menu != nil && slices.Equal(a.menu, list) {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := a.bot.SetCommands(list); err != nil {
		return err
	}
	a.menu = list
	a.log.Info("menu commands updated", logx.Int("count", len(list)))
	return nil
}
