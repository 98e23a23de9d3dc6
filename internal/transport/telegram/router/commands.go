package router

import (
	"context"
	"hash/fnv"
	"runtime/debug"
	"slices"
	"strconv"
	"strings"
	"sync"
	"time"

	rtsup "folibot/internal/runtime/supervisor"
	kit "folibot/internal/transport"
	logx "folibot/pkg/logx"
)

type Access int

const (
	AccessEveryone Access = iota
	AccessOwnerOnly
)

type Command struct {
	Name        string // without the leading slash
	Aliases     []string
	Description string
	Usage       string
	Access      Access
	// Hidden commands are routed but left out of help and the menu.
	Hidden  bool
	Timeout time.Duration // optional per-command override
	Handle  HandlerFunc
}

type Request struct {
	Update  kit.Update
	Message *kit.Message
	Chat    kit.ChatTarget
	FromID  int64
	IsOwner bool
	// Command is the command name, or "message", "photo" or "unknown" for
	// fallback requests.
	Command string
	Args    []string

	// Parsed arguments
	RawArgs   []string
	Flags     map[string]string
	BoolFlags map[string]bool
	ReqID     string

	Sender kit.Sender
	Logger logx.Logger
}

// Reply sends text to the chat the request came from.
func (r *Request) Reply(ctx context.Context, text string) error {
	_, err := r.Sender.SendText(ctx, r.Chat, text, &kit.SendOptions{DisablePreview: true})
	return err
}

type Option func(*CommandManager)

// WithWorkers sets the number of dispatch workers. Messages from one user
// always land on the same worker, so a user's messages are handled in order.
func WithWorkers(n int) Option { return func(m *CommandManager) { m.workers = n } }

// WithQueueSize sets the per-worker job queue capacity.
func WithQueueSize(n int) Option { return func(m *CommandManager) { m.queueSize = n } }

// WithRegistry publishes the dispatcher supervisor under "telegram.router".
func WithRegistry(r *rtsup.Registry) Option { return func(m *CommandManager) { m.registry = r } }

type CommandManager struct {
	mu sync.RWMutex

	cmds     *table
	fallback HandlerFunc

	owners         []int64
	defaultTimeout time.Duration

	log       logx.Logger
	sender    kit.Sender
	registry  *rtsup.Registry
	workers   int
	queueSize int

	runMu   sync.Mutex
	running bool
	sup     *rtsup.Supervisor
	jobs    []chan func()
}

func NewCommandManager(log logx.Logger, sender kit.Sender, owners []int64, opts ...Option) *CommandManager {
	if log.IsZero() {
		log = logx.Nop()
	}
	m := &CommandManager{
		cmds:      newTable(nil),
		log:       log.With(logx.String("comp", "telegram.router")),
		sender:    sender,
		owners:    slices.Clone(owners),
		workers:   4,
		queueSize: 64,
	}
	for _, o := range opts {
		o(m)
	}
	m.workers = max(1, m.workers)
	m.queueSize = max(1, m.queueSize)
	return m
}

// Supervisor returns the dispatcher's supervisor (nil if not running).
func (m *CommandManager) Supervisor() *rtsup.Supervisor {
	m.runMu.Lock()
	defer m.runMu.Unlock()
	if !m.running {
		return nil
	}
	return m.sup
}

// SetOwners updates the owner list used for AccessOwnerOnly checks.
// Safe to call during hot-reload.
func (m *CommandManager) SetOwners(owners []int64) {
	ownCopy := slices.Clone(owners)
	m.mu.Lock()
	m.owners = ownCopy
	m.mu.Unlock()
}

// SetDefaultTimeout bounds handlers that set no Timeout of their own.
func (m *CommandManager) SetDefaultTimeout(d time.Duration) {
	m.mu.Lock()
	m.defaultTimeout = d
	m.mu.Unlock()
}

func (m *CommandManager) IsOwner(id int64) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return slices.Contains(m.owners, id)
}

// SetFallback installs the handler for non-command text, photos, unknown
// commands and owner-only commands sent by non-owners.
func (m *CommandManager) SetFallback(h HandlerFunc) {
	m.mu.Lock()
	m.fallback = h
	m.mu.Unlock()
}

// SetRegistry installs the command set and pushes the public part to the
// Telegram menu when the sender supports it. help is always added.
func (m *CommandManager) SetRegistry(ctx context.Context, cmds []Command) {
	cmds = append(slices.Clone(cmds), Command{
		Name:        "help",
		Aliases:     []string{"ayuda"},
		Description: "mostrar los comandos disponibles",
		Usage:       "/help [comando]",
		Handle: func(ctx context.Context, req *Request) error {
			return req.Reply(ctx, m.helpText(req.Args, req.IsOwner))
		},
	})
	t := newTable(cmds)

	m.mu.Lock()
	m.cmds = t
	m.mu.Unlock()

	up, ok := m.sender.(kit.CommandMenuUpdater)
	if !ok {
		return
	}
	menu := menuCommands(t)
	go func() {
		uctx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		if err := up.UpdateMenuCommands(uctx, menu); err != nil {
			m.log.Warn("menu update failed", logx.Err(err))
		}
	}()
}

// DispatchLoop routes updates until ctx is done or updates is closed.
func (m *CommandManager) DispatchLoop(ctx context.Context, updates <-chan kit.Update) error {
	sup := rtsup.New(ctx, rtsup.WithLogger(m.log), rtsup.WithCancelOnError(false))
	jobs := make([]chan func(), m.workers)
	for i := range jobs {
		jobs[i] = make(chan func(), m.queueSize)
	}

	m.runMu.Lock()
	m.sup = sup
	m.jobs = jobs
	m.running = true
	m.runMu.Unlock()
	if m.registry != nil {
		m.registry.Set("telegram.router", sup)
	}
	m.log.Info("dispatcher started", logx.Int("workers", m.workers), logx.Int("queue_cap", m.queueSize))

	for i, q := range jobs {
		idx := i
		sup.GoRestart("router.worker."+strconv.Itoa(idx), func(c context.Context) error {
			return m.workerLoop(c, idx, q)
		},
			rtsup.WithRestartBackoff(200*time.Millisecond, 5*time.Second),
			rtsup.WithStopOnCleanExit(true),
		)
	}

	defer func() {
		m.runMu.Lock()
		m.running = false
		m.jobs = nil
		m.runMu.Unlock()
		for _, q := range jobs {
			close(q)
		}
		wctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		_ = sup.Stop(wctx)
		cancel()
		if m.registry != nil {
			m.registry.Delete("telegram.router")
		}
		m.log.Info("dispatcher stopped")
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case up, ok := <-updates:
			if !ok {
				return nil
			}
			m.routeUpdate(ctx, up)
		}
	}
}

func (m *CommandManager) workerLoop(ctx context.Context, idx int, q <-chan func()) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case job, ok := <-q:
			if !ok {
				return nil
			}
			func() {
				defer func() {
					if r := recover(); r != nil {
						m.log.Error("panic in router job", logx.Int("worker", idx), logx.Any("panic", r), logx.Stack(string(debug.Stack())))
					}
				}()
				job()
			}()
		}
	}
}

func (m *CommandManager) routeUpdate(ctx context.Context, up kit.Update) {
	msg := up.Message
	if msg == nil {
		return
	}
	text := strings.TrimSpace(msg.Text)
	if up.Kind == kit.UpdatePhoto || !strings.HasPrefix(text, "/") {
		m.enqueueFallback(ctx, up, string(up.Kind))
		return
	}

	parts := tokenizeCommandLine(text)
	if len(parts) == 0 {
		return
	}
	word, _, _ := strings.Cut(strings.TrimPrefix(parts[0], "/"), "@")

	m.mu.RLock()
	t := m.cmds
	m.mu.RUnlock()

	cmd, ok := t.lookup(word)
	if !ok {
		m.enqueueFallback(ctx, up, "unknown")
		return
	}
	m.enqueueCommand(ctx, up, *cmd, parts[1:])
}

func chatOf(msg *kit.Message) kit.ChatTarget {
	return kit.ChatTarget{ChatID: msg.ChatID, ThreadID: msg.ThreadID}
}

func (m *CommandManager) newRequest(up kit.Update, command string) *Request {
	msg := up.Message
	rid := newReqID()
	return &Request{
		Update:  up,
		Message: msg,
		Chat:    chatOf(msg),
		FromID:  msg.FromID,
		IsOwner: m.IsOwner(msg.FromID),
		Command: command,
		ReqID:   rid,
		Sender:  m.sender,
		Logger: m.log.With(
			logx.String("rid", rid),
			logx.Int64("chat_id", msg.ChatID),
			logx.Int64("from_id", msg.FromID),
			logx.String("cmd", command),
		),
	}
}

func (m *CommandManager) enqueueCommand(ctx context.Context, up kit.Update, cmd Command, raw []string) {
	if cmd.Access == AccessOwnerOnly && !m.IsOwner(up.Message.FromID) {
		// Owner-only commands do not reveal themselves to other users.
		m.enqueueFallback(ctx, up, "unknown")
		return
	}
	req := m.newRequest(up, cmd.Name)
	req.RawArgs = raw
	req.Args, req.Flags, req.BoolFlags = parseFlags(raw)
	m.dispatch(ctx, req, cmd.Handle, cmd.Timeout)
}

func (m *CommandManager) enqueueFallback(ctx context.Context, up kit.Update, kind string) {
	m.mu.RLock()
	h := m.fallback
	m.mu.RUnlock()
	if h == nil {
		return
	}
	m.dispatch(ctx, m.newRequest(up, kind), h, 0)
}

func (m *CommandManager) dispatch(ctx context.Context, req *Request, h HandlerFunc, timeout time.Duration) {
	if timeout <= 0 {
		m.mu.RLock()
		timeout = m.defaultTimeout
		m.mu.RUnlock()
	}
	final := Chain(h, recoverPanic(), logRequest(), withTimeout(timeout))
	if !m.tryEnqueue(req.FromID, func() { _ = final(ctx, req) }) {
		req.Logger.Warn("router queue full; message dropped")
		_ = req.Reply(ctx, "⏳ Sistema ocupado, intente nuevamente en un momento.")
	}
}

// tryEnqueue hands fn to the worker that owns from. It never blocks.
func (m *CommandManager) tryEnqueue(from int64, fn func()) (ok bool) {
	m.runMu.Lock()
	defer m.runMu.Unlock()
	if !m.running || len(m.jobs) == 0 {
		return false
	}
	h := fnv.New32a()
	h.Write([]byte(strconv.FormatInt(from, 10)))
	q := m.jobs[int(h.Sum32()%uint32(len(m.jobs)))]
	select {
	case q <- fn:
		return true
	default:
		return false
	}
}
