package logx

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"slices"
	"strings"
	"sync"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	kit "folibot/internal/transport"
)

const (
	telegramMaxLen   = 3500
	telegramFieldLen = 600
	telegramQueue    = 256
)

// Applicant data that must not reach the operator chat.
var maskedKeys = map[string]bool{"nombre": true, "serie": true, "motor": true}

// forwarder is a zerolog.LevelWriter that copies lines to a Telegram chat.
// It never blocks logging: lines over the rate or the queue are dropped.
type forwarder struct {
	sender kit.Sender
	lines  chan string

	mu      sync.Mutex
	active  bool
	to      kit.ChatTarget
	min     zerolog.Level
	limiter *rate.Limiter

	once   sync.Once
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func newForwarder(sender kit.Sender) *forwarder {
	return &forwarder{sender: sender, lines: make(chan string, telegramQueue)}
}

// configure reports whether the forwarder should be attached as an output.
func (f *forwarder) configure(tc TelegramConfig) bool {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.active = false
	if !tc.Enabled || f.sender == nil {
		return false
	}
	if tc.ChatID == 0 {
		fmt.Fprintln(os.Stderr, "logx: telegram forwarding enabled but telegram.group_log is not set")
		return false
	}
	f.active = true
	f.to = kit.ChatTarget{ChatID: tc.ChatID, ThreadID: tc.ThreadID}
	f.min = levelOr(tc.MinLevel, LevelWarn)
	rps := max(1, tc.RatePerSec)
	f.limiter = rate.NewLimiter(rate.Limit(rps), rps)

	f.once.Do(func() {
		ctx, cancel := context.WithCancel(context.Background())
		f.cancel = cancel
		f.wg.Add(1)
		go f.run(ctx)
	})
	return true
}

func (f *forwarder) run(ctx context.Context) {
	defer f.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case line := <-f.lines:
			f.mu.Lock()
			to := f.to
			f.mu.Unlock()
			_, _ = f.sender.SendText(ctx, to, line, &kit.SendOptions{DisablePreview: true})
		}
	}
}

func (f *forwarder) close() {
	f.mu.Lock()
	f.active = false
	cancel := f.cancel
	f.mu.Unlock()
	if cancel != nil {
		cancel()
		f.wg.Wait()
	}
}

func (f *forwarder) Write(p []byte) (int, error) {
	return f.WriteLevel(zerolog.InfoLevel, p)
}

func (f *forwarder) WriteLevel(level zerolog.Level, p []byte) (int, error) {
	f.mu.Lock()
	ok := f.active && level >= f.min && f.limiter.Allow()
	f.mu.Unlock()
	if !ok {
		return len(p), nil
	}
	if line := formatTelegramLine(p); line != "" {
		select {
		case f.lines <- line:
		default:
		}
	}
	return len(p), nil
}

// formatTelegramLine turns one JSON log line into "[LEVEL] msg" plus sorted
// "- key=value" lines, with applicant data masked.
func formatTelegramLine(p []byte) string {
	raw := strings.TrimSpace(string(p))
	var m map[string]any
	if err := json.Unmarshal([]byte(raw), &m); err != nil {
		return truncate(raw, telegramMaxLen)
	}

	var b strings.Builder
	if lvl, _ := m["level"].(string); lvl != "" {
		fmt.Fprintf(&b, "[%s] ", strings.ToUpper(lvl))
	}
	msg, _ := m["message"].(string)
	b.WriteString(msg)

	delete(m, "time")
	delete(m, "level")
	delete(m, "message")
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	for _, k := range keys {
		v := "***"
		if !maskedKeys[k] {
			v = truncate(fmt.Sprint(m[k]), telegramFieldLen)
		}
		fmt.Fprintf(&b, "\n- %s=%s", k, v)
	}
	return truncate(b.String(), telegramMaxLen)
}

func truncate(s string, n int) string {
	switch {
	case n <= 0 || len(s) <= n:
		return s
	case n < 10:
		return s[:n]
	}
	return s[:n-3] + "..."
}
