package router

import (
	"strings"
	"unicode/utf8"

	kit "folibot/internal/transport"
)

// Telegram limits for setMyCommands.
const (
	maxMenuCommands = 100
	maxCommandLen   = 32
	maxCommandDesc  = 256
)

// sanitizeTelegramCommand maps s onto [a-z0-9_], the only characters Telegram
// accepts in a command name. Separators become a single underscore.
func sanitizeTelegramCommand(s string) string {
	var b strings.Builder
	pendingSep := false
	for _, r := range strings.ToLower(strings.TrimSpace(s)) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			if pendingSep && b.Len() > 0 {
				b.WriteByte('_')
			}
			pendingSep = false
			b.WriteRune(r)
		case r == '_', r == '-', r == '/', r == ' ', r == '\t':
			pendingSep = true
		}
	}
	out := b.String()
	if out == "" {
		return ""
	}
	if out[0] >= '0' && out[0] <= '9' {
		out = "cmd_" + out
	}
	if len(out) > maxCommandLen {
		out = strings.TrimRight(out[:maxCommandLen], "_")
	}
	return out
}

// menuCommands lists what a regular user sees in the Telegram command menu.
// Owner-only and hidden commands stay out.
func menuCommands(t *table) []kit.BotCommand {
	seen := map[string]bool{}
	var out []kit.BotCommand
	for _, c := range t.visible(false) {
		name := sanitizeTelegramCommand(c.Name)
		if name == "" || seen[name] {
			continue
		}
		seen[name] = true
		out = append(out, kit.BotCommand{Command: name, Description: menuDesc(c)})
		if len(out) == maxMenuCommands {
			break
		}
	}
	return out
}

func menuDesc(c *Command) string {
	d := strings.Join(strings.Fields(c.Description), " ")
	if d == "" {
		return c.Name
	}
	for len(d) > maxCommandDesc {
		_, size := utf8.DecodeLastRuneInString(d)
		d = d[:len(d)-size]
	}
	return d
}
