package router

import (
	"strings"
)

const helpUnknown = "❓ Comando no reconocido.\nUse /help para ver los comandos disponibles."

// helpText renders the command list, or the detail of args[0]. Owner-only
// commands do not exist for other users.
func (m *CommandManager) helpText(args []string, owner bool) string {
	m.mu.RLock()
	t := m.cmds
	m.mu.RUnlock()

	if len(args) == 0 {
		return helpList(t.visible(owner))
	}
	c, ok := t.lookup(args[0])
	if !ok || c.Hidden || (c.Access == AccessOwnerOnly && !owner) {
		return helpUnknown
	}
	return helpDetail(c)
}

func helpList(cmds []*Command) string {
	var b strings.Builder
	b.WriteString("📚 Comandos disponibles\n")
	for _, c := range cmds {
		b.WriteString("\n• ")
		if c.Access == AccessOwnerOnly {
			b.WriteString("🔒 ")
		}
		b.WriteString("/" + c.Name)
		if d := strings.TrimSpace(c.Description); d != "" {
			b.WriteString(": " + d)
		}
	}
	return b.String()
}

func helpDetail(c *Command) string {
	lines := []string{"📚 Ayuda: /" + c.Name}
	if d := strings.TrimSpace(c.Description); d != "" {
		lines = append(lines, d)
	}
	if c.Access == AccessOwnerOnly {
		lines = append(lines, "🔒 Solo administradores")
	}
	if u := strings.TrimSpace(c.Usage); u != "" {
		lines = append(lines, "", "Uso: "+u)
	}
	var short []string
	for _, a := range c.Aliases {
		if a = sanitizeTelegramCommand(a); a != "" && a != c.Name {
			short = append(short, "/"+a)
		}
	}
	if len(short) > 0 {
		lines = append(lines, "Atajos: "+strings.Join(short, ", "))
	}
	return strings.Join(lines, "\n")
}
