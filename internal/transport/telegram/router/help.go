package router

import (
	"fmt"
	"html"
	"sort"
	"strings"
	"unicode"

	kit "nelculobot/internal/transport"
)

// helpText renders help in HTML parse mode. Admin-only commands are listed
// only for the admin.
func (m *CommandManager) helpText(args []string, isAdmin bool) string {
	if len(args) > 0 {
		word := strings.ToLower(strings.TrimPrefix(args[0], "/"))
		c, ok := m.lookup(word)
		if !ok || (c.Access == AccessAdminOnly && !isAdmin) {
			return "❓ <b>Comando sconosciuto</b>\nScrivi <code>/help</code> per la lista dei comandi."
		}
		return helpCommandHTML(c)
	}

	cmds := m.commands()
	sort.SliceStable(cmds, func(i, j int) bool {
		if cmds[i].Access != cmds[j].Access {
			return cmds[i].Access < cmds[j].Access
		}
		return cmds[i].Name < cmds[j].Name
	})

	lines := []string{"📚 <b>Comandi</b>"}
	adminHeader := false
	for _, c := range cmds {
		if c.Access == AccessAdminOnly {
			if !isAdmin {
				continue
			}
			if !adminHeader {
				lines = append(lines, "", "🔒 <b>Admin</b>")
				adminHeader = true
			}
		}
		lines = append(lines, "• <code>/"+html.EscapeString(c.Name)+"</code>"+describe(c.Description))
	}
	return strings.Join(lines, "\n")
}

func helpCommandHTML(c Command) string {
	lines := []string{fmt.Sprintf("📚 <b>Aiuto</b> <code>/%s</code>", html.EscapeString(c.Name))}
	if d := strings.TrimSpace(c.Description); d != "" {
		lines = append(lines, html.EscapeString(d))
	}
	if c.Access == AccessAdminOnly {
		lines = append(lines, "🔒 <i>Solo admin</i>")
	}
	if u := strings.TrimSpace(c.Usage); u != "" {
		lines = append(lines, "", "<b>Uso</b>", "<code>"+html.EscapeString(u)+"</code>")
	}
	if len(c.Aliases) > 0 {
		als := append([]string(nil), c.Aliases...)
		sort.Strings(als)
		lines = append(lines, "", "<b>Alias</b>")
		for _, a := range als {
			lines = append(lines, "• <code>/"+html.EscapeString(a)+"</code>")
		}
	}
	return strings.Join(lines, "\n")
}

func describe(d string) string {
	d = strings.TrimSpace(d)
	if d == "" {
		return ""
	}
	return " - " + html.EscapeString(d)
}

// sanitizeTelegramCommand converts a command name into a Telegram-safe bot command.
// Telegram command names are restricted to [a-z0-9_]{1,32}.
func sanitizeTelegramCommand(s string) string {
	s = strings.TrimSpace(strings.ToLower(s))
	var b strings.Builder
	lastUnderscore := false
	for _, r := range s {
		switch {
		case (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9'):
			b.WriteRune(r)
			lastUnderscore = false
		case r == '_' || r == '-' || r == '/' || unicode.IsSpace(r):
			if b.Len() > 0 && !lastUnderscore {
				b.WriteRune('_')
				lastUnderscore = true
			}
		}
	}
	out := strings.Trim(b.String(), "_")
	if len(out) > 32 {
		out = strings.TrimRight(out[:32], "_")
	}
	return out
}

// buildMenuCommands lists the public commands for Telegram's global menu.
// The menu is visible to everyone, so admin commands stay out of it.
func buildMenuCommands(cmds []Command) []kit.BotCommand {
	seen := map[string]bool{}
	out := make([]kit.BotCommand, 0, len(cmds))
	for _, c := range cmds {
		if c.Access != AccessEveryone {
			continue
		}
		name := sanitizeTelegramCommand(c.Name)
		if name == "" || seen[name] {
			continue
		}
		seen[name] = true
		desc := strings.ReplaceAll(strings.TrimSpace(c.Description), "\n", " ")
		if desc == "" {
			desc = name
		}
		out = append(out, kit.BotCommand{Command: name, Description: desc})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Command < out[j].Command })
	if len(out) > 100 {
		out = out[:100]
	}
	return out
}
