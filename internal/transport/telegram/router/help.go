package router

import (
	"html"
	"strings"
)

// HelpText renders the commands visible to lvl as HTML, grouped by access.
func (m *CommandManager) HelpText(lvl Access, title string) string {
	var groups [AccessOwner + 1][]string
	for _, c := range m.Commands() {
		if c.Hidden || c.Access > lvl {
			continue
		}
		line := "/" + html.EscapeString(c.Name)
		if u := strings.TrimSpace(c.Usage); u != "" {
			line = html.EscapeString(u)
		}
		line = "• <code>" + line + "</code>"
		if d := strings.TrimSpace(c.Description); d != "" {
			line += " - " + html.EscapeString(d)
		}
		groups[c.Access] = append(groups[c.Access], line)
	}

	var b strings.Builder
	if title != "" {
		b.WriteString(title)
		b.WriteString("\n")
	}
	heads := [...]string{"", "\n<b>Admin</b>", "\n<b>Owner</b>"}
	for a, lines := range groups {
		if len(lines) == 0 {
			continue
		}
		if heads[a] != "" {
			b.WriteString(heads[a] + "\n")
		}
		b.WriteString(strings.Join(lines, "\n"))
		b.WriteString("\n")
	}
	return strings.TrimRight(b.String(), "\n")
}
