package router

import (
	"html"
	"strings"
)

// helpText renders help in Telegram HTML. Owner-only commands are listed
// for owners only.
func (r *Router) helpText(args []string, owner bool) string {
	cmds := r.Commands()
	if len(args) > 0 {
		want := strings.ToLower(strings.TrimPrefix(args[0], "/"))
		r.mu.RLock()
		c, ok := r.byName[want]
		r.mu.RUnlock()
		if !ok || (c.Access == AccessOwnerOnly && !owner) {
			return "❓ <b>Unknown command</b>\nTry <code>/help</code> for the list."
		}
		return commandHelp(*c)
	}

	var b strings.Builder
	b.WriteString("<b>Commands</b>")
	for _, c := range cmds {
		if c.Access == AccessOwnerOnly && !owner {
			continue
		}
		b.WriteString("\n<code>/" + html.EscapeString(c.Name) + "</code>")
		if c.Access == AccessOwnerOnly {
			b.WriteString(" 🔒")
		}
		if d := strings.TrimSpace(c.Description); d != "" {
			b.WriteString(" - " + html.EscapeString(d))
		}
	}
	return b.String()
}

func commandHelp(c Command) string {
	var b strings.Builder
	b.WriteString("<b>/" + html.EscapeString(c.Name) + "</b>")
	if d := strings.TrimSpace(c.Description); d != "" {
		b.WriteString("\n" + html.EscapeString(d))
	}
	if u := strings.TrimSpace(c.Usage); u != "" {
		b.WriteString("\nUsage: <code>" + html.EscapeString(u) + "</code>")
	}
	if len(c.Aliases) > 0 {
		b.WriteString("\nAliases: " + html.EscapeString(strings.Join(c.Aliases, ", ")))
	}
	return b.String()
}
