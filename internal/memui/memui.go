// Package memui renders a service envelope as human-readable terminal
// output for the `--human` CLI flag, using the same charmbracelet
// styling stack (lipgloss, glamour) the rest of the domain stack pulls
// in for terminal presentation.
package memui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/glamour"
	"github.com/charmbracelet/lipgloss"

	"github.com/untoldecay/codex-extra-memory/internal/memsvc"
)

var (
	okStyle     = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("42"))
	errStyle    = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("196"))
	actionStyle = lipgloss.NewStyle().Faint(true)
	keyStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("117"))
)

// Render formats env for a terminal: a colored ok/fail header, the
// action name, and a flattened view of its data or error.
func Render(env memsvc.Envelope) string {
	var b strings.Builder

	if env.OK {
		b.WriteString(okStyle.Render("ok"))
	} else {
		b.WriteString(errStyle.Render("fail"))
	}
	b.WriteString(" ")
	b.WriteString(actionStyle.Render(env.Action))
	b.WriteString("\n")

	if !env.OK {
		b.WriteString(errStyle.Render(env.Error))
		b.WriteString("\n")
		return b.String()
	}

	switch data := env.Data.(type) {
	case map[string]any:
		if text, ok := data["rendered"].(string); ok {
			b.WriteString(text)
			b.WriteString("\n")
			return b.String()
		}
		if text, ok := data["text"].(string); ok {
			b.WriteString(renderMarkdown(text))
			return b.String()
		}
		if block, ok := data["block"].(string); ok {
			b.WriteString(block)
			return b.String()
		}
		writeFlattened(&b, data)
	default:
		fmt.Fprintf(&b, "%v\n", env.Data)
	}

	return b.String()
}

func writeFlattened(b *strings.Builder, data map[string]any) {
	for key, value := range data {
		fmt.Fprintf(b, "%s: %v\n", keyStyle.Render(key), value)
	}
}

// renderMarkdown renders text through glamour, falling back to the raw
// text if the terminal renderer cannot be constructed (e.g. no TTY
// style available in the current environment).
func renderMarkdown(text string) string {
	renderer, err := glamour.NewTermRenderer(glamour.WithAutoStyle())
	if err != nil {
		return text
	}
	out, err := renderer.Render(text)
	if err != nil {
		return text
	}
	return out
}
