package tui

import (
	"fmt"
	"strings"

	"repairbot/internal/turn"

	"github.com/charmbracelet/lipgloss"
)

// View renders header, conversation, input and footer.
func (m Model) View() string {
	if !m.ready {
		return "\n  Loading..."
	}
	return lipgloss.JoinVertical(lipgloss.Left,
		m.renderHeader(),
		m.viewport.View(),
		m.styles.Input.Render(m.textarea.View()),
		m.renderFooter(),
	)
}

func (m Model) renderHeader() string {
	title := m.styles.Header.Render("🔧 repairbot")
	thread := m.styles.Footer.Render("thread " + m.opts.ThreadID)
	return lipgloss.JoinHorizontal(lipgloss.Center, title, thread) + "\n"
}

func (m Model) renderFooter() string {
	switch {
	case m.err != nil:
		return m.styles.Error.Render("Error: " + m.err.Error())
	case m.loading:
		status := m.status
		if status == "" {
			status = "Thinking..."
		}
		return m.styles.Footer.Render(m.spinner.View() + " " + status + " · esc to cancel")
	case m.notice != "":
		return m.styles.Footer.Render(m.notice)
	}
	return m.styles.Footer.Render("enter send · /help commands · ctrl+c quit")
}

func (m Model) renderHistory() string {
	var sb strings.Builder
	for _, msg := range m.history {
		switch msg.Role {
		case turn.RoleUser:
			sb.WriteString(m.styles.UserLabel.Render("You") + "\n")
			sb.WriteString(msg.Content + "\n\n")
		default:
			label := m.styles.BotLabel.Render("repairbot")
			if msg.Official != nil {
				if *msg.Official {
					label += " " + m.styles.Official.Render("[iFixit]")
				} else {
					label += " " + m.styles.Community.Render("[web, unofficial]")
				}
			}
			sb.WriteString(label + "\n")
			sb.WriteString(m.renderMarkdown(msg.Content) + "\n")
		}
	}
	if m.loading && m.streaming != "" {
		sb.WriteString(m.styles.BotLabel.Render("repairbot") + "\n")
		sb.WriteString(m.styles.Streaming.Render(m.streaming) + "\n")
	}
	return sb.String()
}

// renderMarkdown falls back to the raw text when glamour is unavailable or
// fails.
func (m Model) renderMarkdown(content string) (out string) {
	if m.renderer == nil {
		return content
	}
	defer func() {
		if r := recover(); r != nil {
			out = content
		}
	}()
	rendered, err := m.renderer.Render(content)
	if err != nil {
		return fmt.Sprintf("%s\n", content)
	}
	return rendered
}
