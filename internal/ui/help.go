// internal/ui/help.go
package ui

import (
	"strings"

	"github.com/charmbracelet/lipgloss"
)

// Help overlay content and rendering

var (
	helpTitleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(Cyan).
			MarginBottom(1)

	helpSectionStyle = lipgloss.NewStyle().
				Bold(true).
				Foreground(Yellow).
				MarginTop(1)

	// keybindings
	helpKeyStyle = lipgloss.NewStyle().
			Foreground(Green).
			Bold(true)

	// slash commands
	helpCmdStyle = lipgloss.NewStyle().
			Foreground(Magenta)

	helpDescStyle = lipgloss.NewStyle().
			Foreground(White)

	helpDimStyle = lipgloss.NewStyle().
			Foreground(Dim)
)

// HelpContent returns the formatted help overlay content
func HelpContent(width, height int) string {
	var content strings.Builder

	content.WriteString(helpTitleStyle.Render("VOXCHAT HELP"))
	content.WriteString("\n\n")

	content.WriteString(helpSectionStyle.Render("KEYBINDINGS"))
	content.WriteString("\n\n")

	keybindings := []struct {
		key  string
		desc string
	}{
		{"Enter", "Send message or run command"},
		{"Ctrl+T", "Toggle voice mode (microphone)"},
		{"Alt+H", "Browse archived sessions (history)"},
		{"PgUp/PgDn", "Scroll the conversation"},
		{"F1 / ?", "Toggle this help overlay"},
		{"Esc", "Close help / history"},
		{"Ctrl+C / Ctrl+Q", "Quit voxchat"},
	}

	for _, kb := range keybindings {
		key := helpKeyStyle.Width(16).Render(kb.key)
		desc := helpDescStyle.Render(kb.desc)
		content.WriteString("  " + key + "  " + desc + "\n")
	}

	content.WriteString("\n")
	content.WriteString(helpSectionStyle.Render("SLASH COMMANDS"))
	content.WriteString("\n\n")

	commands := []struct {
		cmd  string
		desc string
	}{
		{"/help", "Show this help overlay"},
		{"/connect", "Request a session and connect"},
		{"/disconnect", "End the current session"},
		{"/mic", "Toggle voice mode"},
		{"/model <id>", "Model for the next connection"},
		{"/voice <name>", "Voice for the next connection"},
		{"/rag [on|off]", "Knowledge base search for the next connection"},
		{"/history", "Browse archived sessions"},
		{"/export", "Write the current session as markdown"},
		{"/clear", "Clear the conversation view"},
		{"/quit", "Exit"},
	}

	for _, cmd := range commands {
		cmdStr := helpCmdStyle.Width(16).Render(cmd.cmd)
		desc := helpDescStyle.Render(cmd.desc)
		content.WriteString("  " + cmdStr + "  " + desc + "\n")
	}

	content.WriteString("\n")
	content.WriteString(helpSectionStyle.Render("STATUS"))
	content.WriteString("\n\n")

	indicators := []struct {
		symbol string
		style  lipgloss.Style
		desc   string
	}{
		{"●", StatusOK, "Connected"},
		{"●", StatusWarn, "Connecting"},
		{"○", DimStyle, "Disconnected"},
		{"✗", StatusCrit, "Error (message shown in the status bar)"},
	}

	for _, ind := range indicators {
		symbol := ind.style.Width(3).Render(ind.symbol)
		desc := helpDescStyle.Render(ind.desc)
		content.WriteString("  " + symbol + "  " + desc + "\n")
	}

	content.WriteString("\n")
	content.WriteString(helpSectionStyle.Render("VOICE MODE"))
	content.WriteString("\n\n")

	notes := []string{
		"Spoken turns appear as a listening placeholder until the",
		"transcription arrives. The assistant's reply is held back until",
		"then so your words always come first.",
		"",
		"With the knowledge base on, the assistant searches it before",
		"answering and a searching indicator is shown meanwhile.",
	}

	for _, line := range notes {
		if line == "" {
			content.WriteString("\n")
		} else {
			content.WriteString("  " + helpDimStyle.Render(line) + "\n")
		}
	}

	content.WriteString("\n")
	footer := helpDimStyle.Render("Press F1 or Esc to close this help")
	content.WriteString(lipgloss.PlaceHorizontal(width-8, lipgloss.Center, footer))

	overlayStyle := lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(Cyan).
		Padding(1, 3).
		MaxWidth(width - 10).
		MaxHeight(height - 4)

	return lipgloss.Place(
		width,
		height,
		lipgloss.Center,
		lipgloss.Center,
		overlayStyle.Render(content.String()),
	)
}

// renderHelp renders the help overlay (called from app.go)
func (m Model) renderHelp() string {
	return HelpContent(m.width, m.height)
}
