// internal/ui/conversation.go
package ui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/viewport"
	"github.com/charmbracelet/glamour"
	"github.com/charmbracelet/lipgloss"

	"voxchat/internal/presenter"
)

type markdownRenderer interface {
	Render(in string) (string, error)
}

// ConversationView wraps the turn list with a viewport for scrolling
type ConversationView struct {
	Viewport viewport.Model
	renderer markdownRenderer
	wrap     int
}

func NewConversationView(width, height int) *ConversationView {
	vp := viewport.New(width, height)
	vp.Style = lipgloss.NewStyle()
	vp.MouseWheelEnabled = true

	v := &ConversationView{Viewport: vp}
	v.setRenderer(width)
	return v
}

func (v *ConversationView) setRenderer(width int) {
	if width < 20 {
		width = 20
	}
	if v.renderer != nil && v.wrap == width {
		return
	}
	r, err := glamour.NewTermRenderer(
		glamour.WithStandardStyle("dark"),
		glamour.WithWordWrap(width-4),
	)
	if err != nil {
		v.renderer = nil
		return
	}
	v.renderer = r
	v.wrap = width
}

// Resize adjusts the viewport and rewraps markdown
func (v *ConversationView) Resize(width, height int) {
	v.Viewport.Width = width
	v.Viewport.Height = height
	v.setRenderer(width)
}

// Update re-renders turns and follows the bottom of the conversation
func (v *ConversationView) Update(turns []presenter.Turn, frame string) {
	atBottom := v.Viewport.AtBottom() || v.Viewport.TotalLineCount() == 0
	v.Viewport.SetContent(RenderTurns(turns, frame, v.renderer))
	if atBottom {
		v.Viewport.GotoBottom()
	}
}

// RenderTurns renders the conversation. Loading turns carry frame, the
// current spinner glyph.
func RenderTurns(turns []presenter.Turn, frame string, md markdownRenderer) string {
	if len(turns) == 0 {
		return DimStyle.Render("Type a message, or /connect to start. /help lists commands.") + "\n"
	}

	var sb strings.Builder
	for _, turn := range turns {
		ts := turn.CreatedAt.Format("15:04")
		header := fmt.Sprintf("[%s] %s:", ts, speaker(turn))
		if turn.Loading && frame != "" {
			header += " " + frame
		}
		sb.WriteString(RoleStyle(turn).Render(header))
		sb.WriteString("\n")

		switch {
		case turn.Kind == presenter.KindSearch:
			sb.WriteString("  " + SearchStyle.Render(turn.Text) + "\n")
		case turn.Loading && turn.Text == "":
			sb.WriteString("  " + DimStyle.Render("…") + "\n")
		case turn.Loading:
			sb.WriteString("  " + DimStyle.Render(turn.Text) + "\n")
		case turn.Role == presenter.RoleAssistant && md != nil:
			out, err := md.Render(turn.Text)
			if err != nil {
				writeIndented(&sb, turn.Text)
			} else {
				sb.WriteString(strings.TrimRight(out, "\n"))
				sb.WriteString("\n")
			}
		default:
			writeIndented(&sb, turn.Text)
		}
		sb.WriteString("\n")
	}
	return sb.String()
}

func writeIndented(sb *strings.Builder, text string) {
	for _, line := range strings.Split(text, "\n") {
		sb.WriteString("  ")
		sb.WriteString(line)
		sb.WriteString("\n")
	}
}

func speaker(turn presenter.Turn) string {
	switch {
	case turn.Kind == presenter.KindSearch:
		return "Knowledge base"
	case turn.Role == presenter.RoleUser && turn.Kind == presenter.KindVoice:
		return "You 🎤"
	case turn.Role == presenter.RoleUser:
		return "You"
	case turn.Role == presenter.RoleAssistant:
		return "Assistant"
	default:
		return string(turn.Role)
	}
}
