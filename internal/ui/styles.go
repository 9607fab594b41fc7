// internal/ui/styles.go
package ui

import (
	"github.com/charmbracelet/lipgloss"

	"voxchat/internal/presenter"
)

var (
	// Colors
	Cyan     = lipgloss.Color("#00FFFF")
	Green    = lipgloss.Color("#00FF00")
	Yellow   = lipgloss.Color("#FFD700")
	Orange   = lipgloss.Color("#FFA500")
	Red      = lipgloss.Color("#FF6B6B")
	Magenta  = lipgloss.Color("#FF00FF")
	SkyBlue  = lipgloss.Color("#87CEEB")
	Dim      = lipgloss.Color("#555555")
	White    = lipgloss.Color("#FFFFFF")
	DarkGray = lipgloss.Color("#333333")

	UserColor      = SkyBlue
	AssistantColor = Cyan
	SearchColor    = Magenta

	TitleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(Cyan)

	UserStyle = lipgloss.NewStyle().
			Foreground(UserColor).
			Bold(true)

	AssistantStyle = lipgloss.NewStyle().
			Foreground(AssistantColor).
			Bold(true)

	SearchStyle = lipgloss.NewStyle().
			Foreground(SearchColor).
			Italic(true)

	NoticeStyle = lipgloss.NewStyle().
			Foreground(Yellow)

	ErrorStyle = lipgloss.NewStyle().
			Foreground(Red).
			Bold(true)

	DimStyle = lipgloss.NewStyle().
			Foreground(Dim)

	// Status indicators
	StatusOK   = lipgloss.NewStyle().Foreground(Green).Bold(true)
	StatusWarn = lipgloss.NewStyle().Foreground(Orange).Bold(true)
	StatusCrit = lipgloss.NewStyle().Foreground(Red).Bold(true)

	StatusBarStyle = lipgloss.NewStyle().
			Foreground(White).
			Background(DarkGray).
			Padding(0, 1)

	InputBox = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(Cyan)
)

// RoleStyle returns the header style for a turn
func RoleStyle(turn presenter.Turn) lipgloss.Style {
	if turn.Kind == presenter.KindSearch {
		return SearchStyle
	}
	switch turn.Role {
	case presenter.RoleUser:
		return UserStyle
	case presenter.RoleAssistant:
		return AssistantStyle
	default:
		return lipgloss.NewStyle().Foreground(White)
	}
}

// statusIndicator renders the connection dot shown in the status bar
func statusIndicator(s presenter.Status) string {
	switch s {
	case presenter.StatusConnected:
		return StatusOK.Render("●")
	case presenter.StatusConnecting:
		return StatusWarn.Render("●")
	case presenter.StatusError:
		return StatusCrit.Render("✗")
	default:
		return DimStyle.Render("○")
	}
}
