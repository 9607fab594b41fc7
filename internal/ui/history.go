// internal/ui/history.go
package ui

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/pkg/errors"

	"voxchat/internal/db"
	"voxchat/internal/export"
)

// ViewMode represents the current view state
type ViewMode int

const (
	ViewNormal ViewMode = iota
	ViewHistory
	ViewArchived
)

// HistoryState holds the state for the history browser
type HistoryState struct {
	sessions  []db.Session
	cursor    int
	scrollTop int
	maxHeight int
}

func NewHistoryState() *HistoryState {
	return &HistoryState{maxHeight: 20}
}

// Up moves the cursor up
func (h *HistoryState) Up() {
	if h.cursor > 0 {
		h.cursor--
		if h.cursor < h.scrollTop {
			h.scrollTop = h.cursor
		}
	}
}

// Down moves the cursor down
func (h *HistoryState) Down() {
	if h.cursor < len(h.sessions)-1 {
		h.cursor++
		if h.cursor >= h.scrollTop+h.maxHeight {
			h.scrollTop = h.cursor - h.maxHeight + 1
		}
	}
}

// Selected returns the currently selected session, or nil if none
func (h *HistoryState) Selected() *db.Session {
	if h.cursor >= 0 && h.cursor < len(h.sessions) {
		return &h.sessions[h.cursor]
	}
	return nil
}

// LoadSessions loads sessions from the archive
func (h *HistoryState) LoadSessions(store *db.Store) error {
	if store == nil {
		return errors.New("archive not available")
	}
	sessions, err := store.ListSessions()
	if err != nil {
		return err
	}
	h.sessions = sessions
	h.cursor = 0
	h.scrollTop = 0
	return nil
}

// SetMaxHeight updates the max visible height
func (h *HistoryState) SetMaxHeight(height int) {
	h.maxHeight = height - 10
	if h.maxHeight < 5 {
		h.maxHeight = 5
	}
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

// Render renders the history browser overlay
func (h *HistoryState) Render(width, height int) string {
	var content strings.Builder

	content.WriteString(TitleStyle.Render("SESSION HISTORY"))
	content.WriteString("\n")
	content.WriteString(DimStyle.Render("Select an archived session to read"))
	content.WriteString("\n\n")

	if len(h.sessions) == 0 {
		content.WriteString(DimStyle.Render("No archived sessions found."))
		content.WriteString("\n\n")
		content.WriteString(DimStyle.Render("Sessions are archived once you /connect."))
	} else {
		visibleEnd := h.scrollTop + h.maxHeight
		if visibleEnd > len(h.sessions) {
			visibleEnd = len(h.sessions)
		}

		header := fmt.Sprintf("  %-8s  %-26s  %-8s  %-8s  %-16s  %s",
			"ID", "Model", "Voice", "Status", "Updated", "Turns")
		content.WriteString(DimStyle.Render(header))
		content.WriteString("\n")
		content.WriteString(DimStyle.Render(strings.Repeat("-", 84)))
		content.WriteString("\n")

		for i := h.scrollTop; i < visibleEnd; i++ {
			s := h.sessions[i]

			model := s.Model
			if len(model) > 24 {
				model = model[:24] + ".."
			}

			timeStr := s.UpdatedAt.Format("2006-01-02 15:04")
			if time.Since(s.UpdatedAt) < 24*time.Hour {
				timeStr = s.UpdatedAt.Format("Today 15:04")
			}

			var statusStyle lipgloss.Style
			switch s.Status {
			case "active":
				statusStyle = StatusOK
			case "failed":
				statusStyle = StatusCrit
			default:
				statusStyle = DimStyle
			}

			cursor := "  "
			lineStyle := DimStyle
			if i == h.cursor {
				cursor = "> "
				lineStyle = lipgloss.NewStyle().Foreground(Cyan)
			}

			statusStr := statusStyle.Width(8).Render(s.Status)
			line := fmt.Sprintf("%-8s  %-26s  %-8s  %s  %-16s  %d",
				shortID(s.ID), model, s.Voice, statusStr, timeStr, s.TurnCount)

			content.WriteString(cursor)
			content.WriteString(lineStyle.Render(line))
			content.WriteString("\n")
		}

		if len(h.sessions) > h.maxHeight {
			scrollInfo := fmt.Sprintf("Showing %d-%d of %d",
				h.scrollTop+1, visibleEnd, len(h.sessions))
			content.WriteString("\n")
			content.WriteString(DimStyle.Render(scrollInfo))
		}
	}

	content.WriteString("\n\n")
	content.WriteString(DimStyle.Render("Up/Down: Navigate | Enter: Open | Esc: Cancel"))

	overlayStyle := lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(Cyan).
		Padding(1, 2).
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

// LoadArchived returns an archived session as an export ready to render.
func LoadArchived(store *db.Store, sessionID string) (*export.SessionExport, error) {
	if store == nil {
		return nil, errors.New("archive not available")
	}
	sess, err := store.GetSession(sessionID)
	if err != nil {
		return nil, errors.Wrap(err, "failed to get session")
	}
	turns, err := store.GetTurns(sessionID)
	if err != nil {
		return nil, errors.Wrap(err, "failed to get turns")
	}
	return export.FromArchive(sess, turns), nil
}

// renderArchived renders an export as markdown, falling back to plain text.
func renderArchived(s *export.SessionExport, md markdownRenderer) string {
	text := export.ExportSession(s)
	if md == nil {
		return text
	}
	out, err := md.Render(text)
	if err != nil {
		return text
	}
	return out
}
