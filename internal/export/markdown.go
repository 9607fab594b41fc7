// internal/export/markdown.go
package export

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pkg/errors"

	"voxchat/internal/db"
)

// TurnEntry is one finalized turn to export
type TurnEntry struct {
	Role      string
	Kind      string
	Content   string
	Timestamp time.Time
}

// SessionExport contains the data needed to export a chat session
type SessionExport struct {
	ID        string
	Model     string
	Voice     string
	UseRAG    bool
	Status    string
	CreatedAt time.Time
	Turns     []TurnEntry
}

// FromArchive builds an export from archived rows.
func FromArchive(sess *db.Session, turns []db.Turn) *SessionExport {
	out := &SessionExport{
		ID:        sess.ID,
		Model:     sess.Model,
		Voice:     sess.Voice,
		UseRAG:    sess.UseRAG,
		Status:    sess.Status,
		CreatedAt: sess.CreatedAt,
		Turns:     make([]TurnEntry, 0, len(turns)),
	}
	for _, t := range turns {
		out.Turns = append(out.Turns, TurnEntry{
			Role:      t.Role,
			Kind:      t.Kind,
			Content:   t.Content,
			Timestamp: t.CreatedAt,
		})
	}
	return out
}

// ExportSession generates a formatted markdown string from a session
func ExportSession(s *SessionExport) string {
	var sb strings.Builder

	sb.WriteString(fmt.Sprintf("# Voice chat %s\n\n", s.CreatedAt.Format("2006-01-02 15:04")))

	sb.WriteString("---\n\n")
	sb.WriteString(fmt.Sprintf("**Session ID:** `%s`\n\n", s.ID))
	sb.WriteString(fmt.Sprintf("**Created:** %s\n\n", s.CreatedAt.Format("2006-01-02 15:04:05")))
	sb.WriteString(fmt.Sprintf("**Model:** `%s`\n\n", s.Model))
	sb.WriteString(fmt.Sprintf("**Voice:** %s\n\n", s.Voice))
	if s.UseRAG {
		sb.WriteString("**Knowledge base:** enabled\n\n")
	}
	if s.Status != "" {
		sb.WriteString(fmt.Sprintf("**Status:** %s\n\n", s.Status))
	}
	sb.WriteString("---\n\n")

	sb.WriteString("## Transcript\n\n")

	if len(s.Turns) == 0 {
		sb.WriteString("*No turns recorded.*\n")
	}

	for i, turn := range s.Turns {
		ts := turn.Timestamp.Format("15:04:05")
		sb.WriteString(fmt.Sprintf("### [%s] %s\n\n", ts, formatSpeaker(turn.Role, turn.Kind)))

		content := strings.TrimSpace(turn.Content)
		if turn.Role == "assistant" || containsCodeBlock(content) {
			// Assistant replies are already markdown
			sb.WriteString(content)
			sb.WriteString("\n")
		} else {
			for _, line := range strings.Split(content, "\n") {
				sb.WriteString("> ")
				sb.WriteString(line)
				sb.WriteString("\n")
			}
		}
		sb.WriteString("\n")

		if i < len(s.Turns)-1 {
			sb.WriteString("---\n\n")
		}
	}

	sb.WriteString("\n---\n\n")
	sb.WriteString(fmt.Sprintf("*Exported from voxchat on %s*\n", time.Now().Format("2006-01-02 15:04:05")))

	return sb.String()
}

// Filename returns YYYY-MM-DD-<model>-<id8>.md for a session.
func Filename(s *SessionExport) string {
	id := sanitizeFilename(s.ID, "session")
	if len(id) > 8 {
		id = id[:8]
	}
	return fmt.Sprintf("%s-%s-%s.md",
		s.CreatedAt.Format("2006-01-02"),
		sanitizeFilename(s.Model, "model"),
		id,
	)
}

// WriteSession exports a session to a markdown file in the transcripts directory
func WriteSession(s *SessionExport, baseDir string) (string, error) {
	dir := filepath.Join(baseDir, "transcripts")
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", errors.Wrap(err, "create transcripts directory")
	}

	path := filepath.Join(dir, Filename(s))
	if err := os.WriteFile(path, []byte(ExportSession(s)), 0644); err != nil {
		return "", errors.Wrap(err, "write file")
	}

	return path, nil
}

func formatSpeaker(role, kind string) string {
	switch role {
	case "user":
		if kind == "voice" {
			return "You (spoken)"
		}
		return "You"
	case "assistant":
		return "Assistant"
	default:
		return role
	}
}

// sanitizeFilename keeps lowercase letters, digits, '-' and '_'
func sanitizeFilename(name, fallback string) string {
	name = strings.ToLower(name)
	name = strings.ReplaceAll(name, " ", "-")
	name = strings.ReplaceAll(name, ".", "-")

	var sb strings.Builder
	for _, r := range name {
		switch {
		case r >= 'a' && r <= 'z':
			sb.WriteRune(r)
		case r >= '0' && r <= '9':
			sb.WriteRune(r)
		case r == '-' || r == '_':
			sb.WriteRune(r)
		}
	}

	result := sb.String()
	for strings.Contains(result, "--") {
		result = strings.ReplaceAll(result, "--", "-")
	}
	result = strings.Trim(result, "-")

	if result == "" {
		result = fallback
	}
	if len(result) > 50 {
		result = result[:50]
	}
	return result
}

func containsCodeBlock(content string) bool {
	return strings.Contains(content, "```")
}
