package ui

import (
	"voxchat/internal/brokerapi"
	"voxchat/internal/export"
)

// ConfigLoadedMsg carries the broker's allow-lists and RAG availability.
type ConfigLoadedMsg struct {
	Config *brokerapi.ConfigSummary
	Err    error
}

// ConnectResultMsg reports the outcome of /connect.
type ConnectResultMsg struct {
	SessionID string
	Model     string
	Voice     string
	UseRAG    bool
	Err       error
}

// TranscriptChangedMsg is sent whenever the presenter changed turns or
// status.
type TranscriptChangedMsg struct{}

// HistoryLoadedMsg carries an archived session opened from the history
// overlay.
type HistoryLoadedMsg struct {
	Session *export.SessionExport
	Err     error
}

// ExportedMsg reports where /export wrote the transcript.
type ExportedMsg struct {
	Path string
	Err  error
}
