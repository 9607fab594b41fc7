package presenter

import (
	"sync"

	"github.com/rs/zerolog"

	"voxchat/internal/realtime"
)

const (
	ListeningText   = "🎤 Listening…"
	UnavailableText = "🎤 (transcription unavailable)"
	SearchingText   = "📚 Searching knowledge base…"
)

type Status int

const (
	StatusDisconnected Status = iota
	StatusConnecting
	StatusConnected
	StatusError
)

func (s Status) String() string {
	switch s {
	case StatusConnecting:
		return "connecting"
	case StatusConnected:
		return "connected"
	case StatusError:
		return "error"
	}
	return "disconnected"
}

type BinderOptions struct {
	Logger zerolog.Logger
	// OnChange runs after every change to turns or status, outside any lock.
	OnChange func()
	// Archive receives every finalized user and assistant turn.
	Archive func(Turn)
}

// Binder turns controller events into transcript edits. It remembers which
// turn is currently streaming so updates always target a turn by ID.
type Binder struct {
	transcript *Transcript
	log        zerolog.Logger
	onChange   func()
	archive    func(Turn)

	mu          sync.Mutex
	assistantID string
	userID      string
	searchingID string
	status      Status
	lastError   string
}

var _ realtime.Handler = (*Binder)(nil)

func NewBinder(t *Transcript, opts BinderOptions) *Binder {
	return &Binder{
		transcript: t,
		log:        opts.Logger.With().Str("component", "presenter").Logger(),
		onChange:   opts.OnChange,
		archive:    opts.Archive,
	}
}

func (b *Binder) Transcript() *Transcript { return b.transcript }

// Status returns the connection status and the last error message.
func (b *Binder) Status() (Status, string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.status, b.lastError
}

// SetConnecting marks a connect attempt in progress.
func (b *Binder) SetConnecting() {
	b.mu.Lock()
	b.status = StatusConnecting
	b.lastError = ""
	b.mu.Unlock()
	b.changed(nil)
}

// SetError records a failure that happened outside the controller, such as
// a broker call.
func (b *Binder) SetError(msg string) {
	b.mu.Lock()
	b.status = StatusError
	b.lastError = msg
	b.mu.Unlock()
	b.changed(nil)
}

// UserText records a typed user message. It is final immediately.
func (b *Binder) UserText(text string) string {
	id := b.transcript.Create(RoleUser, KindText, text, false)
	turn, _ := b.transcript.Get(id)
	b.changed(&turn)
	return id
}

func (b *Binder) OnLifecycle(ev realtime.LifecycleEvent) {
	b.mu.Lock()
	switch ev.Kind {
	case realtime.Connected:
		b.status = StatusConnected
		b.lastError = ""
	case realtime.Disconnected:
		b.status = StatusDisconnected
		b.closeAssistant()
		if b.userID != "" {
			b.transcript.Update(b.userID, UnavailableText, false)
			b.userID = ""
		}
		if b.searchingID != "" {
			b.transcript.Remove(b.searchingID)
			b.searchingID = ""
		}
	case realtime.Failed:
		b.status = StatusError
		b.lastError = ev.Message
	}
	b.mu.Unlock()
	b.log.Info().Str("event", ev.Kind.String()).Str("message", ev.Message).Msg("lifecycle")
	b.changed(nil)
}

func (b *Binder) OnResponse(ev realtime.ResponseEvent) {
	var final *Turn

	b.mu.Lock()
	switch ev.Kind {
	case realtime.ResponseStarted:
		if turn, ok := b.transcript.Get(b.assistantID); ok && turn.Text == "" {
			break
		}
		final = b.closeAssistant()
		b.assistantID = b.transcript.Create(RoleAssistant, KindText, "", true)
	case realtime.ResponseDelta:
		if b.assistantID == "" {
			b.mu.Unlock()
			b.log.Debug().Msg("delta without an open assistant turn")
			return
		}
		b.transcript.Update(b.assistantID, ev.Text, false)
	case realtime.ResponseDone:
		if b.assistantID == "" {
			b.mu.Unlock()
			b.log.Debug().Msg("response done without an open assistant turn")
			return
		}
		if b.transcript.Update(b.assistantID, ev.Text, false) {
			if turn, ok := b.transcript.Get(b.assistantID); ok {
				final = &turn
			}
		}
		b.assistantID = ""
	case realtime.ResponseFinished:
		if b.assistantID == "" {
			b.mu.Unlock()
			return
		}
		final = b.closeAssistant()
	}
	b.mu.Unlock()
	b.changed(final)
}

// closeAssistant settles the open assistant turn: an empty placeholder is
// dropped, partial text is kept as final. Callers hold b.mu.
func (b *Binder) closeAssistant() *Turn {
	id := b.assistantID
	b.assistantID = ""
	turn, ok := b.transcript.Get(id)
	if !ok {
		return nil
	}
	if turn.Text == "" {
		b.transcript.Remove(id)
		return nil
	}
	b.transcript.Update(id, turn.Text, false)
	turn.Loading = false
	return &turn
}

func (b *Binder) OnTranscript(ev realtime.TranscriptEvent) {
	var final *Turn

	b.mu.Lock()
	switch ev.Kind {
	case realtime.TranscriptPending:
		b.userID = b.transcript.Create(RoleUser, KindVoice, ListeningText, true)
	case realtime.TranscriptCompleted:
		id := b.userID
		if id == "" || !b.transcript.Update(id, ev.Text, false) {
			id = b.transcript.Create(RoleUser, KindVoice, ev.Text, false)
		}
		if turn, ok := b.transcript.Get(id); ok {
			final = &turn
		}
		b.userID = ""
	case realtime.TranscriptFailed:
		if b.userID != "" {
			b.transcript.Update(b.userID, UnavailableText, false)
			b.userID = ""
		}
	}
	b.mu.Unlock()
	b.changed(final)
}

func (b *Binder) OnToolCall(ev realtime.ToolCallEvent) {
	if ev.Name != realtime.ToolKBSearch {
		return
	}
	b.mu.Lock()
	switch ev.Kind {
	case realtime.ToolCallStarted:
		if b.searchingID == "" {
			b.searchingID = b.transcript.Create(RoleAssistant, KindSearch, SearchingText, true)
		}
	case realtime.ToolCallFinished:
		if b.searchingID != "" {
			b.transcript.Remove(b.searchingID)
			b.searchingID = ""
		}
		if ev.Error != "" {
			b.log.Warn().Str("query", ev.Query).Str("error", ev.Error).Msg("knowledge search failed")
		}
	}
	b.mu.Unlock()
	b.changed(nil)
}

func (b *Binder) changed(final *Turn) {
	if final != nil && b.archive != nil {
		b.archive(*final)
	}
	if b.onChange != nil {
		b.onChange()
	}
}
