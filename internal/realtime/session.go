package realtime

import (
	"encoding/json"
	"strings"

	"github.com/rs/zerolog"
)

// session is the event-loop-owned state of one connection. Nothing here is
// locked; only the loop goroutine touches it.
type session struct {
	params  SessionParams
	handler Handler
	log     zerolog.Logger

	// send writes client events back-to-back; onTool starts a tool call.
	send   func(msgs ...any) error
	onTool func(toolCall)

	gate     gateState
	queue    actionQueue
	response strings.Builder
	toolArgs strings.Builder
}

// setup announces transcription and, with RAG, registers kb_search. It runs
// once the event channel is ready.
func (s *session) setup() {
	if err := s.send(transcriptionUpdate()); err != nil {
		s.log.Error().Err(err).Msg("enable input transcription")
	} else {
		s.log.Info().Msg("input transcription enabled")
	}
	if !s.params.UseRAG {
		return
	}
	if err := s.send(toolRegistration()); err != nil {
		s.log.Error().Err(err).Msg("register kb_search")
		return
	}
	s.log.Info().Msg("kb_search registered")
}

// later runs fn now, or queues it while a transcript is pending.
func (s *session) later(fn func()) {
	if s.gate == gateAwaitingTranscript {
		s.queue.push(fn)
		return
	}
	fn()
}

func (s *session) closeGate() {
	s.gate = gateIdle
	if n := s.queue.drain(); n > 0 {
		s.log.Debug().Int("actions", n).Msg("drained response queue")
	}
}

func (s *session) emitResponse(kind ResponseKind, text string) func() {
	return func() { s.handler.OnResponse(ResponseEvent{Kind: kind, Text: text}) }
}

func (s *session) handle(raw []byte) {
	var ev serverEvent
	if err := json.Unmarshal(raw, &ev); err != nil {
		s.log.Warn().Err(err).Int("bytes", len(raw)).Msg("unparseable server event")
		return
	}
	s.log.Debug().Str("type", ev.Type).Str("gate", s.gate.String()).Msg("server event")

	switch ev.Type {
	case evSessionCreated, evSessionUpdated:
		s.log.Info().Str("type", ev.Type).Msg("session acknowledged")

	case evItemCreated:
		if ev.Item.hasInputAudio() {
			s.gate = gateAwaitingTranscript
			s.handler.OnTranscript(TranscriptEvent{Kind: TranscriptPending})
		}

	case evTranscriptionCompleted:
		kind := TranscriptCompleted
		if strings.TrimSpace(ev.Transcript) == "" {
			kind = TranscriptFailed
		}
		s.handler.OnTranscript(TranscriptEvent{Kind: kind, Text: ev.Transcript})
		s.closeGate()

	case evTranscriptionFailed:
		msg := ""
		if ev.Error != nil {
			msg = ev.Error.Message
		}
		s.log.Warn().Str("reason", msg).Msg("input transcription failed")
		s.handler.OnTranscript(TranscriptEvent{Kind: TranscriptFailed, Text: msg})
		s.closeGate()

	case evResponseCreated:
		s.response.Reset()
		s.later(s.emitResponse(ResponseStarted, ""))

	case evResponseTextDelta, evResponseTranscriptDelta:
		if ev.Delta == "" {
			return
		}
		s.response.WriteString(ev.Delta)
		s.later(s.emitResponse(ResponseDelta, s.response.String()))

	case evResponseTextDone:
		s.finishResponse(ev.Text)

	case evResponseTranscriptDone:
		s.finishResponse(ev.Transcript)

	case evResponseDone:
		s.response.Reset()
		s.later(s.emitResponse(ResponseFinished, ""))

	case evFunctionArgsDelta:
		s.toolArgs.WriteString(ev.Delta)

	case evFunctionArgsDone:
		args := s.toolArgs.String()
		s.toolArgs.Reset()
		if args == "" {
			args = ev.Arguments
		}
		if ev.CallID == "" || ev.Name == "" {
			s.log.Warn().Str("call_id", ev.CallID).Str("name", ev.Name).Msg("tool call without id or name")
			return
		}
		s.onTool(toolCall{CallID: ev.CallID, Name: ev.Name, Arguments: args})

	case evError:
		msg := "server error"
		if ev.Error != nil && ev.Error.Message != "" {
			msg = ev.Error.Message
		}
		s.log.Error().Str("message", msg).Msg("remote error")
		s.handler.OnLifecycle(LifecycleEvent{Kind: Failed, Message: msg})

	default:
		s.log.Debug().Str("type", ev.Type).Msg("unhandled server event")
	}
}

func (s *session) finishResponse(text string) {
	if text != "" {
		s.later(s.emitResponse(ResponseDone, text))
	}
	s.response.Reset()
}

// reset clears buffers and the gate. Queued actions are dropped.
func (s *session) reset() {
	s.gate = gateIdle
	s.queue.reset()
	s.response.Reset()
	s.toolArgs.Reset()
}
