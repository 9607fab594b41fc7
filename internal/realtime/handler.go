package realtime

type LifecycleKind int

const (
	Connected LifecycleKind = iota
	Disconnected
	Failed
)

func (k LifecycleKind) String() string {
	switch k {
	case Connected:
		return "connected"
	case Disconnected:
		return "disconnected"
	case Failed:
		return "failed"
	}
	return "unknown"
}

// LifecycleEvent reports connection state. Message is set for Failed.
type LifecycleEvent struct {
	Kind    LifecycleKind
	Message string
}

type ResponseKind int

const (
	// ResponseStarted opens a new assistant turn.
	ResponseStarted ResponseKind = iota
	// ResponseDelta carries the accumulated text so far, not the fragment.
	ResponseDelta
	// ResponseDone carries the final text of the turn.
	ResponseDone
	// ResponseFinished closes the response. A function-call-only response
	// gets it without any text or ResponseDone.
	ResponseFinished
)

type ResponseEvent struct {
	Kind ResponseKind
	Text string
}

type TranscriptKind int

const (
	// TranscriptPending is a spoken user turn whose text is not known yet.
	TranscriptPending TranscriptKind = iota
	TranscriptCompleted
	TranscriptFailed
)

type TranscriptEvent struct {
	Kind TranscriptKind
	Text string
}

type ToolCallKind int

const (
	ToolCallStarted ToolCallKind = iota
	ToolCallFinished
)

// ToolCallEvent brackets a knowledge search. Results and Error are set on
// ToolCallFinished.
type ToolCallEvent struct {
	Kind    ToolCallKind
	CallID  string
	Name    string
	Query   string
	TopK    int
	Results int
	Error   string
}

// Handler receives everything the controller has to say, one method per
// category. Response, transcript and tool events are delivered from the
// connection's event loop in the order the loop applies them. Lifecycle
// events arrive on whichever goroutine caused them.
type Handler interface {
	OnLifecycle(LifecycleEvent)
	OnResponse(ResponseEvent)
	OnTranscript(TranscriptEvent)
	OnToolCall(ToolCallEvent)
}

// NopHandler discards every event.
type NopHandler struct{}

func (NopHandler) OnLifecycle(LifecycleEvent)   {}
func (NopHandler) OnResponse(ResponseEvent)     {}
func (NopHandler) OnTranscript(TranscriptEvent) {}
func (NopHandler) OnToolCall(ToolCallEvent)     {}
