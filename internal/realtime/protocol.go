package realtime

import "encoding/json"

// Server event types the controller acts on.
const (
	evSessionCreated          = "session.created"
	evSessionUpdated          = "session.updated"
	evItemCreated             = "conversation.item.created"
	evTranscriptionCompleted  = "conversation.item.input_audio_transcription.completed"
	evTranscriptionFailed     = "conversation.item.input_audio_transcription.failed"
	evResponseCreated         = "response.created"
	evResponseTextDelta       = "response.text.delta"
	evResponseTextDone        = "response.text.done"
	evResponseTranscriptDelta = "response.audio_transcript.delta"
	evResponseTranscriptDone  = "response.audio_transcript.done"
	evResponseDone            = "response.done"
	evFunctionArgsDelta       = "response.function_call_arguments.delta"
	evFunctionArgsDone        = "response.function_call_arguments.done"
	evError                   = "error"
)

// Client event types.
const (
	evSessionUpdate  = "session.update"
	evItemCreate     = "conversation.item.create"
	evResponseCreate = "response.create"
)

const transcriptionModel = "whisper-1"

const ragInstructions = "Before answering, always search the knowledge base with the kb_search tool. " +
	"The summary in the search results is already condensed: relay it in natural words as it is, " +
	"without extra guesses or explanations. If nothing was found, say so plainly."

var (
	modalitiesText      = []string{"text"}
	modalitiesTextAudio = []string{"text", "audio"}
)

type serverEvent struct {
	Type       string           `json:"type"`
	Item       *serverItem      `json:"item,omitempty"`
	Transcript string           `json:"transcript,omitempty"`
	Delta      string           `json:"delta,omitempty"`
	Text       string           `json:"text,omitempty"`
	CallID     string           `json:"call_id,omitempty"`
	Name       string           `json:"name,omitempty"`
	Arguments  string           `json:"arguments,omitempty"`
	Error      *serverError     `json:"error,omitempty"`
	Session    *json.RawMessage `json:"session,omitempty"`
}

type serverItem struct {
	ID      string        `json:"id"`
	Type    string        `json:"type"`
	Role    string        `json:"role"`
	Content []contentPart `json:"content"`
}

func (it *serverItem) hasInputAudio() bool {
	if it == nil || it.Role != "user" {
		return false
	}
	for _, c := range it.Content {
		if c.Type == "input_audio" {
			return true
		}
	}
	return false
}

type serverError struct {
	Type    string `json:"type"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

type contentPart struct {
	Type string `json:"type"`
	Text string `json:"text,omitempty"`
}

type sessionUpdate struct {
	Type    string        `json:"type"`
	Session sessionConfig `json:"session"`
}

type sessionConfig struct {
	InputAudioTranscription *transcriptionConfig `json:"input_audio_transcription,omitempty"`
	Tools                   []toolDefinition     `json:"tools,omitempty"`
	ToolChoice              string               `json:"tool_choice,omitempty"`
	Modalities              []string             `json:"modalities,omitempty"`
	Voice                   string               `json:"voice,omitempty"`
}

type transcriptionConfig struct {
	Model string `json:"model"`
}

type toolDefinition struct {
	Type        string         `json:"type"`
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Parameters  map[string]any `json:"parameters"`
}

type itemCreate struct {
	Type string     `json:"type"`
	Item clientItem `json:"item"`
}

type clientItem struct {
	Type    string        `json:"type"`
	Role    string        `json:"role,omitempty"`
	Content []contentPart `json:"content,omitempty"`
	CallID  string        `json:"call_id,omitempty"`
	Output  string        `json:"output,omitempty"`
}

type responseCreate struct {
	Type     string          `json:"type"`
	Response *responseConfig `json:"response,omitempty"`
}

type responseConfig struct {
	Modalities   []string `json:"modalities"`
	ToolChoice   string   `json:"tool_choice,omitempty"`
	Instructions string   `json:"instructions,omitempty"`
}

func transcriptionUpdate() sessionUpdate {
	return sessionUpdate{
		Type: evSessionUpdate,
		Session: sessionConfig{
			InputAudioTranscription: &transcriptionConfig{Model: transcriptionModel},
		},
	}
}

func toolRegistration() sessionUpdate {
	return sessionUpdate{
		Type: evSessionUpdate,
		Session: sessionConfig{
			Tools:      []toolDefinition{kbSearchTool()},
			ToolChoice: "auto",
		},
	}
}

func modalityUpdate(audio bool, voice string) sessionUpdate {
	m := modalitiesText
	if audio {
		m = modalitiesTextAudio
	}
	return sessionUpdate{
		Type:    evSessionUpdate,
		Session: sessionConfig{Modalities: m, Voice: voice},
	}
}

func userMessage(text string) itemCreate {
	return itemCreate{
		Type: evItemCreate,
		Item: clientItem{
			Type:    "message",
			Role:    "user",
			Content: []contentPart{{Type: "input_text", Text: text}},
		},
	}
}

// responseRequest asks for a reply. With rag the model must call kb_search
// first and relay its summary.
func responseRequest(rag bool) responseCreate {
	cfg := &responseConfig{Modalities: modalitiesTextAudio}
	if rag {
		cfg.ToolChoice = "required"
		cfg.Instructions = ragInstructions
	}
	return responseCreate{Type: evResponseCreate, Response: cfg}
}

func functionOutput(callID, output string) itemCreate {
	return itemCreate{
		Type: evItemCreate,
		Item: clientItem{Type: "function_call_output", CallID: callID, Output: output},
	}
}

// resumeResponse continues the current response after a tool output.
func resumeResponse() responseCreate {
	return responseCreate{Type: evResponseCreate}
}
