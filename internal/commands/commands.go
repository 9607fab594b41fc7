// Package commands handles slash command parsing for the voxchat TUI.
package commands

import (
	"strings"
)

// Command interface for all command types
type Command interface {
	Type() string
}

// Help returns help text
type Help struct{}

func (Help) Type() string { return "help" }

// Connect requests a session and opens the realtime connection
type Connect struct{}

func (Connect) Type() string { return "connect" }

// Disconnect tears down the realtime connection
type Disconnect struct{}

func (Disconnect) Type() string { return "disconnect" }

// ToggleMic switches voice mode on or off
type ToggleMic struct{}

func (ToggleMic) Type() string { return "mic" }

// SetModel picks the model for the next connection
type SetModel struct {
	Model string
}

func (SetModel) Type() string { return "model" }

// SetVoice picks the voice for the next connection
type SetVoice struct {
	Voice string
}

func (SetVoice) Type() string { return "voice" }

// SetRAG turns knowledge search on or off. Toggle is set when no
// argument was given.
type SetRAG struct {
	Toggle  bool
	Enabled bool
}

func (SetRAG) Type() string { return "rag" }

// ShowHistory shows archived sessions
type ShowHistory struct{}

func (ShowHistory) Type() string { return "history" }

// Export exports the current session
type Export struct{}

func (Export) Type() string { return "export" }

// Clear empties the conversation view
type Clear struct{}

func (Clear) Type() string { return "clear" }

// Quit exits the program
type Quit struct{}

func (Quit) Type() string { return "quit" }

// ParseError represents a command parsing error
type ParseError struct {
	Message string
}

func (ParseError) Type() string { return "error" }

// Parse parses user input and returns the appropriate Command.
// Returns nil if the input is not a slash command.
func Parse(input string) Command {
	input = strings.TrimSpace(input)
	if !strings.HasPrefix(input, "/") {
		return nil
	}

	parts := strings.Fields(input)
	if len(parts) == 0 {
		return nil
	}

	cmd := strings.ToLower(parts[0])
	args := parts[1:]

	switch cmd {
	case "/help":
		return Help{}

	case "/connect":
		return Connect{}

	case "/disconnect":
		return Disconnect{}

	case "/mic":
		return ToggleMic{}

	case "/model":
		if len(args) != 1 {
			return ParseError{Message: "/model requires a model id"}
		}
		return SetModel{Model: args[0]}

	case "/voice":
		if len(args) != 1 {
			return ParseError{Message: "/voice requires a voice name"}
		}
		return SetVoice{Voice: strings.ToLower(args[0])}

	case "/rag":
		if len(args) == 0 {
			return SetRAG{Toggle: true}
		}
		switch strings.ToLower(args[0]) {
		case "on":
			return SetRAG{Enabled: true}
		case "off":
			return SetRAG{Enabled: false}
		default:
			return ParseError{Message: "/rag takes on or off"}
		}

	case "/history":
		return ShowHistory{}

	case "/export":
		return Export{}

	case "/clear":
		return Clear{}

	case "/quit", "/exit":
		return Quit{}

	default:
		return ParseError{Message: "unknown command: " + cmd}
	}
}

// HelpText returns the help text for all available commands.
func HelpText() string {
	return `Available commands:
  /help          - Show this help
  /connect       - Start a realtime session
  /disconnect    - End the realtime session
  /mic           - Toggle voice mode (microphone and spoken replies)
  /model <id>    - Model for the next connection
  /voice <name>  - Voice for the next connection
  /rag [on|off]  - Knowledge base search for the next connection
  /history       - Browse archived sessions
  /export        - Export the current session as markdown
  /clear         - Clear the conversation view
  /quit          - Exit`
}
