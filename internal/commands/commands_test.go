package commands

import (
	"strings"
	"testing"
)

func TestParse_NonSlashCommand(t *testing.T) {
	tests := []string{
		"hello world",
		"",
		"   ",
		"help",
		"connect please",
		"what is 1/2?",
	}

	for _, input := range tests {
		result := Parse(input)
		if result != nil {
			t.Errorf("Parse(%q) = %v, want nil", input, result)
		}
	}
}

func TestParse_NoArgCommands(t *testing.T) {
	tests := []struct {
		input    string
		wantType string
	}{
		{"/help", "help"},
		{"/HELP", "help"},
		{"  /help  ", "help"},
		{"/help extra args ignored", "help"},
		{"/connect", "connect"},
		{"/disconnect", "disconnect"},
		{"/mic", "mic"},
		{"/history", "history"},
		{"/export", "export"},
		{"/clear", "clear"},
		{"/quit", "quit"},
		{"/exit", "quit"},
	}

	for _, tt := range tests {
		result := Parse(tt.input)
		if result == nil {
			t.Errorf("Parse(%q) = nil, want %s", tt.input, tt.wantType)
			continue
		}
		if result.Type() != tt.wantType {
			t.Errorf("Parse(%q).Type() = %q, want %q", tt.input, result.Type(), tt.wantType)
		}
	}
}

func TestParse_Model(t *testing.T) {
	result := Parse("/model gpt-4o-realtime-preview")
	cmd, ok := result.(SetModel)
	if !ok {
		t.Fatalf("Parse(/model ...) = %T, want SetModel", result)
	}
	if cmd.Model != "gpt-4o-realtime-preview" {
		t.Errorf("Model = %q", cmd.Model)
	}

	for _, input := range []string{"/model", "/model a b"} {
		if _, ok := Parse(input).(ParseError); !ok {
			t.Errorf("Parse(%q) should be a ParseError", input)
		}
	}
}

func TestParse_Voice(t *testing.T) {
	result := Parse("/voice Shimmer")
	cmd, ok := result.(SetVoice)
	if !ok {
		t.Fatalf("Parse(/voice ...) = %T, want SetVoice", result)
	}
	if cmd.Voice != "shimmer" {
		t.Errorf("Voice = %q, want shimmer", cmd.Voice)
	}

	if _, ok := Parse("/voice").(ParseError); !ok {
		t.Error("Parse(/voice) should be a ParseError")
	}
}

func TestParse_RAG(t *testing.T) {
	tests := []struct {
		input string
		want  SetRAG
	}{
		{"/rag", SetRAG{Toggle: true}},
		{"/rag on", SetRAG{Enabled: true}},
		{"/rag OFF", SetRAG{Enabled: false}},
	}

	for _, tt := range tests {
		result := Parse(tt.input)
		got, ok := result.(SetRAG)
		if !ok {
			t.Errorf("Parse(%q) = %T, want SetRAG", tt.input, result)
			continue
		}
		if got != tt.want {
			t.Errorf("Parse(%q) = %+v, want %+v", tt.input, got, tt.want)
		}
	}

	if _, ok := Parse("/rag maybe").(ParseError); !ok {
		t.Error("Parse(/rag maybe) should be a ParseError")
	}
}

func TestParse_Unknown(t *testing.T) {
	result := Parse("/teleport now")
	perr, ok := result.(ParseError)
	if !ok {
		t.Fatalf("Parse(/teleport) = %T, want ParseError", result)
	}
	if !strings.Contains(perr.Message, "/teleport") {
		t.Errorf("Message = %q, should name the command", perr.Message)
	}
}

func TestHelpText(t *testing.T) {
	help := HelpText()
	for _, cmd := range []string{"/connect", "/disconnect", "/mic", "/model", "/voice", "/rag", "/history", "/export", "/clear", "/quit"} {
		if !strings.Contains(help, cmd) {
			t.Errorf("HelpText() missing %s", cmd)
		}
	}
}
