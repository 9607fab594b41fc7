// Package brokerapi holds the Session Broker wire format and a client for it.
package brokerapi

import (
	"encoding/json"
	"fmt"

	"github.com/pkg/errors"
)

// Models and Voices are the allow-lists the broker accepts.
var (
	Models = []string{
		"gpt-realtime-2025-08-28",
		"gpt-realtime-mini-2025-10-06",
	}
	Voices = []string{
		"alloy",
		"ash",
		"ballad",
		"coral",
		"echo",
		"sage",
		"shimmer",
		"verse",
	}
)

// DefaultTopK is the result count used when a search omits top_k.
const DefaultTopK = 5

func contains(list []string, v string) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}

func ValidModel(m string) bool { return contains(Models, m) }
func ValidVoice(v string) bool { return contains(Voices, v) }

type ConfigSummary struct {
	Models        []string `json:"models"`
	Voices        []string `json:"voices"`
	RAGEnabled    bool     `json:"ragEnabled"`
	SystemPreview string   `json:"systemPreview"`
}

type SessionRequest struct {
	Model  string `json:"model"`
	Voice  string `json:"voice"`
	UseRAG bool   `json:"useRag"`
}

// ClientSecret is the ephemeral credential issued for one realtime session.
type ClientSecret struct {
	Value     string `json:"value"`
	ExpiresAt int64  `json:"expires_at,omitempty"`
}

type SessionResponse struct {
	ClientSecret json.RawMessage `json:"client_secret"`
	Model        string          `json:"model"`
	Voice        string          `json:"voice"`
	UseRAG       bool            `json:"useRag"`
}

// Secret decodes client_secret, accepting either the object form or a bare
// string.
func (r SessionResponse) Secret() (ClientSecret, error) {
	var cs ClientSecret
	if len(r.ClientSecret) == 0 {
		return cs, errors.New("session response has no client_secret")
	}
	if r.ClientSecret[0] == '"' {
		err := json.Unmarshal(r.ClientSecret, &cs.Value)
		return cs, err
	}
	if err := json.Unmarshal(r.ClientSecret, &cs); err != nil {
		return cs, err
	}
	if cs.Value == "" {
		return cs, errors.New("client_secret has no value")
	}
	return cs, nil
}

type SearchRequest struct {
	Query string `json:"query"`
	TopK  *int   `json:"top_k,omitempty"`
}

type Source struct {
	File  string  `json:"file"`
	Page  *int    `json:"page"`
	URL   *string `json:"url"`
	Score float64 `json:"score"`
}

type Result struct {
	Summary string `json:"summary"`
	Quote   string `json:"quote"`
	Source  Source `json:"source"`
}

type SearchResponse struct {
	Results []Result `json:"results"`
}

// ErrorBody is the JSON shape of every broker error reply.
type ErrorBody struct {
	Error       string   `json:"error"`
	Message     string   `json:"message,omitempty"`
	Details     string   `json:"details,omitempty"`
	Hint        string   `json:"hint,omitempty"`
	ValidModels []string `json:"validModels,omitempty"`
	ValidVoices []string `json:"validVoices,omitempty"`
}

// APIError is a non-2xx broker reply seen from the client side.
type APIError struct {
	Status int
	Body   ErrorBody
}

func (e *APIError) Error() string {
	msg := e.Body.Error
	if e.Body.Message != "" {
		msg += ": " + e.Body.Message
	} else if e.Body.Details != "" {
		msg += ": " + e.Body.Details
	}
	if msg == "" {
		msg = "request failed"
	}
	return fmt.Sprintf("broker %d: %s", e.Status, msg)
}
