// Package upstream talks to the OpenAI REST endpoints the broker fronts.
package upstream

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/pkg/errors"
)

const (
	DefaultBaseURL = "https://api.openai.com/v1"

	// SearchModel answers file_search requests on the Responses API.
	SearchModel = "gpt-4o-mini"
)

// StatusError is a non-2xx reply from the upstream API.
type StatusError struct {
	Status int
	Body   string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("upstream returned %d: %s", e.Status, strings.TrimSpace(e.Body))
}

// Client calls the OpenAI API with a caller-supplied key.
type Client struct {
	baseURL string
	http    *RetryableClient
}

func NewClient(baseURL string, http *RetryableClient) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	if http == nil {
		http = NewRetryableClient(DefaultRetryConfig())
	}
	return &Client{baseURL: strings.TrimRight(baseURL, "/"), http: http}
}

type SessionRequest struct {
	Model        string `json:"model"`
	Voice        string `json:"voice"`
	Instructions string `json:"instructions"`
}

// SessionReply keeps client_secret raw so it is relayed exactly as issued.
type SessionReply struct {
	ClientSecret json.RawMessage `json:"client_secret"`
}

// CreateRealtimeSession exchanges the API key for a short-lived realtime
// client secret.
func (c *Client) CreateRealtimeSession(ctx context.Context, apiKey string, req SessionRequest) (*SessionReply, error) {
	var reply SessionReply
	if err := c.post(ctx, apiKey, "/realtime/sessions", req, &reply); err != nil {
		return nil, err
	}
	if len(reply.ClientSecret) == 0 {
		return nil, errors.New("realtime session reply has no client_secret")
	}
	return &reply, nil
}

type FileSearchRequest struct {
	Query         string
	VectorStoreID string
	MaxResults    int
}

type fileSearchTool struct {
	Type           string   `json:"type"`
	VectorStoreIDs []string `json:"vector_store_ids"`
	MaxNumResults  int      `json:"max_num_results"`
}

type responsesRequest struct {
	Input string           `json:"input"`
	Model string           `json:"model"`
	Tools []fileSearchTool `json:"tools"`
}

type ResponsesReply struct {
	Output []OutputItem `json:"output"`
}

type OutputItem struct {
	Type    string        `json:"type"`
	Content []ContentPart `json:"content,omitempty"`
}

type ContentPart struct {
	Type        string       `json:"type"`
	Text        string       `json:"text"`
	Annotations []Annotation `json:"annotations,omitempty"`
}

// Annotation covers both the nested file_citation shape and the flat one
// where file_id sits on the annotation itself.
type Annotation struct {
	Type         string        `json:"type"`
	Text         string        `json:"text,omitempty"`
	FileID       string        `json:"file_id,omitempty"`
	Filename     string        `json:"filename,omitempty"`
	FileCitation *FileCitation `json:"file_citation,omitempty"`
}

type FileCitation struct {
	FileID string `json:"file_id"`
	Quote  string `json:"quote,omitempty"`
}

// FileSearch runs a file_search over one vector store through the Responses API.
func (c *Client) FileSearch(ctx context.Context, apiKey string, req FileSearchRequest) (*ResponsesReply, error) {
	body := responsesRequest{
		Input: req.Query,
		Model: SearchModel,
		Tools: []fileSearchTool{{
			Type:           "file_search",
			VectorStoreIDs: []string{req.VectorStoreID},
			MaxNumResults:  req.MaxResults,
		}},
	}
	var reply ResponsesReply
	if err := c.post(ctx, apiKey, "/responses", body, &reply); err != nil {
		return nil, err
	}
	return &reply, nil
}

func (c *Client) post(ctx context.Context, apiKey, path string, body, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return errors.Wrap(err, "marshal request")
	}
	req, err := NewRequestWithBody(ctx, http.MethodPost, c.baseURL+path, payload)
	if err != nil {
		return errors.Wrap(err, "build request")
	}
	req.Header.Set("Authorization", "Bearer "+apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.DoWithRetry(ctx, req)
	if err != nil {
		return errors.Wrapf(err, "POST %s", path)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return errors.Wrapf(err, "read %s reply", path)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &StatusError{Status: resp.StatusCode, Body: string(data)}
	}
	if err := json.Unmarshal(data, out); err != nil {
		return errors.Wrapf(err, "decode %s reply", path)
	}
	return nil
}
