package brokerapi

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/pkg/errors"
)

// Client talks to a running Session Broker.
type Client struct {
	baseURL string
	http    *http.Client
}

func NewClient(baseURL string) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: 90 * time.Second},
	}
}

// WithHTTPClient replaces the underlying http.Client.
func (c *Client) WithHTTPClient(h *http.Client) *Client {
	c.http = h
	return c
}

// Config fetches the model/voice allow-lists and RAG availability.
func (c *Client) Config(ctx context.Context) (*ConfigSummary, error) {
	var out ConfigSummary
	if err := c.do(ctx, http.MethodGet, "/api/config", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// CreateSession asks the broker for a realtime client secret.
func (c *Client) CreateSession(ctx context.Context, req SessionRequest) (*SessionResponse, error) {
	var out SessionResponse
	if err := c.do(ctx, http.MethodPost, "/api/session", req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Search runs a knowledge-base search. topK <= 0 leaves the count to the
// broker default.
func (c *Client) Search(ctx context.Context, query string, topK int) (*SearchResponse, error) {
	req := SearchRequest{Query: query}
	if topK > 0 {
		req.TopK = &topK
	}
	var out SearchResponse
	if err := c.do(ctx, http.MethodPost, "/api/kb_search", req, &out); err != nil {
		return nil, err
	}
	if out.Results == nil {
		out.Results = []Result{}
	}
	return &out, nil
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var rd io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return errors.Wrap(err, "marshal request")
		}
		rd = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, rd)
	if err != nil {
		return errors.Wrap(err, "build request")
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return errors.Wrapf(err, "%s %s", method, path)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return errors.Wrapf(err, "read %s reply", path)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		apiErr := &APIError{Status: resp.StatusCode}
		if json.Unmarshal(data, &apiErr.Body) != nil || apiErr.Body.Error == "" {
			apiErr.Body.Error = http.StatusText(resp.StatusCode)
			apiErr.Body.Details = strings.TrimSpace(string(data))
		}
		return apiErr
	}
	return errors.Wrapf(json.Unmarshal(data, out), "decode %s reply", path)
}

// Reason returns the most human-readable part of an error, preferring the
// broker's message field.
func Reason(err error) string {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		if apiErr.Body.Message != "" {
			return apiErr.Body.Message
		}
		if apiErr.Body.Details != "" {
			return apiErr.Body.Details
		}
		return apiErr.Body.Error
	}
	return err.Error()
}
