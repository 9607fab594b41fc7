package realtime

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"strings"

	"github.com/pkg/errors"

	"voxchat/internal/brokerapi"
)

// ToolKBSearch is the only tool the controller answers.
const ToolKBSearch = "kb_search"

const (
	defaultToolTopK = 5
	maxToolTopK     = 10
)

// Searcher runs knowledge-base searches on behalf of the remote session.
// *brokerapi.Client satisfies it.
type Searcher interface {
	Search(ctx context.Context, query string, topK int) (*brokerapi.SearchResponse, error)
}

func kbSearchTool() toolDefinition {
	return toolDefinition{
		Type: "function",
		Name: ToolKBSearch,
		Description: "Fetch AI-summarized information from the knowledge base (vector store). " +
			"Use it for domain questions the knowledge base covers. " +
			"It searches and summarizes in one step and returns a concise answer.",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"query": map[string]any{
					"type":        "string",
					"description": "Search query: keywords or a sentence that states the user's question clearly",
				},
				"top_k": map[string]any{
					"type":        "integer",
					"description": fmt.Sprintf("Number of top results to search (1-%d, default %d)", maxToolTopK, defaultToolTopK),
					"default":     defaultToolTopK,
				},
			},
			"required": []string{"query"},
		},
	}
}

type toolCall struct {
	CallID    string
	Name      string
	Arguments string
}

type searchArgs struct {
	Query string   `json:"query"`
	TopK  *float64 `json:"top_k"`
}

// parseSearchArgs decodes kb_search arguments. top_k defaults to 5 and is
// clamped to [1, 10].
func parseSearchArgs(raw string) (string, int, error) {
	if strings.TrimSpace(raw) == "" {
		return "", 0, errors.New("empty tool arguments")
	}
	var args searchArgs
	if err := json.Unmarshal([]byte(raw), &args); err != nil {
		return "", 0, errors.Wrap(err, "parse tool arguments")
	}
	query := strings.TrimSpace(args.Query)
	if query == "" {
		return "", 0, errors.New("tool arguments have no query")
	}
	topK := defaultToolTopK
	if args.TopK != nil && *args.TopK > 0 {
		topK = int(math.Round(*args.TopK))
	}
	return query, max(1, min(topK, maxToolTopK)), nil
}

type toolRejection struct {
	Error string `json:"error"`
}

type toolFailure struct {
	Error   string             `json:"error"`
	Results []brokerapi.Result `json:"results"`
}

func failedSearch(msg string) toolFailure {
	return toolFailure{Error: msg, Results: []brokerapi.Result{}}
}

func encodeOutput(v any) string {
	b, err := json.Marshal(v)
	if err != nil {
		b, _ = json.Marshal(failedSearch("encode tool output: " + err.Error()))
	}
	return string(b)
}
