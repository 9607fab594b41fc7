package broker

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"voxchat/internal/upstream"
)

func messageReply(parts ...upstream.ContentPart) *upstream.ResponsesReply {
	return &upstream.ResponsesReply{Output: []upstream.OutputItem{
		{Type: "file_search_call"},
		{Type: "message", Content: parts},
	}}
}

func TestNormalizeResults_Citations(t *testing.T) {
	text := strings.Repeat("x", 250)
	reply := messageReply(upstream.ContentPart{
		Type: "text",
		Text: text,
		Annotations: []upstream.Annotation{
			{Type: "file_citation", Text: "annotated", FileCitation: &upstream.FileCitation{FileID: "file-abc123", Quote: "quoted passage"}},
			{Type: "file_citation", Text: "fallback text", FileCitation: &upstream.FileCitation{}},
			{Type: "url_citation", Text: "ignored"},
		},
	})

	results := normalizeResults(reply)
	require.Len(t, results, 2)

	assert.Equal(t, "file-abc123", results[0].Source.File)
	assert.Equal(t, "quoted passage", results[0].Quote)
	assert.Equal(t, 0.9, results[0].Source.Score)
	assert.Len(t, results[0].Summary, 200)
	assert.Nil(t, results[0].Source.Page)
	assert.Nil(t, results[0].Source.URL)

	assert.Equal(t, "unknown", results[1].Source.File)
	assert.Equal(t, "fallback text", results[1].Quote)
}

func TestNormalizeResults_FlatCitation(t *testing.T) {
	reply := messageReply(upstream.ContentPart{
		Type:        "output_text",
		Text:        "Answer.",
		Annotations: []upstream.Annotation{{Type: "file_citation", FileID: "file-flat"}},
	})

	results := normalizeResults(reply)
	require.Len(t, results, 1)
	assert.Equal(t, "file-flat", results[0].Source.File)
}

func TestNormalizeResults_PlainText(t *testing.T) {
	reply := messageReply(upstream.ContentPart{
		Type: "output_text",
		Text: "One. Two! Three? Four。Five\nSix. Seven.",
	})

	results := normalizeResults(reply)
	require.Len(t, results, 1)
	r := results[0]
	assert.Equal(t, "One。 Two。 Three。", r.Summary)
	assert.Equal(t, " Four。Five。Six。", r.Quote)
	assert.Equal(t, "vector_store_content", r.Source.File)
	assert.Equal(t, 0.8, r.Source.Score)
}

func TestNormalizeResults_ShortTextHasNoQuote(t *testing.T) {
	reply := messageReply(upstream.ContentPart{Type: "text", Text: "Only one sentence."})

	results := normalizeResults(reply)
	require.Len(t, results, 1)
	assert.Equal(t, "Only one sentence。", results[0].Summary)
	assert.Empty(t, results[0].Quote)
}

func TestNormalizeResults_EmptyYieldsSentinel(t *testing.T) {
	for name, reply := range map[string]*upstream.ResponsesReply{
		"nil":        nil,
		"no output":  {},
		"blank text": messageReply(upstream.ContentPart{Type: "text", Text: " \n "}),
	} {
		t.Run(name, func(t *testing.T) {
			results := normalizeResults(reply)
			require.Len(t, results, 1)
			assert.Equal(t, "no_results", results[0].Source.File)
			assert.Equal(t, noResultsSummary, results[0].Summary)
			assert.Zero(t, results[0].Source.Score)
		})
	}
}

func TestResolveTopK(t *testing.T) {
	three, zero, huge := 3, 0, 500
	assert.Equal(t, 5, resolveTopK(nil))
	assert.Equal(t, 5, resolveTopK(&zero))
	assert.Equal(t, 3, resolveTopK(&three))
	assert.Equal(t, maxTopK, resolveTopK(&huge))
}
