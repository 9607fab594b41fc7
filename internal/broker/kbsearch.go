package broker

import (
	"strings"

	"voxchat/internal/brokerapi"
	"voxchat/internal/upstream"
)

const (
	citationScore = 0.9
	passageScore  = 0.8

	noResultsSummary = "No relevant information was found."
)

// normalizeResults flattens a Responses API reply into knowledge results.
// Cited passages become one result per citation; uncited text is cut into a
// summary and a quote. An empty list is replaced by a single sentinel entry.
func normalizeResults(reply *upstream.ResponsesReply) []brokerapi.Result {
	results := []brokerapi.Result{}
	if reply != nil {
		for _, item := range reply.Output {
			if item.Type != "message" {
				continue
			}
			for _, part := range item.Content {
				if part.Type != "text" && part.Type != "output_text" {
					continue
				}
				results = append(results, resultsFromPart(part)...)
			}
		}
	}

	if len(results) == 0 {
		results = append(results, brokerapi.Result{
			Summary: noResultsSummary,
			Quote:   "",
			Source:  brokerapi.Source{File: "no_results", Score: 0},
		})
	}
	return results
}

func resultsFromPart(part upstream.ContentPart) []brokerapi.Result {
	if len(part.Annotations) > 0 {
		var out []brokerapi.Result
		for _, a := range part.Annotations {
			if a.Type != "file_citation" {
				continue
			}
			file, quote := a.FileID, a.Text
			if a.FileCitation != nil {
				if a.FileCitation.FileID != "" {
					file = a.FileCitation.FileID
				}
				if a.FileCitation.Quote != "" {
					quote = a.FileCitation.Quote
				}
			}
			if file == "" {
				file = "unknown"
			}
			out = append(out, brokerapi.Result{
				Summary: truncateRunes(part.Text, 200),
				Quote:   quote,
				Source:  brokerapi.Source{File: file, Score: citationScore},
			})
		}
		return out
	}

	if part.Text == "" {
		return nil
	}
	sentences := splitSentences(part.Text)
	if len(sentences) == 0 {
		return nil
	}

	summary := strings.Join(sentences[:min(3, len(sentences))], "。")
	if summary != "" {
		summary += "。"
	}
	var quote string
	if len(sentences) > 3 {
		quote = strings.Join(sentences[3:min(6, len(sentences))], "。") + "。"
	}
	return []brokerapi.Result{{
		Summary: summary,
		Quote:   quote,
		Source:  brokerapi.Source{File: "vector_store_content", Score: passageScore},
	}}
}

// splitSentences cuts on Japanese and Latin sentence terminators and
// newlines, dropping blank pieces.
func splitSentences(text string) []string {
	pieces := strings.FieldsFunc(text, func(r rune) bool {
		switch r {
		case '。', '．', '.', '!', '！', '?', '？', '\n':
			return true
		}
		return false
	})
	out := pieces[:0]
	for _, p := range pieces {
		if strings.TrimSpace(p) != "" {
			out = append(out, p)
		}
	}
	return out
}

func truncateRunes(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
