package broker

import (
	"encoding/json"
	"io"
	"net/http"
	"strings"

	"github.com/pkg/errors"

	"voxchat/internal/brokerapi"
	"voxchat/internal/upstream"
)

const (
	configHint  = "check that config/config.yaml exists and sets security.openai_api_key and prompt.system"
	sessionHint = "check that the OpenAI API key in config/config.yaml is valid"
	searchHint  = "check the vector store id and that the Responses API parameters are current"

	// maxTopK is the Responses API ceiling for max_num_results.
	maxTopK = 50
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, body brokerapi.ErrorBody) {
	writeJSON(w, status, body)
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20))
	if err := dec.Decode(v); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}

func (s *Server) handleConfig(w http.ResponseWriter, r *http.Request) {
	settings, err := s.settings.Settings()
	if err != nil {
		s.log.Error().Err(err).Msg("config load failed")
		writeError(w, http.StatusInternalServerError, brokerapi.ErrorBody{
			Error:   "Config load failed",
			Message: err.Error(),
			Hint:    configHint,
		})
		return
	}

	writeJSON(w, http.StatusOK, brokerapi.ConfigSummary{
		Models:        brokerapi.Models,
		Voices:        brokerapi.Voices,
		RAGEnabled:    settings.RAGEnabled(),
		SystemPreview: settings.SystemPreview(),
	})
}

func (s *Server) handleSession(w http.ResponseWriter, r *http.Request) {
	var req brokerapi.SessionRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, brokerapi.ErrorBody{Error: "Invalid request body", Message: err.Error()})
		return
	}
	log := s.log.With().Str("request_id", RequestIDFrom(r.Context())).Logger()
	log.Info().Str("model", req.Model).Str("voice", req.Voice).Bool("use_rag", req.UseRAG).Msg("session requested")

	if !brokerapi.ValidModel(req.Model) {
		writeError(w, http.StatusBadRequest, brokerapi.ErrorBody{Error: "Invalid model", ValidModels: brokerapi.Models})
		return
	}
	if !brokerapi.ValidVoice(req.Voice) {
		writeError(w, http.StatusBadRequest, brokerapi.ErrorBody{Error: "Invalid voice", ValidVoices: brokerapi.Voices})
		return
	}

	settings, err := s.settings.Settings()
	if err != nil {
		log.Error().Err(err).Msg("config load failed")
		writeError(w, http.StatusInternalServerError, brokerapi.ErrorBody{
			Error:   "Session creation failed",
			Message: err.Error(),
			Hint:    sessionHint,
		})
		return
	}
	log.Debug().Str("key_prefix", keyPrefix(settings.APIKey)).Msg("requesting client secret")

	reply, err := s.upstream.CreateRealtimeSession(r.Context(), settings.APIKey, upstream.SessionRequest{
		Model:        req.Model,
		Voice:        req.Voice,
		Instructions: settings.SystemPrompt,
	})
	if err != nil {
		var se *upstream.StatusError
		if errors.As(err, &se) {
			log.Error().Int("status", se.Status).Str("body", se.Body).Msg("realtime session rejected upstream")
			writeError(w, se.Status, brokerapi.ErrorBody{Error: "OpenAI API error", Details: se.Body})
			return
		}
		log.Error().Err(err).Msg("session creation failed")
		writeError(w, http.StatusInternalServerError, brokerapi.ErrorBody{
			Error:   "Session creation failed",
			Message: err.Error(),
			Hint:    sessionHint,
		})
		return
	}

	writeJSON(w, http.StatusOK, brokerapi.SessionResponse{
		ClientSecret: reply.ClientSecret,
		Model:        req.Model,
		Voice:        req.Voice,
		UseRAG:       req.UseRAG && settings.RAGEnabled(),
	})
}

type searchBody struct {
	Query any  `json:"query"`
	TopK  *int `json:"top_k"`
}

func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	var body searchBody
	if err := decodeBody(w, r, &body); err != nil {
		writeError(w, http.StatusBadRequest, brokerapi.ErrorBody{Error: "Invalid request body", Message: err.Error()})
		return
	}
	query, ok := body.Query.(string)
	if !ok || strings.TrimSpace(query) == "" {
		writeError(w, http.StatusBadRequest, brokerapi.ErrorBody{Error: "Invalid query", Message: "query is required"})
		return
	}
	topK := resolveTopK(body.TopK)
	log := s.log.With().Str("request_id", RequestIDFrom(r.Context())).Logger()

	settings, err := s.settings.Settings()
	if err != nil {
		log.Error().Err(err).Msg("config load failed")
		writeError(w, http.StatusInternalServerError, brokerapi.ErrorBody{
			Error:   "KB Search failed",
			Message: err.Error(),
			Hint:    searchHint,
		})
		return
	}
	if !settings.RAGEnabled() {
		log.Warn().Msg("kb search without a vector store id, returning no results")
		writeJSON(w, http.StatusOK, brokerapi.SearchResponse{Results: []brokerapi.Result{}})
		return
	}

	log.Info().Str("query", query).Int("top_k", topK).Msg("kb search")
	reply, err := s.upstream.FileSearch(r.Context(), settings.APIKey, upstream.FileSearchRequest{
		Query:         query,
		VectorStoreID: settings.VectorStoreID,
		MaxResults:    topK,
	})
	if err != nil {
		var se *upstream.StatusError
		if errors.As(err, &se) {
			log.Error().Int("status", se.Status).Str("body", se.Body).Msg("file search rejected upstream")
			writeError(w, se.Status, brokerapi.ErrorBody{
				Error:   "Responses API error",
				Details: se.Body,
				Message: "vector search failed; check the vector store id",
			})
			return
		}
		log.Error().Err(err).Msg("kb search failed")
		writeError(w, http.StatusInternalServerError, brokerapi.ErrorBody{
			Error:   "KB Search failed",
			Message: err.Error(),
			Hint:    searchHint,
		})
		return
	}

	results := normalizeResults(reply)
	log.Info().Int("results", len(results)).Msg("kb search done")
	writeJSON(w, http.StatusOK, brokerapi.SearchResponse{Results: results})
}

// resolveTopK applies the default for a missing or non-positive count and
// caps it at the upstream limit.
func resolveTopK(topK *int) int {
	if topK == nil || *topK <= 0 {
		return brokerapi.DefaultTopK
	}
	return min(*topK, maxTopK)
}

func keyPrefix(key string) string {
	if len(key) > 10 {
		return key[:10] + "..."
	}
	return "..."
}
