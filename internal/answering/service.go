// Package answering implements a development answering service: it retrieves documents for a query,
// asks a language model to answer with those documents as context and returns the answer together
// with the retrieved sources.
package answering

import (
	"context"
	"encoding/json"
	"fmt"
	"iter"
	"log/slog"
	"net/http"
	"strings"

	"github.com/OmChillure/medchat/internal/models"
)

// LLM represents a large language model. It accepts a context and a prompt, returning an iterator that
// yields response chunks and potential errors.
type LLM interface {
	Chat(ctx context.Context, prompt string) iter.Seq2[string, error]
}

// Retriever finds the k documents most relevant to a query.
type Retriever interface {
	Search(ctx context.Context, query string, k int) ([]models.Document, error)
}

// Service serves the answering HTTP API.
type Service struct {
	llm       LLM
	retriever Retriever

	logger *slog.Logger
}

const (
	defaultK     = 3
	maxBodyBytes = 1 << 20

	greeting = "welcome, I am a medical AI assistant"

	errLoggerKey = "err"
)

const promptTemplate = `You are a helpful medical AI assistant.
Answer the user query using the following retrieved context.
You should ask for more symptoms if you feel information is insufficient but this should be done at max 3 times,
You should tell the possible disease and it's cure in separate lines so that it is user friendly.

User query: %s

Context:
%s
`

// NewService creates a Service answering with llm from the documents found by retriever.
func NewService(llm LLM, retriever Retriever, logger *slog.Logger) Service {
	return Service{
		llm:       llm,
		retriever: retriever,
		logger:    logger.With(slog.String("module", "answering")),
	}
}

// Handler returns the service routes wrapped with permissive CORS so browser front-ends served from
// another origin can call it.
func (s Service) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/", s.HandleHealth)
	mux.HandleFunc("/query", s.HandleQuery)
	return withCORS(mux)
}

// HandleHealth answers GET / with a greeting.
func (s Service) HandleHealth(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"hello": greeting})
}

// HandleQuery answers POST /query. A malformed request is rejected with 422. Failures while retrieving
// or generating are reported in the body with a null answer and status 200, so clients always receive
// a well-formed payload.
func (s Service) HandleQuery(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req struct {
		Query *string `json:"query"`
		K     *int    `json:"k"`
	}
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&req); err != nil {
		s.logger.Warn("Invalid query request", slog.String(errLoggerKey, err.Error()))
		http.Error(w, "invalid request body", http.StatusUnprocessableEntity)
		return
	}
	if req.Query == nil {
		http.Error(w, "query is required", http.StatusUnprocessableEntity)
		return
	}

	k := defaultK
	if req.K != nil {
		k = *req.K
	}

	res, err := s.Answer(r.Context(), *req.Query, k)
	if err != nil {
		s.logger.Error("Failed to answer query",
			slog.String("query", *req.Query),
			slog.String(errLoggerKey, err.Error()))
		res = models.QueryResponse{
			Query:   *req.Query,
			Results: []models.Document{},
			Error:   err.Error(),
		}
	}

	s.writeJSON(w, http.StatusOK, res)
}

// Answer retrieves k documents for query, prompts the LLM with their full texts and returns the
// answer along with the documents.
func (s Service) Answer(ctx context.Context, query string, k int) (models.QueryResponse, error) {
	docs, err := s.retriever.Search(ctx, query, k)
	if err != nil {
		return models.QueryResponse{}, fmt.Errorf("failed to search documents: %w", err)
	}
	if docs == nil {
		docs = []models.Document{}
	}

	contexts := make([]string, len(docs))
	for i, doc := range docs {
		contexts[i] = doc.FullText
	}
	prompt := BuildPrompt(query, contexts)

	s.logger.Debug("Prompt", slog.String("query", query), slog.Int("documents", len(docs)))

	var sb strings.Builder
	for chunk, err := range s.llm.Chat(ctx, prompt) {
		if err != nil {
			return models.QueryResponse{}, fmt.Errorf("failed to generate answer: %w", err)
		}
		sb.WriteString(chunk)
	}
	answer := sb.String()

	return models.QueryResponse{
		Query:   query,
		Results: docs,
		Answer:  &answer,
	}, nil
}

// BuildPrompt renders the assistant prompt for query with the given context passages.
func BuildPrompt(query string, contexts []string) string {
	return fmt.Sprintf(promptTemplate, query, strings.Join(contexts, "\n\n"))
}

func (s Service) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error("Failed to write response", slog.String(errLoggerKey, err.Error()))
	}
}

func withCORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h := w.Header()
		h.Set("Access-Control-Allow-Origin", "*")
		h.Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		h.Set("Access-Control-Allow-Headers", "Content-Type")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}
