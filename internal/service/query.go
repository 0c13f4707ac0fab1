package service

import (
	"context"
	"fmt"
	"strings"

	"github.com/timmy/kbase/internal/logger"
)

// maxContextChars bounds the context bundle handed to the generator.
const maxContextChars = 8000

// QueryRequest is a question answered from retrieved context.
type QueryRequest struct {
	SearchRequest
}

// QueryResponse carries the synthesized answer with its supporting hits.
// Answer is empty when generation is disabled.
type QueryResponse struct {
	Query             string      `json:"query"`
	Answer            string      `json:"answer,omitempty"`
	Generated         bool        `json:"generated"`
	Results           []SearchHit `json:"results"`
	RelatedConsidered []string    `json:"related_considered"`
}

// QueryEngine runs hybrid retrieval and optionally synthesizes an answer
// from the retrieved passages.
type QueryEngine struct {
	search    *HybridSearchEngine
	generator AnswerGenerator
}

// NewQueryEngine creates a query engine. A nil generator disables answer
// synthesis; retrieval still works.
func NewQueryEngine(search *HybridSearchEngine, generator AnswerGenerator) *QueryEngine {
	return &QueryEngine{search: search, generator: generator}
}

// Query retrieves passages for the question and, when generation is enabled,
// produces an answer grounded in them.
func (q *QueryEngine) Query(ctx context.Context, req *QueryRequest) (*QueryResponse, error) {
	searchResp, err := q.search.Search(ctx, &req.SearchRequest)
	if err != nil {
		return nil, err
	}

	resp := &QueryResponse{
		Query:             searchResp.Query,
		Results:           searchResp.Results,
		RelatedConsidered: searchResp.RelatedConsidered,
	}

	if q.generator == nil || !q.generator.IsEnabled() || len(searchResp.Results) == 0 {
		return resp, nil
	}

	contextText := buildContextBundle(searchResp.Results)
	answer, err := q.generator.Generate(ctx, req.Query, contextText)
	if err != nil {
		// Retrieval succeeded; return the hits and report the generation
		// failure in the log instead of failing the whole query
		logger.CtxError(ctx, "Answer generation failed: error=%v", err)
		return resp, nil
	}

	resp.Answer = answer
	resp.Generated = answer != ""
	return resp, nil
}

// buildContextBundle renders hits into a compact numbered context block with
// business provenance for the generator.
func buildContextBundle(hits []SearchHit) string {
	var b strings.Builder
	for i, hit := range hits {
		passage := hit.Text
		if hit.Window != "" {
			passage = hit.Window
		}

		entry := fmt.Sprintf("[%d] (business: %s", i+1, hit.BusinessID)
		if hit.Title != "" {
			entry += ", source: " + hit.Title
		}
		entry += ")\n" + passage + "\n\n"

		if b.Len()+len(entry) > maxContextChars {
			break
		}
		b.WriteString(entry)
	}
	return strings.TrimRight(b.String(), "\n")
}
