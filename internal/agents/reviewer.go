package agents

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/researchpilot/researchpilot-backend/internal/clients/groq"
	"github.com/researchpilot/researchpilot-backend/internal/platform/logger"
)

type ReviewInput struct {
	Criterion     string
	SearchResults string
}

// Reviewer extracts a structured JSON fragment for one criterion out of
// serialized (and pre-truncated) search results. Fields it cannot find
// are reported as the literal string "MISSING", never omitted.
type Reviewer struct {
	log *logger.Logger
	llm groq.Client
}

func NewReviewer(log *logger.Logger, llm groq.Client) *Reviewer {
	return &Reviewer{log: log.With("agent", "Reviewer"), llm: llm}
}

const reviewerSystem = `You are a research data extractor. You receive one research criterion
and raw web search results. Extract the data the criterion asks for and respond with a single
flat JSON object. Keys are short lowercase snake_case field names derived from the criterion;
values are strings. Any field you cannot determine from the provided results MUST be present
with the exact value "MISSING". Respond with the JSON object only.`

func (r *Reviewer) Run(ctx context.Context, in ReviewInput) (map[string]any, error) {
	user := fmt.Sprintf("Criterion: %s\n\nSearch results:\n%s", in.Criterion, in.SearchResults)

	raw, err := r.llm.ChatCompletion(ctx, reviewerSystem, user)
	if err != nil {
		return nil, err
	}

	payload := extractJSON(raw, "{", "}")
	if payload == "" {
		return nil, fmt.Errorf("reviewer: model %s returned no JSON object", r.llm.Model())
	}

	var fragment map[string]any
	if err := json.Unmarshal([]byte(payload), &fragment); err != nil {
		return nil, fmt.Errorf("reviewer: malformed JSON from model %s: %w", r.llm.Model(), err)
	}

	r.log.Debug("extracted criterion fragment", "model", r.llm.Model(), "fields", len(fragment))
	return fragment, nil
}
