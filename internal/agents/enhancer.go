package agents

import (
	"context"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/researchpilot/researchpilot-backend/internal/clients/groq"
	"github.com/researchpilot/researchpilot-backend/internal/platform/logger"
)

// maxQueryLen bounds the enhanced query handed to the search provider.
const maxQueryLen = 300

type EnhanceInput struct {
	Keywords  string
	Criterion string
}

// Enhancer turns the job's keywords plus one research criterion into a
// single bounded web search query.
type Enhancer struct {
	log *logger.Logger
	llm groq.Client
}

func NewEnhancer(log *logger.Logger, llm groq.Client) *Enhancer {
	return &Enhancer{log: log.With("agent", "Enhancer"), llm: llm}
}

const enhancerSystem = `You are a search query specialist. Given a research subject and one
criterion to investigate, produce ONE concise web search query that is most likely to
surface pages answering that criterion. Respond with the query text only: no quotes, no
numbering, no explanation.`

func (e *Enhancer) Run(ctx context.Context, in EnhanceInput) (string, error) {
	user := fmt.Sprintf("Subject: %s\nCriterion: %s", in.Keywords, in.Criterion)

	raw, err := e.llm.ChatCompletion(ctx, enhancerSystem, user)
	if err != nil {
		return "", err
	}

	query := strings.TrimSpace(raw)
	query = strings.Trim(query, "\"'`")
	if i := strings.IndexAny(query, "\r\n"); i >= 0 {
		query = strings.TrimSpace(query[:i])
	}
	if query == "" {
		return "", fmt.Errorf("enhancer: model %s returned an empty query", e.llm.Model())
	}
	if len(query) > maxQueryLen {
		cut := maxQueryLen
		// back off to a rune boundary so the provider never sees a split rune
		for cut > 0 && !utf8.RuneStart(query[cut]) {
			cut--
		}
		query = query[:cut]
	}

	e.log.Debug("enhanced search query", "model", e.llm.Model(), "query_len", len(query))
	return query, nil
}
