package agents

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/researchpilot/researchpilot-backend/internal/clients/groq"
	"github.com/researchpilot/researchpilot-backend/internal/domain/jobs"
	"github.com/researchpilot/researchpilot-backend/internal/platform/logger"
)

// Planner turns a free-form research objective into an ordered plan of
// research / vector_embed steps for user approval. Embed steps carry a
// tagged text reference decided here, at generation time.
type Planner struct {
	log *logger.Logger
	llm groq.Client
}

func NewPlanner(log *logger.Logger, llm groq.Client) *Planner {
	return &Planner{log: log.With("agent", "Planner"), llm: llm}
}

const plannerSystem = `You are a research planning agent. Given a user's objective, produce an
ordered plan as a JSON array. Each element:
{
  "type": "research" | "vector_embed",
  "label": short human-readable title,
  "description": one sentence describing the step,
  "params": {
    for research:     "keywords": subject string, "criteria": [ "Name: what to find", ... ]
    for vector_embed: "text": {"source": "literal", "literal": "..."} to store fixed text,
                      or {"source": "previous_output"} to store the preceding step's result;
                      optionally "index": target index name
  }
}
A typical plan is one research step followed by one vector_embed step that stores the research
output. Respond with the JSON array only.`

func (p *Planner) Run(ctx context.Context, objective string) ([]jobs.PlanStep, error) {
	objective = strings.TrimSpace(objective)
	if objective == "" {
		return nil, fmt.Errorf("planner: empty objective")
	}

	raw, err := p.llm.ChatCompletion(ctx, plannerSystem, "Objective: "+objective)
	if err != nil {
		return nil, err
	}

	payload := extractJSON(raw, "[", "]")
	if payload == "" {
		return nil, fmt.Errorf("planner: model %s returned no JSON array", p.llm.Model())
	}

	var steps []jobs.PlanStep
	if err := json.Unmarshal([]byte(payload), &steps); err != nil {
		return nil, fmt.Errorf("planner: malformed plan from model %s: %w", p.llm.Model(), err)
	}
	if len(steps) == 0 {
		return nil, fmt.Errorf("planner: model %s returned an empty plan", p.llm.Model())
	}

	for i := range steps {
		if strings.TrimSpace(steps[i].ID) == "" {
			steps[i].ID = uuid.NewString()
		}
		switch steps[i].Type {
		case jobs.StepResearch:
			if strings.TrimSpace(steps[i].Params.Keywords) == "" || len(steps[i].Params.Criteria) == 0 {
				return nil, fmt.Errorf("planner: research step %d missing keywords or criteria", i)
			}
		case jobs.StepVectorEmbed:
			if steps[i].Params.Text == nil {
				steps[i].Params.Text = &jobs.EmbedTextRef{Source: jobs.EmbedPreviousOutput}
			}
		default:
			return nil, fmt.Errorf("planner: step %d has unknown type %q", i, steps[i].Type)
		}
	}

	p.log.Info("generated plan", "steps", len(steps))
	return steps, nil
}
