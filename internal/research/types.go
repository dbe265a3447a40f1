package research

import (
	"strings"
	"time"

	"github.com/researchpilot/researchpilot-backend/internal/domain/jobs"
)

const (
	WorkflowResearch         = "research_flow"
	WorkflowExtendedResearch = "extended_research_flow"
	WorkflowAgentPlan        = "agent_plan_flow"

	SignalSelection = "selection"
)

const (
	// serialized search results are capped before they reach the LLM
	resultCharCap = 25000

	// how long the extended flow waits for a link selection
	selectionTimeout = time.Hour
)

// APIKeys travel inside workflow inputs because every job brings its
// own provider credentials. They are never written to job logs.
type APIKeys struct {
	LLMKey    string `json:"llmProviderKey,omitempty"`
	SearchKey string `json:"searchProviderKey,omitempty"`
	EmbedKey  string `json:"embedProviderKey,omitempty"`
	VectorKey string `json:"vectorStoreKey,omitempty"`
}

// ResearchInput starts the standard flow. JobID defaults to the
// workflow execution ID, which the trigger surface sets to the job id.
type ResearchInput struct {
	JobID         string   `json:"jobId"`
	Keywords      string   `json:"keywords"`
	Criteria      []string `json:"criteria"`
	PrimaryModel  string   `json:"model,omitempty"`
	FallbackModel string   `json:"fallbackModel,omitempty"`
	Keys          APIKeys  `json:"apiKeys"`
}

// ExtendedResearchInput adds the optional source URL; when present the
// human-in-the-loop selection pause is skipped.
type ExtendedResearchInput struct {
	ResearchInput
	SourceURL string `json:"sourceUrl,omitempty"`
}

// PlanInput starts the agent plan executor.
type PlanInput struct {
	ParentJobID   string          `json:"parentJobId"`
	Steps         []jobs.PlanStep `json:"planSteps"`
	PrimaryModel  string          `json:"model,omitempty"`
	FallbackModel string          `json:"fallbackModel,omitempty"`
	Keys          APIKeys         `json:"apiKeys"`
}

// SelectionSignal is the payload of the selection signal; correlation
// with the right job is structural (signals address a workflow ID).
type SelectionSignal struct {
	SelectedLinks []string `json:"selectedLinks"`
}

// SearchResult is one hit from the search provider, content included.
type SearchResult struct {
	URL     string `json:"url"`
	Title   string `json:"title"`
	Content string `json:"content,omitempty"`
}

// criterionName extracts the display name of a criterion of the form
// "Name: what to find". A bare criterion is its own name.
func criterionName(criterion string) string {
	if i := strings.Index(criterion, ":"); i > 0 {
		return strings.TrimSpace(criterion[:i])
	}
	return strings.TrimSpace(criterion)
}
