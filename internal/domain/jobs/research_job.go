package jobs

import (
	"strings"
	"time"

	"gorm.io/datatypes"
)

// Status is the job lifecycle state. Transitions only move forward along
// the state machine; the single backward edge is
// waiting_for_selection -> processing (resume after link selection).
type Status string

const (
	StatusPending             Status = "pending"
	StatusQueued              Status = "queued"
	StatusProcessing          Status = "processing"
	StatusWaitingForSelection Status = "waiting_for_selection"
	StatusCompleted           Status = "completed"
	StatusFailed              Status = "failed"
	StatusCancelled           Status = "cancelled"
)

// Terminal reports whether no further status transition is valid.
func (s Status) Terminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusCancelled:
		return true
	}
	return false
}

func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusQueued, StatusProcessing, StatusWaitingForSelection,
		StatusCompleted, StatusFailed, StatusCancelled:
		return true
	}
	return false
}

type LogType string

const (
	LogInfo    LogType = "INFO"
	LogStep    LogType = "STEP"
	LogSuccess LogType = "SUCCESS"
	LogError   LogType = "ERROR"
)

// LogEntry is one line of the append-only job log. Timestamp is unix
// milliseconds, assigned by the store at append time.
type LogEntry struct {
	Type      LogType `json:"type"`
	Message   string  `json:"message"`
	Timestamp int64   `json:"timestamp"`
}

// CandidateLink is a search hit offered to the user during the
// human-in-the-loop selection pause of the extended flow.
type CandidateLink struct {
	URL     string `json:"url"`
	Title   string `json:"title"`
	Snippet string `json:"snippet"`
}

// ResearchJob is the unit of durable state. It doubles as the redis
// JSON document (json tags) and the postgres row (gorm tags); list and
// map fields live in jsonb columns.
type ResearchJob struct {
	ID             string          `gorm:"primaryKey;column:id" json:"id"`
	OwnerRef       string          `gorm:"column:owner_ref;index" json:"ownerRef,omitempty"`
	Plan           []PlanStep      `gorm:"column:plan;type:jsonb;serializer:json" json:"plan,omitempty"`
	Status         Status          `gorm:"column:status;not null;index" json:"status"`
	Progress       int             `gorm:"column:progress;not null;default:0" json:"progress"`
	Logs           []LogEntry      `gorm:"column:logs;type:jsonb;serializer:json" json:"logs"`
	Result         datatypes.JSON  `gorm:"column:result;type:jsonb" json:"result"`
	CandidateLinks []CandidateLink `gorm:"column:candidate_links;type:jsonb;serializer:json" json:"candidateLinks,omitempty"`
	Error          string          `gorm:"column:error" json:"error,omitempty"`
	CreatedAt      time.Time       `gorm:"not null;index" json:"createdAt"`
	UpdatedAt      time.Time       `gorm:"not null;index" json:"updatedAt"`
}

func (ResearchJob) TableName() string { return "research_job" }

// PlanStepType selects which pipeline a plan step runs.
type PlanStepType string

const (
	StepResearch    PlanStepType = "research"
	StepVectorEmbed PlanStepType = "vector_embed"
)

// PlanStep is one entry of a user-approved agent plan. Immutable input.
type PlanStep struct {
	ID          string       `json:"id"`
	Type        PlanStepType `json:"type"`
	Label       string       `json:"label"`
	Description string       `json:"description"`
	Params      PlanParams   `json:"params"`
}

type PlanParams struct {
	// research steps
	Keywords string   `json:"keywords,omitempty"`
	Criteria []string `json:"criteria,omitempty"`

	// vector_embed steps
	Text  *EmbedTextRef `json:"text,omitempty"`
	Index string        `json:"index,omitempty"`
}

type EmbedTextSource string

const (
	EmbedLiteral        EmbedTextSource = "literal"
	EmbedPreviousOutput EmbedTextSource = "previous_output"
)

// EmbedTextRef is a tagged reference to the text a vector_embed step
// stores. The source is decided at plan-generation time; the literal
// content is never sniffed for magic words.
type EmbedTextRef struct {
	Source  EmbedTextSource `json:"source"`
	Literal string          `json:"literal,omitempty"`
}

// Resolve returns the text to embed. A nil ref or an empty/unknown
// source means "use the previous step's output" (older stored plans
// predate the source tag).
func (r *EmbedTextRef) Resolve(previousOutput string) string {
	if r == nil {
		return previousOutput
	}
	switch r.Source {
	case EmbedLiteral:
		if strings.TrimSpace(r.Literal) == "" {
			return previousOutput
		}
		return r.Literal
	default:
		return previousOutput
	}
}
