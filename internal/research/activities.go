package research

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/researchpilot/researchpilot-backend/internal/agents"
	"github.com/researchpilot/researchpilot-backend/internal/clients/groq"
	"github.com/researchpilot/researchpilot-backend/internal/clients/mixedbread"
	"github.com/researchpilot/researchpilot-backend/internal/clients/pinecone"
	"github.com/researchpilot/researchpilot-backend/internal/clients/tavily"
	"github.com/researchpilot/researchpilot-backend/internal/domain/jobs"
	"github.com/researchpilot/researchpilot-backend/internal/jobstore"
	"github.com/researchpilot/researchpilot-backend/internal/platform/logger"
)

const defaultVectorIndex = "research-data"

// Activities is the workflow-to-world boundary. Provider clients are
// built per activity call because every job carries its own API keys;
// the constructor fields exist so tests can substitute fakes.
type Activities struct {
	Log   *logger.Logger
	Store jobstore.Store

	NewLLM    func(apiKey string) (groq.Client, error)
	NewSearch func(apiKey string) (tavily.Client, error)
	NewEmbed  func(apiKey string) (mixedbread.Client, error)
	NewVector func(apiKey string) (pinecone.Client, error)
}

func NewActivities(log *logger.Logger, store jobstore.Store) (*Activities, error) {
	if log == nil || store == nil {
		return nil, fmt.Errorf("research: activities missing deps")
	}
	return &Activities{
		Log:   log.With("component", "ResearchActivities"),
		Store: store,
		NewLLM: func(apiKey string) (groq.Client, error) {
			return groq.New(log, groq.Config{APIKey: apiKey})
		},
		NewSearch: func(apiKey string) (tavily.Client, error) {
			return tavily.New(log, tavily.Config{APIKey: apiKey})
		},
		NewEmbed: func(apiKey string) (mixedbread.Client, error) {
			return mixedbread.New(log, mixedbread.Config{APIKey: apiKey})
		},
		NewVector: func(apiKey string) (pinecone.Client, error) {
			return pinecone.New(log, pinecone.Config{APIKey: apiKey})
		},
	}, nil
}

// ---- job record activities ----

type AppendLogInput struct {
	JobID   string       `json:"jobId"`
	Type    jobs.LogType `json:"type"`
	Message string       `json:"message"`
}

type ProgressInput struct {
	JobID    string `json:"jobId"`
	Progress int    `json:"progress"`
}

type CandidatesInput struct {
	JobID string               `json:"jobId"`
	Links []jobs.CandidateLink `json:"links"`
}

type CompleteJobInput struct {
	JobID  string         `json:"jobId"`
	Result map[string]any `json:"result"`
}

type FailJobInput struct {
	JobID   string `json:"jobId"`
	Message string `json:"message"`
}

type CreateJobInput struct {
	JobID    string `json:"jobId"`
	OwnerRef string `json:"ownerRef,omitempty"`
}

// InitJob moves a freshly dispatched job into processing and resets its
// log history for this run.
func (a *Activities) InitJob(ctx context.Context, jobID string) error {
	_, err := a.Store.Update(ctx, jobID, jobstore.Fields{
		Status:   jobstore.StatusOf(jobs.StatusProcessing),
		Progress: jobstore.ProgressOf(5),
		Logs:     jobstore.LogsOf([]jobs.LogEntry{}),
	})
	if err != nil {
		return err
	}
	return a.Store.AppendLog(ctx, jobID, jobs.LogInfo, "Research started")
}

// CreateJob provisions the record for a derived sub-job. Replays and
// retries land on the existing record.
func (a *Activities) CreateJob(ctx context.Context, in CreateJobInput) error {
	_, err := a.Store.Create(ctx, in.JobID, in.OwnerRef, nil)
	if errors.Is(err, jobstore.ErrAlreadyExists) {
		return nil
	}
	return err
}

func (a *Activities) AppendJobLog(ctx context.Context, in AppendLogInput) error {
	return a.Store.AppendLog(ctx, in.JobID, in.Type, in.Message)
}

func (a *Activities) SetProgress(ctx context.Context, in ProgressInput) error {
	_, err := a.Store.Update(ctx, in.JobID, jobstore.Fields{
		Progress: jobstore.ProgressOf(in.Progress),
	})
	return err
}

// SetCandidates parks the job in waiting_for_selection with the links
// the user has to choose from.
func (a *Activities) SetCandidates(ctx context.Context, in CandidatesInput) error {
	_, err := a.Store.Update(ctx, in.JobID, jobstore.Fields{
		Status:         jobstore.StatusOf(jobs.StatusWaitingForSelection),
		CandidateLinks: jobstore.LinksOf(in.Links),
	})
	if err != nil {
		return err
	}
	return a.Store.AppendLog(ctx, in.JobID, jobs.LogInfo, "Waiting for link selection")
}

// ResumeProcessing brings the job back from the selection pause. The
// store clears candidateLinks on leaving waiting_for_selection.
func (a *Activities) ResumeProcessing(ctx context.Context, jobID string) error {
	_, err := a.Store.Update(ctx, jobID, jobstore.Fields{
		Status: jobstore.StatusOf(jobs.StatusProcessing),
	})
	if err != nil {
		return err
	}
	return a.Store.AppendLog(ctx, jobID, jobs.LogInfo, "Selection received, resuming")
}

// CompleteJob finalizes: completed/100/result, log history reset to a
// single SUCCESS line.
func (a *Activities) CompleteJob(ctx context.Context, in CompleteJobInput) error {
	_, err := a.Store.Update(ctx, in.JobID, jobstore.Fields{
		Status:   jobstore.StatusOf(jobs.StatusCompleted),
		Progress: jobstore.ProgressOf(100),
		Result:   in.Result,
		Logs:     jobstore.LogsOf([]jobs.LogEntry{}),
	})
	if err != nil {
		return err
	}
	return a.Store.AppendLog(ctx, in.JobID, jobs.LogSuccess, "Research completed")
}

func (a *Activities) FailJob(ctx context.Context, in FailJobInput) error {
	if err := a.Store.AppendLog(ctx, in.JobID, jobs.LogError, in.Message); err != nil {
		a.Log.Warn("failed to append error log", "job_id", in.JobID, "error", err)
	}
	_, err := a.Store.Update(ctx, in.JobID, jobstore.Fields{
		Status: jobstore.StatusOf(jobs.StatusFailed),
		Error:  jobstore.ErrorOf(in.Message),
	})
	return err
}

// CancelJob marks the terminal cancelled state. Idempotent: a second
// delivery finds a terminal job and the store ignores the update.
func (a *Activities) CancelJob(ctx context.Context, jobID string) error {
	if err := a.Store.AppendLog(ctx, jobID, jobs.LogInfo, "Job cancelled by user"); err != nil {
		a.Log.Warn("failed to append cancel log", "job_id", jobID, "error", err)
	}
	_, err := a.Store.Update(ctx, jobID, jobstore.Fields{
		Status: jobstore.StatusOf(jobs.StatusCancelled),
		Error:  jobstore.ErrorOf("cancelled by user"),
	})
	return err
}

// ---- provider activities ----

type EnhanceActivityInput struct {
	JobID         string  `json:"jobId"`
	Keywords      string  `json:"keywords"`
	Criterion     string  `json:"criterion"`
	PrimaryModel  string  `json:"model,omitempty"`
	FallbackModel string  `json:"fallbackModel,omitempty"`
	Keys          APIKeys `json:"apiKeys"`
}

// EnhanceQuery produces the bounded search query for one criterion via
// the rate-limit-aware invoker.
func (a *Activities) EnhanceQuery(ctx context.Context, in EnhanceActivityInput) (string, error) {
	base, err := a.NewLLM(in.Keys.LLMKey)
	if err != nil {
		return "", err
	}
	factory := func(model string) (agents.Agent[agents.EnhanceInput, string], error) {
		return agents.NewEnhancer(a.Log, groq.WithModel(base, model)), nil
	}
	return agents.Invoke(ctx, a.Log, factory,
		agents.EnhanceInput{Keywords: in.Keywords, Criterion: in.Criterion},
		in.PrimaryModel, in.FallbackModel, a.joblog(in.JobID))
}

type SearchActivityInput struct {
	JobID string  `json:"jobId"`
	Query string  `json:"query"`
	Keys  APIKeys `json:"apiKeys"`
}

// Search runs the external search provider.
func (a *Activities) Search(ctx context.Context, in SearchActivityInput) ([]SearchResult, error) {
	sc, err := a.NewSearch(in.Keys.SearchKey)
	if err != nil {
		return nil, err
	}
	hits, err := sc.Search(ctx, in.Query)
	if err != nil {
		return nil, err
	}
	out := make([]SearchResult, 0, len(hits))
	for _, h := range hits {
		out = append(out, SearchResult{URL: h.URL, Title: h.Title, Content: h.Content})
	}
	return out, nil
}

type ReviewActivityInput struct {
	JobID         string  `json:"jobId"`
	Criterion     string  `json:"criterion"`
	Serialized    string  `json:"serialized"`
	PrimaryModel  string  `json:"model,omitempty"`
	FallbackModel string  `json:"fallbackModel,omitempty"`
	Keys          APIKeys `json:"apiKeys"`
}

// Review extracts the criterion's structured fragment from serialized
// (pre-truncated) search results.
func (a *Activities) Review(ctx context.Context, in ReviewActivityInput) (map[string]any, error) {
	base, err := a.NewLLM(in.Keys.LLMKey)
	if err != nil {
		return nil, err
	}
	factory := func(model string) (agents.Agent[agents.ReviewInput, map[string]any], error) {
		return agents.NewReviewer(a.Log, groq.WithModel(base, model)), nil
	}
	return agents.Invoke(ctx, a.Log, factory,
		agents.ReviewInput{Criterion: in.Criterion, SearchResults: in.Serialized},
		in.PrimaryModel, in.FallbackModel, a.joblog(in.JobID))
}

type EmbedActivityInput struct {
	JobID string  `json:"jobId"`
	Text  string  `json:"text"`
	Index string  `json:"index,omitempty"`
	Keys  APIKeys `json:"apiKeys"`
}

// EmbedAndStore embeds the text and upserts the vector into the target
// index. Fire-and-forget from the orchestration's perspective: nothing
// downstream consumes its output.
func (a *Activities) EmbedAndStore(ctx context.Context, in EmbedActivityInput) error {
	text := strings.TrimSpace(in.Text)
	if text == "" {
		a.Log.Warn("embed step received empty text, skipping", "job_id", in.JobID)
		if err := a.Store.AppendLog(ctx, in.JobID, jobs.LogInfo, "Embed step skipped: nothing to embed"); err != nil {
			a.Log.Warn("failed to append job log", "job_id", in.JobID, "error", err)
		}
		return nil
	}

	ec, err := a.NewEmbed(in.Keys.EmbedKey)
	if err != nil {
		return err
	}
	vectors, err := ec.Embed(ctx, []string{text})
	if err != nil {
		return fmt.Errorf("embed: %w", err)
	}
	if len(vectors) != 1 {
		return fmt.Errorf("embed: expected 1 vector, got %d", len(vectors))
	}

	index := strings.TrimSpace(in.Index)
	if index == "" {
		index = defaultVectorIndex
	}

	vc, err := a.NewVector(in.Keys.VectorKey)
	if err != nil {
		return err
	}
	desc, err := vc.DescribeIndex(ctx, index)
	if err != nil {
		return fmt.Errorf("vector store: %w", err)
	}

	snippet := text
	if len(snippet) > 500 {
		snippet = snippet[:500]
	}
	_, err = vc.UpsertVectors(ctx, desc.Host, pinecone.UpsertRequest{
		Vectors: []pinecone.Vector{{
			ID:     in.JobID + "-embed",
			Values: vectors[0],
			Metadata: map[string]any{
				"jobId":   in.JobID,
				"snippet": snippet,
			},
		}},
	})
	if err != nil {
		return fmt.Errorf("vector store: %w", err)
	}

	a.Log.Info("stored embedding", "job_id", in.JobID, "index", index, "dimension", len(vectors[0]))
	return nil
}

func (a *Activities) joblog(jobID string) agents.JobLog {
	return func(ctx context.Context, typ jobs.LogType, message string) {
		if err := a.Store.AppendLog(ctx, jobID, typ, message); err != nil {
			a.Log.Warn("failed to append job log", "job_id", jobID, "error", err)
		}
	}
}
