package research

import (
	"context"
	"encoding/json"
	"strings"
	"sync"
	"testing"
	"time"

	"go.temporal.io/sdk/testsuite"
	"go.temporal.io/sdk/workflow"

	"github.com/researchpilot/researchpilot-backend/internal/clients/groq"
	"github.com/researchpilot/researchpilot-backend/internal/clients/mixedbread"
	"github.com/researchpilot/researchpilot-backend/internal/clients/pinecone"
	"github.com/researchpilot/researchpilot-backend/internal/clients/tavily"
	"github.com/researchpilot/researchpilot-backend/internal/domain/jobs"
	"github.com/researchpilot/researchpilot-backend/internal/jobstore"
	"github.com/researchpilot/researchpilot-backend/internal/platform/logger"
)

// scriptedLLM answers the enhancer and reviewer prompts; the reviewer
// call captures the serialized search results it was shown.
type scriptedLLM struct {
	mu           sync.Mutex
	reviewInputs []string
}

func (s *scriptedLLM) ChatCompletion(ctx context.Context, system, user string) (string, error) {
	if strings.Contains(system, "query specialist") {
		return "berlin current population", nil
	}
	s.mu.Lock()
	s.reviewInputs = append(s.reviewInputs, user)
	s.mu.Unlock()
	return `{"population": "872000"}`, nil
}

func (s *scriptedLLM) Model() string { return "scripted" }

func (s *scriptedLLM) seen() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.reviewInputs...)
}

type stubSearch struct{}

func (stubSearch) Search(ctx context.Context, query string) ([]tavily.Result, error) {
	return []tavily.Result{
		{URL: "https://a.example", Title: "A", Content: "Berlin has 872000 residents"},
		{URL: "https://b.example", Title: "B", Content: "unrelated page"},
	}, nil
}

type recordingEmbed struct {
	mu     sync.Mutex
	inputs []string
}

func (r *recordingEmbed) Embed(ctx context.Context, inputs []string) ([][]float32, error) {
	r.mu.Lock()
	r.inputs = append(r.inputs, inputs...)
	r.mu.Unlock()
	out := make([][]float32, len(inputs))
	for i := range out {
		out[i] = []float32{0.1, 0.2}
	}
	return out, nil
}

type stubVector struct{}

func (stubVector) DescribeIndex(ctx context.Context, indexName string) (*pinecone.IndexDescription, error) {
	return &pinecone.IndexDescription{Name: indexName, Host: indexName + ".example"}, nil
}

func (stubVector) UpsertVectors(ctx context.Context, host string, req pinecone.UpsertRequest) (*pinecone.UpsertResponse, error) {
	return &pinecone.UpsertResponse{UpsertedCount: int64(len(req.Vectors))}, nil
}

// statusStore records every status written so tests can assert on
// intermediate states like waiting_for_selection.
type statusStore struct {
	jobstore.Store
	mu       sync.Mutex
	statuses map[string][]jobs.Status
}

func newStatusStore(inner jobstore.Store) *statusStore {
	return &statusStore{Store: inner, statuses: map[string][]jobs.Status{}}
}

func (s *statusStore) Update(ctx context.Context, id string, f jobstore.Fields) (*jobs.ResearchJob, error) {
	if f.Status != nil {
		s.mu.Lock()
		s.statuses[id] = append(s.statuses[id], *f.Status)
		s.mu.Unlock()
	}
	return s.Store.Update(ctx, id, f)
}

func (s *statusStore) seen(id string) []jobs.Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]jobs.Status(nil), s.statuses[id]...)
}

type fixture struct {
	env   *testsuite.TestWorkflowEnvironment
	store *statusStore
	llm   *scriptedLLM
	embed *recordingEmbed
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	log, err := logger.New("development")
	if err != nil {
		t.Fatalf("init logger: %v", err)
	}

	f := &fixture{
		store: newStatusStore(jobstore.NewMemoryStore(log)),
		llm:   &scriptedLLM{},
		embed: &recordingEmbed{},
	}

	acts := &Activities{
		Log:   log,
		Store: f.store,
		NewLLM: func(apiKey string) (groq.Client, error) {
			return f.llm, nil
		},
		NewSearch: func(apiKey string) (tavily.Client, error) {
			return stubSearch{}, nil
		},
		NewEmbed: func(apiKey string) (mixedbread.Client, error) {
			return f.embed, nil
		},
		NewVector: func(apiKey string) (pinecone.Client, error) {
			return stubVector{}, nil
		},
	}

	var suite testsuite.WorkflowTestSuite
	f.env = suite.NewTestWorkflowEnvironment()
	f.env.RegisterWorkflowWithOptions(ResearchWorkflow, workflow.RegisterOptions{Name: WorkflowResearch})
	f.env.RegisterWorkflowWithOptions(ExtendedResearchWorkflow, workflow.RegisterOptions{Name: WorkflowExtendedResearch})
	f.env.RegisterWorkflowWithOptions(AgentPlanWorkflow, workflow.RegisterOptions{Name: WorkflowAgentPlan})
	f.env.RegisterActivity(acts)
	return f
}

func (f *fixture) mustCreateJob(t *testing.T, id string) {
	t.Helper()
	if _, err := f.store.Create(context.Background(), id, "", nil); err != nil {
		t.Fatalf("create job %s: %v", id, err)
	}
}

func (f *fixture) job(t *testing.T, id string) *jobs.ResearchJob {
	t.Helper()
	job, err := f.store.Get(context.Background(), id)
	if err != nil {
		t.Fatalf("get job %s: %v", id, err)
	}
	if job == nil {
		t.Fatalf("job %s not found", id)
	}
	return job
}

func TestResearchWorkflowCompletes(t *testing.T) {
	f := newFixture(t)
	f.mustCreateJob(t, "job-1")

	f.env.ExecuteWorkflow(ResearchWorkflow, ResearchInput{
		JobID:        "job-1",
		Keywords:     "Berlin",
		Criteria:     []string{"Population: city population"},
		PrimaryModel: "primary",
	})

	if !f.env.IsWorkflowCompleted() {
		t.Fatalf("workflow did not complete")
	}
	if err := f.env.GetWorkflowError(); err != nil {
		t.Fatalf("workflow error: %v", err)
	}

	var result map[string]any
	if err := f.env.GetWorkflowResult(&result); err != nil {
		t.Fatalf("result: %v", err)
	}
	if result["population"] != "872000" {
		t.Fatalf("result: got=%v want population=872000", result)
	}

	job := f.job(t, "job-1")
	if job.Status != jobs.StatusCompleted || job.Progress != 100 {
		t.Fatalf("final record: status=%s progress=%d", job.Status, job.Progress)
	}
	var stored map[string]any
	if err := json.Unmarshal(job.Result, &stored); err != nil {
		t.Fatalf("stored result: %v", err)
	}
	if stored["population"] != "872000" {
		t.Fatalf("stored result: got=%v", stored)
	}
	if len(job.Logs) != 1 || job.Logs[0].Type != jobs.LogSuccess {
		t.Fatalf("finalize must reset logs to a single SUCCESS entry, got=%+v", job.Logs)
	}
}

func TestResearchWorkflowFailureMarksJobFailed(t *testing.T) {
	f := newFixture(t)
	f.mustCreateJob(t, "job-1")

	f.env.ExecuteWorkflow(ResearchWorkflow, ResearchInput{
		JobID:    "job-1",
		Keywords: "Berlin",
		// no criteria: unrecoverable
	})

	if f.env.GetWorkflowError() == nil {
		t.Fatalf("expected workflow error")
	}
	job := f.job(t, "job-1")
	if job.Status != jobs.StatusFailed || job.Error == "" {
		t.Fatalf("failed record: status=%s error=%q", job.Status, job.Error)
	}
}

func TestExtendedWorkflowSelectionRoundTrip(t *testing.T) {
	f := newFixture(t)
	f.mustCreateJob(t, "job-1")

	f.env.RegisterDelayedCallback(func() {
		f.env.SignalWorkflow(SignalSelection, SelectionSignal{
			SelectedLinks: []string{"https://a.example"},
		})
	}, time.Minute)

	f.env.ExecuteWorkflow(ExtendedResearchWorkflow, ExtendedResearchInput{
		ResearchInput: ResearchInput{
			JobID:    "job-1",
			Keywords: "Berlin",
			Criteria: []string{"Population: city population"},
		},
	})

	if err := f.env.GetWorkflowError(); err != nil {
		t.Fatalf("workflow error: %v", err)
	}

	statuses := f.store.seen("job-1")
	sawWaiting := false
	for _, s := range statuses {
		if s == jobs.StatusWaitingForSelection {
			sawWaiting = true
		}
	}
	if !sawWaiting {
		t.Fatalf("job never entered waiting_for_selection: %v", statuses)
	}

	// extraction only saw the selected subset
	inputs := f.llm.seen()
	if len(inputs) != 1 {
		t.Fatalf("review calls: got=%d want=1", len(inputs))
	}
	if !strings.Contains(inputs[0], "a.example") || strings.Contains(inputs[0], "b.example") {
		t.Fatalf("review input must contain only the selected link: %q", inputs[0])
	}

	job := f.job(t, "job-1")
	if job.Status != jobs.StatusCompleted {
		t.Fatalf("final status: got=%s want=completed", job.Status)
	}
	if len(job.CandidateLinks) != 0 {
		t.Fatalf("candidate links must be cleared after completion, got=%d", len(job.CandidateLinks))
	}
}

func TestExtendedWorkflowSelectionTimeout(t *testing.T) {
	f := newFixture(t)
	f.mustCreateJob(t, "job-1")

	// no signal: the 1h selection timer fires
	f.env.ExecuteWorkflow(ExtendedResearchWorkflow, ExtendedResearchInput{
		ResearchInput: ResearchInput{
			JobID:    "job-1",
			Keywords: "Berlin",
			Criteria: []string{"Population: city population"},
		},
	})

	if f.env.GetWorkflowError() == nil {
		t.Fatalf("expected timeout error")
	}
	job := f.job(t, "job-1")
	if job.Status != jobs.StatusFailed {
		t.Fatalf("status after timeout: got=%s want=failed", job.Status)
	}
	if !strings.Contains(job.Error, "timed out") {
		t.Fatalf("error should name the timeout, got=%q", job.Error)
	}
}

func TestExtendedWorkflowSourceURLSkipsSelection(t *testing.T) {
	f := newFixture(t)
	f.mustCreateJob(t, "job-1")

	f.env.ExecuteWorkflow(ExtendedResearchWorkflow, ExtendedResearchInput{
		ResearchInput: ResearchInput{
			JobID:    "job-1",
			Keywords: "Berlin",
			Criteria: []string{"Population: city population"},
		},
		SourceURL: "https://stats.example/berlin",
	})

	if err := f.env.GetWorkflowError(); err != nil {
		t.Fatalf("workflow error: %v", err)
	}
	for _, s := range f.store.seen("job-1") {
		if s == jobs.StatusWaitingForSelection {
			t.Fatalf("source URL must skip the selection pause")
		}
	}
	if job := f.job(t, "job-1"); job.Status != jobs.StatusCompleted {
		t.Fatalf("final status: got=%s want=completed", job.Status)
	}
}

func TestAgentPlanThreadsOutputIntoEmbed(t *testing.T) {
	f := newFixture(t)
	f.mustCreateJob(t, "parent-1")

	f.env.ExecuteWorkflow(AgentPlanWorkflow, PlanInput{
		ParentJobID: "parent-1",
		Steps: []jobs.PlanStep{
			{
				ID:    "s1",
				Type:  jobs.StepResearch,
				Label: "Research Berlin",
				Params: jobs.PlanParams{
					Keywords: "Berlin",
					Criteria: []string{"Population: city population"},
				},
			},
			{
				ID:    "s2",
				Type:  jobs.StepVectorEmbed,
				Label: "Store result",
				Params: jobs.PlanParams{
					Text: &jobs.EmbedTextRef{Source: jobs.EmbedPreviousOutput},
				},
			},
		},
	})

	if err := f.env.GetWorkflowError(); err != nil {
		t.Fatalf("workflow error: %v", err)
	}

	// the embed step received the serialized research output
	if len(f.embed.inputs) != 1 {
		t.Fatalf("embed calls: got=%d want=1", len(f.embed.inputs))
	}
	if f.embed.inputs[0] != `{"population":"872000"}` {
		t.Fatalf("embed input: got=%q want serialized research result", f.embed.inputs[0])
	}

	// derived sub-job exists and completed
	child := f.job(t, "parent-1-step-0")
	if child.Status != jobs.StatusCompleted {
		t.Fatalf("child status: got=%s want=completed", child.Status)
	}

	parent := f.job(t, "parent-1")
	if parent.Status != jobs.StatusCompleted {
		t.Fatalf("parent status: got=%s want=completed", parent.Status)
	}
	var result map[string]any
	if err := json.Unmarshal(parent.Result, &result); err != nil {
		t.Fatalf("parent result: %v", err)
	}
	if result["finalOutput"] != `{"population":"872000"}` {
		t.Fatalf("finalOutput: got=%v", result["finalOutput"])
	}
}

func TestResearchWorkflowCancellation(t *testing.T) {
	f := newFixture(t)
	f.mustCreateJob(t, "job-1")

	// cancel during the pacing sleep between the two criteria
	f.env.RegisterDelayedCallback(func() {
		f.env.CancelWorkflow()
	}, 500*time.Millisecond)

	f.env.ExecuteWorkflow(ResearchWorkflow, ResearchInput{
		JobID:    "job-1",
		Keywords: "Berlin",
		Criteria: []string{
			"Population: city population",
			"Area: land area",
		},
	})

	if f.env.GetWorkflowError() == nil {
		t.Fatalf("expected cancellation to abort the workflow")
	}
	job := f.job(t, "job-1")
	if job.Status != jobs.StatusCancelled {
		t.Fatalf("status after cancel: got=%s want=cancelled", job.Status)
	}
}
