package services

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"go.temporal.io/api/serviceerror"
	temporalsdkclient "go.temporal.io/sdk/client"

	"github.com/researchpilot/researchpilot-backend/internal/agents"
	"github.com/researchpilot/researchpilot-backend/internal/clients/groq"
	"github.com/researchpilot/researchpilot-backend/internal/domain/jobs"
	"github.com/researchpilot/researchpilot-backend/internal/jobstore"
	"github.com/researchpilot/researchpilot-backend/internal/platform/logger"
	"github.com/researchpilot/researchpilot-backend/internal/research"
	"github.com/researchpilot/researchpilot-backend/internal/templates"
	"github.com/researchpilot/researchpilot-backend/internal/temporalx"
)

type StartResearchRequest struct {
	JobID         string          `json:"jobId,omitempty"`
	OwnerRef      string          `json:"ownerRef,omitempty"`
	TemplateID    string          `json:"templateId,omitempty"`
	Keywords      string          `json:"keywords"`
	Criteria      []string        `json:"criteria,omitempty"`
	Model         string          `json:"model,omitempty"`
	FallbackModel string          `json:"fallbackModel,omitempty"`
	SourceURL     string          `json:"sourceUrl,omitempty"`
	Keys          research.APIKeys `json:"apiKeys"`
}

type ExecutePlanRequest struct {
	ParentJobID   string          `json:"parentJobId,omitempty"`
	OwnerRef      string          `json:"ownerRef,omitempty"`
	Steps         []jobs.PlanStep  `json:"planSteps"`
	Model         string          `json:"model,omitempty"`
	FallbackModel string          `json:"fallbackModel,omitempty"`
	Keys          research.APIKeys `json:"apiKeys"`
}

type GeneratePlanRequest struct {
	Objective string `json:"objective"`
	Model     string `json:"model,omitempty"`
	LLMKey    string `json:"llmProviderKey"`
}

// ResearchService is the trigger surface: it provisions job records and
// hands them off to the durable executor, then exposes the signal,
// cancel, and poll operations the UI drives.
type ResearchService interface {
	StartResearch(ctx context.Context, req StartResearchRequest) (*jobs.ResearchJob, error)
	StartExtendedResearch(ctx context.Context, req StartResearchRequest) (*jobs.ResearchJob, error)
	SubmitSelection(ctx context.Context, jobID string, selectedLinks []string) error
	Cancel(ctx context.Context, jobID string) error
	ExecutePlan(ctx context.Context, req ExecutePlanRequest) (*jobs.ResearchJob, error)
	GeneratePlan(ctx context.Context, req GeneratePlanRequest) ([]jobs.PlanStep, error)
	JobStatus(ctx context.Context, jobID string) (*jobs.ResearchJob, error)
	Templates() ([]templates.Template, error)
}

type researchService struct {
	log       *logger.Logger
	store     jobstore.Store
	temporal  temporalsdkclient.Client
	taskQueue string
}

func NewResearchService(log *logger.Logger, store jobstore.Store, tc temporalsdkclient.Client) (ResearchService, error) {
	if log == nil || store == nil || tc == nil {
		return nil, fmt.Errorf("research service missing deps")
	}
	return &researchService{
		log:       log.With("service", "ResearchService"),
		store:     store,
		temporal:  tc,
		taskQueue: temporalx.LoadConfig().TaskQueue,
	}, nil
}

func (s *researchService) StartResearch(ctx context.Context, req StartResearchRequest) (*jobs.ResearchJob, error) {
	in, job, err := s.prepare(ctx, &req)
	if err != nil {
		return nil, err
	}
	return s.dispatch(ctx, job, research.WorkflowResearch, in)
}

func (s *researchService) StartExtendedResearch(ctx context.Context, req StartResearchRequest) (*jobs.ResearchJob, error) {
	in, job, err := s.prepare(ctx, &req)
	if err != nil {
		return nil, err
	}
	extended := research.ExtendedResearchInput{
		ResearchInput: in,
		SourceURL:     strings.TrimSpace(req.SourceURL),
	}
	return s.dispatch(ctx, job, research.WorkflowExtendedResearch, extended)
}

// prepare validates the request, resolves template criteria, and
// creates the job record in its pending state.
func (s *researchService) prepare(ctx context.Context, req *StartResearchRequest) (research.ResearchInput, *jobs.ResearchJob, error) {
	var in research.ResearchInput

	if strings.TrimSpace(req.Keywords) == "" {
		return in, nil, fmt.Errorf("keywords are required")
	}

	criteria := req.Criteria
	if len(criteria) == 0 && strings.TrimSpace(req.TemplateID) != "" {
		tpl, err := templates.ByID(req.TemplateID)
		if err != nil {
			return in, nil, err
		}
		if tpl == nil {
			return in, nil, fmt.Errorf("unknown template %q", req.TemplateID)
		}
		criteria = tpl.Criteria
	}
	if len(criteria) == 0 {
		return in, nil, fmt.Errorf("criteria are required")
	}

	jobID := strings.TrimSpace(req.JobID)
	if jobID == "" {
		jobID = uuid.NewString()
	}

	job, err := s.store.Create(ctx, jobID, req.OwnerRef, nil)
	if err != nil {
		return in, nil, err
	}

	in = research.ResearchInput{
		JobID:         jobID,
		Keywords:      req.Keywords,
		Criteria:      criteria,
		PrimaryModel:  req.Model,
		FallbackModel: req.FallbackModel,
		Keys:          req.Keys,
	}
	return in, job, nil
}

// dispatch marks the record queued, then starts the workflow with
// workflow ID == job ID (signal and cancel correlation is structural).
// Queued is written first so the worker's processing transition can
// only ever move the status forward.
func (s *researchService) dispatch(ctx context.Context, job *jobs.ResearchJob, workflowName string, input any) (*jobs.ResearchJob, error) {
	queued, err := s.store.Update(ctx, job.ID, jobstore.Fields{
		Status: jobstore.StatusOf(jobs.StatusQueued),
	})
	if err != nil {
		return nil, err
	}

	_, err = s.temporal.ExecuteWorkflow(ctx, temporalsdkclient.StartWorkflowOptions{
		ID:        job.ID,
		TaskQueue: s.taskQueue,
	}, workflowName, input)
	if err != nil {
		msg := fmt.Sprintf("failed to dispatch workflow: %v", err)
		_ = s.store.AppendLog(ctx, job.ID, jobs.LogError, msg)
		_, _ = s.store.Update(ctx, job.ID, jobstore.Fields{
			Status: jobstore.StatusOf(jobs.StatusFailed),
			Error:  jobstore.ErrorOf(msg),
		})
		return nil, fmt.Errorf("dispatch %s: %w", workflowName, err)
	}

	s.log.Info("dispatched research workflow", "job_id", job.ID, "workflow", workflowName)
	return queued, nil
}

func (s *researchService) SubmitSelection(ctx context.Context, jobID string, selectedLinks []string) error {
	jobID = strings.TrimSpace(jobID)
	if jobID == "" {
		return fmt.Errorf("jobId is required")
	}
	if len(selectedLinks) == 0 {
		return fmt.Errorf("selectedLinks are required")
	}

	err := s.temporal.SignalWorkflow(ctx, jobID, "", research.SignalSelection, research.SelectionSignal{
		SelectedLinks: selectedLinks,
	})
	if err != nil {
		return fmt.Errorf("deliver selection for job %s: %w", jobID, err)
	}
	s.log.Info("delivered selection signal", "job_id", jobID, "links", len(selectedLinks))
	return nil
}

// Cancel requests workflow cancellation; the workflow's terminal write
// marks the record cancelled. When the workflow is already gone the
// record is settled directly so no job is left non-terminal.
func (s *researchService) Cancel(ctx context.Context, jobID string) error {
	jobID = strings.TrimSpace(jobID)
	if jobID == "" {
		return fmt.Errorf("jobId is required")
	}

	err := s.temporal.CancelWorkflow(ctx, jobID, "")
	if err != nil {
		var notFound *serviceerror.NotFound
		if !errors.As(err, &notFound) {
			return fmt.Errorf("cancel job %s: %w", jobID, err)
		}
		_ = s.store.AppendLog(ctx, jobID, jobs.LogInfo, "Job cancelled by user")
		_, uerr := s.store.Update(ctx, jobID, jobstore.Fields{
			Status: jobstore.StatusOf(jobs.StatusCancelled),
			Error:  jobstore.ErrorOf("cancelled by user"),
		})
		if uerr != nil && !errors.Is(uerr, jobstore.ErrNotFound) {
			return uerr
		}
		return nil
	}

	s.log.Info("requested job cancellation", "job_id", jobID)
	return nil
}

func (s *researchService) ExecutePlan(ctx context.Context, req ExecutePlanRequest) (*jobs.ResearchJob, error) {
	if len(req.Steps) == 0 {
		return nil, fmt.Errorf("planSteps are required")
	}
	for i, step := range req.Steps {
		if step.Type != jobs.StepResearch && step.Type != jobs.StepVectorEmbed {
			return nil, fmt.Errorf("plan step %d has unknown type %q", i, step.Type)
		}
	}

	parentID := strings.TrimSpace(req.ParentJobID)
	if parentID == "" {
		parentID = uuid.NewString()
	}

	job, err := s.store.Create(ctx, parentID, req.OwnerRef, req.Steps)
	if err != nil {
		return nil, err
	}

	input := research.PlanInput{
		ParentJobID:   parentID,
		Steps:         req.Steps,
		PrimaryModel:  req.Model,
		FallbackModel: req.FallbackModel,
		Keys:          req.Keys,
	}
	return s.dispatch(ctx, job, research.WorkflowAgentPlan, input)
}

func (s *researchService) GeneratePlan(ctx context.Context, req GeneratePlanRequest) ([]jobs.PlanStep, error) {
	llm, err := groq.New(s.log, groq.Config{APIKey: req.LLMKey, Model: req.Model})
	if err != nil {
		return nil, err
	}
	return agents.NewPlanner(s.log, llm).Run(ctx, req.Objective)
}

func (s *researchService) JobStatus(ctx context.Context, jobID string) (*jobs.ResearchJob, error) {
	jobID = strings.TrimSpace(jobID)
	if jobID == "" {
		return nil, fmt.Errorf("jobId is required")
	}
	return s.store.Get(ctx, jobID)
}

func (s *researchService) Templates() ([]templates.Template, error) {
	return templates.All()
}
