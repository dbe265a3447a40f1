package research

import (
	"encoding/json"
	"fmt"
	"strings"

	"go.temporal.io/sdk/workflow"

	"github.com/researchpilot/researchpilot-backend/internal/domain/jobs"
)

// AgentPlanWorkflow runs a user-approved heterogeneous plan. Research
// steps execute the standard flow as a child workflow under a derived
// job id; vector_embed steps resolve their tagged text reference and
// store an embedding. Each step's serialized output threads into the
// next; cancelling the parent job cancels any in-flight child.
func AgentPlanWorkflow(ctx workflow.Context, in PlanInput) (map[string]any, error) {
	if strings.TrimSpace(in.ParentJobID) == "" {
		in.ParentJobID = workflow.GetInfo(ctx).WorkflowExecution.ID
	}
	if len(in.Steps) == 0 {
		return nil, finish(ctx, in.ParentJobID, fmt.Errorf("research: empty plan"))
	}

	ctx = defaultActivityContext(ctx)
	var a *Activities

	if err := workflow.ExecuteActivity(ctx, a.InitJob, in.ParentJobID).Get(ctx, nil); err != nil {
		return nil, finish(ctx, in.ParentJobID, err)
	}

	previousStepOutput := ""
	n := len(in.Steps)

	for i, step := range in.Steps {
		label := step.Label
		if strings.TrimSpace(label) == "" {
			label = string(step.Type)
		}

		_ = workflow.ExecuteActivity(ctx, a.AppendJobLog, AppendLogInput{
			JobID:   in.ParentJobID,
			Type:    jobs.LogStep,
			Message: fmt.Sprintf("Executing step %d/%d: %s", i+1, n, label),
		}).Get(ctx, nil)
		_ = workflow.ExecuteActivity(ctx, a.SetProgress, ProgressInput{
			JobID:    in.ParentJobID,
			Progress: progressFor(i, n),
		}).Get(ctx, nil)

		switch step.Type {
		case jobs.StepResearch:
			childID := fmt.Sprintf("%s-step-%d", in.ParentJobID, i)

			if err := workflow.ExecuteActivity(ctx, a.CreateJob, CreateJobInput{
				JobID: childID,
			}).Get(ctx, nil); err != nil {
				return nil, finish(ctx, in.ParentJobID, err)
			}

			cctx := workflow.WithChildOptions(ctx, workflow.ChildWorkflowOptions{
				WorkflowID: childID,
			})
			var childResult map[string]any
			if err := workflow.ExecuteChildWorkflow(cctx, ResearchWorkflow, ResearchInput{
				JobID:         childID,
				Keywords:      step.Params.Keywords,
				Criteria:      step.Params.Criteria,
				PrimaryModel:  in.PrimaryModel,
				FallbackModel: in.FallbackModel,
				Keys:          in.Keys,
			}).Get(ctx, &childResult); err != nil {
				return nil, finish(ctx, in.ParentJobID, err)
			}

			raw, err := json.Marshal(childResult)
			if err != nil {
				return nil, finish(ctx, in.ParentJobID, err)
			}
			previousStepOutput = string(raw)

		case jobs.StepVectorEmbed:
			if err := workflow.ExecuteActivity(ctx, a.EmbedAndStore, EmbedActivityInput{
				JobID: in.ParentJobID,
				Text:  step.Params.Text.Resolve(previousStepOutput),
				Index: step.Params.Index,
				Keys:  in.Keys,
			}).Get(ctx, nil); err != nil {
				return nil, finish(ctx, in.ParentJobID, err)
			}

		default:
			return nil, finish(ctx, in.ParentJobID, fmt.Errorf("research: unknown plan step type %q", step.Type))
		}

		_ = workflow.ExecuteActivity(ctx, a.AppendJobLog, AppendLogInput{
			JobID:   in.ParentJobID,
			Type:    jobs.LogSuccess,
			Message: fmt.Sprintf("Step %d/%d done: %s", i+1, n, label),
		}).Get(ctx, nil)
	}

	result := map[string]any{"finalOutput": previousStepOutput}
	if err := workflow.ExecuteActivity(ctx, a.CompleteJob, CompleteJobInput{
		JobID:  in.ParentJobID,
		Result: result,
	}).Get(ctx, nil); err != nil {
		return nil, finish(ctx, in.ParentJobID, err)
	}
	return result, nil
}
