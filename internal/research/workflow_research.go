package research

import (
	"fmt"
	"strings"
	"time"

	"go.temporal.io/sdk/workflow"

	"github.com/researchpilot/researchpilot-backend/internal/domain/jobs"
)

// ResearchWorkflow is the standard research flow: for each criterion,
// enhance a bounded search query, search, and extract a structured
// fragment, merging fragments last-write-wins into the final result.
// Completed activity results live in the workflow history, so a worker
// restart replays finished steps instead of re-executing them.
func ResearchWorkflow(ctx workflow.Context, in ResearchInput) (map[string]any, error) {
	if strings.TrimSpace(in.JobID) == "" {
		in.JobID = workflow.GetInfo(ctx).WorkflowExecution.ID
	}
	if len(in.Criteria) == 0 {
		return nil, finish(ctx, in.JobID, fmt.Errorf("research: no criteria supplied"))
	}

	ctx = defaultActivityContext(ctx)
	var a *Activities

	if err := workflow.ExecuteActivity(ctx, a.InitJob, in.JobID).Get(ctx, nil); err != nil {
		return nil, finish(ctx, in.JobID, err)
	}

	merged := map[string]any{}
	n := len(in.Criteria)

	for i, criterion := range in.Criteria {
		// pace sequential provider calls at ~1 req/s
		if i > 0 {
			if err := workflow.Sleep(ctx, time.Second); err != nil {
				return nil, finish(ctx, in.JobID, err)
			}
		}

		_ = workflow.ExecuteActivity(ctx, a.AppendJobLog, AppendLogInput{
			JobID:   in.JobID,
			Type:    jobs.LogStep,
			Message: "Analyzing: " + criterionName(criterion),
		}).Get(ctx, nil)
		_ = workflow.ExecuteActivity(ctx, a.SetProgress, ProgressInput{
			JobID:    in.JobID,
			Progress: progressFor(i, n),
		}).Get(ctx, nil)

		var query string
		if err := workflow.ExecuteActivity(ctx, a.EnhanceQuery, EnhanceActivityInput{
			JobID:         in.JobID,
			Keywords:      in.Keywords,
			Criterion:     criterion,
			PrimaryModel:  in.PrimaryModel,
			FallbackModel: in.FallbackModel,
			Keys:          in.Keys,
		}).Get(ctx, &query); err != nil {
			return nil, finish(ctx, in.JobID, err)
		}

		var results []SearchResult
		if err := workflow.ExecuteActivity(ctx, a.Search, SearchActivityInput{
			JobID: in.JobID,
			Query: query,
			Keys:  in.Keys,
		}).Get(ctx, &results); err != nil {
			return nil, finish(ctx, in.JobID, err)
		}

		var fragment map[string]any
		if err := workflow.ExecuteActivity(ctx, a.Review, ReviewActivityInput{
			JobID:         in.JobID,
			Criterion:     criterion,
			Serialized:    serializeResults(results),
			PrimaryModel:  in.PrimaryModel,
			FallbackModel: in.FallbackModel,
			Keys:          in.Keys,
		}).Get(ctx, &fragment); err != nil {
			return nil, finish(ctx, in.JobID, err)
		}

		for k, v := range fragment {
			merged[k] = v
		}
	}

	if err := workflow.ExecuteActivity(ctx, a.CompleteJob, CompleteJobInput{
		JobID:  in.JobID,
		Result: merged,
	}).Get(ctx, nil); err != nil {
		return nil, finish(ctx, in.JobID, err)
	}
	return merged, nil
}
