package research

import (
	"fmt"
	"strings"
	"time"

	"go.temporal.io/sdk/workflow"

	"github.com/researchpilot/researchpilot-backend/internal/domain/jobs"
)

// ExtendedResearchWorkflow adds a human-in-the-loop pause per
// criterion: candidate links are persisted on the job and the workflow
// waits (durably, up to an hour) for a selection signal before
// extracting only from the chosen subset. A supplied source URL skips
// the pause entirely. The selection timer is part of the workflow
// history, so a worker restart mid-wait resumes the wait rather than
// losing it.
func ExtendedResearchWorkflow(ctx workflow.Context, in ExtendedResearchInput) (map[string]any, error) {
	if strings.TrimSpace(in.JobID) == "" {
		in.JobID = workflow.GetInfo(ctx).WorkflowExecution.ID
	}
	if len(in.Criteria) == 0 {
		return nil, finish(ctx, in.JobID, fmt.Errorf("research: no criteria supplied"))
	}

	ctx = defaultActivityContext(ctx)
	var a *Activities
	selectionCh := workflow.GetSignalChannel(ctx, SignalSelection)

	if err := workflow.ExecuteActivity(ctx, a.InitJob, in.JobID).Get(ctx, nil); err != nil {
		return nil, finish(ctx, in.JobID, err)
	}

	merged := map[string]any{}
	n := len(in.Criteria)

	for i, criterion := range in.Criteria {
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

		var subset []SearchResult

		if strings.TrimSpace(in.SourceURL) != "" {
			// caller pinned the source; no selection round-trip
			subset = []SearchResult{{URL: in.SourceURL, Title: "Provided source"}}
		} else {
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

			var candidates []SearchResult
			if err := workflow.ExecuteActivity(ctx, a.Search, SearchActivityInput{
				JobID: in.JobID,
				Query: query,
				Keys:  in.Keys,
			}).Get(ctx, &candidates); err != nil {
				return nil, finish(ctx, in.JobID, err)
			}
			if len(candidates) == 0 {
				return nil, finish(ctx, in.JobID, fmt.Errorf("research: no candidate links for %q", criterionName(criterion)))
			}

			if err := workflow.ExecuteActivity(ctx, a.SetCandidates, CandidatesInput{
				JobID: in.JobID,
				Links: toCandidateLinks(candidates),
			}).Get(ctx, nil); err != nil {
				return nil, finish(ctx, in.JobID, err)
			}

			sig, ok, err := awaitSelection(ctx, selectionCh)
			if err != nil {
				return nil, finish(ctx, in.JobID, err)
			}
			if !ok {
				return nil, finish(ctx, in.JobID, fmt.Errorf("research: link selection timed out after %s", selectionTimeout))
			}

			subset = filterByURL(candidates, sig.SelectedLinks)
			if len(subset) == 0 {
				return nil, finish(ctx, in.JobID, fmt.Errorf("research: selection matched none of the candidate links"))
			}

			if err := workflow.ExecuteActivity(ctx, a.ResumeProcessing, in.JobID).Get(ctx, nil); err != nil {
				return nil, finish(ctx, in.JobID, err)
			}
		}

		var fragment map[string]any
		if err := workflow.ExecuteActivity(ctx, a.Review, ReviewActivityInput{
			JobID:         in.JobID,
			Criterion:     criterion,
			Serialized:    serializeResults(subset),
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

// awaitSelection blocks on the selection signal or the timeout,
// whichever fires first. ok is false on timeout. Correlation with the
// right job is structural: signals address this workflow's ID, which is
// the job id.
func awaitSelection(ctx workflow.Context, ch workflow.ReceiveChannel) (SelectionSignal, bool, error) {
	var sig SelectionSignal
	received := false

	timerCtx, cancelTimer := workflow.WithCancel(ctx)
	timer := workflow.NewTimer(timerCtx, selectionTimeout)

	sel := workflow.NewSelector(ctx)
	sel.AddReceive(ch, func(c workflow.ReceiveChannel, more bool) {
		c.Receive(ctx, &sig)
		received = true
	})
	sel.AddFuture(timer, func(f workflow.Future) {})
	sel.Select(ctx)

	cancelTimer()
	if err := ctx.Err(); err != nil {
		return sig, false, err
	}
	return sig, received, nil
}

func toCandidateLinks(results []SearchResult) []jobs.CandidateLink {
	links := make([]jobs.CandidateLink, 0, len(results))
	for _, r := range results {
		snippet := r.Content
		if len(snippet) > 300 {
			snippet = snippet[:300]
		}
		links = append(links, jobs.CandidateLink{URL: r.URL, Title: r.Title, Snippet: snippet})
	}
	return links
}

func filterByURL(candidates []SearchResult, selected []string) []SearchResult {
	keep := make(map[string]struct{}, len(selected))
	for _, u := range selected {
		keep[strings.TrimSpace(u)] = struct{}{}
	}
	out := make([]SearchResult, 0, len(selected))
	for _, c := range candidates {
		if _, ok := keep[c.URL]; ok {
			out = append(out, c)
		}
	}
	return out
}
