package research

import (
	"encoding/json"
	"errors"
	"time"
	"unicode/utf8"

	"go.temporal.io/sdk/temporal"
	"go.temporal.io/sdk/workflow"
)

// defaultActivityContext applies the options every pipeline step runs
// under. MaximumAttempts is pinned to 1: transient provider errors are
// deliberately not auto-retried; rate limits get exactly one fallback
// attempt inside the invoker instead.
func defaultActivityContext(ctx workflow.Context) workflow.Context {
	return workflow.WithActivityOptions(ctx, workflow.ActivityOptions{
		StartToCloseTimeout: 5 * time.Minute,
		RetryPolicy:         &temporal.RetryPolicy{MaximumAttempts: 1},
	})
}

// finish is the single exit ramp of every pipeline. It writes the
// terminal job state on a disconnected context so the write still goes
// through when the workflow itself was cancelled, distinguishing
// cancellation from genuine failure.
func finish(ctx workflow.Context, jobID string, cause error) error {
	var a *Activities

	dctx, cancel := workflow.NewDisconnectedContext(ctx)
	defer cancel()
	dctx = workflow.WithActivityOptions(dctx, workflow.ActivityOptions{
		StartToCloseTimeout: time.Minute,
		RetryPolicy:         &temporal.RetryPolicy{MaximumAttempts: 3},
	})

	if temporal.IsCanceledError(cause) || errors.Is(ctx.Err(), workflow.ErrCanceled) {
		_ = workflow.ExecuteActivity(dctx, a.CancelJob, jobID).Get(dctx, nil)
		return cause
	}

	_ = workflow.ExecuteActivity(dctx, a.FailJob, FailJobInput{
		JobID:   jobID,
		Message: cause.Error(),
	}).Get(dctx, nil)
	return cause
}

// serializeResults renders search hits for the LLM, capped at
// resultCharCap characters. Deterministic (json.Marshal orders map
// keys, and this input is a slice), so it is safe inside workflows.
func serializeResults(results []SearchResult) string {
	raw, err := json.Marshal(results)
	if err != nil {
		return ""
	}
	s := string(raw)
	if len(s) > resultCharCap {
		cut := resultCharCap
		// back off to a rune boundary so the LLM never sees a split rune
		for cut > 0 && !utf8.RuneStart(s[cut]) {
			cut--
		}
		s = s[:cut]
	}
	return s
}

// progressFor spreads criterion progress over the 5..95 band.
func progressFor(i, n int) int {
	if n <= 0 {
		return 5
	}
	return 5 + (i*90)/n
}
