package agents

import (
	"context"
	"fmt"
	"strings"

	"github.com/researchpilot/researchpilot-backend/internal/clients/groq"
	"github.com/researchpilot/researchpilot-backend/internal/domain/jobs"
	"github.com/researchpilot/researchpilot-backend/internal/platform/logger"
)

// Agent is one model-bound unit of LLM work.
type Agent[I, O any] interface {
	Run(ctx context.Context, input I) (O, error)
}

// Factory builds an agent bound to a concrete model id. Invoke calls it
// once per attempt so the fallback attempt gets a fresh binding.
type Factory[I, O any] func(model string) (Agent[I, O], error)

// JobLog appends one entry to the owning job's log. A nil JobLog is
// allowed; the invoker then only logs to the process logger.
type JobLog func(ctx context.Context, typ jobs.LogType, message string)

// Invoke runs the agent on the primary model and, when the provider
// signals a rate limit AND a fallback model is configured, retries
// exactly once on the fallback. Non-rate-limit errors are returned
// immediately. There is no backoff and no further cascading.
func Invoke[I, O any](
	ctx context.Context,
	log *logger.Logger,
	factory Factory[I, O],
	input I,
	primaryModel string,
	fallbackModel string,
	joblog JobLog,
) (O, error) {
	var zero O

	primary, err := factory(primaryModel)
	if err != nil {
		return zero, err
	}

	out, err := primary.Run(ctx, input)
	if err == nil {
		return out, nil
	}

	fallbackModel = strings.TrimSpace(fallbackModel)
	if !groq.IsRateLimit(err) || fallbackModel == "" {
		return zero, err
	}

	log.Warn("rate limit on primary model, switching to fallback",
		"primary_model", primaryModel,
		"fallback_model", fallbackModel,
	)
	if joblog != nil {
		joblog(ctx, jobs.LogError, fmt.Sprintf("Rate limit reached on %s, retrying with fallback model %s", primaryModel, fallbackModel))
	}

	fallback, err := factory(fallbackModel)
	if err != nil {
		return zero, err
	}

	out, err = fallback.Run(ctx, input)
	if err != nil {
		if joblog != nil {
			joblog(ctx, jobs.LogError, fmt.Sprintf("Fallback model %s failed: %v", fallbackModel, err))
		}
		return zero, err
	}
	return out, nil
}
