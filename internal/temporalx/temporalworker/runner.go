package temporalworker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/researchpilot/researchpilot-backend/internal/jobstore"
	"github.com/researchpilot/researchpilot-backend/internal/platform/envutil"
	"github.com/researchpilot/researchpilot-backend/internal/platform/logger"
	"github.com/researchpilot/researchpilot-backend/internal/research"
	"github.com/researchpilot/researchpilot-backend/internal/temporalx"

	"go.temporal.io/api/serviceerror"
	temporalsdkclient "go.temporal.io/sdk/client"
	"go.temporal.io/sdk/worker"
	"go.temporal.io/sdk/workflow"
)

// Runner hosts the Temporal worker that executes the research
// pipelines. It owns nothing but registration and lifecycle; the
// activities get their dependencies through research.Activities.
type Runner struct {
	log   *logger.Logger
	tc    temporalsdkclient.Client
	store jobstore.Store
}

func NewRunner(log *logger.Logger, tc temporalsdkclient.Client, store jobstore.Store) (*Runner, error) {
	if tc == nil {
		return nil, fmt.Errorf("temporal client is not configured")
	}
	if store == nil {
		return nil, fmt.Errorf("temporal worker missing job store")
	}
	return &Runner{log: log, tc: tc, store: store}, nil
}

func (r *Runner) Start(ctx context.Context) error {
	if r == nil || r.tc == nil {
		return fmt.Errorf("temporal worker not initialized")
	}

	cfg := temporalx.LoadConfig()
	if r.log != nil {
		r.log.Info("Starting Temporal worker", "address", cfg.Address, "namespace", cfg.Namespace, "task_queue", cfg.TaskQueue)
	}

	// Local/self-hosted convenience: ensure namespace exists before polling.
	// Temporal Cloud namespaces should be pre-created and TEMPORAL_AUTO_REGISTER_NAMESPACE should be false.
	if envutil.GetEnvAsBool("TEMPORAL_AUTO_REGISTER_NAMESPACE", false) {
		baseCtx := ctx
		if baseCtx == nil {
			baseCtx = context.Background()
		}
		if err := temporalx.EnsureNamespace(baseCtx, r.tc, cfg.Namespace, r.log); err != nil && r.log != nil {
			r.log.Warn("Temporal namespace ensure failed; worker will retry on start", "namespace", cfg.Namespace, "error", err)
		}
	}

	maxWait := envutil.DurationSeconds("TEMPORAL_WORKER_START_MAX_WAIT_SECONDS", 60)
	backoff := envutil.DurationMillis("TEMPORAL_WORKER_START_BACKOFF_MS", 250)
	backoffMax := envutil.DurationMillis("TEMPORAL_WORKER_START_BACKOFF_MAX_MS", 5000)

	deadline := time.Now().Add(maxWait)

	for attempt := 1; ; attempt++ {
		if ctx != nil {
			select {
			case <-ctx.Done():
				return ctx.Err()
			default:
			}
		}

		w, err := r.newWorker()
		if err != nil {
			return err
		}
		startErr := w.Start()
		if startErr == nil {
			if ctx != nil {
				go func() {
					<-ctx.Done()
					w.Stop()
				}()
			}
			if r.log != nil {
				r.log.Info("Temporal worker started", "namespace", cfg.Namespace, "task_queue", cfg.TaskQueue, "attempts", attempt)
			}
			return nil
		}

		// Make sure worker goroutines are stopped before we retry.
		w.Stop()

		// If the namespace is missing and auto-register is enabled, try to create it then retry.
		var nfe *serviceerror.NamespaceNotFound
		if errors.As(startErr, &nfe) && envutil.GetEnvAsBool("TEMPORAL_AUTO_REGISTER_NAMESPACE", false) {
			baseCtx := ctx
			if baseCtx == nil {
				baseCtx = context.Background()
			}
			_ = temporalx.EnsureNamespace(baseCtx, r.tc, cfg.Namespace, r.log)
		}

		if maxWait <= 0 || time.Now().After(deadline) {
			// Temporal Cloud / misconfig: missing namespace will never heal without config changes.
			var nfe2 *serviceerror.NamespaceNotFound
			if errors.As(startErr, &nfe2) {
				return fmt.Errorf("temporal namespace not found (namespace=%s): %w", cfg.Namespace, startErr)
			}
			return startErr
		}

		if r.log != nil {
			r.log.Warn("Temporal worker failed to start; retrying", "namespace", cfg.Namespace, "task_queue", cfg.TaskQueue, "attempt", attempt, "error", startErr)
		}

		if sleep := clampBackoff(backoff, backoffMax, attempt); sleep > 0 {
			time.Sleep(sleep)
		}
	}
}

func (r *Runner) newWorker() (worker.Worker, error) {
	if r == nil || r.tc == nil {
		return nil, fmt.Errorf("temporal worker not initialized")
	}
	cfg := temporalx.LoadConfig()

	concurrency := envutil.GetEnvAsInt("WORKER_CONCURRENCY", 4, r.log)
	if concurrency < 1 {
		concurrency = 1
	}

	w := worker.New(r.tc, cfg.TaskQueue, worker.Options{
		// Workflow and activity concurrency are separately tunable in Temporal.
		MaxConcurrentActivityExecutionSize:     concurrency,
		MaxConcurrentWorkflowTaskExecutionSize: concurrency,
	})

	acts, err := research.NewActivities(r.log, r.store)
	if err != nil {
		return nil, err
	}

	w.RegisterWorkflowWithOptions(research.ResearchWorkflow, workflow.RegisterOptions{Name: research.WorkflowResearch})
	w.RegisterWorkflowWithOptions(research.ExtendedResearchWorkflow, workflow.RegisterOptions{Name: research.WorkflowExtendedResearch})
	w.RegisterWorkflowWithOptions(research.AgentPlanWorkflow, workflow.RegisterOptions{Name: research.WorkflowAgentPlan})
	w.RegisterActivity(acts)
	return w, nil
}

func clampBackoff(base time.Duration, max time.Duration, attempt int) time.Duration {
	if base <= 0 {
		base = 250 * time.Millisecond
	}
	sleep := base
	for i := 1; i < attempt; i++ {
		sleep *= 2
		if max > 0 && sleep >= max {
			return max
		}
	}
	if max > 0 && sleep > max {
		return max
	}
	return sleep
}
