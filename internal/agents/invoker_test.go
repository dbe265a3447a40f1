package agents

import (
	"context"
	"errors"
	"testing"

	"github.com/researchpilot/researchpilot-backend/internal/clients/groq"
	"github.com/researchpilot/researchpilot-backend/internal/domain/jobs"
	"github.com/researchpilot/researchpilot-backend/internal/platform/logger"
)

type scriptedAgent struct {
	model string
	calls *int
	fail  map[string]error // model -> error to return
}

func (a scriptedAgent) Run(ctx context.Context, input string) (string, error) {
	*a.calls++
	if err, ok := a.fail[a.model]; ok && err != nil {
		return "", err
	}
	return "out-" + a.model, nil
}

func testLog(t *testing.T) *logger.Logger {
	t.Helper()
	log, err := logger.New("development")
	if err != nil {
		t.Fatalf("init logger: %v", err)
	}
	return log
}

func newHarness(fail map[string]error) (Factory[string, string], *int, *[]string) {
	calls := 0
	models := []string{}
	factory := func(model string) (Agent[string, string], error) {
		models = append(models, model)
		return scriptedAgent{model: model, calls: &calls, fail: fail}, nil
	}
	return factory, &calls, &models
}

func collectLogs() (JobLog, *[]jobs.LogEntry) {
	entries := []jobs.LogEntry{}
	fn := func(ctx context.Context, typ jobs.LogType, message string) {
		entries = append(entries, jobs.LogEntry{Type: typ, Message: message})
	}
	return fn, &entries
}

func rateLimitErr() error {
	return &groq.APIError{StatusCode: 429, Code: "rate_limit_exceeded", Message: "slow down"}
}

func TestInvokePrimarySucceeds(t *testing.T) {
	t.Parallel()
	factory, calls, _ := newHarness(nil)
	joblog, entries := collectLogs()

	out, err := Invoke(context.Background(), testLog(t), factory, "in", "primary", "fallback", joblog)
	if err != nil {
		t.Fatalf("invoke: %v", err)
	}
	if out != "out-primary" || *calls != 1 {
		t.Fatalf("unexpected result: out=%q calls=%d", out, *calls)
	}
	if len(*entries) != 0 {
		t.Fatalf("no job logs expected on success, got=%+v", *entries)
	}
}

func TestInvokeFallsBackOnRateLimit(t *testing.T) {
	t.Parallel()
	factory, calls, models := newHarness(map[string]error{"primary": rateLimitErr()})
	joblog, entries := collectLogs()

	out, err := Invoke(context.Background(), testLog(t), factory, "in", "primary", "fallback", joblog)
	if err != nil {
		t.Fatalf("invoke: %v", err)
	}
	if out != "out-fallback" {
		t.Fatalf("fallback result: got=%q want=%q", out, "out-fallback")
	}
	if *calls != 2 {
		t.Fatalf("call count: got=%d want=2", *calls)
	}
	if len(*models) != 2 || (*models)[0] != "primary" || (*models)[1] != "fallback" {
		t.Fatalf("model order: got=%v", *models)
	}
	if len(*entries) != 1 || (*entries)[0].Type != jobs.LogError {
		t.Fatalf("expected exactly one ERROR switch log, got=%+v", *entries)
	}
}

func TestInvokeNonRateLimitErrorIsImmediate(t *testing.T) {
	t.Parallel()
	boom := errors.New("provider exploded")
	factory, calls, _ := newHarness(map[string]error{"primary": boom})
	joblog, entries := collectLogs()

	_, err := Invoke(context.Background(), testLog(t), factory, "in", "primary", "fallback", joblog)
	if !errors.Is(err, boom) {
		t.Fatalf("error: got=%v want=%v", err, boom)
	}
	if *calls != 1 {
		t.Fatalf("no fallback attempt expected, calls=%d", *calls)
	}
	if len(*entries) != 0 {
		t.Fatalf("no job logs expected, got=%+v", *entries)
	}
}

func TestInvokeRateLimitWithoutFallback(t *testing.T) {
	t.Parallel()
	factory, calls, _ := newHarness(map[string]error{"primary": rateLimitErr()})
	joblog, entries := collectLogs()

	_, err := Invoke(context.Background(), testLog(t), factory, "in", "primary", "", joblog)
	if !groq.IsRateLimit(err) {
		t.Fatalf("expected the rate-limit error back, got=%v", err)
	}
	if *calls != 1 || len(*entries) != 0 {
		t.Fatalf("no retry without a fallback model: calls=%d logs=%+v", *calls, *entries)
	}
}

func TestInvokeFallbackAlsoFails(t *testing.T) {
	t.Parallel()
	fallbackErr := errors.New("fallback exploded")
	factory, calls, _ := newHarness(map[string]error{
		"primary":  rateLimitErr(),
		"fallback": fallbackErr,
	})
	joblog, entries := collectLogs()

	_, err := Invoke(context.Background(), testLog(t), factory, "in", "primary", "fallback", joblog)
	if !errors.Is(err, fallbackErr) {
		t.Fatalf("error: got=%v want fallback's error %v", err, fallbackErr)
	}
	if *calls != 2 {
		t.Fatalf("exactly one fallback attempt expected, calls=%d", *calls)
	}
	if len(*entries) != 2 {
		t.Fatalf("expected switch + failure ERROR logs, got=%+v", *entries)
	}
	for _, e := range *entries {
		if e.Type != jobs.LogError {
			t.Fatalf("expected ERROR entries, got=%+v", *entries)
		}
	}
}
