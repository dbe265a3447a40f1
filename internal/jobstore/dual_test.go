package jobstore

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/researchpilot/researchpilot-backend/internal/domain/jobs"
)

// failingStore errors on every write; Get reports a read failure too.
type failingStore struct{}

var errDown = errors.New("backend down")

func (failingStore) Create(ctx context.Context, id, ownerRef string, plan []jobs.PlanStep) (*jobs.ResearchJob, error) {
	return nil, errDown
}
func (failingStore) Update(ctx context.Context, id string, f Fields) (*jobs.ResearchJob, error) {
	return nil, errDown
}
func (failingStore) AppendLog(ctx context.Context, id string, typ jobs.LogType, message string) error {
	return errDown
}
func (failingStore) Get(ctx context.Context, id string) (*jobs.ResearchJob, error) {
	return nil, errDown
}

func TestDualStoreSwallowsSecondaryFailures(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := NewDualStore(testLogger(t), NewMemoryStore(testLogger(t)), failingStore{})

	if _, err := s.Create(ctx, "job-1", "", nil); err != nil {
		t.Fatalf("create with failing secondary: %v", err)
	}
	if _, err := s.Update(ctx, "job-1", Fields{Progress: ProgressOf(20)}); err != nil {
		t.Fatalf("update with failing secondary: %v", err)
	}
	if err := s.AppendLog(ctx, "job-1", jobs.LogInfo, "hello"); err != nil {
		t.Fatalf("append with failing secondary: %v", err)
	}

	job, err := s.Get(ctx, "job-1")
	if err != nil || job == nil || job.Progress != 20 {
		t.Fatalf("primary state after writes: job=%+v err=%v", job, err)
	}
}

// duplicateStore reports the already-exists sentinel wrapped, the way a
// driver translation layer would.
type duplicateStore struct{ failingStore }

func (duplicateStore) Create(ctx context.Context, id, ownerRef string, plan []jobs.PlanStep) (*jobs.ResearchJob, error) {
	return nil, fmt.Errorf("secondary create: %w", ErrAlreadyExists)
}

func TestDualStoreWrappedDuplicateOnSecondary(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := NewDualStore(testLogger(t), NewMemoryStore(testLogger(t)), duplicateStore{})

	job, err := s.Create(ctx, "job-1", "", nil)
	if err != nil {
		t.Fatalf("create with duplicate secondary: %v", err)
	}
	if job == nil || job.Status != jobs.StatusPending {
		t.Fatalf("primary record: %+v", job)
	}
}

func TestDualStorePrimaryFailureSurfaces(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := NewDualStore(testLogger(t), failingStore{}, NewMemoryStore(testLogger(t)))

	if _, err := s.Create(ctx, "job-1", "", nil); !errors.Is(err, errDown) {
		t.Fatalf("primary create failure: got=%v want=%v", err, errDown)
	}
}

func TestDualStoreGetFallsBackToSecondary(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	secondary := NewMemoryStore(testLogger(t))
	if _, err := secondary.Create(ctx, "job-1", "", nil); err != nil {
		t.Fatalf("seed secondary: %v", err)
	}

	// Empty primary simulates a flushed cache after a restart.
	s := NewDualStore(testLogger(t), NewMemoryStore(testLogger(t)), secondary)

	job, err := s.Get(ctx, "job-1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if job == nil || job.ID != "job-1" {
		t.Fatalf("expected fallback hit from secondary, got=%+v", job)
	}
}
