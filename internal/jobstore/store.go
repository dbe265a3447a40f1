package jobstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"gorm.io/datatypes"

	"github.com/researchpilot/researchpilot-backend/internal/domain/jobs"
)

var (
	ErrAlreadyExists = errors.New("jobstore: job already exists")
	ErrNotFound      = errors.New("jobstore: job not found")
)

/*
Store is the single shared-state surface of the orchestration engine.
Every workflow mutation of job state goes through one Store call, and
each call is one atomic unit: callers never see a log append without
the status update requested alongside it, or vice versa.

Lifecycle invariants are enforced here, not in callers:
  - completed/failed/cancelled are terminal; an Update against a
    terminal job is ignored (and logged by the implementation)
  - status never moves backward; the one legal backward edge is
    waiting_for_selection -> processing (selection resume)
  - progress never decreases
  - result is persisted only together with the completed status
  - candidateLinks survive only while status is waiting_for_selection
*/
type Store interface {
	// Create fails with ErrAlreadyExists when id is present; otherwise
	// returns a fresh record with status=pending, progress=0, no logs.
	Create(ctx context.Context, id string, ownerRef string, plan []jobs.PlanStep) (*jobs.ResearchJob, error)

	// Update merges the provided fields; unspecified fields are left
	// unchanged. Logs, when provided, are replaced wholesale (the
	// finalize-reset call shape); appending goes through AppendLog.
	Update(ctx context.Context, id string, f Fields) (*jobs.ResearchJob, error)

	// AppendLog appends one entry with a store-assigned timestamp. It is
	// a no-op when the job is absent.
	AppendLog(ctx context.Context, id string, typ jobs.LogType, message string) error

	// Get returns (nil, nil) when the job is absent.
	Get(ctx context.Context, id string) (*jobs.ResearchJob, error)
}

// Fields is a partial update. Nil members are left untouched. Logs is a
// pointer so an empty, non-nil slice means "reset the log history".
type Fields struct {
	Status         *jobs.Status
	Progress       *int
	Result         any
	CandidateLinks *[]jobs.CandidateLink
	Error          *string
	Logs           *[]jobs.LogEntry
}

func StatusOf(s jobs.Status) *jobs.Status { return &s }
func ProgressOf(p int) *int               { return &p }
func ErrorOf(msg string) *string          { return &msg }
func LogsOf(l []jobs.LogEntry) *[]jobs.LogEntry {
	return &l
}
func LinksOf(l []jobs.CandidateLink) *[]jobs.CandidateLink { return &l }

// apply merges f into job in place. It returns false when the whole
// update must be discarded (terminal job). Implementations call this
// under their own per-key atomicity (mutex, redis WATCH, row lock).
func apply(job *jobs.ResearchJob, f Fields, now time.Time) (bool, error) {
	if job.Status.Terminal() {
		return false, nil
	}

	if f.Status != nil {
		if !f.Status.Valid() {
			return false, fmt.Errorf("jobstore: invalid status %q", *f.Status)
		}
		// a backward status write is ignored like a backward progress write
		if statusAdvances(job.Status, *f.Status) {
			job.Status = *f.Status
		}
	}

	if f.Progress != nil && *f.Progress > job.Progress {
		if *f.Progress > 100 {
			job.Progress = 100
		} else {
			job.Progress = *f.Progress
		}
	}

	if f.Logs != nil {
		job.Logs = append([]jobs.LogEntry(nil), (*f.Logs)...)
	}

	if f.Error != nil {
		job.Error = *f.Error
	}

	if f.CandidateLinks != nil {
		job.CandidateLinks = append([]jobs.CandidateLink(nil), (*f.CandidateLinks)...)
	}

	if f.Result != nil {
		if job.Status == jobs.StatusCompleted {
			raw, err := json.Marshal(f.Result)
			if err != nil {
				return false, fmt.Errorf("jobstore: marshal result: %w", err)
			}
			job.Result = datatypes.JSON(raw)
		}
		// A result supplied outside the completed transition is dropped;
		// result != nil iff status == completed.
	}

	if job.Status != jobs.StatusWaitingForSelection {
		job.CandidateLinks = nil
	}

	job.UpdatedAt = now
	return true, nil
}

// statusRank orders the lifecycle for the forward-only status guard.
func statusRank(s jobs.Status) int {
	switch s {
	case jobs.StatusPending:
		return 0
	case jobs.StatusQueued:
		return 1
	case jobs.StatusProcessing:
		return 2
	case jobs.StatusWaitingForSelection:
		return 3
	default:
		return 4
	}
}

// statusAdvances reports whether next is a legal move from cur. The one
// backward edge is the selection resume.
func statusAdvances(cur, next jobs.Status) bool {
	if cur == jobs.StatusWaitingForSelection && next == jobs.StatusProcessing {
		return true
	}
	return statusRank(next) >= statusRank(cur)
}

func newJob(id, ownerRef string, plan []jobs.PlanStep, now time.Time) *jobs.ResearchJob {
	return &jobs.ResearchJob{
		ID:        id,
		OwnerRef:  ownerRef,
		Plan:      append([]jobs.PlanStep(nil), plan...),
		Status:    jobs.StatusPending,
		Progress:  0,
		Logs:      []jobs.LogEntry{},
		CreatedAt: now,
		UpdatedAt: now,
	}
}

func appendEntry(job *jobs.ResearchJob, typ jobs.LogType, message string, now time.Time) {
	ts := now.UnixMilli()
	if n := len(job.Logs); n > 0 && job.Logs[n-1].Timestamp > ts {
		ts = job.Logs[n-1].Timestamp
	}
	job.Logs = append(job.Logs, jobs.LogEntry{Type: typ, Message: message, Timestamp: ts})
	job.UpdatedAt = now
}

func cloneJob(job *jobs.ResearchJob) *jobs.ResearchJob {
	if job == nil {
		return nil
	}
	out := *job
	out.Plan = append([]jobs.PlanStep(nil), job.Plan...)
	out.Logs = append([]jobs.LogEntry(nil), job.Logs...)
	out.CandidateLinks = append([]jobs.CandidateLink(nil), job.CandidateLinks...)
	out.Result = append(datatypes.JSON(nil), job.Result...)
	return &out
}
