package jobstore

import (
	"context"
	"errors"

	"github.com/researchpilot/researchpilot-backend/internal/domain/jobs"
	"github.com/researchpilot/researchpilot-backend/internal/platform/logger"
)

// DualStore fronts a fast primary layer with a durable secondary one.
// The primary write is authoritative and must succeed before the call
// returns; the secondary write is best-effort — a failure is logged and
// swallowed, never surfaced to the workflow. Not a two-phase commit.
type DualStore struct {
	log       *logger.Logger
	primary   Store
	secondary Store
}

func NewDualStore(log *logger.Logger, primary, secondary Store) *DualStore {
	return &DualStore{
		log:       log.With("service", "DualJobStore"),
		primary:   primary,
		secondary: secondary,
	}
}

func (s *DualStore) Create(ctx context.Context, id string, ownerRef string, plan []jobs.PlanStep) (*jobs.ResearchJob, error) {
	job, err := s.primary.Create(ctx, id, ownerRef, plan)
	if err != nil {
		return nil, err
	}
	if s.secondary != nil {
		if _, serr := s.secondary.Create(ctx, id, ownerRef, plan); serr != nil && !errors.Is(serr, ErrAlreadyExists) {
			s.log.Warn("Secondary job store create failed", "job_id", id, "error", serr)
		}
	}
	return job, nil
}

func (s *DualStore) Update(ctx context.Context, id string, f Fields) (*jobs.ResearchJob, error) {
	job, err := s.primary.Update(ctx, id, f)
	if err != nil {
		return nil, err
	}
	if s.secondary != nil {
		if _, serr := s.secondary.Update(ctx, id, f); serr != nil {
			s.log.Warn("Secondary job store update failed", "job_id", id, "error", serr)
		}
	}
	return job, nil
}

func (s *DualStore) AppendLog(ctx context.Context, id string, typ jobs.LogType, message string) error {
	if err := s.primary.AppendLog(ctx, id, typ, message); err != nil {
		return err
	}
	if s.secondary != nil {
		if serr := s.secondary.AppendLog(ctx, id, typ, message); serr != nil {
			s.log.Warn("Secondary job store append failed", "job_id", id, "error", serr)
		}
	}
	return nil
}

// Get reads from the primary; on a miss it falls back to the secondary
// (e.g. redis flushed across a restart) without backfilling.
func (s *DualStore) Get(ctx context.Context, id string) (*jobs.ResearchJob, error) {
	job, err := s.primary.Get(ctx, id)
	if err == nil && job != nil {
		return job, nil
	}
	if err != nil {
		s.log.Warn("Primary job store read failed; trying secondary", "job_id", id, "error", err)
	}
	if s.secondary == nil {
		return job, err
	}
	return s.secondary.Get(ctx, id)
}
