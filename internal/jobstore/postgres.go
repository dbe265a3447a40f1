package jobstore

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/researchpilot/researchpilot-backend/internal/domain/jobs"
	"github.com/researchpilot/researchpilot-backend/internal/platform/logger"
)

// PostgresStore is the durable secondary job layer. Mutations lock the
// row (SELECT ... FOR UPDATE) so the read-modify-write of the jsonb
// columns stays per-key atomic.
type PostgresStore struct {
	log *logger.Logger
	db  *gorm.DB
}

func NewPostgresStore(db *gorm.DB, baseLog *logger.Logger) *PostgresStore {
	return &PostgresStore{
		log: baseLog.With("service", "PostgresJobStore"),
		db:  db,
	}
}

func (s *PostgresStore) Create(ctx context.Context, id string, ownerRef string, plan []jobs.PlanStep) (*jobs.ResearchJob, error) {
	job := newJob(id, ownerRef, plan, time.Now().UTC())
	err := s.db.WithContext(ctx).Create(job).Error
	if err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return nil, ErrAlreadyExists
		}
		return nil, err
	}
	return cloneJob(job), nil
}

func (s *PostgresStore) Update(ctx context.Context, id string, f Fields) (*jobs.ResearchJob, error) {
	var out *jobs.ResearchJob
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var job jobs.ResearchJob
		err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("id = ?", id).
			First(&job).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrNotFound
		}
		if err != nil {
			return err
		}
		applied, err := apply(&job, f, time.Now().UTC())
		if err != nil {
			return err
		}
		if !applied {
			if s.log != nil {
				s.log.Warn("Ignoring update to terminal job", "job_id", id, "status", job.Status)
			}
			out = cloneJob(&job)
			return nil
		}
		if err := tx.Save(&job).Error; err != nil {
			return err
		}
		out = cloneJob(&job)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (s *PostgresStore) AppendLog(ctx context.Context, id string, typ jobs.LogType, message string) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var job jobs.ResearchJob
		err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("id = ?", id).
			First(&job).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		appendEntry(&job, typ, message, time.Now().UTC())
		return tx.Save(&job).Error
	})
}

func (s *PostgresStore) Get(ctx context.Context, id string) (*jobs.ResearchJob, error) {
	var job jobs.ResearchJob
	err := s.db.WithContext(ctx).Where("id = ?", id).First(&job).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &job, nil
}
