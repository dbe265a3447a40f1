package jobstore

import (
	"context"
	"sync"
	"time"

	"github.com/researchpilot/researchpilot-backend/internal/domain/jobs"
	"github.com/researchpilot/researchpilot-backend/internal/platform/logger"
)

// MemoryStore is a process-local Store used in tests and single-node
// development. Per-key atomicity comes from one mutex; the dataset is
// small (active jobs only) so a single lock is fine.
type MemoryStore struct {
	log *logger.Logger

	mu   sync.Mutex
	byID map[string]*jobs.ResearchJob
}

func NewMemoryStore(log *logger.Logger) *MemoryStore {
	return &MemoryStore{
		log:  log,
		byID: make(map[string]*jobs.ResearchJob),
	}
}

func (s *MemoryStore) Create(ctx context.Context, id string, ownerRef string, plan []jobs.PlanStep) (*jobs.ResearchJob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.byID[id]; ok {
		return nil, ErrAlreadyExists
	}
	job := newJob(id, ownerRef, plan, time.Now().UTC())
	s.byID[id] = job
	return cloneJob(job), nil
}

func (s *MemoryStore) Update(ctx context.Context, id string, f Fields) (*jobs.ResearchJob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.byID[id]
	if !ok {
		return nil, ErrNotFound
	}
	applied, err := apply(job, f, time.Now().UTC())
	if err != nil {
		return nil, err
	}
	if !applied && s.log != nil {
		s.log.Warn("Ignoring update to terminal job", "job_id", id, "status", job.Status)
	}
	return cloneJob(job), nil
}

func (s *MemoryStore) AppendLog(ctx context.Context, id string, typ jobs.LogType, message string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.byID[id]
	if !ok {
		return nil
	}
	appendEntry(job, typ, message, time.Now().UTC())
	return nil
}

func (s *MemoryStore) Get(ctx context.Context, id string) (*jobs.ResearchJob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.byID[id]
	if !ok {
		return nil, nil
	}
	return cloneJob(job), nil
}
