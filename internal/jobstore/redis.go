package jobstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/researchpilot/researchpilot-backend/internal/domain/jobs"
	"github.com/researchpilot/researchpilot-backend/internal/platform/envutil"
	"github.com/researchpilot/researchpilot-backend/internal/platform/logger"
)

const redisTxRetries = 8

// RedisStore is the fast primary job layer. Each job is one JSON value;
// read-modify-write mutations run under WATCH so concurrent writers to
// the same key retry instead of clobbering each other (per-key
// atomicity, nothing cross-job).
type RedisStore struct {
	log       *logger.Logger
	rdb       *goredis.Client
	keyPrefix string
}

func NewRedisStore(log *logger.Logger) (*RedisStore, error) {
	if log == nil {
		return nil, fmt.Errorf("logger required")
	}

	addr := strings.TrimSpace(envutil.GetEnv("REDIS_ADDR", "", log))
	if addr == "" {
		return nil, fmt.Errorf("missing REDIS_ADDR")
	}

	rdb := goredis.NewClient(&goredis.Options{
		Addr:        addr,
		Password:    envutil.GetEnv("REDIS_PASSWORD", "", nil),
		DialTimeout: 5 * time.Second,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}

	return &RedisStore{
		log:       log.With("service", "RedisJobStore"),
		rdb:       rdb,
		keyPrefix: envutil.GetEnv("REDIS_JOB_KEY_PREFIX", "research:job:", nil),
	}, nil
}

// NewRedisStoreWithClient wires an existing client; used by tests.
func NewRedisStoreWithClient(log *logger.Logger, rdb *goredis.Client, keyPrefix string) *RedisStore {
	if keyPrefix == "" {
		keyPrefix = "research:job:"
	}
	return &RedisStore{log: log, rdb: rdb, keyPrefix: keyPrefix}
}

func (s *RedisStore) Close() error { return s.rdb.Close() }

func (s *RedisStore) key(id string) string { return s.keyPrefix + id }

func (s *RedisStore) Create(ctx context.Context, id string, ownerRef string, plan []jobs.PlanStep) (*jobs.ResearchJob, error) {
	job := newJob(id, ownerRef, plan, time.Now().UTC())
	raw, err := json.Marshal(job)
	if err != nil {
		return nil, err
	}
	ok, err := s.rdb.SetNX(ctx, s.key(id), raw, 0).Result()
	if err != nil {
		return nil, fmt.Errorf("redis setnx: %w", err)
	}
	if !ok {
		return nil, ErrAlreadyExists
	}
	return job, nil
}

func (s *RedisStore) Update(ctx context.Context, id string, f Fields) (*jobs.ResearchJob, error) {
	var out *jobs.ResearchJob
	err := s.mutate(ctx, id, func(job *jobs.ResearchJob) (bool, error) {
		applied, err := apply(job, f, time.Now().UTC())
		if err != nil {
			return false, err
		}
		if !applied && s.log != nil {
			s.log.Warn("Ignoring update to terminal job", "job_id", id, "status", job.Status)
		}
		out = cloneJob(job)
		return applied, nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (s *RedisStore) AppendLog(ctx context.Context, id string, typ jobs.LogType, message string) error {
	err := s.mutate(ctx, id, func(job *jobs.ResearchJob) (bool, error) {
		appendEntry(job, typ, message, time.Now().UTC())
		return true, nil
	})
	if errors.Is(err, ErrNotFound) {
		return nil
	}
	return err
}

func (s *RedisStore) Get(ctx context.Context, id string) (*jobs.ResearchJob, error) {
	raw, err := s.rdb.Get(ctx, s.key(id)).Bytes()
	if errors.Is(err, goredis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("redis get: %w", err)
	}
	var job jobs.ResearchJob
	if err := json.Unmarshal(raw, &job); err != nil {
		return nil, fmt.Errorf("redis job decode: %w", err)
	}
	return &job, nil
}

// mutate runs fn against the decoded job under WATCH and writes the
// result back, retrying on concurrent modification. fn returning false
// skips the write (terminal guard).
func (s *RedisStore) mutate(ctx context.Context, id string, fn func(job *jobs.ResearchJob) (bool, error)) error {
	key := s.key(id)
	txn := func(tx *goredis.Tx) error {
		raw, err := tx.Get(ctx, key).Bytes()
		if errors.Is(err, goredis.Nil) {
			return ErrNotFound
		}
		if err != nil {
			return err
		}
		var job jobs.ResearchJob
		if err := json.Unmarshal(raw, &job); err != nil {
			return fmt.Errorf("redis job decode: %w", err)
		}
		write, err := fn(&job)
		if err != nil {
			return err
		}
		if !write {
			return nil
		}
		next, err := json.Marshal(&job)
		if err != nil {
			return err
		}
		_, err = tx.TxPipelined(ctx, func(pipe goredis.Pipeliner) error {
			pipe.Set(ctx, key, next, 0)
			return nil
		})
		return err
	}

	for i := 0; i < redisTxRetries; i++ {
		err := s.rdb.Watch(ctx, txn, key)
		if errors.Is(err, goredis.TxFailedErr) {
			continue
		}
		return err
	}
	return fmt.Errorf("redis job update contention on %s", key)
}
