package jobstore

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"github.com/researchpilot/researchpilot-backend/internal/domain/jobs"
)

// exerciseStore runs the lifecycle shared by every backing: create,
// progress, waiting pause, finalize, terminal guard.
func exerciseStore(t *testing.T, s Store, id string) {
	t.Helper()
	ctx := context.Background()

	if _, err := s.Create(ctx, id, "owner", nil); err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := s.Create(ctx, id, "owner", nil); err != ErrAlreadyExists {
		t.Fatalf("duplicate create: got=%v want=%v", err, ErrAlreadyExists)
	}

	if _, err := s.Update(ctx, id, Fields{
		Status:   StatusOf(jobs.StatusProcessing),
		Progress: ProgressOf(5),
	}); err != nil {
		t.Fatalf("start: %v", err)
	}
	if err := s.AppendLog(ctx, id, jobs.LogStep, "Analyzing: Population"); err != nil {
		t.Fatalf("append: %v", err)
	}

	if _, err := s.Update(ctx, id, Fields{
		Status:         StatusOf(jobs.StatusWaitingForSelection),
		CandidateLinks: LinksOf([]jobs.CandidateLink{{URL: "https://a.example", Title: "A"}}),
	}); err != nil {
		t.Fatalf("pause: %v", err)
	}
	job, err := s.Get(ctx, id)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if job.Status != jobs.StatusWaitingForSelection || len(job.CandidateLinks) != 1 {
		t.Fatalf("paused record: status=%s links=%d", job.Status, len(job.CandidateLinks))
	}

	if _, err := s.Update(ctx, id, Fields{
		Status:   StatusOf(jobs.StatusCompleted),
		Progress: ProgressOf(100),
		Result:   map[string]any{"population": "872000"},
		Logs:     LogsOf([]jobs.LogEntry{}),
	}); err != nil {
		t.Fatalf("finalize: %v", err)
	}
	if err := s.AppendLog(ctx, id, jobs.LogSuccess, "Research completed"); err != nil {
		t.Fatalf("final append: %v", err)
	}

	// terminal guard
	if _, err := s.Update(ctx, id, Fields{Status: StatusOf(jobs.StatusProcessing)}); err != nil {
		t.Fatalf("post-terminal update: %v", err)
	}

	job, err = s.Get(ctx, id)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if job.Status != jobs.StatusCompleted || job.Progress != 100 {
		t.Fatalf("final record: status=%s progress=%d", job.Status, job.Progress)
	}
	if len(job.Result) == 0 {
		t.Fatalf("final record missing result")
	}
	if len(job.CandidateLinks) != 0 {
		t.Fatalf("candidate links must be cleared on completion")
	}
	if len(job.Logs) != 1 || job.Logs[0].Type != jobs.LogSuccess {
		t.Fatalf("finalized logs: %+v", job.Logs)
	}
}

func TestRedisStoreIntegration(t *testing.T) {
	addr := os.Getenv("TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("set TEST_REDIS_ADDR to run redis job store integration tests")
	}

	rdb := goredis.NewClient(&goredis.Options{Addr: addr, DialTimeout: 2 * time.Second})
	t.Cleanup(func() { _ = rdb.Close() })

	ctx := context.Background()
	if err := rdb.Ping(ctx).Err(); err != nil {
		t.Fatalf("redis ping: %v", err)
	}

	prefix := fmt.Sprintf("test:job:%d:", time.Now().UnixNano())
	s := NewRedisStoreWithClient(testLogger(t), rdb, prefix)
	exerciseStore(t, s, "job-redis-1")
}

func TestPostgresStoreIntegration(t *testing.T) {
	dsn := os.Getenv("TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("set TEST_POSTGRES_DSN to run postgres job store integration tests")
	}

	gdb, err := gorm.Open(postgres.Open(dsn), &gorm.Config{TranslateError: true})
	if err != nil {
		t.Fatalf("open postgres: %v", err)
	}
	if err := gdb.AutoMigrate(&jobs.ResearchJob{}); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	id := fmt.Sprintf("job-pg-%d", time.Now().UnixNano())
	t.Cleanup(func() {
		gdb.Where("id = ?", id).Delete(&jobs.ResearchJob{})
	})

	s := NewPostgresStore(gdb, testLogger(t))
	exerciseStore(t, s, id)
}
