package research

import (
	"context"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/researchpilot/researchpilot-backend/internal/clients/mixedbread"
	"github.com/researchpilot/researchpilot-backend/internal/clients/pinecone"
	"github.com/researchpilot/researchpilot-backend/internal/domain/jobs"
	"github.com/researchpilot/researchpilot-backend/internal/jobstore"
	"github.com/researchpilot/researchpilot-backend/internal/platform/logger"
)

func TestSerializeResultsTruncatesOnRuneBoundary(t *testing.T) {
	t.Parallel()
	results := []SearchResult{{
		URL:     "https://a.example",
		Title:   "A",
		Content: strings.Repeat("ü", 20000),
	}}

	s := serializeResults(results)
	if len(s) > resultCharCap {
		t.Fatalf("serialized length: got=%d want<=%d", len(s), resultCharCap)
	}
	if !utf8.ValidString(s) {
		t.Fatalf("truncation split a rune")
	}
}

func TestEmbedAndStoreSkipsEmptyTextWithJobLog(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	log, err := logger.New("development")
	if err != nil {
		t.Fatalf("init logger: %v", err)
	}
	store := jobstore.NewMemoryStore(log)
	if _, err := store.Create(ctx, "job-1", "", nil); err != nil {
		t.Fatalf("create: %v", err)
	}

	embed := &recordingEmbed{}
	a := &Activities{
		Log:   log,
		Store: store,
		NewEmbed: func(apiKey string) (mixedbread.Client, error) {
			return embed, nil
		},
		NewVector: func(apiKey string) (pinecone.Client, error) {
			return stubVector{}, nil
		},
	}

	if err := a.EmbedAndStore(ctx, EmbedActivityInput{JobID: "job-1", Text: "   "}); err != nil {
		t.Fatalf("embed with empty text: %v", err)
	}
	if len(embed.inputs) != 0 {
		t.Fatalf("embed provider must not be called, got %d inputs", len(embed.inputs))
	}

	job, err := store.Get(ctx, "job-1")
	if err != nil || job == nil {
		t.Fatalf("get: job=%+v err=%v", job, err)
	}
	if len(job.Logs) != 1 || job.Logs[0].Type != jobs.LogInfo || !strings.Contains(job.Logs[0].Message, "skipped") {
		t.Fatalf("expected a user-visible skip entry, got=%+v", job.Logs)
	}
}
