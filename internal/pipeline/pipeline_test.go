package pipeline

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/replyradar/internal/autopilot"
	"github.com/replyradar/internal/budget"
	"github.com/replyradar/internal/classifier"
	"github.com/replyradar/internal/drafter"
	"github.com/replyradar/internal/ingest"
	"github.com/replyradar/internal/llm"
	"github.com/replyradar/internal/sources"
	"github.com/replyradar/internal/store"
	"github.com/replyradar/pkg/models"
)

type stubAdapter struct {
	platform models.Platform
	findings []models.RawFinding
	err      error
}

func (s stubAdapter) Platform() models.Platform { return s.platform }

func (s stubAdapter) Search(context.Context, []string) ([]models.RawFinding, error) {
	return s.findings, s.err
}

// scriptedLLM answers classification requests (JSON mode) with a fixed verdict and everything
// else with a fixed draft.
type scriptedLLM struct {
	mu       sync.Mutex
	verdict  string
	draft    string
	requests int
}

func (s *scriptedLLM) Complete(_ context.Context, req llm.CompletionRequest) (*llm.Completion, error) {
	s.mu.Lock()
	s.requests++
	s.mu.Unlock()
	text := s.draft
	if req.JSONMode {
		text = s.verdict
	}
	return &llm.Completion{Text: text, Model: req.Model, InputTokens: 800, OutputTokens: 60}, nil
}

type harness struct {
	store    *store.MemoryStore
	ledger   *budget.Ledger
	llm      *scriptedLLM
	pipeline *Pipeline
}

func newHarness(t *testing.T, adapters ...sources.Adapter) *harness {
	t.Helper()
	ctx := context.Background()
	s := store.NewMemoryStore()
	ledger := budget.New(s, nil)
	fake := &scriptedLLM{
		verdict: `{"relevanceScore": 82, "intentType": "QUESTION", "audienceType": "TRADER"}`,
		draft:   "I ran into the same wall with broker APIs. Scripting the order routing myself took weeks, so a proper backtest-to-live tool was worth it for me.",
	}
	cls := classifier.New(s, ledger, fake, nil, nil, classifier.Config{Model: "gpt-4o-mini", CompanyName: "Quantlab"})
	dr := drafter.New(s, ledger, fake, nil, drafter.Config{Model: "gpt-4o-mini", CompanyName: "Quantlab"})
	ap := autopilot.New(s, dr)
	on, minScore := true, 70
	_, err := ap.UpdateConfig(ctx, autopilot.ConfigUpdate{IsEnabled: &on, AutoDraftMinScore: &minScore})
	require.NoError(t, err)

	p := New(sources.NewRunner(adapters...), ingest.New(s), cls, ap, Config{Queries: []string{"algo trading"}, ClassifyBatch: 20})
	return &harness{store: s, ledger: ledger, llm: fake, pipeline: p}
}

func redditFinding() models.RawFinding {
	content := "Has anyone here automated a momentum strategy end to end? I keep writing glue code between my " +
		"backtests and the broker API and it breaks every other week. What tools do you prefer?"
	return models.RawFinding{
		Platform:        models.PlatformReddit,
		ExternalID:      "t3_abc123",
		URL:             "https://www.reddit.com/r/algotrading/comments/abc123/",
		AuthorName:      "quantdude",
		AuthorHandle:    "quantdude",
		Content:         content,
		ThreadContext:   "r/algotrading",
		MatchedKeywords: []string{"algo trading"},
		DiscoveredAt:    time.Now(),
	}
}

func TestRunOnce_RedditQuestionIsClassifiedAndDrafted(t *testing.T) {
	ctx := context.Background()
	finding := redditFinding()
	require.Equal(t, 180, len(finding.Content))
	h := newHarness(t, stubAdapter{platform: models.PlatformReddit, findings: []models.RawFinding{finding}})

	report, err := h.pipeline.RunOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Ingest.Inserted)
	assert.Equal(t, 1, report.Classify.Classified)
	assert.Equal(t, 1, report.Tick.Admitted)
	assert.Equal(t, 1, report.Tick.Drafted)

	post, err := h.store.GetPostByKey(ctx, models.PlatformReddit, "t3_abc123")
	require.NoError(t, err)
	require.NotNil(t, post.RelevanceScore)
	assert.Equal(t, 82, *post.RelevanceScore)
	assert.Equal(t, models.IntentQuestion, *post.Intent)
	assert.Equal(t, models.AudienceTrader, *post.Audience)
	assert.Equal(t, models.PostStatusQueued, post.Status)

	items, err := h.store.ListQueueItems(ctx, store.QueueFilter{Statuses: []models.QueueStatus{models.QueueStatusDrafted}})
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, post.ID, items[0].PostID)
	assert.Equal(t, 825, items[0].Priority)
	assert.True(t, strings.HasPrefix(items[0].DraftContent, "I ran into the same wall"))

	replies, err := h.store.ListRepliesByPost(ctx, post.ID)
	require.NoError(t, err)
	require.Len(t, replies, 1)
	assert.Equal(t, models.ReplyStatusDraft, replies[0].Status)
	assert.Greater(t, replies[0].DraftCost, 0.0)

	spend, err := h.ledger.MonthlySpend(ctx)
	require.NoError(t, err)
	assert.InDelta(t, post.ClassificationCost+replies[0].DraftCost, spend, 1e-9)
	assert.Equal(t, 2, h.llm.requests)
}

func TestRunOnce_SecondCycleIsIdempotent(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, stubAdapter{platform: models.PlatformReddit, findings: []models.RawFinding{redditFinding()}})

	_, err := h.pipeline.RunOnce(ctx)
	require.NoError(t, err)
	report, err := h.pipeline.RunOnce(ctx)
	require.NoError(t, err)

	assert.Zero(t, report.Ingest.Inserted)
	assert.Equal(t, 1, report.Ingest.Duplicates)
	assert.Zero(t, report.Classify.Processed)
	assert.Zero(t, report.Tick.Admitted)
	assert.Equal(t, 2, h.llm.requests, "no extra LLM calls on a repeat cycle")
}

func TestIngest_UnknownPlatform(t *testing.T) {
	h := newHarness(t, stubAdapter{platform: models.PlatformReddit})
	_, err := h.pipeline.Ingest(context.Background(), models.PlatformHackerNews)
	assert.ErrorIs(t, err, ErrUnknownPlatform)
}

func TestIngest_FailingAdapterDoesNotBlockOthers(t *testing.T) {
	h := newHarness(t,
		stubAdapter{platform: models.PlatformHackerNews, err: errors.New("algolia down")},
		stubAdapter{platform: models.PlatformReddit, findings: []models.RawFinding{redditFinding()}},
	)
	report, err := h.pipeline.Ingest(context.Background(), "")
	require.NoError(t, err)
	assert.Equal(t, 1, report.Inserted)
	require.Len(t, report.Platforms, 2)
	assert.Equal(t, "algolia down", report.Platforms[0].Error)
}

func TestScheduler_StopWithoutStart(t *testing.T) {
	h := newHarness(t)
	s := NewScheduler(h.pipeline, time.Second, 0)
	assert.Equal(t, minInterval, s.interval)
	assert.Equal(t, minInterval, s.timeout)
	s.Stop()
}

func TestScheduler_RunsInitialCycle(t *testing.T) {
	h := newHarness(t)
	s := NewScheduler(h.pipeline, time.Minute, time.Second)
	ran := make(chan struct{}, 1)
	s.initial = 10 * time.Millisecond
	s.run = func(ctx context.Context) (RunReport, error) {
		select {
		case ran <- struct{}{}:
		default:
		}
		return RunReport{}, nil
	}
	s.Start()
	defer s.Stop()
	select {
	case <-ran:
	case <-time.After(2 * time.Second):
		t.Fatal("scheduler did not run the initial cycle")
	}
}
