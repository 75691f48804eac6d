package classifier

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/replyradar/internal/budget"
	"github.com/replyradar/internal/llm"
	"github.com/replyradar/internal/notify"
	"github.com/replyradar/internal/store"
	"github.com/replyradar/pkg/models"
)

type scriptedLLM struct {
	mu        sync.Mutex
	responses []string
	err       error
	requests  []llm.CompletionRequest
}

func (s *scriptedLLM) Complete(_ context.Context, req llm.CompletionRequest) (*llm.Completion, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.requests = append(s.requests, req)
	if s.err != nil {
		return nil, s.err
	}
	text := s.responses[0]
	if len(s.responses) > 1 {
		s.responses = s.responses[1:]
	}
	return &llm.Completion{Text: text, Model: "test-model", InputTokens: 1_000_000, OutputTokens: 0}, nil
}

func (s *scriptedLLM) calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.requests)
}

type recordingNotifier struct {
	msgs []notify.Message
}

func (r *recordingNotifier) Notify(_ context.Context, m notify.Message) { r.msgs = append(r.msgs, m) }

type fixture struct {
	store    *store.MemoryStore
	ledger   *budget.Ledger
	llm      *scriptedLLM
	notifier *recordingNotifier
	c        *Classifier
}

func newFixture(t *testing.T, cfg Config, responses ...string) *fixture {
	t.Helper()
	s := store.NewMemoryStore()
	ledger := budget.New(s, nil, budget.WithPricing(map[string]budget.Pricing{"test-model": {InputPerMillion: 1}}))
	fake := &scriptedLLM{responses: responses}
	n := &recordingNotifier{}
	cfg.Model = "test-model"
	return &fixture{store: s, ledger: ledger, llm: fake, notifier: n, c: New(s, ledger, fake, nil, n, cfg)}
}

func (f *fixture) addPost(t *testing.T, id, content string) *models.DiscoveredPost {
	t.Helper()
	p := &models.DiscoveredPost{
		Platform:     models.PlatformReddit,
		ExternalID:   id,
		URL:          "https://www.reddit.com/" + id,
		Content:      content,
		DiscoveredAt: time.Now(),
	}
	_, err := f.store.InsertPostIfAbsent(context.Background(), p)
	require.NoError(t, err)
	return p
}

func TestClassify_PersistsValidResult(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, Config{ProductDescription: "Backtesting platform"},
		`{"relevanceScore": 82, "intentType": "QUESTION", "audienceType": "TRADER", "reasoning": "asks for a tool"}`)
	p := f.addPost(t, "a", "Anyone know a good algo trading automation tool?")

	res := f.c.Classify(ctx, p)
	require.NotNil(t, res)
	assert.Equal(t, 82, res.Score)
	assert.Equal(t, models.IntentQuestion, res.Intent)
	assert.Equal(t, models.AudienceTrader, res.Audience)
	assert.InDelta(t, 1.0, res.CostUSD, 1e-9)

	got, err := f.store.GetPost(ctx, p.ID)
	require.NoError(t, err)
	require.NotNil(t, got.RelevanceScore)
	assert.Equal(t, 82, *got.RelevanceScore)
	assert.Equal(t, "test-model", got.ClassificationModel)
	assert.InDelta(t, 1.0, got.ClassificationCost, 1e-9)

	spent, err := f.ledger.MonthlySpend(ctx)
	require.NoError(t, err)
	assert.InDelta(t, 1.0, spent, 1e-9)

	req := f.llm.requests[0]
	assert.True(t, req.JSONMode)
	require.Len(t, req.Messages, 2)
	assert.Contains(t, req.Messages[0].Content, "Backtesting platform")
	assert.Contains(t, req.Messages[1].Content, "Platform: reddit")
}

func TestClassify_RejectsWrongScoreType(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, Config{}, `{"relevanceScore": "high", "intentType": "QUESTION", "audienceType": "TRADER"}`)
	p := f.addPost(t, "a", "some post content that is long enough")

	assert.Nil(t, f.c.Classify(ctx, p))

	got, err := f.store.GetPost(ctx, p.ID)
	require.NoError(t, err)
	assert.Nil(t, got.RelevanceScore)
	assert.Nil(t, got.Intent)
}

func TestClassify_RejectsSchemaMismatches(t *testing.T) {
	cases := map[string]string{
		"missing audience": `{"relevanceScore": 50, "intentType": "QUESTION"}`,
		"unknown intent":   `{"relevanceScore": 50, "intentType": "RANT", "audienceType": "TRADER"}`,
		"lowercase intent": `{"relevanceScore": 50, "intentType": "question", "audienceType": "TRADER"}`,
		"fractional score": `{"relevanceScore": 50.5, "intentType": "QUESTION", "audienceType": "TRADER"}`,
		"numeric audience": `{"relevanceScore": 50, "intentType": "QUESTION", "audienceType": 1}`,
		"null score":       `{"relevanceScore": null, "intentType": "QUESTION", "audienceType": "TRADER"}`,
		"no json at all":   `I think this post is relevant.`,
		"array not object": `[{"relevanceScore": 50}]`,
	}
	for name, raw := range cases {
		t.Run(name, func(t *testing.T) {
			f := newFixture(t, Config{}, raw)
			p := f.addPost(t, "a", "some post content that is long enough")
			assert.Nil(t, f.c.Classify(context.Background(), p))
			got, err := f.store.GetPost(context.Background(), p.ID)
			require.NoError(t, err)
			assert.False(t, got.Classified())
		})
	}
}

func TestClassify_ClampsScore(t *testing.T) {
	for raw, want := range map[string]int{"137": 100, "-5": 0, "100.0": 100} {
		t.Run(raw, func(t *testing.T) {
			f := newFixture(t, Config{}, `{"relevanceScore": `+raw+`, "intentType": "DISCUSSION", "audienceType": "HYBRID"}`)
			p := f.addPost(t, "a", "some post content that is long enough")
			res := f.c.Classify(context.Background(), p)
			require.NotNil(t, res)
			assert.Equal(t, want, res.Score)

			got, err := f.store.GetPost(context.Background(), p.ID)
			require.NoError(t, err)
			assert.Equal(t, want, *got.RelevanceScore)
		})
	}
}

func TestClassify_RepairsFencedOutput(t *testing.T) {
	f := newFixture(t, Config{}, "Here you go:\n```json\n{\"relevanceScore\": 64, \"intentType\": \"COMPLAINT\", \"audienceType\": \"RESEARCHER\",}\n```")
	p := f.addPost(t, "a", "some post content that is long enough")
	res := f.c.Classify(context.Background(), p)
	require.NotNil(t, res)
	assert.Equal(t, 64, res.Score)
	assert.Equal(t, models.IntentComplaint, res.Intent)
}

func TestClassify_RejectsCutOffOutput(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, Config{}, `{"intentType": "QUESTION", "audienceType": "TRADER", "relevanceScore": 8`)
	p := f.addPost(t, "a", "some post content that is long enough")

	assert.Nil(t, f.c.Classify(ctx, p))
	assert.Equal(t, 1, f.llm.calls())

	got, err := f.store.GetPost(ctx, p.ID)
	require.NoError(t, err)
	assert.Nil(t, got.RelevanceScore)
	assert.Nil(t, got.Intent)
	assert.Nil(t, got.Audience)
}

func TestClassify_BudgetDeniedSkipsCall(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, Config{}, `{"relevanceScore": 90, "intentType": "QUESTION", "audienceType": "TRADER"}`)
	limit, hardStop := 10.0, true
	_, err := f.ledger.UpdateSettings(ctx, budget.SettingsUpdate{MonthlyLimitUSD: &limit, HardStop: &hardStop})
	require.NoError(t, err)
	_, err = f.ledger.LogUsage(ctx, budget.Usage{Task: models.TaskClassify, Model: "test-model", InputTokens: 10_000_000})
	require.NoError(t, err)

	p := f.addPost(t, "a", "some post content that is long enough")
	assert.Nil(t, f.c.Classify(ctx, p))
	assert.Equal(t, 0, f.llm.calls())
}

func TestClassify_RequestErrorYieldsNil(t *testing.T) {
	f := newFixture(t, Config{}, "")
	f.llm.err = &llm.StatusError{Status: 503, Message: "overloaded"}
	p := f.addPost(t, "a", "some post content that is long enough")
	assert.Nil(t, f.c.Classify(context.Background(), p))
}

func TestClassify_TruncatesContent(t *testing.T) {
	f := newFixture(t, Config{MaxContentChars: 100}, `{"relevanceScore": 10, "intentType": "SHOWCASE", "audienceType": "HYBRID"}`)
	p := f.addPost(t, "a", strings.Repeat("x", 5000))
	require.NotNil(t, f.c.Classify(context.Background(), p))
	user := f.llm.requests[0].Messages[1].Content
	assert.Less(t, strings.Count(user, "x"), 200)
}

func TestClassify_HighPriorityAlert(t *testing.T) {
	f := newFixture(t, Config{AlertsEnabled: true, HighPriorityThreshold: 80},
		`{"relevanceScore": 92, "intentType": "QUESTION", "audienceType": "TRADER"}`,
		`{"relevanceScore": 40, "intentType": "QUESTION", "audienceType": "TRADER"}`)
	require.NotNil(t, f.c.Classify(context.Background(), f.addPost(t, "a", "some post content that is long enough")))
	require.NotNil(t, f.c.Classify(context.Background(), f.addPost(t, "b", "another post content that is long enough")))

	require.Len(t, f.notifier.msgs, 1)
	assert.Equal(t, notify.KindHighPriorityPost, f.notifier.msgs[0].Kind)
	assert.Contains(t, f.notifier.msgs[0].Title, "92")
}

func TestClassify_SkipsAlreadyClassified(t *testing.T) {
	f := newFixture(t, Config{}, `{"relevanceScore": 10, "intentType": "SHOWCASE", "audienceType": "HYBRID"}`)
	p := f.addPost(t, "a", "some post content that is long enough")
	score := 50
	p.RelevanceScore = &score
	assert.Nil(t, f.c.Classify(context.Background(), p))
	assert.Equal(t, 0, f.llm.calls())
}

func TestClassify_SkipsStaleCopyOfClassifiedPost(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, Config{}, `{"relevanceScore": 10, "intentType": "SHOWCASE", "audienceType": "HYBRID"}`)
	p := f.addPost(t, "a", "some post content that is long enough")
	stale, err := f.store.GetPost(ctx, p.ID)
	require.NoError(t, err)
	require.NoError(t, f.store.UpdatePostClassification(ctx, p.ID, 64, models.IntentQuestion, models.AudienceTrader, "other", 0.5))

	assert.Nil(t, f.c.Classify(ctx, stale))
	assert.Equal(t, 0, f.llm.calls())

	got, err := f.store.GetPost(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, 64, *got.RelevanceScore)
	assert.Equal(t, "other", got.ClassificationModel)
}

func TestClassifyBatch_OverlappingPassesBillEachPostOnce(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, Config{}, `{"relevanceScore": 70, "intentType": "QUESTION", "audienceType": "TRADER"}`)
	ids := []string{"a", "b", "c", "d"}
	for _, id := range ids {
		f.addPost(t, id, "some post content that is long enough "+id)
	}

	var wg sync.WaitGroup
	sums := make([]BatchSummary, 3)
	for i := range sums {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			sum, err := f.c.ClassifyBatch(ctx, 10)
			assert.NoError(t, err)
			sums[i] = sum
		}(i)
	}
	wg.Wait()

	classified := 0
	for _, sum := range sums {
		classified += sum.Classified
	}
	assert.Equal(t, len(ids), classified)
	assert.Equal(t, len(ids), f.llm.calls())

	spent, err := f.ledger.MonthlySpend(ctx)
	require.NoError(t, err)
	assert.InDelta(t, float64(len(ids)), spent, 1e-9)
}

func TestClassifyBatch_ContinuesPastFailures(t *testing.T) {
	f := newFixture(t, Config{},
		`{"relevanceScore": 70, "intentType": "QUESTION", "audienceType": "TRADER"}`,
		`not json`,
		`{"relevanceScore": 20, "intentType": "DISCUSSION", "audienceType": "HYBRID"}`)
	for _, id := range []string{"a", "b", "c"} {
		f.addPost(t, id, "some post content that is long enough "+id)
	}

	sum, err := f.c.ClassifyBatch(context.Background(), 10)
	require.NoError(t, err)
	assert.Equal(t, BatchSummary{Processed: 3, Classified: 2, Failed: 1}, sum)
}

func TestClassifyBatch_StopsWhenBudgetDenies(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, Config{}, `{"relevanceScore": 70, "intentType": "QUESTION", "audienceType": "TRADER"}`)
	limit, hardStop := 1.0, true
	_, err := f.ledger.UpdateSettings(ctx, budget.SettingsUpdate{MonthlyLimitUSD: &limit, HardStop: &hardStop})
	require.NoError(t, err)
	for _, id := range []string{"a", "b", "c"} {
		f.addPost(t, id, "some post content that is long enough "+id)
	}

	sum, err := f.c.ClassifyBatch(ctx, 10)
	require.NoError(t, err)
	assert.True(t, sum.BudgetDenied)
	assert.Equal(t, 1, sum.Classified)
	assert.Equal(t, 2, sum.Processed)
	assert.Equal(t, 1, f.llm.calls())
}

func TestClassifyBatch_PropagatesListError(t *testing.T) {
	c := New(listErrStore{}, nil, nil, nil, nil, Config{})
	_, err := c.ClassifyBatch(context.Background(), 5)
	assert.Error(t, err)
}

type listErrStore struct{ store.Store }

func (listErrStore) ListPosts(context.Context, store.PostFilter) ([]*models.DiscoveredPost, error) {
	return nil, errors.New("db down")
}
