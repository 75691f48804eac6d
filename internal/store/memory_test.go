package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/replyradar/pkg/models"
)

func newPost(platform models.Platform, externalID string, at time.Time) *models.DiscoveredPost {
	return &models.DiscoveredPost{
		Platform:        platform,
		ExternalID:      externalID,
		URL:             "https://example.com/" + externalID,
		Content:         "how do I backtest a momentum strategy?",
		MatchedKeywords: []string{"backtest"},
		DiscoveredAt:    at,
	}
}

func TestMemoryStore_InsertPostIfAbsentIsFirstWriteWins(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	first := newPost(models.PlatformReddit, "abc", now)
	inserted, err := s.InsertPostIfAbsent(ctx, first)
	require.NoError(t, err)
	assert.True(t, inserted)
	assert.NotEmpty(t, first.ID)
	assert.Equal(t, models.PostStatusNew, first.Status)

	dup := newPost(models.PlatformReddit, "abc", now.Add(time.Hour))
	dup.Content = "changed"
	inserted, err = s.InsertPostIfAbsent(ctx, dup)
	require.NoError(t, err)
	assert.False(t, inserted)

	got, err := s.GetPostByKey(ctx, models.PlatformReddit, "abc")
	require.NoError(t, err)
	assert.Equal(t, first.ID, got.ID)
	assert.Equal(t, "how do I backtest a momentum strategy?", got.Content)

	// Same external id on another platform is a different post.
	inserted, err = s.InsertPostIfAbsent(ctx, newPost(models.PlatformHackerNews, "abc", now))
	require.NoError(t, err)
	assert.True(t, inserted)
}

func TestMemoryStore_ListPostsFilters(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	a := newPost(models.PlatformReddit, "a", base)
	b := newPost(models.PlatformReddit, "b", base.Add(time.Minute))
	c := newPost(models.PlatformHackerNews, "c", base.Add(2*time.Minute))
	for _, p := range []*models.DiscoveredPost{a, b, c} {
		_, err := s.InsertPostIfAbsent(ctx, p)
		require.NoError(t, err)
	}
	require.NoError(t, s.UpdatePostClassification(ctx, b.ID, 85, models.IntentQuestion, models.AudienceTrader, "m", 0.01))

	unclassified, err := s.ListPosts(ctx, PostFilter{Unclassified: true})
	require.NoError(t, err)
	require.Len(t, unclassified, 2)
	assert.Equal(t, c.ID, unclassified[0].ID, "newest first")

	minScore := 80
	scored, err := s.ListPosts(ctx, PostFilter{MinScore: &minScore, Intents: []models.IntentType{models.IntentQuestion}})
	require.NoError(t, err)
	require.Len(t, scored, 1)
	assert.Equal(t, b.ID, scored[0].ID)

	hn, err := s.ListPosts(ctx, PostFilter{Platforms: []models.Platform{models.PlatformHackerNews}})
	require.NoError(t, err)
	require.Len(t, hn, 1)

	limited, err := s.ListPosts(ctx, PostFilter{Limit: 1})
	require.NoError(t, err)
	assert.Len(t, limited, 1)
}

func TestMemoryStore_ClassificationIsWrittenOnce(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	p := newPost(models.PlatformReddit, "once", time.Now())
	_, err := s.InsertPostIfAbsent(ctx, p)
	require.NoError(t, err)

	require.NoError(t, s.UpdatePostClassification(ctx, p.ID, 60, models.IntentQuestion, models.AudienceTrader, "first", 0.01))
	err = s.UpdatePostClassification(ctx, p.ID, 95, models.IntentComplaint, models.AudienceHybrid, "second", 0.02)
	assert.ErrorIs(t, err, ErrDuplicate)

	got, err := s.GetPost(ctx, p.ID)
	require.NoError(t, err)
	require.NotNil(t, got.RelevanceScore)
	assert.Equal(t, 60, *got.RelevanceScore)
	assert.Equal(t, "first", got.ClassificationModel)

	assert.ErrorIs(t, s.UpdatePostClassification(ctx, "missing", 1, models.IntentQuestion, models.AudienceTrader, "m", 0), ErrNotFound)
}

func TestMemoryStore_ReturnsCopies(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	p := newPost(models.PlatformForum, "x", time.Now())
	_, err := s.InsertPostIfAbsent(ctx, p)
	require.NoError(t, err)

	got, err := s.GetPost(ctx, p.ID)
	require.NoError(t, err)
	got.Content = "mutated"
	got.MatchedKeywords[0] = "mutated"

	again, err := s.GetPost(ctx, p.ID)
	require.NoError(t, err)
	assert.NotEqual(t, "mutated", again.Content)
	assert.Equal(t, "backtest", again.MatchedKeywords[0])
}

func TestMemoryStore_QueueUniquePerPostAndOrdering(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	s.SetClock(func() time.Time { return now })

	low := &models.AutopilotQueueItem{PostID: "p1", Priority: 50, Status: models.QueueStatusPending}
	high := &models.AutopilotQueueItem{PostID: "p2", Priority: 90, Status: models.QueueStatusPending}
	require.NoError(t, s.CreateQueueItem(ctx, low))
	require.NoError(t, s.CreateQueueItem(ctx, high))

	err := s.CreateQueueItem(ctx, &models.AutopilotQueueItem{PostID: "p1", Priority: 10, Status: models.QueueStatusPending})
	assert.ErrorIs(t, err, ErrDuplicate)

	items, err := s.ListQueueItems(ctx, QueueFilter{Statuses: []models.QueueStatus{models.QueueStatusPending}})
	require.NoError(t, err)
	require.Len(t, items, 2)
	assert.Equal(t, high.ID, items[0].ID)

	high.Status = models.QueueStatusSkipped
	high.SkipReason = "manual"
	require.NoError(t, s.UpdateQueueItem(ctx, high))
	items, err = s.ListQueueItems(ctx, QueueFilter{Statuses: []models.QueueStatus{models.QueueStatusPending}})
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, low.ID, items[0].ID)
}

func TestMemoryStore_QueueDueByAppliesBeforeLimit(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	later := now.Add(time.Hour)
	s.SetClock(func() time.Time { return now })

	for i, it := range []*models.AutopilotQueueItem{
		{PostID: "future1", Priority: 95, ScheduledFor: &later},
		{PostID: "future2", Priority: 90, ScheduledFor: &later},
		{PostID: "due", Priority: 40, ScheduledFor: &now},
		{PostID: "unscheduled", Priority: 30},
	} {
		it.Status = models.QueueStatusApproved
		require.NoError(t, s.CreateQueueItem(ctx, it), i)
	}

	items, err := s.ListQueueItems(ctx, QueueFilter{
		Statuses: []models.QueueStatus{models.QueueStatusApproved},
		DueBy:    &now,
		Limit:    2,
	})
	require.NoError(t, err)
	require.Len(t, items, 2)
	assert.Equal(t, "due", items[0].PostID)
	assert.Equal(t, "unscheduled", items[1].PostID)

	all, err := s.ListQueueItems(ctx, QueueFilter{Statuses: []models.QueueStatus{models.QueueStatusApproved}, Limit: 2})
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, "future1", all[0].PostID)
}

func TestMemoryStore_UsageSumAndSentCount(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	t0 := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)

	require.NoError(t, s.AppendUsage(ctx, &models.LlmUsageLog{Task: models.TaskClassify, CostUSD: 1.5, CreatedAt: t0.Add(-time.Hour)}))
	require.NoError(t, s.AppendUsage(ctx, &models.LlmUsageLog{Task: models.TaskClassify, CostUSD: 2, CreatedAt: t0}))
	require.NoError(t, s.AppendUsage(ctx, &models.LlmUsageLog{Task: models.TaskDraft, CostUSD: 0.25, CreatedAt: t0.Add(time.Hour)}))

	total, err := s.SumUsageCost(ctx, t0)
	require.NoError(t, err)
	assert.InDelta(t, 2.25, total, 1e-9)

	p := newPost(models.PlatformReddit, "r", t0)
	_, err = s.InsertPostIfAbsent(ctx, p)
	require.NoError(t, err)
	sentAt := t0.Add(30 * time.Minute)
	require.NoError(t, s.CreateReply(ctx, &models.Reply{PostID: p.ID, DraftContent: "hi", Status: models.ReplyStatusSent, SentAt: &sentAt}))
	require.NoError(t, s.CreateReply(ctx, &models.Reply{PostID: p.ID, DraftContent: "draft", Status: models.ReplyStatusDraft}))

	n, err := s.CountRepliesSentSince(ctx, t0)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	err = s.CreateReply(ctx, &models.Reply{PostID: "missing", DraftContent: "x"})
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMemoryStore_PurgeDismissedPosts(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	old := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	gone := newPost(models.PlatformReddit, "gone", old)
	kept := newPost(models.PlatformReddit, "kept", old)
	for _, p := range []*models.DiscoveredPost{gone, kept} {
		_, err := s.InsertPostIfAbsent(ctx, p)
		require.NoError(t, err)
	}
	require.NoError(t, s.UpdatePostStatus(ctx, gone.ID, models.PostStatusDismissed))

	n, err := s.PurgeDismissedPosts(ctx, old.Add(24*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	_, err = s.GetPost(ctx, gone.ID)
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = s.GetPost(ctx, kept.ID)
	assert.NoError(t, err)

	// The key is free again once purged.
	inserted, err := s.InsertPostIfAbsent(ctx, newPost(models.PlatformReddit, "gone", old))
	require.NoError(t, err)
	assert.True(t, inserted)
}

func TestMemoryStore_SingletonDefaults(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	cfg, err := s.GetOrCreateAutopilotConfig(ctx)
	require.NoError(t, err)
	assert.False(t, cfg.IsEnabled)
	assert.Equal(t, 3, cfg.MaxRepliesPerHour)

	cfg.IsEnabled = true
	require.NoError(t, s.SaveAutopilotConfig(ctx, cfg))
	cfg2, err := s.GetOrCreateAutopilotConfig(ctx)
	require.NoError(t, err)
	assert.True(t, cfg2.IsEnabled)

	b, err := s.GetOrCreateBudgetSettings(ctx)
	require.NoError(t, err)
	assert.Nil(t, b.MonthlyLimitUSD)
	assert.Equal(t, 80, b.AlertThreshold)
	assert.Equal(t, []models.TaskKind{models.TaskDraft}, b.ExemptTasks)
}
