package store

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/replyradar/pkg/models"
)

// Runs against a real Postgres. Requires DATABASE_URL.
func TestPostgresStore_Integration(t *testing.T) {
	dsn := os.Getenv("DATABASE_URL")
	if dsn == "" {
		t.Skip("DATABASE_URL not set; skipping integration test")
	}
	ctx := context.Background()
	db, err := Open(ctx, dsn)
	require.NoError(t, err)
	defer db.Close()

	s := NewPostgresStore(db)
	require.NoError(t, s.Migrate(ctx))

	ext := "it-" + uuid.NewString()
	p := newPost(models.PlatformReddit, ext, time.Now().UTC())
	inserted, err := s.InsertPostIfAbsent(ctx, p)
	require.NoError(t, err)
	require.True(t, inserted)

	inserted, err = s.InsertPostIfAbsent(ctx, newPost(models.PlatformReddit, ext, time.Now().UTC()))
	require.NoError(t, err)
	assert.False(t, inserted)

	require.NoError(t, s.UpdatePostClassification(ctx, p.ID, 77, models.IntentComplaint, models.AudienceHybrid, "m", 0.002))
	got, err := s.GetPost(ctx, p.ID)
	require.NoError(t, err)
	require.NotNil(t, got.RelevanceScore)
	assert.Equal(t, 77, *got.RelevanceScore)
	assert.Equal(t, models.IntentComplaint, *got.Intent)
	assert.Equal(t, []string{"backtest"}, got.MatchedKeywords)
	err = s.UpdatePostClassification(ctx, p.ID, 10, models.IntentQuestion, models.AudienceTrader, "m", 0)
	assert.ErrorIs(t, err, ErrDuplicate)
	assert.ErrorIs(t, s.UpdatePostClassification(ctx, uuid.NewString(), 10, models.IntentQuestion, models.AudienceTrader, "m", 0), ErrNotFound)

	item := &models.AutopilotQueueItem{PostID: p.ID, Priority: 780, Status: models.QueueStatusPending}
	require.NoError(t, s.CreateQueueItem(ctx, item))
	err = s.CreateQueueItem(ctx, &models.AutopilotQueueItem{PostID: p.ID, Priority: 1, Status: models.QueueStatusPending})
	assert.ErrorIs(t, err, ErrDuplicate)

	cfg, err := s.GetOrCreateAutopilotConfig(ctx)
	require.NoError(t, err)
	cfg.PostingWindows = []models.PostingWindow{{Start: 9 * 60, End: 17 * 60}}
	require.NoError(t, s.SaveAutopilotConfig(ctx, cfg))
	cfg2, err := s.GetOrCreateAutopilotConfig(ctx)
	require.NoError(t, err)
	assert.Equal(t, cfg.PostingWindows, cfg2.PostingWindows)

	_, err = s.GetOrCreateBudgetSettings(ctx)
	require.NoError(t, err)
}
