package store

import (
	"context"
	"errors"
	"time"

	"github.com/replyradar/pkg/models"
)

var (
	ErrNotFound  = errors.New("not found")
	ErrDuplicate = errors.New("duplicate")
)

// PostFilter narrows ListPosts. Zero values mean "no constraint".
type PostFilter struct {
	Statuses     []models.PostStatus
	Platforms    []models.Platform
	Intents      []models.IntentType
	MinScore     *int
	Unclassified bool
	Limit        int
}

// QueueFilter narrows ListQueueItems. Results are ordered by priority desc, created_at desc.
type QueueFilter struct {
	Statuses []models.QueueStatus
	// DueBy keeps items with no schedule or scheduled at or before it. Applied before Limit.
	DueBy    *time.Time
	Limit    int
}

// Store is the persistence collaborator. Upserts are atomic per key and aggregates are
// consistent reads; anything beyond that is up to the implementation.
type Store interface {
	// InsertPostIfAbsent inserts p unless (platform, external_id) already exists. The
	// existing row is left untouched. On insert p.ID is populated.
	InsertPostIfAbsent(ctx context.Context, p *models.DiscoveredPost) (bool, error)
	GetPost(ctx context.Context, id string) (*models.DiscoveredPost, error)
	GetPostByKey(ctx context.Context, platform models.Platform, externalID string) (*models.DiscoveredPost, error)
	ListPosts(ctx context.Context, f PostFilter) ([]*models.DiscoveredPost, error)
	// UpdatePostClassification writes a post's classification once. A post that already has
	// a relevance score is left untouched and ErrDuplicate is returned.
	UpdatePostClassification(ctx context.Context, id string, score int, intent models.IntentType, audience models.AudienceType, model string, cost float64) error
	UpdatePostStatus(ctx context.Context, id string, status models.PostStatus) error
	PurgeDismissedPosts(ctx context.Context, before time.Time) (int, error)

	CreateReply(ctx context.Context, r *models.Reply) error
	UpdateReply(ctx context.Context, r *models.Reply) error
	GetReply(ctx context.Context, id string) (*models.Reply, error)
	ListRepliesByPost(ctx context.Context, postID string) ([]*models.Reply, error)
	CountRepliesSentSince(ctx context.Context, since time.Time) (int, error)

	GetOrCreateAutopilotConfig(ctx context.Context) (*models.AutopilotConfig, error)
	SaveAutopilotConfig(ctx context.Context, c *models.AutopilotConfig) error

	// CreateQueueItem fails with ErrDuplicate if the post is already queued.
	CreateQueueItem(ctx context.Context, item *models.AutopilotQueueItem) error
	UpdateQueueItem(ctx context.Context, item *models.AutopilotQueueItem) error
	GetQueueItem(ctx context.Context, id string) (*models.AutopilotQueueItem, error)
	ListQueueItems(ctx context.Context, f QueueFilter) ([]*models.AutopilotQueueItem, error)

	AppendUsage(ctx context.Context, entry *models.LlmUsageLog) error
	SumUsageCost(ctx context.Context, since time.Time) (float64, error)

	GetOrCreateBudgetSettings(ctx context.Context) (*models.BudgetSettings, error)
	SaveBudgetSettings(ctx context.Context, s *models.BudgetSettings) error
}
