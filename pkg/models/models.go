package models

import (
	"time"
)

// Platform identifies a discovery source
type Platform string

const (
	PlatformReddit     Platform = "reddit"
	PlatformHackerNews Platform = "hackernews"
	PlatformForum      Platform = "forum"
	PlatformTwitter    Platform = "twitter"
)

// IntentType is the coarse communicative purpose of a post
type IntentType string

const (
	IntentQuestion   IntentType = "QUESTION"
	IntentComplaint  IntentType = "COMPLAINT"
	IntentDiscussion IntentType = "DISCUSSION"
	IntentShowcase   IntentType = "SHOWCASE"
)

// ParseIntent returns the intent for an exact enum value.
func ParseIntent(s string) (IntentType, bool) {
	switch IntentType(s) {
	case IntentQuestion, IntentComplaint, IntentDiscussion, IntentShowcase:
		return IntentType(s), true
	}
	return "", false
}

// AudienceType is the likely persona segment of a post author
type AudienceType string

const (
	AudienceTrader     AudienceType = "TRADER"
	AudienceResearcher AudienceType = "RESEARCHER"
	AudienceHybrid     AudienceType = "HYBRID"
)

// ParseAudience returns the audience for an exact enum value.
func ParseAudience(s string) (AudienceType, bool) {
	switch AudienceType(s) {
	case AudienceTrader, AudienceResearcher, AudienceHybrid:
		return AudienceType(s), true
	}
	return "", false
}

// PostStatus is the lifecycle state of a discovered post
type PostStatus string

const (
	PostStatusNew       PostStatus = "NEW"
	PostStatusQueued    PostStatus = "QUEUED"
	PostStatusReplied   PostStatus = "REPLIED"
	PostStatusDismissed PostStatus = "DISMISSED"
)

// ReplyStatus is the lifecycle state of a reply
type ReplyStatus string

const (
	ReplyStatusDraft     ReplyStatus = "DRAFT"
	ReplyStatusScheduled ReplyStatus = "SCHEDULED"
	ReplyStatusSent      ReplyStatus = "SENT"
	ReplyStatusFailed    ReplyStatus = "FAILED"
)

// QueueStatus is the lifecycle state of an autopilot queue item
type QueueStatus string

const (
	QueueStatusPending  QueueStatus = "pending"
	QueueStatusDrafted  QueueStatus = "drafted"
	QueueStatusApproved QueueStatus = "approved"
	QueueStatusSent     QueueStatus = "sent"
	QueueStatusSkipped  QueueStatus = "skipped"
)

// Terminal reports whether no further transition is possible.
func (s QueueStatus) Terminal() bool {
	return s == QueueStatusSent || s == QueueStatusSkipped
}

// TaskKind labels a paid LLM call in the usage ledger
type TaskKind string

const (
	TaskClassify TaskKind = "classify"
	TaskDraft    TaskKind = "draft"
)

// RawFinding is the normalized output of a source adapter. It is never persisted directly.
type RawFinding struct {
	Platform        Platform  `json:"platform"`
	ExternalID      string    `json:"external_id"`
	URL             string    `json:"url"`
	AuthorName      string    `json:"author_name"`
	AuthorHandle    string    `json:"author_handle"`
	Content         string    `json:"content"`
	ThreadContext   string    `json:"thread_context,omitempty"`
	MatchedKeywords []string  `json:"matched_keywords"`
	DiscoveredAt    time.Time `json:"discovered_at"`
}

// DiscoveredPost is a persisted finding, unique by (Platform, ExternalID)
type DiscoveredPost struct {
	ID                  string        `json:"id" db:"id"`
	Platform            Platform      `json:"platform" db:"platform"`
	ExternalID          string        `json:"external_id" db:"external_id"`
	URL                 string        `json:"url" db:"url"`
	AuthorName          string        `json:"author_name" db:"author_name"`
	AuthorHandle        string        `json:"author_handle" db:"author_handle"`
	Content             string        `json:"content" db:"content"`
	ThreadContext       string        `json:"thread_context,omitempty" db:"thread_context"`
	MatchedKeywords     []string      `json:"matched_keywords" db:"matched_keywords"`
	RelevanceScore      *int          `json:"relevance_score,omitempty" db:"relevance_score"`
	Intent              *IntentType   `json:"intent,omitempty" db:"intent"`
	Audience            *AudienceType `json:"audience,omitempty" db:"audience"`
	Status              PostStatus    `json:"status" db:"status"`
	DiscoveredAt        time.Time     `json:"discovered_at" db:"discovered_at"`
	ClassificationModel string        `json:"classification_model,omitempty" db:"classification_model"`
	ClassificationCost  float64       `json:"classification_cost" db:"classification_cost"`
}

// Classified reports whether the post already carries a relevance score.
func (p *DiscoveredPost) Classified() bool {
	return p.RelevanceScore != nil
}

// Reply is a drafted response to a discovered post
type Reply struct {
	ID           string      `json:"id" db:"id"`
	PostID       string      `json:"post_id" db:"post_id"`
	DraftContent string      `json:"draft_content" db:"draft_content"`
	FinalContent *string     `json:"final_content,omitempty" db:"final_content"`
	Status       ReplyStatus `json:"status" db:"status"`
	DraftModel   string      `json:"draft_model" db:"draft_model"`
	DraftCost    float64     `json:"draft_cost" db:"draft_cost"`
	ScheduledFor *time.Time  `json:"scheduled_for,omitempty" db:"scheduled_for"`
	SentAt       *time.Time  `json:"sent_at,omitempty" db:"sent_at"`
	CreatedAt    time.Time   `json:"created_at" db:"created_at"`
	UpdatedAt    time.Time   `json:"updated_at" db:"updated_at"`
}

// Content returns the human-edited text when present, else the draft.
func (r *Reply) Content() string {
	if r.FinalContent != nil && *r.FinalContent != "" {
		return *r.FinalContent
	}
	return r.DraftContent
}

// PostingWindow is a time-of-day range (minutes since midnight, local to the configured zone).
// End < Start wraps past midnight.
type PostingWindow struct {
	Start int `json:"start"`
	End   int `json:"end"`
	// Days limits the window to weekdays (0=Sunday). Empty means every day.
	Days []time.Weekday `json:"days,omitempty"`
}

// AutopilotConfig is the singleton autopilot configuration row, including its running counters
type AutopilotConfig struct {
	IsEnabled            bool            `json:"is_enabled" db:"is_enabled"`
	AutoDraftEnabled     bool            `json:"auto_draft_enabled" db:"auto_draft_enabled"`
	AutoScheduleEnabled  bool            `json:"auto_schedule_enabled" db:"auto_schedule_enabled"`
	AutoDraftMinScore    int             `json:"auto_draft_min_score" db:"auto_draft_min_score"`
	AllowedIntents       []IntentType    `json:"allowed_intents" db:"allowed_intents"`
	AllowedPlatforms     []Platform      `json:"allowed_platforms" db:"allowed_platforms"`
	MaxDraftsPerDay      int             `json:"max_drafts_per_day" db:"max_drafts_per_day"`
	MaxRepliesPerHour    int             `json:"max_replies_per_hour" db:"max_replies_per_hour"`
	MaxRepliesPerDay     int             `json:"max_replies_per_day" db:"max_replies_per_day"`
	ScheduleDelayMinutes int             `json:"schedule_delay_minutes" db:"schedule_delay_minutes"`
	PostingWindows       []PostingWindow `json:"posting_windows" db:"posting_windows"`
	DraftsToday          int             `json:"drafts_today" db:"drafts_today"`
	RepliesSentToday     int             `json:"replies_sent_today" db:"replies_sent_today"`
	LastResetAt          time.Time       `json:"last_reset_at" db:"last_reset_at"`
}

// DefaultAutopilotConfig is used when no config row exists yet.
func DefaultAutopilotConfig(now time.Time) AutopilotConfig {
	return AutopilotConfig{
		IsEnabled:            false,
		AutoDraftEnabled:     true,
		AutoScheduleEnabled:  false,
		AutoDraftMinScore:    70,
		MaxDraftsPerDay:      20,
		MaxRepliesPerHour:    3,
		MaxRepliesPerDay:     15,
		ScheduleDelayMinutes: 30,
		LastResetAt:          now,
	}
}

// AutopilotQueueItem is one candidate post moving through the autopilot state machine
type AutopilotQueueItem struct {
	ID           string      `json:"id" db:"id"`
	PostID       string      `json:"post_id" db:"post_id"`
	ReplyID      string      `json:"reply_id,omitempty" db:"reply_id"`
	Priority     int         `json:"priority" db:"priority"`
	Status       QueueStatus `json:"status" db:"status"`
	SkipReason   string      `json:"skip_reason,omitempty" db:"skip_reason"`
	DraftContent string      `json:"draft_content,omitempty" db:"draft_content"`
	Attempts     int         `json:"attempts" db:"attempts"`
	ScheduledFor *time.Time  `json:"scheduled_for,omitempty" db:"scheduled_for"`
	SentAt       *time.Time  `json:"sent_at,omitempty" db:"sent_at"`
	CreatedAt    time.Time   `json:"created_at" db:"created_at"`
	UpdatedAt    time.Time   `json:"updated_at" db:"updated_at"`
}

// LlmUsageLog is one immutable row of the spend ledger
type LlmUsageLog struct {
	ID            string    `json:"id" db:"id"`
	Task          TaskKind  `json:"task" db:"task"`
	Model         string    `json:"model" db:"model"`
	InputTokens   int       `json:"input_tokens" db:"input_tokens"`
	OutputTokens  int       `json:"output_tokens" db:"output_tokens"`
	CostUSD       float64   `json:"cost_usd" db:"cost_usd"`
	RelatedEntity string    `json:"related_entity,omitempty" db:"related_entity"`
	CreatedAt     time.Time `json:"created_at" db:"created_at"`
}

// BudgetSettings is the singleton budget configuration row
type BudgetSettings struct {
	// MonthlyLimitUSD nil means no limit.
	MonthlyLimitUSD *float64   `json:"monthly_limit_usd,omitempty" db:"monthly_limit_usd"`
	AlertThreshold  int        `json:"alert_threshold" db:"alert_threshold"`
	HardStop        bool       `json:"hard_stop" db:"hard_stop"`
	ExemptTasks     []TaskKind `json:"exempt_tasks" db:"exempt_tasks"`
	LastAlertAt     *time.Time `json:"last_alert_at,omitempty" db:"last_alert_at"`
}

// DefaultBudgetSettings is used when no settings row exists yet.
func DefaultBudgetSettings() BudgetSettings {
	return BudgetSettings{
		AlertThreshold: 80,
		ExemptTasks:    []TaskKind{TaskDraft},
	}
}
