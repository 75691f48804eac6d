package store

import (
	"context"
	"database/sql"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/replyradar/pkg/models"
)

//go:embed schema.sql
var schemaSQL string

// PostgresStore implements Store on top of database/sql with the lib/pq driver.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore { return &PostgresStore{db: db} }

// Open connects to databaseURL and verifies the connection.
func Open(ctx context.Context, databaseURL string) (*sql.DB, error) {
	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to open db: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping db: %w", err)
	}
	return db, nil
}

// Migrate applies the embedded schema. Statements are idempotent.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, schemaSQL); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}

const postColumns = `id, platform, external_id, url, author_name, author_handle, content, thread_context,
	matched_keywords, relevance_score, intent, audience, status, discovered_at, classification_model, classification_cost`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanPost(row rowScanner) (*models.DiscoveredPost, error) {
	var p models.DiscoveredPost
	var score sql.NullInt64
	var intent, audience sql.NullString
	var keywords []string
	err := row.Scan(&p.ID, &p.Platform, &p.ExternalID, &p.URL, &p.AuthorName, &p.AuthorHandle, &p.Content,
		&p.ThreadContext, pq.Array(&keywords), &score, &intent, &audience, &p.Status, &p.DiscoveredAt,
		&p.ClassificationModel, &p.ClassificationCost)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	p.MatchedKeywords = keywords
	if score.Valid {
		v := int(score.Int64)
		p.RelevanceScore = &v
	}
	if intent.Valid {
		v := models.IntentType(intent.String)
		p.Intent = &v
	}
	if audience.Valid {
		v := models.AudienceType(audience.String)
		p.Audience = &v
	}
	return &p, nil
}

func (s *PostgresStore) InsertPostIfAbsent(ctx context.Context, p *models.DiscoveredPost) (bool, error) {
	id := p.ID
	if id == "" {
		id = uuid.NewString()
	}
	status := p.Status
	if status == "" {
		status = models.PostStatusNew
	}
	discoveredAt := p.DiscoveredAt
	if discoveredAt.IsZero() {
		discoveredAt = time.Now()
	}
	err := s.db.QueryRowContext(ctx, `
        INSERT INTO discovered_posts (id, platform, external_id, url, author_name, author_handle, content, thread_context, matched_keywords, status, discovered_at)
        VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)
        ON CONFLICT (platform, external_id) DO NOTHING
        RETURNING id
    `, id, string(p.Platform), p.ExternalID, p.URL, p.AuthorName, p.AuthorHandle, p.Content, p.ThreadContext,
		pq.Array(ensureSliceNotNil(p.MatchedKeywords)), string(status), discoveredAt).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	p.ID = id
	p.Status = status
	p.DiscoveredAt = discoveredAt
	return true, nil
}

func (s *PostgresStore) GetPost(ctx context.Context, id string) (*models.DiscoveredPost, error) {
	return scanPost(s.db.QueryRowContext(ctx, `SELECT `+postColumns+` FROM discovered_posts WHERE id=$1`, id))
}

func (s *PostgresStore) GetPostByKey(ctx context.Context, platform models.Platform, externalID string) (*models.DiscoveredPost, error) {
	return scanPost(s.db.QueryRowContext(ctx,
		`SELECT `+postColumns+` FROM discovered_posts WHERE platform=$1 AND external_id=$2`, string(platform), externalID))
}

func (s *PostgresStore) ListPosts(ctx context.Context, f PostFilter) ([]*models.DiscoveredPost, error) {
	var where []string
	var args []any
	arg := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}
	if len(f.Statuses) > 0 {
		where = append(where, "status = ANY("+arg(pq.Array(toStrings(f.Statuses)))+")")
	}
	if len(f.Platforms) > 0 {
		where = append(where, "platform = ANY("+arg(pq.Array(toStrings(f.Platforms)))+")")
	}
	if len(f.Intents) > 0 {
		where = append(where, "intent = ANY("+arg(pq.Array(toStrings(f.Intents)))+")")
	}
	if f.Unclassified {
		where = append(where, "relevance_score IS NULL")
	}
	if f.MinScore != nil {
		where = append(where, "relevance_score >= "+arg(*f.MinScore))
	}

	q := `SELECT ` + postColumns + ` FROM discovered_posts`
	if len(where) > 0 {
		q += " WHERE " + strings.Join(where, " AND ")
	}
	q += " ORDER BY discovered_at DESC, id"
	if f.Limit > 0 {
		q += " LIMIT " + arg(f.Limit)
	}

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make([]*models.DiscoveredPost, 0)
	for rows.Next() {
		p, err := scanPost(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func (s *PostgresStore) UpdatePostClassification(ctx context.Context, id string, score int, intent models.IntentType, audience models.AudienceType, model string, cost float64) error {
	res, err := s.db.ExecContext(ctx, `
        UPDATE discovered_posts
        SET relevance_score=$1, intent=$2, audience=$3, classification_model=$4, classification_cost=$5
        WHERE id=$6 AND relevance_score IS NULL
    `, score, string(intent), string(audience), model, cost, id)
	if err := expectOneRow(res, err); !errors.Is(err, ErrNotFound) {
		return err
	}
	var exists bool
	if err := s.db.QueryRowContext(ctx, `SELECT EXISTS(SELECT 1 FROM discovered_posts WHERE id=$1)`, id).Scan(&exists); err != nil {
		return err
	}
	if exists {
		return ErrDuplicate
	}
	return ErrNotFound
}

func (s *PostgresStore) UpdatePostStatus(ctx context.Context, id string, status models.PostStatus) error {
	res, err := s.db.ExecContext(ctx, `UPDATE discovered_posts SET status=$1 WHERE id=$2`, string(status), id)
	return expectOneRow(res, err)
}

func (s *PostgresStore) PurgeDismissedPosts(ctx context.Context, before time.Time) (int, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM discovered_posts WHERE status=$1 AND discovered_at < $2`, string(models.PostStatusDismissed), before)
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	return int(n), err
}

const replyColumns = `id, post_id, draft_content, final_content, status, draft_model, draft_cost, scheduled_for, sent_at, created_at, updated_at`

func scanReply(row rowScanner) (*models.Reply, error) {
	var r models.Reply
	var final sql.NullString
	var scheduled, sent sql.NullTime
	err := row.Scan(&r.ID, &r.PostID, &r.DraftContent, &final, &r.Status, &r.DraftModel, &r.DraftCost,
		&scheduled, &sent, &r.CreatedAt, &r.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if final.Valid {
		r.FinalContent = &final.String
	}
	r.ScheduledFor = timePtr(scheduled)
	r.SentAt = timePtr(sent)
	return &r, nil
}

func (s *PostgresStore) CreateReply(ctx context.Context, r *models.Reply) error {
	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	return s.db.QueryRowContext(ctx, `
        INSERT INTO replies (id, post_id, draft_content, final_content, status, draft_model, draft_cost, scheduled_for, sent_at)
        VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
        RETURNING created_at, updated_at
    `, r.ID, r.PostID, r.DraftContent, nullString(r.FinalContent), string(r.Status), r.DraftModel, r.DraftCost,
		r.ScheduledFor, r.SentAt).Scan(&r.CreatedAt, &r.UpdatedAt)
}

func (s *PostgresStore) UpdateReply(ctx context.Context, r *models.Reply) error {
	err := s.db.QueryRowContext(ctx, `
        UPDATE replies
        SET draft_content=$1, final_content=$2, status=$3, draft_model=$4, draft_cost=$5, scheduled_for=$6, sent_at=$7, updated_at=now()
        WHERE id=$8
        RETURNING updated_at
    `, r.DraftContent, nullString(r.FinalContent), string(r.Status), r.DraftModel, r.DraftCost, r.ScheduledFor, r.SentAt, r.ID).
		Scan(&r.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	return err
}

func (s *PostgresStore) GetReply(ctx context.Context, id string) (*models.Reply, error) {
	return scanReply(s.db.QueryRowContext(ctx, `SELECT `+replyColumns+` FROM replies WHERE id=$1`, id))
}

func (s *PostgresStore) ListRepliesByPost(ctx context.Context, postID string) ([]*models.Reply, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+replyColumns+` FROM replies WHERE post_id=$1 ORDER BY created_at DESC`, postID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make([]*models.Reply, 0)
	for rows.Next() {
		r, err := scanReply(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *PostgresStore) CountRepliesSentSince(ctx context.Context, since time.Time) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT count(*) FROM replies WHERE status=$1 AND sent_at >= $2`, string(models.ReplyStatusSent), since).Scan(&n)
	return n, err
}

func (s *PostgresStore) GetOrCreateAutopilotConfig(ctx context.Context) (*models.AutopilotConfig, error) {
	def := models.DefaultAutopilotConfig(time.Now())
	windows, _ := json.Marshal(def.PostingWindows)
	_, err := s.db.ExecContext(ctx, `
        INSERT INTO autopilot_config (id, is_enabled, auto_draft_enabled, auto_schedule_enabled, auto_draft_min_score,
            max_drafts_per_day, max_replies_per_hour, max_replies_per_day, schedule_delay_minutes, posting_windows, last_reset_at)
        VALUES (1,$1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
        ON CONFLICT (id) DO NOTHING
    `, def.IsEnabled, def.AutoDraftEnabled, def.AutoScheduleEnabled, def.AutoDraftMinScore, def.MaxDraftsPerDay,
		def.MaxRepliesPerHour, def.MaxRepliesPerDay, def.ScheduleDelayMinutes, windows, def.LastResetAt)
	if err != nil {
		return nil, fmt.Errorf("ensure autopilot config: %w", err)
	}

	var c models.AutopilotConfig
	var intents, platforms []string
	var windowsJSON []byte
	err = s.db.QueryRowContext(ctx, `
        SELECT is_enabled, auto_draft_enabled, auto_schedule_enabled, auto_draft_min_score, allowed_intents, allowed_platforms,
            max_drafts_per_day, max_replies_per_hour, max_replies_per_day, schedule_delay_minutes, posting_windows,
            drafts_today, replies_sent_today, last_reset_at
        FROM autopilot_config WHERE id=1
    `).Scan(&c.IsEnabled, &c.AutoDraftEnabled, &c.AutoScheduleEnabled, &c.AutoDraftMinScore, pq.Array(&intents),
		pq.Array(&platforms), &c.MaxDraftsPerDay, &c.MaxRepliesPerHour, &c.MaxRepliesPerDay, &c.ScheduleDelayMinutes,
		&windowsJSON, &c.DraftsToday, &c.RepliesSentToday, &c.LastResetAt)
	if err != nil {
		return nil, err
	}
	c.AllowedIntents = fromStrings[models.IntentType](intents)
	c.AllowedPlatforms = fromStrings[models.Platform](platforms)
	if len(windowsJSON) > 0 {
		if err := json.Unmarshal(windowsJSON, &c.PostingWindows); err != nil {
			return nil, fmt.Errorf("decode posting windows: %w", err)
		}
	}
	return &c, nil
}

func (s *PostgresStore) SaveAutopilotConfig(ctx context.Context, c *models.AutopilotConfig) error {
	windows, err := json.Marshal(c.PostingWindows)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
        INSERT INTO autopilot_config (id, is_enabled, auto_draft_enabled, auto_schedule_enabled, auto_draft_min_score,
            allowed_intents, allowed_platforms, max_drafts_per_day, max_replies_per_hour, max_replies_per_day,
            schedule_delay_minutes, posting_windows, drafts_today, replies_sent_today, last_reset_at)
        VALUES (1,$1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14)
        ON CONFLICT (id) DO UPDATE SET
            is_enabled=EXCLUDED.is_enabled, auto_draft_enabled=EXCLUDED.auto_draft_enabled,
            auto_schedule_enabled=EXCLUDED.auto_schedule_enabled, auto_draft_min_score=EXCLUDED.auto_draft_min_score,
            allowed_intents=EXCLUDED.allowed_intents, allowed_platforms=EXCLUDED.allowed_platforms,
            max_drafts_per_day=EXCLUDED.max_drafts_per_day, max_replies_per_hour=EXCLUDED.max_replies_per_hour,
            max_replies_per_day=EXCLUDED.max_replies_per_day, schedule_delay_minutes=EXCLUDED.schedule_delay_minutes,
            posting_windows=EXCLUDED.posting_windows, drafts_today=EXCLUDED.drafts_today,
            replies_sent_today=EXCLUDED.replies_sent_today, last_reset_at=EXCLUDED.last_reset_at
    `, c.IsEnabled, c.AutoDraftEnabled, c.AutoScheduleEnabled, c.AutoDraftMinScore,
		pq.Array(toStrings(c.AllowedIntents)), pq.Array(toStrings(c.AllowedPlatforms)), c.MaxDraftsPerDay,
		c.MaxRepliesPerHour, c.MaxRepliesPerDay, c.ScheduleDelayMinutes, windows, c.DraftsToday, c.RepliesSentToday,
		c.LastResetAt)
	return err
}

const queueColumns = `id, post_id, reply_id, priority, status, skip_reason, draft_content, attempts, scheduled_for, sent_at, created_at, updated_at`

func scanQueueItem(row rowScanner) (*models.AutopilotQueueItem, error) {
	var it models.AutopilotQueueItem
	var scheduled, sent sql.NullTime
	err := row.Scan(&it.ID, &it.PostID, &it.ReplyID, &it.Priority, &it.Status, &it.SkipReason, &it.DraftContent,
		&it.Attempts, &scheduled, &sent, &it.CreatedAt, &it.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	it.ScheduledFor = timePtr(scheduled)
	it.SentAt = timePtr(sent)
	return &it, nil
}

func (s *PostgresStore) CreateQueueItem(ctx context.Context, item *models.AutopilotQueueItem) error {
	if item.ID == "" {
		item.ID = uuid.NewString()
	}
	err := s.db.QueryRowContext(ctx, `
        INSERT INTO autopilot_queue (id, post_id, reply_id, priority, status, skip_reason, draft_content, attempts, scheduled_for, sent_at)
        VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
        RETURNING created_at, updated_at
    `, item.ID, item.PostID, item.ReplyID, item.Priority, string(item.Status), item.SkipReason, item.DraftContent,
		item.Attempts, item.ScheduledFor, item.SentAt).Scan(&item.CreatedAt, &item.UpdatedAt)
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code == "23505" {
		return ErrDuplicate
	}
	return err
}

func (s *PostgresStore) UpdateQueueItem(ctx context.Context, item *models.AutopilotQueueItem) error {
	err := s.db.QueryRowContext(ctx, `
        UPDATE autopilot_queue
        SET reply_id=$1, priority=$2, status=$3, skip_reason=$4, draft_content=$5, attempts=$6, scheduled_for=$7, sent_at=$8, updated_at=now()
        WHERE id=$9
        RETURNING updated_at
    `, item.ReplyID, item.Priority, string(item.Status), item.SkipReason, item.DraftContent, item.Attempts,
		item.ScheduledFor, item.SentAt, item.ID).Scan(&item.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	return err
}

func (s *PostgresStore) GetQueueItem(ctx context.Context, id string) (*models.AutopilotQueueItem, error) {
	return scanQueueItem(s.db.QueryRowContext(ctx, `SELECT `+queueColumns+` FROM autopilot_queue WHERE id=$1`, id))
}

func (s *PostgresStore) ListQueueItems(ctx context.Context, f QueueFilter) ([]*models.AutopilotQueueItem, error) {
	q := `SELECT ` + queueColumns + ` FROM autopilot_queue`
	var args []any
	var where []string
	if len(f.Statuses) > 0 {
		args = append(args, pq.Array(toStrings(f.Statuses)))
		where = append(where, fmt.Sprintf("status = ANY($%d)", len(args)))
	}
	if f.DueBy != nil {
		args = append(args, *f.DueBy)
		where = append(where, fmt.Sprintf("(scheduled_for IS NULL OR scheduled_for <= $%d)", len(args)))
	}
	if len(where) > 0 {
		q += " WHERE " + strings.Join(where, " AND ")
	}
	q += " ORDER BY priority DESC, created_at DESC"
	if f.Limit > 0 {
		args = append(args, f.Limit)
		q += fmt.Sprintf(" LIMIT $%d", len(args))
	}
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make([]*models.AutopilotQueueItem, 0)
	for rows.Next() {
		it, err := scanQueueItem(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, it)
	}
	return out, rows.Err()
}

func (s *PostgresStore) AppendUsage(ctx context.Context, entry *models.LlmUsageLog) error {
	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now()
	}
	_, err := s.db.ExecContext(ctx, `
        INSERT INTO llm_usage_logs (id, task, model, input_tokens, output_tokens, cost_usd, related_entity, created_at)
        VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
    `, entry.ID, string(entry.Task), entry.Model, entry.InputTokens, entry.OutputTokens, entry.CostUSD,
		entry.RelatedEntity, entry.CreatedAt)
	return err
}

func (s *PostgresStore) SumUsageCost(ctx context.Context, since time.Time) (float64, error) {
	var total float64
	err := s.db.QueryRowContext(ctx,
		`SELECT coalesce(sum(cost_usd), 0) FROM llm_usage_logs WHERE created_at >= $1`, since).Scan(&total)
	return total, err
}

func (s *PostgresStore) GetOrCreateBudgetSettings(ctx context.Context) (*models.BudgetSettings, error) {
	def := models.DefaultBudgetSettings()
	_, err := s.db.ExecContext(ctx, `
        INSERT INTO budget_settings (id, alert_threshold, hard_stop, exempt_tasks)
        VALUES (1,$1,$2,$3)
        ON CONFLICT (id) DO NOTHING
    `, def.AlertThreshold, def.HardStop, pq.Array(toStrings(def.ExemptTasks)))
	if err != nil {
		return nil, fmt.Errorf("ensure budget settings: %w", err)
	}

	var b models.BudgetSettings
	var limit sql.NullFloat64
	var lastAlert sql.NullTime
	var exempt []string
	err = s.db.QueryRowContext(ctx, `
        SELECT monthly_limit_usd, alert_threshold, hard_stop, exempt_tasks, last_alert_at
        FROM budget_settings WHERE id=1
    `).Scan(&limit, &b.AlertThreshold, &b.HardStop, pq.Array(&exempt), &lastAlert)
	if err != nil {
		return nil, err
	}
	if limit.Valid {
		b.MonthlyLimitUSD = &limit.Float64
	}
	b.ExemptTasks = fromStrings[models.TaskKind](exempt)
	b.LastAlertAt = timePtr(lastAlert)
	return &b, nil
}

func (s *PostgresStore) SaveBudgetSettings(ctx context.Context, b *models.BudgetSettings) error {
	_, err := s.db.ExecContext(ctx, `
        INSERT INTO budget_settings (id, monthly_limit_usd, alert_threshold, hard_stop, exempt_tasks, last_alert_at)
        VALUES (1,$1,$2,$3,$4,$5)
        ON CONFLICT (id) DO UPDATE SET
            monthly_limit_usd=EXCLUDED.monthly_limit_usd, alert_threshold=EXCLUDED.alert_threshold,
            hard_stop=EXCLUDED.hard_stop, exempt_tasks=EXCLUDED.exempt_tasks, last_alert_at=EXCLUDED.last_alert_at
    `, b.MonthlyLimitUSD, b.AlertThreshold, b.HardStop, pq.Array(toStrings(b.ExemptTasks)), b.LastAlertAt)
	return err
}

func expectOneRow(res sql.Result, err error) error {
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func ensureSliceNotNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

func nullString(s *string) any {
	if s == nil {
		return nil
	}
	return *s
}

func timePtr(t sql.NullTime) *time.Time {
	if !t.Valid {
		return nil
	}
	v := t.Time
	return &v
}

func toStrings[T ~string](in []T) []string {
	out := make([]string, 0, len(in))
	for _, v := range in {
		out = append(out, string(v))
	}
	return out
}

func fromStrings[T ~string](in []string) []T {
	if len(in) == 0 {
		return nil
	}
	out := make([]T, 0, len(in))
	for _, v := range in {
		out = append(out, T(v))
	}
	return out
}
