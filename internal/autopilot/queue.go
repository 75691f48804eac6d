package autopilot

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/replyradar/internal/metrics"
	"github.com/replyradar/internal/store"
	"github.com/replyradar/pkg/models"
)

// List returns queue items in scan order.
func (s *Service) List(ctx context.Context, filter store.QueueFilter) ([]*models.AutopilotQueueItem, error) {
	return s.store.ListQueueItems(ctx, filter)
}

// Admit queues eligible posts, up to the drafts still available today.
func (s *Service) Admit(ctx context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cfg, _, err := s.loadConfigLocked(ctx)
	if err != nil {
		return 0, err
	}
	return s.admitLocked(ctx, cfg)
}

func (s *Service) admitLocked(ctx context.Context, cfg *models.AutopilotConfig) (int, error) {
	if !cfg.IsEnabled {
		return 0, nil
	}
	pending, err := s.store.ListQueueItems(ctx, store.QueueFilter{Statuses: []models.QueueStatus{models.QueueStatusPending}})
	if err != nil {
		return 0, fmt.Errorf("list pending items: %w", err)
	}
	slots := cfg.MaxDraftsPerDay - cfg.DraftsToday - len(pending)
	if slots <= 0 {
		return 0, nil
	}

	minScore := cfg.AutoDraftMinScore
	posts, err := s.store.ListPosts(ctx, store.PostFilter{
		Statuses:  []models.PostStatus{models.PostStatusNew},
		Platforms: cfg.AllowedPlatforms,
		Intents:   cfg.AllowedIntents,
		MinScore:  &minScore,
		Limit:     s.batch * 5,
	})
	if err != nil {
		return 0, fmt.Errorf("list candidate posts: %w", err)
	}
	sort.SliceStable(posts, func(i, j int) bool { return Priority(posts[i]) > Priority(posts[j]) })

	admitted := 0
	for _, p := range posts {
		if admitted >= slots || admitted >= s.batch {
			break
		}
		if ok, reason := Eligible(cfg, p); !ok {
			log.Debug().Str("post_id", p.ID).Str("reason", reason).Msg("post not eligible for autopilot")
			continue
		}
		item := &models.AutopilotQueueItem{
			PostID:   p.ID,
			Priority: Priority(p),
			Status:   models.QueueStatusPending,
		}
		err := s.store.CreateQueueItem(ctx, item)
		if errors.Is(err, store.ErrDuplicate) {
			continue
		}
		if err != nil {
			log.Error().Err(err).Str("post_id", p.ID).Msg("failed to queue post")
			continue
		}
		if err := s.store.UpdatePostStatus(ctx, p.ID, models.PostStatusQueued); err != nil {
			log.Error().Err(err).Str("post_id", p.ID).Msg("failed to mark post queued")
		}
		metrics.QueueTransitions.WithLabelValues(string(models.QueueStatusPending)).Inc()
		admitted++
	}
	return admitted, nil
}

// draftPending drafts pending items in priority order until the daily draft cap is hit.
// Only Tick calls it, so drafting is serialised by tickMu.
func (s *Service) draftPending(ctx context.Context, res *TickResult) error {
	items, err := s.store.ListQueueItems(ctx, store.QueueFilter{
		Statuses: []models.QueueStatus{models.QueueStatusPending},
		Limit:    s.batch,
	})
	if err != nil {
		return fmt.Errorf("list pending items: %w", err)
	}
	for _, item := range items {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		cfg, err := s.Config(ctx)
		if err != nil {
			return err
		}
		if !cfg.IsEnabled || !cfg.AutoDraftEnabled || cfg.DraftsToday >= cfg.MaxDraftsPerDay {
			return nil
		}

		post, err := s.store.GetPost(ctx, item.PostID)
		switch {
		case errors.Is(err, store.ErrNotFound):
			s.autoSkip(ctx, item.ID, "post no longer exists", res)
			continue
		case err != nil:
			log.Error().Err(err).Str("item_id", item.ID).Msg("failed to load queued post")
			continue
		case post.Status == models.PostStatusDismissed:
			s.autoSkip(ctx, item.ID, "post was dismissed", res)
			continue
		}

		reply := s.drafter.Draft(ctx, post)
		if reply == nil {
			s.recordDraftFailure(ctx, item.ID, res)
			continue
		}
		s.markDrafted(ctx, item.ID, reply, res)
	}
	return nil
}

func (s *Service) markDrafted(ctx context.Context, itemID string, reply *models.Reply, res *TickResult) {
	s.mu.Lock()
	defer s.mu.Unlock()
	item, err := s.store.GetQueueItem(ctx, itemID)
	if err != nil {
		log.Error().Err(err).Str("item_id", itemID).Msg("failed to reload queue item")
		return
	}
	if item.Status != models.QueueStatusPending {
		log.Warn().Str("item_id", itemID).Str("status", string(item.Status)).Msg("queue item changed while drafting; draft kept unattached")
		return
	}
	item.Status = models.QueueStatusDrafted
	item.ReplyID = reply.ID
	item.DraftContent = reply.Content()
	if err := s.store.UpdateQueueItem(ctx, item); err != nil {
		log.Error().Err(err).Str("item_id", itemID).Msg("failed to save drafted item")
		return
	}
	cfg, _, err := s.loadConfigLocked(ctx)
	if err != nil {
		log.Error().Err(err).Msg("failed to load autopilot config")
		return
	}
	cfg.DraftsToday++
	if err := s.store.SaveAutopilotConfig(ctx, cfg); err != nil {
		log.Error().Err(err).Msg("failed to save draft counter")
	}
	metrics.QueueTransitions.WithLabelValues(string(models.QueueStatusDrafted)).Inc()
	res.Drafted++
}

func (s *Service) recordDraftFailure(ctx context.Context, itemID string, res *TickResult) {
	s.mu.Lock()
	defer s.mu.Unlock()
	item, err := s.store.GetQueueItem(ctx, itemID)
	if err != nil || item.Status != models.QueueStatusPending {
		return
	}
	item.Attempts++
	res.DraftFailed++
	if item.Attempts >= MaxDraftAttempts {
		item.Status = models.QueueStatusSkipped
		item.SkipReason = fmt.Sprintf("draft failed %d times", item.Attempts)
		res.Skipped++
		metrics.QueueTransitions.WithLabelValues(string(models.QueueStatusSkipped)).Inc()
	}
	if err := s.store.UpdateQueueItem(ctx, item); err != nil {
		log.Error().Err(err).Str("item_id", itemID).Msg("failed to record draft failure")
		return
	}
	log.Warn().Str("item_id", itemID).Int("attempts", item.Attempts).Str("status", string(item.Status)).Msg("draft attempt failed")
}

func (s *Service) autoSkip(ctx context.Context, itemID, reason string, res *TickResult) {
	s.mu.Lock()
	defer s.mu.Unlock()
	item, err := s.store.GetQueueItem(ctx, itemID)
	if err != nil || item.Status.Terminal() {
		return
	}
	item.Status = models.QueueStatusSkipped
	item.SkipReason = reason
	if err := s.store.UpdateQueueItem(ctx, item); err != nil {
		log.Error().Err(err).Str("item_id", itemID).Msg("failed to skip queue item")
		return
	}
	metrics.QueueTransitions.WithLabelValues(string(models.QueueStatusSkipped)).Inc()
	res.Skipped++
}

// Approve schedules a drafted item for sending now.
func (s *Service) Approve(ctx context.Context, itemID string) (*models.AutopilotQueueItem, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	item, err := s.store.GetQueueItem(ctx, itemID)
	if err != nil {
		return nil, err
	}
	if err := s.approveLocked(ctx, item, s.now()); err != nil {
		return nil, err
	}
	return item, nil
}

func (s *Service) approveLocked(ctx context.Context, item *models.AutopilotQueueItem, at time.Time) error {
	if item.Status != models.QueueStatusDrafted {
		return fmt.Errorf("%w: approve %s item", ErrInvalidTransition, item.Status)
	}
	reply, err := s.store.GetReply(ctx, item.ReplyID)
	if err != nil {
		return fmt.Errorf("load reply: %w", err)
	}
	reply.Status = models.ReplyStatusScheduled
	reply.ScheduledFor = &at
	if err := s.store.UpdateReply(ctx, reply); err != nil {
		return fmt.Errorf("schedule reply: %w", err)
	}
	item.Status = models.QueueStatusApproved
	item.ScheduledFor = &at
	if err := s.store.UpdateQueueItem(ctx, item); err != nil {
		return fmt.Errorf("approve item: %w", err)
	}
	metrics.QueueTransitions.WithLabelValues(string(models.QueueStatusApproved)).Inc()
	return nil
}

// Skip drops a pending or drafted item and dismisses its post.
func (s *Service) Skip(ctx context.Context, itemID, reason string) (*models.AutopilotQueueItem, error) {
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return nil, fmt.Errorf("%w: skip reason is required", ErrInvalidInput)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	item, err := s.store.GetQueueItem(ctx, itemID)
	if err != nil {
		return nil, err
	}
	if item.Status != models.QueueStatusPending && item.Status != models.QueueStatusDrafted {
		return nil, fmt.Errorf("%w: skip %s item", ErrInvalidTransition, item.Status)
	}
	item.Status = models.QueueStatusSkipped
	item.SkipReason = reason
	if err := s.store.UpdateQueueItem(ctx, item); err != nil {
		return nil, fmt.Errorf("skip item: %w", err)
	}
	if err := s.store.UpdatePostStatus(ctx, item.PostID, models.PostStatusDismissed); err != nil && !errors.Is(err, store.ErrNotFound) {
		log.Error().Err(err).Str("post_id", item.PostID).Msg("failed to dismiss skipped post")
	}
	metrics.QueueTransitions.WithLabelValues(string(models.QueueStatusSkipped)).Inc()
	return item, nil
}

// EditDraft stores human-edited text as the reply's final content.
func (s *Service) EditDraft(ctx context.Context, itemID, content string) (*models.AutopilotQueueItem, error) {
	content = strings.TrimSpace(content)
	if content == "" {
		return nil, fmt.Errorf("%w: edited content is empty", ErrInvalidInput)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	item, err := s.store.GetQueueItem(ctx, itemID)
	if err != nil {
		return nil, err
	}
	if item.Status != models.QueueStatusDrafted && item.Status != models.QueueStatusApproved {
		return nil, fmt.Errorf("%w: edit %s item", ErrInvalidTransition, item.Status)
	}
	reply, err := s.store.GetReply(ctx, item.ReplyID)
	if err != nil {
		return nil, fmt.Errorf("load reply: %w", err)
	}
	reply.FinalContent = &content
	if err := s.store.UpdateReply(ctx, reply); err != nil {
		return nil, fmt.Errorf("save edit: %w", err)
	}
	item.DraftContent = content
	if err := s.store.UpdateQueueItem(ctx, item); err != nil {
		return nil, fmt.Errorf("save edit: %w", err)
	}
	return item, nil
}

// Regenerate replaces the draft of a drafted or approved item and returns it to drafted.
// The LLM call runs without holding the service lock.
func (s *Service) Regenerate(ctx context.Context, itemID string) (*models.AutopilotQueueItem, error) {
	s.mu.Lock()
	item, err := s.store.GetQueueItem(ctx, itemID)
	if err != nil {
		s.mu.Unlock()
		return nil, err
	}
	if item.Status != models.QueueStatusDrafted && item.Status != models.QueueStatusApproved {
		s.mu.Unlock()
		return nil, fmt.Errorf("%w: regenerate %s item", ErrInvalidTransition, item.Status)
	}
	reply, rerr := s.store.GetReply(ctx, item.ReplyID)
	post, perr := s.store.GetPost(ctx, item.PostID)
	s.mu.Unlock()
	if rerr != nil {
		return nil, fmt.Errorf("load reply: %w", rerr)
	}
	if perr != nil {
		return nil, fmt.Errorf("load post: %w", perr)
	}

	updated := s.drafter.Regenerate(ctx, reply, post)
	if updated == nil {
		return nil, ErrRegenerateFailed
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	item, err = s.store.GetQueueItem(ctx, itemID)
	if err != nil {
		return nil, err
	}
	if item.Status.Terminal() {
		return nil, fmt.Errorf("%w: item became %s while regenerating", ErrInvalidTransition, item.Status)
	}
	item.Status = models.QueueStatusDrafted
	item.DraftContent = updated.Content()
	item.ScheduledFor = nil
	if err := s.store.UpdateQueueItem(ctx, item); err != nil {
		return nil, fmt.Errorf("save regenerated item: %w", err)
	}
	metrics.QueueTransitions.WithLabelValues(string(models.QueueStatusDrafted)).Inc()
	return item, nil
}

// Send publishes an approved item if pacing allows. A paced-out send returns a *DeferredError.
func (s *Service) Send(ctx context.Context, itemID string) (*models.AutopilotQueueItem, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	item, err := s.store.GetQueueItem(ctx, itemID)
	if err != nil {
		return nil, err
	}
	if err := s.sendLocked(ctx, item); err != nil {
		return nil, err
	}
	return item, nil
}

// sendLocked holds the service lock across the pacing check and the counter increment so two
// sends cannot both pass a cap with one slot left.
func (s *Service) sendLocked(ctx context.Context, item *models.AutopilotQueueItem) error {
	if item.Status != models.QueueStatusApproved {
		return fmt.Errorf("%w: send %s item", ErrInvalidTransition, item.Status)
	}
	cfg, _, err := s.loadConfigLocked(ctx)
	if err != nil {
		return err
	}
	if ok, reason := s.canSendLocked(ctx, cfg); !ok {
		return &DeferredError{Reason: reason}
	}
	post, err := s.store.GetPost(ctx, item.PostID)
	if err != nil {
		return fmt.Errorf("load post: %w", err)
	}
	reply, err := s.store.GetReply(ctx, item.ReplyID)
	if err != nil {
		return fmt.Errorf("load reply: %w", err)
	}
	content := reply.Content()
	if err := s.sender.Publish(ctx, post, content); err != nil {
		return fmt.Errorf("publish reply: %w", err)
	}

	now := s.now()
	reply.Status = models.ReplyStatusSent
	reply.SentAt = &now
	if err := s.store.UpdateReply(ctx, reply); err != nil {
		return fmt.Errorf("mark reply sent: %w", err)
	}
	item.Status = models.QueueStatusSent
	item.SentAt = &now
	item.DraftContent = content
	if err := s.store.UpdateQueueItem(ctx, item); err != nil {
		return fmt.Errorf("mark item sent: %w", err)
	}
	if err := s.store.UpdatePostStatus(ctx, post.ID, models.PostStatusReplied); err != nil {
		log.Error().Err(err).Str("post_id", post.ID).Msg("failed to mark post replied")
	}
	cfg.RepliesSentToday++
	if err := s.store.SaveAutopilotConfig(ctx, cfg); err != nil {
		log.Error().Err(err).Msg("failed to save reply counter")
	}
	metrics.QueueTransitions.WithLabelValues(string(models.QueueStatusSent)).Inc()
	log.Info().Str("item_id", item.ID).Str("post_id", post.ID).Int("replies_sent_today", cfg.RepliesSentToday).Msg("reply sent")
	return nil
}
