package autopilot

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/replyradar/internal/store"
	"github.com/replyradar/pkg/models"
)

// TickResult summarises one autopilot pass.
type TickResult struct {
	Enabled       bool   `json:"enabled"`
	CountersReset bool   `json:"counters_reset"`
	Admitted      int    `json:"admitted"`
	Drafted       int    `json:"drafted"`
	DraftFailed   int    `json:"draft_failed"`
	Skipped       int    `json:"skipped"`
	Approved      int    `json:"approved"`
	Sent          int    `json:"sent"`
	Deferred      int    `json:"deferred"`
	DeferReason   string `json:"defer_reason,omitempty"`
}

// Tick runs one bounded pass: daily reset, admission, drafting, auto-approval and sending of
// approved items whose scheduled time has passed.
func (s *Service) Tick(ctx context.Context) (TickResult, error) {
	s.tickMu.Lock()
	defer s.tickMu.Unlock()

	var res TickResult
	s.mu.Lock()
	cfg, reset, err := s.loadConfigLocked(ctx)
	if err != nil {
		s.mu.Unlock()
		return res, err
	}
	res.Enabled = cfg.IsEnabled
	res.CountersReset = reset
	if !cfg.IsEnabled {
		s.mu.Unlock()
		log.Debug().Msg("autopilot disabled; tick skipped")
		return res, nil
	}
	res.Admitted, err = s.admitLocked(ctx, cfg)
	s.mu.Unlock()
	if err != nil {
		return res, err
	}

	if cfg.AutoDraftEnabled {
		if err := s.draftPending(ctx, &res); err != nil {
			return res, err
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	cfg, _, err = s.loadConfigLocked(ctx)
	if err != nil {
		return res, err
	}
	if cfg.AutoScheduleEnabled {
		if err := s.autoApproveLocked(ctx, cfg, &res); err != nil {
			return res, err
		}
	}
	if err := s.sendDueLocked(ctx, &res); err != nil {
		return res, err
	}

	log.Info().
		Int("admitted", res.Admitted).
		Int("drafted", res.Drafted).
		Int("draft_failed", res.DraftFailed).
		Int("approved", res.Approved).
		Int("sent", res.Sent).
		Int("deferred", res.Deferred).
		Str("defer_reason", res.DeferReason).
		Msg("autopilot tick complete")
	return res, nil
}

func (s *Service) autoApproveLocked(ctx context.Context, cfg *models.AutopilotConfig, res *TickResult) error {
	items, err := s.store.ListQueueItems(ctx, store.QueueFilter{
		Statuses: []models.QueueStatus{models.QueueStatusDrafted},
		Limit:    s.batch,
	})
	if err != nil {
		return err
	}
	at := s.now().Add(time.Duration(cfg.ScheduleDelayMinutes) * time.Minute)
	for _, item := range items {
		if err := s.approveLocked(ctx, item, at); err != nil {
			log.Error().Err(err).Str("item_id", item.ID).Msg("auto-approve failed")
			continue
		}
		res.Approved++
	}
	return nil
}

// sendDueLocked sends due items in priority order. Pacing caps are global, so the first deferral
// defers every remaining due item.
func (s *Service) sendDueLocked(ctx context.Context, res *TickResult) error {
	now := s.now()
	due, err := s.store.ListQueueItems(ctx, store.QueueFilter{
		Statuses: []models.QueueStatus{models.QueueStatusApproved},
		DueBy:    &now,
		Limit:    s.batch,
	})
	if err != nil {
		return err
	}
	for i, item := range due {
		err := s.sendLocked(ctx, item)
		var deferred *DeferredError
		if errors.As(err, &deferred) {
			res.Deferred = len(due) - i
			res.DeferReason = deferred.Reason
			return nil
		}
		if err != nil {
			log.Error().Err(err).Str("item_id", item.ID).Msg("send failed; item stays approved")
			continue
		}
		res.Sent++
	}
	return nil
}
