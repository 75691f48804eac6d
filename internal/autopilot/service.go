// Package autopilot runs the reply queue: it admits classified posts, drafts them, approves
// drafts when configured to, and sends approved replies within the configured pacing caps.
package autopilot

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/replyradar/internal/store"
	"github.com/replyradar/pkg/models"
)

const (
	// MaxDraftAttempts is how many failed drafts an item gets before it is skipped.
	MaxDraftAttempts = 3
	DefaultBatchSize = 20
)

var (
	ErrInvalidTransition = errors.New("invalid queue transition")
	ErrSendDeferred      = errors.New("send deferred")
	ErrRegenerateFailed  = errors.New("regenerate produced no draft")
	ErrInvalidInput      = errors.New("invalid input")
)

// DeferredError explains why a send was postponed. It matches ErrSendDeferred.
type DeferredError struct {
	Reason string
}

func (e *DeferredError) Error() string        { return "send deferred: " + e.Reason }
func (e *DeferredError) Is(target error) bool { return target == ErrSendDeferred }

// Drafter produces and replaces reply drafts. It returns nil when no draft was produced.
type Drafter interface {
	Draft(ctx context.Context, post *models.DiscoveredPost) *models.Reply
	Regenerate(ctx context.Context, reply *models.Reply, post *models.DiscoveredPost) *models.Reply
}

// Service owns the autopilot config counters and the queue state machine. Counter and item
// updates run under mu; Tick passes are serialised by tickMu. LLM calls happen outside mu.
type Service struct {
	store   store.Store
	drafter Drafter
	sender  Sender
	loc     *time.Location
	now     func() time.Time
	batch   int

	mu     sync.Mutex
	tickMu sync.Mutex
}

type Option func(*Service)

func WithClock(now func() time.Time) Option { return func(s *Service) { s.now = now } }

func WithSender(sender Sender) Option {
	return func(s *Service) {
		if sender != nil {
			s.sender = sender
		}
	}
}

// WithLocation sets the zone for day boundaries and posting windows.
func WithLocation(loc *time.Location) Option {
	return func(s *Service) {
		if loc != nil {
			s.loc = loc
		}
	}
}

func WithBatchSize(n int) Option {
	return func(s *Service) {
		if n > 0 {
			s.batch = n
		}
	}
}

func New(st store.Store, d Drafter, opts ...Option) *Service {
	s := &Service{
		store:   st,
		drafter: d,
		sender:  ManualSender{},
		loc:     time.UTC,
		now:     time.Now,
		batch:   DefaultBatchSize,
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Config returns the current configuration after applying any pending daily reset.
func (s *Service) Config(ctx context.Context) (*models.AutopilotConfig, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cfg, _, err := s.loadConfigLocked(ctx)
	return cfg, err
}

// loadConfigLocked reads the singleton config and zeroes the daily counters the first time it
// is read on a new calendar day.
func (s *Service) loadConfigLocked(ctx context.Context) (*models.AutopilotConfig, bool, error) {
	cfg, err := s.store.GetOrCreateAutopilotConfig(ctx)
	if err != nil {
		return nil, false, fmt.Errorf("load autopilot config: %w", err)
	}
	now := s.now()
	if sameDay(cfg.LastResetAt, now, s.loc) {
		return cfg, false, nil
	}
	log.Info().
		Int("drafts_today", cfg.DraftsToday).
		Int("replies_sent_today", cfg.RepliesSentToday).
		Time("last_reset_at", cfg.LastResetAt).
		Msg("resetting autopilot daily counters")
	cfg.DraftsToday = 0
	cfg.RepliesSentToday = 0
	cfg.LastResetAt = now
	if err := s.store.SaveAutopilotConfig(ctx, cfg); err != nil {
		return nil, false, fmt.Errorf("save autopilot counters: %w", err)
	}
	return cfg, true, nil
}

func sameDay(a, b time.Time, loc *time.Location) bool {
	ay, am, ad := a.In(loc).Date()
	by, bm, bd := b.In(loc).Date()
	return ay == by && am == bm && ad == bd
}

// ConfigUpdate carries operator edits. Nil fields are left unchanged.
type ConfigUpdate struct {
	IsEnabled            *bool                   `json:"is_enabled"`
	AutoDraftEnabled     *bool                   `json:"auto_draft_enabled"`
	AutoScheduleEnabled  *bool                   `json:"auto_schedule_enabled"`
	AutoDraftMinScore    *int                    `json:"auto_draft_min_score"`
	AllowedIntents       *[]models.IntentType    `json:"allowed_intents"`
	AllowedPlatforms     *[]models.Platform      `json:"allowed_platforms"`
	MaxDraftsPerDay      *int                    `json:"max_drafts_per_day"`
	MaxRepliesPerHour    *int                    `json:"max_replies_per_hour"`
	MaxRepliesPerDay     *int                    `json:"max_replies_per_day"`
	ScheduleDelayMinutes *int                    `json:"schedule_delay_minutes"`
	PostingWindows       *[]models.PostingWindow `json:"posting_windows"`
}

func (s *Service) UpdateConfig(ctx context.Context, u ConfigUpdate) (*models.AutopilotConfig, error) {
	if err := u.validate(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	cfg, _, err := s.loadConfigLocked(ctx)
	if err != nil {
		return nil, err
	}
	setIf(&cfg.IsEnabled, u.IsEnabled)
	setIf(&cfg.AutoDraftEnabled, u.AutoDraftEnabled)
	setIf(&cfg.AutoScheduleEnabled, u.AutoScheduleEnabled)
	setIf(&cfg.AutoDraftMinScore, u.AutoDraftMinScore)
	setIf(&cfg.AllowedIntents, u.AllowedIntents)
	setIf(&cfg.AllowedPlatforms, u.AllowedPlatforms)
	setIf(&cfg.MaxDraftsPerDay, u.MaxDraftsPerDay)
	setIf(&cfg.MaxRepliesPerHour, u.MaxRepliesPerHour)
	setIf(&cfg.MaxRepliesPerDay, u.MaxRepliesPerDay)
	setIf(&cfg.ScheduleDelayMinutes, u.ScheduleDelayMinutes)
	setIf(&cfg.PostingWindows, u.PostingWindows)
	if err := s.store.SaveAutopilotConfig(ctx, cfg); err != nil {
		return nil, fmt.Errorf("save autopilot config: %w", err)
	}
	return cfg, nil
}

func setIf[T any](dst *T, v *T) {
	if v != nil {
		*dst = *v
	}
}

func (u ConfigUpdate) validate() error {
	if u.AutoDraftMinScore != nil && (*u.AutoDraftMinScore < 0 || *u.AutoDraftMinScore > 100) {
		return fmt.Errorf("%w: auto_draft_min_score must be between 0 and 100", ErrInvalidInput)
	}
	for name, v := range map[string]*int{
		"max_drafts_per_day":     u.MaxDraftsPerDay,
		"max_replies_per_hour":   u.MaxRepliesPerHour,
		"max_replies_per_day":    u.MaxRepliesPerDay,
		"schedule_delay_minutes": u.ScheduleDelayMinutes,
	} {
		if v != nil && *v < 0 {
			return fmt.Errorf("%w: %s must not be negative", ErrInvalidInput, name)
		}
	}
	if u.AllowedIntents != nil {
		for _, i := range *u.AllowedIntents {
			if _, ok := models.ParseIntent(string(i)); !ok {
				return fmt.Errorf("%w: unknown intent %q", ErrInvalidInput, i)
			}
		}
	}
	if u.PostingWindows != nil {
		for _, w := range *u.PostingWindows {
			if err := validateWindow(w); err != nil {
				return fmt.Errorf("%w: %v", ErrInvalidInput, err)
			}
		}
	}
	return nil
}
