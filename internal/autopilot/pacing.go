package autopilot

import (
	"context"
	"fmt"
	"time"

	"github.com/replyradar/pkg/models"
)

const minutesPerDay = 24 * 60

func validateWindow(w models.PostingWindow) error {
	if w.Start < 0 || w.Start >= minutesPerDay || w.End < 0 || w.End > minutesPerDay {
		return fmt.Errorf("posting window %d-%d is outside 0-%d minutes", w.Start, w.End, minutesPerDay)
	}
	if w.Start == w.End {
		return fmt.Errorf("posting window %d-%d is empty", w.Start, w.End)
	}
	for _, d := range w.Days {
		if d < time.Sunday || d > time.Saturday {
			return fmt.Errorf("posting window has invalid weekday %d", d)
		}
	}
	return nil
}

// InPostingWindow reports whether t falls inside any window. No windows means any time is allowed.
// A window that wraps midnight belongs to the weekday it starts on.
func InPostingWindow(windows []models.PostingWindow, t time.Time) bool {
	if len(windows) == 0 {
		return true
	}
	minute := t.Hour()*60 + t.Minute()
	for _, w := range windows {
		if inWindow(w, minute, t.Weekday()) {
			return true
		}
	}
	return false
}

func inWindow(w models.PostingWindow, minute int, day time.Weekday) bool {
	if w.Start < w.End {
		return minute >= w.Start && minute < w.End && dayAllowed(w.Days, day)
	}
	if minute >= w.Start {
		return dayAllowed(w.Days, day)
	}
	if minute < w.End {
		return dayAllowed(w.Days, (day+6)%7)
	}
	return false
}

func dayAllowed(days []time.Weekday, d time.Weekday) bool {
	if len(days) == 0 {
		return true
	}
	for _, x := range days {
		if x == d {
			return true
		}
	}
	return false
}

// canSendLocked checks the daily cap, the trailing hour cap and the posting windows.
func (s *Service) canSendLocked(ctx context.Context, cfg *models.AutopilotConfig) (bool, string) {
	if cfg.RepliesSentToday >= cfg.MaxRepliesPerDay {
		return false, fmt.Sprintf("daily reply cap reached (%d/%d)", cfg.RepliesSentToday, cfg.MaxRepliesPerDay)
	}
	now := s.now()
	recent, err := s.store.CountRepliesSentSince(ctx, now.Add(-time.Hour))
	if err != nil {
		return false, fmt.Sprintf("could not count recent replies: %v", err)
	}
	if recent >= cfg.MaxRepliesPerHour {
		return false, fmt.Sprintf("hourly reply cap reached (%d/%d)", recent, cfg.MaxRepliesPerHour)
	}
	if !InPostingWindow(cfg.PostingWindows, now.In(s.loc)) {
		return false, "outside posting windows"
	}
	return true, ""
}

var intentBonus = map[models.IntentType]int{
	models.IntentQuestion:   5,
	models.IntentComplaint:  4,
	models.IntentDiscussion: 2,
	models.IntentShowcase:   0,
}

// Priority orders queue items. The intent bonus stays below 10 so a higher relevance score
// always wins.
func Priority(post *models.DiscoveredPost) int {
	p := 0
	if post.RelevanceScore != nil {
		p = *post.RelevanceScore * 10
	}
	if post.Intent != nil {
		p += intentBonus[*post.Intent]
	}
	return p
}

// Eligible reports whether a post may be admitted to the queue under cfg, with the reason when not.
func Eligible(cfg *models.AutopilotConfig, post *models.DiscoveredPost) (bool, string) {
	switch {
	case !cfg.IsEnabled:
		return false, "autopilot disabled"
	case post.Status != models.PostStatusNew:
		return false, "post is " + string(post.Status)
	case !post.Classified():
		return false, "post not classified"
	case *post.RelevanceScore < cfg.AutoDraftMinScore:
		return false, fmt.Sprintf("score %d below %d", *post.RelevanceScore, cfg.AutoDraftMinScore)
	case len(cfg.AllowedIntents) > 0 && (post.Intent == nil || !contains(cfg.AllowedIntents, *post.Intent)):
		return false, "intent not allowed"
	case len(cfg.AllowedPlatforms) > 0 && !contains(cfg.AllowedPlatforms, post.Platform):
		return false, "platform not allowed"
	case cfg.DraftsToday >= cfg.MaxDraftsPerDay:
		return false, "daily draft cap reached"
	}
	return true, ""
}

func contains[T comparable](xs []T, v T) bool {
	for _, x := range xs {
		if x == v {
			return true
		}
	}
	return false
}
