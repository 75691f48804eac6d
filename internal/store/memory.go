package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/replyradar/pkg/models"
)

type postKey struct {
	platform   models.Platform
	externalID string
}

// MemoryStore is a threadsafe in-memory Store used by tests and the single-binary dev mode.
type MemoryStore struct {
	mu        sync.RWMutex
	posts     map[string]*models.DiscoveredPost
	postByKey map[postKey]string
	replies   map[string]*models.Reply
	queue     map[string]*models.AutopilotQueueItem
	queueByPP map[string]string
	usage     []*models.LlmUsageLog
	autopilot *models.AutopilotConfig
	budget    *models.BudgetSettings
	now       func() time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		posts:     make(map[string]*models.DiscoveredPost),
		postByKey: make(map[postKey]string),
		replies:   make(map[string]*models.Reply),
		queue:     make(map[string]*models.AutopilotQueueItem),
		queueByPP: make(map[string]string),
		now:       time.Now,
	}
}

// SetClock replaces the time source used for created/updated stamps.
func (s *MemoryStore) SetClock(now func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.now = now
}

func (s *MemoryStore) InsertPostIfAbsent(ctx context.Context, p *models.DiscoveredPost) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	k := postKey{p.Platform, p.ExternalID}
	if _, ok := s.postByKey[k]; ok {
		return false, nil
	}
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	if p.Status == "" {
		p.Status = models.PostStatusNew
	}
	if p.DiscoveredAt.IsZero() {
		p.DiscoveredAt = s.now()
	}
	s.posts[p.ID] = clonePost(p)
	s.postByKey[k] = p.ID
	return true, nil
}

func (s *MemoryStore) GetPost(ctx context.Context, id string) (*models.DiscoveredPost, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.posts[id]
	if !ok {
		return nil, ErrNotFound
	}
	return clonePost(p), nil
}

func (s *MemoryStore) GetPostByKey(ctx context.Context, platform models.Platform, externalID string) (*models.DiscoveredPost, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.postByKey[postKey{platform, externalID}]
	if !ok {
		return nil, ErrNotFound
	}
	return clonePost(s.posts[id]), nil
}

func (s *MemoryStore) ListPosts(ctx context.Context, f PostFilter) ([]*models.DiscoveredPost, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*models.DiscoveredPost, 0)
	for _, p := range s.posts {
		if matchPost(p, f) {
			out = append(out, clonePost(p))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].DiscoveredAt.Equal(out[j].DiscoveredAt) {
			return out[i].DiscoveredAt.After(out[j].DiscoveredAt)
		}
		return out[i].ID < out[j].ID
	})
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out, nil
}

func matchPost(p *models.DiscoveredPost, f PostFilter) bool {
	if len(f.Statuses) > 0 && !containsValue(f.Statuses, p.Status) {
		return false
	}
	if len(f.Platforms) > 0 && !containsValue(f.Platforms, p.Platform) {
		return false
	}
	if f.Unclassified && p.RelevanceScore != nil {
		return false
	}
	if f.MinScore != nil && (p.RelevanceScore == nil || *p.RelevanceScore < *f.MinScore) {
		return false
	}
	if len(f.Intents) > 0 && (p.Intent == nil || !containsValue(f.Intents, *p.Intent)) {
		return false
	}
	return true
}

func (s *MemoryStore) UpdatePostClassification(ctx context.Context, id string, score int, intent models.IntentType, audience models.AudienceType, model string, cost float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.posts[id]
	if !ok {
		return ErrNotFound
	}
	if p.Classified() {
		return ErrDuplicate
	}
	p.RelevanceScore = &score
	p.Intent = &intent
	p.Audience = &audience
	p.ClassificationModel = model
	p.ClassificationCost = cost
	return nil
}

func (s *MemoryStore) UpdatePostStatus(ctx context.Context, id string, status models.PostStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.posts[id]
	if !ok {
		return ErrNotFound
	}
	p.Status = status
	return nil
}

func (s *MemoryStore) PurgeDismissedPosts(ctx context.Context, before time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for id, p := range s.posts {
		if p.Status != models.PostStatusDismissed || !p.DiscoveredAt.Before(before) {
			continue
		}
		delete(s.posts, id)
		delete(s.postByKey, postKey{p.Platform, p.ExternalID})
		for rid, r := range s.replies {
			if r.PostID == id {
				delete(s.replies, rid)
			}
		}
		if qid, ok := s.queueByPP[id]; ok {
			delete(s.queue, qid)
			delete(s.queueByPP, id)
		}
		n++
	}
	return n, nil
}

func (s *MemoryStore) CreateReply(ctx context.Context, r *models.Reply) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.posts[r.PostID]; !ok {
		return ErrNotFound
	}
	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	r.CreatedAt = s.now()
	r.UpdatedAt = r.CreatedAt
	s.replies[r.ID] = cloneReply(r)
	return nil
}

func (s *MemoryStore) UpdateReply(ctx context.Context, r *models.Reply) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	old, ok := s.replies[r.ID]
	if !ok {
		return ErrNotFound
	}
	r.CreatedAt = old.CreatedAt
	r.UpdatedAt = s.now()
	s.replies[r.ID] = cloneReply(r)
	return nil
}

func (s *MemoryStore) GetReply(ctx context.Context, id string) (*models.Reply, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.replies[id]
	if !ok {
		return nil, ErrNotFound
	}
	return cloneReply(r), nil
}

func (s *MemoryStore) ListRepliesByPost(ctx context.Context, postID string) ([]*models.Reply, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*models.Reply, 0)
	for _, r := range s.replies {
		if r.PostID == postID {
			out = append(out, cloneReply(r))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (s *MemoryStore) CountRepliesSentSince(ctx context.Context, since time.Time) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n := 0
	for _, r := range s.replies {
		if r.Status == models.ReplyStatusSent && r.SentAt != nil && !r.SentAt.Before(since) {
			n++
		}
	}
	return n, nil
}

func (s *MemoryStore) GetOrCreateAutopilotConfig(ctx context.Context) (*models.AutopilotConfig, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.autopilot == nil {
		c := models.DefaultAutopilotConfig(s.now())
		s.autopilot = &c
	}
	return cloneAutopilot(s.autopilot), nil
}

func (s *MemoryStore) SaveAutopilotConfig(ctx context.Context, c *models.AutopilotConfig) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.autopilot = cloneAutopilot(c)
	return nil
}

func (s *MemoryStore) CreateQueueItem(ctx context.Context, item *models.AutopilotQueueItem) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.queueByPP[item.PostID]; ok {
		return ErrDuplicate
	}
	if item.ID == "" {
		item.ID = uuid.NewString()
	}
	if item.CreatedAt.IsZero() {
		item.CreatedAt = s.now()
	}
	item.UpdatedAt = s.now()
	s.queue[item.ID] = cloneQueueItem(item)
	s.queueByPP[item.PostID] = item.ID
	return nil
}

func (s *MemoryStore) UpdateQueueItem(ctx context.Context, item *models.AutopilotQueueItem) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	old, ok := s.queue[item.ID]
	if !ok {
		return ErrNotFound
	}
	item.CreatedAt = old.CreatedAt
	item.UpdatedAt = s.now()
	s.queue[item.ID] = cloneQueueItem(item)
	return nil
}

func (s *MemoryStore) GetQueueItem(ctx context.Context, id string) (*models.AutopilotQueueItem, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	it, ok := s.queue[id]
	if !ok {
		return nil, ErrNotFound
	}
	return cloneQueueItem(it), nil
}

func (s *MemoryStore) ListQueueItems(ctx context.Context, f QueueFilter) ([]*models.AutopilotQueueItem, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*models.AutopilotQueueItem, 0)
	for _, it := range s.queue {
		if len(f.Statuses) > 0 && !containsValue(f.Statuses, it.Status) {
			continue
		}
		if f.DueBy != nil && it.ScheduledFor != nil && it.ScheduledFor.After(*f.DueBy) {
			continue
		}
		out = append(out, cloneQueueItem(it))
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Priority != out[j].Priority {
			return out[i].Priority > out[j].Priority
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out, nil
}

func (s *MemoryStore) AppendUsage(ctx context.Context, entry *models.LlmUsageLog) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = s.now()
	}
	cp := *entry
	s.usage = append(s.usage, &cp)
	return nil
}

func (s *MemoryStore) SumUsageCost(ctx context.Context, since time.Time) (float64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var total float64
	for _, u := range s.usage {
		if !u.CreatedAt.Before(since) {
			total += u.CostUSD
		}
	}
	return total, nil
}

func (s *MemoryStore) GetOrCreateBudgetSettings(ctx context.Context) (*models.BudgetSettings, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.budget == nil {
		b := models.DefaultBudgetSettings()
		s.budget = &b
	}
	return cloneBudget(s.budget), nil
}

func (s *MemoryStore) SaveBudgetSettings(ctx context.Context, b *models.BudgetSettings) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.budget = cloneBudget(b)
	return nil
}

func containsValue[T comparable](list []T, v T) bool {
	for _, x := range list {
		if x == v {
			return true
		}
	}
	return false
}

func clonePost(p *models.DiscoveredPost) *models.DiscoveredPost {
	cp := *p
	cp.MatchedKeywords = append([]string(nil), p.MatchedKeywords...)
	if p.RelevanceScore != nil {
		v := *p.RelevanceScore
		cp.RelevanceScore = &v
	}
	if p.Intent != nil {
		v := *p.Intent
		cp.Intent = &v
	}
	if p.Audience != nil {
		v := *p.Audience
		cp.Audience = &v
	}
	return &cp
}

func cloneReply(r *models.Reply) *models.Reply {
	cp := *r
	if r.FinalContent != nil {
		v := *r.FinalContent
		cp.FinalContent = &v
	}
	if r.ScheduledFor != nil {
		v := *r.ScheduledFor
		cp.ScheduledFor = &v
	}
	if r.SentAt != nil {
		v := *r.SentAt
		cp.SentAt = &v
	}
	return &cp
}

func cloneQueueItem(it *models.AutopilotQueueItem) *models.AutopilotQueueItem {
	cp := *it
	if it.ScheduledFor != nil {
		v := *it.ScheduledFor
		cp.ScheduledFor = &v
	}
	if it.SentAt != nil {
		v := *it.SentAt
		cp.SentAt = &v
	}
	return &cp
}

func cloneAutopilot(c *models.AutopilotConfig) *models.AutopilotConfig {
	cp := *c
	cp.AllowedIntents = append([]models.IntentType(nil), c.AllowedIntents...)
	cp.AllowedPlatforms = append([]models.Platform(nil), c.AllowedPlatforms...)
	cp.PostingWindows = append([]models.PostingWindow(nil), c.PostingWindows...)
	return &cp
}

func cloneBudget(b *models.BudgetSettings) *models.BudgetSettings {
	cp := *b
	cp.ExemptTasks = append([]models.TaskKind(nil), b.ExemptTasks...)
	if b.MonthlyLimitUSD != nil {
		v := *b.MonthlyLimitUSD
		cp.MonthlyLimitUSD = &v
	}
	if b.LastAlertAt != nil {
		v := *b.LastAlertAt
		cp.LastAlertAt = &v
	}
	return &cp
}
