// Package classifier scores discovered posts for relevance, intent and audience.
package classifier

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strings"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/replyradar/internal/budget"
	"github.com/replyradar/internal/llm"
	"github.com/replyradar/internal/metrics"
	"github.com/replyradar/internal/notify"
	"github.com/replyradar/internal/prompts"
	"github.com/replyradar/internal/store"
	"github.com/replyradar/pkg/models"
)

const (
	DefaultMaxContentChars       = 2000
	DefaultHighPriorityThreshold = 85
	DefaultBatchSize             = 20
)

// Config controls prompts and thresholds.
type Config struct {
	Model                 string   `koanf:"model"`
	Temperature           float64  `koanf:"temperature"`
	MaxTokens             int      `koanf:"max_tokens"`
	CompanyName           string   `koanf:"company_name"`
	ProductDescription    string   `koanf:"product_description"`
	ValueProps            []string `koanf:"value_props"`
	MaxContentChars       int      `koanf:"max_content_chars"`
	HighPriorityThreshold int      `koanf:"high_priority_threshold"`
	AlertsEnabled         bool     `koanf:"alerts_enabled"`
	BatchSize             int      `koanf:"batch_size"`
}

func (c Config) withDefaults() Config {
	if c.MaxTokens <= 0 {
		c.MaxTokens = 200
	}
	if c.MaxContentChars <= 0 {
		c.MaxContentChars = DefaultMaxContentChars
	}
	if c.HighPriorityThreshold <= 0 {
		c.HighPriorityThreshold = DefaultHighPriorityThreshold
	}
	if c.BatchSize <= 0 {
		c.BatchSize = DefaultBatchSize
	}
	return c
}

// Budget is the part of the ledger the classifier needs.
type Budget interface {
	CheckBudget(ctx context.Context, task models.TaskKind) budget.Decision
	LogUsage(ctx context.Context, u budget.Usage) (float64, error)
}

// Result is a persisted classification.
type Result struct {
	Score    int                 `json:"relevance_score"`
	Intent   models.IntentType   `json:"intent"`
	Audience models.AudienceType `json:"audience"`
	Model    string              `json:"model"`
	CostUSD  float64             `json:"cost_usd"`
}

type outcome string

const (
	outcomeClassified outcome = "classified"
	outcomeSkipped    outcome = "skipped"
	outcomeFailed     outcome = "failed"
	outcomeDenied     outcome = "budget_denied"
)

type Classifier struct {
	store    store.Store
	budget   Budget
	llm      llm.Completer
	prompts  *prompts.Manager
	notifier notify.Notifier
	cfg      Config

	mu       sync.Mutex
	inflight map[string]struct{}
}

func New(s store.Store, b Budget, completer llm.Completer, pm *prompts.Manager, n notify.Notifier, cfg Config) *Classifier {
	if pm == nil {
		pm = prompts.NewManager()
	}
	if n == nil {
		n = notify.Nop{}
	}
	return &Classifier{
		store:    s,
		budget:   b,
		llm:      completer,
		prompts:  pm,
		notifier: n,
		cfg:      cfg.withDefaults(),
		inflight: make(map[string]struct{}),
	}
}

// Classify scores one unclassified post. Every failure, including a budget denial, is logged
// and returns nil; the post is only written after the model output passes validation.
func (c *Classifier) Classify(ctx context.Context, post *models.DiscoveredPost) *Result {
	res, _ := c.classify(ctx, post)
	return res
}

func (c *Classifier) classify(ctx context.Context, post *models.DiscoveredPost) (*Result, outcome) {
	logger := log.With().Str("post_id", post.ID).Str("platform", string(post.Platform)).Logger()

	if post.Classified() {
		logger.Debug().Msg("post already classified, skipping")
		return nil, outcomeSkipped
	}

	// A post is classified at most once: overlapping passes skip a post another pass holds,
	// and the stored row is re-read so a copy listed before another pass finished is dropped.
	if !c.claim(post.ID) {
		logger.Debug().Msg("post is being classified by another pass, skipping")
		return nil, outcomeSkipped
	}
	defer c.release(post.ID)

	current, err := c.store.GetPost(ctx, post.ID)
	if err != nil {
		logger.Error().Err(err).Msg("failed to reload post")
		metrics.Classifications.WithLabelValues(string(outcomeFailed)).Inc()
		return nil, outcomeFailed
	}
	if current.Classified() {
		logger.Debug().Msg("post classified by another pass, skipping")
		return nil, outcomeSkipped
	}

	if d := c.budget.CheckBudget(ctx, models.TaskClassify); !d.Allowed {
		logger.Info().Str("reason", d.Reason).Msg("classification skipped by budget")
		metrics.Classifications.WithLabelValues(string(outcomeDenied)).Inc()
		return nil, outcomeDenied
	}

	req, err := c.buildRequest(post)
	if err != nil {
		logger.Error().Err(err).Msg("failed to build classification prompt")
		metrics.Classifications.WithLabelValues(string(outcomeFailed)).Inc()
		return nil, outcomeFailed
	}

	completion, err := c.llm.Complete(ctx, req)
	if err != nil {
		logger.Error().Err(err).Msg("classification request failed")
		metrics.Classifications.WithLabelValues(string(outcomeFailed)).Inc()
		return nil, outcomeFailed
	}

	model := completion.Model
	if model == "" {
		model = c.cfg.Model
	}
	cost, err := c.budget.LogUsage(ctx, budget.Usage{
		Task:          models.TaskClassify,
		Model:         model,
		InputTokens:   completion.InputTokens,
		OutputTokens:  completion.OutputTokens,
		RelatedEntity: post.ID,
	})
	if err != nil {
		logger.Warn().Err(err).Msg("failed to record classification usage")
	}

	parsed, err := parseClassification(completion.Text)
	if err != nil {
		logger.Warn().Err(err).Str("raw", llm.Truncate(completion.Text, 500)).Msg("rejected malformed classification")
		metrics.Classifications.WithLabelValues(string(outcomeFailed)).Inc()
		return nil, outcomeFailed
	}

	if err := c.store.UpdatePostClassification(ctx, post.ID, parsed.Score, parsed.Intent, parsed.Audience, model, cost); err != nil {
		if errors.Is(err, store.ErrDuplicate) {
			logger.Info().Msg("post was classified concurrently, keeping the stored result")
			return nil, outcomeSkipped
		}
		logger.Error().Err(err).Msg("failed to persist classification")
		metrics.Classifications.WithLabelValues(string(outcomeFailed)).Inc()
		return nil, outcomeFailed
	}

	parsed.Model = model
	parsed.CostUSD = cost
	metrics.Classifications.WithLabelValues(string(outcomeClassified)).Inc()
	logger.Info().Int("score", parsed.Score).Str("intent", string(parsed.Intent)).Str("audience", string(parsed.Audience)).Msg("post classified")

	if c.cfg.AlertsEnabled && parsed.Score >= c.cfg.HighPriorityThreshold {
		c.notifier.Notify(ctx, highPriorityMessage(post, parsed))
	}
	return parsed, outcomeClassified
}

func (c *Classifier) claim(id string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, busy := c.inflight[id]; busy {
		return false
	}
	c.inflight[id] = struct{}{}
	return true
}

func (c *Classifier) release(id string) {
	c.mu.Lock()
	delete(c.inflight, id)
	c.mu.Unlock()
}

func (c *Classifier) buildRequest(post *models.DiscoveredPost) (llm.CompletionRequest, error) {
	vars := prompts.Vars{
		"company_name":        prompts.Text(c.cfg.CompanyName),
		"product_description": prompts.Text(c.cfg.ProductDescription),
		"value_props":         prompts.List(c.cfg.ValueProps...),
		"platform":            prompts.Text(string(post.Platform)),
		"content":             prompts.Text(truncateRunes(post.Content, c.cfg.MaxContentChars)),
	}
	if post.ThreadContext != "" {
		vars["thread_context"] = prompts.Text("Thread: " + truncateRunes(post.ThreadContext, 300))
	}
	system, err := c.prompts.Render(prompts.ClassifySystem, vars)
	if err != nil {
		return llm.CompletionRequest{}, err
	}
	user, err := c.prompts.Render(prompts.ClassifyUser, vars)
	if err != nil {
		return llm.CompletionRequest{}, err
	}
	return llm.CompletionRequest{
		Model:       c.cfg.Model,
		Temperature: c.cfg.Temperature,
		MaxTokens:   c.cfg.MaxTokens,
		JSONMode:    true,
		Messages: []llm.Message{
			{Role: llm.RoleSystem, Content: system},
			{Role: llm.RoleUser, Content: user},
		},
	}, nil
}

// parseClassification validates the three required fields. Unknown fields are ignored; a
// missing, mistyped or out-of-enum field rejects the whole response.
func parseClassification(text string) (*Result, error) {
	obj, _, err := llm.ParseObject(text)
	if err != nil {
		return nil, err
	}

	rawScore, ok := obj["relevanceScore"]
	if !ok {
		return nil, fmt.Errorf("missing relevanceScore")
	}
	num, ok := rawScore.(json.Number)
	if !ok {
		return nil, fmt.Errorf("relevanceScore must be a number, got %T", rawScore)
	}
	score, err := integerValue(num)
	if err != nil {
		return nil, fmt.Errorf("relevanceScore: %w", err)
	}

	intentStr, err := stringField(obj, "intentType")
	if err != nil {
		return nil, err
	}
	intent, ok := models.ParseIntent(intentStr)
	if !ok {
		return nil, fmt.Errorf("intentType %q is not a known intent", intentStr)
	}

	audienceStr, err := stringField(obj, "audienceType")
	if err != nil {
		return nil, err
	}
	audience, ok := models.ParseAudience(audienceStr)
	if !ok {
		return nil, fmt.Errorf("audienceType %q is not a known audience", audienceStr)
	}

	return &Result{Score: clamp(score, 0, 100), Intent: intent, Audience: audience}, nil
}

// integerValue accepts integral numbers, including ones written as 82.0.
func integerValue(n json.Number) (int, error) {
	if i, err := n.Int64(); err == nil {
		if i > math.MaxInt32 {
			return math.MaxInt32, nil
		}
		if i < math.MinInt32 {
			return math.MinInt32, nil
		}
		return int(i), nil
	}
	f, err := n.Float64()
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) || f != math.Trunc(f) {
		return 0, fmt.Errorf("%s is not an integer", n.String())
	}
	return int(math.Max(math.MinInt32, math.Min(math.MaxInt32, f))), nil
}

func stringField(obj map[string]interface{}, key string) (string, error) {
	raw, ok := obj[key]
	if !ok {
		return "", fmt.Errorf("missing %s", key)
	}
	s, ok := raw.(string)
	if !ok {
		return "", fmt.Errorf("%s must be a string, got %T", key, raw)
	}
	return s, nil
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func truncateRunes(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "…"
}

func highPriorityMessage(post *models.DiscoveredPost, r *Result) notify.Message {
	return notify.Message{
		Kind:  notify.KindHighPriorityPost,
		Title: fmt.Sprintf("High-relevance %s post (score %d)", post.Platform, r.Score),
		Text:  truncateRunes(strings.TrimSpace(post.Content), 300),
		URL:   post.URL,
		Fields: []notify.Field{
			{Title: "Intent", Value: string(r.Intent), Short: true},
			{Title: "Audience", Value: string(r.Audience), Short: true},
			{Title: "Author", Value: post.AuthorHandle, Short: true},
		},
	}
}

// BatchSummary reports one ClassifyBatch pass.
type BatchSummary struct {
	Processed    int  `json:"processed"`
	Classified   int  `json:"classified"`
	Skipped      int  `json:"skipped"`
	Failed       int  `json:"failed"`
	BudgetDenied bool `json:"budget_denied"`
}

// ClassifyBatch classifies up to limit unclassified NEW posts, newest first. It stops early
// once the budget gate denies a call, since the rest of the batch would be denied too.
func (c *Classifier) ClassifyBatch(ctx context.Context, limit int) (BatchSummary, error) {
	if limit <= 0 {
		limit = c.cfg.BatchSize
	}
	var sum BatchSummary
	posts, err := c.store.ListPosts(ctx, store.PostFilter{
		Statuses:     []models.PostStatus{models.PostStatusNew},
		Unclassified: true,
		Limit:        limit,
	})
	if err != nil {
		return sum, fmt.Errorf("list unclassified posts: %w", err)
	}

	for _, p := range posts {
		if err := ctx.Err(); err != nil {
			return sum, err
		}
		sum.Processed++
		_, out := c.classify(ctx, p)
		switch out {
		case outcomeClassified:
			sum.Classified++
		case outcomeSkipped:
			sum.Skipped++
		case outcomeFailed:
			sum.Failed++
		case outcomeDenied:
			sum.BudgetDenied = true
			sum.Skipped++
			return sum, nil
		}
	}
	return sum, nil
}
