// Package drafter writes reply drafts for discovered posts.
package drafter

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"unicode"

	"github.com/rs/zerolog/log"

	"github.com/replyradar/internal/budget"
	"github.com/replyradar/internal/llm"
	"github.com/replyradar/internal/metrics"
	"github.com/replyradar/internal/prompts"
	"github.com/replyradar/internal/store"
	"github.com/replyradar/pkg/models"
)

const (
	DefaultMaxSourceChars = 4000
	defaultMaxLength      = 1500
)

// ErrNoDraft is what callers report when Draft or Regenerate returns nil.
var ErrNoDraft = errors.New("no draft produced")

type Config struct {
	Model              string                `koanf:"model"`
	Temperature        float64               `koanf:"temperature"`
	MaxTokens          int                   `koanf:"max_tokens"`
	CompanyName        string                `koanf:"company_name"`
	BrandVoice         string                `koanf:"brand_voice"`
	ProductDescription string                `koanf:"product_description"`
	MaxSourceChars     int                   `koanf:"max_source_chars"`
	StyleGuides        map[string]StyleGuide `koanf:"style_guides"`
	Humanizer          Humanizer             `koanf:"humanizer"`
	AudienceGuidance   map[string]string     `koanf:"audience_guidance"`
}

func (c Config) withDefaults() Config {
	if c.MaxTokens <= 0 {
		c.MaxTokens = 600
	}
	if c.MaxSourceChars <= 0 {
		c.MaxSourceChars = DefaultMaxSourceChars
	}
	c.Humanizer = c.Humanizer.merge(DefaultHumanizer)
	return c
}

// Budget is the part of the ledger the drafter needs.
type Budget interface {
	CheckBudget(ctx context.Context, task models.TaskKind) budget.Decision
	LogUsage(ctx context.Context, u budget.Usage) (float64, error)
}

type Drafter struct {
	store   store.Store
	budget  Budget
	llm     llm.Completer
	prompts *prompts.Manager
	cfg     Config
}

func New(s store.Store, b Budget, completer llm.Completer, pm *prompts.Manager, cfg Config) *Drafter {
	if pm == nil {
		pm = prompts.NewManager()
	}
	return &Drafter{store: s, budget: b, llm: completer, prompts: pm, cfg: cfg.withDefaults()}
}

// StyleFor returns the configured style guide for platform, falling back to the built-in one.
func (d *Drafter) StyleFor(platform models.Platform) StyleGuide {
	if g, ok := d.cfg.StyleGuides[string(platform)]; ok {
		def := DefaultStyleGuides[platform]
		if g.Tone == "" {
			g.Tone = def.Tone
		}
		if g.MaxLength <= 0 {
			g.MaxLength = def.MaxLength
		}
		return g
	}
	if g, ok := DefaultStyleGuides[platform]; ok {
		return g
	}
	return StyleGuide{Tone: "helpful and concise", MaxLength: defaultMaxLength}
}

func (d *Drafter) audienceGuidance(a *models.AudienceType) string {
	if a == nil {
		return ""
	}
	if g, ok := d.cfg.AudienceGuidance[string(*a)]; ok {
		return g
	}
	return DefaultAudienceGuidance[*a]
}

type draft struct {
	content string
	model   string
	cost    float64
}

// Draft writes a new DRAFT reply for post. It returns nil when no draft was produced: budget
// denial, request failure or an empty completion. The post is never modified.
func (d *Drafter) Draft(ctx context.Context, post *models.DiscoveredPost) *models.Reply {
	out, ok := d.generate(ctx, post)
	if !ok {
		return nil
	}
	reply := &models.Reply{
		PostID:       post.ID,
		DraftContent: out.content,
		Status:       models.ReplyStatusDraft,
		DraftModel:   out.model,
		DraftCost:    out.cost,
	}
	if err := d.store.CreateReply(ctx, reply); err != nil {
		log.Error().Err(err).Str("post_id", post.ID).Msg("failed to save draft")
		metrics.Drafts.WithLabelValues("failed").Inc()
		return nil
	}
	return reply
}

// Regenerate replaces the content of an existing unsent reply and drops any human edit.
func (d *Drafter) Regenerate(ctx context.Context, reply *models.Reply, post *models.DiscoveredPost) *models.Reply {
	if reply.Status == models.ReplyStatusSent {
		log.Warn().Str("reply_id", reply.ID).Msg("refusing to regenerate a sent reply")
		return nil
	}
	out, ok := d.generate(ctx, post)
	if !ok {
		return nil
	}
	updated := *reply
	updated.DraftContent = out.content
	updated.FinalContent = nil
	updated.Status = models.ReplyStatusDraft
	updated.ScheduledFor = nil
	updated.DraftModel = out.model
	updated.DraftCost = out.cost
	if err := d.store.UpdateReply(ctx, &updated); err != nil {
		log.Error().Err(err).Str("reply_id", reply.ID).Msg("failed to save regenerated draft")
		metrics.Drafts.WithLabelValues("failed").Inc()
		return nil
	}
	return &updated
}

func (d *Drafter) generate(ctx context.Context, post *models.DiscoveredPost) (draft, bool) {
	logger := log.With().Str("post_id", post.ID).Str("platform", string(post.Platform)).Logger()

	if dec := d.budget.CheckBudget(ctx, models.TaskDraft); !dec.Allowed {
		logger.Info().Str("reason", dec.Reason).Msg("draft skipped by budget")
		metrics.Drafts.WithLabelValues("budget_denied").Inc()
		return draft{}, false
	}

	style := d.StyleFor(post.Platform)
	req, err := d.buildRequest(post, style)
	if err != nil {
		logger.Error().Err(err).Msg("failed to build draft prompt")
		metrics.Drafts.WithLabelValues("failed").Inc()
		return draft{}, false
	}

	completion, err := d.llm.Complete(ctx, req)
	if err != nil {
		logger.Error().Err(err).Msg("draft request failed")
		metrics.Drafts.WithLabelValues("failed").Inc()
		return draft{}, false
	}

	model := completion.Model
	if model == "" {
		model = d.cfg.Model
	}
	cost, err := d.budget.LogUsage(ctx, budget.Usage{
		Task:          models.TaskDraft,
		Model:         model,
		InputTokens:   completion.InputTokens,
		OutputTokens:  completion.OutputTokens,
		RelatedEntity: post.ID,
	})
	if err != nil {
		logger.Warn().Err(err).Msg("failed to record draft usage")
	}

	content := Clean(completion.Text, style.MaxLength)
	if content == "" {
		logger.Warn().Msg("model returned an empty draft")
		metrics.Drafts.WithLabelValues("empty").Inc()
		return draft{}, false
	}
	if hits := d.bannedHits(content); len(hits) > 0 {
		logger.Warn().Strs("banned", hits).Msg("draft contains banned wording")
	}

	metrics.Drafts.WithLabelValues("drafted").Inc()
	return draft{content: content, model: model, cost: cost}, true
}

func (d *Drafter) buildRequest(post *models.DiscoveredPost, style StyleGuide) (llm.CompletionRequest, error) {
	h := d.cfg.Humanizer
	intent := ""
	if post.Intent != nil {
		intent = string(*post.Intent)
	}
	vars := prompts.Vars{
		"platform":            prompts.Text(string(post.Platform)),
		"company_name":        prompts.Text(d.cfg.CompanyName),
		"brand_voice":         prompts.Text(d.cfg.BrandVoice),
		"product_description": prompts.Text(d.cfg.ProductDescription),
		"tone":                prompts.Text(style.Tone),
		"max_length":          prompts.Text(strconv.Itoa(style.MaxLength)),
		"dos":                 prompts.List(style.Dos...),
		"donts":               prompts.List(style.Donts...),
		"examples":            prompts.List(style.Examples...),
		"banned_words":        prompts.List(h.BannedWords...),
		"banned_phrases":      prompts.List(h.BannedPhrases...),
		"writing_tips":        prompts.List(h.Tips...),
		"audience_guidance":   prompts.Text(d.audienceGuidance(post.Audience)),
		"intent":              prompts.Text(intent),
		"content":             prompts.Text(truncateRunes(post.Content, d.cfg.MaxSourceChars)),
	}
	if post.ThreadContext != "" {
		vars["thread_context"] = prompts.Text("Thread context:\n" + truncateRunes(post.ThreadContext, d.cfg.MaxSourceChars))
	}

	system, err := d.prompts.Render(prompts.DraftSystem, vars)
	if err != nil {
		return llm.CompletionRequest{}, err
	}
	user, err := d.prompts.Render(prompts.DraftUser, vars)
	if err != nil {
		return llm.CompletionRequest{}, err
	}
	// Leave headroom over the character cap; Clean enforces the real limit.
	maxTokens := d.cfg.MaxTokens
	if est := style.MaxLength/3 + 50; est < maxTokens {
		maxTokens = est
	}
	return llm.CompletionRequest{
		Model:       d.cfg.Model,
		Temperature: d.cfg.Temperature,
		MaxTokens:   maxTokens,
		Messages: []llm.Message{
			{Role: llm.RoleSystem, Content: system},
			{Role: llm.RoleUser, Content: user},
		},
	}, nil
}

func (d *Drafter) bannedHits(content string) []string {
	lower := strings.ToLower(content)
	var hits []string
	for _, w := range d.cfg.Humanizer.BannedWords {
		if containsWord(lower, strings.ToLower(w)) {
			hits = append(hits, w)
		}
	}
	for _, p := range d.cfg.Humanizer.BannedPhrases {
		if strings.Contains(lower, strings.ToLower(p)) {
			hits = append(hits, p)
		}
	}
	return hits
}

func containsWord(text, word string) bool {
	for i := 0; ; {
		j := strings.Index(text[i:], word)
		if j < 0 {
			return false
		}
		start, end := i+j, i+j+len(word)
		before := start == 0 || !isWordByte(text[start-1])
		after := end == len(text) || !isWordByte(text[end])
		if before && after {
			return true
		}
		i = start + 1
	}
}

func isWordByte(b byte) bool {
	return b == '_' || b == '-' || (b >= 'a' && b <= 'z') || (b >= '0' && b <= '9')
}

var preambles = []string{"reply:", "here's a reply:", "here is a reply:", "draft:"}

// Clean strips wrapping quotes and preambles and caps the text at maxLen runes, preferring
// to cut at a sentence end, then at a word boundary.
func Clean(text string, maxLen int) string {
	s := strings.TrimSpace(text)
	lower := strings.ToLower(s)
	for _, p := range preambles {
		if strings.HasPrefix(lower, p) {
			s = strings.TrimSpace(s[len(p):])
			break
		}
	}
	for len(s) >= 2 && ((s[0] == '"' && s[len(s)-1] == '"') || (s[0] == '\'' && s[len(s)-1] == '\'')) {
		s = strings.TrimSpace(s[1 : len(s)-1])
	}
	if maxLen <= 0 {
		return s
	}
	return enforceMaxLength(s, maxLen)
}

func enforceMaxLength(s string, maxLen int) string {
	r := []rune(s)
	if len(r) <= maxLen {
		return s
	}
	cut := r[:maxLen]
	for i := len(cut) - 1; i >= maxLen/2; i-- {
		if (cut[i] == '.' || cut[i] == '!' || cut[i] == '?') && (i == len(cut)-1 || unicode.IsSpace(cut[i+1])) {
			return strings.TrimSpace(string(cut[:i+1]))
		}
	}
	cut = r[:maxLen-1]
	for i := len(cut) - 1; i > 0; i-- {
		if unicode.IsSpace(cut[i]) {
			return strings.TrimRightFunc(string(cut[:i]), func(c rune) bool {
				return unicode.IsSpace(c) || c == ',' || c == ';' || c == ':'
			}) + "…"
		}
	}
	return string(cut) + "…"
}

func truncateRunes(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "…"
}
