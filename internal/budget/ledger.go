// Package budget owns LLM spend accounting and the admission gate every paid call consults.
package budget

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/replyradar/internal/metrics"
	"github.com/replyradar/internal/notify"
	"github.com/replyradar/internal/store"
	"github.com/replyradar/pkg/models"
)

// DefaultAlertCooldown is the minimum spacing between budget alerts.
const DefaultAlertCooldown = time.Hour

// Decision is the outcome of CheckBudget. A denial is a normal result, not an error.
type Decision struct {
	Allowed bool    `json:"allowed"`
	Reason  string  `json:"reason,omitempty"`
	Percent float64 `json:"percent"`
}

// Usage describes one completed LLM call.
type Usage struct {
	Task          models.TaskKind
	Model         string
	InputTokens   int
	OutputTokens  int
	RelatedEntity string
}

// Status is a point-in-time budget report.
type Status struct {
	LimitUSD       *float64          `json:"limit_usd,omitempty"`
	MonthlySpend   float64           `json:"monthly_spend_usd"`
	WeeklySpend    float64           `json:"weekly_spend_usd"`
	PercentUsed    float64           `json:"percent_used"`
	AlertThreshold int               `json:"alert_threshold"`
	HardStop       bool              `json:"hard_stop"`
	ExemptTasks    []models.TaskKind `json:"exempt_tasks"`
	LastAlertAt    *time.Time        `json:"last_alert_at,omitempty"`
}

// Ledger is the process-wide spend tracker. It is safe for concurrent use; the
// check-then-alert sequence runs under one mutex so concurrent checks alert at most once per
// cooldown.
type Ledger struct {
	store    store.Store
	notifier notify.Notifier
	pricing  pricingTable
	cooldown time.Duration
	loc      *time.Location
	now      func() time.Time

	mu sync.Mutex
}

type Option func(*Ledger)

func WithPricing(p map[string]Pricing) Option {
	return func(l *Ledger) { l.pricing = newPricingTable(p) }
}

func WithAlertCooldown(d time.Duration) Option {
	return func(l *Ledger) {
		if d > 0 {
			l.cooldown = d
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(l *Ledger) { l.now = now }
}

// WithLocation sets the zone used to align month and week windows.
func WithLocation(loc *time.Location) Option {
	return func(l *Ledger) {
		if loc != nil {
			l.loc = loc
		}
	}
}

func New(s store.Store, n notify.Notifier, opts ...Option) *Ledger {
	if n == nil {
		n = notify.Nop{}
	}
	l := &Ledger{
		store:    s,
		notifier: n,
		pricing:  newPricingTable(DefaultPricing),
		cooldown: DefaultAlertCooldown,
		loc:      time.UTC,
		now:      time.Now,
	}
	for _, o := range opts {
		o(l)
	}
	return l
}

// CheckBudget decides whether a paid call for task may proceed. Store failures are logged and
// fail open so that an unreachable database does not silently halt the pipeline.
func (l *Ledger) CheckBudget(ctx context.Context, task models.TaskKind) Decision {
	d, alert := l.check(ctx, task)
	if alert != nil {
		l.notifier.Notify(ctx, *alert)
	}
	outcome := "allowed"
	if !d.Allowed {
		outcome = "denied"
	}
	metrics.BudgetDecisions.WithLabelValues(string(task), outcome).Inc()
	return d
}

func (l *Ledger) check(ctx context.Context, task models.TaskKind) (Decision, *notify.Message) {
	l.mu.Lock()
	defer l.mu.Unlock()

	settings, err := l.store.GetOrCreateBudgetSettings(ctx)
	if err != nil {
		log.Error().Err(err).Str("task", string(task)).Msg("budget settings unavailable, allowing call")
		return Decision{Allowed: true}, nil
	}
	if settings.MonthlyLimitUSD == nil || *settings.MonthlyLimitUSD <= 0 {
		return Decision{Allowed: true}, nil
	}
	limit := *settings.MonthlyLimitUSD

	spent, err := l.store.SumUsageCost(ctx, l.monthStart())
	if err != nil {
		log.Error().Err(err).Str("task", string(task)).Msg("monthly spend unavailable, allowing call")
		return Decision{Allowed: true}, nil
	}
	pct := spent / limit * 100

	switch {
	case pct >= 100:
		alert := l.maybeAlert(ctx, settings, hardStopMessage(settings, limit, spent, pct))
		if !settings.HardStop {
			return Decision{Allowed: true, Percent: pct}, alert
		}
		for _, exempt := range settings.ExemptTasks {
			if exempt == task {
				return Decision{Allowed: true, Percent: pct}, alert
			}
		}
		return Decision{
			Allowed: false,
			Percent: pct,
			Reason:  fmt.Sprintf("monthly LLM budget of $%.2f reached (%.1f%% used); %s calls are paused", limit, pct, task),
		}, alert
	case pct >= float64(settings.AlertThreshold):
		alert := l.maybeAlert(ctx, settings, thresholdMessage(limit, spent, pct))
		return Decision{Allowed: true, Percent: pct}, alert
	default:
		return Decision{Allowed: true, Percent: pct}, nil
	}
}

// maybeAlert stamps LastAlertAt and returns msg when the cooldown has elapsed. Caller holds mu.
func (l *Ledger) maybeAlert(ctx context.Context, settings *models.BudgetSettings, msg notify.Message) *notify.Message {
	now := l.now()
	if settings.LastAlertAt != nil && now.Sub(*settings.LastAlertAt) < l.cooldown {
		return nil
	}
	settings.LastAlertAt = &now
	if err := l.store.SaveBudgetSettings(ctx, settings); err != nil {
		log.Error().Err(err).Msg("failed to record budget alert time")
		return nil
	}
	return &msg
}

func thresholdMessage(limit, spent, pct float64) notify.Message {
	return notify.Message{
		Kind:  notify.KindBudgetThreshold,
		Title: fmt.Sprintf("LLM budget at %.0f%%", pct),
		Text:  fmt.Sprintf("Spent $%.2f of the $%.2f monthly limit.", spent, limit),
		Fields: []notify.Field{
			{Title: "Spent", Value: fmt.Sprintf("$%.2f", spent), Short: true},
			{Title: "Limit", Value: fmt.Sprintf("$%.2f", limit), Short: true},
		},
	}
}

func hardStopMessage(settings *models.BudgetSettings, limit, spent, pct float64) notify.Message {
	text := fmt.Sprintf("Spent $%.2f of the $%.2f monthly limit. Calls continue because hard stop is off.", spent, limit)
	if settings.HardStop {
		text = fmt.Sprintf("Spent $%.2f of the $%.2f monthly limit. Non-exempt LLM calls are paused until next month.", spent, limit)
	}
	return notify.Message{
		Kind:  notify.KindBudgetHardStop,
		Title: fmt.Sprintf("LLM budget exhausted (%.0f%%)", pct),
		Text:  text,
		Fields: []notify.Field{
			{Title: "Spent", Value: fmt.Sprintf("$%.2f", spent), Short: true},
			{Title: "Limit", Value: fmt.Sprintf("$%.2f", limit), Short: true},
		},
	}
}

// Cost prices a call without recording it.
func (l *Ledger) Cost(model string, inputTokens, outputTokens int) float64 {
	p, known := l.pricing.lookup(model)
	if !known {
		log.Warn().Str("model", model).Msg("no pricing for model, using fallback rates")
	}
	return p.Cost(inputTokens, outputTokens)
}

// LogUsage appends a ledger row and returns its cost so the caller can store it on its own entity.
func (l *Ledger) LogUsage(ctx context.Context, u Usage) (float64, error) {
	cost := l.Cost(u.Model, u.InputTokens, u.OutputTokens)
	entry := &models.LlmUsageLog{
		Task:          u.Task,
		Model:         u.Model,
		InputTokens:   u.InputTokens,
		OutputTokens:  u.OutputTokens,
		CostUSD:       cost,
		RelatedEntity: u.RelatedEntity,
		CreatedAt:     l.now(),
	}
	if err := l.store.AppendUsage(ctx, entry); err != nil {
		return cost, fmt.Errorf("append usage: %w", err)
	}
	metrics.LLMSpendUSD.WithLabelValues(string(u.Task), u.Model).Add(cost)
	return cost, nil
}

func (l *Ledger) monthStart() time.Time {
	now := l.now().In(l.loc)
	return time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, l.loc)
}

// weekStart is midnight of the most recent Sunday.
func (l *Ledger) weekStart() time.Time {
	now := l.now().In(l.loc)
	day := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, l.loc)
	return day.AddDate(0, 0, -int(day.Weekday()))
}

func (l *Ledger) MonthlySpend(ctx context.Context) (float64, error) {
	return l.store.SumUsageCost(ctx, l.monthStart())
}

func (l *Ledger) WeeklySpend(ctx context.Context) (float64, error) {
	return l.store.SumUsageCost(ctx, l.weekStart())
}

func (l *Ledger) Status(ctx context.Context) (*Status, error) {
	settings, err := l.store.GetOrCreateBudgetSettings(ctx)
	if err != nil {
		return nil, fmt.Errorf("load budget settings: %w", err)
	}
	monthly, err := l.MonthlySpend(ctx)
	if err != nil {
		return nil, fmt.Errorf("monthly spend: %w", err)
	}
	weekly, err := l.WeeklySpend(ctx)
	if err != nil {
		return nil, fmt.Errorf("weekly spend: %w", err)
	}
	st := &Status{
		LimitUSD:       settings.MonthlyLimitUSD,
		MonthlySpend:   monthly,
		WeeklySpend:    weekly,
		AlertThreshold: settings.AlertThreshold,
		HardStop:       settings.HardStop,
		ExemptTasks:    settings.ExemptTasks,
		LastAlertAt:    settings.LastAlertAt,
	}
	if settings.MonthlyLimitUSD != nil && *settings.MonthlyLimitUSD > 0 {
		st.PercentUsed = monthly / *settings.MonthlyLimitUSD * 100
	}
	return st, nil
}

// ErrInvalidSettings marks a rejected settings update.
var ErrInvalidSettings = errors.New("invalid budget settings")

// SettingsUpdate carries the operator-editable budget fields. Nil fields are left unchanged.
type SettingsUpdate struct {
	MonthlyLimitUSD *float64          `json:"monthly_limit_usd"`
	ClearLimit      bool              `json:"clear_limit"`
	AlertThreshold  *int              `json:"alert_threshold"`
	HardStop        *bool             `json:"hard_stop"`
	ExemptTasks     []models.TaskKind `json:"exempt_tasks"`
}

// UpdateSettings validates and applies u.
func (l *Ledger) UpdateSettings(ctx context.Context, u SettingsUpdate) (*models.BudgetSettings, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	settings, err := l.store.GetOrCreateBudgetSettings(ctx)
	if err != nil {
		return nil, fmt.Errorf("load budget settings: %w", err)
	}
	if u.ClearLimit {
		settings.MonthlyLimitUSD = nil
	} else if u.MonthlyLimitUSD != nil {
		if *u.MonthlyLimitUSD < 0 {
			return nil, fmt.Errorf("%w: monthly limit must not be negative", ErrInvalidSettings)
		}
		v := *u.MonthlyLimitUSD
		settings.MonthlyLimitUSD = &v
	}
	if u.AlertThreshold != nil {
		if *u.AlertThreshold < 1 || *u.AlertThreshold > 100 {
			return nil, fmt.Errorf("%w: alert threshold must be between 1 and 100", ErrInvalidSettings)
		}
		settings.AlertThreshold = *u.AlertThreshold
	}
	if u.HardStop != nil {
		settings.HardStop = *u.HardStop
	}
	if u.ExemptTasks != nil {
		settings.ExemptTasks = u.ExemptTasks
	}
	if err := l.store.SaveBudgetSettings(ctx, settings); err != nil {
		return nil, fmt.Errorf("save budget settings: %w", err)
	}
	return settings, nil
}
