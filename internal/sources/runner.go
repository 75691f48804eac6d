package sources

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/replyradar/pkg/models"
)

// PlatformSummary reports one adapter's part of a run.
type PlatformSummary struct {
	Platform models.Platform `json:"platform"`
	Findings int             `json:"findings"`
	Error    string          `json:"error,omitempty"`
	Duration time.Duration   `json:"duration"`
}

// RunResult is the outcome of Runner.SearchAll.
type RunResult struct {
	Findings  []models.RawFinding `json:"-"`
	Platforms []PlatformSummary   `json:"platforms"`
}

// Failed counts adapters that returned an error.
func (r RunResult) Failed() int {
	n := 0
	for _, p := range r.Platforms {
		if p.Error != "" {
			n++
		}
	}
	return n
}

// Runner fans a query set out to several adapters. Adapters run concurrently with each
// other while every adapter keeps its own sequential pacing.
type Runner struct {
	adapters []Adapter
}

func NewRunner(adapters ...Adapter) *Runner {
	return &Runner{adapters: adapters}
}

// Adapter returns the registered adapter for platform, if any.
func (r *Runner) Adapter(platform models.Platform) (Adapter, bool) {
	for _, a := range r.adapters {
		if a.Platform() == platform {
			return a, true
		}
	}
	return nil, false
}

// Platforms lists registered platforms in registration order.
func (r *Runner) Platforms() []models.Platform {
	out := make([]models.Platform, 0, len(r.adapters))
	for _, a := range r.adapters {
		out = append(out, a.Platform())
	}
	return out
}

// SearchAll runs every adapter. One adapter failing is reported in its summary and never
// cancels the others.
func (r *Runner) SearchAll(ctx context.Context, queries []string) RunResult {
	return r.run(ctx, r.adapters, queries)
}

// SearchPlatform runs only the adapter for platform.
func (r *Runner) SearchPlatform(ctx context.Context, platform models.Platform, queries []string) (RunResult, bool) {
	a, ok := r.Adapter(platform)
	if !ok {
		return RunResult{}, false
	}
	return r.run(ctx, []Adapter{a}, queries), true
}

func (r *Runner) run(ctx context.Context, adapters []Adapter, queries []string) RunResult {
	summaries := make([]PlatformSummary, len(adapters))
	results := make([][]models.RawFinding, len(adapters))

	var g errgroup.Group
	for i, a := range adapters {
		i, a := i, a
		g.Go(func() error {
			start := time.Now()
			findings, err := a.Search(ctx, queries)
			sum := PlatformSummary{Platform: a.Platform(), Findings: len(findings), Duration: time.Since(start)}
			if err != nil {
				sum.Error = err.Error()
				log.Error().Err(err).Str("platform", string(a.Platform())).Msg("source adapter failed")
			}
			summaries[i] = sum
			results[i] = findings
			return nil
		})
	}
	_ = g.Wait()

	var all []models.RawFinding
	for _, f := range results {
		all = append(all, f...)
	}
	return RunResult{Findings: all, Platforms: summaries}
}
