// Package pipeline wires the batch passes (ingest, classify, autopilot tick) that a scheduler
// triggers periodically.
package pipeline

import (
	"context"
	"errors"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog/log"

	"github.com/replyradar/internal/autopilot"
	"github.com/replyradar/internal/classifier"
	"github.com/replyradar/internal/ingest"
	"github.com/replyradar/internal/logging"
	"github.com/replyradar/internal/metrics"
	"github.com/replyradar/internal/sources"
	"github.com/replyradar/pkg/models"
)

const (
	PassIngest   = "ingest"
	PassClassify = "classify"
	PassTick     = "autopilot_tick"
)

var ErrUnknownPlatform = errors.New("no adapter configured for platform")

// Config holds pass-level settings.
type Config struct {
	// Queries are the search keywords sent to every adapter.
	Queries       []string `koanf:"queries"`
	ClassifyBatch int      `koanf:"classify_batch"`
	// LogDir receives one log file per pass when set.
	LogDir string `koanf:"log_dir"`
}

// IngestReport is the outcome of an ingest pass.
type IngestReport struct {
	Platforms []sources.PlatformSummary `json:"platforms"`
	ingest.Result
}

type Pipeline struct {
	runner     *sources.Runner
	ingester   *ingest.Ingester
	classifier *classifier.Classifier
	autopilot  *autopilot.Service
	cfg        Config
}

func New(runner *sources.Runner, ing *ingest.Ingester, cls *classifier.Classifier, ap *autopilot.Service, cfg Config) *Pipeline {
	return &Pipeline{runner: runner, ingester: ing, classifier: cls, autopilot: ap, cfg: cfg}
}

func (p *Pipeline) startPass(kind string) (*logging.PassLogger, func()) {
	pl, err := logging.StartPass(kind, p.cfg.LogDir)
	if err != nil {
		log.Warn().Err(err).Str("pass", kind).Msg("pass log file unavailable; logging to stdout only")
		pl = nil
	}
	timer := prometheus.NewTimer(metrics.PassDuration.WithLabelValues(kind))
	return pl, func() {
		timer.ObserveDuration()
		pl.Close()
	}
}

// Ingest searches one platform (or every platform when platform is empty) and stores new findings.
func (p *Pipeline) Ingest(ctx context.Context, platform models.Platform) (IngestReport, error) {
	pl, done := p.startPass(PassIngest)
	defer done()

	var run sources.RunResult
	if platform == "" {
		pl.Log("searching %d platforms for %d queries", len(p.runner.Platforms()), len(p.cfg.Queries))
		run = p.runner.SearchAll(ctx, p.cfg.Queries)
	} else {
		var ok bool
		run, ok = p.runner.SearchPlatform(ctx, platform, p.cfg.Queries)
		if !ok {
			err := fmt.Errorf("%w: %s", ErrUnknownPlatform, platform)
			pl.LogError("search", err)
			return IngestReport{}, err
		}
	}
	for _, ps := range run.Platforms {
		if ps.Error != "" {
			pl.Log("%s failed after %v: %s", ps.Platform, ps.Duration, ps.Error)
			continue
		}
		pl.Log("%s returned %d findings in %v", ps.Platform, ps.Findings, ps.Duration)
	}

	res, err := p.ingester.Ingest(ctx, run.Findings)
	report := IngestReport{Platforms: run.Platforms, Result: res}
	if err != nil {
		pl.LogError("ingest", err)
		return report, err
	}
	pl.Log("ingest: received=%d inserted=%d duplicates=%d failed=%d", res.Received, res.Inserted, res.Duplicates, res.Failed)
	return report, nil
}

// Classify scores up to limit unclassified posts. limit <= 0 uses the configured batch size.
func (p *Pipeline) Classify(ctx context.Context, limit int) (classifier.BatchSummary, error) {
	pl, done := p.startPass(PassClassify)
	defer done()
	if limit <= 0 {
		limit = p.cfg.ClassifyBatch
	}
	sum, err := p.classifier.ClassifyBatch(ctx, limit)
	if err != nil {
		pl.LogError("classify", err)
		return sum, err
	}
	pl.Log("classify: processed=%d classified=%d skipped=%d failed=%d budget_denied=%t",
		sum.Processed, sum.Classified, sum.Skipped, sum.Failed, sum.BudgetDenied)
	return sum, nil
}

// Tick runs one autopilot pass.
func (p *Pipeline) Tick(ctx context.Context) (autopilot.TickResult, error) {
	pl, done := p.startPass(PassTick)
	defer done()
	res, err := p.autopilot.Tick(ctx)
	if err != nil {
		pl.LogError("tick", err)
		return res, err
	}
	pl.Log("tick: enabled=%t admitted=%d drafted=%d approved=%d sent=%d deferred=%d",
		res.Enabled, res.Admitted, res.Drafted, res.Approved, res.Sent, res.Deferred)
	return res, nil
}

// RunReport aggregates one full cycle.
type RunReport struct {
	Ingest   IngestReport            `json:"ingest"`
	Classify classifier.BatchSummary `json:"classify"`
	Tick     autopilot.TickResult    `json:"tick"`
}

// RunOnce runs ingest, classify and tick in order. A failing stage is logged and the later
// stages still run, since each works from persisted state.
func (p *Pipeline) RunOnce(ctx context.Context) (RunReport, error) {
	var report RunReport
	var errs []error
	var err error
	if report.Ingest, err = p.Ingest(ctx, ""); err != nil {
		errs = append(errs, fmt.Errorf("ingest: %w", err))
	}
	if report.Classify, err = p.Classify(ctx, 0); err != nil {
		errs = append(errs, fmt.Errorf("classify: %w", err))
	}
	if report.Tick, err = p.Tick(ctx); err != nil {
		errs = append(errs, fmt.Errorf("tick: %w", err))
	}
	return report, errors.Join(errs...)
}
