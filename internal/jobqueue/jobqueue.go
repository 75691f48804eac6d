/*
Package jobqueue runs the pipeline passes as River periodic jobs.

For configuration options and cadence tuning, see queue_config.go.
*/
package jobqueue

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/riverqueue/river"
	"github.com/riverqueue/river/riverdriver/riverpgxv5"
	"github.com/riverqueue/river/rivermigrate"
	"github.com/rs/zerolog/log"

	"github.com/replyradar/internal/autopilot"
	"github.com/replyradar/internal/classifier"
	"github.com/replyradar/internal/pipeline"
	"github.com/replyradar/pkg/models"
)

// Passes is the subset of the pipeline the workers drive.
type Passes interface {
	Ingest(ctx context.Context, platform models.Platform) (pipeline.IngestReport, error)
	Classify(ctx context.Context, limit int) (classifier.BatchSummary, error)
	Tick(ctx context.Context) (autopilot.TickResult, error)
}

// IngestJobArgs searches one platform, or all of them when Platform is empty
type IngestJobArgs struct {
	Platform string `json:"platform,omitempty"`
}

// Kind returns the job kind for River
func (IngestJobArgs) Kind() string { return "replyradar_ingest" }

type ClassifyJobArgs struct {
	Limit int `json:"limit,omitempty"`
}

func (ClassifyJobArgs) Kind() string { return "replyradar_classify" }

type TickJobArgs struct{}

func (TickJobArgs) Kind() string { return "replyradar_autopilot_tick" }

// IngestWorker handles ingest jobs
type IngestWorker struct {
	river.WorkerDefaults[IngestJobArgs]
	passes  Passes
	timeout time.Duration
}

func (w *IngestWorker) Timeout(*river.Job[IngestJobArgs]) time.Duration { return w.timeout }

func (w *IngestWorker) Work(ctx context.Context, job *river.Job[IngestJobArgs]) error {
	report, err := w.passes.Ingest(ctx, models.Platform(job.Args.Platform))
	if err != nil {
		return fmt.Errorf("ingest %q: %w", job.Args.Platform, err)
	}
	log.Info().
		Str("platform", job.Args.Platform).
		Int("inserted", report.Inserted).
		Int("duplicates", report.Duplicates).
		Msg("ingest job finished")
	return nil
}

// ClassifyWorker handles classify jobs
type ClassifyWorker struct {
	river.WorkerDefaults[ClassifyJobArgs]
	passes  Passes
	timeout time.Duration
}

func (w *ClassifyWorker) Timeout(*river.Job[ClassifyJobArgs]) time.Duration { return w.timeout }

func (w *ClassifyWorker) Work(ctx context.Context, job *river.Job[ClassifyJobArgs]) error {
	sum, err := w.passes.Classify(ctx, job.Args.Limit)
	if err != nil {
		return fmt.Errorf("classify: %w", err)
	}
	if sum.BudgetDenied {
		log.Warn().Int("classified", sum.Classified).Msg("classify job stopped by budget gate")
	}
	return nil
}

// TickWorker handles autopilot tick jobs
type TickWorker struct {
	river.WorkerDefaults[TickJobArgs]
	passes  Passes
	timeout time.Duration
}

func (w *TickWorker) Timeout(*river.Job[TickJobArgs]) time.Duration { return w.timeout }

func (w *TickWorker) Work(ctx context.Context, _ *river.Job[TickJobArgs]) error {
	if _, err := w.passes.Tick(ctx); err != nil {
		return fmt.Errorf("autopilot tick: %w", err)
	}
	return nil
}

// JobQueue manages the River client and its periodic passes
type JobQueue struct {
	client *river.Client[pgx.Tx]
	pool   *pgxpool.Pool
	config *QueueConfig
}

func newWorkers(passes Passes, config *QueueConfig) *river.Workers {
	workers := river.NewWorkers()
	river.AddWorker(workers, &IngestWorker{passes: passes, timeout: config.JobTimeout})
	river.AddWorker(workers, &ClassifyWorker{passes: passes, timeout: config.JobTimeout})
	river.AddWorker(workers, &TickWorker{passes: passes, timeout: config.JobTimeout})
	return workers
}

func periodicJobs(config *QueueConfig) []*river.PeriodicJob {
	opts := &river.PeriodicJobOpts{RunOnStart: config.RunOnStart}
	insertOpts := &river.InsertOpts{MaxAttempts: config.MaxRetries + 1}

	var jobs []*river.PeriodicJob
	platforms := config.Platforms
	if len(platforms) == 0 {
		platforms = []string{""}
	}
	for _, p := range platforms {
		args := IngestJobArgs{Platform: p}
		jobs = append(jobs, river.NewPeriodicJob(
			river.PeriodicInterval(config.IngestInterval),
			func() (river.JobArgs, *river.InsertOpts) { return args, insertOpts },
			opts,
		))
	}
	jobs = append(jobs,
		river.NewPeriodicJob(
			river.PeriodicInterval(config.ClassifyInterval),
			func() (river.JobArgs, *river.InsertOpts) { return ClassifyJobArgs{}, insertOpts },
			opts,
		),
		river.NewPeriodicJob(
			river.PeriodicInterval(config.TickInterval),
			func() (river.JobArgs, *river.InsertOpts) { return TickJobArgs{}, insertOpts },
			opts,
		),
	)
	return jobs
}

// NewJobQueue connects to Postgres, applies River's migrations and registers the passes
func NewJobQueue(ctx context.Context, databaseURL string, passes Passes, config *QueueConfig) (*JobQueue, error) {
	if config == nil {
		config = DefaultQueueConfig()
	}
	if err := config.Validate(); err != nil {
		return nil, err
	}

	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	driver := riverpgxv5.New(pool)
	migrator, err := rivermigrate.New(driver, nil)
	if err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to create River migrator: %w", err)
	}
	if _, err := migrator.Migrate(ctx, rivermigrate.DirectionUp, nil); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to migrate River schema: %w", err)
	}

	client, err := river.NewClient(driver, &river.Config{
		Queues:       config.RiverQueueConfig(),
		Workers:      newWorkers(passes, config),
		PeriodicJobs: periodicJobs(config),
		MaxAttempts:  config.MaxRetries + 1,
	})
	if err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to create River client: %w", err)
	}

	return &JobQueue{client: client, pool: pool, config: config}, nil
}

// Start starts the job queue workers
func (jq *JobQueue) Start(ctx context.Context) error {
	return jq.client.Start(ctx)
}

// Stop stops the workers and releases the pool
func (jq *JobQueue) Stop(ctx context.Context) error {
	err := jq.client.Stop(ctx)
	jq.pool.Close()
	return err
}

// Enqueue inserts a one-off run of a pass, used by the HTTP trigger when a queue is configured
func (jq *JobQueue) Enqueue(ctx context.Context, args river.JobArgs) error {
	if _, err := jq.client.Insert(ctx, args, nil); err != nil {
		return fmt.Errorf("failed to queue %s job: %w", args.Kind(), err)
	}
	return nil
}
