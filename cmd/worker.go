package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/urfave/cli/v2"

	"github.com/replyradar/internal/jobqueue"
	"github.com/replyradar/internal/pipeline"
)

// WorkerCommand returns the command that runs the passes on a schedule
func WorkerCommand() *cli.Command {
	return &cli.Command{
		Name:  "worker",
		Usage: "Run ingest, classify and autopilot passes periodically",
		Description: "Uses River periodic jobs when database.url is set and an in-process " +
			"scheduler otherwise.",
		Action: runWorker,
	}
}

func runWorker(c *cli.Context) error {
	ctx, stop := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
	defer stop()
	c.Context = ctx

	return withApp(c, func(ctx context.Context, app *App) error {
		cfg := app.Config
		go purgeLoop(ctx, app, time.Hour)

		if cfg.Database.URL == "" {
			sched := pipeline.NewScheduler(app.Pipeline, cfg.Schedule.Interval, cfg.Schedule.Timeout)
			sched.Start()
			log.Info().Dur("interval", cfg.Schedule.Interval).Msg("in-process scheduler started")
			<-ctx.Done()
			sched.Stop()
			return nil
		}

		jq, err := jobqueue.NewJobQueue(ctx, cfg.Database.URL, app.Pipeline, &cfg.Queue)
		if err != nil {
			return err
		}
		if err := jq.Start(ctx); err != nil {
			return err
		}
		log.Info().
			Int("workers", cfg.Queue.MaxWorkers).
			Dur("ingest_interval", cfg.Queue.IngestInterval).
			Dur("classify_interval", cfg.Queue.ClassifyInterval).
			Dur("tick_interval", cfg.Queue.TickInterval).
			Msg("job queue started")

		<-ctx.Done()
		stopCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		return jq.Stop(stopCtx)
	})
}
