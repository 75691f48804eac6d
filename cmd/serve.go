package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/urfave/cli/v2"
	"golang.org/x/sync/errgroup"

	"github.com/replyradar/internal/api"
	"github.com/replyradar/internal/jobqueue"
	"github.com/replyradar/internal/pipeline"
)

// ServeCommand returns the command that runs the HTTP API
func ServeCommand() *cli.Command {
	return &cli.Command{
		Name:  "serve",
		Usage: "Start the ReplyRadar API server",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "addr",
				Aliases: []string{"a"},
				Usage:   "Listen address, overrides server.addr",
			},
			&cli.BoolFlag{
				Name:  "schedule",
				Usage: "Also run the pipeline passes in-process on schedule.interval",
			},
			&cli.BoolFlag{
				Name:  "queue",
				Usage: "Hand HTTP job triggers to the River queue instead of running them inline",
			},
		},
		Action: runServe,
	}
}

func runServe(c *cli.Context) error {
	ctx, stop := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
	defer stop()
	c.Context = ctx

	return withApp(c, func(ctx context.Context, app *App) error {
		cfg := app.Config
		addr := cfg.Server.Addr
		if c.String("addr") != "" {
			addr = c.String("addr")
		}

		deps := api.Deps{
			Passes:    app.Pipeline,
			Autopilot: app.Autopilot,
			Ledger:    app.Ledger,
			Store:     app.Store,
			JobSecret: cfg.Server.JobSecret,
		}
		if cfg.Server.JobSecret == "" {
			log.Warn().Msg("server.job_secret is empty, every /api/v1 request will be rejected")
		}

		if c.Bool("queue") {
			if cfg.Database.URL == "" {
				return fmt.Errorf("--queue needs database.url")
			}
			jq, err := jobqueue.NewJobQueue(ctx, cfg.Database.URL, app.Pipeline, &cfg.Queue)
			if err != nil {
				return err
			}
			// This process only inserts jobs; a worker process executes them.
			defer jq.Stop(context.Background())
			deps.Jobs = jq
		}

		if c.Bool("schedule") {
			sched := pipeline.NewScheduler(app.Pipeline, cfg.Schedule.Interval, cfg.Schedule.Timeout)
			sched.Start()
			defer sched.Stop()
		}

		g, gctx := errgroup.WithContext(ctx)
		g.Go(func() error {
			return api.NewServer(addr, deps).Start(gctx)
		})
		g.Go(func() error {
			purgeLoop(gctx, app, time.Hour)
			return nil
		})
		return g.Wait()
	})
}

// purgeLoop drops stale dismissed posts and expired cache entries until ctx ends.
func purgeLoop(ctx context.Context, app *App, every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		purgeDismissed(ctx, app)
		if n := app.Cache.Purge(); n > 0 {
			log.Debug().Int("entries", n).Msg("purged expired query cache entries")
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func purgeDismissed(ctx context.Context, app *App) (int, error) {
	after := app.Config.Retention.DismissedAfter
	if after <= 0 {
		return 0, nil
	}
	n, err := app.Store.PurgeDismissedPosts(ctx, time.Now().Add(-after))
	if err != nil {
		log.Warn().Err(err).Msg("failed to purge dismissed posts")
		return 0, err
	}
	if n > 0 {
		log.Info().Int("posts", n).Dur("older_than", after).Msg("purged dismissed posts")
	}
	return n, nil
}
