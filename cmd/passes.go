package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/urfave/cli/v2"

	"github.com/replyradar/pkg/models"
)

// PassCommands returns the one-shot pass commands
func PassCommands() []*cli.Command {
	return []*cli.Command{
		{
			Name:  "ingest",
			Usage: "Search the sources once and store new posts",
			Flags: []cli.Flag{
				&cli.StringFlag{
					Name:    "platform",
					Aliases: []string{"p"},
					Usage:   "Only search `PLATFORM` (reddit, hackernews, forum)",
				},
			},
			Action: func(c *cli.Context) error {
				return withApp(c, func(ctx context.Context, app *App) error {
					platform := models.Platform(strings.ToLower(c.String("platform")))
					report, err := app.Pipeline.Ingest(ctx, platform)
					if err != nil {
						return err
					}
					return printJSON(report)
				})
			},
		},
		{
			Name:  "classify",
			Usage: "Score unclassified posts",
			Flags: []cli.Flag{
				&cli.IntFlag{
					Name:    "limit",
					Aliases: []string{"n"},
					Usage:   "Classify at most `N` posts, 0 uses pipeline.classify_batch",
				},
			},
			Action: func(c *cli.Context) error {
				return withApp(c, func(ctx context.Context, app *App) error {
					sum, err := app.Pipeline.Classify(ctx, c.Int("limit"))
					if err != nil {
						return err
					}
					return printJSON(sum)
				})
			},
		},
		{
			Name:  "tick",
			Usage: "Run one autopilot pass",
			Action: func(c *cli.Context) error {
				return withApp(c, func(ctx context.Context, app *App) error {
					res, err := app.Pipeline.Tick(ctx)
					if err != nil {
						return err
					}
					return printJSON(res)
				})
			},
		},
		{
			Name:  "run",
			Usage: "Run ingest, classify and tick once, in order",
			Action: func(c *cli.Context) error {
				return withApp(c, func(ctx context.Context, app *App) error {
					report, err := app.Pipeline.RunOnce(ctx)
					if perr := printJSON(report); perr != nil {
						return perr
					}
					return err
				})
			},
		},
		{
			Name:  "purge",
			Usage: "Delete dismissed posts older than retention.dismissed_after",
			Action: func(c *cli.Context) error {
				return withApp(c, func(ctx context.Context, app *App) error {
					if app.Config.Retention.DismissedAfter <= 0 {
						fmt.Println("retention.dismissed_after is 0, nothing to purge")
						return nil
					}
					n, err := purgeDismissed(ctx, app)
					if err != nil {
						return err
					}
					fmt.Printf("Purged %d dismissed posts\n", n)
					return nil
				})
			},
		},
	}
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
