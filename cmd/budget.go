package cmd

import (
	"context"
	"fmt"

	"github.com/urfave/cli/v2"

	"github.com/replyradar/internal/autopilot"
	"github.com/replyradar/internal/budget"
	"github.com/replyradar/pkg/models"
)

// BudgetCommand returns the budget command
func BudgetCommand() *cli.Command {
	return &cli.Command{
		Name:  "budget",
		Usage: "Inspect and change the LLM spend budget",
		Subcommands: []*cli.Command{
			{
				Name:  "status",
				Usage: "Show spend against the monthly limit",
				Action: func(c *cli.Context) error {
					return withApp(c, func(ctx context.Context, app *App) error {
						st, err := app.Ledger.Status(ctx)
						if err != nil {
							return err
						}
						return printJSON(st)
					})
				},
			},
			{
				Name:  "set",
				Usage: "Update budget settings",
				Flags: []cli.Flag{
					&cli.Float64Flag{Name: "limit", Usage: "Monthly limit in `USD`"},
					&cli.BoolFlag{Name: "no-limit", Usage: "Remove the monthly limit"},
					&cli.IntFlag{Name: "alert-threshold", Usage: "Alert at `PERCENT` of the limit (1-100)"},
					&cli.BoolFlag{Name: "hard-stop", Usage: "Deny non-exempt calls once the limit is reached"},
					&cli.StringSliceFlag{Name: "exempt", Usage: "Tasks that bypass the hard stop (classify, draft)"},
				},
				Action: runBudgetSet,
			},
		},
	}
}

func runBudgetSet(c *cli.Context) error {
	var u budget.SettingsUpdate
	if c.IsSet("limit") {
		v := c.Float64("limit")
		u.MonthlyLimitUSD = &v
	}
	u.ClearLimit = c.Bool("no-limit")
	if c.IsSet("alert-threshold") {
		v := c.Int("alert-threshold")
		u.AlertThreshold = &v
	}
	if c.IsSet("hard-stop") {
		v := c.Bool("hard-stop")
		u.HardStop = &v
	}
	if c.IsSet("exempt") {
		u.ExemptTasks = []models.TaskKind{}
		for _, t := range c.StringSlice("exempt") {
			switch models.TaskKind(t) {
			case models.TaskClassify, models.TaskDraft:
				u.ExemptTasks = append(u.ExemptTasks, models.TaskKind(t))
			default:
				return fmt.Errorf("unknown task %q", t)
			}
		}
	}

	return withApp(c, func(ctx context.Context, app *App) error {
		settings, err := app.Ledger.UpdateSettings(ctx, u)
		if err != nil {
			return err
		}
		return printJSON(settings)
	})
}

// AutopilotCommand returns the autopilot command
func AutopilotCommand() *cli.Command {
	toggle := func(enabled bool) cli.ActionFunc {
		return func(c *cli.Context) error {
			return withApp(c, func(ctx context.Context, app *App) error {
				cfg, err := app.Autopilot.UpdateConfig(ctx, autopilot.ConfigUpdate{IsEnabled: &enabled})
				if err != nil {
					return err
				}
				return printJSON(cfg)
			})
		}
	}
	return &cli.Command{
		Name:  "autopilot",
		Usage: "Inspect and toggle the autopilot",
		Subcommands: []*cli.Command{
			{
				Name:  "status",
				Usage: "Show the autopilot configuration and today's counters",
				Action: func(c *cli.Context) error {
					return withApp(c, func(ctx context.Context, app *App) error {
						cfg, err := app.Autopilot.Config(ctx)
						if err != nil {
							return err
						}
						return printJSON(cfg)
					})
				},
			},
			{Name: "enable", Usage: "Turn the autopilot on", Action: toggle(true)},
			{Name: "disable", Usage: "Turn the autopilot off", Action: toggle(false)},
		},
	}
}
