package main

import (
	"fmt"
	"os"

	"github.com/urfave/cli/v2"

	"github.com/replyradar/cmd"
	"github.com/replyradar/internal/logging"
)

const (
	version = "0.1.0"
)

func main() {
	app := &cli.App{
		Name:    "replyradar",
		Usage:   "Find social posts worth answering, score them and queue paced replies",
		Version: version,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "Load configuration from `FILE` (default: first of ./data/replyradar.toml, ./replyradar.toml, ~/.replyradar.toml)",
			},
			&cli.StringFlag{
				Name:  "env-file",
				Usage: "Load environment overrides from `FILE` before reading config",
			},
			&cli.StringFlag{
				Name:  "log-level",
				Usage: "Log level (debug, info, warn, error), overrides log.level",
				Value: "info",
			},
			&cli.BoolFlag{
				Name:  "pretty",
				Usage: "Human-readable console logs",
			},
		},
		Before: func(c *cli.Context) error {
			if f := c.String("env-file"); f != "" {
				if err := cmd.LoadEnvFile(f); err != nil {
					return fmt.Errorf("failed to load env file: %w", err)
				}
			}
			logging.Init(c.String("log-level"), c.Bool("pretty"))
			return nil
		},
		Commands: append([]*cli.Command{
			cmd.ServeCommand(),
			cmd.WorkerCommand(),
			cmd.BudgetCommand(),
			cmd.AutopilotCommand(),
			cmd.ConfigCommand(),
			cmd.TokenCommand(),
		}, cmd.PassCommands()...),
	}

	err := app.Run(os.Args)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %s\n", err)
		os.Exit(1)
	}
}
