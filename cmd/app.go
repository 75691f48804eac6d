package cmd

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/rs/zerolog/log"
	"github.com/urfave/cli/v2"

	"github.com/replyradar/internal/aiconnectors"
	"github.com/replyradar/internal/autopilot"
	"github.com/replyradar/internal/budget"
	"github.com/replyradar/internal/classifier"
	"github.com/replyradar/internal/config"
	"github.com/replyradar/internal/drafter"
	"github.com/replyradar/internal/ingest"
	"github.com/replyradar/internal/llm"
	"github.com/replyradar/internal/logging"
	"github.com/replyradar/internal/notify"
	"github.com/replyradar/internal/pipeline"
	"github.com/replyradar/internal/prompts"
	"github.com/replyradar/internal/querycache"
	"github.com/replyradar/internal/retry"
	"github.com/replyradar/internal/sources"
	"github.com/replyradar/internal/store"
)

// App holds the wired services for one process.
type App struct {
	Config    *config.Config
	Store     store.Store
	Ledger    *budget.Ledger
	Autopilot *autopilot.Service
	Pipeline  *pipeline.Pipeline
	Cache     *querycache.Cache

	db *sql.DB
}

// loadConfig reads the file named by the global --config flag and validates it.
func loadConfig(c *cli.Context) (*config.Config, error) {
	cfg, err := config.LoadConfig(c.String("config"))
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if err := config.Validate(cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	if !c.IsSet("log-level") && !c.IsSet("pretty") {
		logging.Init(cfg.Log.Level, cfg.Log.Pretty)
	}
	return cfg, nil
}

// openStore returns the Postgres store when a database is configured and the in-memory store
// otherwise.
func openStore(ctx context.Context, cfg *config.Config) (store.Store, *sql.DB, error) {
	if cfg.Database.URL == "" {
		log.Warn().Msg("database.url not set, using in-memory store; nothing survives a restart")
		return store.NewMemoryStore(), nil, nil
	}
	db, err := store.Open(ctx, cfg.Database.URL)
	if err != nil {
		return nil, nil, err
	}
	pg := store.NewPostgresStore(db)
	if err := pg.Migrate(ctx); err != nil {
		db.Close()
		return nil, nil, err
	}
	return pg, db, nil
}

func buildApp(ctx context.Context, cfg *config.Config) (*App, error) {
	st, db, err := openStore(ctx, cfg)
	if err != nil {
		return nil, err
	}
	app := &App{Config: cfg, Store: st, db: db}

	var notifier notify.Notifier = notify.Nop{}
	if cfg.Notify.WebhookURL != "" {
		notifier = notify.NewWebhookNotifier(cfg.Notify.WebhookURL, cfg.Notify.Timeout)
	}

	budgetLoc, err := config.Location(cfg.Budget.Timezone)
	if err != nil {
		app.Close()
		return nil, err
	}
	ledgerOpts := []budget.Option{
		budget.WithAlertCooldown(cfg.Budget.AlertCooldown),
		budget.WithLocation(budgetLoc),
	}
	if len(cfg.Budget.Pricing) > 0 {
		ledgerOpts = append(ledgerOpts, budget.WithPricing(cfg.Budget.Pricing))
	}
	app.Ledger = budget.New(st, notifier, ledgerOpts...)

	conn, err := aiconnectors.NewConnector(ctx, cfg.LLM.ConnectorOptions)
	if err != nil {
		app.Close()
		return nil, fmt.Errorf("failed to create LLM connector: %w", err)
	}
	completer := llm.NewResilientCompleter(conn, retry.LLMRetryConfig(), cfg.LLM.Timeout)
	log.Info().Str("provider", string(conn.Provider())).Str("model", conn.Model()).Msg("LLM connector ready")

	pm := prompts.NewManager()
	if cfg.Prompts.Dir != "" {
		n, err := pm.LoadDir(cfg.Prompts.Dir)
		if err != nil {
			app.Close()
			return nil, fmt.Errorf("failed to load prompt overrides: %w", err)
		}
		log.Info().Int("count", n).Str("dir", cfg.Prompts.Dir).Msg("loaded prompt overrides")
	}

	cls := classifier.New(st, app.Ledger, completer, pm, notifier, cfg.Classifier)
	dft := drafter.New(st, app.Ledger, completer, pm, cfg.Drafter)

	apLoc, err := config.Location(cfg.Autopilot.Timezone)
	if err != nil {
		app.Close()
		return nil, err
	}
	var sender autopilot.Sender = autopilot.ManualSender{}
	if cfg.Autopilot.Sender == "notify" {
		sender = autopilot.NotifySender{Notifier: notifier}
	}
	app.Autopilot = autopilot.New(st, dft,
		autopilot.WithSender(sender),
		autopilot.WithLocation(apLoc),
		autopilot.WithBatchSize(cfg.Autopilot.BatchSize),
	)

	app.Cache = querycache.New()
	runner := sources.NewRunner(buildAdapters(cfg, app.Cache)...)

	pcfg := cfg.Pipeline
	if pcfg.LogDir == "" {
		pcfg.LogDir = cfg.Log.PassDir
	}
	app.Pipeline = pipeline.New(runner, ingest.New(st), cls, app.Autopilot, pcfg)
	return app, nil
}

func buildAdapters(cfg *config.Config, cache *querycache.Cache) []sources.Adapter {
	var adapters []sources.Adapter
	s := cfg.Sources
	if s.Reddit.Enabled {
		adapters = append(adapters, sources.NewRedditAdapter(s.Reddit.Options, s.Reddit.Subreddits, cache))
	}
	if s.HackerNews.Enabled {
		adapters = append(adapters, sources.NewHackerNewsAdapter(s.HackerNews.Options, cache))
	}
	if s.Forum.Enabled {
		adapters = append(adapters, sources.NewForumAdapter(s.Forum.Options, s.Forum.Selectors, cache))
	}
	return adapters
}

// Close releases the database connection, if any.
func (a *App) Close() error {
	if a.db == nil {
		return nil
	}
	return a.db.Close()
}

// withApp loads config, builds the app and runs fn with it.
func withApp(c *cli.Context, fn func(ctx context.Context, app *App) error) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}
	ctx := c.Context
	app, err := buildApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer app.Close()
	return fn(ctx, app)
}
