package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/riverqueue/river"
	"github.com/rs/zerolog/log"

	"github.com/replyradar/internal/autopilot"
	"github.com/replyradar/internal/budget"
	"github.com/replyradar/internal/classifier"
	"github.com/replyradar/internal/metrics"
	"github.com/replyradar/internal/pipeline"
	"github.com/replyradar/internal/store"
	"github.com/replyradar/pkg/models"
)

// Passes runs the batch passes inline.
type Passes interface {
	Ingest(ctx context.Context, platform models.Platform) (pipeline.IngestReport, error)
	Classify(ctx context.Context, limit int) (classifier.BatchSummary, error)
	Tick(ctx context.Context) (autopilot.TickResult, error)
}

// Enqueuer hands a pass to the job queue instead of running it in the request.
type Enqueuer interface {
	Enqueue(ctx context.Context, args river.JobArgs) error
}

// Deps are the services the handlers call. Jobs is optional.
type Deps struct {
	Passes    Passes
	Autopilot *autopilot.Service
	Ledger    *budget.Ledger
	Store     store.Store
	Jobs      Enqueuer
	JobSecret string
}

// Server represents the API server
type Server struct {
	echo *echo.Echo
	addr string
	deps Deps
}

// NewServer creates a new API server
func NewServer(addr string, deps Deps) *Server {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.Use(middleware.Recover())
	e.Use(middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogMethod:  true,
		LogURI:     true,
		LogStatus:  true,
		LogLatency: true,
		LogError:   true,
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			ev := log.Info()
			if v.Error != nil || v.Status >= http.StatusInternalServerError {
				ev = log.Warn().Err(v.Error)
			}
			ev.Str("method", v.Method).Str("uri", v.URI).Int("status", v.Status).Dur("latency", v.Latency).Msg("request")
			return nil
		},
	}))

	server := &Server{echo: e, addr: addr, deps: deps}
	server.setupRoutes()
	return server
}

// setupRoutes configures all API endpoints
func (s *Server) setupRoutes() {
	s.echo.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{"status": "healthy"})
	})
	s.echo.GET("/metrics", echo.WrapHandler(metrics.Handler()))

	v1 := s.echo.Group("/api/v1", RequireJobSecret(s.deps.JobSecret))

	v1.POST("/jobs/ingest/:platform", s.triggerIngest)
	v1.POST("/jobs/classify", s.triggerClassify)
	v1.POST("/jobs/autopilot-tick", s.triggerTick)

	v1.GET("/posts", s.listPosts)
	v1.POST("/posts/:id/dismiss", s.dismissPost)

	v1.GET("/queue", s.listQueue)
	v1.POST("/queue/:id/approve", s.approveItem)
	v1.POST("/queue/:id/skip", s.skipItem)
	v1.POST("/queue/:id/send", s.sendItem)
	v1.POST("/queue/:id/regenerate", s.regenerateItem)
	v1.PUT("/queue/:id/draft", s.editDraft)

	v1.GET("/autopilot/config", s.getAutopilotConfig)
	v1.PUT("/autopilot/config", s.updateAutopilotConfig)

	v1.GET("/budget", s.getBudget)
	v1.PUT("/budget", s.updateBudget)
}

// Handler exposes the router, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.echo
}

// Start serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Start(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("addr", s.addr).Msg("API server listening")
		if err := s.echo.Start(s.addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err, ok := <-errCh:
		if ok {
			return err
		}
		return nil
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return s.echo.Shutdown(shutdownCtx)
}

// httpError maps domain errors to status codes.
func httpError(err error) error {
	switch {
	case errors.Is(err, autopilot.ErrSendDeferred):
		return echo.NewHTTPError(http.StatusConflict, err.Error())
	case errors.Is(err, store.ErrNotFound), errors.Is(err, pipeline.ErrUnknownPlatform):
		return echo.NewHTTPError(http.StatusNotFound, err.Error())
	case errors.Is(err, autopilot.ErrInvalidTransition):
		return echo.NewHTTPError(http.StatusConflict, err.Error())
	case errors.Is(err, autopilot.ErrInvalidInput), errors.Is(err, budget.ErrInvalidSettings):
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	case errors.Is(err, autopilot.ErrRegenerateFailed):
		return echo.NewHTTPError(http.StatusBadGateway, err.Error())
	}
	log.Error().Err(err).Msg("request failed")
	return echo.NewHTTPError(http.StatusInternalServerError, "internal error")
}
