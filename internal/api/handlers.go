package api

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/labstack/echo/v4"
	"github.com/riverqueue/river"

	"github.com/replyradar/internal/autopilot"
	"github.com/replyradar/internal/budget"
	"github.com/replyradar/internal/jobqueue"
	"github.com/replyradar/internal/store"
	"github.com/replyradar/pkg/models"
)

const (
	defaultListLimit = 50
	maxListLimit     = 500
)

func (s *Server) async(c echo.Context) bool {
	return s.deps.Jobs != nil && c.QueryParam("async") == "true"
}

func (s *Server) enqueue(c echo.Context, args river.JobArgs) error {
	if err := s.deps.Jobs.Enqueue(c.Request().Context(), args); err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusAccepted, map[string]string{"queued": args.Kind()})
}

func (s *Server) triggerIngest(c echo.Context) error {
	platform := c.Param("platform")
	if platform == "all" {
		platform = ""
	}
	if s.async(c) {
		return s.enqueue(c, jobqueue.IngestJobArgs{Platform: platform})
	}
	report, err := s.deps.Passes.Ingest(c.Request().Context(), models.Platform(platform))
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, report)
}

func (s *Server) triggerClassify(c echo.Context) error {
	limit, err := intParam(c, "limit", 0)
	if err != nil {
		return err
	}
	if s.async(c) {
		return s.enqueue(c, jobqueue.ClassifyJobArgs{Limit: limit})
	}
	sum, err := s.deps.Passes.Classify(c.Request().Context(), limit)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, sum)
}

func (s *Server) triggerTick(c echo.Context) error {
	if s.async(c) {
		return s.enqueue(c, jobqueue.TickJobArgs{})
	}
	res, err := s.deps.Passes.Tick(c.Request().Context())
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, res)
}

func (s *Server) listPosts(c echo.Context) error {
	limit, err := listLimit(c)
	if err != nil {
		return err
	}
	filter := store.PostFilter{Limit: limit}
	for _, v := range splitParam(c, "status") {
		filter.Statuses = append(filter.Statuses, models.PostStatus(strings.ToUpper(v)))
	}
	for _, v := range splitParam(c, "platform") {
		filter.Platforms = append(filter.Platforms, models.Platform(v))
	}
	for _, v := range splitParam(c, "intent") {
		filter.Intents = append(filter.Intents, models.IntentType(strings.ToUpper(v)))
	}
	if c.QueryParam("min_score") != "" {
		minScore, err := intParam(c, "min_score", 0)
		if err != nil {
			return err
		}
		filter.MinScore = &minScore
	}
	posts, err := s.deps.Store.ListPosts(c.Request().Context(), filter)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, posts)
}

func (s *Server) dismissPost(c echo.Context) error {
	ctx := c.Request().Context()
	id := c.Param("id")
	if err := s.deps.Store.UpdatePostStatus(ctx, id, models.PostStatusDismissed); err != nil {
		return httpError(err)
	}
	post, err := s.deps.Store.GetPost(ctx, id)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, post)
}

func (s *Server) listQueue(c echo.Context) error {
	limit, err := listLimit(c)
	if err != nil {
		return err
	}
	filter := store.QueueFilter{Limit: limit}
	for _, v := range splitParam(c, "status") {
		filter.Statuses = append(filter.Statuses, models.QueueStatus(strings.ToLower(v)))
	}
	items, err := s.deps.Autopilot.List(c.Request().Context(), filter)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, items)
}

func (s *Server) approveItem(c echo.Context) error {
	item, err := s.deps.Autopilot.Approve(c.Request().Context(), c.Param("id"))
	return itemResponse(c, item, err)
}

type skipRequest struct {
	Reason string `json:"reason"`
}

func (s *Server) skipItem(c echo.Context) error {
	var req skipRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	item, err := s.deps.Autopilot.Skip(c.Request().Context(), c.Param("id"), req.Reason)
	return itemResponse(c, item, err)
}

func (s *Server) sendItem(c echo.Context) error {
	item, err := s.deps.Autopilot.Send(c.Request().Context(), c.Param("id"))
	return itemResponse(c, item, err)
}

func (s *Server) regenerateItem(c echo.Context) error {
	item, err := s.deps.Autopilot.Regenerate(c.Request().Context(), c.Param("id"))
	return itemResponse(c, item, err)
}

type editRequest struct {
	Content string `json:"content"`
}

func (s *Server) editDraft(c echo.Context) error {
	var req editRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	item, err := s.deps.Autopilot.EditDraft(c.Request().Context(), c.Param("id"), req.Content)
	return itemResponse(c, item, err)
}

func itemResponse(c echo.Context, item *models.AutopilotQueueItem, err error) error {
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, item)
}

func (s *Server) getAutopilotConfig(c echo.Context) error {
	cfg, err := s.deps.Autopilot.Config(c.Request().Context())
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, cfg)
}

func (s *Server) updateAutopilotConfig(c echo.Context) error {
	var req autopilot.ConfigUpdate
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	cfg, err := s.deps.Autopilot.UpdateConfig(c.Request().Context(), req)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, cfg)
}

func (s *Server) getBudget(c echo.Context) error {
	st, err := s.deps.Ledger.Status(c.Request().Context())
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, st)
}

func (s *Server) updateBudget(c echo.Context) error {
	var req budget.SettingsUpdate
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	settings, err := s.deps.Ledger.UpdateSettings(c.Request().Context(), req)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, settings)
}

func intParam(c echo.Context, name string, def int) (int, error) {
	raw := c.QueryParam(name)
	if raw == "" {
		return def, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v < 0 {
		return 0, echo.NewHTTPError(http.StatusBadRequest, name+" must be a non-negative integer")
	}
	return v, nil
}

func listLimit(c echo.Context) (int, error) {
	limit, err := intParam(c, "limit", defaultListLimit)
	if err != nil {
		return 0, err
	}
	if limit == 0 || limit > maxListLimit {
		limit = maxListLimit
	}
	return limit, nil
}

func splitParam(c echo.Context, name string) []string {
	raw := c.QueryParam(name)
	if raw == "" {
		return nil
	}
	var out []string
	for _, v := range strings.Split(raw, ",") {
		if v = strings.TrimSpace(v); v != "" {
			out = append(out, v)
		}
	}
	return out
}
