package server

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"

	"github.com/mohammad-safakhou/growloop/internal/knowledge"
	"github.com/mohammad-safakhou/growloop/internal/orchestrator"
	"github.com/mohammad-safakhou/growloop/internal/pipeline"
	"github.com/mohammad-safakhou/growloop/internal/store"
	"github.com/mohammad-safakhou/growloop/internal/telemetry"
)

// LoopHandler exposes the growth loop over HTTP: status, the knowledge
// store's read views, the approval gate, and manual cycle triggers.
type LoopHandler struct {
	Orch           *orchestrator.Orchestrator
	KB             *knowledge.Base
	Runs           *store.Store // nil when not postgres-backed
	Tele           *telemetry.Telemetry
	FollowerTarget int
}

func (h *LoopHandler) Register(g *echo.Group) {
	g.GET("/status", h.status)
	g.GET("/strategy", h.strategy)
	g.GET("/patterns", h.patterns)
	g.GET("/posts", h.posts)
	g.GET("/approvals", h.approvals)
	g.POST("/approvals/:id/decision", h.decide)
	g.POST("/cycles/creation", h.triggerCreation)
	g.POST("/cycles/learning", h.triggerLearning)
	g.GET("/runs", h.runs)
}

func (h *LoopHandler) status(c echo.Context) error {
	ctx := c.Request().Context()
	niche, configured, err := h.KB.NicheConfig(ctx)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	pending, err := h.Orch.PendingApprovals(ctx)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	out := map[string]interface{}{
		"account":           h.KB.Account(),
		"configured":        configured,
		"niche":             niche.Niche,
		"follower_target":   h.FollowerTarget,
		"pending_approvals": len(pending),
	}
	if h.Tele != nil {
		out["metrics"] = h.Tele.GetMetrics()
		out["costs"] = h.Tele.GetCostSummary()
	}
	return c.JSON(http.StatusOK, out)
}

func (h *LoopHandler) strategy(c echo.Context) error {
	s, err := h.KB.Strategy(c.Request().Context())
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, s)
}

func (h *LoopHandler) patterns(c echo.Context) error {
	perf, err := h.KB.AllPatternPerformance(c.Request().Context())
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, perf)
}

func (h *LoopHandler) posts(c echo.Context) error {
	limit, _ := strconv.Atoi(c.QueryParam("limit"))
	posts, err := h.KB.RecentPosts(c.Request().Context(), limit)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, posts)
}

func (h *LoopHandler) approvals(c echo.Context) error {
	pending, err := h.Orch.PendingApprovals(c.Request().Context())
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, pending)
}

func (h *LoopHandler) decide(c echo.Context) error {
	id := c.Param("id")
	var d pipeline.Decision
	if err := c.Bind(&d); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	res, err := h.Orch.HandleDecision(c.Request().Context(), id, d)
	switch {
	case errors.Is(err, store.ErrSuspensionNotFound):
		return echo.NewHTTPError(http.StatusNotFound, "no such suspension")
	case errors.Is(err, store.ErrSuspensionResolved):
		return echo.NewHTTPError(http.StatusConflict, "suspension already resolved")
	case err != nil:
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	return c.JSON(http.StatusOK, map[string]interface{}{
		"outcome":       res.Outcome,
		"suspension_id": res.SuspensionID,
		"publish_at":    res.PublishAt,
	})
}

type triggerRequest struct {
	CycleID string `json:"cycle_id"`
}

func (h *LoopHandler) triggerCreation(c echo.Context) error {
	var req triggerRequest
	_ = c.Bind(&req)
	out, id, err := h.Orch.RunCreationCycle(c.Request().Context(), req.CycleID)
	if errors.Is(err, orchestrator.ErrDuplicateTrigger) {
		return echo.NewHTTPError(http.StatusConflict, "cycle already processed")
	}
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusAccepted, map[string]string{"cycle_id": id, "outcome": string(out)})
}

func (h *LoopHandler) triggerLearning(c echo.Context) error {
	var req triggerRequest
	_ = c.Bind(&req)
	report, err := h.Orch.RunLearningCycle(c.Request().Context(), req.CycleID)
	if errors.Is(err, orchestrator.ErrDuplicateTrigger) {
		return echo.NewHTTPError(http.StatusConflict, "cycle already processed")
	}
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusAccepted, report)
}

func (h *LoopHandler) runs(c echo.Context) error {
	if h.Runs == nil {
		return echo.NewHTTPError(http.StatusNotFound, "run history requires postgres storage")
	}
	kind := c.QueryParam("kind")
	if kind == "" {
		kind = "creation"
	}
	limit, _ := strconv.Atoi(c.QueryParam("limit"))
	runs, err := h.Runs.ListCycleRuns(c.Request().Context(), kind, limit)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, runs)
}
