package handlers

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/memohai/botsmith/internal/schedule"
)

// JobRunner is the scheduler surface exposed to operators.
type JobRunner interface {
	Statuses() []schedule.Status
	Trigger(ctx context.Context, name string) error
}

type JobsHandler struct {
	jobs   JobRunner
	logger *slog.Logger
}

func NewJobsHandler(log *slog.Logger, jobs JobRunner) *JobsHandler {
	if log == nil {
		log = slog.Default()
	}
	return &JobsHandler{jobs: jobs, logger: log.With(slog.String("handler", "jobs"))}
}

func (h *JobsHandler) Register(e *echo.Echo) {
	e.GET("/admin/jobs", h.List)
	e.POST("/admin/jobs/:name/run", h.Run)
}

func (h *JobsHandler) List(c echo.Context) error {
	return c.JSON(http.StatusOK, schedule.ListResponse{Items: h.jobs.Statuses()})
}

func (h *JobsHandler) Run(c echo.Context) error {
	name, err := requireParam(c, "name")
	if err != nil {
		return err
	}
	if err := h.jobs.Trigger(c.Request().Context(), name); err != nil {
		if errors.Is(err, schedule.ErrJobNotFound) {
			return echo.NewHTTPError(http.StatusNotFound, "job not found")
		}
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	h.logger.Info("job triggered by operator", slog.String("job", name), slog.String("operator", operator(c)))
	return c.NoContent(http.StatusNoContent)
}
