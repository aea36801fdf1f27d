package handlers

import (
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/memohai/botsmith/internal/audit"
	"github.com/memohai/botsmith/internal/auth"
	"github.com/memohai/botsmith/internal/bots"
	"github.com/memohai/botsmith/internal/credits"
	"github.com/memohai/botsmith/internal/secrets"
	"github.com/memohai/botsmith/internal/users"
)

const defaultHistoryLimit = 20

// AdminHandler is the operator API: approvals, credit grants, run audit and
// bot inspection. Every route sits behind the JWT middleware.
type AdminHandler struct {
	users   *users.Service
	gate    *credits.Gate
	runs    *audit.Recorder
	bots    *bots.Service
	secrets *secrets.Service
	logger  *slog.Logger
}

func NewAdminHandler(log *slog.Logger, u *users.Service, gate *credits.Gate, runs *audit.Recorder, b *bots.Service, sec *secrets.Service) *AdminHandler {
	if log == nil {
		log = slog.Default()
	}
	return &AdminHandler{
		users:   u,
		gate:    gate,
		runs:    runs,
		bots:    b,
		secrets: sec,
		logger:  log.With(slog.String("handler", "admin")),
	}
}

func (h *AdminHandler) Register(e *echo.Echo) {
	g := e.Group("/admin")
	g.GET("/users", h.ListUsers)
	g.POST("/users/:id/status", h.SetUserStatus)
	g.GET("/users/:id/credits", h.GetCredits)
	g.POST("/users/:id/credits", h.AddCredits)
	g.GET("/runs", h.ListRuns)
	g.GET("/bots/:id", h.GetBot)
	g.GET("/bots/:id/secrets", h.ListSecrets)
	g.PUT("/bots/:id/secrets/:key", h.PutSecret)
	g.DELETE("/bots/:id/secrets/:key", h.DeleteSecret)
}

// ListUsersResponse wraps a page of users.
type ListUsersResponse struct {
	Items []users.User `json:"items"`
}

func (h *AdminHandler) ListUsers(c echo.Context) error {
	limit, err := queryInt(c, "limit", 0)
	if err != nil {
		return err
	}
	offset, err := queryInt(c, "offset", 0)
	if err != nil {
		return err
	}
	f := users.ListFilter{Limit: limit, Offset: offset}
	if raw := strings.TrimSpace(c.QueryParam("status")); raw != "" {
		status, err := users.ParseStatus(strings.ToUpper(raw))
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, err.Error())
		}
		f.Status = status
	}
	items, err := h.users.List(c.Request().Context(), f)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	if items == nil {
		items = []users.User{}
	}
	return c.JSON(http.StatusOK, ListUsersResponse{Items: items})
}

// SetStatusRequest is the body of POST /admin/users/:id/status.
type SetStatusRequest struct {
	Status string `json:"status"`
}

func (h *AdminHandler) SetUserStatus(c echo.Context) error {
	id, err := requireParam(c, "id")
	if err != nil {
		return err
	}
	var req SetStatusRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	u, err := h.users.SetStatus(c.Request().Context(), id, strings.ToUpper(strings.TrimSpace(req.Status)))
	if err != nil {
		return userError(err)
	}
	h.logger.Info("user status set by operator", slog.String("user_id", id), slog.String("status", string(u.Status)), slog.String("operator", operator(c)))
	return c.JSON(http.StatusOK, u)
}

// CreditsResponse is the balance of a user plus recent ledger entries.
type CreditsResponse struct {
	Summary credits.Summary       `json:"summary"`
	History []credits.Transaction `json:"history"`
}

func (h *AdminHandler) GetCredits(c echo.Context) error {
	id, err := requireParam(c, "id")
	if err != nil {
		return err
	}
	limit, err := queryInt(c, "limit", defaultHistoryLimit)
	if err != nil {
		return err
	}
	ctx := c.Request().Context()
	summary, err := h.gate.Summary(ctx, id)
	if err != nil {
		return userError(err)
	}
	history, err := h.gate.History(ctx, id, limit)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	if history == nil {
		history = []credits.Transaction{}
	}
	return c.JSON(http.StatusOK, CreditsResponse{Summary: summary, History: history})
}

// AddCreditsRequest is the body of POST /admin/users/:id/credits.
type AddCreditsRequest struct {
	Amount int    `json:"amount"`
	Type   string `json:"type"`
	Reason string `json:"reason"`
}

func (h *AdminHandler) AddCredits(c echo.Context) error {
	id, err := requireParam(c, "id")
	if err != nil {
		return err
	}
	var req AddCreditsRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if strings.TrimSpace(req.Type) == "" {
		req.Type = string(credits.TypeTopUp)
	}
	t, err := credits.ParseType(req.Type)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	reason := strings.TrimSpace(req.Reason)
	if reason == "" {
		reason = "admin_" + strings.ToLower(string(t))
	}
	tx, err := h.gate.AddCredits(c.Request().Context(), id, req.Amount, t, reason, operator(c))
	if err != nil {
		return userError(err)
	}
	return c.JSON(http.StatusCreated, tx)
}

// ListRunsResponse wraps a page of agent runs.
type ListRunsResponse struct {
	Items []audit.AgentRun `json:"items"`
}

func (h *AdminHandler) ListRuns(c echo.Context) error {
	limit, err := queryInt(c, "limit", 0)
	if err != nil {
		return err
	}
	items, err := h.runs.List(c.Request().Context(), audit.Filter{
		UserID:  strings.TrimSpace(c.QueryParam("user_id")),
		TraceID: strings.TrimSpace(c.QueryParam("trace_id")),
		Status:  strings.ToUpper(strings.TrimSpace(c.QueryParam("status"))),
		Limit:   limit,
	})
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	if items == nil {
		items = []audit.AgentRun{}
	}
	return c.JSON(http.StatusOK, ListRunsResponse{Items: items})
}

func (h *AdminHandler) GetBot(c echo.Context) error {
	id, err := requireParam(c, "id")
	if err != nil {
		return err
	}
	b, err := h.bots.Get(c.Request().Context(), id)
	if err != nil {
		if errors.Is(err, bots.ErrBotNotFound) {
			return echo.NewHTTPError(http.StatusNotFound, "bot not found")
		}
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, b)
}

// SecretKeysResponse lists secret names. Values are never returned.
type SecretKeysResponse struct {
	Keys []string `json:"keys"`
}

// PutSecretRequest is the body of PUT /admin/bots/:id/secrets/:key.
type PutSecretRequest struct {
	Value string `json:"value"`
}

func (h *AdminHandler) ListSecrets(c echo.Context) error {
	id, err := h.existingBot(c)
	if err != nil {
		return err
	}
	keys, err := h.secrets.Keys(c.Request().Context(), id)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	if keys == nil {
		keys = []string{}
	}
	return c.JSON(http.StatusOK, SecretKeysResponse{Keys: keys})
}

func (h *AdminHandler) PutSecret(c echo.Context) error {
	id, err := h.existingBot(c)
	if err != nil {
		return err
	}
	key, err := requireParam(c, "key")
	if err != nil {
		return err
	}
	var req PutSecretRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if req.Value == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "value is required")
	}
	if err := h.secrets.Set(c.Request().Context(), id, key, req.Value); err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.NoContent(http.StatusNoContent)
}

func (h *AdminHandler) DeleteSecret(c echo.Context) error {
	id, err := h.existingBot(c)
	if err != nil {
		return err
	}
	key, err := requireParam(c, "key")
	if err != nil {
		return err
	}
	if err := h.secrets.Delete(c.Request().Context(), id, key); err != nil {
		if errors.Is(err, secrets.ErrSecretNotFound) {
			return echo.NewHTTPError(http.StatusNotFound, "secret not found")
		}
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.NoContent(http.StatusNoContent)
}

func (h *AdminHandler) existingBot(c echo.Context) (string, error) {
	id, err := requireParam(c, "id")
	if err != nil {
		return "", err
	}
	if _, err := h.bots.Get(c.Request().Context(), id); err != nil {
		if errors.Is(err, bots.ErrBotNotFound) {
			return "", echo.NewHTTPError(http.StatusNotFound, "bot not found")
		}
		return "", echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return id, nil
}

func userError(err error) error {
	switch {
	case errors.Is(err, users.ErrUserNotFound):
		return echo.NewHTTPError(http.StatusNotFound, "user not found")
	case errors.Is(err, users.ErrInvalidStatus),
		errors.Is(err, credits.ErrInvalidAmount),
		errors.Is(err, credits.ErrInvalidType),
		errors.Is(err, credits.ErrInsufficientCredits):
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
}

func operator(c echo.Context) string {
	id, err := auth.UserIDFromContext(c)
	if err != nil {
		return ""
	}
	return id
}
