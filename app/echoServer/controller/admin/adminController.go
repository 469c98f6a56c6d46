package admin

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"

	syslogrepo "bookloan/repository/syslog"
	settingssvc "bookloan/service/settings"

	"github.com/labstack/echo/v4"
)

// Sweeper runs one pickup-expiry and hold-expiry sweep on demand.
type Sweeper interface {
	SweepOnce(ctx context.Context)
}

type Controller struct {
	Settings settingssvc.Service
	Logs     syslogrepo.Repo
	Sweeper  Sweeper
	Log      *slog.Logger
}

// GET /v1/admin/settings
func (h *Controller) GetSettings(c echo.Context) error {
	values, err := h.Settings.All(c.Request().Context())
	if err != nil {
		h.Log.Error("settings read error", "err", err)
		return c.JSON(http.StatusInternalServerError, echo.Map{"message": "internal error"})
	}
	return c.JSON(http.StatusOK, echo.Map{"data": values})
}

// PUT /v1/admin/settings
func (h *Controller) UpdateSettings(c echo.Context) error {
	var req map[string]string
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"message": "invalid json"})
	}
	if len(req) == 0 {
		return c.JSON(http.StatusBadRequest, echo.Map{"message": "no settings given"})
	}
	if err := h.Settings.Update(c.Request().Context(), req); err != nil {
		h.Log.Error("settings update error", "err", err)
		return c.JSON(http.StatusInternalServerError, echo.Map{"message": "internal error"})
	}
	return c.JSON(http.StatusOK, echo.Map{"message": "updated"})
}

// POST /v1/admin/reconcile
func (h *Controller) ReconcileNow(c echo.Context) error {
	h.Sweeper.SweepOnce(c.Request().Context())
	return c.JSON(http.StatusOK, echo.Map{"message": "sweep completed"})
}

// GET /v1/admin/logs
func (h *Controller) ListLogs(c echo.Context) error {
	limit, _ := strconv.Atoi(c.QueryParam("limit"))
	rows, err := h.Logs.List(c.Request().Context(), limit)
	if err != nil {
		h.Log.Error("log list error", "err", err)
		return c.JSON(http.StatusInternalServerError, echo.Map{"message": "internal error"})
	}
	return c.JSON(http.StatusOK, echo.Map{"data": rows})
}
