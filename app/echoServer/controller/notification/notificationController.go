package notification

import (
	"log/slog"
	"net/http"
	"strconv"

	notificationrepo "bookloan/repository/notification"

	"github.com/labstack/echo/v4"
)

type Controller struct {
	Repo notificationrepo.Repo
	Log  *slog.Logger
}

// GET /v1/notifications
func (h *Controller) List(c echo.Context) error {
	uid, _ := c.Get("user_id").(int64)
	rows, err := h.Repo.ListByUser(c.Request().Context(), uid)
	if err != nil {
		h.Log.Error("notification list error", "err", err)
		return c.JSON(http.StatusInternalServerError, echo.Map{"message": "internal error"})
	}
	return c.JSON(http.StatusOK, echo.Map{"data": rows})
}

// POST /v1/notifications/:id/read
func (h *Controller) MarkRead(c echo.Context) error {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		return c.JSON(http.StatusBadRequest, echo.Map{"message": "invalid id"})
	}
	uid, _ := c.Get("user_id").(int64)

	if err := h.Repo.MarkRead(c.Request().Context(), uid, id); err != nil {
		h.Log.Error("notification mark read error", "err", err)
		return c.JSON(http.StatusInternalServerError, echo.Map{"message": "internal error"})
	}
	return c.JSON(http.StatusOK, echo.Map{"message": "read"})
}
