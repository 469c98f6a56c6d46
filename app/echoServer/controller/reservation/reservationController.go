package reservation

import (
	"log/slog"
	"net/http"
	"strconv"

	reservationsvc "bookloan/service/reservation"

	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"
)

type Controller struct {
	Svc reservationsvc.Service
	V   *validator.Validate
	Log *slog.Logger
}

// POST /v1/reservations
func (h *Controller) Reserve(c echo.Context) error {
	var req CreateReservationReq
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"message": "invalid json"})
	}
	if err := h.V.Struct(req); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"message": "validation error", "errors": err.Error()})
	}
	uid, _ := c.Get("user_id").(int64)

	res, err := h.Svc.Reserve(c.Request().Context(), uid, req.BookID)
	if err != nil {
		switch reservationsvc.Code(err) {
		case reservationsvc.ErrBookNotFound:
			return c.JSON(http.StatusNotFound, echo.Map{"message": "book not found"})
		case reservationsvc.ErrStockAvailable:
			return c.JSON(http.StatusConflict, echo.Map{"message": "copies are available, borrow instead"})
		case reservationsvc.ErrAlreadyQueued:
			return c.JSON(http.StatusConflict, echo.Map{"message": "you already have an open reservation for this book"})
		}
		h.Log.Error("reservation create error", "err", err)
		return c.JSON(http.StatusInternalServerError, echo.Map{"message": "internal error"})
	}
	return c.JSON(http.StatusCreated, res)
}

// POST /v1/reservations/:id/cancel
func (h *Controller) Cancel(c echo.Context) error {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		return c.JSON(http.StatusBadRequest, echo.Map{"message": "invalid id"})
	}
	uid, _ := c.Get("user_id").(int64)

	if err := h.Svc.Cancel(c.Request().Context(), uid, id); err != nil {
		switch reservationsvc.Code(err) {
		case reservationsvc.ErrNotFound:
			return c.JSON(http.StatusNotFound, echo.Map{"message": "reservation not found"})
		case reservationsvc.ErrNotOwner:
			return c.JSON(http.StatusForbidden, echo.Map{"message": "forbidden"})
		case reservationsvc.ErrNotCancellable:
			return c.JSON(http.StatusConflict, echo.Map{"message": "reservation already closed"})
		}
		h.Log.Error("reservation cancel error", "err", err)
		return c.JSON(http.StatusInternalServerError, echo.Map{"message": "internal error"})
	}
	return c.JSON(http.StatusOK, echo.Map{"message": "cancelled"})
}

// GET /v1/reservations/my
func (h *Controller) MyReservations(c echo.Context) error {
	uid, _ := c.Get("user_id").(int64)
	rows, err := h.Svc.MyReservations(c.Request().Context(), uid)
	if err != nil {
		h.Log.Error("reservation list error", "err", err)
		return c.JSON(http.StatusInternalServerError, echo.Map{"message": "internal error"})
	}
	return c.JSON(http.StatusOK, echo.Map{"data": rows})
}
