package fine

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	paymentrepo "bookloan/repository/payment"
	finesvc "bookloan/service/fine"

	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"
)

type Controller struct {
	Svc      finesvc.Service
	Provider paymentrepo.Provider
	V        *validator.Validate
	Log      *slog.Logger
}

func pathID(c echo.Context) (int64, bool) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	return id, err == nil && id > 0
}

// GET /v1/fines/my
func (h *Controller) MyFines(c echo.Context) error {
	uid, _ := c.Get("user_id").(int64)
	rows, err := h.Svc.MyFines(c.Request().Context(), uid)
	if err != nil {
		h.Log.Error("fine list error", "err", err)
		return c.JSON(http.StatusInternalServerError, echo.Map{"message": "internal error"})
	}
	total, err := h.Svc.UnpaidTotal(c.Request().Context(), uid)
	if err != nil {
		h.Log.Error("fine total error", "err", err)
		return c.JSON(http.StatusInternalServerError, echo.Map{"message": "internal error"})
	}
	return c.JSON(http.StatusOK, echo.Map{"data": rows, "unpaid_total": total})
}

// POST /v1/fines/:id/pay-link
func (h *Controller) CreatePaymentLink(c echo.Context) error {
	id, ok := pathID(c)
	if !ok {
		return c.JSON(http.StatusBadRequest, echo.Map{"message": "invalid id"})
	}
	uid, _ := c.Get("user_id").(int64)

	link, err := h.Svc.CreatePaymentLink(c.Request().Context(), uid, id)
	if err != nil {
		switch finesvc.Code(err) {
		case finesvc.ErrNotFound:
			return c.JSON(http.StatusNotFound, echo.Map{"message": "fine not found"})
		case finesvc.ErrNotOwner:
			return c.JSON(http.StatusForbidden, echo.Map{"message": "forbidden"})
		case finesvc.ErrNotUnpaid:
			return c.JSON(http.StatusConflict, echo.Map{"message": "fine already settled"})
		}
		h.Log.Error("payment link error", "err", err)
		return c.JSON(http.StatusInternalServerError, echo.Map{"message": "internal error"})
	}
	return c.JSON(http.StatusCreated, echo.Map{"payment_link": link})
}

// POST /v1/staff/fines/:id/pay
func (h *Controller) Pay(c echo.Context) error {
	id, ok := pathID(c)
	if !ok {
		return c.JSON(http.StatusBadRequest, echo.Map{"message": "invalid id"})
	}
	uid, _ := c.Get("user_id").(int64)

	if err := h.Svc.Pay(c.Request().Context(), uid, id); err != nil {
		switch finesvc.Code(err) {
		case finesvc.ErrNotFound:
			return c.JSON(http.StatusNotFound, echo.Map{"message": "fine not found"})
		case finesvc.ErrNotUnpaid:
			return c.JSON(http.StatusConflict, echo.Map{"message": "fine already settled"})
		}
		h.Log.Error("fine pay error", "err", err)
		return c.JSON(http.StatusInternalServerError, echo.Map{"message": "internal error"})
	}
	return c.JSON(http.StatusOK, echo.Map{"message": "paid"})
}

// POST /v1/admin/fines/:id/waive
func (h *Controller) Waive(c echo.Context) error {
	id, ok := pathID(c)
	if !ok {
		return c.JSON(http.StatusBadRequest, echo.Map{"message": "invalid id"})
	}
	var req WaiveFineReq
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"message": "invalid json"})
	}
	if err := h.V.Struct(req); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"message": "validation error", "errors": err.Error()})
	}
	uid, _ := c.Get("user_id").(int64)

	if err := h.Svc.Waive(c.Request().Context(), uid, id, req.Reason); err != nil {
		switch finesvc.Code(err) {
		case finesvc.ErrNotFound:
			return c.JSON(http.StatusNotFound, echo.Map{"message": "fine not found"})
		case finesvc.ErrNotUnpaid:
			return c.JSON(http.StatusConflict, echo.Map{"message": "fine already settled"})
		}
		h.Log.Error("fine waive error", "err", err)
		return c.JSON(http.StatusInternalServerError, echo.Map{"message": "internal error"})
	}
	return c.JSON(http.StatusOK, echo.Map{"message": "waived"})
}

// POST /v1/payment/callback
func (h *Controller) HandleCallback(c echo.Context) error {
	sig := c.Request().Header.Get("X-Callback-Token")
	raw, _ := io.ReadAll(c.Request().Body)

	if err := h.Provider.VerifyCallbackSignature(sig, raw); err != nil {
		h.Log.Warn("payment callback rejected", "err", err)
		return c.JSON(http.StatusUnauthorized, echo.Map{"message": "invalid signature"})
	}

	var body struct {
		ID     string `json:"id"`
		Status string `json:"status"`
	}
	if err := json.Unmarshal(raw, &body); err != nil || body.ID == "" {
		return c.JSON(http.StatusBadRequest, echo.Map{"message": "invalid payload"})
	}
	if !strings.EqualFold(body.Status, "PAID") {
		// Expired or pending invoices carry no state change for us.
		return c.JSON(http.StatusOK, echo.Map{"message": "ignored"})
	}

	if err := h.Svc.SettleByInvoice(c.Request().Context(), body.ID); err != nil {
		if finesvc.Code(err) == finesvc.ErrUnknownInvoice {
			return c.JSON(http.StatusNotFound, echo.Map{"message": "unknown invoice"})
		}
		h.Log.Error("payment callback error", "err", err)
		return c.JSON(http.StatusInternalServerError, echo.Map{"message": "internal error"})
	}
	return c.JSON(http.StatusOK, echo.Map{"message": "ok"})
}
