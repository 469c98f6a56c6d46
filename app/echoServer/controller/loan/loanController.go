package loan

import (
	"log/slog"
	"net/http"
	"strconv"

	loansvc "bookloan/service/loan"

	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"
)

type Controller struct {
	Svc loansvc.Service
	V   *validator.Validate
	Log *slog.Logger
}

func pathID(c echo.Context) (int64, bool) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	return id, err == nil && id > 0
}

// POST /v1/loans
func (h *Controller) Request(c echo.Context) error {
	var req CreateLoanReq
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"message": "invalid json"})
	}
	if err := h.V.Struct(req); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"message": "validation error", "errors": err.Error()})
	}
	uid, _ := c.Get("user_id").(int64)

	loan, err := h.Svc.Request(c.Request().Context(), uid, req.BookID)
	if err != nil {
		switch loansvc.Code(err) {
		case loansvc.ErrBookNotFound:
			return c.JSON(http.StatusNotFound, echo.Map{"message": "book not found"})
		case loansvc.ErrNoStock:
			return c.JSON(http.StatusConflict, echo.Map{"message": "no copies available, consider reserving"})
		case loansvc.ErrAccountLocked:
			return c.JSON(http.StatusForbidden, echo.Map{"message": "account locked"})
		case loansvc.ErrUnpaidFines:
			return c.JSON(http.StatusForbidden, echo.Map{"message": "settle unpaid fines first"})
		case loansvc.ErrLimitReached:
			return c.JSON(http.StatusConflict, echo.Map{"message": "loan limit reached"})
		case loansvc.ErrDuplicateLoan:
			return c.JSON(http.StatusConflict, echo.Map{"message": "you already hold this book"})
		}
		h.Log.Error("loan request error", "err", err)
		return c.JSON(http.StatusInternalServerError, echo.Map{"message": "internal error"})
	}
	return c.JSON(http.StatusCreated, loan)
}

// POST /v1/loans/:id/renew
func (h *Controller) Renew(c echo.Context) error {
	id, ok := pathID(c)
	if !ok {
		return c.JSON(http.StatusBadRequest, echo.Map{"message": "invalid id"})
	}
	uid, _ := c.Get("user_id").(int64)

	loan, err := h.Svc.Renew(c.Request().Context(), uid, id)
	if err != nil {
		switch loansvc.Code(err) {
		case loansvc.ErrLoanNotFound:
			return c.JSON(http.StatusNotFound, echo.Map{"message": "loan not found"})
		case loansvc.ErrNotOwner:
			return c.JSON(http.StatusForbidden, echo.Map{"message": "forbidden"})
		case loansvc.ErrNotBorrowed:
			return c.JSON(http.StatusConflict, echo.Map{"message": "loan is not active"})
		case loansvc.ErrRenewLimit:
			return c.JSON(http.StatusConflict, echo.Map{"message": "renewal limit reached"})
		case loansvc.ErrOverdue:
			return c.JSON(http.StatusConflict, echo.Map{"message": "loan is overdue"})
		case loansvc.ErrBookReserved:
			return c.JSON(http.StatusConflict, echo.Map{"message": "book is reserved by another member"})
		}
		h.Log.Error("loan renew error", "err", err)
		return c.JSON(http.StatusInternalServerError, echo.Map{"message": "internal error"})
	}
	return c.JSON(http.StatusOK, loan)
}

// POST /v1/loans/:id/cancel
func (h *Controller) Cancel(c echo.Context) error {
	id, ok := pathID(c)
	if !ok {
		return c.JSON(http.StatusBadRequest, echo.Map{"message": "invalid id"})
	}
	uid, _ := c.Get("user_id").(int64)

	if err := h.Svc.Cancel(c.Request().Context(), uid, id); err != nil {
		switch loansvc.Code(err) {
		case loansvc.ErrLoanNotFound:
			return c.JSON(http.StatusNotFound, echo.Map{"message": "loan not found"})
		case loansvc.ErrNotOwner:
			return c.JSON(http.StatusForbidden, echo.Map{"message": "forbidden"})
		case loansvc.ErrNotPending:
			return c.JSON(http.StatusConflict, echo.Map{"message": "loan is not awaiting pickup"})
		}
		h.Log.Error("loan cancel error", "err", err)
		return c.JSON(http.StatusInternalServerError, echo.Map{"message": "internal error"})
	}
	return c.JSON(http.StatusOK, echo.Map{"message": "cancelled"})
}

// GET /v1/loans/my
func (h *Controller) MyLoans(c echo.Context) error {
	uid, _ := c.Get("user_id").(int64)
	rows, err := h.Svc.MyLoans(c.Request().Context(), uid)
	if err != nil {
		h.Log.Error("loan list error", "err", err)
		return c.JSON(http.StatusInternalServerError, echo.Map{"message": "internal error"})
	}
	return c.JSON(http.StatusOK, echo.Map{"data": rows})
}

// GET /v1/loans/due-soon
func (h *Controller) MyDueSoon(c echo.Context) error {
	uid, _ := c.Get("user_id").(int64)
	rows, err := h.Svc.MyDueSoon(c.Request().Context(), uid)
	if err != nil {
		h.Log.Error("due soon list error", "err", err)
		return c.JSON(http.StatusInternalServerError, echo.Map{"message": "internal error"})
	}
	return c.JSON(http.StatusOK, echo.Map{"data": rows})
}

// GET /v1/loans/overdue
func (h *Controller) MyOverdue(c echo.Context) error {
	uid, _ := c.Get("user_id").(int64)
	rows, err := h.Svc.MyOverdue(c.Request().Context(), uid)
	if err != nil {
		h.Log.Error("overdue list error", "err", err)
		return c.JSON(http.StatusInternalServerError, echo.Map{"message": "internal error"})
	}
	return c.JSON(http.StatusOK, echo.Map{"data": rows})
}

// POST /v1/staff/loans/:id/pickup
func (h *Controller) ConfirmPickup(c echo.Context) error {
	id, ok := pathID(c)
	if !ok {
		return c.JSON(http.StatusBadRequest, echo.Map{"message": "invalid id"})
	}
	loan, err := h.Svc.ConfirmPickup(c.Request().Context(), id)
	if err != nil {
		switch loansvc.Code(err) {
		case loansvc.ErrLoanNotFound:
			return c.JSON(http.StatusNotFound, echo.Map{"message": "loan not found"})
		case loansvc.ErrNotPending:
			return c.JSON(http.StatusConflict, echo.Map{"message": "loan is not awaiting pickup"})
		case loansvc.ErrPickupExpired:
			return c.JSON(http.StatusConflict, echo.Map{"message": "pickup deadline passed, loan cancelled"})
		}
		h.Log.Error("pickup confirm error", "err", err)
		return c.JSON(http.StatusInternalServerError, echo.Map{"message": "internal error"})
	}
	return c.JSON(http.StatusOK, loan)
}

// POST /v1/staff/loans/:id/return
func (h *Controller) Return(c echo.Context) error {
	id, ok := pathID(c)
	if !ok {
		return c.JSON(http.StatusBadRequest, echo.Map{"message": "invalid id"})
	}
	var req ReturnLoanReq
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"message": "invalid json"})
	}
	if err := h.V.Struct(req); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"message": "validation error", "errors": err.Error()})
	}

	out, err := h.Svc.Return(c.Request().Context(), id, req.Condition)
	if err != nil {
		switch loansvc.Code(err) {
		case loansvc.ErrLoanNotFound:
			return c.JSON(http.StatusNotFound, echo.Map{"message": "loan not found"})
		case loansvc.ErrNotBorrowed:
			return c.JSON(http.StatusConflict, echo.Map{"message": "loan is not active"})
		case loansvc.ErrBadCondition:
			return c.JSON(http.StatusBadRequest, echo.Map{"message": "unknown condition code"})
		}
		h.Log.Error("loan return error", "err", err)
		return c.JSON(http.StatusInternalServerError, echo.Map{"message": "internal error"})
	}
	return c.JSON(http.StatusOK, echo.Map{
		"loan_id":    out.LoanID,
		"late_fee":   out.LateFee,
		"damage_fee": out.DamageFee,
		"total_fee":  out.TotalFee,
	})
}

// GET /v1/staff/loans/pending
func (h *Controller) PendingPickups(c echo.Context) error {
	rows, err := h.Svc.PendingPickups(c.Request().Context())
	if err != nil {
		h.Log.Error("pending pickups error", "err", err)
		return c.JSON(http.StatusInternalServerError, echo.Map{"message": "internal error"})
	}
	return c.JSON(http.StatusOK, echo.Map{"data": rows})
}
