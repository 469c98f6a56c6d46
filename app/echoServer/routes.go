package echoServer

import (
	"net/http"

	"bookloan/app/echoServer/controller/admin"
	"bookloan/app/echoServer/controller/book"
	"bookloan/app/echoServer/controller/fine"
	"bookloan/app/echoServer/controller/loan"
	"bookloan/app/echoServer/controller/notification"
	"bookloan/app/echoServer/controller/reservation"
	"bookloan/app/echoServer/jwtx"
	"bookloan/model"

	"github.com/golang-jwt/jwt/v5"
	echojwt "github.com/labstack/echo-jwt/v4"
	"github.com/labstack/echo/v4"
)

type C struct {
	Book         *book.Controller
	Loan         *loan.Controller
	Reservation  *reservation.Controller
	Fine         *fine.Controller
	Notification *notification.Controller
	Admin        *admin.Controller

	JWTSecret string
}

func Register(e *echo.Echo, c C) {
	// Public
	pub := e.Group("/v1")
	pub.GET("/books", c.Book.Search)
	pub.GET("/books/:id", c.Book.Detail)

	// payment provider webhook, authenticated by callback token
	pub.POST("/payment/callback", c.Fine.HandleCallback)

	// Auth
	auth := e.Group("/v1")
	auth.Use(echojwt.WithConfig(echojwt.Config{
		SigningKey: []byte(c.JWTSecret),

		NewClaimsFunc: func(c echo.Context) jwt.Claims { return jwt.MapClaims{} },
		TokenLookup:   "header:Authorization",
	}))
	auth.Use(extractIdentity)

	// Members
	auth.POST("/loans", c.Loan.Request)
	auth.POST("/loans/:id/renew", c.Loan.Renew)
	auth.POST("/loans/:id/cancel", c.Loan.Cancel)
	auth.GET("/loans/my", c.Loan.MyLoans)
	auth.GET("/loans/overdue", c.Loan.MyOverdue)
	auth.GET("/loans/due-soon", c.Loan.MyDueSoon)

	auth.POST("/books/:id/rate", c.Book.Rate)

	auth.POST("/reservations", c.Reservation.Reserve)
	auth.POST("/reservations/:id/cancel", c.Reservation.Cancel)
	auth.GET("/reservations/my", c.Reservation.MyReservations)

	auth.GET("/fines/my", c.Fine.MyFines)
	auth.POST("/fines/:id/pay-link", c.Fine.CreatePaymentLink)

	auth.GET("/notifications", c.Notification.List)
	auth.POST("/notifications/:id/read", c.Notification.MarkRead)

	// Staff desk
	staff := auth.Group("/staff", RequireRole(model.RoleStaff, model.RoleAdmin))
	staff.POST("/books", c.Book.Create)
	staff.POST("/books/:id/copies", c.Book.AddCopies)
	staff.POST("/loans/:id/pickup", c.Loan.ConfirmPickup)
	staff.POST("/loans/:id/return", c.Loan.Return)
	staff.GET("/loans/pending", c.Loan.PendingPickups)
	staff.POST("/fines/:id/pay", c.Fine.Pay)

	// Admin
	adm := auth.Group("/admin", RequireRole(model.RoleAdmin))
	adm.POST("/fines/:id/waive", c.Fine.Waive)
	adm.GET("/settings", c.Admin.GetSettings)
	adm.PUT("/settings", c.Admin.UpdateSettings)
	adm.GET("/logs", c.Admin.ListLogs)
	adm.POST("/reconcile", c.Admin.ReconcileNow)
}

// extractIdentity copies the verified sub and role claims into the echo
// context so controllers never touch the token themselves.
func extractIdentity(next echo.HandlerFunc) echo.HandlerFunc {
	return func(ctx echo.Context) error {
		uid, err := jwtx.UserIDFromContext(ctx)
		if err != nil {
			return ctx.JSON(http.StatusUnauthorized, echo.Map{"message": "unauthorized"})
		}
		ctx.Set("user_id", uid)
		if role, err := jwtx.RoleFromContext(ctx); err == nil {
			ctx.Set("role", role)
		}
		return next(ctx)
	}
}

func RequireRole(roles ...string) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(ctx echo.Context) error {
			role, _ := ctx.Get("role").(string)
			for _, r := range roles {
				if role == r {
					return next(ctx)
				}
			}
			return ctx.JSON(http.StatusForbidden, echo.Map{"message": "forbidden"})
		}
	}
}
