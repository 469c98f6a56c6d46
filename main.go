// Package main library loan API.
//
// @title           Library Loan API
// @version         1.0
// @description     Library borrowing service (catalog, loans, reservations, fines).
// @BasePath        /
// @schemes         http
// @securityDefinitions.apikey BearerAuth
// @in header
// @name Authorization
// @description  Use:  Bearer <JWT>
package main

import (
	"context"
	"log/slog"
	"os"
	"time"

	"bookloan/app/echoServer"
	adminctrl "bookloan/app/echoServer/controller/admin"
	bookctrl "bookloan/app/echoServer/controller/book"
	finectrl "bookloan/app/echoServer/controller/fine"
	loanctrl "bookloan/app/echoServer/controller/loan"
	notificationctrl "bookloan/app/echoServer/controller/notification"
	reservationctrl "bookloan/app/echoServer/controller/reservation"
	"bookloan/app/echoServer/validation"
	"bookloan/config"
	bookrepo "bookloan/repository/book"
	finerepo "bookloan/repository/fine"
	loanrepo "bookloan/repository/loan"
	notificationrepo "bookloan/repository/notification"
	paymentrepo "bookloan/repository/payment"
	reservationrepo "bookloan/repository/reservation"
	settingsrepo "bookloan/repository/settings"
	syslogrepo "bookloan/repository/syslog"
	userrepo "bookloan/repository/user"
	booksvc "bookloan/service/book"
	finesvc "bookloan/service/fine"
	"bookloan/service/inventory"
	loansvc "bookloan/service/loan"
	"bookloan/service/reconciler"
	reservationsvc "bookloan/service/reservation"
	settingssvc "bookloan/service/settings"
	"bookloan/util/database"
	"bookloan/util/metrics"

	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"
	"github.com/lmittmann/tint"
	echoSwagger "github.com/swaggo/echo-swagger"
)

func main() {

	cfg := config.Load()
	ctx := context.Background()

	// logger
	var log *slog.Logger
	if cfg.Env == "dev" {
		log = slog.New(tint.NewHandler(os.Stderr, &tint.Options{Level: slog.LevelDebug}))
	} else {
		log = slog.New(slog.NewJSONHandler(os.Stdout, nil))
	}
	slog.SetDefault(log)

	// DB: *sql.DB
	db, err := database.New(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Error("db connect failed", "err", err)
		os.Exit(1)
	}
	defer db.Close()

	// repos
	br := bookrepo.New(db.DB)
	lr := loanrepo.New(db.DB)
	rr := reservationrepo.New(db.DB)
	fr := finerepo.New(db.DB)
	ur := userrepo.New(db.DB)
	sr := syslogrepo.New(db.DB)
	nr := notificationrepo.New(db.DB)
	cr := settingsrepo.New(db.DB)
	pp := paymentrepo.NewHTTP(cfg.PaymentAPIKey)

	// services
	settings := settingssvc.New(cr, log)
	ledger := inventory.New(br)
	rs := reservationsvc.New(db, rr, br, ledger, nr, sr, settings, log)
	ls := loansvc.New(db, lr, br, ledger, rs, fr, ur, nr, sr, settings, log)
	bs := booksvc.New(db, br, lr, rs, sr, log)
	fs := finesvc.New(db, fr, ur, pp, nr, sr, log)

	// background sweeps for lapsed pickups and holds
	rec := reconciler.New(ls, rs, time.Minute, log)

	// controllers
	v := validator.New()
	bookC := &bookctrl.Controller{Svc: bs, V: v, Log: log}
	loanC := &loanctrl.Controller{Svc: ls, V: v, Log: log}
	reservationC := &reservationctrl.Controller{Svc: rs, V: v, Log: log}
	fineC := &finectrl.Controller{Svc: fs, Provider: pp, V: v, Log: log}
	notificationC := &notificationctrl.Controller{Repo: nr, Log: log}
	adminC := &adminctrl.Controller{Settings: settings, Logs: sr, Sweeper: rec, Log: log}

	// echo
	e := echo.New()
	echoServer.RegisterMiddlewares(e)
	e.Validator = validation.New()

	e.GET("/health", func(c echo.Context) error {
		return c.JSON(200, map[string]any{
			"status":  "ok",
			"message": "Service is healthy and connected",
		})
	})

	e.GET("/metrics", metrics.Handler())
	e.GET("/swagger/*", echoSwagger.WrapHandler)

	echoServer.Register(e, echoServer.C{
		Book:         bookC,
		Loan:         loanC,
		Reservation:  reservationC,
		Fine:         fineC,
		Notification: notificationC,
		Admin:        adminC,

		JWTSecret: cfg.JWTSecret,
	})

	recCtx, stopRec := context.WithCancel(ctx)
	defer stopRec()
	go rec.Run(recCtx)

	port := os.Getenv("PORT")
	if port == "" {
		port = cfg.Port
	}

	log.Info("starting server", "port", port, "env", cfg.Env)

	e.Logger.Fatal(e.Start(":" + port))
}
