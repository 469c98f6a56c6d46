// Package metrics exposes the engine's prometheus counters.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/labstack/echo/v4"
)

var (
	LoansCreated = promauto.NewCounter(prometheus.CounterOpts{
		Name: "bookloan_loans_created_total",
		Help: "Loans created (pending pickup), both public and priority-claim paths.",
	})

	LoansReturned = promauto.NewCounter(prometheus.CounterOpts{
		Name: "bookloan_loans_returned_total",
		Help: "Loans returned.",
	})

	ReservationsQueued = promauto.NewCounter(prometheus.CounterOpts{
		Name: "bookloan_reservations_queued_total",
		Help: "Reservations placed on a waiting queue.",
	})

	CopiesCascaded = promauto.NewCounter(prometheus.CounterOpts{
		Name: "bookloan_copies_cascaded_total",
		Help: "Released copies handed directly to the next waiting reservation.",
	})

	CopiesReleasedPublic = promauto.NewCounter(prometheus.CounterOpts{
		Name: "bookloan_copies_released_public_total",
		Help: "Released copies returned to the public pool.",
	})

	PickupsSweptTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "bookloan_pickups_swept_total",
		Help: "Pending pickups auto-cancelled by the reconciler.",
	})

	HoldsExpiredTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "bookloan_holds_expired_total",
		Help: "Ready reservations expired by the reconciler.",
	})
)

func Handler() echo.HandlerFunc {
	return echo.WrapHandler(promhttp.Handler())
}
