package reconciler

import (
	"context"
	"log/slog"
	"time"
)

// LoanSweeper cancels pending pickups whose deadline lapsed.
type LoanSweeper interface {
	CancelExpiredPickups(ctx context.Context) (int, error)
}

// ReservationSweeper expires ready holds whose deadline lapsed.
type ReservationSweeper interface {
	ExpireLapsedHolds(ctx context.Context) (int, error)
}

type Reconciler struct {
	loans        LoanSweeper
	reservations ReservationSweeper
	interval     time.Duration
	log          *slog.Logger
}

func New(loans LoanSweeper, reservations ReservationSweeper, interval time.Duration, log *slog.Logger) *Reconciler {
	if interval <= 0 {
		interval = time.Minute
	}
	return &Reconciler{loans: loans, reservations: reservations, interval: interval, log: log}
}

// Run sweeps once immediately, then on every tick until ctx is cancelled.
// Sweep errors are logged, never fatal; the next tick retries.
func (r *Reconciler) Run(ctx context.Context) {
	r.SweepOnce(ctx)

	t := time.NewTicker(r.interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			r.log.Info("reconciler stopped", "reason", ctx.Err())
			return
		case <-t.C:
			r.SweepOnce(ctx)
		}
	}
}

// SweepOnce runs both sweeps. Each expired entity is handled in its own
// transaction, so a second concurrent sweep finds nothing left to do.
func (r *Reconciler) SweepOnce(ctx context.Context) {
	if n, err := r.loans.CancelExpiredPickups(ctx); err != nil {
		r.log.Error("pickup sweep failed", "err", err)
	} else if n > 0 {
		r.log.Info("pickup sweep done", "cancelled", n)
	}

	if n, err := r.reservations.ExpireLapsedHolds(ctx); err != nil {
		r.log.Error("hold sweep failed", "err", err)
	} else if n > 0 {
		r.log.Info("hold sweep done", "expired", n)
	}
}
