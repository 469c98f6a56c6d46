// Package inventory is the single writer of a book's public availability.
// Every caller that needs the counter moved goes through AdjustAvailable;
// nobody computes a new count themselves.
package inventory

import (
	"context"
	"database/sql"
	"errors"
)

type Repo interface {
	AdjustAvailable(ctx context.Context, tx *sql.Tx, bookID int64, delta int) (int, error)
	IncrementBorrowCount(ctx context.Context, tx *sql.Tx, bookID int64) error
}

type Ledger interface {
	// AdjustAvailable moves the public pool by delta, clamped to
	// [0, total_copies], and returns the new count. Must run inside the
	// caller's book-scoped transaction.
	AdjustAvailable(ctx context.Context, tx *sql.Tx, bookID int64, delta int) (int, error)

	// IncrementLoanCount bumps the borrow statistic, independent of
	// availability.
	IncrementLoanCount(ctx context.Context, tx *sql.Tx, bookID int64) error
}

type ledger struct{ r Repo }

func New(r Repo) Ledger { return &ledger{r: r} }

func (l *ledger) AdjustAvailable(ctx context.Context, tx *sql.Tx, bookID int64, delta int) (int, error) {
	if delta == 0 {
		return 0, errors.New("delta must be nonzero")
	}
	return l.r.AdjustAvailable(ctx, tx, bookID, delta)
}

func (l *ledger) IncrementLoanCount(ctx context.Context, tx *sql.Tx, bookID int64) error {
	return l.r.IncrementBorrowCount(ctx, tx, bookID)
}
