// repository/loan/repo.go
package loanrepo

import (
	"context"
	"database/sql"
	"time"

	"bookloan/model"
)

type Repo interface {
	Insert(ctx context.Context, tx *sql.Tx, l *model.Loan) (int64, error)
	Get(ctx context.Context, id int64) (*model.Loan, error)
	GetForUpdate(ctx context.Context, tx *sql.Tx, id int64) (*model.Loan, error)

	CountActive(ctx context.Context, tx *sql.Tx, userID int64) (int, error)
	HasActiveForBook(ctx context.Context, tx *sql.Tx, userID, bookID int64) (bool, error)
	HasReturned(ctx context.Context, userID, bookID int64) (bool, error)

	MarkBorrowed(ctx context.Context, tx *sql.Tx, id int64, due time.Time) error
	MarkRenewed(ctx context.Context, tx *sql.Tx, id int64, due time.Time, renewCount int) error
	MarkReturned(ctx context.Context, tx *sql.Tx, id int64, returnedAt time.Time, condition string, lateFee, damageFee float64) error
	MarkCancelled(ctx context.Context, tx *sql.Tx, id int64) error

	ListByUser(ctx context.Context, userID int64) ([]model.Loan, error)
	ListPendingPickup(ctx context.Context) ([]model.Loan, error)
	ListOverdue(ctx context.Context, userID int64) ([]model.Loan, error)
	ListDueSoon(ctx context.Context, userID int64, before time.Time) ([]model.Loan, error)
	ExpiredPickupIDs(ctx context.Context, now time.Time) ([]int64, error)
}

type repo struct{ db *sql.DB }

func New(db *sql.DB) Repo { return &repo{db} }

const loanCols = `id, user_id, book_id, status, requested_at, due_at, returned_at, pickup_until, renew_count, condition, late_fee, damage_fee`

func scanLoan(scan func(...any) error) (*model.Loan, error) {
	var l model.Loan
	err := scan(&l.ID, &l.UserID, &l.BookID, &l.Status, &l.RequestedAt, &l.DueAt,
		&l.ReturnedAt, &l.PickupUntil, &l.RenewCount, &l.Condition, &l.LateFee, &l.DamageFee)
	if err != nil {
		return nil, err
	}
	return &l, nil
}

func (r *repo) Insert(ctx context.Context, tx *sql.Tx, l *model.Loan) (int64, error) {
	const q = `
INSERT INTO loans (user_id, book_id, status, requested_at, due_at, pickup_until, renew_count, late_fee, damage_fee)
VALUES ($1,$2,$3,$4,$5,$6,0,0,0)
RETURNING id`
	var id int64
	err := tx.QueryRowContext(ctx, q, l.UserID, l.BookID, l.Status, l.RequestedAt, l.DueAt, l.PickupUntil).Scan(&id)
	if err != nil {
		return 0, err
	}
	return id, nil
}

func (r *repo) Get(ctx context.Context, id int64) (*model.Loan, error) {
	q := `SELECT ` + loanCols + ` FROM loans WHERE id = $1`
	return scanLoan(r.db.QueryRowContext(ctx, q, id).Scan)
}

func (r *repo) GetForUpdate(ctx context.Context, tx *sql.Tx, id int64) (*model.Loan, error) {
	q := `SELECT ` + loanCols + ` FROM loans WHERE id = $1 FOR UPDATE`
	return scanLoan(tx.QueryRowContext(ctx, q, id).Scan)
}

func (r *repo) CountActive(ctx context.Context, tx *sql.Tx, userID int64) (int, error) {
	const q = `
SELECT COUNT(*) FROM loans
WHERE user_id = $1 AND status IN ('pending_pickup','borrowed')`
	var n int
	err := tx.QueryRowContext(ctx, q, userID).Scan(&n)
	return n, err
}

func (r *repo) HasActiveForBook(ctx context.Context, tx *sql.Tx, userID, bookID int64) (bool, error) {
	const q = `
SELECT EXISTS (
	SELECT 1 FROM loans
	WHERE user_id = $1 AND book_id = $2 AND status IN ('pending_pickup','borrowed')
)`
	var ok bool
	err := tx.QueryRowContext(ctx, q, userID, bookID).Scan(&ok)
	return ok, err
}

func (r *repo) HasReturned(ctx context.Context, userID, bookID int64) (bool, error) {
	const q = `
SELECT EXISTS (
	SELECT 1 FROM loans
	WHERE user_id = $1 AND book_id = $2 AND status = 'returned'
)`
	var ok bool
	err := r.db.QueryRowContext(ctx, q, userID, bookID).Scan(&ok)
	return ok, err
}

func (r *repo) MarkBorrowed(ctx context.Context, tx *sql.Tx, id int64, due time.Time) error {
	const q = `
UPDATE loans
SET status = 'borrowed',
	due_at = $2,
	pickup_until = NULL
WHERE id = $1`
	_, err := tx.ExecContext(ctx, q, id, due)
	return err
}

func (r *repo) MarkRenewed(ctx context.Context, tx *sql.Tx, id int64, due time.Time, renewCount int) error {
	const q = `
UPDATE loans
SET due_at = $2,
	renew_count = $3
WHERE id = $1`
	_, err := tx.ExecContext(ctx, q, id, due, renewCount)
	return err
}

func (r *repo) MarkReturned(ctx context.Context, tx *sql.Tx, id int64, returnedAt time.Time, condition string, lateFee, damageFee float64) error {
	const q = `
UPDATE loans
SET status = 'returned',
	returned_at = $2,
	condition = $3,
	late_fee = $4,
	damage_fee = $5
WHERE id = $1`
	_, err := tx.ExecContext(ctx, q, id, returnedAt, condition, lateFee, damageFee)
	return err
}

func (r *repo) MarkCancelled(ctx context.Context, tx *sql.Tx, id int64) error {
	const q = `
UPDATE loans
SET status = 'cancelled',
	pickup_until = NULL
WHERE id = $1`
	_, err := tx.ExecContext(ctx, q, id)
	return err
}

func (r *repo) listQuery(ctx context.Context, q string, args ...any) ([]model.Loan, error) {
	rows, err := r.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.Loan
	for rows.Next() {
		var l model.Loan
		if err := rows.Scan(&l.ID, &l.UserID, &l.BookID, &l.Status, &l.RequestedAt, &l.DueAt,
			&l.ReturnedAt, &l.PickupUntil, &l.RenewCount, &l.Condition, &l.LateFee, &l.DamageFee); err != nil {
			return nil, err
		}
		out = append(out, l)
	}
	return out, rows.Err()
}

func (r *repo) ListByUser(ctx context.Context, userID int64) ([]model.Loan, error) {
	q := `SELECT ` + loanCols + ` FROM loans WHERE user_id = $1 ORDER BY requested_at DESC, id DESC`
	return r.listQuery(ctx, q, userID)
}

func (r *repo) ListPendingPickup(ctx context.Context) ([]model.Loan, error) {
	q := `SELECT ` + loanCols + ` FROM loans WHERE status = 'pending_pickup' ORDER BY requested_at ASC`
	return r.listQuery(ctx, q)
}

func (r *repo) ListOverdue(ctx context.Context, userID int64) ([]model.Loan, error) {
	q := `SELECT ` + loanCols + ` FROM loans WHERE user_id = $1 AND status = 'borrowed' AND due_at < NOW() ORDER BY due_at ASC`
	return r.listQuery(ctx, q, userID)
}

func (r *repo) ListDueSoon(ctx context.Context, userID int64, before time.Time) ([]model.Loan, error) {
	q := `SELECT ` + loanCols + ` FROM loans WHERE user_id = $1 AND status = 'borrowed' AND due_at >= NOW() AND due_at <= $2 ORDER BY due_at ASC`
	return r.listQuery(ctx, q, userID, before)
}

func (r *repo) ExpiredPickupIDs(ctx context.Context, now time.Time) ([]int64, error) {
	const q = `
SELECT id FROM loans
WHERE status = 'pending_pickup' AND pickup_until < $1
ORDER BY id`
	rows, err := r.db.QueryContext(ctx, q, now)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}
