// repository/reservation/repo.go
package reservationrepo

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"bookloan/model"
)

type Repo interface {
	Insert(ctx context.Context, tx *sql.Tx, res *model.Reservation) (int64, error)
	Get(ctx context.Context, id int64) (*model.Reservation, error)
	GetForUpdate(ctx context.Context, tx *sql.Tx, id int64) (*model.Reservation, error)

	NextWaiting(ctx context.Context, tx *sql.Tx, bookID int64) (*model.Reservation, error)
	MaxWaitingPos(ctx context.Context, tx *sql.Tx, bookID int64) (int, error)
	CountWaiting(ctx context.Context, tx *sql.Tx, bookID int64) (int, error)
	HasOpenForUser(ctx context.Context, tx *sql.Tx, userID, bookID int64) (bool, error)
	ReadyFor(ctx context.Context, tx *sql.Tx, userID, bookID int64) (*model.Reservation, error)

	MarkReady(ctx context.Context, tx *sql.Tx, id int64, notifiedAt, holdUntil time.Time) error
	SetStatus(ctx context.Context, tx *sql.Tx, id int64, status model.ReservationStatus) error
	// RepackQueue closes the gap left by a cancelled waiting reservation so
	// that positions stay a dense 1..N sequence.
	RepackQueue(ctx context.Context, tx *sql.Tx, bookID int64, cancelledPos int) error

	ListByUser(ctx context.Context, userID int64) ([]model.Reservation, error)
	LapsedHoldIDs(ctx context.Context, now time.Time) ([]int64, error)
}

type repo struct{ db *sql.DB }

func New(db *sql.DB) Repo { return &repo{db} }

const resCols = `id, user_id, book_id, status, created_at, notified_at, hold_until, queue_position`

func scanRes(scan func(...any) error) (*model.Reservation, error) {
	var res model.Reservation
	err := scan(&res.ID, &res.UserID, &res.BookID, &res.Status, &res.CreatedAt,
		&res.NotifiedAt, &res.HoldUntil, &res.QueuePos)
	if err != nil {
		return nil, err
	}
	return &res, nil
}

func (r *repo) Insert(ctx context.Context, tx *sql.Tx, res *model.Reservation) (int64, error) {
	const q = `
INSERT INTO reservations (user_id, book_id, status, created_at, queue_position)
VALUES ($1,$2,$3,$4,$5)
RETURNING id`
	var id int64
	err := tx.QueryRowContext(ctx, q, res.UserID, res.BookID, res.Status, res.CreatedAt, res.QueuePos).Scan(&id)
	if err != nil {
		return 0, err
	}
	return id, nil
}

func (r *repo) Get(ctx context.Context, id int64) (*model.Reservation, error) {
	q := `SELECT ` + resCols + ` FROM reservations WHERE id = $1`
	return scanRes(r.db.QueryRowContext(ctx, q, id).Scan)
}

func (r *repo) GetForUpdate(ctx context.Context, tx *sql.Tx, id int64) (*model.Reservation, error) {
	q := `SELECT ` + resCols + ` FROM reservations WHERE id = $1 FOR UPDATE`
	return scanRes(tx.QueryRowContext(ctx, q, id).Scan)
}

func (r *repo) NextWaiting(ctx context.Context, tx *sql.Tx, bookID int64) (*model.Reservation, error) {
	q := `
SELECT ` + resCols + ` FROM reservations
WHERE book_id = $1 AND status = 'waiting'
ORDER BY queue_position ASC
LIMIT 1`
	res, err := scanRes(tx.QueryRowContext(ctx, q, bookID).Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return res, err
}

func (r *repo) MaxWaitingPos(ctx context.Context, tx *sql.Tx, bookID int64) (int, error) {
	const q = `
SELECT COALESCE(MAX(queue_position), 0) FROM reservations
WHERE book_id = $1 AND status = 'waiting'`
	var pos int
	err := tx.QueryRowContext(ctx, q, bookID).Scan(&pos)
	return pos, err
}

func (r *repo) CountWaiting(ctx context.Context, tx *sql.Tx, bookID int64) (int, error) {
	const q = `
SELECT COUNT(*) FROM reservations
WHERE book_id = $1 AND status = 'waiting'`
	var n int
	err := tx.QueryRowContext(ctx, q, bookID).Scan(&n)
	return n, err
}

func (r *repo) HasOpenForUser(ctx context.Context, tx *sql.Tx, userID, bookID int64) (bool, error) {
	const q = `
SELECT EXISTS (
	SELECT 1 FROM reservations
	WHERE user_id = $1 AND book_id = $2 AND status IN ('waiting','ready')
)`
	var ok bool
	err := tx.QueryRowContext(ctx, q, userID, bookID).Scan(&ok)
	return ok, err
}

func (r *repo) ReadyFor(ctx context.Context, tx *sql.Tx, userID, bookID int64) (*model.Reservation, error) {
	q := `
SELECT ` + resCols + ` FROM reservations
WHERE user_id = $1 AND book_id = $2 AND status = 'ready'
ORDER BY notified_at DESC
LIMIT 1`
	res, err := scanRes(tx.QueryRowContext(ctx, q, userID, bookID).Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return res, err
}

func (r *repo) MarkReady(ctx context.Context, tx *sql.Tx, id int64, notifiedAt, holdUntil time.Time) error {
	const q = `
UPDATE reservations
SET status = 'ready',
	notified_at = $2,
	hold_until = $3,
	queue_position = 0
WHERE id = $1`
	_, err := tx.ExecContext(ctx, q, id, notifiedAt, holdUntil)
	return err
}

func (r *repo) SetStatus(ctx context.Context, tx *sql.Tx, id int64, status model.ReservationStatus) error {
	const q = `
UPDATE reservations
SET status = $2
WHERE id = $1`
	_, err := tx.ExecContext(ctx, q, id, status)
	return err
}

func (r *repo) RepackQueue(ctx context.Context, tx *sql.Tx, bookID int64, cancelledPos int) error {
	const q = `
UPDATE reservations
SET queue_position = queue_position - 1
WHERE book_id = $1 AND status = 'waiting' AND queue_position > $2`
	_, err := tx.ExecContext(ctx, q, bookID, cancelledPos)
	return err
}

func (r *repo) ListByUser(ctx context.Context, userID int64) ([]model.Reservation, error) {
	q := `SELECT ` + resCols + ` FROM reservations WHERE user_id = $1 ORDER BY created_at DESC, id DESC`
	rows, err := r.db.QueryContext(ctx, q, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.Reservation
	for rows.Next() {
		var res model.Reservation
		if err := rows.Scan(&res.ID, &res.UserID, &res.BookID, &res.Status, &res.CreatedAt,
			&res.NotifiedAt, &res.HoldUntil, &res.QueuePos); err != nil {
			return nil, err
		}
		out = append(out, res)
	}
	return out, rows.Err()
}

func (r *repo) LapsedHoldIDs(ctx context.Context, now time.Time) ([]int64, error) {
	const q = `
SELECT id FROM reservations
WHERE status = 'ready' AND hold_until < $1
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
