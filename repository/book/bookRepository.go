// repository/book/repo.go
package bookrepo

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"bookloan/model"
)

type SearchQuery struct {
	Query    string
	By       string // title | author | category
	Sort     string // title | rating | popular
	Category string
}

type Repo interface {
	Create(ctx context.Context, title, author, category string, value float64, copies int) (int64, error)
	Detail(ctx context.Context, id int64) (*model.Book, error)
	Search(ctx context.Context, q SearchQuery) ([]model.Book, error)

	// LockForUpdate is the per-book serialization point: every state
	// transition touching a book's copies, loans or queue takes this row
	// lock first.
	LockForUpdate(ctx context.Context, tx *sql.Tx, id int64) (*model.Book, error)

	// AdjustAvailable is the only statement that writes available_copies.
	// The new value is clamped to [0, total_copies] inside the UPDATE.
	AdjustAvailable(ctx context.Context, tx *sql.Tx, id int64, delta int) (int, error)

	AddTotalCopies(ctx context.Context, tx *sql.Tx, id int64, n int) error
	IncrementBorrowCount(ctx context.Context, tx *sql.Tx, id int64) error

	// UpdateRating folds one new rating into the running average.
	UpdateRating(ctx context.Context, id int64, rating int) error
}

type repo struct{ db *sql.DB }

func New(db *sql.DB) Repo { return &repo{db} }

const bookCols = `id, title, author, category, value, total_copies, available_copies, borrow_count, rating, rating_count`

func scanBook(row *sql.Row) (*model.Book, error) {
	var b model.Book
	err := row.Scan(&b.ID, &b.Title, &b.Author, &b.Category, &b.Value,
		&b.TotalCopies, &b.AvailableCopies, &b.BorrowCount, &b.Rating, &b.RatingCount)
	if err != nil {
		return nil, err
	}
	return &b, nil
}

func (r *repo) Create(ctx context.Context, title, author, category string, value float64, copies int) (int64, error) {
	if copies < 0 {
		return 0, errors.New("copies must be >= 0")
	}
	const q = `
INSERT INTO books (title, author, category, value, total_copies, available_copies, borrow_count, rating, rating_count)
VALUES ($1,$2,$3,$4,$5,$5,0,0,0)
RETURNING id`
	var id int64
	if err := r.db.QueryRowContext(ctx, q, title, author, category, value, copies).Scan(&id); err != nil {
		return 0, err
	}
	return id, nil
}

func (r *repo) Detail(ctx context.Context, id int64) (*model.Book, error) {
	q := `SELECT ` + bookCols + ` FROM books WHERE id = $1`
	return scanBook(r.db.QueryRowContext(ctx, q, id))
}

func (r *repo) Search(ctx context.Context, sq SearchQuery) ([]model.Book, error) {
	q := `SELECT ` + bookCols + ` FROM books WHERE 1=1`
	var args []any

	if sq.Query != "" {
		col := "title"
		switch sq.By {
		case "author":
			col = "author"
		case "category":
			col = "category"
		}
		args = append(args, "%"+sq.Query+"%")
		q += fmt.Sprintf(" AND %s ILIKE $%d", col, len(args))
	}
	if sq.Category != "" {
		args = append(args, sq.Category)
		q += fmt.Sprintf(" AND category = $%d", len(args))
	}
	switch sq.Sort {
	case "rating":
		q += " ORDER BY rating DESC"
	case "popular":
		q += " ORDER BY borrow_count DESC"
	default:
		q += " ORDER BY title ASC"
	}

	rows, err := r.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.Book
	for rows.Next() {
		var b model.Book
		if err := rows.Scan(&b.ID, &b.Title, &b.Author, &b.Category, &b.Value,
			&b.TotalCopies, &b.AvailableCopies, &b.BorrowCount, &b.Rating, &b.RatingCount); err != nil {
			return nil, err
		}
		out = append(out, b)
	}
	return out, rows.Err()
}

func (r *repo) LockForUpdate(ctx context.Context, tx *sql.Tx, id int64) (*model.Book, error) {
	q := `SELECT ` + bookCols + ` FROM books WHERE id = $1 FOR UPDATE`
	return scanBook(tx.QueryRowContext(ctx, q, id))
}

func (r *repo) AdjustAvailable(ctx context.Context, tx *sql.Tx, id int64, delta int) (int, error) {
	const q = `
UPDATE books
SET available_copies = LEAST(GREATEST(available_copies + $2, 0), total_copies)
WHERE id = $1
RETURNING available_copies`
	var n int
	if err := tx.QueryRowContext(ctx, q, id, delta).Scan(&n); err != nil {
		return 0, err
	}
	return n, nil
}

func (r *repo) AddTotalCopies(ctx context.Context, tx *sql.Tx, id int64, n int) error {
	if n <= 0 {
		return errors.New("n must be > 0")
	}
	const q = `
UPDATE books
SET total_copies = total_copies + $2
WHERE id = $1`
	res, err := tx.ExecContext(ctx, q, id, n)
	if err != nil {
		return err
	}
	aff, _ := res.RowsAffected()
	if aff == 0 {
		return sql.ErrNoRows
	}
	return nil
}

func (r *repo) IncrementBorrowCount(ctx context.Context, tx *sql.Tx, id int64) error {
	const q = `
UPDATE books
SET borrow_count = borrow_count + 1
WHERE id = $1`
	_, err := tx.ExecContext(ctx, q, id)
	return err
}

func (r *repo) UpdateRating(ctx context.Context, id int64, rating int) error {
	const q = `
UPDATE books
SET rating = ((rating * rating_count) + $2) / (rating_count + 1),
	rating_count = rating_count + 1
WHERE id = $1`
	res, err := r.db.ExecContext(ctx, q, id, rating)
	if err != nil {
		return err
	}
	aff, _ := res.RowsAffected()
	if aff == 0 {
		return sql.ErrNoRows
	}
	return nil
}
