// repository/fine/repo.go
package finerepo

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"bookloan/model"
)

type Repo interface {
	Insert(ctx context.Context, tx *sql.Tx, f *model.Fine) (int64, error)
	Get(ctx context.Context, id int64) (*model.Fine, error)
	GetForUpdate(ctx context.Context, tx *sql.Tx, id int64) (*model.Fine, error)
	ListByUser(ctx context.Context, userID int64) ([]model.Fine, error)
	UnpaidTotal(ctx context.Context, userID int64) (float64, error)

	MarkPaid(ctx context.Context, tx *sql.Tx, id int64, settledAt time.Time) error
	MarkWaived(ctx context.Context, tx *sql.Tx, id int64, reason string, settledAt time.Time) error
	AttachInvoice(ctx context.Context, id int64, invoiceID, link string) error
	FindByInvoiceID(ctx context.Context, invoiceID string) (*model.Fine, error)
}

type repo struct{ db *sql.DB }

func New(db *sql.DB) Repo { return &repo{db} }

const fineCols = `id, user_id, loan_id, category, description, amount, status, created_at, settled_at, invoice_id, payment_link`

func scanFine(scan func(...any) error) (*model.Fine, error) {
	var f model.Fine
	err := scan(&f.ID, &f.UserID, &f.LoanID, &f.Category, &f.Description, &f.Amount,
		&f.Status, &f.CreatedAt, &f.SettledAt, &f.InvoiceID, &f.PaymentLink)
	if err != nil {
		return nil, err
	}
	return &f, nil
}

func (r *repo) Insert(ctx context.Context, tx *sql.Tx, f *model.Fine) (int64, error) {
	const q = `
INSERT INTO fines (user_id, loan_id, category, description, amount, status, created_at)
VALUES ($1,$2,$3,$4,$5,'unpaid',$6)
RETURNING id`
	var id int64
	err := tx.QueryRowContext(ctx, q, f.UserID, f.LoanID, f.Category, f.Description, f.Amount, f.CreatedAt).Scan(&id)
	if err != nil {
		return 0, err
	}
	return id, nil
}

func (r *repo) Get(ctx context.Context, id int64) (*model.Fine, error) {
	q := `SELECT ` + fineCols + ` FROM fines WHERE id = $1`
	return scanFine(r.db.QueryRowContext(ctx, q, id).Scan)
}

func (r *repo) GetForUpdate(ctx context.Context, tx *sql.Tx, id int64) (*model.Fine, error) {
	q := `SELECT ` + fineCols + ` FROM fines WHERE id = $1 FOR UPDATE`
	return scanFine(tx.QueryRowContext(ctx, q, id).Scan)
}

func (r *repo) ListByUser(ctx context.Context, userID int64) ([]model.Fine, error) {
	q := `SELECT ` + fineCols + ` FROM fines WHERE user_id = $1 ORDER BY created_at DESC, id DESC`
	rows, err := r.db.QueryContext(ctx, q, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.Fine
	for rows.Next() {
		var f model.Fine
		if err := rows.Scan(&f.ID, &f.UserID, &f.LoanID, &f.Category, &f.Description, &f.Amount,
			&f.Status, &f.CreatedAt, &f.SettledAt, &f.InvoiceID, &f.PaymentLink); err != nil {
			return nil, err
		}
		out = append(out, f)
	}
	return out, rows.Err()
}

func (r *repo) UnpaidTotal(ctx context.Context, userID int64) (float64, error) {
	const q = `
SELECT COALESCE(SUM(amount), 0) FROM fines
WHERE user_id = $1 AND status = 'unpaid'`
	var total float64
	err := r.db.QueryRowContext(ctx, q, userID).Scan(&total)
	return total, err
}

func (r *repo) MarkPaid(ctx context.Context, tx *sql.Tx, id int64, settledAt time.Time) error {
	const q = `
UPDATE fines
SET status = 'paid',
	settled_at = $2
WHERE id = $1 AND status = 'unpaid'`
	res, err := tx.ExecContext(ctx, q, id, settledAt)
	if err != nil {
		return err
	}
	aff, _ := res.RowsAffected()
	if aff == 0 {
		return errors.New("fine is not unpaid")
	}
	return nil
}

func (r *repo) MarkWaived(ctx context.Context, tx *sql.Tx, id int64, reason string, settledAt time.Time) error {
	const q = `
UPDATE fines
SET status = 'waived',
	settled_at = $2,
	description = description || ' [waived: ' || $3 || ']'
WHERE id = $1 AND status = 'unpaid'`
	res, err := tx.ExecContext(ctx, q, id, settledAt, reason)
	if err != nil {
		return err
	}
	aff, _ := res.RowsAffected()
	if aff == 0 {
		return errors.New("fine is not unpaid")
	}
	return nil
}

func (r *repo) AttachInvoice(ctx context.Context, id int64, invoiceID, link string) error {
	const q = `
UPDATE fines
SET invoice_id = $2,
	payment_link = $3
WHERE id = $1`
	_, err := r.db.ExecContext(ctx, q, id, invoiceID, link)
	return err
}

func (r *repo) FindByInvoiceID(ctx context.Context, invoiceID string) (*model.Fine, error) {
	q := `SELECT ` + fineCols + ` FROM fines WHERE invoice_id = $1`
	return scanFine(r.db.QueryRowContext(ctx, q, invoiceID).Scan)
}
