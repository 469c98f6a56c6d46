// repository/user/repo.go
//
// Identity collaborator: requester lookup, fine balance and the violation
// counter live here. Credential storage is out of scope; accounts are
// provisioned elsewhere.
package userrepo

import (
	"context"
	"database/sql"
	"errors"

	"bookloan/model"
)

type Repo interface {
	Get(ctx context.Context, id int64) (*model.User, error)
	AddFine(ctx context.Context, tx *sql.Tx, userID int64, amount float64) error
	PayFine(ctx context.Context, tx *sql.Tx, userID int64, amount float64) error
	// IncrementViolations bumps the counter and locks the account once it
	// reaches lockThreshold. Returns the resulting lock state.
	IncrementViolations(ctx context.Context, tx *sql.Tx, userID int64, lockThreshold int) (bool, error)
}

type repo struct{ db *sql.DB }

func New(db *sql.DB) Repo { return &repo{db} }

func (r *repo) Get(ctx context.Context, id int64) (*model.User, error) {
	const q = `
SELECT id, name, email, role, fine_balance, violations, is_locked, created_at
FROM users
WHERE id = $1`
	var u model.User
	err := r.db.QueryRowContext(ctx, q, id).Scan(&u.ID, &u.Name, &u.Email, &u.Role,
		&u.FineBalance, &u.Violations, &u.IsLocked, &u.CreatedAt)
	if err != nil {
		return nil, err
	}
	return &u, nil
}

func (r *repo) AddFine(ctx context.Context, tx *sql.Tx, userID int64, amount float64) error {
	const q = `
UPDATE users
SET fine_balance = fine_balance + $2
WHERE id = $1`
	_, err := tx.ExecContext(ctx, q, userID, amount)
	return err
}

func (r *repo) PayFine(ctx context.Context, tx *sql.Tx, userID int64, amount float64) error {
	// Guard: never drive the balance negative.
	const q = `
UPDATE users
SET fine_balance = fine_balance - $2
WHERE id = $1
AND fine_balance >= $2`
	res, err := tx.ExecContext(ctx, q, userID, amount)
	if err != nil {
		return err
	}
	aff, _ := res.RowsAffected()
	if aff == 0 {
		return errors.New("fine balance below payment amount")
	}
	return nil
}

func (r *repo) IncrementViolations(ctx context.Context, tx *sql.Tx, userID int64, lockThreshold int) (bool, error) {
	const q = `
UPDATE users
SET violations = violations + 1,
	is_locked = is_locked OR (violations + 1 >= $2)
WHERE id = $1
RETURNING is_locked`
	var locked bool
	err := tx.QueryRowContext(ctx, q, userID, lockThreshold).Scan(&locked)
	return locked, err
}
