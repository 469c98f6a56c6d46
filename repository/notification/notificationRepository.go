// repository/notification/repo.go
//
// Notification sink. Best-effort: a failed insert is logged by the caller,
// never propagated as a transition failure.
package notificationrepo

import (
	"context"
	"database/sql"

	"bookloan/model"
)

type Repo interface {
	Notify(ctx context.Context, userID int64, title, body string) error
	ListByUser(ctx context.Context, userID int64) ([]model.Notification, error)
	MarkRead(ctx context.Context, userID, id int64) error
}

type repo struct{ db *sql.DB }

func New(db *sql.DB) Repo { return &repo{db} }

func (r *repo) Notify(ctx context.Context, userID int64, title, body string) error {
	const q = `
INSERT INTO notifications (user_id, title, body, is_read, created_at)
VALUES ($1,$2,$3,false,NOW())`
	_, err := r.db.ExecContext(ctx, q, userID, title, body)
	return err
}

func (r *repo) ListByUser(ctx context.Context, userID int64) ([]model.Notification, error) {
	const q = `
SELECT id, user_id, title, body, is_read, created_at
FROM notifications
WHERE user_id = $1
ORDER BY id DESC`
	rows, err := r.db.QueryContext(ctx, q, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.Notification
	for rows.Next() {
		var n model.Notification
		if err := rows.Scan(&n.ID, &n.UserID, &n.Title, &n.Body, &n.IsRead, &n.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, n)
	}
	return out, rows.Err()
}

func (r *repo) MarkRead(ctx context.Context, userID, id int64) error {
	const q = `
UPDATE notifications
SET is_read = true
WHERE id = $1 AND user_id = $2`
	_, err := r.db.ExecContext(ctx, q, id, userID)
	return err
}
