// repository/syslog/repo.go
//
// Audit log sink. Record is fire-and-forget: callers log failures and move
// on, a transition never fails because of the audit trail.
package syslogrepo

import (
	"context"
	"database/sql"

	"bookloan/model"
)

type Repo interface {
	Record(ctx context.Context, event, detail, severity string, actorID *int64) error
	List(ctx context.Context, limit int) ([]model.SystemLog, error)
}

type repo struct{ db *sql.DB }

func New(db *sql.DB) Repo { return &repo{db} }

func (r *repo) Record(ctx context.Context, event, detail, severity string, actorID *int64) error {
	const q = `
INSERT INTO system_logs (event, detail, severity, actor_id, created_at)
VALUES ($1,$2,$3,$4,NOW())`
	_, err := r.db.ExecContext(ctx, q, event, detail, severity, actorID)
	return err
}

func (r *repo) List(ctx context.Context, limit int) ([]model.SystemLog, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	const q = `
SELECT id, event, detail, severity, actor_id, created_at
FROM system_logs
ORDER BY id DESC
LIMIT $1`
	rows, err := r.db.QueryContext(ctx, q, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.SystemLog
	for rows.Next() {
		var e model.SystemLog
		if err := rows.Scan(&e.ID, &e.Event, &e.Detail, &e.Severity, &e.ActorID, &e.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}
