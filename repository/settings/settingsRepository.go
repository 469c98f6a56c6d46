// repository/settings/repo.go
package settingsrepo

import (
	"context"
	"database/sql"
	"errors"
)

type Repo interface {
	Get(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key, value string) error
	All(ctx context.Context) (map[string]string, error)
}

type repo struct{ db *sql.DB }

func New(db *sql.DB) Repo { return &repo{db} }

func (r *repo) Get(ctx context.Context, key string) (string, bool, error) {
	const q = `SELECT value FROM system_settings WHERE key = $1`
	var v string
	err := r.db.QueryRowContext(ctx, q, key).Scan(&v)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return v, true, nil
}

func (r *repo) Set(ctx context.Context, key, value string) error {
	const q = `
INSERT INTO system_settings (key, value)
VALUES ($1,$2)
ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value`
	_, err := r.db.ExecContext(ctx, q, key, value)
	return err
}

func (r *repo) All(ctx context.Context) (map[string]string, error) {
	const q = `SELECT key, value FROM system_settings ORDER BY key`
	rows, err := r.db.QueryContext(ctx, q)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[string]string)
	for rows.Next() {
		var k, v string
		if err := rows.Scan(&k, &v); err != nil {
			return nil, err
		}
		out[k] = v
	}
	return out, rows.Err()
}
