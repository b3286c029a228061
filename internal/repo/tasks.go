package repo

import (
	"context"
	"database/sql"
	"errors"

	"permitflow/internal/domain"
)

const taskColumns = `id,permit_id,name,description,status,priority,assignee_id,due_date,completed_at,automation_key,created_at,updated_at`

func scanTask(row rowScanner) (domain.Task, error) {
	var t domain.Task
	var desc, assignee, due, completed, key sql.NullString
	err := row.Scan(&t.ID, &t.PermitID, &t.Name, &desc, &t.Status, &t.Priority, &assignee, &due, &completed, &key, &t.CreatedAt, &t.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return t, ErrNotFound
	}
	if err != nil {
		return t, err
	}
	t.Description = desc.String
	t.AssigneeID = stringPtr(assignee)
	t.DueDate = stringPtr(due)
	t.CompletedAt = stringPtr(completed)
	t.AutomationKey = stringPtr(key)
	return t, nil
}

func taskArgs(t domain.Task) []any {
	return []any{t.ID, t.PermitID, t.Name, nullable(t.Description), t.Status, t.Priority,
		nullableStringPtr(t.AssigneeID), nullableStringPtr(t.DueDate), nullableStringPtr(t.CompletedAt),
		nullableStringPtr(t.AutomationKey), t.CreatedAt, t.UpdatedAt}
}

func (r Repo) InsertTask(ctx context.Context, tx *sql.Tx, t domain.Task) error {
	_, err := r.q(tx).ExecContext(ctx, `INSERT INTO tasks(`+taskColumns+`) VALUES (?,?,?,?,?,?,?,?,?,?,?,?)`, taskArgs(t)...)
	if IsUniqueViolation(err) {
		return ErrConflict
	}
	return err
}

// InsertTaskIfAbsent inserts t unless a task with the same
// (permit_id, automation_key) already exists. It reports whether a row was
// written.
func (r Repo) InsertTaskIfAbsent(ctx context.Context, tx *sql.Tx, t domain.Task) (bool, error) {
	res, err := r.q(tx).ExecContext(ctx, `INSERT INTO tasks(`+taskColumns+`) VALUES (?,?,?,?,?,?,?,?,?,?,?,?)
ON CONFLICT(permit_id, automation_key) WHERE automation_key IS NOT NULL DO NOTHING`, taskArgs(t)...)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (r Repo) GetTask(ctx context.Context, id string) (domain.Task, error) {
	return r.GetTaskTx(ctx, nil, id)
}

func (r Repo) GetTaskTx(ctx context.Context, tx *sql.Tx, id string) (domain.Task, error) {
	return scanTask(r.q(tx).QueryRowContext(ctx, `SELECT `+taskColumns+` FROM tasks WHERE id=?`, id))
}

// FindTaskByName returns the oldest task on the permit carrying name.
func (r Repo) FindTaskByName(ctx context.Context, tx *sql.Tx, permitID, name string) (domain.Task, error) {
	return scanTask(r.q(tx).QueryRowContext(ctx, `SELECT `+taskColumns+` FROM tasks WHERE permit_id=? AND name=? ORDER BY created_at, rowid LIMIT 1`, permitID, name))
}

func (r Repo) UpdateTask(ctx context.Context, tx *sql.Tx, t domain.Task) error {
	res, err := r.q(tx).ExecContext(ctx, `UPDATE tasks SET name=?, description=?, status=?, priority=?, assignee_id=?, due_date=?, completed_at=?, updated_at=? WHERE id=?`,
		t.Name, nullable(t.Description), t.Status, t.Priority, nullableStringPtr(t.AssigneeID), nullableStringPtr(t.DueDate),
		nullableStringPtr(t.CompletedAt), t.UpdatedAt, t.ID)
	if err != nil {
		return err
	}
	return affectedOrNotFound(res)
}

func (r Repo) DeleteTask(ctx context.Context, tx *sql.Tx, id string) error {
	res, err := r.q(tx).ExecContext(ctx, `DELETE FROM tasks WHERE id=?`, id)
	if err != nil {
		return err
	}
	return affectedOrNotFound(res)
}

func (r Repo) ListTasks(ctx context.Context, permitID string) ([]domain.Task, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT `+taskColumns+` FROM tasks WHERE permit_id=? ORDER BY created_at, rowid`, permitID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, t)
	}
	return res, rows.Err()
}
