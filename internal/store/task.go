package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"
)

// TaskFilter narrows ListTasks. Zero-value fields are not filtered on.
type TaskFilter struct {
	Status           TaskStatus
	AssigneeMemberID string
	Source           TaskSource
}

// UpsertTask inserts a Task or updates it by TaskID if it already exists.
// Every mutation increments UpdatedAt; callers that need a before/after
// snapshot for the audit log should read the existing row first.
func (s *Store) UpsertTask(ctx context.Context, q Querier, t *Task) error {
	if t.TaskID == "" {
		t.TaskID = newID()
	}

	now := time.Now().UTC()
	if t.CreatedAt.IsZero() {
		t.CreatedAt = now
	}

	t.UpdatedAt = now

	var (
		targetAppToken, targetTableID sql.NullString
		assigneeID                    sql.NullString
	)

	if t.TargetTable != nil {
		targetAppToken = sql.NullString{String: t.TargetTable.AppToken, Valid: true}
		targetTableID = sql.NullString{String: t.TargetTable.TableID, Valid: true}
	}

	if t.AssigneeMemberID != "" {
		assigneeID = sql.NullString{String: t.AssigneeMemberID, Valid: true}
	}

	const q1 = `
		INSERT INTO tasks (task_id, title, body, status, priority, source, assignee_member_id, labels, target_table_app_token, target_table_id, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		ON CONFLICT (task_id) DO UPDATE SET
			title = EXCLUDED.title,
			body = EXCLUDED.body,
			status = EXCLUDED.status,
			priority = EXCLUDED.priority,
			source = EXCLUDED.source,
			assignee_member_id = EXCLUDED.assignee_member_id,
			labels = EXCLUDED.labels,
			target_table_app_token = EXCLUDED.target_table_app_token,
			target_table_id = EXCLUDED.target_table_id,
			updated_at = EXCLUDED.updated_at`

	_, err := q.ExecContext(ctx, q1,
		t.TaskID, t.Title, t.Body, t.Status, t.Priority, t.Source, assigneeID,
		pq.Array(t.Labels), targetAppToken, targetTableID, t.CreatedAt, t.UpdatedAt)
	if err != nil {
		return fmt.Errorf("store: upsert task: %w", err)
	}

	return nil
}

// TaskMutator mutates an in-memory Task before it is persisted. UpdateTask
// reads the current row, applies the mutator, and writes the result back in
// one statement; it returns the task as it existed before mutation so
// callers can snapshot it for the audit log (see spec.md Task invariant).
type TaskMutator func(t *Task)

// UpdateTask applies mutator to the current state of the task identified by
// taskID and persists the result.
func (s *Store) UpdateTask(ctx context.Context, q Querier, taskID string, mutator TaskMutator) (before *Task, after *Task, err error) {
	before, err = s.FindTaskByID(ctx, q, taskID)
	if err != nil {
		return nil, nil, err
	}

	afterCopy := *before
	if before.TargetTable != nil {
		tt := *before.TargetTable
		afterCopy.TargetTable = &tt
	}

	afterCopy.Labels = append([]string(nil), before.Labels...)

	mutator(&afterCopy)

	if err := s.UpsertTask(ctx, q, &afterCopy); err != nil {
		return nil, nil, err
	}

	return before, &afterCopy, nil
}

// FindTaskByID looks up a Task by its opaque id.
func (s *Store) FindTaskByID(ctx context.Context, q Querier, taskID string) (*Task, error) {
	const query = `
		SELECT task_id, title, body, status, priority, source, assignee_member_id, labels, target_table_app_token, target_table_id, created_at, updated_at
		FROM tasks WHERE task_id = $1`

	row := q.QueryRowContext(ctx, query, taskID)

	t, err := scanTask(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}

	if err != nil {
		return nil, fmt.Errorf("store: find task: %w", err)
	}

	return t, nil
}

func scanTask(row *sql.Row) (*Task, error) {
	var (
		t                              Task
		assigneeID                     sql.NullString
		targetAppToken, targetTableID  sql.NullString
		labels                         pq.StringArray
	)

	if err := row.Scan(
		&t.TaskID, &t.Title, &t.Body, &t.Status, &t.Priority, &t.Source, &assigneeID,
		&labels, &targetAppToken, &targetTableID, &t.CreatedAt, &t.UpdatedAt,
	); err != nil {
		return nil, err
	}

	t.Labels = []string(labels)
	if assigneeID.Valid {
		t.AssigneeMemberID = assigneeID.String
	}

	if targetAppToken.Valid && targetTableID.Valid {
		t.TargetTable = &SheetTableRef{AppToken: targetAppToken.String, TableID: targetTableID.String}
	}

	return &t, nil
}

// ListTasks returns tasks matching the filter, newest first.
func (s *Store) ListTasks(ctx context.Context, q Querier, filter TaskFilter) ([]*Task, error) {
	query := `
		SELECT task_id, title, body, status, priority, source, assignee_member_id, labels, target_table_app_token, target_table_id, created_at, updated_at
		FROM tasks WHERE 1=1`

	args := []any{}

	if filter.Status != "" {
		args = append(args, filter.Status)
		query += fmt.Sprintf(" AND status = $%d", len(args))
	}

	if filter.AssigneeMemberID != "" {
		args = append(args, filter.AssigneeMemberID)
		query += fmt.Sprintf(" AND assignee_member_id = $%d", len(args))
	}

	if filter.Source != "" {
		args = append(args, filter.Source)
		query += fmt.Sprintf(" AND source = $%d", len(args))
	}

	query += " ORDER BY updated_at DESC"

	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("store: list tasks: %w", err)
	}
	defer rows.Close()

	var out []*Task

	for rows.Next() {
		var (
			t                             Task
			assigneeID                    sql.NullString
			targetAppToken, targetTableID sql.NullString
			labels                        pq.StringArray
		)

		if err := rows.Scan(
			&t.TaskID, &t.Title, &t.Body, &t.Status, &t.Priority, &t.Source, &assigneeID,
			&labels, &targetAppToken, &targetTableID, &t.CreatedAt, &t.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("store: scan task: %w", err)
		}

		t.Labels = []string(labels)
		if assigneeID.Valid {
			t.AssigneeMemberID = assigneeID.String
		}

		if targetAppToken.Valid && targetTableID.Valid {
			t.TargetTable = &SheetTableRef{AppToken: targetAppToken.String, TableID: targetTableID.String}
		}

		out = append(out, &t)
	}

	return out, rows.Err()
}
