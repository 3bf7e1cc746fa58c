package tasks

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

var ErrTaskNotFound = errors.New("task not found")

// Repository is the storage surface the state machine needs. A task mutation
// and its history entry commit in one transaction: an audit entry must never
// be missing for a change that took effect.
type Repository interface {
	CreateTask(ctx context.Context, t Task, entry HistoryEntry) (Task, error)
	GetTask(ctx context.Context, taskID string) (Task, error)
	UpdateStatus(ctx context.Context, taskID string, status Status, at time.Time, entry HistoryEntry) error
	UpdateAssignee(ctx context.Context, taskID string, assigneeID *string, at time.Time, entry HistoryEntry) error
	SoftDelete(ctx context.Context, taskID string, at time.Time, entry HistoryEntry) error
	ListByProject(ctx context.Context, projectID string) ([]Task, error)
	ListByAssignee(ctx context.Context, userID string) ([]Task, error)
	History(ctx context.Context, taskID string) ([]HistoryEntry, error)
	CompletionCounts(ctx context.Context, projectID string) (done, total int, err error)
}

const createTasksTableSQL = `
CREATE TABLE IF NOT EXISTS tasks (
  task_id text PRIMARY KEY,
  project_id text NOT NULL,
  title text NOT NULL,
  description text NOT NULL DEFAULT '',
  priority text NOT NULL DEFAULT 'medium',
  status text NOT NULL DEFAULT 'to_do',
  assignee_id text,
  created_by text NOT NULL,
  ordinal integer NOT NULL DEFAULT 0,
  due_at timestamptz,
  created_at timestamptz NOT NULL,
  updated_at timestamptz NOT NULL,
  deleted_at timestamptz
)`

const createTaskProjectIndexSQL = `
CREATE INDEX IF NOT EXISTS idx_tasks_project
ON tasks (project_id, ordinal)
WHERE deleted_at IS NULL`

const createTaskDueIndexSQL = `
CREATE INDEX IF NOT EXISTS idx_tasks_due
ON tasks (due_at)
WHERE deleted_at IS NULL AND due_at IS NOT NULL`

const createHistoryTableSQL = `
CREATE TABLE IF NOT EXISTS task_history (
  entry_id text PRIMARY KEY,
  task_id text NOT NULL,
  actor_id text NOT NULL,
  previous_status text,
  new_status text,
  previous_assignee_id text,
  new_assignee_id text,
  comment text,
  created_at timestamptz NOT NULL
)`

const createHistoryTaskIndexSQL = `
CREATE INDEX IF NOT EXISTS idx_task_history_task
ON task_history (task_id, created_at DESC)`

const taskColumns = `task_id, project_id, title, description, priority, status,
       assignee_id, created_by, ordinal, due_at, created_at, updated_at`

// The ordinal subquery appends the task at the end of the project's sequence;
// ties on concurrent creates are tolerated and break on created_at.
const insertTaskSQL = `
INSERT INTO tasks (
  task_id, project_id, title, description, priority, status,
  assignee_id, created_by, ordinal, due_at, created_at, updated_at
)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8,
        (SELECT COALESCE(MAX(ordinal) + 1, 0) FROM tasks
         WHERE project_id = $2 AND deleted_at IS NULL),
        $9, $10, $10)
RETURNING ordinal`

const insertHistorySQL = `
INSERT INTO task_history (
  entry_id, task_id, actor_id, previous_status, new_status,
  previous_assignee_id, new_assignee_id, comment, created_at
)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`

const selectTaskSQL = `
SELECT ` + taskColumns + `
FROM tasks
WHERE task_id = $1 AND deleted_at IS NULL`

const updateStatusSQL = `
UPDATE tasks SET status = $2, updated_at = $3
WHERE task_id = $1 AND deleted_at IS NULL`

const updateAssigneeSQL = `
UPDATE tasks SET assignee_id = $2, updated_at = $3
WHERE task_id = $1 AND deleted_at IS NULL`

const softDeleteSQL = `
UPDATE tasks SET status = 'archived', deleted_at = $2, updated_at = $2
WHERE task_id = $1 AND deleted_at IS NULL`

const selectByProjectSQL = `
SELECT ` + taskColumns + `
FROM tasks
WHERE project_id = $1 AND deleted_at IS NULL
ORDER BY ordinal, created_at`

const selectByAssigneeSQL = `
SELECT ` + taskColumns + `
FROM tasks
WHERE assignee_id = $1 AND deleted_at IS NULL
ORDER BY due_at NULLS LAST, ordinal, created_at`

const selectHistorySQL = `
SELECT entry_id, task_id, actor_id, previous_status, new_status,
       previous_assignee_id, new_assignee_id, comment, created_at
FROM task_history
WHERE task_id = $1
ORDER BY created_at DESC, entry_id DESC`

const completionCountsSQL = `
SELECT COUNT(*) FILTER (WHERE status = 'done'), COUNT(*)
FROM tasks
WHERE project_id = $1 AND deleted_at IS NULL`

const selectDueWindowSQL = `
SELECT ` + taskColumns + `
FROM tasks
WHERE due_at >= $1 AND due_at < $2
  AND status <> 'done' AND deleted_at IS NULL AND assignee_id IS NOT NULL
ORDER BY due_at, task_id`

const selectOverdueSQL = `
SELECT ` + taskColumns + `
FROM tasks
WHERE due_at < $1
  AND status <> 'done' AND deleted_at IS NULL
ORDER BY due_at, task_id`

type PostgresRepository struct {
	Pool *pgxpool.Pool
}

func NewPostgresRepository(pool *pgxpool.Pool) *PostgresRepository {
	return &PostgresRepository{Pool: pool}
}

func (r *PostgresRepository) EnsureSchema(ctx context.Context) error {
	for _, stmt := range []string{
		createTasksTableSQL,
		createTaskProjectIndexSQL,
		createTaskDueIndexSQL,
		createHistoryTableSQL,
		createHistoryTaskIndexSQL,
	} {
		if _, err := r.Pool.Exec(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}

func (r *PostgresRepository) CreateTask(ctx context.Context, t Task, entry HistoryEntry) (Task, error) {
	tx, err := r.Pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return Task{}, err
	}
	defer tx.Rollback(ctx)

	if err := tx.QueryRow(ctx, insertTaskSQL,
		t.ID, t.ProjectID, t.Title, t.Description, string(t.Priority), string(t.Status),
		t.AssigneeID, t.CreatedBy, t.DueAt, t.CreatedAt,
	).Scan(&t.Ordinal); err != nil {
		return Task{}, err
	}
	if err := insertHistoryTx(ctx, tx, entry); err != nil {
		return Task{}, err
	}
	if err := tx.Commit(ctx); err != nil {
		return Task{}, err
	}
	t.UpdatedAt = t.CreatedAt
	return t, nil
}

func (r *PostgresRepository) GetTask(ctx context.Context, taskID string) (Task, error) {
	rows, err := r.Pool.Query(ctx, selectTaskSQL, taskID)
	if err != nil {
		return Task{}, err
	}
	defer rows.Close()
	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return Task{}, err
		}
		return Task{}, ErrTaskNotFound
	}
	return scanTask(rows)
}

func (r *PostgresRepository) UpdateStatus(ctx context.Context, taskID string, status Status, at time.Time, entry HistoryEntry) error {
	return r.mutate(ctx, entry, updateStatusSQL, taskID, string(status), at)
}

func (r *PostgresRepository) UpdateAssignee(ctx context.Context, taskID string, assigneeID *string, at time.Time, entry HistoryEntry) error {
	return r.mutate(ctx, entry, updateAssigneeSQL, taskID, assigneeID, at)
}

func (r *PostgresRepository) SoftDelete(ctx context.Context, taskID string, at time.Time, entry HistoryEntry) error {
	return r.mutate(ctx, entry, softDeleteSQL, taskID, at)
}

// mutate applies one task update and appends its history entry in a single
// transaction. Zero rows affected means the task is gone or soft-deleted.
func (r *PostgresRepository) mutate(ctx context.Context, entry HistoryEntry, sql string, args ...any) error {
	tx, err := r.Pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	tag, err := tx.Exec(ctx, sql, args...)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrTaskNotFound
	}
	if err := insertHistoryTx(ctx, tx, entry); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

func (r *PostgresRepository) ListByProject(ctx context.Context, projectID string) ([]Task, error) {
	return r.list(ctx, selectByProjectSQL, projectID)
}

func (r *PostgresRepository) ListByAssignee(ctx context.Context, userID string) ([]Task, error) {
	return r.list(ctx, selectByAssigneeSQL, userID)
}

// DueBetween returns open, assigned tasks whose due date falls in [from, to).
func (r *PostgresRepository) DueBetween(ctx context.Context, from, to time.Time) ([]Task, error) {
	return r.list(ctx, selectDueWindowSQL, from, to)
}

// OverdueBefore returns open tasks whose due date is strictly before the
// given instant, assigned or not.
func (r *PostgresRepository) OverdueBefore(ctx context.Context, before time.Time) ([]Task, error) {
	return r.list(ctx, selectOverdueSQL, before)
}

func (r *PostgresRepository) list(ctx context.Context, sql string, args ...any) ([]Task, error) {
	rows, err := r.Pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, t)
	}
	return result, rows.Err()
}

func (r *PostgresRepository) History(ctx context.Context, taskID string) ([]HistoryEntry, error) {
	rows, err := r.Pool.Query(ctx, selectHistorySQL, taskID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []HistoryEntry
	for rows.Next() {
		var e HistoryEntry
		var prevStatus, newStatus *string
		if err := rows.Scan(
			&e.ID, &e.TaskID, &e.ActorID, &prevStatus, &newStatus,
			&e.PreviousAssigneeID, &e.NewAssigneeID, &e.Comment, &e.CreatedAt,
		); err != nil {
			return nil, err
		}
		e.PreviousStatus = statusPtr(prevStatus)
		e.NewStatus = statusPtr(newStatus)
		result = append(result, e)
	}
	return result, rows.Err()
}

func (r *PostgresRepository) CompletionCounts(ctx context.Context, projectID string) (int, int, error) {
	var done, total int
	if err := r.Pool.QueryRow(ctx, completionCountsSQL, projectID).Scan(&done, &total); err != nil {
		return 0, 0, err
	}
	return done, total, nil
}

func insertHistoryTx(ctx context.Context, tx pgx.Tx, entry HistoryEntry) error {
	_, err := tx.Exec(ctx, insertHistorySQL,
		entry.ID, entry.TaskID, entry.ActorID,
		statusText(entry.PreviousStatus), statusText(entry.NewStatus),
		entry.PreviousAssigneeID, entry.NewAssigneeID, entry.Comment, entry.CreatedAt,
	)
	return err
}

func scanTask(rows pgx.Rows) (Task, error) {
	var t Task
	var priority, status string
	if err := rows.Scan(
		&t.ID, &t.ProjectID, &t.Title, &t.Description, &priority, &status,
		&t.AssigneeID, &t.CreatedBy, &t.Ordinal, &t.DueAt, &t.CreatedAt, &t.UpdatedAt,
	); err != nil {
		return Task{}, err
	}
	t.Priority = Priority(priority)
	t.Status = Status(status)
	return t, nil
}

func statusText(s *Status) *string {
	if s == nil {
		return nil
	}
	v := string(*s)
	return &v
}

func statusPtr(s *string) *Status {
	if s == nil {
		return nil
	}
	v := Status(*s)
	return &v
}
