package notifications

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const createNotificationsTableSQL = `
CREATE TABLE IF NOT EXISTS notifications (
  notification_id text PRIMARY KEY,
  user_id text NOT NULL,
  type text NOT NULL,
  title text NOT NULL,
  message text NOT NULL,
  read boolean NOT NULL DEFAULT false,
  read_at timestamptz,
  project_id text,
  task_id text,
  actor_id text,
  detail jsonb NOT NULL DEFAULT '{}',
  created_at timestamptz NOT NULL
)`

const createUserIndexSQL = `
CREATE INDEX IF NOT EXISTS idx_notifications_user
ON notifications (user_id, created_at DESC)`

const createTaskLedgerIndexSQL = `
CREATE INDEX IF NOT EXISTS idx_notifications_task_ledger
ON notifications (task_id, type, created_at)
WHERE task_id IS NOT NULL`

const createProjectLedgerIndexSQL = `
CREATE INDEX IF NOT EXISTS idx_notifications_project_ledger
ON notifications (project_id, type, created_at)
WHERE project_id IS NOT NULL`

const insertNotificationSQL = `
INSERT INTO notifications (
  notification_id, user_id, type, title, message,
  project_id, task_id, actor_id, detail, created_at
)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`

const selectByUserSQL = `
SELECT notification_id, user_id, type, title, message, read, read_at,
       project_id, task_id, actor_id, detail, created_at
FROM notifications
WHERE user_id = $1 AND ($2::boolean = false OR read = false)
ORDER BY created_at DESC
LIMIT $3 OFFSET $4`

const countUnreadSQL = `
SELECT COUNT(*) FROM notifications WHERE user_id = $1 AND read = false`

const markReadSQL = `
UPDATE notifications
SET read = true, read_at = $3
WHERE notification_id = $1 AND user_id = $2 AND read = false`

const markAllReadSQL = `
UPDATE notifications
SET read = true, read_at = $2
WHERE user_id = $1 AND read = false`

const deleteNotificationSQL = `
DELETE FROM notifications WHERE notification_id = $1 AND user_id = $2`

const deleteReadBeforeSQL = `
DELETE FROM notifications WHERE read = true AND created_at < $1`

const dueReminderExistsSQL = `
SELECT 1 FROM notifications
WHERE user_id = $1 AND task_id = $2 AND type = $3
  AND created_at >= $4 AND created_at < $5
  AND COALESCE((detail->>'dueToday')::boolean, false) = $6
LIMIT 1`

const overdueExistsSQL = `
SELECT 1 FROM notifications
WHERE task_id = $1 AND type = $2
  AND created_at >= $3 AND created_at < $4
LIMIT 1`

const deadlineNoticeExistsSQL = `
SELECT 1 FROM notifications
WHERE project_id = $1 AND type = $2
  AND created_at >= $3 AND created_at < $4
LIMIT 1`

type PostgresRepository struct {
	Pool *pgxpool.Pool
}

func NewPostgresRepository(pool *pgxpool.Pool) *PostgresRepository {
	return &PostgresRepository{Pool: pool}
}

func (r *PostgresRepository) EnsureSchema(ctx context.Context) error {
	for _, stmt := range []string{
		createNotificationsTableSQL,
		createUserIndexSQL,
		createTaskLedgerIndexSQL,
		createProjectLedgerIndexSQL,
	} {
		if _, err := r.Pool.Exec(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}

func (r *PostgresRepository) Insert(ctx context.Context, n Notification) error {
	detail, err := json.Marshal(n.Detail)
	if err != nil {
		return fmt.Errorf("marshal notification detail: %w", err)
	}
	_, err = r.Pool.Exec(ctx, insertNotificationSQL,
		n.ID, n.UserID, string(n.Type), n.Title, n.Message,
		textOrNil(n.ProjectID), textOrNil(n.TaskID), textOrNil(n.ActorID),
		detail, n.CreatedAt,
	)
	return err
}

func (r *PostgresRepository) InsertMany(ctx context.Context, ns []Notification) error {
	if len(ns) == 0 {
		return nil
	}
	batch := &pgx.Batch{}
	for _, n := range ns {
		detail, err := json.Marshal(n.Detail)
		if err != nil {
			return fmt.Errorf("marshal notification detail: %w", err)
		}
		batch.Queue(insertNotificationSQL,
			n.ID, n.UserID, string(n.Type), n.Title, n.Message,
			textOrNil(n.ProjectID), textOrNil(n.TaskID), textOrNil(n.ActorID),
			detail, n.CreatedAt,
		)
	}
	results := r.Pool.SendBatch(ctx, batch)
	defer results.Close()
	for range ns {
		if _, err := results.Exec(); err != nil {
			return err
		}
	}
	return nil
}

func (r *PostgresRepository) ListByUser(ctx context.Context, userID string, limit, offset int, unreadOnly bool) ([]Notification, error) {
	rows, err := r.Pool.Query(ctx, selectByUserSQL, userID, unreadOnly, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	result := make([]Notification, 0, limit)
	for rows.Next() {
		n, err := scanNotification(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, n)
	}
	return result, rows.Err()
}

func (r *PostgresRepository) CountUnread(ctx context.Context, userID string) (int, error) {
	var count int
	if err := r.Pool.QueryRow(ctx, countUnreadSQL, userID).Scan(&count); err != nil {
		return 0, err
	}
	return count, nil
}

func (r *PostgresRepository) MarkRead(ctx context.Context, notificationID, userID string, at time.Time) (bool, error) {
	tag, err := r.Pool.Exec(ctx, markReadSQL, notificationID, userID, at)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

func (r *PostgresRepository) MarkAllRead(ctx context.Context, userID string, at time.Time) (int, error) {
	tag, err := r.Pool.Exec(ctx, markAllReadSQL, userID, at)
	if err != nil {
		return 0, err
	}
	return int(tag.RowsAffected()), nil
}

func (r *PostgresRepository) Delete(ctx context.Context, notificationID, userID string) (bool, error) {
	tag, err := r.Pool.Exec(ctx, deleteNotificationSQL, notificationID, userID)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

func (r *PostgresRepository) DeleteReadBefore(ctx context.Context, cutoff time.Time) (int, error) {
	tag, err := r.Pool.Exec(ctx, deleteReadBeforeSQL, cutoff)
	if err != nil {
		return 0, err
	}
	return int(tag.RowsAffected()), nil
}

// DueReminderExists reports whether a task_due_approaching notification for
// (userID, taskID) was created inside [from, to) with the given dueToday flag.
// The flag is what tells today's reminder apart from tomorrow's.
func (r *PostgresRepository) DueReminderExists(ctx context.Context, userID, taskID string, from, to time.Time, dueToday bool) (bool, error) {
	return r.exists(ctx, dueReminderExistsSQL, userID, taskID, string(TypeTaskDueApproaching), from, to, dueToday)
}

// OverdueExists checks the per-task ledger: any task_overdue notification in
// the window suppresses re-emission, regardless of recipient.
func (r *PostgresRepository) OverdueExists(ctx context.Context, taskID string, from, to time.Time) (bool, error) {
	return r.exists(ctx, overdueExistsSQL, taskID, string(TypeTaskOverdue), from, to)
}

func (r *PostgresRepository) DeadlineNoticeExists(ctx context.Context, projectID string, from, to time.Time) (bool, error) {
	return r.exists(ctx, deadlineNoticeExistsSQL, projectID, string(TypeProjectDeadlineApproaching), from, to)
}

func (r *PostgresRepository) exists(ctx context.Context, sql string, args ...any) (bool, error) {
	var marker int
	err := r.Pool.QueryRow(ctx, sql, args...).Scan(&marker)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

func scanNotification(rows pgx.Rows) (Notification, error) {
	var n Notification
	var projectID, taskID, actorID *string
	var detailRaw []byte
	var typ string
	if err := rows.Scan(
		&n.ID, &n.UserID, &typ, &n.Title, &n.Message, &n.Read, &n.ReadAt,
		&projectID, &taskID, &actorID, &detailRaw, &n.CreatedAt,
	); err != nil {
		return Notification{}, err
	}
	n.Type = Type(typ)
	n.ProjectID = deref(projectID)
	n.TaskID = deref(taskID)
	n.ActorID = deref(actorID)
	if len(detailRaw) > 0 {
		if err := json.Unmarshal(detailRaw, &n.Detail); err != nil {
			return Notification{}, fmt.Errorf("unmarshal notification detail: %w", err)
		}
	}
	return n, nil
}

func textOrNil(v string) *string {
	if v == "" {
		return nil
	}
	return &v
}

func deref(v *string) string {
	if v == nil {
		return ""
	}
	return *v
}
