package projects

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

var ErrProjectNotFound = errors.New("project not found")
var ErrUserNotFound = errors.New("user not found")

const (
	StatusActive    = "active"
	StatusCompleted = "completed"
	StatusArchived  = "archived"
)

const (
	InviteAccepted = "accepted"
	InvitePending  = "pending"
	InviteDeclined = "declined"
)

type Member struct {
	UserID       string
	InviteStatus string
}

type Project struct {
	ID         string
	Title      string
	LeaderID   string
	Status     string
	DeadlineAt *time.Time
	Members    []Member
	CreatedAt  time.Time
	DeletedAt  *time.Time
}

const createProjectsTableSQL = `
CREATE TABLE IF NOT EXISTS projects (
  project_id text PRIMARY KEY,
  title text NOT NULL,
  leader_id text NOT NULL,
  status text NOT NULL DEFAULT 'active',
  deadline_at timestamptz,
  created_at timestamptz NOT NULL DEFAULT now(),
  deleted_at timestamptz
)`

const createProjectMembersTableSQL = `
CREATE TABLE IF NOT EXISTS project_members (
  project_id text NOT NULL,
  user_id text NOT NULL,
  invite_status text NOT NULL DEFAULT 'pending',
  created_at timestamptz NOT NULL DEFAULT now(),
  PRIMARY KEY (project_id, user_id)
)`

const createUsersTableSQL = `
CREATE TABLE IF NOT EXISTS users (
  user_id text PRIMARY KEY,
  display_name text NOT NULL
)`

const createDeadlineIndexSQL = `
CREATE INDEX IF NOT EXISTS idx_projects_deadline
ON projects (deadline_at)
WHERE deleted_at IS NULL`

const selectProjectSQL = `
SELECT project_id, title, leader_id, status, deadline_at, created_at
FROM projects
WHERE project_id = $1 AND deleted_at IS NULL`

const selectMembersSQL = `
SELECT user_id, invite_status
FROM project_members
WHERE project_id = $1
ORDER BY created_at, user_id`

const selectDeadlineWindowSQL = `
SELECT project_id, title, leader_id, status, deadline_at, created_at
FROM projects
WHERE deadline_at >= $1 AND deadline_at < $2
  AND status = 'active' AND deleted_at IS NULL
ORDER BY deadline_at, project_id`

const selectDisplayNameSQL = `
SELECT display_name FROM users WHERE user_id = $1`

type PostgresRepository struct {
	Pool *pgxpool.Pool
}

func NewPostgresRepository(pool *pgxpool.Pool) *PostgresRepository {
	return &PostgresRepository{Pool: pool}
}

func (r *PostgresRepository) EnsureSchema(ctx context.Context) error {
	for _, stmt := range []string{
		createProjectsTableSQL,
		createProjectMembersTableSQL,
		createUsersTableSQL,
		createDeadlineIndexSQL,
	} {
		if _, err := r.Pool.Exec(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}

func (r *PostgresRepository) GetProject(ctx context.Context, projectID string) (Project, error) {
	var p Project
	err := r.Pool.QueryRow(ctx, selectProjectSQL, projectID).Scan(
		&p.ID, &p.Title, &p.LeaderID, &p.Status, &p.DeadlineAt, &p.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Project{}, ErrProjectNotFound
		}
		return Project{}, err
	}
	members, err := r.loadMembers(ctx, p.ID)
	if err != nil {
		return Project{}, err
	}
	p.Members = members
	return p, nil
}

// DeadlineBetween returns active projects whose deadline falls inside
// [from, to), members loaded.
func (r *PostgresRepository) DeadlineBetween(ctx context.Context, from, to time.Time) ([]Project, error) {
	rows, err := r.Pool.Query(ctx, selectDeadlineWindowSQL, from, to)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []Project
	for rows.Next() {
		var p Project
		if err := rows.Scan(&p.ID, &p.Title, &p.LeaderID, &p.Status, &p.DeadlineAt, &p.CreatedAt); err != nil {
			return nil, err
		}
		result = append(result, p)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	for i := range result {
		members, err := r.loadMembers(ctx, result[i].ID)
		if err != nil {
			return nil, err
		}
		result[i].Members = members
	}
	return result, nil
}

func (r *PostgresRepository) DisplayName(ctx context.Context, userID string) (string, error) {
	var name string
	err := r.Pool.QueryRow(ctx, selectDisplayNameSQL, userID).Scan(&name)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", ErrUserNotFound
		}
		return "", err
	}
	return name, nil
}

func (r *PostgresRepository) loadMembers(ctx context.Context, projectID string) ([]Member, error) {
	rows, err := r.Pool.Query(ctx, selectMembersSQL, projectID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var members []Member
	for rows.Next() {
		var m Member
		if err := rows.Scan(&m.UserID, &m.InviteStatus); err != nil {
			return nil, err
		}
		members = append(members, m)
	}
	return members, rows.Err()
}
