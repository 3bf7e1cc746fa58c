package tasks

import (
	"strings"
	"time"
)

type Status string

const (
	StatusToDo       Status = "to_do"
	StatusInProgress Status = "in_progress"
	StatusDone       Status = "done"
	StatusArchived   Status = "archived"
)

func ValidStatus(s Status) bool {
	switch s {
	case StatusToDo, StatusInProgress, StatusDone, StatusArchived:
		return true
	default:
		return false
	}
}

// Label is the human-readable form used in notification messages.
func (s Status) Label() string {
	return strings.ReplaceAll(string(s), "_", " ")
}

type Priority string

const (
	PriorityLow    Priority = "low"
	PriorityMedium Priority = "medium"
	PriorityHigh   Priority = "high"
)

func ValidPriority(p Priority) bool {
	switch p {
	case PriorityLow, PriorityMedium, PriorityHigh:
		return true
	default:
		return false
	}
}

// Task belongs to exactly one project. Ordinal orders tasks within the
// project; ties break on creation time. Removal is a soft delete that forces
// the status to archived.
type Task struct {
	ID          string     `json:"id"`
	ProjectID   string     `json:"project_id"`
	Title       string     `json:"title"`
	Description string     `json:"description,omitempty"`
	Priority    Priority   `json:"priority"`
	Status      Status     `json:"status"`
	AssigneeID  *string    `json:"assignee_id,omitempty"`
	CreatedBy   string     `json:"created_by"`
	Ordinal     int        `json:"ordinal"`
	DueAt       *time.Time `json:"due_at,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
	DeletedAt   *time.Time `json:"-"`
}

// HistoryEntry is one append-only audit record. Nil fields were not part of
// the change. Entries are never updated or deleted.
type HistoryEntry struct {
	ID                 string    `json:"id"`
	TaskID             string    `json:"task_id"`
	ActorID            string    `json:"actor_id"`
	PreviousStatus     *Status   `json:"previous_status,omitempty"`
	NewStatus          *Status   `json:"new_status,omitempty"`
	PreviousAssigneeID *string   `json:"previous_assignee_id,omitempty"`
	NewAssigneeID      *string   `json:"new_assignee_id,omitempty"`
	Comment            *string   `json:"comment,omitempty"`
	CreatedAt          time.Time `json:"created_at"`
}
