package notifications

import "time"

// Type is the closed set of notification kinds.
type Type string

const (
	TypeTaskAssigned               Type = "task_assigned"
	TypeTaskCompleted              Type = "task_completed"
	TypeTaskStatusChanged          Type = "task_status_changed"
	TypeTaskDueApproaching         Type = "task_due_approaching"
	TypeTaskOverdue                Type = "task_overdue"
	TypeInviteReceived             Type = "invite_received"
	TypeInviteAccepted             Type = "invite_accepted"
	TypeInviteDeclined             Type = "invite_declined"
	TypeMemberJoined               Type = "member_joined"
	TypeMemberLeft                 Type = "member_left"
	TypeMemberRemoved              Type = "member_removed"
	TypeProjectReadyForSubmission  Type = "project_ready_for_submission"
	TypeProjectCompleted           Type = "project_completed"
	TypeProjectGraded              Type = "project_graded"
	TypeProjectDeadlineApproaching Type = "project_deadline_approaching"
	TypeSubmissionReceived         Type = "submission_received"
	TypeSubmissionReviewed         Type = "submission_reviewed"
	TypeAnnouncementPosted         Type = "announcement_posted"
)

// Detail carries the per-kind structured payload. The due-today flag doubles
// as the disambiguator between the "due today" and "due tomorrow" reminders,
// which share TypeTaskDueApproaching.
type Detail struct {
	NewStatus string `json:"newStatus,omitempty"`
	DueToday  bool   `json:"dueToday,omitempty"`
	Grade     string `json:"grade,omitempty"`
}

// Notification is one row owned by one recipient. Bulk delivery creates
// independent rows; read state is per recipient.
type Notification struct {
	ID        string     `json:"id"`
	UserID    string     `json:"user_id"`
	Type      Type       `json:"type"`
	Title     string     `json:"title"`
	Message   string     `json:"message"`
	Read      bool       `json:"read"`
	ReadAt    *time.Time `json:"read_at,omitempty"`
	ProjectID string     `json:"project_id,omitempty"`
	TaskID    string     `json:"task_id,omitempty"`
	ActorID   string     `json:"actor_id,omitempty"`
	Detail    Detail     `json:"detail,omitzero"`
	CreatedAt time.Time  `json:"created_at"`
}

// Draft is everything about a notification except its identity and recipient;
// the service stamps those in NotifyOne/NotifyMany.
type Draft struct {
	Type      Type
	Title     string
	Message   string
	ProjectID string
	TaskID    string
	ActorID   string
	Detail    Detail
}
