package contracts

import "time"

// NotificationEvent is published to JetStream once a notification row has been
// persisted, so a live push channel can pick it up without polling Postgres.
type NotificationEvent struct {
	NotificationID string    `json:"notification_id"`
	UserID         string    `json:"user_id"`
	Type           string    `json:"type"`
	Title          string    `json:"title"`
	Message        string    `json:"message"`
	ProjectID      string    `json:"project_id,omitempty"`
	TaskID         string    `json:"task_id,omitempty"`
	ActorID        string    `json:"actor_id,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
}
