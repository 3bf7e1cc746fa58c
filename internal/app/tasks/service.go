package tasks

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/campuspm/platform/internal/app/notifications"
	"github.com/campuspm/platform/internal/app/projects"
	"github.com/nats-io/nuid"
	"go.uber.org/zap"
)

var ErrTitleRequired = errors.New("title is required")
var ErrProjectRequired = errors.New("project_id is required")
var ErrActorRequired = errors.New("actor_id is required")
var ErrInvalidStatus = errors.New("invalid status")
var ErrInvalidPriority = errors.New("invalid priority")

type ProjectDirectory interface {
	GetProject(ctx context.Context, projectID string) (projects.Project, error)
}

type UserDirectory interface {
	DisplayName(ctx context.Context, userID string) (string, error)
}

type Notifier interface {
	NotifyOne(ctx context.Context, userID string, d notifications.Draft) (notifications.Notification, error)
	NotifyMany(ctx context.Context, userIDs []string, d notifications.Draft) (int, error)
}

// Service is the task state machine. Every accepted mutation commits together
// with its audit entry; notification fan-out runs after the commit and is
// best-effort, never failing the caller.
type Service struct {
	Repo     Repository
	Projects ProjectDirectory
	Users    UserDirectory
	Notifier Notifier
	Log      *zap.Logger
	Now      func() time.Time
	NewID    func() string
}

func NewService(repo Repository, projectDir ProjectDirectory, userDir UserDirectory, notifier Notifier, log *zap.Logger) *Service {
	return &Service{
		Repo:     repo,
		Projects: projectDir,
		Users:    userDir,
		Notifier: notifier,
		Log:      log,
		Now:      func() time.Time { return time.Now().UTC() },
		NewID:    nuid.Next,
	}
}

type CreateTaskInput struct {
	ProjectID   string
	Title       string
	Description string
	Priority    Priority
	Status      Status
	AssigneeID  *string
	DueAt       *time.Time
	CreatorID   string
}

func (s *Service) Create(ctx context.Context, input CreateTaskInput) (Task, error) {
	title := strings.TrimSpace(input.Title)
	if title == "" {
		return Task{}, ErrTitleRequired
	}
	if strings.TrimSpace(input.ProjectID) == "" {
		return Task{}, ErrProjectRequired
	}
	if strings.TrimSpace(input.CreatorID) == "" {
		return Task{}, ErrActorRequired
	}
	priority := input.Priority
	if priority == "" {
		priority = PriorityMedium
	}
	if !ValidPriority(priority) {
		return Task{}, ErrInvalidPriority
	}
	status := input.Status
	if status == "" {
		status = StatusToDo
	}
	if !ValidStatus(status) {
		return Task{}, ErrInvalidStatus
	}

	now := s.Now()
	t := Task{
		ID:          s.NewID(),
		ProjectID:   input.ProjectID,
		Title:       title,
		Description: input.Description,
		Priority:    priority,
		Status:      status,
		AssigneeID:  input.AssigneeID,
		CreatedBy:   input.CreatorID,
		DueAt:       input.DueAt,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	entry := HistoryEntry{
		ID:            s.NewID(),
		TaskID:        t.ID,
		ActorID:       input.CreatorID,
		NewStatus:     &status,
		NewAssigneeID: input.AssigneeID,
		CreatedAt:     now,
	}
	created, err := s.Repo.CreateTask(ctx, t, entry)
	if err != nil {
		return Task{}, err
	}

	if created.AssigneeID != nil && *created.AssigneeID != input.CreatorID {
		actorName := s.displayName(ctx, input.CreatorID)
		draft := notifications.TaskAssigned(actorName, created.Title, created.ProjectID, created.ID, input.CreatorID)
		if _, err := s.Notifier.NotifyOne(ctx, *created.AssigneeID, draft); err != nil {
			s.Log.Warn("notify task assignment", zap.String("task_id", created.ID), zap.Error(err))
		}
	}
	return created, nil
}

// ChangeStatus applies a status transition. Setting the current status again
// is a no-op: no history entry, no notifications. Backward transitions
// (done back to in_progress, and so on) are permitted.
func (s *Service) ChangeStatus(ctx context.Context, taskID string, newStatus Status, actorID, comment string) (Task, error) {
	if !ValidStatus(newStatus) {
		return Task{}, ErrInvalidStatus
	}
	t, err := s.Repo.GetTask(ctx, taskID)
	if err != nil {
		return Task{}, err
	}
	if t.Status == newStatus {
		return t, nil
	}

	now := s.Now()
	previous := t.Status
	entry := HistoryEntry{
		ID:             s.NewID(),
		TaskID:         t.ID,
		ActorID:        actorID,
		PreviousStatus: &previous,
		NewStatus:      &newStatus,
		Comment:        optionalText(comment),
		CreatedAt:      now,
	}
	if err := s.Repo.UpdateStatus(ctx, t.ID, newStatus, now, entry); err != nil {
		return Task{}, err
	}
	t.Status = newStatus
	t.UpdatedAt = now

	s.fanOutStatusChange(ctx, t, actorID)
	return t, nil
}

// Assign sets or clears the assignee. Only the new assignee is told, and only
// when they are not the actor; assignment changes do not fan out to the team.
func (s *Service) Assign(ctx context.Context, taskID string, assigneeID *string, actorID, comment string) (Task, error) {
	t, err := s.Repo.GetTask(ctx, taskID)
	if err != nil {
		return Task{}, err
	}
	if sameAssignee(t.AssigneeID, assigneeID) {
		return t, nil
	}

	now := s.Now()
	entry := HistoryEntry{
		ID:                 s.NewID(),
		TaskID:             t.ID,
		ActorID:            actorID,
		PreviousAssigneeID: t.AssigneeID,
		NewAssigneeID:      assigneeID,
		Comment:            optionalText(comment),
		CreatedAt:          now,
	}
	if err := s.Repo.UpdateAssignee(ctx, t.ID, assigneeID, now, entry); err != nil {
		return Task{}, err
	}
	t.AssigneeID = assigneeID
	t.UpdatedAt = now

	if assigneeID != nil && *assigneeID != actorID {
		actorName := s.displayName(ctx, actorID)
		draft := notifications.TaskAssigned(actorName, t.Title, t.ProjectID, t.ID, actorID)
		if _, err := s.Notifier.NotifyOne(ctx, *assigneeID, draft); err != nil {
			s.Log.Warn("notify task assignment", zap.String("task_id", t.ID), zap.Error(err))
		}
	}
	return t, nil
}

// Delete soft-deletes the task and forces it into archived, which is terminal:
// the task drops out of every active query, so nothing transitions off it.
func (s *Service) Delete(ctx context.Context, taskID, actorID string) error {
	t, err := s.Repo.GetTask(ctx, taskID)
	if err != nil {
		return err
	}
	now := s.Now()
	previous := t.Status
	archived := StatusArchived
	entry := HistoryEntry{
		ID:             s.NewID(),
		TaskID:         t.ID,
		ActorID:        actorID,
		PreviousStatus: &previous,
		NewStatus:      &archived,
		CreatedAt:      now,
	}
	return s.Repo.SoftDelete(ctx, t.ID, now, entry)
}

// History returns the task's audit trail, newest first.
func (s *Service) History(ctx context.Context, taskID string) ([]HistoryEntry, error) {
	if _, err := s.Repo.GetTask(ctx, taskID); err != nil {
		return nil, err
	}
	return s.Repo.History(ctx, taskID)
}

func (s *Service) TasksByProject(ctx context.Context, projectID string) ([]Task, error) {
	return s.Repo.ListByProject(ctx, projectID)
}

func (s *Service) TasksByUser(ctx context.Context, userID string) ([]Task, error) {
	return s.Repo.ListByAssignee(ctx, userID)
}

func (s *Service) fanOutStatusChange(ctx context.Context, t Task, actorID string) {
	project, err := s.Projects.GetProject(ctx, t.ProjectID)
	if err != nil {
		s.Log.Warn("resolve project for fan-out",
			zap.String("task_id", t.ID),
			zap.String("project_id", t.ProjectID),
			zap.Error(err))
		return
	}
	recipients := projects.Recipients(project, actorID)
	actorName := s.displayName(ctx, actorID)

	if t.Status == StatusDone {
		draft := notifications.TaskCompleted(actorName, t.Title, t.ProjectID, t.ID, actorID)
		if _, err := s.Notifier.NotifyMany(ctx, recipients, draft); err != nil {
			s.Log.Warn("notify task completion", zap.String("task_id", t.ID), zap.Error(err))
		}
		s.checkProjectCompletion(ctx, project)
		return
	}

	draft := notifications.TaskStatusChanged(
		actorName, t.Title, string(t.Status), t.Status.Label(), t.ProjectID, t.ID, actorID)
	if _, err := s.Notifier.NotifyMany(ctx, recipients, draft); err != nil {
		s.Log.Warn("notify status change", zap.String("task_id", t.ID), zap.Error(err))
	}
}

// checkProjectCompletion recomputes percent complete from the live counts and
// tells the team leader, once, when it reaches 100%.
func (s *Service) checkProjectCompletion(ctx context.Context, project projects.Project) {
	done, total, err := s.Repo.CompletionCounts(ctx, project.ID)
	if err != nil {
		s.Log.Warn("recompute project completion", zap.String("project_id", project.ID), zap.Error(err))
		return
	}
	if total == 0 || done != total {
		return
	}
	draft := notifications.ProjectReadyForSubmission(project.Title, project.ID)
	if _, err := s.Notifier.NotifyOne(ctx, project.LeaderID, draft); err != nil {
		s.Log.Warn("notify project completion", zap.String("project_id", project.ID), zap.Error(err))
	}
}

func (s *Service) displayName(ctx context.Context, userID string) string {
	name, err := s.Users.DisplayName(ctx, userID)
	if err != nil {
		s.Log.Warn("resolve display name", zap.String("user_id", userID), zap.Error(err))
		return "Someone"
	}
	return name
}

func sameAssignee(a, b *string) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}

func optionalText(v string) *string {
	v = strings.TrimSpace(v)
	if v == "" {
		return nil
	}
	return &v
}
