// Package scheduler holds the periodic sweep that turns date thresholds into
// notifications, using previously created notifications as the ledger of what
// was already handled today. Running it any number of times within one day
// creates nothing new; overlapping concurrent runs are not serialized here
// and the deployment is expected to keep a single scan instance active.
package scheduler

import (
	"context"
	"errors"
	"time"

	"github.com/campuspm/platform/internal/app/notifications"
	"github.com/campuspm/platform/internal/app/projects"
	"github.com/campuspm/platform/internal/app/tasks"
	"github.com/campuspm/platform/internal/platform/metrics"
	"go.uber.org/zap"
)

var scanCreatedTotal = metrics.NewCounterVec(metrics.Opts{
	Name: "scheduler_notifications_created_total",
	Help: "Notifications created by scheduled checks, by check.",
}, []string{"check"})

func init() {
	metrics.Default.MustRegister(scanCreatedTotal)
}

type TaskSource interface {
	DueBetween(ctx context.Context, from, to time.Time) ([]tasks.Task, error)
	OverdueBefore(ctx context.Context, before time.Time) ([]tasks.Task, error)
}

type ProjectSource interface {
	GetProject(ctx context.Context, projectID string) (projects.Project, error)
	DeadlineBetween(ctx context.Context, from, to time.Time) ([]projects.Project, error)
}

// Ledger answers "was this condition already notified inside the window".
type Ledger interface {
	DueReminderExists(ctx context.Context, userID, taskID string, from, to time.Time, dueToday bool) (bool, error)
	OverdueExists(ctx context.Context, taskID string, from, to time.Time) (bool, error)
	DeadlineNoticeExists(ctx context.Context, projectID string, from, to time.Time) (bool, error)
}

type Notifier interface {
	NotifyOne(ctx context.Context, userID string, d notifications.Draft) (notifications.Notification, error)
	NotifyMany(ctx context.Context, userIDs []string, d notifications.Draft) (int, error)
}

// Result reports how many notifications each check created on this run.
type Result struct {
	DueToday    int `json:"due_today"`
	DueTomorrow int `json:"due_tomorrow"`
	Overdue     int `json:"overdue"`
	Deadlines   int `json:"deadlines"`
}

type Service struct {
	Tasks    TaskSource
	Projects ProjectSource
	Ledger   Ledger
	Notifier Notifier
	Log      *zap.Logger
	Now      func() time.Time
}

func NewService(taskSource TaskSource, projectSource ProjectSource, ledger Ledger, notifier Notifier, log *zap.Logger) *Service {
	return &Service{
		Tasks:    taskSource,
		Projects: projectSource,
		Ledger:   ledger,
		Notifier: notifier,
		Log:      log,
		Now:      func() time.Time { return time.Now().UTC() },
	}
}

// RunChecks runs all four checks. Each check is independent; a failing check
// is reported in the joined error while the others still run, and a partial
// run is safe to retry because the ledger suppresses re-emission.
func (s *Service) RunChecks(ctx context.Context) (Result, error) {
	now := s.Now()
	today := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())
	tomorrow := today.AddDate(0, 0, 1)
	dayAfter := today.AddDate(0, 0, 2)

	var result Result
	var errs []error
	var err error

	if result.DueToday, err = s.checkDueToday(ctx, today, tomorrow); err != nil {
		errs = append(errs, err)
	}
	if result.DueTomorrow, err = s.checkDueTomorrow(ctx, today, tomorrow, dayAfter); err != nil {
		errs = append(errs, err)
	}
	if result.Overdue, err = s.checkOverdue(ctx, today, tomorrow); err != nil {
		errs = append(errs, err)
	}
	if result.Deadlines, err = s.checkDeadlines(ctx, today, tomorrow); err != nil {
		errs = append(errs, err)
	}

	s.Log.Info("scheduled checks finished",
		zap.Int("due_today", result.DueToday),
		zap.Int("due_tomorrow", result.DueTomorrow),
		zap.Int("overdue", result.Overdue),
		zap.Int("deadlines", result.Deadlines),
		zap.Int("failed_checks", len(errs)))
	return result, errors.Join(errs...)
}

// checkDueToday reminds each assignee about open tasks due inside
// [today, tomorrow), at most once per day per (user, task). The ledger entry
// is a task_due_approaching notification carrying the dueToday flag.
func (s *Service) checkDueToday(ctx context.Context, today, tomorrow time.Time) (int, error) {
	due, err := s.Tasks.DueBetween(ctx, today, tomorrow)
	if err != nil {
		return 0, err
	}
	created := 0
	for _, t := range due {
		if t.AssigneeID == nil {
			continue
		}
		sent, err := s.Ledger.DueReminderExists(ctx, *t.AssigneeID, t.ID, today, tomorrow, true)
		if err != nil {
			return created, err
		}
		if sent {
			continue
		}
		draft := notifications.TaskDueToday(t.Title, t.ProjectID, t.ID)
		if _, err := s.Notifier.NotifyOne(ctx, *t.AssigneeID, draft); err != nil {
			return created, err
		}
		created++
	}
	scanCreatedTotal.WithLabelValues("due_today").Add(float64(created))
	return created, nil
}

// checkDueTomorrow covers [tomorrow, dayAfter). It shares the notification
// type with checkDueToday, so the ledger match keys on the absence of the
// dueToday flag rather than on type and date alone.
func (s *Service) checkDueTomorrow(ctx context.Context, today, tomorrow, dayAfter time.Time) (int, error) {
	due, err := s.Tasks.DueBetween(ctx, tomorrow, dayAfter)
	if err != nil {
		return 0, err
	}
	created := 0
	for _, t := range due {
		if t.AssigneeID == nil {
			continue
		}
		sent, err := s.Ledger.DueReminderExists(ctx, *t.AssigneeID, t.ID, today, tomorrow, false)
		if err != nil {
			return created, err
		}
		if sent {
			continue
		}
		draft := notifications.TaskDueTomorrow(t.Title, t.ProjectID, t.ID)
		if _, err := s.Notifier.NotifyOne(ctx, *t.AssigneeID, draft); err != nil {
			return created, err
		}
		created++
	}
	scanCreatedTotal.WithLabelValues("due_tomorrow").Add(float64(created))
	return created, nil
}

// checkOverdue tells the assignee and the team leader about open tasks whose
// due date has passed. The dedup key is per task per day, any recipient: the
// recipient set for a task is always the same within a day, so one ledger
// row suppresses the whole fan-out.
func (s *Service) checkOverdue(ctx context.Context, today, tomorrow time.Time) (int, error) {
	overdue, err := s.Tasks.OverdueBefore(ctx, today)
	if err != nil {
		return 0, err
	}
	created := 0
	for _, t := range overdue {
		sent, err := s.Ledger.OverdueExists(ctx, t.ID, today, tomorrow)
		if err != nil {
			return created, err
		}
		if sent {
			continue
		}
		project, err := s.Projects.GetProject(ctx, t.ProjectID)
		if err != nil {
			if errors.Is(err, projects.ErrProjectNotFound) {
				s.Log.Warn("overdue task without project", zap.String("task_id", t.ID))
				continue
			}
			return created, err
		}
		recipients := overdueRecipients(t, project)
		n, err := s.Notifier.NotifyMany(ctx, recipients, notifications.TaskOverdue(t.Title, t.ProjectID, t.ID))
		if err != nil {
			return created, err
		}
		created += n
	}
	scanCreatedTotal.WithLabelValues("overdue").Add(float64(created))
	return created, nil
}

// checkDeadlines notifies the whole team of active projects whose deadline is
// exactly three days out, once per project per day.
func (s *Service) checkDeadlines(ctx context.Context, today, tomorrow time.Time) (int, error) {
	from := today.AddDate(0, 0, 3)
	to := today.AddDate(0, 0, 4)
	approaching, err := s.Projects.DeadlineBetween(ctx, from, to)
	if err != nil {
		return 0, err
	}
	created := 0
	for _, p := range approaching {
		sent, err := s.Ledger.DeadlineNoticeExists(ctx, p.ID, today, tomorrow)
		if err != nil {
			return created, err
		}
		if sent {
			continue
		}
		recipients := projects.Recipients(p, "")
		n, err := s.Notifier.NotifyMany(ctx, recipients, notifications.ProjectDeadlineApproaching(p.Title, p.ID))
		if err != nil {
			return created, err
		}
		created += n
	}
	scanCreatedTotal.WithLabelValues("deadlines").Add(float64(created))
	return created, nil
}

func overdueRecipients(t tasks.Task, p projects.Project) []string {
	var recipients []string
	if t.AssigneeID != nil {
		recipients = append(recipients, *t.AssigneeID)
	}
	if t.AssigneeID == nil || p.LeaderID != *t.AssigneeID {
		recipients = append(recipients, p.LeaderID)
	}
	return recipients
}
