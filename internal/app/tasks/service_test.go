package tasks

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/campuspm/platform/internal/app/notifications"
	"github.com/campuspm/platform/internal/app/projects"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakeRepo struct {
	tasks   map[string]Task
	history map[string][]HistoryEntry

	completionErr error
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{
		tasks:   map[string]Task{},
		history: map[string][]HistoryEntry{},
	}
}

func (f *fakeRepo) CreateTask(_ context.Context, t Task, entry HistoryEntry) (Task, error) {
	t.Ordinal = 0
	for _, existing := range f.tasks {
		if existing.ProjectID == t.ProjectID && existing.DeletedAt == nil && existing.Ordinal >= t.Ordinal {
			t.Ordinal = existing.Ordinal + 1
		}
	}
	f.tasks[t.ID] = t
	f.history[t.ID] = append(f.history[t.ID], entry)
	return t, nil
}

func (f *fakeRepo) GetTask(_ context.Context, taskID string) (Task, error) {
	t, ok := f.tasks[taskID]
	if !ok || t.DeletedAt != nil {
		return Task{}, ErrTaskNotFound
	}
	return t, nil
}

func (f *fakeRepo) UpdateStatus(ctx context.Context, taskID string, status Status, at time.Time, entry HistoryEntry) error {
	t, err := f.GetTask(ctx, taskID)
	if err != nil {
		return err
	}
	t.Status = status
	t.UpdatedAt = at
	f.tasks[taskID] = t
	f.history[taskID] = append(f.history[taskID], entry)
	return nil
}

func (f *fakeRepo) UpdateAssignee(ctx context.Context, taskID string, assigneeID *string, at time.Time, entry HistoryEntry) error {
	t, err := f.GetTask(ctx, taskID)
	if err != nil {
		return err
	}
	t.AssigneeID = assigneeID
	t.UpdatedAt = at
	f.tasks[taskID] = t
	f.history[taskID] = append(f.history[taskID], entry)
	return nil
}

func (f *fakeRepo) SoftDelete(ctx context.Context, taskID string, at time.Time, entry HistoryEntry) error {
	t, err := f.GetTask(ctx, taskID)
	if err != nil {
		return err
	}
	t.Status = StatusArchived
	t.DeletedAt = &at
	f.tasks[taskID] = t
	f.history[taskID] = append(f.history[taskID], entry)
	return nil
}

func (f *fakeRepo) ListByProject(_ context.Context, projectID string) ([]Task, error) {
	var out []Task
	for _, t := range f.tasks {
		if t.ProjectID == projectID && t.DeletedAt == nil {
			out = append(out, t)
		}
	}
	return out, nil
}

func (f *fakeRepo) ListByAssignee(_ context.Context, userID string) ([]Task, error) {
	var out []Task
	for _, t := range f.tasks {
		if t.DeletedAt == nil && t.AssigneeID != nil && *t.AssigneeID == userID {
			out = append(out, t)
		}
	}
	return out, nil
}

func (f *fakeRepo) History(_ context.Context, taskID string) ([]HistoryEntry, error) {
	entries := f.history[taskID]
	out := make([]HistoryEntry, len(entries))
	for i, e := range entries {
		out[len(entries)-1-i] = e
	}
	return out, nil
}

func (f *fakeRepo) CompletionCounts(_ context.Context, projectID string) (int, int, error) {
	if f.completionErr != nil {
		return 0, 0, f.completionErr
	}
	done, total := 0, 0
	for _, t := range f.tasks {
		if t.ProjectID != projectID || t.DeletedAt != nil {
			continue
		}
		total++
		if t.Status == StatusDone {
			done++
		}
	}
	return done, total, nil
}

type fakeProjects struct {
	projects map[string]projects.Project
}

func (f *fakeProjects) GetProject(_ context.Context, projectID string) (projects.Project, error) {
	p, ok := f.projects[projectID]
	if !ok {
		return projects.Project{}, projects.ErrProjectNotFound
	}
	return p, nil
}

type fakeUsers struct {
	names map[string]string
}

func (f *fakeUsers) DisplayName(_ context.Context, userID string) (string, error) {
	name, ok := f.names[userID]
	if !ok {
		return "", projects.ErrUserNotFound
	}
	return name, nil
}

type sentOne struct {
	UserID string
	Draft  notifications.Draft
}

type sentMany struct {
	UserIDs []string
	Draft   notifications.Draft
}

type fakeNotifier struct {
	ones []sentOne
	many []sentMany
	err  error
}

func (f *fakeNotifier) NotifyOne(_ context.Context, userID string, d notifications.Draft) (notifications.Notification, error) {
	if f.err != nil {
		return notifications.Notification{}, f.err
	}
	f.ones = append(f.ones, sentOne{UserID: userID, Draft: d})
	return notifications.Notification{ID: "n", UserID: userID, Type: d.Type}, nil
}

func (f *fakeNotifier) NotifyMany(_ context.Context, userIDs []string, d notifications.Draft) (int, error) {
	if f.err != nil {
		return 0, f.err
	}
	f.many = append(f.many, sentMany{UserIDs: userIDs, Draft: d})
	return len(userIDs), nil
}

func (f *fakeNotifier) oneOfType(typ notifications.Type) []sentOne {
	var out []sentOne
	for _, s := range f.ones {
		if s.Draft.Type == typ {
			out = append(out, s)
		}
	}
	return out
}

func strptr(v string) *string { return &v }

func newTestService() (*Service, *fakeRepo, *fakeProjects, *fakeNotifier) {
	repo := newFakeRepo()
	projectDir := &fakeProjects{projects: map[string]projects.Project{
		"proj-1": {
			ID:       "proj-1",
			Title:    "Compilers Project",
			LeaderID: "leader",
			Status:   projects.StatusActive,
			Members: []Member{
				{UserID: "leader", InviteStatus: projects.InviteAccepted},
				{UserID: "alice", InviteStatus: projects.InviteAccepted},
				{UserID: "bob", InviteStatus: projects.InviteAccepted},
				{UserID: "eve", InviteStatus: projects.InvitePending},
			},
		},
	}}
	userDir := &fakeUsers{names: map[string]string{
		"leader": "Lena", "alice": "Alice", "bob": "Bob",
	}}
	notifier := &fakeNotifier{}
	svc := NewService(repo, projectDir, userDir, notifier, zap.NewNop())
	svc.Now = func() time.Time { return time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC) }
	seq := 0
	svc.NewID = func() string {
		seq++
		return fmt.Sprintf("id-%d", seq)
	}
	return svc, repo, projectDir, notifier
}

// Member is re-exported through projects; alias keeps the fixture terse.
type Member = projects.Member

func TestCreate_Defaults(t *testing.T) {
	svc, repo, _, notifier := newTestService()

	task, err := svc.Create(context.Background(), CreateTaskInput{
		ProjectID: "proj-1",
		Title:     "  Write parser  ",
		CreatorID: "alice",
	})
	require.NoError(t, err)
	assert.Equal(t, "Write parser", task.Title)
	assert.Equal(t, StatusToDo, task.Status)
	assert.Equal(t, PriorityMedium, task.Priority)
	assert.Equal(t, 0, task.Ordinal)

	entries, err := svc.History(context.Background(), task.ID)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	require.NotNil(t, entries[0].NewStatus)
	assert.Equal(t, StatusToDo, *entries[0].NewStatus)
	assert.Nil(t, entries[0].PreviousStatus)

	assert.Empty(t, notifier.ones)
	assert.Len(t, repo.tasks, 1)
}

func TestCreate_AppendsOrdinal(t *testing.T) {
	svc, _, _, _ := newTestService()

	first, err := svc.Create(context.Background(), CreateTaskInput{ProjectID: "proj-1", Title: "a", CreatorID: "alice"})
	require.NoError(t, err)
	second, err := svc.Create(context.Background(), CreateTaskInput{ProjectID: "proj-1", Title: "b", CreatorID: "alice"})
	require.NoError(t, err)

	assert.Equal(t, 0, first.Ordinal)
	assert.Equal(t, 1, second.Ordinal)
}

func TestCreate_NotifiesAssignee(t *testing.T) {
	svc, _, _, notifier := newTestService()

	task, err := svc.Create(context.Background(), CreateTaskInput{
		ProjectID:  "proj-1",
		Title:      "Write parser",
		AssigneeID: strptr("bob"),
		CreatorID:  "alice",
	})
	require.NoError(t, err)

	assigned := notifier.oneOfType(notifications.TypeTaskAssigned)
	require.Len(t, assigned, 1)
	assert.Equal(t, "bob", assigned[0].UserID)
	assert.Equal(t, task.ID, assigned[0].Draft.TaskID)
	assert.Contains(t, assigned[0].Draft.Message, "Alice")
}

func TestCreate_SelfAssignmentIsSilent(t *testing.T) {
	svc, _, _, notifier := newTestService()

	_, err := svc.Create(context.Background(), CreateTaskInput{
		ProjectID:  "proj-1",
		Title:      "Write parser",
		AssigneeID: strptr("alice"),
		CreatorID:  "alice",
	})
	require.NoError(t, err)
	assert.Empty(t, notifier.ones)
}

func TestCreate_Validation(t *testing.T) {
	svc, _, _, _ := newTestService()
	ctx := context.Background()

	_, err := svc.Create(ctx, CreateTaskInput{ProjectID: "proj-1", Title: "  ", CreatorID: "alice"})
	assert.ErrorIs(t, err, ErrTitleRequired)

	_, err = svc.Create(ctx, CreateTaskInput{Title: "x", CreatorID: "alice"})
	assert.ErrorIs(t, err, ErrProjectRequired)

	_, err = svc.Create(ctx, CreateTaskInput{ProjectID: "proj-1", Title: "x", CreatorID: "alice", Priority: "urgent"})
	assert.ErrorIs(t, err, ErrInvalidPriority)

	_, err = svc.Create(ctx, CreateTaskInput{ProjectID: "proj-1", Title: "x", CreatorID: "alice", Status: "paused"})
	assert.ErrorIs(t, err, ErrInvalidStatus)
}

func TestChangeStatus_NoOpOnSameStatus(t *testing.T) {
	svc, repo, _, notifier := newTestService()
	task, err := svc.Create(context.Background(), CreateTaskInput{ProjectID: "proj-1", Title: "x", CreatorID: "alice"})
	require.NoError(t, err)

	for i := 0; i < 2; i++ {
		got, err := svc.ChangeStatus(context.Background(), task.ID, StatusToDo, "alice", "")
		require.NoError(t, err)
		assert.Equal(t, StatusToDo, got.Status)
	}

	assert.Len(t, repo.history[task.ID], 1, "no history beyond creation")
	assert.Empty(t, notifier.ones)
	assert.Empty(t, notifier.many)
}

func TestChangeStatus_RecordsHistoryAndNotifies(t *testing.T) {
	svc, repo, _, notifier := newTestService()
	task, err := svc.Create(context.Background(), CreateTaskInput{ProjectID: "proj-1", Title: "x", CreatorID: "alice"})
	require.NoError(t, err)

	got, err := svc.ChangeStatus(context.Background(), task.ID, StatusInProgress, "alice", "starting")
	require.NoError(t, err)
	assert.Equal(t, StatusInProgress, got.Status)

	entries := repo.history[task.ID]
	require.Len(t, entries, 2)
	last := entries[1]
	require.NotNil(t, last.PreviousStatus)
	require.NotNil(t, last.NewStatus)
	assert.Equal(t, StatusToDo, *last.PreviousStatus)
	assert.Equal(t, StatusInProgress, *last.NewStatus)
	require.NotNil(t, last.Comment)
	assert.Equal(t, "starting", *last.Comment)

	require.Len(t, notifier.many, 1)
	sent := notifier.many[0]
	assert.Equal(t, notifications.TypeTaskStatusChanged, sent.Draft.Type)
	assert.Equal(t, "in_progress", sent.Draft.Detail.NewStatus)
	assert.Contains(t, sent.Draft.Message, "in progress")
	assert.ElementsMatch(t, []string{"leader", "bob"}, sent.UserIDs, "actor and pending invitee excluded")
}

func TestChangeStatus_CompletionCascade(t *testing.T) {
	svc, _, _, notifier := newTestService()
	ctx := context.Background()

	var ids []string
	for _, title := range []string{"a", "b", "c"} {
		task, err := svc.Create(ctx, CreateTaskInput{ProjectID: "proj-1", Title: title, CreatorID: "alice"})
		require.NoError(t, err)
		ids = append(ids, task.ID)
	}

	for _, id := range ids[:2] {
		_, err := svc.ChangeStatus(ctx, id, StatusDone, "alice", "")
		require.NoError(t, err)
	}
	assert.Empty(t, notifier.oneOfType(notifications.TypeProjectReadyForSubmission),
		"no cascade before 100%")

	_, err := svc.ChangeStatus(ctx, ids[2], StatusDone, "alice", "")
	require.NoError(t, err)

	ready := notifier.oneOfType(notifications.TypeProjectReadyForSubmission)
	require.Len(t, ready, 1, "exactly one ready-for-submission event")
	assert.Equal(t, "leader", ready[0].UserID)

	completed := 0
	for _, m := range notifier.many {
		if m.Draft.Type == notifications.TypeTaskCompleted {
			completed++
		}
	}
	assert.Equal(t, 3, completed)
}

func TestChangeStatus_NotFound(t *testing.T) {
	svc, _, _, _ := newTestService()
	_, err := svc.ChangeStatus(context.Background(), "missing", StatusDone, "alice", "")
	assert.ErrorIs(t, err, ErrTaskNotFound)
}

func TestChangeStatus_FanOutFailureDoesNotFailOperation(t *testing.T) {
	svc, repo, _, notifier := newTestService()
	task, err := svc.Create(context.Background(), CreateTaskInput{ProjectID: "proj-1", Title: "x", CreatorID: "alice"})
	require.NoError(t, err)

	notifier.err = errors.New("notification store down")
	got, err := svc.ChangeStatus(context.Background(), task.ID, StatusDone, "alice", "")
	require.NoError(t, err, "fan-out failure must stay invisible to the caller")
	assert.Equal(t, StatusDone, got.Status)
	assert.Len(t, repo.history[task.ID], 2, "state change and audit entry still applied")
}

func TestChangeStatus_CompletionCheckFailureIsSwallowed(t *testing.T) {
	svc, repo, _, notifier := newTestService()
	task, err := svc.Create(context.Background(), CreateTaskInput{ProjectID: "proj-1", Title: "x", CreatorID: "alice"})
	require.NoError(t, err)

	repo.completionErr = errors.New("counts unavailable")
	got, err := svc.ChangeStatus(context.Background(), task.ID, StatusDone, "alice", "")
	require.NoError(t, err)
	assert.Equal(t, StatusDone, got.Status)
	assert.Empty(t, notifier.oneOfType(notifications.TypeProjectReadyForSubmission))
}

func TestAssign_NotifiesOnlyNewAssignee(t *testing.T) {
	svc, _, _, notifier := newTestService()
	task, err := svc.Create(context.Background(), CreateTaskInput{ProjectID: "proj-1", Title: "x", CreatorID: "alice"})
	require.NoError(t, err)

	got, err := svc.Assign(context.Background(), task.ID, strptr("bob"), "alice", "")
	require.NoError(t, err)
	require.NotNil(t, got.AssigneeID)
	assert.Equal(t, "bob", *got.AssigneeID)

	require.Len(t, notifier.ones, 1)
	assert.Equal(t, "bob", notifier.ones[0].UserID)
	assert.Empty(t, notifier.many, "assignment does not fan out to the team")
}

func TestAssign_NoOpAndSelfAndClear(t *testing.T) {
	svc, repo, _, notifier := newTestService()
	ctx := context.Background()
	task, err := svc.Create(ctx, CreateTaskInput{ProjectID: "proj-1", Title: "x", AssigneeID: strptr("bob"), CreatorID: "bob"})
	require.NoError(t, err)

	// Unchanged assignee: nothing recorded.
	_, err = svc.Assign(ctx, task.ID, strptr("bob"), "alice", "")
	require.NoError(t, err)
	assert.Len(t, repo.history[task.ID], 1)

	// Self-assignment: history yes, notification no.
	_, err = svc.Assign(ctx, task.ID, strptr("alice"), "alice", "")
	require.NoError(t, err)
	assert.Len(t, repo.history[task.ID], 2)
	assert.Empty(t, notifier.ones)

	// Clearing: history yes, nobody to tell.
	got, err := svc.Assign(ctx, task.ID, nil, "alice", "")
	require.NoError(t, err)
	assert.Nil(t, got.AssigneeID)
	assert.Len(t, repo.history[task.ID], 3)
	assert.Empty(t, notifier.ones)
}

func TestDelete_ArchivesAndExcludes(t *testing.T) {
	svc, repo, _, _ := newTestService()
	ctx := context.Background()
	task, err := svc.Create(ctx, CreateTaskInput{ProjectID: "proj-1", Title: "x", AssigneeID: strptr("bob"), CreatorID: "alice"})
	require.NoError(t, err)
	keep, err := svc.Create(ctx, CreateTaskInput{ProjectID: "proj-1", Title: "y", CreatorID: "alice"})
	require.NoError(t, err)

	require.NoError(t, svc.Delete(ctx, task.ID, "alice"))

	entries := repo.history[task.ID]
	require.Len(t, entries, 2)
	last := entries[1]
	require.NotNil(t, last.PreviousStatus)
	require.NotNil(t, last.NewStatus)
	assert.Equal(t, StatusToDo, *last.PreviousStatus)
	assert.Equal(t, StatusArchived, *last.NewStatus)
	assert.Equal(t, StatusArchived, repo.tasks[task.ID].Status)

	byProject, err := svc.TasksByProject(ctx, "proj-1")
	require.NoError(t, err)
	require.Len(t, byProject, 1)
	assert.Equal(t, keep.ID, byProject[0].ID)

	byUser, err := svc.TasksByUser(ctx, "bob")
	require.NoError(t, err)
	assert.Empty(t, byUser)

	// Archived is terminal: the task is gone from active queries entirely.
	_, err = svc.ChangeStatus(ctx, task.ID, StatusToDo, "alice", "")
	assert.ErrorIs(t, err, ErrTaskNotFound)
	require.NoError(t, svc.Delete(ctx, keep.ID, "alice"))
	assert.ErrorIs(t, svc.Delete(ctx, keep.ID, "alice"), ErrTaskNotFound)
}

func TestHistory_NewestFirst(t *testing.T) {
	svc, _, _, _ := newTestService()
	ctx := context.Background()
	task, err := svc.Create(ctx, CreateTaskInput{ProjectID: "proj-1", Title: "x", CreatorID: "alice"})
	require.NoError(t, err)
	_, err = svc.ChangeStatus(ctx, task.ID, StatusInProgress, "alice", "")
	require.NoError(t, err)
	_, err = svc.ChangeStatus(ctx, task.ID, StatusDone, "bob", "")
	require.NoError(t, err)

	entries, err := svc.History(ctx, task.ID)
	require.NoError(t, err)
	require.Len(t, entries, 3)
	require.NotNil(t, entries[0].NewStatus)
	assert.Equal(t, StatusDone, *entries[0].NewStatus)
	assert.Nil(t, entries[2].PreviousStatus, "creation entry last")
}

func TestBackwardTransitionAllowed(t *testing.T) {
	svc, _, _, _ := newTestService()
	ctx := context.Background()
	task, err := svc.Create(ctx, CreateTaskInput{ProjectID: "proj-1", Title: "x", CreatorID: "alice"})
	require.NoError(t, err)

	_, err = svc.ChangeStatus(ctx, task.ID, StatusDone, "alice", "")
	require.NoError(t, err)
	got, err := svc.ChangeStatus(ctx, task.ID, StatusInProgress, "alice", "reopening")
	require.NoError(t, err)
	assert.Equal(t, StatusInProgress, got.Status)
}

func TestStatusLabel(t *testing.T) {
	assert.Equal(t, "in progress", StatusInProgress.Label())
	assert.Equal(t, "to do", StatusToDo.Label())
	assert.Equal(t, "done", StatusDone.Label())
}
