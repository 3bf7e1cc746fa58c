package notifications

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"go.uber.org/zap"
)

type fakeRepository struct {
	rows      map[string]Notification
	insertErr error
}

func newFakeRepository() *fakeRepository {
	return &fakeRepository{rows: map[string]Notification{}}
}

func (f *fakeRepository) Insert(_ context.Context, n Notification) error {
	if f.insertErr != nil {
		return f.insertErr
	}
	f.rows[n.ID] = n
	return nil
}

func (f *fakeRepository) InsertMany(ctx context.Context, ns []Notification) error {
	for _, n := range ns {
		if err := f.Insert(ctx, n); err != nil {
			return err
		}
	}
	return nil
}

func (f *fakeRepository) ListByUser(_ context.Context, userID string, limit, offset int, unreadOnly bool) ([]Notification, error) {
	var out []Notification
	for _, n := range f.rows {
		if n.UserID != userID {
			continue
		}
		if unreadOnly && n.Read {
			continue
		}
		out = append(out, n)
	}
	return out, nil
}

func (f *fakeRepository) CountUnread(_ context.Context, userID string) (int, error) {
	count := 0
	for _, n := range f.rows {
		if n.UserID == userID && !n.Read {
			count++
		}
	}
	return count, nil
}

func (f *fakeRepository) MarkRead(_ context.Context, notificationID, userID string, at time.Time) (bool, error) {
	n, ok := f.rows[notificationID]
	if !ok || n.UserID != userID || n.Read {
		return false, nil
	}
	n.Read = true
	n.ReadAt = &at
	f.rows[notificationID] = n
	return true, nil
}

func (f *fakeRepository) MarkAllRead(_ context.Context, userID string, at time.Time) (int, error) {
	count := 0
	for id, n := range f.rows {
		if n.UserID != userID || n.Read {
			continue
		}
		n.Read = true
		n.ReadAt = &at
		f.rows[id] = n
		count++
	}
	return count, nil
}

func (f *fakeRepository) Delete(_ context.Context, notificationID, userID string) (bool, error) {
	n, ok := f.rows[notificationID]
	if !ok || n.UserID != userID {
		return false, nil
	}
	delete(f.rows, notificationID)
	return true, nil
}

func (f *fakeRepository) DeleteReadBefore(_ context.Context, cutoff time.Time) (int, error) {
	count := 0
	for id, n := range f.rows {
		if n.Read && n.CreatedAt.Before(cutoff) {
			delete(f.rows, id)
			count++
		}
	}
	return count, nil
}

func newTestService(repo *fakeRepository) *Service {
	svc := NewService(repo, zap.NewNop())
	svc.Now = func() time.Time { return time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC) }
	seq := 0
	svc.NewID = func() string {
		seq++
		return fmt.Sprintf("n-%d", seq)
	}
	return svc
}

func TestNotifyMany_IndependentRows(t *testing.T) {
	repo := newFakeRepository()
	svc := newTestService(repo)
	ctx := context.Background()

	created, err := svc.NotifyMany(ctx, []string{"u1", "u2", "u3"}, TaskCompleted("Alice", "Parser", "p1", "t1", "actor"))
	if err != nil {
		t.Fatalf("NotifyMany returned error: %v", err)
	}
	if created != 3 {
		t.Fatalf("expected 3 rows, got %d", created)
	}
	if len(repo.rows) != 3 {
		t.Fatalf("expected 3 stored rows, got %d", len(repo.rows))
	}

	if ok, _ := svc.MarkRead(ctx, "n-1", "u1"); !ok {
		t.Fatal("expected u1's copy to flip to read")
	}
	for _, userID := range []string{"u2", "u3"} {
		unread, err := repo.CountUnread(ctx, userID)
		if err != nil {
			t.Fatalf("CountUnread: %v", err)
		}
		if unread != 1 {
			t.Fatalf("marking u1's copy read must not touch %s, unread=%d", userID, unread)
		}
	}
}

func TestNotifyMany_EmptyRecipientsIsNoOp(t *testing.T) {
	repo := newFakeRepository()
	svc := newTestService(repo)

	created, err := svc.NotifyMany(context.Background(), nil, TaskCompleted("Alice", "Parser", "p1", "t1", "actor"))
	if err != nil {
		t.Fatalf("empty recipient list must not be an error: %v", err)
	}
	if created != 0 || len(repo.rows) != 0 {
		t.Fatalf("expected no rows, got %d", len(repo.rows))
	}
}

func TestNotifyOne_PublishFailureIsSwallowed(t *testing.T) {
	repo := newFakeRepository()
	svc := newTestService(repo)
	svc.Publish = func(_ string, _ []byte) error { return errors.New("nats down") }

	n, err := svc.NotifyOne(context.Background(), "u1", TaskAssigned("Alice", "Parser", "p1", "t1", "actor"))
	if err != nil {
		t.Fatalf("publish failure must not fail the insert: %v", err)
	}
	if _, ok := repo.rows[n.ID]; !ok {
		t.Fatal("row should be persisted despite publish failure")
	}
}

func TestNotifyOne_PublishesPerUserSubject(t *testing.T) {
	repo := newFakeRepository()
	svc := newTestService(repo)
	var gotSubject string
	svc.Publish = func(subject string, _ []byte) error {
		gotSubject = subject
		return nil
	}

	if _, err := svc.NotifyOne(context.Background(), "u1", TaskAssigned("Alice", "Parser", "p1", "t1", "actor")); err != nil {
		t.Fatalf("NotifyOne: %v", err)
	}
	if gotSubject != "notify.user.u1" {
		t.Fatalf("unexpected subject %q", gotSubject)
	}
}

func TestList_ReturnsUnreadCount(t *testing.T) {
	repo := newFakeRepository()
	svc := newTestService(repo)
	ctx := context.Background()

	if _, err := svc.NotifyMany(ctx, []string{"u1", "u1"}, AnnouncementPosted("Lena", "Compilers", "p1", "leader")); err != nil {
		t.Fatalf("NotifyMany: %v", err)
	}
	if _, err := svc.NotifyOne(ctx, "u2", AnnouncementPosted("Lena", "Compilers", "p1", "leader")); err != nil {
		t.Fatalf("NotifyOne: %v", err)
	}
	if _, err := svc.MarkRead(ctx, "n-1", "u1"); err != nil {
		t.Fatalf("MarkRead: %v", err)
	}

	list, unread, err := svc.List(ctx, "u1", ListOptions{})
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(list) != 2 {
		t.Fatalf("expected 2 notifications for u1, got %d", len(list))
	}
	if unread != 1 {
		t.Fatalf("expected 1 unread, got %d", unread)
	}

	list, _, err = svc.List(ctx, "u1", ListOptions{UnreadOnly: true})
	if err != nil {
		t.Fatalf("List unread-only: %v", err)
	}
	if len(list) != 1 {
		t.Fatalf("expected 1 unread notification, got %d", len(list))
	}
}

func TestMarkRead_WrongOwner(t *testing.T) {
	repo := newFakeRepository()
	svc := newTestService(repo)
	ctx := context.Background()

	if _, err := svc.NotifyOne(ctx, "u1", SubmissionReviewed("Compilers", "p1")); err != nil {
		t.Fatalf("NotifyOne: %v", err)
	}
	ok, err := svc.MarkRead(ctx, "n-1", "intruder")
	if err != nil {
		t.Fatalf("MarkRead: %v", err)
	}
	if ok {
		t.Fatal("another user must not be able to mark the row read")
	}
}

func TestPurgeRead_OnlyReadAndOld(t *testing.T) {
	repo := newFakeRepository()
	svc := newTestService(repo)
	ctx := context.Background()

	base := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	repo.rows["old-read"] = Notification{ID: "old-read", UserID: "u1", Read: true, CreatedAt: base.AddDate(0, 0, -60)}
	repo.rows["old-unread"] = Notification{ID: "old-unread", UserID: "u1", Read: false, CreatedAt: base.AddDate(0, 0, -60)}
	repo.rows["fresh-read"] = Notification{ID: "fresh-read", UserID: "u1", Read: true, CreatedAt: base.AddDate(0, 0, -1)}

	purged, err := svc.PurgeRead(ctx, 30*24*time.Hour)
	if err != nil {
		t.Fatalf("PurgeRead: %v", err)
	}
	if purged != 1 {
		t.Fatalf("expected 1 purged row, got %d", purged)
	}
	if _, ok := repo.rows["old-unread"]; !ok {
		t.Fatal("unread rows are retained indefinitely")
	}
	if _, ok := repo.rows["fresh-read"]; !ok {
		t.Fatal("read rows inside the retention window are retained")
	}
}
