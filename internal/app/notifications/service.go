package notifications

import (
	"context"
	"encoding/json"
	"time"

	"github.com/campuspm/platform/internal/contracts"
	"github.com/campuspm/platform/internal/platform/metrics"
	"github.com/campuspm/platform/internal/platform/natsutil"
	"github.com/nats-io/nuid"
	"go.uber.org/zap"
)

var createdTotal = metrics.NewCounterVec(metrics.Opts{
	Name: "notifications_created_total",
	Help: "Notification rows created, by type.",
}, []string{"type"})

func init() {
	metrics.Default.MustRegister(createdTotal)
}

// Repository is the storage surface the fan-out engine needs.
type Repository interface {
	Insert(ctx context.Context, n Notification) error
	InsertMany(ctx context.Context, ns []Notification) error
	ListByUser(ctx context.Context, userID string, limit, offset int, unreadOnly bool) ([]Notification, error)
	CountUnread(ctx context.Context, userID string) (int, error)
	MarkRead(ctx context.Context, notificationID, userID string, at time.Time) (bool, error)
	MarkAllRead(ctx context.Context, userID string, at time.Time) (int, error)
	Delete(ctx context.Context, notificationID, userID string) (bool, error)
	DeleteReadBefore(ctx context.Context, cutoff time.Time) (int, error)
}

type PublishFunc func(subject string, payload []byte) error

// Service creates notification rows and answers recipient-side queries.
// Publish is optional; when set, each persisted row is mirrored to JetStream
// best-effort so a push channel can stream it.
type Service struct {
	Repo    Repository
	Publish PublishFunc
	Log     *zap.Logger
	Now     func() time.Time
	NewID   func() string
}

func NewService(repo Repository, log *zap.Logger) *Service {
	return &Service{
		Repo:  repo,
		Log:   log,
		Now:   func() time.Time { return time.Now().UTC() },
		NewID: nuid.Next,
	}
}

func (s *Service) NotifyOne(ctx context.Context, userID string, d Draft) (Notification, error) {
	n := s.build(userID, d)
	if err := s.Repo.Insert(ctx, n); err != nil {
		return Notification{}, err
	}
	createdTotal.WithLabelValues(string(n.Type)).Inc()
	s.publish(n)
	return n, nil
}

// NotifyMany fans one event out as independent rows, one per recipient.
// An empty recipient list is a no-op, not an error.
func (s *Service) NotifyMany(ctx context.Context, userIDs []string, d Draft) (int, error) {
	if len(userIDs) == 0 {
		return 0, nil
	}
	ns := make([]Notification, 0, len(userIDs))
	for _, userID := range userIDs {
		ns = append(ns, s.build(userID, d))
	}
	if err := s.Repo.InsertMany(ctx, ns); err != nil {
		return 0, err
	}
	createdTotal.WithLabelValues(string(d.Type)).Add(float64(len(ns)))
	for _, n := range ns {
		s.publish(n)
	}
	return len(ns), nil
}

type ListOptions struct {
	Limit      int
	Offset     int
	UnreadOnly bool
}

// List returns a page of the user's notifications, newest first, along with
// the user's total unread count.
func (s *Service) List(ctx context.Context, userID string, opts ListOptions) ([]Notification, int, error) {
	if opts.Limit <= 0 || opts.Limit > 200 {
		opts.Limit = 50
	}
	if opts.Offset < 0 {
		opts.Offset = 0
	}
	list, err := s.Repo.ListByUser(ctx, userID, opts.Limit, opts.Offset, opts.UnreadOnly)
	if err != nil {
		return nil, 0, err
	}
	unread, err := s.Repo.CountUnread(ctx, userID)
	if err != nil {
		return nil, 0, err
	}
	return list, unread, nil
}

// MarkRead flips one notification to read, only if it belongs to userID.
// Returns false when nothing matched.
func (s *Service) MarkRead(ctx context.Context, notificationID, userID string) (bool, error) {
	return s.Repo.MarkRead(ctx, notificationID, userID, s.Now())
}

func (s *Service) MarkAllRead(ctx context.Context, userID string) (int, error) {
	return s.Repo.MarkAllRead(ctx, userID, s.Now())
}

func (s *Service) Delete(ctx context.Context, notificationID, userID string) (bool, error) {
	return s.Repo.Delete(ctx, notificationID, userID)
}

// PurgeRead removes read notifications older than the retention window.
// Unread rows are kept indefinitely.
func (s *Service) PurgeRead(ctx context.Context, retention time.Duration) (int, error) {
	return s.Repo.DeleteReadBefore(ctx, s.Now().Add(-retention))
}

func (s *Service) build(userID string, d Draft) Notification {
	return Notification{
		ID:        s.NewID(),
		UserID:    userID,
		Type:      d.Type,
		Title:     d.Title,
		Message:   d.Message,
		ProjectID: d.ProjectID,
		TaskID:    d.TaskID,
		ActorID:   d.ActorID,
		Detail:    d.Detail,
		CreatedAt: s.Now(),
	}
}

func (s *Service) publish(n Notification) {
	if s.Publish == nil {
		return
	}
	event := contracts.NotificationEvent{
		NotificationID: n.ID,
		UserID:         n.UserID,
		Type:           string(n.Type),
		Title:          n.Title,
		Message:        n.Message,
		ProjectID:      n.ProjectID,
		TaskID:         n.TaskID,
		ActorID:        n.ActorID,
		CreatedAt:      n.CreatedAt,
	}
	payload, err := json.Marshal(event)
	if err != nil {
		s.Log.Warn("marshal notification event", zap.Error(err))
		return
	}
	if err := s.Publish(natsutil.SubjectPrefix+n.UserID, payload); err != nil {
		s.Log.Warn("publish notification event",
			zap.String("notification_id", n.ID),
			zap.Error(err))
	}
}
