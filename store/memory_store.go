package store

import (
	"context"
	"sync"
	"time"

	"maison/api/models"
)

// MemoryEventStore is the process-local EventStore. State is lost on
// restart and not shared between instances.
type MemoryEventStore struct {
	opts Options

	mu            sync.RWMutex
	notifications []models.Notification // newest first
	visitors      map[string]models.ActiveVisitor
}

func NewMemoryEventStore(opts Options) *MemoryEventStore {
	opts = opts.withDefaults()
	return &MemoryEventStore{
		opts:          opts,
		notifications: make([]models.Notification, 0, opts.Limit),
		visitors:      make(map[string]models.ActiveVisitor),
	}
}

func (s *MemoryEventStore) Record(ctx context.Context, evt models.VisitorEvent) (*models.Notification, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	now := s.opts.Clock()
	n := newNotification(evt, now)

	s.mu.Lock()
	defer s.mu.Unlock()

	if evt.VisitorID != "" {
		s.visitors[evt.VisitorID] = models.ActiveVisitor{VisitorEvent: evt, LastSeen: now}
	}

	s.notifications = append(s.notifications, models.Notification{})
	copy(s.notifications[1:], s.notifications)
	s.notifications[0] = n
	if len(s.notifications) > s.opts.Limit {
		s.notifications = s.notifications[:s.opts.Limit]
	}

	return &n, nil
}

func (s *MemoryEventStore) ListActive(_ context.Context, now time.Time) ([]models.ActiveVisitor, error) {
	return activeVisitors(s.snapshotVisitors(), now, s.opts.Window), nil
}

func (s *MemoryEventStore) ListNotifications(context.Context) ([]models.Notification, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]models.Notification, len(s.notifications))
	copy(out, s.notifications)
	return out, nil
}

func (s *MemoryEventStore) Stats(_ context.Context, now time.Time) (models.VisitorStats, error) {
	return computeStats(s.snapshotVisitors(), now, s.opts.Location), nil
}

func (s *MemoryEventStore) MarkRead(_ context.Context, id string, read bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.notifications {
		if s.notifications[i].ID == id {
			s.notifications[i].Read = read
			return nil
		}
	}
	return ErrNotificationNotFound
}

func (s *MemoryEventStore) Ping(context.Context) error { return nil }

func (s *MemoryEventStore) Close() error { return nil }

func (s *MemoryEventStore) snapshotVisitors() []models.ActiveVisitor {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]models.ActiveVisitor, 0, len(s.visitors))
	for _, v := range s.visitors {
		out = append(out, v)
	}
	return out
}
