package store

import (
	"context"
	"errors"
	"sort"
	"time"

	"maison/api/models"
	"maison/api/utils"
)

var ErrNotificationNotFound = errors.New("notification not found")

// EventStore keeps the dashboard views: a bounded newest-first list of
// notifications and a last-write-wins map of visitors. Visitors are never
// pruned; staleness is applied at read time.
type EventStore interface {
	Record(ctx context.Context, evt models.VisitorEvent) (*models.Notification, error)
	ListActive(ctx context.Context, now time.Time) ([]models.ActiveVisitor, error)
	ListNotifications(ctx context.Context) ([]models.Notification, error)
	Stats(ctx context.Context, now time.Time) (models.VisitorStats, error)
	MarkRead(ctx context.Context, id string, read bool) error
	Ping(ctx context.Context) error
	Close() error
}

const (
	DefaultNotificationLimit = 100
	DefaultActiveWindow      = 5 * time.Minute
)

// Options are shared by every EventStore implementation.
type Options struct {
	// Limit caps the notification list. Defaults to 100.
	Limit int
	// Window is how long a visitor stays active after their last event.
	// Defaults to five minutes.
	Window time.Duration
	// Location decides which calendar day counts as "today". Defaults to UTC.
	Location *time.Location
	// Clock stamps recorded events. Defaults to time.Now.
	Clock func() time.Time
}

func (o Options) withDefaults() Options {
	if o.Limit <= 0 {
		o.Limit = DefaultNotificationLimit
	}
	if o.Window <= 0 {
		o.Window = DefaultActiveWindow
	}
	if o.Location == nil {
		o.Location = time.UTC
	}
	if o.Clock == nil {
		o.Clock = time.Now
	}
	return o
}

func newNotification(evt models.VisitorEvent, now time.Time) models.Notification {
	return models.Notification{
		ID:        utils.NewNotificationID(now),
		Type:      evt.Type,
		Data:      evt,
		Timestamp: now,
	}
}

// activeVisitors returns the visitors seen within window of now, most
// recent first.
func activeVisitors(all []models.ActiveVisitor, now time.Time, window time.Duration) []models.ActiveVisitor {
	active := make([]models.ActiveVisitor, 0, len(all))
	for _, v := range all {
		if now.Sub(v.LastSeen) <= window {
			active = append(active, v)
		}
	}
	sort.SliceStable(active, func(i, j int) bool {
		return active[i].LastSeen.After(active[j].LastSeen)
	})
	return active
}

// computeStats counts every known visitor, and partitions those last seen
// on now's calendar day in loc by the isNewVisitor flag of their latest
// event. lastSeen is the server-side receipt time, not the client's
// timestamp.
func computeStats(all []models.ActiveVisitor, now time.Time, loc *time.Location) models.VisitorStats {
	stats := models.VisitorStats{TotalVisitors: len(all)}
	y, m, d := now.In(loc).Date()
	for _, v := range all {
		vy, vm, vd := v.LastSeen.In(loc).Date()
		if vy != y || vm != m || vd != d {
			continue
		}
		stats.TodayVisitors++
		if v.IsNewVisitor() {
			stats.NewVisitors++
		} else {
			stats.ReturningVisitors++
		}
	}
	return stats
}
