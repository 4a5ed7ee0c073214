package models

import "time"

// Notification is the server-side record of one ingested event. Only Read
// changes after creation.
type Notification struct {
	ID        string       `json:"id"`
	Type      string       `json:"type"`
	Data      VisitorEvent `json:"data"`
	Timestamp time.Time    `json:"timestamp"`
	Read      bool         `json:"read"`
}

// ActiveVisitor is the latest known snapshot of one visitor. Each event
// from the same visitor replaces the whole snapshot.
type ActiveVisitor struct {
	VisitorEvent
	LastSeen time.Time `json:"-"`
}

// MarshalJSON flattens the visitor's latest event and adds lastSeen, the
// shape the dashboard renders directly.
func (v ActiveVisitor) MarshalJSON() ([]byte, error) {
	return v.VisitorEvent.WithPayload("lastSeen", v.LastSeen.UTC().Format(time.RFC3339Nano)).MarshalJSON()
}

func (v *ActiveVisitor) UnmarshalJSON(b []byte) error {
	var evt VisitorEvent
	if err := evt.UnmarshalJSON(b); err != nil {
		return err
	}
	if raw := evt.Text("lastSeen"); raw != "" {
		if t, err := time.Parse(time.RFC3339Nano, raw); err == nil {
			v.LastSeen = t
		}
		delete(evt.Payload, "lastSeen")
		if len(evt.Payload) == 0 {
			evt.Payload = nil
		}
	}
	v.VisitorEvent = evt
	return nil
}

type VisitorStats struct {
	TotalVisitors     int `json:"totalVisitors"`
	TodayVisitors     int `json:"todayVisitors"`
	NewVisitors       int `json:"newVisitors"`
	ReturningVisitors int `json:"returningVisitors"`
}

type ActiveVisitorsResponse struct {
	ActiveVisitors []ActiveVisitor `json:"activeVisitors"`
	Count          int             `json:"count"`
}

type NotificationsResponse struct {
	Notifications []Notification `json:"notifications"`
}

// DashboardSnapshot holds the three dashboard views taken at one instant.
type DashboardSnapshot struct {
	GeneratedAt    time.Time       `json:"generatedAt"`
	Stats          VisitorStats    `json:"stats"`
	ActiveVisitors []ActiveVisitor `json:"activeVisitors"`
	Notifications  []Notification  `json:"notifications"`
}
