package capture

import (
	"fmt"
	"sync"
	"time"

	"maison/api/models"

	nanoid "github.com/matoous/go-nanoid/v2"
)

const (
	idAlphabet = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
	idLength   = 16

	// SessionTimeout ends a session after this much inactivity.
	SessionTimeout = 30 * time.Minute
)

// Identity is one browser's view of itself: a durable visitor id, the
// current session and how many visits it has made.
type Identity struct {
	mu         sync.Mutex
	VisitorID  string
	SessionID  string
	VisitCount int
	LastSeen   time.Time
}

func newID(prefix string) (string, error) {
	id, err := nanoid.Generate(idAlphabet, idLength)
	if err != nil {
		return "", fmt.Errorf("capture: generate id: %w", err)
	}
	return prefix + id, nil
}

// NewIdentity creates a first-time visitor.
func NewIdentity() (*Identity, error) {
	id, err := newID("v_")
	if err != nil {
		return nil, err
	}
	return &Identity{VisitorID: id}, nil
}

// RestoreIdentity rebuilds a known visitor from persisted values.
func RestoreIdentity(visitorID string, visitCount int, lastSeen time.Time) *Identity {
	return &Identity{VisitorID: visitorID, VisitCount: visitCount, LastSeen: lastSeen}
}

// Begin records activity at now. When it opens a new session it returns
// new_visitor or returning_visitor; otherwise it returns "".
func (i *Identity) Begin(now time.Time) (string, error) {
	i.mu.Lock()
	defer i.mu.Unlock()

	expired := i.LastSeen.IsZero() || now.Sub(i.LastSeen) > SessionTimeout
	i.LastSeen = now
	if i.SessionID != "" && !expired {
		return "", nil
	}

	sid, err := newID("s_")
	if err != nil {
		return "", err
	}
	i.SessionID = sid
	i.VisitCount++
	if i.VisitCount == 1 {
		return models.EventNewVisitor, nil
	}
	return models.EventReturningVisitor, nil
}

// IsNew reports whether this is the visitor's first visit.
func (i *Identity) IsNew() bool {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.VisitCount <= 1
}

// Event returns an event of eventType stamped with this identity.
func (i *Identity) Event(eventType string, now time.Time) models.VisitorEvent {
	i.mu.Lock()
	defer i.mu.Unlock()
	return models.VisitorEvent{
		Type:      eventType,
		VisitorID: i.VisitorID,
		SessionID: i.SessionID,
		Timestamp: now.UTC().Format(time.RFC3339),
		Payload: map[string]any{
			"isNewVisitor": i.VisitCount <= 1,
			"visitCount":   i.VisitCount,
		},
	}
}
