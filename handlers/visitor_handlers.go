// api/handlers/visitor_handlers.go
package handlers

import (
	"context"
	"errors"
	"log"
	"net/http"
	"sync"
	"time"

	"maison/api/events"
	"maison/api/models"
	"maison/api/notify"
	"maison/api/store"

	"github.com/gin-gonic/gin"
)

// EventArchiver stores ingested notifications for historical analytics.
type EventArchiver interface {
	InsertVisitorEvents(ctx context.Context, notifications []models.Notification) error
}

// SnapshotNotifier is told when the dashboard views change.
type SnapshotNotifier interface {
	Notify()
}

const defaultFanOutTimeout = 15 * time.Second

// VisitorHandlers serves ingestion and the dashboard read views. Only the
// store write is on the request path; chat dispatch, the bus, the archive
// and live push run afterwards on a detached goroutine.
type VisitorHandlers struct {
	Store      store.EventStore
	Formatter  *notify.Formatter
	Dispatcher *notify.Dispatcher

	// Optional collaborators.
	Publisher events.Publisher
	Archive   EventArchiver
	Live      SnapshotNotifier

	FanOutTimeout time.Duration
	Now           func() time.Time

	wg sync.WaitGroup
}

func NewVisitorHandlers(s store.EventStore, formatter *notify.Formatter, dispatcher *notify.Dispatcher) *VisitorHandlers {
	return &VisitorHandlers{
		Store:         s,
		Formatter:     formatter,
		Dispatcher:    dispatcher,
		FanOutTimeout: defaultFanOutTimeout,
		Now:           time.Now,
	}
}

// IngestEvent records one visitor event. Clients treat it as
// fire-and-forget, so the only failure answer is a generic 500.
func (h *VisitorHandlers) IngestEvent(c *gin.Context) {
	var req models.IngestRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		log.Printf("ERROR: Invalid visitor event body: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to process event"})
		return
	}

	evt := req.Data
	if req.Type != "" {
		evt.Type = req.Type
	}

	n, err := h.Store.Record(c.Request.Context(), evt)
	if err != nil {
		log.Printf("ERROR: Failed to record %q event for visitor %s: %v", evt.Type, evt.VisitorID, err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to process event"})
		return
	}

	h.fanOut(*n)
	c.JSON(http.StatusOK, gin.H{"success": true, "notification": n})
}

func (h *VisitorHandlers) fanOut(n models.Notification) {
	h.wg.Add(1)
	go func() {
		defer h.wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), h.FanOutTimeout)
		defer cancel()

		if h.Live != nil {
			h.Live.Notify()
		}
		if h.Publisher != nil {
			if err := h.Publisher.Publish(ctx, events.VisitorSubject(n.Type), n); err != nil {
				log.Printf("ERROR: Failed to publish notification %s: %v", n.ID, err)
			}
		}
		if h.Archive != nil {
			if err := h.Archive.InsertVisitorEvents(ctx, []models.Notification{n}); err != nil {
				log.Printf("ERROR: Failed to archive notification %s: %v", n.ID, err)
			}
		}
		if h.Formatter != nil && h.Dispatcher != nil {
			h.Dispatcher.Dispatch(ctx, h.Formatter.Format(n.Data))
		}
	}()
}

// Wait blocks until every in-flight fan-out has finished.
func (h *VisitorHandlers) Wait() {
	h.wg.Wait()
}

// GetVisitors serves the three dashboard views selected by ?type=. Read
// failures are logged and answered with empty views.
func (h *VisitorHandlers) GetVisitors(c *gin.Context) {
	ctx := c.Request.Context()
	now := h.Now()

	switch c.Query("type") {
	case "active":
		active, err := h.Store.ListActive(ctx, now)
		if err != nil {
			log.Printf("ERROR: Failed to list active visitors: %v", err)
		}
		if active == nil {
			active = []models.ActiveVisitor{}
		}
		c.JSON(http.StatusOK, models.ActiveVisitorsResponse{ActiveVisitors: active, Count: len(active)})

	case "notifications":
		notifications, err := h.Store.ListNotifications(ctx)
		if err != nil {
			log.Printf("ERROR: Failed to list notifications: %v", err)
		}
		if notifications == nil {
			notifications = []models.Notification{}
		}
		c.JSON(http.StatusOK, models.NotificationsResponse{Notifications: notifications})

	default:
		stats, err := h.Store.Stats(ctx, now)
		if err != nil {
			log.Printf("ERROR: Failed to compute visitor stats: %v", err)
			stats = models.VisitorStats{}
		}
		c.JSON(http.StatusOK, stats)
	}
}

type markReadRequest struct {
	Read *bool `json:"read"`
}

// MarkNotificationRead toggles the read flag. An empty body marks the
// notification read.
func (h *VisitorHandlers) MarkNotificationRead(c *gin.Context) {
	var req markReadRequest
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body", "details": err.Error()})
			return
		}
	}
	read := true
	if req.Read != nil {
		read = *req.Read
	}

	id := c.Param("id")
	if err := h.Store.MarkRead(c.Request.Context(), id, read); err != nil {
		if errors.Is(err, store.ErrNotificationNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "Notification not found"})
			return
		}
		log.Printf("ERROR: Failed to mark notification %s: %v", id, err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to update notification"})
		return
	}

	if h.Live != nil {
		h.Live.Notify()
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "id": id, "read": read})
}

// HealthCheck reports whether the event store is reachable.
func (h *VisitorHandlers) HealthCheck(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()
	if err := h.Store.Ping(ctx); err != nil {
		log.Printf("ERROR: Health check failed: %v", err)
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable", "error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}
