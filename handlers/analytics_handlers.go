// api/handlers/analytics_handlers.go
package handlers

import (
	"context"
	"log"
	"net/http"
	"strconv"
	"time"

	"maison/api/models"
	"maison/api/store"
	"maison/api/utils"

	"github.com/gin-gonic/gin"
)

// AnalyticsReader answers historical questions from the event archive.
type AnalyticsReader interface {
	GetEventCountsOverTime(ctx context.Context, interval string, start, end time.Time, eventTypeFilter string) ([]store.EventTypeCountByTime, error)
	GetUniqueVisitorsOverTime(ctx context.Context, interval string, start, end time.Time) ([]store.EventTypeCountByTime, error)
	GetTopPages(ctx context.Context, start, end time.Time, limit uint64) ([]models.TopPageResult, error)
	GetAverageOrderValue(ctx context.Context, start, end time.Time) (float64, error)
}

type AnalyticsHandlers struct {
	Reader AnalyticsReader
	Now    func() time.Time
}

// NewAnalyticsHandlers accepts a nil reader; every route then answers 503.
func NewAnalyticsHandlers(r AnalyticsReader) *AnalyticsHandlers {
	return &AnalyticsHandlers{Reader: r, Now: time.Now}
}

func (h *AnalyticsHandlers) available(c *gin.Context) bool {
	if h.Reader == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "Analytics archive is not configured"})
		return false
	}
	return true
}

func (h *AnalyticsHandlers) timeRange(c *gin.Context) (time.Time, time.Time, bool) {
	start, end, err := utils.ParseTimeRange(c.Query("start"), c.Query("end"), h.Now())
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return time.Time{}, time.Time{}, false
	}
	return start, end, true
}

func (h *AnalyticsHandlers) interval(c *gin.Context) (string, bool) {
	interval := c.Query("interval")
	if interval == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "interval query parameter is required (e.g., 'Day', 'Hour')"})
		return "", false
	}
	if !utils.IsValidInterval(interval) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid interval. Use Minute, Hour, Day, Week, Month, Quarter or Year"})
		return "", false
	}
	return interval, true
}

func (h *AnalyticsHandlers) GetEventCountsOverTime(c *gin.Context) {
	if !h.available(c) {
		return
	}
	interval, ok := h.interval(c)
	if !ok {
		return
	}
	start, end, ok := h.timeRange(c)
	if !ok {
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), 10*time.Second)
	defer cancel()

	results, err := h.Reader.GetEventCountsOverTime(ctx, interval, start, end, c.Query("eventType"))
	if err != nil {
		log.Printf("ERROR: Failed to get event counts over time: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to retrieve event statistics"})
		return
	}
	c.JSON(http.StatusOK, results)
}

func (h *AnalyticsHandlers) GetUniqueVisitorsOverTime(c *gin.Context) {
	if !h.available(c) {
		return
	}
	interval, ok := h.interval(c)
	if !ok {
		return
	}
	start, end, ok := h.timeRange(c)
	if !ok {
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), 10*time.Second)
	defer cancel()

	results, err := h.Reader.GetUniqueVisitorsOverTime(ctx, interval, start, end)
	if err != nil {
		log.Printf("ERROR: Failed to get unique visitors over time: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to retrieve unique visitor statistics"})
		return
	}
	c.JSON(http.StatusOK, results)
}

func (h *AnalyticsHandlers) GetTopPages(c *gin.Context) {
	if !h.available(c) {
		return
	}
	start, end, ok := h.timeRange(c)
	if !ok {
		return
	}

	var limit uint64 = 10
	if limitParam := c.Query("limit"); limitParam != "" {
		parsed, err := strconv.ParseUint(limitParam, 10, 64)
		if err != nil || parsed == 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid 'limit' parameter. Must be a positive integer."})
			return
		}
		limit = parsed
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), 10*time.Second)
	defer cancel()

	results, err := h.Reader.GetTopPages(ctx, start, end, limit)
	if err != nil {
		log.Printf("ERROR: Failed to get top pages: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to retrieve top page statistics"})
		return
	}
	c.JSON(http.StatusOK, results)
}

func (h *AnalyticsHandlers) GetAverageOrderValue(c *gin.Context) {
	if !h.available(c) {
		return
	}
	start, end, ok := h.timeRange(c)
	if !ok {
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), 10*time.Second)
	defer cancel()

	avg, err := h.Reader.GetAverageOrderValue(ctx, start, end)
	if err != nil {
		log.Printf("ERROR: Failed to get average order value: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to retrieve order statistics"})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"startDate":         start.Format(time.RFC3339),
		"endDate":           end.Format(time.RFC3339),
		"averageOrderValue": avg,
	})
}
