package handlers

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"testing"
	"time"

	"maison/api/models"
	"maison/api/store"

	"github.com/gin-gonic/gin"
)

type fakeAnalytics struct {
	interval string
	start    time.Time
	end      time.Time
	limit    uint64
	err      error
}

func (f *fakeAnalytics) GetEventCountsOverTime(_ context.Context, interval string, start, end time.Time, _ string) ([]store.EventTypeCountByTime, error) {
	f.interval, f.start, f.end = interval, start, end
	return []store.EventTypeCountByTime{{Time: start, Count: 3}}, f.err
}

func (f *fakeAnalytics) GetUniqueVisitorsOverTime(_ context.Context, interval string, start, end time.Time) ([]store.EventTypeCountByTime, error) {
	f.interval, f.start, f.end = interval, start, end
	return nil, f.err
}

func (f *fakeAnalytics) GetTopPages(_ context.Context, start, end time.Time, limit uint64) ([]models.TopPageResult, error) {
	f.start, f.end, f.limit = start, end, limit
	return []models.TopPageResult{}, f.err
}

func (f *fakeAnalytics) GetAverageOrderValue(_ context.Context, start, end time.Time) (float64, error) {
	f.start, f.end = start, end
	return 420.5, f.err
}

func newAnalyticsRouter(h *AnalyticsHandlers) *gin.Engine {
	r := gin.New()
	r.GET("/stats/event-counts", h.GetEventCountsOverTime)
	r.GET("/stats/unique-visitors", h.GetUniqueVisitorsOverTime)
	r.GET("/stats/top-pages", h.GetTopPages)
	r.GET("/stats/average-order-value", h.GetAverageOrderValue)
	return r
}

func TestAnalyticsHandlers_Unconfigured(t *testing.T) {
	r := newAnalyticsRouter(NewAnalyticsHandlers(nil))
	for _, path := range []string{"/stats/event-counts?interval=Day", "/stats/unique-visitors?interval=Day", "/stats/top-pages", "/stats/average-order-value"} {
		if w := do(r, http.MethodGet, path, ""); w.Code != http.StatusServiceUnavailable {
			t.Errorf("%s: expected 503, got %d", path, w.Code)
		}
	}
}

func TestAnalyticsHandlers_Validation(t *testing.T) {
	r := newAnalyticsRouter(NewAnalyticsHandlers(&fakeAnalytics{}))

	tests := []struct {
		path string
		want int
	}{
		{"/stats/event-counts", http.StatusBadRequest},
		{"/stats/event-counts?interval=Fortnight", http.StatusBadRequest},
		{"/stats/event-counts?interval=Day&start=yesterday", http.StatusBadRequest},
		{"/stats/unique-visitors?interval=Hour&start=2026-05-02T00:00:00Z&end=2026-05-01T00:00:00Z", http.StatusBadRequest},
		{"/stats/top-pages?limit=0", http.StatusBadRequest},
		{"/stats/top-pages?limit=abc", http.StatusBadRequest},
		{"/stats/event-counts?interval=Day", http.StatusOK},
		{"/stats/top-pages?limit=5", http.StatusOK},
	}
	for _, tt := range tests {
		if w := do(r, http.MethodGet, tt.path, ""); w.Code != tt.want {
			t.Errorf("%s: expected %d, got %d (%s)", tt.path, tt.want, w.Code, w.Body.String())
		}
	}
}

func TestAnalyticsHandlers_PassesRange(t *testing.T) {
	now := time.Date(2026, 5, 10, 12, 0, 0, 0, time.UTC)
	fake := &fakeAnalytics{}
	h := NewAnalyticsHandlers(fake)
	h.Now = func() time.Time { return now }
	r := newAnalyticsRouter(h)

	if w := do(r, http.MethodGet, "/stats/top-pages", ""); w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if fake.limit != 10 || !fake.end.Equal(now) || !fake.start.Equal(now.Add(-7*24*time.Hour)) {
		t.Errorf("unexpected defaults: limit=%d start=%v end=%v", fake.limit, fake.start, fake.end)
	}

	w := do(r, http.MethodGet, "/stats/average-order-value?start=2026-05-01T00:00:00Z&end=2026-05-02T00:00:00Z", "")
	if w.Code != http.StatusOK || !strings.Contains(w.Body.String(), `"averageOrderValue":420.5`) {
		t.Errorf("unexpected response %d %s", w.Code, w.Body.String())
	}
}

func TestAnalyticsHandlers_StoreError(t *testing.T) {
	r := newAnalyticsRouter(NewAnalyticsHandlers(&fakeAnalytics{err: errors.New("clickhouse down")}))
	if w := do(r, http.MethodGet, "/stats/event-counts?interval=Day", ""); w.Code != http.StatusInternalServerError {
		t.Errorf("expected 500, got %d", w.Code)
	}
}
