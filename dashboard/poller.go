// Package dashboard is the operator-side reader of the visitor views. A
// Poller keeps the latest snapshot fetched from the API; Render draws it
// as text.
package dashboard

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"maison/api/models"
)

const DefaultInterval = 10 * time.Second

type Poller struct {
	BaseURL  string
	APIKey   string
	HTTP     *http.Client
	Interval time.Duration
	Now      func() time.Time

	// OnUpdate, when set, is called after every successful refresh.
	OnUpdate func(models.DashboardSnapshot)

	snap atomic.Pointer[models.DashboardSnapshot]
}

// NewPoller reads from the API rooted at baseURL (e.g. http://localhost:8080).
func NewPoller(baseURL, apiKey string) *Poller {
	return &Poller{
		BaseURL:  strings.TrimRight(baseURL, "/"),
		APIKey:   apiKey,
		HTTP:     &http.Client{Timeout: 10 * time.Second},
		Interval: DefaultInterval,
		Now:      time.Now,
	}
}

// Snapshot returns the last good snapshot; ok is false before the first
// successful refresh.
func (p *Poller) Snapshot() (models.DashboardSnapshot, bool) {
	s := p.snap.Load()
	if s == nil {
		return models.DashboardSnapshot{}, false
	}
	return *s, true
}

// Visitor looks id up in the cached active visitors without touching the
// network.
func (p *Poller) Visitor(id string) (models.ActiveVisitor, bool) {
	s := p.snap.Load()
	if s == nil {
		return models.ActiveVisitor{}, false
	}
	for _, v := range s.ActiveVisitors {
		if v.VisitorID == id {
			return v, true
		}
	}
	return models.ActiveVisitor{}, false
}

// Refresh fetches all three views. On failure the previous snapshot is
// kept and the error returned.
func (p *Poller) Refresh(ctx context.Context) error {
	next := &models.DashboardSnapshot{GeneratedAt: p.Now()}

	var active models.ActiveVisitorsResponse
	if err := p.get(ctx, "active", &active); err != nil {
		return err
	}
	var notes models.NotificationsResponse
	if err := p.get(ctx, "notifications", &notes); err != nil {
		return err
	}
	if err := p.get(ctx, "", &next.Stats); err != nil {
		return err
	}
	next.ActiveVisitors = active.ActiveVisitors
	next.Notifications = notes.Notifications

	// Polls may overlap; a slower, older poll must not replace a newer one.
	for {
		cur := p.snap.Load()
		if cur != nil && cur.GeneratedAt.After(next.GeneratedAt) {
			return nil
		}
		if p.snap.CompareAndSwap(cur, next) {
			break
		}
	}
	if p.OnUpdate != nil {
		p.OnUpdate(*next)
	}
	return nil
}

func (p *Poller) get(ctx context.Context, view string, out any) error {
	endpoint := p.BaseURL + "/api/visitors"
	if view != "" {
		endpoint += "?type=" + view
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return fmt.Errorf("dashboard: build request: %w", err)
	}
	if p.APIKey != "" {
		req.Header.Set("X-API-KEY", p.APIKey)
	}

	resp, err := p.HTTP.Do(req)
	if err != nil {
		return fmt.Errorf("dashboard: fetch %s: %w", viewName(view), err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("dashboard: fetch %s: unexpected status %d", viewName(view), resp.StatusCode)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("dashboard: decode %s: %w", viewName(view), err)
	}
	return nil
}

func viewName(view string) string {
	if view == "" {
		return "stats"
	}
	return view
}

// Run refreshes immediately and then every Interval until ctx is done.
// Failures are logged; the last good snapshot stays in place.
func (p *Poller) Run(ctx context.Context) {
	interval := p.Interval
	if interval <= 0 {
		interval = DefaultInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		if err := p.Refresh(ctx); err != nil && ctx.Err() == nil {
			log.Printf("ERROR: %v", err)
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}
