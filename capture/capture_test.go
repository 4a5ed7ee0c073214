package capture

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"maison/api/models"
)

type ingestSink struct {
	mu       sync.Mutex
	received []models.IngestRequest
	status   int
}

func (s *ingestSink) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	var req models.IngestRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err == nil {
		s.mu.Lock()
		s.received = append(s.received, req)
		s.mu.Unlock()
	}
	if s.status != 0 {
		w.WriteHeader(s.status)
		return
	}
	w.Write([]byte(`{"success":true}`))
}

func (s *ingestSink) all() []models.IngestRequest {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]models.IngestRequest(nil), s.received...)
}

func (s *ingestSink) count() int {
	return len(s.all())
}

func closeClient(t *testing.T, c *Client) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := c.Close(ctx); err != nil {
		t.Fatalf("Close: %v", err)
	}
}

func TestClient_DeliversEvents(t *testing.T) {
	sink := &ingestSink{}
	srv := httptest.NewServer(sink)
	defer srv.Close()

	c := NewClient(srv.URL+"/api/visitors", 8)
	c.Track(models.VisitorEvent{Type: models.EventPageView, VisitorID: "v1", Payload: map[string]any{"page": "/en"}})
	c.Track(models.VisitorEvent{Type: models.EventCart, VisitorID: "v1"})
	closeClient(t, c)

	if sink.count() != 2 {
		t.Fatalf("expected 2 deliveries, got %d", sink.count())
	}
	first := sink.all()[0]
	if first.Type != models.EventPageView || first.Data.VisitorID != "v1" || first.Data.Text("page") != "/en" {
		t.Errorf("unexpected first delivery %+v", first)
	}
}

func TestClient_SwallowsFailures(t *testing.T) {
	sink := &ingestSink{status: http.StatusInternalServerError}
	srv := httptest.NewServer(sink)
	defer srv.Close()

	c := NewClient(srv.URL, 4)
	c.Track(models.VisitorEvent{Type: models.EventPageView, VisitorID: "v1"})
	closeClient(t, c)
	if sink.count() != 1 {
		t.Errorf("expected the failed delivery to be attempted once, got %d", sink.count())
	}

	unreachable := NewClient("http://127.0.0.1:1/api/visitors", 4)
	unreachable.Track(models.VisitorEvent{Type: models.EventPageView})
	closeClient(t, unreachable)
}

func TestClient_FullQueueDrops(t *testing.T) {
	release := make(chan struct{})
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		<-release
	}))
	defer srv.Close()

	c := NewClient(srv.URL, 1)
	start := time.Now()
	for i := 0; i < 20; i++ {
		c.Track(models.VisitorEvent{Type: models.EventPageView})
	}
	if time.Since(start) > time.Second {
		t.Fatal("Track blocked on a full queue")
	}
	close(release)
	closeClient(t, c)

	if got := hits.Load(); got >= 20 || got == 0 {
		t.Errorf("expected some events dropped, delivered %d", got)
	}
}

func TestClient_TrackAfterClose(t *testing.T) {
	c := NewClient("http://127.0.0.1:1", 1)
	closeClient(t, c)
	c.Track(models.VisitorEvent{Type: models.EventPageView})
	closeClient(t, c)
}

type staticLocator struct{ loc *models.Location }

func (s staticLocator) Locate(context.Context, string) *models.Location { return s.loc }

func TestClient_FillsLocationFromIP(t *testing.T) {
	sink := &ingestSink{}
	srv := httptest.NewServer(sink)
	defer srv.Close()

	c := NewClient(srv.URL, 4)
	c.Locator = staticLocator{&models.Location{City: "Dubai", Country: "UAE"}}
	c.Track(models.VisitorEvent{Type: models.EventNewVisitor, VisitorID: "abc123", Payload: map[string]any{"ip": "5.195.0.1"}})
	c.Track(models.VisitorEvent{Type: models.EventPageView, VisitorID: "abc123", Location: &models.Location{City: "Riyadh"}})
	closeClient(t, c)

	got := sink.all()
	if len(got) != 2 {
		t.Fatalf("expected 2 deliveries, got %d", len(got))
	}
	if loc := got[0].Data.Location; loc == nil || loc.City != "Dubai" {
		t.Errorf("expected located Dubai, got %+v", loc)
	}
	if loc := got[1].Data.Location; loc == nil || loc.City != "Riyadh" {
		t.Errorf("explicit location must win, got %+v", loc)
	}
}

func TestIPAPILocator(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		switch r.URL.Path {
		case "/5.195.0.1/json/":
			w.Write([]byte(`{"city":"Dubai","country_name":"United Arab Emirates","latitude":25.2,"longitude":55.27}`))
		case "/10.0.0.1/json/":
			w.Write([]byte(`{"error":true,"reason":"Reserved IP Address"}`))
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	l := NewIPAPILocator(srv.URL + "/")
	loc := l.Locate(context.Background(), "5.195.0.1")
	if loc == nil || loc.City != "Dubai" || loc.Lat != 25.2 || loc.AccuracyLevel != "ip" {
		t.Fatalf("unexpected location %+v", loc)
	}
	loc.City = "mutated"
	if again := l.Locate(context.Background(), "5.195.0.1"); again.City != "Dubai" {
		t.Errorf("cache leaked a mutable pointer: %+v", again)
	}
	if calls.Load() != 1 {
		t.Errorf("expected one upstream call, got %d", calls.Load())
	}

	if l.Locate(context.Background(), "10.0.0.1") != nil {
		t.Error("expected nil for refused lookup")
	}
	if l.Locate(context.Background(), "1.1.1.1") != nil {
		t.Error("expected nil for upstream 404")
	}
}

func TestIdentity_Begin(t *testing.T) {
	id, err := NewIdentity()
	if err != nil {
		t.Fatalf("NewIdentity: %v", err)
	}
	if !strings.HasPrefix(id.VisitorID, "v_") || len(id.VisitorID) != 2+idLength {
		t.Errorf("unexpected visitor id %q", id.VisitorID)
	}

	now := time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC)
	if typ, _ := id.Begin(now); typ != models.EventNewVisitor {
		t.Fatalf("expected new_visitor, got %q", typ)
	}
	firstSession := id.SessionID

	if typ, _ := id.Begin(now.Add(10 * time.Minute)); typ != "" {
		t.Errorf("expected session to continue, got %q", typ)
	}
	if typ, _ := id.Begin(now.Add(2 * time.Hour)); typ != models.EventReturningVisitor {
		t.Errorf("expected returning_visitor after timeout, got %q", typ)
	}
	if id.SessionID == firstSession || id.VisitCount != 2 || id.IsNew() {
		t.Errorf("unexpected identity after return: %+v", id)
	}

	restored := RestoreIdentity("v_known", 4, now.Add(-48*time.Hour))
	if typ, _ := restored.Begin(now); typ != models.EventReturningVisitor || restored.VisitCount != 5 {
		t.Errorf("restored identity should return, got %q count=%d", typ, restored.VisitCount)
	}
}

func TestParseUserAgent(t *testing.T) {
	tests := []struct {
		ua                  string
		typ, browser, osNam string
	}{
		{"Mozilla/5.0 (iPhone; CPU iPhone OS 17_4 like Mac OS X) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/17.4 Mobile/15E148 Safari/604.1", "mobile", "Safari", "iOS"},
		{"Mozilla/5.0 (iPad; CPU OS 16_0 like Mac OS X) AppleWebKit/605.1.15 (KHTML, like Gecko) CriOS/120.0 Mobile/15E148 Safari/604.1", "tablet", "Chrome", "iOS"},
		{"Mozilla/5.0 (Linux; Android 14; Pixel 8) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0 Mobile Safari/537.36", "mobile", "Chrome", "Android"},
		{"Mozilla/5.0 (Linux; Android 13; SM-X700) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0 Safari/537.36", "tablet", "Chrome", "Android"},
		{"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0 Safari/537.36 Edg/124.0", "desktop", "Edge", "Windows"},
		{"Mozilla/5.0 (Macintosh; Intel Mac OS X 14.4; rv:125.0) Gecko/20100101 Firefox/125.0", "desktop", "Firefox", "macOS"},
		{"", "Unknown", "Unknown", "Unknown"},
	}
	for _, tt := range tests {
		d := ParseUserAgent(tt.ua)
		if d.Type != tt.typ || d.Browser != tt.browser || d.OS != tt.osNam {
			t.Errorf("ParseUserAgent(%q) = %+v, want %s/%s/%s", tt.ua, d, tt.typ, tt.browser, tt.osNam)
		}
	}
}

func TestContextBuilders(t *testing.T) {
	now := time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC)
	c := Context{
		Identity:  RestoreIdentity("v_abc", 0, time.Time{}),
		UserAgent: "Mozilla/5.0 (iPhone; CPU iPhone OS 17_4 like Mac OS X) Safari/604.1",
		IP:        "5.195.0.1",
		Now:       func() time.Time { return now },
	}

	arrival, began, err := c.Arrival(Page{Path: "/ar", Language: "ar"})
	if err != nil || !began || arrival.Type != models.EventNewVisitor {
		t.Fatalf("unexpected arrival %+v began=%v err=%v", arrival, began, err)
	}
	if arrival.SessionID == "" || arrival.Device == nil || arrival.Device.Type != "mobile" || arrival.Text("ip") != "5.195.0.1" {
		t.Errorf("arrival missing context: %+v", arrival)
	}
	if !arrival.IsNewVisitor() || arrival.Text("language") != "ar" {
		t.Errorf("unexpected arrival payload %+v", arrival.Payload)
	}
	if _, began, _ := c.Arrival(Page{Path: "/ar/bags"}); began {
		t.Error("second arrival in the same session should not begin one")
	}

	dress := Product{ID: "p1", Name: "Silk Abaya", Size: "M", Price: 950, Quantity: 2}
	cart := c.CartEvent("add", dress, 1900)
	if cart.Text("product.name") != "Silk Abaya" || cart.Text("quantity") != "2" || cart.Text("currency") != "AED" {
		t.Errorf("unexpected cart payload %+v", cart.Payload)
	}
	if total, ok := cart.Number("cartTotal"); !ok || total != 1900 {
		t.Errorf("unexpected cart total %v", total)
	}

	order := c.OrderCompleted("ORD-1", []Product{dress}, 1900, "Layla", "layla@maison.example")
	items, ok := order.Field("items")
	if list, isList := items.([]any); !ok || !isList || len(list) != 1 {
		t.Fatalf("unexpected items %#v", items)
	}
	if order.Text("orderId") != "ORD-1" || order.Text("email") != "layla@maison.example" {
		t.Errorf("unexpected order payload %+v", order.Payload)
	}

	contact := c.ContactCaptured("Layla", "layla@maison.example", "+971500000000", "newsletter")
	if contact.Type != models.EventContactCaptured || contact.Text("phone") != "+971500000000" {
		t.Errorf("unexpected contact %+v", contact)
	}
	if checkout := c.CheckoutStarted([]Product{dress}, 1900); checkout.Type != models.EventCheckoutStarted {
		t.Errorf("unexpected checkout type %q", checkout.Type)
	}
}
