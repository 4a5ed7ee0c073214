package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"maison/api/models"
	"maison/api/store"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

func startLive(t *testing.T, s store.EventStore, origins []string) (*LiveBroadcaster, string) {
	t.Helper()
	b := NewLiveBroadcaster(s, origins)
	ctx, cancel := context.WithCancel(context.Background())
	go b.Run(ctx)

	r := gin.New()
	r.GET("/live", b.ServeWS)
	srv := httptest.NewServer(r)
	t.Cleanup(func() {
		cancel()
		srv.Close()
	})
	return b, "ws" + strings.TrimPrefix(srv.URL, "http") + "/live"
}

func readFrame(t *testing.T, conn *websocket.Conn) LiveFrame {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(3 * time.Second))
	_, data, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read frame: %v", err)
	}
	var f LiveFrame
	if err := json.Unmarshal(data, &f); err != nil {
		t.Fatalf("decode frame: %v", err)
	}
	return f
}

func TestLiveBroadcaster_SnapshotOnConnectAndNotify(t *testing.T) {
	s := store.NewMemoryEventStore(store.Options{})
	b, url := startLive(t, s, []string{"https://maison.example"})

	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	first := readFrame(t, conn)
	if first.Type != "snapshot" || len(first.ActiveVisitors) != 0 {
		t.Fatalf("unexpected initial frame %+v", first)
	}

	if _, err := s.Record(context.Background(), models.VisitorEvent{Type: models.EventNewVisitor, VisitorID: "abc123"}); err != nil {
		t.Fatalf("Record: %v", err)
	}
	b.Notify()

	next := readFrame(t, conn)
	if len(next.ActiveVisitors) != 1 || next.ActiveVisitors[0].VisitorID != "abc123" {
		t.Fatalf("expected abc123 in pushed frame, got %+v", next.ActiveVisitors)
	}
	if len(next.Notifications) != 1 || next.Stats.TotalVisitors != 1 {
		t.Errorf("unexpected pushed frame %+v", next)
	}
}

func TestLiveBroadcaster_RejectsForeignOrigin(t *testing.T) {
	_, url := startLive(t, store.NewMemoryEventStore(store.Options{}), []string{"https://maison.example"})

	header := http.Header{}
	header.Set("Origin", "https://evil.example")
	_, resp, err := websocket.DefaultDialer.Dial(url, header)
	if err == nil {
		t.Fatal("expected handshake to fail")
	}
	if resp == nil || resp.StatusCode != http.StatusForbidden {
		t.Errorf("expected 403, got %+v", resp)
	}

	header.Set("Origin", "https://maison.example")
	conn, _, err := websocket.DefaultDialer.Dial(url, header)
	if err != nil {
		t.Fatalf("allowed origin rejected: %v", err)
	}
	conn.Close()
}

func TestLiveBroadcaster_UnregistersOnClose(t *testing.T) {
	b, url := startLive(t, store.NewMemoryEventStore(store.Options{}), nil)

	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	readFrame(t, conn)
	if got := b.ClientCount(); got != 1 {
		t.Fatalf("expected 1 client, got %d", got)
	}
	conn.Close()

	deadline := time.Now().Add(3 * time.Second)
	for b.ClientCount() != 0 {
		if time.Now().After(deadline) {
			t.Fatal("client was not unregistered")
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestOriginChecker(t *testing.T) {
	check := originChecker([]string{"https://maison.example"})
	req := httptest.NewRequest(http.MethodGet, "/live", nil)
	if !check(req) {
		t.Error("requests without Origin should pass")
	}
	req.Header.Set("Origin", "https://other.example")
	if check(req) {
		t.Error("foreign origin should fail")
	}
	if !originChecker([]string{"*"})(req) {
		t.Error("wildcard should allow any origin")
	}
}
