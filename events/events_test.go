package events

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"maison/api/models"

	natsserver "github.com/nats-io/nats-server/v2/server"
	"github.com/nats-io/nats.go"
)

func startTestNATS(t *testing.T) string {
	t.Helper()
	opts := &natsserver.Options{Host: "127.0.0.1", Port: -1}
	srv, err := natsserver.NewServer(opts)
	if err != nil {
		t.Fatalf("starting embedded NATS: %v", err)
	}
	srv.Start()
	t.Cleanup(srv.Shutdown)
	if !srv.ReadyForConnections(5 * time.Second) {
		t.Fatal("embedded NATS not ready")
	}
	return srv.ClientURL()
}

func TestVisitorSubject(t *testing.T) {
	for _, tc := range []struct {
		in, want string
	}{
		{models.EventNewVisitor, "storefront.visitor.new_visitor"},
		{" cart_event ", "storefront.visitor.cart_event"},
		{"a.b", "storefront.visitor.a_b"},
		{">", "storefront.visitor._"},
		{"*", "storefront.visitor._"},
		{"", "storefront.visitor.unknown"},
	} {
		if got := VisitorSubject(tc.in); got != tc.want {
			t.Errorf("VisitorSubject(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestNoopPublisher(t *testing.T) {
	var pub Publisher = &NoopPublisher{}
	if err := pub.Publish(context.Background(), VisitorSubject("x"), struct{}{}); err != nil {
		t.Fatalf("NoopPublisher.Publish returned unexpected error: %v", err)
	}
	if err := pub.Close(); err != nil {
		t.Fatalf("NoopPublisher.Close returned unexpected error: %v", err)
	}
}

func TestNATSPublisher_Publish(t *testing.T) {
	url := startTestNATS(t)

	pub, err := NewNATSPublisher(url)
	if err != nil {
		t.Fatalf("creating publisher: %v", err)
	}
	defer pub.Close()

	nc, err := nats.Connect(url)
	if err != nil {
		t.Fatalf("connecting subscriber: %v", err)
	}
	defer nc.Close()

	ch := make(chan *nats.Msg, 1)
	sub, err := nc.ChanSubscribe(SubjectPrefix+".>", ch)
	if err != nil {
		t.Fatalf("subscribing: %v", err)
	}
	defer sub.Unsubscribe() //nolint:errcheck
	nc.Flush()

	n := models.Notification{ID: "01J0", Type: models.EventOrderCompleted, Data: models.VisitorEvent{VisitorID: "abc123"}}
	if err := pub.Publish(context.Background(), VisitorSubject(n.Type), n); err != nil {
		t.Fatalf("Publish error: %v", err)
	}
	pub.conn.Flush()

	select {
	case msg := <-ch:
		if msg.Subject != "storefront.visitor.order_completed" {
			t.Errorf("unexpected subject %q", msg.Subject)
		}
		var got models.Notification
		if err := json.Unmarshal(msg.Data, &got); err != nil {
			t.Fatalf("unmarshal: %v", err)
		}
		if got.ID != "01J0" || got.Data.VisitorID != "abc123" {
			t.Errorf("unexpected notification %+v", got)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for published message")
	}
}

func TestNATSPublisher_CancelledContext(t *testing.T) {
	url := startTestNATS(t)
	pub, err := NewNATSPublisher(url)
	if err != nil {
		t.Fatalf("creating publisher: %v", err)
	}
	defer pub.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := pub.Publish(ctx, VisitorSubject("x"), struct{}{}); err == nil {
		t.Fatal("expected error for cancelled context")
	}
}

func TestNATSSubscriber_ReceivesAndCancels(t *testing.T) {
	url := startTestNATS(t)

	pub, err := NewNATSPublisher(url)
	if err != nil {
		t.Fatalf("creating publisher: %v", err)
	}
	defer pub.Close()

	sub, err := NewNATSSubscriber(url)
	if err != nil {
		t.Fatalf("creating subscriber: %v", err)
	}
	defer sub.Close()

	ch, cancel, err := sub.Subscribe(SubjectPrefix + ".>")
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}

	if err := pub.Publish(context.Background(), VisitorSubject(models.EventPageView), map[string]string{"visitorId": "v1"}); err != nil {
		t.Fatalf("Publish: %v", err)
	}

	select {
	case data := <-ch:
		var got map[string]string
		if err := json.Unmarshal(data, &got); err != nil {
			t.Fatalf("unmarshal: %v", err)
		}
		if got["visitorId"] != "v1" {
			t.Errorf("unexpected payload %v", got)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for message")
	}

	cancel()
	cancel()
	if _, ok := <-ch; ok {
		t.Error("expected channel closed after cancel")
	}
}
