// Package capture is the storefront side of the pulse pipeline. It builds
// visitor events and posts them to the ingestion endpoint without ever
// surfacing a failure to the shopper's request path.
package capture

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"sync"
	"time"

	"maison/api/models"
)

const (
	DefaultQueueSize = 256
	defaultTimeout   = 10 * time.Second
)

// Client delivers events to POST /api/visitors from a single background
// worker. Track never blocks.
type Client struct {
	Endpoint string
	HTTP     *http.Client
	Locator  Locator

	queue   chan models.IngestRequest
	done    chan struct{}
	closeMu sync.Mutex
	closed  bool
}

// NewClient starts the delivery worker. endpoint is the full ingestion URL.
func NewClient(endpoint string, queueSize int) *Client {
	if queueSize <= 0 {
		queueSize = DefaultQueueSize
	}
	c := &Client{
		Endpoint: endpoint,
		HTTP:     &http.Client{Timeout: defaultTimeout},
		queue:    make(chan models.IngestRequest, queueSize),
		done:     make(chan struct{}),
	}
	go c.run()
	return c
}

// Track enqueues evt for delivery. A full queue or a closed client drops
// the event.
func (c *Client) Track(evt models.VisitorEvent) {
	c.closeMu.Lock()
	defer c.closeMu.Unlock()
	if c.closed {
		log.Printf("capture: client closed, dropping %q event", evt.Type)
		return
	}
	select {
	case c.queue <- models.IngestRequest{Type: evt.Type, Data: evt}:
	default:
		log.Printf("capture: queue full, dropping %q event for visitor %s", evt.Type, evt.VisitorID)
	}
}

// Close stops accepting events and waits for the queue to drain or ctx to
// expire.
func (c *Client) Close(ctx context.Context) error {
	c.closeMu.Lock()
	if !c.closed {
		c.closed = true
		close(c.queue)
	}
	c.closeMu.Unlock()

	select {
	case <-c.done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("capture: drain queue: %w", ctx.Err())
	}
}

func (c *Client) run() {
	defer close(c.done)
	for req := range c.queue {
		ctx, cancel := context.WithTimeout(context.Background(), defaultTimeout)
		if err := c.deliver(ctx, req); err != nil {
			log.Printf("capture: %v", err)
		}
		cancel()
	}
}

func (c *Client) deliver(ctx context.Context, req models.IngestRequest) error {
	if c.Locator != nil && req.Data.Location == nil {
		if ip := req.Data.Text("ip"); ip != "" {
			req.Data.Location = c.Locator.Locate(ctx, ip)
		}
	}

	body, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("encode %q event: %w", req.Type, err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.Endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.HTTP.Do(httpReq)
	if err != nil {
		return fmt.Errorf("send %q event: %w", req.Type, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("send %q event: unexpected status %d", req.Type, resp.StatusCode)
	}
	return nil
}
