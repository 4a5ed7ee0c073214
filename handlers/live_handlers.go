// api/handlers/live_handlers.go
package handlers

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"sync"
	"time"

	"maison/api/models"
	"maison/api/store"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

const (
	liveWriteWait  = 10 * time.Second
	livePongWait   = 60 * time.Second
	livePingPeriod = (livePongWait * 9) / 10
)

// LiveClient is one connected dashboard socket.
type LiveClient struct {
	Conn *websocket.Conn
	Send chan []byte
}

// LiveFrame is the message pushed to dashboard sockets.
type LiveFrame struct {
	Type string `json:"type"`
	models.DashboardSnapshot
}

// LiveBroadcaster pushes dashboard snapshots to websocket clients on every
// change and on a slow heartbeat tick.
type LiveBroadcaster struct {
	Store    store.EventStore
	Interval time.Duration
	Now      func() time.Time

	clients    map[*LiveClient]bool
	register   chan *LiveClient
	unregister chan *LiveClient
	notify     chan struct{}
	done       chan struct{}
	upgrader   websocket.Upgrader
	mu         sync.RWMutex
}

func NewLiveBroadcaster(s store.EventStore, allowedOrigins []string) *LiveBroadcaster {
	b := &LiveBroadcaster{
		Store:      s,
		Interval:   20 * time.Second,
		Now:        time.Now,
		clients:    make(map[*LiveClient]bool),
		register:   make(chan *LiveClient),
		unregister: make(chan *LiveClient),
		notify:     make(chan struct{}, 1),
		done:       make(chan struct{}),
	}
	b.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     originChecker(allowedOrigins),
	}
	return b
}

func originChecker(allowed []string) func(r *http.Request) bool {
	set := make(map[string]bool, len(allowed))
	for _, o := range allowed {
		if o == "*" {
			return func(*http.Request) bool { return true }
		}
		set[o] = true
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		return origin == "" || set[origin]
	}
}

// Run owns the client set until ctx is cancelled. It must be running before
// ServeWS accepts connections.
func (b *LiveBroadcaster) Run(ctx context.Context) {
	ticker := time.NewTicker(b.Interval)
	defer ticker.Stop()
	defer close(b.done)

	for {
		select {
		case client := <-b.register:
			b.mu.Lock()
			b.clients[client] = true
			b.mu.Unlock()
			if msg, ok := b.frame(ctx); ok {
				trySend(client, msg)
			}

		case client := <-b.unregister:
			b.mu.Lock()
			if _, ok := b.clients[client]; ok {
				delete(b.clients, client)
				close(client.Send)
			}
			b.mu.Unlock()

		case <-b.notify:
			b.broadcast(ctx)

		case <-ticker.C:
			b.broadcast(ctx)

		case <-ctx.Done():
			b.mu.Lock()
			for client := range b.clients {
				delete(b.clients, client)
				close(client.Send)
			}
			b.mu.Unlock()
			return
		}
	}
}

// Notify asks for a broadcast. Calls made while one is pending coalesce.
func (b *LiveBroadcaster) Notify() {
	select {
	case b.notify <- struct{}{}:
	default:
	}
}

// ClientCount reports the number of connected sockets.
func (b *LiveBroadcaster) ClientCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.clients)
}

func (b *LiveBroadcaster) Register(client *LiveClient) bool {
	select {
	case b.register <- client:
		return true
	case <-b.done:
		return false
	}
}

func (b *LiveBroadcaster) Unregister(client *LiveClient) {
	select {
	case b.unregister <- client:
	case <-b.done:
	}
}

func (b *LiveBroadcaster) frame(ctx context.Context) ([]byte, bool) {
	snap, err := store.TakeSnapshot(ctx, b.Store, b.Now())
	if err != nil {
		log.Printf("ERROR: Live snapshot failed: %v", err)
		return nil, false
	}
	msg, err := json.Marshal(LiveFrame{Type: "snapshot", DashboardSnapshot: snap})
	if err != nil {
		log.Printf("ERROR: Failed to marshal live snapshot: %v", err)
		return nil, false
	}
	return msg, true
}

func (b *LiveBroadcaster) broadcast(ctx context.Context) {
	if b.ClientCount() == 0 {
		return
	}
	msg, ok := b.frame(ctx)
	if !ok {
		return
	}
	b.mu.RLock()
	for client := range b.clients {
		trySend(client, msg)
	}
	b.mu.RUnlock()
}

// trySend drops the frame for clients that are not keeping up; the next
// frame carries the full state anyway.
func trySend(client *LiveClient, msg []byte) {
	select {
	case client.Send <- msg:
	default:
	}
}

// ServeWS upgrades GET /api/visitors/live.
func (b *LiveBroadcaster) ServeWS(c *gin.Context) {
	conn, err := b.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Printf("Live socket upgrade failed: %v", err)
		return
	}

	client := &LiveClient{Conn: conn, Send: make(chan []byte, 8)}
	if !b.Register(client) {
		conn.Close()
		return
	}

	go b.writePump(client)
	b.readPump(client)
}

func (b *LiveBroadcaster) readPump(client *LiveClient) {
	defer func() {
		b.Unregister(client)
		client.Conn.Close()
	}()

	client.Conn.SetReadLimit(512)
	client.Conn.SetReadDeadline(time.Now().Add(livePongWait))
	client.Conn.SetPongHandler(func(string) error {
		return client.Conn.SetReadDeadline(time.Now().Add(livePongWait))
	})
	for {
		if _, _, err := client.Conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (b *LiveBroadcaster) writePump(client *LiveClient) {
	ticker := time.NewTicker(livePingPeriod)
	defer func() {
		ticker.Stop()
		client.Conn.Close()
	}()

	for {
		select {
		case msg, ok := <-client.Send:
			client.Conn.SetWriteDeadline(time.Now().Add(liveWriteWait))
			if !ok {
				client.Conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := client.Conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-ticker.C:
			client.Conn.SetWriteDeadline(time.Now().Add(liveWriteWait))
			if err := client.Conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
