package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"maison/api/dashboard"
	"maison/api/events"
	"maison/api/models"

	"github.com/gorilla/websocket"
	"github.com/nats-io/nats.go"
	"github.com/spf13/cobra"
)

const watchHelp = "[r] refresh   [v <id>] visitor detail   [q] quit"

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Terminal dashboard of visitors and notifications",
	Long: `Polls GET /api/visitors and redraws the dashboard.

With --nats or --live the dashboard also refreshes as soon as the server
reports a new event. Type r to refresh, v <id> to inspect a visitor and q
to quit.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		interval, _ := cmd.Flags().GetDuration("interval")
		natsURL, _ := cmd.Flags().GetString("nats")
		live, _ := cmd.Flags().GetBool("live")

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		loc, err := time.LoadLocation(timezone)
		if err != nil {
			return fmt.Errorf("loading timezone %q: %w", timezone, err)
		}
		w := &watcher{
			out:      cmd.OutOrStdout(),
			renderer: dashboard.Renderer{Color: dashboard.ShouldUseColor(), Location: loc},
			width:    dashboard.TerminalWidth,
			clear:    dashboard.ShouldUseColor(),
		}

		poller := dashboard.NewPoller(serverURL, apiKey)
		poller.Interval = interval
		poller.OnUpdate = w.draw
		go poller.Run(ctx)

		changed := make(chan struct{}, 1)
		if natsURL != "" {
			go func() {
				if err := forwardNATS(ctx, natsURL, changed); err != nil {
					log.Printf("nats: %v", err)
				}
			}()
		}
		if live {
			go func() {
				if err := forwardLive(ctx, serverURL, apiKey, changed); err != nil {
					log.Printf("live: %v", err)
				}
			}()
		}
		go debounceRefresh(ctx, poller, changed)

		return w.readCommands(ctx, cmd.InOrStdin(), poller)
	},
}

func init() {
	watchCmd.Flags().Duration("interval", dashboard.DefaultInterval, "poll interval")
	watchCmd.Flags().String("nats", os.Getenv("NATS_URL"), "NATS URL for event-driven refresh")
	watchCmd.Flags().Bool("live", false, "refresh on websocket pushes from /api/visitors/live")
}

type watcher struct {
	mu       sync.Mutex
	out      io.Writer
	renderer dashboard.Renderer
	width    func() int
	clear    bool
}

func (w *watcher) draw(snap models.DashboardSnapshot) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.clear {
		fmt.Fprint(w.out, "\x1b[H\x1b[2J")
	}
	if err := w.renderer.Render(w.out, snap, w.width()); err != nil {
		log.Printf("render: %v", err)
	}
	fmt.Fprintln(w.out, watchHelp)
}

func (w *watcher) printf(format string, args ...any) {
	w.mu.Lock()
	defer w.mu.Unlock()
	fmt.Fprintf(w.out, format, args...)
}

func (w *watcher) readCommands(ctx context.Context, in io.Reader, p *dashboard.Poller) error {
	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(in)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-ctx.Done():
				return
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case line, ok := <-lines:
			if !ok {
				<-ctx.Done()
				return nil
			}
			if quit := w.handleCommand(ctx, line, p); quit {
				return nil
			}
		}
	}
}

// handleCommand runs one stdin command and reports whether to quit.
func (w *watcher) handleCommand(ctx context.Context, line string, p *dashboard.Poller) bool {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return false
	}
	switch fields[0] {
	case "q", "quit":
		return true
	case "r", "refresh":
		if err := p.Refresh(ctx); err != nil {
			w.printf("refresh failed: %v\n", err)
		}
	case "v", "visitor":
		if len(fields) < 2 {
			w.printf("usage: v <visitor-id>\n")
			return false
		}
		v, ok := p.Visitor(fields[1])
		if !ok {
			w.printf("visitor %s is not active\n", fields[1])
			return false
		}
		w.mu.Lock()
		w.renderer.RenderVisitor(w.out, v, time.Now())
		w.mu.Unlock()
	default:
		w.printf("unknown command %q; %s\n", fields[0], watchHelp)
	}
	return false
}

// debounceRefresh refreshes once per burst of change signals.
func debounceRefresh(ctx context.Context, p *dashboard.Poller, changed <-chan struct{}) {
	debounce := time.NewTimer(0)
	debounce.Stop()
	select {
	case <-debounce.C:
	default:
	}

	for {
		select {
		case <-ctx.Done():
			return
		case <-changed:
			debounce.Reset(200 * time.Millisecond)
		case <-debounce.C:
			if err := p.Refresh(ctx); err != nil && ctx.Err() == nil {
				log.Printf("ERROR: %v", err)
			}
		}
	}
}

func nudge(changed chan<- struct{}) {
	select {
	case changed <- struct{}{}:
	default:
	}
}

func forwardNATS(ctx context.Context, natsURL string, changed chan<- struct{}) error {
	sub, err := events.NewNATSSubscriber(natsURL,
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			log.Printf("nats: disconnected: %v", err)
		}),
		nats.ReconnectHandler(func(_ *nats.Conn) {
			log.Printf("nats: reconnected")
			nudge(changed)
		}),
	)
	if err != nil {
		return fmt.Errorf("connecting to NATS: %w", err)
	}
	defer sub.Close()

	ch, cancel, err := sub.Subscribe(events.SubjectPrefix + ".>")
	if err != nil {
		return fmt.Errorf("subscribing to visitor events: %w", err)
	}
	defer cancel()

	for {
		select {
		case <-ctx.Done():
			return nil
		case _, ok := <-ch:
			if !ok {
				return nil
			}
			nudge(changed)
		}
	}
}

// liveURL turns the API base URL into the websocket endpoint.
func liveURL(base string) string {
	base = strings.TrimRight(base, "/")
	switch {
	case strings.HasPrefix(base, "https://"):
		base = "wss://" + strings.TrimPrefix(base, "https://")
	case strings.HasPrefix(base, "http://"):
		base = "ws://" + strings.TrimPrefix(base, "http://")
	}
	return base + "/api/visitors/live"
}

func forwardLive(ctx context.Context, base, key string, changed chan<- struct{}) error {
	header := http.Header{}
	if key != "" {
		header.Set("X-API-KEY", key)
	}
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, liveURL(base), header)
	if err != nil {
		return fmt.Errorf("dialing live endpoint: %w", err)
	}
	defer conn.Close()

	go func() {
		<-ctx.Done()
		conn.Close()
	}()
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("reading live frame: %w", err)
		}
		nudge(changed)
	}
}
