package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"maison/api/events"
	"maison/api/models"

	"github.com/spf13/cobra"
)

var tailCmd = &cobra.Command{
	Use:   "tail",
	Short: "Print visitor notifications as they are published on NATS",
	RunE: func(cmd *cobra.Command, args []string) error {
		natsURL, _ := cmd.Flags().GetString("nats")
		if natsURL == "" {
			return fmt.Errorf("--nats or NATS_URL is required")
		}
		loc, err := time.LoadLocation(timezone)
		if err != nil {
			return fmt.Errorf("loading timezone %q: %w", timezone, err)
		}

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		sub, err := events.NewNATSSubscriber(natsURL)
		if err != nil {
			return fmt.Errorf("connecting to NATS: %w", err)
		}
		defer sub.Close()

		ch, cancel, err := sub.Subscribe(events.SubjectPrefix + ".>")
		if err != nil {
			return fmt.Errorf("subscribing to visitor events: %w", err)
		}
		defer cancel()

		return tail(ctx, ch, cmd.OutOrStdout(), loc)
	},
}

func init() {
	tailCmd.Flags().String("nats", os.Getenv("NATS_URL"), "NATS URL")
}

func tail(ctx context.Context, ch <-chan []byte, out io.Writer, loc *time.Location) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			fmt.Fprintln(out, formatTailLine(msg, loc))
		}
	}
}

// formatTailLine renders one published notification. Messages that do not
// decode are printed raw.
func formatTailLine(msg []byte, loc *time.Location) string {
	var n models.Notification
	if err := json.Unmarshal(msg, &n); err != nil || n.ID == "" {
		return "? " + string(msg)
	}
	line := fmt.Sprintf("%s  %-18s %-20s", n.Timestamp.In(loc).Format("15:04:05"), n.Type, n.Data.VisitorID)
	if place := placeOf(n.Data.Location); place != "" {
		line += "  " + place
	}
	return line
}

func placeOf(loc *models.Location) string {
	if loc == nil {
		return ""
	}
	switch {
	case loc.City != "" && loc.Country != "":
		return loc.City + ", " + loc.Country
	case loc.City != "":
		return loc.City
	}
	return loc.Country
}
