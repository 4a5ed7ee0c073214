package main

import (
	"context"
	"fmt"
	"strings"
	"time"

	"maison/api/capture"
	"maison/api/models"

	"github.com/spf13/cobra"
)

var emitCmd = &cobra.Command{
	Use:   "emit",
	Short: "Send a sample visitor event through the capture client",
	Long: fmt.Sprintf(`Builds one event with the capture SDK and posts it to POST /api/visitors.

Event types: %s.`, strings.Join(models.EventTypes, ", ")),
	RunE: func(cmd *cobra.Command, args []string) error {
		opts := emitOptions{}
		opts.eventType, _ = cmd.Flags().GetString("type")
		opts.visitorID, _ = cmd.Flags().GetString("visitor")
		opts.city, _ = cmd.Flags().GetString("city")
		opts.country, _ = cmd.Flags().GetString("country")
		opts.page, _ = cmd.Flags().GetString("page")
		opts.userAgent, _ = cmd.Flags().GetString("user-agent")
		opts.email, _ = cmd.Flags().GetString("email")
		opts.ip, _ = cmd.Flags().GetString("ip")
		opts.locate, _ = cmd.Flags().GetBool("locate")

		evt, err := buildSampleEvent(opts, time.Now())
		if err != nil {
			return err
		}

		client := capture.NewClient(strings.TrimRight(serverURL, "/")+"/api/visitors", 1)
		if opts.locate {
			client.Locator = capture.NewIPAPILocator("")
		}
		client.Track(evt)

		ctx, cancel := context.WithTimeout(cmd.Context(), 15*time.Second)
		defer cancel()
		if err := client.Close(ctx); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "sent %s for visitor %s\n", evt.Type, evt.VisitorID)
		return nil
	},
}

func init() {
	emitCmd.Flags().String("type", models.EventNewVisitor, "event type")
	emitCmd.Flags().String("visitor", "", "visitor id (default: a fresh id)")
	emitCmd.Flags().String("city", "Dubai", "visitor city")
	emitCmd.Flags().String("country", "UAE", "visitor country")
	emitCmd.Flags().String("page", "/en", "page path")
	emitCmd.Flags().String("user-agent", "Mozilla/5.0 (iPhone; CPU iPhone OS 17_4 like Mac OS X) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/17.4 Mobile/15E148 Safari/604.1", "User-Agent to sniff the device from")
	emitCmd.Flags().String("email", "", "contact email for contact/order events")
	emitCmd.Flags().String("ip", "", "visitor IP address")
	emitCmd.Flags().Bool("locate", false, "resolve the location from --ip via ipapi.co")
}

type emitOptions struct {
	eventType string
	visitorID string
	city      string
	country   string
	page      string
	userAgent string
	email     string
	ip        string
	locate    bool
}

func buildSampleEvent(o emitOptions, now time.Time) (models.VisitorEvent, error) {
	var identity *capture.Identity
	if o.visitorID != "" {
		identity = capture.RestoreIdentity(o.visitorID, 0, time.Time{})
	} else {
		var err error
		if identity, err = capture.NewIdentity(); err != nil {
			return models.VisitorEvent{}, err
		}
	}
	if o.eventType == models.EventReturningVisitor {
		identity.VisitCount = 1
	}
	c := capture.Context{
		Identity:  identity,
		UserAgent: o.userAgent,
		IP:        o.ip,
		Now:       func() time.Time { return now },
	}
	page := capture.Page{Path: o.page, Language: "en"}
	if strings.HasPrefix(o.page, "/ar") {
		page.Language = "ar"
	}
	arrival, _, err := c.Arrival(page)
	if err != nil {
		return models.VisitorEvent{}, err
	}

	sample := capture.Product{ID: "abaya-001", Name: "Silk Abaya", Size: "M", Price: 950, Quantity: 1}
	var evt models.VisitorEvent
	switch o.eventType {
	case models.EventNewVisitor, models.EventReturningVisitor:
		evt = arrival
	case models.EventPageView:
		evt = c.PageView(page)
	case models.EventCart:
		evt = c.CartEvent("add", sample, sample.Price)
	case models.EventContactCaptured:
		evt = c.ContactCaptured("Sample Shopper", o.email, "", "cli")
	case models.EventCheckoutStarted:
		evt = c.CheckoutStarted([]capture.Product{sample}, sample.Price)
	case models.EventOrderCompleted:
		evt = c.OrderCompleted("ORD-"+now.Format("20060102150405"), []capture.Product{sample}, sample.Price, "Sample Shopper", o.email)
	default:
		return models.VisitorEvent{}, fmt.Errorf("unknown event type %q (want one of %s)", o.eventType, strings.Join(models.EventTypes, ", "))
	}

	if !o.locate && (o.city != "" || o.country != "") {
		evt.Location = &models.Location{City: o.city, Country: o.country}
	}
	return evt, nil
}
