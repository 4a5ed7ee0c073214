// Package notify turns visitor events into chat messages and delivers them
// to the configured channels.
package notify

import (
	"encoding/json"
	"fmt"
	"log"
	"net/url"
	"strings"
	"time"
	"unicode/utf8"

	"maison/api/models"
)

const unknown = "Unknown"

// Embed colors.
const (
	colorNew       = 0x2ECC71
	colorReturning = 0x3498DB
	colorPageView  = 0x95A5A6
	colorCart      = 0xE67E22
	colorContact   = 0x9B59B6
	colorCheckout  = 0xF1C40F
	colorOrder     = 0x1ABC9C
	colorGeneric   = 0x7F8C8D
	colorVIP       = 0xFFD700
)

const displayLayout = "Jan 2, 2006 3:04 PM"

// maxItems caps how many order lines are listed in a message.
const maxItems = 10

type Field struct {
	Name   string `json:"name"`
	Value  string `json:"value"`
	Inline bool   `json:"inline,omitempty"`
}

// Message is a channel-neutral chat message.
type Message struct {
	Type        string
	Title       string
	Description string
	Content     string
	Color       int
	Fields      []Field
	Footer      string
	Timestamp   time.Time
	VIP         bool
}

// Text renders the message as plain text.
func (m Message) Text() string {
	var b strings.Builder
	if m.Content != "" {
		b.WriteString(m.Content)
		b.WriteString("\n")
	}
	b.WriteString(m.Title)
	b.WriteString("\n")
	if m.Description != "" {
		b.WriteString(m.Description)
		b.WriteString("\n")
	}
	for _, f := range m.Fields {
		fmt.Fprintf(&b, "%s: %s\n", f.Name, f.Value)
	}
	return b.String()
}

type FormatOptions struct {
	// Location is the timezone times are shown in. Nil means UTC.
	Location *time.Location
	// VIP selects the high-salience variant.
	VIP bool
	// Now stands in for a missing or unparseable event timestamp.
	Now time.Time
}

// Formatter applies VIP classification and the display timezone.
type Formatter struct {
	Location *time.Location
	VIPs     *VIPMatcher
}

func NewFormatter(tz string, vips *VIPMatcher) *Formatter {
	loc, err := time.LoadLocation(tz)
	if err != nil {
		log.Printf("Unknown display timezone %q, falling back to UTC+4: %v", tz, err)
		loc = time.FixedZone("GST", 4*60*60)
	}
	return &Formatter{Location: loc, VIPs: vips}
}

func (f *Formatter) Format(evt models.VisitorEvent) Message {
	return FormatMessage(evt.Type, evt, FormatOptions{
		Location: f.Location,
		VIP:      f.VIPs.Classify(evt),
		Now:      time.Now(),
	})
}

// FormatMessage builds the chat message for one event. It never panics:
// missing fields render as "Unknown" and unknown types fall back to the raw
// payload.
func FormatMessage(eventType string, evt models.VisitorEvent, opts FormatOptions) (msg Message) {
	if opts.Location == nil {
		opts.Location = time.UTC
	}
	if opts.Now.IsZero() {
		opts.Now = time.Now()
	}
	evt.Type = eventType

	defer func() {
		if r := recover(); r != nil {
			log.Printf("ERROR: formatting %q event panicked: %v", eventType, r)
			msg = genericMessage(eventType, evt, opts)
		}
	}()

	b := messageBuilder{evt: evt, opts: opts}
	switch eventType {
	case models.EventNewVisitor:
		msg = b.newVisitor()
	case models.EventReturningVisitor:
		msg = b.returningVisitor()
	case models.EventPageView:
		msg = b.pageView()
	case models.EventCart:
		msg = b.cartEvent()
	case models.EventContactCaptured:
		msg = b.contactCaptured()
	case models.EventCheckoutStarted:
		msg = b.checkoutStarted()
	case models.EventOrderCompleted:
		msg = b.orderCompleted()
	default:
		return genericMessage(eventType, evt, opts)
	}

	msg.Type = eventType
	msg.Timestamp = b.eventTime()
	msg.Footer = "Visitor " + orUnknown(evt.VisitorID)
	if opts.VIP {
		msg = vipVariant(msg)
	}
	return msg
}

type messageBuilder struct {
	evt  models.VisitorEvent
	opts FormatOptions
}

func (b messageBuilder) eventTime() time.Time {
	if ts := strings.TrimSpace(b.evt.Timestamp); ts != "" {
		if t, err := time.Parse(time.RFC3339Nano, ts); err == nil {
			return t
		}
	}
	return b.opts.Now
}

func (b messageBuilder) timeField() Field {
	t := b.eventTime().In(b.opts.Location)
	return Field{Name: "🕐 Time", Value: t.Format(displayLayout) + " (" + b.opts.Location.String() + ")", Inline: true}
}

func (b messageBuilder) locationField() Field {
	return Field{Name: "📍 Location", Value: LocationSummary(b.evt.Location), Inline: true}
}

func (b messageBuilder) deviceField() Field {
	return Field{Name: "📱 Device", Value: DeviceSummary(b.evt.Device), Inline: true}
}

func (b messageBuilder) text(path string) string {
	return orUnknown(b.evt.Text(path))
}

func (b messageBuilder) newVisitor() Message {
	return Message{
		Title:       "🆕 New Visitor",
		Description: "A new visitor just landed on the store.",
		Color:       colorNew,
		Fields: []Field{
			b.timeField(),
			b.locationField(),
			b.deviceField(),
			{Name: "🔗 Referrer", Value: referrer(b.evt.Text("referrer"))},
			{Name: "📄 Landing Page", Value: b.text("page")},
			{Name: "🌐 Language", Value: b.text("language"), Inline: true},
		},
	}
}

func (b messageBuilder) returningVisitor() Message {
	visits := unknown
	if n, ok := b.evt.Number("visitCount"); ok {
		visits = fmt.Sprintf("%d", int(n))
	}
	return Message{
		Title:       "🔄 Returning Visitor",
		Description: "A previous visitor is back.",
		Color:       colorReturning,
		Fields: []Field{
			b.timeField(),
			b.locationField(),
			b.deviceField(),
			{Name: "🔁 Visit Count", Value: visits, Inline: true},
			{Name: "⏮️ Last Visit", Value: b.text("lastVisit"), Inline: true},
			{Name: "📄 Page", Value: b.text("page")},
			{Name: "🔗 Referrer", Value: referrer(b.evt.Text("referrer"))},
		},
	}
}

func (b messageBuilder) pageView() Message {
	fields := []Field{
		{Name: "📄 Page", Value: b.text("page")},
		{Name: "🏷️ Title", Value: b.text("pageTitle"), Inline: true},
		b.timeField(),
		b.locationField(),
	}
	if secs, ok := b.evt.Number("timeOnPreviousPage"); ok {
		fields = append(fields, Field{Name: "⏱️ Time on Previous Page", Value: fmt.Sprintf("%ds", int(secs)), Inline: true})
	}
	return Message{
		Title:  "👀 Page View",
		Color:  colorPageView,
		Fields: fields,
	}
}

func (b messageBuilder) cartEvent() Message {
	title := "🛒 Cart Updated"
	switch strings.ToLower(b.evt.Text("action")) {
	case "add", "added", "add_to_cart":
		title = "🛒 Added to Cart"
	case "remove", "removed", "remove_from_cart":
		title = "🗑️ Removed from Cart"
	}
	currency := b.currency()
	fields := []Field{
		{Name: "👗 Product", Value: firstNonEmpty(b.evt.Text("product.name"), b.evt.Text("product"), unknown)},
		{Name: "📏 Size", Value: firstNonEmpty(b.evt.Text("product.size"), b.evt.Text("size"), unknown), Inline: true},
		{Name: "🔢 Quantity", Value: firstNonEmpty(b.evt.Text("quantity"), b.evt.Text("product.quantity"), "1"), Inline: true},
		{Name: "💰 Price", Value: b.money(currency, "product.price", "price"), Inline: true},
		{Name: "🧾 Cart Total", Value: b.money(currency, "cartTotal"), Inline: true},
		b.timeField(),
		b.locationField(),
	}
	return Message{Title: title, Color: colorCart, Fields: fields}
}

func (b messageBuilder) contactCaptured() Message {
	return Message{
		Title:       "📇 Contact Captured",
		Description: "A visitor shared their contact details.",
		Color:       colorContact,
		Fields: []Field{
			{Name: "👤 Name", Value: b.text("name"), Inline: true},
			{Name: "✉️ Email", Value: b.text("email"), Inline: true},
			{Name: "📞 Phone", Value: b.text("phone"), Inline: true},
			{Name: "📝 Source", Value: b.text("source"), Inline: true},
			b.timeField(),
			b.locationField(),
			b.deviceField(),
		},
	}
}

func (b messageBuilder) checkoutStarted() Message {
	currency := b.currency()
	return Message{
		Title:       "💳 Checkout Started",
		Description: "A visitor is heading to payment.",
		Color:       colorCheckout,
		Fields: []Field{
			{Name: "🛍️ Items", Value: b.items(currency)},
			{Name: "💰 Total", Value: b.money(currency, "total", "cartTotal"), Inline: true},
			b.timeField(),
			b.locationField(),
			b.deviceField(),
		},
	}
}

func (b messageBuilder) orderCompleted() Message {
	currency := b.currency()
	return Message{
		Title:       "🎉 Order Completed",
		Description: "Payment confirmed.",
		Color:       colorOrder,
		Fields: []Field{
			{Name: "🧾 Order", Value: b.text("orderId"), Inline: true},
			{Name: "💰 Total", Value: b.money(currency, "total"), Inline: true},
			{Name: "👤 Customer", Value: firstNonEmpty(b.evt.Text("customer.name"), b.evt.Text("name"), b.evt.Text("customer.email"), b.evt.Text("email"), unknown), Inline: true},
			{Name: "🛍️ Items", Value: b.items(currency)},
			b.timeField(),
			b.locationField(),
		},
	}
}

func (b messageBuilder) currency() string {
	return strings.ToUpper(firstNonEmpty(b.evt.Text("currency"), "AED"))
}

// money renders the first numeric value found at paths.
func (b messageBuilder) money(currency string, paths ...string) string {
	for _, p := range paths {
		if v, ok := b.evt.Number(p); ok {
			return fmt.Sprintf("%s %.2f", currency, v)
		}
	}
	return unknown
}

func (b messageBuilder) items(currency string) string {
	v, ok := b.evt.Field("items")
	if !ok {
		return unknown
	}
	list, ok := v.([]any)
	if !ok || len(list) == 0 {
		if n, isNum := v.(float64); isNum {
			return fmt.Sprintf("%d item(s)", int(n))
		}
		return unknown
	}

	var lines []string
	for i, raw := range list {
		if i == maxItems {
			lines = append(lines, fmt.Sprintf("…and %d more", len(list)-maxItems))
			break
		}
		item := models.VisitorEvent{}
		if m, ok := raw.(map[string]any); ok {
			item.Payload = m
		}
		qty := firstNonEmpty(item.Text("quantity"), "1")
		line := fmt.Sprintf("%s× %s", qty, firstNonEmpty(item.Text("name"), unknown))
		if size := item.Text("size"); size != "" {
			line += " (" + size + ")"
		}
		if price, ok := item.Number("price"); ok {
			line += fmt.Sprintf(" · %s %.2f", currency, price)
		}
		lines = append(lines, line)
	}
	return strings.Join(lines, "\n")
}

func vipVariant(msg Message) Message {
	msg.VIP = true
	msg.Content = "🚨👑 **VIP ALERT** 👑🚨 " + msg.Title + " 🚨👑 **VIP ALERT** 👑🚨"
	msg.Title = "👑 VIP " + msg.Title + " 👑"
	desc := "⭐⭐⭐ **VIP VISITOR** ⭐⭐⭐"
	if msg.Description != "" {
		desc += "\n" + msg.Description
	}
	msg.Description = desc
	msg.Color = colorVIP
	msg.Fields = append([]Field{{Name: "👑 Status", Value: "**VIP** ⭐ **VIP** ⭐ **VIP**"}}, msg.Fields...)
	return msg
}

// Discord limits embed descriptions to 4096 characters.
const maxRawPayload = 3900

// truncateUTF8 cuts s to at most n bytes without splitting a rune.
func truncateUTF8(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}

func genericMessage(eventType string, evt models.VisitorEvent, opts FormatOptions) Message {
	raw, err := json.MarshalIndent(evt, "", "  ")
	if err != nil {
		raw = []byte(unknown)
	}
	payload := string(raw)
	if len(payload) > maxRawPayload {
		payload = truncateUTF8(payload, maxRawPayload) + "\n…"
	}
	return Message{
		Type:        eventType,
		Title:       "📌 " + orUnknown(eventType),
		Description: "```json\n" + payload + "\n```",
		Color:       colorGeneric,
		Footer:      "Visitor " + orUnknown(evt.VisitorID),
		Timestamp:   opts.Now,
	}
}

// LocationSummary renders "City, Country" with a map link.
func LocationSummary(loc *models.Location) string {
	if loc == nil {
		return unknown
	}
	place := joinNonEmpty(", ", loc.City, loc.Country)
	if place == "" && loc.Lat == 0 && loc.Lon == 0 {
		return unknown
	}
	if place == "" {
		place = fmt.Sprintf("%.4f, %.4f", loc.Lat, loc.Lon)
	}
	summary := place
	if loc.AccuracyLevel != "" {
		summary += " · " + loc.AccuracyLevel
	}
	return summary + " ([map](" + MapLink(loc) + "))"
}

// MapLink points at the visitor's coordinates, or searches the city and
// country when no coordinates were captured.
func MapLink(loc *models.Location) string {
	if loc == nil {
		return ""
	}
	if loc.Lat != 0 || loc.Lon != 0 {
		return fmt.Sprintf("https://www.google.com/maps?q=%.6f,%.6f", loc.Lat, loc.Lon)
	}
	q := joinNonEmpty(", ", loc.City, loc.Country)
	if q == "" {
		return ""
	}
	return "https://www.google.com/maps/search/?api=1&query=" + url.QueryEscape(q)
}

func DeviceSummary(d *models.Device) string {
	if d == nil {
		return unknown
	}
	s := joinNonEmpty(" · ", d.Type, d.Browser, d.OS)
	return orUnknown(s)
}

func referrer(r string) string {
	if r == "" {
		return "Direct"
	}
	return r
}

func orUnknown(s string) string {
	if strings.TrimSpace(s) == "" {
		return unknown
	}
	return s
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}

func joinNonEmpty(sep string, vals ...string) string {
	var parts []string
	for _, v := range vals {
		if v = strings.TrimSpace(v); v != "" {
			parts = append(parts, v)
		}
	}
	return strings.Join(parts, sep)
}
