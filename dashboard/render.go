package dashboard

import (
	"bufio"
	"fmt"
	"io"
	"strings"
	"time"
	"unicode/utf8"

	"maison/api/models"
	"maison/api/notify"
)

const (
	DefaultWidth = 100
	minWidth     = 40
	feedLimit    = 15
)

// ANSI256 colors.
const (
	colorAccent = 74
	colorMuted  = 245
	colorUnread = 214
)

// Renderer draws snapshots as text. The zero value renders without color
// in UTC.
type Renderer struct {
	Color    bool
	Location *time.Location
}

// Render draws snap with the zero Renderer.
func Render(w io.Writer, snap models.DashboardSnapshot, width int) error {
	return Renderer{}.Render(w, snap, width)
}

func (r Renderer) paint(code int, s string) string {
	if !r.Color {
		return s
	}
	return fmt.Sprintf("\x1b[38;5;%dm%s\x1b[0m", code, s)
}

func (r Renderer) loc() *time.Location {
	if r.Location == nil {
		return time.UTC
	}
	return r.Location
}

func (r Renderer) Render(w io.Writer, snap models.DashboardSnapshot, width int) error {
	if width <= 0 {
		width = DefaultWidth
	}
	if width < minWidth {
		width = minWidth
	}
	out := bufio.NewWriter(w)
	line := func(s string) {
		out.WriteString(truncate(s, width))
		out.WriteByte('\n')
	}
	rule := strings.Repeat("─", width)

	title := "STOREFRONT PULSE"
	if !snap.GeneratedAt.IsZero() {
		title += "  " + snap.GeneratedAt.In(r.loc()).Format("Jan 2 15:04:05")
	}
	line(r.paint(colorAccent, title))
	line(rule)
	st := snap.Stats
	line(fmt.Sprintf("Total %d   Today %d   New %d   Returning %d   Active now %d",
		st.TotalVisitors, st.TodayVisitors, st.NewVisitors, st.ReturningVisitors, len(snap.ActiveVisitors)))
	line("")

	line(r.paint(colorAccent, fmt.Sprintf("ACTIVE VISITORS (%d)", len(snap.ActiveVisitors))))
	if len(snap.ActiveVisitors) == 0 {
		line(r.paint(colorMuted, "  no one on the site right now"))
	}
	for _, v := range snap.ActiveVisitors {
		line(fmt.Sprintf("  %-18s %-24s %-28s %-16s %s",
			truncate(v.VisitorID, 18),
			truncate(place(v.Location), 24),
			truncate(notify.DeviceSummary(v.Device), 28),
			truncate(firstNonEmpty(v.Text("page"), "-"), 16),
			r.paint(colorMuted, ago(snap.GeneratedAt, v.LastSeen))))
	}
	line("")

	line(r.paint(colorAccent, fmt.Sprintf("NOTIFICATIONS (%d)", len(snap.Notifications))))
	if len(snap.Notifications) == 0 {
		line(r.paint(colorMuted, "  nothing yet"))
	}
	for i, n := range snap.Notifications {
		if i == feedLimit {
			line(r.paint(colorMuted, fmt.Sprintf("  …and %d more", len(snap.Notifications)-feedLimit)))
			break
		}
		marker := " "
		if !n.Read {
			marker = r.paint(colorUnread, "•")
		}
		line(fmt.Sprintf("%s %s  %-18s %-18s %s",
			marker,
			n.Timestamp.In(r.loc()).Format("15:04:05"),
			n.Type,
			truncate(n.Data.VisitorID, 18),
			summary(n)))
	}
	return out.Flush()
}

// RenderVisitor prints everything known about one active visitor.
func (r Renderer) RenderVisitor(w io.Writer, v models.ActiveVisitor, now time.Time) error {
	out := bufio.NewWriter(w)
	fmt.Fprintln(out, r.paint(colorAccent, "VISITOR "+v.VisitorID))
	fmt.Fprintf(out, "  Last event  %s\n", firstNonEmpty(v.Type, "-"))
	fmt.Fprintf(out, "  Last seen   %s (%s)\n", v.LastSeen.In(r.loc()).Format("Jan 2 15:04:05"), ago(now, v.LastSeen))
	fmt.Fprintf(out, "  Session     %s\n", firstNonEmpty(v.SessionID, "-"))
	fmt.Fprintf(out, "  Location    %s\n", place(v.Location))
	fmt.Fprintf(out, "  Device      %s\n", notify.DeviceSummary(v.Device))
	kind := "returning"
	if v.IsNewVisitor() {
		kind = "new"
	}
	fmt.Fprintf(out, "  Visitor     %s\n", kind)
	for _, key := range []string{"page", "referrer", "language", "email", "phone"} {
		if val := v.Text(key); val != "" {
			fmt.Fprintf(out, "  %-11s %s\n", strings.ToUpper(key[:1])+key[1:], val)
		}
	}
	return out.Flush()
}

// place renders "City, Country" without the chat map link.
func place(loc *models.Location) string {
	if loc == nil {
		return "Unknown"
	}
	return firstNonEmpty(joinNonEmpty(", ", loc.City, loc.Country), "Unknown")
}

func summary(n models.Notification) string {
	d := n.Data
	switch n.Type {
	case models.EventPageView, models.EventNewVisitor, models.EventReturningVisitor:
		return joinNonEmpty(" · ", d.Text("page"), place(d.Location))
	case models.EventCart:
		return joinNonEmpty(" ", d.Text("action"), firstNonEmpty(d.Text("product.name"), d.Text("product")))
	case models.EventContactCaptured:
		return joinNonEmpty(" · ", d.Text("name"), d.Text("email"))
	case models.EventCheckoutStarted, models.EventOrderCompleted:
		return joinNonEmpty(" ", d.Text("orderId"), d.Text("total"), d.Text("currency"))
	}
	return ""
}

func ago(now, t time.Time) string {
	if t.IsZero() || now.IsZero() {
		return "-"
	}
	d := now.Sub(t)
	switch {
	case d < time.Minute:
		return fmt.Sprintf("%ds ago", int(d.Seconds()))
	case d < time.Hour:
		return fmt.Sprintf("%dm ago", int(d.Minutes()))
	default:
		return fmt.Sprintf("%dh ago", int(d.Hours()))
	}
}

// truncate shortens s to at most n runes, ignoring ANSI escapes when
// counting.
func truncate(s string, n int) string {
	if visibleLen(s) <= n {
		return s
	}
	var b strings.Builder
	count := 0
	inEscape := false
	for _, r := range s {
		switch {
		case r == '\x1b':
			inEscape = true
		case inEscape:
			if r == 'm' {
				inEscape = false
			}
		default:
			if count == n-1 {
				b.WriteString("…")
				if strings.Contains(s, "\x1b[") {
					b.WriteString("\x1b[0m")
				}
				return b.String()
			}
			count++
		}
		b.WriteRune(r)
	}
	return b.String()
}

func visibleLen(s string) int {
	if !strings.Contains(s, "\x1b[") {
		return utf8.RuneCountInString(s)
	}
	n := 0
	inEscape := false
	for _, r := range s {
		switch {
		case r == '\x1b':
			inEscape = true
		case inEscape:
			if r == 'm' {
				inEscape = false
			}
		default:
			n++
		}
	}
	return n
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}

func joinNonEmpty(sep string, vals ...string) string {
	var parts []string
	for _, v := range vals {
		if v != "" {
			parts = append(parts, v)
		}
	}
	return strings.Join(parts, sep)
}
