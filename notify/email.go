package notify

import (
	"context"
	"fmt"
	"html"
	"strings"

	"maison/api/models"

	"github.com/resendlabs/resend-go"
)

// EmailSender is the part of the Resend client the email channel uses.
type EmailSender interface {
	Send(params *resend.SendEmailRequest) (resend.SendEmailResponse, error)
}

// EmailChannel mails high-salience messages (VIP visitors, orders and
// captured contacts) to the operator inbox.
type EmailChannel struct {
	sender EmailSender
	from   string
	to     []string
}

func NewEmailChannel(apiKey, from, to string) *EmailChannel {
	ch := &EmailChannel{from: from}
	for _, addr := range strings.Split(to, ",") {
		if addr = strings.TrimSpace(addr); addr != "" {
			ch.to = append(ch.to, addr)
		}
	}
	if apiKey != "" {
		ch.sender = resend.NewClient(apiKey).Emails
	}
	return ch
}

// NewEmailChannelWithSender is used by tests to swap the Resend client.
func NewEmailChannelWithSender(sender EmailSender, from string, to ...string) *EmailChannel {
	return &EmailChannel{sender: sender, from: from, to: to}
}

func (e *EmailChannel) Name() string { return "email" }

func (e *EmailChannel) Enabled(msg Message) bool {
	if e.sender == nil || len(e.to) == 0 {
		return false
	}
	return msg.VIP || msg.Type == models.EventOrderCompleted || msg.Type == models.EventContactCaptured
}

func (e *EmailChannel) Send(ctx context.Context, msg Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	req := &resend.SendEmailRequest{
		From:    e.from,
		To:      e.to,
		Subject: msg.Title,
		Html:    renderEmailHTML(msg),
		Text:    msg.Text(),
	}
	if _, err := e.sender.Send(req); err != nil {
		return fmt.Errorf("send alert email: %w", err)
	}
	return nil
}

func renderEmailHTML(msg Message) string {
	var b strings.Builder
	fmt.Fprintf(&b, `<div style="border-left:4px solid #%06x;padding:8px 16px;font-family:sans-serif">`, msg.Color)
	fmt.Fprintf(&b, "<h2>%s</h2>", html.EscapeString(msg.Title))
	if msg.Description != "" {
		fmt.Fprintf(&b, "<p>%s</p>", strings.ReplaceAll(html.EscapeString(msg.Description), "\n", "<br>"))
	}
	b.WriteString("<table>")
	for _, f := range msg.Fields {
		fmt.Fprintf(&b, "<tr><th align=\"left\">%s</th><td>%s</td></tr>",
			html.EscapeString(f.Name), strings.ReplaceAll(html.EscapeString(f.Value), "\n", "<br>"))
	}
	b.WriteString("</table>")
	if msg.Footer != "" {
		fmt.Fprintf(&b, "<p><small>%s</small></p>", html.EscapeString(msg.Footer))
	}
	b.WriteString("</div>")
	return b.String()
}
