package capture

import (
	"time"

	"maison/api/models"
)

// Product is a catalog item as it appears in cart and order events.
type Product struct {
	ID       string
	Name     string
	Size     string
	Price    float64
	Quantity int
}

func (p Product) payload() map[string]any {
	m := map[string]any{
		"name":     p.Name,
		"price":    p.Price,
		"quantity": p.Quantity,
	}
	if p.ID != "" {
		m["id"] = p.ID
	}
	if p.Size != "" {
		m["size"] = p.Size
	}
	return m
}

func itemsPayload(items []Product) []any {
	out := make([]any, 0, len(items))
	for _, it := range items {
		out = append(out, it.payload())
	}
	return out
}

// Page describes the page a visitor is on.
type Page struct {
	Path     string
	Title    string
	Referrer string
	Language string
}

// Context is the per-request information shared by every event: who the
// visitor is and what they browse with.
type Context struct {
	Identity  *Identity
	UserAgent string
	IP        string
	Currency  string
	Now       func() time.Time
}

func (c Context) now() time.Time {
	if c.Now != nil {
		return c.Now()
	}
	return time.Now()
}

func (c Context) base(eventType string) models.VisitorEvent {
	evt := c.Identity.Event(eventType, c.now())
	if c.UserAgent != "" {
		evt.Device = ParseUserAgent(c.UserAgent)
	}
	if c.IP != "" {
		evt.Payload["ip"] = c.IP
	}
	return evt
}

func (c Context) currency() string {
	if c.Currency == "" {
		return "AED"
	}
	return c.Currency
}

func withPage(evt models.VisitorEvent, p Page) models.VisitorEvent {
	evt.Payload["page"] = p.Path
	if p.Title != "" {
		evt.Payload["pageTitle"] = p.Title
	}
	if p.Referrer != "" {
		evt.Payload["referrer"] = p.Referrer
	}
	if p.Language != "" {
		evt.Payload["language"] = p.Language
	}
	return evt
}

// Arrival opens a session if needed. It returns the new_visitor or
// returning_visitor event and true when a session began.
func (c Context) Arrival(p Page) (models.VisitorEvent, bool, error) {
	eventType, err := c.Identity.Begin(c.now())
	if err != nil || eventType == "" {
		return models.VisitorEvent{}, false, err
	}
	return withPage(c.base(eventType), p), true, nil
}

func (c Context) PageView(p Page) models.VisitorEvent {
	return withPage(c.base(models.EventPageView), p)
}

// CartEvent reports an add or remove; action is "add" or "remove".
func (c Context) CartEvent(action string, p Product, cartTotal float64) models.VisitorEvent {
	evt := c.base(models.EventCart)
	evt.Payload["action"] = action
	evt.Payload["product"] = p.payload()
	evt.Payload["quantity"] = p.Quantity
	evt.Payload["cartTotal"] = cartTotal
	evt.Payload["currency"] = c.currency()
	return evt
}

func (c Context) ContactCaptured(name, email, phone, source string) models.VisitorEvent {
	evt := c.base(models.EventContactCaptured)
	evt.Payload["name"] = name
	evt.Payload["email"] = email
	evt.Payload["phone"] = phone
	evt.Payload["source"] = source
	return evt
}

func (c Context) CheckoutStarted(items []Product, total float64) models.VisitorEvent {
	evt := c.base(models.EventCheckoutStarted)
	evt.Payload["items"] = itemsPayload(items)
	evt.Payload["total"] = total
	evt.Payload["currency"] = c.currency()
	return evt
}

func (c Context) OrderCompleted(orderID string, items []Product, total float64, customerName, customerEmail string) models.VisitorEvent {
	evt := c.base(models.EventOrderCompleted)
	evt.Payload["orderId"] = orderID
	evt.Payload["items"] = itemsPayload(items)
	evt.Payload["total"] = total
	evt.Payload["currency"] = c.currency()
	if customerName != "" {
		evt.Payload["name"] = customerName
	}
	if customerEmail != "" {
		evt.Payload["email"] = customerEmail
	}
	return evt
}
