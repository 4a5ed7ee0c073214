// api/models/event.go
package models

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Visitor event types emitted by the storefront.
const (
	EventNewVisitor       = "new_visitor"
	EventReturningVisitor = "returning_visitor"
	EventPageView         = "page_view"
	EventCart             = "cart_event"
	EventContactCaptured  = "contact_captured"
	EventCheckoutStarted  = "checkout_started"
	EventOrderCompleted   = "order_completed"
)

// EventTypes lists every event type the storefront emits, in funnel order.
var EventTypes = []string{
	EventNewVisitor,
	EventReturningVisitor,
	EventPageView,
	EventCart,
	EventContactCaptured,
	EventCheckoutStarted,
	EventOrderCompleted,
}

type Location struct {
	City          string  `json:"city,omitempty"`
	Country       string  `json:"country,omitempty"`
	Lat           float64 `json:"lat,omitempty"`
	Lon           float64 `json:"lon,omitempty"`
	AccuracyLevel string  `json:"accuracyLevel,omitempty"`
}

type Device struct {
	Type    string `json:"type,omitempty"`
	Browser string `json:"browser,omitempty"`
	OS      string `json:"os,omitempty"`
}

// VisitorEvent is a single telemetry event sent by the storefront.
// Fields outside the common envelope are kept verbatim in Payload and
// flattened back into the object when encoded.
type VisitorEvent struct {
	Type      string         `json:"type,omitempty"`
	VisitorID string         `json:"visitorId"`
	SessionID string         `json:"sessionId,omitempty"`
	Timestamp string         `json:"timestamp,omitempty"`
	Location  *Location      `json:"location,omitempty"`
	Device    *Device        `json:"device,omitempty"`
	Payload   map[string]any `json:"-"`
}

var envelopeKeys = []string{"type", "visitorId", "sessionId", "timestamp", "location", "device"}

// IngestRequest is the body accepted by the ingestion endpoint.
type IngestRequest struct {
	Type string       `json:"type"`
	Data VisitorEvent `json:"data"`
}

// UnmarshalJSON decodes leniently. Ids and timestamps may arrive as
// strings or numbers; a location or device that does not fit its struct is
// left nil and kept verbatim in Payload. Only a body that is not a JSON
// object is an error.
func (e *VisitorEvent) UnmarshalJSON(b []byte) error {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(b, &fields); err != nil {
		return fmt.Errorf("decode visitor event: %w", err)
	}

	var evt VisitorEvent
	payload := make(map[string]any, len(fields))
	keep := func(key string, raw json.RawMessage) {
		var v any
		if err := json.Unmarshal(raw, &v); err == nil {
			payload[key] = v
		}
	}

	for key, raw := range fields {
		var ok bool
		switch key {
		case "type":
			evt.Type, ok = scalarString(raw)
		case "visitorId":
			evt.VisitorID, ok = scalarString(raw)
		case "sessionId":
			evt.SessionID, ok = scalarString(raw)
		case "timestamp":
			evt.Timestamp, ok = timestampString(raw)
		case "location":
			evt.Location, ok = decodeOptional[Location](raw)
		case "device":
			evt.Device, ok = decodeOptional[Device](raw)
		default:
			keep(key, raw)
			continue
		}
		if !ok {
			keep(key, raw)
		}
	}
	if len(payload) > 0 {
		evt.Payload = payload
	}

	*e = evt
	return nil
}

// scalarString accepts a JSON string, number or null.
func scalarString(raw json.RawMessage) (string, bool) {
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s, true
	}
	var n json.Number
	if err := json.Unmarshal(raw, &n); err == nil {
		return n.String(), true
	}
	return "", isNull(raw)
}

// timestampString accepts an RFC 3339 string or a Unix epoch number in
// milliseconds (Date.now()) or seconds, normalised to RFC 3339 UTC.
func timestampString(raw json.RawMessage) (string, bool) {
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s, true
	}
	var n json.Number
	if err := json.Unmarshal(raw, &n); err != nil {
		return "", isNull(raw)
	}
	f, err := n.Float64()
	if err != nil {
		return "", false
	}
	var t time.Time
	if f >= 1e11 {
		t = time.UnixMilli(int64(f))
	} else {
		t = time.Unix(int64(f), 0)
	}
	return t.UTC().Format(time.RFC3339Nano), true
}

func decodeOptional[T any](raw json.RawMessage) (*T, bool) {
	if isNull(raw) {
		return nil, true
	}
	var v T
	if err := json.Unmarshal(raw, &v); err != nil {
		return nil, false
	}
	return &v, true
}

func isNull(raw json.RawMessage) bool {
	return strings.TrimSpace(string(raw)) == "null"
}

func (e VisitorEvent) MarshalJSON() ([]byte, error) {
	out := make(map[string]any, len(e.Payload)+len(envelopeKeys))
	for k, v := range e.Payload {
		out[k] = v
	}
	if e.Type != "" {
		out["type"] = e.Type
	}
	out["visitorId"] = e.VisitorID
	if e.SessionID != "" {
		out["sessionId"] = e.SessionID
	}
	if e.Timestamp != "" {
		out["timestamp"] = e.Timestamp
	}
	if e.Location != nil {
		out["location"] = e.Location
	}
	if e.Device != nil {
		out["device"] = e.Device
	}
	return json.Marshal(out)
}

// Field returns a payload value by dotted path ("product.name").
func (e VisitorEvent) Field(path string) (any, bool) {
	var cur any = e.Payload
	for _, part := range strings.Split(path, ".") {
		m, ok := cur.(map[string]any)
		if !ok {
			return nil, false
		}
		cur, ok = m[part]
		if !ok || cur == nil {
			return nil, false
		}
	}
	return cur, true
}

// Text returns a payload value rendered as text, or "" when absent.
func (e VisitorEvent) Text(path string) string {
	v, ok := e.Field(path)
	if !ok {
		return ""
	}
	switch t := v.(type) {
	case string:
		return strings.TrimSpace(t)
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(t)
	case json.Number:
		return t.String()
	default:
		b, err := json.Marshal(t)
		if err != nil {
			return ""
		}
		return string(b)
	}
}

// Number returns a numeric payload value. Numeric strings are accepted.
func (e VisitorEvent) Number(path string) (float64, bool) {
	v, ok := e.Field(path)
	if !ok {
		return 0, false
	}
	switch t := v.(type) {
	case float64:
		return t, true
	case int:
		return float64(t), true
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(t), 64)
		return f, err == nil
	}
	return 0, false
}

// Bool returns a boolean payload value; "true"/"false" strings are accepted.
func (e VisitorEvent) Bool(path string) (bool, bool) {
	v, ok := e.Field(path)
	if !ok {
		return false, false
	}
	switch t := v.(type) {
	case bool:
		return t, true
	case string:
		b, err := strconv.ParseBool(t)
		return b, err == nil
	}
	return false, false
}

// IsNewVisitor reports the client's first-visit flag, falling back to the
// event type when the flag is missing.
func (e VisitorEvent) IsNewVisitor() bool {
	if v, ok := e.Bool("isNewVisitor"); ok {
		return v
	}
	return e.Type == EventNewVisitor
}

// WithPayload returns a copy of e with key set in its payload.
func (e VisitorEvent) WithPayload(key string, value any) VisitorEvent {
	p := make(map[string]any, len(e.Payload)+1)
	for k, v := range e.Payload {
		p[k] = v
	}
	p[key] = value
	e.Payload = p
	return e
}

type TopPageResult struct {
	Page  string `json:"page"`
	Count uint64 `json:"count"`
}
