// Package events fans ingested visitor notifications out to a message bus
// so other services can react to storefront activity.
package events

import (
	"context"
	"strings"
)

// SubjectPrefix is the root of every visitor subject. Subscribe to
// "storefront.visitor.>" to receive all of them.
const SubjectPrefix = "storefront.visitor"

// VisitorSubject returns the subject a notification of eventType is
// published on. Characters NATS reserves for tokens and wildcards are
// replaced so a client-supplied type cannot address other subjects.
func VisitorSubject(eventType string) string {
	token := strings.Map(func(r rune) rune {
		switch r {
		case '.', '*', '>', ' ', '\t', '\r', '\n':
			return '_'
		}
		return r
	}, strings.TrimSpace(eventType))
	if token == "" {
		token = "unknown"
	}
	return SubjectPrefix + "." + token
}

// Publisher is the interface for emitting events.
type Publisher interface {
	Publish(ctx context.Context, topic string, event any) error
	Close() error
}
