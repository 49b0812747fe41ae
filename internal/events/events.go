// ABOUTME: Lifecycle event publishing for talks and messages
// ABOUTME: Publisher contract plus a no-op fallback used when no broker is configured

package events

import (
	"context"
	"time"
)

// Event kinds published on the lifecycle stream.
const (
	KindTalkCreated     = "talk.created"
	KindTalkStarted     = "talk.started"
	KindTalkTransferred = "talk.transferred"
	KindTalkClosed      = "talk.closed"
	KindTalkUnprocessed = "talk.unprocessed"
	KindMessageSent     = "message.sent"
	KindCustomerGone    = "customer.destroyed"
)

// Envelope is the serialized shape of one lifecycle event.
type Envelope struct {
	Kind     string         `json:"kind"`
	TenantID int64          `json:"tenant_id"`
	TalkID   int64          `json:"talk_id,omitempty"`
	At       time.Time      `json:"at"`
	Fields   map[string]any `json:"fields,omitempty"`
}

// Publisher emits lifecycle events. Publishing is best-effort from the
// caller's point of view: the dispatch path never blocks on the broker.
type Publisher interface {
	Publish(ctx context.Context, env Envelope) error
	Close() error
}

// NopPublisher discards all events. Used when events.url is not configured
// and in tests.
type NopPublisher struct{}

func (NopPublisher) Publish(ctx context.Context, env Envelope) error { return nil }
func (NopPublisher) Close() error                                    { return nil }
