package domain

import (
	"context"
	"encoding/json"
	"time"
)

// EventType identifies the kind of event being published.
type EventType string

const (
	EventNotification    EventType = "notification"
	EventAlert           EventType = "alert"
	EventTaskUpdated     EventType = "task:updated"
	EventReportGenerated EventType = "report:generated"
	EventFeedAppended    EventType = "feed:new"
)

// Event is a broadcast notification. It is never addressed to an agent.
type Event struct {
	Type      EventType       `json:"type"`
	Timestamp time.Time       `json:"timestamp"`
	Payload   json.RawMessage `json:"payload,omitempty"`
}

// EventHandler processes a published event.
type EventHandler func(ctx context.Context, event Event)

// EventBus provides best-effort publish/subscribe fan-out.
type EventBus interface {
	Publish(ctx context.Context, event Event)
	Subscribe(eventType EventType, handler EventHandler) func()
	SubscribeAll(handler EventHandler) func()
	Close()
}

// Notifier delivers content to an external chat or webhook channel.
// Failures are reported as false and never escalate.
type Notifier interface {
	Send(ctx context.Context, channel, content string) bool
}
